package metrics

import "time"

// CoordinationSnapshot is the subset of the Coordination Service (C2)
// the collector polls: the not-ready count for each logical database it
// tracks.
type CoordinationSnapshot interface {
	CountVMMappingsNotReady(dbName string) (int, error)
}

// Collector periodically samples a running Coordination Service and
// updates the VMMappingsNotReady gauge, the way the teacher's collector
// polls its manager for node/service/task counts on a fixed interval.
type Collector struct {
	coordination CoordinationSnapshot
	databases    []string
	interval     time.Duration
	stopCh       chan struct{}
}

// NewCollector creates a Collector polling the given databases (typically
// "test" and "prod") every 15 seconds.
func NewCollector(coord CoordinationSnapshot, databases []string) *Collector {
	return &Collector{
		coordination: coord,
		databases:    databases,
		interval:     15 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// Start begins periodic collection in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, db := range c.databases {
		count, err := c.coordination.CountVMMappingsNotReady(db)
		if err != nil {
			continue
		}
		VMMappingsNotReady.WithLabelValues(db).Set(float64(count))
	}
}
