package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeCoordinationSnapshot struct {
	notReady map[string]int
}

func (f *fakeCoordinationSnapshot) CountVMMappingsNotReady(dbName string) (int, error) {
	return f.notReady[dbName], nil
}

func TestCollectorUpdatesGaugePerDatabase(t *testing.T) {
	fake := &fakeCoordinationSnapshot{notReady: map[string]int{"test": 2, "prod": 0}}
	c := NewCollector(fake, []string{"test", "prod"})
	c.interval = 10 * time.Millisecond

	c.Start()
	defer c.Stop()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(VMMappingsNotReady.WithLabelValues("test")))
	assert.Equal(t, float64(0), testutil.ToFloat64(VMMappingsNotReady.WithLabelValues("prod")))
}
