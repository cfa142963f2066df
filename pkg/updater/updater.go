// Package updater implements the Schedule Updater (C7, spec.md §4.7): one
// goroutine per supervised VM, polling the schedule store at a
// configurable interval and translating the append-only schedule into a
// time-priority event stream for the VM Resource Handler, rewriting
// start times across pauses, breaks, and resumes.
package updater

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sandialabs/firewheel/pkg/log"
	"github.com/sandialabs/firewheel/pkg/schedule"
)

// ScheduleSource is the subset of the Schedule Store (C3) the updater
// needs: the full current schedule for a VM.
type ScheduleSource interface {
	Get(vmName string) ([]schedule.Entry, error)
}

// ArtifactWarmer is the subset of the Artifact Store (C1) the updater
// uses to best-effort stage referenced files before the supervisor needs
// them.
type ArtifactWarmer interface {
	GetPath(name string) (string, error)
}

// StartTimeSource is the subset of the Coordination Service (C2) client
// the updater needs to discover the experiment start time and, at resume
// time, the elapsed experiment time.
type StartTimeSource interface {
	ExperimentStartTime(ctx context.Context) (unixSeconds int64, ok bool, err error)
	ElapsedSinceStart(ctx context.Context) (seconds float64, ok bool, err error)
}

// Config configures one Updater instance.
type Config struct {
	VMName            string
	ScheduleStore     ScheduleSource
	Artifacts         ArtifactWarmer
	Coordination      StartTimeSource
	Queue             *schedule.PriorityQueue
	Cond              *sync.Cond
	LoadBalanceFactor float64       // scales all sleeps; 1 + cpu_commit/cpu_count
	IntervalTime      time.Duration // base poll interval
}

// Updater is the per-VM schedule-polling goroutine.
type Updater struct {
	cfg    Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	savedLen            int
	breakItems          []schedule.Entry
	scheduleNotReceived bool
	startTimeKnown      bool
	foundBreak          bool
	breakStart          float64
	nextIndex           int
}

// New creates an Updater for a single VM. The caller owns Queue/Cond and
// shares them with the VM Resource Handler's dispatch loop.
func New(cfg Config) *Updater {
	if cfg.LoadBalanceFactor <= 0 {
		cfg.LoadBalanceFactor = 1
	}
	if cfg.IntervalTime <= 0 {
		cfg.IntervalTime = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Updater{
		cfg:                 cfg,
		logger:              log.WithVM(cfg.VMName).With().Str("component", "schedule-updater").Logger(),
		ctx:                 ctx,
		cancel:              cancel,
		done:                make(chan struct{}),
		scheduleNotReceived: true,
	}
}

// Start launches the polling loop in a new goroutine.
func (u *Updater) Start() {
	go u.run()
}

// StopThread signals the polling loop to exit before its next poll. Named
// to match the source thread's stop_thread() for testability symmetry.
func (u *Updater) StopThread() {
	u.cancel()
}

// Done is closed once the run loop has returned.
func (u *Updater) Done() <-chan struct{} {
	return u.done
}

func (u *Updater) run() {
	defer close(u.done)
	u.logger.Info().Msg("starting schedule updater loop")
	for {
		select {
		case <-u.ctx.Done():
			u.logger.Debug().Msg("updater returning")
			return
		default:
		}

		items, err := u.getSchedule()
		if err != nil {
			u.logger.Debug().Err(err).Msg("error getting schedule, sleeping a random amount")
			u.sleepJittered(2, 15)
			continue
		}

		u.warmFiles(items)
		u.emit(items)

		if len(items) == 0 && u.scheduleNotReceived {
			u.enqueueSentinel(&schedule.Event{Type: schedule.EventEmptySchedule})
			u.scheduleNotReceived = false
		}

		if !u.startTimeKnown {
			if ts, ok := u.getStartTime(); ok {
				u.startTimeKnown = true
				u.enqueueSentinel(&schedule.Event{Type: schedule.EventExperimentStartTime, StartTimeSet: ts})
			}
		}

		u.sleepFixed(u.cfg.IntervalTime)
	}
}

// getSchedule reads the delta of entries appended since the last poll.
func (u *Updater) getSchedule() ([]schedule.Entry, error) {
	full, err := u.cfg.ScheduleStore.Get(u.cfg.VMName)
	if err != nil {
		return nil, err
	}
	if len(full) == 0 {
		return nil, nil
	}
	newItems := full[u.savedLen:]
	u.savedLen = len(full)
	return newItems, nil
}

// warmFiles best-effort stages every data-file referenced by the new
// entries into the artifact store's local cache. Failures here are
// logged, not fatal: the supervisor retries just-in-time.
func (u *Updater) warmFiles(items []schedule.Entry) {
	if u.cfg.Artifacts == nil {
		return
	}
	for _, item := range items {
		for _, d := range item.Data {
			if d.Filename == "" {
				continue
			}
			if _, err := u.cfg.Artifacts.GetPath(d.Filename); err != nil {
				u.logger.Error().Err(err).Str("filename", d.Filename).Msg("unable to get file, will retry just-in-time")
			}
		}
	}
}

type classified struct {
	startTime float64
	index     int
	event     *schedule.Event
}

// emit classifies, orders, and rewrites the new entries (and any
// previously buffered break items, if a resume was found), then pushes
// the results onto the shared priority queue under cond.L, notifying the
// consumer exactly once per batch (spec.md §4.7 steps 3-5).
func (u *Updater) emit(items []schedule.Entry) {
	u.cfg.Cond.L.Lock()
	defer u.cfg.Cond.L.Unlock()

	var temp []classified
	foundResume := false

	classify := func(e schedule.Entry) *schedule.Event {
		entry := e
		switch {
		case entry.IsTransfer():
			return &schedule.Event{Type: schedule.EventTransfer, Entry: &entry}
		case entry.Pause:
			return &schedule.Event{Type: schedule.EventPause, Entry: &entry}
		case entry.IsResume():
			foundResume = true
			return &schedule.Event{Type: schedule.EventResume, Entry: &entry}
		default:
			return &schedule.Event{Type: schedule.EventNewItem, Entry: &entry}
		}
	}

	for _, it := range items {
		ev := classify(it)
		temp = append(temp, classified{startTime: it.StartTime, index: u.nextIndex, event: ev})
		u.nextIndex++
	}

	sort.SliceStable(temp, func(i, j int) bool {
		if temp[i].startTime != temp[j].startTime {
			return temp[i].startTime < temp[j].startTime
		}
		return temp[i].index < temp[j].index
	})

	pauseAmount := 0.0
	resumeTime := 0.0
	resume := false
	breakEvent := false

	for _, c := range temp {
		startTime := c.startTime
		ev := c.event

		if breakEvent {
			u.breakItems = append(u.breakItems, *ev.Entry)
			continue
		}

		if !u.foundBreak && ev.Type == schedule.EventPause {
			duration := ev.Entry.Data[0].PauseDuration
			if math.IsInf(duration, 1) {
				u.foundBreak = true
				breakEvent = true
				resume = false
				if math.IsInf(startTime, 0) {
					u.breakStart = 0
				} else {
					u.breakStart = startTime
				}
			} else {
				pauseAmount += duration
			}
			continue
		}

		if ev.Type == schedule.EventResume {
			resume = true
			u.foundBreak = false
			breakEvent = false
			resumeTime = 0
			if elapsed, ok, err := u.cfg.Coordination.ElapsedSinceStart(u.ctx); err == nil && ok {
				resumeTime = elapsed
			}
			continue
		}

		if resume {
			startTime = ev.Entry.StartTime - u.breakStart + resumeTime
			ev.Entry.StartTime = startTime
		}

		if pauseAmount > 0 {
			ev.Entry.StartTime += pauseAmount
			startTime += pauseAmount
		}

		u.cfg.Queue.Push(startTime, ev)
	}

	// A RESUME releases every entry buffered since the break began. Each
	// buffered entry's start time is rewritten to
	// entry.start_time - break_start + elapsed_since_start and re-emitted
	// in its original relative order; this runs as its own pass (rather
	// than being interleaved into the start-time-ordered pass above) so
	// that buffered entries are always rewritten using the resume that
	// released them, regardless of how their original start_time compares
	// to the resume marker's start_time.
	if foundResume && len(u.breakItems) > 0 {
		for _, it := range u.breakItems {
			entry := it
			rewritten := entry.StartTime - u.breakStart + resumeTime
			if pauseAmount > 0 {
				rewritten += pauseAmount
			}
			entry.StartTime = rewritten

			var ev *schedule.Event
			switch {
			case entry.IsTransfer():
				ev = &schedule.Event{Type: schedule.EventTransfer, Entry: &entry}
			case entry.Pause:
				ev = &schedule.Event{Type: schedule.EventPause, Entry: &entry}
			default:
				ev = &schedule.Event{Type: schedule.EventNewItem, Entry: &entry}
			}
			u.cfg.Queue.Push(rewritten, ev)
		}
		u.breakItems = nil
	}

	if len(items) > 0 {
		u.cfg.Cond.Signal()
	}
}

// enqueueSentinel pushes a non-time-keyed event (EMPTY_SCHEDULE or
// EXPERIMENT_START_TIME_SET) at the minimum priority so it is dispatched
// before any time-keyed event, matching the source's use of
// "-sys.maxsize - 1" (spec.md §5).
func (u *Updater) enqueueSentinel(ev *schedule.Event) {
	u.cfg.Cond.L.Lock()
	u.cfg.Queue.Push(schedule.MinPriority, ev)
	u.cfg.Cond.Signal()
	u.cfg.Cond.L.Unlock()
}

func (u *Updater) getStartTime() (int64, bool) {
	ts, ok, err := u.cfg.Coordination.ExperimentStartTime(u.ctx)
	if err != nil {
		u.logger.Error().Err(err).Msg("unable to get experiment start time")
		return 0, false
	}
	return ts, ok
}

// sleepJittered sleeps load_balance_factor * rand(minSeconds, maxSeconds)
// seconds, matching the source's retry backoff on a transient schedule
// read error (spec.md's expansion in SPEC_FULL.md §4.7).
func (u *Updater) sleepJittered(minSeconds, maxSeconds int) {
	n := minSeconds + rand.Intn(maxSeconds-minSeconds+1)
	u.sleepSeconds(float64(n))
}

// sleepFixed sleeps load_balance_factor * d.
func (u *Updater) sleepFixed(d time.Duration) {
	u.sleepSeconds(d.Seconds())
}

func (u *Updater) sleepSeconds(seconds float64) {
	scaled := time.Duration(seconds * u.cfg.LoadBalanceFactor * float64(time.Second))
	select {
	case <-time.After(scaled):
	case <-u.ctx.Done():
	}
}
