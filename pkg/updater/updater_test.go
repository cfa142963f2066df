package updater

import (
	"context"
	"sync"
	"testing"

	"github.com/sandialabs/firewheel/pkg/schedule"
	"github.com/stretchr/testify/require"
)

type fakeCoordination struct {
	elapsed   float64
	elapsedOK bool
}

func (f *fakeCoordination) ExperimentStartTime(ctx context.Context) (int64, bool, error) {
	return 0, false, nil
}

func (f *fakeCoordination) ElapsedSinceStart(ctx context.Context) (float64, bool, error) {
	return f.elapsed, f.elapsedOK, nil
}

type fakeScheduleStore struct {
	entries []schedule.Entry
}

func (f *fakeScheduleStore) Get(vmName string) ([]schedule.Entry, error) {
	return f.entries, nil
}

func newTestUpdater(coord StartTimeSource) (*Updater, *schedule.PriorityQueue) {
	q := schedule.NewPriorityQueue()
	cond := sync.NewCond(&sync.Mutex{})
	u := New(Config{
		VMName:        "vm1",
		ScheduleStore: &fakeScheduleStore{},
		Queue:         q,
		Cond:          cond,
		Coordination:  coord,
	})
	return u, q
}

func drainAll(q *schedule.PriorityQueue) []schedule.Event {
	var out []schedule.Event
	for q.Len() > 0 {
		_, ev := q.Pop()
		out = append(out, *ev)
	}
	return out
}

// Scenario 4: Schedule [{start=0, pause=true, pause_duration=10},
// {start=3, exec=X}, {start=7, exec=Y}]. Dispatched times: X at 13, Y at 17.
func TestPauseArithmetic(t *testing.T) {
	u, q := newTestUpdater(&fakeCoordination{})

	entries := []schedule.Entry{
		{StartTime: 0, Pause: true, Data: []schedule.DataSpec{{PauseDuration: 10}}},
		{StartTime: 3, Executable: "X"},
		{StartTime: 7, Executable: "Y"},
	}
	u.emit(entries)

	events := drainAll(q)
	require.Len(t, events, 2)
	require.Equal(t, "X", events[0].Entry.Executable)
	require.Equal(t, float64(13), events[0].Entry.StartTime)
	require.Equal(t, "Y", events[1].Entry.Executable)
	require.Equal(t, float64(17), events[1].Entry.StartTime)
}

// Scenario 5 (first half): a break buffers subsequent entries until resume.
func TestBreakBuffersUntilResume(t *testing.T) {
	u, q := newTestUpdater(&fakeCoordination{})

	entries := []schedule.Entry{
		{StartTime: 0, Pause: true, Data: []schedule.DataSpec{{PauseDuration: schedule.PositiveInfinity}}},
		{StartTime: 2, Executable: "X"},
	}
	u.emit(entries)

	require.Equal(t, 0, q.Len(), "break should buffer, not dispatch")
	require.True(t, u.foundBreak)
	require.Len(t, u.breakItems, 1)
	require.Equal(t, "X", u.breakItems[0].Executable)
}

// Scenario 5 (second half): RESUME re-emits buffered entries rewritten to
// elapsed experiment time.
func TestResumeReemitsBufferedEntries(t *testing.T) {
	u, q := newTestUpdater(&fakeCoordination{elapsed: 50, elapsedOK: true})

	u.emit([]schedule.Entry{
		{StartTime: 0, Pause: true, Data: []schedule.DataSpec{{PauseDuration: schedule.PositiveInfinity}}},
		{StartTime: 2, Executable: "X"},
	})
	require.Equal(t, 0, q.Len())

	u.emit([]schedule.Entry{
		{StartTime: 5, Data: []schedule.DataSpec{{Resume: true}}},
	})

	events := drainAll(q)
	require.Len(t, events, 1)
	require.Equal(t, "X", events[0].Entry.Executable)
	// entry.start_time(2) - break_start(0) + elapsed_since_start(50) = 52
	require.Equal(t, float64(52), events[0].Entry.StartTime)
	require.False(t, u.foundBreak)
}

func TestEmptyScheduleSentinelOnce(t *testing.T) {
	u, q := newTestUpdater(&fakeCoordination{})

	items, err := u.getSchedule()
	require.NoError(t, err)
	require.Empty(t, items)

	require.True(t, u.scheduleNotReceived)
	u.enqueueSentinel(&schedule.Event{Type: schedule.EventEmptySchedule})
	u.scheduleNotReceived = false

	require.Equal(t, 1, q.Len())
	priority, ev := q.Pop()
	require.Equal(t, float64(schedule.MinPriority), priority)
	require.Equal(t, schedule.EventEmptySchedule, ev.Type)
}
