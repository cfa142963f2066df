package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandialabs/firewheel/pkg/coordination"
	"github.com/sandialabs/firewheel/pkg/driver"
	"github.com/sandialabs/firewheel/pkg/schedule"
)

type fakeDriver struct {
	mu          sync.Mutex
	connectErr  error
	connects    int
	execCalls   []string
	exitCode    int
	fileExists  map[string]bool
	createdDirs []string
	writes      map[string][]byte
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{fileExists: map[string]bool{}, writes: map[string][]byte{}}
}

func (f *fakeDriver) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}
func (f *fakeDriver) Ping(ctx context.Context, timeout time.Duration) bool { return true }
func (f *fakeDriver) Sync(ctx context.Context, timeout time.Duration) error { return nil }
func (f *fakeDriver) SetTime(ctx context.Context, t time.Time) error       { return nil }
func (f *fakeDriver) GetTime(ctx context.Context) (time.Time, error)       { return time.Now(), nil }
func (f *fakeDriver) Reboot(ctx context.Context) error                     { return nil }

func (f *fakeDriver) Exec(ctx context.Context, path string, args, env []string, stdin []byte, capture bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, path)
	return 1, nil
}
func (f *fakeDriver) ExecStatus(ctx context.Context, pid int) (driver.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return driver.ExecResult{Exited: true, ExitCode: f.exitCode}, nil
}
func (f *fakeDriver) Write(ctx context.Context, path string, data []byte, mode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[path] = data
	return nil
}
func (f *fakeDriver) WriteFromFile(ctx context.Context, path, localPath string, mode int) error {
	return nil
}
func (f *fakeDriver) ReadFile(ctx context.Context, guestPath, hostDest string, mode int) error {
	return nil
}
func (f *fakeDriver) FileExists(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileExists[path], nil
}
func (f *fakeDriver) GetFiles(ctx context.Context, path string, since *time.Time) ([]driver.FileInfo, error) {
	return nil, nil
}
func (f *fakeDriver) DeleteFile(ctx context.Context, path string) error      { return nil }
func (f *fakeDriver) MakeExecutable(ctx context.Context, path string) error { return nil }
func (f *fakeDriver) CreateDirectories(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdDirs = append(f.createdDirs, path)
	return nil
}
func (f *fakeDriver) GetOS(ctx context.Context) (string, error) { return "linux", nil }
func (f *fakeDriver) CreatePaths(ctx context.Context, entry *schedule.Entry, workingDirSuffix int) (driver.CreatePathsResult, error) {
	return driver.BuildCreatePaths(entry, false, workingDirSuffix), nil
}

var _ driver.Driver = (*fakeDriver)(nil)

type fakeCoordination struct {
	mu           sync.Mutex
	states       []string
	notReady     int
	startTimeSet int64
}

func (f *fakeCoordination) SetVMStateByUUID(ctx context.Context, uuid, state string) (coordination.VMMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return coordination.VMMapping{ServerUUID: uuid, State: state}, nil
}
func (f *fakeCoordination) SetVMTimeByUUID(ctx context.Context, uuid string, t float64) (coordination.VMMapping, error) {
	return coordination.VMMapping{ServerUUID: uuid, CurrentTime: t}, nil
}
func (f *fakeCoordination) CountVMMappingsNotReady(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notReady, nil
}
func (f *fakeCoordination) SetExperimentStartTime(ctx context.Context, unixSeconds int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startTimeSet = unixSeconds
	return unixSeconds, nil
}

type fakeUpdater struct {
	done chan struct{}
}

func newFakeUpdater() *fakeUpdater { return &fakeUpdater{done: make(chan struct{})} }
func (f *fakeUpdater) Start()      {}
func (f *fakeUpdater) StopThread() { close(f.done) }
func (f *fakeUpdater) Done() <-chan struct{} { return f.done }

func newTestSupervisor(t *testing.T, drv *fakeDriver, coord *fakeCoordination) (*Supervisor, *schedule.PriorityQueue, *sync.Cond) {
	t.Helper()
	q := schedule.NewPriorityQueue()
	cond := sync.NewCond(&sync.Mutex{})
	s := New(Config{
		VMName:       "vm1",
		ServerUUID:   "uuid-1",
		Driver:       drv,
		Coordination: coord,
		Updater:      newFakeUpdater(),
		Queue:        q,
		Cond:         cond,
	})
	return s, q, cond
}

func TestRunExecutesNegativeTimeEntryImmediately(t *testing.T) {
	drv := newFakeDriver()
	coord := &fakeCoordination{}
	s, q, cond := newTestSupervisor(t, drv, coord)

	cond.L.Lock()
	q.Push(-1, &schedule.Event{Type: schedule.EventNewItem, Entry: &schedule.Entry{StartTime: -1, Executable: "run.sh"}})
	cond.L.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	}()

	err := s.Run(ctx)
	require.NoError(t, err)

	drv.mu.Lock()
	defer drv.mu.Unlock()
	assert.NotEmpty(t, drv.execCalls)
	assert.Contains(t, coord.states, "configuring")
}

func TestPromoteConfiguredElectsStartTimeWhenReady(t *testing.T) {
	drv := newFakeDriver()
	coord := &fakeCoordination{notReady: 0}
	s, _, _ := newTestSupervisor(t, drv, coord)

	s.promoteConfigured(context.Background())

	assert.Contains(t, coord.states, "configured")
	assert.NotZero(t, coord.startTimeSet)
}

func TestPromoteConfiguredSkipsElectionWhenVMsOutstanding(t *testing.T) {
	drv := newFakeDriver()
	coord := &fakeCoordination{notReady: 2}
	s, _, _ := newTestSupervisor(t, drv, coord)

	s.promoteConfigured(context.Background())

	assert.Zero(t, coord.startTimeSet)
}

func TestPromoteConfiguredIsIdempotent(t *testing.T) {
	drv := newFakeDriver()
	coord := &fakeCoordination{notReady: 0}
	s, _, _ := newTestSupervisor(t, drv, coord)

	s.promoteConfigured(context.Background())
	s.promoteConfigured(context.Background())

	count := 0
	for _, st := range coord.states {
		if st == "configured" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRebootExitCodeTriggersReenqueue(t *testing.T) {
	drv := newFakeDriver()
	drv.exitCode = rebootExitCode
	coord := &fakeCoordination{}
	s, _, _ := newTestSupervisor(t, drv, coord)

	entry := &schedule.Entry{StartTime: -1, Executable: "run.sh"}
	s.executeNewItem(context.Background(), entry, -1)

	pending := s.takeRebootRequests()
	require.Len(t, pending, 1)
	assert.Same(t, entry, pending[0].entry)
}

func TestRebootWindowWidensOnWindows(t *testing.T) {
	minP, maxP := RebootWindow("linux")
	minW, maxW := RebootWindow("windows")
	assert.Less(t, maxP, maxW)
	assert.Less(t, minP, minW)
}

func TestFailPublishesFailedStateAndSignalsRun(t *testing.T) {
	drv := newFakeDriver()
	coord := &fakeCoordination{}
	s, _, _ := newTestSupervisor(t, drv, coord)

	err := s.fail(context.Background(), assert.AnError)
	require.Error(t, err)
	assert.Contains(t, coord.states, "FAILED")

	select {
	case got := <-s.failed:
		assert.Equal(t, err, got)
	default:
		t.Fatal("expected fail() to signal s.failed")
	}
}
