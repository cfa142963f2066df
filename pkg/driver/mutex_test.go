package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandialabs/firewheel/pkg/schedule"
)

// countingDriver records concurrent-call high-water mark so tests can
// assert Locked actually serializes access.
type countingDriver struct {
	inflight int32
	maxSeen  int32
}

func (c *countingDriver) enter() func() {
	n := atomic.AddInt32(&c.inflight, 1)
	for {
		cur := atomic.LoadInt32(&c.maxSeen)
		if n <= cur || atomic.CompareAndSwapInt32(&c.maxSeen, cur, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return func() { atomic.AddInt32(&c.inflight, -1) }
}

func (c *countingDriver) Connect(ctx context.Context) error { defer c.enter()(); return nil }
func (c *countingDriver) Ping(ctx context.Context, timeout time.Duration) bool {
	defer c.enter()()
	return true
}
func (c *countingDriver) Sync(ctx context.Context, timeout time.Duration) error {
	defer c.enter()()
	return nil
}
func (c *countingDriver) SetTime(ctx context.Context, t time.Time) error { defer c.enter()(); return nil }
func (c *countingDriver) GetTime(ctx context.Context) (time.Time, error) {
	defer c.enter()()
	return time.Time{}, nil
}
func (c *countingDriver) Reboot(ctx context.Context) error { defer c.enter()(); return nil }
func (c *countingDriver) Exec(ctx context.Context, path string, args, env []string, stdin []byte, capture bool) (int, error) {
	defer c.enter()()
	return 1, nil
}
func (c *countingDriver) ExecStatus(ctx context.Context, pid int) (ExecResult, error) {
	defer c.enter()()
	return ExecResult{}, nil
}
func (c *countingDriver) Write(ctx context.Context, path string, data []byte, mode int) error {
	defer c.enter()()
	return nil
}
func (c *countingDriver) WriteFromFile(ctx context.Context, path, localPath string, mode int) error {
	defer c.enter()()
	return nil
}
func (c *countingDriver) ReadFile(ctx context.Context, guestPath, hostDest string, mode int) error {
	defer c.enter()()
	return nil
}
func (c *countingDriver) FileExists(ctx context.Context, path string) (bool, error) {
	defer c.enter()()
	return false, nil
}
func (c *countingDriver) GetFiles(ctx context.Context, path string, since *time.Time) ([]FileInfo, error) {
	defer c.enter()()
	return nil, nil
}
func (c *countingDriver) DeleteFile(ctx context.Context, path string) error { defer c.enter()(); return nil }
func (c *countingDriver) MakeExecutable(ctx context.Context, path string) error {
	defer c.enter()()
	return nil
}
func (c *countingDriver) CreateDirectories(ctx context.Context, path string) error {
	defer c.enter()()
	return nil
}
func (c *countingDriver) GetOS(ctx context.Context) (string, error) { defer c.enter()(); return "linux", nil }
func (c *countingDriver) CreatePaths(ctx context.Context, entry *schedule.Entry, workingDirSuffix int) (CreatePathsResult, error) {
	defer c.enter()()
	return CreatePathsResult{}, nil
}

var _ Driver = (*countingDriver)(nil)

func TestLockedSerializesConcurrentCalls(t *testing.T) {
	inner := &countingDriver{}
	locked := NewLocked(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locked.Ping(context.Background(), time.Second)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, inner.maxSeen)
}

func TestLockedDelegatesReturnValues(t *testing.T) {
	inner := &countingDriver{}
	locked := NewLocked(inner)

	os, err := locked.GetOS(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "linux", os)
}
