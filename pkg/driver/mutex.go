package driver

import (
	"context"
	"sync"
	"time"

	"github.com/sandialabs/firewheel/pkg/schedule"
)

// Locked wraps any Driver so every method call is serialized through a
// single mutex, matching the contract that all operations on one VM's
// guest driver run through its single socket.
type Locked struct {
	mu  sync.Mutex
	drv Driver
}

// NewLocked wraps drv.
func NewLocked(drv Driver) *Locked {
	return &Locked{drv: drv}
}

func (l *Locked) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.Connect(ctx)
}

func (l *Locked) Ping(ctx context.Context, timeout time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.Ping(ctx, timeout)
}

func (l *Locked) Sync(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.Sync(ctx, timeout)
}

func (l *Locked) SetTime(ctx context.Context, t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.SetTime(ctx, t)
}

func (l *Locked) GetTime(ctx context.Context) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.GetTime(ctx)
}

func (l *Locked) Reboot(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.Reboot(ctx)
}

func (l *Locked) Exec(ctx context.Context, path string, args, env []string, stdin []byte, capture bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.Exec(ctx, path, args, env, stdin, capture)
}

func (l *Locked) ExecStatus(ctx context.Context, pid int) (ExecResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.ExecStatus(ctx, pid)
}

func (l *Locked) Write(ctx context.Context, path string, data []byte, mode int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.Write(ctx, path, data, mode)
}

func (l *Locked) WriteFromFile(ctx context.Context, path, localPath string, mode int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.WriteFromFile(ctx, path, localPath, mode)
}

func (l *Locked) ReadFile(ctx context.Context, guestPath, hostDest string, mode int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.ReadFile(ctx, guestPath, hostDest, mode)
}

func (l *Locked) FileExists(ctx context.Context, path string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.FileExists(ctx, path)
}

func (l *Locked) GetFiles(ctx context.Context, path string, since *time.Time) ([]FileInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.GetFiles(ctx, path, since)
}

func (l *Locked) DeleteFile(ctx context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.DeleteFile(ctx, path)
}

func (l *Locked) MakeExecutable(ctx context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.MakeExecutable(ctx, path)
}

func (l *Locked) CreateDirectories(ctx context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.CreateDirectories(ctx, path)
}

func (l *Locked) GetOS(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.GetOS(ctx)
}

func (l *Locked) CreatePaths(ctx context.Context, entry *schedule.Entry, workingDirSuffix int) (CreatePathsResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drv.CreatePaths(ctx, entry, workingDirSuffix)
}

var _ Driver = (*Locked)(nil)
