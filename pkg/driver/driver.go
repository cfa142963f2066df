// Package driver defines the Guest Driver Abstraction (C6): a host-side
// stub for a single VM's in-guest agent, polymorphic over transport
// engines. Every operation on a given Driver is serialized through a
// per-driver mutex, matching the per-VM socket the original drivers hold
// open.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/sandialabs/firewheel/pkg/schedule"
)

// ExecResult is the terminal state of a process started with Exec, as
// reported by ExecStatus once it has exited.
type ExecResult struct {
	Exited      bool
	ExitCode    int
	Signal      string
	Stdout      []byte
	Stderr      []byte
	StdoutTrunc bool
	StderrTrunc bool
}

// FileInfo is one entry returned by GetFiles.
type FileInfo struct {
	Path    string
	ModTime time.Time
}

// CreatePathsResult is everything create_paths computes for one schedule
// entry: its working directory, the resolved executable path, the
// reboot-sentinel path, the call-script path, and the call-script body.
type CreatePathsResult struct {
	WorkingDir     string
	ExecutablePath string
	RebootSentinel string
	CallScriptPath string
	CallScriptBody string
}

// Driver is the host-side stub for one VM's in-guest agent. Implementations
// are engines (containerd task, SSH/Lima host, ...); callers must not
// invoke two methods on the same Driver concurrently without going
// through a Locked wrapper (see mutex.go).
type Driver interface {
	Connect(ctx context.Context) error
	Ping(ctx context.Context, timeout time.Duration) bool
	Sync(ctx context.Context, timeout time.Duration) error
	SetTime(ctx context.Context, t time.Time) error
	GetTime(ctx context.Context) (time.Time, error)
	Reboot(ctx context.Context) error

	Exec(ctx context.Context, path string, args, env []string, stdin []byte, capture bool) (pid int, err error)
	ExecStatus(ctx context.Context, pid int) (ExecResult, error)

	Write(ctx context.Context, path string, data []byte, mode int) error
	WriteFromFile(ctx context.Context, path, localPath string, mode int) error
	ReadFile(ctx context.Context, guestPath, hostDest string, mode int) error

	FileExists(ctx context.Context, path string) (bool, error)
	GetFiles(ctx context.Context, path string, since *time.Time) ([]FileInfo, error)
	DeleteFile(ctx context.Context, path string) error
	MakeExecutable(ctx context.Context, path string) error
	CreateDirectories(ctx context.Context, path string) error

	GetOS(ctx context.Context) (string, error)
	CreatePaths(ctx context.Context, entry *schedule.Entry, workingDirSuffix int) (CreatePathsResult, error)
}

// WriteChunkSize is the transfer chunk size used by WriteFromFile and
// ReadFile, matching the original's "roughly 1 MiB" chunking.
const WriteChunkSize = 1 << 20

// GetOSRetries bounds get_os's probe-and-cache retry loop.
const GetOSRetries = 120

func wrapTransport(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", fwerrors.ErrTransport, err)
}

func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", fwerrors.ErrTimeout, err)
}
