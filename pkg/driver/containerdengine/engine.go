// Package containerdengine implements the Guest Driver Abstraction (C6)
// against a containerd task, treating the task's rootfs as the guest
// filesystem and Task.Exec as the in-guest agent.
package containerdengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
	"github.com/sandialabs/firewheel/pkg/driver"
	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/sandialabs/firewheel/pkg/log"
	"github.com/sandialabs/firewheel/pkg/schedule"
)

// DefaultNamespace is the containerd namespace this engine operates in.
const DefaultNamespace = "firewheel"

// Config configures an Engine.
type Config struct {
	Client      *containerd.Client
	Namespace   string
	ContainerID string
	// RootOverlay is a host directory bind-mounted into the task as its
	// writable scratch area; Write/ReadFile/FileExists operate against
	// files under this directory rather than a real guest-agent socket.
	RootOverlay string
}

type execState struct {
	process containerd.Process
	buf     *bytes.Buffer
	errBuf  *bytes.Buffer
}

// Engine implements driver.Driver against one containerd task.
type Engine struct {
	client      *containerd.Client
	namespace   string
	containerID string
	rootOverlay string
	logger      zerolog.Logger

	mu    sync.Mutex
	execs map[int]*execState
	next  int
}

// New creates an Engine for an already-created container.
func New(cfg Config) *Engine {
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return &Engine{
		client:      cfg.Client,
		namespace:   ns,
		containerID: cfg.ContainerID,
		rootOverlay: cfg.RootOverlay,
		logger:      log.WithComponent("driver-containerd"),
		execs:       make(map[int]*execState),
	}
}

func (e *Engine) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, e.namespace)
}

func (e *Engine) container(ctx context.Context) (containerd.Container, error) {
	c, err := e.client.LoadContainer(e.ctx(ctx), e.containerID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading container %s: %v", fwerrors.ErrTransport, e.containerID, err)
	}
	return c, nil
}

// Connect verifies the container's task is running.
func (e *Engine) Connect(ctx context.Context) error {
	c, err := e.container(ctx)
	if err != nil {
		return err
	}
	_, err = c.Task(e.ctx(ctx), nil)
	if err != nil {
		return fmt.Errorf("%w: loading task: %v", fwerrors.ErrTransport, err)
	}
	return nil
}

// Ping reports whether the task is alive within timeout.
func (e *Engine) Ping(ctx context.Context, timeout time.Duration) bool {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c, err := e.container(pingCtx)
	if err != nil {
		return false
	}
	task, err := c.Task(e.ctx(pingCtx), nil)
	if err != nil {
		return false
	}
	status, err := task.Status(e.ctx(pingCtx))
	if err != nil {
		return false
	}
	return status.Status == containerd.Running
}

// Sync is a no-op for this engine: there is no session buffer to drain,
// each Exec call starts a fresh process.
func (e *Engine) Sync(ctx context.Context, timeout time.Duration) error {
	return nil
}

// SetTime is unsupported: a container shares the host clock.
func (e *Engine) SetTime(ctx context.Context, t time.Time) error {
	return nil
}

// GetTime returns the host's current time, since the task shares the
// host clock namespace.
func (e *Engine) GetTime(ctx context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

// Reboot restarts the container's task.
func (e *Engine) Reboot(ctx context.Context) error {
	c, err := e.container(ctx)
	if err != nil {
		return err
	}
	task, err := c.Task(e.ctx(ctx), nil)
	if err != nil {
		return fmt.Errorf("%w: loading task: %v", fwerrors.ErrTransport, err)
	}
	if err := task.Kill(e.ctx(ctx), 9); err != nil {
		return fmt.Errorf("%w: killing task for reboot: %v", fwerrors.ErrTransport, err)
	}
	newTask, err := c.NewTask(e.ctx(ctx), cio.NullIO)
	if err != nil {
		return fmt.Errorf("%w: recreating task: %v", fwerrors.ErrTransport, err)
	}
	return newTask.Start(e.ctx(ctx))
}

// Exec starts a process in the task via Task.Exec, returning a
// process-local pid that ExecStatus polls against.
func (e *Engine) Exec(ctx context.Context, path string, args, env []string, stdin []byte, capture bool) (int, error) {
	c, err := e.container(ctx)
	if err != nil {
		return 0, err
	}
	task, err := c.Task(e.ctx(ctx), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: loading task: %v", fwerrors.ErrTransport, err)
	}

	spec := &specs.Process{Args: append([]string{path}, args...), Env: env}
	var stdout, stderr bytes.Buffer
	creator := cio.NewCreator(cio.WithStreams(bytes.NewReader(stdin), &stdout, &stderr))

	e.mu.Lock()
	e.next++
	pid := e.next
	e.mu.Unlock()

	proc, err := task.Exec(e.ctx(ctx), fmt.Sprintf("exec-%d", pid), spec, creator)
	if err != nil {
		return 0, fmt.Errorf("%w: starting exec: %v", fwerrors.ErrTransport, err)
	}
	if err := proc.Start(e.ctx(ctx)); err != nil {
		return 0, fmt.Errorf("%w: starting process: %v", fwerrors.ErrTransport, err)
	}

	e.mu.Lock()
	e.execs[pid] = &execState{process: proc, buf: &stdout, errBuf: &stderr}
	e.mu.Unlock()

	return pid, nil
}

// ExecStatus polls a previously started process for completion.
func (e *Engine) ExecStatus(ctx context.Context, pid int) (driver.ExecResult, error) {
	e.mu.Lock()
	st, ok := e.execs[pid]
	e.mu.Unlock()
	if !ok {
		return driver.ExecResult{}, fmt.Errorf("%w: unknown pid %d", fwerrors.ErrNotFound, pid)
	}

	status, err := st.process.Status(e.ctx(ctx))
	if err != nil {
		return driver.ExecResult{}, fmt.Errorf("%w: polling process status: %v", fwerrors.ErrTransport, err)
	}
	if status.Status != containerd.Stopped {
		return driver.ExecResult{Exited: false}, nil
	}
	return driver.ExecResult{
		Exited:   true,
		ExitCode: int(status.ExitStatus),
		Stdout:   st.buf.Bytes(),
		Stderr:   st.errBuf.Bytes(),
	}, nil
}

func (e *Engine) hostPath(guestPath string) string {
	return filepath.Join(e.rootOverlay, guestPath)
}

// Write atomically writes data to guestPath via a temp-file-then-rename
// on the bind-mounted overlay, creating missing parents.
func (e *Engine) Write(ctx context.Context, guestPath string, data []byte, mode int) error {
	dest := e.hostPath(guestPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%w: creating parent dirs: %v", fwerrors.ErrTransport, err)
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, os.FileMode(mode)); err != nil {
		return fmt.Errorf("%w: writing temp file: %v", fwerrors.ErrTransport, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("%w: renaming into place: %v", fwerrors.ErrTransport, err)
	}
	return nil
}

// WriteFromFile reads localPath whole and writes it to guestPath through
// Write, in one piece rather than in driver.WriteChunkSize chunks.
func (e *Engine) WriteFromFile(ctx context.Context, guestPath, localPath string, mode int) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: reading local file: %v", fwerrors.ErrTransport, err)
	}
	return e.Write(ctx, guestPath, data, mode)
}

// ReadFile copies guestPath out of the overlay to hostDest.
func (e *Engine) ReadFile(ctx context.Context, guestPath, hostDest string, mode int) error {
	src, err := os.Open(e.hostPath(guestPath))
	if err != nil {
		return fmt.Errorf("%w: opening guest file: %v", fwerrors.ErrTransport, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(hostDest), 0o755); err != nil {
		return fmt.Errorf("%w: creating host dest dirs: %v", fwerrors.ErrTransport, err)
	}
	dst, err := os.OpenFile(hostDest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(mode))
	if err != nil {
		return fmt.Errorf("%w: opening host dest: %v", fwerrors.ErrTransport, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%w: copying file content: %v", fwerrors.ErrTransport, err)
	}
	return nil
}

// FileExists reports whether guestPath exists in the overlay.
func (e *Engine) FileExists(ctx context.Context, guestPath string) (bool, error) {
	_, err := os.Stat(e.hostPath(guestPath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat: %v", fwerrors.ErrTransport, err)
}

// GetFiles lists files under guestPath modified since the optional cutoff.
func (e *Engine) GetFiles(ctx context.Context, guestPath string, since *time.Time) ([]driver.FileInfo, error) {
	root := e.hostPath(guestPath)
	var out []driver.FileInfo
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if since != nil && !info.ModTime().After(*since) {
			return nil
		}
		rel, relErr := filepath.Rel(e.rootOverlay, p)
		if relErr != nil {
			rel = p
		}
		out = append(out, driver.FileInfo{Path: "/" + rel, ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: walking %s: %v", fwerrors.ErrTransport, root, err)
	}
	return out, nil
}

// DeleteFile removes guestPath from the overlay.
func (e *Engine) DeleteFile(ctx context.Context, guestPath string) error {
	if err := os.Remove(e.hostPath(guestPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing file: %v", fwerrors.ErrTransport, err)
	}
	return nil
}

// MakeExecutable sets the executable bit on guestPath.
func (e *Engine) MakeExecutable(ctx context.Context, guestPath string) error {
	if err := os.Chmod(e.hostPath(guestPath), 0o755); err != nil {
		return fmt.Errorf("%w: chmod: %v", fwerrors.ErrTransport, err)
	}
	return nil
}

// CreateDirectories creates guestPath and any missing parents.
func (e *Engine) CreateDirectories(ctx context.Context, guestPath string) error {
	if err := os.MkdirAll(e.hostPath(guestPath), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir -p: %v", fwerrors.ErrTransport, err)
	}
	return nil
}

// GetOS always reports "linux": a containerd task's guest OS is
// determined by its image, which this engine does not introspect.
func (e *Engine) GetOS(ctx context.Context) (string, error) {
	return "linux", nil
}

// CreatePaths builds call-script paths for entry, retrying with an
// incrementing numeric suffix until the working directory is unused.
func (e *Engine) CreatePaths(ctx context.Context, entry *schedule.Entry, workingDirSuffix int) (driver.CreatePathsResult, error) {
	result := driver.BuildCreatePaths(entry, false, workingDirSuffix)
	for {
		exists, err := e.FileExists(ctx, result.WorkingDir)
		if err != nil {
			return driver.CreatePathsResult{}, err
		}
		if !exists {
			return result, nil
		}
		workingDirSuffix++
		result = driver.BuildCreatePaths(entry, false, workingDirSuffix)
	}
}

var _ driver.Driver = (*Engine)(nil)
