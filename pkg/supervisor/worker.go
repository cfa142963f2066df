package supervisor

import (
	"bytes"
	"context"
	"errors"
	"path"
	"time"

	"github.com/sandialabs/firewheel/pkg/driver"
	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/sandialabs/firewheel/pkg/schedule"
)

// execPollInterval bounds how often a worker polls exec_status while a
// launched process is still running.
const execPollInterval = 200 * time.Millisecond

// rebootExitCode is the sentinel exit code a call script uses to request
// a guest reboot in lieu of a reboot-sentinel file (spec.md §4.8).
const rebootExitCode = 10

// executeNewItem is the body of a NEW_ITEM worker: write the call script
// and the entry's data files, mark it executable, invoke it via the driver,
// poll until exit, log captured output, and check for a reboot request.
// Transport errors reconnect the driver and retry the same entry.
func (s *Supervisor) executeNewItem(ctx context.Context, entry *schedule.Entry, priority float64) {
	for {
		if ctx.Err() != nil {
			return
		}

		paths, err := s.cfg.Driver.CreatePaths(ctx, entry, s.nextWorkingDirSeqFor())
		if err != nil {
			if s.retryOnTransportError(ctx, err) {
				continue
			}
			s.reportEntryFailure(ctx, entry, err)
			return
		}

		if err := s.stageEntry(ctx, entry, paths); err != nil {
			if s.retryOnTransportError(ctx, err) {
				continue
			}
			s.reportEntryFailure(ctx, entry, err)
			return
		}

		result, err := s.runCallScript(ctx, paths)
		if err != nil {
			if s.retryOnTransportError(ctx, err) {
				continue
			}
			s.reportEntryFailure(ctx, entry, err)
			return
		}

		rebootSentinelExists, _ := s.cfg.Driver.FileExists(ctx, paths.RebootSentinel)
		if rebootSentinelExists || result.ExitCode == rebootExitCode {
			s.requestReboot(entry, priority)
		}
		return
	}
}

func (s *Supervisor) nextWorkingDirSeqFor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.nextWorkingDirSeq
	s.nextWorkingDirSeq++
	return seq
}

func (s *Supervisor) stageEntry(ctx context.Context, entry *schedule.Entry, paths driver.CreatePathsResult) error {
	if err := s.cfg.Driver.CreateDirectories(ctx, paths.WorkingDir); err != nil {
		return err
	}
	if err := s.cfg.Driver.Write(ctx, paths.CallScriptPath, []byte(paths.CallScriptBody), 0o755); err != nil {
		return err
	}

	for _, d := range entry.Data {
		switch {
		case len(d.Content) > 0 && d.Filename != "":
			if err := s.cfg.Driver.Write(ctx, path.Join(paths.WorkingDir, d.Filename), d.Content, fileMode(d.Executable)); err != nil {
				return err
			}
		case d.Filename != "" && s.cfg.Artifacts != nil:
			local, err := s.cfg.Artifacts.GetPath(d.Filename)
			if err != nil {
				return err
			}
			if err := s.cfg.Driver.WriteFromFile(ctx, path.Join(paths.WorkingDir, d.Filename), local, fileMode(d.Executable)); err != nil {
				return err
			}
		}
		if d.Filename != "" && d.Executable {
			if err := s.cfg.Driver.MakeExecutable(ctx, path.Join(paths.WorkingDir, d.Filename)); err != nil {
				return err
			}
		}
	}

	return s.cfg.Driver.MakeExecutable(ctx, paths.CallScriptPath)
}

func fileMode(executable bool) int {
	if executable {
		return 0o755
	}
	return 0o644
}

func (s *Supervisor) runCallScript(ctx context.Context, paths driver.CreatePathsResult) (driver.ExecResult, error) {
	pid, err := s.cfg.Driver.Exec(ctx, paths.CallScriptPath, nil, nil, nil, true)
	if err != nil {
		return driver.ExecResult{}, err
	}

	cache := newOutputCache()
	for {
		result, err := s.cfg.Driver.ExecStatus(ctx, pid)
		if err != nil {
			return driver.ExecResult{}, err
		}
		if result.Exited {
			result.Stdout, result.StdoutTrunc = cache.accumulateStdout(result.Stdout)
			result.Stderr, result.StderrTrunc = cache.accumulateStderr(result.Stderr)
			s.logExecResult(paths.CallScriptPath, result)
			return result, nil
		}
		select {
		case <-time.After(execPollInterval):
		case <-ctx.Done():
			return driver.ExecResult{}, ctx.Err()
		}
	}
}

func (s *Supervisor) logExecResult(script string, result driver.ExecResult) {
	event := s.logger.Info()
	if result.ExitCode != 0 {
		event = s.logger.Warn()
	}
	event.Str("script", script).
		Int("exit_code", result.ExitCode).
		Bool("stdout_truncated", result.StdoutTrunc).
		Bool("stderr_truncated", result.StderrTrunc).
		Str("stdout", string(result.Stdout)).
		Str("stderr", string(result.Stderr)).
		Msg("call script exited")
}

// reportEntryFailure logs a terminal (non-transport) execution error and,
// unless the entry opted into ignore_failure, promotes the VM to FAILED.
func (s *Supervisor) reportEntryFailure(ctx context.Context, entry *schedule.Entry, err error) {
	s.logger.Error().Err(err).Str("executable", entry.Executable).Bool("ignore_failure", entry.IgnoreFailure).
		Msg("schedule entry failed")
	if entry.IgnoreFailure {
		return
	}
	if failErr := s.fail(ctx, err); failErr != nil {
		s.logger.Error().Err(failErr).Msg("vm marked failed")
	}
}

// retryOnTransportError reconnects the driver and reports true when err is
// a transport-class failure worth retrying the same entry for; it returns
// false (and leaves the driver as-is) for anything else, including a
// cancelled context.
func (s *Supervisor) retryOnTransportError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if !errors.Is(err, fwerrors.ErrTransport) && !errors.Is(err, fwerrors.ErrTimeout) {
		return false
	}
	s.logger.Warn().Err(err).Msg("transport error, reconnecting and retrying")
	if connErr := s.connectWithRetry(ctx); connErr != nil {
		return false
	}
	return true
}

// dispatchTransfer runs a TRANSFER entry's poll-exists / pull-new-files
// loop, optionally repeating every entry.Data[0].Interval seconds.
func (s *Supervisor) dispatchTransfer(ctx context.Context, entry *schedule.Entry) {
	s.negTimeWG.Add(1)
	go func() {
		defer s.negTimeWG.Done()
		s.runTransfer(ctx, entry)
	}()
}

func (s *Supervisor) runTransfer(ctx context.Context, entry *schedule.Entry) {
	if len(entry.Data) == 0 {
		return
	}
	spec := entry.Data[0]

	var localTimeMark *time.Time
	for {
		if ctx.Err() != nil {
			return
		}
		for {
			exists, err := s.cfg.Driver.FileExists(ctx, spec.Location)
			if err != nil {
				if s.retryOnTransportError(ctx, err) {
					continue
				}
				s.logger.Error().Err(err).Str("location", spec.Location).Msg("transfer poll failed")
				return
			}
			if exists {
				break
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}

		files, err := s.cfg.Driver.GetFiles(ctx, spec.Location, localTimeMark)
		if err != nil {
			s.logger.Error().Err(err).Str("location", spec.Location).Msg("get_files failed")
			return
		}

		// Widened to 0o644 (rather than whatever mode the guest held the
		// file under) so a non-root host reader can open the pulled copy.
		for _, f := range files {
			dest := path.Join(spec.Destination, path.Base(f.Path))
			if err := s.cfg.Driver.ReadFile(ctx, f.Path, dest, 0o644); err != nil {
				s.logger.Error().Err(err).Str("path", f.Path).Msg("read_file failed")
			}
		}

		guestNow, err := s.cfg.Driver.GetTime(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("unable to refresh transfer time marker")
		} else {
			localTimeMark = &guestNow
		}

		if spec.Interval <= 0 {
			return
		}
		select {
		case <-time.After(time.Duration(spec.Interval * float64(time.Second))):
		case <-ctx.Done():
			return
		}
	}
}

type outputCache struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

const outputTruncateLimit = 1 << 20 // 1 MiB, matching driver.WriteChunkSize's order of magnitude

func newOutputCache() *outputCache {
	return &outputCache{}
}

func (c *outputCache) accumulateStdout(b []byte) ([]byte, bool) {
	c.stdout.Write(b)
	return truncate(c.stdout.Bytes(), outputTruncateLimit)
}

func (c *outputCache) accumulateStderr(b []byte) ([]byte, bool) {
	c.stderr.Write(b)
	return truncate(c.stderr.Bytes(), outputTruncateLimit)
}

func truncate(b []byte, limit int) ([]byte, bool) {
	if len(b) <= limit {
		return b, false
	}
	return b[:limit], true
}
