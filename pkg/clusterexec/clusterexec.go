// Package clusterexec implements the Cluster Executor (C9, spec.md
// §4.9): fan-out file copy and command execution to a named group of
// cluster hosts over SSH, with resync-and-retry-once on a
// command-not-found exit code.
package clusterexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/sandialabs/firewheel/pkg/log"
)

// resyncExitCodes are the exit statuses treated as "command not found",
// triggering a helper-cache resync and a single retry (spec.md §4.9).
var resyncExitCodes = map[int]bool{2: true, 127: true}

// defaultResyncPayload is pushed to ResyncDest before the retry when no
// Config.ResyncPayload is supplied: a minimal shell wrapper standing in
// for a real Helper cache.
const defaultResyncPayload = "#!/bin/sh\nexit 0\n"

// Config configures an Executor for one named host group.
type Config struct {
	HostGroup string
	Hosts     []string // host:port entries
	User      string
	Auth      []ssh.AuthMethod

	// ResyncDest is the remote path the resync payload is pushed to
	// before a command-not-found retry.
	ResyncDest string
	// ResyncPayload overrides defaultResyncPayload.
	ResyncPayload []byte
}

// Executor runs copy_file and run_command against Config.Hosts.
type Executor struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates an Executor for one host group.
func New(cfg Config) *Executor {
	if len(cfg.ResyncPayload) == 0 {
		cfg.ResyncPayload = []byte(defaultResyncPayload)
	}
	if cfg.ResyncDest == "" {
		cfg.ResyncDest = "/tmp/firewheel-helper-cache/resync.sh"
	}
	return &Executor{
		cfg:    cfg,
		logger: log.WithComponent("clusterexec").With().Str("host_group", cfg.HostGroup).Logger(),
	}
}

func (e *Executor) dial(host string) (*ssh.Client, error) {
	client, err := ssh.Dial("tcp", host, &ssh.ClientConfig{
		User:            e.cfg.User,
		Auth:            e.cfg.Auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // matches StrictHostKeyChecking=no in the original cluster accessor
	})
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", host)
	}
	return client, nil
}

// CopyFile copies localPath to remotePath on every host in the group,
// preserving the source file's permission bits. It returns the count of
// hosts that failed.
func (e *Executor) CopyFile(ctx context.Context, localPath, remotePath string) int {
	info, err := os.Stat(localPath)
	if err != nil {
		e.logger.Error().Err(err).Str("local", localPath).Msg("unable to stat local file")
		return len(e.cfg.Hosts)
	}
	content, err := os.ReadFile(localPath)
	if err != nil {
		e.logger.Error().Err(err).Str("local", localPath).Msg("unable to read local file")
		return len(e.cfg.Hosts)
	}

	var mu sync.Mutex
	errCount := 0
	var wg sync.WaitGroup
	for _, host := range e.cfg.Hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			if err := e.copyOne(ctx, host, remotePath, content, info.Mode()); err != nil {
				e.logger.Error().Err(err).Str("host", host).Msg("copy_file failed")
				mu.Lock()
				errCount++
				mu.Unlock()
				return
			}
			e.logger.Debug().Str("host", host).Msg("copy_file succeeded")
		}(host)
	}
	wg.Wait()
	return errCount
}

func (e *Executor) copyOne(ctx context.Context, host, remotePath string, content []byte, mode os.FileMode) error {
	client, err := e.dial(host)
	if err != nil {
		return err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return errors.Wrap(err, "opening sftp subsystem")
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return errors.Wrap(err, "creating remote parent dirs")
	}
	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return errors.Wrap(err, "creating remote file")
	}
	defer f.Close()
	if _, err := io.Copy(f, bytes.NewReader(content)); err != nil {
		return errors.Wrap(err, "writing remote file content")
	}
	return sftpClient.Chmod(remotePath, mode)
}

type hostResult struct {
	host     string
	exitCode int
	err      error
}

// RunCommand runs cmd with args on every host in the group, prefixed by a
// cd into the caller's working directory, matching the original's
// "cd <cwd> 2>/dev/null; <command>" convention. Hosts whose command exits
// 2 or 127 are resynced (the resync payload is pushed, then the command
// retried once); any other nonzero exit is fatal for that host. It
// returns the number of hosts with an unresolved error.
func (e *Executor) RunCommand(ctx context.Context, cwd, cmd string, args []string) int {
	commandLine := buildCommandLine(cwd, cmd, args)

	results := e.runOnAll(ctx, e.cfg.Hosts, commandLine)

	var toResync []string
	fatal := 0
	for _, r := range results {
		switch {
		case r.err != nil:
			fatal++
		case resyncExitCodes[r.exitCode]:
			toResync = append(toResync, r.host)
		case r.exitCode != 0:
			fatal++
		}
	}

	if len(toResync) == 0 {
		return fatal
	}

	e.logger.Info().Strs("hosts", toResync).Msg("command not found, resyncing helper cache and retrying")
	e.resync(ctx, toResync)

	retryResults := e.runOnAll(ctx, toResync, commandLine)
	for _, r := range retryResults {
		if r.err != nil || r.exitCode != 0 {
			fatal++
			e.logger.Error().Str("host", r.host).Int("exit_code", r.exitCode).Msg("command still failing after resync")
		}
	}
	return fatal
}

func buildCommandLine(cwd, cmd string, args []string) string {
	full := cmd
	for _, a := range args {
		full += " " + a
	}
	if cwd == "" {
		return full
	}
	return fmt.Sprintf("cd %s 2>/dev/null; %s", cwd, full)
}

func (e *Executor) runOnAll(ctx context.Context, hosts []string, commandLine string) []hostResult {
	results := make([]hostResult, len(hosts))
	var wg sync.WaitGroup
	for i, host := range hosts {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			results[i] = e.runOne(ctx, host, commandLine)
		}(i, host)
	}
	wg.Wait()
	return results
}

func (e *Executor) runOne(ctx context.Context, host, commandLine string) hostResult {
	client, err := e.dial(host)
	if err != nil {
		return hostResult{host: host, err: err}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return hostResult{host: host, err: errors.Wrap(err, "opening session")}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(commandLine)
	e.logOutput(host, stdout.Bytes(), stderr.Bytes())

	if runErr == nil {
		return hostResult{host: host, exitCode: 0}
	}
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		return hostResult{host: host, exitCode: exitErr.ExitStatus()}
	}
	return hostResult{host: host, err: errors.Wrap(runErr, "running command")}
}

func (e *Executor) logOutput(host string, stdout, stderr []byte) {
	if len(stdout) > 0 {
		e.logger.Debug().Str("host", host).Str("stdout", string(stdout)).Msg("command output")
	}
	if len(stderr) > 0 {
		e.logger.Warn().Str("host", host).Str("stderr", string(stderr)).Msg("command stderr")
	}
}

func (e *Executor) resync(ctx context.Context, hosts []string) {
	var wg sync.WaitGroup
	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			if err := e.copyOne(ctx, host, e.cfg.ResyncDest, e.cfg.ResyncPayload, 0o755); err != nil {
				e.logger.Error().Err(err).Str("host", host).Msg("helper cache resync failed")
			}
		}(host)
	}
	wg.Wait()
}
