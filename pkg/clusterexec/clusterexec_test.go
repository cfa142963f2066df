package clusterexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCommandLineWithCwd(t *testing.T) {
	got := buildCommandLine("/home/user/experiment", "/usr/bin/python3", []string{"run.py", "--flag"})
	assert.Equal(t, "cd /home/user/experiment 2>/dev/null; /usr/bin/python3 run.py --flag", got)
}

func TestBuildCommandLineWithoutCwd(t *testing.T) {
	got := buildCommandLine("", "uptime", nil)
	assert.Equal(t, "uptime", got)
}

func TestResyncExitCodesMatchCommandNotFound(t *testing.T) {
	assert.True(t, resyncExitCodes[2])
	assert.True(t, resyncExitCodes[127])
	assert.False(t, resyncExitCodes[0])
	assert.False(t, resyncExitCodes[1])
}

func TestNewAppliesResyncDefaults(t *testing.T) {
	e := New(Config{HostGroup: "control", Hosts: []string{"a:22"}})
	assert.Equal(t, defaultResyncPayload, string(e.cfg.ResyncPayload))
	assert.NotEmpty(t, e.cfg.ResyncDest)
}

func TestNewPreservesCallerSuppliedResyncPayload(t *testing.T) {
	custom := []byte("#!/bin/sh\necho hi\n")
	e := New(Config{HostGroup: "control", Hosts: []string{"a:22"}, ResyncPayload: custom, ResyncDest: "/opt/helper.sh"})
	assert.Equal(t, custom, e.cfg.ResyncPayload)
	assert.Equal(t, "/opt/helper.sh", e.cfg.ResyncDest)
}

func TestRunCommandReportsDialFailureAsFatalForEveryHost(t *testing.T) {
	e := New(Config{
		HostGroup: "control",
		Hosts:     []string{"127.0.0.1:1", "127.0.0.1:2"}, // nothing listens; Dial fails fast
		User:      "nobody",
	})
	fatal := e.RunCommand(nil, "", "true", nil) //nolint:staticcheck // nil context acceptable, no cancellation needed for a local dial-failure test
	assert.Equal(t, 2, fatal)
}

func TestCopyFileReportsFailureCountWhenLocalFileMissing(t *testing.T) {
	e := New(Config{HostGroup: "control", Hosts: []string{"a:22", "b:22"}})
	fatal := e.CopyFile(nil, "/nonexistent/path/does/not/exist", "/tmp/dest") //nolint:staticcheck
	assert.Equal(t, 2, fatal)
}
