package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandialabs/firewheel/pkg/schedule"
)

func TestBuildCreatePathsPosix(t *testing.T) {
	entry := &schedule.Entry{StartTime: 5, Executable: "run.sh", Arguments: []string{"--flag", "a b"}}

	result := BuildCreatePaths(entry, false, 0)

	assert.Equal(t, "/var/launch/5/run.sh/", result.WorkingDir)
	assert.Equal(t, "/var/launch/5/run.sh/run.sh", result.ExecutablePath)
	assert.Equal(t, "/var/launch/5/run.sh/call.sh", result.CallScriptPath)
	assert.Contains(t, result.CallScriptBody, "#!/bin/sh\n")
	assert.Contains(t, result.CallScriptBody, "'--flag'")
	assert.Contains(t, result.CallScriptBody, "'a b'")
}

func TestBuildCreatePathsWindows(t *testing.T) {
	entry := &schedule.Entry{StartTime: 5, Executable: "run.exe", Arguments: []string{"arg1"}}

	result := BuildCreatePaths(entry, true, 0)

	assert.Equal(t, "/launch/5/run.exe\\", result.WorkingDir)
	assert.Contains(t, result.CallScriptBody, "@echo off\r\n")
	assert.Contains(t, result.CallScriptPath, "call.bat")
}

func TestBuildCreatePathsSuffixDisambiguates(t *testing.T) {
	entry := &schedule.Entry{StartTime: 5, Executable: "run.sh"}

	base := BuildCreatePaths(entry, false, 0)
	withSuffix := BuildCreatePaths(entry, false, 1)

	require.NotEqual(t, base.WorkingDir, withSuffix.WorkingDir)
	assert.Contains(t, withSuffix.WorkingDir, "-1")
}

func TestBuildCreatePathsAbsoluteExecutableIsNotRebased(t *testing.T) {
	entry := &schedule.Entry{StartTime: 1, Executable: "/usr/bin/run"}

	result := BuildCreatePaths(entry, false, 0)

	assert.Equal(t, "/usr/bin/run", result.ExecutablePath)
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'"'"'s'`, shellQuote("it's"))
}
