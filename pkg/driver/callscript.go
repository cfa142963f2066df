package driver

import (
	"fmt"
	"path"
	"strings"

	"github.com/sandialabs/firewheel/pkg/schedule"
)

// BuildCreatePaths computes the per-entry working directory, resolved
// executable path, reboot-sentinel path, call-script path, and
// call-script body for entry, matching create_paths's contract. windows
// selects POSIX shell vs. Windows batch call-script syntax.
//
// workingDirSuffix disambiguates two entries that would otherwise land on
// the same working directory (same start_time and executable); callers
// increment it per collision until CreatePaths succeeds, ensuring
// uniqueness.
func BuildCreatePaths(entry *schedule.Entry, windows bool, workingDirSuffix int) CreatePathsResult {
	base := schedule.WorkingDirFor(entry.StartTime, entry.Executable, windows)
	workingDir := base
	if workingDirSuffix > 0 {
		workingDir = strings.TrimRight(base, "/\\") + fmt.Sprintf("-%d", workingDirSuffix)
		if windows {
			workingDir += "\\"
		} else {
			workingDir += "/"
		}
	}

	execPath := entry.Executable
	if !path.IsAbs(execPath) && !strings.Contains(execPath, ":\\") {
		// the executable is delivered alongside the entry's data files;
		// resolve it relative to the working directory.
		execPath = joinPath(workingDir, execPath, windows)
	}

	var rebootSentinel, callScriptPath, body string
	if windows {
		rebootSentinel = joinPath(workingDir, "reboot.sentinel", windows)
		callScriptPath = joinPath(workingDir, "call.bat", windows)
		body = windowsCallScript(execPath, entry.Arguments)
	} else {
		rebootSentinel = joinPath(workingDir, "reboot.sentinel", windows)
		callScriptPath = joinPath(workingDir, "call.sh", windows)
		body = posixCallScript(execPath, entry.Arguments)
	}

	return CreatePathsResult{
		WorkingDir:     workingDir,
		ExecutablePath: execPath,
		RebootSentinel: rebootSentinel,
		CallScriptPath: callScriptPath,
		CallScriptBody: body,
	}
}

func joinPath(dir, name string, windows bool) string {
	sep := "/"
	if windows {
		sep = "\\"
	}
	return strings.TrimRight(dir, "/\\") + sep + name
}

func posixCallScript(exe string, args []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString(shellQuote(exe))
	for _, a := range args {
		b.WriteString(" ")
		b.WriteString(shellQuote(a))
	}
	b.WriteString("\n")
	return b.String()
}

func windowsCallScript(exe string, args []string) string {
	var b strings.Builder
	b.WriteString("@echo off\r\n")
	b.WriteString(fmt.Sprintf("%q", exe))
	for _, a := range args {
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf("%q", a))
	}
	b.WriteString("\r\n")
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
