/*
Package log provides structured logging for firewheel using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component- and VM-scoped child loggers, a configurable level, and a
small set of package-level helpers for the common case of logging
against the global logger directly.

# Usage

Initializing the logger, normally once in a cmd/ entry point's main():

	import "github.com/sandialabs/firewheel/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging against the global logger:

	log.Info("coordination service listening")
	log.Errorf("dialing minimega", err) // message used as-is, err attached as a field
	log.Fatal("cannot start without a config file") // exits the process

Structured logging, for everything beyond a bare message:

	log.Logger.Info().
		Str("vm_name", "vm-001").
		Int("queue_depth", 3).
		Msg("schedule entry applied")

Component and VM loggers:

	resolverLog := log.WithComponent("resolver")
	resolverLog.Info().Msg("plan resolved")

	vmLog := log.WithVM("vm-001").With().Str("component", "supervisor").Logger()
	vmLog.Error().Err(err).Msg("guest exec failed")

	dbLog := log.WithDB("test")
	dbLog.Debug().Msg("schedule store opened")

# Integration points

  - pkg/coordination logs via WithComponent; WithDB (scoping to a
    logical database, "test" or "prod", per spec.md §6) is not called
    by any package in this tree
  - pkg/supervisor and pkg/updater log per-VM via WithVM
  - pkg/artifactstore, pkg/resolver, pkg/clusterexec log via
    WithComponent

# Log levels

Debug and Info are routine; Warn marks a condition worth a look but not
an error (a resynced host, a skipped resource file); Error marks a
failed operation that the caller already handles; Fatal is reserved for
setup failures in a cmd/ entry point, where there is nothing left to
degrade gracefully into.

# Best practices

Use structured fields (.Str, .Int, .Err) instead of string
interpolation so logs stay machine-parseable, and never log SSH
credentials, coordination database contents, or raw guest file bytes.
*/
package log
