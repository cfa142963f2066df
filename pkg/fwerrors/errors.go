// Package fwerrors defines the error taxonomy shared across the artifact
// store, coordination service, resolver, experiment graph, guest driver,
// schedule updater, and supervisor. Call sites wrap one of these sentinels
// with fmt.Errorf("...: %w", ...) and branch on category with errors.Is.
package fwerrors

import "errors"

var (
	// ErrNotFound covers a missing artifact, schedule key, or VM uuid.
	ErrNotFound = errors.New("not found")

	// ErrTransport covers I/O failure to a guest agent or peer host. Retriable.
	ErrTransport = errors.New("transport error")

	// ErrTimeout covers a bounded-wait operation that elapsed. Retriable.
	ErrTimeout = errors.New("timeout")

	// ErrDependencyCycle covers a cycle detected by the resolver. Fatal.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrNoDefaultProvider covers an ambiguous attribute with no configured default. Fatal.
	ErrNoDefaultProvider = errors.New("no default provider")

	// ErrInvalidDefaultProvider covers a default-provider mapping naming a non-provider. Fatal.
	ErrInvalidDefaultProvider = errors.New("invalid default provider")

	// ErrUnsatisfiable covers a resolver plan that cannot be built. Fatal.
	ErrUnsatisfiable = errors.New("unsatisfiable dependency set")

	// ErrInfiniteLoop is the resolver's defensive >1000-outer-iteration cap.
	ErrInfiniteLoop = errors.New("resolver exceeded iteration budget")

	// ErrDecoratorConflict covers a graph composition conflict. Fatal at build time.
	ErrDecoratorConflict = errors.New("decorator conflict")

	// ErrModelComponentImport covers a plugin module failing to load or execute. Fatal at build time.
	ErrModelComponentImport = errors.New("model component import failed")

	// ErrDecompress covers artifact content that cannot be unpacked. Fatal for that artifact.
	ErrDecompress = errors.New("decompression failed")

	// ErrInconsistent covers a cluster broadcast that did not converge. Fatal for that artifact.
	ErrInconsistent = errors.New("broadcast did not converge")

	// ErrOutOfRange covers the coordination service's "unset"/"unknown key" class of RPC failure.
	ErrOutOfRange = errors.New("out of range")
)
