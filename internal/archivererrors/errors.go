// Package archivererrors defines the sentinel error kinds shared across
// the archival engine's components (spec.md §7 Error Handling Design).
// Components wrap these with %w and additional context; callers match on
// them with errors.Is.
package archivererrors

import "errors"

var (
	// ErrOutOfRange is returned when a requested offset falls below the
	// partition's archive-start offset.
	ErrOutOfRange = errors.New("archiver: offset out of range")

	// ErrManifestNotFound is returned when the manifest shard covering a
	// requested offset cannot be located (neither resident nor present
	// in the spillover index).
	ErrManifestNotFound = errors.New("archiver: manifest shard not found")

	// ErrNotLeader is returned by operations that require the caller to
	// currently hold partition leadership.
	ErrNotLeader = errors.New("archiver: not leader")

	// ErrTermChanged is returned when a raft term changes underneath an
	// in-flight operation, invalidating its result.
	ErrTermChanged = errors.New("archiver: term changed")

	// ErrTimeout is returned when an operation's deadline elapses before
	// it could complete.
	ErrTimeout = errors.New("archiver: timeout")

	// ErrShuttingDown is returned by operations rejected because the
	// owning component is stopping.
	ErrShuttingDown = errors.New("archiver: shutting down")
)
