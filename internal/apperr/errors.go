// Package apperr defines the error-kind taxonomy shared by every component:
// chunker, codecs, pack engine, ingest sessions, and the catalog. Components
// wrap one of these sentinels with fmt.Errorf("%w: ...") so callers can
// switch on kind via errors.Is while still getting a readable message.
package apperr

import "errors"

var (
	// ErrInvalidArgument marks a caller precondition violation: a
	// non-seekable stream where one is required, an invalid chunker
	// options triple, and similar.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrFormat marks a magic/version mismatch or otherwise malformed
	// section or record.
	ErrFormat = errors.New("format error")

	// ErrUnexpectedEOF marks a declared length exceeding the bytes
	// actually available.
	ErrUnexpectedEOF = errors.New("unexpected eof")

	// ErrCorrupt marks a checksum mismatch detected on read.
	ErrCorrupt = errors.New("corrupt")

	// ErrNotFound marks an absent chunk, release, or session.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a name collision or a concurrent finalize race.
	ErrConflict = errors.New("conflict")

	// ErrSessionStateInvalid marks an operation disallowed in the
	// session's current state.
	ErrSessionStateInvalid = errors.New("session state invalid")

	// ErrTransient marks a retryable I/O, network, or codec failure.
	// Only the transport adapter retries on this; codecs and the
	// chunker never retry internally.
	ErrTransient = errors.New("transient")

	// ErrCancelled marks cooperative cancellation; partial work must be
	// discarded at the nearest section boundary.
	ErrCancelled = errors.New("cancelled")
)
