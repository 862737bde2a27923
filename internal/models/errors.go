// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import "errors"

// Error kind sentinels per spec.md §7. Components wrap one of these with
// fmt.Errorf("...: %w", ErrStructural) (or similar) so callers can classify
// failures with errors.Is without inspecting strings, the same pattern the
// teacher uses for its own sentinel errors (wal.ErrWALClosed and friends).
var (
	// ErrTransient marks I/O errors expected to clear on retry: permission
	// denied, file locked, a temporary network blip. Absorbed by the
	// component; never fails the calling job.
	ErrTransient = errors.New("transient error")

	// ErrDataShape marks malformed input — an invalid HLC string, a
	// corrupt sync op. The offending unit is skipped; the batch continues.
	ErrDataShape = errors.New("malformed data")

	// ErrStructural marks a violated precondition within one unit of work
	// (missing parent entry, foreign-key violation). Aborts the current
	// batch; the job stays Running and records a non-critical error.
	ErrStructural = errors.New("structural error")

	// ErrFatal marks an error that invalidates the whole job: the database
	// is unavailable, the root path was removed mid-job, the checkpoint
	// state is corrupt. The job transitions to Failed.
	ErrFatal = errors.New("fatal error")

	// ErrConflict marks a request that cannot be satisfied given current
	// state — a duplicate job hash, a leadership claim against a valid
	// lease. Reported to the caller; no state is mutated.
	ErrConflict = errors.New("conflict")
)
