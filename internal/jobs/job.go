// SPDX-License-Identifier: AGPL-3.0-or-later
// Package jobs provides a supervised executor for long-running, interruptible
// work (§4.H): bounded-concurrency dispatch per job name, cooperative
// pause/cancel at suspension points, crash-safe checkpointing, and cold-resume
// of work still pending when the process last exited.
package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// JobID identifies one dispatched run.
type JobID = uuid.UUID

// ErrPaused and ErrCanceled are returned by a Job's Run method (via a
// Handle.Suspend call propagating them, or directly) to tell the worker a
// suspension point observed a pending command. They are sentinels, not
// failures: the job's last checkpoint is preserved either way.
var (
	ErrPaused   = errors.New("jobs: paused at suspension point")
	ErrCanceled = errors.New("jobs: canceled at suspension point")
)

// Job is implemented by one kind of long-running work (indexing a location,
// identifying content, generating thumbnails, ...). Run must call
// Handle.Suspend at every suspension point named by the concurrency model
// (batch boundaries, phase transitions) so pause/cancel can take effect and
// progress survives a crash.
type Job interface {
	// Name identifies the job kind for dispatch concurrency limits and for
	// the AlreadyRunning{hash} duplicate check.
	Name() string

	// Run executes the job. The job's initial parameters were already
	// decoded by the Factory that constructed it; resume is non-nil when
	// this call is resuming from a checkpoint (cold-resume or a prior
	// Pause). Run returns nil on success, or an error — ErrPaused/
	// ErrCanceled on a clean suspension, anything else treated as a
	// critical failure.
	Run(ctx context.Context, h *Handle, resume *Checkpoint) error
}

// SerializableJob is implemented by a Job that can save and load its own
// progress, in whatever encoding it chooses for StateBlob (the job system
// treats it as opaque bytes).
type SerializableJob interface {
	Job
	// Serialize captures enough state to resume from the current point.
	Serialize() ([]byte, error)
	// Deserialize restores state captured by a prior Serialize call.
	Deserialize(blob []byte) error
}

// Checkpoint is a job's resumable progress: a caller-defined phase label and
// an opaque state blob produced by SerializableJob.Serialize.
type Checkpoint struct {
	Phase     string
	StateBlob []byte
}

// Handle is a Job's only channel back to the job system: checking for
// pause/cancel and persisting a checkpoint at each suspension point, and
// recording non-critical errors into the run's Report.
type Handle struct {
	ctx    context.Context
	worker *worker
}

// Context returns the context the job was launched with. Shutdown does not
// cancel it; Shutdown pauses running jobs instead.
func (h *Handle) Context() context.Context { return h.ctx }

// Suspend is called at a suspension point. If a Pause or Cancel command is
// pending, it persists the given checkpoint (job-system durable storage, not
// the DB) and returns the matching sentinel error, which Run should return
// immediately. If nothing is pending it persists the checkpoint only when
// dirty is true and returns nil.
func (h *Handle) Suspend(phase string, stateBlob []byte, dirty bool) error {
	return h.worker.suspend(h.ctx, phase, stateBlob, dirty)
}

// NonCritical records a recoverable error (a file's metadata unreadable, one
// batch insert collision) into the run's report without failing the job.
func (h *Handle) NonCritical(err error) {
	h.worker.recordNonCritical(err)
}

// SetTaskCount and IncCompletedTasks update the report's progress counters,
// surfaced to callers subscribed to ActiveReports.
func (h *Handle) SetTaskCount(n int64)      { h.worker.setTaskCount(n) }
func (h *Handle) IncCompletedTasks(n int64) { h.worker.incCompletedTasks(n) }

// StoredJobEntry is one pending job persisted to pending_jobs.bin (§6): the
// job's identity, its last checkpoint, and enough of its input/name to
// reconstruct the concrete Job implementation on cold-resume.
type StoredJobEntry struct {
	JobID      JobID
	OwnerID    uuid.UUID // the library (or other context) this job runs under
	Name       string
	Input      []byte // job-specific, opaque to the job system
	Checkpoint Checkpoint
	Report     models.JobReport
}
