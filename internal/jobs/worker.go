// SPDX-License-Identifier: AGPL-3.0-or-later
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// maxNonCriticalErrors bounds a report's NonCriticalErrors list; beyond this
// count, further non-critical errors only bump DroppedErrorCount (§4.H).
const maxNonCriticalErrors = 500

// command is sent down a worker's own bounded inbox. ack is a oneshot: the
// sender always learns the command was observed, independent of when (or
// whether) the worker actually reaches its next suspension point.
type command struct {
	kind Command
	ack  chan error
}

// Command is one of the four operations external callers can request on a
// running job (§6).
type Command int

const (
	CommandPause Command = iota
	CommandResume
	CommandCancel
	CommandShutdown
)

// worker drives exactly one job run to completion, pause, or cancellation.
type worker struct {
	id      JobID
	ownerID uuid.UUID
	job     Job
	input   []byte

	checkpoints *checkpointStore
	log         zerolog.Logger

	cmdCh chan command // capacity 1: at most one outstanding command matters

	mu             sync.Mutex
	report         models.JobReport
	pendingPause   bool
	pendingCancel  bool
	lastCheckpoint Checkpoint
}

func newWorker(id, ownerID uuid.UUID, job Job, input []byte, name string, checkpoints *checkpointStore, log zerolog.Logger) *worker {
	return &worker{
		id:          id,
		ownerID:     ownerID,
		job:         job,
		input:       input,
		checkpoints: checkpoints,
		log:         log,
		cmdCh:       make(chan command, 1),
		report: models.JobReport{
			ID:        id,
			Name:      name,
			Status:    models.JobStatusRunning,
			StartedAt: time.Now().UTC(),
			Metadata:  map[string]string{},
		},
	}
}

// runResult is what the dispatch loop needs after a worker stops running,
// whichever way it stopped.
type runResult struct {
	status     models.JobStatus
	checkpoint Checkpoint
	err        error
}

// run executes the job synchronously to one of: success, ErrPaused,
// ErrCanceled, or a critical failure. It also drains cmdCh concurrently so
// Pause/Resume/Cancel requests are observed even while the job is between
// suspension points, setting flags the next Suspend call will see.
func (w *worker) run(ctx context.Context, resume *Checkpoint) runResult {
	cmdCtx, stopCmds := context.WithCancel(context.Background())
	defer stopCmds()
	go w.drainCommands(cmdCtx)

	h := &Handle{ctx: ctx, worker: w}
	err := w.job.Run(ctx, h, resume)

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case err == nil:
		status := models.JobStatusCompleted
		if len(w.report.NonCriticalErrors) > 0 || w.report.DroppedErrorCount > 0 {
			status = models.JobStatusCompletedWithErrors
		}
		return runResult{status: status, checkpoint: w.lastCheckpoint}
	case errors.Is(err, ErrPaused):
		return runResult{status: models.JobStatusPaused, checkpoint: w.lastCheckpoint}
	case errors.Is(err, ErrCanceled):
		return runResult{status: models.JobStatusCanceled, checkpoint: w.lastCheckpoint}
	default:
		return runResult{status: models.JobStatusFailed, checkpoint: w.lastCheckpoint, err: err}
	}
}

// drainCommands observes Pause/Cancel requests and acknowledges them
// immediately on receipt, per §4.H ("senders always know when a command was
// observed"); the actual state transition happens later, at the job's next
// Suspend call. Resume/Shutdown are handled by the owning System, not here.
func (w *worker) drainCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-w.cmdCh:
			w.mu.Lock()
			switch c.kind {
			case CommandPause:
				w.pendingPause = true
			case CommandCancel:
				w.pendingCancel = true
			}
			w.mu.Unlock()
			c.ack <- nil
		}
	}
}

func (w *worker) suspend(ctx context.Context, phase string, stateBlob []byte, dirty bool) error {
	w.mu.Lock()
	w.lastCheckpoint = Checkpoint{Phase: phase, StateBlob: stateBlob}
	cancel := w.pendingCancel
	pause := w.pendingPause
	entry := w.snapshotEntryLocked()
	w.mu.Unlock()

	if (dirty || cancel || pause) && w.checkpoints != nil {
		if err := w.checkpoints.put(w.id, entry); err != nil {
			w.log.Warn().Err(err).Str("job_id", w.id.String()).Msg("failed to persist checkpoint")
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if cancel {
		return ErrCanceled
	}
	if pause {
		return ErrPaused
	}
	return nil
}

func (w *worker) recordNonCritical(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.report.NonCriticalErrors) >= maxNonCriticalErrors {
		w.report.DroppedErrorCount++
		return
	}
	w.report.NonCriticalErrors = append(w.report.NonCriticalErrors, err.Error())
}

func (w *worker) setTaskCount(n int64) {
	w.mu.Lock()
	w.report.TaskCount = n
	w.mu.Unlock()
}

func (w *worker) incCompletedTasks(n int64) {
	w.mu.Lock()
	w.report.CompletedTaskCount += n
	w.mu.Unlock()
}

func (w *worker) snapshot() models.JobReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotReportLocked()
}

func (w *worker) snapshotReportLocked() models.JobReport {
	r := w.report
	r.NonCriticalErrors = append([]string(nil), w.report.NonCriticalErrors...)
	return r
}

func (w *worker) snapshotEntryLocked() StoredJobEntry {
	return StoredJobEntry{
		JobID:      w.id,
		OwnerID:    w.ownerID,
		Name:       w.report.Name,
		Input:      w.input,
		Checkpoint: w.lastCheckpoint,
		Report:     w.snapshotReportLocked(),
	}
}
