// SPDX-License-Identifier: AGPL-3.0-or-later
package jobs

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/spacedriveapp/spacedrive-core/internal/logging"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// DefaultMaxWorkersPerName is MAX_WORKERS from §4.H: the default bounded
// concurrency applied per job name when no override is configured.
const DefaultMaxWorkersPerName = 4

// ErrNotFound is returned by Pause/Resume/Cancel for a job id the System has
// no record of (never dispatched, or already fully cleaned up).
var ErrNotFound = errors.New("jobs: job not found")

// ErrUnknownJobName is returned when cold-resume or Dispatch references a
// job name with no registered Factory.
var ErrUnknownJobName = errors.New("jobs: no factory registered for job name")

// Factory reconstructs a concrete Job from its serialized input bytes.
// Registered once per job name via RegisterJobType.
type Factory func(input []byte) (Job, error)

var (
	jobsActiveGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coreindexd_jobs_active",
		Help: "Number of jobs currently running, by job name.",
	}, []string{"name"})
	jobsQueuedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coreindexd_jobs_queued",
		Help: "Number of jobs waiting for a free worker slot, by job name.",
	}, []string{"name"})
	jobsCompletedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coreindexd_jobs_completed_total",
		Help: "Terminal job outcomes, by job name and final status.",
	}, []string{"name", "status"})
)

type queuedJob struct {
	id      JobID
	ownerID uuid.UUID
	name    string
	input   []byte
	resume  *Checkpoint
	hash    [32]byte
}

type runningJob struct {
	w    *worker
	name string
}

// System is the central orchestrator of every Job run (§4.H): ingest
// dedupe, bounded dispatch per job name, pause/resume/cancel delivery,
// crash-safe checkpointing, and cold-resume of pending_jobs.bin at startup.
type System struct {
	mu sync.Mutex

	dataDir        string
	maxPerName     int
	factories      map[string]Factory
	hashesInFlight map[[32]byte]JobID
	queue          map[string][]queuedJob
	running        map[JobID]*runningJob
	paused         map[JobID]StoredJobEntry

	checkpoints *checkpointStore
	outputs     *broadcast
	log         zerolog.Logger

	stopped bool
}

// New opens (or creates) the job system's durable checkpoint store under
// dataDir and returns a System ready for RegisterJobType and Dispatch.
func New(dataDir string, maxPerName int) (*System, error) {
	if maxPerName <= 0 {
		maxPerName = DefaultMaxWorkersPerName
	}
	cp, err := openCheckpointStore(dataDir + "/job-checkpoints")
	if err != nil {
		return nil, err
	}
	return &System{
		dataDir:        dataDir,
		maxPerName:     maxPerName,
		factories:      make(map[string]Factory),
		hashesInFlight: make(map[[32]byte]JobID),
		queue:          make(map[string][]queuedJob),
		running:        make(map[JobID]*runningJob),
		paused:         make(map[JobID]StoredJobEntry),
		checkpoints:    cp,
		outputs:        newBroadcast(),
		log:            logging.WithComponent("jobs"),
	}, nil
}

// RegisterJobType associates a job name with the Factory able to
// reconstruct it, both for fresh Dispatch calls and for cold-resume.
func (s *System) RegisterJobType(name string, f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[name] = f
}

// Subscribe returns a channel of completion Outcomes. See broadcast: the
// channel never blocks the job system, however slow the subscriber is.
func (s *System) Subscribe() (<-chan Outcome, func()) {
	return s.outputs.Subscribe()
}

func ingestHash(name string, input []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0}) // separator, so ("ab","c") != ("a","bc")
	h.Write(input)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Dispatch ingests a new job: duplicate (name, input) pairs already in
// flight (running, queued, or paused) are rejected with an AlreadyRunning
// conflict rather than silently deduplicated, so the caller can decide what
// to do. Concurrency beyond maxPerName for this job name queues FIFO.
func (s *System) Dispatch(ctx context.Context, ownerID uuid.UUID, name string, input []byte) (JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return uuid.Nil, fmt.Errorf("%w: job system is shut down", models.ErrStructural)
	}

	factory, ok := s.factories[name]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownJobName, name)
	}

	hash := ingestHash(name, input)
	if existing, inFlight := s.hashesInFlight[hash]; inFlight {
		return uuid.Nil, fmt.Errorf("%w: AlreadyRunning{hash=%x} job_id=%s", models.ErrConflict, hash[:8], existing)
	}

	id := uuid.New()
	s.hashesInFlight[hash] = id

	job, err := factory(input)
	if err != nil {
		delete(s.hashesInFlight, hash)
		return uuid.Nil, fmt.Errorf("jobs: construct %s: %w", name, err)
	}

	qj := queuedJob{id: id, ownerID: ownerID, name: name, input: input, hash: hash}
	s.enqueueOrLaunchLocked(ctx, qj, job, nil)
	return id, nil
}

// enqueueOrLaunchLocked must be called with s.mu held.
func (s *System) enqueueOrLaunchLocked(ctx context.Context, qj queuedJob, job Job, resume *Checkpoint) {
	running := 0
	for _, r := range s.running {
		if r.name == qj.name {
			running++
		}
	}
	if running >= s.maxPerName {
		qj.resume = resume
		s.queue[qj.name] = append(s.queue[qj.name], qj)
		jobsQueuedGauge.WithLabelValues(qj.name).Set(float64(len(s.queue[qj.name])))
		return
	}
	s.launchLocked(ctx, qj, job, resume)
}

func (s *System) launchLocked(ctx context.Context, qj queuedJob, job Job, resume *Checkpoint) {
	w := newWorker(qj.id, qj.ownerID, job, qj.input, qj.name, s.checkpoints, s.log)
	s.running[qj.id] = &runningJob{w: w, name: qj.name}
	jobsActiveGauge.WithLabelValues(qj.name).Set(float64(len(s.running)))

	go s.superviseWorker(ctx, w, qj, resume)
}

func (s *System) superviseWorker(ctx context.Context, w *worker, qj queuedJob, resume *Checkpoint) {
	result := w.run(ctx, resume)
	s.onWorkerDone(w, qj, result)
}

func (s *System) onWorkerDone(w *worker, qj queuedJob, result runResult) {
	s.mu.Lock()

	delete(s.running, qj.id)
	jobsActiveGauge.WithLabelValues(qj.name).Set(float64(len(s.running)))

	report := w.snapshot()
	report.Status = result.status
	if result.status.Terminal() {
		report.CompletedAt = time.Now().UTC()
	}
	if result.err != nil {
		report.CriticalError = result.err.Error()
	}

	switch result.status {
	case models.JobStatusPaused:
		s.paused[qj.id] = StoredJobEntry{
			JobID:      qj.id,
			OwnerID:    qj.ownerID,
			Name:       qj.name,
			Input:      qj.input,
			Checkpoint: result.checkpoint,
			Report:     report,
		}
	default:
		delete(s.hashesInFlight, qj.hash)
		if err := s.checkpoints.delete(qj.id); err != nil {
			s.log.Warn().Err(err).Str("job_id", qj.id.String()).Msg("failed to clear checkpoint")
		}
		jobsCompletedCounter.WithLabelValues(qj.name, string(result.status)).Inc()
	}

	next, hasNext := s.dequeueLocked(qj.name)
	s.mu.Unlock()

	if result.status.Terminal() {
		s.outputs.publish(Outcome{JobID: qj.id, Report: report, Err: result.err})
	}

	if hasNext {
		job, err := s.factories[next.name](next.input)
		if err != nil {
			s.log.Error().Err(err).Str("name", next.name).Msg("failed to construct queued job")
			return
		}
		s.mu.Lock()
		s.launchLocked(context.Background(), next, job, next.resume)
		s.mu.Unlock()
	}
}

func (s *System) dequeueLocked(name string) (queuedJob, bool) {
	q := s.queue[name]
	if len(q) == 0 {
		return queuedJob{}, false
	}
	next := q[0]
	s.queue[name] = q[1:]
	jobsQueuedGauge.WithLabelValues(name).Set(float64(len(s.queue[name])))
	return next, true
}

func (s *System) sendCommand(id JobID, kind Command) error {
	s.mu.Lock()
	r, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	ack := make(chan error, 1)
	r.w.cmdCh <- command{kind: kind, ack: ack}
	return <-ack
}

// Pause signals the running worker for id to stop at its next suspension
// point. It returns once the command is observed, not once the job has
// actually paused.
func (s *System) Pause(id JobID) error { return s.sendCommand(id, CommandPause) }

// Cancel signals the running worker for id to abort at its next suspension
// point.
func (s *System) Cancel(id JobID) error { return s.sendCommand(id, CommandCancel) }

// Resume relaunches a Paused job from its last checkpoint, subject to the
// same per-name concurrency limit as a fresh Dispatch (it may simply
// re-enter the FIFO queue).
func (s *System) Resume(id JobID) error {
	s.mu.Lock()
	entry, ok := s.paused[id]
	if !ok {
		if _, running := s.running[id]; running {
			s.mu.Unlock()
			return nil // already running; resume of a non-paused job is a no-op
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.paused, id)
	factory := s.factories[entry.Name]
	s.mu.Unlock()

	if factory == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJobName, entry.Name)
	}
	job, err := factory(entry.Input)
	if err != nil {
		return fmt.Errorf("jobs: reconstruct %s for resume: %w", entry.Name, err)
	}

	hash := ingestHash(entry.Name, entry.Input)
	checkpoint := entry.Checkpoint
	qj := queuedJob{id: entry.JobID, ownerID: entry.OwnerID, name: entry.Name, input: entry.Input, hash: hash}

	s.mu.Lock()
	s.hashesInFlight[hash] = entry.JobID
	s.enqueueOrLaunchLocked(context.Background(), qj, job, &checkpoint)
	s.mu.Unlock()
	return nil
}

// ActiveReports returns every currently running or paused job's report.
func (s *System) ActiveReports() map[JobID]models.JobReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[JobID]models.JobReport, len(s.running)+len(s.paused))
	for id, r := range s.running {
		out[id] = r.w.snapshot()
	}
	for id, e := range s.paused {
		out[id] = e.Report
	}
	return out
}

// CheckRunningJobs reports whether any of the given job names currently has
// a running or queued instance.
func (s *System) CheckRunningJobs(names []string) bool {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.running {
		if _, ok := wanted[r.name]; ok {
			return true
		}
	}
	for name, q := range s.queue {
		if _, ok := wanted[name]; ok && len(q) > 0 {
			return true
		}
	}
	return false
}

// Init performs cold-resume (§4.H): reads pending_jobs.bin plus every
// checkpoint still in the checkpoint store that the file does not list
// (work interrupted by a crash rather than a Shutdown), looks up each
// entry's owner in ownerExists, and dispatches the ones that still have a
// home. Entries whose owner no longer exists are dropped with a warning.
// The file is removed only after every resumable entry has been
// successfully redispatched.
func (s *System) Init(ctx context.Context, ownerExists func(uuid.UUID) bool) error {
	byOwner, err := readPendingJobs(s.dataDir)
	if err != nil {
		return err
	}
	stored, err := s.checkpoints.all()
	if err != nil {
		return err
	}
	if byOwner == nil {
		byOwner = make(map[uuid.UUID][]StoredJobEntry)
	}
	for _, e := range stored {
		if !slices.ContainsFunc(byOwner[e.OwnerID], func(p StoredJobEntry) bool { return p.JobID == e.JobID }) {
			byOwner[e.OwnerID] = append(byOwner[e.OwnerID], e)
		}
	}
	if len(byOwner) == 0 {
		return nil
	}

	for owner, entries := range byOwner {
		if !ownerExists(owner) {
			s.log.Warn().Str("owner_id", owner.String()).Int("count", len(entries)).
				Msg("dropping stored jobs for a library that no longer exists")
			continue
		}
		for _, entry := range entries {
			s.mu.Lock()
			factory, ok := s.factories[entry.Name]
			s.mu.Unlock()
			if !ok {
				s.log.Warn().Str("name", entry.Name).Msg("no factory registered for stored job; dropping")
				continue
			}
			job, err := factory(entry.Input)
			if err != nil {
				s.log.Error().Err(err).Str("name", entry.Name).Msg("failed to reconstruct stored job")
				continue
			}
			hash := ingestHash(entry.Name, entry.Input)
			checkpoint := entry.Checkpoint
			qj := queuedJob{id: entry.JobID, ownerID: entry.OwnerID, name: entry.Name, input: entry.Input, hash: hash}

			s.mu.Lock()
			s.hashesInFlight[hash] = entry.JobID
			s.enqueueOrLaunchLocked(ctx, qj, job, &checkpoint)
			s.mu.Unlock()
		}
	}

	return removePendingJobs(s.dataDir)
}

// Shutdown pauses every running worker, waits for each to reach a
// checkpoint, then serializes the complete set of paused/queued work to
// pending_jobs.bin and closes the checkpoint store.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	ids := make([]JobID, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Pause(id); err != nil {
			s.log.Warn().Err(err).Str("job_id", id.String()).Msg("failed to signal pause during shutdown")
		}
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		s.mu.Lock()
		remaining := len(s.running)
		s.mu.Unlock()
		if remaining == 0 || time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	s.mu.Lock()
	byOwner := make(map[uuid.UUID][]StoredJobEntry)
	for _, e := range s.paused {
		byOwner[e.OwnerID] = append(byOwner[e.OwnerID], e)
	}
	for name, q := range s.queue {
		for _, qj := range q {
			entry := StoredJobEntry{JobID: qj.id, OwnerID: qj.ownerID, Name: name, Input: qj.input}
			if qj.resume != nil {
				entry.Checkpoint = *qj.resume
			}
			byOwner[qj.ownerID] = append(byOwner[qj.ownerID], entry)
		}
	}
	s.mu.Unlock()

	if err := writePendingJobs(s.dataDir, byOwner); err != nil {
		return err
	}
	return s.checkpoints.close()
}
