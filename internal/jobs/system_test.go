// SPDX-License-Identifier: AGPL-3.0-or-later
package jobs

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// stepJob advances one integer counter per suspension point, checkpointing
// its position so a Pause/Resume or a cold-resume continues from where it
// left off. arrived/proceed let a test rendezvous with the job exactly at a
// suspension boundary.
type stepJob struct {
	totalSteps int
	arrived    chan int
	proceed    chan struct{}
}

func (j *stepJob) Name() string { return "step" }

func (j *stepJob) Run(_ context.Context, h *Handle, resume *Checkpoint) error {
	start := 0
	if resume != nil && len(resume.StateBlob) > 0 {
		n, err := strconv.Atoi(string(resume.StateBlob))
		if err != nil {
			return err
		}
		start = n
	}
	for i := start; i < j.totalSteps; i++ {
		if j.arrived != nil {
			j.arrived <- i
		}
		if j.proceed != nil {
			<-j.proceed
		}
		if err := h.Suspend("step", []byte(strconv.Itoa(i+1)), true); err != nil {
			return err
		}
	}
	return nil
}

func drainProceed(proceed chan struct{}, stop <-chan struct{}) {
	for {
		select {
		case proceed <- struct{}{}:
		case <-stop:
			return
		}
	}
}

func drainArrived(arrived chan int, stop <-chan struct{}) {
	for {
		select {
		case <-arrived:
		case <-stop:
			return
		}
	}
}

func stepFactory(totalSteps int, arrived chan int, proceed chan struct{}) Factory {
	return func([]byte) (Job, error) {
		return &stepJob{totalSteps: totalSteps, arrived: arrived, proceed: proceed}, nil
	}
}

// conditionalStepFactory only rendezvous-blocks jobs dispatched with input
// "a"; any other input runs straight through with no suspension rendezvous,
// so a queued job dequeued later doesn't need a test goroutine driving it.
func conditionalStepFactory(arrived chan int, proceed chan struct{}) Factory {
	return func(input []byte) (Job, error) {
		if string(input) == "a" {
			return &stepJob{totalSteps: 1, arrived: arrived, proceed: proceed}, nil
		}
		return &stepJob{totalSteps: 1}, nil
	}
}

func TestDispatchRejectsDuplicateHash(t *testing.T) {
	sys, err := New(t.TempDir(), 4)
	require.NoError(t, err)

	arrived := make(chan int)
	proceed := make(chan struct{})
	t.Cleanup(func() {
		close(proceed) // unblock the still-running job so Shutdown doesn't wait out its timeout
		_ = sys.Shutdown(context.Background())
	})
	sys.RegisterJobType("step", stepFactory(1, arrived, proceed))

	owner := uuid.New()
	_, err = sys.Dispatch(context.Background(), owner, "step", []byte("x"))
	require.NoError(t, err)
	<-arrived // first job is now blocked mid-run

	_, err = sys.Dispatch(context.Background(), owner, "step", []byte("x"))
	require.Error(t, err)
	require.True(t, errors.Is(err, models.ErrConflict))
}

func TestDispatchQueuesBeyondMaxPerName(t *testing.T) {
	sys, err := New(t.TempDir(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Shutdown(context.Background()) })

	arrivedA := make(chan int)
	proceedA := make(chan struct{})
	sys.RegisterJobType("step", conditionalStepFactory(arrivedA, proceedA))

	owner := uuid.New()
	idA, err := sys.Dispatch(context.Background(), owner, "step", []byte("a"))
	require.NoError(t, err)
	<-arrivedA

	require.True(t, sys.CheckRunningJobs([]string{"step"}))

	idB, err := sys.Dispatch(context.Background(), owner, "step", []byte("b"))
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)

	sys.mu.Lock()
	queued := len(sys.queue["step"])
	sys.mu.Unlock()
	require.Equal(t, 1, queued)

	outcomes, unsubscribe := sys.Subscribe()
	defer unsubscribe()

	close(proceedA) // let job A finish its only step and complete, freeing B's slot

	seen := map[uuid.UUID]models.JobStatus{}
	for len(seen) < 2 {
		select {
		case o := <-outcomes:
			seen[o.JobID] = o.Report.Status
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for both jobs to complete, got %v", seen)
		}
	}
	require.Equal(t, models.JobStatusCompleted, seen[idA])
	require.Equal(t, models.JobStatusCompleted, seen[idB])
}

func TestPauseThenResumeContinuesFromCheckpoint(t *testing.T) {
	sys, err := New(t.TempDir(), 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Shutdown(context.Background()) })

	arrived := make(chan int)
	proceed := make(chan struct{})
	sys.RegisterJobType("step", stepFactory(3, arrived, proceed))

	owner := uuid.New()
	id, err := sys.Dispatch(context.Background(), owner, "step", []byte("x"))
	require.NoError(t, err)

	require.Equal(t, 0, <-arrived)
	require.NoError(t, sys.Pause(id))
	proceed <- struct{}{} // let the job reach Suspend, which now observes the pause

	require.Eventually(t, func() bool {
		return sys.ActiveReports()[id].Status == models.JobStatusPaused
	}, time.Second, time.Millisecond)

	outcomes, unsubscribe := sys.Subscribe()
	defer unsubscribe()

	require.NoError(t, sys.Resume(id))
	require.Equal(t, 1, <-arrived) // resumed from checkpoint "1", not from 0

	stop := make(chan struct{})
	go drainProceed(proceed, stop)
	go drainArrived(arrived, stop)
	defer close(stop)

	select {
	case o := <-outcomes:
		require.Equal(t, id, o.JobID)
		require.Equal(t, models.JobStatusCompleted, o.Report.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion outcome")
	}
}

func TestCancelMarksJobCanceled(t *testing.T) {
	sys, err := New(t.TempDir(), 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Shutdown(context.Background()) })

	arrived := make(chan int)
	proceed := make(chan struct{})
	sys.RegisterJobType("step", stepFactory(5, arrived, proceed))

	owner := uuid.New()
	id, err := sys.Dispatch(context.Background(), owner, "step", []byte("x"))
	require.NoError(t, err)

	<-arrived
	require.NoError(t, sys.Cancel(id))
	proceed <- struct{}{}

	require.Eventually(t, func() bool {
		r, ok := sys.ActiveReports()[id]
		return !ok || r.Status == models.JobStatusCanceled
	}, time.Second, time.Millisecond)
}

func TestShutdownPersistsPendingJobsForColdResume(t *testing.T) {
	dir := t.TempDir()
	sys, err := New(dir, 4)
	require.NoError(t, err)

	arrived := make(chan int)
	proceed := make(chan struct{})
	sys.RegisterJobType("step", stepFactory(3, arrived, proceed))

	owner := uuid.New()
	id, err := sys.Dispatch(context.Background(), owner, "step", []byte("x"))
	require.NoError(t, err)
	<-arrived

	shutdownDone := make(chan struct{})
	go func() {
		_ = sys.Shutdown(context.Background())
		close(shutdownDone)
	}()

	proceed <- struct{}{} // unblock the job so it reaches Suspend and observes the pause
	<-shutdownDone

	sys2, err := New(dir, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys2.Shutdown(context.Background()) })

	arrived2 := make(chan int)
	proceed2 := make(chan struct{})
	sys2.RegisterJobType("step", stepFactory(3, arrived2, proceed2))

	outcomes, unsubscribe := sys2.Subscribe()
	defer unsubscribe()

	require.NoError(t, sys2.Init(context.Background(), func(uuid.UUID) bool { return true }))

	require.Equal(t, 1, <-arrived2) // resumed from the checkpoint written before shutdown

	stop := make(chan struct{})
	go drainProceed(proceed2, stop)
	go drainArrived(arrived2, stop)
	defer close(stop)

	select {
	case o := <-outcomes:
		require.Equal(t, id, o.JobID)
		require.Equal(t, models.JobStatusCompleted, o.Report.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cold-resumed job to complete")
	}
}
