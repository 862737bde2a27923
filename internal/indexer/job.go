// SPDX-License-Identifier: AGPL-3.0-or-later
package indexer

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/spacedriveapp/spacedrive-core/internal/jobs"
)

// JobName is the job name cmd/coreindexd registers this package's Factory
// under; internal/locations.IndexerJobName must match it.
const JobName = "indexer"

// Job adapts one indexer run to the jobs.Job/jobs.SerializableJob
// contract: input and checkpoints are both the JSON-encoded State,
// suspended after every phase and every processing batch exactly where
// Indexer.Run already calls back into checkpoint.
type Job struct {
	indexer *Indexer
	state   *State
}

// NewFactory builds the jobs.Factory that reconstructs a Job from a fresh
// dispatch's input bytes (a JSON-encoded State from internal/locations).
func NewFactory(ix *Indexer) jobs.Factory {
	return func(input []byte) (jobs.Job, error) {
		var state State
		if err := json.Unmarshal(input, &state); err != nil {
			return nil, fmt.Errorf("indexer: decode job input: %w", err)
		}
		return &Job{indexer: ix, state: &state}, nil
	}
}

// Name implements jobs.Job.
func (j *Job) Name() string { return JobName }

// Run implements jobs.Job, resuming from a checkpoint's state blob when
// present and otherwise running the state this Job was constructed with.
func (j *Job) Run(ctx context.Context, h *jobs.Handle, resume *jobs.Checkpoint) error {
	if resume != nil {
		if err := j.Deserialize(resume.StateBlob); err != nil {
			return fmt.Errorf("indexer: resume: %w", err)
		}
	}

	h.SetTaskCount(int64(len(j.state.DirsToWalk)))

	checkpoint := func(ctx context.Context, state *State) error {
		h.SetTaskCount(state.Stats.Files + state.Stats.Dirs + state.Stats.Symlinks)
		blob, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		return h.Suspend(string(state.Phase), blob, true)
	}

	if err := j.indexer.Run(ctx, j.state, checkpoint); err != nil {
		return err
	}
	return nil
}

// Serialize implements jobs.SerializableJob.
func (j *Job) Serialize() ([]byte, error) { return json.Marshal(j.state) }

// Deserialize implements jobs.SerializableJob.
func (j *Job) Deserialize(blob []byte) error {
	var state State
	if err := json.Unmarshal(blob, &state); err != nil {
		return err
	}
	j.state = &state
	return nil
}
