// SPDX-License-Identifier: AGPL-3.0-or-later
package indexer

import (
	"context"
	"fmt"

	"github.com/spacedriveapp/spacedrive-core/internal/cas"
	"github.com/spacedriveapp/spacedrive-core/internal/logging"
)

// Checkpoint is called after every suspension point (directory read
// boundary within Discovery is handled internally; between batches,
// between phases) so the caller — the job system — can persist state and
// observe a pause/cancel request. Returning an error aborts the run; the
// caller is expected to treat ctx cancellation as a pause rather than a
// failure.
type Checkpoint func(ctx context.Context, state *State) error

// Indexer runs the state machine of spec.md §4.G against one location.
// It holds no per-run state itself; everything resumable lives in State.
type Indexer struct {
	fs     FileSystem
	store  Store
	opener FileOpener
	keyer  cas.Keyer

	dbMtime dirMtimeLookup
}

// New creates an Indexer. dbMtime resolves a directory's DB-recorded
// modification time for subtree pruning during Discovery.
func New(fs FileSystem, store Store, opener FileOpener, dbMtime dirMtimeLookup) *Indexer {
	return &Indexer{fs: fs, store: store, opener: opener, keyer: cas.NewKeyer(), dbMtime: dbMtime}
}

// Run advances state through every remaining phase, invoking checkpoint
// after each one (and, within Processing, after every batch). It returns
// when state.Phase reaches PhaseComplete, when ctx is canceled (a pause
// request), or on a critical error.
//
// Ephemeral-mode runs never reach here: spec.md §4.G says Ephemeral "runs
// entirely against the cache and never touches the DB", so the caller
// routes those through internal/ephemeral directly instead of through an
// Indexer.
func (ix *Indexer) Run(ctx context.Context, state *State, checkpoint Checkpoint) error {
	log := logging.WithComponent("indexer")

	for state.Phase != PhaseComplete {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		log.Debug().Str("phase", string(state.Phase)).Msg("entering indexer phase")

		var err error
		switch state.Phase {
		case PhaseDiscovery:
			err = runDiscovery(ctx, state, ix.fs, ix.dbMtime)
		case PhaseProcessing:
			err = ix.runProcessingWithCheckpoints(ctx, state, checkpoint)
		case PhaseAggregation:
			err = runAggregation(ctx, state, ix.store)
		case PhaseContentIdentification:
			err = runContentIdentification(ctx, state, ix.store, ix.opener, ix.keyer)
		default:
			return fmt.Errorf("indexer: unknown phase %q", state.Phase)
		}

		if err != nil {
			return err
		}

		if err := checkpoint(ctx, state); err != nil {
			return fmt.Errorf("indexer: checkpoint after %s: %w", state.Phase, err)
		}
	}

	return nil
}

// runProcessingWithCheckpoints drains state.EntryBatches one batch at a
// time via runProcessing's batch loop, but calls back into checkpoint
// after every batch rather than only at the phase boundary, matching
// spec.md §4.G's "commit per-batch; checkpoint job state after each".
func (ix *Indexer) runProcessingWithCheckpoints(ctx context.Context, state *State, checkpoint Checkpoint) error {
	for len(state.EntryBatches) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := processOneBatch(ctx, state, ix.store); err != nil {
			return err
		}
		if err := checkpoint(ctx, state); err != nil {
			return fmt.Errorf("indexer: checkpoint mid-processing: %w", err)
		}
	}

	if err := ix.store.TombstoneMissing(ctx, state.LocationID, state.SeenPaths); err != nil {
		return fmt.Errorf("indexer: tombstone missing: %w", err)
	}

	state.Phase = PhaseAggregation
	return nil
}
