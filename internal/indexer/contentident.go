// SPDX-License-Identifier: AGPL-3.0-or-later
package indexer

import (
	"context"
	"fmt"
	"io"

	"github.com/spacedriveapp/spacedrive-core/internal/cas"
	"github.com/spacedriveapp/spacedrive-core/internal/logging"
)

// FileOpener opens a path for CAS hashing. The production implementation
// wraps os.Open; tests substitute an in-memory reader.
type FileOpener interface {
	Open(path string) (io.ReaderAt, func() error, error)
}

// runContentIdentification computes the CAS key for every queued file,
// links it to an existing or newly registered ContentIdentity, and
// advances the identity's entry_count/total_size within the same
// transaction as the link (spec.md §4.G "ContentIdentification").
func runContentIdentification(ctx context.Context, state *State, store Store, opener FileOpener, keyer cas.Keyer) error {
	log := logging.WithComponent("indexer")

	for len(state.EntriesForContent) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		candidate := state.EntriesForContent[0]

		if err := identifyOne(ctx, state, store, opener, keyer, candidate); err != nil {
			state.pushError(fmt.Sprintf("identify %s: %v", candidate.Path, err))
			state.Stats.Skipped++
		}

		state.EntriesForContent = state.EntriesForContent[1:]
		log.Debug().Int("remaining", len(state.EntriesForContent)).Msg("content identification progress")
	}

	state.Phase = PhaseComplete
	return nil
}

func identifyOne(ctx context.Context, state *State, store Store, opener FileOpener, keyer cas.Keyer, candidate ContentCandidate) error {
	r, closeFn, err := opener.Open(candidate.Path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer closeFn()

	key, err := keyer.Key(r, candidate.Size)
	if err != nil {
		return fmt.Errorf("compute cas key: %w", err)
	}

	head := make([]byte, 64)
	n, _ := r.ReadAt(head, 0)
	kind := cas.ResolveKind(candidate.Path, head[:n])

	contentID, found, err := store.LookupContentIdentity(ctx, key)
	if err != nil {
		return fmt.Errorf("lookup identity: %w", err)
	}
	if !found {
		contentID, err = store.RegisterContentIdentity(ctx, key, string(kind))
		if err != nil {
			return fmt.Errorf("register identity: %w", err)
		}
	}

	if err := store.LinkContent(ctx, candidate.EntryID, contentID, candidate.Size, 1); err != nil {
		return fmt.Errorf("link content: %w", err)
	}
	return nil
}
