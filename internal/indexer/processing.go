// SPDX-License-Identifier: AGPL-3.0-or-later
package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/logging"
)

// ChangeKind classifies one processed entry against what was already
// known (spec.md §4.G "Processing" step 3).
type ChangeKind string

const (
	ChangeNew       ChangeKind = "new"
	ChangeModified  ChangeKind = "modified"
	ChangeMoved     ChangeKind = "moved"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeUnchanged ChangeKind = "unchanged"
)

// ProcessedEntry is one DiscoveredEntry after classification, ready to be
// committed.
type ProcessedEntry struct {
	DiscoveredEntry
	Change   ChangeKind
	EntryID  uuid.UUID
	ParentID uuid.UUID
}

// Store is the persistence boundary Processing, Aggregation and
// ContentIdentification depend on. internal/storage provides the real
// implementation over duckdb; tests supply an in-memory fake.
type Store interface {
	// CommitBatch writes one classified batch transactionally, including
	// identity-map bookkeeping the caller needs (new UUIDs, parent links).
	CommitBatch(ctx context.Context, locationID uuid.UUID, entries []ProcessedEntry) error

	// RecalculateAncestors re-derives per-directory byte totals from
	// baseID up to the location root via the closure table.
	RecalculateAncestors(ctx context.Context, locationID, baseID uuid.UUID) error

	// LookupContentIdentity returns the identity UUID for a CAS key, if
	// one is already registered.
	LookupContentIdentity(ctx context.Context, casKey string) (uuid.UUID, bool, error)

	// RegisterContentIdentity inserts a new identity row for a CAS key
	// and returns its UUID.
	RegisterContentIdentity(ctx context.Context, casKey string, kind string) (uuid.UUID, error)

	// LinkContent associates an entry with a content identity and applies
	// the entry_count/total_size delta within one transaction.
	LinkContent(ctx context.Context, entryID, contentID uuid.UUID, sizeDelta int64, countDelta int64) error

	// TombstoneMissing marks every existing entry under locationID whose
	// path is not in seenPaths as tombstoned, and corrects ancestor
	// totals.
	TombstoneMissing(ctx context.Context, locationID uuid.UUID, seenPaths map[string]struct{}) error
}

// runProcessing drains state.EntryBatches, calling processOneBatch per
// batch with no external checkpoint between them. Indexer.Run does not
// use it: it calls processOneBatch itself so it can checkpoint between
// batches per spec.md §4.G.
func runProcessing(ctx context.Context, state *State, store Store) error {
	for len(state.EntryBatches) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := processOneBatch(ctx, state, store); err != nil {
			return err
		}
	}

	if err := store.TombstoneMissing(ctx, state.LocationID, state.SeenPaths); err != nil {
		return fmt.Errorf("indexer: tombstone missing: %w", err)
	}

	state.Phase = PhaseAggregation
	return nil
}

// processOneBatch classifies and commits the single oldest pending batch,
// mutating state in place (popping the batch, extending
// EntriesForContent, updating EntryIDCache).
func processOneBatch(ctx context.Context, state *State, store Store) error {
	log := logging.WithComponent("indexer")

	batch := state.EntryBatches[0]
	sortBatch(batch)

	processed := make([]ProcessedEntry, 0, len(batch))
	for _, de := range batch {
		state.SeenPaths[de.Path] = struct{}{}

		pe, err := classify(state, de)
		if err != nil {
			state.pushError(fmt.Sprintf("classify %s: %v", de.Path, err))
			state.Stats.Skipped++
			continue
		}
		processed = append(processed, pe)

		// Populated immediately, not just after the whole batch commits:
		// a directory and its children commonly land in the same batch,
		// and the child's classify() needs the parent's freshly assigned
		// EntryID to resolve parent_id.
		state.EntryIDCache[pe.Path] = pe.EntryID

		if state.Mode == ModeContent && pe.Kind == KindFile && pe.Change != ChangeUnchanged {
			state.EntriesForContent = append(state.EntriesForContent, ContentCandidate{
				EntryID: pe.EntryID,
				Path:    pe.Path,
				Size:    pe.Size,
			})
		}
	}

	if err := store.CommitBatch(ctx, state.LocationID, processed); err != nil {
		return fmt.Errorf("indexer: commit batch: %w", err)
	}

	state.EntryBatches = state.EntryBatches[1:]
	log.Debug().Int("remaining_batches", len(state.EntryBatches)).Msg("committed processing batch")
	return nil
}

// sortBatch orders entries by (depth asc, kind: directory < symlink <
// file), guaranteeing parents are processed (and therefore exist in
// EntryIDCache) before their children.
func sortBatch(batch []DiscoveredEntry) {
	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Depth != batch[j].Depth {
			return batch[i].Depth < batch[j].Depth
		}
		return batch[i].Kind.sortRank() < batch[j].Kind.sortRank()
	})
}

// classify determines whether a discovered entry is New, Modified or
// Moved relative to state.ExistingEntries (Deleted is determined later,
// by set-difference against SeenPaths in TombstoneMissing).
func classify(state *State, de DiscoveredEntry) (ProcessedEntry, error) {
	parentID, ok := resolveParentID(state, de)
	if !ok {
		return ProcessedEntry{}, fmt.Errorf("parent not yet indexed for %s", de.Path)
	}

	if existing, ok := state.ExistingEntries[de.Path]; ok {
		if existing.Inode == de.Inode && existing.Size == de.Size && existing.ModTime.Equal(de.ModTime) {
			// Unchanged; still counts as seen so it isn't tombstoned, but
			// nothing to write.
			return ProcessedEntry{DiscoveredEntry: de, Change: ChangeUnchanged, EntryID: existing.ID, ParentID: parentID}, nil
		}
		return ProcessedEntry{DiscoveredEntry: de, Change: ChangeModified, EntryID: existing.ID, ParentID: parentID}, nil
	}

	if movedFrom, ok := findByInode(state, de.Inode); ok {
		return ProcessedEntry{DiscoveredEntry: de, Change: ChangeMoved, EntryID: movedFrom, ParentID: parentID}, nil
	}

	id := uuid.New()
	if cached, ok := state.EphemeralUUIDs[de.Path]; ok {
		id = cached
	}
	return ProcessedEntry{DiscoveredEntry: de, Change: ChangeNew, EntryID: id, ParentID: parentID}, nil
}

func resolveParentID(state *State, de DiscoveredEntry) (uuid.UUID, bool) {
	if de.Depth == 1 {
		return state.LocationID, true // root entry's parent is the location root itself
	}
	if id, ok := state.EntryIDCache[de.ParentPath]; ok {
		return id, true
	}
	if existing, ok := state.ExistingEntries[de.ParentPath]; ok {
		return existing.ID, true
	}
	return uuid.Nil, false
}

// findByInode looks for an existing entry recorded under a different path
// with the same inode, i.e. a move. Linear in the size of
// ExistingEntries; fine at indexer scale since it only runs on
// otherwise-unclassified entries, not every entry.
func findByInode(state *State, inode uint64) (uuid.UUID, bool) {
	if inode == 0 {
		return uuid.Nil, false
	}
	for _, existing := range state.ExistingEntries {
		if existing.Inode == inode {
			return existing.ID, true
		}
	}
	return uuid.Nil, false
}
