// SPDX-License-Identifier: AGPL-3.0-or-later

// Package locations implements the location lifecycle actions
// SPEC_FULL.md's MODULE ADDITIONS section adds: EnableIndexing, Import and
// Remove. Grounded on original_source/core/src/ops/locations/enable_indexing
// and .../import, expressed here as plain Go methods dispatching into
// internal/jobs and internal/indexer rather than that crate's async
// operation objects.
package locations

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/ephemeral"
	"github.com/spacedriveapp/spacedrive-core/internal/indexer"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// IndexerJobName is the job name Service dispatches under; cmd/coreindexd
// registers internal/indexer's Factory against this same name.
const IndexerJobName = indexer.JobName

// Service implements the location lifecycle actions.
type Service struct {
	store      Store
	dispatcher Dispatcher
	stopper    ServiceStopper // nil: Remove skips the stop-services step

	caches map[uuid.UUID]*ephemeral.Cache // libraryID -> cache, for UUID promotion
}

// NewService builds a locations Service. stopper may be nil for callers
// that don't wire internal/coordinator (e.g. tests).
func NewService(store Store, dispatcher Dispatcher, stopper ServiceStopper) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		stopper:    stopper,
		caches:     make(map[uuid.UUID]*ephemeral.Cache),
	}
}

// RegisterCache wires a library's ephemeral cache into Import, so a path
// already browsed before being adopted as a location keeps its UUIDs
// (spec.md invariant 7 / §9 item 9, "UUID preservation").
func (s *Service) RegisterCache(libraryID uuid.UUID, cache *ephemeral.Cache) {
	s.caches[libraryID] = cache
}

func indexModeOf(mode indexer.Mode) models.IndexMode {
	switch mode {
	case indexer.ModeShallow:
		return models.IndexModeShallow
	case indexer.ModeDeep, indexer.ModeContent:
		return models.IndexModeDeep
	default:
		return models.IndexModeNone
	}
}

// EnableIndexing flips a location's index mode and dispatches a fresh
// indexer run for it, per spec.md §4.G's mode set and
// core/src/ops/locations/enable_indexing.
func (s *Service) EnableIndexing(ctx context.Context, locationID uuid.UUID, mode indexer.Mode) (JobID, error) {
	loc, ok, err := s.store.GetLocation(ctx, locationID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("locations: get location %s: %w", locationID, err)
	}
	if !ok {
		return uuid.Nil, fmt.Errorf("locations: location %s not found", locationID)
	}

	if err := s.store.UpdateIndexMode(ctx, locationID, indexModeOf(mode)); err != nil {
		return uuid.Nil, fmt.Errorf("locations: update index mode for %s: %w", locationID, err)
	}

	return s.dispatchIndexRun(ctx, loc, mode)
}

// Import adopts an externally-created directory as a new location: it
// creates the Location row (and root Entry UUID, reused from the
// ephemeral cache if the path was already browsed) and dispatches an
// initial indexer run, per core/src/ops/locations/import.
func (s *Service) Import(ctx context.Context, libraryID, deviceID uuid.UUID, rootPath, name string, mode indexer.Mode) (models.Location, JobID, error) {
	rootEntryID := s.promoteOrNewRootID(libraryID, rootPath)

	loc := models.Location{
		ID:        uuid.New(),
		LibraryID: libraryID,
		DeviceID:  deviceID,
		EntryID:   rootEntryID,
		Name:      name,
		IndexMode: indexModeOf(mode),
		ScanState: models.ScanStatePending,
		RootPath:  rootPath,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateLocation(ctx, loc); err != nil {
		return models.Location{}, uuid.Nil, fmt.Errorf("locations: create location %s: %w", rootPath, err)
	}

	jobID, err := s.dispatchIndexRun(ctx, loc, mode)
	if err != nil {
		return models.Location{}, uuid.Nil, err
	}
	return loc, jobID, nil
}

// promoteOrNewRootID returns the ephemeral cache's UUID for rootPath if the
// path was already browsed under a registered cache, otherwise a fresh one.
func (s *Service) promoteOrNewRootID(libraryID uuid.UUID, rootPath string) uuid.UUID {
	cache, ok := s.caches[libraryID]
	if !ok {
		return uuid.New()
	}
	root := cache.OpenRoot(rootPath)
	if id, ok := cache.Promote(root, rootPath); ok {
		return id
	}
	return uuid.New()
}

// dispatchIndexRun builds an indexer.State seeded with any UUIDs already
// known from the library's ephemeral cache, then dispatches it.
func (s *Service) dispatchIndexRun(ctx context.Context, loc models.Location, mode indexer.Mode) (JobID, error) {
	state := indexer.NewState(loc.ID, loc.RootPath, mode, 0, 0)

	if cache, ok := s.caches[loc.LibraryID]; ok {
		root := cache.OpenRoot(loc.RootPath)
		collectEphemeralUUIDs(cache, root, loc.RootPath, state.EphemeralUUIDs)
	}

	input, err := json.Marshal(state)
	if err != nil {
		return uuid.Nil, fmt.Errorf("locations: encode indexer state for %s: %w", loc.RootPath, err)
	}

	jobID, err := s.dispatcher.Dispatch(ctx, loc.LibraryID, IndexerJobName, input)
	if err != nil {
		return uuid.Nil, fmt.Errorf("locations: dispatch indexer job for %s: %w", loc.RootPath, err)
	}
	return jobID, nil
}

// collectEphemeralUUIDs walks everything the cache has already discovered
// under path, recording each child's UUID keyed by its absolute path so
// the indexer's classify step reuses it instead of minting a new one
// (spec.md invariant 7).
func collectEphemeralUUIDs(cache *ephemeral.Cache, root *ephemeral.Root, path string, out map[string]uuid.UUID) {
	children, ok := cache.Children(root, path)
	if !ok {
		return
	}
	for _, child := range children {
		childPath := path + "/" + child.Name
		out[childPath] = child.UUID
		if child.Kind == models.EntryKindDirectory {
			collectEphemeralUUIDs(cache, root, childPath, out)
		}
	}
}

// Remove stops any running per-location services, tombstones the entire
// subtree, and deletes the location row, per spec.md §4.I "on location
// removal: stop services and delete settings row" generalized to the full
// lifecycle action named in SPEC_FULL.md's MODULE ADDITIONS.
func (s *Service) Remove(ctx context.Context, locationID uuid.UUID) error {
	if s.stopper != nil {
		if err := s.stopper.Remove(ctx, locationID); err != nil {
			return fmt.Errorf("locations: stop services for %s: %w", locationID, err)
		}
	}

	if err := s.store.TombstoneLocationSubtree(ctx, locationID); err != nil {
		return fmt.Errorf("locations: tombstone subtree of %s: %w", locationID, err)
	}

	if err := s.store.DeleteLocation(ctx, locationID); err != nil {
		return fmt.Errorf("locations: delete location %s: %w", locationID, err)
	}
	return nil
}
