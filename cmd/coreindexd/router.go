// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/ephemeral"
	"github.com/spacedriveapp/spacedrive-core/internal/indexer"
	"github.com/spacedriveapp/spacedrive-core/internal/locations"
	"github.com/spacedriveapp/spacedrive-core/internal/logging"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/watcher"
)

// watchedLocation is what the router needs to re-trigger indexing for a
// managed location in response to a filesystem event under its root.
type watchedLocation struct {
	id   uuid.UUID
	mode indexer.Mode
}

// ephemeralRoot pairs a browsed root's cache with the Root handle Upsert
// needs, so the router can resolve an event path to the right cache.
type ephemeralRoot struct {
	cache *ephemeral.Cache
	root  *ephemeral.Root
}

// watchRouter is the single EphemeralHandler/PersistentHandler registered
// with the one shared watcher.Watcher this process runs (internal/watcher
// starts its goroutines at construction time, so cmd/coreindexd builds
// exactly one Watcher and routes every registered root/location through
// it, rather than one Watcher per location). Persistent events debounce
// into a fresh indexer run per location rather than attempting an
// incremental single-entry write, since internal/indexer's mtime-pruned
// walk is already cheap for the common case of one changed subtree.
type watchRouter struct {
	mu             sync.Mutex
	ephemeralRoots map[string]ephemeralRoot
	locations      map[string]watchedLocation // rootPath -> location
	debounceTimers map[uuid.UUID]*time.Timer

	locationsSvc *locations.Service
	debounce     time.Duration
}

func newWatchRouter(svc *locations.Service, debounce time.Duration) *watchRouter {
	return &watchRouter{
		ephemeralRoots: make(map[string]ephemeralRoot),
		locations:      make(map[string]watchedLocation),
		debounceTimers: make(map[uuid.UUID]*time.Timer),
		locationsSvc:   svc,
		debounce:       debounce,
	}
}

func (r *watchRouter) registerEphemeralRoot(path string, cache *ephemeral.Cache, root *ephemeral.Root) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ephemeralRoots[path] = ephemeralRoot{cache: cache, root: root}
}

func (r *watchRouter) unregisterEphemeralRoot(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ephemeralRoots, path)
}

func (r *watchRouter) registerLocation(loc models.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations[loc.RootPath] = watchedLocation{id: loc.ID, mode: indexModeToRunMode(loc.IndexMode)}
}

func (r *watchRouter) unregisterLocation(rootPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locations, rootPath)
}

func indexModeToRunMode(mode models.IndexMode) indexer.Mode {
	if mode == models.IndexModeDeep {
		return indexer.ModeDeep
	}
	return indexer.ModeShallow
}

// HandleEphemeral implements watcher.EphemeralHandler.
func (r *watchRouter) HandleEphemeral(ev watcher.Event) {
	r.mu.Lock()
	root, ok := longestPrefixEphemeral(r.ephemeralRoots, ev.Path)
	r.mu.Unlock()
	if !ok {
		return
	}

	if ev.Kind == watcher.EventRemove {
		return // ephemeral.Cache has no explicit remove; PruneIdle reclaims stale roots
	}

	info, err := os.Lstat(ev.Path)
	if err != nil {
		return // raced with a subsequent remove; nothing to upsert
	}
	kind := models.EntryKindFile
	switch {
	case info.IsDir():
		kind = models.EntryKindDirectory
	case info.Mode()&os.ModeSymlink != 0:
		kind = models.EntryKindSymlink
	}
	root.cache.Upsert(root.root, ev.Path, filepath.Base(ev.Path), kind, info.Size(), info.ModTime())
}

// HandlePersistent implements watcher.PersistentHandler: it debounces a
// fresh indexer run for whichever managed location owns ev.Path.
func (r *watchRouter) HandlePersistent(ev watcher.Event) {
	r.mu.Lock()
	loc, ok := longestPrefixLocation(r.locations, ev.Path)
	if !ok {
		r.mu.Unlock()
		return
	}
	if t, exists := r.debounceTimers[loc.id]; exists {
		t.Stop()
	}
	r.debounceTimers[loc.id] = time.AfterFunc(r.debounce, func() {
		log := logging.WithComponent("watch-router")
		if _, err := r.locationsSvc.EnableIndexing(context.Background(), loc.id, loc.mode); err != nil {
			log.Warn().Err(err).Str("location_id", loc.id.String()).Msg("failed to re-dispatch indexer run after filesystem event")
		}
	})
	r.mu.Unlock()
}

func longestPrefixEphemeral(roots map[string]ephemeralRoot, path string) (ephemeralRoot, bool) {
	bestPath := ""
	var best ephemeralRoot
	found := false
	for root, er := range roots {
		if isUnderRoot(path, root) && len(root) > len(bestPath) {
			bestPath, best, found = root, er, true
		}
	}
	return best, found
}

func longestPrefixLocation(locs map[string]watchedLocation, path string) (watchedLocation, bool) {
	bestPath := ""
	var best watchedLocation
	found := false
	for root, loc := range locs {
		if isUnderRoot(path, root) && len(root) > len(bestPath) {
			bestPath, best, found = root, loc, true
		}
	}
	return best, found
}

func isUnderRoot(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, "/")+"/")
}
