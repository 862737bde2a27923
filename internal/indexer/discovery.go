// SPDX-License-Identifier: AGPL-3.0-or-later
package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/spacedriveapp/spacedrive-core/internal/logging"
)

// DirEntry is the minimal filesystem node description Discovery needs,
// decoupled from os.DirEntry so tests can fake a tree without touching
// disk.
type DirEntry struct {
	Name    string
	Kind    EntryKind
	Size    int64
	Inode   uint64
	ModTime int64 // unix nanoseconds
}

// FileSystem abstracts the directory reads Discovery performs. The
// production implementation wraps os.ReadDir plus a platform Lstat; tests
// substitute an in-memory tree.
type FileSystem interface {
	ReadDir(path string) ([]DirEntry, error)
}

// dirMtimeLookup resolves a directory's DB-recorded mtime (unix
// nanoseconds) so Discovery can decide whether to prune its subtree.
// ok is false if the path has no recorded mtime (never indexed).
type dirMtimeLookup func(path string) (modTimeNanos int64, ok bool)

type dirTask struct {
	path  string
	depth int
}

// discoveryRun holds the mutable, shared-across-workers bookkeeping for
// one call to runDiscovery. Splitting it out of runDiscovery keeps each
// worker's critical section (under mu) small and explicit.
type discoveryRun struct {
	state   *State
	fs      FileSystem
	dbMtime dirMtimeLookup
	log     zerolog.Logger

	mu      sync.Mutex
	queue   chan dirTask
	pending sync.WaitGroup
}

// runDiscovery walks every directory in state.DirsToWalk with bounded
// concurrency (discovery_concurrency workers pulling from a channel of
// pending directory tasks), classifying entries and cutting batches once
// pending_entries reaches batch_size. It mutates state in place.
func runDiscovery(ctx context.Context, state *State, fs FileSystem, dbMtime dirMtimeLookup) error {
	r := &discoveryRun{
		state:   state,
		fs:      fs,
		dbMtime: dbMtime,
		log:     logging.WithComponent("indexer"),
		queue:   make(chan dirTask, state.DiscoveryConcurrency*4+1),
	}

	seed := state.DirsToWalk
	state.DirsToWalk = nil
	r.pending.Add(len(seed))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < state.DiscoveryConcurrency; i++ {
		g.Go(func() error { return r.worker(gctx) })
	}

	for _, root := range seed {
		r.queue <- dirTask{path: root, depth: 0}
	}

	closed := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(r.queue)
		close(closed)
	}()

	if err := g.Wait(); err != nil {
		return fmt.Errorf("indexer: discovery: %w", err)
	}
	<-closed

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(state.PendingEntries) > 0 {
		state.EntryBatches = append(state.EntryBatches, state.PendingEntries)
		state.PendingEntries = nil
	}
	state.Phase = PhaseProcessing
	return nil
}

func (r *discoveryRun) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-r.queue:
			if !ok {
				return nil
			}
			r.visit(t)
			r.pending.Done()
		}
	}
}

// visit reads one directory and records every child as a discovered
// entry. A child directory whose mtime exactly matches the DB-recorded
// mtime has its subtree pruned; any other child directory is enqueued for
// further walking, mode permitting.
func (r *discoveryRun) visit(t dirTask) {
	entries, err := r.fs.ReadDir(t.path)
	if err != nil {
		r.log.Warn().Str("path", t.path).Err(err).Msg("unreadable directory during discovery")
		r.mu.Lock()
		r.state.pushError(fmt.Sprintf("read dir %s: %v", t.path, err))
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.state.Stats.Dirs++
	shallow := r.state.Mode == ModeShallow && t.depth >= 1
	r.mu.Unlock()

	for _, e := range entries {
		childPath := filepath.Join(t.path, e.Name)

		if e.Kind == KindDirectory {
			if modNanos, ok := r.dbMtime(childPath); ok && modNanos == e.ModTime {
				r.mu.Lock()
				r.state.Stats.Pruned++
				r.mu.Unlock()
				r.recordEntry(t, childPath, e)
				continue
			}
			r.recordEntry(t, childPath, e)
			if !shallow {
				r.pending.Add(1)
				r.queue <- dirTask{path: childPath, depth: t.depth + 1}
			}
			continue
		}

		r.recordEntry(t, childPath, e)
	}
}

func (r *discoveryRun) recordEntry(t dirTask, childPath string, e DirEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Kind {
	case KindFile:
		r.state.Stats.Files++
		r.state.Stats.Bytes += e.Size
	case KindSymlink:
		r.state.Stats.Symlinks++
	}

	r.state.PendingEntries = append(r.state.PendingEntries, DiscoveredEntry{
		Path:       childPath,
		ParentPath: t.path,
		Name:       e.Name,
		Kind:       e.Kind,
		Size:       e.Size,
		Inode:      e.Inode,
		ModTime:    time.Unix(0, e.ModTime).UTC(),
		Depth:      t.depth + 1,
	})

	if len(r.state.PendingEntries) >= r.state.BatchSize {
		r.state.EntryBatches = append(r.state.EntryBatches, r.state.PendingEntries)
		r.state.PendingEntries = nil
	}
}
