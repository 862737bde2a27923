// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watcher normalizes raw OS filesystem notifications into the
// debounced, rename-aware event stream consumed by the indexer and the
// ephemeral cache, per spec.md §4.F.
package watcher

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/spacedriveapp/spacedrive-core/internal/logging"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// EventKind is a platform-normalized filesystem event kind.
type EventKind string

const (
	EventCreate   EventKind = "create"
	EventModify   EventKind = "modify"
	EventRename   EventKind = "rename"
	EventRemove   EventKind = "remove"
	EventMetadata EventKind = "metadata"
)

// Event is the normalized unit handed to EphemeralHandler and
// PersistentHandler.
type Event struct {
	Kind EventKind
	Path string
	Time time.Time
}

// EphemeralHandler updates the in-memory cache (internal/ephemeral) in
// response to watcher events against a shallow, non-persisted view.
type EphemeralHandler interface {
	HandleEphemeral(Event)
}

// PersistentHandler mutates the database and emits a sync op in response
// to watcher events against a managed location.
type PersistentHandler interface {
	HandlePersistent(Event)
}

// Default tuning constants from spec.md §4.F.
const (
	// RenameCorrelationWindow is how long a remove is held open waiting
	// for a matching create with the same inode before being emitted as a
	// plain remove.
	RenameCorrelationWindow = 100 * time.Millisecond

	// ReincidentModifyThreshold is the bucket age a continuously-modified
	// file must reach before its coalesced update is emitted, to avoid
	// forwarding every write of a busy-loop writer.
	ReincidentModifyThreshold = 10 * time.Second

	// MinTickInterval is the lower bound on how often the bucket flush
	// tick may run.
	MinTickInterval = 100 * time.Millisecond
)

// statFn abstracts os.Stat (and, on platforms that support it, inode
// extraction) so tests can fake filesystem races without touching disk.
type statFn func(path string) (inode uint64, ok bool)

// bucket holds one path's pending, not-yet-emitted event while it's being
// debounced.
type bucket struct {
	kind          EventKind
	firstSeen     time.Time
	lastSeen      time.Time
	modifyStreak  int
	pendingInode  uint64
}

// pendingRemoval is a remove event held open during the rename
// correlation window, waiting for a create with a matching inode.
type pendingRemoval struct {
	path  string
	inode uint64
	seen  time.Time
}

// Location is the subset of location metadata the watcher needs to know
// what persistence mode to dispatch events under.
type Location struct {
	ID       string
	RootPath string
}

// Watcher owns one fsnotify.Watcher and the debounce/rename-correlation
// state for every path it watches, whether recursively-persistent
// (WatchLocation) or shallow-ephemeral (WatchEphemeral).
type Watcher struct {
	fs *fsnotify.Watcher

	mu        sync.Mutex
	buckets   map[string]*bucket
	pendingRm map[uint64]pendingRemoval // inode -> held removal

	ephemeralPaths  map[string]struct{} // roots registered via WatchEphemeral
	persistentLocs  map[string]Location // roots registered via WatchLocation

	stat statFn

	ephemeral  EphemeralHandler
	persistent PersistentHandler

	breaker *gobreaker.CircuitBreaker[any]
	// recalcLimiter bounds how often a parent-directory size recalculation
	// is requested, so a flood of small writes in one directory collapses
	// into a handful of recalculation requests rather than one per file.
	recalcLimiter *rate.Limiter

	tickInterval time.Duration
	done         chan struct{}
	wg           sync.WaitGroup
}

// New creates a Watcher. tickInterval is clamped up to MinTickInterval.
func New(ephemeral EphemeralHandler, persistent PersistentHandler, tickInterval time.Duration) (*Watcher, error) {
	if tickInterval < MinTickInterval {
		tickInterval = MinTickInterval
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "watcher-stat",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	w := &Watcher{
		fs:             fsw,
		buckets:        make(map[string]*bucket),
		pendingRm:      make(map[uint64]pendingRemoval),
		ephemeralPaths: make(map[string]struct{}),
		persistentLocs: make(map[string]Location),
		stat:           defaultStat,
		ephemeral:      ephemeral,
		persistent:     persistent,
		breaker:        breaker,
		recalcLimiter:  rate.NewLimiter(rate.Every(tickInterval), 4),
		tickInterval:   tickInterval,
		done:           make(chan struct{}),
	}

	w.wg.Add(2)
	go w.runEventLoop()
	go w.runTick()

	return w, nil
}

// WatchLocation registers a persistent watch over a managed location's root
// and every directory beneath it that exists at the time of the call.
// Directories created later are not added.
func (w *Watcher) WatchLocation(loc Location) error {
	w.mu.Lock()
	w.persistentLocs[loc.RootPath] = loc
	w.mu.Unlock()
	return w.addRecursive(loc.RootPath)
}

// WatchEphemeral registers a shallow watch bound to the ephemeral cache.
func (w *Watcher) WatchEphemeral(path string) error {
	w.mu.Lock()
	w.ephemeralPaths[path] = struct{}{}
	w.mu.Unlock()
	return w.fs.Add(path)
}

func (w *Watcher) addRecursive(root string) error {
	// fsnotify watches a single directory per Add, so the tree is walked
	// and each directory under root is added on its own.
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fs.Add(path)
	})
}

// Close stops the event loop and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	w.wg.Wait()
	return w.fs.Close()
}

func (w *Watcher) runEventLoop() {
	defer w.wg.Done()
	log := logging.WithComponent("watcher")

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.ingest(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("fsnotify reported an error")
		}
	}
}

// ingest classifies one raw fsnotify event into the debounce/rename
// machinery. It never emits directly; emission happens from the tick.
func (w *Watcher) ingest(ev fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		inode, _ := w.stat(ev.Name)
		w.pendingRm[inode] = pendingRemoval{path: ev.Name, inode: inode, seen: now}
		delete(w.buckets, ev.Name)

	case ev.Has(fsnotify.Create):
		inode, ok := w.stat(ev.Name)
		if ok {
			if held, found := w.pendingRm[inode]; found && now.Sub(held.seen) <= RenameCorrelationWindow {
				delete(w.pendingRm, inode)
				w.buckets[ev.Name] = &bucket{kind: EventRename, firstSeen: now, lastSeen: now}
				return
			}
		}
		w.buckets[ev.Name] = &bucket{kind: EventCreate, firstSeen: now, lastSeen: now}

	case ev.Has(fsnotify.Write):
		b, exists := w.buckets[ev.Name]
		if !exists {
			w.buckets[ev.Name] = &bucket{kind: EventModify, firstSeen: now, lastSeen: now, modifyStreak: 1}
			return
		}
		// A create followed by rapid modifies coalesces into a single
		// create; a bucket that is already modify-only just accumulates.
		b.lastSeen = now
		if b.kind == EventModify {
			b.modifyStreak++
		}

	case ev.Has(fsnotify.Chmod):
		if _, exists := w.buckets[ev.Name]; !exists {
			w.buckets[ev.Name] = &bucket{kind: EventMetadata, firstSeen: now, lastSeen: now}
		}
	}
}

func (w *Watcher) runTick() {
	defer w.wg.Done()
	t := time.NewTicker(w.tickInterval)
	defer t.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.flush()
		}
	}
}

// flush emits any bucket and held removal whose age has exceeded its
// threshold, then requests parent-directory size recalculation for every
// path touched. The reincident-modify dampener holds a continuously
// written file's bucket open until ReincidentModifyThreshold elapses
// since it was first seen, rather than since it was last touched, so a
// file being written to for minutes straight still eventually reports.
func (w *Watcher) flush() {
	w.mu.Lock()

	now := time.Now()
	var toEmit []Event
	var touchedParents []string

	for path, b := range w.buckets {
		threshold := MinTickInterval
		if b.kind == EventModify && b.modifyStreak > 1 {
			threshold = ReincidentModifyThreshold
		}
		if now.Sub(b.firstSeen) < threshold {
			continue
		}

		toEmit = append(toEmit, Event{Kind: b.kind, Path: path, Time: now})
		touchedParents = append(touchedParents, parentOf(path))
		delete(w.buckets, path)
	}

	for inode, held := range w.pendingRm {
		if now.Sub(held.seen) > RenameCorrelationWindow {
			toEmit = append(toEmit, Event{Kind: EventRemove, Path: held.path, Time: now})
			touchedParents = append(touchedParents, parentOf(held.path))
			delete(w.pendingRm, inode)
		}
	}

	w.mu.Unlock()

	for _, ev := range toEmit {
		w.dispatch(ev)
	}
	for _, parent := range touchedParents {
		w.requestRecalc(parent)
	}
}

// dispatch routes a normalized event to the ephemeral handler (if the
// event falls under a shallow root) or the persistent handler (if it
// falls under a managed location), mirroring spec.md §4.F's "two
// handlers" dispatch.
func (w *Watcher) dispatch(ev Event) {
	w.mu.Lock()
	_, isEphemeral := w.ephemeralPaths[parentRootOf(ev.Path, w.ephemeralPaths)]
	_, isPersistent := w.persistentLocs[parentRootOf(ev.Path, rootSet(w.persistentLocs))]
	w.mu.Unlock()

	if isEphemeral && w.ephemeral != nil {
		w.ephemeral.HandleEphemeral(ev)
	}
	if isPersistent && w.persistent != nil {
		w.persistent.HandlePersistent(ev)
	}
}

// requestRecalc asks for a parent directory's aggregate size to be
// recomputed, rate-limited so a burst of sibling events collapses into a
// handful of recalculation requests.
func (w *Watcher) requestRecalc(dir string) {
	if !w.recalcLimiter.Allow() {
		return
	}
	_, _ = w.breaker.Execute(func() (any, error) {
		if _, ok := w.stat(dir); !ok {
			return nil, models.ErrTransient
		}
		if w.persistent != nil {
			w.persistent.HandlePersistent(Event{Kind: EventMetadata, Path: dir, Time: time.Now()})
		}
		return nil, nil
	})
}

func parentOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return path
}

// parentRootOf finds which registered root (if any) is a prefix of path.
func parentRootOf(path string, roots map[string]struct{}) string {
	best := ""
	for root := range roots {
		if len(root) > len(best) && hasPrefixPath(path, root) {
			best = root
		}
	}
	return best
}

func rootSet(locs map[string]Location) map[string]struct{} {
	s := make(map[string]struct{}, len(locs))
	for root := range locs {
		s[root] = struct{}{}
	}
	return s
}

func hasPrefixPath(path, root string) bool {
	if len(path) < len(root) {
		return false
	}
	return path[:len(root)] == root
}
