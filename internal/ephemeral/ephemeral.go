// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ephemeral implements the process-wide, per-library in-memory
// index used when the UI browses a path that is not (or not yet) a
// managed location, per spec.md §4.E. Entries discovered by a shallow scan
// live in a shared arena keyed by a string interner and a path index; the
// structure is never persisted and is pruned by idle timeout.
package ephemeral

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// nodeIdx indexes EntryNode within one Arena, starting at 0. noIdx (-1)
// means "absent" (no parent) without a separate bool.
type nodeIdx int

const noIdx nodeIdx = -1

// EntryNode is one arena slot: a discovered filesystem entry plus the
// index-based tree links spec.md §4.E requires.
type EntryNode struct {
	UUID     uuid.UUID
	Name     int // index into the shared string interner
	Kind     models.EntryKind
	Size     int64
	Mtime    time.Time
	ParentIx nodeIdx
	Children []nodeIdx
}

// interner deduplicates filename strings across every EntryNode in the
// arena: sibling entries that share a name (very common with extensions
// like ".jpg") store it once.
type interner struct {
	byString map[string]int
	byIndex  []string
}

func newInterner() *interner {
	return &interner{byString: make(map[string]int)}
}

func (in *interner) intern(s string) int {
	if idx, ok := in.byString[s]; ok {
		return idx
	}
	idx := len(in.byIndex)
	in.byIndex = append(in.byIndex, s)
	in.byString[s] = idx
	return idx
}

func (in *interner) lookup(idx int) string {
	if idx < 0 || idx >= len(in.byIndex) {
		return ""
	}
	return in.byIndex[idx]
}

// Stats is a point-in-time snapshot of one Root's footprint, reported to
// callers that want to decide whether to prune or promote a view.
type Stats struct {
	TotalEntries   int
	UniqueNames    int
	InternedStrings int
	MemoryFootprint int64 // rough estimate, in bytes
	Age             time.Duration
	IdleTime        time.Duration
}

// Root is one open shallow-scan view rooted at a filesystem path. Multiple
// Roots may be open simultaneously against the same library; each keeps
// its own path index but shares the library's arena and string interner.
type Root struct {
	libraryID uuid.UUID
	path      string

	openedAt    time.Time
	lastTouched time.Time

	pathIndex map[string]nodeIdx // absolute path -> arena index, scoped to this root
}

// Cache is the shared arena for one library: every Root opened against
// that library allocates EntryNodes into this same slice and shares this
// same interner, so promoting a Root's UUIDs into the persistent indexer
// doesn't require copying or re-keying anything.
type Cache struct {
	mu sync.RWMutex

	libraryID uuid.UUID
	interner  *interner
	arena     []EntryNode
	roots     map[string]*Root // path root -> view

	idleTimeout time.Duration
}

// NewCache creates the shared arena for a library. idleTimeout of zero
// disables idle pruning (callers must prune explicitly).
func NewCache(libraryID uuid.UUID, idleTimeout time.Duration) *Cache {
	return &Cache{
		libraryID:   libraryID,
		interner:    newInterner(),
		roots:       make(map[string]*Root),
		idleTimeout: idleTimeout,
	}
}

// OpenRoot begins (or resumes) a shallow view rooted at path. Calling it
// again on an already-open path returns the existing Root and bumps its
// last-touched time rather than creating a duplicate view.
func (c *Cache) OpenRoot(path string) *Root {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.roots[path]; ok {
		r.lastTouched = time.Now()
		return r
	}

	r := &Root{
		libraryID:   c.libraryID,
		path:        path,
		openedAt:    time.Now(),
		lastTouched: time.Now(),
		pathIndex:   make(map[string]nodeIdx),
	}
	c.roots[path] = r
	return r
}

// Upsert records (or updates in place) a discovered entry at absolutePath
// under root, returning its stable UUID. If an entry already exists at
// that path its fields are refreshed and its UUID is reused, which is
// exactly what lets a promotion later adopt the same UUID a user attached
// tags to while browsing.
func (c *Cache) Upsert(root *Root, absolutePath, name string, kind models.EntryKind, size int64, mtime time.Time) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	root.lastTouched = time.Now()

	if idx, ok := root.pathIndex[absolutePath]; ok {
		node := &c.arena[idx]
		node.Size = size
		node.Mtime = mtime
		node.Kind = kind
		return node.UUID
	}

	node := EntryNode{
		UUID:     uuid.New(),
		Name:     c.interner.intern(name),
		Kind:     kind,
		Size:     size,
		Mtime:    mtime,
		ParentIx: c.parentIndex(root, absolutePath),
		Children: nil,
	}
	idx := nodeIdx(len(c.arena))
	c.arena = append(c.arena, node)
	root.pathIndex[absolutePath] = idx

	if node.ParentIx != noIdx {
		c.arena[node.ParentIx].Children = append(c.arena[node.ParentIx].Children, idx)
	}

	return node.UUID
}

// parentIndex resolves the arena index of absolutePath's parent directory
// within root, if it has already been seen. Discovery order for a shallow
// walk is top-down, so the parent is expected to already be indexed; if
// not (out-of-order insertion, or the root itself), the node becomes a
// root of its own subtree within this view.
func (c *Cache) parentIndex(root *Root, absolutePath string) nodeIdx {
	parent := parentPath(absolutePath)
	if parent == "" {
		return noIdx
	}
	if idx, ok := root.pathIndex[parent]; ok {
		return idx
	}
	return noIdx
}

func parentPath(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			if i == 0 {
				return "/"
			}
			return p[:i]
		}
	}
	return ""
}

// Lookup resolves absolutePath to its UUID within root, if present.
func (c *Cache) Lookup(root *Root, absolutePath string) (uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := root.pathIndex[absolutePath]
	if !ok {
		return uuid.Nil, false
	}
	return c.arena[idx].UUID, true
}

// Promote looks up absolutePath for reuse by the persistent indexer and
// returns the UUID that should be carried over, so that any user metadata
// attached while browsing survives the path becoming a managed location.
func (c *Cache) Promote(root *Root, absolutePath string) (uuid.UUID, bool) {
	return c.Lookup(root, absolutePath)
}

// CloseRoot discards one view's path index. The underlying arena slots
// and interned strings are retained, since another still-open Root (or a
// future OpenRoot on an overlapping path) may reference the same names.
func (c *Cache) CloseRoot(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roots, path)
}

// PruneIdle closes every Root whose last touch exceeds the cache's idle
// timeout, returning how many were closed. Intended to be called
// periodically by the ephemeral handler's tick (spec.md §4.F).
func (c *Cache) PruneIdle() int {
	if c.idleTimeout <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	now := time.Now()
	for path, r := range c.roots {
		if now.Sub(r.lastTouched) >= c.idleTimeout {
			delete(c.roots, path)
			n++
		}
	}
	return n
}

// ChildEntry is a resolved (name-interned) view of one EntryNode, returned
// by Children so callers outside this package never need to know about the
// interner or arena indices.
type ChildEntry struct {
	UUID  uuid.UUID
	Name  string
	Kind  models.EntryKind
	Size  int64
	Mtime time.Time
}

// Children returns the immediate children already discovered under
// absolutePath within root, for internal/query's directory-listing fallback
// when a path isn't (yet) an indexed location. The second return is false
// if absolutePath itself hasn't been seen by this root.
func (c *Cache) Children(root *Root, absolutePath string) ([]ChildEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := root.pathIndex[absolutePath]
	if !ok {
		return nil, false
	}

	node := c.arena[idx]
	out := make([]ChildEntry, 0, len(node.Children))
	for _, ci := range node.Children {
		child := c.arena[ci]
		out = append(out, ChildEntry{
			UUID:  child.UUID,
			Name:  c.interner.lookup(child.Name),
			Kind:  child.Kind,
			Size:  child.Size,
			Mtime: child.Mtime,
		})
	}
	return out, true
}

// Stats reports a snapshot for one open Root.
func (c *Cache) Stats(root *Root) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	unique := make(map[int]struct{}, len(root.pathIndex))
	var footprint int64
	for _, idx := range root.pathIndex {
		node := c.arena[idx]
		unique[node.Name] = struct{}{}
		footprint += int64(len(c.interner.lookup(node.Name))) + 64 // rough per-node overhead
	}

	now := time.Now()
	return Stats{
		TotalEntries:    len(root.pathIndex),
		UniqueNames:     len(unique),
		InternedStrings: len(c.interner.byIndex),
		MemoryFootprint: footprint,
		Age:             now.Sub(root.openedAt),
		IdleTime:        now.Sub(root.lastTouched),
	}
}
