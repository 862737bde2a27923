// SPDX-License-Identifier: AGPL-3.0-or-later
package watcher

import (
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

type captureHandler struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureHandler) HandleEphemeral(ev Event)  { c.add(ev) }
func (c *captureHandler) HandlePersistent(ev Event) { c.add(ev) }

func (c *captureHandler) add(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureHandler) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func newTestWatcher(t *testing.T, eph, per *captureHandler) *Watcher {
	t.Helper()
	w, err := New(eph, per, MinTickInterval)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestCreateThenRapidModifyCoalesces(t *testing.T) {
	eph, per := &captureHandler{}, &captureHandler{}
	w := newTestWatcher(t, eph, per)
	w.persistentLocs["/root"] = Location{RootPath: "/root"}

	w.ingest(fsnotify.Event{Name: "/root/a.txt", Op: fsnotify.Create})
	w.ingest(fsnotify.Event{Name: "/root/a.txt", Op: fsnotify.Write})
	w.ingest(fsnotify.Event{Name: "/root/a.txt", Op: fsnotify.Write})

	w.mu.Lock()
	b := w.buckets["/root/a.txt"]
	w.mu.Unlock()

	require.NotNil(t, b)
	require.Equal(t, EventCreate, b.kind, "create followed by rapid modifies stays a single create")
}

func TestRenameDetectedByMatchingInode(t *testing.T) {
	eph, per := &captureHandler{}, &captureHandler{}
	w := newTestWatcher(t, eph, per)
	w.persistentLocs["/root"] = Location{RootPath: "/root"}

	w.stat = func(path string) (uint64, bool) {
		if path == "/root/new-name.txt" {
			return 42, true
		}
		return 42, true // same inode as the removed path
	}

	w.ingest(fsnotify.Event{Name: "/root/old-name.txt", Op: fsnotify.Remove})
	w.ingest(fsnotify.Event{Name: "/root/new-name.txt", Op: fsnotify.Create})

	w.mu.Lock()
	b := w.buckets["/root/new-name.txt"]
	_, stillHeld := w.pendingRm[42]
	w.mu.Unlock()

	require.NotNil(t, b)
	require.Equal(t, EventRename, b.kind)
	require.False(t, stillHeld)
}

func TestUnmatchedRemoveEmitsAfterCorrelationWindow(t *testing.T) {
	eph, per := &captureHandler{}, &captureHandler{}
	w := newTestWatcher(t, eph, per)
	w.persistentLocs["/root"] = Location{RootPath: "/root"}
	w.stat = func(path string) (uint64, bool) { return 7, true }

	w.ingest(fsnotify.Event{Name: "/root/gone.txt", Op: fsnotify.Remove})

	w.mu.Lock()
	w.pendingRm[7] = pendingRemoval{path: "/root/gone.txt", inode: 7, seen: time.Now().Add(-2 * RenameCorrelationWindow)}
	w.mu.Unlock()

	w.flush()

	events := per.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, EventRemove, events[0].Kind)
	require.Equal(t, EventMetadata, events[1].Kind)
	require.Equal(t, "/root", events[1].Path)
}

func TestReincidentModifyDampenerHoldsBucketOpen(t *testing.T) {
	eph, per := &captureHandler{}, &captureHandler{}
	w := newTestWatcher(t, eph, per)
	w.persistentLocs["/root"] = Location{RootPath: "/root"}
	w.stat = func(path string) (uint64, bool) { return 0, true }

	w.mu.Lock()
	w.buckets["/root/busy.log"] = &bucket{
		kind:         EventModify,
		firstSeen:    time.Now().Add(-1 * time.Second), // under the 10s dampener threshold
		lastSeen:     time.Now(),
		modifyStreak: 5,
	}
	w.mu.Unlock()

	w.flush()
	require.Empty(t, per.snapshot(), "a continuously modified file must not emit before the dampener threshold")

	w.mu.Lock()
	w.buckets["/root/busy.log"].firstSeen = time.Now().Add(-2 * ReincidentModifyThreshold)
	w.mu.Unlock()

	w.flush()
	events := per.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, EventModify, events[0].Kind)
	require.Equal(t, EventMetadata, events[1].Kind)
	require.Equal(t, "/root", events[1].Path)
}

func TestDispatchRoutesToEphemeralAndPersistentSeparately(t *testing.T) {
	eph, per := &captureHandler{}, &captureHandler{}
	w := newTestWatcher(t, eph, per)

	w.ephemeralPaths["/tmp/browse"] = struct{}{}
	w.persistentLocs["/mnt/library"] = Location{RootPath: "/mnt/library"}

	w.dispatch(Event{Kind: EventCreate, Path: "/tmp/browse/x.txt", Time: time.Now()})
	w.dispatch(Event{Kind: EventCreate, Path: "/mnt/library/y.txt", Time: time.Now()})

	require.Len(t, eph.snapshot(), 1)
	require.Len(t, per.snapshot(), 1)
}

func TestFlushOnlyEmitsAgedBuckets(t *testing.T) {
	eph, per := &captureHandler{}, &captureHandler{}
	w := newTestWatcher(t, eph, per)
	w.persistentLocs["/root"] = Location{RootPath: "/root"}

	w.mu.Lock()
	w.buckets["/root/fresh.txt"] = &bucket{kind: EventCreate, firstSeen: time.Now(), lastSeen: time.Now()}
	w.mu.Unlock()

	w.flush()
	require.Empty(t, per.snapshot(), "a bucket younger than the tick threshold must not flush yet")
}
