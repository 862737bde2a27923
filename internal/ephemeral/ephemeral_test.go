// SPDX-License-Identifier: AGPL-3.0-or-later
package ephemeral

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

func TestUpsertAssignsStableUUIDOnRepeat(t *testing.T) {
	c := NewCache(uuid.New(), 0)
	root := c.OpenRoot("/mnt/photos")

	id1 := c.Upsert(root, "/mnt/photos/a.jpg", "a.jpg", models.EntryKindFile, 100, time.Now())
	id2 := c.Upsert(root, "/mnt/photos/a.jpg", "a.jpg", models.EntryKindFile, 200, time.Now())

	require.Equal(t, id1, id2, "re-upserting the same path must reuse its UUID")
}

func TestInternerDeduplicatesNames(t *testing.T) {
	c := NewCache(uuid.New(), 0)
	root := c.OpenRoot("/mnt/photos")

	c.Upsert(root, "/mnt/photos/dir1/a.jpg", "a.jpg", models.EntryKindFile, 1, time.Now())
	c.Upsert(root, "/mnt/photos/dir2/a.jpg", "a.jpg", models.EntryKindFile, 1, time.Now())

	stats := c.Stats(root)
	require.Equal(t, 2, stats.TotalEntries)
	require.Equal(t, 1, stats.InternedStrings, "both entries share the same interned name")
}

func TestLookupAndPromoteReturnSameUUID(t *testing.T) {
	c := NewCache(uuid.New(), 0)
	root := c.OpenRoot("/mnt/photos")

	want := c.Upsert(root, "/mnt/photos/a.jpg", "a.jpg", models.EntryKindFile, 1, time.Now())

	got, ok := c.Lookup(root, "/mnt/photos/a.jpg")
	require.True(t, ok)
	require.Equal(t, want, got)

	promoted, ok := c.Promote(root, "/mnt/photos/a.jpg")
	require.True(t, ok)
	require.Equal(t, want, promoted)

	_, ok = c.Lookup(root, "/mnt/photos/missing.jpg")
	require.False(t, ok)
}

func TestMultipleRootsShareArenaAndInterner(t *testing.T) {
	libID := uuid.New()
	c := NewCache(libID, 0)

	rootA := c.OpenRoot("/mnt/a")
	rootB := c.OpenRoot("/mnt/b")

	c.Upsert(rootA, "/mnt/a/shared.txt", "shared.txt", models.EntryKindFile, 1, time.Now())
	c.Upsert(rootB, "/mnt/b/shared.txt", "shared.txt", models.EntryKindFile, 1, time.Now())

	require.Len(t, c.arena, 2)
	require.Equal(t, 1, len(c.interner.byIndex))
}

func TestOpenRootIsIdempotent(t *testing.T) {
	c := NewCache(uuid.New(), 0)
	r1 := c.OpenRoot("/mnt/a")
	r2 := c.OpenRoot("/mnt/a")
	require.Same(t, r1, r2)
}

func TestPruneIdleClosesStaleRoots(t *testing.T) {
	c := NewCache(uuid.New(), 10*time.Millisecond)
	c.OpenRoot("/mnt/a")

	time.Sleep(20 * time.Millisecond)
	n := c.PruneIdle()

	require.Equal(t, 1, n)
	_, ok := c.roots["/mnt/a"]
	require.False(t, ok)
}

func TestPruneIdleDisabledWhenTimeoutZero(t *testing.T) {
	c := NewCache(uuid.New(), 0)
	c.OpenRoot("/mnt/a")
	time.Sleep(5 * time.Millisecond)

	require.Equal(t, 0, c.PruneIdle())
}

func TestStatsReportsAgeAndIdleTime(t *testing.T) {
	c := NewCache(uuid.New(), 0)
	root := c.OpenRoot("/mnt/a")
	c.Upsert(root, "/mnt/a/f.txt", "f.txt", models.EntryKindFile, 1, time.Now())

	time.Sleep(5 * time.Millisecond)
	stats := c.Stats(root)

	require.GreaterOrEqual(t, stats.Age, 5*time.Millisecond)
	require.GreaterOrEqual(t, stats.IdleTime, 5*time.Millisecond)
	require.Greater(t, stats.MemoryFootprint, int64(0))
}

func TestChildParentLinkage(t *testing.T) {
	c := NewCache(uuid.New(), 0)
	root := c.OpenRoot("/mnt/a")

	c.Upsert(root, "/mnt/a", "a", models.EntryKindDirectory, 0, time.Now())
	c.Upsert(root, "/mnt/a/child.txt", "child.txt", models.EntryKindFile, 1, time.Now())

	parentIdx := root.pathIndex["/mnt/a"]
	childIdx := root.pathIndex["/mnt/a/child.txt"]

	require.Contains(t, c.arena[parentIdx].Children, childIdx)
	require.Equal(t, parentIdx, c.arena[childIdx].ParentIx)
}
