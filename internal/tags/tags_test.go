// SPDX-License-Identifier: AGPL-3.0-or-later
package tags

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/clock"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/synclog"
)

// fakeStore is an in-memory Store used only by this package's tests.
type fakeStore struct {
	mu          sync.Mutex
	tagsByID    map[uuid.UUID]models.Tag
	entryTags   map[uuid.UUID]map[uuid.UUID]struct{} // entryID -> set of tagID
	contentTags map[uuid.UUID]map[uuid.UUID]struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tagsByID:    make(map[uuid.UUID]models.Tag),
		entryTags:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		contentTags: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (f *fakeStore) CreateTag(_ context.Context, tag models.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagsByID[tag.ID] = tag
	return nil
}

func (f *fakeStore) GetTag(_ context.Context, id uuid.UUID) (models.Tag, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tagsByID[id]
	return t, ok, nil
}

func (f *fakeStore) AttachToEntry(_ context.Context, entryID, tagID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entryTags[entryID] == nil {
		f.entryTags[entryID] = make(map[uuid.UUID]struct{})
	}
	f.entryTags[entryID][tagID] = struct{}{}
	return nil
}

func (f *fakeStore) AttachToContent(_ context.Context, contentID, tagID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contentTags[contentID] == nil {
		f.contentTags[contentID] = make(map[uuid.UUID]struct{})
	}
	f.contentTags[contentID][tagID] = struct{}{}
	return nil
}

func (f *fakeStore) DetachFromEntry(_ context.Context, entryID, tagID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entryTags[entryID], tagID)
	return nil
}

func (f *fakeStore) DetachFromContent(_ context.Context, contentID, tagID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contentTags[contentID], tagID)
	return nil
}

func newTestService(t *testing.T, store Store) (*Service, *synclog.Log) {
	t.Helper()
	log, err := synclog.New(&noopSyncStore{}, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	svc := NewService(store, log, clock.NewGenerator(uuid.New()), uuid.New())
	return svc, log
}

func TestAttachAndDetachEntry(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store)

	libraryID, entryID, tagID := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, svc.AttachToEntry(context.Background(), libraryID, entryID, tagID))

	_, attached := store.entryTags[entryID][tagID]
	require.True(t, attached)

	require.NoError(t, svc.DetachFromEntry(context.Background(), libraryID, entryID, tagID))
	_, attached = store.entryTags[entryID][tagID]
	require.False(t, attached)
}

func TestAttachToContentPropagatesImplicitly(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store)

	libraryID, contentID, tagID := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, svc.AttachToContent(context.Background(), libraryID, contentID, tagID))

	_, attached := store.contentTags[contentID][tagID]
	require.True(t, attached)
	require.Empty(t, store.entryTags)
}

func TestRemoteRelationOpAppliesThroughRegisteredFunc(t *testing.T) {
	store := newFakeStore()
	_, log := newTestService(t, store)

	libraryID, entryID, tagID := uuid.New(), uuid.New(), uuid.New()
	op := synclog.RelationOpOf(synclog.RelationOp{
		ID:        clock.Now(uuid.New()),
		LibraryID: libraryID,
		Relation:  RelationEntryTag,
		AID:       entryID[:],
		BID:       tagID[:],
		Kind:      synclog.RelationCreate,
	})

	applied, err := log.IngestRemote(context.Background(), []synclog.Op{op})
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	_, attached := store.entryTags[entryID][tagID]
	require.True(t, attached)
}

// noopSyncStore satisfies synclog.Store with no-op persistence, since these
// tests only care about RelationApplyFunc dispatch, not log durability.
type noopSyncStore struct{}

func (noopSyncStore) AppendOps(ctx context.Context, ops []synclog.Op, mutate func(context.Context) error) error {
	if mutate != nil {
		return mutate(ctx)
	}
	return nil
}
func (noopSyncStore) LastSharedHLC(context.Context, string, []byte, string) (string, bool, error) {
	return "", false, nil
}
func (noopSyncStore) LastRelationHLC(context.Context, string, []byte, []byte) (string, bool, error) {
	return "", false, nil
}
func (noopSyncStore) OpsSince(context.Context, string, int) ([]synclog.Op, bool, error) {
	return nil, false, nil
}
func (noopSyncStore) AssignSeq(context.Context, string, string, int64) error { return nil }
func (noopSyncStore) HighestSeq(context.Context, string) (int64, error)     { return 0, nil }
