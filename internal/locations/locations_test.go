// SPDX-License-Identifier: AGPL-3.0-or-later
package locations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/ephemeral"
	"github.com/spacedriveapp/spacedrive-core/internal/indexer"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// fakeStore is an in-memory Store used only by this package's tests.
type fakeStore struct {
	mu  sync.Mutex
	loc map[uuid.UUID]models.Location
}

func newFakeStore() *fakeStore { return &fakeStore{loc: make(map[uuid.UUID]models.Location)} }

func (f *fakeStore) CreateLocation(_ context.Context, loc models.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loc[loc.ID] = loc
	return nil
}

func (f *fakeStore) GetLocation(_ context.Context, id uuid.UUID) (models.Location, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loc[id]
	return l, ok, nil
}

func (f *fakeStore) UpdateIndexMode(_ context.Context, id uuid.UUID, mode models.IndexMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.loc[id]
	l.IndexMode = mode
	f.loc[id] = l
	return nil
}

func (f *fakeStore) UpdateScanState(_ context.Context, id uuid.UUID, state models.ScanState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.loc[id]
	l.ScanState = state
	f.loc[id] = l
	return nil
}

func (f *fakeStore) TombstoneLocationSubtree(_ context.Context, _ uuid.UUID) error { return nil }

func (f *fakeStore) DeleteLocation(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.loc, id)
	return nil
}

// fakeDispatcher records every dispatch without running anything.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []struct {
		owner uuid.UUID
		name  string
		input []byte
	}
}

func (f *fakeDispatcher) Dispatch(_ context.Context, owner uuid.UUID, name string, input []byte) (JobID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		owner uuid.UUID
		name  string
		input []byte
	}{owner, name, input})
	return uuid.New(), nil
}

// fakeStopper records Remove calls.
type fakeStopper struct {
	mu      sync.Mutex
	removed []uuid.UUID
}

func (f *fakeStopper) Remove(_ context.Context, locationID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, locationID)
	return nil
}

func TestEnableIndexingUpdatesModeAndDispatches(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	libraryID := uuid.New()
	locationID := uuid.New()
	store.loc[locationID] = models.Location{ID: locationID, LibraryID: libraryID, RootPath: "/data", IndexMode: models.IndexModeNone}

	svc := NewService(store, dispatcher, nil)
	jobID, err := svc.EnableIndexing(context.Background(), locationID, indexer.ModeDeep)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, jobID)

	updated, ok, err := store.GetLocation(context.Background(), locationID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.IndexModeDeep, updated.IndexMode)
	require.Len(t, dispatcher.calls, 1)
	require.Equal(t, IndexerJobName, dispatcher.calls[0].name)
}

func TestImportReusesEphemeralUUID(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	libraryID := uuid.New()
	deviceID := uuid.New()

	cache := ephemeral.NewCache(libraryID, time.Hour)
	root := cache.OpenRoot("/mnt/usb")
	browsedID := cache.Upsert(root, "/mnt/usb", "usb", models.EntryKindDirectory, 0, time.Now())
	cache.Upsert(root, "/mnt/usb/a.txt", "a.txt", models.EntryKindFile, 10, time.Now())

	svc := NewService(store, dispatcher, nil)
	svc.RegisterCache(libraryID, cache)

	loc, jobID, err := svc.Import(context.Background(), libraryID, deviceID, "/mnt/usb", "usb", indexer.ModeDeep)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, jobID)
	require.Equal(t, browsedID, loc.EntryID)

	stored, ok, err := store.GetLocation(context.Background(), loc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/mnt/usb", stored.RootPath)
}

func TestRemoveStopsServicesAndDeletesLocation(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	stopper := &fakeStopper{}
	locationID := uuid.New()
	store.loc[locationID] = models.Location{ID: locationID}

	svc := NewService(store, dispatcher, stopper)
	require.NoError(t, svc.Remove(context.Background(), locationID))

	require.Equal(t, []uuid.UUID{locationID}, stopper.removed)
	_, ok, err := store.GetLocation(context.Background(), locationID)
	require.NoError(t, err)
	require.False(t, ok)
}
