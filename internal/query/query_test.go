// SPDX-License-Identifier: AGPL-3.0-or-later
package query

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/ephemeral"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// fakeStore is an in-memory Store used only by this package's tests.
type fakeStore struct {
	entries    map[uuid.UUID]models.Entry
	children   map[uuid.UUID][]uuid.UUID // parent -> ordered child ids
	alternates map[uuid.UUID][]uuid.UUID // content id -> entry ids
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:    make(map[uuid.UUID]models.Entry),
		children:   make(map[uuid.UUID][]uuid.UUID),
		alternates: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (f *fakeStore) put(e models.Entry) {
	f.entries[e.ID] = e
	if e.ParentID.Valid {
		f.children[e.ParentID.UUID] = append(f.children[e.ParentID.UUID], e.ID)
	}
	if e.ContentID.Valid {
		f.alternates[e.ContentID.UUID] = append(f.alternates[e.ContentID.UUID], e.ID)
	}
}

func (f *fakeStore) GetEntry(_ context.Context, id uuid.UUID) (models.Entry, bool, error) {
	e, ok := f.entries[id]
	return e, ok, nil
}

func (f *fakeStore) ListChildren(_ context.Context, parentID uuid.UUID, offset, limit int) ([]models.Entry, error) {
	ids := f.children[parentID]
	var out []models.Entry
	for i, id := range ids {
		if i < offset {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, f.entries[id])
	}
	return out, nil
}

func (f *fakeStore) CountChildren(_ context.Context, parentID uuid.UUID) (int, error) {
	return len(f.children[parentID]), nil
}

func (f *fakeStore) ListAlternates(_ context.Context, contentID uuid.UUID) ([]models.Entry, error) {
	var out []models.Entry
	for _, id := range f.alternates[contentID] {
		out = append(out, f.entries[id])
	}
	return out, nil
}

func (f *fakeStore) Search(_ context.Context, _ uuid.UUID, filter SearchFilter) ([]models.Entry, error) {
	var out []models.Entry
	for _, e := range f.entries {
		if filter.Extension != "" && e.Extension != filter.Extension {
			continue
		}
		out = append(out, e)
		if len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func TestListDirectoryReadsIndexedChildren(t *testing.T) {
	store := newFakeStore()
	parent := uuid.New()
	store.put(models.Entry{ID: parent, Kind: models.EntryKindDirectory})

	for _, name := range []string{"b.txt", "a.txt"} {
		store.put(models.Entry{
			ID:       uuid.New(),
			ParentID: uuid.NullUUID{UUID: parent, Valid: true},
			Kind:     models.EntryKindFile,
			Name:     name,
		})
	}

	svc := NewService(store)
	listing, err := svc.ListDirectory(context.Background(), uuid.New(), parent, "", Page{})
	require.NoError(t, err)
	require.Equal(t, SourceIndexed, listing.Source)
	require.Len(t, listing.Entries, 2)
	require.Equal(t, 2, listing.Total)
}

func TestListDirectoryFallsBackToEphemeralCache(t *testing.T) {
	libraryID := uuid.New()
	cache := ephemeral.NewCache(libraryID, time.Hour)
	root := cache.OpenRoot("/mnt/usb")
	cache.Upsert(root, "/mnt/usb", "usb", models.EntryKindDirectory, 0, time.Now())
	cache.Upsert(root, "/mnt/usb/photo.jpg", "photo.jpg", models.EntryKindFile, 1024, time.Now())

	svc := NewService(newFakeStore())
	svc.RegisterCache(libraryID, cache)

	listing, err := svc.ListDirectory(context.Background(), libraryID, uuid.Nil, "/mnt/usb", Page{})
	require.NoError(t, err)
	require.Equal(t, SourceEphemeral, listing.Source)
	require.Len(t, listing.Ephemeral, 1)
	require.Equal(t, "photo.jpg", listing.Ephemeral[0].Name)
}

func TestListDirectoryWithoutCacheOrPathErrors(t *testing.T) {
	svc := NewService(newFakeStore())
	_, err := svc.ListDirectory(context.Background(), uuid.New(), uuid.New(), "", Page{})
	require.Error(t, err)
}

func TestAlternatesReturnsEveryReferencingEntry(t *testing.T) {
	store := newFakeStore()
	content := uuid.New()
	store.put(models.Entry{ID: uuid.New(), ContentID: uuid.NullUUID{UUID: content, Valid: true}, Name: "a"})
	store.put(models.Entry{ID: uuid.New(), ContentID: uuid.NullUUID{UUID: content, Valid: true}, Name: "b"})

	svc := NewService(store)
	alts, err := svc.Alternates(context.Background(), content)
	require.NoError(t, err)
	require.Len(t, alts, 2)
}

func TestSearchCapsResultsAtLimit(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 10; i++ {
		store.put(models.Entry{ID: uuid.New(), Extension: "jpg", Name: "x"})
	}

	svc := NewService(store)
	results, err := svc.Search(context.Background(), uuid.New(), SearchFilter{Extension: "jpg", Limit: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
}
