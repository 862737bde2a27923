// SPDX-License-Identifier: AGPL-3.0-or-later
package sidecar

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// fakeStore is an in-memory Store used only by this package's tests.
type fakeStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.Sidecar
}

func newFakeStore() *fakeStore { return &fakeStore{rows: make(map[uuid.UUID]models.Sidecar)} }

func (f *fakeStore) CreateSidecar(_ context.Context, s models.Sidecar) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID] = s
	return nil
}

func (f *fakeStore) UpdateSidecarStatus(_ context.Context, id uuid.UUID, status models.SidecarStatus, format string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	row.Status, row.Format, row.Size = status, format, size
	f.rows[id] = row
	return nil
}

func (f *fakeStore) FindSidecar(_ context.Context, contentUUID, entryUUID uuid.NullUUID, kind models.SidecarKind, variant string) (models.Sidecar, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Kind != kind || row.Variant != variant {
			continue
		}
		if contentUUID.Valid && row.ContentUUID == contentUUID {
			return row, true, nil
		}
		if entryUUID.Valid && row.EntryUUID == entryUUID {
			return row, true, nil
		}
	}
	return models.Sidecar{}, false, nil
}

type stubGenerator struct {
	format string
	size   int64
	err    error
}

func (g stubGenerator) Generate(context.Context, Request) (string, int64, error) {
	return g.format, g.size, g.err
}

func TestRequestSidecarStaysPendingWithoutGenerator(t *testing.T) {
	svc := NewService(newFakeStore())
	req := Request{ContentUUID: uuid.NullUUID{UUID: uuid.New(), Valid: true}, Kind: models.SidecarKindThumbnail, Variant: "sm"}

	row, err := svc.RequestSidecar(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, models.SidecarStatusPending, row.Status)
}

func TestRequestSidecarRunsRegisteredGenerator(t *testing.T) {
	svc := NewService(newFakeStore())
	svc.RegisterGenerator(models.SidecarKindThumbnail, stubGenerator{format: "jpeg", size: 2048})

	req := Request{ContentUUID: uuid.NullUUID{UUID: uuid.New(), Valid: true}, Kind: models.SidecarKindThumbnail, Variant: "sm"}
	row, err := svc.RequestSidecar(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, models.SidecarStatusReady, row.Status)
	require.Equal(t, "jpeg", row.Format)
	require.Equal(t, int64(2048), row.Size)
}

func TestRequestSidecarRecordsGeneratorFailure(t *testing.T) {
	svc := NewService(newFakeStore())
	svc.RegisterGenerator(models.SidecarKindThumbnail, stubGenerator{err: errors.New("decode failed")})

	req := Request{ContentUUID: uuid.NullUUID{UUID: uuid.New(), Valid: true}, Kind: models.SidecarKindThumbnail, Variant: "sm"}
	row, err := svc.RequestSidecar(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, models.SidecarStatusFailed, row.Status)
}

func TestRequestSidecarIsIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	req := Request{ContentUUID: uuid.NullUUID{UUID: uuid.New(), Valid: true}, Kind: models.SidecarKindThumbnail, Variant: "sm"}

	first, err := svc.RequestSidecar(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.RequestSidecar(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestRequestSidecarRejectsAmbiguousTarget(t *testing.T) {
	svc := NewService(newFakeStore())
	_, err := svc.RequestSidecar(context.Background(), Request{Kind: models.SidecarKindThumbnail})
	require.Error(t, err)
}
