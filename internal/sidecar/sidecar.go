// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sidecar implements the thumbnail/preview request contract named
// in spec.md's non-goals: "only the contract for requesting/storing
// thumbnails is described" — decoding and rendering the actual bytes is
// out of scope, and no Generator implementation ships here. Grounded on
// the models.Sidecar type (spec.md §3) and its Status lifecycle.
package sidecar

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// Request asks for one derived artifact of a content identity or a
// specific entry.
type Request struct {
	ContentUUID uuid.NullUUID
	EntryUUID   uuid.NullUUID
	Kind        models.SidecarKind
	Variant     string
}

// Generator produces the bytes for a Request and reports what it made.
// Platform-specific code (image decoding, video frame extraction, text
// transcription) implements this; none of that lives in this module.
type Generator interface {
	Generate(ctx context.Context, req Request) (format string, size int64, err error)
}

// Service tracks Sidecar rows through their pending/ready/failed
// lifecycle, delegating actual generation to whatever Generator is
// registered for a kind.
type Service struct {
	store Store

	mu         sync.RWMutex
	generators map[models.SidecarKind]Generator
}

// NewService builds a sidecar Service with no generators registered; a
// Request for a kind with no Generator stays Pending until one is added
// and RequestSidecar (or a retry path a caller builds on top) runs again.
func NewService(store Store) *Service {
	return &Service{store: store, generators: make(map[models.SidecarKind]Generator)}
}

// RegisterGenerator wires a Generator for a SidecarKind.
func (s *Service) RegisterGenerator(kind models.SidecarKind, g Generator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generators[kind] = g
}

func (s *Service) generatorFor(kind models.SidecarKind) (Generator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.generators[kind]
	return g, ok
}

// RequestSidecar records (or returns the existing) Sidecar row for req,
// and runs its Generator synchronously if one is registered. A caller
// wanting async generation dispatches this from an internal/jobs task;
// this package has no opinion on scheduling, only on state.
func (s *Service) RequestSidecar(ctx context.Context, req Request) (models.Sidecar, error) {
	if req.ContentUUID.Valid == req.EntryUUID.Valid {
		return models.Sidecar{}, fmt.Errorf("sidecar: request must target exactly one of content or entry")
	}

	if existing, ok, err := s.store.FindSidecar(ctx, req.ContentUUID, req.EntryUUID, req.Kind, req.Variant); err != nil {
		return models.Sidecar{}, fmt.Errorf("sidecar: find existing: %w", err)
	} else if ok {
		return existing, nil
	}

	row := models.Sidecar{
		ID:          uuid.New(),
		ContentUUID: req.ContentUUID,
		EntryUUID:   req.EntryUUID,
		Kind:        req.Kind,
		Variant:     req.Variant,
		Status:      models.SidecarStatusPending,
	}
	if err := s.store.CreateSidecar(ctx, row); err != nil {
		return models.Sidecar{}, fmt.Errorf("sidecar: create row: %w", err)
	}

	gen, ok := s.generatorFor(req.Kind)
	if !ok {
		return row, nil
	}

	format, size, err := gen.Generate(ctx, req)
	if err != nil {
		if uerr := s.store.UpdateSidecarStatus(ctx, row.ID, models.SidecarStatusFailed, "", 0); uerr != nil {
			return models.Sidecar{}, fmt.Errorf("sidecar: generate failed (%v) and failed to record failure: %w", err, uerr)
		}
		row.Status = models.SidecarStatusFailed
		return row, nil
	}

	if err := s.store.UpdateSidecarStatus(ctx, row.ID, models.SidecarStatusReady, format, size); err != nil {
		return models.Sidecar{}, fmt.Errorf("sidecar: record ready status: %w", err)
	}
	row.Status = models.SidecarStatusReady
	row.Format = format
	row.Size = size
	return row, nil
}
