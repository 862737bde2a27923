// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tags implements attach/detach of a Tag to an Entry or to a
// ContentIdentity, per SPEC_FULL.md's MODULE ADDITIONS section. Attaching
// to a ContentIdentity propagates to every Entry sharing it implicitly,
// the same way internal/query's Search joins user_metadata by either
// entry_id or content_uuid — there is no per-entry fan-out to perform.
// Grounded on core/tests/tag_integration_test.rs.
package tags

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/clock"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/synclog"
)

// Relation names for the two RelationOp kinds this package emits.
const (
	RelationEntryTag   = "entry_tag"
	RelationContentTag = "content_tag"
)

// Service implements tag attachment over a Store, emitting a RelationOp
// through internal/synclog for every attach/detach so the change
// converges to other devices (spec.md §4.C).
type Service struct {
	store  Store
	log    *synclog.Log
	clock  *clock.Generator
	device uuid.UUID
}

// NewService builds a tags Service and registers its RelationApplyFuncs
// with log, so remote attach/detach ops ingested via log.IngestRemote are
// applied to store the same way a local call would be.
func NewService(store Store, log *synclog.Log, clk *clock.Generator, device uuid.UUID) *Service {
	s := &Service{store: store, log: log, clock: clk, device: device}
	log.RegisterRelationApply(RelationEntryTag, s.applyEntryTag)
	log.RegisterRelationApply(RelationContentTag, s.applyContentTag)
	return s
}

// CreateTag inserts a new Tag, local to this device only (tags themselves
// aren't sync-logged in this implementation; only their attachment to
// entries/content is — a Tag row with no attachments converges implicitly
// once the first attach op references its ID).
func (s *Service) CreateTag(ctx context.Context, tag models.Tag) error {
	if tag.ID == uuid.Nil {
		tag.ID = uuid.New()
	}
	if err := s.store.CreateTag(ctx, tag); err != nil {
		return fmt.Errorf("tags: create tag %s: %w", tag.Name, err)
	}
	return nil
}

// AttachToEntry attaches tagID to entryID.
func (s *Service) AttachToEntry(ctx context.Context, libraryID, entryID, tagID uuid.UUID) error {
	op := s.relationOp(libraryID, RelationEntryTag, entryID, tagID, synclog.RelationCreate)
	return s.log.WriteLocal(ctx, []synclog.Op{op}, func(ctx context.Context) error {
		return s.store.AttachToEntry(ctx, entryID, tagID)
	})
}

// DetachFromEntry removes tagID from entryID.
func (s *Service) DetachFromEntry(ctx context.Context, libraryID, entryID, tagID uuid.UUID) error {
	op := s.relationOp(libraryID, RelationEntryTag, entryID, tagID, synclog.RelationDelete)
	return s.log.WriteLocal(ctx, []synclog.Op{op}, func(ctx context.Context) error {
		return s.store.DetachFromEntry(ctx, entryID, tagID)
	})
}

// AttachToContent attaches tagID to a ContentIdentity, which every Entry
// sharing that identity picks up through internal/query's joins.
func (s *Service) AttachToContent(ctx context.Context, libraryID, contentID, tagID uuid.UUID) error {
	op := s.relationOp(libraryID, RelationContentTag, contentID, tagID, synclog.RelationCreate)
	return s.log.WriteLocal(ctx, []synclog.Op{op}, func(ctx context.Context) error {
		return s.store.AttachToContent(ctx, contentID, tagID)
	})
}

// DetachFromContent removes tagID from a ContentIdentity.
func (s *Service) DetachFromContent(ctx context.Context, libraryID, contentID, tagID uuid.UUID) error {
	op := s.relationOp(libraryID, RelationContentTag, contentID, tagID, synclog.RelationDelete)
	return s.log.WriteLocal(ctx, []synclog.Op{op}, func(ctx context.Context) error {
		return s.store.DetachFromContent(ctx, contentID, tagID)
	})
}

func (s *Service) relationOp(libraryID uuid.UUID, relation string, aID, bID uuid.UUID, kind synclog.RelationKind) synclog.Op {
	return synclog.RelationOpOf(synclog.RelationOp{
		ID:        s.clock.Next(),
		Device:    s.device,
		LibraryID: libraryID,
		Relation:  relation,
		AID:       aID[:],
		BID:       bID[:],
		Kind:      kind,
	})
}

func (s *Service) applyEntryTag(ctx context.Context, op synclog.RelationOp) error {
	entryID, err := uuid.FromBytes(op.AID)
	if err != nil {
		return fmt.Errorf("tags: decode entry id: %w", err)
	}
	tagID, err := uuid.FromBytes(op.BID)
	if err != nil {
		return fmt.Errorf("tags: decode tag id: %w", err)
	}
	if op.Kind == synclog.RelationDelete {
		return s.store.DetachFromEntry(ctx, entryID, tagID)
	}
	return s.store.AttachToEntry(ctx, entryID, tagID)
}

func (s *Service) applyContentTag(ctx context.Context, op synclog.RelationOp) error {
	contentID, err := uuid.FromBytes(op.AID)
	if err != nil {
		return fmt.Errorf("tags: decode content id: %w", err)
	}
	tagID, err := uuid.FromBytes(op.BID)
	if err != nil {
		return fmt.Errorf("tags: decode tag id: %w", err)
	}
	if op.Kind == synclog.RelationDelete {
		return s.store.DetachFromContent(ctx, contentID, tagID)
	}
	return s.store.AttachToContent(ctx, contentID, tagID)
}
