// SPDX-License-Identifier: AGPL-3.0-or-later

// Package synclog implements the persistent, append-only CRDT log of
// spec.md §4.C: shared-field last-writer-wins updates and relation
// create/delete rows, stamped by internal/clock and sequenced by
// internal/leader. Writing is atomic with the domain mutation it
// describes; ingesting a remote op applies it only if its HLC is strictly
// greater than whatever is already recorded for the same (record, field)
// or relation pair.
package synclog

import (
	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/clock"
)

// RelationKind distinguishes a relation op's effect, per spec.md §6.
type RelationKind string

const (
	RelationCreate RelationKind = "create"
	RelationDelete RelationKind = "delete"
)

// SharedOp is a CRDT last-writer-wins update to one field of one domain
// row, per spec.md §6.
type SharedOp struct {
	ID        clock.HLC
	Device    uuid.UUID
	LibraryID uuid.UUID
	Model     string // table name
	RecordID  []byte // encoded primary key
	Field     string
	Value     []byte // encoded field value
}

// RelationOp is a set-semantics create/delete of a relation pair, per
// spec.md §6. Payload carries optional attributes (e.g. a tag's color at
// attach time) and is only meaningful for RelationCreate.
type RelationOp struct {
	ID        clock.HLC
	Device    uuid.UUID
	LibraryID uuid.UUID
	Relation  string
	AID       []byte
	BID       []byte
	Kind      RelationKind
	Payload   []byte
}

// OpKind tags which variant an Op carries — a closed, two-member set, so a
// tagged variant is preferable to an open interface per SPEC_FULL.md's
// design notes (mirroring spec.md §9's guidance on Transport).
type OpKind string

const (
	OpKindShared   OpKind = "shared"
	OpKindRelation OpKind = "relation"
)

// Op is the tagged union of the two wire variants, used wherever code
// needs to handle "one CRDT log row" generically (staging, storage,
// backfill, transport).
type Op struct {
	Kind     OpKind
	Shared   *SharedOp
	Relation *RelationOp
}

// HLC returns the op's causal timestamp regardless of variant.
func (o Op) HLC() clock.HLC {
	if o.Kind == OpKindShared {
		return o.Shared.ID
	}
	return o.Relation.ID
}

// SharedOpOf wraps a SharedOp as an Op.
func SharedOpOf(op SharedOp) Op { return Op{Kind: OpKindShared, Shared: &op} }

// RelationOpOf wraps a RelationOp as an Op.
func RelationOpOf(op RelationOp) Op { return Op{Kind: OpKindRelation, Relation: &op} }
