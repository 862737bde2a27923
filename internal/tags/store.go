// SPDX-License-Identifier: AGPL-3.0-or-later
package tags

import (
	"context"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// Store is the persistence boundary internal/tags needs from
// internal/storage. Attach/Detach are idempotent: attaching an
// already-attached tag, or detaching one never attached, succeeds without
// error, matching a CRDT relation's set semantics (spec.md §4.C).
type Store interface {
	CreateTag(ctx context.Context, tag models.Tag) error
	GetTag(ctx context.Context, id uuid.UUID) (models.Tag, bool, error)

	AttachToEntry(ctx context.Context, entryID, tagID uuid.UUID) error
	AttachToContent(ctx context.Context, contentID, tagID uuid.UUID) error
	DetachFromEntry(ctx context.Context, entryID, tagID uuid.UUID) error
	DetachFromContent(ctx context.Context, contentID, tagID uuid.UUID) error
}
