// SPDX-License-Identifier: AGPL-3.0-or-later
package query

import (
	"context"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// Store is the read-only persistence boundary internal/query needs from
// internal/storage. It is a narrow slice of the same entries/closure/tags
// tables internal/indexer writes, kept separate from indexer.Store since
// the two packages query for different reasons (write-path classification
// vs. read-path presentation).
type Store interface {
	// GetEntry returns one Entry, or ok=false if it doesn't exist. A
	// tombstoned entry is returned with ok=true and Tombstoned set.
	GetEntry(ctx context.Context, entryID uuid.UUID) (models.Entry, bool, error)

	// ListChildren returns entryID's immediate children (EntryClosure
	// depth=1), ordered by kind (directories first) then name, paginated.
	ListChildren(ctx context.Context, parentID uuid.UUID, offset, limit int) ([]models.Entry, error)

	// CountChildren returns the total number of (non-tombstoned) immediate
	// children of parentID, for pagination metadata.
	CountChildren(ctx context.Context, parentID uuid.UUID) (int, error)

	// ListAlternates returns every Entry across every location/device that
	// references contentID, the "alternates" query spec.md §1(d) names.
	ListAlternates(ctx context.Context, contentID uuid.UUID) ([]models.Entry, error)

	// Search filters Entries within a library by the given SearchFilter,
	// capped at filter.Limit results.
	Search(ctx context.Context, libraryID uuid.UUID, filter SearchFilter) ([]models.Entry, error)
}

// SearchFilter narrows a Search call. Zero-value fields are not applied:
// an empty NameContains matches every name, an empty ContentKind matches
// every kind, and so on.
type SearchFilter struct {
	NameContains string
	Extension    string
	TagID        uuid.NullUUID
	ContentKind  models.ContentKind // empty string: no filter
	Limit        int
}
