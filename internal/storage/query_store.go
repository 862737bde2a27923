// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/query"
)

var _ query.Store = (*Store)(nil)

// GetEntry returns one Entry, or ok=false if it doesn't exist.
func (s *Store) GetEntry(ctx context.Context, entryID uuid.UUID) (models.Entry, bool, error) {
	stmt, err := s.prepared(ctx, `
		SELECT id, parent_id, location_id, kind, name, extension, size, inode,
			created_at, modified_at, accessed_at, content_id, tombstoned, tombstoned_at
		FROM entries WHERE id = ?`)
	if err != nil {
		return models.Entry{}, false, err
	}

	e, err := scanEntry(stmt.QueryRowContext(ctx, entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entry{}, false, nil
	}
	if err != nil {
		return models.Entry{}, false, fmt.Errorf("storage: get entry %s: %w", entryID, err)
	}
	return e, true, nil
}

// ListChildren returns parentID's immediate, non-tombstoned children
// (EntryClosure depth=1), directories first then by name, paginated.
func (s *Store) ListChildren(ctx context.Context, parentID uuid.UUID, offset, limit int) ([]models.Entry, error) {
	stmt, err := s.prepared(ctx, `
		SELECT e.id, e.parent_id, e.location_id, e.kind, e.name, e.extension, e.size, e.inode,
			e.created_at, e.modified_at, e.accessed_at, e.content_id, e.tombstoned, e.tombstoned_at
		FROM entries e
		JOIN entry_closure c ON c.descendant_id = e.id
		WHERE c.ancestor_id = ? AND c.depth = 1 AND e.tombstoned = FALSE
		ORDER BY (e.kind != 'directory'), e.name
		LIMIT ? OFFSET ?`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, parentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list children of %s: %w", parentID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CountChildren returns how many non-tombstoned immediate children parentID
// has, for DirectoryListing's pagination metadata.
func (s *Store) CountChildren(ctx context.Context, parentID uuid.UUID) (int, error) {
	stmt, err := s.prepared(ctx, `
		SELECT COUNT(*) FROM entries e
		JOIN entry_closure c ON c.descendant_id = e.id
		WHERE c.ancestor_id = ? AND c.depth = 1 AND e.tombstoned = FALSE`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := stmt.QueryRowContext(ctx, parentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count children of %s: %w", parentID, err)
	}
	return n, nil
}

// ListAlternates returns every non-tombstoned Entry referencing contentID.
func (s *Store) ListAlternates(ctx context.Context, contentID uuid.UUID) ([]models.Entry, error) {
	stmt, err := s.prepared(ctx, `
		SELECT id, parent_id, location_id, kind, name, extension, size, inode,
			created_at, modified_at, accessed_at, content_id, tombstoned, tombstoned_at
		FROM entries WHERE content_id = ? AND tombstoned = FALSE
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("storage: list alternates of %s: %w", contentID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Search filters Entries within a library, joining locations to scope by
// library_id and, when TagID is set, user_metadata/user_metadata_tags to
// restrict to entries carrying that tag (directly or via their content
// identity). Built as one query with optional predicates rather than
// query-builder machinery, matching the rest of this package's style of
// hand-written SQL per access pattern.
func (s *Store) Search(ctx context.Context, libraryID uuid.UUID, filter query.SearchFilter) ([]models.Entry, error) {
	var b strings.Builder
	args := make([]any, 0, 8)

	b.WriteString(`
		SELECT DISTINCT e.id, e.parent_id, e.location_id, e.kind, e.name, e.extension, e.size, e.inode,
			e.created_at, e.modified_at, e.accessed_at, e.content_id, e.tombstoned, e.tombstoned_at
		FROM entries e
		JOIN locations l ON l.id = e.location_id
		LEFT JOIN content_identities ci ON ci.uuid = e.content_id`)

	if filter.TagID.Valid {
		b.WriteString(`
		JOIN user_metadata um ON um.entry_id = e.id OR um.content_uuid = e.content_id
		JOIN user_metadata_tags umt ON umt.user_metadata_id = um.id AND umt.tag_id = ?`)
		args = append(args, filter.TagID.UUID)
	}

	b.WriteString(` WHERE l.library_id = ? AND e.tombstoned = FALSE`)
	args = append(args, libraryID)

	if filter.NameContains != "" {
		b.WriteString(` AND e.name ILIKE ?`)
		args = append(args, "%"+filter.NameContains+"%")
	}
	if filter.Extension != "" {
		b.WriteString(` AND e.extension = ?`)
		args = append(args, filter.Extension)
	}
	if filter.ContentKind != "" {
		b.WriteString(` AND ci.kind = ?`)
		args = append(args, string(filter.ContentKind))
	}

	b.WriteString(` ORDER BY e.name LIMIT ?`)
	args = append(args, filter.Limit)

	stmt, err := s.prepared(ctx, b.String())
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search library %s: %w", libraryID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (models.Entry, error) {
	var e models.Entry
	var tombstonedAt sql.NullTime
	err := row.Scan(&e.ID, &e.ParentID, &e.LocationID, &e.Kind, &e.Name, &e.Extension, &e.Size, &e.Inode,
		&e.CreatedAt, &e.ModifiedAt, &e.AccessedAt, &e.ContentID, &e.Tombstoned, &tombstonedAt)
	if err != nil {
		return models.Entry{}, err
	}
	if tombstonedAt.Valid {
		e.TombstonedAt = tombstonedAt.Time
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]models.Entry, error) {
	var out []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
