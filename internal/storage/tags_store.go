// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/tags"
)

var _ tags.Store = (*Store)(nil)

// CreateTag inserts a new Tag row.
func (s *Store) CreateTag(ctx context.Context, tag models.Tag) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO tags (id, name, color) VALUES (?, ?, ?)`,
		tag.ID, tag.Name, tag.Color)
	if err != nil {
		return fmt.Errorf("storage: create tag %s: %w", tag.Name, err)
	}
	return nil
}

// GetTag returns one Tag, or ok=false if it doesn't exist.
func (s *Store) GetTag(ctx context.Context, id uuid.UUID) (models.Tag, bool, error) {
	stmt, err := s.prepared(ctx, `SELECT id, name, color FROM tags WHERE id = ?`)
	if err != nil {
		return models.Tag{}, false, err
	}
	var t models.Tag
	err = stmt.QueryRowContext(ctx, id).Scan(&t.ID, &t.Name, &t.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tag{}, false, nil
	}
	if err != nil {
		return models.Tag{}, false, fmt.Errorf("storage: get tag %s: %w", id, err)
	}
	return t, true, nil
}

// AttachToEntry attaches tagID to entryID: finds or creates the entry's
// UserMetadata row, then upserts the join row.
func (s *Store) AttachToEntry(ctx context.Context, entryID, tagID uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		umID, err := findOrCreateUserMetadataTx(ctx, tx, entryID, uuid.Nil)
		if err != nil {
			return err
		}
		return attachTagTx(ctx, tx, umID, tagID)
	})
}

// AttachToContent attaches tagID to contentID.
func (s *Store) AttachToContent(ctx context.Context, contentID, tagID uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		umID, err := findOrCreateUserMetadataTx(ctx, tx, uuid.Nil, contentID)
		if err != nil {
			return err
		}
		return attachTagTx(ctx, tx, umID, tagID)
	})
}

// DetachFromEntry removes tagID from entryID's UserMetadata, if any.
func (s *Store) DetachFromEntry(ctx context.Context, entryID, tagID uuid.UUID) error {
	_, err := s.conn.ExecContext(ctx, `
		DELETE FROM user_metadata_tags WHERE tag_id = ? AND user_metadata_id IN (
			SELECT id FROM user_metadata WHERE entry_id = ?)`, tagID, entryID)
	if err != nil {
		return fmt.Errorf("storage: detach tag %s from entry %s: %w", tagID, entryID, err)
	}
	return nil
}

// DetachFromContent removes tagID from contentID's UserMetadata, if any.
func (s *Store) DetachFromContent(ctx context.Context, contentID, tagID uuid.UUID) error {
	_, err := s.conn.ExecContext(ctx, `
		DELETE FROM user_metadata_tags WHERE tag_id = ? AND user_metadata_id IN (
			SELECT id FROM user_metadata WHERE content_uuid = ?)`, tagID, contentID)
	if err != nil {
		return fmt.Errorf("storage: detach tag %s from content %s: %w", tagID, contentID, err)
	}
	return nil
}

func findOrCreateUserMetadataTx(ctx context.Context, tx *sql.Tx, entryID, contentID uuid.UUID) (uuid.UUID, error) {
	var query string
	var arg any
	if entryID != uuid.Nil {
		query, arg = `SELECT id FROM user_metadata WHERE entry_id = ?`, entryID
	} else {
		query, arg = `SELECT id FROM user_metadata WHERE content_uuid = ?`, contentID
	}

	var id uuid.UUID
	err := tx.QueryRowContext(ctx, query, arg).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("storage: find user metadata: %w", err)
	}

	id = uuid.New()
	_, err = tx.ExecContext(ctx, `INSERT INTO user_metadata (id, entry_id, content_uuid) VALUES (?, ?, ?)`,
		id, nullableParent(entryID), nullableParent(contentID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: create user metadata: %w", err)
	}
	return id, nil
}

func attachTagTx(ctx context.Context, tx *sql.Tx, userMetadataID, tagID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_metadata_tags (user_metadata_id, tag_id) VALUES (?, ?)
		ON CONFLICT (user_metadata_id, tag_id) DO NOTHING`, userMetadataID, tagID)
	if err != nil {
		return fmt.Errorf("storage: attach tag %s: %w", tagID, err)
	}
	return nil
}
