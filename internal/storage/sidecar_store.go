// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/sidecar"
)

var _ sidecar.Store = (*Store)(nil)

// CreateSidecar inserts a new Sidecar row, starting Pending.
func (s *Store) CreateSidecar(ctx context.Context, sc models.Sidecar) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sidecars (id, content_uuid, entry_uuid, kind, variant, format, status, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, nullableUUID(sc.ContentUUID), nullableUUID(sc.EntryUUID),
		string(sc.Kind), sc.Variant, sc.Format, string(sc.Status), sc.Size)
	if err != nil {
		return fmt.Errorf("storage: create sidecar %s: %w", sc.ID, err)
	}
	return nil
}

// UpdateSidecarStatus transitions a Sidecar to Ready or Failed, recording
// the format/size a Generator reported (zero for Failed).
func (s *Store) UpdateSidecarStatus(ctx context.Context, id uuid.UUID, status models.SidecarStatus, format string, size int64) error {
	stmt, err := s.prepared(ctx, `UPDATE sidecars SET status = ?, format = ?, size = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, string(status), format, size, id); err != nil {
		return fmt.Errorf("storage: update sidecar %s: %w", id, err)
	}
	return nil
}

// FindSidecar looks up a Sidecar by its (target, kind, variant) triple.
func (s *Store) FindSidecar(ctx context.Context, contentUUID, entryUUID uuid.NullUUID, kind models.SidecarKind, variant string) (models.Sidecar, bool, error) {
	var query string
	var target uuid.UUID
	if contentUUID.Valid {
		query, target = `SELECT id, content_uuid, entry_uuid, kind, variant, format, status, size
			FROM sidecars WHERE content_uuid = ? AND kind = ? AND variant = ?`, contentUUID.UUID
	} else {
		query, target = `SELECT id, content_uuid, entry_uuid, kind, variant, format, status, size
			FROM sidecars WHERE entry_uuid = ? AND kind = ? AND variant = ?`, entryUUID.UUID
	}

	var sc models.Sidecar
	var content, entry uuid.NullUUID
	var scKind, status string
	err := s.conn.QueryRowContext(ctx, query, target, string(kind), variant).Scan(
		&sc.ID, &content, &entry, &scKind, &sc.Variant, &sc.Format, &status, &sc.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Sidecar{}, false, nil
	}
	if err != nil {
		return models.Sidecar{}, false, fmt.Errorf("storage: find sidecar: %w", err)
	}
	sc.ContentUUID, sc.EntryUUID = content, entry
	sc.Kind, sc.Status = models.SidecarKind(scKind), models.SidecarStatus(status)
	return sc, true, nil
}

func nullableUUID(id uuid.NullUUID) interface{} {
	if !id.Valid {
		return nil
	}
	return id.UUID
}
