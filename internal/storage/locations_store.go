// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/locations"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

var _ locations.Store = (*Store)(nil)

// CreateLocation inserts a new Location row.
func (s *Store) CreateLocation(ctx context.Context, loc models.Location) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO locations (id, library_id, device_id, entry_id, name, index_mode, scan_state, root_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.ID, loc.LibraryID, loc.DeviceID, loc.EntryID, loc.Name,
		string(loc.IndexMode), int32(loc.ScanState), loc.RootPath, loc.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create location %s: %w", loc.RootPath, err)
	}
	return nil
}

// GetLocation returns one Location, or ok=false if it doesn't exist.
func (s *Store) GetLocation(ctx context.Context, id uuid.UUID) (models.Location, bool, error) {
	stmt, err := s.prepared(ctx, `
		SELECT id, library_id, device_id, entry_id, name, index_mode, scan_state, root_path, created_at
		FROM locations WHERE id = ?`)
	if err != nil {
		return models.Location{}, false, err
	}

	var loc models.Location
	var entryID uuid.NullUUID
	var indexMode string
	var scanState int32
	err = stmt.QueryRowContext(ctx, id).Scan(
		&loc.ID, &loc.LibraryID, &loc.DeviceID, &entryID, &loc.Name,
		&indexMode, &scanState, &loc.RootPath, &loc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Location{}, false, nil
	}
	if err != nil {
		return models.Location{}, false, fmt.Errorf("storage: get location %s: %w", id, err)
	}

	if entryID.Valid {
		loc.EntryID = entryID.UUID
	}
	loc.IndexMode = models.IndexMode(indexMode)
	loc.ScanState = models.ScanState(scanState)
	return loc, true, nil
}

// UpdateIndexMode changes a location's index mode (EnableIndexing).
func (s *Store) UpdateIndexMode(ctx context.Context, id uuid.UUID, mode models.IndexMode) error {
	stmt, err := s.prepared(ctx, `UPDATE locations SET index_mode = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, string(mode), id); err != nil {
		return fmt.Errorf("storage: update index mode for %s: %w", id, err)
	}
	return nil
}

// UpdateScanState advances a location's scan-state lifecycle field.
func (s *Store) UpdateScanState(ctx context.Context, id uuid.UUID, state models.ScanState) error {
	stmt, err := s.prepared(ctx, `UPDATE locations SET scan_state = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, int32(state), id); err != nil {
		return fmt.Errorf("storage: update scan state for %s: %w", id, err)
	}
	return nil
}

// TombstoneLocationSubtree marks every non-tombstoned Entry under
// locationID as tombstoned, the "tombstone subtree" step of Remove.
func (s *Store) TombstoneLocationSubtree(ctx context.Context, locationID uuid.UUID) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE entries SET tombstoned = TRUE, tombstoned_at = ?
		WHERE location_id = ? AND tombstoned = FALSE`, time.Now().UTC(), locationID)
	if err != nil {
		return fmt.Errorf("storage: tombstone subtree of %s: %w", locationID, err)
	}
	return nil
}

// DeleteLocation hard-deletes the location row itself.
func (s *Store) DeleteLocation(ctx context.Context, id uuid.UUID) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete location %s: %w", id, err)
	}
	return nil
}
