// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/coordinator"
)

var _ coordinator.Store = (*Store)(nil)

// PutSettings upserts a location's service-toggle document.
func (s *Store) PutSettings(ctx context.Context, locationID uuid.UUID, settings coordinator.Settings) error {
	data, err := coordinator.MarshalSettings(settings)
	if err != nil {
		return err
	}

	stmt, err := s.prepared(ctx, `
		INSERT INTO location_service_settings (location_id, settings, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (location_id) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, locationID, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("storage: put location settings for %s: %w", locationID, err)
	}
	return nil
}

// GetSettings returns a location's service-toggle document, if any.
func (s *Store) GetSettings(ctx context.Context, locationID uuid.UUID) (coordinator.Settings, bool, error) {
	stmt, err := s.prepared(ctx, `SELECT settings FROM location_service_settings WHERE location_id = ?`)
	if err != nil {
		return coordinator.Settings{}, false, err
	}

	var raw string
	err = stmt.QueryRowContext(ctx, locationID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return coordinator.Settings{}, false, nil
	}
	if err != nil {
		return coordinator.Settings{}, false, fmt.Errorf("storage: get location settings for %s: %w", locationID, err)
	}

	settings, err := coordinator.UnmarshalSettings([]byte(raw))
	if err != nil {
		return coordinator.Settings{}, false, err
	}
	return settings, true, nil
}

// DeleteSettings removes a location's service-toggle document.
func (s *Store) DeleteSettings(ctx context.Context, locationID uuid.UUID) error {
	stmt, err := s.prepared(ctx, `DELETE FROM location_service_settings WHERE location_id = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, locationID); err != nil {
		return fmt.Errorf("storage: delete location settings for %s: %w", locationID, err)
	}
	return nil
}
