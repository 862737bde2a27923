// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// PutLeaderRecord durably persists a library's leadership lease so a
// restarted process can recall who it believed was leader, per the
// internal/leader.Manager doc comment's note that durable persistence is
// the caller's responsibility.
func (s *Store) PutLeaderRecord(ctx context.Context, r models.LeaderRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO leader_records (library_id, leader_device_id, lease_expires_at, last_heartbeat_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (library_id) DO UPDATE SET
			leader_device_id = excluded.leader_device_id,
			lease_expires_at = excluded.lease_expires_at,
			last_heartbeat_at = excluded.last_heartbeat_at,
			updated_at = excluded.updated_at`,
		r.LibraryID, r.LeaderDeviceID, r.LeaseExpiresAt, r.LastHeartbeatAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: put leader record: %w", err)
	}
	return nil
}

// GetLeaderRecord loads the last-known leadership lease for a library, used
// at boot to seed internal/leader.Manager before the network's own
// heartbeats arrive.
func (s *Store) GetLeaderRecord(ctx context.Context, libraryID uuid.UUID) (models.LeaderRecord, bool, error) {
	var r models.LeaderRecord
	err := s.conn.QueryRowContext(ctx, `
		SELECT library_id, leader_device_id, lease_expires_at, last_heartbeat_at, updated_at
		FROM leader_records WHERE library_id = ?`, libraryID).
		Scan(&r.LibraryID, &r.LeaderDeviceID, &r.LeaseExpiresAt, &r.LastHeartbeatAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LeaderRecord{}, false, nil
	}
	if err != nil {
		return models.LeaderRecord{}, false, fmt.Errorf("storage: get leader record: %w", err)
	}
	return r, true, nil
}
