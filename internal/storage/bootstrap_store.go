// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// GetOrCreateDevice returns the device identified by slug, creating it with
// a fresh UUID on first boot. cmd/coreindexd calls this once at startup so
// the local device's identity survives restarts, matching spec.md §4.B's
// assumption that a device ID is stable across the process lifetime.
func (s *Store) GetOrCreateDevice(ctx context.Context, slug, name string) (models.Device, error) {
	var d models.Device
	err := s.conn.QueryRowContext(ctx, `SELECT id, slug, name FROM devices WHERE slug = ?`, slug).
		Scan(&d.ID, &d.Slug, &d.Name)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Device{}, fmt.Errorf("storage: get device %q: %w", slug, err)
	}

	d = models.Device{ID: uuid.New(), Slug: slug, Name: name}
	if _, err := s.conn.ExecContext(ctx, `INSERT INTO devices (id, slug, name) VALUES (?, ?, ?)`,
		d.ID, d.Slug, d.Name); err != nil {
		return models.Device{}, fmt.Errorf("storage: create device %q: %w", slug, err)
	}
	return d, nil
}

// ListLibraries returns every library known to this store, used at startup
// to re-open each library's sync log, ephemeral cache and leader state.
func (s *Store) ListLibraries(ctx context.Context) ([]models.Library, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, name, description, created_at FROM libraries`)
	if err != nil {
		return nil, fmt.Errorf("storage: list libraries: %w", err)
	}
	defer rows.Close()

	var out []models.Library
	for rows.Next() {
		var lib models.Library
		if err := rows.Scan(&lib.ID, &lib.Name, &lib.Description, &lib.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan library: %w", err)
		}
		out = append(out, lib)
	}
	return out, rows.Err()
}

// CreateLibrary inserts a new library, used when no library exists yet at
// first boot (a fresh install starts with exactly one, named "default").
func (s *Store) CreateLibrary(ctx context.Context, lib models.Library) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO libraries (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		lib.ID, lib.Name, lib.Description, lib.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create library %s: %w", lib.Name, err)
	}
	return nil
}

// ListLocations returns every location within a library, used at startup to
// re-register each location's watcher/stale-detector/sync services with
// internal/coordinator.
func (s *Store) ListLocations(ctx context.Context, libraryID uuid.UUID) ([]models.Location, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, library_id, device_id, entry_id, name, index_mode, scan_state, root_path, created_at
		FROM locations WHERE library_id = ?`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("storage: list locations for library %s: %w", libraryID, err)
	}
	defer rows.Close()

	var out []models.Location
	for rows.Next() {
		var loc models.Location
		var entryID uuid.NullUUID
		var indexMode string
		var scanStateInt int32
		if err := rows.Scan(&loc.ID, &loc.LibraryID, &loc.DeviceID, &entryID, &loc.Name,
			&indexMode, &scanStateInt, &loc.RootPath, &loc.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan location: %w", err)
		}
		if entryID.Valid {
			loc.EntryID = entryID.UUID
		}
		loc.IndexMode = models.IndexMode(indexMode)
		loc.ScanState = models.ScanState(scanStateInt)
		out = append(out, loc)
	}
	return out, rows.Err()
}

// GetDirectoryMtime resolves a directory's DB-recorded modification time by
// absolute path, the lookup internal/indexer.Discovery uses to decide
// whether a subtree can be pruned. cmd/coreindexd passes this method (as a
// func literal, since indexer.New takes the lookup by signature rather
// than by named type) into every Indexer it constructs.
func (s *Store) GetDirectoryMtime(ctx context.Context, absolutePath string) (int64, bool, error) {
	var modifiedAt time.Time
	err := s.conn.QueryRowContext(ctx, `
		SELECT e.modified_at FROM directory_paths d
		JOIN entries e ON e.id = d.entry_id
		WHERE d.absolute_path = ? AND e.tombstoned = FALSE`, absolutePath).Scan(&modifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage: get directory mtime for %s: %w", absolutePath, err)
	}
	return modifiedAt.UnixNano(), true, nil
}
