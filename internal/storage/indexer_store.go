// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/indexer"
)

// Compile-time assertion that Store satisfies indexer.Store.
var _ indexer.Store = (*Store)(nil)

// CommitBatch writes one classified batch transactionally (spec.md §4.G
// "Processing" step 5: "Commit per-batch; checkpoint job state after
// each"). New entries get a fresh closure self-row plus one row per
// ancestor inherited from their parent; Moved entries get their ancestor
// rows rebuilt from the new parent.
func (s *Store) CommitBatch(ctx context.Context, locationID uuid.UUID, entries []indexer.ProcessedEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			switch e.Change {
			case indexer.ChangeNew:
				if err := insertEntry(ctx, tx, locationID, e); err != nil {
					return fmt.Errorf("storage: insert entry %s: %w", e.Path, err)
				}
				if err := insertClosureFor(ctx, tx, e.EntryID, e.ParentID); err != nil {
					return fmt.Errorf("storage: closure for %s: %w", e.Path, err)
				}
				if e.Kind == indexer.KindDirectory {
					if err := upsertDirectoryPath(ctx, tx, e.EntryID, e.Path); err != nil {
						return err
					}
				}
			case indexer.ChangeModified:
				if err := updateEntryStat(ctx, tx, e); err != nil {
					return fmt.Errorf("storage: update entry %s: %w", e.Path, err)
				}
			case indexer.ChangeMoved:
				if err := updateEntryStat(ctx, tx, e); err != nil {
					return fmt.Errorf("storage: update moved entry %s: %w", e.Path, err)
				}
				if err := reparentEntry(ctx, tx, e.EntryID, e.ParentID); err != nil {
					return fmt.Errorf("storage: reparent %s: %w", e.Path, err)
				}
				if e.Kind == indexer.KindDirectory {
					if err := upsertDirectoryPath(ctx, tx, e.EntryID, e.Path); err != nil {
						return err
					}
				}
			case indexer.ChangeDeleted:
				if err := tombstoneEntry(ctx, tx, e.EntryID); err != nil {
					return fmt.Errorf("storage: tombstone %s: %w", e.Path, err)
				}
			case indexer.ChangeUnchanged:
				// nothing to write
			}
		}
		return nil
	})
}

func insertEntry(ctx context.Context, tx *sql.Tx, locationID uuid.UUID, e indexer.ProcessedEntry) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, parent_id, location_id, kind, name, extension, size, inode,
			created_at, modified_at, accessed_at, tombstoned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE)
		ON CONFLICT (id) DO UPDATE SET
			parent_id = excluded.parent_id, size = excluded.size, inode = excluded.inode,
			modified_at = excluded.modified_at, tombstoned = FALSE`,
		e.EntryID, nullableParent(e.ParentID), locationID, string(e.Kind), e.Name, extensionOf(e.Name),
		e.Size, e.Inode, now, e.ModTime.UTC(), now)
	return err
}

func updateEntryStat(ctx context.Context, tx *sql.Tx, e indexer.ProcessedEntry) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE entries SET size = ?, inode = ?, modified_at = ? WHERE id = ?`,
		e.Size, e.Inode, e.ModTime.UTC(), e.EntryID)
	return err
}

func reparentEntry(ctx context.Context, tx *sql.Tx, entryID, newParentID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `UPDATE entries SET parent_id = ? WHERE id = ?`, newParentID, entryID); err != nil {
		return err
	}
	// Drop every ancestor row this entry had (other than itself) and rebuild
	// from the new parent's own ancestor chain. Subtree descendants of a
	// moved directory are not re-walked here; a following re-scan (the
	// canonical recovery path per spec.md §7) corrects them if the mtime
	// comparison doesn't already prune the subtree as unchanged.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entry_closure WHERE descendant_id = ? AND ancestor_id != ?`, entryID, entryID); err != nil {
		return err
	}
	return insertAncestorRows(ctx, tx, entryID, newParentID)
}

func insertClosureFor(ctx context.Context, tx *sql.Tx, entryID, parentID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entry_closure (ancestor_id, descendant_id, depth) VALUES (?, ?, 0)
		 ON CONFLICT (ancestor_id, descendant_id) DO NOTHING`, entryID, entryID); err != nil {
		return err
	}
	if parentID == uuid.Nil {
		return nil // location root: no ancestors above it
	}
	return insertAncestorRows(ctx, tx, entryID, parentID)
}

// insertAncestorRows copies parentID's own ancestor closure (including
// itself) into entryID's closure, one depth deeper each.
func insertAncestorRows(ctx context.Context, tx *sql.Tx, entryID, parentID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entry_closure (ancestor_id, descendant_id, depth)
		SELECT ancestor_id, ?, depth + 1 FROM entry_closure WHERE descendant_id = ?
		ON CONFLICT (ancestor_id, descendant_id) DO NOTHING`, entryID, parentID)
	return err
}

func upsertDirectoryPath(ctx context.Context, tx *sql.Tx, entryID uuid.UUID, path string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO directory_paths (entry_id, absolute_path) VALUES (?, ?)
		ON CONFLICT (entry_id) DO UPDATE SET absolute_path = excluded.absolute_path`, entryID, path)
	return err
}

func tombstoneEntry(ctx context.Context, tx *sql.Tx, entryID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE entries SET tombstoned = TRUE, tombstoned_at = ? WHERE id = ?`,
		time.Now().UTC(), entryID)
	return err
}

func nullableParent(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func extensionOf(name string) string {
	for i := len(name) - 1; i >= 0 && name[i] != '/'; i-- {
		if name[i] == '.' && i != 0 {
			return name[i+1:]
		}
	}
	return ""
}

// RecalculateAncestors re-derives per-directory byte totals from baseID up
// to the location root by walking the closure table bottom-up (spec.md
// §4.G "Aggregation"). Each ancestor's size is the sum of its immediate
// children's sizes, recomputed iteratively from the deepest affected level
// upward so a parent always sees its children's already-updated totals.
func (s *Store) RecalculateAncestors(ctx context.Context, locationID, baseID uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT ancestor_id FROM entry_closure
			WHERE descendant_id = ? ORDER BY depth ASC`, baseID)
		if err != nil {
			return fmt.Errorf("storage: list ancestors of %s: %w", baseID, err)
		}
		var ancestors []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ancestors = append(ancestors, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, dirID := range ancestors {
			if _, err := tx.ExecContext(ctx, `
				UPDATE entries SET size = COALESCE((
					SELECT SUM(c.size) FROM entries c
					WHERE c.parent_id = ? AND c.tombstoned = FALSE
				), 0) WHERE id = ?`, dirID, dirID); err != nil {
				return fmt.Errorf("storage: recalc size for %s: %w", dirID, err)
			}
		}
		return nil
	})
}

// LookupContentIdentity returns the identity UUID already registered for a
// CAS key, if any.
func (s *Store) LookupContentIdentity(ctx context.Context, casKey string) (uuid.UUID, bool, error) {
	stmt, err := s.prepared(ctx, `SELECT uuid FROM content_identities WHERE content_hash = ?`)
	if err != nil {
		return uuid.Nil, false, err
	}
	var id uuid.UUID
	err = stmt.QueryRowContext(ctx, casKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("storage: lookup content identity: %w", err)
	}
	return id, true, nil
}

// RegisterContentIdentity inserts a new identity row for a CAS key.
func (s *Store) RegisterContentIdentity(ctx context.Context, casKey string, kind string) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO content_identities (uuid, kind, content_hash, total_size, entry_count, first_seen_at, last_verified_at, tombstoned)
		VALUES (?, ?, ?, 0, 0, ?, ?, FALSE)`, id, kind, casKey, now, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: register content identity: %w", err)
	}
	return id, nil
}

// LinkContent associates an entry with a content identity and applies the
// entry_count/total_size delta in the same transaction, per spec.md §4.G
// "ContentIdentification" and invariant 3 ("entry_count equals the
// reference count"). A delta that drives entry_count to zero tombstones
// the identity rather than deleting it, per SPEC_FULL.md's Open Question
// decision #2; GCContentIdentities is the only hard-delete path.
func (s *Store) LinkContent(ctx context.Context, entryID, contentID uuid.UUID, sizeDelta int64, countDelta int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE entries SET content_id = ? WHERE id = ?`, contentID, entryID); err != nil {
			return fmt.Errorf("storage: link entry to content identity: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE content_identities SET
				total_size = total_size + ?,
				entry_count = entry_count + ?,
				last_verified_at = ?,
				tombstoned = (entry_count + ? <= 0)
			WHERE uuid = ?`, sizeDelta, countDelta, time.Now().UTC(), countDelta, contentID); err != nil {
			return fmt.Errorf("storage: update content identity counters: %w", err)
		}
		return nil
	})
}

// GCContentIdentities hard-deletes identity rows tombstoned longer than
// olderThan, per SPEC_FULL.md's Open Question decision #2. Not part of
// indexer.Store; called periodically by cmd/coreindexd.
func (s *Store) GCContentIdentities(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM content_identities
		WHERE tombstoned = TRUE AND entry_count <= 0 AND last_verified_at < ?`,
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("storage: gc content identities: %w", err)
	}
	return res.RowsAffected()
}

// TombstoneMissing marks every existing, non-tombstoned entry under
// locationID whose path is not in seenPaths as tombstoned (spec.md §4.G
// "Deleted-entry handling"), then corrects ancestor totals once per
// distinct parent rather than once per tombstoned file.
func (s *Store) TombstoneMissing(ctx context.Context, locationID uuid.UUID, seenPaths map[string]struct{}) error {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT e.id, d.absolute_path, p.absolute_path, e.name, e.parent_id
		FROM entries e
		LEFT JOIN directory_paths d ON d.entry_id = e.id
		LEFT JOIN directory_paths p ON p.entry_id = e.parent_id
		WHERE e.location_id = ? AND e.tombstoned = FALSE`, locationID)
	if err != nil {
		return fmt.Errorf("storage: scan existing entries: %w", err)
	}

	type stale struct {
		id     uuid.UUID
		parent uuid.NullUUID
	}
	var toTombstone []stale
	affectedParents := map[uuid.UUID]struct{}{}

	for rows.Next() {
		var id uuid.UUID
		var path, parentPath sql.NullString
		var name string
		var parent uuid.NullUUID
		if err := rows.Scan(&id, &path, &parentPath, &name, &parent); err != nil {
			rows.Close()
			return err
		}
		// Only directories have a directory_paths row; a file's path is its
		// parent directory's path joined with its name.
		if !path.Valid && parentPath.Valid {
			path = sql.NullString{String: filepath.Join(parentPath.String, name), Valid: true}
		}
		if path.Valid {
			if _, seen := seenPaths[path.String]; seen {
				continue
			}
		}
		toTombstone = append(toTombstone, stale{id: id, parent: parent})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(toTombstone) == 0 {
		return nil
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, st := range toTombstone {
			if _, err := tx.ExecContext(ctx,
				`UPDATE entries SET tombstoned = TRUE, tombstoned_at = ? WHERE id = ?`, now, st.id); err != nil {
				return fmt.Errorf("storage: tombstone %s: %w", st.id, err)
			}
			if st.parent.Valid {
				affectedParents[st.parent.UUID] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for parentID := range affectedParents {
		if err := s.RecalculateAncestors(ctx, locationID, parentID); err != nil {
			return fmt.Errorf("storage: recalculate after tombstoning: %w", err)
		}
	}
	return nil
}
