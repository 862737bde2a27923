// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/clock"
	"github.com/spacedriveapp/spacedrive-core/internal/synclog"
)

var _ synclog.Store = (*Store)(nil)

// AppendOps persists ops to sync_ops, running the caller's domain mutation
// (if any) in the same transaction so the pair either both commit or
// neither does, per spec.md §4.C's write_ops contract.
func (s *Store) AppendOps(ctx context.Context, ops []synclog.Op, mutate func(ctx context.Context) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if mutate != nil {
			if err := mutate(ctx); err != nil {
				return fmt.Errorf("storage: sync op mutation: %w", err)
			}
		}

		stmt := `
			INSERT INTO sync_ops (id, device_id, library_id, kind, model, record_id, field, value, payload, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`

		for _, op := range ops {
			row := opRow(op)
			if _, err := tx.ExecContext(ctx, stmt,
				row.id, row.device, row.library, row.kind, row.model,
				row.recordID, row.field, row.value, row.payload, row.seq,
			); err != nil {
				return fmt.Errorf("storage: insert sync op %s: %w", row.id, err)
			}
		}
		return nil
	})
}

// LastSharedHLC returns the highest HLC (op id) among the shared ops
// recorded for (model, recordID, field).
func (s *Store) LastSharedHLC(ctx context.Context, model string, recordID []byte, field string) (string, bool, error) {
	stmt, err := s.prepared(ctx, `
		SELECT id FROM sync_ops
		WHERE kind = 'shared' AND model = ? AND record_id = ? AND field = ?
		ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return "", false, err
	}

	var id string
	err = stmt.QueryRowContext(ctx, model, recordID, field).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: last shared HLC: %w", err)
	}
	return id, true, nil
}

// LastRelationHLC returns the highest HLC (op id) among the relation ops
// recorded for (relation, aID, bID), across both create and delete.
func (s *Store) LastRelationHLC(ctx context.Context, relation string, aID, bID []byte) (string, bool, error) {
	stmt, err := s.prepared(ctx, `
		SELECT id FROM sync_ops
		WHERE kind = 'relation' AND model = ? AND record_id = ? AND value = ?
		ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return "", false, err
	}

	var id string
	err = stmt.QueryRowContext(ctx, relation, aID, bID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: last relation HLC: %w", err)
	}
	return id, true, nil
}

// OpsSince returns up to limit ops with id (HLC string form, lexicographically
// ordered) strictly greater than fromHLC, the backfill contract of spec.md §6.
func (s *Store) OpsSince(ctx context.Context, fromHLC string, limit int) ([]synclog.Op, bool, error) {
	stmt, err := s.prepared(ctx, `
		SELECT id, device_id, library_id, kind, model, record_id, field, value, payload, seq
		FROM sync_ops WHERE id > ? ORDER BY id ASC LIMIT ?`)
	if err != nil {
		return nil, false, err
	}

	rows, err := stmt.QueryContext(ctx, fromHLC, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("storage: ops since %s: %w", fromHLC, err)
	}
	defer rows.Close()

	var out []synclog.Op
	for rows.Next() {
		var row syncOpRow
		if err := rows.Scan(&row.id, &row.device, &row.library, &row.kind, &row.model,
			&row.recordID, &row.field, &row.value, &row.payload, &row.seq); err != nil {
			return nil, false, fmt.Errorf("storage: scan sync op: %w", err)
		}
		op, err := row.toOp()
		if err != nil {
			return nil, false, err
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// AssignSeq stamps op's dense per-library sequence number, per invariant 5
// of spec.md §3.
func (s *Store) AssignSeq(ctx context.Context, libraryID, opID string, seq int64) error {
	stmt, err := s.prepared(ctx, `UPDATE sync_ops SET seq = ? WHERE id = ? AND library_id = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, seq, opID, libraryID); err != nil {
		return fmt.Errorf("storage: assign seq to %s: %w", opID, err)
	}
	return nil
}

// HighestSeq returns the highest sequence number assigned so far for a
// library, used by a newly-elected leader to resume numbering.
func (s *Store) HighestSeq(ctx context.Context, libraryID string) (int64, error) {
	stmt, err := s.prepared(ctx, `SELECT COALESCE(MAX(seq), 0) FROM sync_ops WHERE library_id = ?`)
	if err != nil {
		return 0, err
	}
	var seq int64
	if err := stmt.QueryRowContext(ctx, libraryID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("storage: highest seq for library %s: %w", libraryID, err)
	}
	return seq, nil
}

// syncOpRow is the flat row shape sync_ops stores both op variants in.
type syncOpRow struct {
	id       string
	device   uuid.UUID
	library  uuid.UUID
	kind     string
	model    string
	recordID []byte
	field    string
	value    []byte
	payload  []byte
	seq      int64
}

func opRow(op synclog.Op) syncOpRow {
	switch op.Kind {
	case synclog.OpKindShared:
		s := op.Shared
		return syncOpRow{
			id: s.ID.String(), device: s.Device, library: s.LibraryID,
			kind: string(synclog.OpKindShared), model: s.Model,
			recordID: s.RecordID, field: s.Field, value: s.Value,
		}
	default:
		r := op.Relation
		return syncOpRow{
			id: r.ID.String(), device: r.Device, library: r.LibraryID,
			kind: string(synclog.OpKindRelation), model: r.Relation,
			recordID: r.AID, field: string(r.Kind), value: r.BID, payload: r.Payload,
			seq: 0,
		}
	}
}

func (row syncOpRow) toOp() (synclog.Op, error) {
	id, err := clock.Parse(row.id)
	if err != nil {
		return synclog.Op{}, fmt.Errorf("storage: parse stored HLC %q: %w", row.id, err)
	}

	switch synclog.OpKind(row.kind) {
	case synclog.OpKindShared:
		return synclog.SharedOpOf(synclog.SharedOp{
			ID: id, Device: row.device, LibraryID: row.library,
			Model: row.model, RecordID: row.recordID, Field: row.field, Value: row.value,
		}), nil
	case synclog.OpKindRelation:
		return synclog.RelationOpOf(synclog.RelationOp{
			ID: id, Device: row.device, LibraryID: row.library,
			Relation: row.model, AID: row.recordID, Kind: synclog.RelationKind(row.field),
			BID: row.value, Payload: row.payload,
		}), nil
	default:
		return synclog.Op{}, fmt.Errorf("storage: unknown sync op kind %q", row.kind)
	}
}
