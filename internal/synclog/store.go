// SPDX-License-Identifier: AGPL-3.0-or-later
package synclog

import "context"

// Store is the persistence boundary Log depends on. internal/storage
// provides the real implementation over duckdb; tests supply an in-memory
// fake. Mirrors the accept-interfaces boundary internal/indexer uses for
// its own Store.
type Store interface {
	// AppendOps persists ops to the local log, atomically with whatever
	// domain mutation mutate performs (spec.md §4.C's write_ops helper:
	// "either all commit or none"). mutate may be nil for ops ingested
	// from a remote peer that already describe an applied mutation.
	AppendOps(ctx context.Context, ops []Op, mutate func(ctx context.Context) error) error

	// LastSharedHLC returns the HLC of the most recently applied SharedOp
	// for (model, recordID, field), if any.
	LastSharedHLC(ctx context.Context, model string, recordID []byte, field string) (string, bool, error)

	// LastRelationHLC returns the HLC of the most recently applied
	// RelationOp for (relation, aID, bID), if any.
	LastRelationHLC(ctx context.Context, relation string, aID, bID []byte) (string, bool, error)

	// OpsSince returns up to limit ops with HLC strictly greater than
	// fromHLC, ordered by HLC ascending, plus whether more remain (the
	// backfill contract of spec.md §6).
	OpsSince(ctx context.Context, fromHLC string, limit int) (ops []Op, hasMore bool, err error)

	// AssignSeq stamps op's dense per-library sequence number once the
	// leader has accepted it. libraryID scopes the sequence space per
	// invariant 5 of spec.md §3.
	AssignSeq(ctx context.Context, libraryID, opID string, seq int64) error

	// HighestSeq returns the highest sequence number assigned so far for
	// a library, used by a newly-elected leader to resume numbering
	// (spec.md §4.B: "If a follower becomes leader, it resumes from the
	// highest known seq+1").
	HighestSeq(ctx context.Context, libraryID string) (int64, error)
}
