// SPDX-License-Identifier: AGPL-3.0-or-later
package synclog

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/spacedriveapp/spacedrive-core/internal/clock"
	"github.com/spacedriveapp/spacedrive-core/internal/logging"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// SharedApplyFunc upserts the domain row described by a SharedOp. Log calls
// it only when the op's HLC is strictly greater than whatever is already
// recorded for (model, record, field), per spec.md §4.C step 2.
type SharedApplyFunc func(ctx context.Context, op SharedOp) error

// RelationApplyFunc creates or removes the relation row a RelationOp
// describes.
type RelationApplyFunc func(ctx context.Context, op RelationOp) error

var (
	depthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "synclog_pending_ops",
		Help: "Ops staged locally awaiting leader sequencing.",
	}, nil)
	appliedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synclog_ops_applied_total",
		Help: "Remote ops applied, by outcome.",
	}, []string{"outcome"})
)

// Log is the persistent CRDT log of spec.md §4.C: it stages locally
// produced ops durably until a leader assigns their sequence number,
// ingests remote ops with last-writer-wins conflict resolution, and serves
// paginated backfill to peers.
type Log struct {
	store   Store
	staging *staging
	bus     *bus

	sharedApply   map[string]SharedApplyFunc
	relationApply map[string]RelationApplyFunc
}

// New opens a Log backed by store for durable sync-op persistence and a
// badger staging directory for pre-sequence durability (mirroring the
// teacher's BadgerWAL pending/confirmed split).
func New(store Store, stagingDir string) (*Log, error) {
	st, err := openStaging(stagingDir)
	if err != nil {
		return nil, err
	}
	return &Log{
		store:         store,
		staging:       st,
		bus:           newBus(),
		sharedApply:   make(map[string]SharedApplyFunc),
		relationApply: make(map[string]RelationApplyFunc),
	}, nil
}

// Close releases the staging store. The caller's Store (internal/storage)
// has its own independent lifecycle.
func (l *Log) Close() error { return l.staging.close() }

// RegisterSharedApply wires a domain upsert function for a model (table)
// name, called during IngestRemote when a SharedOp for that model wins LWW.
func (l *Log) RegisterSharedApply(model string, fn SharedApplyFunc) { l.sharedApply[model] = fn }

// RegisterRelationApply wires a domain create/delete function for a
// relation name, called during IngestRemote.
func (l *Log) RegisterRelationApply(relation string, fn RelationApplyFunc) {
	l.relationApply[relation] = fn
}

// Subscribe returns a channel of ingestion notifications and an unsubscribe
// function, per spec.md §4.C step 5.
func (l *Log) Subscribe() (<-chan Notification, func()) { return l.bus.Subscribe() }

// WriteLocal stages and persists ops this device originated, atomically
// with the domain mutation that produced them — spec.md §4.C's
// write_ops(ops, query) contract: "either all commit or none". Ops start
// unsequenced (seq=0) and stay staged until SelfAssignSeq, run while this
// device holds the leader lease, numbers them and removes them from
// staging. No path in this package unstages ops when a remote leader
// assigns their sequence numbers.
func (l *Log) WriteLocal(ctx context.Context, ops []Op, mutate func(ctx context.Context) error) error {
	if err := l.store.AppendOps(ctx, ops, mutate); err != nil {
		return fmt.Errorf("synclog: write local ops: %w", err)
	}
	for _, op := range ops {
		if err := l.staging.put(op); err != nil {
			return fmt.Errorf("synclog: stage op %s: %w", op.HLC(), err)
		}
	}
	depthGauge.WithLabelValues().Set(float64(len(l.mustPending())))
	return nil
}

func (l *Log) mustPending() []Op {
	ops, err := l.staging.pending()
	if err != nil {
		return nil
	}
	return ops
}

// SelfAssignSeq is called when this device holds the library's leader lease
// (internal/leader.Manager.IsLeader): it assigns dense sequence numbers,
// starting at startSeq, to every still-staged op in HLC order, then drops
// them from staging. Per spec.md §4.B, a follower that becomes leader
// resumes numbering from its highest known seq+1 — startSeq is the caller's
// responsibility to compute from Store.HighestSeq.
func (l *Log) SelfAssignSeq(ctx context.Context, libraryID string, startSeq int64) (int64, error) {
	ops, err := l.staging.pending()
	if err != nil {
		return startSeq, fmt.Errorf("synclog: list pending ops: %w", err)
	}

	seq := startSeq
	for _, op := range ops {
		if err := l.store.AssignSeq(ctx, libraryID, op.HLC().String(), seq); err != nil {
			return seq, fmt.Errorf("synclog: assign seq to %s: %w", op.HLC(), err)
		}
		if err := l.staging.delete(op.HLC().String()); err != nil {
			return seq, fmt.Errorf("synclog: unstage %s: %w", op.HLC(), err)
		}
		seq++
	}
	depthGauge.WithLabelValues().Set(float64(len(l.mustPending())))
	return seq, nil
}

// IngestRemote applies a batch of ops received from a peer, per spec.md
// §4.C: group-by-model is implicit (each op carries its own model/relation
// name), compare HLC against what's stored, apply only if strictly
// greater, and append every compared op so the log reflects ops
// superseded before arrival too. An op whose comparison fails is logged
// and counted as malformed and skipped, neither applied nor appended, so
// it never blocks the rest of the batch.
func (l *Log) IngestRemote(ctx context.Context, ops []Op) (applied int, err error) {
	log := logging.WithComponent("synclog")
	var toAppend []Op

	for _, op := range ops {
		win, err := l.winsLWW(ctx, op)
		if err != nil {
			log.Warn().Err(err).Str("op", op.HLC().String()).Msg("skipping malformed sync op")
			appliedCounter.WithLabelValues("malformed").Inc()
			continue
		}
		if !win {
			appliedCounter.WithLabelValues("stale").Inc()
			toAppend = append(toAppend, op)
			continue
		}

		if err := l.applyOne(ctx, op); err != nil {
			log.Warn().Err(err).Str("op", op.HLC().String()).Msg("failed to apply sync op, recording log entry anyway")
			appliedCounter.WithLabelValues("apply_error").Inc()
			toAppend = append(toAppend, op)
			continue
		}

		applied++
		appliedCounter.WithLabelValues("applied").Inc()
		toAppend = append(toAppend, op)
	}

	if len(toAppend) > 0 {
		if err := l.store.AppendOps(ctx, toAppend, nil); err != nil {
			return applied, fmt.Errorf("synclog: append ingested ops: %w", err)
		}
	}

	l.bus.publish(Notification{Applied: applied})
	return applied, nil
}

func (l *Log) winsLWW(ctx context.Context, op Op) (bool, error) {
	var stored string
	var ok bool
	var err error

	switch op.Kind {
	case OpKindShared:
		stored, ok, err = l.store.LastSharedHLC(ctx, op.Shared.Model, op.Shared.RecordID, op.Shared.Field)
	case OpKindRelation:
		stored, ok, err = l.store.LastRelationHLC(ctx, op.Relation.Relation, op.Relation.AID, op.Relation.BID)
	default:
		return false, fmt.Errorf("%w: unknown op kind %q", models.ErrDataShape, op.Kind)
	}
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	storedHLC, err := clock.Parse(stored)
	if err != nil {
		return false, fmt.Errorf("%w: stored HLC %q: %v", models.ErrDataShape, stored, err)
	}
	return op.HLC().Compare(storedHLC) > 0, nil
}

func (l *Log) applyOne(ctx context.Context, op Op) error {
	switch op.Kind {
	case OpKindShared:
		fn, ok := l.sharedApply[op.Shared.Model]
		if !ok {
			return nil // no domain handler registered for this model; log entry still recorded
		}
		return fn(ctx, *op.Shared)
	case OpKindRelation:
		fn, ok := l.relationApply[op.Relation.Relation]
		if !ok {
			return nil
		}
		return fn(ctx, *op.Relation)
	default:
		return fmt.Errorf("%w: unknown op kind %q", models.ErrDataShape, op.Kind)
	}
}

// BackfillRequest is the peer pagination request of spec.md §6.
type BackfillRequest struct {
	FromHLC string
	Limit   int
}

// BackfillResponse is the peer pagination response of spec.md §6.
type BackfillResponse struct {
	Ops     []Op
	HasMore bool
}

// Backfill serves a paginated slice of the log to a requesting peer,
// capping Limit at 1000 per spec.md §6.
func (l *Log) Backfill(ctx context.Context, req BackfillRequest) (BackfillResponse, error) {
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	ops, hasMore, err := l.store.OpsSince(ctx, req.FromHLC, limit)
	if err != nil {
		return BackfillResponse{}, fmt.Errorf("synclog: backfill: %w", err)
	}
	return BackfillResponse{Ops: ops, HasMore: hasMore}, nil
}
