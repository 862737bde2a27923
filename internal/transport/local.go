// SPDX-License-Identifier: AGPL-3.0-or-later
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/synclog"
)

const localSubscriberBuffer = 64

// localTransport is an in-process Transport: every subscriber within the
// same process receives what every publisher sends. It has no network
// dependency and is what a single-device install uses.
type localTransport struct {
	mu sync.Mutex

	opSubs        map[uuid.UUID]map[chan []synclog.Op]struct{}
	heartbeatSubs map[uuid.UUID]map[chan models.LeaderRecord]struct{}
	backfillFns   map[uuid.UUID]BackfillHandler
}

func newLocalTransport() *localTransport {
	return &localTransport{
		opSubs:        make(map[uuid.UUID]map[chan []synclog.Op]struct{}),
		heartbeatSubs: make(map[uuid.UUID]map[chan models.LeaderRecord]struct{}),
		backfillFns:   make(map[uuid.UUID]BackfillHandler),
	}
}

func (l *localTransport) Kind() Kind { return KindLocal }

func (l *localTransport) PublishOps(_ context.Context, libraryID uuid.UUID, ops []synclog.Op) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.opSubs[libraryID] {
		select {
		case ch <- ops:
		default: // slow subscriber drops a batch; it resyncs via backfill
		}
	}
	return nil
}

func (l *localTransport) SubscribeOps(_ context.Context, libraryID uuid.UUID) (<-chan []synclog.Op, func(), error) {
	ch := make(chan []synclog.Op, localSubscriberBuffer)

	l.mu.Lock()
	if l.opSubs[libraryID] == nil {
		l.opSubs[libraryID] = make(map[chan []synclog.Op]struct{})
	}
	l.opSubs[libraryID][ch] = struct{}{}
	l.mu.Unlock()

	unsubscribe := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if subs, ok := l.opSubs[libraryID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
		}
	}
	return ch, unsubscribe, nil
}

func (l *localTransport) PublishHeartbeat(_ context.Context, record models.LeaderRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.heartbeatSubs[record.LibraryID] {
		select {
		case ch <- record:
		default:
		}
	}
	return nil
}

func (l *localTransport) SubscribeHeartbeats(_ context.Context, libraryID uuid.UUID) (<-chan models.LeaderRecord, func(), error) {
	ch := make(chan models.LeaderRecord, localSubscriberBuffer)

	l.mu.Lock()
	if l.heartbeatSubs[libraryID] == nil {
		l.heartbeatSubs[libraryID] = make(map[chan models.LeaderRecord]struct{})
	}
	l.heartbeatSubs[libraryID][ch] = struct{}{}
	l.mu.Unlock()

	unsubscribe := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if subs, ok := l.heartbeatSubs[libraryID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
		}
	}
	return ch, unsubscribe, nil
}

func (l *localTransport) ServeBackfill(libraryID uuid.UUID, handler BackfillHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backfillFns[libraryID] = handler
}

func (l *localTransport) RequestBackfill(ctx context.Context, libraryID uuid.UUID, req synclog.BackfillRequest) (synclog.BackfillResponse, error) {
	l.mu.Lock()
	handler := l.backfillFns[libraryID]
	l.mu.Unlock()

	if handler == nil {
		return synclog.BackfillResponse{}, fmt.Errorf("transport: no backfill handler registered for library %s", libraryID)
	}
	return handler(ctx, req)
}

func (l *localTransport) Close() error { return nil }
