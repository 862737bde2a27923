// SPDX-License-Identifier: AGPL-3.0-or-later
package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"

	"github.com/spacedriveapp/spacedrive-core/internal/logging"
	"github.com/spacedriveapp/spacedrive-core/internal/models"
	"github.com/spacedriveapp/spacedrive-core/internal/synclog"
)

// relayTransport is the networked Transport: sync ops and leader heartbeats
// publish/subscribe over NATS JetStream through Watermill, and backfill is
// a plain NATS request-reply round trip (JetStream's at-least-once delivery
// isn't needed for a request the caller times out and retries itself).
//
// Grounded on the teacher's internal/eventprocessor NATS wiring
// (publisher.go, subscriber.go, server.go): same watermill-nats marshaler,
// same reconnect/retry NATS options, same embedded-server-for-standalone-
// installs fallback.
type relayTransport struct {
	embedded *natsserver.Server
	conn     *natsgo.Conn
	pub      message.Publisher
	sub      message.Subscriber
	wmLogger watermill.LoggerAdapter

	mu          sync.Mutex
	backfillFns map[uuid.UUID]BackfillHandler
	backfillSub *natsgo.Subscription
}

func newRelayTransport(cfg Config) (*relayTransport, error) {
	url := cfg.NATSURL

	var embedded *natsserver.Server
	if cfg.EmbeddedServer {
		ns, err := natsserver.NewServer(&natsserver.Options{
			ServerName: "spacedrive-sync-" + cfg.DeviceID.String(),
			JetStream:  true,
			StoreDir:   cfg.StoreDir,
			DontListen: false,
		})
		if err != nil {
			return nil, fmt.Errorf("transport: create embedded NATS server: %w", err)
		}
		ns.ConfigureLogger()
		go ns.Start()
		if !ns.ReadyForConnections(30 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("transport: embedded NATS server not ready within timeout")
		}
		embedded = ns
		url = ns.ClientURL()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
	}

	conn, err := natsgo.Connect(url, natsOpts...)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, fmt.Errorf("transport: connect to NATS: %w", err)
	}

	wmLogger := watermill.NewStdLogger(false, false)

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}, wmLogger)
	if err != nil {
		conn.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, fmt.Errorf("transport: create watermill publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: "sync-" + cfg.DeviceID.String(),
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			AckAsync:      false,
		},
	}, wmLogger)
	if err != nil {
		pub.Close()
		conn.Close()
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, fmt.Errorf("transport: create watermill subscriber: %w", err)
	}

	return &relayTransport{
		embedded:    embedded,
		conn:        conn,
		pub:         pub,
		sub:         sub,
		wmLogger:    wmLogger,
		backfillFns: make(map[uuid.UUID]BackfillHandler),
	}, nil
}

func (r *relayTransport) Kind() Kind { return KindRelay }

func (r *relayTransport) PublishOps(_ context.Context, libraryID uuid.UUID, ops []synclog.Op) error {
	data, err := encodeOps(ops)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := r.pub.Publish(opsSubject(libraryID.String()), msg); err != nil {
		return fmt.Errorf("transport: publish ops: %w", err)
	}
	return nil
}

func (r *relayTransport) SubscribeOps(ctx context.Context, libraryID uuid.UUID) (<-chan []synclog.Op, func(), error) {
	msgs, err := r.sub.Subscribe(ctx, opsSubject(libraryID.String()))
	if err != nil {
		return nil, nil, fmt.Errorf("transport: subscribe ops: %w", err)
	}

	out := make(chan []synclog.Op, localSubscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ops, err := decodeOps(msg.Payload)
				if err != nil {
					msg.Nack()
					continue
				}
				msg.Ack()
				select {
				case out <- ops:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() { close(done) }
	return out, unsubscribe, nil
}

func (r *relayTransport) PublishHeartbeat(_ context.Context, record models.LeaderRecord) error {
	data, err := encodeHeartbeat(record)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := r.pub.Publish(heartbeatSubject(record.LibraryID.String()), msg); err != nil {
		return fmt.Errorf("transport: publish heartbeat: %w", err)
	}
	return nil
}

func (r *relayTransport) SubscribeHeartbeats(ctx context.Context, libraryID uuid.UUID) (<-chan models.LeaderRecord, func(), error) {
	msgs, err := r.sub.Subscribe(ctx, heartbeatSubject(libraryID.String()))
	if err != nil {
		return nil, nil, fmt.Errorf("transport: subscribe heartbeats: %w", err)
	}

	out := make(chan models.LeaderRecord, localSubscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				record, err := decodeHeartbeat(msg.Payload)
				if err != nil {
					msg.Nack()
					continue
				}
				msg.Ack()
				select {
				case out <- record:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() { close(done) }
	return out, unsubscribe, nil
}

// ServeBackfill registers a handler and, on first registration, starts a
// plain NATS subscription answering backfill requests via request-reply
// (JetStream durability buys nothing for a call the requester times out
// and retries).
func (r *relayTransport) ServeBackfill(libraryID uuid.UUID, handler BackfillHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.backfillFns[libraryID] = handler
	if r.backfillSub != nil {
		return
	}

	sub, err := r.conn.Subscribe("sync.backfill.*", func(msg *natsgo.Msg) {
		r.handleBackfillRequest(msg)
	})
	if err != nil {
		logging.WithComponent("transport").Warn().Err(err).Msg("failed to subscribe to backfill requests")
		return
	}
	r.backfillSub = sub
}

func (r *relayTransport) handleBackfillRequest(msg *natsgo.Msg) {
	libraryID, err := uuid.Parse(strings.TrimPrefix(msg.Subject, "sync.backfill."))
	if err != nil {
		return
	}

	r.mu.Lock()
	handler := r.backfillFns[libraryID]
	r.mu.Unlock()
	if handler == nil {
		return
	}

	req, err := decodeBackfillRequest(msg.Data)
	if err != nil {
		return
	}

	resp, err := handler(context.Background(), req)
	if err != nil {
		return
	}

	data, err := encodeBackfillResponse(resp)
	if err != nil {
		return
	}
	_ = msg.Respond(data)
}

func (r *relayTransport) RequestBackfill(ctx context.Context, libraryID uuid.UUID, req synclog.BackfillRequest) (synclog.BackfillResponse, error) {
	data, err := encodeBackfillRequest(req)
	if err != nil {
		return synclog.BackfillResponse{}, err
	}

	reply, err := r.conn.RequestWithContext(ctx, backfillSubject(libraryID.String()), data)
	if err != nil {
		return synclog.BackfillResponse{}, fmt.Errorf("transport: request backfill: %w", err)
	}

	return decodeBackfillResponse(reply.Data)
}

func (r *relayTransport) Close() error {
	r.mu.Lock()
	if r.backfillSub != nil {
		_ = r.backfillSub.Unsubscribe()
	}
	r.mu.Unlock()

	if err := r.sub.Close(); err != nil {
		return fmt.Errorf("transport: close subscriber: %w", err)
	}
	if err := r.pub.Close(); err != nil {
		return fmt.Errorf("transport: close publisher: %w", err)
	}
	r.conn.Close()
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	return nil
}
