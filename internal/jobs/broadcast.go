// SPDX-License-Identifier: AGPL-3.0-or-later
package jobs

import (
	"sync"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// Outcome is delivered once per job, on every terminal transition. Report is
// a point-in-time copy, safe to hand to subscribers without sharing the
// worker's mutable state.
type Outcome struct {
	JobID  JobID
	Report models.JobReport
	Err    error
}

// broadcast fans Outcome values out to every subscriber without ever
// blocking the publisher on a slow subscriber (§5: "Completion output is
// delivered on an unbounded broadcast so subscribers can't backpressure
// workers."). Each subscriber owns an unbounded internal queue drained by
// one goroutine, the standard Go pattern for an "infinite channel".
type broadcast struct {
	mu   sync.Mutex
	subs []*subscriber
}

type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Outcome
	out    chan Outcome
	closed bool
}

func newBroadcast() *broadcast {
	return &broadcast{}
}

// Subscribe returns a channel of future Outcomes. Call unsubscribe (the
// returned func) when done to free the draining goroutine.
func (b *broadcast) Subscribe() (<-chan Outcome, func()) {
	s := &subscriber{out: make(chan Outcome)}
	s.cond = sync.NewCond(&s.mu)

	go s.drain()

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()

		b.mu.Lock()
		for i, sub := range b.subs {
			if sub == s {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}
	return s.out, unsubscribe
}

func (b *broadcast) publish(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.push(o)
	}
}

func (s *subscriber) push(o Outcome) {
	s.mu.Lock()
	s.queue = append(s.queue, o)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) drain() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.out <- next
	}
}
