// SPDX-License-Identifier: AGPL-3.0-or-later
// Package clock implements the hybrid logical clock (HLC) that gives the
// sync log a total, causality-respecting order over events across devices,
// per spec.md §4.A.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HLC is a triple (physical_ms, counter, device_id). Comparison is
// lexicographic on that triple, which is what gives two devices that never
// synchronized wall clocks a consistent total order.
type HLC struct {
	Timestamp uint64 // milliseconds since Unix epoch
	Counter   uint64
	DeviceID  uuid.UUID
}

// Compare returns -1, 0 or 1 as h orders before, equal to, or after other.
func (h HLC) Compare(other HLC) int {
	if h.Timestamp != other.Timestamp {
		if h.Timestamp < other.Timestamp {
			return -1
		}
		return 1
	}
	if h.Counter != other.Counter {
		if h.Counter < other.Counter {
			return -1
		}
		return 1
	}
	return strings.Compare(h.DeviceID.String(), other.DeviceID.String())
}

// Less reports whether h orders strictly before other.
func (h HLC) Less(other HLC) bool { return h.Compare(other) < 0 }

// String renders the fixed-width, lexicographically sortable form
// "{timestamp:016x}-{counter:016x}-{device_uuid}" from spec.md §6.
func (h HLC) String() string {
	return fmt.Sprintf("%016x-%016x-%s", h.Timestamp, h.Counter, h.DeviceID)
}

// Parse reverses String. Parsing is split on the first two hyphens only,
// since the UUID component itself contains hyphens.
func Parse(s string) (HLC, error) {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return HLC{}, fmt.Errorf("parse HLC %q: expected 3 parts, got %d", s, len(parts))
	}

	ts, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return HLC{}, fmt.Errorf("parse HLC %q: invalid timestamp: %w", s, err)
	}

	ctr, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return HLC{}, fmt.Errorf("parse HLC %q: invalid counter: %w", s, err)
	}

	device, err := uuid.Parse(parts[2])
	if err != nil {
		return HLC{}, fmt.Errorf("parse HLC %q: invalid device id: %w", s, err)
	}

	return HLC{Timestamp: ts, Counter: ctr, DeviceID: device}, nil
}

// nowMillis is a package variable so tests can substitute a deterministic
// clock without touching production call sites.
var nowMillis = func() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Generator produces HLCs for one device. It holds the last emitted HLC
// under a mutex; Next and Update are its only mutators, and the mutex is
// never held across I/O, matching the concurrency model in spec.md §5.
type Generator struct {
	mu       sync.Mutex
	deviceID uuid.UUID
	last     *HLC
}

// NewGenerator creates a Generator for the given device. device is normally
// the process-wide local device identity, read once at boot (spec.md §9).
func NewGenerator(device uuid.UUID) *Generator {
	return &Generator{deviceID: device}
}

// Now returns a fresh HLC with counter 0 for device, independent of any
// generator state. Used to stamp the very first event before a Generator
// has emitted anything.
func Now(device uuid.UUID) HLC {
	return HLC{Timestamp: nowMillis(), Counter: 0, DeviceID: device}
}

// Next produces the next HLC for this device: if physical time has not
// advanced past the last emission (same millisecond, or the clock stepped
// back), the last timestamp is kept and the counter increments; otherwise
// physical time advances and the counter resets to 0. Physical time never
// goes backward.
func (g *Generator) Next() HLC {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := nowMillis()
	if g.last != nil && g.last.Timestamp == now {
		next := HLC{Timestamp: now, Counter: g.last.Counter + 1, DeviceID: g.deviceID}
		g.last = &next
		return next
	}

	next := HLC{Timestamp: now, Counter: 0, DeviceID: g.deviceID}
	if g.last != nil && g.last.Timestamp > now {
		// Physical clock regressed (NTP step back); never move backward.
		next.Timestamp = g.last.Timestamp
		next.Counter = g.last.Counter + 1
	}
	g.last = &next
	return next
}

// Update folds a received HLC into local state so that every subsequent
// Next() call produces an HLC strictly greater than the received one
// (testable property 2, HLC causality). Implements the standard HLC merge
// rule: take the max of local, received and wall-clock time; break ties by
// bumping the counter past whichever inputs shared that max.
func (g *Generator) Update(received HLC) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := nowMillis()

	if g.last == nil {
		g.last = &received
		return
	}

	local := *g.last
	maxTS := local.Timestamp
	if received.Timestamp > maxTS {
		maxTS = received.Timestamp
	}
	if now > maxTS {
		maxTS = now
	}

	var merged HLC
	switch {
	case maxTS == local.Timestamp && maxTS == received.Timestamp:
		ctr := local.Counter
		if received.Counter > ctr {
			ctr = received.Counter
		}
		merged = HLC{Timestamp: maxTS, Counter: ctr + 1, DeviceID: g.deviceID}
	case maxTS == received.Timestamp:
		merged = HLC{Timestamp: maxTS, Counter: received.Counter + 1, DeviceID: g.deviceID}
	case maxTS == local.Timestamp:
		merged = local
	default: // physical time jumped ahead of both
		merged = HLC{Timestamp: maxTS, Counter: 0, DeviceID: g.deviceID}
	}

	g.last = &merged
}

// Last returns the most recently emitted or received HLC, if any.
func (g *Generator) Last() (HLC, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return HLC{}, false
	}
	return *g.last, true
}
