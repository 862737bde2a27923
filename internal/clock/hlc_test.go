// SPDX-License-Identifier: AGPL-3.0-or-later
package clock

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// withFakeClock swaps nowMillis for a deterministic source for the duration
// of one test, mirroring the Rust suite's FakeTimeSource.
func withFakeClock(t *testing.T, start uint64) (advance func(ms uint64)) {
	t.Helper()
	cur := start
	orig := nowMillis
	nowMillis = func() uint64 { return cur }
	t.Cleanup(func() { nowMillis = orig })
	return func(ms uint64) { cur += ms }
}

func TestHLCGeneration(t *testing.T) {
	withFakeClock(t, 1000)
	device := uuid.New()

	h := Now(device)
	require.Equal(t, uint64(1000), h.Timestamp)
	require.Equal(t, uint64(0), h.Counter)
	require.Equal(t, device, h.DeviceID)
}

func TestHLCOrdering(t *testing.T) {
	d1, d2 := uuid.New(), uuid.New()

	earlier := HLC{Timestamp: 100, Counter: 0, DeviceID: d1}
	later := HLC{Timestamp: 200, Counter: 0, DeviceID: d1}
	require.True(t, earlier.Less(later))
	require.Equal(t, -1, earlier.Compare(later))

	sameTS1 := HLC{Timestamp: 100, Counter: 1, DeviceID: d1}
	sameTS2 := HLC{Timestamp: 100, Counter: 2, DeviceID: d1}
	require.True(t, sameTS1.Less(sameTS2))

	// Tie on timestamp and counter breaks on device ID string order.
	tieA := HLC{Timestamp: 100, Counter: 0, DeviceID: d1}
	tieB := HLC{Timestamp: 100, Counter: 0, DeviceID: d2}
	if d1.String() < d2.String() {
		require.True(t, tieA.Less(tieB))
	} else {
		require.True(t, tieB.Less(tieA))
	}
}

func TestHLCUpdateCausality(t *testing.T) {
	advance := withFakeClock(t, 1000)
	local := uuid.New()
	remote := uuid.New()

	gen := NewGenerator(local)
	first := gen.Next()
	require.Equal(t, uint64(1000), first.Timestamp)

	// A remote event from far in the future must pull local state forward,
	// and every subsequent Next() must strictly exceed it.
	future := HLC{Timestamp: 5000, Counter: 3, DeviceID: remote}
	gen.Update(future)

	advance(0)
	after := gen.Next()
	require.True(t, future.Less(after), "generated HLC must exceed the received one")
}

func TestHLCUpdateLocalAhead(t *testing.T) {
	withFakeClock(t, 1000)
	local := uuid.New()
	remote := uuid.New()

	gen := NewGenerator(local)
	_ = gen.Next() // (1000, 0)

	// Remote event from the past must not move local state backward.
	past := HLC{Timestamp: 500, Counter: 9, DeviceID: remote}
	gen.Update(past)

	last, ok := gen.Last()
	require.True(t, ok)
	require.Equal(t, uint64(1000), last.Timestamp)
}

func TestHLCStringRoundtrip(t *testing.T) {
	device := uuid.New()
	h := HLC{Timestamp: 0xdeadbeef, Counter: 42, DeviceID: device}

	s := h.String()
	require.Len(t, s, 16+1+16+1+36)

	parsed, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestHLCStringRoundtripZero(t *testing.T) {
	h := HLC{Timestamp: 0, Counter: 0, DeviceID: uuid.Nil}
	parsed, err := Parse(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("not-an-hlc")
	require.Error(t, err)

	_, err = Parse("zzzz-0000-" + uuid.New().String())
	require.Error(t, err)

	_, err = Parse("0000000000000001-0000000000000000-not-a-uuid")
	require.Error(t, err)
}

func TestGeneratorMonotonicWithinSameMillisecond(t *testing.T) {
	withFakeClock(t, 42)
	gen := NewGenerator(uuid.New())

	a := gen.Next()
	b := gen.Next()
	c := gen.Next()

	require.True(t, a.Less(b))
	require.True(t, b.Less(c))
	require.Equal(t, a.Timestamp, b.Timestamp)
	require.Equal(t, a.Counter+1, b.Counter)
}

func TestGeneratorAdvancesWithPhysicalTime(t *testing.T) {
	advance := withFakeClock(t, 42)
	gen := NewGenerator(uuid.New())

	a := gen.Next()
	advance(5)
	b := gen.Next()

	require.True(t, a.Less(b))
	require.Equal(t, uint64(47), b.Timestamp)
	require.Equal(t, uint64(0), b.Counter)
}

func TestGeneratorCausalityTrackingAcrossMultipleUpdates(t *testing.T) {
	withFakeClock(t, 100)
	local := uuid.New()
	gen := NewGenerator(local)
	_ = gen.Next()

	remote1 := uuid.New()
	remote2 := uuid.New()

	gen.Update(HLC{Timestamp: 100, Counter: 5, DeviceID: remote1})
	gen.Update(HLC{Timestamp: 100, Counter: 3, DeviceID: remote2})

	last, ok := gen.Last()
	require.True(t, ok)
	require.Equal(t, uint64(100), last.Timestamp)
	require.Equal(t, uint64(7), last.Counter, "counter must exceed the highest seen counter at that timestamp")

	next := gen.Next()
	require.True(t, last.Less(next))
}
