package jitterbuffer

import (
	"testing"

	"github.com/arzzra/jitterbuf/pkg/clock"
	"github.com/arzzra/jitterbuf/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identityClock maps a stream timestamp straight to milliseconds, matching
// the "clock identity: time_of(ts) = ts" assumption the scenarios below are
// written against.
type identityClock struct {
	format clock.Format
}

func (c *identityClock) SetFormat(f clock.Format) { c.format = f }
func (c *identityClock) TimeOf(ts uint32) int64    { return int64(ts) }
func (c *identityClock) Reset()                    {}

// scriptedNow feeds a fixed sequence of wall-clock milliseconds to a
// buffer's nowFunc, one value per call, so the jitter estimator can be
// driven deterministically without sleeping.
func scriptedNow(values ...int64) func() int64 {
	i := 0
	return func() int64 {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

func newTestBuffer(t *testing.T, budgetMs uint32) *Buffer {
	t.Helper()
	b, err := New(budgetMs, WithClock(&identityClock{}))
	require.NoError(t, err)
	return b
}

func pkt(seq uint16, streamTS uint32) packet.Packet {
	return packet.Packet{SequenceNumber: seq, StreamTimestamp: streamTS}
}

// TestSteadyStreamLatchesReady checks that a steady in-order stream only
// latches readiness once buffered duration strictly exceeds the jitter
// budget, not merely reaches it, and that Read delivers in arrival order.
func TestSteadyStreamLatchesReady(t *testing.T) {
	b := newTestBuffer(t, 30)

	seqs := []uint16{1, 2, 3, 4}
	tss := []uint32{0, 10, 20, 30}
	for i := range seqs {
		require.NoError(t, b.Write(pkt(seqs[i], tss[i])))
	}
	assert.False(t, b.Ready(), "duration_total_ms == budget must not latch readiness")
	assert.Equal(t, int64(30), b.Stats().DurationTotalMs)

	require.NoError(t, b.Write(pkt(5, 40)))
	assert.True(t, b.Ready(), "duration_total_ms > budget must latch readiness")
	assert.Equal(t, int64(40), b.Stats().DurationTotalMs)

	out, ok := b.Read(0)
	require.True(t, ok)
	assert.Equal(t, uint16(1), out.SequenceNumber)
	assert.Equal(t, int64(0), out.PresentationTimeMs)
	assert.Equal(t, int64(10), out.DurationMs)
}

// TestReadyMonotonic checks that once latched, readiness never goes false
// again short of Reset, even as the buffer drains empty.
func TestReadyMonotonic(t *testing.T) {
	b := newTestBuffer(t, 5)
	for i, ts := range []uint32{0, 10, 20} {
		require.NoError(t, b.Write(pkt(uint16(i+1), ts)))
	}
	require.True(t, b.Ready())

	for i := 0; i < 5; i++ {
		b.Read(int64(i))
	}
	assert.True(t, b.Ready(), "ready must stay latched even once the ring drains")

	b.Reset()
	assert.False(t, b.Ready(), "Reset is the only way to clear readiness")
}

// TestLatePacketDiscarded checks that once reading has advanced the local
// time base past a packet's presentation time, that packet is dropped
// silently and the buffered duration total is unaffected.
func TestLatePacketDiscarded(t *testing.T) {
	b := newTestBuffer(t, 30)
	seqs := []uint16{1, 2, 3, 4, 5}
	tss := []uint32{0, 10, 20, 30, 40}
	for i := range seqs {
		require.NoError(t, b.Write(pkt(seqs[i], tss[i])))
	}
	require.True(t, b.Ready())

	_, ok := b.Read(0)
	require.True(t, ok)

	_, ok = b.Read(50) // timestamp_ms becomes 50
	require.True(t, ok)
	before := b.Stats().DurationTotalMs

	require.NoError(t, b.Write(pkt(6, 40))) // 40 <= 50: discarded
	assert.Equal(t, before, b.Stats().DurationTotalMs, "a late packet must not change duration_total_ms")
}

// TestSimpleOverflowEviction checks that writing into a full ring in order
// evicts exactly the packet the write cursor is about to lap.
func TestSimpleOverflowEviction(t *testing.T) {
	b := newTestBuffer(t, 10)

	for i := 1; i <= 100; i++ {
		require.NoError(t, b.Write(pkt(uint16(i), uint32((i-1)*10))))
	}
	assert.Equal(t, 0, b.readCursor)

	require.NoError(t, b.Write(pkt(101, 1000)))
	assert.Equal(t, 1, b.readCursor, "simple overflow must advance read_cursor past the evicted slot")
	assert.True(t, b.slots[0].occupied, "the lapped slot holds the newly written packet, not the evicted one")
	assert.Equal(t, uint16(101), b.slots[0].pkt.SequenceNumber)
}

// TestGapLeavesMissingSlotEmpty checks that a single missing packet leaves
// its slot empty rather than blocking, and that Read skips over it once
// the buffer is delivering.
func TestGapLeavesMissingSlotEmpty(t *testing.T) {
	// Budget picked below duration_total_ms so readiness latches and Read
	// can be exercised; the ring mechanics under test (gap handling,
	// skip-on-read) are budget-independent.
	b := newTestBuffer(t, 15)

	require.NoError(t, b.Write(pkt(1, 0)))
	require.NoError(t, b.Write(pkt(3, 20))) // diff == 2: seq 2 never arrives

	assert.True(t, b.slots[0].occupied)
	assert.False(t, b.slots[1].occupied, "the skipped sequence number's slot stays empty")
	assert.True(t, b.slots[2].occupied)
	assert.Equal(t, int64(20), b.slots[0].pkt.DurationMs)
	assert.Equal(t, int64(20), b.Stats().DurationTotalMs)
	require.True(t, b.Ready())

	out, ok := b.Read(0)
	require.True(t, ok)
	assert.Equal(t, uint16(1), out.SequenceNumber)

	// seq 3's duration is only known once seq 4 arrives; until then
	// duration_total_ms is 0 and Read delivers nothing.
	require.NoError(t, b.Write(pkt(4, 30)))

	out, ok = b.Read(0)
	require.True(t, ok)
	assert.Equal(t, uint16(3), out.SequenceNumber, "Read must skip the empty gap slot")
}

// TestOutOfOrderInsertionOrdering checks that a packet arriving behind the
// write cursor is slotted into its presentation-time position and its
// neighbors' durations are repaired around it.
func TestOutOfOrderInsertionOrdering(t *testing.T) {
	b := newTestBuffer(t, 50)

	require.NoError(t, b.Write(pkt(1, 0)))
	require.NoError(t, b.Write(pkt(2, 10)))
	require.NoError(t, b.Write(pkt(4, 30)))
	require.NoError(t, b.Write(pkt(3, 20))) // diff == -1: slots into position 2

	wantOrder := []int64{0, 10, 20, 30}
	for i, want := range wantOrder {
		require.True(t, b.slots[i].occupied, "slot %d should be occupied", i)
		assert.Equal(t, want, b.slots[i].pkt.PresentationTimeMs, "slot %d presentation time", i)
	}
	assert.Equal(t, uint16(3), b.slots[2].pkt.SequenceNumber)
	// Left neighbor (seq 2) duration is replaced to reach the inserted
	// packet, and the inserted packet's own duration runs up to its right
	// neighbor (seq 4); the new
	// packet's own duration is not summed into duration_total_ms by
	// default (see TestCorrectedDurationAccountingOptIn).
	assert.Equal(t, int64(10), b.slots[1].pkt.DurationMs)
	assert.Equal(t, int64(10), b.slots[2].pkt.DurationMs)
}

// TestCorrectedDurationAccountingOptIn exercises the opt-in fix for the
// out-of-order duration under-count: with the flag set, the inserted
// packet's own duration is added to duration_total_ms.
func TestCorrectedDurationAccountingOptIn(t *testing.T) {
	b, err := New(50, WithClock(&identityClock{}), WithCorrectedDurationAccounting())
	require.NoError(t, err)

	require.NoError(t, b.Write(pkt(1, 0)))
	require.NoError(t, b.Write(pkt(2, 10)))
	require.NoError(t, b.Write(pkt(4, 30)))
	before := b.Stats().DurationTotalMs

	require.NoError(t, b.Write(pkt(3, 20)))
	after := b.Stats().DurationTotalMs
	assert.Equal(t, before+10, after, "corrected mode sums the inserted packet's own duration")
}

// TestJitterEstimatorSmoke checks that a constant-interval stream keeps the
// RFC 3550 estimate at zero, and that a single late arrival nudges it and
// the running maximum by the textbook amount.
func TestJitterEstimatorSmoke(t *testing.T) {
	b := newTestBuffer(t, 1000)
	b.nowFunc = scriptedNow(0, 10, 20, 30, 60)

	require.NoError(t, b.Write(pkt(1, 0)))
	require.NoError(t, b.Write(pkt(2, 10)))
	require.NoError(t, b.Write(pkt(3, 20)))
	assert.Equal(t, 0.0, b.InterArrivalJitter())

	require.NoError(t, b.Write(pkt(4, 30))) // arrival at 30, wall delta 10, ts delta 10: D=0
	assert.Equal(t, 0.0, b.InterArrivalJitter())

	require.NoError(t, b.Write(pkt(5, 40))) // arrival at 60 (20ms late), wall delta 30, ts delta 10: D=20
	assert.InDelta(t, 1.25, b.InterArrivalJitter(), 1e-9)
	assert.InDelta(t, 1.25, b.MaxJitter(), 1e-9)
}

// TestCapacityBound checks that a long in-order stream, which keeps
// lapping the ring through simple-overflow eviction, never lets occupancy
// exceed QueueSize.
func TestCapacityBound(t *testing.T) {
	b := newTestBuffer(t, 1)
	for i := 1; i <= 500; i++ {
		require.NoError(t, b.Write(pkt(uint16(i), uint32((i-1)*10))))
		occupied := 0
		for _, s := range b.slots {
			if s.occupied {
				occupied++
			}
		}
		require.LessOrEqual(t, occupied, QueueSize)
	}
}

// TestWriteBeforeClockSet covers the documented misuse precondition: Write
// returns an error rather than panicking or silently deriving garbage.
func TestWriteBeforeClockSet(t *testing.T) {
	b, err := New(10)
	require.NoError(t, err)

	err = b.Write(pkt(1, 0))
	require.Error(t, err)
	var jbErr *Error
	require.ErrorAs(t, err, &jbErr)
	assert.Equal(t, CodeClockNotSet, jbErr.Code)
}

// TestNewRejectsZeroBudget covers construction-time validation: the
// jitter budget is required, not defaulted.
func TestNewRejectsZeroBudget(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
	var jbErr *Error
	require.ErrorAs(t, err, &jbErr)
	assert.Equal(t, CodeInvalidBudget, jbErr.Code)
}

// TestResetReturnsToInitialState checks that the buffered duration total,
// cursors, and readiness all return to their construction-time values.
func TestResetReturnsToInitialState(t *testing.T) {
	b := newTestBuffer(t, 10)
	for i, ts := range []uint32{0, 10, 20, 30} {
		require.NoError(t, b.Write(pkt(uint16(i+1), ts)))
	}
	require.True(t, b.Ready())

	b.Reset()

	assert.False(t, b.Ready())
	assert.Equal(t, int64(0), b.Stats().DurationTotalMs)
	assert.Equal(t, 0, b.readCursor)
	assert.Equal(t, 0, b.writeCursor)
	assert.False(t, b.writeStarted)

	require.NoError(t, b.Write(pkt(1, 0)))
	assert.True(t, b.slots[0].occupied)
	assert.Equal(t, uint16(1), b.slots[0].pkt.SequenceNumber)
}

// TestFormatAnySentinelIgnored checks that SetFormat(ANY) leaves the
// buffer's stored format at the ANY sentinel.
func TestFormatAnySentinelIgnored(t *testing.T) {
	b := newTestBuffer(t, 10)
	b.SetFormat(clock.FormatAny)
	assert.True(t, b.format.IsAny())
}
