// Package jitterbuffer implements a fixed-capacity jitter buffer for
// real-time media packet streams.
//
// It absorbs short-term variation in packet inter-arrival times so a
// downstream consumer pulling samples on its own clock sees them in
// presentation-time order at a steady cadence. Packets are re-ordered
// within a bounded window, gaps are tolerated without blocking, and a
// running RFC 3550 inter-arrival jitter estimate is maintained alongside
// the buffering logic.
//
// Every Write and Read call is allocation-free and completes in bounded
// time (O(QueueSize) worst case for an out-of-order repair). The buffer
// is not safe for concurrent use: a single producer calls Write and a
// single consumer calls Read, serialized by the caller (typically a
// receive loop and a media pacer dispatched from the same task runner).
package jitterbuffer

import (
	"time"

	"github.com/arzzra/jitterbuf/pkg/clock"
	"github.com/arzzra/jitterbuf/pkg/packet"
	"github.com/looplab/fsm"
)

// QueueSize is the fixed capacity of the ring buffer.
const QueueSize = 100

type ringSlot struct {
	occupied bool
	pkt      packet.Packet
}

// Buffer is a fixed-capacity jitter buffer. Create one with New.
type Buffer struct {
	budgetMs uint32

	clock  clock.Clock
	format clock.Format

	logger  Logger
	metrics metricsSink

	correctedDurationAccounting bool

	lifecycle *fsm.FSM

	slots       [QueueSize]ringSlot
	readCursor  int
	writeCursor int

	durationTotalMs int64
	ready           bool

	// readStarted begins true (pre-armed) and is set back to true by
	// Reset as well, so the drift-capture branch in Read is effectively
	// dead in normal operation; preserved for fidelity with the source.
	readStarted  bool
	writeStarted bool

	driftMs      int64
	timestampMs  int64

	hasPrevArrival    bool
	lastArrivalWallMs int64 // r
	lastPacketTimeMs  int64 // s

	jitterEstimate float64 // J
	jitterMax      float64 // Jm

	// nowFunc returns the current wall-clock time in milliseconds; tests
	// override it to avoid depending on real time.
	nowFunc func() int64
}

// New creates a jitter buffer that will not begin delivering packets
// until duration_total_ms first exceeds jitterBudgetMs. jitterBudgetMs
// must be non-zero.
func New(jitterBudgetMs uint32, opts ...Option) (*Buffer, error) {
	if jitterBudgetMs == 0 {
		return nil, newError(CodeInvalidBudget, "jitterBudgetMs must be non-zero")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Buffer{
		budgetMs:                    jitterBudgetMs,
		clock:                       cfg.clock,
		format:                      cfg.format,
		logger:                      cfg.logger,
		metrics:                     cfg.metrics,
		correctedDurationAccounting: cfg.correctedDurationAccounting,
		lifecycle:                   newLifecycleFSM(),
		readStarted:                 true, // pre-armed: see note on the readStarted field
		nowFunc:                     func() int64 { return time.Now().UnixMilli() },
	}

	if b.clock != nil {
		if !b.format.IsAny() {
			b.clock.SetFormat(b.format)
		}
		fireLifecycle(b.lifecycle, eventSetClock)
	}

	return b, nil
}

// SetClock configures the MediaClock used to derive presentation times.
// Must be called before the first Write.
func (b *Buffer) SetClock(c clock.Clock) {
	b.clock = c
	if c != nil && !b.format.IsAny() {
		c.SetFormat(b.format)
	}
	fireLifecycle(b.lifecycle, eventSetClock)
}

// SetFormat configures the media format propagated to the clock. The ANY
// sentinel is ignored.
func (b *Buffer) SetFormat(f clock.Format) {
	if f.IsAny() {
		return
	}
	b.format = f
	if b.clock != nil {
		b.clock.SetFormat(f)
	}
}

func inc(i, delta int) int {
	m := (i + delta) % QueueSize
	if m < 0 {
		m += QueueSize
	}
	return m
}

// Write consumes one packet: it derives a presentation time, updates the
// jitter estimator, inserts the packet into the ring with at most one
// eviction, and may latch readiness. Write never blocks and never
// allocates on this path.
func (b *Buffer) Write(p packet.Packet) error {
	if b.clock == nil {
		return newError(CodeClockNotSet, "write called before SetClock")
	}

	t := b.clock.TimeOf(p.StreamTimestamp)
	p.PresentationTimeMs = t
	now := b.nowFunc()

	// RFC 3550 §6.4.1 inter-arrival jitter estimator. Computed on every
	// arrival, even one that the late-packet guard below goes on to
	// discard.
	if b.hasPrevArrival {
		d := (now - b.lastArrivalWallMs) - (t - b.lastPacketTimeMs)
		if d < 0 {
			d = -d
		}
		b.jitterEstimate += (float64(d) - b.jitterEstimate) / 16
		if b.jitterEstimate > b.jitterMax {
			b.jitterMax = b.jitterEstimate
		}
		b.metrics.observeJitter(b.jitterEstimate, b.jitterMax)
	}
	b.lastPacketTimeMs = t
	b.lastArrivalWallMs = now
	b.hasPrevArrival = true

	// Late-packet guard: readStarted is pre-armed true from construction
	// (see field doc), so this fires whenever ready and t has already
	// been passed by the last reported local "now".
	if b.ready && b.readStarted && t <= b.timestampMs {
		b.logger.Warn("late packet discarded",
			Uint16F("sequence_number", p.SequenceNumber),
			Int64("presentation_time_ms", t),
			Int64("timestamp_ms", b.timestampMs))
		b.metrics.incLateDiscard()
		return nil
	}

	if !b.writeStarted {
		b.slots[0] = ringSlot{occupied: true, pkt: p}
		b.writeCursor = 0
		b.writeStarted = true
		fireLifecycle(b.lifecycle, eventFirstByte)
		b.maybeLatchReady()
		return nil
	}

	prevIdx := b.writeCursor
	prev := b.slots[prevIdx].pkt
	diff := int(int16(p.SequenceNumber - prev.SequenceNumber))

	switch {
	case diff == 1:
		b.writeInOrder(p, prevIdx, t)
	case diff > 1:
		b.writeGap(p, prevIdx, diff, t)
	default:
		b.writeOutOfOrder(p, diff)
	}

	b.maybeLatchReady()
	return nil
}

func (b *Buffer) writeInOrder(p packet.Packet, prevIdx int, t int64) {
	newCursor := inc(b.writeCursor, 1)
	if newCursor == b.readCursor && b.slots[newCursor].occupied {
		b.evictOne(newCursor)
		b.readCursor = inc(b.readCursor, 1)
		b.metrics.incEvictSimple()
	}
	b.writeCursor = newCursor
	b.slots[b.writeCursor] = ringSlot{occupied: true, pkt: p}

	b.closeOutDuration(prevIdx, t)
}

func (b *Buffer) writeGap(p packet.Packet, prevIdx int, diff int, t int64) {
	raw := b.writeCursor + diff
	nextWriteCursor := inc(b.writeCursor, diff)
	r, w, nw := b.readCursor, b.writeCursor, nextWriteCursor

	evict := (raw >= QueueSize && r > w && nw < r) ||
		(raw >= QueueSize && r < w && nw >= r) ||
		(raw < QueueSize && r > w && nw >= r)
	if evict {
		b.cleanOnPositiveOverflow(nw)
	}

	b.writeCursor = nextWriteCursor
	b.slots[b.writeCursor] = ringSlot{occupied: true, pkt: p}

	b.closeOutDuration(prevIdx, t)
}

// closeOutDuration finalizes the duration of the packet that used to sit
// at the write cursor: duration is always computed for the *previous*
// packet once the *next* one arrives.
func (b *Buffer) closeOutDuration(prevIdx int, t int64) {
	prev := b.slots[prevIdx].pkt
	prev.DurationMs = t - prev.PresentationTimeMs
	b.slots[prevIdx].pkt = prev
	b.durationTotalMs += prev.DurationMs
	b.metrics.observeDurationTotal(float64(b.durationTotalMs))
}

func (b *Buffer) writeOutOfOrder(p packet.Packet, diff int) {
	rightIndex := b.writeCursor
	slotIdx := inc(b.writeCursor, diff)

	b.slots[slotIdx] = ringSlot{occupied: true, pkt: p}

	// Left neighbor: walk backward, bounded by one full lap.
	for i, steps := inc(slotIdx, -1), 0; steps < QueueSize; i, steps = inc(i, -1), steps+1 {
		if b.slots[i].occupied {
			neighbor := b.slots[i].pkt
			neighbor.DurationMs = p.PresentationTimeMs - neighbor.PresentationTimeMs
			b.slots[i].pkt = neighbor
			break
		}
	}

	// Right neighbor: walk forward until a non-empty slot or rightIndex.
	for i := inc(slotIdx, 1); ; i = inc(i, 1) {
		if b.slots[i].occupied {
			rightNeighbor := b.slots[i].pkt
			p.DurationMs = rightNeighbor.PresentationTimeMs - p.PresentationTimeMs
			b.slots[slotIdx].pkt = p
			break
		}
		if i == rightIndex {
			break
		}
	}

	// The source does not sum the new packet's own duration into
	// duration_total_ms here; WithCorrectedDurationAccounting opts into
	// summing it (see config.go).
	if b.correctedDurationAccounting {
		b.durationTotalMs += p.DurationMs
		b.metrics.observeDurationTotal(float64(b.durationTotalMs))
	}
}

// cleanOnPositiveOverflow evicts the run of packets backward from nw
// that a gap-write just displaced: a lapped read cursor means the gap
// write collided with still-undelivered data, and the oldest survivor
// becomes the packet just past the new write cursor.
func (b *Buffer) cleanOnPositiveOverflow(nw int) {
	oldRead := b.readCursor
	b.readCursor = inc(nw, 1)

	for i, steps := nw, 0; steps < QueueSize; i, steps = inc(i, -1), steps+1 {
		if !b.slots[i].occupied {
			break
		}
		b.evictOne(i)
		b.metrics.incEvictPositiveOverflow()
		if i == inc(oldRead, -1) {
			break
		}
	}
}

func (b *Buffer) evictOne(idx int) {
	evicted := b.slots[idx].pkt
	b.durationTotalMs -= evicted.DurationMs
	b.slots[idx] = ringSlot{}
	b.logger.Trace("evicted packet on overflow", Uint16F("sequence_number", evicted.SequenceNumber))
}

func (b *Buffer) maybeLatchReady() {
	if !b.ready && b.durationTotalMs > int64(b.budgetMs) {
		b.ready = true
		fireLifecycle(b.lifecycle, eventReady)
		b.metrics.setReady()
		b.logger.Debug("jitter buffer ready", Int64("duration_total_ms", b.durationTotalMs))
	}
}

// Read returns the next packet in presentation-time order, or ok == false
// if the buffer has nothing ready to deliver. Read never blocks.
func (b *Buffer) Read(localNowMs int64) (p packet.Packet, ok bool) {
	if !b.ready {
		return packet.Packet{}, false
	}

	if !b.readStarted {
		b.readStarted = true
		b.driftMs = b.slots[0].pkt.PresentationTimeMs - localNowMs
	}
	b.timestampMs = localNowMs + b.driftMs

	if b.durationTotalMs == 0 {
		return packet.Packet{}, false
	}

	out := b.slots[b.readCursor].pkt
	b.slots[b.readCursor] = ringSlot{}
	b.durationTotalMs -= out.DurationMs
	b.metrics.observeDurationTotal(float64(b.durationTotalMs))
	b.readCursor = inc(b.readCursor, 1)

	for steps := 0; b.durationTotalMs >= 0 && !b.slots[b.readCursor].occupied && steps < QueueSize; steps++ {
		b.readCursor = inc(b.readCursor, 1)
	}

	return out, true
}

// Reset returns the buffer to its initial state: the buffered duration
// total, drift, previous-arrival stamps and both cursors are zeroed,
// readiness is cleared, and the underlying clock is reset. The jitter
// estimate and its maximum are not cleared. Slot contents are not
// explicitly cleared; the next Write overwrites slot 0.
func (b *Buffer) Reset() {
	b.durationTotalMs = 0
	b.driftMs = 0
	b.hasPrevArrival = false
	b.lastArrivalWallMs = 0
	b.lastPacketTimeMs = 0
	b.readCursor = 0
	b.writeCursor = 0
	b.ready = false
	b.readStarted = true
	b.writeStarted = false

	if b.clock != nil {
		b.clock.Reset()
	}
	fireLifecycle(b.lifecycle, eventReset)
}

// JitterBudget returns the configured readiness threshold, in
// milliseconds.
func (b *Buffer) JitterBudget() uint32 { return b.budgetMs }

// InterArrivalJitter returns the current RFC 3550 smoothed jitter
// estimate, in milliseconds.
func (b *Buffer) InterArrivalJitter() float64 { return b.jitterEstimate }

// MaxJitter returns the highest jitter estimate observed since
// construction; Reset does not clear it.
func (b *Buffer) MaxJitter() float64 { return b.jitterMax }

// Ready reports whether the buffer has latched readiness. Once true it
// remains true until Reset.
func (b *Buffer) Ready() bool { return b.ready }

// Stats is a point-in-time snapshot of the buffer's running state.
type Stats struct {
	DurationTotalMs int64
	Ready           bool
	JitterEstimate  float64
	JitterMax       float64
}

// Stats returns a consistent snapshot of the buffer's running
// statistics in a single call.
func (b *Buffer) Stats() Stats {
	return Stats{
		DurationTotalMs: b.durationTotalMs,
		Ready:           b.ready,
		JitterEstimate:  b.jitterEstimate,
		JitterMax:       b.jitterMax,
	}
}
