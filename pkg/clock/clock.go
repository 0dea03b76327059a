// Package clock converts remote media timestamps (RTP wire units) into a
// local monotonic millisecond time base.
//
// The jitter buffer core depends only on the Clock interface defined here;
// it never assumes a particular sample rate or wire format. LinearClock is
// a reference implementation for fixed-rate telephony/media streams.
package clock

import "sync"

// FormatAny is the sentinel format that SetFormat must ignore.
var FormatAny = Format{}

// Format describes the media clock rate a stream is sampled at.
type Format struct {
	// Name is informational (e.g. "PCMU", "opus/48000").
	Name string
	// ClockRateHz is the number of clock ticks per second in the stream's
	// timestamp field. Zero means "unset" and is treated as FormatAny.
	ClockRateHz uint32
}

// IsAny reports whether f is the ANY sentinel.
func (f Format) IsAny() bool {
	return f == FormatAny
}

// Clock maps a remote stream timestamp to a local millisecond value.
//
// Implementations must be non-blocking and safe to call from a single
// caller per instance; the jitter buffer core never calls a Clock
// concurrently with itself.
type Clock interface {
	// SetFormat configures the clock rate used by TimeOf. Implementations
	// ignore FormatAny.
	SetFormat(format Format)
	// TimeOf converts a stream timestamp (wire units) into a local
	// millisecond value, monotonic within a single clock lifetime.
	TimeOf(streamTimestamp uint32) int64
	// Reset clears any internal rollover tracking.
	Reset()
}

// LinearClock implements Clock for a fixed-rate media stream whose 32-bit
// timestamp may roll over. It tracks rollovers by comparing each new timestamp
// against the previous one: a large backward jump is treated as a wrap of
// the 32-bit counter rather than a clock going backward.
type LinearClock struct {
	mu sync.Mutex

	rateHz uint32

	hasPrev  bool
	prevTS   uint32
	epochs   int64 // number of times the 32-bit counter has wrapped
}

// NewLinearClock creates a LinearClock at the given clock rate (Hz). A rate
// of 0 defaults to 8000 Hz, the common telephony sample rate.
func NewLinearClock(rateHz uint32) *LinearClock {
	if rateHz == 0 {
		rateHz = 8000
	}
	return &LinearClock{rateHz: rateHz}
}

// SetFormat updates the clock rate; FormatAny is ignored.
func (c *LinearClock) SetFormat(format Format) {
	if format.IsAny() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if format.ClockRateHz != 0 {
		c.rateHz = format.ClockRateHz
	}
}

// TimeOf converts a stream timestamp into milliseconds, counting the
// stream timestamp from zero and adding 2^32 ticks for every rollover
// seen since construction or the last Reset.
func (c *LinearClock) TimeOf(streamTimestamp uint32) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasPrev {
		c.hasPrev = true
		c.prevTS = streamTimestamp
	} else if streamTimestamp < c.prevTS && c.prevTS-streamTimestamp > 1<<31 {
		c.epochs++
	}
	c.prevTS = streamTimestamp

	total := c.epochs<<32 + int64(streamTimestamp)
	return total * 1000 / int64(c.rateHz)
}

// Reset clears rollover tracking; the next TimeOf call starts again with
// no rollovers counted.
func (c *LinearClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasPrev = false
	c.prevTS = 0
	c.epochs = 0
}
