package jitterbuffer

import "github.com/arzzra/jitterbuf/pkg/clock"

// Option configures a Buffer at construction time.
type Option func(*config)

type config struct {
	clock                       clock.Clock
	format                      clock.Format
	logger                      Logger
	metrics                     metricsSink
	correctedDurationAccounting bool
}

func defaultConfig() config {
	return config{
		format:  clock.FormatAny,
		logger:  NoOpLogger{},
		metrics: noOpMetrics{},
	}
}

// WithClock sets the MediaClock used to derive presentation times.
// Equivalent to calling SetClock after construction.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// WithFormat configures the media format propagated to the clock.
// FormatAny (the zero value) is ignored, matching SetFormat.
func WithFormat(f clock.Format) Option {
	return func(cfg *config) { cfg.format = f }
}

// WithLogger overrides the default no-op diagnostics sink.
func WithLogger(l Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithCorrectedDurationAccounting opts into summing a new packet's own
// duration into duration_total_ms on out-of-order (diff < 0) insertion,
// rather than preserving the source's observed under-count.
func WithCorrectedDurationAccounting() Option {
	return func(cfg *config) { cfg.correctedDurationAccounting = true }
}
