// Package packet defines the media packet carrier the jitter buffer stores
// and delivers. It is intentionally thin: RTP wire parsing is an external
// collaborator, not this package's job.
package packet

import "github.com/pion/rtp"

// Packet is the unit the jitter buffer stores. SequenceNumber and
// StreamTimestamp arrive from the wire unchanged; PresentationTimeMs and
// DurationMs are derived and written by the jitter buffer itself.
type Packet struct {
	SequenceNumber  uint16
	StreamTimestamp uint32

	// PresentationTimeMs and DurationMs are set by the jitter buffer on
	// write; a caller constructing a Packet does not need to populate
	// them.
	PresentationTimeMs int64
	DurationMs         int64

	Payload []byte
}

// FromRTP adapts a pion/rtp packet into the jitter buffer's carrier type.
// Payload is referenced, not copied; callers that reuse the underlying
// rtp.Packet buffer after handing it to the jitter buffer must clone
// Payload themselves first.
func FromRTP(p *rtp.Packet) Packet {
	return Packet{
		SequenceNumber:  p.SequenceNumber,
		StreamTimestamp: p.Timestamp,
		Payload:         p.Payload,
	}
}
