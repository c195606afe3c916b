// Package protocol defines the packet and sequence model of a file transfer
// and the frame format used to carry packets over the wire.
package protocol

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Size limits.
const (
	// HeaderSize is the fixed part of a frame:
	// SequenceID(8) + Index(4) + Final(1) + FilenameLen(2).
	HeaderSize = 15

	// payloadLenSize is the width of the length prefix before the payload.
	payloadLenSize = 4

	// MaxFrameSize is the largest frame a single UDP datagram can carry.
	MaxFrameSize = 65507

	// MaxChunkSize is the default payload size per packet. It leaves room
	// for the header and a long filename inside one datagram.
	MaxChunkSize = 8 * 1024
)

// Packet is one chunk of a file transfer plus its positional metadata.
type Packet struct {
	SequenceID uint64 // Transfer identifier, stable for all packets of one file
	Index      uint32 // Zero-based chunk position
	Final      bool   // Set on the last chunk of the transfer
	Filename   string // Destination base name
	Payload    []byte
}

// FrameSize returns the number of bytes Encode produces for pkt.
func (p *Packet) FrameSize() int {
	return HeaderSize + len(p.Filename) + payloadLenSize + len(p.Payload)
}

// Sequence is the complete, ordered set of packets of one file transfer.
type Sequence struct {
	Packets []*Packet // Ordered by Index ascending
}

// ID returns the transfer identifier, or 0 for an empty sequence.
func (s *Sequence) ID() uint64 {
	if len(s.Packets) == 0 {
		return 0
	}
	return s.Packets[0].SequenceID
}

// Filename returns the first non-empty filename in index order.
func (s *Sequence) Filename() string {
	for _, p := range s.Packets {
		if p.Filename != "" {
			return p.Filename
		}
	}
	return ""
}

// Len returns the total payload size in bytes.
func (s *Sequence) Len() int {
	n := 0
	for _, p := range s.Packets {
		n += len(p.Payload)
	}
	return n
}

// Bytes concatenates all payloads in order.
func (s *Sequence) Bytes() []byte {
	buf := make([]byte, 0, s.Len())
	for _, p := range s.Packets {
		buf = append(buf, p.Payload...)
	}
	return buf
}

// NewSequenceID returns a random transfer identifier taken from a v4 UUID.
func NewSequenceID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// Packetize splits data into a Sequence of packets of at most chunkSize bytes.
// Every packet carries filename. Empty data still yields one final packet so
// the receiver can detect completion.
func Packetize(sequenceID uint64, filename string, data []byte, chunkSize int) *Sequence {
	if chunkSize <= 0 {
		chunkSize = MaxChunkSize
	}

	count := (len(data) + chunkSize - 1) / chunkSize
	if count == 0 {
		count = 1
	}

	seq := &Sequence{Packets: make([]*Packet, 0, count)}
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(data))

		payload := make([]byte, end-start)
		copy(payload, data[start:end])

		seq.Packets = append(seq.Packets, &Packet{
			SequenceID: sequenceID,
			Index:      uint32(i),
			Final:      i == count-1,
			Filename:   filename,
			Payload:    payload,
		})
	}
	return seq
}
