package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDecode marks a frame that could not be decoded. Receivers drop such
// frames and keep reading.
var ErrDecode = errors.New("malformed frame")

// Encode serializes a Packet into a frame:
//
//	[SequenceID 8][Index 4][Final 1][FilenameLen 2][Filename][PayloadLen 4][Payload]
//
// All integers are big-endian.
func Encode(pkt *Packet) ([]byte, error) {
	if len(pkt.Filename) > math.MaxUint16 {
		return nil, fmt.Errorf("filename too long: %d bytes (max %d)", len(pkt.Filename), math.MaxUint16)
	}

	buf := make([]byte, pkt.FrameSize())
	binary.BigEndian.PutUint64(buf[0:8], pkt.SequenceID)
	binary.BigEndian.PutUint32(buf[8:12], pkt.Index)
	if pkt.Final {
		buf[12] = 1
	}
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(pkt.Filename)))

	off := HeaderSize
	off += copy(buf[off:], pkt.Filename)
	binary.BigEndian.PutUint32(buf[off:off+payloadLenSize], uint32(len(pkt.Payload)))
	off += payloadLenSize
	copy(buf[off:], pkt.Payload)

	return buf, nil
}

// Decode deserializes a frame into a Packet. The returned packet does not
// alias data.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize+payloadLenSize {
		return nil, fmt.Errorf("%w: too short: %d bytes (need at least %d)",
			ErrDecode, len(data), HeaderSize+payloadLenSize)
	}

	pkt := &Packet{
		SequenceID: binary.BigEndian.Uint64(data[0:8]),
		Index:      binary.BigEndian.Uint32(data[8:12]),
		Final:      data[12] != 0,
	}

	nameLen := int(binary.BigEndian.Uint16(data[13:15]))
	off := HeaderSize
	if len(data) < off+nameLen+payloadLenSize {
		return nil, fmt.Errorf("%w: truncated filename: %d bytes left, need %d",
			ErrDecode, len(data)-off, nameLen+payloadLenSize)
	}
	pkt.Filename = string(data[off : off+nameLen])
	off += nameLen

	payloadLen := int(binary.BigEndian.Uint32(data[off : off+payloadLenSize]))
	off += payloadLenSize
	if rest := len(data) - off; rest != payloadLen {
		return nil, fmt.Errorf("%w: payload length %d does not match %d remaining bytes",
			ErrDecode, payloadLen, rest)
	}

	pkt.Payload = make([]byte, payloadLen)
	copy(pkt.Payload, data[off:])
	return pkt, nil
}
