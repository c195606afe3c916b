package protocol_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/1ureka/adrnaln/internal/protocol"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse
// operations across flags, filenames and payload sizes.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *protocol.Packet
	}{
		{
			name: "first chunk with filename",
			pkt: &protocol.Packet{
				SequenceID: 0x0123456789ABCDEF,
				Index:      0,
				Filename:   "report.pdf",
				Payload:    []byte("hello world"),
			},
		},
		{
			name: "final chunk",
			pkt: &protocol.Packet{
				SequenceID: 42,
				Index:      7,
				Final:      true,
				Filename:   "a.txt",
				Payload:    []byte("tail"),
			},
		},
		{
			name: "empty filename",
			pkt: &protocol.Packet{
				SequenceID: 1,
				Index:      3,
				Payload:    []byte("x"),
			},
		},
		{
			name: "empty payload (empty file)",
			pkt: &protocol.Packet{
				SequenceID: 99,
				Final:      true,
				Filename:   "empty",
				Payload:    []byte{},
			},
		},
		{
			name: "max chunk payload",
			pkt: &protocol.Packet{
				SequenceID: 0xFFFFFFFFFFFFFFFF,
				Index:      0xFFFFFFFF,
				Filename:   "big.bin",
				Payload:    make([]byte, protocol.MaxChunkSize),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := protocol.Encode(tc.pkt)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if len(encoded) != tc.pkt.FrameSize() {
				t.Fatalf("frame size: got %d, want %d", len(encoded), tc.pkt.FrameSize())
			}

			decoded, err := protocol.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.SequenceID != tc.pkt.SequenceID {
				t.Errorf("SequenceID mismatch: got 0x%016X, want 0x%016X", decoded.SequenceID, tc.pkt.SequenceID)
			}
			if decoded.Index != tc.pkt.Index {
				t.Errorf("Index mismatch: got %d, want %d", decoded.Index, tc.pkt.Index)
			}
			if decoded.Final != tc.pkt.Final {
				t.Errorf("Final mismatch: got %v, want %v", decoded.Final, tc.pkt.Final)
			}
			if decoded.Filename != tc.pkt.Filename {
				t.Errorf("Filename mismatch: got %q, want %q", decoded.Filename, tc.pkt.Filename)
			}
			if !bytes.Equal(decoded.Payload, tc.pkt.Payload) {
				t.Errorf("Payload mismatch: got %d bytes, want %d bytes", len(decoded.Payload), len(tc.pkt.Payload))
			}
		})
	}
}

// TestEncodeLayout pins the byte layout of a frame.
func TestEncodeLayout(t *testing.T) {
	pkt := &protocol.Packet{
		SequenceID: 0x0102030405060708,
		Index:      0x0A0B0C0D,
		Final:      true,
		Filename:   "ab",
		Payload:    []byte{0xEE, 0xFF},
	}

	got, err := protocol.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, // sequence id
		0x0A, 0x0B, 0x0C, 0x0D, // index
		0x01,       // final
		0x00, 0x02, // filename length
		'a', 'b',
		0x00, 0x00, 0x00, 0x02, // payload length
		0xEE, 0xFF,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("layout mismatch:\n got  % x\n want % x", got, want)
	}
}

// TestDecodeMalformed verifies that short, truncated and padded frames are
// rejected with ErrDecode.
func TestDecodeMalformed(t *testing.T) {
	valid, err := protocol.Encode(&protocol.Packet{
		SequenceID: 5,
		Index:      1,
		Filename:   "name.txt",
		Payload:    []byte("payload"),
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"1 byte", []byte{0x01}},
		{"header only", valid[:protocol.HeaderSize]},
		{"truncated filename", valid[:protocol.HeaderSize+3]},
		{"truncated payload", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte{}, valid...), 0x00)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.Decode(tc.data)
			if err == nil {
				t.Fatal("Expected error for malformed frame, got nil")
			}
			if !errors.Is(err, protocol.ErrDecode) {
				t.Errorf("Expected ErrDecode, got %v", err)
			}
		})
	}
}

// TestEncodeFilenameTooLong verifies that a filename that does not fit the
// 2-byte length prefix is refused.
func TestEncodeFilenameTooLong(t *testing.T) {
	_, err := protocol.Encode(&protocol.Packet{Filename: strings.Repeat("x", 1<<16)})
	if err == nil {
		t.Fatal("Expected error for oversized filename, got nil")
	}
}

// TestDecodePreservesPayload verifies that the payload is copied and not
// aliased to the input buffer.
func TestDecodePreservesPayload(t *testing.T) {
	encoded, err := protocol.Encode(&protocol.Packet{
		SequenceID: 10,
		Filename:   "f",
		Payload:    []byte("original"),
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := protocol.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	encoded[len(encoded)-1] = 0xFF

	if !bytes.Equal(decoded.Payload, []byte("original")) {
		t.Errorf("Payload was incorrectly aliased: got %v", decoded.Payload)
	}
}

// TestEncodeLargePayload verifies that payloads up to the frame limit are
// handled correctly.
func TestEncodeLargePayload(t *testing.T) {
	sizes := []int{
		1024,
		protocol.MaxChunkSize,
		32 * 1024,
		protocol.MaxFrameSize - protocol.HeaderSize - 4,
	}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i % 256)
			}

			encoded, err := protocol.Encode(&protocol.Packet{SequenceID: 1, Payload: payload})
			if err != nil {
				t.Fatalf("Encode failed for size %d: %v", size, err)
			}
			decoded, err := protocol.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed for size %d: %v", size, err)
			}

			if !bytes.Equal(decoded.Payload, payload) {
				t.Errorf("Payload mismatch for size %d", size)
			}
		})
	}
}
