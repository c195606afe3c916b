package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/1ureka/adrnaln/internal/protocol"
)

// bindLoopback binds a UDP transport on an ephemeral loopback port.
func bindLoopback(t *testing.T) *UDP {
	t.Helper()
	u, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(func() { u.Close() })
	return u
}

func TestBindErrors(t *testing.T) {
	taken := bindLoopback(t)

	testCases := []struct {
		name string
		addr string
	}{
		{"unparsable", "not an address"},
		{"bad port", "127.0.0.1:99999"},
		{"in use", taken.LocalAddr().String()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := Bind(tc.addr)
			if err == nil {
				u.Close()
				t.Fatal("expected bind error, got nil")
			}
			if !errors.Is(err, ErrBind) {
				t.Errorf("expected ErrBind, got %v", err)
			}
		})
	}
}

func TestSendRecv(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := bindLoopback(t)
	client := bindLoopback(t)

	sent := []*protocol.Packet{
		{SequenceID: 1, Index: 0, Filename: "a.txt", Payload: []byte("hello ")},
		{SequenceID: 1, Index: 1, Filename: "a.txt", Payload: []byte("world"), Final: true},
	}
	for _, pkt := range sent {
		if err := client.Send(ctx, server.LocalAddr(), pkt); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	for range sent {
		from, pkt, err := server.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if from.String() != client.LocalAddr().String() {
			t.Errorf("from: got %s, want %s", from, client.LocalAddr())
		}
		want := sent[pkt.Index]
		if !bytes.Equal(pkt.Payload, want.Payload) || pkt.Final != want.Final || pkt.Filename != want.Filename {
			t.Errorf("packet %d mismatch: %+v", pkt.Index, pkt)
		}
	}
}

func TestSendOversizedFrame(t *testing.T) {
	client := bindLoopback(t)

	pkt := &protocol.Packet{Payload: make([]byte, protocol.MaxFrameSize)}
	err := client.Send(context.Background(), client.LocalAddr(), pkt)
	if !errors.Is(err, ErrSend) {
		t.Fatalf("expected ErrSend, got %v", err)
	}
}

// TestRecvMalformed verifies that a garbage datagram surfaces as ErrDecode
// and does not disturb the next frame.
func TestRecvMalformed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := bindLoopback(t)

	raw, err := net.DialUDP("udp4", nil, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer raw.Close()

	if _, err := raw.Write([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	good, _ := protocol.Encode(&protocol.Packet{SequenceID: 9, Final: true, Payload: []byte("ok")})
	if _, err := raw.Write(good); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, _, err = server.Recv(ctx)
	if !errors.Is(err, protocol.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}

	_, pkt, err := server.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv after malformed frame: %v", err)
	}
	if pkt.SequenceID != 9 || string(pkt.Payload) != "ok" {
		t.Errorf("unexpected packet: %+v", pkt)
	}
}

func TestRecvCancelled(t *testing.T) {
	server := bindLoopback(t)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := server.Recv(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Recv took %v to notice cancellation", elapsed)
	}
}

func TestRecvAfterClose(t *testing.T) {
	server, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	server.Close()

	_, _, err = server.Recv(context.Background())
	if !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected net.ErrClosed, got %v", err)
	}
}

func TestDialResolvesRemote(t *testing.T) {
	server := bindLoopback(t)

	tr, remote, err := Dial(context.Background(), "", "", server.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	if remote.String() != server.LocalAddr().String() {
		t.Errorf("remote: got %s, want %s", remote, server.LocalAddr())
	}
}
