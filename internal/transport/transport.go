// Package transport moves encoded packets between two processes. The default
// transport is plain UDP; a WebRTC DataChannel transport carries the same
// frames over an unordered, zero-retransmit channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/adrnaln/internal/config"
	"github.com/1ureka/adrnaln/internal/protocol"
)

var (
	// ErrBind is returned when the local address is unparsable or in use.
	ErrBind = errors.New("bind failed")

	// ErrSend is returned when a packet could not be handed to the network.
	ErrSend = errors.New("send failed")
)

// readTimeout bounds how long a blocking read waits before re-checking ctx.
const readTimeout = 100 * time.Millisecond

// Transport exchanges packets with remote endpoints.
//
// Recv is meant to be called from a single goroutine. A malformed frame is
// reported as an error wrapping protocol.ErrDecode; the caller drops it and
// calls Recv again.
type Transport interface {
	Send(ctx context.Context, remote net.Addr, pkt *protocol.Packet) error
	Recv(ctx context.Context) (net.Addr, *protocol.Packet, error)
	LocalAddr() net.Addr
	Close() error
}

// Listen binds a server-side transport on local.
func Listen(ctx context.Context, network, local string) (Transport, error) {
	switch network {
	case "", config.NetworkUDP:
		return Bind(local)
	case config.NetworkWebRTC:
		return ListenDataChannel(ctx, local)
	default:
		return nil, fmt.Errorf("%w: unknown network %q", ErrBind, network)
	}
}

// Dial opens a client-side transport and returns it with the address that
// Send should target.
func Dial(ctx context.Context, network, local, remote string) (Transport, net.Addr, error) {
	switch network {
	case "", config.NetworkUDP:
		raddr, err := net.ResolveUDPAddr("udp", remote)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: resolve %s: %v", ErrSend, remote, err)
		}
		if local == "" {
			local = "0.0.0.0:0"
			if raddr.IP.To4() == nil {
				local = "[::]:0"
			}
		}
		tr, err := Bind(local)
		if err != nil {
			return nil, nil, err
		}
		return tr, raddr, nil

	case config.NetworkWebRTC:
		tr, err := DialDataChannel(ctx, remote)
		if err != nil {
			return nil, nil, err
		}
		return tr, tr.RemoteAddr(), nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown network %q", ErrBind, network)
	}
}

// isTimeout reports whether err is a read deadline expiring.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
