package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/adrnaln/internal/protocol"
	"github.com/1ureka/adrnaln/internal/signaling"
	"github.com/1ureka/adrnaln/internal/util"
)

const (
	inboxBufferSize  = 64               // inbound frames waiting for Recv
	signalingTimeout = 30 * time.Second // upper bound for one SDP/ICE exchange
)

// inbound is a raw frame from a DataChannel peer, decoded lazily by Recv.
type inbound struct {
	from Addr
	data []byte
}

// DataChannel is a Transport over a WebRTC DataChannel. The listening side
// serves WebSocket signaling on its local TCP address and talks to at most
// one peer at a time; the dialing side has exactly one peer.
type DataChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	local net.Addr
	srv   *signaling.Server // nil on the dialing side
	inbox chan inbound

	mu   sync.Mutex
	peer *peer
}

func newDataChannel(ctx context.Context, local net.Addr) *DataChannel {
	tCtx, tCancel := context.WithCancel(ctx)
	return &DataChannel{
		ctx:    tCtx,
		cancel: tCancel,
		local:  local,
		inbox:  make(chan inbound, inboxBufferSize),
	}
}

// ListenDataChannel starts signaling on local and accepts DataChannel peers
// until ctx is done or Close is called.
func ListenDataChannel(ctx context.Context, local string) (*DataChannel, error) {
	srv, err := signaling.Listen(local)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBind, local, err)
	}

	t := newDataChannel(ctx, srv.Addr())
	t.srv = srv
	go t.acceptLoop()

	util.LogDebug("datachannel transport signaling on %s", srv.Addr())
	return t, nil
}

// DialDataChannel connects to the signaling server at remote and returns
// once the DataChannel is open.
func DialDataChannel(ctx context.Context, remote string) (*DataChannel, error) {
	conn, err := signaling.Connect(ctx, remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSend, err)
	}
	defer conn.Close()

	t := newDataChannel(ctx, conn.LocalAddr())

	p, err := newPeer(Addr{ID: remote}, t.deliver)
	if err != nil {
		t.cancel()
		return nil, fmt.Errorf("%w: create peer: %v", ErrSend, err)
	}

	sCtx, sCancel := context.WithTimeout(ctx, signalingTimeout)
	defer sCancel()

	if err := signaling.Answer(sCtx, conn, p); err != nil {
		p.Close()
		t.cancel()
		return nil, fmt.Errorf("%w: %v", ErrSend, err)
	}

	t.attach(p)
	return t, nil
}

// acceptLoop runs one signaling session at a time.
func (t *DataChannel) acceptLoop() {
	for {
		conn, err := t.srv.Accept(t.ctx)
		if err != nil {
			return
		}
		t.serve(conn)
	}
}

// serve offers a DataChannel to a newly connected signaling client.
func (t *DataChannel) serve(conn *websocket.Conn) {
	if t.current() != nil {
		util.LogWarning("rejecting %s: a peer is already connected", conn.RemoteAddr())
		signaling.Reject(conn, "peer already connected")
		return
	}
	defer conn.Close()

	p, err := newPeer(Addr{ID: conn.RemoteAddr().String()}, t.deliver)
	if err != nil {
		util.LogError("failed to create peer: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(t.ctx, signalingTimeout)
	defer cancel()

	if err := signaling.Offer(ctx, conn, p); err != nil {
		util.LogWarning("signaling with %s failed: %v", p.addr, err)
		p.Close()
		return
	}

	t.attach(p)
	util.LogInfo("peer %s connected over DataChannel", p.addr)
}

// attach makes p the current peer and detaches it when it goes away.
func (t *DataChannel) attach(p *peer) {
	t.mu.Lock()
	t.peer = p
	t.mu.Unlock()

	go func() {
		select {
		case <-p.Done():
			util.LogInfo("peer %s disconnected", p.addr)
		case <-t.ctx.Done():
		}

		t.mu.Lock()
		if t.peer == p {
			t.peer = nil
		}
		t.mu.Unlock()
		p.Close()
	}()
}

func (t *DataChannel) current() *peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peer
}

// deliver queues an inbound frame. It blocks while the inbox is full so a
// slow receiver slows the SCTP reader down instead of losing frames here.
func (t *DataChannel) deliver(from Addr, data []byte) {
	select {
	case t.inbox <- inbound{from: from, data: data}:
	case <-t.ctx.Done():
	}
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// RemoteAddr returns the address of the current peer, or nil.
func (t *DataChannel) RemoteAddr() net.Addr {
	if p := t.current(); p != nil {
		return p.addr
	}
	return nil
}

// LocalAddr returns the signaling address (listening side) or the local end
// of the signaling connection (dialing side).
func (t *DataChannel) LocalAddr() net.Addr {
	return t.local
}

// Send encodes pkt and writes it to the current peer. remote may be nil;
// otherwise it must name the current peer.
func (t *DataChannel) Send(ctx context.Context, remote net.Addr, pkt *protocol.Packet) error {
	p := t.current()
	if p == nil {
		return fmt.Errorf("%w: no peer connected", ErrSend)
	}
	if remote != nil && remote.String() != p.addr.ID {
		return fmt.Errorf("%w: peer %s is not connected", ErrSend, remote)
	}
	if size := pkt.FrameSize(); size > protocol.MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrSend, size, protocol.MaxFrameSize)
	}

	data, err := protocol.Encode(pkt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}

	if err := p.send(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}

	util.Stats.AddSent(len(data))
	return nil
}

// Recv blocks until a frame arrives from any peer, ctx is done, or the
// transport is closed.
func (t *DataChannel) Recv(ctx context.Context) (net.Addr, *protocol.Packet, error) {
	select {
	case in := <-t.inbox:
		return decodeFrame(in.from, in.data)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-t.ctx.Done():
		return nil, nil, net.ErrClosed
	}
}

// Close stops signaling and disconnects the current peer once its pending
// frames have been written.
func (t *DataChannel) Close() error {
	if p := t.current(); p != nil {
		p.flush()
	}
	t.cancel()

	var err error
	if t.srv != nil {
		err = t.srv.Close()
	}

	t.mu.Lock()
	p := t.peer
	t.peer = nil
	t.mu.Unlock()

	if p != nil {
		if cerr := p.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
