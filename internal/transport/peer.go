package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// STUN servers for ICE candidate gathering. No TURN: peers are expected to
// reach each other directly.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this

	flushTimeout  = 2 * time.Second // upper bound for draining the send buffer on Close
	flushInterval = 10 * time.Millisecond
)

// errPeerClosed is returned by send once the DataChannel has closed.
var errPeerClosed = errors.New("data channel closed")

// peer wraps one PeerConnection and its pre-negotiated DataChannel. It
// implements signaling.Peer.
type peer struct {
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	addr Addr

	open  chan struct{}
	done  chan struct{}
	drain chan struct{}
}

// newPeer creates a PeerConnection with an unordered, zero-retransmit
// DataChannel. Negotiated mode (ID 0) lets both sides create the channel
// without waiting for OnDataChannel. onMessage receives every inbound message.
func newPeer(addr Addr, onMessage func(Addr, []byte)) (*peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		return nil, err
	}

	ordered := false
	negotiated := true
	maxRetransmits := uint16(0)
	id := uint16(0)

	dc, err := pc.CreateDataChannel("adrnaln", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}

	p := &peer{
		pc:    pc,
		dc:    dc,
		addr:  addr,
		open:  make(chan struct{}),
		done:  make(chan struct{}),
		drain: make(chan struct{}, 1),
	}

	var openOnce, doneOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(p.open) })
	})
	dc.OnClose(func() {
		doneOnce.Do(func() { close(p.done) })
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			doneOnce.Do(func() { close(p.done) })
		}
	})

	dc.SetBufferedAmountLowThreshold(lowWaterMark)
	dc.OnBufferedAmountLow(func() {
		select {
		case p.drain <- struct{}{}:
		default:
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		onMessage(addr, data)
	})

	return p, nil
}

// send writes one frame, blocking while the channel is not yet open or its
// buffer is above the high water mark.
func (p *peer) send(ctx context.Context, data []byte) error {
	select {
	case <-p.open:
	case <-p.done:
		return errPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.dc.BufferedAmount() > highWaterMark {
		select {
		case <-p.drain:
		case <-p.done:
			return errPeerClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return p.dc.Send(data)
}

// Done is closed when the DataChannel or PeerConnection goes away.
func (p *peer) Done() <-chan struct{} { return p.done }

// flush waits until frames queued by send have left the SCTP buffer, the
// channel goes away, or flushTimeout passes.
func (p *peer) flush() {
	deadline := time.Now().Add(flushTimeout)
	for p.dc.BufferedAmount() > 0 && time.Now().Before(deadline) {
		select {
		case <-p.done:
			return
		case <-time.After(flushInterval):
		}
	}
}

// Close shuts down the DataChannel and PeerConnection.
func (p *peer) Close() error {
	return errors.Join(p.dc.Close(), p.pc.Close())
}

// ---------------------------------------------------------------------------
// signaling.Peer
// ---------------------------------------------------------------------------

func (p *peer) Ready() <-chan struct{} { return p.open }

func (p *peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

func (p *peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

func (p *peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

func (p *peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// Addr identifies a DataChannel peer by its signaling address.
type Addr struct {
	ID string
}

func (a Addr) Network() string { return "webrtc" }
func (a Addr) String() string  { return a.ID }

var _ net.Addr = Addr{}
