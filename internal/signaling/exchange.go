package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/adrnaln/internal/util"
)

// readyGrace is how long to wait for the local channel to open after the
// WebSocket has gone away.
const readyGrace = 5 * time.Second

// Peer is the side of a PeerConnection that signaling needs.
type Peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	OnICECandidate(func(*webrtc.ICECandidate))
	AddICECandidate(webrtc.ICECandidateInit) error

	// Ready is closed once the DataChannel is open.
	Ready() <-chan struct{}
}

// Offer runs the offering side of the exchange: it sends an SDP offer,
// applies the answer and trickles ICE candidates in both directions. It
// returns once the peer is ready, the WebSocket fails, or ctx is done.
func Offer(ctx context.Context, conn *websocket.Conn, p Peer) error {
	x := newExchange(conn, p)

	offer, err := p.CreateOffer()
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := p.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	if err := x.send(message{Type: msgTypeOffer, SDP: offer.SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	return x.wait(ctx)
}

// Answer runs the answering side of the exchange.
func Answer(ctx context.Context, conn *websocket.Conn, p Peer) error {
	return newExchange(conn, p).wait(ctx)
}

// exchange serializes WebSocket writes and owns the read loop of one
// signaling session.
type exchange struct {
	conn *websocket.Conn
	peer Peer
	mu   sync.Mutex
}

func newExchange(conn *websocket.Conn, p Peer) *exchange {
	x := &exchange{conn: conn, peer: p}

	// Trickle ICE candidates. Errors are ignored: a candidate lost after the
	// channel opened is harmless, and before that the read loop reports it.
	p.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		_ = x.send(message{Type: msgTypeCandidate, Candidate: string(data)})
	})

	return x
}

// send writes a signaling message to the WebSocket, guarded by a mutex.
func (x *exchange) send(msg message) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.conn.WriteJSON(msg)
}

// wait starts the read loop and blocks until the peer is ready.
func (x *exchange) wait(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- x.watch()
	}()

	select {
	case <-x.peer.Ready():
		return nil
	case err := <-errCh:
		// The remote side closes the WebSocket as soon as its own channel
		// opens, which can be slightly before ours does.
		grace := time.NewTimer(readyGrace)
		defer grace.Stop()
		select {
		case <-x.peer.Ready():
			return nil
		case <-grace.C:
			return fmt.Errorf("signaling failed: %w", err)
		case <-ctx.Done():
			return fmt.Errorf("signaling failed: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch reads offers, answers and candidates until the WebSocket closes.
func (x *exchange) watch() error {
	for {
		var msg message
		if err := x.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read WS message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := x.peer.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			answer, err := x.peer.CreateAnswer()
			if err != nil {
				return fmt.Errorf("CreateAnswer: %w", err)
			}
			if err := x.peer.SetLocalDescription(answer); err != nil {
				return fmt.Errorf("SetLocalDescription: %w", err)
			}
			if err := x.send(message{Type: msgTypeAnswer, SDP: answer.SDP}); err != nil {
				return fmt.Errorf("send answer: %w", err)
			}

		case msgTypeAnswer:
			if err := x.peer.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("parse ICE candidate: %w", err)
			}
			if err := x.peer.AddICECandidate(init); err != nil {
				util.LogDebug("AddICECandidate failed: %v", err)
			}

		default:
			util.LogDebug("ignoring signaling message of type %q", msg.Type)
		}
	}
}
