package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Path is the HTTP path the signaling server upgrades on.
const Path = "/ws"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts signaling WebSocket connections on a TCP address.
type Server struct {
	listener net.Listener
	connCh   chan *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// Listen starts a signaling server on addr ("host:port", port may be 0).
func Listen(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	s := &Server{
		listener: listener,
		connCh:   make(chan *websocket.Conn, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		Reject(conn, "shutting down")
		return
	}

	// One pending session at a time; the rest are turned away.
	select {
	case s.connCh <- conn:
	default:
		Reject(conn, "busy")
	}
}

// Accept blocks until a client connects or ctx is cancelled.
func (s *Server) Accept(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down the listener and closes any connection still waiting to
// be accepted.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
drain:
	for {
		select {
		case conn := <-s.connCh:
			conn.Close()
		default:
			break drain
		}
	}
	s.mu.Unlock()

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Reject closes conn with a policy-violation close frame.
func Reject(conn *websocket.Conn, reason string) {
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	conn.Close()
}

// Connect dials the signaling server at addr ("host:port").
func Connect(ctx context.Context, addr string) (*websocket.Conn, error) {
	url := fmt.Sprintf("ws://%s%s", addr, Path)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}
