// Package server implements the receiving side of a transfer: a receive loop
// that reassembles packets into Sequences and publishes each completed
// Sequence on a bounded delivery channel.
package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/1ureka/adrnaln/internal/config"
	"github.com/1ureka/adrnaln/internal/protocol"
	"github.com/1ureka/adrnaln/internal/transport"
	"github.com/1ureka/adrnaln/internal/util"
)

// Tuning constants.
const (
	inboxBufferSize  = 64                    // decoded packets between the reader and the loop
	minSweepInterval = 10 * time.Millisecond // floor for the eviction ticker
	retryDelay       = 100 * time.Millisecond
)

// Server owns a bound transport and the reassembly state of every transfer
// in flight. Each Server is independent; nothing is shared between instances.
type Server struct {
	tr   transport.Transport
	out  chan<- *protocol.Sequence
	idle time.Duration
}

// New validates cfg and binds its local address. Errors wrap
// config.ErrInvalid or transport.ErrBind.
func New(cfg config.Configuration) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tr, err := transport.Listen(context.Background(), cfg.Network, cfg.Addresses.Local)
	if err != nil {
		return nil, err
	}

	return &Server{tr: tr, out: cfg.SequenceTx, idle: cfg.IdleTimeout}, nil
}

// NewWithTransport builds a Server around an already bound transport.
func NewWithTransport(cfg config.Configuration, tr transport.Transport) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{tr: tr, out: cfg.SequenceTx, idle: cfg.IdleTimeout}, nil
}

// LocalAddr returns the bound address.
func (s *Server) LocalAddr() net.Addr {
	return s.tr.LocalAddr()
}

// Close releases the transport. Start does this itself on return.
func (s *Server) Close() error {
	return s.tr.Close()
}

// Start runs the receive loop until ctx is cancelled and then returns nil.
// Transfers still collecting at that point are dropped, and no Sequence is
// delivered once cancellation has been observed.
//
// When the delivery channel is full the loop waits for room instead of
// dropping work; while it waits, the reader stops pulling datagrams.
func (s *Server) Start(ctx context.Context) error {
	defer s.tr.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbox := make(chan *protocol.Packet, inboxBufferSize)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.read(ctx, inbox)
	}()
	defer func() {
		cancel()
		<-readerDone
	}()

	sweep := time.NewTicker(max(s.idle/2, minSweepInterval))
	defer sweep.Stop()

	reasm := NewReassembler(s.idle)
	util.LogInfo("receiving on %s (idle timeout %v)", s.tr.LocalAddr(), s.idle)

	for {
		// Cancellation wins over any pending packet.
		if ctx.Err() != nil {
			s.logShutdown(reasm)
			return nil
		}

		select {
		case pkt := <-inbox:
			seq := reasm.Feed(pkt, time.Now())
			if seq == nil {
				continue
			}
			if !s.deliver(ctx, seq) {
				s.logShutdown(reasm)
				return nil
			}

		case now := <-sweep.C:
			reasm.Sweep(now)

		case <-ctx.Done():
			s.logShutdown(reasm)
			return nil
		}
	}
}

// deliver hands seq to the consumer, waiting for room if the channel is
// full. Returns false if ctx was cancelled first.
func (s *Server) deliver(ctx context.Context, seq *protocol.Sequence) bool {
	if ctx.Err() != nil {
		return false
	}

	select {
	case s.out <- seq:
	default:
		util.LogDebug("[%016x] delivery channel full, pausing receive", seq.ID())
		select {
		case s.out <- seq:
		case <-ctx.Done():
			return false
		}
	}

	util.Stats.AddCompleted()
	util.LogDebug("[%016x] completed %q: %d packets, %s",
		seq.ID(), seq.Filename(), len(seq.Packets), util.FormatBytes(float64(seq.Len())))
	return true
}

// read pulls packets off the transport into inbox until ctx is done or the
// transport is closed. Malformed frames and transient errors are logged and
// skipped.
func (s *Server) read(ctx context.Context, inbox chan<- *protocol.Packet) {
	for {
		from, pkt, err := s.tr.Recv(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
				return
			case errors.Is(err, protocol.ErrDecode):
				util.LogDebug("dropping frame from %v: %v", from, err)
			default:
				util.LogWarning("receive error: %v", err)
				select {
				case <-time.After(retryDelay):
				case <-ctx.Done():
					return
				}
			}
			continue
		}

		select {
		case inbox <- pkt:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) logShutdown(reasm *Reassembler) {
	if n := reasm.InFlight(); n > 0 {
		util.LogWarning("shutting down with %d incomplete transfers, discarding them", n)
		return
	}
	util.LogInfo("receive loop stopped")
}
