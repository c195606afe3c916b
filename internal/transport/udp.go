package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/1ureka/adrnaln/internal/protocol"
	"github.com/1ureka/adrnaln/internal/util"
)

// readBatchSize is the number of datagrams pulled per recvmmsg call.
const readBatchSize = 16

// UDP is a Transport over a single UDP socket. IPv4 sockets read in batches
// through ipv4.PacketConn; the batch is then served one frame per Recv.
type UDP struct {
	conn *net.UDPConn

	// IPv4 batch reads. batch is nil for IPv6 sockets.
	batch *ipv4.PacketConn
	msgs  []ipv4.Message
	ready []ipv4.Message

	buf []byte // single-read buffer for IPv6 sockets
}

// Bind opens a UDP socket on local ("host:port", port may be 0).
func Bind(local string) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBind, local, err)
	}

	network := "udp"
	if addr.IP != nil && addr.IP.To4() != nil {
		network = "udp4"
	}

	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBind, local, err)
	}

	u := &UDP{conn: conn}
	if network == "udp4" {
		u.batch = ipv4.NewPacketConn(conn)
		u.msgs = make([]ipv4.Message, readBatchSize)
		for i := range u.msgs {
			u.msgs[i].Buffers = [][]byte{make([]byte, protocol.MaxFrameSize)}
		}
	} else {
		u.buf = make([]byte, protocol.MaxFrameSize)
	}

	util.LogDebug("udp transport bound on %s", conn.LocalAddr())
	return u, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Close closes the socket; a pending Recv returns net.ErrClosed.
func (u *UDP) Close() error {
	return u.conn.Close()
}

// Send encodes pkt into one datagram and writes it to remote.
func (u *UDP) Send(ctx context.Context, remote net.Addr, pkt *protocol.Packet) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	if size := pkt.FrameSize(); size > protocol.MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrSend, size, protocol.MaxFrameSize)
	}

	data, err := protocol.Encode(pkt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}

	if _, err := u.conn.WriteTo(data, remote); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}

	util.Stats.AddSent(len(data))
	return nil
}

// Recv blocks until a frame arrives or ctx is done. It polls ctx between
// short read deadlines so a silent socket never pins the caller.
func (u *UDP) Recv(ctx context.Context) (net.Addr, *protocol.Packet, error) {
	for {
		if len(u.ready) > 0 {
			msg := u.ready[0]
			u.ready = u.ready[1:]
			return decodeFrame(msg.Addr, msg.Buffers[0][:msg.N])
		}

		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		if err := u.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil, nil, err
		}

		if u.batch != nil {
			n, err := u.batch.ReadBatch(u.msgs, 0)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				return nil, nil, err
			}
			u.ready = u.msgs[:n]
			continue
		}

		n, addr, err := u.conn.ReadFromUDP(u.buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, nil, err
		}
		return decodeFrame(addr, u.buf[:n])
	}
}

// decodeFrame decodes one frame and updates the receive counters.
func decodeFrame(from net.Addr, data []byte) (net.Addr, *protocol.Packet, error) {
	pkt, err := protocol.Decode(data)
	if err != nil {
		util.Stats.AddDropped()
		return from, nil, err
	}
	util.Stats.AddRecv(len(data))
	return from, pkt, nil
}
