// Package client implements the sending side of a transfer: a file is read,
// split into a Sequence and sent packet by packet without acknowledgement.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/1ureka/adrnaln/internal/config"
	"github.com/1ureka/adrnaln/internal/protocol"
	"github.com/1ureka/adrnaln/internal/transport"
	"github.com/1ureka/adrnaln/internal/util"
)

// ErrFileRead is returned when the source file cannot be read.
var ErrFileRead = errors.New("file read failed")

// Client sends files to a single remote address.
type Client struct {
	tr        transport.Transport
	remote    net.Addr
	chunkSize int
}

// New opens a UDP transport for addrs. An empty Local binds an ephemeral
// port on the wildcard address.
func New(addrs config.Addresses) (*Client, error) {
	return NewWithNetwork(context.Background(), config.NetworkUDP, addrs)
}

// NewWithNetwork is New for a specific transport network. For the webrtc
// network it blocks until the DataChannel is open or ctx is done.
func NewWithNetwork(ctx context.Context, network string, addrs config.Addresses) (*Client, error) {
	tr, remote, err := transport.Dial(ctx, network, addrs.Local, addrs.Remote)
	if err != nil {
		return nil, err
	}
	return NewWithTransport(tr, remote), nil
}

// NewWithTransport builds a Client around an existing transport.
func NewWithTransport(tr transport.Transport, remote net.Addr) *Client {
	return &Client{
		tr:        tr,
		remote:    remote,
		chunkSize: protocol.MaxChunkSize,
	}
}

// WithChunkSize sets the maximum payload per packet. Values <= 0 restore
// the default.
func (c *Client) WithChunkSize(n int) *Client {
	if n <= 0 {
		n = protocol.MaxChunkSize
	}
	c.chunkSize = n
	return c
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.tr.Close()
}

// BuildSequenceFromFile reads path and packetizes it under a fresh transfer
// id. Every packet carries the file's base name.
func (c *Client) BuildSequenceFromFile(path string) (*protocol.Sequence, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrFileRead, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
	}

	seq := protocol.Packetize(protocol.NewSequenceID(), filepath.Base(path), data, c.chunkSize)
	util.LogDebug("[%016x] built %d packets from %s (%s)",
		seq.ID(), len(seq.Packets), path, util.FormatBytes(float64(len(data))))
	return seq, nil
}

// SendSequence sends every packet in index order. There is no
// acknowledgement or retry: it returns nil once every packet has been
// handed to the transport, and stops at the first send error.
func (c *Client) SendSequence(ctx context.Context, seq *protocol.Sequence) error {
	for _, pkt := range seq.Packets {
		if err := c.tr.Send(ctx, c.remote, pkt); err != nil {
			return fmt.Errorf("[%016x] packet %d/%d: %w", pkt.SequenceID, pkt.Index+1, len(seq.Packets), err)
		}
	}

	util.LogDebug("[%016x] sent %d packets to %s", seq.ID(), len(seq.Packets), c.remote)
	return nil
}
