// Package config holds the construction inputs for clients and servers.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/adrnaln/internal/protocol"
)

// Tuning constants.
const (
	DeliveryCapacity   = 100              // completed sequences the consumer may lag behind
	DefaultIdleTimeout = 30 * time.Second // incomplete transfers are evicted after this
)

// Network names accepted by Configuration.Network.
const (
	NetworkUDP    = "udp"
	NetworkWebRTC = "webrtc"
)

// ErrInvalid marks a Configuration that cannot be used to build a server.
var ErrInvalid = errors.New("invalid configuration")

// Addresses is the endpoint pair used to configure either role. Both are in
// host:port form and are parsed when the transport binds.
type Addresses struct {
	Local  string // Server: bind address. Client: usually "0.0.0.0:0"
	Remote string // Client: peer to send to. Unused by the server
}

// Configuration is the sole construction input of a server.
type Configuration struct {
	Addresses  Addresses
	SequenceTx chan<- *protocol.Sequence

	IdleTimeout time.Duration // zero means DefaultIdleTimeout
	Network     string        // NetworkUDP (default) or NetworkWebRTC
}

// NewDeliveryChannel returns a delivery channel with the default capacity.
func NewDeliveryChannel() chan *protocol.Sequence {
	return make(chan *protocol.Sequence, DeliveryCapacity)
}

// Validate fills defaults and reports whether the configuration is usable.
func (c *Configuration) Validate() error {
	if c.SequenceTx == nil {
		return fmt.Errorf("%w: missing sequence channel", ErrInvalid)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: negative idle timeout %v", ErrInvalid, c.IdleTimeout)
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}

	switch c.Network {
	case "":
		c.Network = NetworkUDP
	case NetworkUDP, NetworkWebRTC:
	default:
		return fmt.Errorf("%w: unknown network %q", ErrInvalid, c.Network)
	}
	return nil
}
