// Package transport moves raw MAVLink datagrams between the ground station and
// the flight controller. UDP is the production path; serial radios and pcap
// replays plug in through the same Connector interface.
package transport

import (
	"context"
	"errors"
	"time"
)

// DefaultPort is the MAVLink ground station UDP port.
const DefaultPort = 14550

// ReadTimeout bounds every Transport.Read so callers can observe cancellation.
const ReadTimeout = 100 * time.Millisecond

var (
	// ErrDiscoveryTimeout is returned when no MAVLink traffic arrives within
	// the discovery window.
	ErrDiscoveryTimeout = errors.New("transport: no vehicle discovered")
	// ErrClosed is returned by operations on a closed Transport.
	ErrClosed = errors.New("transport: closed")
	// ErrEndOfCapture is returned by a replay transport once the capture is
	// exhausted.
	ErrEndOfCapture = errors.New("transport: end of capture")
)

// Connector finds a vehicle and opens a session-scoped Transport to it.
type Connector interface {
	// Discover waits up to timeout for a datagram whose first byte is a
	// MAVLink start marker and returns the sender's address.
	Discover(ctx context.Context, port int, timeout time.Duration) (string, error)

	// Open binds the local endpoint and addresses remote. Only traffic from
	// remote is delivered by the returned Transport.
	Open(ctx context.Context, remote string, port int) (Transport, error)
}

// Transport is an open, bidirectional datagram channel to one vehicle.
type Transport interface {
	// Read waits at most ReadTimeout. A timeout is reported as (0, nil).
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	// RemoteAddr names the vehicle end, e.g. "192.168.4.1" or "/dev/ttyUSB0".
	RemoteAddr() string
}

// StatsCollector receives per-datagram counters from a Transport.
type StatsCollector interface {
	AddPacket(bytes int)
	AddDropped()
}

// noopStats is a StatsCollector implementation that does nothing.
// It is used as a safe default when no stats collector is provided.
type noopStats struct{}

func (noopStats) AddPacket(bytes int) {}
func (noopStats) AddDropped()         {}

func statsOrNoop(s StatsCollector) StatsCollector {
	if s == nil {
		return noopStats{}
	}
	return s
}

func isMAVLinkStart(b byte) bool {
	return b == 0xFE || b == 0xFD
}
