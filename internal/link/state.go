package link

import (
	"errors"
	"time"
)

// State is the connection state of the link.
type State int

const (
	NotConnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// MarshalText renders the state as its String form in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrNotConnected is returned by commands issued while the link is not
// Connected. Nothing is encoded or written.
var ErrNotConnected = errors.New("link: not connected")

// Timing holds the supervisor's intervals and limits. Zero fields take the
// defaults from DefaultTiming.
type Timing struct {
	DiscoveryTimeout  time.Duration `json:"discovery_timeout"`
	RetryDelay        time.Duration `json:"retry_delay"`
	MaxRetries        int           `json:"max_retries"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	MaxMissedTicks    int           `json:"max_missed_ticks"`
	HeartbeatTimeout  time.Duration `json:"heartbeat_timeout"`
	MaxReadErrors     int           `json:"max_read_errors"`
	IdleSleep         time.Duration `json:"idle_sleep"`
}

// DefaultTiming returns the timing the flight controller firmware is tuned for.
func DefaultTiming() Timing {
	return Timing{
		DiscoveryTimeout:  5 * time.Second,
		RetryDelay:        2 * time.Second,
		MaxRetries:        5,
		HeartbeatInterval: 500 * time.Millisecond,
		MaxMissedTicks:    10,
		HeartbeatTimeout:  10 * time.Second,
		MaxReadErrors:     100,
		IdleSleep:         time.Millisecond,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.DiscoveryTimeout <= 0 {
		t.DiscoveryTimeout = d.DiscoveryTimeout
	}
	if t.RetryDelay <= 0 {
		t.RetryDelay = d.RetryDelay
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = d.MaxRetries
	}
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = d.HeartbeatInterval
	}
	if t.MaxMissedTicks <= 0 {
		t.MaxMissedTicks = d.MaxMissedTicks
	}
	if t.HeartbeatTimeout <= 0 {
		t.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if t.MaxReadErrors <= 0 {
		t.MaxReadErrors = d.MaxReadErrors
	}
	if t.IdleSleep <= 0 {
		t.IdleSleep = d.IdleSleep
	}
	return t
}
