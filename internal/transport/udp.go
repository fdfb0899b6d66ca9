package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/groundlink/internal/monitoring"
)

// defaultRcvBuf matches the receive buffer the vehicle firmware expects the
// ground station to provision for telemetry bursts.
const defaultRcvBuf = 2 * 1024 * 1024

// UDPConnectorConfig holds the optional parts of a UDPConnector. Zero
// values select real sockets, no stats and defaultRcvBuf.
type UDPConnectorConfig struct {
	Listen ListenFunc
	Stats  StatsCollector
	RcvBuf int
}

// UDPConnector discovers and talks to a vehicle over UDP.
type UDPConnector struct {
	listen ListenFunc
	stats  StatsCollector
	rcvBuf int
}

func NewUDPConnector(config UDPConnectorConfig) *UDPConnector {
	c := &UDPConnector{
		listen: config.Listen,
		stats:  statsOrNoop(config.Stats),
		rcvBuf: config.RcvBuf,
	}
	if c.listen == nil {
		c.listen = ListenUDP4
	}
	if c.rcvBuf <= 0 {
		c.rcvBuf = defaultRcvBuf
	}
	return c
}

// Discover listens on port until a MAVLink datagram arrives, the timeout
// elapses or ctx is cancelled. The discovery socket is always closed before
// returning so Open can bind the same port.
func (c *UDPConnector) Discover(ctx context.Context, port int, timeout time.Duration) (string, error) {
	sock, err := c.listen(&net.UDPAddr{Port: port})
	if err != nil {
		return "", fmt.Errorf("failed to listen on UDP port %d: %w", port, err)
	}
	defer sock.Close()

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 2048)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		wait := time.Until(deadline)
		if wait > ReadTimeout {
			wait = ReadTimeout
		}
		sock.SetReadDeadline(time.Now().Add(wait))

		n, addr, err := sock.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return "", fmt.Errorf("discovery read failed: %w", err)
		}
		if n > 0 && addr != nil && isMAVLinkStart(buf[0]) {
			monitoring.Diagf("[transport] discovered vehicle at %s", addr.IP)
			return addr.IP.String(), nil
		}
		monitoring.Tracef("[transport] ignoring %d byte non-MAVLink datagram from %v", n, addr)
	}
	return "", fmt.Errorf("%w after %v on port %d", ErrDiscoveryTimeout, timeout, port)
}

// Open binds port on all interfaces and addresses remote on the same port.
func (c *UDPConnector) Open(ctx context.Context, remote string, port int) (Transport, error) {
	ip := net.ParseIP(remote)
	if ip == nil {
		return nil, fmt.Errorf("invalid vehicle address %q", remote)
	}
	sock, err := c.listen(&net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP port %d: %w", port, err)
	}
	if err := sock.SetReadBuffer(c.rcvBuf); err != nil {
		monitoring.Opsf("[transport] warning: failed to set UDP receive buffer to %d: %v", c.rcvBuf, err)
	}
	return &udpTransport{
		sock:   sock,
		remote: &net.UDPAddr{IP: ip, Port: port},
		stats:  c.stats,
	}, nil
}

type udpTransport struct {
	sock   PacketConn
	remote *net.UDPAddr
	stats  StatsCollector

	closeOnce sync.Once
	closeErr  error
}

// Read returns the next datagram from the vehicle. Datagrams from any other
// address are dropped.
func (t *udpTransport) Read(p []byte) (int, error) {
	t.sock.SetReadDeadline(time.Now().Add(ReadTimeout))
	n, addr, err := t.sock.ReadFromUDP(p)
	if err != nil {
		if isTimeout(err) {
			return 0, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return 0, ErrClosed
		}
		return 0, err
	}
	if addr == nil || !addr.IP.Equal(t.remote.IP) {
		t.stats.AddDropped()
		monitoring.Tracef("[transport] dropped %d bytes from unexpected sender %v", n, addr)
		return 0, nil
	}
	t.stats.AddPacket(n)
	return n, nil
}

func (t *udpTransport) Write(p []byte) (int, error) {
	n, err := t.sock.WriteToUDP(p, t.remote)
	if errors.Is(err, net.ErrClosed) {
		return n, ErrClosed
	}
	return n, err
}

func (t *udpTransport) Close() error {
	t.closeOnce.Do(func() { t.closeErr = t.sock.Close() })
	return t.closeErr
}

func (t *udpTransport) RemoteAddr() string { return t.remote.IP.String() }

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
