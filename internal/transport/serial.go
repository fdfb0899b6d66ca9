package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/groundlink/internal/monitoring"
)

// SerialPorter is the subset of serial.Port the connector needs.
type SerialPorter interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialPortOpener opens a serial port. Tests replace it to avoid hardware.
type SerialPortOpener func(path string, mode *serial.Mode) (SerialPorter, error)

func openSerialPort(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// SerialConnector reaches the vehicle through a telemetry radio or USB serial
// link. The port argument of Discover and Open is ignored; Path selects the
// device.
type SerialConnector struct {
	Path    string
	Options PortOptions
	Opener  SerialPortOpener
	Stats   StatsCollector
}

func (c *SerialConnector) open() (SerialPorter, error) {
	mode, err := c.Options.SerialMode()
	if err != nil {
		return nil, err
	}
	opener := c.Opener
	if opener == nil {
		opener = openSerialPort
	}
	port, err := opener(c.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s at %s: %w", c.Path, c.Options, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", c.Path, err)
	}
	return port, nil
}

// Discover opens the device and waits for any MAVLink start byte. A serial
// link has exactly one peer, so the device path is its address.
func (c *SerialConnector) Discover(ctx context.Context, _ int, timeout time.Duration) (string, error) {
	port, err := c.open()
	if err != nil {
		return "", err
	}
	defer port.Close()

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 512)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("discovery read failed on %s: %w", c.Path, err)
		}
		for _, b := range buf[:n] {
			if isMAVLinkStart(b) {
				monitoring.Diagf("[transport] MAVLink traffic on %s", c.Path)
				return c.Path, nil
			}
		}
	}
	return "", fmt.Errorf("%w after %v on %s", ErrDiscoveryTimeout, timeout, c.Path)
}

// Open opens the device for a link session.
func (c *SerialConnector) Open(ctx context.Context, _ string, _ int) (Transport, error) {
	port, err := c.open()
	if err != nil {
		return nil, err
	}
	return &serialTransport{port: port, path: c.Path, stats: statsOrNoop(c.Stats)}, nil
}

type serialTransport struct {
	port  SerialPorter
	path  string
	stats StatsCollector

	mu     sync.Mutex
	closed bool
}

func (t *serialTransport) Read(p []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrClosed
	}
	n, err := t.port.Read(p)
	if err != nil {
		if t.isClosed() || errors.Is(err, io.EOF) {
			return 0, ErrClosed
		}
		return 0, err
	}
	if n > 0 {
		t.stats.AddPacket(n)
	}
	return n, nil
}

func (t *serialTransport) Write(p []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrClosed
	}
	return t.port.Write(p)
}

func (t *serialTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.port.Close()
}

func (t *serialTransport) RemoteAddr() string { return t.path }

func (t *serialTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
