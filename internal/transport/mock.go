package transport

import (
	"context"
	"sync"
	"time"
)

// MockConnector implements Connector for tests. Discover returns Address (or
// DiscoverErr); every Open returns a fresh MockTransport that is also
// published on Opened.
type MockConnector struct {
	mu          sync.Mutex
	Address     string
	DiscoverErr error
	OpenErr     error

	discoverCalls int
	transports    []*MockTransport
}

// NewMockConnector returns a connector that discovers address.
func NewMockConnector(address string) *MockConnector {
	return &MockConnector{Address: address}
}

func (c *MockConnector) Discover(ctx context.Context, port int, timeout time.Duration) (string, error) {
	c.mu.Lock()
	c.discoverCalls++
	addr, err := c.Address, c.DiscoverErr
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return addr, nil
}

func (c *MockConnector) Open(ctx context.Context, remote string, port int) (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	t := NewMockTransport(remote)
	c.transports = append(c.transports, t)
	return t, nil
}

// SetDiscoverErr changes the Discover outcome for subsequent calls.
func (c *MockConnector) SetDiscoverErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DiscoverErr = err
}

// DiscoverCalls reports how many times Discover ran.
func (c *MockConnector) DiscoverCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discoverCalls
}

// Last returns the most recently opened transport, or nil.
func (c *MockConnector) Last() *MockTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.transports) == 0 {
		return nil
	}
	return c.transports[len(c.transports)-1]
}

// MockTransport is an in-memory Transport. Inject queues inbound data;
// Written returns outbound writes.
type MockTransport struct {
	mu       sync.Mutex
	remote   string
	inbox    [][]byte
	written  [][]byte
	readErr  error
	writeErr error
	closed   bool
}

// NewMockTransport returns an open transport to remote.
func NewMockTransport(remote string) *MockTransport {
	return &MockTransport{remote: remote}
}

// Inject queues data to be returned by a future Read.
func (t *MockTransport) Inject(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox = append(t.inbox, append([]byte(nil), data...))
}

// SetReadErr makes every Read fail with err until cleared with nil.
func (t *MockTransport) SetReadErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErr = err
}

// SetWriteErr makes every Write fail with err until cleared with nil.
func (t *MockTransport) SetWriteErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

func (t *MockTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	if t.readErr != nil {
		err := t.readErr
		t.mu.Unlock()
		return 0, err
	}
	if len(t.inbox) == 0 {
		t.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	data := t.inbox[0]
	t.inbox = t.inbox[1:]
	t.mu.Unlock()
	return copy(p, data), nil
}

func (t *MockTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	t.written = append(t.written, append([]byte(nil), p...))
	return len(p), nil
}

// Written returns a copy of every write so far.
func (t *MockTransport) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.written...)
}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether Close was called.
func (t *MockTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *MockTransport) RemoteAddr() string { return t.remote }
