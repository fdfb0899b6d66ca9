package transport

import (
	"net"
	"sync"
	"time"
)

// PacketConn is the part of *net.UDPConn the UDP connector uses.
type PacketConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// ListenFunc binds an IPv4 UDP socket on laddr.
type ListenFunc func(laddr *net.UDPAddr) (PacketConn, error)

// ListenUDP4 is the ListenFunc used outside tests.
func ListenUDP4(laddr *net.UDPAddr) (PacketConn, error) {
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Datagram is one queued or captured packet on a FakeConn.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// FakeConn is an in-memory PacketConn. Reads pop queued datagrams and time
// out when the queue is empty; writes are captured for inspection.
type FakeConn struct {
	mu      sync.Mutex
	queue   []Datagram
	written []Datagram
	rcvBuf  int
	readErr error
	sendErr error
	closed  bool
}

func NewFakeConn(queued ...Datagram) *FakeConn {
	return &FakeConn{queue: queued}
}

// Deliver queues a datagram as if it arrived from addr.
func (c *FakeConn) Deliver(data []byte, addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, Datagram{Data: append([]byte(nil), data...), Addr: addr})
}

// FailNextRead makes the next read return err once.
func (c *FakeConn) FailNextRead(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// FailWrites makes writes return err until called again with nil.
func (c *FakeConn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *FakeConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return 0, nil, net.ErrClosed
	case c.readErr != nil:
		err := c.readErr
		c.readErr = nil
		c.mu.Unlock()
		return 0, nil, err
	case len(c.queue) == 0:
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: errFakeTimeout}
	}
	d := c.queue[0]
	c.queue = c.queue[1:]
	c.mu.Unlock()
	return copy(b, d.Data), d.Addr, nil
}

func (c *FakeConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return 0, net.ErrClosed
	case c.sendErr != nil:
		return 0, c.sendErr
	}
	c.written = append(c.written, Datagram{Data: append([]byte(nil), b...), Addr: addr})
	return len(b), nil
}

// Written returns a copy of everything sent through the conn.
func (c *FakeConn) Written() []Datagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Datagram(nil), c.written...)
}

func (c *FakeConn) SetReadBuffer(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rcvBuf = n
	return nil
}

// RcvBuf is the last size passed to SetReadBuffer.
func (c *FakeConn) RcvBuf() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rcvBuf
}

func (c *FakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *FakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: DefaultPort}
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *FakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FakeListener serves Conns in order and repeats the last one. With Err set
// every Listen fails. Bound records each requested address.
type FakeListener struct {
	mu    sync.Mutex
	Conns []*FakeConn
	Err   error
	Bound []*net.UDPAddr
}

func (l *FakeListener) Listen(laddr *net.UDPAddr) (PacketConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Bound = append(l.Bound, laddr)
	if l.Err != nil {
		return nil, l.Err
	}
	if len(l.Conns) == 0 {
		return NewFakeConn(), nil
	}
	c := l.Conns[0]
	if len(l.Conns) > 1 {
		l.Conns = l.Conns[1:]
	}
	return c, nil
}

type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "i/o timeout" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }

var errFakeTimeout net.Error = fakeTimeout{}
