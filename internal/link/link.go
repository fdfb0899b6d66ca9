// Package link supervises the connection to the flight controller: discovery
// with retry, the heartbeat exchange, liveness checks and the receive loop that
// feeds decoded packets to a single handler.
package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/groundlink/internal/mavlink"
	"github.com/banshee-data/groundlink/internal/monitoring"
	"github.com/banshee-data/groundlink/internal/timeutil"
	"github.com/banshee-data/groundlink/internal/transport"
)

// Handler receives every decoded packet, heartbeats included, on the receive
// goroutine. It must not call Disconnect synchronously.
type Handler interface {
	HandlePacket(pkt mavlink.Packet)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(pkt mavlink.Packet)

func (f HandlerFunc) HandlePacket(pkt mavlink.Packet) { f(pkt) }

// Config wires a Link.
type Config struct {
	Connector transport.Connector
	Handler   Handler
	Clock     timeutil.Clock
	Timing    Timing
}

// Status is a point-in-time view of the link for diagnostics.
type Status struct {
	State         State               `json:"state"`
	Remote        string              `json:"remote,omitempty"`
	Port          int                 `json:"port,omitempty"`
	Retries       int                 `json:"retries"`
	MissedTicks   int                 `json:"missed_ticks"`
	LastHeartbeat time.Time           `json:"last_heartbeat"`
	FramesSent    uint64              `json:"frames_sent"`
	SendErrors    uint64              `json:"send_errors"`
	Parser        mavlink.ParserStats `json:"parser"`
}

// activity identifies which supervisor goroutine initiates a teardown, so the
// teardown never waits for its own caller.
type activity int

const (
	external activity = iota
	discovery
	heartbeat
	receive
)

// session is the lifetime of one Connect: everything it starts is cancelled
// and joined by one teardown.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	port   int

	transport transport.Transport

	discoverDone  chan struct{}
	heartbeatDone chan struct{}
	receiveDone   chan struct{}
	torn          chan struct{}
}

func (s *session) wait(owner activity) {
	for _, w := range []struct {
		a    activity
		done chan struct{}
	}{
		{discovery, s.discoverDone},
		{heartbeat, s.heartbeatDone},
		{receive, s.receiveDone},
	} {
		if w.a != owner && w.done != nil {
			<-w.done
		}
	}
}

// Link is the connection state machine. All transitions happen under mu.
type Link struct {
	connector transport.Connector
	handler   Handler
	clock     timeutil.Clock
	timing    Timing
	enc       *mavlink.Encoder

	mu            sync.Mutex
	state         State
	sess          *session
	closing       *session
	remote        string
	retries       int
	missed        int
	lastHeartbeat time.Time
	framesSent    uint64
	sendErrors    uint64
	sendStreak    int
	parserStats   mavlink.ParserStats
	watchers      map[chan State]struct{}
}

// New returns a NotConnected link.
func New(cfg Config) *Link {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	handler := cfg.Handler
	if handler == nil {
		handler = HandlerFunc(func(mavlink.Packet) {})
	}
	return &Link{
		connector: cfg.Connector,
		handler:   handler,
		clock:     clock,
		timing:    cfg.Timing.withDefaults(),
		enc:       mavlink.NewGCSEncoder(),
		watchers:  make(map[chan State]struct{}),
	}
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Status returns counters and the current state.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Status{
		State:         l.state,
		Remote:        l.remote,
		Retries:       l.retries,
		MissedTicks:   l.missed,
		LastHeartbeat: l.lastHeartbeat,
		FramesSent:    l.framesSent,
		SendErrors:    l.sendErrors,
		Parser:        l.parserStats,
	}
	if l.sess != nil {
		st.Port = l.sess.port
	}
	return st
}

// Watch returns a channel that always holds the most recent state. The
// current state is delivered immediately. Call the returned func to stop
// watching.
func (l *Link) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)
	l.mu.Lock()
	l.watchers[ch] = struct{}{}
	ch <- l.state
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.watchers, ch)
			l.mu.Unlock()
		})
	}
}

// setState must be called with mu held.
func (l *Link) setState(s State) {
	if l.state == s {
		return
	}
	monitoring.Diagf("[link] %s -> %s", l.state, s)
	l.state = s
	for ch := range l.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// Connect starts discovery on port. It is a no-op while Connecting or
// Connected.
func (l *Link) Connect(port int) {
	if port <= 0 {
		port = transport.DefaultPort
	}

	l.mu.Lock()
	if c := l.closing; c != nil {
		l.mu.Unlock()
		<-c.torn
		l.mu.Lock()
	}
	defer l.mu.Unlock()
	if l.sess != nil || l.state == Connecting || l.state == Connected {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:          ctx,
		cancel:       cancel,
		port:         port,
		discoverDone: make(chan struct{}),
		torn:         make(chan struct{}),
	}
	l.sess = s
	l.retries = 0
	l.missed = 0
	l.lastHeartbeat = time.Time{}
	l.setState(Connecting)
	go l.discover(s)
}

// Disconnect stops every supervisor goroutine, closes the transport and
// leaves the link NotConnected. It returns only once nothing started by the
// previous Connect is still running. Calling it repeatedly is safe.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if s := l.sess; s != nil {
		l.claim(s)
		l.mu.Unlock()
		l.finish(s, external, NotConnected)
		return
	}
	c := l.closing
	l.mu.Unlock()

	if c != nil {
		<-c.torn
	}
	l.mu.Lock()
	if l.sess == nil && l.state == Failed {
		l.setState(NotConnected)
	}
	l.mu.Unlock()
}

// claim detaches s from the link so no other path can tear it down. It must
// be called with mu held.
func (l *Link) claim(s *session) {
	l.sess = nil
	l.closing = s
	s.cancel()
}

// finish joins s's goroutines (except owner), closes its transport and
// publishes the final state.
func (l *Link) finish(s *session, owner activity, final State) {
	s.wait(owner)
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			monitoring.Opsf("[link] error closing transport: %v", err)
		}
	}

	l.mu.Lock()
	l.closing = nil
	l.remote = ""
	l.retries = 0
	l.missed = 0
	l.lastHeartbeat = time.Time{}
	l.setState(final)
	l.mu.Unlock()
	close(s.torn)
}

// teardown is the loop-initiated variant of Disconnect. It does nothing if s
// is no longer the active session.
func (l *Link) teardown(s *session, owner activity, final State) {
	l.mu.Lock()
	if l.sess != s {
		l.mu.Unlock()
		return
	}
	l.claim(s)
	l.mu.Unlock()
	l.finish(s, owner, final)
}

func (l *Link) discover(s *session) {
	defer close(s.discoverDone)

	for {
		addr, err := l.connector.Discover(s.ctx, s.port, l.timing.DiscoveryTimeout)
		if s.ctx.Err() != nil {
			return
		}
		if err == nil {
			l.open(s, addr)
			return
		}

		l.mu.Lock()
		l.retries++
		retries := l.retries
		l.mu.Unlock()
		if retries > l.timing.MaxRetries {
			monitoring.Opsf("[link] discovery failed after %d attempts: %v", retries, err)
			l.teardown(s, discovery, Failed)
			return
		}
		monitoring.Diagf("[link] discovery attempt %d failed: %v; retrying in %v", retries, err, l.timing.RetryDelay)

		timer := l.clock.NewTimer(l.timing.RetryDelay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

// open runs on the discovery goroutine once a vehicle has answered.
func (l *Link) open(s *session, addr string) {
	tr, err := l.connector.Open(s.ctx, addr, s.port)

	l.mu.Lock()
	if l.sess != s {
		l.mu.Unlock()
		if tr != nil {
			if err := tr.Close(); err != nil {
				monitoring.Opsf("[link] error closing superseded transport to %s: %v", addr, err)
			}
		}
		return
	}
	if err != nil {
		l.mu.Unlock()
		monitoring.Opsf("[link] failed to open transport to %s: %v", addr, err)
		l.teardown(s, discovery, Failed)
		return
	}
	s.transport = tr
	s.heartbeatDone = make(chan struct{})
	s.receiveDone = make(chan struct{})
	l.remote = addr
	l.retries = 0
	l.missed = 0
	l.lastHeartbeat = time.Time{}
	l.mu.Unlock()

	monitoring.Diagf("[link] transport open to %s:%d, waiting for heartbeat", addr, s.port)
	go l.heartbeatLoop(s)
	go l.receiveLoop(s)
}

func (l *Link) heartbeatLoop(s *session) {
	defer close(s.heartbeatDone)

	ticker := l.clock.NewTicker(l.timing.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C():
			if !l.onTick(s) {
				return
			}
		}
	}
}

// onTick runs the health check and, if the link survives it, sends the
// ground station heartbeat. It reports whether the session is still alive.
func (l *Link) onTick(s *session) bool {
	l.mu.Lock()
	if l.sess != s {
		l.mu.Unlock()
		return false
	}
	switch l.state {
	case Connecting:
		l.missed++
		if l.missed > l.timing.MaxMissedTicks {
			missed := l.missed
			l.mu.Unlock()
			monitoring.Opsf("[link] no heartbeat after %d ticks, giving up", missed)
			l.teardown(s, heartbeat, Failed)
			return false
		}
	case Connected:
		if since := l.clock.Since(l.lastHeartbeat); since > l.timing.HeartbeatTimeout {
			l.mu.Unlock()
			monitoring.Opsf("[link] heartbeat lost for %v, disconnecting", since.Round(time.Millisecond))
			l.teardown(s, heartbeat, NotConnected)
			return false
		}
	}
	tr := s.transport
	l.mu.Unlock()

	l.write(tr, mavlink.GCSHeartbeat{})
	return true
}

func (l *Link) receiveLoop(s *session) {
	defer close(s.receiveDone)

	parser := mavlink.NewParser()
	buf := make([]byte, 2048)
	idle := time.NewTimer(l.timing.IdleSleep)
	defer idle.Stop()
	errCount := 0

	for {
		if s.ctx.Err() != nil {
			return
		}
		n, err := s.transport.Read(buf)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			errCount++
			if errCount > l.timing.MaxReadErrors {
				monitoring.Opsf("[link] %d consecutive read errors, last: %v", errCount, err)
				l.teardown(s, receive, Failed)
				return
			}
			if errCount == 1 {
				monitoring.Diagf("[link] read error: %v", err)
			}
		} else if n > 0 {
			errCount = 0
			for _, pkt := range parser.Decode(buf[:n]) {
				l.dispatch(s, pkt)
			}
			l.mu.Lock()
			l.parserStats = parser.Stats()
			l.mu.Unlock()
			continue
		}

		idle.Reset(l.timing.IdleSleep)
		select {
		case <-s.ctx.Done():
			return
		case <-idle.C:
		}
	}
}

func (l *Link) dispatch(s *session, pkt mavlink.Packet) {
	if _, ok := pkt.(mavlink.Heartbeat); ok {
		l.mu.Lock()
		if l.sess == s {
			l.missed = 0
			l.lastHeartbeat = l.clock.Now()
			l.setState(Connected)
		}
		l.mu.Unlock()
	}
	if monitoring.TraceEnabled() {
		monitoring.Tracef("[link] rx %T", pkt)
	}
	l.handler.HandlePacket(pkt)
}

// write encodes and sends m, counting the outcome.
func (l *Link) write(tr transport.Transport, m mavlink.Message) error {
	frame, err := l.enc.Encode(m)
	if err != nil {
		monitoring.Opsf("[link] %v", err)
		return err
	}
	_, err = tr.Write(frame)

	l.mu.Lock()
	if err != nil {
		l.sendErrors++
		l.sendStreak++
	} else {
		l.framesSent++
		l.sendStreak = 0
	}
	streak := l.sendStreak
	l.mu.Unlock()

	if err != nil {
		if streak == 1 {
			monitoring.Opsf("[link] send %T failed: %v", m, err)
		} else {
			monitoring.Tracef("[link] send %T failed (%d in a row): %v", m, streak, err)
		}
		return fmt.Errorf("send %T: %w", m, err)
	}
	return nil
}
