// Package station wires the link, telemetry, control loop and session
// recorder into the single surface a presentation layer talks to.
package station

import (
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/groundlink/internal/control"
	"github.com/banshee-data/groundlink/internal/link"
	"github.com/banshee-data/groundlink/internal/mavlink"
	"github.com/banshee-data/groundlink/internal/monitoring"
	"github.com/banshee-data/groundlink/internal/session"
	"github.com/banshee-data/groundlink/internal/telemetry"
	"github.com/banshee-data/groundlink/internal/timeutil"
	"github.com/banshee-data/groundlink/internal/transport"
)

const (
	DefaultParamRequestDelay = time.Second
	DefaultParamRefreshDelay = 2500 * time.Millisecond
)

var (
	ErrNotArmed          = errors.New("station: vehicle is not armed")
	ErrArmed             = errors.New("station: vehicle is armed")
	ErrNoSavedParameters = errors.New("station: no recorded parameter snapshot")
)

// Config wires a Station. Zero values take the package defaults.
type Config struct {
	Connector transport.Connector
	Clock     timeutil.Clock

	Link    link.Timing
	Control control.Settings

	BufferCapacity   int
	StatusCapacity   int
	AttitudeInterval time.Duration
	AltitudeInterval time.Duration

	// Recorder's Clock is replaced by Clock.
	Recorder session.Config

	// ParamRequestDelay is how long after reaching Connected the parameter
	// list is requested. ParamRefreshDelay is how long after a replay the
	// list is requested again.
	ParamRequestDelay time.Duration
	ParamRefreshDelay time.Duration
}

// Status combines the link, control and recorder state.
type Status struct {
	Link      link.Status    `json:"link"`
	Control   control.Values `json:"control"`
	Armed     bool           `json:"armed"`
	Recording bool           `json:"recording"`
}

// Station owns every component for one vehicle.
type Station struct {
	clock    timeutil.Clock
	link     *link.Link
	telem    *telemetry.Aggregator
	control  *control.Loop
	recorder *session.Recorder

	requestDelay time.Duration
	refreshDelay time.Duration

	// syncMu serializes reactions to link state so Disconnect returns only
	// after the connection's teardown has finished.
	syncMu sync.Mutex

	mu        sync.Mutex
	connected bool
	timers    []timeutil.Timer
	gen       uint64

	quit      chan struct{}
	watchDone chan struct{}
	stopWatch func()
	closeOnce sync.Once
}

// New builds a station and starts watching the link. Call Close to release
// it.
func New(cfg Config) *Station {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Station{
		clock:        clock,
		requestDelay: cfg.ParamRequestDelay,
		refreshDelay: cfg.ParamRefreshDelay,
		quit:         make(chan struct{}),
		watchDone:    make(chan struct{}),
	}
	if s.requestDelay <= 0 {
		s.requestDelay = DefaultParamRequestDelay
	}
	if s.refreshDelay <= 0 {
		s.refreshDelay = DefaultParamRefreshDelay
	}

	rc := cfg.Recorder
	rc.Clock = clock
	s.recorder = session.NewRecorder(rc)

	s.telem = telemetry.New(telemetry.Config{
		BufferCapacity:   cfg.BufferCapacity,
		StatusCapacity:   cfg.StatusCapacity,
		AttitudeInterval: cfg.AttitudeInterval,
		AltitudeInterval: cfg.AltitudeInterval,
		Clock:            clock,
		Sink:             recordingSink{s},
		OnArmedChange:    s.onArmedChange,
	})
	s.link = link.New(link.Config{
		Connector: cfg.Connector,
		Handler:   link.HandlerFunc(s.telem.OnPacket),
		Clock:     clock,
		Timing:    cfg.Link,
	})
	s.control = control.New(cfg.Control, clock, s.link, s.flying)

	ch, stop := s.link.Watch()
	s.stopWatch = stop
	go s.watch(ch)
	return s
}

// Close disconnects and stops the state watcher.
func (s *Station) Close() {
	s.closeOnce.Do(func() {
		s.Disconnect()
		close(s.quit)
		<-s.watchDone
		s.stopWatch()
	})
}

// Link exposes the supervisor for diagnostics.
func (s *Station) Link() *link.Link { return s.link }

// Recorder exposes the session recorder for queries.
func (s *Station) Recorder() *session.Recorder { return s.recorder }

// flying gates the control loop and the recorder: frames and rows flow only
// while the vehicle is armed and the link is up.
func (s *Station) flying() bool {
	return s.telem.Armed() && s.link.State() == link.Connected
}

func (s *Station) watch(ch <-chan link.State) {
	defer close(s.watchDone)
	for {
		select {
		case <-s.quit:
			return
		case <-ch:
			s.syncLinkState()
		}
	}
}

// syncLinkState reacts to the link's current state. The watched value only
// triggers it, so a coalesced or stale notification cannot replay an old
// transition.
func (s *Station) syncLinkState() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	up := s.link.State() == link.Connected
	if up == s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = up
	s.cancelTimersLocked()
	if up {
		s.scheduleLocked(s.requestDelay, func() {
			if err := s.RequestParameters(); err != nil {
				monitoring.Opsf("[station] parameter request failed: %v", err)
			}
		})
		s.mu.Unlock()
		monitoring.Diagf("[station] vehicle connected")
		return
	}
	s.mu.Unlock()
	s.endConnection()
}

// endConnection runs once the link has left Connected.
func (s *Station) endConnection() {
	s.control.Stop()
	s.control.ResetInputs()
	if s.recorder.Active() {
		if _, err := s.recordStop(); err != nil {
			monitoring.Opsf("[station] finalizing recording: %v", err)
		}
	}
	s.telem.ResetSession()
	monitoring.Diagf("[station] vehicle disconnected")
}

// scheduleLocked runs fn after d unless the connection changes first. It
// must be called with mu held.
func (s *Station) scheduleLocked(d time.Duration, fn func()) {
	gen := s.gen
	t := s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		live := s.gen == gen
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	s.timers = append(s.timers, t)
}

func (s *Station) cancelTimersLocked() {
	s.gen++
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

// onArmedChange runs on the receive goroutine whenever a heartbeat flips
// the armed flag.
func (s *Station) onArmedChange(armed bool) {
	s.control.ResetInputs()
	if armed {
		s.control.Start()
	} else {
		s.control.Stop()
	}
}

// State returns the link state.
func (s *Station) State() link.State { return s.link.State() }

// Watch observes link state changes; see link.Link.Watch.
func (s *Station) Watch() (<-chan link.State, func()) { return s.link.Watch() }

// Snapshot returns a copy of the current telemetry.
func (s *Station) Snapshot() telemetry.Snapshot { return s.telem.Snapshot() }

// Status returns a combined diagnostic view.
func (s *Station) Status() Status {
	return Status{
		Link:      s.link.Status(),
		Control:   s.control.Values(),
		Armed:     s.telem.Armed(),
		Recording: s.recorder.Active(),
	}
}

// recordingSink forwards parsed telemetry to the recorder while flying.
type recordingSink struct{ s *Station }

func (r recordingSink) ok() bool { return r.s.flying() }

func (r recordingSink) WriteAttitude(v telemetry.EulerSample) {
	if r.ok() {
		r.s.recorder.WriteAttitude(v)
	}
}

func (r recordingSink) WriteMotors(v telemetry.MotorSample) {
	if r.ok() {
		r.s.recorder.WriteMotors(v)
	}
}

func (r recordingSink) WriteThrottle(v telemetry.ThrottleSample) {
	if r.ok() {
		r.s.recorder.WriteThrottle(v)
	}
}

func (r recordingSink) WritePID(v telemetry.EulerSample) {
	if r.ok() {
		r.s.recorder.WritePID(v)
	}
}

func (r recordingSink) WriteTargetAttitude(v telemetry.EulerSample) {
	if r.ok() {
		r.s.recorder.WriteTargetAttitude(v)
	}
}

func (r recordingSink) WriteLoopTime(v telemetry.LoopTimeSample) {
	if r.ok() {
		r.s.recorder.WriteLoopTime(v)
	}
}

func (r recordingSink) WriteAltitude(v telemetry.AltitudeSample) {
	if r.ok() {
		r.s.recorder.WriteAltitude(v)
	}
}

func toSessionParams(in []mavlink.ParamValue) []session.Parameter {
	out := make([]session.Parameter, len(in))
	for i, p := range in {
		out[i] = session.Parameter{ID: p.ID, Value: p.Value}
	}
	return out
}
