// Package control turns normalized stick input into periodic MANUAL_CONTROL
// frames: deadband shaping, direct or sticky throttle, and an auto ramp for
// takeoff and landing gestures.
package control

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/groundlink/internal/monitoring"
	"github.com/banshee-data/groundlink/internal/timeutil"
)

// ErrInvalidMaxOutput is returned by SetMaxOutput for values outside [0, 1].
var ErrInvalidMaxOutput = errors.New("control: max output must be within [0, 1]")

// ThrottleMode selects how the throttle axis is interpreted.
type ThrottleMode int

const (
	// Direct uses the shaped stick value as the throttle. Negative input is
	// ignored.
	Direct ThrottleMode = iota
	// Sticky integrates the stick: up raises the throttle a little each tick,
	// down lowers it, centre holds it.
	Sticky
)

func (m ThrottleMode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Sticky:
		return "sticky"
	}
	return "unknown"
}

// MarshalText renders the mode by name in JSON.
func (m ThrottleMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseThrottleMode accepts "direct" or "sticky".
func ParseThrottleMode(s string) (ThrottleMode, error) {
	switch s {
	case "direct":
		return Direct, nil
	case "sticky":
		return Sticky, nil
	}
	return Direct, fmt.Errorf("control: unknown throttle mode %q", s)
}

// Direction of an auto throttle ramp.
type Direction int

const (
	Up Direction = iota + 1
	Down
)

// Sender transmits one manual-control frame. link.Link implements it.
type Sender interface {
	ManualControl(roll, pitch, yaw, throttle int16) error
}

// NoDeadband turns the deadband off. A zero Settings.Deadband takes the
// default instead.
const NoDeadband float32 = -1

// Settings are the loop's tunables. Zero fields take DefaultSettings.
type Settings struct {
	Tick        time.Duration `json:"tick"`
	Deadband    float32       `json:"deadband"`
	MaxOutput   float32       `json:"max_output"`
	StickyStep  float32       `json:"sticky_step"`
	AutoStep    float32       `json:"auto_step"`
	AutoCeiling float32       `json:"auto_ceiling"`
}

func DefaultSettings() Settings {
	return Settings{
		Tick:        50 * time.Millisecond,
		Deadband:    0.10,
		MaxOutput:   0.55,
		StickyStep:  0.03,
		AutoStep:    0.01,
		AutoCeiling: 0.6,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Tick <= 0 {
		s.Tick = d.Tick
	}
	switch {
	case s.Deadband == 0:
		s.Deadband = d.Deadband
	case s.Deadband < 0:
		s.Deadband = 0
	}
	if s.MaxOutput <= 0 {
		s.MaxOutput = d.MaxOutput
	}
	if s.StickyStep <= 0 {
		s.StickyStep = d.StickyStep
	}
	if s.AutoStep <= 0 {
		s.AutoStep = d.AutoStep
	}
	if s.AutoCeiling <= 0 {
		s.AutoCeiling = d.AutoCeiling
	}
	return s
}

// Values is the loop's current output, each axis in [-1, 1].
type Values struct {
	Roll     float32      `json:"roll"`
	Pitch    float32      `json:"pitch"`
	Yaw      float32      `json:"yaw"`
	Throttle float32      `json:"throttle"`
	Mode     ThrottleMode `json:"mode"`
	Auto     Direction    `json:"auto,omitempty"`
	Running  bool         `json:"running"`
}

// Loop samples the current intent every tick and sends it while the gate is
// open.
type Loop struct {
	settings Settings
	clock    timeutil.Clock
	sender   Sender
	gate     func() bool

	mu          sync.Mutex
	mode        ThrottleMode
	maxOutput   float32
	roll        float32
	pitch       float32
	yaw         float32
	stickyInput float32
	throttle    float32
	auto        Direction
	sendErrors  int

	stop chan struct{}
	done chan struct{}
}

// New returns a stopped loop. gate is checked on every tick and must report
// whether the vehicle is armed and connected; a nil gate is always closed.
func New(settings Settings, clock timeutil.Clock, sender Sender, gate func() bool) *Loop {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if gate == nil {
		gate = func() bool { return false }
	}
	settings = settings.withDefaults()
	return &Loop{
		settings:  settings,
		clock:     clock,
		sender:    sender,
		gate:      gate,
		maxOutput: settings.MaxOutput,
	}
}

// SetAxisInput takes raw stick positions in [-1, 1]. Any stick motion
// outside the deadband cancels an auto ramp.
func (l *Loop) SetAxisInput(roll, pitch, yaw, throttle float32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	db, ceil := l.settings.Deadband, l.maxOutput
	l.roll = Deadband(roll, db, ceil)
	l.pitch = Deadband(pitch, db, ceil)
	l.yaw = Deadband(yaw, db, ceil)
	t := Deadband(throttle, db, ceil)

	if l.auto != 0 && (l.roll != 0 || l.pitch != 0 || l.yaw != 0 || t != 0) {
		monitoring.Diagf("[control] auto throttle cancelled by stick input")
		l.auto = 0
	}

	switch l.mode {
	case Sticky:
		l.stickyInput = t
	default:
		if t >= 0 {
			l.throttle = t
		}
	}
}

// SetThrottleMode switches mode. The current throttle is kept.
func (l *Loop) SetThrottleMode(m ThrottleMode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = m
	l.stickyInput = 0
}

// ToggleThrottleMode flips between Direct and Sticky and returns the new mode.
func (l *Loop) ToggleThrottleMode() ThrottleMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode == Sticky {
		l.mode = Direct
	} else {
		l.mode = Sticky
	}
	l.stickyInput = 0
	return l.mode
}

// SetMaxOutput changes the ceiling applied by the deadband shaping and the
// sticky cap.
func (l *Loop) SetMaxOutput(v float32) error {
	if !(v >= 0 && v <= 1) {
		return ErrInvalidMaxOutput
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxOutput = v
	return nil
}

// MaxOutput returns the current ceiling.
func (l *Loop) MaxOutput() float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxOutput
}

// EngageAuto starts ramping the throttle toward the auto ceiling (Up) or
// zero (Down) by AutoStep per tick.
func (l *Loop) EngageAuto(d Direction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.auto = d
}

func (l *Loop) DisengageAuto() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.auto = 0
}

// ResetInputs zeroes every axis and cancels any ramp.
func (l *Loop) ResetInputs() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll, l.pitch, l.yaw = 0, 0, 0
	l.stickyInput = 0
	l.throttle = 0
	l.auto = 0
}

// Values returns the output the next tick would send, before that tick's
// integration.
func (l *Loop) Values() Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Values{
		Roll:     l.roll,
		Pitch:    l.pitch,
		Yaw:      l.yaw,
		Throttle: l.throttle,
		Mode:     l.mode,
		Auto:     l.auto,
		Running:  l.stop != nil,
	}
}

// Start launches the ticker goroutine. It is a no-op while running.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.sendErrors = 0
	ticker := l.clock.NewTicker(l.settings.Tick)
	go l.run(ticker, l.stop, l.done)
	monitoring.Diagf("[control] started, tick %v", l.settings.Tick)
}

// Stop halts the ticker and returns once no further frame can be sent.
func (l *Loop) Stop() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	monitoring.Diagf("[control] stopped")
}

func (l *Loop) run(ticker timeutil.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			l.tick()
		}
	}
}

// tick advances the throttle integration and sends one frame. Nothing moves
// while the gate is closed.
func (l *Loop) tick() {
	if !l.gate() {
		return
	}

	l.mu.Lock()
	l.integrateLocked()
	roll, pitch, yaw, thr := scale(l.roll), scale(l.pitch), scale(l.yaw), scale(l.throttle)
	l.mu.Unlock()

	if l.sender == nil {
		return
	}
	err := l.sender.ManualControl(roll, pitch, yaw, thr)

	l.mu.Lock()
	if err != nil {
		l.sendErrors++
	} else {
		l.sendErrors = 0
	}
	n := l.sendErrors
	l.mu.Unlock()
	if n == 1 {
		monitoring.Opsf("[control] manual control send failed: %v", err)
	}
}

func (l *Loop) integrateLocked() {
	s := l.settings
	switch l.auto {
	case Up:
		l.throttle = clamp(l.throttle+s.AutoStep, 0, s.AutoCeiling)
		if l.throttle >= s.AutoCeiling {
			l.auto = 0
		}
		return
	case Down:
		l.throttle = clamp(l.throttle-s.AutoStep, 0, 1)
		if l.throttle <= 0 {
			l.auto = 0
		}
		return
	}
	if l.mode != Sticky || l.stickyInput == 0 {
		return
	}
	next := l.throttle + l.stickyInput*s.StickyStep
	if l.stickyInput > 0 {
		l.throttle = clamp(next, 0, l.maxOutput)
	} else {
		l.throttle = clamp(next, 0, 1)
	}
}
