// Package telemetry folds decoded vehicle packets into bounded histories and
// latest-value cells, and hands every parsed record to an optional Sink.
package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/banshee-data/groundlink/internal/mavlink"
	"github.com/banshee-data/groundlink/internal/monitoring"
	"github.com/banshee-data/groundlink/internal/ringbuffer"
	"github.com/banshee-data/groundlink/internal/timeutil"
)

const (
	DefaultBufferCapacity = 25
	DefaultStatusCapacity = 50
)

// Sink receives every parsed record, whether or not a history buffer had to
// evict to hold it. The session recorder implements it.
type Sink interface {
	WriteAttitude(EulerSample)
	WriteMotors(MotorSample)
	WriteThrottle(ThrottleSample)
	WritePID(EulerSample)
	WriteTargetAttitude(EulerSample)
	WriteLoopTime(LoopTimeSample)
	WriteAltitude(AltitudeSample)
}

// Config configures an Aggregator. Zero values take defaults.
type Config struct {
	BufferCapacity int
	StatusCapacity int

	// AttitudeInterval and AltitudeInterval are the minimum spacing between
	// accepted samples of each kind.
	AttitudeInterval time.Duration
	AltitudeInterval time.Duration

	Clock timeutil.Clock
	Sink  Sink

	// OnArmedChange runs after the armed flag flips, outside the lock.
	OnArmedChange func(armed bool)
}

// Stats counts what the aggregator did with its input.
type Stats struct {
	Packets      uint64 `json:"packets"`
	Malformed    uint64 `json:"malformed"`
	GatedSamples uint64 `json:"gated_samples"`
}

// Snapshot is a deep copy of the telemetry state. Slices are ordered oldest
// first and never alias the aggregator's storage.
type Snapshot struct {
	Armed          bool                 `json:"armed"`
	Heartbeat      *mavlink.Heartbeat   `json:"heartbeat,omitempty"`
	Position       *mavlink.Position    `json:"position,omitempty"`
	Attitude       []EulerSample        `json:"attitude"`
	Altitude       []AltitudeSample     `json:"altitude"`
	Motors         []MotorSample        `json:"motors"`
	PID            []EulerSample        `json:"pid"`
	Throttle       []ThrottleSample     `json:"throttle"`
	TargetAttitude []EulerSample        `json:"target_attitude"`
	LoopTime       []LoopTimeSample     `json:"loop_time"`
	Status         []StatusEntry        `json:"status"`
	Parameters     []mavlink.ParamValue `json:"parameters"`
	Stats          Stats                `json:"stats"`
}

// Aggregator is written only by OnPacket (the link's receive goroutine) and
// the reset methods; readers take copies through Snapshot.
type Aggregator struct {
	clock         timeutil.Clock
	sink          Sink
	onArmedChange func(bool)

	mu        sync.RWMutex
	armed     bool
	heartbeat *mavlink.Heartbeat
	position  *mavlink.Position

	attitude *ringbuffer.Buffer[EulerSample]
	altitude *ringbuffer.Buffer[AltitudeSample]
	motors   *ringbuffer.Buffer[MotorSample]
	pid      *ringbuffer.Buffer[EulerSample]
	throttle *ringbuffer.Buffer[ThrottleSample]
	target   *ringbuffer.Buffer[EulerSample]
	loopTime *ringbuffer.Buffer[LoopTimeSample]
	status   *ringbuffer.Buffer[StatusEntry]

	params     []mavlink.ParamValue
	paramIndex map[string]int

	attitudeGate SampleGate
	altitudeGate SampleGate
	stats        Stats
}

// New returns an empty aggregator.
func New(cfg Config) *Aggregator {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.StatusCapacity <= 0 {
		cfg.StatusCapacity = DefaultStatusCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	n := cfg.BufferCapacity
	return &Aggregator{
		clock:         cfg.Clock,
		sink:          cfg.Sink,
		onArmedChange: cfg.OnArmedChange,
		attitude:      ringbuffer.MustNew[EulerSample](n),
		altitude:      ringbuffer.MustNew[AltitudeSample](n),
		motors:        ringbuffer.MustNew[MotorSample](n),
		pid:           ringbuffer.MustNew[EulerSample](n),
		throttle:      ringbuffer.MustNew[ThrottleSample](n),
		target:        ringbuffer.MustNew[EulerSample](n),
		loopTime:      ringbuffer.MustNew[LoopTimeSample](n),
		status:        ringbuffer.MustNew[StatusEntry](cfg.StatusCapacity),
		paramIndex:    make(map[string]int),
		attitudeGate:  SampleGate{MinInterval: cfg.AttitudeInterval},
		altitudeGate:  SampleGate{MinInterval: cfg.AltitudeInterval},
	}
}

// OnPacket folds one decoded packet into the telemetry state.
func (a *Aggregator) OnPacket(pkt mavlink.Packet) {
	now := a.clock.Now()
	if !finite(pkt) {
		a.mu.Lock()
		a.stats.Packets++
		a.stats.Malformed++
		a.mu.Unlock()
		monitoring.Diagf("[telemetry] dropped %T with non-finite values", pkt)
		return
	}
	switch p := pkt.(type) {
	case mavlink.Heartbeat:
		a.onHeartbeat(p)
	case mavlink.Attitude:
		a.onAttitude(p, now)
	case mavlink.Position:
		a.onPosition(p, now)
	case mavlink.StatusText:
		a.onStatusText(p, now)
	case mavlink.ParamValue:
		a.onParamValue(p)
	default:
		a.mu.Lock()
		a.stats.Packets++
		a.mu.Unlock()
	}
}

// finite reports whether every float field a packet feeds into history is a
// real number. NaN and infinities cannot be encoded as JSON.
func finite(pkt mavlink.Packet) bool {
	switch p := pkt.(type) {
	case mavlink.Attitude:
		return isFinite(p.RollDeg) && isFinite(p.PitchDeg) && isFinite(p.YawDeg)
	case mavlink.Position:
		return isFinite(p.AbsoluteAltitudeM) && isFinite(p.RelativeAltitudeM)
	case mavlink.ParamValue:
		return isFinite(p.Value)
	}
	return true
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (a *Aggregator) onHeartbeat(p mavlink.Heartbeat) {
	a.mu.Lock()
	a.stats.Packets++
	hb := p
	a.heartbeat = &hb
	changed := a.armed != p.Armed
	if changed {
		a.armed = p.Armed
		if !p.Armed {
			a.clearBuffersLocked()
		}
	}
	a.mu.Unlock()

	if changed {
		monitoring.Diagf("[telemetry] armed=%v", p.Armed)
		if a.onArmedChange != nil {
			a.onArmedChange(p.Armed)
		}
	}
}

func (a *Aggregator) onAttitude(p mavlink.Attitude, now time.Time) {
	s := EulerSample{Time: now, Roll: p.RollDeg, Pitch: p.PitchDeg, Yaw: p.YawDeg}
	a.mu.Lock()
	a.stats.Packets++
	if !a.attitudeGate.Accept(now) {
		a.stats.GatedSamples++
		a.mu.Unlock()
		return
	}
	a.attitude.Push(s)
	a.mu.Unlock()

	if a.sink != nil {
		a.sink.WriteAttitude(s)
	}
}

func (a *Aggregator) onPosition(p mavlink.Position, now time.Time) {
	s := AltitudeSample{Time: now, Absolute: p.AbsoluteAltitudeM, Relative: p.RelativeAltitudeM}
	a.mu.Lock()
	a.stats.Packets++
	pos := p
	a.position = &pos
	if !a.altitudeGate.Accept(now) {
		a.stats.GatedSamples++
		a.mu.Unlock()
		return
	}
	a.altitude.Push(s)
	a.mu.Unlock()

	if a.sink != nil {
		a.sink.WriteAltitude(s)
	}
}

func (a *Aggregator) onStatusText(p mavlink.StatusText, now time.Time) {
	r := Demux(p.Text, p.Severity, now)

	a.mu.Lock()
	a.stats.Packets++
	if r.Empty() {
		a.stats.Malformed++
	}
	if r.Motors != nil {
		a.motors.Push(*r.Motors)
	}
	if r.PID != nil {
		a.pid.Push(*r.PID)
	}
	if r.Throttle != nil {
		a.throttle.Push(*r.Throttle)
	}
	if r.Target != nil {
		a.target.Push(*r.Target)
	}
	if r.LoopTime != nil {
		a.loopTime.Push(*r.LoopTime)
	}
	if r.Status != nil {
		a.status.Push(*r.Status)
	}
	a.mu.Unlock()

	if r.Empty() && monitoring.TraceEnabled() {
		monitoring.Tracef("[telemetry] dropped malformed status text %q", p.Text)
	}
	if a.sink == nil {
		return
	}
	if r.Motors != nil {
		a.sink.WriteMotors(*r.Motors)
	}
	if r.PID != nil {
		a.sink.WritePID(*r.PID)
	}
	if r.Throttle != nil {
		a.sink.WriteThrottle(*r.Throttle)
	}
	if r.Target != nil {
		a.sink.WriteTargetAttitude(*r.Target)
	}
	if r.LoopTime != nil {
		a.sink.WriteLoopTime(*r.LoopTime)
	}
}

// onParamValue upserts by id, so the echo of a PARAM_SET replaces the old
// value instead of growing the list.
func (a *Aggregator) onParamValue(p mavlink.ParamValue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Packets++
	if i, ok := a.paramIndex[p.ID]; ok {
		a.params[i] = p
		return
	}
	a.paramIndex[p.ID] = len(a.params)
	a.params = append(a.params, p)
}

// Armed returns the last armed flag seen in a heartbeat.
func (a *Aggregator) Armed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.armed
}

// Parameters returns a copy of the parameter list in arrival order.
func (a *Aggregator) Parameters() []mavlink.ParamValue {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]mavlink.ParamValue(nil), a.params...)
}

// Snapshot returns a consistent deep copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Snapshot{
		Armed:          a.armed,
		Attitude:       a.attitude.Elements(),
		Altitude:       a.altitude.Elements(),
		Motors:         a.motors.Elements(),
		PID:            a.pid.Elements(),
		Throttle:       a.throttle.Elements(),
		TargetAttitude: a.target.Elements(),
		LoopTime:       a.loopTime.Elements(),
		Status:         a.status.Elements(),
		Parameters:     append([]mavlink.ParamValue(nil), a.params...),
		Stats:          a.stats,
	}
	if a.heartbeat != nil {
		hb := *a.heartbeat
		s.Heartbeat = &hb
	}
	if a.position != nil {
		pos := *a.position
		s.Position = &pos
	}
	return s
}

// Reset clears every history buffer and the status log.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearBuffersLocked()
}

// ResetSession clears everything learned from the current connection:
// buffers, parameters, the armed flag and the latest-value cells.
func (a *Aggregator) ResetSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearBuffersLocked()
	a.clearParamsLocked()
	a.armed = false
	a.heartbeat = nil
	a.position = nil
}

// ClearParameters empties the parameter list ahead of a new request.
func (a *Aggregator) ClearParameters() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearParamsLocked()
}

func (a *Aggregator) clearBuffersLocked() {
	a.attitude.Clear()
	a.altitude.Clear()
	a.motors.Clear()
	a.pid.Clear()
	a.throttle.Clear()
	a.target.Clear()
	a.loopTime.Clear()
	a.status.Clear()
	a.attitudeGate.Reset()
	a.altitudeGate.Reset()
}

func (a *Aggregator) clearParamsLocked() {
	a.params = nil
	a.paramIndex = make(map[string]int)
}
