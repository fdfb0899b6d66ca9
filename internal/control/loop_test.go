package control

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/groundlink/internal/timeutil"
)

type frame struct{ roll, pitch, yaw, throttle int16 }

type fakeSender struct {
	mu     sync.Mutex
	frames []frame
	err    error
	sent   chan frame
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan frame, 64)}
}

func (s *fakeSender) ManualControl(roll, pitch, yaw, throttle int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	f := frame{roll, pitch, yaw, throttle}
	s.frames = append(s.frames, f)
	select {
	case s.sent <- f:
	default:
	}
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func openGate() bool { return true }

func newTestLoop(gate func() bool) (*Loop, *fakeSender) {
	sender := newFakeSender()
	return New(Settings{}, timeutil.NewMockClock(time.Unix(0, 0)), sender, gate), sender
}

func TestLoop_DirectThrottle(t *testing.T) {
	l, sender := newTestLoop(openGate)

	l.SetAxisInput(1, -1, 0.05, 1)
	l.tick()
	require.Equal(t, []frame{{550, -550, 0, 550}}, sender.frames)

	// Negative throttle is ignored in direct mode.
	l.SetAxisInput(0, 0, 0, -1)
	l.tick()
	assert.Equal(t, frame{0, 0, 0, 550}, sender.frames[1])

	l.SetAxisInput(0, 0, 0, 0)
	l.tick()
	assert.Equal(t, frame{0, 0, 0, 0}, sender.frames[2])
}

func TestLoop_StickyThrottle(t *testing.T) {
	l, _ := newTestLoop(openGate)
	l.SetThrottleMode(Sticky)

	l.SetAxisInput(0, 0, 0, 1) // shaped to 0.55, step 0.55*0.03 per tick
	for i := 0; i < 10; i++ {
		l.tick()
	}
	assert.InDelta(t, 0.165, l.Values().Throttle, 1e-5)

	// Centred stick holds the value.
	l.SetAxisInput(0, 0, 0, 0)
	l.tick()
	assert.InDelta(t, 0.165, l.Values().Throttle, 1e-5)

	// Held up for long enough, throttle stops at the ceiling.
	l.SetAxisInput(0, 0, 0, 1)
	for i := 0; i < 100; i++ {
		l.tick()
	}
	assert.InDelta(t, 0.55, l.Values().Throttle, 1e-6)

	// Down drains it to zero and no further.
	l.SetAxisInput(0, 0, 0, -1)
	for i := 0; i < 100; i++ {
		l.tick()
	}
	assert.Equal(t, float32(0), l.Values().Throttle)
}

func TestLoop_ToggleKeepsThrottle(t *testing.T) {
	l, _ := newTestLoop(openGate)
	l.SetAxisInput(0, 0, 0, 1)
	assert.Equal(t, Sticky, l.ToggleThrottleMode())
	assert.InDelta(t, 0.55, l.Values().Throttle, 1e-6)
	assert.Equal(t, Direct, l.ToggleThrottleMode())
}

func TestLoop_AutoRamp(t *testing.T) {
	l, sender := newTestLoop(openGate)

	l.EngageAuto(Up)
	for i := 0; i < 100; i++ {
		l.tick()
	}
	v := l.Values()
	assert.InDelta(t, 0.6, v.Throttle, 1e-5)
	assert.Equal(t, Direction(0), v.Auto, "ramp ends at the ceiling")
	assert.Equal(t, int16(10), sender.frames[0].throttle)

	l.EngageAuto(Down)
	for i := 0; i < 5; i++ {
		l.tick()
	}
	assert.InDelta(t, 0.55, l.Values().Throttle, 1e-5)

	// Any stick motion cancels the ramp.
	l.SetAxisInput(0.5, 0, 0, 0)
	assert.Equal(t, Direction(0), l.Values().Auto)
	before := l.Values().Throttle
	l.tick()
	assert.Equal(t, before, l.Values().Throttle)
}

func TestLoop_AutoIgnoresDeadbandNoise(t *testing.T) {
	l, _ := newTestLoop(openGate)
	l.EngageAuto(Up)
	l.SetAxisInput(0.05, -0.08, 0, 0.02)
	assert.Equal(t, Up, l.Values().Auto)
}

func TestLoop_ClosedGateSendsAndIntegratesNothing(t *testing.T) {
	var open atomic.Bool
	l, sender := newTestLoop(open.Load)
	l.SetThrottleMode(Sticky)
	l.SetAxisInput(0, 0, 0, 1)

	for i := 0; i < 5; i++ {
		l.tick()
	}
	assert.Equal(t, 0, sender.count())
	assert.Equal(t, float32(0), l.Values().Throttle)

	open.Store(true)
	l.tick()
	assert.Equal(t, 1, sender.count())
}

func TestLoop_NilGateIsClosed(t *testing.T) {
	l, sender := newTestLoop(nil)
	l.tick()
	assert.Equal(t, 0, sender.count())
}

func TestLoop_SetMaxOutput(t *testing.T) {
	l, _ := newTestLoop(openGate)
	assert.ErrorIs(t, l.SetMaxOutput(1.5), ErrInvalidMaxOutput)
	assert.ErrorIs(t, l.SetMaxOutput(-0.1), ErrInvalidMaxOutput)
	assert.ErrorIs(t, l.SetMaxOutput(float32(math.NaN())), ErrInvalidMaxOutput)
	assert.ErrorIs(t, l.SetMaxOutput(float32(math.Inf(1))), ErrInvalidMaxOutput)
	assert.InDelta(t, 0.55, l.MaxOutput(), 1e-6)

	require.NoError(t, l.SetMaxOutput(1))
	l.SetAxisInput(1, 0, 0, 0)
	assert.InDelta(t, 1, l.Values().Roll, 1e-6)
}

func TestLoop_NoDeadband(t *testing.T) {
	l := New(Settings{Deadband: NoDeadband}, timeutil.NewMockClock(time.Unix(0, 0)), newFakeSender(), openGate)
	l.SetAxisInput(0.05, -0.02, 0, 0)
	v := l.Values()
	assert.InDelta(t, 0.05*0.55, v.Roll, 1e-6)
	assert.InDelta(t, -0.02*0.55, v.Pitch, 1e-6)

	dflt, _ := newTestLoop(openGate)
	dflt.SetAxisInput(0.05, 0, 0, 0)
	assert.Zero(t, dflt.Values().Roll, "zero Deadband takes the default band")
}

func TestLoop_NonFiniteStickCentres(t *testing.T) {
	l, sender := newTestLoop(openGate)
	l.SetAxisInput(0.5, 0.5, 0.5, 0.5)
	nan, inf := float32(math.NaN()), float32(math.Inf(1))
	l.SetAxisInput(nan, inf, -inf, nan)

	v := l.Values()
	assert.Zero(t, v.Roll)
	assert.Zero(t, v.Pitch)
	assert.Zero(t, v.Yaw)
	assert.Zero(t, v.Throttle)
	_, err := json.Marshal(v)
	require.NoError(t, err)

	l.tick()
	require.Equal(t, 1, sender.count())
	assert.Equal(t, frame{}, sender.frames[0])
}

func TestLoop_ResetInputs(t *testing.T) {
	l, _ := newTestLoop(openGate)
	l.SetAxisInput(1, 1, 1, 1)
	l.EngageAuto(Up)
	l.ResetInputs()
	v := l.Values()
	assert.Zero(t, v.Roll)
	assert.Zero(t, v.Throttle)
	assert.Zero(t, v.Auto)
}

func TestLoop_SendErrorsDoNotStopTheLoop(t *testing.T) {
	l, sender := newTestLoop(openGate)
	sender.err = errors.New("link: not connected")
	l.tick()
	l.tick()
	sender.err = nil
	l.tick()
	assert.Equal(t, 1, sender.count())
}

func TestLoop_StartStopWithClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sender := newFakeSender()
	l := New(Settings{Tick: 50 * time.Millisecond}, clock, sender, openGate)
	l.SetAxisInput(0, 0, 0, 1)

	l.Start()
	l.Start()
	require.Equal(t, 1, clock.ActiveTickers())
	assert.True(t, l.Values().Running)

	for i := 0; i < 3; i++ {
		clock.Advance(50 * time.Millisecond)
		select {
		case f := <-sender.sent:
			assert.Equal(t, int16(550), f.throttle)
		case <-time.After(2 * time.Second):
			t.Fatalf("no frame after tick %d", i+1)
		}
	}

	l.Stop()
	assert.Equal(t, 0, clock.ActiveTickers())
	assert.False(t, l.Values().Running)

	n := sender.count()
	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, sender.count(), "no frames after Stop returned")

	l.Stop()
}
