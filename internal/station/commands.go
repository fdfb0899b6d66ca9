package station

import (
	"fmt"

	"github.com/banshee-data/groundlink/internal/control"
	"github.com/banshee-data/groundlink/internal/link"
	"github.com/banshee-data/groundlink/internal/monitoring"
	"github.com/banshee-data/groundlink/internal/session"
)

// Connect starts discovery on port (0 for the default). A previous
// connection that dropped without the watcher noticing yet is closed out
// first, so its parameters and recording do not leak into the new session.
func (s *Station) Connect(port int) {
	s.syncLinkState()
	s.link.Connect(port)
}

// Disconnect tears the link down and returns once the control loop has
// stopped and any active recording is finalized.
func (s *Station) Disconnect() {
	s.link.Disconnect()
	s.syncLinkState()
}

func (s *Station) Arm() error    { return s.link.Arm() }
func (s *Station) Disarm() error { return s.link.Disarm() }

// Takeoff is only sent to an armed vehicle.
func (s *Station) Takeoff() error {
	if !s.telem.Armed() {
		return ErrNotArmed
	}
	return s.link.Takeoff()
}

// CalibrateIMU is refused while armed.
func (s *Station) CalibrateIMU() error {
	if s.telem.Armed() {
		return ErrArmed
	}
	return s.link.CalibrateIMU()
}

// CalibrateBaro is refused while armed.
func (s *Station) CalibrateBaro() error {
	if s.telem.Armed() {
		return ErrArmed
	}
	return s.link.CalibrateBaro()
}

// RequestParameters drops the known parameter list and asks the vehicle
// for a fresh one.
func (s *Station) RequestParameters() error {
	if s.link.State() != link.Connected {
		return link.ErrNotConnected
	}
	s.telem.ClearParameters()
	return s.link.RequestParamList()
}

func (s *Station) SetParameter(id string, value float32) error {
	return s.link.SetParam(id, value)
}

// ReplayLastSessionParameters writes every parameter from the newest
// recorded snapshot to the vehicle, then re-requests the list so the
// echoes can be checked. It returns how many parameters were sent.
func (s *Station) ReplayLastSessionParameters() (int, error) {
	if s.link.State() != link.Connected {
		return 0, link.ErrNotConnected
	}
	params, err := s.recorder.LastParameters()
	if err != nil {
		return 0, err
	}
	if len(params) == 0 {
		return 0, ErrNoSavedParameters
	}
	for i, p := range params {
		if err := s.link.SetParam(p.ID, p.Value); err != nil {
			return i, fmt.Errorf("replay stopped at %s: %w", p.ID, err)
		}
	}
	monitoring.Diagf("[station] replayed %d parameters", len(params))

	s.mu.Lock()
	if s.connected {
		s.scheduleLocked(s.refreshDelay, func() {
			if err := s.RequestParameters(); err != nil {
				monitoring.Opsf("[station] parameter refresh failed: %v", err)
			}
		})
	}
	s.mu.Unlock()
	return len(params), nil
}

// HasRecordedSessions reports whether any session exists on disk.
func (s *Station) HasRecordedSessions() bool { return s.recorder.HasSessions() }

// StartRecording opens a new session. The vehicle must be armed and
// connected.
func (s *Station) StartRecording() error {
	if s.link.State() != link.Connected {
		return link.ErrNotConnected
	}
	if !s.telem.Armed() {
		return ErrNotArmed
	}
	if err := s.recorder.Start(); err != nil {
		monitoring.Opsf("[station] recording did not start: %v", err)
		return err
	}
	return nil
}

// StopRecording finalizes the active session with the current parameter
// list.
func (s *Station) StopRecording() (*session.Info, error) { return s.recordStop() }

func (s *Station) recordStop() (*session.Info, error) {
	return s.recorder.Stop(toSessionParams(s.telem.Parameters()))
}

func (s *Station) SetAxisInput(roll, pitch, yaw, throttle float32) {
	s.control.SetAxisInput(roll, pitch, yaw, throttle)
}

func (s *Station) SetThrottleMode(m control.ThrottleMode) { s.control.SetThrottleMode(m) }

func (s *Station) ToggleThrottleMode() control.ThrottleMode { return s.control.ToggleThrottleMode() }

func (s *Station) SetMaxOutput(v float32) error { return s.control.SetMaxOutput(v) }

func (s *Station) EngageAuto(d control.Direction) { s.control.EngageAuto(d) }

func (s *Station) DisengageAuto() { s.control.DisengageAuto() }
