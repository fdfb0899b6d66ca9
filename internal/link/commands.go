package link

import (
	"github.com/banshee-data/groundlink/internal/mavlink"
)

// send writes m if the link is Connected. Otherwise it returns
// ErrNotConnected without touching the encoder.
func (l *Link) send(m mavlink.Message) error {
	l.mu.Lock()
	if l.state != Connected || l.sess == nil || l.sess.transport == nil {
		l.mu.Unlock()
		return ErrNotConnected
	}
	tr := l.sess.transport
	l.mu.Unlock()
	return l.write(tr, m)
}

// Arm asks the vehicle to arm its motors.
func (l *Link) Arm() error { return l.send(mavlink.Arm()) }

// Disarm asks the vehicle to disarm.
func (l *Link) Disarm() error { return l.send(mavlink.Disarm()) }

// CalibrateIMU starts a gyro calibration.
func (l *Link) CalibrateIMU() error { return l.send(mavlink.CalibrateIMU()) }

// CalibrateBaro starts a barometer calibration.
func (l *Link) CalibrateBaro() error { return l.send(mavlink.CalibrateBaro()) }

// Takeoff sends NAV_TAKEOFF.
func (l *Link) Takeoff() error { return l.send(mavlink.Takeoff()) }

// RequestParamList asks the vehicle to stream all parameters.
func (l *Link) RequestParamList() error { return l.send(mavlink.ParamRequestList{}) }

// SetParam writes one parameter on the vehicle.
func (l *Link) SetParam(id string, value float32) error {
	return l.send(mavlink.ParamSet{ID: id, Value: value})
}

// ManualControl sends one set of stick values, each in [-1000, 1000].
func (l *Link) ManualControl(roll, pitch, yaw, throttle int16) error {
	return l.send(mavlink.ManualControl{Roll: roll, Pitch: pitch, Yaw: yaw, Throttle: throttle})
}
