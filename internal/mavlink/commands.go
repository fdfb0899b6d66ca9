package mavlink

import "encoding/binary"

// GCSHeartbeat is the heartbeat the ground station emits on its fixed interval.
type GCSHeartbeat struct{}

// CommandLong is a COMMAND_LONG addressed to the flight controller.
type CommandLong struct {
	Command uint16
	Params  [7]float32
}

// ManualControl carries the four stick axes scaled to [-1000, 1000].
// The flight controller reads x as roll, y as pitch, z as yaw and r as throttle.
type ManualControl struct {
	Roll     int16
	Pitch    int16
	Yaw      int16
	Throttle int16
}

// ParamRequestList asks the vehicle to stream every parameter.
type ParamRequestList struct{}

// ParamSet writes one REAL32 parameter. IDs longer than 16 bytes are truncated.
type ParamSet struct {
	ID    string
	Value float32
}

func (GCSHeartbeat) MessageID() uint32     { return MsgIDHeartbeat }
func (CommandLong) MessageID() uint32      { return MsgIDCommandLong }
func (ManualControl) MessageID() uint32    { return MsgIDManualControl }
func (ParamRequestList) MessageID() uint32 { return MsgIDParamRequestList }
func (ParamSet) MessageID() uint32         { return MsgIDParamSet }

func (GCSHeartbeat) AppendPayload(b []byte) []byte {
	return Heartbeat{
		VehicleType:  MavTypeGCS,
		Autopilot:    MavAutopilotInvalid,
		BaseMode:     MavModeFlagCustomModeEnabled,
		SystemStatus: MavStateActive,
	}.AppendPayload(b)
}

func (c CommandLong) AppendPayload(b []byte) []byte {
	for _, p := range c.Params {
		b = appendFloat32(b, p)
	}
	b = binary.LittleEndian.AppendUint16(b, c.Command)
	return append(b, TargetSystemID, TargetComponentID, 0)
}

func (m ManualControl) AppendPayload(b []byte) []byte {
	for _, v := range []int16{m.Roll, m.Pitch, m.Yaw, m.Throttle} {
		b = binary.LittleEndian.AppendUint16(b, uint16(v))
	}
	b = binary.LittleEndian.AppendUint16(b, 0) // buttons
	return append(b, TargetSystemID)
}

func (ParamRequestList) AppendPayload(b []byte) []byte {
	return append(b, TargetSystemID, TargetComponentID)
}

func (p ParamSet) AppendPayload(b []byte) []byte {
	b = appendFloat32(b, p.Value)
	b = append(b, TargetSystemID, TargetComponentID)
	b = appendFixedString(b, p.ID, paramIDLen)
	return append(b, MavParamTypeReal32)
}

// Arm returns the COMPONENT_ARM_DISARM command with param1 = 1.
func Arm() CommandLong {
	return CommandLong{Command: CmdComponentArmDisarm, Params: [7]float32{1}}
}

// Disarm returns the COMPONENT_ARM_DISARM command with param1 = 0.
func Disarm() CommandLong {
	return CommandLong{Command: CmdComponentArmDisarm}
}

// CalibrateIMU requests a gyro calibration (PREFLIGHT_CALIBRATION param1).
func CalibrateIMU() CommandLong {
	return CommandLong{Command: CmdPreflightCalibration, Params: [7]float32{1, 0, 0, 0, 0, 0, 0}}
}

// CalibrateBaro requests a barometer calibration (PREFLIGHT_CALIBRATION param5).
func CalibrateBaro() CommandLong {
	return CommandLong{Command: CmdPreflightCalibration, Params: [7]float32{0, 0, 0, 0, 1, 0, 0}}
}

// Takeoff returns NAV_TAKEOFF with every parameter left to the vehicle.
func Takeoff() CommandLong {
	return CommandLong{Command: CmdNavTakeoff}
}

// decodeCommand is the inverse of the command builders. The parser never emits
// these; tests use it to inspect what was sent.
func decodeCommand(msgID uint32, p []byte) Message {
	le := binary.LittleEndian
	switch msgID {
	case MsgIDHeartbeat:
		return decodePacket(msgID, p)
	case MsgIDCommandLong:
		var c CommandLong
		for i := range c.Params {
			c.Params[i] = readFloat32(p[i*4 : i*4+4])
		}
		c.Command = le.Uint16(p[28:30])
		return c
	case MsgIDManualControl:
		return ManualControl{
			Roll:     int16(le.Uint16(p[0:2])),
			Pitch:    int16(le.Uint16(p[2:4])),
			Yaw:      int16(le.Uint16(p[4:6])),
			Throttle: int16(le.Uint16(p[6:8])),
		}
	case MsgIDParamRequestList:
		return ParamRequestList{}
	case MsgIDParamSet:
		return ParamSet{Value: readFloat32(p[0:4]), ID: cString(p[6 : 6+paramIDLen])}
	}
	return nil
}
