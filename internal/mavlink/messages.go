// Package mavlink implements the subset of the MAVLink common dialect spoken
// between the ground station and the flight controller: frame encoding for
// outgoing commands and a resynchronizing streaming parser for telemetry.
package mavlink

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Message ids used on the link.
const (
	MsgIDHeartbeat         uint32 = 0
	MsgIDParamRequestList  uint32 = 21
	MsgIDParamValue        uint32 = 22
	MsgIDParamSet          uint32 = 23
	MsgIDAttitude          uint32 = 30
	MsgIDGlobalPositionInt uint32 = 33
	MsgIDManualControl     uint32 = 69
	MsgIDCommandLong       uint32 = 76
	MsgIDStatusText        uint32 = 253
)

// MAV_CMD values sent in COMMAND_LONG.
const (
	CmdNavTakeoff           uint16 = 22
	CmdPreflightCalibration uint16 = 241
	CmdComponentArmDisarm   uint16 = 400
)

// Enum values from the common dialect.
const (
	MavTypeGCS                   uint8 = 6
	MavAutopilotInvalid          uint8 = 8
	MavModeFlagCustomModeEnabled uint8 = 1
	MavModeFlagSafetyArmed       uint8 = 128
	MavStateActive               uint8 = 4
	MavParamTypeReal32           uint8 = 9
	mavlinkVersion               uint8 = 3
)

// Ground station and vehicle addressing.
const (
	GCSSystemID       uint8 = 255
	GCSComponentID    uint8 = 25
	TargetSystemID    uint8 = 1
	TargetComponentID uint8 = 1
)

const (
	paramIDLen    = 16
	statusTextLen = 50
)

type messageInfo struct {
	crcExtra byte
	// length is the full payload length including extension fields. Shorter
	// payloads are zero-extended on decode.
	length int
}

var messageTable = map[uint32]messageInfo{
	MsgIDHeartbeat:         {crcExtra: 50, length: 9},
	MsgIDParamRequestList:  {crcExtra: 159, length: 2},
	MsgIDParamValue:        {crcExtra: 220, length: 25},
	MsgIDParamSet:          {crcExtra: 168, length: 23},
	MsgIDAttitude:          {crcExtra: 39, length: 28},
	MsgIDGlobalPositionInt: {crcExtra: 104, length: 28},
	MsgIDManualControl:     {crcExtra: 243, length: 11},
	MsgIDCommandLong:       {crcExtra: 152, length: 33},
	MsgIDStatusText:        {crcExtra: 83, length: 54},
}

// Message is anything that can be serialized into a frame payload.
type Message interface {
	MessageID() uint32
	// AppendPayload appends the little-endian wire payload to b.
	AppendPayload(b []byte) []byte
}

// Packet is a decoded inbound message.
type Packet interface {
	Message
	packet()
}

// Heartbeat is the liveness message exchanged by both ends of the link.
type Heartbeat struct {
	Armed        bool
	VehicleType  uint8
	Autopilot    uint8
	BaseMode     uint8
	CustomMode   uint32
	SystemStatus uint8
}

// Attitude carries vehicle orientation. Angles are in degrees, rates in rad/s.
type Attitude struct {
	RollDeg   float32
	PitchDeg  float32
	YawDeg    float32
	RollRate  float32
	PitchRate float32
	YawRate   float32
}

// Position is GLOBAL_POSITION_INT converted to degrees and metres.
type Position struct {
	Lat               float64
	Lon               float64
	AbsoluteAltitudeM float32
	RelativeAltitudeM float32
}

// StatusText is a free-text message from the vehicle. The firmware also uses
// it to multiplex debug metrics.
type StatusText struct {
	Text     string
	Severity uint8
}

// ParamValue is one onboard parameter reported by the vehicle.
type ParamValue struct {
	ID    string
	Value float32
	Index uint16
	Count uint16
}

func (Heartbeat) packet()  {}
func (Attitude) packet()   {}
func (Position) packet()   {}
func (StatusText) packet() {}
func (ParamValue) packet() {}

func (Heartbeat) MessageID() uint32  { return MsgIDHeartbeat }
func (Attitude) MessageID() uint32   { return MsgIDAttitude }
func (Position) MessageID() uint32   { return MsgIDGlobalPositionInt }
func (StatusText) MessageID() uint32 { return MsgIDStatusText }
func (ParamValue) MessageID() uint32 { return MsgIDParamValue }

func (h Heartbeat) AppendPayload(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.CustomMode)
	base := h.BaseMode
	if h.Armed {
		base |= MavModeFlagSafetyArmed
	}
	return append(b, h.VehicleType, h.Autopilot, base, h.SystemStatus, mavlinkVersion)
}

func (a Attitude) AppendPayload(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, 0) // time_boot_ms
	for _, v := range []float32{
		degToRad(a.RollDeg), degToRad(a.PitchDeg), degToRad(a.YawDeg),
		a.RollRate, a.PitchRate, a.YawRate,
	} {
		b = appendFloat32(b, v)
	}
	return b
}

func (p Position) AppendPayload(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, 0) // time_boot_ms
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(math.Round(p.Lat*1e7))))
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(math.Round(p.Lon*1e7))))
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(math.Round(float64(p.AbsoluteAltitudeM)*1000))))
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(math.Round(float64(p.RelativeAltitudeM)*1000))))
	// vx, vy, vz, hdg
	return append(b, make([]byte, 8)...)
}

func (s StatusText) AppendPayload(b []byte) []byte {
	b = append(b, s.Severity)
	b = appendFixedString(b, s.Text, statusTextLen)
	// id, chunk_seq extensions
	return append(b, 0, 0, 0)
}

func (p ParamValue) AppendPayload(b []byte) []byte {
	b = appendFloat32(b, p.Value)
	b = binary.LittleEndian.AppendUint16(b, p.Count)
	b = binary.LittleEndian.AppendUint16(b, p.Index)
	b = appendFixedString(b, p.ID, paramIDLen)
	return append(b, MavParamTypeReal32)
}

// decodePacket turns a zero-extended payload into a Packet. It returns nil for
// messages the ground station does not consume.
func decodePacket(msgID uint32, p []byte) Packet {
	le := binary.LittleEndian
	switch msgID {
	case MsgIDHeartbeat:
		return Heartbeat{
			CustomMode:   le.Uint32(p[0:4]),
			VehicleType:  p[4],
			Autopilot:    p[5],
			BaseMode:     p[6],
			SystemStatus: p[7],
			Armed:        p[6]&MavModeFlagSafetyArmed != 0,
		}
	case MsgIDAttitude:
		return Attitude{
			RollDeg:   radToDeg(readFloat32(p[4:8])),
			PitchDeg:  radToDeg(readFloat32(p[8:12])),
			YawDeg:    radToDeg(readFloat32(p[12:16])),
			RollRate:  readFloat32(p[16:20]),
			PitchRate: readFloat32(p[20:24]),
			YawRate:   readFloat32(p[24:28]),
		}
	case MsgIDGlobalPositionInt:
		return Position{
			Lat:               float64(int32(le.Uint32(p[4:8]))) / 1e7,
			Lon:               float64(int32(le.Uint32(p[8:12]))) / 1e7,
			AbsoluteAltitudeM: float32(int32(le.Uint32(p[12:16]))) / 1000,
			RelativeAltitudeM: float32(int32(le.Uint32(p[16:20]))) / 1000,
		}
	case MsgIDStatusText:
		return StatusText{
			Severity: p[0],
			Text:     cString(p[1 : 1+statusTextLen]),
		}
	case MsgIDParamValue:
		if p[24] != MavParamTypeReal32 {
			return nil
		}
		return ParamValue{
			Value: readFloat32(p[0:4]),
			Count: le.Uint16(p[4:6]),
			Index: le.Uint16(p[6:8]),
			ID:    cString(p[8 : 8+paramIDLen]),
		}
	}
	return nil
}

func appendFloat32(b []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
}

func readFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// appendFixedString writes s into a NUL-padded field of n bytes, truncating
// when s is longer. A full-length value carries no terminator, as on the wire.
func appendFixedString(b []byte, s string, n int) []byte {
	field := make([]byte, n)
	copy(field, s)
	return append(b, field...)
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func radToDeg(r float32) float32 { return r * 180 / math.Pi }
func degToRad(d float32) float32 { return d * math.Pi / 180 }
