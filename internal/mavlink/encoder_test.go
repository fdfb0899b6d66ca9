package mavlink

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestChecksum_KnownVector(t *testing.T) {
	// CRC-16/MCRF4XX check value.
	if got := Checksum([]byte("123456789")); got != 0x6F91 {
		t.Errorf("Checksum() = %#04x, want 0x6f91", got)
	}
}

func TestEncode_GCSHeartbeatLayout(t *testing.T) {
	enc := NewGCSEncoder()
	frame, err := enc.Encode(GCSHeartbeat{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if frame[0] != StartV2 {
		t.Fatalf("start byte = %#x, want %#x", frame[0], StartV2)
	}
	if int(frame[1]) != 9 {
		t.Errorf("payload length = %d, want 9", frame[1])
	}
	if frame[4] != 0 {
		t.Errorf("first sequence = %d, want 0", frame[4])
	}
	if frame[5] != GCSSystemID || frame[6] != GCSComponentID {
		t.Errorf("ids = %d/%d, want %d/%d", frame[5], frame[6], GCSSystemID, GCSComponentID)
	}
	payload := frame[headerLenV2 : headerLenV2+9]
	want := []byte{0, 0, 0, 0, MavTypeGCS, MavAutopilotInvalid, MavModeFlagCustomModeEnabled, MavStateActive, 3}
	if diff := cmp.Diff(want, payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if len(frame) != headerLenV2+9+checksumLen {
		t.Errorf("frame length = %d", len(frame))
	}
}

func TestEncode_SequenceWraps(t *testing.T) {
	enc := NewGCSEncoder()
	var last byte
	for i := 0; i < 257; i++ {
		frame, err := enc.Encode(ParamRequestList{})
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		last = frame[4]
	}
	if last != 0 {
		t.Errorf("sequence after 257 frames = %d, want 0", last)
	}
}

func TestEncode_TruncatesTrailingZeros(t *testing.T) {
	enc := NewGCSEncoder()
	frame, err := enc.Encode(Disarm())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// 28 bytes of zero params, command, target system, target component;
	// the zero confirmation byte is dropped.
	if got := int(frame[1]); got != 32 {
		t.Errorf("payload length = %d, want 32", got)
	}
}

func TestEncode_Errors(t *testing.T) {
	enc := NewGCSEncoder()
	if _, err := enc.Encode(nil); !errors.Is(err, ErrBuildFailed) {
		t.Errorf("Encode(nil) err = %v, want ErrBuildFailed", err)
	}
	if _, err := enc.Encode(unknownMessage{}); !errors.Is(err, ErrBuildFailed) {
		t.Errorf("Encode(unknown) err = %v, want ErrBuildFailed", err)
	}
}

type unknownMessage struct{}

func (unknownMessage) MessageID() uint32             { return 9999 }
func (unknownMessage) AppendPayload(b []byte) []byte { return append(b, 1) }

func TestParseFrame_RoundTripsCommands(t *testing.T) {
	enc := NewGCSEncoder()
	tests := []struct {
		name string
		msg  Message
	}{
		{"arm", Arm()},
		{"disarm", Disarm()},
		{"calibrate imu", CalibrateIMU()},
		{"calibrate baro", CalibrateBaro()},
		{"takeoff", Takeoff()},
		{"manual control", ManualControl{Roll: -1000, Pitch: 250, Yaw: 0, Throttle: 550}},
		{"param request list", ParamRequestList{}},
		{"param set", ParamSet{ID: "PID_ROLL_P", Value: 0.15}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := enc.Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := ParseFrame(frame)
			if err != nil {
				t.Fatalf("ParseFrame failed: %v", err)
			}
			if diff := cmp.Diff(tt.msg, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommandParameters(t *testing.T) {
	if p := Arm().Params; p[0] != 1 {
		t.Errorf("Arm param1 = %v, want 1", p[0])
	}
	if p := CalibrateIMU().Params; p[0] != 1 || p[4] != 0 {
		t.Errorf("CalibrateIMU params = %v", p)
	}
	if p := CalibrateBaro().Params; p[0] != 0 || p[4] != 1 {
		t.Errorf("CalibrateBaro params = %v", p)
	}
	if c := Takeoff().Command; c != CmdNavTakeoff {
		t.Errorf("Takeoff command = %d", c)
	}
}

func TestParseFrame_RejectsPartial(t *testing.T) {
	frame, err := NewGCSEncoder().Encode(Arm())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := ParseFrame(frame[:len(frame)-1]); !errors.Is(err, ErrBadFrame) {
		t.Errorf("ParseFrame(truncated) err = %v, want ErrBadFrame", err)
	}
}

func TestEncode_V1(t *testing.T) {
	enc := NewEncoder(1, 1, WithProtocolV1())
	frame, err := enc.Encode(Heartbeat{Armed: true})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if frame[0] != StartV1 || len(frame) != headerLenV1+9+checksumLen {
		t.Fatalf("unexpected v1 frame % x", frame)
	}
	got, err := ParseFrame(frame)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	hb, ok := got.(Heartbeat)
	if !ok || !hb.Armed {
		t.Errorf("ParseFrame = %#v, want armed heartbeat", got)
	}
}
