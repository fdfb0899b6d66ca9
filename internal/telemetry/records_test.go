package telemetry

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDemux(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		text string
		want Records
	}{
		{
			name: "debug line",
			text: "DBG:100,200,300,400|0.1,0.2,0.3|0.55",
			want: Records{
				Motors:   &MotorSample{Time: at, M1: 100, M2: 200, M3: 300, M4: 400},
				PID:      &EulerSample{Time: at, Roll: 0.1, Pitch: 0.2, Yaw: 0.3},
				Throttle: &ThrottleSample{Time: at, Value: 0.55},
			},
		},
		{
			name: "debug line with two segments",
			text: "DBG:1,2,3|0.1,0.2",
			want: Records{},
		},
		{
			name: "short motor segment dropped alone",
			text: "DBG:1,2,3|0.1,0.2,0.3|0.4",
			want: Records{
				PID:      &EulerSample{Time: at, Roll: 0.1, Pitch: 0.2, Yaw: 0.3},
				Throttle: &ThrottleSample{Time: at, Value: 0.4},
			},
		},
		{
			name: "unparsable motor value rejects the segment",
			text: "DBG:1,2,x,4|0.1,0.2|0.4",
			want: Records{
				Throttle: &ThrottleSample{Time: at, Value: 0.4},
			},
		},
		{
			name: "extra pid fields are tolerated",
			text: "DBG:1,2,3,4|1,2,3,4|bad",
			want: Records{
				Motors: &MotorSample{Time: at, M1: 1, M2: 2, M3: 3, M4: 4},
				PID:    &EulerSample{Time: at, Roll: 1, Pitch: 2, Yaw: 3},
			},
		},
		{
			name: "non-finite values reject their segments",
			text: "DBG:1,2,3,4|NaN,0.2,0.3|+Inf",
			want: Records{
				Motors: &MotorSample{Time: at, M1: 1, M2: 2, M3: 3, M4: 4},
			},
		},
		{
			name: "infinite throttle dropped",
			text: "DBG:1,2,3,4|0.1,0.2,0.3|inf",
			want: Records{
				Motors: &MotorSample{Time: at, M1: 1, M2: 2, M3: 3, M4: 4},
				PID:    &EulerSample{Time: at, Roll: 0.1, Pitch: 0.2, Yaw: 0.3},
			},
		},
		{
			name: "nan target",
			text: "TARGET:1,nan,3",
			want: Records{},
		},
		{
			name: "target attitude",
			text: "TARGET:5.5,-2,180",
			want: Records{Target: &EulerSample{Time: at, Roll: 5.5, Pitch: -2, Yaw: 180}},
		},
		{
			name: "short target",
			text: "TARGET:1,2",
			want: Records{},
		},
		{
			name: "loop time with whitespace",
			text: "LOOPTIME: 120,130",
			want: Records{LoopTime: &LoopTimeSample{Time: at, Avg: 120, Current: 130}},
		},
		{
			name: "loop time with spaces around values",
			text: "LOOPTIME: 1 000 , 998",
			want: Records{LoopTime: &LoopTimeSample{Time: at, Avg: 1000, Current: 998}},
		},
		{
			name: "plain text",
			text: "Calibration done",
			want: Records{Status: &StatusEntry{Time: at, Severity: 6, Text: "Calibration done"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Demux(tt.text, 6, at)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Demux(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}

func TestRecordsEmpty(t *testing.T) {
	if !(Records{}).Empty() {
		t.Error("zero Records should be empty")
	}
	if (Records{Status: &StatusEntry{}}).Empty() {
		t.Error("Records with a status entry should not be empty")
	}
}

func TestSampleGate(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	g := SampleGate{MinInterval: 100 * time.Millisecond}

	steps := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{50 * time.Millisecond, false},
		{99 * time.Millisecond, false},
		{100 * time.Millisecond, true},
		{150 * time.Millisecond, false},
		{250 * time.Millisecond, true},
	}
	for _, s := range steps {
		if got := g.Accept(start.Add(s.offset)); got != s.want {
			t.Errorf("Accept(+%v) = %v, want %v", s.offset, got, s.want)
		}
	}

	g.Reset()
	if !g.Accept(start.Add(260 * time.Millisecond)) {
		t.Error("Accept after Reset should pass")
	}

	var open SampleGate
	for i := 0; i < 3; i++ {
		if !open.Accept(start) {
			t.Fatal("zero gate must accept everything")
		}
	}
}
