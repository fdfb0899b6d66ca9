package control

import (
	"math"
	"testing"
)

func TestDeadband(t *testing.T) {
	tests := []struct {
		name     string
		in       float32
		deadband float32
		ceiling  float32
		want     float32
	}{
		{"inside band", 0.05, 0.1, 0.5, 0},
		{"boundary drops", 0.1, 0.1, 0.5, 0},
		{"negative boundary drops", -0.1, 0.1, 0.5, 0},
		{"full positive", 1.0, 0.1, 0.5, 0.5},
		{"full negative", -1.0, 0.1, 0.5, -0.5},
		{"midpoint", 0.55, 0.1, 1.0, 0.5},
		{"clamped above one", 3, 0.1, 0.5, 0.5},
		{"zero ceiling", 0.9, 0.1, 0, 0},
		{"no deadband", 0.25, 0, 1, 0.25},
		{"nan reads centred", float32(math.NaN()), 0.1, 0.5, 0},
		{"infinity reads centred", float32(math.Inf(1)), 0.1, 0.5, 0},
		{"negative infinity reads centred", float32(math.Inf(-1)), 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Deadband(tt.in, tt.deadband, tt.ceiling)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("Deadband(%v, %v, %v) = %v, want %v", tt.in, tt.deadband, tt.ceiling, got, tt.want)
			}
		})
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{0.55, 550},
		{-0.5, -500},
		{1, 1000},
		{1.5, 1000},
		{-2, -1000},
		{float32(math.NaN()), 0},
		{float32(math.Inf(1)), 0},
	}
	for _, tt := range tests {
		if got := scale(tt.in); got != tt.want {
			t.Errorf("scale(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseThrottleMode(t *testing.T) {
	for _, m := range []ThrottleMode{Direct, Sticky} {
		got, err := ParseThrottleMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseThrottleMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseThrottleMode("cruise"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}
