package control

import "math"

// Deadband maps |v| <= deadband to zero and rescales the remaining range
// linearly onto (0, ceiling], keeping the sign. Inputs are clamped to [-1, 1]
// and a NaN or infinite input reads as a centred stick.
func Deadband(v, deadband, ceiling float32) float32 {
	if !finite(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	mag := float32(math.Abs(float64(v)))
	if mag <= deadband || deadband >= 1 {
		return 0
	}
	scaled := (mag - deadband) / (1 - deadband) * ceiling
	if v < 0 {
		return -scaled
	}
	return scaled
}

// scale converts a normalized value to the wire's [-1000, 1000] range.
func scale(v float32) int16 {
	if !finite(v) {
		return 0
	}
	s := math.Round(float64(v) * 1000)
	if s > 1000 {
		s = 1000
	} else if s < -1000 {
		s = -1000
	}
	return int16(s)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
