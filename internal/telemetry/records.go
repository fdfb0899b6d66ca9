package telemetry

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Prefixes of the metrics the flight controller multiplexes into STATUSTEXT.
const (
	prefixDebug    = "DBG:"
	prefixTarget   = "TARGET:"
	prefixLoopTime = "LOOPTIME:"
)

// MotorSample holds the four motor PWM outputs.
type MotorSample struct {
	Time time.Time `json:"time"`
	M1   int       `json:"m1"`
	M2   int       `json:"m2"`
	M3   int       `json:"m3"`
	M4   int       `json:"m4"`
}

// EulerSample is used for measured attitude, PID output and target attitude.
type EulerSample struct {
	Time  time.Time `json:"time"`
	Roll  float32   `json:"roll"`
	Pitch float32   `json:"pitch"`
	Yaw   float32   `json:"yaw"`
}

type ThrottleSample struct {
	Time  time.Time `json:"time"`
	Value float32   `json:"value"`
}

// LoopTimeSample reports the controller's average and current loop frequency.
type LoopTimeSample struct {
	Time    time.Time `json:"time"`
	Avg     int       `json:"avg"`
	Current int       `json:"current"`
}

type AltitudeSample struct {
	Time     time.Time `json:"time"`
	Absolute float32   `json:"absolute"`
	Relative float32   `json:"relative"`
}

// StatusEntry is a free-text status message that carried no metrics.
type StatusEntry struct {
	Time     time.Time `json:"time"`
	Severity uint8     `json:"severity"`
	Text     string    `json:"text"`
}

// Records is what one status text demultiplexes into. Nil fields were absent
// or malformed.
type Records struct {
	Motors   *MotorSample
	PID      *EulerSample
	Throttle *ThrottleSample
	Target   *EulerSample
	LoopTime *LoopTimeSample
	Status   *StatusEntry
}

// Empty reports whether nothing was extracted.
func (r Records) Empty() bool {
	return r.Motors == nil && r.PID == nil && r.Throttle == nil &&
		r.Target == nil && r.LoopTime == nil && r.Status == nil
}

// Demux splits a status text into metric records stamped with at. Text
// without a known prefix becomes a StatusEntry.
//
//	DBG:m1,m2,m3,m4|roll,pitch,yaw|throttle
//	TARGET:roll,pitch,yaw
//	LOOPTIME:avg,current
//
// A DBG line with fewer than three segments yields nothing. Otherwise each
// segment stands alone: a short or unparsable one is dropped without
// affecting the others.
func Demux(text string, severity uint8, at time.Time) Records {
	var r Records
	switch {
	case strings.HasPrefix(text, prefixDebug):
		segs := strings.Split(strings.TrimPrefix(text, prefixDebug), "|")
		if len(segs) < 3 {
			return r
		}
		if m, ok := parseInts(segs[0], 4); ok {
			r.Motors = &MotorSample{Time: at, M1: m[0], M2: m[1], M3: m[2], M4: m[3]}
		}
		if p, ok := parseFloats(segs[1], 3); ok {
			r.PID = &EulerSample{Time: at, Roll: p[0], Pitch: p[1], Yaw: p[2]}
		}
		if v, ok := parseFinite(segs[2]); ok {
			r.Throttle = &ThrottleSample{Time: at, Value: v}
		}
	case strings.HasPrefix(text, prefixTarget):
		if t, ok := parseFloats(strings.TrimPrefix(text, prefixTarget), 3); ok {
			r.Target = &EulerSample{Time: at, Roll: t[0], Pitch: t[1], Yaw: t[2]}
		}
	case strings.HasPrefix(text, prefixLoopTime):
		body := strings.Join(strings.Fields(strings.TrimPrefix(text, prefixLoopTime)), "")
		if v, ok := parseInts(body, 2); ok {
			r.LoopTime = &LoopTimeSample{Time: at, Avg: v[0], Current: v[1]}
		}
	default:
		r.Status = &StatusEntry{Time: at, Severity: severity, Text: text}
	}
	return r
}

// parseInts parses a comma-separated list that must hold at least min
// integers. Any unparsable field rejects the whole list.
func parseInts(s string, min int) ([]int, bool) {
	fields := strings.Split(s, ",")
	if len(fields) < min {
		return nil, false
	}
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

func parseFloats(s string, min int) ([]float32, bool) {
	fields := strings.Split(s, ",")
	if len(fields) < min {
		return nil, false
	}
	out := make([]float32, 0, len(fields))
	for _, f := range fields {
		v, ok := parseFinite(f)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// parseFinite rejects "nan" and "inf" spellings along with anything
// ParseFloat refuses; neither survives JSON encoding downstream.
func parseFinite(s string) (float32, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return float32(v), true
}
