package session

import (
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Parameter is one row of a session's parameter snapshot.
type Parameter struct {
	ID    string  `json:"id"`
	Value float32 `json:"value"`
}

// Info is the metadata written to session_info.json when a session stops.
type Info struct {
	ID              uuid.UUID          `json:"session_id"`
	Name            string             `json:"name"`
	Start           time.Time          `json:"session_start"`
	End             time.Time          `json:"session_end"`
	TotalParameters int                `json:"total_parameters"`
	ParametersValue map[string]float32 `json:"parameters_value"`
	StreamRows      map[string]int     `json:"stream_rows"`
	Summary         Summary            `json:"summary"`

	// Dir is the session directory on disk.
	Dir string `json:"-"`
}

// Duration is End minus Start.
func (i Info) Duration() time.Duration { return i.End.Sub(i.Start) }

// Summary holds per-session statistics over the recorded streams.
type Summary struct {
	Throttle      Stats `json:"throttle"`
	LoopFrequency Stats `json:"loop_frequency"`
}

// Stats describes one series. It is zero when the series was empty.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func summarize(x []float64) Stats {
	if len(x) == 0 {
		return Stats{}
	}
	s := Stats{Count: len(x), Min: floats.Min(x), Max: floats.Max(x)}
	if len(x) == 1 {
		s.Mean = x[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(x, nil)
	return s
}
