// Package session records telemetry to disk: one directory per session with
// a CSV file per stream, a parameter snapshot and a JSON metadata record.
package session

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/groundlink/internal/fsutil"
	"github.com/banshee-data/groundlink/internal/monitoring"
	"github.com/banshee-data/groundlink/internal/telemetry"
	"github.com/banshee-data/groundlink/internal/timeutil"
)

// DefaultRoot is the directory sessions are created under.
const DefaultRoot = "DroneSessions"

const (
	ParametersFile = "all_parameters.csv"
	InfoFile       = "session_info.json"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var (
	ErrAlreadyRecording = errors.New("session: already recording")
	ErrNotRecording     = errors.New("session: not recording")
	ErrInvalidName      = errors.New("session: invalid session name")
)

// Stream names double as CSV file names.
const (
	StreamAttitude       = "attitude"
	StreamMotors         = "motors"
	StreamThrottle       = "throttle"
	StreamPID            = "pid_output"
	StreamTargetAttitude = "target_attitude"
	StreamLoopTime       = "control_loop_time"
	StreamAltitude       = "altitude"
)

var streamHeaders = []struct {
	name   string
	header []string
}{
	{StreamAttitude, []string{"timestamp", "roll", "pitch", "yaw"}},
	{StreamMotors, []string{"timestamp", "motor1", "motor2", "motor3", "motor4"}},
	{StreamThrottle, []string{"timestamp", "throttle"}},
	{StreamPID, []string{"timestamp", "roll_pid", "pitch_pid", "yaw_pid"}},
	{StreamTargetAttitude, []string{"timestamp", "target_roll", "target_pitch", "target_yaw"}},
	{StreamLoopTime, []string{"timestamp", "avg_freq", "current_freq"}},
	{StreamAltitude, []string{"timestamp", "absolute", "relative"}},
}

// Indexer is told about every finished session.
type Indexer interface {
	RecordSession(info Info, params []Parameter) error
}

// Config configures a Recorder.
type Config struct {
	Root    string
	FS      fsutil.FileSystem
	Clock   timeutil.Clock
	Indexer Indexer
}

type stream struct {
	file   io.WriteCloser
	csv    *csv.Writer
	rows   int
	failed bool
}

// Recorder implements telemetry.Sink. Writes are dropped while idle.
type Recorder struct {
	root    string
	fs      fsutil.FileSystem
	clock   timeutil.Clock
	indexer Indexer

	mu       sync.Mutex
	active   bool
	id       uuid.UUID
	name     string
	dir      string
	start    time.Time
	streams  map[string]*stream
	throttle []float64
	loopFreq []float64
}

var _ telemetry.Sink = (*Recorder)(nil)

// NewRecorder returns an idle recorder.
func NewRecorder(cfg Config) *Recorder {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Recorder{root: cfg.Root, fs: cfg.FS, clock: cfg.Clock, indexer: cfg.Indexer}
}

// Root returns the sessions directory.
func (r *Recorder) Root() string { return r.root }

// Active reports whether a session is open.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start creates a new session directory and opens every stream. A stream
// that cannot be created is logged and skipped; failing to create the
// directory is an error and leaves the recorder idle.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrAlreadyRecording
	}

	now := r.clock.Now().UTC()
	name := r.uniqueName(now)
	dir := filepath.Join(r.root, name)
	if err := r.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate session id: %w", err)
	}

	streams := make(map[string]*stream, len(streamHeaders))
	for _, sh := range streamHeaders {
		f, err := r.fs.Create(filepath.Join(dir, sh.name+".csv"))
		if err != nil {
			monitoring.Opsf("[session] stream %s unavailable: %v", sh.name, err)
			continue
		}
		s := &stream{file: f, csv: csv.NewWriter(f)}
		if err := s.write(sh.header); err != nil {
			monitoring.Opsf("[session] stream %s unavailable: %v", sh.name, err)
			f.Close()
			continue
		}
		streams[sh.name] = s
	}

	r.active = true
	r.id = id
	r.name = name
	r.dir = dir
	r.start = now
	r.streams = streams
	r.throttle = nil
	r.loopFreq = nil
	monitoring.Diagf("[session] recording to %s", dir)
	return nil
}

// uniqueName returns session_<UTC millis>, with -N appended on collision.
func (r *Recorder) uniqueName(t time.Time) string {
	base := sessionPrefix + t.Format(dirTimeLayout)
	name := base
	for n := 2; r.fs.Exists(filepath.Join(r.root, name)); n++ {
		name = fmt.Sprintf("%s-%d", base, n)
	}
	return name
}

func (s *stream) write(row []string) error {
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.csv.Flush()
	return s.csv.Error()
}

// writeRow writes one row to the named stream. It must be called with mu held.
func (r *Recorder) writeRow(name string, t time.Time, values ...string) {
	if !r.active {
		return
	}
	s, ok := r.streams[name]
	if !ok || s.failed {
		return
	}
	row := append([]string{t.UTC().Format(timestampLayout)}, values...)
	if err := s.write(row); err != nil {
		s.failed = true
		monitoring.Opsf("[session] dropping stream %s after write error: %v", name, err)
		return
	}
	s.rows++
}

func formatFloat(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }

func (r *Recorder) WriteAttitude(s telemetry.EulerSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeRow(StreamAttitude, s.Time, formatFloat(s.Roll), formatFloat(s.Pitch), formatFloat(s.Yaw))
}

func (r *Recorder) WriteMotors(s telemetry.MotorSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeRow(StreamMotors, s.Time, strconv.Itoa(s.M1), strconv.Itoa(s.M2), strconv.Itoa(s.M3), strconv.Itoa(s.M4))
}

func (r *Recorder) WriteThrottle(s telemetry.ThrottleSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v := float64(s.Value); r.active && !math.IsNaN(v) && !math.IsInf(v, 0) {
		r.throttle = append(r.throttle, v)
	}
	r.writeRow(StreamThrottle, s.Time, formatFloat(s.Value))
}

func (r *Recorder) WritePID(s telemetry.EulerSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeRow(StreamPID, s.Time, formatFloat(s.Roll), formatFloat(s.Pitch), formatFloat(s.Yaw))
}

func (r *Recorder) WriteTargetAttitude(s telemetry.EulerSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeRow(StreamTargetAttitude, s.Time, formatFloat(s.Roll), formatFloat(s.Pitch), formatFloat(s.Yaw))
}

func (r *Recorder) WriteLoopTime(s telemetry.LoopTimeSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		r.loopFreq = append(r.loopFreq, float64(s.Current))
	}
	r.writeRow(StreamLoopTime, s.Time, strconv.Itoa(s.Avg), strconv.Itoa(s.Current))
}

func (r *Recorder) WriteAltitude(s telemetry.AltitudeSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeRow(StreamAltitude, s.Time, formatFloat(s.Absolute), formatFloat(s.Relative))
}

// Stop closes every stream, writes the parameter snapshot and metadata, and
// hands the result to the Indexer. The recorder is idle afterwards even when
// an error is returned.
func (r *Recorder) Stop(params []Parameter) (*Info, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	info := Info{
		ID:              r.id,
		Name:            r.name,
		Dir:             r.dir,
		Start:           r.start,
		End:             r.clock.Now().UTC(),
		TotalParameters: len(params),
		ParametersValue: make(map[string]float32, len(params)),
		StreamRows:      make(map[string]int, len(r.streams)),
		Summary: Summary{
			Throttle:      summarize(r.throttle),
			LoopFrequency: summarize(r.loopFreq),
		},
	}
	for name, s := range r.streams {
		info.StreamRows[name] = s.rows
		if err := s.file.Close(); err != nil {
			monitoring.Opsf("[session] error closing stream %s: %v", name, err)
		}
	}
	for _, p := range params {
		info.ParametersValue[p.ID] = p.Value
	}
	r.active = false
	r.streams = nil
	r.throttle = nil
	r.loopFreq = nil
	r.mu.Unlock()

	var errs []error
	if err := r.writeParameters(info.Dir, params); err != nil {
		errs = append(errs, err)
	}
	if err := r.writeInfo(info); err != nil {
		errs = append(errs, err)
	}
	if r.indexer != nil {
		if err := r.indexer.RecordSession(info, params); err != nil {
			monitoring.Opsf("[session] failed to index %s: %v", info.Name, err)
		}
	}
	monitoring.Diagf("[session] stopped %s after %v, %d parameters", info.Name, info.Duration().Round(time.Millisecond), len(params))
	return &info, errors.Join(errs...)
}

// writeParameters writes the snapshot sorted by id. Ids that need it are
// quoted per RFC 4180.
func (r *Recorder) writeParameters(dir string, params []Parameter) error {
	sorted := append([]Parameter(nil), params...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"parameter_name", "value"})
	for _, p := range sorted {
		w.Write([]string{p.ID, formatFloat(p.Value)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	if err := fsutil.WriteFileAtomic(r.fs, filepath.Join(dir, ParametersFile), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write parameters: %w", err)
	}
	return nil
}

func (r *Recorder) writeInfo(info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session info: %w", err)
	}
	if err := fsutil.WriteFileAtomic(r.fs, filepath.Join(info.Dir, InfoFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write session info: %w", err)
	}
	return nil
}
