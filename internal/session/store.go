package session

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/groundlink/internal/security"
)

const (
	sessionPrefix = "session_"
	dirTimeLayout = "2006-01-02_15-04-05.000"
)

// sessionKey splits a directory name into its timestamp and collision
// suffix so that -10 sorts after -9.
func sessionKey(name string) (stamp string, n int, ok bool) {
	if !strings.HasPrefix(name, sessionPrefix) {
		return "", 0, false
	}
	rest := strings.TrimPrefix(name, sessionPrefix)
	if len(rest) < len(dirTimeLayout) {
		return "", 0, false
	}
	stamp, suffix := rest[:len(dirTimeLayout)], rest[len(dirTimeLayout):]
	if suffix == "" {
		return stamp, 1, true
	}
	if !strings.HasPrefix(suffix, "-") {
		return "", 0, false
	}
	n, err := strconv.Atoi(suffix[1:])
	if err != nil || n < 2 {
		return "", 0, false
	}
	return stamp, n, true
}

// Sessions lists session directory names, newest first. A missing root is
// an empty list.
func (r *Recorder) Sessions() ([]string, error) {
	entries, err := r.fs.ReadDir(r.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	type keyed struct {
		name  string
		stamp string
		n     int
	}
	var found []keyed
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		stamp, n, ok := sessionKey(e.Name())
		if !ok {
			continue
		}
		found = append(found, keyed{e.Name(), stamp, n})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].stamp != found[j].stamp {
			return found[i].stamp > found[j].stamp
		}
		return found[i].n > found[j].n
	})

	names := make([]string, len(found))
	for i, k := range found {
		names[i] = k.name
	}
	return names, nil
}

// HasSessions reports whether at least one session directory exists.
func (r *Recorder) HasSessions() bool {
	names, err := r.Sessions()
	return err == nil && len(names) > 0
}

// LastParameters returns the parameter snapshot of the newest session that
// has one. It returns nil when no session does.
func (r *Recorder) LastParameters() ([]Parameter, error) {
	names, err := r.Sessions()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		path := filepath.Join(r.root, name, ParametersFile)
		if !r.fs.Exists(path) {
			continue
		}
		data, err := r.fs.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return parseParameters(data)
	}
	return nil, nil
}

// parseParameters reads an all_parameters.csv. Rows whose value does not
// parse are skipped.
func parseParameters(data []byte) ([]Parameter, error) {
	rd := csv.NewReader(bytes.NewReader(data))
	rd.FieldsPerRecord = -1
	rows, err := rd.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse parameters: %w", err)
	}
	var out []Parameter
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "parameter_name" {
			continue
		}
		if len(row) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(row[1], 32)
		if err != nil {
			continue
		}
		out = append(out, Parameter{ID: row[0], Value: float32(v)})
	}
	return out, nil
}

// ReadInfo loads session_info.json for the named session. Names that would
// leave the sessions directory fail with ErrInvalidName.
func (r *Recorder) ReadInfo(name string) (*Info, error) {
	dir, err := security.JoinName(r.root, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	data, err := r.fs.ReadFile(filepath.Join(dir, InfoFile))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", InfoFile, err)
	}
	info.Dir = dir
	return &info, nil
}
