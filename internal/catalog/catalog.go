// Package catalog keeps a sqlite index of finished recording sessions so
// they can be listed and queried without walking the sessions directory.
package catalog

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/groundlink/internal/httputil"
	"github.com/banshee-data/groundlink/internal/monitoring"
	"github.com/banshee-data/groundlink/internal/session"
)

// DefaultPath is the database file used when none is configured.
const DefaultPath = "groundlink.db"

// Catalog is a migrated sqlite database of recorded sessions.
type Catalog struct {
	*sql.DB
	path string
}

var _ session.Indexer = (*Catalog)(nil)

// Open opens (creating if needed) the database at path and applies every
// pending migration.
func Open(path string) (*Catalog, error) {
	c, err := OpenUnmigrated(path)
	if err != nil {
		return nil, err
	}
	if err := c.MigrateUp(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// OpenUnmigrated opens the database without touching its schema. It is for
// migration tooling; everything else should use Open.
func OpenUnmigrated(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return &Catalog{DB: db, path: path}, nil
}

// Path returns the database file path.
func (c *Catalog) Path() string { return c.path }

// Entry is one indexed session.
type Entry struct {
	ID                uuid.UUID      `json:"session_id"`
	Name              string         `json:"name"`
	Dir               string         `json:"dir"`
	Start             time.Time      `json:"session_start"`
	End               time.Time      `json:"session_end"`
	TotalParameters   int            `json:"total_parameters"`
	StreamRows        map[string]int `json:"stream_rows"`
	ThrottleMean      float64        `json:"throttle_mean"`
	ThrottleMax       float64        `json:"throttle_max"`
	LoopFrequencyMean float64        `json:"loop_freq_mean"`
	LoopFrequencyMin  float64        `json:"loop_freq_min"`
}

// RecordSession inserts or replaces a finished session and its parameter
// snapshot.
func (c *Catalog) RecordSession(info session.Info, params []session.Parameter) error {
	rows, err := json.Marshal(info.StreamRows)
	if err != nil {
		return fmt.Errorf("failed to encode stream rows: %w", err)
	}

	tx, err := c.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sessions (
			session_id, name, dir, start_unix_nanos, end_unix_nanos,
			total_parameters, stream_rows_json,
			throttle_mean, throttle_max, loop_freq_mean, loop_freq_min
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name,
			dir = excluded.dir,
			start_unix_nanos = excluded.start_unix_nanos,
			end_unix_nanos = excluded.end_unix_nanos,
			total_parameters = excluded.total_parameters,
			stream_rows_json = excluded.stream_rows_json,
			throttle_mean = excluded.throttle_mean,
			throttle_max = excluded.throttle_max,
			loop_freq_mean = excluded.loop_freq_mean,
			loop_freq_min = excluded.loop_freq_min`,
		info.ID.String(), info.Name, info.Dir,
		info.Start.UnixNano(), info.End.UnixNano(),
		len(params), string(rows),
		info.Summary.Throttle.Mean, info.Summary.Throttle.Max,
		info.Summary.LoopFrequency.Mean, info.Summary.LoopFrequency.Min,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", info.Name, err)
	}

	if _, err := tx.Exec(`DELETE FROM session_parameters WHERE session_id = ?`, info.ID.String()); err != nil {
		return fmt.Errorf("failed to clear parameters: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO session_parameters (session_id, param_id, value) VALUES (?, ?, ?)
		ON CONFLICT(session_id, param_id) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("failed to prepare parameter insert: %w", err)
	}
	defer stmt.Close()
	for _, p := range params {
		if _, err := stmt.Exec(info.ID.String(), p.ID, float64(p.Value)); err != nil {
			return fmt.Errorf("failed to insert parameter %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", info.Name, err)
	}
	monitoring.Diagf("[catalog] indexed %s (%d parameters)", info.Name, len(params))
	return nil
}

// ListSessions returns indexed sessions newest first. limit <= 0 returns
// all of them.
func (c *Catalog) ListSessions(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.Query(`
		SELECT session_id, name, dir, start_unix_nanos, end_unix_nanos,
			total_parameters, stream_rows_json,
			throttle_mean, throttle_max, loop_freq_mean, loop_freq_min
		FROM sessions
		ORDER BY start_unix_nanos DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			id         string
			start, end int64
			streamRows string
		)
		if err := rows.Scan(&id, &e.Name, &e.Dir, &start, &end,
			&e.TotalParameters, &streamRows,
			&e.ThrottleMean, &e.ThrottleMax, &e.LoopFrequencyMean, &e.LoopFrequencyMin); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad session id %q: %w", id, err)
		}
		e.Start = time.Unix(0, start).UTC()
		e.End = time.Unix(0, end).UTC()
		if err := json.Unmarshal([]byte(streamRows), &e.StreamRows); err != nil {
			return nil, fmt.Errorf("bad stream rows for %s: %w", e.Name, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestParameters returns the parameter snapshot of the newest session that
// recorded at least one parameter, sorted by id. It returns nil when none did.
func (c *Catalog) LatestParameters() ([]session.Parameter, error) {
	rows, err := c.Query(`
		SELECT param_id, value FROM session_parameters
		WHERE session_id = (
			SELECT s.session_id FROM sessions s
			WHERE EXISTS (SELECT 1 FROM session_parameters p WHERE p.session_id = s.session_id)
			ORDER BY s.start_unix_nanos DESC, s.rowid DESC
			LIMIT 1
		)
		ORDER BY param_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameters: %w", err)
	}
	defer rows.Close()

	var out []session.Parameter
	for rows.Next() {
		var (
			p session.Parameter
			v float64
		)
		if err := rows.Scan(&p.ID, &v); err != nil {
			return nil, fmt.Errorf("failed to scan parameter: %w", err)
		}
		p.Value = float32(v)
		out = append(out, p)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts live SQL, a session listing and a backup download
// under tsweb's /debug/ handler.
func (c *Catalog) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Opsf("[catalog] tailsql unavailable: %v", err)
	} else {
		tsql.SetDB("sqlite://"+filepath.Base(c.path), c.DB, &tailsql.DBOptions{
			Label: "Session catalog",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.HandleFunc("sessions", "Indexed recording sessions (JSON, ?limit=N)", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				httputil.Failf(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		entries, err := c.ListSessions(limit)
		if err != nil {
			httputil.Fail(w, err)
			return
		}
		if entries == nil {
			entries = []Entry{}
		}
		httputil.OK(w, entries)
	})

	debug.Handle("backup", "Create and download a backup of the session catalog", http.HandlerFunc(c.serveBackup))
}

func (c *Catalog) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "groundlink-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	path := filepath.Join(dir, name)
	if _, err := c.Exec("VACUUM INTO ?", path); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Opsf("[catalog] backup copy failed: %v", err)
	}
}
