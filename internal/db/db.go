// Package db archives ray summaries and server configuration snapshots
// in SQLite.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/xpol2mom/internal/monitoring"
	"github.com/banshee-data/xpol2mom/internal/security"
	"github.com/banshee-data/xpol2mom/internal/sink"
)

type DB struct {
	*sql.DB
	path string
}

// NewDB opens the archive at path and brings its schema up to date.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single writer avoids SQLITE_BUSY between the archive and tailsql
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(Migrations()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Run describes one acquisition run.
type Run struct {
	RunID      string    `json:"run_id"`
	ServerAddr string    `json:"server_addr"`
	Version    string    `json:"version"`
	Started    time.Time `json:"started"`
}

// StartRun records a new acquisition run.
func (db *DB) StartRun(r Run) error {
	_, err := db.Exec(
		"INSERT INTO runs (run_id, server_addr, version, started_unix) VALUES (?, ?, ?, ?)",
		r.RunID, r.ServerAddr, r.Version, unixSeconds(r.Started),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.RunID, err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	rows, err := db.Query(
		"SELECT run_id, server_addr, version, started_unix FROM runs ORDER BY started_unix DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started float64
		if err := rows.Scan(&r.RunID, &r.ServerAddr, &r.Version, &started); err != nil {
			return nil, err
		}
		r.Started = fromUnixSeconds(started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecordRay stores the summary of one ray.
func (db *DB) RecordRay(runID string, s *sink.RaySummary) error {
	fields, err := json.Marshal(s.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode ray fields: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO rays (
			run_id, time_unix, az_deg, el_deg, archive_index, block_index,
			proc_mode, n_gates, nyquist_mps, velocity_units, fields_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, unixSeconds(s.Time), s.AzDeg, s.ElDeg, s.ArchiveIndex, s.BlockIndex,
		s.ProcMode, s.NGates, s.NyquistMps, s.VelocityUnits, string(fields),
	)
	return err
}

// LatestRays returns up to limit ray summaries, newest first.
func (db *DB) LatestRays(limit int) ([]sink.RaySummary, error) {
	rows, err := db.Query(
		`SELECT time_unix, az_deg, el_deg, archive_index, block_index,
			proc_mode, n_gates, nyquist_mps, velocity_units, fields_json
		FROM rays ORDER BY ray_id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sink.RaySummary
	for rows.Next() {
		var (
			s      sink.RaySummary
			t      float64
			fields string
		)
		if err := rows.Scan(
			&t, &s.AzDeg, &s.ElDeg, &s.ArchiveIndex, &s.BlockIndex,
			&s.ProcMode, &s.NGates, &s.NyquistMps, &s.VelocityUnits, &fields,
		); err != nil {
			return nil, err
		}
		s.Time = fromUnixSeconds(t)
		if err := json.Unmarshal([]byte(fields), &s.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode ray fields: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountRays returns the number of rays archived for runID, or for every
// run when runID is empty.
func (db *DB) CountRays(runID string) (int64, error) {
	var n int64
	var err error
	if runID == "" {
		err = db.QueryRow("SELECT COUNT(*) FROM rays").Scan(&n)
	} else {
		err = db.QueryRow("SELECT COUNT(*) FROM rays WHERE run_id = ?", runID).Scan(&n)
	}
	return n, err
}

// ConfSnapshot is the server metadata recorded at an archive change.
type ConfSnapshot struct {
	RunID    string    `json:"run_id"`
	Recorded time.Time `json:"recorded"`
	Meta     sink.Meta `json:"meta"`
}

// RecordConfSnapshot stores meta as seen at recorded.
func (db *DB) RecordConfSnapshot(runID string, recorded time.Time, meta *sink.Meta) error {
	conf, err := json.Marshal(meta.Conf)
	if err != nil {
		return fmt.Errorf("failed to encode conf: %w", err)
	}
	status, err := json.Marshal(meta.Status)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	info, err := json.Marshal(meta.ServerInfo)
	if err != nil {
		return fmt.Errorf("failed to encode server info: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO conf_snapshots (
			run_id, archive_index, recorded_unix, conf_json, status_json, server_info_json
		) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, meta.ArchiveIndex, unixSeconds(recorded), string(conf), string(status), string(info),
	)
	return err
}

// ConfSnapshots returns up to limit snapshots, newest first.
func (db *DB) ConfSnapshots(limit int) ([]ConfSnapshot, error) {
	rows, err := db.Query(
		`SELECT run_id, archive_index, recorded_unix, conf_json, status_json, server_info_json
		FROM conf_snapshots ORDER BY snapshot_id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfSnapshot
	for rows.Next() {
		var (
			s                  ConfSnapshot
			recorded           float64
			conf, status, info string
		)
		if err := rows.Scan(&s.RunID, &s.Meta.ArchiveIndex, &recorded, &conf, &status, &info); err != nil {
			return nil, err
		}
		s.Recorded = fromUnixSeconds(recorded)
		if err := json.Unmarshal([]byte(conf), &s.Meta.Conf); err != nil {
			return nil, fmt.Errorf("failed to decode conf: %w", err)
		}
		if err := json.Unmarshal([]byte(status), &s.Meta.Status); err != nil {
			return nil, fmt.Errorf("failed to decode status: %w", err)
		}
		if err := json.Unmarshal([]byte(info), &s.Meta.ServerInfo); err != nil {
			return nil, fmt.Errorf("failed to decode server info: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}

// AttachAdminRoutes mounts tailsql and a backup download under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Ray archive",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the ray archive now", http.HandlerFunc(db.serveBackup))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "xpol2mom-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup directory: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			monitoring.Logf("failed to remove backup directory: %v", err)
		}
	}()

	label := r.URL.Query().Get("label")
	if label == "" {
		label = strings.TrimSuffix(filepath.Base(db.path), filepath.Ext(db.path))
	}
	name := fmt.Sprintf("%s-%d.db", security.SanitizeFilename(label), time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if err := security.WithinDir(backupPath, dir); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		monitoring.Logf("failed to stream backup: %v", err)
	}
}
