package db

import (
	"context"
	"time"

	"github.com/banshee-data/xpol2mom/internal/moments"
	"github.com/banshee-data/xpol2mom/internal/sink"
)

// Archive is the sink that writes rays and metadata changes for one run.
type Archive struct {
	db    *DB
	runID string
	units string
	now   func() time.Time
}

// NewArchive returns a sink recording under runID. The run must already
// have been started with StartRun.
func (db *DB) NewArchive(runID, unit string) *Archive {
	return &Archive{db: db, runID: runID, units: unit, now: time.Now}
}

// RunID returns the run the archive records under.
func (a *Archive) RunID() string { return a.runID }

// Name implements sink.Sink.
func (a *Archive) Name() string { return "sqlite" }

// PublishMeta implements sink.Sink.
func (a *Archive) PublishMeta(ctx context.Context, meta *sink.Meta) error {
	return a.db.RecordConfSnapshot(a.runID, a.now(), meta)
}

// PublishRay implements sink.Sink.
func (a *Archive) PublishRay(ctx context.Context, ray *moments.Ray) error {
	return a.db.RecordRay(a.runID, sink.Summarize(ray, a.units))
}

// Close leaves the database open; its owner closes it.
func (a *Archive) Close() error { return nil }
