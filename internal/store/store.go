// Package store persists published layouts to SQLite so runs can be
// audited after the fact.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/solar-placement/internal/logging"
	"github.com/signalsfoundry/solar-placement/internal/placement"
	"github.com/signalsfoundry/solar-placement/model"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("layout run not found")

const timeLayout = time.RFC3339Nano

// Store is a SQLite-backed layout history. It implements placement.Recorder.
type Store struct {
	db  *sql.DB
	log logging.Logger
}

// Run is the summary row of one recorded layout.
type Run struct {
	ID         string
	Generation uint64
	Status     model.BatchStatus
	PanelCount int
	Counts     model.HeightSourceCounts
	Dropped    int
	HostError  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Noop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.MigrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordLayout stores a published layout and all of its panels in one
// transaction.
func (s *Store) RecordLayout(ctx context.Context, res *placement.Result) (err error) {
	if res == nil {
		return errors.New("nil layout result")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seq int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(recorded_seq), 0) + 1 FROM layout_runs`).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO layout_runs (
			id, generation, status, panel_count, clamped, fallback, estimated,
			dropped, host_error, started_at, finished_at, recorded_seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.LayoutID, int64(res.Generation), res.Status.String(), len(res.Panels),
		res.Counts.Clamped, res.Counts.Fallback, res.Counts.Estimated,
		len(res.Dropped), res.HostError,
		res.StartedAt.UTC().Format(timeLayout), res.FinishedAt.UTC().Format(timeLayout), seq,
	)
	if err != nil {
		return fmt.Errorf("insert layout run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO panel_poses (
			run_id, panel_index, footprint_id, segment_index,
			box_width, box_length, box_thickness,
			pos_x, pos_y, pos_z, rot_w, rot_x, rot_y, rot_z,
			height_source, color, outline
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare panel insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range res.Panels {
		q := p.Pose.Orientation
		pos := p.Pose.Position
		if _, err = stmt.ExecContext(ctx,
			res.LayoutID, p.Index, p.FootprintID, p.SegmentIndex,
			p.Box.Width, p.Box.Length, p.Box.Thickness,
			pos.X, pos.Y, pos.Z, q.Real, q.Imag, q.Jmag, q.Kmag,
			p.Pose.HeightSource.String(), p.Style.Color, p.Style.Outline,
		); err != nil {
			return fmt.Errorf("insert panel %d: %w", p.Index, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit layout %s: %w", res.LayoutID, err)
	}
	s.log.Debug(ctx, "recorded layout",
		logging.LayoutID(res.LayoutID),
		logging.Int("panels", len(res.Panels)),
	)
	return nil
}

const runColumns = `id, generation, status, panel_count, clamped, fallback, estimated,
	dropped, host_error, started_at, finished_at`

// LatestRun returns the most recently recorded run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM layout_runs ORDER BY recorded_seq DESC LIMIT 1`)
	return scanRun(row)
}

// Run returns the run with the given id.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM layout_runs WHERE id = ?`, id)
	return scanRun(row)
}

// Runs lists up to limit runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM layout_runs ORDER BY recorded_seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		gen               int64
		status            string
		started, finished string
	)
	err := sc.Scan(&r.ID, &gen, &status, &r.PanelCount,
		&r.Counts.Clamped, &r.Counts.Fallback, &r.Counts.Estimated,
		&r.Dropped, &r.HostError, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Generation = uint64(gen)
	if err := r.Status.UnmarshalText([]byte(status)); err != nil {
		return Run{}, err
	}
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return r, nil
}

// Panels returns the panels of a run in publication order.
func (s *Store) Panels(ctx context.Context, runID string) ([]model.PlacedPanel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT panel_index, footprint_id, segment_index,
			box_width, box_length, box_thickness,
			pos_x, pos_y, pos_z, rot_w, rot_x, rot_y, rot_z,
			height_source, color, outline
		FROM panel_poses WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query panels: %w", err)
	}
	defer rows.Close()

	var panels []model.PlacedPanel
	for rows.Next() {
		var (
			p   model.PlacedPanel
			pos r3.Vec
			q   quat.Number
			src string
		)
		if err := rows.Scan(&p.Index, &p.FootprintID, &p.SegmentIndex,
			&p.Box.Width, &p.Box.Length, &p.Box.Thickness,
			&pos.X, &pos.Y, &pos.Z, &q.Real, &q.Imag, &q.Jmag, &q.Kmag,
			&src, &p.Style.Color, &p.Style.Outline,
		); err != nil {
			return nil, fmt.Errorf("scan panel: %w", err)
		}
		if p.Pose.HeightSource, err = model.ParseHeightSource(src); err != nil {
			return nil, err
		}
		p.Pose.Position = pos
		p.Pose.Orientation = q
		panels = append(panels, p)
	}
	return panels, rows.Err()
}

// HeightSourceSummary tallies every recorded panel by height source.
func (s *Store) HeightSourceSummary(ctx context.Context) (model.HeightSourceCounts, error) {
	var counts model.HeightSourceCounts
	rows, err := s.db.QueryContext(ctx, `SELECT height_source, COUNT(*) FROM panel_poses GROUP BY height_source`)
	if err != nil {
		return counts, fmt.Errorf("query height sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			src string
			n   int
		)
		if err := rows.Scan(&src, &n); err != nil {
			return counts, fmt.Errorf("scan height source: %w", err)
		}
		switch parsed, _ := model.ParseHeightSource(src); parsed {
		case model.HeightClamped:
			counts.Clamped += n
		case model.HeightFallback:
			counts.Fallback += n
		case model.HeightEstimated:
			counts.Estimated += n
		}
	}
	return counts, rows.Err()
}

var _ placement.Recorder = (*Store)(nil)
