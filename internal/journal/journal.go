// Package journal records guiding sessions and their published stats in a
// sqlite database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/guidectl/internal/property"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	ErrPathRequired    = errors.New("journal: path required")
	ErrSessionNotFound = errors.New("journal: session not found")
)

// Session is one recorded mode run.
type Session struct {
	ID        string
	Mode      string
	Algorithm string
	CCD       string
	Guider    string
	StartedAt time.Time
	EndedAt   time.Time
	EndState  string
	Message   string
}

// Open reports whether the session has not been closed yet.
func (s Session) Open() bool {
	return s.EndedAt.IsZero()
}

// Sample is one published stats vector.
type Sample struct {
	SessionID  string
	Stats      property.Stats
	RecordedAt time.Time
}

type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal open %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	log.Info().Str("path", path).Msg("journal.Open ready")
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) BeginSession(ctx context.Context, id, mode string, algorithm property.Algorithm, ccd, guider string, at time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions (id, mode, algorithm, ccd, guider, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, mode, algorithm.String(), ccd, guider, at.UnixNano())
	if err != nil {
		return fmt.Errorf("journal begin session %s: %w", id, err)
	}
	return nil
}

func (j *Journal) EndSession(ctx context.Context, id, state, message string, at time.Time) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, end_state = ?, message = ? WHERE id = ?`,
		at.UnixNano(), state, message, id)
	if err != nil {
		return fmt.Errorf("journal end session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func (j *Journal) RecordSample(ctx context.Context, sessionID string, s property.Stats, at time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO samples (
			session_id, frame, drift_x, drift_y, drift_ra, drift_dec,
			correction_ra, correction_dec, rmse_ra, rmse_dec, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, s.Frame, s.DriftX, s.DriftY, s.DriftRA, s.DriftDec,
		s.CorrectionRA, s.CorrectionDec, s.RMSERA, s.RMSEDec, at.UnixNano())
	if err != nil {
		return fmt.Errorf("journal record sample %s/%d: %w", sessionID, s.Frame, err)
	}
	return nil
}

func (j *Journal) Session(ctx context.Context, id string) (Session, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT id, mode, algorithm, ccd, guider, started_at, ended_at, end_state, message
		 FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// Sessions returns up to limit sessions, newest first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, mode, algorithm, ccd, guider, started_at, ended_at, end_state, message
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Samples returns the samples of one session in frame order.
func (j *Journal) Samples(ctx context.Context, sessionID string) ([]Sample, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT frame, drift_x, drift_y, drift_ra, drift_dec, correction_ra,
		        correction_dec, rmse_ra, rmse_dec, recorded_at
		 FROM samples WHERE session_id = ? ORDER BY frame`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal samples %s: %w", sessionID, err)
	}
	defer rows.Close()
	var out []Sample
	for rows.Next() {
		var (
			s  Sample
			at int64
		)
		s.SessionID = sessionID
		if err := rows.Scan(
			&s.Stats.Frame, &s.Stats.DriftX, &s.Stats.DriftY, &s.Stats.DriftRA, &s.Stats.DriftDec,
			&s.Stats.CorrectionRA, &s.Stats.CorrectionDec, &s.Stats.RMSERA, &s.Stats.RMSEDec, &at,
		); err != nil {
			return nil, fmt.Errorf("journal scan sample: %w", err)
		}
		s.RecordedAt = time.Unix(0, at)
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s              Session
		started        int64
		ended          sql.NullInt64
		state, message sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Mode, &s.Algorithm, &s.CCD, &s.Guider, &started, &ended, &state, &message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("journal scan session: %w", err)
	}
	s.StartedAt = time.Unix(0, started)
	if ended.Valid {
		s.EndedAt = time.Unix(0, ended.Int64)
	}
	s.EndState = state.String
	s.Message = message.String
	return s, nil
}
