package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-beep/storyteller/internal/services"
)

// Status is the state of a run or phase.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunStart describes a batch run as it begins.
type RunStart struct {
	BatchName   string
	BatchID     int
	Folder      string
	Strategy    string
	TotalPhases int
}

// Run is one row of batch_runs.
type Run struct {
	ID              string
	BatchName       string
	BatchID         int
	Folder          string
	Strategy        string
	Status          Status
	ErrorKind       string
	ErrorMessage    string
	CompletedPhases int
	TotalPhases     int
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Duration returns how long the run took, or zero while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Phase is one row of phase_outcomes.
type Phase struct {
	RunID        string
	Stage        string
	Phase        string
	Plugin       string
	RequestID    string
	Status       Status
	Repaired     bool
	Retries      int
	Duration     time.Duration
	ErrorKind    string
	ErrorMessage string
	RecordedAt   time.Time
}

// StartRun inserts a running batch run and returns its id.
func (l *Ledger) StartRun(ctx context.Context, start RunStart) (string, error) {
	id := uuid.NewString()
	_, err := l.exec(ctx, `INSERT INTO batch_runs
		(id, batch_name, batch_id, folder, strategy, status, total_phases, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, start.BatchName, start.BatchID, start.Folder, start.Strategy,
		string(StatusRunning), start.TotalPhases, formatTime(l.now()),
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun closes a run. A nil runErr marks it completed.
func (l *Ledger) FinishRun(ctx context.Context, id string, completed, total int, runErr error) error {
	status, kind, message := StatusCompleted, "", ""
	if runErr != nil {
		status, kind, message = StatusFailed, services.Kind(runErr), runErr.Error()
	}
	res, err := l.exec(ctx, `UPDATE batch_runs
		SET status = ?, error_kind = ?, error_message = ?, completed_phases = ?, total_phases = ?, finished_at = ?
		WHERE id = ?`,
		string(status), kind, message, completed, total, formatTime(l.now()), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// RecordPhase appends a phase outcome to run id. The status follows p.ErrorMessage.
func (l *Ledger) RecordPhase(ctx context.Context, p Phase) error {
	status := p.Status
	if status == "" {
		status = StatusCompleted
		if p.ErrorMessage != "" {
			status = StatusFailed
		}
	}
	recorded := p.RecordedAt
	if recorded.IsZero() {
		recorded = l.now()
	}
	_, err := l.exec(ctx, `INSERT INTO phase_outcomes
		(run_id, stage, phase, plugin, request_id, status, repaired, retries, duration_ms, error_kind, error_message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, p.Stage, p.Phase, p.Plugin, p.RequestID, string(status), boolToInt(p.Repaired),
		p.Retries, p.Duration.Milliseconds(), p.ErrorKind, p.ErrorMessage, formatTime(recorded),
	)
	if err != nil {
		return fmt.Errorf("record phase %s_%s: %w", p.Stage, p.Phase, err)
	}
	return nil
}

const runColumns = `id, batch_name, batch_id, folder, strategy, status, error_kind, error_message,
	completed_phases, total_phases, started_at, finished_at`

// RecentRuns returns up to limit runs, newest first. A non-positive limit returns all.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM batch_runs ORDER BY started_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns the run with id.
func (l *Ledger) Run(ctx context.Context, id string) (Run, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM batch_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return run, err
}

// Phases returns the outcomes recorded for runID in insertion order.
func (l *Ledger) Phases(ctx context.Context, runID string) ([]Phase, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT run_id, stage, phase, plugin, request_id, status, repaired,
		retries, duration_ms, error_kind, error_message, recorded_at
		FROM phase_outcomes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	var phases []Phase
	for rows.Next() {
		var (
			p          Phase
			status     string
			repaired   int
			durationMS int64
			recorded   string
		)
		if err := rows.Scan(&p.RunID, &p.Stage, &p.Phase, &p.Plugin, &p.RequestID, &status, &repaired,
			&p.Retries, &durationMS, &p.ErrorKind, &p.ErrorMessage, &recorded); err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		p.Status = Status(status)
		p.Repaired = repaired != 0
		p.Duration = time.Duration(durationMS) * time.Millisecond
		p.RecordedAt = parseTime(recorded)
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run      Run
		status   string
		started  string
		finished sql.NullString
	)
	if err := s.Scan(&run.ID, &run.BatchName, &run.BatchID, &run.Folder, &run.Strategy, &status,
		&run.ErrorKind, &run.ErrorMessage, &run.CompletedPhases, &run.TotalPhases, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Status = Status(status)
	run.StartedAt = parseTime(started)
	if finished.Valid {
		run.FinishedAt = parseTime(finished.String)
	}
	return run, nil
}

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
