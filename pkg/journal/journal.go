// Package journal records every script run driven from this host, so that a
// run interrupted by a crash is known to have possibly started.
package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// ErrFinished is returned by Begin for a ticket whose run already finished.
var ErrFinished = errors.New("script run already finished")

type Journal struct {
	db *sql.DB
}

// Entry is one recorded run.
type Entry struct {
	Ticket     contracts.ScriptTicket
	TaskID     string
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time // zero while unfinished
	Version    string
	State      string
	ExitCode   int
	Cancelled  bool
	Error      string
}

func (e Entry) Finished() bool {
	return !e.FinishedAt.IsZero()
}

// Outcome is how a run ended.
type Outcome struct {
	Version   scripts.Version
	Result    *scripts.Result
	Cancelled bool
	Err       error
}

func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	// A single connection keeps writes serialised within the process.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate journal")
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		ticket TEXT PRIMARY KEY,
		task_id TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 1,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		version TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Begin records the start of a run. resumed is true when an earlier run of
// the same ticket never finished, in which case the script may already be
// running on the agent.
func (j *Journal) Begin(ctx context.Context, ticket contracts.ScriptTicket, taskID string) (resumed bool, err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var finishedAt sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT finished_at FROM runs WHERE ticket = ?`, ticket.String()).Scan(&finishedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (ticket, task_id, started_at) VALUES (?, ?, ?)`,
			ticket.String(), taskID, time.Now().UnixMilli())
	case err != nil:
	case finishedAt.Valid:
		err = errors.Wrapf(ErrFinished, "ticket %s", ticket)
	default:
		resumed = true
		_, err = tx.ExecContext(ctx, `UPDATE runs SET attempts = attempts + 1 WHERE ticket = ?`, ticket.String())
	}
	if err != nil {
		return false, err
	}
	return resumed, tx.Commit()
}

// Finish records how the run of ticket ended.
func (j *Journal) Finish(ctx context.Context, ticket contracts.ScriptTicket, outcome Outcome) error {
	var (
		state    string
		exitCode int
		message  string
	)
	if outcome.Result != nil {
		state = outcome.Result.State.String()
		exitCode = outcome.Result.ExitCode
	}
	if outcome.Err != nil {
		message = outcome.Err.Error()
	}
	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, version = ?, state = ?, exit_code = ?, cancelled = ?, error = ?
		 WHERE ticket = ?`,
		time.Now().UnixMilli(), outcome.Version.String(), state, exitCode, outcome.Cancelled, message, ticket.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("no run recorded for ticket %s", ticket)
	}
	return nil
}

// Recent returns up to n runs, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	return j.query(ctx, `SELECT ticket, task_id, attempts, started_at, finished_at, version, state, exit_code, cancelled, error
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
}

// Unfinished returns runs that were begun and never finished.
func (j *Journal) Unfinished(ctx context.Context) ([]Entry, error) {
	return j.query(ctx, `SELECT ticket, task_id, attempts, started_at, finished_at, version, state, exit_code, cancelled, error
		FROM runs WHERE finished_at IS NULL ORDER BY started_at`)
}

func (j *Journal) query(ctx context.Context, query string, args ...interface{}) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			ticket     string
			startedAt  int64
			finishedAt sql.NullInt64
		)
		if err := rows.Scan(&ticket, &e.TaskID, &e.Attempts, &startedAt, &finishedAt,
			&e.Version, &e.State, &e.ExitCode, &e.Cancelled, &e.Error); err != nil {
			return nil, err
		}
		e.Ticket = contracts.ScriptTicket(ticket)
		e.StartedAt = time.UnixMilli(startedAt)
		if finishedAt.Valid {
			e.FinishedAt = time.UnixMilli(finishedAt.Int64)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
