package db

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("not found")

type DB struct {
	SQL  *sql.DB
	Path string
}

// Run is one finished (or cancelled) execution of a named tree.
type Run struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Tree       string    `json:"tree"`
	Status     string    `json:"status"`
	Cancelled  bool      `json:"cancelled"`
	Resumes    int       `json:"resumes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Event is one progress step recorded during a run.
type Event struct {
	Seq   int    `json:"seq"`
	Kind  string `json:"kind"`
	Node  string `json:"node"`
	Child string `json:"child"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	// modernc SQLite creates new connections per goroutine unless capped; keep it at 1
	// to avoid unexpected SQLITE_BUSY errors since we don't need parallel writers yet.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &DB{SQL: db, Path: path}, nil
}

func (d *DB) Close() error {
	return d.SQL.Close()
}

func migrate(db *sql.DB) error {
	ctx := context.Background()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			agent_id TEXT,
			tree TEXT NOT NULL,
			status TEXT NOT NULL,
			cancelled INTEGER NOT NULL DEFAULT 0,
			resumes INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS runs_tree_started ON runs (tree, started_at);`,
		`CREATE TABLE IF NOT EXISTS run_events (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			node TEXT,
			child TEXT,
			idx INTEGER,
			total INTEGER,
			PRIMARY KEY (run_id, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			log.Printf("migration failed: %v", err)
			return err
		}
	}
	return nil
}

// InsertRun stores a run together with its event trace in one transaction.
func (d *DB) InsertRun(ctx context.Context, r Run, events []Event) error {
	tx, err := d.SQL.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO runs (id, agent_id, tree, status, cancelled, resumes, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, r.Tree, r.Status, r.Cancelled, r.Resumes, r.StartedAt.UTC(), r.FinishedAt.UTC()); err != nil {
		return err
	}
	if len(events) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_events (run_id, seq, kind, node, child, idx, total) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, e := range events {
			if _, err := stmt.ExecContext(ctx, r.ID, i, e.Kind, e.Node, e.Child, e.Index, e.Total); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs first. An empty tree matches every
// tree; limit <= 0 means no limit.
func (d *DB) ListRuns(ctx context.Context, tree string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `SELECT id, agent_id, tree, status, cancelled, resumes, started_at, finished_at FROM runs`
	if tree != "" {
		rows, err = d.SQL.QueryContext(ctx, cols+` WHERE tree = ? ORDER BY started_at DESC LIMIT ?`, tree, limit)
	} else {
		rows, err = d.SQL.QueryContext(ctx, cols+` ORDER BY started_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
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
	if runs == nil {
		runs = []Run{}
	}
	return runs, rows.Err()
}

func (d *DB) GetRun(ctx context.Context, id string) (Run, error) {
	row := d.SQL.QueryRowContext(ctx, `SELECT id, agent_id, tree, status, cancelled, resumes, started_at, finished_at FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRunEvents returns a run's events in the order they happened.
func (d *DB) ListRunEvents(ctx context.Context, id string) ([]Event, error) {
	rows, err := d.SQL.QueryContext(ctx, `SELECT seq, kind, node, child, idx, total FROM run_events WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := []Event{}
	for rows.Next() {
		var e Event
		var node, child sql.NullString
		if err := rows.Scan(&e.Seq, &e.Kind, &node, &child, &e.Index, &e.Total); err != nil {
			return nil, err
		}
		e.Node = node.String
		e.Child = child.String
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var agentID sql.NullString
	var startedAt, finishedAt sql.NullTime
	if err := s.Scan(&r.ID, &agentID, &r.Tree, &r.Status, &r.Cancelled, &r.Resumes, &startedAt, &finishedAt); err != nil {
		return Run{}, err
	}
	r.AgentID = agentID.String
	if startedAt.Valid {
		r.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Time
	}
	return r, nil
}
