// Package sqlite implements store.Manager on a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/store"
)

// Manager implements store.Manager using SQLite.
type Manager struct {
	db          *sql.DB
	path        string
	subscribers []chan string
	mu          sync.RWMutex
}

var _ store.Manager = (*Manager)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	m := &Manager{db: db, path: dbPath}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

// Close closes the underlying database connection.
func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT NOT NULL DEFAULT '',
		entry_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS run_entries (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		event TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
		UNIQUE (run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_run_seq ON run_entries(run_id, seq);
	`
	_, err := m.db.Exec(schema)
	return err
}

func (m *Manager) NewRun(id, task string) (store.Run, error) {
	if id == "" {
		return nil, errors.New("run id is required")
	}
	now := time.Now().UTC()
	_, err := m.db.Exec(
		`INSERT INTO runs (id, task, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, task, store.RunStatusRunning, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	m.notifySubscribers(id)

	return &Run{
		m: m,
		header: store.Header{
			Type:      store.HeaderType,
			ID:        id,
			Task:      task,
			Version:   1,
			CreatedAt: now,
		},
	}, nil
}

func (m *Manager) LoadRun(id string) (store.Run, error) {
	info, err := m.GetRun(id)
	if err != nil {
		return nil, err
	}
	r := &Run{
		m:        m,
		readOnly: true,
		header: store.Header{
			Type:      store.HeaderType,
			ID:        info.ID,
			Task:      info.Task,
			Version:   1,
			CreatedAt: info.Created,
		},
	}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

const runColumns = `id, task, status, error, entry_count, created_at, updated_at`

func (m *Manager) scanInfo(row interface{ Scan(...any) error }) (store.RunInfo, error) {
	var info store.RunInfo
	err := row.Scan(&info.ID, &info.Task, &info.Status, &info.Error, &info.EntryCount, &info.Created, &info.Modified)
	info.Path = m.path
	return info, err
}

func (m *Manager) GetRun(id string) (store.RunInfo, error) {
	info, err := m.scanInfo(m.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.RunInfo{}, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
	}
	return info, err
}

func (m *Manager) ListRuns() ([]store.RunInfo, error) {
	rows, err := m.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	infos := []store.RunInfo{}
	for rows.Next() {
		info, err := m.scanInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (m *Manager) SetRunStatus(id, status, errMsg string) error {
	result, err := m.db.Exec(
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
	}
	m.notifySubscribers(id)
	return nil
}

// appendEntry assigns the next seq inside a transaction so concurrent writers
// to one run cannot collide.
func (m *Manager) appendEntry(ctx context.Context, runID string, ev pipeline.Event) (store.Entry, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return store.Entry{}, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Entry{}, err
	}
	defer tx.Rollback()

	var maxSeq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM run_entries WHERE run_id = ?`, runID,
	).Scan(&maxSeq); err != nil {
		return store.Entry{}, err
	}

	e := store.Entry{ID: uuid.New().String(), Seq: maxSeq + 1, Event: ev}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_entries (id, run_id, seq, event) VALUES (?, ?, ?, ?)`,
		e.ID, runID, e.Seq, string(data),
	); err != nil {
		return store.Entry{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET entry_count = ?, updated_at = ? WHERE id = ?`,
		e.Seq, time.Now().UTC(), runID,
	); err != nil {
		return store.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.Entry{}, err
	}

	m.notifySubscribers(runID)
	return e, nil
}

func (m *Manager) entries(runID string) ([]store.Entry, error) {
	rows, err := m.db.Query(
		`SELECT id, seq, event FROM run_entries WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var (
			e   store.Entry
			raw string
		)
		if err := rows.Scan(&e.ID, &e.Seq, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &e.Event); err != nil {
			return nil, fmt.Errorf("corrupt entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (m *Manager) Subscribe() <-chan string {
	ch := make(chan string, 64)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch <-chan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

func (m *Manager) notifySubscribers(runID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- runID:
		default:
			// Drop if subscriber is not consuming fast enough.
		}
	}
}

// Run is a view of one run's rows.
type Run struct {
	m        *Manager
	header   store.Header
	readOnly bool

	mu      sync.RWMutex
	entries []store.Entry
}

var _ store.Run = (*Run)(nil)

func (r *Run) ID() string           { return r.header.ID }
func (r *Run) Path() string         { return r.m.path }
func (r *Run) Header() store.Header { return r.header }

func (r *Run) Append(ev pipeline.Event) (store.Entry, error) {
	if r.readOnly {
		return store.Entry{}, errors.New("run opened read-only")
	}
	e, err := r.m.appendEntry(context.Background(), r.header.ID, ev)
	if err != nil {
		return store.Entry{}, err
	}
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return e, nil
}

func (r *Run) Entries() []store.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]store.Entry(nil), r.entries...)
}

func (r *Run) Refresh() error {
	entries, err := r.m.entries(r.header.ID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

// Close is a no-op; the database is owned by the Manager.
func (r *Run) Close() error { return nil }
