package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/micro-nova/statekit/internal/events"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	// changesRetained is how many change rows are kept behind the newest one.
	changesRetained = 1024
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS changes (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	key       TEXT NOT NULL,
	old_value TEXT,
	new_value TEXT,
	origin    TEXT NOT NULL
);`

// SQLiteArea is a Durable area kept in a SQLite database file. Every write
// also appends to a change feed; each handle polls the feed and publishes
// rows written by other handles.
type SQLiteArea struct {
	db       *sql.DB
	path     string
	origin   string
	maxBytes int64
	interval time.Duration

	mu      sync.Mutex
	closed  bool
	lastSeq int64

	bus       *events.Bus[Change]
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// SQLiteOption configures a SQLiteArea.
type SQLiteOption func(*SQLiteArea)

// WithSQLiteMaxBytes sets the area quota. Values <= 0 keep DefaultMaxBytes.
func WithSQLiteMaxBytes(n int64) SQLiteOption {
	return func(a *SQLiteArea) {
		if n > 0 {
			a.maxBytes = n
		}
	}
}

// WithPollInterval sets how often the change feed is checked.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(a *SQLiteArea) {
		if d > 0 {
			a.interval = d
		}
	}
}

// NewSQLiteArea opens (creating if needed) the database at path.
func NewSQLiteArea(path string, opts ...SQLiteOption) (*SQLiteArea, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("storage: create area dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init sqlite schema: %w", err)
	}

	a := &SQLiteArea{
		db:       db,
		path:     path,
		origin:   uuid.NewString(),
		maxBytes: DefaultMaxBytes,
		interval: defaultPollInterval,
		bus:      events.NewBus[Change](),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&a.lastSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: read change feed: %w", err)
	}

	go a.pollLoop()
	return a, nil
}

// Path returns the database file path.
func (a *SQLiteArea) Path() string { return a.path }

// Origin returns the identifier written to the change feed by this handle.
func (a *SQLiteArea) Origin() string { return a.origin }

func (a *SQLiteArea) Kind() Kind { return Durable }

func (a *SQLiteArea) GetItem(key string) (string, bool, error) {
	if err := validKey(key); err != nil {
		return "", false, err
	}
	if a.isClosed() {
		return "", false, ErrClosed
	}
	var v string
	err := a.db.QueryRow(`SELECT value FROM items WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: read %q: %w", key, err)
	}
	return v, true, nil
}

func (a *SQLiteArea) SetItem(key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if a.isClosed() {
		return ErrClosed
	}
	return a.inTx(func(tx *sql.Tx) error {
		var used int64
		err := tx.QueryRow(`SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0)
			FROM items WHERE key != ?`, key).Scan(&used)
		if err != nil {
			return err
		}
		if used+int64(len(key)+len(value)) > a.maxBytes {
			return ErrQuotaExceeded
		}

		old, err := selectValue(tx, key)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO items (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO changes (key, old_value, new_value, origin) VALUES (?, ?, ?, ?)`,
			key, old, value, a.origin)
		return err
	})
}

func (a *SQLiteArea) RemoveItem(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if a.isClosed() {
		return ErrClosed
	}
	return a.inTx(func(tx *sql.Tx) error {
		old, err := selectValue(tx, key)
		if err != nil {
			return err
		}
		if !old.Valid {
			return nil
		}
		if _, err := tx.Exec(`DELETE FROM items WHERE key = ?`, key); err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO changes (key, old_value, new_value, origin) VALUES (?, ?, NULL, ?)`,
			key, old, a.origin)
		return err
	})
}

// Subscribe registers for changes made by other handles.
func (a *SQLiteArea) Subscribe(id string) <-chan Change { return a.bus.Subscribe(id) }

// SubscribeKey registers for changes of one key made by other handles.
func (a *SQLiteArea) SubscribeKey(id, key string) <-chan Change {
	return a.bus.SubscribeFunc(id, keyFilter(key))
}

// Unsubscribe removes a subscription and closes its channel.
func (a *SQLiteArea) Unsubscribe(id string) { a.bus.Unsubscribe(id) }

// Close stops polling, closes subscriptions and the database.
func (a *SQLiteArea) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.stop)
		<-a.done
		a.bus.Close()
		err = a.db.Close()
	})
	return err
}

func (a *SQLiteArea) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *SQLiteArea) inTx(fn func(*sql.Tx) error) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		if errors.Is(err, ErrQuotaExceeded) {
			return err
		}
		return fmt.Errorf("storage: sqlite: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

func selectValue(tx *sql.Tx, key string) (sql.NullString, error) {
	var old sql.NullString
	err := tx.QueryRow(`SELECT value FROM items WHERE key = ?`, key).Scan(&old)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.NullString{}, nil
	}
	return old, err
}

func (a *SQLiteArea) pollLoop() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			if err := a.poll(); err != nil {
				slog.Warn("storage: poll change feed", "path", a.path, "err", err)
			}
		}
	}
}

// poll publishes feed rows newer than the last seen sequence that were
// written by other handles, then trims old rows.
func (a *SQLiteArea) poll() error {
	rows, err := a.db.Query(`SELECT seq, key, old_value, new_value, origin
		FROM changes WHERE seq > ? ORDER BY seq`, a.lastSeq)
	if err != nil {
		return err
	}
	var changes []Change
	for rows.Next() {
		var (
			seq      int64
			c        Change
			old, cur sql.NullString
		)
		if err := rows.Scan(&seq, &c.Key, &old, &cur, &c.Origin); err != nil {
			rows.Close()
			return err
		}
		a.lastSeq = seq
		if c.Origin == a.origin {
			continue
		}
		if old.Valid {
			c.OldValue = strPtr(old.String)
		}
		if cur.Valid {
			c.NewValue = strPtr(cur.String)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, c := range changes {
		slog.Debug("storage: external change", "path", a.path, "key", c.Key, "removed", c.Removed())
		a.bus.Publish(c)
	}
	if a.lastSeq > changesRetained {
		if _, err := a.db.Exec(`DELETE FROM changes WHERE seq <= ?`, a.lastSeq-changesRetained); err != nil {
			return err
		}
	}
	return nil
}

var _ Watched = (*SQLiteArea)(nil)
