package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout bounds the connectivity check at open.
	connectionTimeout = 5 * time.Second
)

// Config contains transition-log settings. These map to the history section
// of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	Path string

	// WALMode enables Write-Ahead Logging so UI reads do not block the
	// monitor's writes.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int
}

// schema is applied on open. The store is a single append-only transition
// log; there is nothing to migrate between releases yet.
const schema = `
CREATE TABLE IF NOT EXISTS transitions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    channel     TEXT    NOT NULL,
    active      INTEGER NOT NULL,
    level       REAL    NOT NULL,
    occurred_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_occurred_at
    ON transitions (occurred_at DESC);
`

// Transition is one recorded channel state change.
type Transition struct {
	ID         int64
	Channel    string
	Active     bool
	Level      float64
	OccurredAt time.Time
}

// Store persists microphone state transitions in a local SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the transition log. The parent directory is created
// if missing and the file is kept owner read/write only.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d",
		cfg.Path, cfg.BusyTimeout*msPerSecond)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// SQLite supports one writer; keep the pool at a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("applying history schema: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File appears after first write on some systems

	return &Store{db: db, path: cfg.Path}, nil
}

// Record appends one state transition.
func (s *Store) Record(ctx context.Context, channel string, active bool, level float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (channel, active, level, occurred_at) VALUES (?, ?, ?, ?)`,
		channel, active, level, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording transition: %w", err)
	}
	return nil
}

// Recent returns the newest transitions, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, active, level, occurred_at
		   FROM transitions
		  ORDER BY occurred_at DESC, id DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var out []Transition
	for rows.Next() {
		var (
			tr Transition
			ms int64
		)
		if err := rows.Scan(&tr.ID, &tr.Channel, &tr.Active, &tr.Level, &ms); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		tr.OccurredAt = time.UnixMilli(ms)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return out, nil
}

// Prune deletes transitions older than the cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transitions WHERE occurred_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning transitions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned transitions: %w", err)
	}
	return n, nil
}

// HealthCheck verifies the store is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("history health check failed: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing history database: %w", err)
	}
	return nil
}
