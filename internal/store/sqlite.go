// ABOUTME: database/sql implementation of Store for SQLite (modernc or mattn) and PostgreSQL
// ABOUTME: Handles connection setup, schema creation, migrations, and dialect differences

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"   // modernc.org/sqlite, pure Go
	DriverSQLite3  = "sqlite3"  // github.com/mattn/go-sqlite3, cgo
	DriverPostgres = "postgres" // github.com/lib/pq
)

// timeLayout is fixed width so that stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Options configures a SQLStore.
type Options struct {
	Driver       string
	Path         string // SQLite database file, or ":memory:"
	DSN          string // PostgreSQL connection string
	MaxOpenConns int
}

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	return Open(Options{Driver: DriverSQLite, Path: path})
}

// NewPostgresStore connects to PostgreSQL using dsn.
func NewPostgresStore(dsn string, maxOpenConns int) (*SQLStore, error) {
	return Open(Options{Driver: DriverPostgres, DSN: dsn, MaxOpenConns: maxOpenConns})
}

// Open creates a store for the configured driver.
func Open(opts Options) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}

	var (
		db  *sql.DB
		err error
	)
	switch opts.Driver {
	case DriverSQLite, DriverSQLite3:
		db, err = openSQLite(opts)
	case DriverPostgres:
		db, err = openPostgres(opts)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := &SQLStore{
		db:     db,
		driver: opts.Driver,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("store initialized", "driver", opts.Driver, "path", opts.Path)
	return s, nil
}

func openSQLite(opts Options) (*sql.DB, error) {
	if opts.Path == "" {
		return nil, errors.New("database path is required")
	}

	inMemory := opts.Path == ":memory:"
	if !inMemory {
		// Ensure parent directory exists
		dir := filepath.Dir(opts.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	var dsn string
	if opts.Driver == DriverSQLite3 {
		dsn = "file:" + opts.Path + "?_busy_timeout=5000&_foreign_keys=on"
	} else {
		dsn = "file:" + opts.Path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if inMemory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		return db, nil
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	return db, nil
}

func openPostgres(opts Options) (*sql.DB, error) {
	if opts.DSN == "" {
		return nil, errors.New("database dsn is required for postgres")
	}

	db, err := sql.Open(DriverPostgres, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			thread_id     TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			thread_title  TEXT NOT NULL,
			ui_msgs       TEXT NOT NULL,
			agent_msgs    TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			date          TEXT NOT NULL,
			deleted       BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_at    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_threads_user_date ON threads(user_id, deleted, date);

		CREATE TABLE IF NOT EXISTS turn_usage (
			id            TEXT PRIMARY KEY,
			thread_id     TEXT NOT NULL,
			turn_id       TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			model_id      TEXT NOT NULL,
			input_tokens  BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			latency_ms    BIGINT NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_turn_usage_thread ON turn_usage(thread_id);
		CREATE INDEX IF NOT EXISTS idx_turn_usage_user_created ON turn_usage(user_id, created_at);

		CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			description TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			priority    TEXT NOT NULL DEFAULT 'medium',
			notes       TEXT,
			due_date    TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (status IN ('pending', 'in_progress', 'completed')),
			CHECK (priority IN ('low', 'medium', 'high'))
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLStore) runMigrations() error {
	// Databases created before soft-delete housekeeping lack these columns.
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "threads",
			column: "message_count",
			apply:  `ALTER TABLE threads ADD COLUMN message_count INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "threads",
			column: "deleted_at",
			apply:  `ALTER TABLE threads ADD COLUMN deleted_at TEXT`,
		},
	}

	for _, m := range migrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

func (s *SQLStore) columnExists(table, column string) (bool, error) {
	var query string
	if s.driver == DriverPostgres {
		query = `SELECT 1 FROM information_schema.columns WHERE table_name = ? AND column_name = ?`
	} else {
		query = `SELECT 1 FROM pragma_table_info(?) WHERE name = ?`
	}

	var exists int
	err := s.db.QueryRow(s.rebind(query), table, column).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Driver reports the database driver name.
func (s *SQLStore) Driver() string {
	return s.driver
}

// Ping verifies the database connection is usable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("test query: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for read-only tooling.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	s.logger.Info("closing store", "driver", s.driver)
	return s.db.Close()
}

// rebind converts ? placeholders to the driver's bind syntax.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// isConstraintViolation reports whether err is a uniqueness or check failure
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}

	// modernc.org/sqlite errors only expose the message
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Ensure SQLStore implements Store.
var _ Store = (*SQLStore)(nil)
