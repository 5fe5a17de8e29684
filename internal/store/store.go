package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/roach88/etude/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partition_transfers audit table
const currentSchemaVersion = 1

// Publisher receives change events after each committed mutation.
// Implemented by notify.Notifier.
type Publisher interface {
	Publish(ctx context.Context, events ...model.ChangeEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...model.ChangeEvent) {}

// Store provides durable storage for the entity graph.
// Uses SQLite with WAL mode and a single connection.
type Store struct {
	db        *sql.DB
	clock     *Clock
	ids       model.IDGenerator
	publisher Publisher
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher sets the change event sink. Default: discard.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithIDGenerator sets the entity id source. Default: UUIDv7.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically, then seeds the
// logical clock past every stamp already on disk.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. One connection also keeps
	// ":memory:" databases alive for the life of the Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:        db,
		ids:       model.UUIDv7Generator{},
		publisher: nopPublisher{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	high, err := highWaterMark(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed clock: %w", err)
	}
	s.clock = NewClockAt(high)

	return s, nil
}

// SetPublisher replaces the change event sink.
// Must be called before the store is shared between goroutines.
func (s *Store) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.publisher = p
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Clock returns the store's logical clock.
func (s *Store) Clock() *Clock {
	return s.clock
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the partition transfer audit table to databases created
// before v1. New databases get it from schema.sql.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS partition_transfers (
			seq            INTEGER PRIMARY KEY,
			student_id     TEXT NOT NULL,
			from_partition TEXT NOT NULL,
			to_partition   TEXT NOT NULL,
			entity_count   INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// highWaterMark returns the largest sequence or stamp persisted anywhere.
func highWaterMark(db *sql.DB) (int64, error) {
	var high int64
	err := db.QueryRow(`
		SELECT MAX(v) FROM (
			SELECT COALESCE(MAX(created_seq), 0) AS v FROM entities
			UNION ALL SELECT COALESCE(MAX(stamp), 0) FROM field_stamps
			UNION ALL SELECT COALESCE(MAX(stamp), 0) FROM tombstones
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM applied_deltas
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM partition_transfers
		)
	`).Scan(&high)
	if err != nil {
		return 0, err
	}
	return high, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mutate runs fn in a transaction and publishes the collected changes after
// commit. Nothing is published if fn or the commit fails.
func (s *Store) mutate(ctx context.Context, origin model.Origin, fn func(tx *sql.Tx, changes *model.ChangeSet) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	changes := model.NewChangeSet()
	if err := fn(tx, changes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if !changes.Empty() {
		s.publisher.Publish(ctx, changes.Events(origin)...)
	}
	return nil
}
