package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DefaultTable is the table used by SQL when none is configured.
const DefaultTable = "statesync_items"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQL implements Backend on a database/sql table. Statements use "?"
// placeholders and an ON CONFLICT upsert, which SQLite accepts.
// The driver must be registered by the caller (e.g. github.com/mattn/go-sqlite3).
type SQL struct {
	db    *sql.DB
	table string
}

// SQLOption configures an SQL backend.
type SQLOption func(*SQL)

// WithTable overrides the table name.
func WithTable(name string) SQLOption {
	return func(s *SQL) {
		s.table = name
	}
}

// NewSQL creates the backing table if needed and returns the backend.
func NewSQL(ctx context.Context, db *sql.DB, opts ...SQLOption) (*SQL, error) {
	if db == nil {
		return nil, errors.New("storage: sql db is required")
	}
	s := &SQL{db: db, table: DefaultTable}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("storage: invalid table name %q", s.table)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, s.table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return s, nil
}

// OpenSQL returns a Factory that opens driver/dsn and prepares the table.
// Failures surface as an unavailable backend.
func OpenSQL(driver, dsn string, opts ...SQLOption) Factory {
	return func() (Backend, error) {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("storage: open %s: %w", driver, err)
		}
		s, err := NewSQL(context.Background(), db, opts...)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}
}

func (s *SQL) GetItem(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT value FROM %s WHERE name = ?", s.table), name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: select %q: %w", name, err)
	}
	return value, true, nil
}

func (s *SQL) SetItem(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, s.table),
		name, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage: upsert %q: %w", name, err)
	}
	return nil
}

func (s *SQL) RemoveItem(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = ?", s.table), name); err != nil {
		return fmt.Errorf("storage: delete %q: %w", name, err)
	}
	return nil
}

// Names lists stored names in ascending order.
func (s *SQL) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT name FROM %s ORDER BY name", s.table))
	if err != nil {
		return nil, fmt.Errorf("storage: list names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the underlying database.
func (s *SQL) Close() error {
	return s.db.Close()
}
