package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/cmdguard/internal/backoff"
)

// Dialect selects SQL placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	kindBlock  = "block"
	kindPermit = "permit"

	metaInitialized = "initialized"

	pingAttempts = 3
	saveAttempts = 5
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cmdguard_rules (
		kind TEXT NOT NULL,
		prefix TEXT NOT NULL,
		PRIMARY KEY (kind, prefix)
	)`,
	`CREATE TABLE IF NOT EXISTS cmdguard_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// SQLStore keeps rules in a SQL database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	name    string
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect Dialect, name string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, name: name}
}

// OpenSQLite opens (creating if needed) a SQLite rules database.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := NewSQLStore(db, DialectSQLite, path)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to a PostgreSQL rules database.
func OpenPostgres(ctx context.Context, dsn string, connectTimeout time.Duration) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	err = backoff.Retry(pingCtx, backoff.DefaultPolicy(), pingAttempts, func(int) error {
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewSQLStore(db, DialectPostgres, "postgres")
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the rules tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate rules schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Describe() string {
	return fmt.Sprintf("%s %s", s.dialect, s.name)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Load reads every stored rule. ErrNotFound is returned until the first Save.
func (s *SQLStore) Load(ctx context.Context) (*Rules, error) {
	var initialized string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT value FROM cmdguard_meta WHERE key = ?`), metaInitialized,
	).Scan(&initialized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load rules metadata: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, prefix FROM cmdguard_rules ORDER BY kind, prefix`)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	rules := &Rules{}
	for rows.Next() {
		var kind, prefix string
		if err := rows.Scan(&kind, &prefix); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		switch kind {
		case kindBlock:
			rules.Blocked = append(rules.Blocked, prefix)
		case kindPermit:
			rules.Permitted = append(rules.Permitted, prefix)
		default:
			return nil, fmt.Errorf("unknown rule kind %q", kind)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules.normalized(), nil
}

// Save replaces all stored rules in a single transaction. SQLite lock
// contention from another process is retried briefly.
func (s *SQLStore) Save(ctx context.Context, rules *Rules) error {
	rules = rules.normalized()
	return backoff.Retry(ctx, backoff.LockPolicy(), saveAttempts, func(int) error {
		err := s.save(ctx, rules)
		if err != nil && !(s.dialect == DialectSQLite && isBusy(err)) {
			return backoff.Permanent(err)
		}
		return err
	})
}

func (s *SQLStore) save(ctx context.Context, rules *Rules) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cmdguard_rules`); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}

	insert := s.rebind(`INSERT INTO cmdguard_rules (kind, prefix) VALUES (?, ?)`)
	for _, prefix := range rules.Blocked {
		if _, err = tx.ExecContext(ctx, insert, kindBlock, prefix); err != nil {
			return fmt.Errorf("insert block rule: %w", err)
		}
	}
	for _, prefix := range rules.Permitted {
		if _, err = tx.ExecContext(ctx, insert, kindPermit, prefix); err != nil {
			return fmt.Errorf("insert permit rule: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO cmdguard_meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
		metaInitialized, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("mark rules initialized: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit rules: %w", err)
	}
	return nil
}

// isBusy reports whether err is SQLite lock contention.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
