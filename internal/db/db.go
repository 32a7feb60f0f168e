package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names a SQL flavour understood by Open and migrate.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Config selects the database to open. Path is used for SQLite, DSN for Postgres.
type Config struct {
	Dialect Dialect
	Path    string
	DSN     string
}

// EnsureDir creates the parent directory of a SQLite database file.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Open opens the configured database. SQLite is opened with a busy timeout
// and a single connection so appends serialize in-process.
func Open(cfg Config) (*sql.DB, error) {
	switch cfg.Dialect {
	case SQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if err := EnsureDir(cfg.Path); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(1)
		return conn, nil
	case Postgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		return sql.Open("postgres", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
func Rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
