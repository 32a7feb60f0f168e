package repo

import (
	"context"
	"errors"
	"fmt"

	"decisionlog/internal/config"
	"decisionlog/internal/db"
	"decisionlog/internal/domain"
	"decisionlog/internal/migrate"
)

// Repository is the append-only decision history. List returns records in
// insertion order. An Append is atomic with respect to concurrent Lists.
type Repository interface {
	Append(ctx context.Context, r domain.Record) error
	List(ctx context.Context) ([]domain.Record, error)
}

// Store is a Repository that owns resources.
type Store interface {
	Repository
	Close() error
}

var (
	ErrDuplicate = errors.New("decision id already exists")
	ErrInvalid   = errors.New("decision record is missing id or created")
)

func check(r domain.Record) error {
	if r.ID == "" || r.Created == "" {
		return ErrInvalid
	}
	return nil
}

// Open returns the store selected by cfg, migrating SQL schemas as needed.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewMemoryStore(), nil
	case config.DriverFile:
		return NewFileStore(cfg.Path)
	case config.DriverSQLite, config.DriverPostgres:
		dialect := db.SQLite
		if cfg.Driver == config.DriverPostgres {
			dialect = db.Postgres
		}
		conn, err := db.Open(db.Config{Dialect: dialect, Path: cfg.Path, DSN: cfg.DSN})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
		}
		if err := migrate.Migrate(conn, dialect); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate %s: %w", cfg.Driver, err)
		}
		return NewSQLStore(conn, dialect), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func cloneRecord(r domain.Record) domain.Record {
	if r.Owners != nil {
		r.Owners = append([]string(nil), r.Owners...)
	}
	return r
}
