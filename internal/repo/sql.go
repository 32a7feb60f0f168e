package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"decisionlog/internal/db"
	"decisionlog/internal/domain"
	"decisionlog/internal/events"
)

// SQLStore persists history in SQLite or Postgres. Each append inserts the
// record and its audit event in one transaction.
type SQLStore struct {
	DB      *sql.DB
	Dialect db.Dialect
	Events  events.Writer
}

func NewSQLStore(conn *sql.DB, d db.Dialect) *SQLStore {
	return &SQLStore{DB: conn, Dialect: d, Events: events.Writer{Dialect: d}}
}

func (s *SQLStore) q(query string) string { return db.Rebind(s.Dialect, query) }

func (s *SQLStore) Append(ctx context.Context, r domain.Record) error {
	if err := check(r); err != nil {
		return err
	}
	owners := r.Owners
	if owners == nil {
		owners = []string{}
	}
	ownersJSON, err := json.Marshal(owners)
	if err != nil {
		return fmt.Errorf("encode owners: %w", err)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM decisions WHERE id=?`), r.ID).Scan(&exists)
	if err == nil {
		return ErrDuplicate
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check decision id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO decisions(id,title,summary,owners_json,due_date,related_jira_key,client_ts,created) VALUES (?,?,?,?,?,?,?,?)`),
		r.ID, r.Title, r.Summary, string(ownersJSON), r.DueDate, r.RelatedJiraKey, r.Timestamp, r.Created); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	if err := s.Events.Append(ctx, tx, events.DecisionLogged, r.ID, r); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) List(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,title,summary,owners_json,due_date,related_jira_key,client_ts,created FROM decisions ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Record{}
	for rows.Next() {
		var r domain.Record
		var ownersJSON string
		if err := rows.Scan(&r.ID, &r.Title, &r.Summary, &ownersJSON, &r.DueDate, &r.RelatedJiraKey, &r.Timestamp, &r.Created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ownersJSON), &r.Owners); err != nil {
			return nil, fmt.Errorf("decode owners for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error { return s.DB.Close() }
