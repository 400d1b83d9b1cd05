package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tollgate/pkg/idx"
	_ "modernc.org/sqlite"
)

// HistoryStore keeps the token change audit trail in SQLite. Unlike token
// records it must survive restarts and outlive the tokens it describes.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore opens the database at dsn. Call ApplyMigrations before
// use.
func NewHistoryStore(dsn string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers anyway; one connection keeps :memory:
	// databases coherent across calls.
	db.SetMaxOpenConns(1)

	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *HistoryStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const insertEntry = `
INSERT INTO token_change_history (
    id, token_id, username, token_type, token_name, parent, scopes,
    service, expires_at, actor, action, ip_address, event_time
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *HistoryStore) Add(ctx context.Context, e domain.TokenChangeEntry) error {
	if e.EventTime.IsZero() {
		e.EventTime = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = idx.NewAt(e.EventTime).String()
	}

	_, err := s.db.ExecContext(ctx, insertEntry,
		e.ID,
		e.TokenID,
		e.Subject,
		string(e.Type),
		mapStringNull(e.TokenName),
		mapStringNull(e.Parent),
		strings.Join(e.Scopes, " "),
		mapStringNull(e.Service),
		mapTimeNull(e.ExpiresAt),
		e.Actor,
		string(e.Action),
		mapStringNull(e.IPAddress),
		e.EventTime.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert history: %w", err)
	}
	return nil
}

const selectBySubject = `
SELECT id, token_id, username, token_type, token_name, parent, scopes,
       service, expires_at, actor, action, ip_address, event_time
FROM token_change_history
WHERE username = ?
ORDER BY event_time DESC, id DESC
LIMIT ?`

func (s *HistoryStore) ListBySubject(ctx context.Context, subject string, limit int) ([]domain.TokenChangeEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, selectBySubject, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list history: %w", err)
	}
	defer rows.Close()

	out := []domain.TokenChangeEntry{}
	for rows.Next() {
		var (
			e                                     domain.TokenChangeEntry
			tokenType, scopes, action             string
			tokenName, parent, service, ipAddress sql.NullString
			expiresAt                             sql.NullInt64
			eventTime                             int64
		)
		if err := rows.Scan(
			&e.ID, &e.TokenID, &e.Subject, &tokenType, &tokenName, &parent, &scopes,
			&service, &expiresAt, &e.Actor, &action, &ipAddress, &eventTime,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}

		e.Type = domain.TokenType(tokenType)
		e.Action = domain.TokenChangeAction(action)
		e.TokenName = mapNullString(tokenName)
		e.Parent = mapNullString(parent)
		e.Service = mapNullString(service)
		e.IPAddress = mapNullString(ipAddress)
		e.Scopes = splitScopes(scopes)
		e.EventTime = time.UnixMilli(eventTime).UTC()
		if expiresAt.Valid {
			e.ExpiresAt = time.UnixMilli(expiresAt.Int64).UTC()
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *HistoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM token_change_history WHERE event_time < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite: trim history: %w", err)
	}
	return res.RowsAffected()
}

func mapNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func mapStringNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func mapTimeNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func splitScopes(s string) []string {
	fields := strings.Fields(s)
	if fields == nil {
		return []string{}
	}
	return fields
}
