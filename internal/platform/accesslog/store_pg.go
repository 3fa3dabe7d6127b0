package accesslog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genmed/genmed/internal/platform/middleware"
)

// Entry is a stored access log row.
type Entry struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	UserEmail  *string   `json:"user_email,omitempty"`
	Action     string    `json:"action"`
	Route      string    `json:"route"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status_code"`
	RecordedAt time.Time `json:"recorded_at"`
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Insert(ctx context.Context, e middleware.AuditEntry) error {
	var email *string
	if !e.Anonymous && e.UserEmail != "" {
		email = &e.UserEmail
	}
	recorded := e.Timestamp
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO note_access_log (
			request_id, user_email, action, route, path, method,
			status_code, ip_address, user_agent, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.RequestID, email, e.Action, e.Route, e.Path, e.Method,
		e.StatusCode, e.IPAddress, e.UserAgent, recorded,
	)
	if err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}

// ListByUser returns the most recent entries for email, newest first.
func (s *PGStore) ListByUser(ctx context.Context, email string, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, request_id, user_email, action, route, method, status_code, recorded_at
		FROM note_access_log
		WHERE user_email = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("list access log: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.UserEmail, &e.Action, &e.Route, &e.Method, &e.StatusCode, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
