package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Notification struct {
	ID        uuid.UUID      `json:"id"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	RelatedID *string        `json:"related_id"`
	ActionURL *string        `json:"action_url"`
	Metadata  map[string]any `json:"metadata"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at"`
	ReadAt    *time.Time     `json:"read_at"`
}

// NewNotification carries the caller-supplied fields for BulkCreate.
type NewNotification struct {
	Title     string
	Message   string
	Type      string
	Priority  string
	RelatedID *string
	ActionURL *string
	Metadata  map[string]any
	ExpiresAt *time.Time
}

type ListOptions struct {
	Limit  int
	Status string // "" means any
}

const notificationCols = `id, user_id, title, message, type, priority, related_id, action_url, metadata, status, created_at, expires_at, read_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.Priority,
		&n.RelatedID, &n.ActionURL, &n.Metadata, &n.Status, &n.CreatedAt, &n.ExpiresAt, &n.ReadAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) CountByStatus(ctx context.Context, userID, status string) (int, error) {
	var count int
	err := s.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE user_id=$1 AND status=$2`,
		userID, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

func (s *Store) ListByUserID(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT ` + notificationCols + ` FROM notifications WHERE user_id=$1`
	args := []any{userID}
	if opts.Status != "" {
		q += ` AND status=$2`
		args = append(args, opts.Status)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkAsRead flips a single notification to read. Returns false when the
// notification does not exist, belongs to someone else, or was already read.
func (s *Store) MarkAsRead(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	tag, err := s.db.Pool.Exec(ctx, `
UPDATE notifications SET status='read', read_at=now()
WHERE id=$1 AND user_id=$2 AND status='unread'
`, id, userID)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAllAsRead flips every unread notification of a user and returns how
// many rows changed. Running it again is a no-op, not an error.
func (s *Store) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
UPDATE notifications SET status='read', read_at=now()
WHERE user_id=$1 AND status='unread'
`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// BulkCreate inserts one notification per target user and returns the
// created rows. The durable record exists before any fan-out is attempted.
func (s *Store) BulkCreate(ctx context.Context, userIDs []string, f NewNotification) ([]Notification, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	if f.Type == "" {
		f.Type = "info"
	}
	if f.Priority == "" {
		f.Priority = "medium"
	}
	meta := f.Metadata
	if meta == nil {
		meta = map[string]any{}
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]Notification, 0, len(userIDs))
	for _, uid := range userIDs {
		row := tx.QueryRow(ctx, `
INSERT INTO notifications(id, user_id, title, message, type, priority, related_id, action_url, metadata, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING `+notificationCols+`;
`, uuid.New(), uid, f.Title, f.Message, f.Type, f.Priority, f.RelatedID, f.ActionURL, meta, f.ExpiresAt)
		n, err := scanNotification(row)
		if err != nil {
			return nil, fmt.Errorf("insert notification for %s: %w", uid, err)
		}
		out = append(out, *n)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}
