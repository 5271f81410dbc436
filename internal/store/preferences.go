package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Preference holds one user's delivery policy. Exactly one row per user,
// created lazily with system defaults and never deleted.
type Preference struct {
	UserID           string          `json:"user_id"`
	EmailEnabled     bool            `json:"email_enabled"`
	PushEnabled      bool            `json:"push_enabled"`
	WebsocketEnabled bool            `json:"websocket_enabled"`
	PushTypes        map[string]bool `json:"push_types"`
	TypeOverrides    map[string]bool `json:"type_overrides"`
	QuietEnabled     bool            `json:"quiet_enabled"`
	QuietStart       int             `json:"quiet_start"` // minutes since midnight
	QuietEnd         int             `json:"quiet_end"`
	QuietTZ          string          `json:"quiet_tz"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// DefaultPreference is the system default: every channel on, quiet hours off.
func DefaultPreference(userID string) *Preference {
	return &Preference{
		UserID:           userID,
		EmailEnabled:     true,
		PushEnabled:      true,
		WebsocketEnabled: true,
		PushTypes:        map[string]bool{},
		TypeOverrides:    map[string]bool{},
		QuietTZ:          "UTC",
	}
}

const preferenceCols = `user_id, email_enabled, push_enabled, websocket_enabled, push_types, type_overrides, quiet_enabled, quiet_start, quiet_end, quiet_tz, updated_at`

func scanPreference(row pgx.Row) (*Preference, error) {
	var p Preference
	if err := row.Scan(&p.UserID, &p.EmailEnabled, &p.PushEnabled, &p.WebsocketEnabled,
		&p.PushTypes, &p.TypeOverrides, &p.QuietEnabled, &p.QuietStart, &p.QuietEnd, &p.QuietTZ, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPreference(ctx context.Context, userID string) (*Preference, error) {
	p, err := scanPreference(s.db.Pool.QueryRow(ctx,
		`SELECT `+preferenceCols+` FROM notification_preferences WHERE user_id=$1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return p, nil
}

// CreateDefaultPreference inserts the system defaults for a user. Concurrent
// first-access races are absorbed by ON CONFLICT; whoever wins, the row is
// the same.
func (s *Store) CreateDefaultPreference(ctx context.Context, userID string) (*Preference, error) {
	p, err := scanPreference(s.db.Pool.QueryRow(ctx, `
INSERT INTO notification_preferences(user_id)
VALUES ($1)
ON CONFLICT (user_id) DO UPDATE SET user_id=EXCLUDED.user_id
RETURNING `+preferenceCols+`;
`, userID))
	if err != nil {
		return nil, fmt.Errorf("create default preference: %w", err)
	}
	return p, nil
}

// UpdatePreference upserts the full record. Resetting a user means writing
// defaults back, never deleting the row.
func (s *Store) UpdatePreference(ctx context.Context, p *Preference) error {
	pushTypes := p.PushTypes
	if pushTypes == nil {
		pushTypes = map[string]bool{}
	}
	overrides := p.TypeOverrides
	if overrides == nil {
		overrides = map[string]bool{}
	}
	_, err := s.db.Pool.Exec(ctx, `
INSERT INTO notification_preferences(user_id, email_enabled, push_enabled, websocket_enabled, push_types, type_overrides, quiet_enabled, quiet_start, quiet_end, quiet_tz, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
ON CONFLICT (user_id) DO UPDATE SET
  email_enabled=EXCLUDED.email_enabled,
  push_enabled=EXCLUDED.push_enabled,
  websocket_enabled=EXCLUDED.websocket_enabled,
  push_types=EXCLUDED.push_types,
  type_overrides=EXCLUDED.type_overrides,
  quiet_enabled=EXCLUDED.quiet_enabled,
  quiet_start=EXCLUDED.quiet_start,
  quiet_end=EXCLUDED.quiet_end,
  quiet_tz=EXCLUDED.quiet_tz,
  updated_at=now();
`, p.UserID, p.EmailEnabled, p.PushEnabled, p.WebsocketEnabled, pushTypes, overrides,
		p.QuietEnabled, p.QuietStart, p.QuietEnd, p.QuietTZ)
	if err != nil {
		return fmt.Errorf("update preference: %w", err)
	}
	return nil
}
