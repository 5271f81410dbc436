package hub

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/coursepulse/notifyd/internal/store"
)

// PreferenceStore is the read-mostly collaborator the gate consults.
// *store.Store satisfies it.
type PreferenceStore interface {
	GetPreference(ctx context.Context, userID string) (*store.Preference, error)
	CreateDefaultPreference(ctx context.Context, userID string) (*store.Preference, error)
}

// Gate evaluates, per (user, notification type, channel), whether delivery
// is allowed.
type Gate struct {
	prefs PreferenceStore
	log   zerolog.Logger

	// now is a clock hook for quiet-hours tests.
	now func() time.Time
}

func NewGate(prefs PreferenceStore, log zerolog.Logger) *Gate {
	return &Gate{prefs: prefs, log: log, now: time.Now}
}

// ShouldDeliver decides whether an event of the given type may go out on
// the given channel. Urgent priority does not bypass quiet hours. A
// preference-store failure suppresses delivery: the durable record already
// exists, so a skipped push is always recoverable by a client fetch.
func (g *Gate) ShouldDeliver(ctx context.Context, userID, typ, channel string) bool {
	pref, err := g.prefs.GetPreference(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		pref, err = g.prefs.CreateDefaultPreference(ctx, userID)
	}
	if err != nil {
		g.log.Warn().Err(err).Str("user", userID).Msg("preference lookup failed, suppressing delivery")
		return false
	}

	switch channel {
	case ChannelEmail:
		if !pref.EmailEnabled {
			return false
		}
	case ChannelPush:
		if !pref.PushEnabled {
			return false
		}
		if enabled, ok := pref.PushTypes[typ]; ok && !enabled {
			return false
		}
	case ChannelWebsocket:
		if !pref.WebsocketEnabled {
			return false
		}
	default:
		g.log.Warn().Str("channel", channel).Msg("unknown delivery channel")
		return false
	}

	if enabled, ok := pref.TypeOverrides[typ]; ok && !enabled {
		return false
	}

	if pref.QuietEnabled && g.inQuietHours(pref) {
		return false
	}
	return true
}

func (g *Gate) inQuietHours(pref *store.Preference) bool {
	loc, err := time.LoadLocation(pref.QuietTZ)
	if err != nil {
		loc = time.UTC
	}
	now := g.now().In(loc)
	minutes := now.Hour()*60 + now.Minute()
	return quietWindowContains(pref.QuietStart, pref.QuietEnd, minutes)
}

// quietWindowContains tests a minutes-since-midnight window. A window with
// start > end wraps midnight.
func quietWindowContains(start, end, now int) bool {
	if start <= end {
		return start <= now && now < end
	}
	return now >= start || now < end
}
