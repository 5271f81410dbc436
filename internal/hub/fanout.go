package hub

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/coursepulse/notifyd/internal/metrics"
)

// Fanout pushes one logical event to the live connections it should reach.
// Delivery is best-effort, at-most-once per connection, no retry and no
// buffering: the durable record already exists in the store before fan-out
// is attempted, so a missed push is recoverable by a client fetch.
type Fanout struct {
	registry *Registry
	gate     *Gate
	reap     func(*Connection)
	log      zerolog.Logger
}

func NewFanout(registry *Registry, gate *Gate, reap func(*Connection), log zerolog.Logger) *Fanout {
	return &Fanout{registry: registry, gate: gate, reap: reap, log: log}
}

// DeliverToUser gate-checks once, then sends to every connection of the
// user whose type allow-list accepts the event. A send failure on one
// connection reaps that connection and delivery continues to the rest.
// Returns true when at least one connection received the event.
func (f *Fanout) DeliverToUser(ctx context.Context, userID string, ev Event) bool {
	if !f.gate.ShouldDeliver(ctx, userID, ev.Type, ChannelWebsocket) {
		metrics.IncSuppressed()
		return false
	}

	data, err := marshalOutbound(msgNotification, ev)
	if err != nil {
		f.log.Error().Err(err).Str("user", userID).Msg("marshal event")
		return false
	}

	sent := 0
	for _, c := range f.registry.Snapshot(userID) {
		if !c.allowsType(ev.Type) {
			continue
		}
		if !c.trySend(data) {
			metrics.IncSendFailure()
			f.log.Debug().Str("user", userID).Stringer("conn", c.ID).Msg("send failed, reaping connection")
			f.reap(c)
			continue
		}
		metrics.IncDelivered()
		sent++
	}
	return sent > 0
}

// DeliverToUsers fans an event out to many users and returns how many were
// actually reached.
func (f *Fanout) DeliverToUsers(ctx context.Context, userIDs []string, ev Event) int {
	reached := 0
	for _, uid := range userIDs {
		if f.DeliverToUser(ctx, uid, ev) {
			reached++
		}
	}
	return reached
}

// Broadcast delivers to every connected user except those in exclude.
func (f *Fanout) Broadcast(ctx context.Context, ev Event, exclude map[string]struct{}) int {
	ids := f.registry.UserIDs()
	targets := ids[:0]
	for _, uid := range ids {
		if _, skip := exclude[uid]; skip {
			continue
		}
		targets = append(targets, uid)
	}
	return f.DeliverToUsers(ctx, targets, ev)
}
