package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// HealthMonitor runs the fixed-tick liveness sweep. It is the sole owner of
// probe-driven reap decisions; the application-level ping message is a
// separate concern and never feeds this loop.
type HealthMonitor struct {
	registry     *Registry
	interval     time.Duration
	writeTimeout time.Duration
	reap         func(*Connection)
	log          zerolog.Logger
}

func NewHealthMonitor(registry *Registry, interval, writeTimeout time.Duration, reap func(*Connection), log zerolog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		registry:     registry,
		interval:     interval,
		writeTimeout: writeTimeout,
		reap:         reap,
		log:          log,
	}
}

func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep reaps every connection that stayed silent since the previous
// probe, then arms the rest: flag down, transport ping out, pong expected
// before the next tick.
func (m *HealthMonitor) sweep() {
	for _, c := range m.registry.SnapshotAll() {
		if !c.alive.Swap(false) {
			m.log.Info().Stringer("conn", c.ID).Str("user", c.UserID).Msg("reaping unresponsive connection")
			m.reap(c)
			continue
		}
		if err := c.ping(time.Now().Add(m.writeTimeout)); err != nil {
			m.log.Debug().Err(err).Stringer("conn", c.ID).Msg("ping failed, reaping connection")
			m.reap(c)
		}
	}
}
