package registry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reaper periodically ends sessions that sit idle with an empty queue past
// the grace period. It is the only component allowed to end a session
// without an explicit user command.
type Reaper struct {
	reg      *Registry
	interval time.Duration
	grace    time.Duration
	log      zerolog.Logger
}

func NewReaper(reg *Registry, interval, grace time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		reg:      reg,
		interval: interval,
		grace:    grace,
		log:      log.With().Str("component", "reaper").Logger(),
	}
}

// Run sweeps until the context is cancelled.
func (rp *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.Sweep(ctx)
		}
	}
}

// Sweep ends every session that has been idle with an empty queue for at
// least the grace period. The idle check and the termination execute as one
// step inside the session's command loop, so a play request racing the sweep
// can never lose its freshly-activated session.
func (rp *Reaper) Sweep(ctx context.Context) {
	for guildID, s := range rp.reg.Snapshot() {
		reaped, err := s.StopIfIdleFor(ctx, rp.grace)
		if err != nil {
			// Session already terminal; make sure the entry is gone.
			rp.reg.Remove(guildID)
			continue
		}
		if reaped {
			rp.log.Info().Str("guild", guildID).Msg("reaped idle session")
		}
	}
}
