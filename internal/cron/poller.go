// Package cron proactively re-syncs every active connection on a fixed
// interval, covering providers and events that webhooks missed.
package cron

import (
	"context"
	"time"

	"gitlab.com/yelinaung/finsync/internal/logger"
	"gitlab.com/yelinaung/finsync/internal/sync"
)

// tickTimeout bounds one full polling pass.
const tickTimeout = 15 * time.Minute

// Poller runs the periodic full-sync loop.
type Poller struct {
	svc         *sync.Service
	connections sync.ConnectionStore
	interval    time.Duration
}

// New creates a poller.
func New(svc *sync.Service, connections sync.ConnectionStore, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Poller{
		svc:         svc,
		connections: connections,
		interval:    interval,
	}
}

// Start runs the polling loop until the context is cancelled. One pass runs
// immediately so a freshly started process doesn't wait a full interval.
func (p *Poller) Start(ctx context.Context) {
	logger.Log.Info().Dur("interval", p.interval).Msg("sync poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info().Msg("sync poller stopped")
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

// runOnce refreshes and syncs every active connection. Per-connection
// failures are logged and do not stop the pass.
func (p *Poller) runOnce(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()

	conns, err := p.connections.ListActive(tickCtx)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to list connections for polling")
		return
	}

	for i := range conns {
		if tickCtx.Err() != nil {
			return
		}
		res, err := p.svc.RefreshAndSync(tickCtx, &conns[i])
		if err != nil {
			logger.Log.Warn().Err(err).
				Str("connection_hash", logger.HashExternalID(conns[i].ExternalID)).
				Msg("connection poll failed, continuing with next")
			continue
		}
		logger.Log.Debug().
			Str("connection_hash", logger.HashExternalID(conns[i].ExternalID)).
			Int("saved", res.Saved).
			Int("duplicates", res.Duplicates).
			Msg("connection polled")
	}
}
