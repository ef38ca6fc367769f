package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"gitlab.com/yelinaung/finsync/internal/logger"
	"gitlab.com/yelinaung/finsync/internal/models"
	"gitlab.com/yelinaung/finsync/internal/provider"
)

// RefreshAndSync is the cron-path entry point for one connection: trigger a
// provider refresh, wait for it to settle, then run a full lookback-window
// sync regardless of webhook delivery.
func (s *Service) RefreshAndSync(ctx context.Context, conn *models.Connection) (Result, error) {
	log := logger.Log.With().
		Str("provider", string(conn.Provider)).
		Str("connection_hash", logger.HashExternalID(conn.ExternalID)).
		Logger()

	if err := s.facade.TriggerRefresh(ctx, conn.Provider, conn.ExternalID); err != nil {
		switch {
		case errors.Is(err, provider.ErrAuthFailed):
			_ = s.connections.UpdateStatus(ctx, conn.ID, models.ConnectionStatusLoginError, err.Error())
			return Result{}, fmt.Errorf("triggering refresh: %w", err)
		case errors.Is(err, provider.ErrRateLimited):
			log.Warn().Msg("refresh trigger rate limited, syncing with existing provider data")
		default:
			log.Warn().Err(err).Msg("refresh trigger failed, syncing with existing provider data")
		}
	} else {
		status, err := s.pollUntilTerminal(ctx, conn)
		if err != nil {
			// Bounded wait expired or kept failing transiently: proceed
			// with whatever data the provider currently has.
			log.Warn().Err(err).Msg("refresh did not settle in time, proceeding with available data")
		} else {
			if err := s.connections.UpdateStatus(ctx, conn.ID, status, ""); err != nil {
				log.Error().Err(err).Msg("failed to store connection status")
			}
			if status == models.ConnectionStatusLoginError {
				return Result{}, fmt.Errorf("connection requires re-authentication: %w", provider.ErrAuthFailed)
			}
		}
	}

	to := s.now()
	from := to.AddDate(0, 0, -s.opts.LookbackDays)
	return s.SyncConnection(ctx, conn, from, to)
}

// pollUntilTerminal polls connection status on a fixed interval until a
// terminal status or the attempt budget runs out. Transient provider errors
// are retried here and nowhere else.
func (s *Service) pollUntilTerminal(ctx context.Context, conn *models.Connection) (models.ConnectionStatus, error) {
	operation := func() (models.ConnectionStatus, error) {
		status, err := s.facade.PollStatus(ctx, conn.Provider, conn.ExternalID)
		if err != nil {
			if errors.Is(err, provider.ErrAuthFailed) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if !status.IsTerminal() {
			return "", fmt.Errorf("connection still %s", status)
		}
		return status, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.opts.PollInterval)),
		backoff.WithMaxTries(uint(s.opts.PollAttempts)),
		backoff.WithMaxElapsedTime(time.Duration(s.opts.PollAttempts+1)*s.opts.PollInterval),
	)
}
