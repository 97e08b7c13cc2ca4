package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SweepResult counts the records removed by one sweep.
type SweepResult struct {
	Sessions     int
	ResetTokens  int
	OAuthStates  int
	LoginBuckets int
}

// SweepExpired removes expired sessions (or revocations), used or expired
// reset tokens, expired OAuth states and stale login rate limit buckets.
func (s *Service) SweepExpired(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	result := &SweepResult{}

	var err error
	if result.Sessions, err = s.authenticator.DeleteExpired(ctx); err != nil {
		return nil, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	if result.ResetTokens, err = s.storage.DeleteExpiredPasswordResetTokens(ctx, now); err != nil {
		return nil, fmt.Errorf("failed to sweep reset tokens: %w", err)
	}
	if result.OAuthStates, err = s.storage.DeleteExpiredOAuthStates(ctx, now); err != nil {
		return nil, fmt.Errorf("failed to sweep OAuth states: %w", err)
	}
	result.LoginBuckets = s.loginLimiter.Cleanup()

	return result, nil
}

// Sweeper runs SweepExpired periodically until Stop is called.
type Sweeper struct {
	service  *Service
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartSweeper starts a background sweep every interval.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) *Sweeper {
	sweeperCtx, cancel := context.WithCancel(ctx)

	sw := &Sweeper{
		service:  s,
		interval: interval,
		ctx:      sweeperCtx,
		cancel:   cancel,
	}

	sw.wg.Add(1)
	go sw.loop()

	return sw
}

// Stop gracefully stops the background sweep.
func (sw *Sweeper) Stop() {
	sw.cancel()
	sw.wg.Wait()
}

func (sw *Sweeper) loop() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.ctx.Done():
			slog.Debug("Sweeper stopped")
			return

		case <-ticker.C:
			result, err := sw.service.SweepExpired(sw.ctx)
			if err != nil {
				slog.Error("Failed to sweep expired records", "error", err)
				continue
			}
			slog.Debug("Swept expired records",
				"sessions", result.Sessions,
				"reset_tokens", result.ResetTokens,
				"oauth_states", result.OAuthStates,
				"login_buckets", result.LoginBuckets)
		}
	}
}
