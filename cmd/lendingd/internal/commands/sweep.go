package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wispberry-tech/wispy-lending/core"
)

// SweepSessionsCmd deletes expired authentication records once.
type SweepSessionsCmd struct {
	Storage  StorageFlags  `embed:""`
	Security SecurityFlags `embed:""`
}

func (c *SweepSessionsCmd) Run(ctx context.Context) error {
	store, err := c.Storage.Open(ctx)
	if err != nil {
		return err
	}

	svc, err := core.NewService(core.Config{Storage: store, SecurityConfig: c.Security.config()})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	result, err := svc.SweepExpired(ctx)
	if err != nil {
		return err
	}

	slog.Info("Sweep complete",
		"strategy", c.Security.AuthStrategy,
		"sessions", result.Sessions,
		"reset_tokens", result.ResetTokens,
		"oauth_states", result.OAuthStates)
	return nil
}
