package services

import (
	"context"
	"fmt"
	"time"

	"pgsentry/internal/command"
	"pgsentry/internal/logging"
)

// Controller manages systemd units around destructive restore windows and
// during health remediation.
type Controller struct {
	runner command.Runner
	logger *logging.Logger
}

// NewController creates a service controller.
func NewController(runner command.Runner, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Controller{runner: runner, logger: logger}
}

// Stop stops a unit.
func (c *Controller) Stop(ctx context.Context, unit string) error {
	c.logger.Debugf("Stopping service %s", unit)
	return c.runner.Run(ctx, "systemctl", "stop", unit)
}

// Start starts a unit.
func (c *Controller) Start(ctx context.Context, unit string) error {
	c.logger.Debugf("Starting service %s", unit)
	return c.runner.Run(ctx, "systemctl", "start", unit)
}

// Restart restarts a unit.
func (c *Controller) Restart(ctx context.Context, unit string) error {
	c.logger.Debugf("Restarting service %s", unit)
	return c.runner.Run(ctx, "systemctl", "restart", unit)
}

// IsActive reports whether a unit is currently active.
func (c *Controller) IsActive(ctx context.Context, unit string) bool {
	return c.runner.Run(ctx, "systemctl", "is-active", "--quiet", unit) == nil
}

// WaitActive polls until the unit is active or the attempt budget runs out.
func (c *Controller) WaitActive(ctx context.Context, unit string, polls int, delay time.Duration) error {
	for i := 0; i < polls; i++ {
		if c.IsActive(ctx, unit) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("service %s did not become active after %d checks", unit, polls)
}

// PauseAll stops the given units in order. The first failure aborts the
// pause; the caller is expected to resume whatever was already stopped.
func (c *Controller) PauseAll(ctx context.Context, units []string) error {
	for _, unit := range units {
		if err := c.Stop(ctx, unit); err != nil {
			return fmt.Errorf("failed to pause service %s: %w", unit, err)
		}
	}
	return nil
}

// ResumeAll starts the given units in order. Unlike PauseAll, a failure is
// logged and the remaining units are still attempted; a restore must never
// leave services down because one of them failed to start.
func (c *Controller) ResumeAll(ctx context.Context, units []string) {
	for _, unit := range units {
		if err := c.Start(ctx, unit); err != nil {
			c.logger.Warnf("Failed to resume service %s: %v", unit, err)
		}
	}
}
