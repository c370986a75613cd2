package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/astro-dispatch/app/dto"
	"github.com/amirphl/astro-dispatch/config"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const maintenanceRunTimeout = 10 * time.Minute

// BroadcastMaintainer is the bulk maintenance surface the cron drives
type BroadcastMaintainer interface {
	CancelOld(ctx context.Context, days int) (*dto.BroadcastMaintenanceResponse, error)
	CleanupCompleted(ctx context.Context, days int) (*dto.BroadcastMaintenanceResponse, error)
}

// MaintenanceScheduler runs the periodic cleanup and stale-cancel sweeps
type MaintenanceScheduler struct {
	maintainer BroadcastMaintainer
	cfg        config.MaintenanceConfig
	parser     cron.Parser
	logger     zerolog.Logger
}

// NewMaintenanceScheduler creates the cron scheduler; Start registers and runs it
func NewMaintenanceScheduler(maintainer BroadcastMaintainer, cfg config.MaintenanceConfig, logger zerolog.Logger) *MaintenanceScheduler {
	if cfg.CleanupDays <= 0 {
		cfg.CleanupDays = utils.DefaultCleanupDays
	}
	if cfg.CancelStaleDays <= 0 {
		cfg.CancelStaleDays = utils.DefaultCancelStaleDays
	}
	return &MaintenanceScheduler{
		maintainer: maintainer,
		cfg:        cfg,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:     logger.With().Str("component", "maintenance").Logger(),
	}
}

// Start registers the configured sweeps and returns a function that stops the
// cron and waits for running sweeps
func (s *MaintenanceScheduler) Start(parent context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(parent)
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))

	if s.cfg.CleanupSchedule != "" {
		if _, err := c.AddFunc(s.cfg.CleanupSchedule, func() {
			s.run(ctx, "cleanup_completed", func(ctx context.Context) (*dto.BroadcastMaintenanceResponse, error) {
				return s.maintainer.CleanupCompleted(ctx, s.cfg.CleanupDays)
			})
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid cleanup schedule %q: %w", s.cfg.CleanupSchedule, err)
		}
	}
	if s.cfg.CancelStaleSchedule != "" {
		if _, err := c.AddFunc(s.cfg.CancelStaleSchedule, func() {
			s.run(ctx, "cancel_old", func(ctx context.Context) (*dto.BroadcastMaintenanceResponse, error) {
				return s.maintainer.CancelOld(ctx, s.cfg.CancelStaleDays)
			})
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid cancel stale schedule %q: %w", s.cfg.CancelStaleSchedule, err)
		}
	}

	c.Start()
	s.logger.Info().
		Str("cleanup_schedule", s.cfg.CleanupSchedule).
		Int("cleanup_days", s.cfg.CleanupDays).
		Str("cancel_stale_schedule", s.cfg.CancelStaleSchedule).
		Int("cancel_stale_days", s.cfg.CancelStaleDays).
		Msg("maintenance scheduler started")

	return func() {
		cancel()
		<-c.Stop().Done()
		s.logger.Info().Msg("maintenance scheduler stopped")
	}, nil
}

func (s *MaintenanceScheduler) run(parent context.Context, action string, fn func(ctx context.Context) (*dto.BroadcastMaintenanceResponse, error)) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, maintenanceRunTimeout)
	defer cancel()

	res, err := fn(ctx)
	if err != nil {
		maintenanceRunsTotal.WithLabelValues(action, "error").Inc()
		s.logger.Error().Err(err).Str("action", action).Msg("scheduled maintenance failed")
		return
	}
	maintenanceRunsTotal.WithLabelValues(action, "ok").Inc()
	s.logger.Info().Str("action", action).Int("affected", res.Affected).Int("failed", res.Failed).Msg("scheduled maintenance finished")
}
