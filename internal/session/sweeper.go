package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper runs the coordinator's timeout sweep on a fixed schedule
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration
	cron        *cron.Cron
}

// NewSweeper creates a sweeper
func NewSweeper(coordinator *Coordinator, interval time.Duration) *Sweeper {
	return &Sweeper{
		coordinator: coordinator,
		interval:    interval,
		cron:        cron.New(cron.WithSeconds()),
	}
}

// Start schedules the sweep and begins running it
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()

		if err := s.coordinator.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("Session sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}

	s.cron.Start()
	log.Info().Dur("interval", s.interval).Msg("Session sweeper started")
	return nil
}

// Stop stops the sweeper and waits for an in-flight sweep to finish
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Session sweeper stopped")
}
