package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper closes bookings whose window has ended.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ExpirySweeper runs the sweep on a fixed interval so expiry does not depend
// on anyone calling the API.
type ExpirySweeper struct {
	target   Sweeper
	interval time.Duration
	logger   zerolog.Logger
}

func NewExpirySweeper(target Sweeper, interval time.Duration, logger *zerolog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "expiry_sweeper").Logger()
	}
	return &ExpirySweeper{target: target, interval: interval, logger: l}
}

// Start sweeps once immediately, then every interval until ctx is done.
func (s *ExpirySweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("expiry sweeper started")
	defer s.logger.Info().Msg("expiry sweeper stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *ExpirySweeper) RunOnce(ctx context.Context) int {
	n, err := s.target.SweepExpired(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Int("closed", n).Msg("sweep failed")
	}
	return n
}
