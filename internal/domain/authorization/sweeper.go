package authorization

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper expires overdue authorization codes on a fixed interval.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval. A sweep
// also runs immediately on start so a restarted server catches up.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.svc.SweepExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("authorization code sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int("expired", n).Msg("expired overdue authorization codes")
	}
}
