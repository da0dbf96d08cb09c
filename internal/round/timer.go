package round

import (
	"context"
	"time"

	"github.com/finsim/game-engine/internal/metrics"
)

// RunTimer checks the active round's deadline every tick and settles it
// once expired. It returns when ctx is cancelled.
func (s *Service) RunTimer(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.log.Info("round timer started", "every", every.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick ends an expired round. A failed attempt is retried once after
// cfg.RetryDelay; a second failure is raised as an operational alert.
func (s *Service) tick(ctx context.Context) {
	res, ended, err := s.EndIfExpired(ctx, s.now())
	if err == nil {
		if ended {
			s.log.Info("round ended by timer", "round", res.Round.RoundNumber)
		}
		return
	}

	s.log.Warn("automatic round end failed, retrying", "err", err, "retry_in", s.cfg.RetryDelay.String())
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.RetryDelay):
	}

	res, ended, err = s.EndIfExpired(ctx, s.now())
	if err != nil {
		metrics.RoundAutoEndFailures.Inc()
		s.log.Error("ALERT: automatic round end failed after retry", "err", err)
		return
	}
	if ended {
		s.log.Info("round ended by timer on retry", "round", res.Round.RoundNumber)
	}
}
