package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically expires stale pending booking requests.
type Sweeper struct {
	bookings *BookingService
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper builds the sweeper.
func NewSweeper(bookings *BookingService, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		bookings: bookings,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.bookings.ExpireStale(ctx)
			if err != nil {
				s.logger.Warn("expiry sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				s.logger.Info("expired stale booking requests", zap.Int("count", count))
			}
		}
	}
}
