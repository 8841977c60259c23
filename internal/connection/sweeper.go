// internal/connection/sweeper.go

package connection

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

const sweepBatch = 100

// Sweeper ends sessions whose expiry passed while nobody touched them
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *zap.Logger
}

func NewSweeper(coordinator *Coordinator, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{coordinator: coordinator, interval: interval, logger: logger.Named("sweeper")}
}

func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep expires up to one batch of due sessions and returns how many it ended
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.coordinator.store.Redis().ZRangeByScore(ctx, store.ExpiryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.coordinator.now().UnixMilli(), 10),
		Count: sweepBatch,
	}).Result()
	if err != nil {
		return 0, store.Wrap(err)
	}

	ended := 0
	for _, id := range due {
		ok, err := s.coordinator.Expire(ctx, id)
		if err != nil {
			return ended, err
		}
		if ok {
			ended++
		}
	}
	if ended > 0 {
		s.logger.Debug("expired sessions", zap.Int("count", ended))
	}
	return ended, nil
}
