// internal/matching/worker.go

package matching

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

// MatchHandler turns a committed pair into a connection
type MatchHandler interface {
	OnMatch(ctx context.Context, a, b string) error
}

type WorkerConfig struct {
	RadiusKm    float64
	Candidates  int
	MissBackoff time.Duration
}

// Worker pops queued users one at a time and tries to pair them
type Worker struct {
	queue   *Queue
	handler MatchHandler
	cfg     WorkerConfig
	logger  *zap.Logger
}

func NewWorker(queue *Queue, handler MatchHandler, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.Candidates < 1 {
		cfg.Candidates = 10
	}
	return &Worker{queue: queue, handler: handler, cfg: cfg, logger: logger.Named("matcher")}
}

func (w *Worker) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run loops until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	for {
		userID, err := w.queue.PopNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue pop failed", zap.Error(err))
			if !w.sleep(ctx) {
				return
			}
			continue
		}

		backoff, err := w.process(ctx, userID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("match attempt failed", zap.String("user_id", userID), zap.Error(err))
		}
		if backoff && !w.sleep(ctx) {
			return
		}
	}
}

// process tries to match one popped user. It reports whether the loop
// should back off before the next pop.
func (w *Worker) process(ctx context.Context, userID string) (bool, error) {
	status, err := w.queue.profiles.Status(ctx, userID)
	if err != nil {
		return true, err
	}
	if status != profile.StatusQueued {
		// left or got matched while waiting
		return false, nil
	}

	candidates, err := w.queue.FindCandidates(ctx, userID, w.cfg.RadiusKm, w.cfg.Candidates)
	if errors.Is(err, ErrProfileIncomplete) {
		w.logger.Info("dropping incomplete profile from queue", zap.String("user_id", userID))
		return false, w.queue.Leave(ctx, userID, profile.StatusIdle)
	}
	if err != nil {
		_, rerr := w.queue.RequeueIfQueued(ctx, userID)
		return true, errors.Join(err, rerr)
	}

	for _, c := range candidates {
		ok, err := w.queue.CommitMatch(ctx, userID, c.UserID)
		if err != nil {
			_, rerr := w.queue.RequeueIfQueued(ctx, userID)
			return true, errors.Join(err, rerr)
		}
		if !ok {
			w.logger.Debug("race lost", zap.String("user_id", userID), zap.String("candidate_id", c.UserID))
			continue
		}

		if err := w.handler.OnMatch(ctx, userID, c.UserID); err != nil {
			if rerr := w.queue.Rollback(ctx, userID, c.UserID); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return true, err
		}

		RecordMatch()
		w.logger.Info("match committed",
			zap.String("user_id", userID),
			zap.String("partner_id", c.UserID),
			zap.Float64("score", c.Score),
			zap.Float64("distance_km", c.DistanceKm),
		)
		return false, nil
	}

	_, err = w.queue.RequeueIfQueued(ctx, userID)
	return true, err
}

func (w *Worker) sleep(ctx context.Context) bool {
	if w.cfg.MissBackoff <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(w.cfg.MissBackoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
