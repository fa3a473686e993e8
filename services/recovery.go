package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"postvolve/logger"
)

// RecoverStuck puts posts that have sat in publishing longer than StuckAfter
// back to scheduled. A process that died mid-run leaves posts there.
func (p *Publisher) RecoverStuck(ctx context.Context) (int64, error) {
	if p.cfg.StuckAfter <= 0 {
		return 0, nil
	}
	n, err := p.store.RecoverStuckPosts(ctx, p.now().Add(-p.cfg.StuckAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Warn("recovered stuck posts", zap.Int64("count", n), zap.Duration("stuck_after", p.cfg.StuckAfter))
	}
	return n, nil
}

// RunEvery calls fn every interval until ctx is done. A panic in fn is logged
// and the loop carries on.
func RunEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("ticker panic", zap.String("job", name), zap.Any("panic", r))
					}
				}()
				if err := fn(ctx); err != nil {
					logger.Error("ticker run failed", zap.String("job", name), zap.Error(err))
				}
			}()
		}
	}
}
