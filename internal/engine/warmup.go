package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
)

// Pinger: хранилище, которое умеет сказать, что оно доступно.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Reconciler восстанавливает живые правила по сохраненным записям.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// WaitForBackend ждет хранилище с экспоненциальным бэкоффом, пока не истечет ctx.
func WaitForBackend(ctx context.Context, backend Pinger, attempts uint, logger *zap.Logger) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			logger.Warn("storage backend not ready", zap.Uint("attempt", n+1), zap.Error(err))
			return retry.BackOffDelay(n, err, config)
		}),
	)
	if err := r.Do(func() error { return backend.Ping(ctx) }); err != nil {
		return fmt.Errorf("storage backend unavailable: %w", err)
	}
	return nil
}

// Warmup: барьер старта: до его завершения релей не принимает трафик.
func Warmup(ctx context.Context, backend Pinger, attempts uint, reconciler Reconciler, logger *zap.Logger) error {
	if err := WaitForBackend(ctx, backend, attempts, logger); err != nil {
		return err
	}

	start := time.Now()
	if err := reconciler.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile rules: %w", err)
	}
	logger.Info("rules reconciled, accepting traffic", zap.Duration("took", time.Since(start)))
	return nil
}
