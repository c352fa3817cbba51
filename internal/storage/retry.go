package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/tachyon-beep/storyteller/internal/logging"
)

// retryPolicy retries transient failures with base × 2^attempt backoff.
type retryPolicy struct {
	attempts int
	base     time.Duration
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p retryPolicy) do(ctx context.Context, op string, fn func() error) error {
	attempts := max(p.attempts, 1)
	var err error
	for attempt := range attempts {
		if err = fn(); err == nil || !retryable(err) || attempt == attempts-1 {
			return err
		}
		delay := p.base * time.Duration(1<<attempt)
		if p.logger != nil {
			p.logger.Debug("retrying storage operation",
				logging.String("op", op),
				logging.Int(logging.FieldAttempt, attempt+1),
				logging.Duration("delay", delay),
				logging.Error(err),
			)
		}
		sleep := p.sleep
		if sleep == nil {
			sleep = sleepContext
		}
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}
