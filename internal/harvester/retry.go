package harvester

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WithRetryPolicy overrides how often transient chain reads are retried
// and the initial pause between attempts. It returns the harvester for
// call chaining at construction.
func (h *Harvester) WithRetryPolicy(maxRetries int, backoff time.Duration) *Harvester {
	if maxRetries >= 0 {
		h.maxRetries = maxRetries
	}
	if backoff > 0 {
		h.retryBackoff = backoff
	}
	return h
}

// withRetry runs fn up to maxRetries+1 times, doubling the pause after
// each failure. Waits are cut short when ctx is cancelled.
func (h *Harvester) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := h.retryBackoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			h.logger.Debug("retrying chain read",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
