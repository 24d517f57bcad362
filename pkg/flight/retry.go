package flight

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a failed search is retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type retryingSearcher struct {
	next   Searcher
	policy RetryPolicy
	log    *slog.Logger
}

// WithRetry wraps s with exponential backoff. Client errors other than 429
// fail immediately.
func WithRetry(s Searcher, p RetryPolicy, log *slog.Logger) Searcher {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &retryingSearcher{next: s, policy: p, log: log}
}

func (r *retryingSearcher) Search(ctx context.Context, req SearchRequest) ([]Offer, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1)), ctx)

	var offers []Offer
	op := func() error {
		res, err := r.next.Search(ctx, req)
		if err != nil {
			if !retryable(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		offers = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn("flight search failed, retrying",
			"origin", req.Origin, "destination", req.Destination, "date", req.Date,
			"wait", wait, "err", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return offers, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return true
}
