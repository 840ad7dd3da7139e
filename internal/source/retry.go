package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

// RetryingSource wraps a Source with bounded exponential backoff.
// ErrSourceEmpty and context cancellation are permanent; everything else
// is retried until MaxElapsed is exhausted, after which the last error is
// reported wrapped in ErrSourceUnavailable.
type RetryingSource struct {
	inner      Source
	maxElapsed time.Duration
}

// NewRetryingSource wraps inner with a retry budget. maxElapsed <= 0
// defaults to two minutes.
func NewRetryingSource(inner Source, maxElapsed time.Duration) *RetryingSource {
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	return &RetryingSource{inner: inner, maxElapsed: maxElapsed}
}

func (r *RetryingSource) Fetch(ctx context.Context, metricID string, start, end time.Time) (*timeseries.MetricSeries, error) {
	var series *timeseries.MetricSeries

	operation := func() error {
		s, err := r.inner.Fetch(ctx, metricID, start, end)
		if err != nil {
			if errors.Is(err, ErrSourceEmpty) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		series = s
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, ErrSourceEmpty) || errors.Is(err, ErrSourceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return series, nil
}
