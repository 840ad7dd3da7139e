package source

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

// LimitedSource enforces a request budget against the external store.
// Concurrent metric pipelines share one limiter, so worker parallelism
// never translates into an unbounded request rate.
type LimitedSource struct {
	inner   Source
	limiter *rate.Limiter
}

// NewLimitedSource wraps inner with a token-bucket limiter of rps requests
// per second and the given burst.
func NewLimitedSource(inner Source, rps float64, burst int) *LimitedSource {
	if rps <= 0 {
		rps = 5
	}
	if burst < 1 {
		burst = 1
	}
	return &LimitedSource{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *LimitedSource) Fetch(ctx context.Context, metricID string, start, end time.Time) (*timeseries.MetricSeries, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("source rate limiter: %w", err)
	}
	return l.inner.Fetch(ctx, metricID, start, end)
}
