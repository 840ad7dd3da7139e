// Package source defines the boundary to the external time-series store
// that supplies metric history, plus the retry and rate-limit policy
// applied at that boundary.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

// Errors returned by Source implementations. Both are metric-scoped and
// recoverable: the orchestrator records them as per-metric failures and
// continues the run.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceEmpty       = errors.New("source returned no observations")
)

// Source supplies ordered historical observations for a metric.
// Implementations must return series that satisfy MetricSeries.Validate.
type Source interface {
	Fetch(ctx context.Context, metricID string, start, end time.Time) (*timeseries.MetricSeries, error)
}
