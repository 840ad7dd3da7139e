// Package forecast projects a fitted baseline model over the remainder of
// the current month, with confidence bounds that widen over the horizon.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/HerbHall/metricwatch/internal/watch/baseline"
	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

// Errors surfaced to the caller; both indicate a programming or
// configuration fault, not a data condition.
var (
	ErrEmptyHorizon     = errors.New("empty forecast horizon")
	ErrModelUnavailable = errors.New("model unavailable")
)

// Options control bound construction.
type Options struct {
	Confidence  float64 // Two-sided confidence level (default 0.95)
	NonNegative bool    // Clamp projections at zero (business metrics)
}

func (o Options) withDefaults() Options {
	if o.Confidence <= 0 || o.Confidence >= 1 {
		o.Confidence = 0.95
	}
	return o
}

// Horizon returns the ordered days from asOf through the last day of the
// month containing asOf, inclusive.
func Horizon(asOf time.Time) []time.Time {
	day := timeseries.Day(asOf)
	last := lastOfMonth(day)
	var dates []time.Time
	for d := day; !d.After(last); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// Project produces one Forecast per date. Bound half-widths grow with
// sqrt of the distance from asOf, so widths are non-decreasing over the
// horizon regardless of the trend direction. NonNegative clamps value and
// bounds at zero after the widths are computed; on a trend falling through
// zero the clamped widths can therefore shrink again, collapsing to a
// point once the whole interval sits below the floor.
func Project(model *baseline.Model, asOf time.Time, dates []time.Time, opts Options) ([]timeseries.Forecast, error) {
	if model == nil {
		return nil, ErrModelUnavailable
	}
	if len(dates) == 0 {
		return nil, ErrEmptyHorizon
	}
	opts = opts.withDefaults()

	day := timeseries.Day(asOf)
	z := zQuantile(opts.Confidence)
	now := time.Now().UTC()

	out := make([]timeseries.Forecast, 0, len(dates))
	for _, d := range dates {
		d = timeseries.Day(d)
		if d.Before(day) {
			return nil, fmt.Errorf("forecast date %s precedes run date %s",
				d.Format("2006-01-02"), day.Format("2006-01-02"))
		}
		steps := d.Sub(day).Hours() / 24
		half := z * model.Sigma * math.Sqrt(steps+1)

		value := model.Expected(d)
		lower, upper := value-half, value+half
		if opts.NonNegative {
			value = math.Max(0, value)
			lower = math.Max(0, lower)
			upper = math.Max(0, upper)
		}

		out = append(out, timeseries.Forecast{
			MetricID:    model.MetricID,
			Date:        d,
			Value:       value,
			Lower:       lower,
			Upper:       upper,
			Confidence:  opts.Confidence,
			GeneratedAt: now,
		})
	}
	return out, nil
}

// lastOfMonth returns the final day of the month containing day.
func lastOfMonth(day time.Time) time.Time {
	firstNext := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstNext.AddDate(0, 0, -1)
}

// zQuantile returns the standard normal quantile for a two-sided
// confidence level, e.g. 0.95 -> 1.96.
func zQuantile(confidence float64) float64 {
	return math.Sqrt2 * math.Erfinv(confidence)
}
