// Package baseline fits per-metric expected-value models: a least-squares
// linear trend plus additive seasonal components, with a residual
// dispersion estimate that anomaly thresholds and forecast intervals both
// derive from.
package baseline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

// ErrInsufficientHistory means fewer observations precede the fit date
// than the configured minimum. The metric is skipped, never fit to a
// degenerate model.
var ErrInsufficientHistory = errors.New("insufficient history")

// Options control the fit.
type Options struct {
	MinObservations int // Minimum points strictly before asOf (default 14)
	SeasonLen       int // Season length in days (default 7, weekly)
}

func (o Options) withDefaults() Options {
	if o.MinObservations <= 0 {
		o.MinObservations = 14
	}
	if o.SeasonLen < 2 {
		o.SeasonLen = 7
	}
	return o
}

// Model is a fitted expected-value model for one metric. Immutable once
// fit; recomputed each run.
type Model struct {
	MetricID  string
	Slope     float64   // Trend per day
	Intercept float64   // Trend value at Origin
	Seasonal  []float64 // Centered additive components, indexed by day offset mod SeasonLen
	SeasonLen int
	Sigma     float64   // Residual standard deviation
	N         int       // Observations used
	Origin    time.Time // Day of the first fitted observation
	Start     time.Time // Fit range, inclusive
	End       time.Time
	AsOf      time.Time // Fit cutoff (exclusive)
}

// Fit estimates a model from the observations strictly before asOf.
// Fitting twice on identical input yields identical parameters.
func Fit(series *timeseries.MetricSeries, asOf time.Time, opts Options) (*Model, error) {
	opts = opts.withDefaults()
	if err := series.Validate(); err != nil {
		return nil, err
	}

	points := series.Before(asOf)
	if len(points) < opts.MinObservations {
		return nil, fmt.Errorf("%w: metric %s has %d observations before %s, need %d",
			ErrInsufficientHistory, series.MetricID, len(points),
			timeseries.Day(asOf).Format("2006-01-02"), opts.MinObservations)
	}

	origin := timeseries.Day(points[0].Date)

	// Day offsets from origin; gaps in the series keep their true spacing.
	ts := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		ts[i] = dayOffset(origin, p.Date)
		ys[i] = p.Value
	}

	slope, intercept := leastSquares(ts, ys)

	// Seasonal components: mean detrended residual per season position.
	sums := make([]float64, opts.SeasonLen)
	counts := make([]int, opts.SeasonLen)
	for i := range points {
		idx := int(ts[i]) % opts.SeasonLen
		sums[idx] += ys[i] - (slope*ts[i] + intercept)
		counts[idx]++
	}
	seasonal := make([]float64, opts.SeasonLen)
	var seasonalMean float64
	occupied := 0
	for i := range seasonal {
		if counts[i] > 0 {
			seasonal[i] = sums[i] / float64(counts[i])
			seasonalMean += seasonal[i]
			occupied++
		}
	}
	// Center so the components carry no net offset (the trend owns the level).
	if occupied > 0 {
		seasonalMean /= float64(occupied)
		for i := range seasonal {
			if counts[i] > 0 {
				seasonal[i] -= seasonalMean
			}
		}
	}

	// Residual dispersion after removing trend and seasonality.
	var ss float64
	for i := range points {
		idx := int(ts[i]) % opts.SeasonLen
		r := ys[i] - (slope*ts[i] + intercept) - seasonal[idx]
		ss += r * r
	}
	sigma := 0.0
	if len(points) > 1 {
		sigma = math.Sqrt(ss / float64(len(points)-1))
	}

	return &Model{
		MetricID:  series.MetricID,
		Slope:     slope,
		Intercept: intercept,
		Seasonal:  seasonal,
		SeasonLen: opts.SeasonLen,
		Sigma:     sigma,
		N:         len(points),
		Origin:    origin,
		Start:     origin,
		End:       timeseries.Day(points[len(points)-1].Date),
		AsOf:      timeseries.Day(asOf),
	}, nil
}

// Expected returns the model's expected value for a day.
func (m *Model) Expected(date time.Time) float64 {
	t := dayOffset(m.Origin, date)
	idx := ((int(t) % m.SeasonLen) + m.SeasonLen) % m.SeasonLen
	return m.Slope*t + m.Intercept + m.Seasonal[idx]
}

// dayOffset returns whole days between origin and date.
func dayOffset(origin, date time.Time) float64 {
	return math.Round(timeseries.Day(date).Sub(origin).Hours() / 24)
}

// leastSquares fits y = slope*t + intercept. A degenerate time axis
// (all offsets equal) falls back to a flat line at the mean.
func leastSquares(ts, ys []float64) (slope, intercept float64) {
	n := float64(len(ts))
	var sumT, sumY float64
	for i := range ts {
		sumT += ts[i]
		sumY += ys[i]
	}
	meanT := sumT / n
	meanY := sumY / n

	var ssTY, ssTT float64
	for i := range ts {
		dt := ts[i] - meanT
		ssTY += dt * (ys[i] - meanY)
		ssTT += dt * dt
	}
	if ssTT == 0 {
		return 0, meanY
	}
	slope = ssTY / ssTT
	intercept = meanY - slope*meanT
	return slope, intercept
}
