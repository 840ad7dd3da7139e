// Package timeseries provides the public data types shared across the
// MetricWatch analytics pipeline.
package timeseries

import (
	"fmt"
	"time"
)

// Severity levels for detected anomalies.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Anomaly kinds. "zscore" is a statistical deviation from the baseline,
// "missing" means no datum was observed for the evaluated day.
const (
	KindZScore  = "zscore"
	KindMissing = "missing"
)

// Point is a single dated observation of a metric.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// MetricSeries is the ordered daily history of one metric.
type MetricSeries struct {
	MetricID string  `json:"metric_id"`
	Points   []Point `json:"points"`
}

// Day truncates t to its calendar day in UTC. All pipeline dates are
// normalized through this before comparison.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Validate checks the series invariant: strictly increasing, unique dates.
func (s *MetricSeries) Validate() error {
	for i := 1; i < len(s.Points); i++ {
		prev, cur := Day(s.Points[i-1].Date), Day(s.Points[i].Date)
		if !cur.After(prev) {
			return fmt.Errorf("series %s: point %d (%s) not after %s",
				s.MetricID, i, cur.Format("2006-01-02"), prev.Format("2006-01-02"))
		}
	}
	return nil
}

// Before returns the points dated strictly before cutoff, in order.
func (s *MetricSeries) Before(cutoff time.Time) []Point {
	cutoff = Day(cutoff)
	out := make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		if Day(p.Date).Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// At returns the value observed on the given day, if any.
func (s *MetricSeries) At(date time.Time) (float64, bool) {
	date = Day(date)
	for _, p := range s.Points {
		if Day(p.Date).Equal(date) {
			return p.Value, true
		}
	}
	return 0, false
}

// Anomaly is a dated observation whose deviation from the baseline model
// exceeded a severity threshold.
type Anomaly struct {
	ID         string    `json:"id"`
	MetricID   string    `json:"metric_id"`
	Date       time.Time `json:"date"`
	Value      float64   `json:"value"`
	Expected   float64   `json:"expected"`
	Score      float64   `json:"score"` // Standardized deviation (sigma units)
	Severity   string    `json:"severity"`
	Kind       string    `json:"kind"`
	DetectedAt time.Time `json:"detected_at"`
}

// Forecast is a point projection with confidence bounds for a future day
// within the month of the run date.
type Forecast struct {
	MetricID    string    `json:"metric_id"`
	Date        time.Time `json:"date"`
	Value       float64   `json:"value"`
	Lower       float64   `json:"lower"`
	Upper       float64   `json:"upper"`
	Confidence  float64   `json:"confidence"` // 0-1
	GeneratedAt time.Time `json:"generated_at"`
}

// EvaluationRecord scores one realized forecast against its actual value.
// PctError falls back to the absolute error when the actual is zero, so it
// is always finite.
type EvaluationRecord struct {
	MetricID string    `json:"metric_id"`
	Date     time.Time `json:"date"`
	Forecast float64   `json:"forecast"`
	Actual   float64   `json:"actual"`
	AbsError float64   `json:"abs_error"`
	PctError float64   `json:"pct_error"`
}

// MetricFailure records a per-metric pipeline failure. One metric failing
// never aborts the run.
type MetricFailure struct {
	MetricID string `json:"metric_id"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}

// RunSummary is the exit/status contract of one orchestrated run.
type RunSummary struct {
	RunID       string          `json:"run_id"`
	AsOf        time.Time       `json:"as_of"`
	Processed   int             `json:"processed"`
	Skipped     []MetricFailure `json:"skipped,omitempty"`
	Failed      []MetricFailure `json:"failed,omitempty"`
	Anomalies   int             `json:"anomalies"`
	Forecasts   int             `json:"forecasts"`
	Evaluations int             `json:"evaluations"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}
