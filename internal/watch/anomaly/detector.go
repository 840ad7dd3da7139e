// Package anomaly compares observations against a fitted baseline model
// and emits tiered anomaly records.
package anomaly

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/metricwatch/internal/watch/baseline"
	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

// Thresholds holds the tiered z-score policy.
type Thresholds struct {
	Warning  float64 // |score| >= Warning -> "warning" (default 2)
	Critical float64 // |score| >= Critical -> "critical" (default 3)
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Warning <= 0 {
		t.Warning = 2
	}
	if t.Critical <= t.Warning {
		t.Critical = t.Warning + 1
	}
	return t
}

// Detect scores one dated observation against the model. Returns nil when
// the observation is within bounds. A zero-dispersion model (constant
// history) treats any non-zero deviation as maximal severity rather than
// dividing by zero.
func Detect(model *baseline.Model, date time.Time, value float64, thresholds Thresholds) *timeseries.Anomaly {
	thresholds = thresholds.withDefaults()
	expected := model.Expected(date)
	deviation := value - expected

	var score float64
	switch {
	case model.Sigma > 0:
		score = deviation / model.Sigma
	case deviation == 0:
		return nil
	default:
		// Constant history: any deviation is infinitely surprising.
		score = math.Inf(1)
		if deviation < 0 {
			score = math.Inf(-1)
		}
	}

	abs := math.Abs(score)
	if abs < thresholds.Warning {
		return nil
	}
	severity := timeseries.SeverityWarning
	if abs >= thresholds.Critical {
		severity = timeseries.SeverityCritical
	}

	return &timeseries.Anomaly{
		ID:         uuid.NewString(),
		MetricID:   model.MetricID,
		Date:       timeseries.Day(date),
		Value:      value,
		Expected:   expected,
		Score:      score,
		Severity:   severity,
		Kind:       timeseries.KindZScore,
		DetectedAt: time.Now().UTC(),
	}
}

// Missing builds the anomaly raised when no datum exists for a day the
// pipeline evaluated. Missing data is always critical: the metric's
// upstream feed is broken.
func Missing(metricID string, date time.Time, expected float64) *timeseries.Anomaly {
	return &timeseries.Anomaly{
		ID:         uuid.NewString(),
		MetricID:   metricID,
		Date:       timeseries.Day(date),
		Expected:   expected,
		Severity:   timeseries.SeverityCritical,
		Kind:       timeseries.KindMissing,
		DetectedAt: time.Now().UTC(),
	}
}
