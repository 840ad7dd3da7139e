// Package evaluate scores previously generated forecasts against realized
// actuals.
package evaluate

import (
	"math"

	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

// Evaluate joins forecasts with actuals on (metric, date) and computes the
// error for each realized pair. Forecast dates with no actual yet are
// silently skipped -- unrealized forecasts are the steady state, not an
// error. PctError uses absolute percentage error, falling back to the
// absolute error when the actual is zero so the result is always finite.
func Evaluate(forecasts []timeseries.Forecast, actuals *timeseries.MetricSeries) []timeseries.EvaluationRecord {
	if actuals == nil {
		return nil
	}

	var records []timeseries.EvaluationRecord
	for _, f := range forecasts {
		if f.MetricID != actuals.MetricID {
			continue
		}
		actual, ok := actuals.At(f.Date)
		if !ok {
			continue
		}

		absErr := math.Abs(f.Value - actual)
		pctErr := absErr
		if actual != 0 {
			pctErr = absErr / math.Abs(actual)
		}

		records = append(records, timeseries.EvaluationRecord{
			MetricID: f.MetricID,
			Date:     timeseries.Day(f.Date),
			Forecast: f.Value,
			Actual:   actual,
			AbsError: absErr,
			PctError: pctErr,
		})
	}
	return records
}
