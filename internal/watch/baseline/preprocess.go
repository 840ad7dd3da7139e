package baseline

import (
	"math"

	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

const imputeWindow = 7

// Clean prepares model history for fitting: values beyond three standard
// deviations of the series mean are treated as gaps, and gaps are filled
// with a trailing moving average. The evaluation-day observation is never
// cleaned -- outlier suppression there would mask the very deviations the
// detector exists to flag. Returns a copy; the input is not modified.
func Clean(points []timeseries.Point) []timeseries.Point {
	if len(points) == 0 {
		return nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}

	mean, std := meanStd(values)
	lower, upper := mean-3*std, mean+3*std

	// Mark outliers as gaps.
	missing := make([]bool, len(values))
	if std > 0 {
		for i, v := range values {
			if v < lower || v > upper {
				missing[i] = true
			}
		}
	}

	// Fill gaps with the mean of up to imputeWindow surrounding retained values.
	out := make([]timeseries.Point, len(points))
	for i, p := range points {
		out[i] = p
		if !missing[i] {
			continue
		}
		sum, n := 0.0, 0
		for j := i - imputeWindow + 1; j <= i; j++ {
			if j < 0 || missing[j] {
				continue
			}
			sum += values[j]
			n++
		}
		if n > 0 {
			out[i].Value = sum / float64(n)
		} else {
			out[i].Value = 0
		}
	}
	return out
}

func meanStd(values []float64) (mean, std float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= n

	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	// Population deviation, matching the outlier screen's intent.
	std = math.Sqrt(ss / n)
	return mean, std
}
