// Package watch orchestrates the per-metric anomaly-detection and
// forecasting pipeline: fetch history, fit a baseline, detect deviations,
// project the rest of the month, and score past projections.
package watch

import "time"

// Config holds the engine's tunables. Threshold and confidence defaults
// are policy, not reproduction of any upstream constant, and are expected
// to be overridden per deployment.
type Config struct {
	MinObservations  int           `mapstructure:"min_observations"`
	HistoryDays      int           `mapstructure:"history_days"`
	SeasonLen        int           `mapstructure:"season_len"`
	WarningScore     float64       `mapstructure:"warning_score"`
	CriticalScore    float64       `mapstructure:"critical_score"`
	Confidence       float64       `mapstructure:"confidence"`
	NonNegative      bool          `mapstructure:"non_negative"`
	Workers          int           `mapstructure:"workers"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	AnomalyRetention time.Duration `mapstructure:"anomaly_retention"`
}

// DefaultConfig returns sensible defaults for daily business metrics.
func DefaultConfig() Config {
	return Config{
		MinObservations:  14,
		HistoryDays:      365,
		SeasonLen:        7,
		WarningScore:     2.0,
		CriticalScore:    3.0,
		Confidence:       0.95,
		NonNegative:      true,
		Workers:          4,
		FetchTimeout:     30 * time.Second,
		AnomalyRetention: 90 * 24 * time.Hour,
	}
}
