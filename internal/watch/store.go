package watch

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/HerbHall/metricwatch/internal/store"
	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

const dateLayout = "2006-01-02"

// WatchStore provides database access for the watch engine: the anomaly
// log, persisted forecasts awaiting evaluation, evaluation records, and
// run summaries.
type WatchStore struct {
	db *sql.DB
}

// NewWatchStore applies the watch schema and returns a store backed by
// the shared database.
func NewWatchStore(ctx context.Context, st *store.SQLiteStore) (*WatchStore, error) {
	if err := st.Migrate(ctx, "watch", migrations()); err != nil {
		return nil, fmt.Errorf("watch migrations: %w", err)
	}
	return &WatchStore{db: st.DB()}, nil
}

// -- Anomalies --

// InsertAnomaly appends to the historical anomaly log.
func (s *WatchStore) InsertAnomaly(ctx context.Context, a *timeseries.Anomaly) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_anomalies (
			id, metric_id, date, value, expected, score, severity, kind, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MetricID, a.Date.Format(dateLayout), a.Value, a.Expected,
		storableScore(a.Score), a.Severity, a.Kind, a.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// ListAnomalies returns anomalies, optionally filtered by metric.
// Pass empty metricID to list all. Ordered by date descending.
func (s *WatchStore) ListAnomalies(ctx context.Context, metricID string, limit int) ([]timeseries.Anomaly, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if metricID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, metric_id, date, value, expected, score, severity, kind, detected_at
			FROM watch_anomalies ORDER BY date DESC, metric_id LIMIT ?`,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, metric_id, date, value, expected, score, severity, kind, detected_at
			FROM watch_anomalies WHERE metric_id = ? ORDER BY date DESC LIMIT ?`,
			metricID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []timeseries.Anomaly
	for rows.Next() {
		var a timeseries.Anomaly
		var dateStr string
		if err := rows.Scan(
			&a.ID, &a.MetricID, &dateStr, &a.Value, &a.Expected,
			&a.Score, &a.Severity, &a.Kind, &a.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}
		if a.Date, err = time.ParseInLocation(dateLayout, dateStr, time.UTC); err != nil {
			return nil, fmt.Errorf("parse anomaly date %q: %w", dateStr, err)
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

// DeleteOldAnomalies deletes anomalies detected before the given time.
// Returns the number of rows deleted.
func (s *WatchStore) DeleteOldAnomalies(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM watch_anomalies WHERE detected_at < ?`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old anomalies: %w", err)
	}
	return result.RowsAffected()
}

// -- Forecasts --

// UpsertForecast records a projection for a (metric, date). A later run
// that covers the same date replaces the earlier projection.
func (s *WatchStore) UpsertForecast(ctx context.Context, f *timeseries.Forecast, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO watch_forecasts (
			metric_id, date, value, lower, upper, confidence, run_id, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.MetricID, f.Date.Format(dateLayout), f.Value, f.Lower, f.Upper,
		f.Confidence, runID, f.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert forecast: %w", err)
	}
	return nil
}

// ForecastsThrough returns stored forecasts for a metric with dates up to
// and including through, generated before the given instant. The cutoff
// keeps the current run from evaluating projections it just wrote.
func (s *WatchStore) ForecastsThrough(ctx context.Context, metricID string, through time.Time, generatedBefore time.Time) ([]timeseries.Forecast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT metric_id, date, value, lower, upper, confidence, generated_at
		FROM watch_forecasts
		WHERE metric_id = ? AND date <= ? AND generated_at < ?
		ORDER BY date`,
		metricID, timeseries.Day(through).Format(dateLayout), generatedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("forecasts through: %w", err)
	}
	defer rows.Close()

	var forecasts []timeseries.Forecast
	for rows.Next() {
		var f timeseries.Forecast
		var dateStr string
		if err := rows.Scan(
			&f.MetricID, &dateStr, &f.Value, &f.Lower, &f.Upper,
			&f.Confidence, &f.GeneratedAt,
		); err != nil {
			return nil, fmt.Errorf("scan forecast row: %w", err)
		}
		if f.Date, err = time.ParseInLocation(dateLayout, dateStr, time.UTC); err != nil {
			return nil, fmt.Errorf("parse forecast date %q: %w", dateStr, err)
		}
		forecasts = append(forecasts, f)
	}
	return forecasts, rows.Err()
}

// -- Evaluations --

// UpsertEvaluation records a realized forecast's accuracy.
func (s *WatchStore) UpsertEvaluation(ctx context.Context, e *timeseries.EvaluationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO watch_evaluations (
			metric_id, date, forecast, actual, abs_error, pct_error, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.MetricID, e.Date.Format(dateLayout), e.Forecast, e.Actual,
		e.AbsError, e.PctError, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert evaluation: %w", err)
	}
	return nil
}

// ListEvaluations returns evaluation records, optionally filtered by
// metric. Pass empty metricID to list all. Newest first.
func (s *WatchStore) ListEvaluations(ctx context.Context, metricID string, limit int) ([]timeseries.EvaluationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if metricID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT metric_id, date, forecast, actual, abs_error, pct_error
			FROM watch_evaluations ORDER BY date DESC, metric_id LIMIT ?`,
			limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT metric_id, date, forecast, actual, abs_error, pct_error
			FROM watch_evaluations WHERE metric_id = ? ORDER BY date DESC LIMIT ?`,
			metricID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var records []timeseries.EvaluationRecord
	for rows.Next() {
		var e timeseries.EvaluationRecord
		var dateStr string
		if err := rows.Scan(
			&e.MetricID, &dateStr, &e.Forecast, &e.Actual, &e.AbsError, &e.PctError,
		); err != nil {
			return nil, fmt.Errorf("scan evaluation row: %w", err)
		}
		if e.Date, err = time.ParseInLocation(dateLayout, dateStr, time.UTC); err != nil {
			return nil, fmt.Errorf("parse evaluation date %q: %w", dateStr, err)
		}
		records = append(records, e)
	}
	return records, rows.Err()
}

// -- Runs --

// InsertRun records a run summary.
func (s *WatchStore) InsertRun(ctx context.Context, r *timeseries.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_runs (
			run_id, as_of, processed, skipped, failed,
			anomalies, forecasts, evaluations, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.AsOf.Format(dateLayout), r.Processed, len(r.Skipped), len(r.Failed),
		r.Anomalies, r.Forecasts, r.Evaluations, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// storableScore caps IEEE infinities, which SQLite cannot round-trip.
// Zero-dispersion anomalies carry an infinite score in memory.
func storableScore(score float64) float64 {
	if math.IsInf(score, 1) {
		return math.MaxFloat64
	}
	if math.IsInf(score, -1) {
		return -math.MaxFloat64
	}
	return score
}
