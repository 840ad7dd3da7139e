package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HerbHall/metricwatch/internal/store"
	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

const dateLayout = "2006-01-02"

// MirrorSource serves metric history from a local SQLite mirror table.
// An external ingestion job keeps the mirror in sync with the upstream
// warehouse; the engine itself never talks to the warehouse directly.
type MirrorSource struct {
	db *sql.DB
}

// NewMirrorSource creates a MirrorSource backed by the given database.
func NewMirrorSource(db *sql.DB) *MirrorSource {
	return &MirrorSource{db: db}
}

// Migrations returns the mirror table schema.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create source observations mirror",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS source_observations (
						metric_id TEXT NOT NULL,
						date      TEXT NOT NULL,
						value     REAL NOT NULL,
						PRIMARY KEY (metric_id, date)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_source_observations_date ON source_observations(date)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

// Fetch returns the ordered observations for a metric between start and end
// inclusive. Returns ErrSourceEmpty when the mirror holds no rows in range.
func (m *MirrorSource) Fetch(ctx context.Context, metricID string, start, end time.Time) (*timeseries.MetricSeries, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT date, value FROM source_observations
		WHERE metric_id = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		metricID, timeseries.Day(start).Format(dateLayout), timeseries.Day(end).Format(dateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query observations: %v", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	series := &timeseries.MetricSeries{MetricID: metricID}
	for rows.Next() {
		var dateStr string
		var value float64
		if err := rows.Scan(&dateStr, &value); err != nil {
			return nil, fmt.Errorf("%w: scan observation: %v", ErrSourceUnavailable, err)
		}
		date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: parse date %q: %v", ErrSourceUnavailable, dateStr, err)
		}
		series.Points = append(series.Points, timeseries.Point{Date: date, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if len(series.Points) == 0 {
		return nil, fmt.Errorf("%w: metric %s has no observations in range", ErrSourceEmpty, metricID)
	}
	return series, nil
}

// Record upserts one observation into the mirror. Used by the ingestion
// glue and by tests to seed history.
func (m *MirrorSource) Record(ctx context.Context, metricID string, date time.Time, value float64) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO source_observations (metric_id, date, value)
		VALUES (?, ?, ?)`,
		metricID, timeseries.Day(date).Format(dateLayout), value,
	)
	if err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return nil
}
