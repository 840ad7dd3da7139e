package watch

import (
	"database/sql"

	"github.com/HerbHall/metricwatch/internal/store"
)

// migrations returns the watch module's database schema.
func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create watch tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS watch_anomalies (
						id          TEXT PRIMARY KEY,
						metric_id   TEXT NOT NULL,
						date        TEXT NOT NULL,
						value       REAL NOT NULL DEFAULT 0,
						expected    REAL NOT NULL DEFAULT 0,
						score       REAL NOT NULL DEFAULT 0,
						severity    TEXT NOT NULL DEFAULT 'warning',
						kind        TEXT NOT NULL DEFAULT 'zscore',
						detected_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_watch_anomalies_metric ON watch_anomalies(metric_id, date)`,
					`CREATE INDEX IF NOT EXISTS idx_watch_anomalies_detected ON watch_anomalies(detected_at)`,

					`CREATE TABLE IF NOT EXISTS watch_forecasts (
						metric_id    TEXT NOT NULL,
						date         TEXT NOT NULL,
						value        REAL NOT NULL DEFAULT 0,
						lower        REAL NOT NULL DEFAULT 0,
						upper        REAL NOT NULL DEFAULT 0,
						confidence   REAL NOT NULL DEFAULT 0,
						run_id       TEXT NOT NULL DEFAULT '',
						generated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (metric_id, date)
					)`,

					`CREATE TABLE IF NOT EXISTS watch_evaluations (
						metric_id    TEXT NOT NULL,
						date         TEXT NOT NULL,
						forecast     REAL NOT NULL DEFAULT 0,
						actual       REAL NOT NULL DEFAULT 0,
						abs_error    REAL NOT NULL DEFAULT 0,
						pct_error    REAL NOT NULL DEFAULT 0,
						evaluated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (metric_id, date)
					)`,

					`CREATE TABLE IF NOT EXISTS watch_runs (
						run_id      TEXT PRIMARY KEY,
						as_of       TEXT NOT NULL,
						processed   INTEGER NOT NULL DEFAULT 0,
						skipped     INTEGER NOT NULL DEFAULT 0,
						failed      INTEGER NOT NULL DEFAULT 0,
						anomalies   INTEGER NOT NULL DEFAULT 0,
						forecasts   INTEGER NOT NULL DEFAULT 0,
						evaluations INTEGER NOT NULL DEFAULT 0,
						started_at  DATETIME NOT NULL,
						finished_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_watch_runs_as_of ON watch_runs(as_of)`,
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
