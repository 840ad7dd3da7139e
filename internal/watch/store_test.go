package watch

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/metricwatch/internal/store"
	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

func tempWatchStore(t *testing.T) *WatchStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ws, err := NewWatchStore(context.Background(), s)
	if err != nil {
		t.Fatalf("NewWatchStore: %v", err)
	}
	return ws
}

func testAnomaly(id, metricID string, date time.Time) *timeseries.Anomaly {
	return &timeseries.Anomaly{
		ID:         id,
		MetricID:   metricID,
		Date:       date,
		Value:      130,
		Expected:   100,
		Score:      3,
		Severity:   timeseries.SeverityCritical,
		Kind:       timeseries.KindZScore,
		DetectedAt: time.Now().UTC(),
	}
}

func TestWatchStore_InsertListAnomalies(t *testing.T) {
	ws := tempWatchStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := ws.InsertAnomaly(ctx, testAnomaly(
			string(rune('a'+i)), "sessions", base.AddDate(0, 0, i))); err != nil {
			t.Fatalf("InsertAnomaly: %v", err)
		}
	}
	if err := ws.InsertAnomaly(ctx, testAnomaly("x", "revenue", base)); err != nil {
		t.Fatalf("InsertAnomaly: %v", err)
	}

	got, err := ws.ListAnomalies(ctx, "sessions", 10)
	if err != nil {
		t.Fatalf("ListAnomalies: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListAnomalies() returned %d, want 3", len(got))
	}
	// Newest first.
	if !got[0].Date.Equal(base.AddDate(0, 0, 2)) {
		t.Errorf("ListAnomalies() first date = %v, want newest", got[0].Date)
	}

	all, err := ws.ListAnomalies(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListAnomalies(all): %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListAnomalies(all) returned %d, want 4", len(all))
	}
}

func TestWatchStore_InfiniteScoreRoundTrips(t *testing.T) {
	ws := tempWatchStore(t)
	ctx := context.Background()

	a := testAnomaly("inf", "m", time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC))
	a.Score = math.Inf(1)
	if err := ws.InsertAnomaly(ctx, a); err != nil {
		t.Fatalf("InsertAnomaly(+Inf score): %v", err)
	}

	got, err := ws.ListAnomalies(ctx, "m", 1)
	if err != nil {
		t.Fatalf("ListAnomalies: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListAnomalies() returned %d, want 1", len(got))
	}
	if got[0].Score != math.MaxFloat64 {
		t.Errorf("stored score = %v, want MaxFloat64 cap", got[0].Score)
	}
}

func TestWatchStore_DeleteOldAnomalies(t *testing.T) {
	ws := tempWatchStore(t)
	ctx := context.Background()

	old := testAnomaly("old", "m", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	old.DetectedAt = time.Now().UTC().Add(-120 * 24 * time.Hour)
	fresh := testAnomaly("fresh", "m", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	for _, a := range []*timeseries.Anomaly{old, fresh} {
		if err := ws.InsertAnomaly(ctx, a); err != nil {
			t.Fatalf("InsertAnomaly: %v", err)
		}
	}

	n, err := ws.DeleteOldAnomalies(ctx, time.Now().UTC().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOldAnomalies: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteOldAnomalies() = %d, want 1", n)
	}

	got, err := ws.ListAnomalies(ctx, "m", 10)
	if err != nil {
		t.Fatalf("ListAnomalies: %v", err)
	}
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Errorf("remaining anomalies = %+v, want only the fresh one", got)
	}
}

func TestWatchStore_ForecastsThroughCutoffs(t *testing.T) {
	ws := tempWatchStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	yesterday := time.Now().UTC().Add(-24 * time.Hour)

	seed := func(d int, generatedAt time.Time) {
		t.Helper()
		f := &timeseries.Forecast{
			MetricID:    "m",
			Date:        base.AddDate(0, 0, d),
			Value:       100,
			Lower:       90,
			Upper:       110,
			Confidence:  0.95,
			GeneratedAt: generatedAt,
		}
		if err := ws.UpsertForecast(ctx, f, "run-1"); err != nil {
			t.Fatalf("UpsertForecast: %v", err)
		}
	}
	seed(0, yesterday)
	seed(1, yesterday)
	seed(5, yesterday)                       // Date beyond the through cutoff.
	seed(2, time.Now().UTC().Add(time.Hour)) // Generated after the run started.

	got, err := ws.ForecastsThrough(ctx, "m", base.AddDate(0, 0, 2), time.Now().UTC())
	if err != nil {
		t.Fatalf("ForecastsThrough: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ForecastsThrough() returned %d, want 2", len(got))
	}
	if !got[0].Date.Equal(base) || !got[1].Date.Equal(base.AddDate(0, 0, 1)) {
		t.Errorf("ForecastsThrough() dates = %v, %v, want day 0 and day 1", got[0].Date, got[1].Date)
	}
}

func TestWatchStore_UpsertForecastReplaces(t *testing.T) {
	ws := tempWatchStore(t)
	ctx := context.Background()
	date := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	gen := time.Now().UTC().Add(-time.Hour)

	f := &timeseries.Forecast{MetricID: "m", Date: date, Value: 100, GeneratedAt: gen}
	if err := ws.UpsertForecast(ctx, f, "run-1"); err != nil {
		t.Fatalf("UpsertForecast: %v", err)
	}
	f.Value = 120
	if err := ws.UpsertForecast(ctx, f, "run-2"); err != nil {
		t.Fatalf("UpsertForecast replace: %v", err)
	}

	got, err := ws.ForecastsThrough(ctx, "m", date, time.Now().UTC())
	if err != nil {
		t.Fatalf("ForecastsThrough: %v", err)
	}
	if len(got) != 1 || got[0].Value != 120 {
		t.Errorf("ForecastsThrough() = %+v, want one forecast with value 120", got)
	}
}

func TestWatchStore_EvaluationsRoundTrip(t *testing.T) {
	ws := tempWatchStore(t)
	ctx := context.Background()

	rec := &timeseries.EvaluationRecord{
		MetricID: "m",
		Date:     time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		Forecast: 110,
		Actual:   100,
		AbsError: 10,
		PctError: 0.1,
	}
	if err := ws.UpsertEvaluation(ctx, rec); err != nil {
		t.Fatalf("UpsertEvaluation: %v", err)
	}
	// Re-evaluating the same (metric, date) replaces, not duplicates.
	if err := ws.UpsertEvaluation(ctx, rec); err != nil {
		t.Fatalf("UpsertEvaluation repeat: %v", err)
	}

	got, err := ws.ListEvaluations(ctx, "m", 10)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListEvaluations() returned %d, want 1", len(got))
	}
	if got[0].AbsError != 10 || got[0].PctError != 0.1 {
		t.Errorf("ListEvaluations() = %+v, want the stored errors", got[0])
	}
}

func TestWatchStore_ListEvaluationsAllMetrics(t *testing.T) {
	ws := tempWatchStore(t)
	ctx := context.Background()

	for _, rec := range []*timeseries.EvaluationRecord{
		{MetricID: "sessions", Date: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), Forecast: 110, Actual: 100, AbsError: 10, PctError: 0.1},
		{MetricID: "revenue", Date: time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC), Forecast: 55, Actual: 50, AbsError: 5, PctError: 0.1},
	} {
		if err := ws.UpsertEvaluation(ctx, rec); err != nil {
			t.Fatalf("UpsertEvaluation(%s): %v", rec.MetricID, err)
		}
	}

	got, err := ws.ListEvaluations(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListEvaluations(\"\") returned %d, want 2", len(got))
	}
	// Newest date first regardless of metric.
	if got[0].MetricID != "revenue" || got[1].MetricID != "sessions" {
		t.Errorf("ListEvaluations(\"\") order = [%s %s], want [revenue sessions]", got[0].MetricID, got[1].MetricID)
	}

	only, err := ws.ListEvaluations(ctx, "sessions", 10)
	if err != nil {
		t.Fatalf("ListEvaluations(sessions): %v", err)
	}
	if len(only) != 1 || only[0].MetricID != "sessions" {
		t.Errorf("ListEvaluations(sessions) = %+v, want only the sessions record", only)
	}
}

func TestWatchStore_InsertRun(t *testing.T) {
	ws := tempWatchStore(t)
	ctx := context.Background()

	summary := &timeseries.RunSummary{
		RunID:      "run-123",
		AsOf:       time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
		Processed:  3,
		Skipped:    []timeseries.MetricFailure{{MetricID: "new", Stage: StageFitting}},
		Anomalies:  2,
		StartedAt:  time.Now().UTC().Add(-time.Minute),
		FinishedAt: time.Now().UTC(),
	}
	if err := ws.InsertRun(ctx, summary); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	// A second run with the same ID violates the primary key.
	if err := ws.InsertRun(ctx, summary); err == nil {
		t.Error("InsertRun() accepted a duplicate run ID")
	}
}
