package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/metricwatch/internal/event"
	"github.com/HerbHall/metricwatch/internal/source"
	"github.com/HerbHall/metricwatch/internal/watch/anomaly"
	"github.com/HerbHall/metricwatch/internal/watch/baseline"
	"github.com/HerbHall/metricwatch/internal/watch/evaluate"
	"github.com/HerbHall/metricwatch/internal/watch/forecast"
	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

// Pipeline stages, reported in failure records and logs.
const (
	StageIdle        = "idle"
	StageLoading     = "loading_history"
	StageFitting     = "fitting"
	StageDetecting   = "detecting"
	StageForecasting = "forecasting"
	StageEvaluating  = "evaluating"
	StageCollected   = "collected"
)

// RunOptions select what a run does beyond baseline fitting and detection.
type RunOptions struct {
	AsOf     time.Time // Run date; zero means today (UTC)
	PastDays int       // Detection window ending at AsOf (minimum 1)
	Forecast bool      // Project the rest of the current month
	Evaluate bool      // Score previously stored forecasts against actuals
}

// Result carries everything one run produced, for callers that render or
// deliver reports downstream.
type Result struct {
	Summary     timeseries.RunSummary
	Anomalies   []timeseries.Anomaly
	Forecasts   []timeseries.Forecast
	Evaluations []timeseries.EvaluationRecord
}

// metricResult is the per-worker output before collection.
type metricResult struct {
	metricID    string
	anomalies   []timeseries.Anomaly
	forecasts   []timeseries.Forecast
	evaluations []timeseries.EvaluationRecord
	skipped     *timeseries.MetricFailure
	failed      *timeseries.MetricFailure
}

// Runner orchestrates the per-metric pipeline across a set of metrics:
// load history, fit a baseline, detect anomalies over the past-days
// window, optionally forecast the rest of the month and evaluate matured
// forecasts. Metrics are processed concurrently under a worker limit, and
// one metric's failure never aborts the others.
type Runner struct {
	cfg    Config
	src    source.Source
	store  *WatchStore
	bus    *event.Bus
	logger *zap.Logger
}

// NewRunner assembles a runner. bus may be nil when no sinks subscribe.
func NewRunner(cfg Config, src source.Source, st *WatchStore, bus *event.Bus, logger *zap.Logger) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, src: src, store: st, bus: bus, logger: logger}
}

// Run executes one orchestrated pass over the given metrics and returns
// the collected results. The summary is persisted before Run returns.
func (r *Runner) Run(ctx context.Context, metricIDs []string, opts RunOptions) (*Result, error) {
	started := time.Now().UTC()
	asOf := timeseries.Day(opts.AsOf)
	if opts.AsOf.IsZero() {
		asOf = timeseries.Day(started)
	}
	if opts.PastDays < 1 {
		opts.PastDays = 1
	}

	runID := uuid.NewString()
	log := r.logger.With(zap.String("run_id", runID), zap.Time("as_of", asOf))
	log.Info("run starting",
		zap.Int("metrics", len(metricIDs)),
		zap.Int("past_days", opts.PastDays),
		zap.Bool("forecast", opts.Forecast),
		zap.Bool("evaluate", opts.Evaluate))
	runsTotal.Inc()

	results := make([]*metricResult, len(metricIDs))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.processMetric(ctx, log, runID, metricIDs[i], asOf, started, opts)
			}
		}()
	}
	for i := range metricIDs {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	// Collect in input order so the summary is deterministic.
	out := &Result{Summary: timeseries.RunSummary{
		RunID:     runID,
		AsOf:      asOf,
		StartedAt: started,
	}}
	for _, res := range results {
		if res == nil { // Run was cancelled before the metric was dispatched.
			continue
		}
		switch {
		case res.failed != nil:
			out.Summary.Failed = append(out.Summary.Failed, *res.failed)
			metricsByOutcome.WithLabelValues("failed").Inc()
		case res.skipped != nil:
			out.Summary.Skipped = append(out.Summary.Skipped, *res.skipped)
			metricsByOutcome.WithLabelValues("skipped").Inc()
		default:
			out.Summary.Processed++
			metricsByOutcome.WithLabelValues("processed").Inc()
		}
		out.Anomalies = append(out.Anomalies, res.anomalies...)
		out.Forecasts = append(out.Forecasts, res.forecasts...)
		out.Evaluations = append(out.Evaluations, res.evaluations...)
	}
	out.Summary.Anomalies = len(out.Anomalies)
	out.Summary.Forecasts = len(out.Forecasts)
	out.Summary.Evaluations = len(out.Evaluations)
	out.Summary.FinishedAt = time.Now().UTC()
	runDuration.Observe(out.Summary.FinishedAt.Sub(started).Seconds())

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("run %s interrupted: %w", runID, err)
	}

	if r.store != nil {
		if err := r.store.InsertRun(ctx, &out.Summary); err != nil {
			return out, fmt.Errorf("persist run summary: %w", err)
		}
		if r.cfg.AnomalyRetention > 0 {
			if n, err := r.store.DeleteOldAnomalies(ctx, started.Add(-r.cfg.AnomalyRetention)); err != nil {
				log.Warn("anomaly retention sweep failed", zap.Error(err))
			} else if n > 0 {
				log.Debug("expired anomalies removed", zap.Int64("count", n))
			}
		}
	}

	r.publish(ctx, TopicRunCompleted, out.Summary)
	log.Info("run finished",
		zap.Int("processed", out.Summary.Processed),
		zap.Int("skipped", len(out.Summary.Skipped)),
		zap.Int("failed", len(out.Summary.Failed)),
		zap.Int("anomalies", out.Summary.Anomalies),
		zap.Int("forecasts", out.Summary.Forecasts),
		zap.Int("evaluations", out.Summary.Evaluations),
		zap.Duration("elapsed", out.Summary.FinishedAt.Sub(started)))
	return out, nil
}

// processMetric runs the full pipeline for one metric. Errors become a
// skipped or failed record, never a returned error.
func (r *Runner) processMetric(ctx context.Context, log *zap.Logger, runID, metricID string, asOf, runStarted time.Time, opts RunOptions) *metricResult {
	res := &metricResult{metricID: metricID}
	log = log.With(zap.String("metric_id", metricID))

	series, err := r.fetchHistory(ctx, metricID, asOf, opts.PastDays)
	if err != nil {
		log.Warn("history fetch failed", zap.Error(err))
		res.failed = &timeseries.MetricFailure{
			MetricID: metricID, Stage: StageLoading, Reason: err.Error(),
		}
		return res
	}

	// Fit and detect once per day in the window, each fit using only the
	// observations that preceded that day.
	var lastModel *baseline.Model
	var fitErr error
	for back := opts.PastDays - 1; back >= 0; back-- {
		day := asOf.AddDate(0, 0, -back)

		history := &timeseries.MetricSeries{
			MetricID: metricID,
			Points:   baseline.Clean(series.Before(day)),
		}
		model, err := baseline.Fit(history, day, baseline.Options{
			MinObservations: r.cfg.MinObservations,
			SeasonLen:       r.cfg.SeasonLen,
		})
		if err != nil {
			fitErr = err
			continue
		}
		lastModel = model

		var a *timeseries.Anomaly
		if value, ok := series.At(day); ok {
			a = anomaly.Detect(model, day, value, anomaly.Thresholds{
				Warning:  r.cfg.WarningScore,
				Critical: r.cfg.CriticalScore,
			})
		} else {
			a = anomaly.Missing(metricID, day, model.Expected(day))
		}
		if a == nil {
			continue
		}
		res.anomalies = append(res.anomalies, *a)
		anomaliesDetected.WithLabelValues(a.Severity).Inc()
		log.Info("anomaly detected",
			zap.Time("date", a.Date),
			zap.String("severity", a.Severity),
			zap.String("kind", a.Kind),
			zap.Float64("value", a.Value),
			zap.Float64("expected", a.Expected))
		if r.store != nil {
			if err := r.store.InsertAnomaly(ctx, a); err != nil {
				log.Warn("anomaly persist failed", zap.Error(err))
			}
		}
		r.publish(ctx, TopicAnomalyDetected, *a)
	}

	if lastModel == nil {
		if errors.Is(fitErr, baseline.ErrInsufficientHistory) {
			log.Debug("metric skipped", zap.Error(fitErr))
			res.skipped = &timeseries.MetricFailure{
				MetricID: metricID, Stage: StageFitting, Reason: fitErr.Error(),
			}
		} else {
			log.Warn("baseline fit failed", zap.Error(fitErr))
			res.failed = &timeseries.MetricFailure{
				MetricID: metricID, Stage: StageFitting, Reason: fitErr.Error(),
			}
		}
		return res
	}

	if opts.Forecast {
		if err := r.forecastMetric(ctx, log, runID, lastModel, asOf, res); err != nil {
			res.failed = &timeseries.MetricFailure{
				MetricID: metricID, Stage: StageForecasting, Reason: err.Error(),
			}
			return res
		}
	}

	if opts.Evaluate && r.store != nil {
		if err := r.evaluateMetric(ctx, log, metricID, series, asOf, runStarted, res); err != nil {
			res.failed = &timeseries.MetricFailure{
				MetricID: metricID, Stage: StageEvaluating, Reason: err.Error(),
			}
			return res
		}
	}

	return res
}

// fetchHistory loads the metric's history window under the fetch timeout.
func (r *Runner) fetchHistory(ctx context.Context, metricID string, asOf time.Time, pastDays int) (*timeseries.MetricSeries, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	start := asOf.AddDate(0, 0, -(r.cfg.HistoryDays + pastDays))
	fetchStart := time.Now()
	series, err := r.src.Fetch(fetchCtx, metricID, start, asOf)
	fetchLatency.Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		return nil, err
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

func (r *Runner) forecastMetric(ctx context.Context, log *zap.Logger, runID string, model *baseline.Model, asOf time.Time, res *metricResult) error {
	horizon := forecast.Horizon(asOf)
	forecasts, err := forecast.Project(model, asOf, horizon, forecast.Options{
		Confidence:  r.cfg.Confidence,
		NonNegative: r.cfg.NonNegative,
	})
	if err != nil {
		log.Warn("forecast failed", zap.Error(err))
		return err
	}

	if r.store != nil {
		for i := range forecasts {
			if err := r.store.UpsertForecast(ctx, &forecasts[i], runID); err != nil {
				log.Warn("forecast persist failed", zap.Error(err))
				return err
			}
		}
	}
	res.forecasts = append(res.forecasts, forecasts...)
	log.Debug("forecast generated",
		zap.Int("days", len(forecasts)),
		zap.Time("through", forecasts[len(forecasts)-1].Date))
	r.publishAsync(ctx, TopicForecastReady, forecasts)
	return nil
}

// evaluateMetric scores stored forecasts that have matured. Only
// projections written before this run started are considered, so a run
// never grades its own output.
func (r *Runner) evaluateMetric(ctx context.Context, log *zap.Logger, metricID string, series *timeseries.MetricSeries, asOf, runStarted time.Time, res *metricResult) error {
	due, err := r.store.ForecastsThrough(ctx, metricID, asOf, runStarted)
	if err != nil {
		log.Warn("forecast lookup failed", zap.Error(err))
		return err
	}
	if len(due) == 0 {
		return nil
	}

	records := evaluate.Evaluate(due, series)
	for i := range records {
		if err := r.store.UpsertEvaluation(ctx, &records[i]); err != nil {
			log.Warn("evaluation persist failed", zap.Error(err))
			return err
		}
	}
	if len(records) > 0 {
		res.evaluations = append(res.evaluations, records...)
		log.Debug("forecasts evaluated", zap.Int("count", len(records)))
		r.publishAsync(ctx, TopicEvaluationReady, records)
	}
	return nil
}

// publish delivers alert-grade events in the worker's goroutine, so they
// are observable before Run returns.
func (r *Runner) publish(ctx context.Context, topic string, payload any) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(ctx, r.event(topic, payload))
}

// publishAsync fans report payloads out to sinks without holding a worker.
func (r *Runner) publishAsync(ctx context.Context, topic string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.PublishAsync(ctx, r.event(topic, payload))
}

func (r *Runner) event(topic string, payload any) event.Event {
	return event.Event{
		Topic:     topic,
		Source:    "watch",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
