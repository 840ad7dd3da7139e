package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/metricwatch/internal/config"
	"github.com/HerbHall/metricwatch/internal/event"
	"github.com/HerbHall/metricwatch/internal/source"
	"github.com/HerbHall/metricwatch/internal/store"
	"github.com/HerbHall/metricwatch/internal/version"
	"github.com/HerbHall/metricwatch/internal/watch"
	"github.com/HerbHall/metricwatch/pkg/timeseries"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	metricsFlag := flag.String("metrics", "", "comma-separated metric IDs (overrides watch.metrics)")
	asOfFlag := flag.String("as-of", "", "run date YYYY-MM-DD (default today, UTC)")
	pastDays := flag.Int("past-days", 1, "number of trailing days to detect over")
	doForecast := flag.Bool("forecast", true, "project the rest of the current month")
	doEvaluate := flag.Bool("evaluate", true, "score matured forecasts against actuals")
	listFlag := flag.String("list", "", "print stored records and exit: anomalies or evaluations")
	listLimit := flag.Int("list-limit", 50, "maximum records to print with -list")
	interval := flag.Duration("interval", 0, "rerun every interval (0 = run once and exit)")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("metricwatch starting", zap.String("version", version.Short()))
	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	watchCfg := watch.DefaultConfig()
	if err := cfg.Sub("watch").Unmarshal(&watchCfg); err != nil {
		logger.Fatal("invalid watch configuration", zap.Error(err))
	}

	metricIDs := splitMetrics(*metricsFlag)
	if len(metricIDs) == 0 {
		metricIDs = cfg.GetStringSlice("watch.metrics")
	}

	db, err := store.New(cfg.GetString("database.path"))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := db.Migrate(ctx, "source", source.Migrations()); err != nil {
		logger.Fatal("source migrations failed", zap.Error(err))
	}
	watchStore, err := watch.NewWatchStore(ctx, db)
	if err != nil {
		logger.Fatal("watch store init failed", zap.Error(err))
	}

	if *listFlag != "" {
		os.Exit(listRecords(ctx, watchStore, *listFlag, metricIDs, *listLimit))
	}
	if len(metricIDs) == 0 {
		logger.Fatal("no metrics configured; set watch.metrics or pass -metrics")
	}

	asOf := time.Now().UTC()
	if *asOfFlag != "" {
		if asOf, err = time.ParseInLocation("2006-01-02", *asOfFlag, time.UTC); err != nil {
			logger.Fatal("invalid -as-of date", zap.String("value", *asOfFlag), zap.Error(err))
		}
	}

	var src source.Source = source.NewMirrorSource(db.DB())
	src = source.NewRetryingSource(src, cfg.GetDuration("source.max_retry_elapsed"))
	src = source.NewLimitedSource(src,
		cfg.GetFloat64("source.requests_per_second"),
		cfg.GetInt("source.burst"))

	bus := event.NewBus(logger.Named("event"))
	alertLog := logger.Named("alert")
	bus.Subscribe(watch.TopicAnomalyDetected, func(_ context.Context, e event.Event) {
		a, ok := e.Payload.(timeseries.Anomaly)
		if !ok {
			return
		}
		alertLog.Warn("metric anomaly",
			zap.String("metric_id", a.MetricID),
			zap.Time("date", a.Date),
			zap.String("severity", a.Severity),
			zap.String("kind", a.Kind),
			zap.Float64("value", a.Value),
			zap.Float64("expected", a.Expected),
			zap.Float64("score", a.Score))
	})
	traceLog := logger.Named("event")
	bus.SubscribeAll(func(_ context.Context, e event.Event) {
		traceLog.Debug("event published",
			zap.String("topic", e.Topic),
			zap.String("source", e.Source))
	})

	if addr := cfg.GetString("metrics.listen"); addr != "" && *interval > 0 {
		go serveMetrics(addr, logger)
	}

	runner := watch.NewRunner(watchCfg, src, watchStore, bus, logger.Named("watch"))
	opts := watch.RunOptions{
		AsOf:     asOf,
		PastDays: *pastDays,
		Forecast: *doForecast,
		Evaluate: *doEvaluate,
	}

	exitCode := runOnce(ctx, runner, metricIDs, opts, logger)
	if *interval > 0 {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				os.Exit(0)
			case <-ticker.C:
				// Scheduled reruns always use the current day.
				opts.AsOf = time.Time{}
				runOnce(ctx, runner, metricIDs, opts, logger)
			}
		}
	}
	os.Exit(exitCode)
}

func runOnce(ctx context.Context, runner *watch.Runner, metricIDs []string, opts watch.RunOptions, logger *zap.Logger) int {
	result, err := runner.Run(ctx, metricIDs, opts)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		return 1
	}
	if result.Summary.Processed == 0 && len(result.Summary.Failed) > 0 {
		logger.Error("no metric processed successfully")
		return 2
	}
	return 0
}

// listRecords prints the stored anomaly or evaluation history. An empty
// metric filter lists every metric.
func listRecords(ctx context.Context, ws *watch.WatchStore, kind string, metricIDs []string, limit int) int {
	metricID := ""
	if len(metricIDs) > 0 {
		metricID = metricIDs[0]
	}

	switch kind {
	case "anomalies":
		anomalies, err := ws.ListAnomalies(ctx, metricID, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list anomalies: %v\n", err)
			return 1
		}
		for _, a := range anomalies {
			fmt.Printf("%s  %-20s  %-8s  %-8s  value=%.2f expected=%.2f score=%.2f\n",
				a.Date.Format("2006-01-02"), a.MetricID, a.Severity, a.Kind,
				a.Value, a.Expected, a.Score)
		}
	case "evaluations":
		records, err := ws.ListEvaluations(ctx, metricID, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list evaluations: %v\n", err)
			return 1
		}
		for _, e := range records {
			fmt.Printf("%s  %-20s  forecast=%.2f actual=%.2f abs=%.2f pct=%.4f\n",
				e.Date.Format("2006-01-02"), e.MetricID,
				e.Forecast, e.Actual, e.AbsError, e.PctError)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown -list kind %q: use anomalies or evaluations\n", kind)
		return 1
	}
	return 0
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics endpoint failed", zap.Error(err))
	}
}

func splitMetrics(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
