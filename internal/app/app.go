// Package app wires the configured stores, sources and calculators into a job runner.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/aggregation"
	"github.com/smukkama/energy-reporting/internal/anomaly"
	"github.com/smukkama/energy-reporting/internal/benchmark"
	"github.com/smukkama/energy-reporting/internal/component"
	"github.com/smukkama/energy-reporting/internal/database"
	"github.com/smukkama/energy-reporting/internal/energy"
	"github.com/smukkama/energy-reporting/internal/jobs"
	"github.com/smukkama/energy-reporting/internal/notification"
	"github.com/smukkama/energy-reporting/internal/queue"
	"github.com/smukkama/energy-reporting/internal/schedule"
	"github.com/smukkama/energy-reporting/internal/status"
	"github.com/smukkama/energy-reporting/internal/target"
	"github.com/smukkama/energy-reporting/internal/tier"
	"github.com/smukkama/energy-reporting/internal/timeseries"
	"github.com/smukkama/energy-reporting/pkg/config"
)

// App holds the wired components.
type App struct {
	Daily      *aggregation.DailyAggregator
	Monthly    *aggregation.MonthlyAggregator
	Shifts     *aggregation.ShiftAggregator
	Anomalies  *anomaly.Detector
	Benchmarks *benchmark.Calculator
	Targets    *target.Tracker
	Reports    *status.Store
	Runner     *jobs.Runner

	cfg     *config.Config
	closers []func()
	logger  *zap.Logger
}

// New connects every backing service and builds the job runner. Kafka is optional,
// and an unreachable Redis only disables report keeping.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	db, err := database.Connect(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { db.Close() })
	if err := db.RunMigrations(ctx, cfg.Database.MigrationsDir); err != nil {
		return err
	}
	logger.Info("connected to database")

	source := timeseries.NewInfluxSource(cfg.Influx, logger)
	a.closers = append(a.closers, source.Close)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Influx.QueryTimeout)
	defer cancel()
	if err := source.Ping(pingCtx); err != nil {
		return fmt.Errorf("time-series store unreachable: %w", err)
	}
	fetcher := timeseries.NewFetcher(tier.NewBuilder(cfg.Influx, cfg.Tiers), source, logger)

	taxonomy := component.DefaultTaxonomy()
	if cfg.Taxonomy.RulesFile != "" {
		if taxonomy, err = component.LoadTaxonomy(cfg.Taxonomy.RulesFile); err != nil {
			return err
		}
	}

	opts, err := aggregation.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}

	deps := aggregation.Deps{
		Store:      db,
		Registry:   db,
		Production: db,
		Shifts:     db,
		Fetcher:    fetcher,
		Converters: energy.NewTable(cfg.Cost),
		Taxonomy:   taxonomy,
	}
	benchOpts := []benchmark.Option{
		benchmark.WithLocation(opts.Location),
		benchmark.WithWorkers(opts.Workers),
	}
	targetOpts := []target.Option{
		target.WithLocation(opts.Location),
		target.WithWorkers(opts.Workers),
	}
	anomalyOpts := []anomaly.Option{
		anomaly.WithWindow(cfg.Aggregation.AnomalyWindow),
		anomaly.WithThreshold(cfg.Aggregation.AnomalyThreshold),
		anomaly.WithLocation(opts.Location),
		anomaly.WithWorkers(opts.Workers),
	}

	if cfg.Kafka.Enabled() {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, 3, 1); err != nil {
			logger.Warn("failed to create events topic", zap.Error(err))
		}
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, logger)
		a.closers = append(a.closers, func() { producer.Close() })
		deps.Publisher = producer
		benchOpts = append(benchOpts, benchmark.WithPublisher(producer))
		targetOpts = append(targetOpts, target.WithPublisher(producer))
		anomalyOpts = append(anomalyOpts, anomaly.WithPublisher(producer))
		logger.Info("publishing events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.TopicEvents),
		)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { redisClient.Close() })
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, job reports will not be kept", zap.Error(err))
	}

	notifier := notification.NewEmailNotifier(&cfg.SMTP, logger)
	if !notifier.Configured() {
		logger.Info("SMTP not configured, failure emails disabled")
	} else if err := notifier.TestConnection(); err != nil {
		logger.Warn("SMTP unreachable, failure emails may not be delivered", zap.Error(err))
	}

	a.Daily = aggregation.NewDailyAggregator(deps, opts, logger)
	a.Monthly = aggregation.NewMonthlyAggregator(deps, opts, logger)
	a.Shifts = aggregation.NewShiftAggregator(deps, opts, logger)
	a.Anomalies = anomaly.NewDetector(db, logger, anomalyOpts...)
	a.Benchmarks = benchmark.NewCalculator(db, db, logger, benchOpts...)
	a.Targets = target.NewTracker(db, logger, targetOpts...)
	a.Reports = status.NewStore(redisClient, cfg.Redis.ReportTTL)
	a.Runner = jobs.NewRunner(jobs.Deps{
		Daily:      a.Daily,
		Monthly:    a.Monthly,
		Shifts:     a.Shifts,
		Anomalies:  a.Anomalies,
		Benchmarks: a.Benchmarks,
		Targets:    a.Targets,
		Reports:    a.Reports,
		Notifier:   notifier,
	}, cfg.Aggregation.BenchmarkDays, logger)
	return nil
}

// UpdateTargets seeds targets from benchmarks when configured, then updates every active target.
func (a *App) UpdateTargets(ctx context.Context) []*status.Report {
	agg := a.cfg.Aggregation
	var reports []*status.Report
	if agg.SeedsTargets() {
		reports = append(reports, a.Runner.SeedTargets(ctx,
			database.BenchmarkType(agg.TargetBenchmark),
			database.TargetPeriod(agg.TargetPeriod),
		))
	}
	return append(reports, a.Runner.Targets(ctx))
}

// Schedule registers the periodic jobs on s.
func (a *App) Schedule(s *schedule.Scheduler) error {
	agg := a.cfg.Aggregation

	if err := s.Add(jobs.JobHourly, func(time.Time) (time.Time, error) {
		return a.Daily.CalculateNextHourlyRun(agg.HourlyDelay), nil
	}, func(ctx context.Context) { a.Runner.RefreshToday(ctx) }); err != nil {
		return err
	}

	if err := s.Add(jobs.JobDaily, func(time.Time) (time.Time, error) {
		return a.Daily.CalculateNextRunTime(agg.DailyTime)
	}, func(ctx context.Context) { a.Runner.Daily(ctx) }); err != nil {
		return err
	}

	if err := s.Add(jobs.JobAnomalies, func(time.Time) (time.Time, error) {
		return a.Daily.CalculateNextRunTime(agg.AnomalyTime)
	}, func(ctx context.Context) { a.Runner.Anomalies(ctx) }); err != nil {
		return err
	}

	if err := s.Add(jobs.JobShifts, func(time.Time) (time.Time, error) {
		return a.Daily.CalculateNextRunTime(agg.ShiftTime)
	}, func(ctx context.Context) { a.Runner.Shifts(ctx) }); err != nil {
		return err
	}

	if err := s.Add(jobs.JobMonthly, func(time.Time) (time.Time, error) {
		return a.Monthly.CalculateNextRunTime(agg.MonthlyTime)
	}, func(ctx context.Context) { a.Runner.Monthly(ctx) }); err != nil {
		return err
	}

	loc, err := agg.Location()
	if err != nil {
		return err
	}
	weekly, err := schedule.Weekly(agg.BenchmarkDay, agg.BenchmarkTime, loc)
	if err != nil {
		return err
	}
	if err := s.Add(jobs.JobBenchmarks, weekly, func(ctx context.Context) { a.Runner.Benchmarks(ctx) }); err != nil {
		return err
	}

	return s.Add(jobs.JobTargets, func(time.Time) (time.Time, error) {
		return a.Daily.CalculateNextRunTime(agg.TargetTime)
	}, func(ctx context.Context) { a.UpdateTargets(ctx) })
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
