package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/LeventeLantos/daily-messaging/internal/api"
	"github.com/LeventeLantos/daily-messaging/internal/cache"
	"github.com/LeventeLantos/daily-messaging/internal/client"
	"github.com/LeventeLantos/daily-messaging/internal/config"
	"github.com/LeventeLantos/daily-messaging/internal/dispatch"
	"github.com/LeventeLantos/daily-messaging/internal/logger"
	"github.com/LeventeLantos/daily-messaging/internal/metrics"
	"github.com/LeventeLantos/daily-messaging/internal/ratelimit"
	"github.com/LeventeLantos/daily-messaging/internal/repo"
	"github.com/LeventeLantos/daily-messaging/internal/retention"
	"github.com/LeventeLantos/daily-messaging/internal/scheduler"
	"github.com/LeventeLantos/daily-messaging/internal/scheduling"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daily-messaging stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAll()
	if err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, health, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	var msgCache cache.MessageCache
	if cfg.Redis.Enabled {
		rdb, err := cache.Dial(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		msgCache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	limiter := ratelimit.New(ratelimit.Config{
		TokensPerMinute:   cfg.RateLimit.ContentTokensPerMin,
		RequestsPerMinute: cfg.RateLimit.ContentRequestsPerMin,
		SMSPerSecond:      cfg.RateLimit.SMSPerSecond,
		SMSPerDay:         cfg.RateLimit.SMSPerDay,
	})
	guard := ratelimit.NewGuard(limiter, ratelimit.Backoff{
		Attempts: cfg.RateLimit.BackoffAttempts,
		Base:     cfg.RateLimit.BackoffBase,
		Max:      cfg.RateLimit.BackoffMax,
	}, ratelimit.WithRejectHook(m.RateLimitRejected), ratelimit.WithLogger(log))

	generator := client.NewChatGenerator(client.ChatConfig{
		URL:             cfg.Content.APIURL,
		APIKey:          cfg.Content.APIKey,
		Model:           cfg.Content.Model,
		EstimatedTokens: cfg.Content.EstimatedTokens,
		MaxChars:        cfg.SMS.ContentMax,
		Timeout:         cfg.Content.Timeout,
	}, client.WithAdmission(guard), client.WithLogger(log))
	gateway := client.NewWebhookGateway(cfg.SMS.GatewayURL, cfg.SMS.Timeout)

	planner := scheduling.NewEngine(store, generator, scheduling.NewResolver(scheduling.WithResolverLogger(log)), scheduling.Config{
		Lookahead: cfg.Schedule.Lookahead,
		BatchSize: cfg.Schedule.BatchSize,
		History:   cfg.Schedule.History,
	}, scheduling.WithMetrics(m), scheduling.WithLogger(log))

	dispatchOpts := []dispatch.Option{
		dispatch.WithAdmission(guard),
		dispatch.WithMetrics(m),
		dispatch.WithLogger(log),
	}
	if msgCache != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithCache(msgCache))
	}
	dispatcher := dispatch.NewEngine(store, gateway, dispatch.Config{
		BatchSize:  cfg.Dispatch.BatchSize,
		Workers:    cfg.Dispatch.Workers,
		MaxRetries: cfg.Dispatch.MaxRetries,
		ContentMax: cfg.SMS.ContentMax,
	}, dispatchOpts...)

	cleanerOpts := []retention.Option{retention.WithMetrics(m), retention.WithLogger(log)}
	if cfg.Retention.ArchiveDir != "" {
		archiver, err := retention.NewFileArchiver(cfg.Retention.ArchiveDir)
		if err != nil {
			return err
		}
		cleanerOpts = append(cleanerOpts, retention.WithArchiver(archiver))
	}
	cleaner := retention.NewCleaner(store, cleanerOpts...)

	jobs, err := newJobs(cfg, log,
		func(ctx context.Context) (any, error) { return planner.ScheduleDaily(ctx) },
		func(ctx context.Context) (any, error) { return dispatcher.ProcessDue(ctx) },
		func(ctx context.Context) (any, error) { return cleaner.Cleanup(ctx, cfg.Retention.Days) },
	)
	if err != nil {
		return err
	}

	handlerOpts := []api.Option{api.WithHealthCheck(health)}
	if msgCache != nil {
		handlerOpts = append(handlerOpts, api.WithCache(msgCache))
	}
	h := api.NewHandler(jobs, store, handlerOpts...)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h, reg)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("daily-messaging starting",
		"addr", cfg.Server.Address,
		"store", cfg.Database.Driver,
		"redis", cfg.Redis.Enabled,
		"dispatch_interval", cfg.Dispatch.Interval,
		"archive", cfg.Retention.ArchiveDir != "",
	)

	jobs.StartAll()
	defer jobs.StopAll()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (repo.Store, func(ctx context.Context) error, func(), error) {
	if cfg.Driver == config.DriverMemory {
		return repo.NewMemoryStore(), func(context.Context) error { return nil }, func() {}, nil
	}

	pool, err := repo.OpenPool(ctx, cfg.PostgresURL, cfg.MaxConns, cfg.MinConns)
	if err != nil {
		return nil, nil, nil, err
	}
	return repo.NewPostgresStore(pool), pool.Ping, pool.Close, nil
}

func newJobs(cfg *config.Config, log *slog.Logger, schedule, send, cleanup scheduler.TaskFunc) (*scheduler.Group, error) {
	specs := []struct {
		name     string
		interval time.Duration
		task     scheduler.TaskFunc
	}{
		{"schedule", cfg.Schedule.Interval, schedule},
		{"dispatch", cfg.Dispatch.Interval, send},
		{"retention", cfg.Retention.Interval, cleanup},
	}

	jobs := make([]*scheduler.Scheduler, 0, len(specs))
	for _, s := range specs {
		job, err := scheduler.New(s.name, s.interval, s.task, scheduler.WithLogger(log))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return scheduler.NewGroup(jobs...), nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
