// Package server builds the explorer's dependency graph from configuration and
// runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/api"
	"github.com/Sbajrac2/Reddit-explorer/internal/clock/system"
	"github.com/Sbajrac2/Reddit-explorer/internal/config"
	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/export"
	collyfetcher "github.com/Sbajrac2/Reddit-explorer/internal/fetcher/colly"
	headlessfetcher "github.com/Sbajrac2/Reddit-explorer/internal/fetcher/headless"
	"github.com/Sbajrac2/Reddit-explorer/internal/hash/sha256"
	"github.com/Sbajrac2/Reddit-explorer/internal/headless/detector"
	"github.com/Sbajrac2/Reddit-explorer/internal/id/uuid"
	"github.com/Sbajrac2/Reddit-explorer/internal/layout"
	"github.com/Sbajrac2/Reddit-explorer/internal/planner"
	"github.com/Sbajrac2/Reddit-explorer/internal/policy/ratelimit"
	"github.com/Sbajrac2/Reddit-explorer/internal/policy/robots"
	"github.com/Sbajrac2/Reddit-explorer/internal/progress"
	progresssinks "github.com/Sbajrac2/Reddit-explorer/internal/progress/sinks"
	"github.com/Sbajrac2/Reddit-explorer/internal/scheduler"
	"github.com/Sbajrac2/Reddit-explorer/internal/sink"
	"github.com/Sbajrac2/Reddit-explorer/internal/telemetry"
)

// Options carries process-level collaborators that tests replace.
type Options struct {
	// Registerer receives the progress and OpenTelemetry collectors.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Fetcher replaces the colly fetcher.
	Fetcher crawler.Fetcher
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock

	manager     *scheduler.Manager
	apiServer   *api.Server
	progressHub *progress.Hub
	headless    *headlessfetcher.Fetcher
	telemetry   *telemetry.Providers

	sessions  crawler.SessionStore
	records   crawler.RecordStore
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	encoder   export.Encoder
	ready     map[string]api.ReadyCheck

	backends backends
	closers  []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Build creates the application's dependencies. Anything opened before a
// failure is released again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ready:  make(map[string]api.ReadyCheck),
	}
	defer func() {
		if err != nil {
			_ = a.closeAll(context.Background())
		}
	}()

	a.logger.Info("building application dependencies",
		zap.String("records_backend", cfg.Records.Backend),
		zap.String("status_backend", cfg.Status.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
		zap.String("representation", cfg.Crawler.Representation),
	)

	a.telemetry, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		ProjectID:   cfg.Telemetry.ProjectID,
		Registerer:  reg,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	a.addCloser("telemetry", a.telemetry.Shutdown)

	if err = a.setupStores(ctx); err != nil {
		return nil, err
	}
	if err = a.setupBlobStore(ctx); err != nil {
		return nil, err
	}
	if err = a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err = a.setupProgress(ctx, reg); err != nil {
		return nil, err
	}
	sched, err := a.setupScheduler(opts.Fetcher)
	if err != nil {
		return nil, err
	}

	plan := planner.New(planner.Config{
		Origin:            cfg.Crawler.Origin,
		JSONOrigin:        cfg.Crawler.JSONOrigin,
		Representation:    crawler.Representation(cfg.Crawler.Representation),
		LivePageCap:       cfg.Crawler.LivePageCap,
		HistoricalPageCap: cfg.Crawler.HistoricalPageCap,
		JSONLimit:         cfg.Crawler.JSONPageLimit,
	})
	a.manager = scheduler.NewManager(
		sched,
		plan,
		uuid.NewUUIDGenerator(),
		a.clock,
		a.sessions,
		scheduler.ManagerConfig{Retain: cfg.Crawler.SessionRetain, Wrap: a.wrapSink},
		logger.Named("manager"),
	)

	a.apiServer = api.NewServer(
		a.manager,
		a.sessions,
		a.records,
		api.Options{
			APIKey:         cfg.Server.APIKey,
			RequestTimeout: cfg.Server.RequestTimeout,
			ReadyChecks:    a.ready,
		},
		logger.Named("api"),
	)
	return a, nil
}

// Manager exposes the session manager for in-process callers such as the CLI.
func (a *App) Manager() *scheduler.Manager {
	return a.manager
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the API until ctx is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		a.logger.Error("http server error", zap.Error(serveErr))
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		return err
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close stops running crawls, flushes progress and releases every backend.
func (a *App) Close(ctx context.Context) error {
	err := a.closeAll(ctx)
	if syncErr := a.logger.Sync(); syncErr != nil {
		a.logger.Debug("logger sync failed", zap.Error(syncErr))
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	if a.manager != nil {
		if err := a.manager.Close(ctx); err != nil {
			errs = append(errs, err)
			a.logger.Warn("session manager close failed", zap.Error(err))
		}
		a.manager = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// wrapSink attaches persistence, status mirroring and logging to a session.
// Persist runs first so a reader that sees the terminal status can already
// read the records.
func (a *App) wrapSink(info crawler.SessionInfo, next crawler.ResultSink) crawler.ResultSink {
	return sink.NewMulti(
		sink.NewPersist(sink.PersistConfig{
			Records:   a.records,
			Blobs:     a.blobs,
			Encoder:   a.encoder,
			Hasher:    sha256.New(),
			Publisher: a.publisher,
			Topic:     a.cfg.Publisher.Topic,
			Clock:     a.clock,
			Logger:    a.logger.Named("persist"),
		}, info),
		sink.NewStatus(a.sessions, info, a.clock, a.logger.Named("status")),
		sink.NewLog(a.logger.Named("session"), info),
		next,
	)
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(a.sessions, a.logger.Named("progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.addCloser("progress hub", a.progressHub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func (a *App) setupScheduler(fetcher crawler.Fetcher) (*scheduler.Scheduler, error) {
	cfg := a.cfg
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.HTTP.Timeout,
		})
		a.logger.Info("using colly fetcher", zap.String("user_agent", cfg.Crawler.UserAgent))
	}

	if cfg.Crawler.RespectRobots {
		fetcher = robots.New(fetcher, cfg.Crawler.UserAgent, a.logger.Named("robots"))
		a.logger.Info("robots.txt enforcement enabled")
	}

	var headless crawler.Fetcher
	var detect crawler.HeadlessDetector
	if cfg.Headless.Enabled {
		var err error
		a.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavigationTimeout,
			WaitSelector:      cfg.Headless.WaitSelector,
			ScrollPasses:      cfg.Headless.ScrollPasses,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.addCloser("headless", func(context.Context) error {
			a.headless.Close()
			return nil
		})
		headless = a.headless
		detect = detector.NewHeuristic(cfg.Headless.PromotionThreshold)
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	pacer, err := ratelimit.NewPacer(cfg.Pacing.Mode, cfg.Pacing.Delay, cfg.Pacing.Burst)
	if err != nil {
		return nil, fmt.Errorf("pacer init failed: %w", err)
	}
	a.logger.Info("pacing configured",
		zap.String("mode", cfg.Pacing.Mode),
		zap.Duration("delay", cfg.Pacing.Delay),
		zap.Int("burst", cfg.Pacing.Burst),
	)

	adapter, err := layout.New(layout.Config{Origin: cfg.Crawler.Origin, Clock: a.clock})
	if err != nil {
		return nil, fmt.Errorf("layout adapter init failed: %w", err)
	}

	sched, err := scheduler.New(scheduler.Deps{
		Fetcher:  fetcher,
		Headless: headless,
		Detector: detect,
		Adapter:  adapter,
		Pacer:    pacer,
		Progress: a.progressHub,
		Clock:    a.clock,
		Logger:   a.logger.Named("scheduler"),
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	return sched, nil
}
