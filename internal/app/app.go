package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"qubic-netstats/internal/alerting"
	"qubic-netstats/internal/cache"
	"qubic-netstats/internal/config"
	"qubic-netstats/internal/eventlog"
	"qubic-netstats/internal/fetcher"
	"qubic-netstats/internal/metrics"
	"qubic-netstats/internal/netstats"
	"qubic-netstats/internal/period"
	"qubic-netstats/internal/scheduler"
	"qubic-netstats/internal/server"
	"qubic-netstats/internal/service"
	"qubic-netstats/internal/snapshot"
	"qubic-netstats/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) anchor() (period.Anchor, error) {
	weekday, err := period.ParseWeekday(a.Config.Sampling.AnchorWeekday)
	if err != nil {
		return period.Anchor{}, err
	}
	return period.Anchor{Weekday: weekday, Hour: a.Config.Sampling.AnchorHour}, nil
}

func (a *App) engineOptions() (netstats.Options, error) {
	anchor, err := a.anchor()
	if err != nil {
		return netstats.Options{}, err
	}
	cfg := a.Config.Sampling
	return netstats.Options{
		MinInterval:    cfg.MinInterval,
		RecoveryWindow: cfg.RecoveryWindow,
		Threshold:      cfg.Threshold,
		WindowSize:     cfg.WindowSize,
		QLIHistory:     cfg.QLIHistory,
		Anchor:         anchor,
	}, nil
}

// openStore connects to PostgreSQL, or falls back to process memory when no DSN is set.
func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; samples are kept in memory only")
		return storage.NewMemoryStore(), func() {}, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newCache() (cache.Cache, func()) {
	cfg := a.Config.Cache
	if cfg.RedisAddr == "" {
		return cache.NewMemory(cfg.TTL, nil), func() {}
	}
	r := cache.NewRedis(cache.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.TTL,
	}, a.Logger)
	return r, func() {
		if err := r.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis cache")
		}
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	telegram := alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	return alerting.NewThrottled(telegram, a.Config.Alerting.Cooldown, nil)
}

// newFetcher builds the upstream client. Without an API key but with
// credentials, it logs in to obtain a bearer token.
func (a *App) newFetcher(ctx context.Context, events eventlog.Recorder, m *metrics.Metrics) *fetcher.Client {
	src := a.Config.Sources
	opts := fetcher.Options{
		QubicBaseURL:     src.QubicBaseURL,
		ApoolBaseURL:     src.ApoolBaseURL,
		SolutionsBaseURL: src.SolutionsBaseURL,
		MinerlabBaseURL:  src.MinerlabBaseURL,
		ExchangeRateURL:  src.ExchangeRateURL,
		Timeout:          src.RequestTimeout,
		UserAgent:        src.UserAgent,
	}
	if m != nil {
		opts.OnFailure = m.UpstreamFailure
	}
	client := fetcher.New(opts, events, a.Logger)

	switch {
	case a.Config.Qubic.APIKey != "":
		client.SetToken(a.Config.Qubic.APIKey)
	case a.Config.Qubic.Username != "":
		token, err := a.login(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("qubic login failed; continuing without bearer token")
			break
		}
		client.SetToken(token)
	}
	return client
}

func (a *App) login(ctx context.Context) (string, error) {
	q := a.Config.Qubic
	auth := fetcher.NewAuthenticator(fetcher.AuthOptions{
		BaseURL:  a.Config.Sources.QubicBaseURL,
		Attempts: q.LoginRetries,
		Backoff:  q.LoginBackoff,
		Timeout:  a.Config.Sources.RequestTimeout,
	}, a.Logger)
	return auth.Login(ctx, fetcher.Credentials{Username: q.Username, Password: q.Password})
}

// components is the fully wired pipeline shared by the commands.
type components struct {
	store      storage.Backend
	events     *eventlog.Log
	engine     *netstats.Engine
	aggregator *netstats.Aggregator
	builder    *snapshot.Builder
	cache      cache.Cache
	metrics    *metrics.Metrics
	service    *service.Service
	closers    []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func (a *App) assemble(ctx context.Context, sched *scheduler.Scheduler) (*components, error) {
	opts, err := a.engineOptions()
	if err != nil {
		return nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	c := &components{store: store, closers: []func(){closeStore}}

	c.metrics = metrics.New()
	c.events = eventlog.New(store, opts.Anchor, nil, a.Logger)
	c.engine = netstats.NewEngine(store, c.events, opts, nil, a.Logger)
	c.aggregator = netstats.NewAggregator(store, opts, nil, a.Logger)

	sources := a.newFetcher(ctx, c.events, c.metrics)
	c.builder = snapshot.NewBuilder(sources, c.aggregator, snapshot.Options{Concurrency: a.Config.Sources.Concurrency}, nil, a.Logger)

	snapshotCache, closeCache := a.newCache()
	c.cache = snapshotCache
	c.closers = append(c.closers, closeCache)

	c.service = service.New(service.Deps{
		Scheduler:    sched,
		Builder:      c.builder,
		Engine:       c.engine,
		Events:       c.events,
		Store:        store,
		Cache:        snapshotCache,
		Notifier:     a.newNotifier(),
		Metrics:      c.metrics,
		LockKey:      a.Config.Scheduler.AdvisoryLockKey,
		CycleTimeout: a.Config.Scheduler.CycleTimeout,
	}, a.Logger)
	return c, nil
}

// Run executes the scheduler and the HTTP API until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	c, err := a.assemble(ctx, sched)
	if err != nil {
		return err
	}
	defer c.Close()

	httpCfg := a.Config.HTTP
	srv := server.New(server.Options{
		Addr:         httpCfg.Addr,
		ReadTimeout:  httpCfg.ReadTimeout,
		WriteTimeout: httpCfg.WriteTimeout,
		CORSOrigins:  httpCfg.CORSOrigins,
	}, c.service, c.events, c.aggregator, c.metrics.Handler(), a.Logger)

	a.Logger.Info().Msg("starting netstats service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.service.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("netstats service stopped")
	return nil
}

// Update forces one evaluation cycle and reports its outcome.
func (a *App) Update(ctx context.Context) (netstats.Result, error) {
	c, err := a.assemble(ctx, nil)
	if err != nil {
		return netstats.Result{}, err
	}
	defer c.Close()

	if err := c.service.Ping(ctx); err != nil {
		return netstats.Result{}, fmt.Errorf("database connection failed: %w", err)
	}
	return c.service.RunCycle(ctx)
}

// Login obtains a Qubic API bearer token with the configured credentials.
func (a *App) Login(ctx context.Context) (string, error) {
	if a.Config.Qubic.Username == "" || a.Config.Qubic.Password == "" {
		return "", errors.New("qubic.username and qubic.password must be configured")
	}
	return a.login(ctx)
}

// ExportOptions hold parameters for exporting current-period samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure a dry-run validation. Nil readings mean "fetch live".
type SimulateOptions struct {
	Readings *netstats.Readings
}
