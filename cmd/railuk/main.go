// Command railuk serves the Rail UK voice skill over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/railuk/internal/config"
	"github.com/MrWong99/railuk/internal/health"
	"github.com/MrWong99/railuk/internal/observe"
	"github.com/MrWong99/railuk/internal/preference"
	"github.com/MrWong99/railuk/internal/rail"
	"github.com/MrWong99/railuk/internal/rail/darwin"
	"github.com/MrWong99/railuk/internal/rail/transportapi"
	"github.com/MrWong99/railuk/internal/resilience"
	"github.com/MrWong99/railuk/internal/server"
	"github.com/MrWong99/railuk/internal/skill"
	"github.com/MrWong99/railuk/internal/station"
	"github.com/MrWong99/railuk/internal/station/fuzzy"
	"github.com/MrWong99/railuk/internal/station/resolve"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "railuk: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "railuk: %v\n", err)
		}
		return 1
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "railuk: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger, logCloser := newLogger(cfg.Server, level)
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("railuk starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"catalog", cfg.Catalog.Source,
		"store", cfg.Store.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	providers, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	// ── Station catalog ───────────────────────────────────────────────────────
	catalog, err := reg.CreateCatalog(cfg.Catalog)
	if err != nil {
		slog.Error("failed to load station catalog", "source", cfg.Catalog.Source, "err", err)
		return 1
	}
	slog.Info("station catalog loaded", "source", cfg.Catalog.Source, "stations", catalog.Len())

	// ── Departure providers ───────────────────────────────────────────────────
	departures, err := buildRail(cfg)
	if err != nil {
		slog.Error("failed to build departure providers", "err", err)
		return 1
	}

	// ── Home station store ────────────────────────────────────────────────────
	store, closeStore, err := reg.CreateStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open home station store", "backend", cfg.Store.Backend, "err", err)
		return 1
	}
	if closeStore != nil {
		defer func() {
			if err := closeStore(); err != nil {
				slog.Warn("store close error", "err", err)
			}
		}()
	}
	instrumented := preference.Instrument(store, string(cfg.Store.Backend), nil)

	// ── Skill ─────────────────────────────────────────────────────────────────
	if cfg.Skill.ApplicationID == "" {
		slog.Warn("skill.application_id is empty; requests for any skill will be accepted")
	}
	handler := skill.New(
		resolve.New(catalog, fuzzy.New()),
		departures,
		instrumented,
		skill.WithApplicationID(cfg.Skill.ApplicationID),
	)

	srv := server.New(server.Config{
		Addr:            cfg.Server.ListenAddr,
		Skill:           handler,
		Health:          health.New(health.Catalog(catalog), health.Store(instrumented)),
		MetricsHandler:  promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "log_level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("configuration change requires a restart", "sections", d.RestartRequired)
			}
		}, config.WithEnv(os.LookupEnv))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
			g.Go(func() error { return reloadOnHangup(gctx, w) })
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// reloadOnHangup reloads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if _, err := w.Reload(); err != nil {
				slog.Warn("SIGHUP reload rejected", "err", err)
			}
		}
	}
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltins wires the catalog sources and store backends that ship
// with Rail UK into reg.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterCatalog(config.CatalogEmbedded, func(config.CatalogConfig) (*station.Catalog, error) {
		return station.Default()
	})
	reg.RegisterCatalog(config.CatalogFile, func(c config.CatalogConfig) (*station.Catalog, error) {
		return station.LoadFile(c.Path)
	})
	reg.RegisterCatalog(config.CatalogNationalRail, func(config.CatalogConfig) (*station.Catalog, error) {
		return station.FromNationalRail()
	})

	reg.RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig) (preference.Store, func() error, error) {
		return preference.NewMemStore(), nil, nil
	})
	reg.RegisterStore(config.StorePostgres, func(ctx context.Context, c config.StoreConfig) (preference.Store, func() error, error) {
		if c.Postgres.DSN == "" {
			return nil, nil, fmt.Errorf("store.postgres.dsn is required (or set %s)", config.EnvPostgresDSN)
		}
		s, closeFn, err := preference.OpenPostgres(ctx, c.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { closeFn(); return nil }, nil
	})
	reg.RegisterStore(config.StoreRedis, func(ctx context.Context, c config.StoreConfig) (preference.Store, func() error, error) {
		if c.Redis.Addr == "" {
			return nil, nil, fmt.Errorf("store.redis.addr is required (or set %s)", config.EnvRedisAddr)
		}
		s, closeFn := preference.OpenRedis(c.Redis.Addr, c.Redis.Password, c.Redis.DB)
		if err := s.Ping(ctx); err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		return s, closeFn, nil
	})
	reg.RegisterStore(config.StoreDynamoDB, func(ctx context.Context, c config.StoreConfig) (preference.Store, func() error, error) {
		s, err := preference.OpenDynamo(ctx, c.DynamoDB.Region, c.DynamoDB.Endpoint, c.DynamoDB.Table)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	})
}

// buildRail constructs both upstream clients and the service over them.
func buildRail(cfg *config.Config) (*rail.Service, error) {
	var darwinOpts []darwin.Option
	if cfg.Darwin.Endpoint != "" {
		darwinOpts = append(darwinOpts, darwin.WithEndpoint(cfg.Darwin.Endpoint))
	}
	if cfg.Darwin.Timeout > 0 {
		darwinOpts = append(darwinOpts, darwin.WithTimeout(cfg.Darwin.Timeout))
	}
	live, err := darwin.New(cfg.Darwin.Token, darwinOpts...)
	if err != nil {
		return nil, fmt.Errorf("darwin: %w (set darwin.token or %s)", err, config.EnvDarwinToken)
	}

	var tapiOpts []transportapi.Option
	if cfg.TransportAPI.BaseURL != "" {
		tapiOpts = append(tapiOpts, transportapi.WithBaseURL(cfg.TransportAPI.BaseURL))
	}
	if cfg.TransportAPI.Timeout > 0 {
		tapiOpts = append(tapiOpts, transportapi.WithTimeout(cfg.TransportAPI.Timeout))
	}
	if cfg.TransportAPI.CacheSize != 0 || cfg.TransportAPI.CacheTTL != 0 {
		size, ttl := cfg.TransportAPI.CacheSize, cfg.TransportAPI.CacheTTL
		if size == 0 {
			size = transportapi.DefaultCacheSize
		}
		if ttl == 0 {
			ttl = transportapi.DefaultCacheTTL
		}
		tapiOpts = append(tapiOpts, transportapi.WithCache(size, ttl))
	}
	timetable, err := transportapi.New(cfg.TransportAPI.AppID, cfg.TransportAPI.AppKey, tapiOpts...)
	if err != nil {
		return nil, fmt.Errorf("transportapi: %w (set %s and %s)", err, config.EnvTransportAPIID, config.EnvTransportAPIKey)
	}

	loc, err := time.LoadLocation(cfg.Rail.Timezone)
	if err != nil {
		return nil, fmt.Errorf("rail.timezone: %w", err)
	}
	opts := []rail.ServiceOption{
		rail.WithLocation(loc),
		rail.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Rail.Breaker.MaxFailures,
			ResetTimeout: cfg.Rail.Breaker.ResetTimeout,
			HalfOpenMax:  cfg.Rail.Breaker.HalfOpenMax,
		}),
	}
	opts = append(opts, rateLimit(rail.LiveProvider, cfg.Rail.Live)...)
	opts = append(opts, rateLimit(rail.TimetableProvider, cfg.Rail.Timetable)...)
	return rail.NewService(live, timetable, opts...), nil
}

func rateLimit(provider string, rl config.RateLimitConfig) []rail.ServiceOption {
	if rl.RequestsPerSecond <= 0 {
		return nil
	}
	burst := max(rl.Burst, 1)
	return []rail.ServiceOption{rail.WithRateLimit(provider, rate.Limit(rl.RequestsPerSecond), burst)}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. Output goes to stderr, or to a
// rotated file when cfg.LogFile.Path is set. The returned closer flushes
// the file and is a no-op for stderr.
func newLogger(cfg config.ServerConfig, level *slog.LevelVar) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.LogFile.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile.Path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAge:     cfg.LogFile.MaxAgeDays,
			Compress:   cfg.LogFile.Compress,
		}
		if lj.MaxSize == 0 {
			lj.MaxSize = 64 // MB
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), closer
	}
	return slog.New(slog.NewTextHandler(w, opts)), closer
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
