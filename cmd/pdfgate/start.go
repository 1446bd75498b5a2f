package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AdamLaszab/zadanie-skuska/internal/api"
	"github.com/AdamLaszab/zadanie-skuska/internal/artifact"
	"github.com/AdamLaszab/zadanie-skuska/internal/audit"
	"github.com/AdamLaszab/zadanie-skuska/internal/auth"
	"github.com/AdamLaszab/zadanie-skuska/internal/capability"
	"github.com/AdamLaszab/zadanie-skuska/internal/config"
	"github.com/AdamLaszab/zadanie-skuska/internal/doctor"
	"github.com/AdamLaszab/zadanie-skuska/internal/events"
	"github.com/AdamLaszab/zadanie-skuska/internal/geo"
	"github.com/AdamLaszab/zadanie-skuska/internal/invoke"
	"github.com/AdamLaszab/zadanie-skuska/internal/lock"
	"github.com/AdamLaszab/zadanie-skuska/internal/log"
	"github.com/AdamLaszab/zadanie-skuska/internal/pipeline"
	"github.com/AdamLaszab/zadanie-skuska/internal/reaper"
	"github.com/AdamLaszab/zadanie-skuska/internal/resolve"
	"github.com/AdamLaszab/zadanie-skuska/internal/storage"
	"github.com/AdamLaszab/zadanie-skuska/internal/tracing"
	"github.com/AdamLaszab/zadanie-skuska/internal/workspace"
)

// scratchNamespace is the artifact namespace rooted at the scratch dir.
const scratchNamespace = "scratch"

func startCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the HTTP server and the background reaper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServer(cmd.Context(), cfg, g.configPath)
		},
	}
}

func lockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Storage.SQLitePath), "pdfgate.lock")
}

func runServer(parent context.Context, cfg *config.Config, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("pdfgate starting", "version", version, "config", configPath)

	preflight := doctor.New(cfg).Validate()
	for _, w := range preflight.Warnings {
		logger.Warn("preflight", "category", w.Category, "field", w.Field, "issue", w.Message)
	}
	if !preflight.Valid {
		for _, e := range preflight.Errors {
			logger.Error("preflight", "category", e.Category, "field", e.Field, "issue", e.Message)
		}
		return fmt.Errorf("preflight found %d error(s); run pdfgate config check", len(preflight.Errors))
	}

	pidLock, err := lock.AcquirePIDLock(lockPath(cfg))
	if err != nil {
		return fmt.Errorf("another pdfgate may be running: %w", err)
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Service.Name,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		OTLPInsecure: cfg.Tracing.Insecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, log.WithComponent("tracing"))
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Start(gctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.reaper.Run(gctx) })

	logger.Info("pdfgate running (press Ctrl+C to stop)", "listen", cfg.API.Listen)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("component failed", "error", err)
		return err
	}
	logger.Info("pdfgate stopped")
	return nil
}

// app holds every long-lived component of a running server.
type app struct {
	db     *sql.DB
	rdb    *redis.Client
	hub    *events.Hub
	broker *capability.Broker
	trail  *audit.SQLiteStore
	runner *pipeline.Pipeline
	server *api.Server
	reaper *reaper.Reaper
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = log.WithComponent("main")
	}
	a := &app{hub: events.NewHub(events.DefaultBacklog)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := storage.ValidateLocalFilesystem(cfg.Storage.ScratchDir, "storage.scratch_dir"); errors.Is(err, storage.ErrNetworkFilesystem) {
		return nil, err
	}
	db, err := storage.OpenSQLite(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Storage.SQLitePath, err)
	}
	a.db = db

	scratch, err := filepath.Abs(cfg.Storage.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch dir: %w", err)
	}
	mgr, err := workspace.NewFSManager(scratch)
	if err != nil {
		return nil, fmt.Errorf("workspace manager: %w", err)
	}
	res, err := resolve.NewResolver(scratchNamespace, scratch)
	if err != nil {
		return nil, fmt.Errorf("artifact resolver: %w", err)
	}
	reg := artifact.NewRegistry()
	reg.Register(scratchNamespace, artifact.NewLocalBackend(scratch))

	store, err := a.capabilityStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.broker = capability.NewBroker(store, reg, mgr, cfg.Capability.TTL)

	locator, err := newLocator(cfg.Geo)
	if err != nil {
		return nil, err
	}
	a.trail = audit.NewSQLiteStore(db)
	recorder := audit.NewLogger(a.trail, locator)

	tool, err := invoke.NewProcessInvoker(invoke.Config{
		Executable: cfg.Tool.Executable,
		Script:     cfg.Tool.Script,
		Timeout:    cfg.Tool.Timeout,
		KillGrace:  cfg.Tool.KillGrace,
	})
	if err != nil {
		return nil, fmt.Errorf("tool invoker: %w", err)
	}

	a.runner, err = pipeline.New(pipeline.Options{
		Workspaces:   mgr,
		Invoker:      tool,
		Resolver:     res,
		Issuer:       a.broker,
		Opener:       reg,
		Audit:        recorder,
		Events:       a.hub,
		RetainFailed: cfg.Pipeline.RetainFailed,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	a.server = api.New(apiConfig(cfg), api.Deps{
		Runner:    a.runner,
		Downloads: a.broker,
		Trail:     a.trail,
		Audit:     recorder,
		Events:    a.hub,
	}, log.WithComponent("api"))

	a.reaper = reaper.New(reaperConfig(cfg), a.broker, mgr, a.hub, log.WithComponent("reaper"))

	logger.Info("components ready",
		"capability_backend", cfg.Capability.Backend,
		"scratch_dir", scratch,
		"geo", cfg.Geo.Enabled,
	)
	ok = true
	return a, nil
}

func (a *app) capabilityStore(ctx context.Context, cfg *config.Config) (capability.Store, error) {
	switch cfg.Capability.Backend {
	case config.BackendRedis:
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		return capability.NewRedisStore(a.rdb), nil
	case config.BackendSQLite:
		return capability.NewSQLiteStore(a.db), nil
	default:
		return capability.NewMemoryStore(), nil
	}
}

func newLocator(cfg config.GeoConfig) (geo.Locator, error) {
	if !cfg.Enabled {
		return geo.Disabled{}, nil
	}
	l, err := geo.NewHTTPLocator(cfg.Endpoint, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("geolocation: %w", err)
	}
	return l, nil
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:   t.Token,
			Hash:    t.TokenBcrypt,
			Subject: t.Subject,
			Scopes:  t.Scopes,
		})
	}
	return api.Config{
		Listen:               cfg.API.Listen,
		InteractiveHeader:    cfg.API.InteractiveHeader,
		MaxConcurrentBatches: cfg.API.MaxConcurrentBatches,
		MaxUploadBytes:       cfg.API.MaxUploadBytes,
		Tokens:               tokens,
		JWT:                  auth.JWTConfig{Secret: cfg.API.Auth.JWT.Secret, Issuer: cfg.API.Auth.JWT.Issuer},
		SessionSecret:        cfg.API.Auth.SessionSecret,
	}
}

func reaperConfig(cfg *config.Config) reaper.Config {
	return reaper.Config{
		Interval: cfg.Capability.ReapInterval,
		Sweep: workspace.SweepPolicy{
			OlderThan:   cfg.Pipeline.SweepAfter,
			RetainedFor: cfg.Pipeline.RetainFailed,
		},
	}
}
