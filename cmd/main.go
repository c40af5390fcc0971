package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/api"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/complexity"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/health"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/inference"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/lifecycle"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/middleware"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/cache"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/logger"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

var version = "dev"

// store is what the service needs from persistence. Both database.DB and
// database.MemoryStore satisfy it.
type store interface {
	lifecycle.Store
	api.Store
	analytics.QueryStats
	registry.Catalog
	health.Pinger
	SeedModels(ctx context.Context, catalog []models.ModelDescriptor) error
}

func main() {
	app := &cli.App{
		Name:    "promptrouter",
		Usage:   "Budget-aware LLM query router",
		Version: version,
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (default)",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations and seed the model catalog, then exit",
				Action: migrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("promptrouter exited with error")
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogPretty); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadCatalog returns the YAML catalog when configured, else the built-in one.
func loadCatalog(cfg *config.Config) ([]models.ModelDescriptor, error) {
	if cfg.CatalogFile == "" {
		return registry.DefaultCatalog(), nil
	}
	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	log.Info().Str("file", cfg.CatalogFile).Int("models", len(catalog)).Msg("loaded model catalog")
	return catalog, nil
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	db, err := database.New(c.Context, cfg.DSN())
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.RedactedDSN(), err)
	}
	defer db.Close()

	if err := db.Migrate(c.Context); err != nil {
		return err
	}
	if err := db.SeedModels(c.Context, catalog); err != nil {
		return err
	}
	log.Info().Msg("migrations applied and catalog seeded")
	return nil
}

// openStore connects to PostgreSQL, falling back to the in-memory store when
// the database is unreachable.
func openStore(ctx context.Context, cfg *config.Config) (store, func()) {
	db, err := database.New(ctx, cfg.DSN())
	if err != nil {
		log.Warn().Err(err).Str("dsn", cfg.RedactedDSN()).
			Msg("database unavailable, running with in-memory store; records will not survive a restart")
		return database.NewMemoryStore(), func() {}
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.Migrate(migrateCtx); err != nil {
		db.Close()
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("database connected and migrations applied")
	return db, db.Close
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting promptrouter")

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence and catalog.
	st, closeStore := openStore(ctx, cfg)
	defer closeStore()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	if err := st.SeedModels(ctx, catalog); err != nil {
		log.Warn().Err(err).Msg("failed to seed model catalog")
	}
	seed, err := st.ListModels(ctx)
	if err != nil || len(seed) == 0 {
		log.Warn().Err(err).Msg("could not read catalog from store, using configured catalog")
		seed = catalog
	}
	reg := registry.New(st, seed)

	// Redis is optional: without it rate limiting is per process and the
	// ledger starts each run from zero.
	var (
		limiter    middleware.Limiter
		cachePing  health.Pinger
		checkpoint budget.Checkpointer
	)
	redisCtx, cancelRedis := context.WithTimeout(ctx, 5*time.Second)
	rc, err := cache.NewCache(redisCtx, cache.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cancelRedis()
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, rate limiting is local and the budget is not checkpointed")
	} else {
		defer rc.Close()
		limiter, cachePing = rc, rc
		checkpoint = budget.KVCheckpointer{Store: rc}
	}

	// Budget.
	ledger := budget.NewLedger(budget.Config{
		MonthlyCapCents:     cfg.MonthlyBudgetCents,
		AlertThresholdCents: cfg.BudgetAlertThresholdCents,
	})
	if checkpoint != nil {
		if err := budget.RestoreFrom(ctx, ledger, checkpoint); err != nil {
			log.Warn().Err(err).Msg("could not restore budget checkpoint")
		}
	}
	snap := ledger.Snapshot()
	log.Info().
		Float64("cap_cents", snap.MonthlyCapCents).
		Float64("settled_cents", snap.SettledCents).
		Time("period_start", snap.PeriodStart).
		Msg("budget ledger ready")

	// Routing and lifecycle.
	var client inference.Client = inference.Loopback{}
	if cfg.InferenceMode == config.InferenceHTTP {
		client = inference.NewHTTPClient(inference.Keys{
			OpenAI:    cfg.OpenAIKey,
			Anthropic: cfg.AnthropicKey,
			Gemini:    cfg.GeminiKey,
		})
	}
	engine := router.NewEngine(ledger, router.PolicyFor(router.RoutingStrategy(cfg.RoutingStrategy)))
	manager := lifecycle.NewManager(lifecycle.Deps{
		Store:     st,
		Analyzer:  complexity.NewAnalyzer(complexity.LengthPolicy{Scale: cfg.ComplexityScale}),
		Catalog:   reg,
		Allocator: engine,
		Ledger:    ledger,
		Inference: client,
	}, lifecycle.Config{
		InferenceTimeout: cfg.InferenceTimeout,
		MaxTextLength:    cfg.MaxQueryLength,
	})
	if _, err := manager.RecoverOrphans(ctx); err != nil {
		log.Warn().Err(err).Msg("could not scan for orphaned queries")
	}

	// Background workers.
	bgCtx, cancelBg := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	runBg := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(bgCtx)
		}()
	}
	runBg(func(ctx context.Context) { manager.Run(ctx, cfg.ReapInterval) })
	runBg(func(ctx context.Context) { reg.Run(ctx, cfg.RegistryRefresh) })
	runBg(func(ctx context.Context) { budget.RunPeriodRollover(ctx, ledger) })
	if checkpoint != nil {
		runBg(func(ctx context.Context) { budget.RunCheckpoints(ctx, ledger, checkpoint, cfg.CheckpointInterval) })
	}

	// HTTP.
	handlers := api.NewHandlers(api.Deps{
		Queries:  manager,
		Store:    st,
		Registry: reg,
		Ledger:   ledger,
		Finance:  analytics.NewFinanceReporter(st, ledger),
		Health: health.NewMonitor(health.Deps{
			Store:    st,
			Cache:    cachePing,
			Registry: reg,
			Ledger:   ledger,
		}, 2*time.Second),
		Version: version,
	})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	r.Use(middleware.RateLimitMiddleware(limiter, cfg.RateLimitPerMin, time.Minute))

	if cfg.AdminAPIKey == "" {
		log.Warn().Msg("PROMPTROUTER_ADMIN_API_KEY not set; admin API is disabled")
	}
	handlers.Register(r, middleware.AdminAuth(cfg.AdminAPIKey))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.InferenceTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("promptrouter is ready")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case err := <-serveErr:
		if err != nil {
			cancelBg()
			wg.Wait()
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Stop workers after in-flight requests drain so the final checkpoint sees them.
	cancelBg()
	wg.Wait()
	log.Info().Msg("server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Admin-Key", "X-User-ID", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
