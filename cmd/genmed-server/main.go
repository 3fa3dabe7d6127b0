package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/genmed/genmed/internal/config"
	"github.com/genmed/genmed/internal/domain/notes"
	"github.com/genmed/genmed/internal/domain/users"
	"github.com/genmed/genmed/internal/platform/accesslog"
	"github.com/genmed/genmed/internal/platform/aigateway"
	"github.com/genmed/genmed/internal/platform/auth"
	"github.com/genmed/genmed/internal/platform/blobstore"
	"github.com/genmed/genmed/internal/platform/db"
	"github.com/genmed/genmed/internal/platform/metrics"
	"github.com/genmed/genmed/internal/platform/middleware"
	"github.com/genmed/genmed/internal/platform/openapi"
	"github.com/genmed/genmed/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "genmed-server",
		Short: "GenMed clinical documentation API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the GenMed API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func withMigrator(ctx context.Context, dir string, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrationSource(dir)))
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// components are the long-lived services the router is assembled from.
type components struct {
	cfg       *config.Config
	logger    zerolog.Logger
	collector *metrics.Collector
	pinger    db.Pinger
	audit     []middleware.AuditRecorder
	authMW    *auth.Middleware
	users     *users.Handler
	notes     *notes.Handler
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger = newLogger(cfg.Env)
	if cfg.RequestTimeout > 0 && cfg.RequestTimeout <= cfg.AIBudget() {
		logger.Warn().Dur("request_timeout", cfg.RequestTimeout).Dur("ai_budget", cfg.AIBudget()).
			Msg("request timeout is shorter than the AI retry budget; slow notes will be returned degraded")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	collector := metrics.NewCollector()
	collector.RegisterPool(pool)

	tokens, err := auth.NewTokenService(cfg.SecretKey, cfg.AccessTokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token service")
	}
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)

	userSvc := users.NewService(users.NewUserRepo(pool), db.NewPoolTx(pool), hasher, tokens, collector, logger)
	authMW := auth.NewMiddleware(tokens, userSvc, logger)

	ai, err := aigateway.NewClient(aigateway.Config{
		ChatAPIKey:     cfg.GroqAPIKey,
		ChatBaseURL:    cfg.GroqBaseURL,
		Model:          cfg.GroqModel,
		DeepgramAPIKey: cfg.DeepgramAPIKey,
		DeepgramURL:    cfg.DeepgramURL,
		Timeout:        cfg.AITimeout,
		MaxRetries:     cfg.AIMaxRetries,
	}, logger, aigateway.WithObserver(collector))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create AI gateway")
	}

	audio, err := blobstore.New(ctx, blobstore.Options{
		Kind:    cfg.AudioStore,
		MaxSize: middleware.ParseLimit(cfg.MaxAudioSize),
		Dir:     cfg.AudioStoreDir,
		S3: blobstore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create audio store")
	}
	logger.Info().Str("kind", cfg.AudioStore).Msg("audio staging store ready")

	noteSvc := notes.NewService(notes.NewNoteRepo(pool), ai, audio, collector, logger)

	accessLog := accesslog.NewWriter(accesslog.NewPGStore(pool), accesslog.DefaultBuffer, logger)

	e := newRouter(components{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		pinger:    pool,
		audit:     []middleware.AuditRecorder{accessLog},
		authMW:    authMW,
		users:     users.NewHandler(userSvc),
		notes:     notes.NewHandler(noteSvc),
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	if err := accessLog.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("access log not fully flushed")
	}
	if dropped, failed := accessLog.Stats(); dropped > 0 || failed > 0 {
		logger.Warn().Int64("dropped", dropped).Int64("failed", failed).Msg("access log entries lost")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func isProbe(c echo.Context) bool {
	switch c.Request().URL.Path {
	case "/health", "/health/db", "/metrics":
		return true
	}
	return false
}

func newRouter(c components) *echo.Echo {
	cfg := c.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(c.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(c.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.MaxAudioSize))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	rateLimitCfg.Skipper = isProbe
	e.Use(middleware.RateLimit(rateLimitCfg))
	e.Use(middleware.Metrics(c.collector))
	e.Use(middleware.Audit(c.logger, c.audit...))

	e.GET("/", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, map[string]string{"message": "GenMed API is running"})
	})
	e.GET("/health", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(c.pinger, c.logger))
	e.GET("/metrics", echo.WrapHandler(c.collector.Handler()))

	c.users.RegisterRoutes(e.Group("/users"))
	c.notes.RegisterRoutes(e.Group("/notes"), c.authMW)

	docs := openapi.NewGenerator("GenMed API", version, fmt.Sprintf("http://localhost:%s", cfg.Port))
	docs.Add(c.users.Operations("/users")...)
	docs.Add(c.notes.Operations("/notes")...)
	docs.RegisterRoutes(e)

	return e
}
