package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/config"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/dispatch"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/appointment"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/attendance"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/catalog"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/sequence"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/workforce"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/auth"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/db"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/middleware"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/push"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/telemetry"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/validation"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/migrations"
)

const (
	serviceName    = "icare-server"
	requestTimeout = 30 * time.Second
	shutdownGrace  = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "iCare appointment assignment and dispatch engine",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sequenceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			withWatcher, _ := cmd.Flags().GetBool("with-watcher")
			return runServer(withWatcher)
		},
	}
	cmd.Flags().Bool("with-watcher", false, "Also run the imminent-start watcher in this process")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the imminent-start watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatcher()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)

			store, err := dispatch.OpenGormLogStore(cfg.DispatchLogDatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("dispatch log migration failed: %w", err)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func sequenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Manage entity code counters",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a counter if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, _ := cmd.Flags().GetString("entity")
			initial, _ := cmd.Flags().GetString("initial")
			if entity == "" || initial == "" {
				return fmt.Errorf("--entity and --initial are required")
			}

			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := sequence.NewService(sequence.NewRepoPG(pool), db.NewTxRunner(pool), cfg.AllocatorMaxRetries)
			created, err := svc.Seed(ctx, entity, initial)
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Seeded %s at %s\n", entity, initial)
			} else {
				fmt.Printf("%s already seeded, left unchanged\n", entity)
			}
			return nil
		},
	}
	seedCmd.Flags().String("entity", "", "Entity name, e.g. APPOINTMENT")
	seedCmd.Flags().String("initial", "", "Last issued code, e.g. ICSPAPT000")
	cmd.AddCommand(seedCmd)

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: serviceName,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// app holds the dependencies shared by the HTTP server and the watcher.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	logStore dispatch.LogStore
	metrics  *telemetry.TelemetryProvider
}

func newTelemetry(cfg *config.Config) *telemetry.TelemetryProvider {
	return telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Env,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
	})
}

// newEcho builds the HTTP API with middleware and every route registered.
func newEcho(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	a.metrics.Describe("audit_events_total", "Mutating API requests recorded by the audit middleware.")
	e.Use(middleware.Audit(a.logger, middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		a.metrics.Inc("audit_events_total", telemetry.L("action", entry.Action))
		return nil
	})))
	e.Use(middleware.RequestTimeout(requestTimeout))

	checks := []db.Check{{Name: "dispatch_log", Ping: a.logStore.Ping}}
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool, checks...))
	e.GET("/metrics", a.metrics.PrometheusHandler())

	tx := db.NewTxRunner(a.pool)
	directory := workforce.NewDirectoryPG(a.pool)
	devices := workforce.NewDeviceRegistryPG(a.pool)
	seqSvc := sequence.NewService(sequence.NewRepoPG(a.pool), tx, cfg.AllocatorMaxRetries).WithMetrics(a.metrics)
	apptSvc := appointment.NewService(appointment.NewRepoPG(a.pool), tx, seqSvc, directory, catalog.NewReaderPG(a.pool))
	attSvc := attendance.NewService(attendance.NewRepoPG(a.pool), tx, seqSvc)

	apiV1 := e.Group("/api/v1")
	sequence.NewHandler(seqSvc).RegisterRoutes(apiV1)
	workforce.NewHandler(directory, devices).RegisterRoutes(apiV1)
	appointment.NewHandler(apptSvc).RegisterRoutes(apiV1)
	attendance.NewHandler(attSvc).RegisterRoutes(apiV1)
	dispatch.NewHandler(a.logStore).RegisterRoutes(apiV1)

	return e
}

func newWatcher(ctx context.Context, a *app) (*dispatch.Watcher, push.SenderCloser, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	sender, err := push.NewSender(ctx, push.Settings{
		Transport:    a.cfg.PushTransport,
		FCMEndpoint:  a.cfg.FCMEndpoint,
		FCMServerKey: a.cfg.FCMServerKey,
		KafkaBrokers: a.cfg.KafkaBrokers,
		KafkaTopic:   a.cfg.KafkaPushTopic,
		SQSQueue:     a.cfg.SQSPushQueue,
	}, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("push sender: %w", err)
	}
	w := dispatch.NewWatcher(dispatch.Config{
		Interval:  a.cfg.WatcherInterval,
		Lookahead: a.cfg.WatcherLookahead,
		Location:  loc,
	}, dispatch.NewPGSource(a.pool), workforce.NewDeviceRegistryPG(a.pool), a.logStore, sender, a.logger).
		WithMetrics(a.metrics)
	return w, sender, nil
}

// bootstrap connects both stores. The returned cleanup closes them.
func bootstrap(ctx context.Context) (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)

	pool, err := db.NewPool(ctx, db.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: serviceName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	logger.Info().Msg("connected to database")

	store, err := dispatch.OpenGormLogStore(cfg.DispatchLogDatabaseURL)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	a := &app{cfg: cfg, logger: logger, pool: pool, logStore: store, metrics: newTelemetry(cfg)}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close dispatch log store")
		}
		pool.Close()
	}
	return a, cleanup, nil
}

func runServer(withWatcher bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	e := newEcho(a)

	watcherDone := make(chan struct{})
	if withWatcher {
		w, sender, err := newWatcher(ctx, a)
		if err != nil {
			return err
		}
		defer sender.Close()
		go func() {
			defer close(watcherDone)
			_ = w.Run(ctx)
		}()
	} else {
		close(watcherDone)
	}

	go func() {
		addr := ":" + a.cfg.Port
		a.logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-watcherDone
	a.logger.Info().Msg("server stopped")
	return nil
}

// newMetricsEcho serves /metrics and /health for a standalone watcher.
func newMetricsEcho(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recovery(a.logger))
	e.GET("/metrics", a.metrics.PrometheusHandler())
	e.GET("/health", db.HealthHandler(a.pool, db.Check{Name: "dispatch_log", Ping: a.logStore.Ping}))
	return e
}

func runWatcher() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	w, sender, err := newWatcher(ctx, a)
	if err != nil {
		return err
	}
	defer sender.Close()

	if addr := a.cfg.WatcherMetricsAddr; addr != "" {
		me := newMetricsEcho(a)
		go func() {
			a.logger.Info().Str("addr", addr).Msg("serving watcher metrics")
			if err := me.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = me.Shutdown(shutdownCtx)
		}()
	}

	return w.Run(ctx)
}
