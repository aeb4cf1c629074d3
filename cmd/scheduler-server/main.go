package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/scheduler/internal/config"
	"github.com/ehr/scheduler/internal/domain/scheduling"
	"github.com/ehr/scheduler/internal/platform/db"
	"github.com/ehr/scheduler/internal/platform/middleware"
	"github.com/ehr/scheduler/internal/platform/notification"
	"github.com/ehr/scheduler/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "scheduler-server",
		Short:        "Appointment scheduling API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(proceduresCmd())
	rootCmd.AddCommand(recalcCmd())
	rootCmd.AddCommand(catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func proceduresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "procedures",
		Short: "List the procedure catalog the server would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			catalog, pool, err := openCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}
			return printProcedures(cmd.OutOrStdout(), catalog.List())
		},
	}
}

func recalcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalc [file]",
		Short: "Recalculate a JSON schedule file and print the result",
		Long: "Reads {\"break_policy\": {...}, \"appointments\": [...]} from the file " +
			"(or stdin when omitted) and prints the recalculated appointments as JSON.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runRecalc(in, cmd.OutOrStdout())
		},
	}
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the Postgres procedure catalog",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the procedures table and seed the default procedures",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := scheduling.InitCatalogPG(ctx, pool, scheduling.DefaultProcedures())
			if err != nil {
				return fmt.Errorf("catalog init failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d procedure(s).\n", n)
			return nil
		},
	}
	cmd.AddCommand(initCmd)
	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	level, _ := cfg.Level()
	logger = logger.Level(level)

	// Catalog
	ctx := context.Background()
	catalog, pool, err := openCatalog(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load procedure catalog")
	}
	if pool != nil {
		defer pool.Close()
	}
	logger.Info().Int("procedures", len(catalog.List())).Bool("postgres", pool != nil).Msg("procedure catalog loaded")

	// Scheduling core
	store := scheduling.NewStore(catalog, scheduling.BreakSettings{
		DurationMinutes: cfg.BreakDuration,
		Enabled:         cfg.BreakEnabled,
	})

	metrics := telemetry.NewProvider()

	sms := &notification.LogSMSSender{From: cfg.SMSFrom, Logger: logger.With().Str("component", "sms").Logger()}
	notifyMgr := notification.NewManager(sms, notification.NewTemplateEngine())
	var notifier scheduling.Notifier
	if cfg.NotifyEnabled {
		notifier = newSMSNotifier(notifyMgr, metrics, logger)
	}
	svc := scheduling.NewService(store, notifier, cfg.TimeStep, logger)
	registerMetrics(metrics, svc, notifyMgr)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", metrics.Handler())

	scheduling.NewHandler(svc).RegisterRoutes(apiV1)
	notification.NewHandler(notifyMgr).RegisterRoutes(apiV1)

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
	logger.Info().Msg("server stopped")
	return nil
}

// openCatalog loads procedures from Postgres when DATABASE_URL is set and
// falls back to the built-in catalog otherwise. The returned pool is nil in
// the fallback case.
func openCatalog(ctx context.Context, cfg *config.Config) (scheduling.Catalog, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return scheduling.MustDefaultCatalog(), nil, nil
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	catalog, err := scheduling.LoadCatalogPG(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return catalog, pool, nil
}

func registerMetrics(p *telemetry.Provider, svc *scheduling.Service, mgr *notification.Manager) {
	p.DescribeCounter(metricSMSSent, "SMS notifications handed to the sender, by template.", "template")
	p.DescribeCounter(metricSMSFailed, "SMS notifications that failed to send, by template.", "template")
	p.GaugeFunc("schedule_appointments", "Appointments in the current schedule.", "", func() map[string]int64 {
		return map[string]int64{"": int64(len(svc.Schedule()))}
	})
	p.GaugeFunc("schedule_break_minutes", "Effective gap inserted between appointments.", "", func() map[string]int64 {
		return map[string]int64{"": int64(svc.BreakPolicy().Gap() / time.Minute)}
	})
	p.GaugeFunc("notifications_logged", "Logged notifications by delivery status.", "status", func() map[string]int64 {
		out := make(map[string]int64)
		for status, n := range mgr.Stats() {
			out[status] = int64(n)
		}
		return out
	})
}

type recalcInput struct {
	BreakPolicy  *scheduling.BreakSettings `json:"break_policy"`
	Appointments []scheduling.Appointment  `json:"appointments"`
}

func runRecalc(r io.Reader, w io.Writer) error {
	var in recalcInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return &scheduling.ValidationError{Field: "input", Message: err.Error()}
	}
	policy := scheduling.DefaultBreakSettings()
	if in.BreakPolicy != nil {
		policy = *in.BreakPolicy
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	for i := range in.Appointments {
		a := &in.Appointments[i]
		if a.StartTime.IsZero() {
			return &scheduling.ValidationError{Field: fmt.Sprintf("appointments[%d].start_time", i), Message: "is required"}
		}
		// Only the anchor keeps its end time; fill it in when omitted.
		if a.EndTime.IsZero() {
			a.EndTime = a.StartTime.Add(a.TotalDuration())
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(scheduling.Recalculate(in.Appointments, policy))
}

func printProcedures(w io.Writer, procs []scheduling.Procedure) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDURATION")
	for _, p := range procs {
		fmt.Fprintf(tw, "%s\t%s\t%d min\n", p.ID, p.Name, p.DurationMinutes)
	}
	return tw.Flush()
}
