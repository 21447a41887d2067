package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
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

	"github.com/clinica/agenda/internal/config"
	"github.com/clinica/agenda/internal/domain/agenda"
	"github.com/clinica/agenda/internal/platform/auth"
	"github.com/clinica/agenda/internal/platform/db"
	"github.com/clinica/agenda/internal/platform/middleware"
	"github.com/clinica/agenda/internal/platform/sweep"
	"github.com/clinica/agenda/internal/platform/validation"
	"github.com/clinica/agenda/internal/platform/websocket"
	"github.com/clinica/agenda/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agenda-server",
		Short: "Clinic appointment calendar API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(centerCmd())
	rootCmd.AddCommand(conflictsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agenda API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// loadConfig reads and validates the configuration shared by every command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	})
}

// migrationFiles returns the embedded migrations unless dir overrides them.
func migrationFiles(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a center schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			center, _ := cmd.Flags().GetString("center")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if center == "" {
				center = cfg.DefaultCenter
			}
			if !db.ValidCenterID(center) {
				return fmt.Errorf("invalid center id %q", center)
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(center)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("center", "", "Center identifier (defaults to DEFAULT_CENTER)")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status of a center schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			center, _ := cmd.Flags().GetString("center")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if center == "" {
				center = cfg.DefaultCenter
			}
			if !db.ValidCenterID(center) {
				return fmt.Errorf("invalid center id %q", center)
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(center)
			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(os.Stdout, schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("center", "", "Center identifier (defaults to DEFAULT_CENTER)")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func centerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "center",
		Short: "Manage clinic centers",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a center schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !db.ValidCenterID(name) {
				return fmt.Errorf("invalid center id %q", name)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating center schema: %s\n", db.SchemaName(name))
			if err := db.CreateCenterSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			fmt.Println("Center created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Center identifier (lowercase alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// parseWindow resolves the --from/--to flags of the conflicts command.
// Both are YYYY-MM-DD dates in loc; to is inclusive. Empty flags default to
// the seven days starting today.
func parseWindow(from, to string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	today := agenda.StartOfDay(now.In(loc))
	start, end := today, today.AddDate(0, 0, 7)
	if from != "" {
		t, err := time.ParseInLocation("2006-01-02", from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", from, err)
		}
		start = t
		end = t.AddDate(0, 0, 7)
	}
	if to != "" {
		t, err := time.ParseInLocation("2006-01-02", to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", to, err)
		}
		end = t.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must not be before --from")
	}
	return start, end, nil
}

func printConflicts(w io.Writer, conflicts []agenda.Conflict, summary agenda.ConflictSummary, loc *time.Location) {
	fmt.Fprintf(w, "%-26s %-8s %-16s %-6s %-36s %-36s\n", "TYPE", "SEVERITY", "START", "MIN", "FIRST", "SECOND")
	for _, c := range conflicts {
		a, b := c.Appointments[0], c.Appointments[1]
		fmt.Fprintf(w, "%-26s %-8s %-16s %-6d %-36s %-36s\n",
			c.Type, c.Severity, a.Date.In(loc).Format("2006-01-02 15:04"), a.Duration, a.ID, b.ID)
	}
	fmt.Fprintf(w, "%d conflict(s): %d error(s), %d warning(s)\n", summary.Total, summary.Errors, summary.Warnings)
}

func conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List scheduling conflicts of a center",
		RunE: func(cmd *cobra.Command, args []string) error {
			center, _ := cmd.Flags().GetString("center")
			fromFlag, _ := cmd.Flags().GetString("from")
			toFlag, _ := cmd.Flags().GetString("to")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if center == "" {
				center = cfg.DefaultCenter
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			from, to, err := parseWindow(fromFlag, toFlag, time.Now(), loc)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc, err := newAgendaService(pool, cfg, loc, nil, zerolog.Nop())
			if err != nil {
				return err
			}
			return db.RunInCenter(ctx, pool, center, func(ctx context.Context) error {
				conflicts, summary, err := svc.Conflicts(ctx, from, to)
				if err != nil {
					return err
				}
				printConflicts(os.Stdout, conflicts, summary, loc)
				return nil
			})
		},
	}
	cmd.Flags().String("center", "", "Center identifier (defaults to DEFAULT_CENTER)")
	cmd.Flags().String("from", "", "First day to scan, YYYY-MM-DD (defaults to today)")
	cmd.Flags().String("to", "", "Last day to scan, YYYY-MM-DD (defaults to six days after --from)")
	return cmd
}

func newAgendaService(pool *pgxpool.Pool, cfg *config.Config, loc *time.Location,
	publisher websocket.EventPublisher, logger zerolog.Logger) (*agenda.Service, error) {
	policy, err := agenda.ParsePolicy(cfg.ConflictPolicy)
	if err != nil {
		return nil, err
	}
	return agenda.NewService(
		agenda.NewAppointmentRepoPG(pool),
		agenda.NewRoomRepoPG(pool),
		agenda.NewTherapistScheduleRepoPG(pool),
		publisher,
		agenda.ServiceConfig{
			Grid: agenda.SlotGrid{
				StartHour:   cfg.DayStartHour,
				EndHour:     cfg.DayEndHour,
				StepMinutes: cfg.SlotMinutes,
			},
			Policy:         policy,
			Detector:       agenda.DetectorOptions{BufferMinutes: cfg.BufferMinutes, IgnoreInactive: true},
			Location:       loc,
			MeetingBaseURL: cfg.MeetingBaseURL,
		},
		logger,
	), nil
}

// jwtConfig maps the auth settings onto the JWT middleware.
func jwtConfig(cfg *config.Config) auth.JWTConfig {
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return jc
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("failed to load timezone")
	}

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(cfg.Timeout()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.CenterHeader},
	}))

	// Health check (no auth, no center)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Auth middleware
	var authMW, wsAuthMW echo.MiddlewareFunc
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled, every request runs as admin")
		authMW = auth.DevAuthMiddleware()
		wsAuthMW = authMW
	} else {
		authMW = auth.JWTMiddleware(jwtConfig(cfg))
		wsCfg := jwtConfig(cfg)
		wsCfg.TokenQueryParam = "access_token"
		wsAuthMW = auth.JWTMiddleware(wsCfg)
	}

	// Throttle before a pooled connection is taken for the center.
	rateMW := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})
	centerMW := db.CenterMiddleware(pool, cfg.DefaultCenter)

	// Realtime updates, scoped to the caller's center
	hub := websocket.NewHub(logger)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""), wsAuthMW, rateMW, centerMW)

	apiV1 := e.Group("/api/v1", authMW, rateMW, centerMW)

	svc, err := newAgendaService(pool, cfg, loc, hub, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build agenda service")
	}
	agenda.NewHandler(svc).RegisterRoutes(apiV1)

	// Conflict sweep
	var sweeper *sweep.Sweeper
	if cfg.SweepSchedule != "" {
		sweeper = sweep.New(
			sweep.Config{Schedule: cfg.SweepSchedule, Location: loc},
			func(ctx context.Context) ([]string, error) { return db.ListCenters(ctx, pool) },
			func(ctx context.Context, centerID string, from, to time.Time) (sweep.Result, error) {
				var res sweep.Result
				err := db.RunInCenter(ctx, pool, centerID, func(ctx context.Context) error {
					_, summary, err := svc.Conflicts(ctx, from, to)
					if err != nil {
						return err
					}
					res = sweep.Result{Total: summary.Total, Errors: summary.Errors, Warnings: summary.Warnings}
					return nil
				})
				return res, err
			},
			hub,
			logger,
		)
		if err := sweeper.Start(); err != nil {
			logger.Fatal().Err(err).Str("schedule", cfg.SweepSchedule).Msg("failed to start conflict sweep")
		}
		logger.Info().Str("schedule", cfg.SweepSchedule).Msg("conflict sweep scheduled")
	}

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("policy", cfg.ConflictPolicy).Msg("starting server")
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
	if sweeper != nil {
		select {
		case <-sweeper.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn().Msg("conflict sweep did not stop in time")
		}
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
