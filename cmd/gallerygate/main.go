package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/GalleryGate/internal/config"
	"github.com/BrandonDHaskell/GalleryGate/internal/crm"
	"github.com/BrandonDHaskell/GalleryGate/internal/db"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/localtime"
	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/service"
	sqlitestore "github.com/BrandonDHaskell/GalleryGate/internal/gallery/store/sqlite"
	"github.com/BrandonDHaskell/GalleryGate/internal/grpcapi"
	"github.com/BrandonDHaskell/GalleryGate/internal/httpapi"
	"github.com/BrandonDHaskell/GalleryGate/internal/obs"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "gallerygate",
		Short:        "Appointment-based access codes for the photo gallery",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(todayCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the validation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply audit log migrations to AUDIT_DB_PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuditDBPath == "" {
				return fmt.Errorf("AUDIT_DB_PATH is not set")
			}

			ctx := cmd.Context()
			conn, err := db.Open(ctx, db.Config{Path: cfg.AuditDBPath})
			if err != nil {
				return err
			}
			defer conn.Close()

			statuses, err := db.Status(ctx, conn)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %s\n", "VERSION", "NAME", "APPLIED AT")
			for _, s := range statuses {
				applied := "pending"
				if s.AppliedAt != nil {
					applied = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%-10d %-40s %s\n", s.Version, s.Name, applied)
			}
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <code>",
		Short: "Validate one code against today's appointments and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig()
			if err != nil {
				return err
			}
			logger := obs.NewLogger(cfg.Env, cfg.LogLevel)
			validator, _ := buildValidator(cfg, logger)

			verdict, err := validator.Validate(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("lookup failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if verdict.Valid {
				fmt.Fprintln(out, "valid")
				return nil
			}
			fmt.Fprintf(out, "invalid (%s): %s\n", verdict.Outcome, verdict.Reason)
			return nil
		},
	}
}

func todayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Print the UTC bounds of the gallery's current local day",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loc, ok := cfg.Location()
			if !ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: GALLERY_UTC_OFFSET %q is malformed, using UTC\n", cfg.UTCOffset)
			}

			day := localtime.DayOf(time.Now(), loc)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "offset: %s\n", loc)
			fmt.Fprintf(out, "start:  %s (%d)\n", day.Start.Format(time.RFC3339Nano), day.Start.UnixMilli())
			fmt.Fprintf(out, "end:    %s (%d)\n", day.End.Format(time.RFC3339Nano), day.End.UnixMilli())
			return nil
		},
	}
}

func loadValidConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildValidator assembles the lookup and validator from configuration.
// The returned settings are what both were built with.
func buildValidator(cfg *config.Config, logger zerolog.Logger, opts ...service.ValidatorOption) (*service.CodeValidator, service.Settings) {
	loc, ok := cfg.Location()
	if !ok {
		logger.Warn().Str("offset", cfg.UTCOffset).Msg("malformed GALLERY_UTC_OFFSET, using UTC")
	}

	settings := service.Settings{
		LocationID: cfg.CRMLocationID,
		APIKey:     cfg.CRMAPIKey,
		Location:   loc,
		Window: service.AccessWindow{
			Before: cfg.WindowBefore,
			After:  cfg.WindowAfter,
		},
	}

	client := crm.NewClient(crm.Options{
		BaseURL: cfg.CRMBaseURL,
		Timeout: cfg.CRMTimeout,
	})
	lookup := service.NewAppointmentLookup(client, settings)

	opts = append([]service.ValidatorOption{service.WithLogger(logger)}, opts...)
	return service.NewCodeValidator(lookup, settings, opts...), settings
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracer(ctx, obs.TracingConfig{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "gallerygate",
		Version:     version,
		Env:         cfg.Env,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	// Audit log (optional)
	var opts []service.ValidatorOption
	if cfg.AuditDBPath != "" {
		conn, writer, err := openAudit(ctx, cfg.AuditDBPath)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer writer.Close()

		events := sqlitestore.NewValidationEventStore(conn, writer)
		opts = append(opts, service.WithEventStore(events))

		pruner := service.NewAuditPruner(events, service.PrunerConfig{
			RetentionDays: cfg.AuditRetentionDays,
			IntervalHours: cfg.AuditPruneIntervalHours,
		}, logger)
		pruner.Start(ctx)
		defer pruner.Stop()

		logger.Info().Str("path", cfg.AuditDBPath).Msg("audit log enabled")
	}

	validator, settings := buildValidator(cfg, logger, opts...)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:         logger,
		Addr:           cfg.HTTPAddr,
		Validator:      validator,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	httpLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}

	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		grpcLn, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return fmt.Errorf("listen grpc: %w", err)
		}
		health = grpcapi.NewServer()
		go func() {
			logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc health listening")
			if err := health.Serve(grpcLn); err != nil {
				logger.Error().Err(err).Msg("grpc server error")
				stop()
			}
		}()
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("location_id", settings.LocationID).
			Str("offset", settings.Location.String()).
			Dur("window_before", settings.Window.Before).
			Dur("window_after", settings.Window.After).
			Msg("listening")
		if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()
	if health != nil {
		health.SetServing(true)
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if health != nil {
		health.SetServing(false)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if health != nil {
		health.Stop()
	}
	return nil
}

func openAudit(ctx context.Context, path string) (*sql.DB, *db.Writer, error) {
	conn, err := db.Open(ctx, db.Config{Path: path})
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return conn, db.NewWriter(conn, 0), nil
}
