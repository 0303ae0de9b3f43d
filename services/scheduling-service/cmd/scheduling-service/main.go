package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dteedee/medix/libs/auth"
	"github.com/dteedee/medix/libs/db"
	"github.com/dteedee/medix/libs/httpx"
	otelx "github.com/dteedee/medix/libs/otel"
	"github.com/dteedee/medix/libs/runtime"
	"github.com/dteedee/medix/services/scheduling-service/internal/grpcserver"
	"github.com/dteedee/medix/services/scheduling-service/internal/handlers"
	"github.com/dteedee/medix/services/scheduling-service/internal/refunds"
	"github.com/dteedee/medix/services/scheduling-service/migrations"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	root := &cobra.Command{
		Use:          "scheduling-service",
		Short:        "Doctor availability and appointment scheduling",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), reconcileCmd(), migrateCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers with the background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Expire past schedule overrides once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)
			ctx, stop := runtime.SignalContext()
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.reconciler.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d overrides\n", n)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	open := func(ctx context.Context) (*db.Migrator, func(), error) {
		cfg, err := loadSettings()
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store != "postgres" {
			return nil, nil, errors.New("migrations need STORE=postgres")
		}
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: 2})
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, migrations.FS), pool.Close, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := m.Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", n)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range statuses {
				if s.Applied {
					fmt.Fprintf(out, "%03d  %-40s applied %s\n", s.Version, s.Name, s.AppliedAt.Format(time.RFC3339))
				} else {
					fmt.Fprintf(out, "%03d  %-40s pending\n", s.Version, s.Name)
				}
			}
			return nil
		},
	})
	return cmd
}

func serve(cfg settings) error {
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		return err
	}
	defer a.Close()

	h := handlers.New(handlers.Deps{
		Resolver:            a.resolver,
		Guard:               a.guard,
		Lifecycle:           a.lifecycle,
		Schedule:            a.schedule,
		Logger:              logger,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
	})

	var protect httpx.Middleware
	if cfg.JWTSecret != "" {
		protect = auth.Middleware(cfg.JWTSecret, handlers.Unauthorized)
	} else {
		logger.Warn("JWT_SECRET not set; trusting identity headers from the gateway")
		protect = auth.TrustedHeaders(handlers.Unauthorized)
	}

	var limiter httpx.Limiter
	if a.redis != nil {
		limiter = httpx.NewRedisLimiter(a.redis, cfg.RateLimitPerMin, time.Minute, "medix:ratelimit:book")
	} else {
		limiter = httpx.NewMemoryLimiter(cfg.RateLimitPerMin, time.Minute)
	}
	limit := httpx.RateLimit(limiter, bookingKey, logger, true)

	mux := runtime.NewBaseMuxWithReady(a.checks...)
	h.Register(mux, protect, limit)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	tasks := []runtime.Task{
		func(ctx context.Context) error { return runHTTP(ctx, srv, logger) },
		func(ctx context.Context) error {
			return grpcserver.New(logger, a.checks, 10*time.Second).Run(ctx, ":"+cfg.GRPCPort)
		},
		runtime.Loop(a.reconciler.Run),
	}
	if a.publisher != nil {
		tasks = append(tasks, runtime.Loop(a.publisher.Run))
	}
	if cfg.StripeSecretKey != "" {
		refunder, err := refunds.NewStripeRefunder(cfg.StripeSecretKey)
		if err != nil {
			return err
		}
		worker := refunds.NewWorker(a.store, a.lifecycle, refunder, logger, refunds.WorkerConfig{Interval: cfg.RefundInterval})
		tasks = append(tasks, runtime.Loop(worker.Run))
	} else {
		logger.Warn("refund worker disabled (STRIPE_SECRET_KEY not set)")
	}

	err = runtime.Group(ctx, tasks...)
	logger.Info("scheduling service stopped")
	return err
}

func runHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	return nil
}

// bookingKey buckets booking writes per authenticated caller, falling back to
// the client address.
func bookingKey(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.ID != "" {
		return "user:" + p.ID
	}
	return "ip:" + httpx.ClientIP(r)
}
