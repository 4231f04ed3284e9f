package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/pyportal/internal/api"
	"github.com/felixgeelhaar/pyportal/internal/config"
)

var (
	serveRefresh bool
	serveWorker  bool
	serveSandbox string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the exercise catalogue and execution endpoints.

With --worker and the queue executor, the process also consumes run jobs
itself, which is handy for a single-node deployment.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("refresh") {
			cfg.Server.RefreshOnStart = serveRefresh
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveRefresh, "refresh", false, "reload exercises from disk before serving")
	serveCmd.Flags().BoolVar(&serveWorker, "worker", false, "also consume queue jobs in-process (queue executor only)")
	serveCmd.Flags().StringVar(&serveSandbox, "sandbox", config.ExecutorLocal, "executor for in-process jobs: local or docker")
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("close resources", "error", err)
		}
	}()

	if err := a.openCatalogue(ctx); err != nil {
		return fmt.Errorf("open catalogue: %w", err)
	}
	if err := a.connectPocketBase(ctx); err != nil {
		return fmt.Errorf("connect data backend: %w", err)
	}
	if err := a.openGateway(ctx); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}

	if cfg.Server.RefreshOnStart {
		// A failed refresh keeps the previous catalogue, so keep serving.
		if n, err := a.exercises.Refresh(ctx); err != nil {
			slog.Warn("startup refresh failed", "error", err)
		} else {
			slog.Info("exercises loaded", "count", n)
		}
	}

	router := api.NewRouter(a.apiDeps())
	defer router.Close()

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Execution holds the connection for the whole run
		WriteTimeout: cfg.RunnerTimeout() + 30*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("portal listening", "addr", server.Addr, "version", Version, "executor", cfg.Runner.Executor)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if serveWorker {
		if cfg.Runner.Executor != config.ExecutorQueue {
			fmt.Fprintln(os.Stderr, "--worker ignored: runner.executor is not queue")
		} else {
			consumer, err := a.newConsumer(serveSandbox)
			if err != nil {
				stop()
				_ = g.Wait()
				return fmt.Errorf("start worker: %w", err)
			}
			g.Go(func() error {
				return consumer.Run(gctx)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("portal stopped")
	return nil
}
