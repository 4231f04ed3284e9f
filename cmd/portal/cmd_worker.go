package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pyportal/internal/config"
)

var workerSandbox string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume run jobs from the queue",
	Long: `Connect to RabbitMQ and execute queued submissions with the local or
Docker executor, replying to each job's reply queue.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a := newApp(cfg)
		defer a.Close()

		consumer, err := a.newConsumer(workerSandbox)
		if err != nil {
			return fmt.Errorf("start worker: %w", err)
		}

		slog.Info("worker running", "sandbox", workerSandbox, "workers", cfg.Queue.Workers)
		if err := consumer.Run(ctx); err != nil {
			return err
		}
		slog.Info("worker stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerSandbox, "sandbox", config.ExecutorLocal, "executor for jobs: local or docker")
}
