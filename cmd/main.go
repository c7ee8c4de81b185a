package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"twinpool/pkg/config"
	"twinpool/pkg/logger"
	redisstore "twinpool/pkg/store/redis"
	"twinpool/pkg/workspace/queue"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "twinpool",
		Short:         "Worker pool and job monitor control plane for digital twin workspaces",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// config.Init reads CONFIG_PATH; spawned workers inherit it
			if configPath != "" {
				os.Setenv("CONFIG_PATH", configPath)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or config/config.yaml)")

	root.AddCommand(newServeCmd(), newWorkerCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	// Create application instance
	app := NewApplication()

	// Initialize all components
	if err := app.Initialize(); err != nil {
		logger.FatalCtx(app.ctx, "Application initialization failed: %v", err)
	}

	// Start all components
	if err := app.Start(); err != nil {
		logger.FatalCtx(app.ctx, "Application startup failed: %v", err)
	}

	// Wait for exit signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.InfoCtx(app.ctx, "Received exit signal: %v", sig)

	// Graceful shutdown (30 seconds timeout)
	if err := app.Shutdown(30 * time.Second); err != nil {
		logger.ErrorCtx(app.ctx, "Application shutdown failed: %v", err)
		return err
	}

	logger.InfoCtx(app.ctx, "Application safely exited")
	return nil
}

func newWorkerCmd() *cobra.Command {
	var queueName, dir string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve jobs of one workspace queue (started by the control plane)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(); err != nil {
				return err
			}
			cfg := config.GlobalConfig
			if err := logger.Init(cfg.Logger); err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return queue.RunWorker(ctx, queue.RunnerOptions{
				Redis:        redisstore.AsynqOpt(cfg.Redis),
				Queue:        queueName,
				Dir:          dir,
				DrainTimeout: time.Duration(cfg.Workspace.JobTimeout) * time.Second,
			})
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "task queue to serve")
	cmd.Flags().StringVar(&dir, "dir", ".", "workspace directory jobs run in")
	cmd.MarkFlagRequired("queue")
	return cmd
}
