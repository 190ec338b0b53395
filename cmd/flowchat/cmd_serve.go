package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/flowchat/internal/gateway"
	"github.com/user/flowchat/internal/scheduler"
	"github.com/user/flowchat/internal/telegram"
	"github.com/user/flowchat/pkg/workflow/remote"
)

const (
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 10 * time.Second
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API gateway and, if configured, the Telegram bot",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(cfg.Gateway.BackendURL, int64(cfg.Gateway.MaxConcurrent))
	httpServer := &http.Server{
		Addr:              cfg.Gateway.Listen,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Telegram adapter
	var adapter *telegram.Adapter
	if cfg.Telegram.Token != "" {
		var err error
		adapter, err = telegram.New(cfg.Telegram.Token, newClient(cfg), newBudget(cfg))
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Backend health probe
	if cfg.Gateway.HealthSchedule != "" {
		backend := remote.New(&remote.Config{BaseURL: cfg.Gateway.BackendURL, Timeout: healthTimeout})
		probe := scheduler.NewHealthProbe(func(ctx context.Context) error {
			_, err := backend.Health(ctx)
			return err
		})
		sched := scheduler.New()
		err := sched.Add(scheduler.Job{Name: "backend-health", Schedule: cfg.Gateway.HealthSchedule, Run: probe.Run})
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		go probe.Run(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("gateway started",
			"listen", cfg.Gateway.Listen,
			"backend_url", cfg.Gateway.BackendURL,
			"max_concurrent", cfg.Gateway.MaxConcurrent,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		if !gw.WaitIdle(shutdownCtx) {
			slog.Warn("gateway requests still in flight at shutdown", "active", gw.Active())
		}
		return nil
	})

	if adapter != nil {
		g.Go(func() error {
			slog.Info("telegram adapter started")
			adapter.Start(ctx)
			return nil
		})
	}

	return g.Wait()
}
