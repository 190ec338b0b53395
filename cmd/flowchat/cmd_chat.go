package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/flowchat/internal/console"
)

func init() {
	rootCmd.AddCommand(chatCmd, askCmd, healthCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := newClient(cfg)
		// Report a down backend without holding up the prompt.
		go func() {
			if _, err := client.Health(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("backend health check failed", "error", err)
			}
		}()

		controller := console.New(client, client, newBudget(cfg), os.Stdin, os.Stdout)
		err := controller.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := newClient(cfg)
		controller := console.New(client, client, newBudget(cfg), os.Stdin, os.Stdout)
		if err := controller.Ask(ctx, strings.Join(args, " ")); err != nil {
			return errReported
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		status, err := newClient(cfg).Health(cmd.Context())
		if err != nil {
			return err
		}
		for k, v := range status {
			fmt.Fprintf(os.Stdout, "%s: %v\n", k, v)
		}
		return nil
	},
}
