package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/flowchat/internal/config"
	"github.com/user/flowchat/internal/tokens"
	"github.com/user/flowchat/pkg/workflow/remote"
)

// errReported marks failures the command already showed to the user.
var errReported = errors.New("reported")

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "flowchat",
	Short:         "Chat with the workflow search backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func newClient(cfg *config.Config) *remote.Client {
	return remote.New(&remote.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
	})
}

func newBudget(cfg *config.Config) *tokens.Budget {
	budget, err := tokens.New(cfg.Chat.TokenizerModel, cfg.Chat.MaxQueryTokens)
	if err != nil {
		slog.Warn("query length check disabled", "error", err)
		return nil
	}
	return budget
}
