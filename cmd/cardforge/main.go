// Package main is the entry point for the cardforge gateway and CLI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/howard-nolan/cardforge/internal/config"
	"github.com/howard-nolan/cardforge/internal/provider"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "cardforge",
		Short:         "AI business card generator and provider-agnostic AI gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(newServeCmd(&configPath), newChatCmd(&configPath))
	return root
}

// newLogger returns a JSON logger for the server and a text logger for
// interactive commands.
func newLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildClients creates one gateway client per configured vendor. They
// share a single HTTP client so connections are pooled across vendors.
func buildClients(cfg *config.Config, logger *slog.Logger, observer provider.Observer) (map[provider.ID]*provider.Client, error) {
	hc := provider.NewHTTPClient()
	clients := make(map[provider.ID]*provider.Client, len(cfg.Providers))

	for name, pc := range cfg.Providers {
		id, err := provider.Parse(name)
		if err != nil {
			return nil, err
		}
		opts := []provider.Option{
			provider.WithHTTPClient(hc),
			provider.WithLogger(logger.With("provider", name)),
		}
		if observer != nil {
			opts = append(opts, provider.WithObserver(observer))
		}
		if pc.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(pc.BaseURL))
		}
		if pc.DefaultModel != "" {
			opts = append(opts, provider.WithDefaultModel(pc.DefaultModel))
		}
		if pc.Timeout > 0 {
			opts = append(opts, provider.WithTimeout(pc.Timeout))
		}

		c, err := provider.New(id, pc.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		clients[id] = c
		if info, err := provider.Describe(id); err == nil {
			logger.Debug("registered provider", "provider", name, "operations", info.Operations)
		}
	}
	return clients, nil
}
