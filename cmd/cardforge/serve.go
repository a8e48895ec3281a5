package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/howard-nolan/cardforge/internal/card"
	"github.com/howard-nolan/cardforge/internal/config"
	"github.com/howard-nolan/cardforge/internal/metrics"
	"github.com/howard-nolan/cardforge/internal/objectstore"
	"github.com/howard-nolan/cardforge/internal/palette"
	"github.com/howard-nolan/cardforge/internal/provider"
	"github.com/howard-nolan/cardforge/internal/server"
	"github.com/howard-nolan/cardforge/internal/store"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and card API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(os.Stderr, cfg.SlogLevel(), true)

	rec := metrics.New()
	clients, err := buildClients(cfg, logger, rec)
	if err != nil {
		return err
	}

	db, err := store.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	objects, err := objectstore.New(cfg.Storage.Dir, cfg.Storage.PublicBaseURL)
	if err != nil {
		return err
	}

	// Validate guarantees both designer providers are configured.
	designer := &card.Designer{
		Chat:      clients[provider.ID(cfg.Designer.ChatProvider)],
		Images:    clients[provider.ID(cfg.Designer.ImageProvider)],
		Profiles:  db,
		Cards:     db,
		Objects:   objects,
		Palette:   palette.New(&http.Client{Timeout: 15 * time.Second}),
		ImageSize: provider.ImageSize(cfg.Designer.ImageSize),
		Logger:    logger.With("component", "designer"),
	}

	srv := server.New(server.Deps{
		Providers:       clients,
		DefaultProvider: provider.ID(cfg.Gateway.DefaultProvider),
		Profiles:        db,
		Cards:           db,
		Service:         &card.Service{Profiles: db, Cards: db},
		Designer:        designer,
		Objects:         objects.Handler(),
		Metrics:         rec.Handler(),
		Logger:          logger,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cardforge listening", "port", cfg.Server.Port, "default_provider", cfg.Gateway.DefaultProvider)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
