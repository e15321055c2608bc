package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/asaidimu/go-anansi-rest/api"
	"github.com/asaidimu/go-anansi-rest/config"
	"github.com/asaidimu/go-anansi-rest/core/persistence"
	"github.com/asaidimu/go-anansi-rest/memory"
	"github.com/asaidimu/go-anansi-rest/mongodb"
	"github.com/asaidimu/go-anansi-rest/sqlite"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	serve := func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	}

	root := &cobra.Command{
		Use:           "anansi-rest",
		Short:         "Serve a document store over a generic REST interface",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML, JSON or TOML)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
	config.RegisterFlags(root.Flags())
	config.RegisterFlags(serveCmd.Flags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			goVersion := "unknown"
			if info, ok := debug.ReadBuildInfo(); ok {
				goVersion = info.GoVersion
			}
			cmd.Printf("anansi-rest %s (%s)\n", version, goVersion)
		},
	}

	root.AddCommand(serveCmd, versionCmd)
	return root
}

// run serves until ctx is done, then shuts the server down and closes the
// store.
func run(ctx context.Context, cfg *config.Config) error {
	logger, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}()

	mapper, err := persistence.NewMapper(store,
		persistence.NamingPolicy{Prefix: cfg.Naming.Prefix},
		persistence.WithLogger(logger))
	if err != nil {
		return err
	}

	cors := api.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.Server.AllowedOrigins
	handler := api.NewServer(mapper, logger,
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		api.WithCORS(cors))

	server := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("backend", cfg.Store.Backend),
			zap.String("prefix", cfg.Naming.Prefix))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shut down: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persistence.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return sqlite.Open(cfg.Store.SQLite.Path, sqlite.WithLogger(logger))
	case config.BackendMongoDB:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Store.Mongo.Timeout)
		defer cancel()
		return mongodb.Connect(connectCtx, cfg.Store.Mongo.URI, cfg.Store.Mongo.Database,
			mongodb.WithLogger(logger),
			mongodb.WithTransactions(cfg.Store.Mongo.Transactions))
	default:
		return memory.New(memory.WithLogger(logger)), nil
	}
}
