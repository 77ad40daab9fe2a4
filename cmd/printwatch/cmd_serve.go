package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/config"
	"github.com/HerbHall/printwatch/internal/discovery"
	"github.com/HerbHall/printwatch/internal/event"
	"github.com/HerbHall/printwatch/internal/fleet"
	"github.com/HerbHall/printwatch/internal/history"
	"github.com/HerbHall/printwatch/internal/logging"
	"github.com/HerbHall/printwatch/internal/mqttbridge"
	"github.com/HerbHall/printwatch/internal/registry"
	"github.com/HerbHall/printwatch/internal/server"
	"github.com/HerbHall/printwatch/internal/store"
	"github.com/HerbHall/printwatch/internal/version"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, root.configPath)
		},
	}
}

// allPlugins lists every plugin compiled into the binary.
func allPlugins() []plugin.Plugin {
	return []plugin.Plugin{
		fleet.New(),
		history.New(),
		discovery.New(),
		mqttbridge.New(),
	}
}

func serve(ctx context.Context, configPath string) error {
	v, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(v.GetString("log.level"), v.GetString("log.format"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("printwatch starting", zap.String("version", version.Short()))

	cfg := config.New(v)

	db, err := store.New(cfg.GetString("database.path"))
	if err != nil {
		return err
	}
	defer db.Close()

	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))
	for _, p := range allPlugins() {
		if err := reg.Register(p); err != nil {
			return err
		}
		name := p.Info().Name
		key := "plugins." + name + ".enabled"
		if cfg.IsSet(key) && !cfg.GetBool(key) {
			reg.Disable(name, "disabled by configuration")
		}
	}
	if err := reg.Validate(); err != nil {
		return err
	}

	deps := func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config: cfg.Sub("plugins." + name),
			Logger: logger.Named(name),
			Bus:    bus,
			Store:  db,
		}
	}
	// ctx only ends the serve loop; startup must finish even if a signal
	// already arrived.
	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStart()
	if err := reg.InitAll(startCtx, deps); err != nil {
		return err
	}
	for _, sub := range reg.Subscriptions() {
		bus.Subscribe(sub.Topic, sub.Handler)
	}
	if err := reg.StartAll(startCtx); err != nil {
		reg.StopAll(context.Background())
		return err
	}

	addr := net.JoinHostPort(cfg.GetString("server.host"), cfg.GetString("server.port"))
	srv := server.New(addr, reg, logger.Named("server"), server.WithDatabase(db))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("printwatch ready", zap.String("addr", addr))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	reg.StopAll(shutdownCtx)
	logger.Info("printwatch stopped")

	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}
