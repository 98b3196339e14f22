package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"hostpanel/internal/api"
	"hostpanel/internal/config"
	"hostpanel/internal/events"
	"hostpanel/internal/gateway"
	"hostpanel/internal/provision"
	"hostpanel/internal/store"
	"hostpanel/internal/watch"
	"hostpanel/pkg/logger"
	"hostpanel/pkg/plugin"
	"hostpanel/plugins/balance"
	"hostpanel/plugins/checkout"
	"hostpanel/plugins/ethgateway"
	"hostpanel/plugins/proxmox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("hostpaneld failed: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("HOSTPANEL_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "hostpanel.yaml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	}); err != nil {
		return err
	}
	defer logger.Sync()
	logL := logger.L()

	stateStore, closeStore, err := buildStateStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	dedup, closeDedup, err := buildDedup(cfg)
	if err != nil {
		return err
	}
	defer closeDedup()

	bus, err := buildBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	registry, err := plugin.New(plugin.Config{
		Dirs:  cfg.Plugins.Dirs,
		Store: stateStore,
	},
		plugin.WithLogger(logger.Named("registry")),
		plugin.WithBuiltins(balance.New(), checkout.New(), proxmox.New(), ethgateway.New()),
	)
	if err != nil {
		return err
	}
	failures, err := registry.Reload(ctx)
	if err != nil {
		return err
	}
	for _, failure := range failures {
		logL.Warn("plugin not admitted", "source", failure.Source, "error", failure.Err)
	}
	logL.Info("plugin registry ready", "plugins", len(registry.All()), "failures", len(failures))

	gatewaySvc := gateway.NewService(registry, dedup, bus, logger.Named("gateway"))
	provisionSvc := provision.NewService(registry, bus, logger.Named("provision"))
	server := api.NewServer(cfg.Server.Address, registry, gatewaySvc, provisionSvc, logger.Named("api"))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logL.Info("api server listening", "address", cfg.Server.Address)
		return server.Start(groupCtx)
	})
	if cfg.Plugins.Watch {
		watcher := watch.New(cfg.Plugins.Dirs, func(ctx context.Context) error {
			_, err := registry.Reload(ctx)
			return err
		}, logger.Named("watch"))
		group.Go(func() error {
			return watcher.Run(groupCtx)
		})
	}
	return group.Wait()
}

func buildStateStore(ctx context.Context, cfg *config.Config) (plugin.StateStore, func(), error) {
	switch cfg.StateStore.Driver {
	case "", "memory":
		s, err := store.NewMemoryStore(cfg.StateStore.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "mysql":
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := store.NewMySQLStore(dialCtx, store.MySQLConfig{DSN: cfg.StateStore.DSN})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported state store driver %q", cfg.StateStore.Driver)
	}
}

func buildDedup(cfg *config.Config) (gateway.DedupStore, func(), error) {
	switch cfg.Dedup.Driver {
	case "", "memory":
		return gateway.NewMemoryDedup(), func() {}, nil
	case "redis":
		d, err := gateway.NewRedisDedup(gateway.RedisDedupConfig{
			Address:  cfg.Dedup.Redis.Address,
			Password: cfg.Dedup.Redis.Password,
			DB:       cfg.Dedup.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dedup driver %q", cfg.Dedup.Driver)
	}
}

func buildBus(cfg *config.Config) (events.Bus, error) {
	switch cfg.Events.Driver {
	case "", "memory":
		return events.NewMemoryBus(0), nil
	case "amqp":
		return events.NewAMQPBus(events.AMQPConfig{
			URL:     cfg.Events.AMQP.URL,
			Queue:   cfg.Events.AMQP.Queue,
			Durable: cfg.Events.AMQP.Durable,
		})
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Events.Driver)
	}
}
