package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcouncil/api"
	"github.com/hupe1980/agentcouncil/background"
	"github.com/hupe1980/agentcouncil/config"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/natsbus"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the orchestration API under /api/v1/orchestrate.

Also exposes:
  /health       liveness and active run count
  /prometheus   Prometheus metrics
  /api/v1/ws    live record stream

Finished records are stored in SQLite, published on NATS and pushed to
websocket clients. History older than store.retention is pruned in the
background.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := api.NewHub(logger, func(o *api.HubOptions) {
		o.AllowedOrigins = cfg.Server.AllowedOrigins
	})
	sinks := []core.Recorder{hub}

	events, closeEvents, err := openEvents(cfg.NATS)
	if err != nil {
		return err
	}
	defer closeEvents()
	if events != nil {
		sinks = append(sinks, events)
	}

	a, err := newApp(cfg, logger, sinks...)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Store.Retention > 0 {
		pruner, err := newPruner(a, cfg.Store)
		if err != nil {
			return err
		}
		if err := pruner.Start(ctx); err != nil {
			return err
		}
		defer pruner.Stop()
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := api.NewServer(a.council, func(o *api.Options) {
		o.Logger = logger
		o.Metrics = a.metrics
		o.Hub = hub
		o.AllowedOrigins = cfg.Server.AllowedOrigins
		o.RequestTimeout = cfg.Server.RequestTimeout
	})
	return srv.ListenAndServe(ctx, addr)
}

// openEvents connects the NATS record publisher: to nats.url when set,
// otherwise to an embedded server when nats.embedded is on.
func openEvents(nc config.NATSConfig) (*natsbus.Client, func(), error) {
	switch {
	case nc.URL != "":
		client, err := natsbus.NewClientFromURL(nc.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		return client, client.Close, nil
	case nc.Embedded:
		bus, err := natsbus.NewBus(natsbus.BusOptions{Port: nc.Port, DataDir: nc.DataDir})
		if err != nil {
			return nil, nil, fmt.Errorf("start nats: %w", err)
		}
		client, err := natsbus.NewClient(bus)
		if err != nil {
			bus.Close()
			return nil, nil, fmt.Errorf("connect embedded nats: %w", err)
		}
		logger.Info("Embedded NATS started", "url", bus.ClientURL())
		return client, func() {
			client.Close()
			bus.Close()
		}, nil
	default:
		return nil, func() {}, nil
	}
}

func newPruner(a *app, sc config.StoreConfig) (*background.Task, error) {
	return background.New("history-prune", sc.PruneInterval, func(ctx context.Context) error {
		n, err := a.store.Prune(ctx, time.Now().Add(-sc.Retention))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("Pruned history", "removed", n, "retention", sc.Retention)
		}
		return nil
	}, func(o *background.Options) {
		o.Logger = logger
		o.RunOnStart = true
	})
}
