package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinelprime/synckit/bus"
	"github.com/sentinelprime/synckit/config"
	"github.com/sentinelprime/synckit/gateway"
	"github.com/sentinelprime/synckit/logging"
	"github.com/sentinelprime/synckit/service"
	"github.com/sentinelprime/synckit/shutdown"
	"github.com/sentinelprime/synckit/telemetry"
)

const version = "0.1.0"

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts)
		},
	}
}

func runServe(opts *rootOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New()
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	log.SetLevel(logging.ParseLevel(level))

	coord := shutdown.New(30*time.Second, log)
	coord.HandleSignals()

	if cfg.Telemetry.Enabled {
		provider, err := telemetry.InitProvider(context.Background(), telemetry.ProviderConfig{
			ServiceName:    "synckitd",
			ServiceVersion: version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
		})
		if err != nil {
			return fmt.Errorf("telemetry init: %w", err)
		}
		telemetry.SetGlobalTracer(provider.Tracer())
		coord.Register("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
	}

	b := bus.NewMemoryBus("synckit")
	coord.Register("bus", shutdown.PhaseCore, func(ctx context.Context) error {
		return b.Close()
	})

	svc := service.New(b, log)
	srv := gateway.New(svc, cfg, log).Server()
	coord.Register("gateway", shutdown.PhaseGateway, srv.Shutdown)

	log.Info("listening", map[string]any{
		"addr":    cfg.Server.Addr,
		"session": svc.Session().ID(),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		coord.Shutdown(context.Background())
		return err
	case <-coord.Done():
		return coord.Err()
	}
}
