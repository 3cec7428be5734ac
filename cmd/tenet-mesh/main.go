// Command tenet-mesh runs one signaling node: the UDP mesh, its dispatcher,
// and the metrics, health and relay surfaces around it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/VanDung-dev/tenet-mesh/api"
	"github.com/VanDung-dev/tenet-mesh/arrow"
	"github.com/VanDung-dev/tenet-mesh/config"
	"github.com/VanDung-dev/tenet-mesh/engine"
	"github.com/VanDung-dev/tenet-mesh/evaluator"
	"github.com/VanDung-dev/tenet-mesh/network"
	"github.com/VanDung-dev/tenet-mesh/storage/sqlite"
	"github.com/VanDung-dev/tenet-mesh/tumbler"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "tenet-mesh"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", Name, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}

	fs := pflag.NewFlagSet(Name, pflag.ContinueOnError)
	settings.AddFlags(fs)
	showVersion := fs.Bool("version", false, "Print the version and exit.")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("%s v%s\n", Name, Version)
		return nil
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	logger, flush, err := newLogger(settings)
	if err != nil {
		return err
	}
	defer flush()

	peers := config.LoadPeers(settings.PeersFile, logger)
	whitelist, _ := config.LoadWhitelist(settings.WhitelistFile, logger)

	store, closeStore, err := openPatternStore(settings, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := api.NewMetrics("tenet_mesh", reg)
	journal := arrow.NewJournal(settings.JournalCapacity)

	dispatcher := engine.NewDispatcher(evaluator.New(evaluator.Rules{}), store, logger.WithName("dispatcher"))
	opts := []network.Option{
		network.WithLogger(logger.WithName("mesh")),
		network.WithTumbler(tumbler.New(whitelist, tumbler.WithLogger(logger.WithName("tumbler")))),
		network.WithHandler(dispatcher),
		network.WithTap(metrics),
		network.WithTap(journal),
	}

	if settings.RelayEndpoint != "" {
		relay := network.NewZmqRelay(settings.RelayEndpoint, logger.WithName("relay"))
		if err := relay.Start(); err != nil {
			return err
		}
		defer relay.Stop()
		opts = append(opts, network.WithTap(relay))
	}

	mesh := network.New(settings.MeshConfig(peers), opts...)
	metrics.RegisterStats(mesh)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mesh.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := mesh.Close(); err != nil {
			logger.Error(err, "Mesh close failed")
		}
	}()

	var metricsServer *api.MetricsServer
	if settings.MetricsAddr != "" {
		metricsServer = api.NewMetricsServer(settings.MetricsAddr, mesh,
			api.WithGatherer(reg),
			api.WithJournal(journal),
			api.WithServerLogger(logger.WithName("metrics")),
		)
		if err := metricsServer.StartAsync(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	var healthServer *api.HealthServer
	if settings.HealthAddr != "" {
		healthServer = api.NewHealthServer(logger.WithName("health"))
		if err := healthServer.StartAsync(settings.HealthAddr); err != nil {
			return err
		}
		healthServer.SetServing(true)
	}

	logger.Info("Node ready", "version", Version, "node", settings.NodeName, "address", mesh.LocalAddr().String(), "peers", len(peers))
	<-ctx.Done()
	logger.Info("Shutting down")

	if healthServer != nil {
		healthServer.Stop()
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error(err, "Metrics server shutdown failed")
		}
	}
	return nil
}

func newLogger(settings config.Settings) (logr.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	if settings.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-settings.LogVerbosity))

	zl, err := zc.Build()
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapr.NewLogger(zl).WithName(Name), func() { _ = zl.Sync() }, nil
}

func openPatternStore(settings config.Settings, logger logr.Logger) (engine.PatternStore, func(), error) {
	if settings.DatabasePath == "" {
		logger.Info("Keeping patterns in memory")
		return engine.NewMemoryPatternStore(), func() {}, nil
	}

	store, err := sqlite.Open(settings.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Patterns stored in SQLite", "path", settings.DatabasePath)
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Error(err, "Failed to close pattern store")
		}
	}, nil
}
