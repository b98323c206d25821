package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dbehnke/intercom-bridge/pkg/config"
	"github.com/dbehnke/intercom-bridge/pkg/database"
	"github.com/dbehnke/intercom-bridge/pkg/history"
	"github.com/dbehnke/intercom-bridge/pkg/logger"
	"github.com/dbehnke/intercom-bridge/pkg/metrics"
	"github.com/dbehnke/intercom-bridge/pkg/node"
	"github.com/dbehnke/intercom-bridge/pkg/web"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	role := flag.String("role", "", "Override node.role (base or pack)")
	showVersion := flag.Bool("version", false, "Show version information")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	dumpConfig := flag.Bool("dump-config", false, "Print the effective configuration as YAML and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("intercom-bridge %s (%s, built %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	// The role picks device id and peer defaults, so it must be known
	// before the config is resolved
	if *role != "" {
		_ = os.Setenv("INTERCOM_NODE_ROLE", *role)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *dumpConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		os.Exit(0)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer func() { _ = log.Sync() }()

	if *validate {
		log.Info("Configuration is valid", logger.String("role", cfg.Node.Role))
		os.Exit(0)
	}

	web.SetVersionInfo(version, commit, buildTime)
	bootID := uuid.NewString()

	log.Info("Starting intercom-bridge",
		logger.String("version", version),
		logger.String("role", cfg.Node.Role),
		logger.String("boot_id", bootID))

	if err := run(cfg, bootID, log); err != nil {
		log.Error("intercom-bridge failed", logger.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("intercom-bridge stopped")
}

func run(cfg *config.Config, bootID string, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(cfg, log, node.Options{BootID: bootID})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		collector := metrics.NewCollector()
		n.AddSink(collector)
		srv := metrics.NewPrometheusServer(metrics.PrometheusConfig{
			Enabled: true,
			Port:    cfg.Metrics.Prometheus.Port,
			Path:    cfg.Metrics.Prometheus.Path,
		}, collector, log.WithComponent("metrics"))
		g.Go(func() error { return ignoreCanceled(srv.Start(gctx)) })
	}

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.NewDB(database.Config{Path: cfg.Database.Path}, log)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		rec := history.NewRecorder(db, history.Options{
			Role:      cfg.Node.Role,
			DeviceID:  cfg.Node.DeviceID,
			BootID:    bootID,
			MinBurst:  cfg.Database.MinBurst,
			Retention: cfg.Database.Retention,
		}, log)
		n.AddSink(rec)
		g.Go(func() error { return ignoreCanceled(rec.Run(gctx)) })
	}

	if cfg.Web.Enabled {
		srv := web.NewServer(cfg.Web, n, db, log)
		n.AddSink(srv.GetHub())
		g.Go(func() error { return ignoreCanceled(srv.Start(gctx)) })
	}

	g.Go(func() error { return n.Run(gctx) })

	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		// Shutdown errors after a signal are not failures
		log.Warn("Error during shutdown", logger.Error(err))
		return nil
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
