package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/console"
	"github.com/adred-codev/fleetwatch/internal/logging"
	"github.com/adred-codev/fleetwatch/internal/metrics"
	"github.com/adred-codev/fleetwatch/internal/monitor"
	"github.com/adred-codev/fleetwatch/internal/notify"
	"github.com/adred-codev/fleetwatch/internal/processor"
	"github.com/adred-codev/fleetwatch/internal/supervisor"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("Starting fleet monitor")
	cfg.LogConfig(logger)

	fleet, err := config.LoadFleet(cfg.FleetFile)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load fleet file")
		os.Exit(1)
	}
	logger.Info().
		Int("servers", len(fleet.Servers)).
		Int("validators", len(fleet.Validators)).
		Int("admins", len(fleet.AdminNotifications)).
		Msg("Fleet configuration loaded")

	servers := monitor.NewServerTable(fleet.Servers)
	validators := monitor.NewValidatorTable(fleet.Validators)

	events := make(chan monitor.Event, cfg.MessageQueueSize)
	notifications := monitor.NewNotificationQueue(cfg.NotificationQueueSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg, servers, validators.Len() > 0, events, logger)
	proc := processor.New(cfg, fleet, servers, validators, events, notifications, logger)
	if cfg.ConsoleOut {
		renderer := console.New(os.Stdout, fleet.Amendments, cfg.PrintAmendments)
		proc.Render = renderer.Render
	}
	dispatcher := notify.NewDispatcher(cfg, notifications, logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		sup.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		proc.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, cfg.MetricsInterval, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		go sampleQueueDepths(ctx, cfg.MetricsInterval, events, notifications)
	}

	<-ctx.Done()
	logger.Info().Msg("Termination signal received, shutting down")
	wg.Wait()
	logger.Info().Msg("Fleet monitor stopped")
}

func sampleQueueDepths(ctx context.Context, interval time.Duration, events chan monitor.Event, notifications *monitor.NotificationQueue) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetQueueDepths(len(events), notifications.Len())
		}
	}
}
