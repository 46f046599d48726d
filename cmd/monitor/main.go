// Command monitor runs the health-monitoring and auto-recovery control
// plane: a probe engine, incident detector, recovery orchestrator,
// metrics engine, scheduler, and read API over a Postgres-backed store.
//
// # Usage
//
//	monitor --config /etc/healthwatch/config.yaml
//
// # Configuration
//
// Configuration is layered: built-in defaults, then an optional YAML
// file, then the environment variables named in the external-interfaces
// contract (STORE_PATH, BROKER_URL, MONITOR_PING_INTERVAL_SECONDS, ...).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetops/healthwatch/db/migrate"
	"github.com/fleetops/healthwatch/internal/api"
	"github.com/fleetops/healthwatch/internal/broker"
	"github.com/fleetops/healthwatch/internal/cache"
	"github.com/fleetops/healthwatch/internal/config"
	"github.com/fleetops/healthwatch/internal/detector"
	"github.com/fleetops/healthwatch/internal/fanout"
	"github.com/fleetops/healthwatch/internal/metrics"
	"github.com/fleetops/healthwatch/internal/probe"
	"github.com/fleetops/healthwatch/internal/recovery"
	"github.com/fleetops/healthwatch/internal/scheduler"
	"github.com/fleetops/healthwatch/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML configuration file")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("healthwatch-monitor v0.1.0")
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := store.NewStoreFromURL(ctx, cfg.Store.URL)
	cancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	migCtx, migCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	if err := migrate.Run(migCtx, db.Pool(), logger); err != nil {
		migCancel()
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}
	migCancel()

	// Broker is optional: an empty URL disables the fan-out leg entirely
	// and only the direct work-peer probe runs.
	var brk *broker.Broker
	if cfg.Broker.URL != "" {
		brk, err = broker.New(cfg.Broker.URL, logger)
		if err != nil {
			logger.Warn("broker disabled - connection failed", "error", err)
			brk = nil
		} else {
			logger.Info("broker enabled", "url", cfg.Broker.URL)
		}
	} else {
		logger.Info("broker disabled - no broker.url configured")
	}

	// Response cache is optional, same disable-on-failure policy as the
	// broker; a nil *cache.Cache serves every read uncached.
	var respCache *cache.Cache
	if cfg.Cache.URL != "" {
		respCache, err = cache.New(cfg.Cache.URL, logger)
		if err != nil {
			logger.Warn("response cache disabled - connection failed", "error", err)
			respCache = nil
		} else {
			logger.Info("response cache enabled")
		}
	}

	prober := probe.New(cfg.Monitor.MonitoredServices, cfg.PingTimeout(), logger)
	metricsEngine := metrics.New(db)
	recoveryOrch := recovery.New(recovery.Config{
		Enabled:           cfg.Recovery.AutoRecoveryEnabled,
		ProtectionSet:     cfg.Recovery.ProtectionSet,
		ServiceContainers: cfg.Recovery.ServiceContainers,
		RestartTimeout:    cfg.Recovery.RestartTimeout,
	}, logger)

	det := detector.New(db, detector.Config{
		ConsecutiveFailuresThreshold: cfg.Monitor.ConsecutiveFailuresThresh,
		RecoveryCheckThreshold:       cfg.Monitor.RecoveryCheckThreshold,
	}, recoveryOrch.AsRecoveryFunc(), logger)

	if respCache != nil {
		det.OnIncidentEdge(func(service string) {
			ctx := context.Background()
			_ = respCache.Invalidate(ctx, "incidents:active")
			_ = respCache.Invalidate(ctx, "incidents:"+service)
		})
	}

	services := allServices(cfg.Monitor.MonitoredServices)

	var schedulerBroker scheduler.Broker
	if brk != nil {
		schedulerBroker = brk
	}
	sched := scheduler.New(db, prober, schedulerBroker, det, scheduler.Config{
		WorkPeer: cfg.Monitor.WorkPeer,
		Services: services,
		Interval: cfg.PingInterval(),
	}, logger)

	var fanoutPool *fanout.Pool
	if brk != nil {
		fanoutServices := excludeWorkPeer(services, cfg.Monitor.WorkPeer)
		brokerTag := cfg.Monitor.BrokerHealthTag
		if brokerTag == "" {
			brokerTag = "broker"
		}
		fanoutPool = fanout.New(brk, prober, fanoutServices, brokerTag, fanout.Config{
			Workers:      cfg.Monitor.FanoutWorkers,
			PollInterval: config.FanoutPollInterval,
			PopBatch:     config.FanoutPopBatch,
		}, logger)
		fanoutPool.Start()
	}

	var apiBroker api.Broker
	if brk != nil {
		apiBroker = brk
	}
	apiServer := api.NewServer(api.Deps{
		Store:     db,
		Metrics:   metricsEngine,
		Scheduler: sched,
		Detector:  det,
		Broker:    apiBroker,
		Cache:     respCache,
		Services:  services,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      apiServer,
		ReadTimeout:  config.HTTPReadTimeout,
		WriteTimeout: config.HTTPWriteTimeout,
		IdleTimeout:  config.HTTPIdleTimeout,
	}

	schedCtx, schedCancel := context.WithCancel(context.Background())
	go func() {
		if err := sched.Run(schedCtx); err != nil && err != context.Canceled {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("starting read API", "addr", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	schedCancel()
	sched.Stop()

	if fanoutPool != nil {
		fanoutPool.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", "error", err)
	}

	if brk != nil {
		brk.Close()
	}
	if respCache != nil {
		respCache.Close()
	}

	logger.Info("shutdown complete")
}

func allServices(monitored map[string]string) []string {
	out := make([]string, 0, len(monitored))
	for svc := range monitored {
		out = append(out, svc)
	}
	return out
}

func excludeWorkPeer(services []string, workPeer string) []string {
	out := make([]string, 0, len(services))
	for _, svc := range services {
		if svc == workPeer {
			continue
		}
		out = append(out, svc)
	}
	return out
}
