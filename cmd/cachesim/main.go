package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/anaghasid/CacheSim/internal/bus"
	"github.com/anaghasid/CacheSim/internal/config"
	"github.com/anaghasid/CacheSim/internal/mqtt"
	"github.com/anaghasid/CacheSim/internal/observe"
	"github.com/anaghasid/CacheSim/internal/sim"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	cfg := parseFlags()

	logger := setupLogger(cfg.Verbose)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.WithFields(logrus.Fields{
		"version":         version,
		"num_cores":       cfg.NumCores,
		"cache_size":      cfg.CacheSize,
		"memory_size":     cfg.MemorySize,
		"trace_dir":       cfg.TraceDir,
		"response_window": cfg.ResponseWindow,
	}).Info("Starting CacheSim")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Debug("Received termination signal, shutting down...")
		cancel()
	}()

	obsBus := bus.New()
	grp, ctx := errgroup.WithContext(ctx)

	// Console observer -----------------------------------------------------
	console := observe.NewConsoleWriter(os.Stdout)
	consoleCh := obsBus.Subscribe()
	grp.Go(func() error { return console.Run(ctx, consoleCh) })

	// Optional MQTT telemetry ----------------------------------------------
	if cfg.HasMQTT() {
		client, err := mqtt.NewClient(cfg.MQTTUrl, cfg.DeviceID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create MQTT client")
		}
		defer client.Disconnect(250)

		publisher := observe.NewPublisher(client, logger)
		publishCh := obsBus.Subscribe()
		grp.Go(func() error { return publisher.Run(ctx, publishCh) })
		logger.Info("MQTT telemetry configured")
	}

	// Simulation -----------------------------------------------------------
	simulation := sim.New(cfg, obsBus, logger)
	grp.Go(func() error {
		// Closing the bus lets the observers drain and exit on the
		// normal path; cancellation covers the failure path.
		defer obsBus.Close()
		return simulation.Run(ctx)
	})

	if err := grp.Wait(); err != nil && err != context.Canceled {
		logger.WithError(err).Fatal("Simulation failed")
	}

	logger.Debug("CacheSim finished")
}

func parseFlags() *config.Config {
	cfg := config.GetDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.IntVar(&cfg.NumCores, "num-cores",
		getEnvIntOrDefault("CACHESIM_NUM_CORES", cfg.NumCores),
		"Number of simulated cores")

	flag.IntVar(&cfg.CacheSize, "cache-size",
		getEnvIntOrDefault("CACHESIM_CACHE_SIZE", cfg.CacheSize),
		"Lines per private cache")

	flag.IntVar(&cfg.MemorySize, "memory-size",
		getEnvIntOrDefault("CACHESIM_MEMORY_SIZE", cfg.MemorySize),
		"Cells of main memory")

	flag.StringVar(&cfg.TraceDir, "trace-dir",
		getEnvOrDefault("CACHESIM_TRACE_DIR", cfg.TraceDir),
		"Directory holding input_<core>.txt trace files")

	flag.StringVar(&cfg.MQTTUrl, "mqtt-url",
		getEnvOrDefault("CACHESIM_MQTT_URL", cfg.MQTTUrl),
		"Optional MQTT URL for observation telemetry (ws://, wss://, mqtt://, mqtts://)")

	flag.StringVar(&cfg.DeviceID, "device-id",
		getEnvOrDefault("CACHESIM_DEVICE_ID", cfg.DeviceID),
		"Identifier used in telemetry topics")

	flag.BoolVar(&cfg.Verbose, "verbose",
		getEnvOrDefault("CACHESIM_VERBOSE", "false") == "true",
		"Enable verbose logging")

	flag.DurationVar(&cfg.DrainPeriod, "drain-period", cfg.DrainPeriod,
		"Grace period after the last instruction before stopping a core")

	flag.Parse()

	if *showVersion {
		fmt.Printf("cachesim %s\n", version)
		os.Exit(0)
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func setupLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger
}
