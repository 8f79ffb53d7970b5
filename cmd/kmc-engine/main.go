package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"

	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/engine/manager"
	"GoKmerSpectra/internal/logging"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := pflag.String("config", "configs/config.yaml", "Path to the YAML configuration file.")
	verbosity := pflag.Int("v", -1, "Log verbosity, overrides log.level when set.")
	development := pflag.Bool("dev", false, "Write human-readable console logs.")
	pflag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Log.Level
	if *verbosity >= 0 {
		level = *verbosity
	}
	var log logr.Logger
	if *development {
		log = logging.NewDevelopment(level)
	} else if log, err = logging.New(level); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	log = log.WithName("kmc-engine")
	log.Info("Configuration loaded", "path", *configPath)

	// 2. Initialize and start the manager
	mgr, err := manager.NewManager(cfg, log)
	if err != nil {
		log.Error(err, "Failed to create manager")
		os.Exit(1)
	}
	if err := mgr.Start(); err != nil {
		log.Error(err, "Failed to start manager")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = mgr.Stop(ctx)
		cancel()
		os.Exit(1)
	}

	// 3. Run until every stream has ended or a shutdown signal arrives
	done := make(chan error, 1)
	go func() { done <- mgr.Wait() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("Shutdown signal received, ending input streams...")
	case <-mgr.IngestDone():
		log.Info("All input streams ended")
	case <-done:
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.Stop(ctx); err != nil {
		log.Error(err, "Counting finished with errors")
		os.Exit(1)
	}

	stats := mgr.Stats()
	fmt.Printf("run %s: %d k-mers, %d distinct, %d below threshold\n",
		mgr.RunID(), stats.KMers, stats.UniqueKMers, stats.BelowThreshold)
}
