// Package main implements the unified telemetrad binary.
// This binary can run all services (intake, query, catalog) concurrently
// or individual services based on the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/telemetra/telemetra/internal/app"
	"github.com/telemetra/telemetra/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpIntake  string
		httpQuery   string
		httpOps     string
		natsURL     string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "all", "Service mode: all, intake, query, catalog")
	flag.StringVar(&httpIntake, "http-intake", "", "HTTP address for intake service")
	flag.StringVar(&httpQuery, "http-query", "", "HTTP address for query service")
	flag.StringVar(&httpOps, "http-ops", "", "HTTP address for health and metrics")
	flag.StringVar(&natsURL, "nats-url", "", "NATS server URL for the pub/sub intake")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Telemetra - Industrial Sensor Telemetry Pipeline\n\n")
		fmt.Fprintf(os.Stderr, "Usage: telemetrad [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  telemetrad --data-dir /data/telemetra\n")
		fmt.Fprintf(os.Stderr, "  telemetrad --mode intake --nats-url nats://broker:4222\n")
		fmt.Fprintf(os.Stderr, "  telemetrad --config /etc/telemetra/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TELEMETRA_MODE           Service mode (all, intake, query, catalog)\n")
		fmt.Fprintf(os.Stderr, "  TELEMETRA_DATA_DIR       Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  TELEMETRA_HTTP_*_ADDR    HTTP addresses for services\n")
		fmt.Fprintf(os.Stderr, "  TELEMETRA_NATS_URL       NATS server URL\n")
		fmt.Fprintf(os.Stderr, "  TELEMETRA_STORAGE_TYPE   Archive storage type (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("telemetrad version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, mode, httpIntake, httpQuery, httpOps, natsURL)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("Received signal: %v", sig)

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, mode, httpIntake, httpQuery, httpOps, natsURL string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	// Command line flags take highest priority
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpIntake != "" {
		cfg.HTTP.IntakeAddr = httpIntake
	}
	if httpQuery != "" {
		cfg.HTTP.QueryAddr = httpQuery
	}
	if httpOps != "" {
		cfg.HTTP.OpsAddr = httpOps
	}
	if natsURL != "" {
		cfg.NATS.URL = natsURL
	}

	return cfg, nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                      TELEMETRA                            ║")
	log.Printf("║        Industrial Sensor Telemetry Pipeline               ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Mode:     %s", cfg.Mode)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Ops:      %s", cfg.HTTP.OpsAddr)
	log.Printf("")

	if cfg.ShouldRunIntake() {
		log.Printf("Intake Service:")
		log.Printf("  HTTP: %s", cfg.HTTP.IntakeAddr)
		if cfg.NATS.Enabled {
			log.Printf("  NATS: %s (subject %s)", cfg.NATS.URL, cfg.NATS.Subject)
		}
	}

	if cfg.ShouldRunQuery() {
		log.Printf("Query Service:")
		log.Printf("  HTTP: %s", cfg.HTTP.QueryAddr)
	}

	if cfg.ShouldRunCatalog() {
		log.Printf("Catalog:")
		log.Printf("  Refresh Interval: %v", cfg.Catalog.RefreshInterval)
		log.Printf("  Sample Size: %d", cfg.Catalog.SampleSize)
	}

	if cfg.Archive.Enabled {
		log.Printf("Archiver:")
		log.Printf("  Hot Window: %v", cfg.Archive.HotWindow)
		log.Printf("  Storage: %s", cfg.Storage.Type)
	}

	log.Printf("")
}
