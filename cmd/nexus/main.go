package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viant/nexus"
	"github.com/viant/nexus/internal/secret"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (env NEXUS_CONFIG)")
	flag.Parse()

	ctx := context.Background()
	config, err := loadConfig(ctx, *configPath)
	if err != nil {
		log.Fatalf("nexus: %v", err)
	}
	applyEnvOverrides(config)

	service, err := nexus.New(ctx, nexus.WithConfig(config))
	if err != nil {
		log.Fatalf("nexus: failed to assemble pipeline: %v", err)
	}
	runtime := service.Runtime()
	if err := runtime.Start(ctx); err != nil {
		log.Fatalf("nexus: failed to start pipeline: %v", err)
	}
	log.Printf("nexus %s started (queue=%s store=%s gateway=%v)",
		version, config.Queue.Vendor, config.Store.Vendor, config.Gateway.Enabled)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("nexus: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runtime.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("nexus: shutdown failed: %v", err)
	}
}

func loadConfig(ctx context.Context, path string) (*nexus.Config, error) {
	if path == "" {
		path = os.Getenv("NEXUS_CONFIG")
	}
	if path == "" {
		config := nexus.DefaultConfig()
		config.Gateway.Enabled = true
		return config, nil
	}
	return nexus.LoadConfig(ctx, path)
}

// applyEnvOverrides lets deployment environments adjust a checked-in config
// without editing the file.
func applyEnvOverrides(config *nexus.Config) {
	if addr := os.Getenv("NEXUS_HTTP_ADDR"); addr != "" {
		config.Gateway.Enabled = true
		config.Gateway.Addr = addr
	}
	if dsn := os.Getenv("NEXUS_PG_DSN"); dsn != "" {
		config.Database.DSN = secret.Source{Value: dsn}
		if config.Queue.Vendor == "" || config.Queue.Vendor == "memory" {
			config.Queue.Vendor = "pg"
		}
		if config.Store.Vendor == "" || config.Store.Vendor == "memory" {
			config.Store.Vendor = "pg"
		}
	}
	if dir := os.Getenv("NEXUS_DECISIONS_DIR"); dir != "" {
		config.Approval.DecisionsDir = dir
	}
	if hash := os.Getenv("NEXUS_API_KEY_HASH"); hash != "" {
		config.Gateway.APIKeyHash = hash
	}
}
