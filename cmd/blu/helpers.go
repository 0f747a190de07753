package main

import (
	"fmt"
	"log/slog"
	"os"

	blu "github.com/blusocial/blu-go"
)

// getClient creates a Blu API client from the stored configuration.
func getClient() *blu.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var opts []blu.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, blu.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
		opts = append(opts, blu.WithEnvironment(blu.Environment(cfg.Default.Environment)))
	}
	if cfg.Default.LogLevel == "debug" {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts = append(opts, blu.WithLogger(logger))
	}

	client := blu.NewClient(opts...)
	if cfg.Default.Token != "" {
		client.SetToken(cfg.Default.Token)
	}
	return client
}

// getManager creates a SyncManager over the file-backed local state.
func getManager() *blu.SyncManager {
	path, err := statePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to locate state file: %v\n", err)
		os.Exit(1)
	}
	store, err := blu.NewFileStore(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state file: %v\n", err)
		os.Exit(1)
	}
	return blu.NewSyncManager(getClient(), store)
}
