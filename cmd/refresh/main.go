// Package main runs one refresh of the derived analytics views and exits.
// It is meant for cron or a Kubernetes CronJob when the API's own refresh
// job is disabled or a refresh is needed on demand.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bdbt/analytics/internal/analytics"
	"github.com/bdbt/analytics/internal/config"
	"github.com/bdbt/analytics/internal/middleware"
	"github.com/bdbt/analytics/internal/rollup"
	_ "github.com/lib/pq"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "optional YAML config file")
	timeout := flag.Duration("timeout", rollup.DefaultTimeout, "maximum time for the refresh")
	flag.Parse()

	if *help {
		fmt.Println("BDBT Analytics View Refresh")
		fmt.Println()
		fmt.Println("Usage: refresh [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required for view refresh")
		os.Exit(1)
	}

	if err := refresh(cfg.DatabaseURL, *timeout, logger); err != nil {
		logger.Error("view refresh failed", "error", err)
		os.Exit(1)
	}
}

func refresh(databaseURL string, timeout time.Duration, logger *slog.Logger) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	job := rollup.NewRefreshJob(rollup.JobConfig{Timeout: timeout, Logger: logger},
		analytics.NewPostgresStore(db, logger))
	return job.RunOnce(context.Background())
}
