// Command server runs the progression engine HTTP API. With --jobs it also
// runs the background jobs in-process, which suits single-node setups.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/beltline/progression-engine/config"
	"github.com/beltline/progression-engine/internal/app"
	"github.com/beltline/progression-engine/pkg/logger"
)

func main() {
	var (
		envFile     = pflag.String("env-file", ".env", "dotenv file loaded before the environment")
		catalogPath = pflag.String("catalog", "", "curriculum catalog YAML (overrides CATALOG_PATH)")
		migrateOnly = pflag.Bool("migrate-only", false, "apply database migrations and exit")
		withJobs    = pflag.Bool("jobs", false, "also run the background jobs")
	)
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envFile, *catalogPath, *migrateOnly, *withJobs); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile, catalogPath string, migrateOnly, withJobs bool) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if catalogPath != "" {
		cfg.Catalog.Path = catalogPath
	}
	if migrateOnly {
		cfg.Database.AutoMigrate = true
	}

	log := app.NewLogger(cfg)
	defer log.Sync()
	log.Info("starting progression engine API",
		logger.String("timezone", cfg.App.Timezone),
		logger.String("storage", cfg.Database.Driver),
		logger.Bool("jobs", withJobs),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Container
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if migrateOnly {
		log.Info("migrations applied, exiting")
		return nil
	}

	srv, err := a.HTTPServer()
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Run until a signal arrives
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if withJobs && cfg.Scheduler.Enabled {
		g.Go(func() error {
			if err := a.Scheduler.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			return a.Scheduler.Stop()
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown completed")
	return nil
}
