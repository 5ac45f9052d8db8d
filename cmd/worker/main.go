// Command worker runs the background jobs: closing past exam sessions,
// reconciling cached streaks and points, and rebuilding the ranking.
package main

import (
	"context"
	"encoding/json"
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
		runOnce     = pflag.StringSlice("run", nil, "run the named jobs once, print the results and exit")
		list        = pflag.Bool("list", false, "list the registered jobs and exit")
	)
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx, *envFile, *catalogPath, *runOnce, *list); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile, catalogPath string, runOnce []string, list bool) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if catalogPath != "" {
		cfg.Catalog.Path = catalogPath
	}

	log := app.NewLogger(cfg).Named("worker")
	defer log.Sync()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	switch {
	case list:
		return enc.Encode(a.Scheduler.ListJobs())

	case len(runOnce) > 0:
		var failed int
		for _, name := range runOnce {
			res, err := a.Scheduler.RunNow(ctx, name)
			if err != nil {
				return err
			}
			if !res.Success {
				failed++
			}
			if err := enc.Encode(res); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d job(s) failed", failed)
		}
		return nil
	}

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled by configuration, nothing to do")
		return nil
	}

	log.Info("worker is running", logger.String("timezone", cfg.App.Timezone))

	// The health endpoints stay reachable through the API process; the worker
	// only reports its dependencies once at startup.
	st := a.Health.Check(ctx)
	log.Info("dependency check", logger.Bool("healthy", st.Healthy), logger.String("message", st.Message))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.Scheduler.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		log.Info("received shutdown signal")
		return a.Scheduler.Stop()
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}
