package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/stiffinWanjohi/courier/internal/app"
	"github.com/stiffinWanjohi/courier/internal/config"
	"github.com/stiffinWanjohi/courier/internal/health"
	"github.com/stiffinWanjohi/courier/internal/logging"
)

var log = logging.Component("main")

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	skipMigrate := fs.Bool("skip-migrate", false, "Do not apply migrations on startup")
	_ = fs.Parse(args)

	fmt.Println()
	fmt.Println(bold("  Courier") + dim(" - Report Delivery Dispatcher"))
	fmt.Println()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForDispatch(); err != nil {
		return err
	}

	step, total := 1, 3
	if !*skipMigrate {
		printStep(step, total, "Running database migrations... ")
		if err := app.RunMigrations(cfg); err != nil {
			printFailed()
			return err
		}
		printOK()
	}
	step++

	printStep(step, total, "Connecting to services... ")
	ctx := context.Background()
	services, err := app.InitAll(ctx, cfg)
	if err != nil {
		printFailed()
		return err
	}
	defer services.Close(ctx)
	printOK()
	step++

	printStep(step, total, "Wiring delivery pipeline... ")
	stack, err := app.NewStack(services)
	if err != nil {
		printFailed()
		return err
	}
	printOK()
	fmt.Println()

	return serve(services, stack)
}

func serve(svc *app.Services, stack *app.Stack) error {
	cfg := svc.Config

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var server *health.Server
	if cfg.Health.Enabled {
		server = health.NewServer(stack.Dispatcher, health.ServerConfig{
			Metrics:        svc.Metrics,
			Tracer:         svc.Tracer,
			MetricsHandler: svc.MetricsHandler,
			Version:        version,
		}).
			WithCheck("postgres", svc.Pool.Ping).
			WithCheck("redis", func(ctx context.Context) error { return svc.Redis.Ping(ctx).Err() }).
			WithStats(stack.Jobs).
			WithAttempts(stack.Attempts).
			WithCircuitBreaker(stack.Circuit)
		server.Start(cfg.Health.Addr)
	}

	stack.Dispatcher.Start(ctx)
	stack.Janitor.Start(ctx)

	dc := stack.Dispatcher.Config()
	fmt.Println(dim("  ─────────────────────────────────────────────────────────"))
	printField("Method:        ", string(dc.Method))
	printField("Poll interval: ", dc.PollInterval.String())
	printField("Concurrency:   ", strconv.Itoa(dc.MaxConcurrent))
	if server != nil {
		printField("Health:        ", "http://localhost"+cfg.Health.Addr+"/health")
	}
	fmt.Println(dim("  ─────────────────────────────────────────────────────────"))
	fmt.Println()
	fmt.Println(dim("  Press Ctrl+C to stop"))
	fmt.Println()

	log.Info("courier started", "method", dc.Method, "max_concurrent", dc.MaxConcurrent)

	app.WaitForShutdown()

	fmt.Println()
	fmt.Println(dim("  Shutting down..."))

	stack.Dispatcher.Stop()
	stack.Janitor.Stop()
	stack.Recorder.Close()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Health.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("health server shutdown failed", "error", err)
		}
	}
	stack.Webex.Close()

	fmt.Println(dim("  Stopped"))
	return nil
}
