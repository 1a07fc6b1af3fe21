/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/capacity"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/config"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/fields"
	httpapi "github.com/PolycarpusTack/tiergarten-sub002/internal/http"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/jobs"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/logger"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/ratelimit"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/storage"
	syncpkg "github.com/PolycarpusTack/tiergarten-sub002/internal/sync"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/tracker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: DSN scheme picks the backend.
	adapter, err := storage.Open(ctx, cfg.StorageDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("storage open failed")
	}
	defer adapter.Close()
	repo := storage.NewRepository(adapter, log)
	log.Info().Bool("analytics", adapter.SupportsAnalytics()).Msg("storage ready")

	// Adapters
	tc := tracker.NewClient(cfg, log)
	fsvc := fields.New(tc, log)

	// Limiters
	apiLimiter := ratelimit.New(cfg.APIRateMax, cfg.APIRateWindow)
	syncLimiter := ratelimit.New(cfg.SyncRateMax, cfg.SyncRateWindow)

	// Services
	mgr := syncpkg.NewManager(cfg, repo, tc, fsvc, syncLimiter, log)
	eng := capacity.New(cfg, repo, log)

	// HTTP server (Gin)
	router := httpapi.NewRouter(cfg, log, mgr, eng, repo, apiLimiter)

	// Cron
	sched, err := jobs.New(cfg, mgr, []*ratelimit.Limiter{apiLimiter, syncLimiter}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler setup failed")
	}
	sched.Start()
	defer sched.Stop()

	// graceful shutdown
	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil { log.Error().Err(err).Msg("http server error") }
	}

	time.Sleep(500 * time.Millisecond)
}
