/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package jobs schedules the background maintenance work: limiter sweeps,
// session eviction and the optional periodic sync.
package jobs

import (
	"github.com/PolycarpusTack/tiergarten-sub002/internal/config"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/domain"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/ratelimit"
	syncpkg "github.com/PolycarpusTack/tiergarten-sub002/internal/sync"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type Scheduler struct {
	c   *cron.Cron
	log zerolog.Logger
}

func New(cfg config.Config, mgr *syncpkg.Manager, limiters []*ratelimit.Limiter, log zerolog.Logger) (*Scheduler, error) {
	c := cron.New()

	_, err := c.AddFunc(cfg.SweepCron, func() {
		removed := 0
		for _, l := range limiters {
			removed += l.Sweep()
		}
		evicted := mgr.EvictExpired()
		log.Debug().Int("limiter_keys_removed", removed).Int("sessions_evicted", evicted).
			Msg("maintenance sweep")
	})
	if err != nil { return nil, err }

	if cfg.SyncCron != "" {
		_, err := c.AddFunc(cfg.SyncCron, func() {
			if mgr.Running() {
				log.Info().Msg("scheduled sync skipped, session in flight")
				return
			}
			st, err := mgr.Start(cfg.Projects, domain.SyncOptions{})
			if err != nil {
				log.Error().Err(err).Msg("scheduled sync failed to start")
				return
			}
			log.Info().Str("session", st.ID).Msg("scheduled sync started")
		})
		if err != nil { return nil, err }
	}

	return &Scheduler{c: c, log: log}, nil
}

func (s *Scheduler) Start() {
	s.c.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() {
	ctx := s.c.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}
