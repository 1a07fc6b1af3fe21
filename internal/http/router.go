/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package http is the gin API surface: sync triggers and session streams,
// capacity queries and the admin endpoints.
package http

import (
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/capacity"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/config"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/ratelimit"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/storage"
	syncpkg "github.com/PolycarpusTack/tiergarten-sub002/internal/sync"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, mgr *syncpkg.Manager, eng *capacity.Engine, repo *storage.Repository, apiLimiter *ratelimit.Limiter) *gin.Engine {
	if cfg.AppEnv == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log), limitByIP(apiLimiter))

	h := &handler{cfg: cfg, log: log, mgr: mgr, eng: eng, repo: repo}

	r.GET("/healthz", h.health)

	r.POST("/sync", h.startSync)
	r.GET("/sync/:id", h.getSync)
	r.DELETE("/sync/:id", h.cancelSync)
	r.GET("/sync/:id/events", h.syncEvents)

	r.POST("/people", h.upsertPerson)
	r.GET("/people/:id/load", h.personLoad)
	r.GET("/people/:id/expertise/:client", h.personExpertise)
	r.GET("/people/:id/clients", h.clientBreakdown)
	r.POST("/assignments", h.upsertAssignment)

	r.GET("/admin/last-run", h.lastRun)

	return r
}

func accessLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("http request")
	}
}

// limitByIP applies the general API limiter per client address. Rejections
// carry a Retry-After header.
func limitByIP(l *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := l.Check(c.ClientIP()); err != nil {
			writeError(c, err, false)
			c.Abort()
			return
		}
		c.Next()
	}
}
