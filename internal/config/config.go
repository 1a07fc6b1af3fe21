/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	TZ       string
	HTTPAddr string
	LogLevel string

	// Storage DSN; scheme selects the backend (sqlite:/file: or postgres:).
	StorageDSN string

	TrackerBaseURL string
	TrackerPAT     string
	TrackerUser    string
	TrackerPass    string
	Projects       []string
	PageSize       int
	HTTPTimeout    time.Duration
	RetryAttempts  int
	RetryBase      time.Duration

	// General API limiter: high count, short window.
	APIRateMax    int
	APIRateWindow time.Duration
	// Sync-trigger limiter: low count, long window.
	SyncRateMax    int
	SyncRateWindow time.Duration
	// Page-fetch pacing against the tracker during a running sync.
	TrackerRateMax    int
	TrackerRateWindow time.Duration
	SweepCron         string

	SyncCron    string
	SyncWorkers int

	// Capacity engine knobs.
	ExpertiseLookback    time.Duration
	ExpertHoursMin       float64
	IntermediateHoursMin float64
	SessionRetention     time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" { return def }
	return v
}

func atoi(key string, def int) int {
	v := os.Getenv(key)
	if v == "" { return def }
	i, err := strconv.Atoi(v)
	if err != nil { return def }
	return i
}

func atof(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" { return def }
	f, err := strconv.ParseFloat(v, 64)
	if err != nil { return def }
	return f
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" { return def }
	d, err := time.ParseDuration(v)
	if err != nil { return def }
	return d
}

func parseStrings(csv string) []string {
	if csv == "" { return nil }
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" { continue }
		out = append(out, p)
	}
	return out
}

func Load() Config {
	cfg := Config{
		AppEnv:   getenv("APP_ENV", "dev"),
		TZ:       getenv("APP_TZ", "UTC"),
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		StorageDSN: getenv("STORAGE_DSN", "sqlite:tiergarten.db"),

		TrackerBaseURL: getenv("TRACKER_BASE_URL", ""),
		TrackerPAT:     getenv("TRACKER_PAT", ""),
		TrackerUser:    getenv("TRACKER_USERNAME", ""),
		TrackerPass:    getenv("TRACKER_PASSWORD", ""),
		Projects:       parseStrings(getenv("TRACKER_PROJECTS", "")),
		PageSize:       atoi("TRACKER_PAGE_SIZE", 50),
		HTTPTimeout:    dur("HTTP_TIMEOUT", 15*time.Second),
		RetryAttempts:  atoi("TRACKER_RETRY_ATTEMPTS", 3),
		RetryBase:      dur("TRACKER_RETRY_BASE", 300*time.Millisecond),

		APIRateMax:        atoi("API_RATE_MAX", 100),
		APIRateWindow:     dur("API_RATE_WINDOW", time.Minute),
		SyncRateMax:       atoi("SYNC_RATE_MAX", 2),
		SyncRateWindow:    dur("SYNC_RATE_WINDOW", 10*time.Minute),
		TrackerRateMax:    atoi("TRACKER_RATE_MAX", 10),
		TrackerRateWindow: dur("TRACKER_RATE_WINDOW", time.Second),
		SweepCron:         getenv("SWEEP_CRON", "*/5 * * * *"),

		SyncCron:    getenv("SYNC_CRON", ""),
		SyncWorkers: atoi("SYNC_WORKERS", 6),

		ExpertiseLookback:    dur("EXPERTISE_LOOKBACK", 4383*time.Hour),
		ExpertHoursMin:       atof("EXPERT_HOURS_MIN", 100),
		IntermediateHoursMin: atof("INTERMEDIATE_HOURS_MIN", 40),
		SessionRetention:     dur("SESSION_RETENTION", 30*time.Minute),
	}

	if loc, err := time.LoadLocation(cfg.TZ); err == nil {
		time.Local = loc
	}
	return cfg
}
