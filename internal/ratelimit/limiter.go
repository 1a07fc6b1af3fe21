/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package ratelimit implements a per-key sliding-window admission gate.
// One instance guards the public API surface, a second stricter one guards
// sync triggers so repeated full syncs cannot hammer the external tracker.
package ratelimit

import (
	"sync"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/apperrors"
)

type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

func New(max int, window time.Duration) *Limiter {
	return &Limiter{max: max, window: window, now: time.Now, windows: map[string][]time.Time{}}
}

// Check admits or rejects one request for key. On rejection the returned
// AppError carries the time until the oldest in-window entry expires so the
// caller can back off. Append-then-trim under one lock keeps concurrent
// checks for the same key from under- or over-counting.
func (l *Limiter) Check(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	ts := l.windows[key]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) { kept = append(kept, t) }
	}
	if len(kept) >= l.max {
		retry := kept[0].Add(l.window).Sub(now)
		if retry < 0 { retry = 0 }
		l.windows[key] = kept
		return apperrors.RateLimited(retry)
	}
	l.windows[key] = append(kept, now)
	return nil
}

// Sweep drops keys whose every timestamp has aged out of the window. It runs
// on a schedule independent of request traffic to bound memory.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for key, ts := range l.windows {
		live := false
		for _, t := range ts {
			if t.After(cutoff) { live = true; break }
		}
		if !live {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Keys reports the tracked key count, used by the sweep log line.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
