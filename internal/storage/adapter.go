/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package storage is the capability-negotiating facade over the two
// interchangeable engines. Callers write queries with `?` placeholders and
// receive generic rows; each backend translates placeholders and row shapes
// internally. Identical logical query + params must produce identical
// logical rows on either backend, modulo analytics availability.
package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/apperrors"
	"github.com/rs/zerolog"
)

// Row is one generic result row keyed by column name.
type Row map[string]any

// Adapter is the contract every backend satisfies. Analytics is the only
// entry point allowed to use window functions or percent-of-total
// aggregation; on a backend without that capability it fails fast with an
// UNSUPPORTED_OPERATION error so callers can branch instead of crashing.
type Adapter interface {
	Get(ctx context.Context, query string, args ...any) (Row, error)
	All(ctx context.Context, query string, args ...any) ([]Row, error)
	Run(ctx context.Context, query string, args ...any) (int64, error)
	Exec(ctx context.Context, ddl string) error
	Analytics(ctx context.Context, query string, args ...any) ([]Row, error)
	SupportsAnalytics() bool
	Close()
}

// Factory builds an adapter from a DSN, registered per scheme.
type Factory func(ctx context.Context, dsn string, log zerolog.Logger) (Adapter, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{}}

func Register(scheme string, factory Factory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || factory == nil { return }
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[scheme] = factory
}

// Open selects the backend from the DSN scheme and bootstraps its schema.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (Adapter, error) {
	scheme, _, ok := strings.Cut(dsn, ":")
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrStorage, "storage DSN %q has no scheme", dsn)
	}
	registry.mu.RLock()
	factory, found := registry.factories[strings.ToLower(scheme)]
	registry.mu.RUnlock()
	if !found {
		return nil, apperrors.Newf(apperrors.ErrStorage, "no storage backend registered for scheme %q", scheme)
	}
	a, err := factory(ctx, dsn, log)
	if err != nil { return nil, err }
	if err := bootstrap(ctx, a); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// translatePositional rewrites caller `?` placeholders to the engine syntax
// produced by repl (e.g. $1, $2, ...). Quoted literals are left untouched.
func translatePositional(query string, repl func(n int) string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inSingle := false
	inDouble := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case c == '?' && !inSingle && !inDouble:
			n++
			b.WriteString(repl(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func unsupportedAnalytics(backend string) error {
	return apperrors.Newf(apperrors.ErrUnsupportedOp,
		"backend %q does not support analytical queries", backend)
}
