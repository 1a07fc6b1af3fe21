/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/apperrors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func init() {
	Register("postgres", openPostgres)
	Register("postgresql", openPostgres)
}

// postgresAdapter is the analytical engine: window functions and
// percent-of-total aggregation are available through Analytics. Caller `?`
// placeholders are rewritten to $N.
type postgresAdapter struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func openPostgres(ctx context.Context, dsn string, log zerolog.Logger) (Adapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil { return nil, apperrors.Wrap(apperrors.ErrStorage, "postgres connect failed", err) }
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "postgres ping failed", err)
	}
	return &postgresAdapter{pool: pool, log: log}, nil
}

func pgPlaceholders(query string) string {
	return translatePositional(query, func(n int) string { return fmt.Sprintf("$%d", n) })
}

func (a *postgresAdapter) Get(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := a.All(ctx, query, args...)
	if err != nil { return nil, err }
	if len(rows) == 0 { return nil, nil }
	return rows[0], nil
}

func (a *postgresAdapter) All(ctx context.Context, query string, args ...any) ([]Row, error) {
	rs, err := a.pool.Query(ctx, pgPlaceholders(query), args...)
	if err != nil { return nil, apperrors.Wrap(apperrors.ErrStorage, "postgres query failed", err) }
	defer rs.Close()
	descs := rs.FieldDescriptions()
	var out []Row
	for rs.Next() {
		vals, err := rs.Values()
		if err != nil { return nil, apperrors.Wrap(apperrors.ErrStorage, "postgres values failed", err) }
		row := Row{}
		for i, d := range descs {
			v := vals[i]
			if b, ok := v.([]byte); ok { v = string(b) }
			row[string(d.Name)] = v
		}
		out = append(out, row)
	}
	if err := rs.Err(); err != nil { return nil, apperrors.Wrap(apperrors.ErrStorage, "postgres rows failed", err) }
	return out, nil
}

func (a *postgresAdapter) Run(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := a.pool.Exec(ctx, pgPlaceholders(query), args...)
	if err != nil { return 0, apperrors.Wrap(apperrors.ErrStorage, "postgres exec failed", err) }
	return tag.RowsAffected(), nil
}

func (a *postgresAdapter) Exec(ctx context.Context, ddl string) error {
	if _, err := a.pool.Exec(ctx, ddl); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "postgres ddl failed", err)
	}
	return nil
}

func (a *postgresAdapter) Analytics(ctx context.Context, query string, args ...any) ([]Row, error) {
	return a.All(ctx, query, args...)
}

func (a *postgresAdapter) SupportsAnalytics() bool { return true }

func (a *postgresAdapter) Close() { a.pool.Close() }
