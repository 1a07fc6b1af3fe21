/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */
package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/apperrors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func init() {
	Register("sqlite", openSQLite)
	Register("file", openSQLite)
}

// sqliteAdapter is the row-oriented engine. It keeps caller `?` placeholders
// as-is and reports no analytics capability.
type sqliteAdapter struct {
	db  *sql.DB
	log zerolog.Logger
}

func openSQLite(ctx context.Context, dsn string, log zerolog.Logger) (Adapter, error) {
	path := strings.TrimPrefix(dsn, "sqlite:")
	db, err := sql.Open("sqlite", path)
	if err != nil { return nil, apperrors.Wrap(apperrors.ErrStorage, "sqlite open failed", err) }
	// The modernc driver serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent upserts.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "sqlite ping failed", err)
	}
	return &sqliteAdapter{db: db, log: log}, nil
}

func (a *sqliteAdapter) Get(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := a.All(ctx, query, args...)
	if err != nil { return nil, err }
	if len(rows) == 0 { return nil, nil }
	return rows[0], nil
}

func (a *sqliteAdapter) All(ctx context.Context, query string, args ...any) ([]Row, error) {
	rs, err := a.db.QueryContext(ctx, query, args...)
	if err != nil { return nil, apperrors.Wrap(apperrors.ErrStorage, "sqlite query failed", err) }
	defer rs.Close()
	cols, err := rs.Columns()
	if err != nil { return nil, apperrors.Wrap(apperrors.ErrStorage, "sqlite columns failed", err) }
	var out []Row
	for rs.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals { ptrs[i] = &vals[i] }
		if err := rs.Scan(ptrs...); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "sqlite scan failed", err)
		}
		row := Row{}
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok { v = string(b) }
			row[c] = v
		}
		out = append(out, row)
	}
	if err := rs.Err(); err != nil { return nil, apperrors.Wrap(apperrors.ErrStorage, "sqlite rows failed", err) }
	return out, nil
}

func (a *sqliteAdapter) Run(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil { return 0, apperrors.Wrap(apperrors.ErrStorage, "sqlite exec failed", err) }
	n, err := res.RowsAffected()
	if err != nil { return 0, apperrors.Wrap(apperrors.ErrStorage, "sqlite rows-affected failed", err) }
	return n, nil
}

func (a *sqliteAdapter) Exec(ctx context.Context, ddl string) error {
	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "sqlite ddl failed", err)
	}
	return nil
}

func (a *sqliteAdapter) Analytics(ctx context.Context, query string, args ...any) ([]Row, error) {
	return nil, unsupportedAnalytics("sqlite")
}

func (a *sqliteAdapter) SupportsAnalytics() bool { return false }

func (a *sqliteAdapter) Close() { _ = a.db.Close() }
