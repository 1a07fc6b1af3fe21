package storage

import "context"

// Timestamps are stored as RFC3339 TEXT on both engines so the adapter
// contract (identical logical rows regardless of backend) holds without
// per-engine type coercion.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		id INTEGER,
		key TEXT NOT NULL,
		project TEXT NOT NULL,
		seq INTEGER NOT NULL,
		summary TEXT,
		status TEXT,
		priority TEXT,
		assignee TEXT,
		created_at TEXT,
		updated_at TEXT,
		customer_priority TEXT,
		internal_priority TEXT,
		sla TEXT,
		severity TEXT,
		PRIMARY KEY (key)
	)`,
	`CREATE TABLE IF NOT EXISTS people (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		weekly_capacity REAL NOT NULL DEFAULT 0,
		specialties TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS assignments (
		ticket_key TEXT NOT NULL,
		person_id INTEGER NOT NULL,
		client_id INTEGER NOT NULL DEFAULT 0,
		assigned_hours REAL NOT NULL DEFAULT 0,
		assigned_at TEXT NOT NULL,
		completed_at TEXT,
		PRIMARY KEY (ticket_key, person_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		session_id TEXT PRIMARY KEY,
		projects TEXT NOT NULL,
		state TEXT NOT NULL,
		fetched INTEGER NOT NULL DEFAULT 0,
		upserted INTEGER NOT NULL DEFAULT 0,
		errored INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		error TEXT NOT NULL DEFAULT ''
	)`,
}

func bootstrap(ctx context.Context, a Adapter) error {
	for _, ddl := range schemaDDL {
		if err := a.Exec(ctx, ddl); err != nil { return err }
	}
	return nil
}
