/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */
package storage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/domain"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
)

// Repository is the typed access layer on top of the adapter. It is the only
// component that writes SQL, and everything it writes is engine-agnostic:
// `?` placeholders, TEXT timestamps, ON CONFLICT upserts.
type Repository struct {
	a   Adapter
	log zerolog.Logger
}

func NewRepository(a Adapter, log zerolog.Logger) *Repository {
	return &Repository{a: a, log: log}
}

func (r *Repository) Adapter() Adapter { return r.a }

func tsOrNil(t *time.Time) any {
	if t == nil { return nil }
	return t.UTC().Format(time.RFC3339)
}

func parseTS(v any) *time.Time {
	s, _ := v.(string)
	if s == "" { return nil }
	t, err := time.Parse(time.RFC3339, s)
	if err != nil { return nil }
	tt := t.UTC()
	return &tt
}

func asString(v any) string {
	if v == nil { return "" }
	if s, ok := v.(string); ok { return s }
	return fmt.Sprintf("%v", v)
}

// asInt64 and asFloat absorb the per-driver value shapes: the sqlite driver
// hands back int64/float64/string, pgx hands back int32 for INTEGER, float32
// for REAL and pgtype.Numeric for aggregates.
func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	case pgtype.Numeric:
		n, err := t.Int64Value()
		if err != nil || !n.Valid { return 0 }
		return n.Int64
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid { return 0 }
		return f.Float64
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

// UpsertTicket writes a ticket keyed by its composite record key. The write
// is insert-or-update; re-ingesting the same key never duplicates a row and
// the newest field values win.
func (r *Repository) UpsertTicket(ctx context.Context, t domain.Ticket) error {
	const q = `INSERT INTO tickets(key, project, seq, summary, status, priority, assignee,
			created_at, updated_at, customer_priority, internal_priority, sla, severity)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET
			project=excluded.project,
			seq=excluded.seq,
			summary=excluded.summary,
			status=excluded.status,
			priority=excluded.priority,
			assignee=excluded.assignee,
			created_at=excluded.created_at,
			updated_at=excluded.updated_at,
			customer_priority=excluded.customer_priority,
			internal_priority=excluded.internal_priority,
			sla=excluded.sla,
			severity=excluded.severity`
	_, err := r.a.Run(ctx, q, t.Key, t.Project, t.Seq, t.Summary, t.Status, t.Priority, t.Assignee,
		tsOrNil(t.CreatedAt), tsOrNil(t.UpdatedAt), t.CustomerPriority, t.InternalPriority, t.SLA, t.Severity)
	return err
}

func (r *Repository) GetTicketByKey(ctx context.Context, key string) (*domain.Ticket, error) {
	row, err := r.a.Get(ctx, `SELECT * FROM tickets WHERE key = ?`, key)
	if err != nil { return nil, err }
	if row == nil { return nil, nil }
	t := &domain.Ticket{
		Key:              asString(row["key"]),
		Project:          asString(row["project"]),
		Seq:              asInt64(row["seq"]),
		Summary:          asString(row["summary"]),
		Status:           asString(row["status"]),
		Priority:         asString(row["priority"]),
		Assignee:         asString(row["assignee"]),
		CreatedAt:        parseTS(row["created_at"]),
		UpdatedAt:        parseTS(row["updated_at"]),
		CustomerPriority: asString(row["customer_priority"]),
		InternalPriority: asString(row["internal_priority"]),
		SLA:              asString(row["sla"]),
		Severity:         asString(row["severity"]),
	}
	return t, nil
}

func (r *Repository) CountTickets(ctx context.Context) (int64, error) {
	row, err := r.a.Get(ctx, `SELECT COUNT(*) AS n FROM tickets`)
	if err != nil { return 0, err }
	return asInt64(row["n"]), nil
}

func (r *Repository) UpsertPerson(ctx context.Context, p domain.Person) error {
	const q = `INSERT INTO people(id, name, weekly_capacity, specialties) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			weekly_capacity=excluded.weekly_capacity,
			specialties=excluded.specialties`
	_, err := r.a.Run(ctx, q, p.ID, p.Name, p.WeeklyCapacity, strings.Join(p.Specialties, ","))
	return err
}

func (r *Repository) GetPerson(ctx context.Context, id int64) (*domain.Person, error) {
	row, err := r.a.Get(ctx, `SELECT * FROM people WHERE id = ?`, id)
	if err != nil { return nil, err }
	if row == nil { return nil, nil }
	p := &domain.Person{
		ID:             asInt64(row["id"]),
		Name:           asString(row["name"]),
		WeeklyCapacity: asFloat(row["weekly_capacity"]),
	}
	if s := asString(row["specialties"]); s != "" { p.Specialties = strings.Split(s, ",") }
	return p, nil
}

// UpsertAssignment keeps (ticket_key, person_id) unique: re-assignment is an
// update of hours, never a second row.
func (r *Repository) UpsertAssignment(ctx context.Context, a domain.Assignment) error {
	const q = `INSERT INTO assignments(ticket_key, person_id, client_id, assigned_hours, assigned_at, completed_at)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(ticket_key, person_id) DO UPDATE SET
			client_id=excluded.client_id,
			assigned_hours=excluded.assigned_hours,
			assigned_at=excluded.assigned_at,
			completed_at=excluded.completed_at`
	at := a.AssignedAt
	if at.IsZero() { at = time.Now().UTC() }
	_, err := r.a.Run(ctx, q, a.TicketKey, a.PersonID, a.ClientID, a.AssignedHours,
		at.UTC().Format(time.RFC3339), tsOrNil(a.CompletedAt))
	return err
}

// OpenAssignmentHours sums assigned hours over uncompleted assignments.
func (r *Repository) OpenAssignmentHours(ctx context.Context, personID int64) (float64, error) {
	row, err := r.a.Get(ctx,
		`SELECT COALESCE(SUM(assigned_hours), 0) AS hours FROM assignments
		 WHERE person_id = ? AND completed_at IS NULL`, personID)
	if err != nil { return 0, err }
	return asFloat(row["hours"]), nil
}

// ClientHoursSince sums hours a person worked for one client inside the
// lookback window, counting open and completed assignments alike.
func (r *Repository) ClientHoursSince(ctx context.Context, personID, clientID int64, since time.Time) (float64, error) {
	row, err := r.a.Get(ctx,
		`SELECT COALESCE(SUM(assigned_hours), 0) AS hours FROM assignments
		 WHERE person_id = ? AND client_id = ? AND assigned_at >= ?`,
		personID, clientID, since.UTC().Format(time.RFC3339))
	if err != nil { return 0, err }
	return asFloat(row["hours"]), nil
}

// ClientShare is one row of the analytical per-client breakdown.
type ClientShare struct {
	ClientID     int64   `json:"client_id"`
	Hours        float64 `json:"hours"`
	PercentTotal float64 `json:"percent_of_total"`
}

// ClientBreakdown runs the percent-of-total window aggregation. It goes
// through the Analytics entry point and therefore fails with
// UNSUPPORTED_OPERATION on the row-oriented backend; callers branch on
// Adapter().SupportsAnalytics() first. The raw percentage is rounded here
// rather than in SQL; hours are REAL, and rounding a float expression to a
// decimal place is not portable SQL. NULLIF guards the all-zero-hours case.
func (r *Repository) ClientBreakdown(ctx context.Context, personID int64, since time.Time) ([]ClientShare, error) {
	rows, err := r.a.Analytics(ctx,
		`SELECT client_id,
			SUM(assigned_hours) AS hours,
			100.0 * SUM(assigned_hours) / NULLIF(SUM(SUM(assigned_hours)) OVER (), 0) AS pct
		 FROM assignments
		 WHERE person_id = ? AND assigned_at >= ?
		 GROUP BY client_id
		 ORDER BY hours DESC`,
		personID, since.UTC().Format(time.RFC3339))
	if err != nil { return nil, err }
	out := make([]ClientShare, 0, len(rows))
	for _, row := range rows {
		out = append(out, ClientShare{
			ClientID:     asInt64(row["client_id"]),
			Hours:        asFloat(row["hours"]),
			PercentTotal: roundTenth(asFloat(row["pct"])),
		})
	}
	return out, nil
}

func roundTenth(f float64) float64 { return math.Round(f*10) / 10 }

// ClientHoursGrouped is the plain GROUP BY variant of the breakdown, usable
// on any backend. Shares carry hours only; callers derive percentages.
func (r *Repository) ClientHoursGrouped(ctx context.Context, personID int64, since time.Time) ([]ClientShare, error) {
	rows, err := r.a.All(ctx,
		`SELECT client_id, COALESCE(SUM(assigned_hours), 0) AS hours
		 FROM assignments
		 WHERE person_id = ? AND assigned_at >= ?
		 GROUP BY client_id
		 ORDER BY hours DESC`,
		personID, since.UTC().Format(time.RFC3339))
	if err != nil { return nil, err }
	out := make([]ClientShare, 0, len(rows))
	for _, row := range rows {
		out = append(out, ClientShare{
			ClientID: asInt64(row["client_id"]),
			Hours:    asFloat(row["hours"]),
		})
	}
	return out, nil
}

// SyncRun is the persisted audit row for one session.
type SyncRun struct {
	SessionID  string     `json:"session_id"`
	Projects   string     `json:"projects"`
	State      string     `json:"state"`
	Fetched    int        `json:"fetched"`
	Upserted   int        `json:"upserted"`
	Errored    int        `json:"errored"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Error      string     `json:"error"`
}

func (r *Repository) StartSyncRun(ctx context.Context, sessionID, projects string, startedAt time.Time) error {
	_, err := r.a.Run(ctx,
		`INSERT INTO sync_runs(session_id, projects, state, started_at) VALUES(?,?,?,?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, projects, string(domain.StateRunning), startedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *Repository) FinishSyncRun(ctx context.Context, run SyncRun) error {
	_, err := r.a.Run(ctx,
		`UPDATE sync_runs SET state=?, fetched=?, upserted=?, errored=?, finished_at=?, error=?
		 WHERE session_id=?`,
		run.State, run.Fetched, run.Upserted, run.Errored,
		time.Now().UTC().Format(time.RFC3339), run.Error, run.SessionID)
	return err
}

func (r *Repository) LastSyncRun(ctx context.Context) (*SyncRun, error) {
	row, err := r.a.Get(ctx, `SELECT * FROM sync_runs ORDER BY started_at DESC LIMIT 1`)
	if err != nil { return nil, err }
	if row == nil { return nil, nil }
	run := &SyncRun{
		SessionID:  asString(row["session_id"]),
		Projects:   asString(row["projects"]),
		State:      asString(row["state"]),
		Fetched:    int(asInt64(row["fetched"])),
		Upserted:   int(asInt64(row["upserted"])),
		Errored:    int(asInt64(row["errored"])),
		Error:      asString(row["error"]),
		FinishedAt: parseTS(row["finished_at"]),
	}
	if t := parseTS(row["started_at"]); t != nil { run.StartedAt = *t }
	return run, nil
}
