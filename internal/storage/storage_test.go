/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */
package storage

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/apperrors"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/domain"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	a, err := Open(context.Background(), "sqlite::memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(a.Close)
	return NewRepository(a, zerolog.Nop())
}

func TestOpenUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "cassandra://nope", zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for unregistered scheme")
	}
	_, err = Open(context.Background(), "no-scheme-at-all", zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for DSN without scheme")
	}
}

func TestTicketUpsertIdempotent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tk := domain.Ticket{
		Key: "OPS-12", Project: "OPS", Seq: 12,
		Summary: "disk alerts flapping", Status: "Open", Priority: "High",
		Assignee: "sam", CreatedAt: &created, SLA: "gold",
	}
	if err := repo.UpsertTicket(ctx, tk); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	tk.Status = "Done"
	tk.Severity = "minor"
	if err := repo.UpsertTicket(ctx, tk); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, err := repo.CountTickets(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("re-ingest duplicated the row: got %d tickets", n)
	}

	got, err := repo.GetTicketByKey(ctx, "OPS-12")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("ticket not found after upsert")
	}
	if got.Status != "Done" || got.Severity != "minor" {
		t.Fatalf("second write did not win: %+v", got)
	}
	if got.CreatedAt == nil || !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at round-trip: %v", got.CreatedAt)
	}
	if got.UpdatedAt != nil {
		t.Fatalf("nil timestamp came back as %v", got.UpdatedAt)
	}
}

func TestGetTicketMissing(t *testing.T) {
	repo := openTestRepo(t)
	got, err := repo.GetTicketByKey(context.Background(), "NOPE-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing key, got %+v", got)
	}
}

func TestPersonRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	p := domain.Person{ID: 7, Name: "Noa", WeeklyCapacity: 40, Specialties: []string{"db", "infra"}}
	if err := repo.UpsertPerson(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p.WeeklyCapacity = 32
	if err := repo.UpsertPerson(ctx, p); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err := repo.GetPerson(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.WeeklyCapacity != 32 || len(got.Specialties) != 2 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestAssignmentHours(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	done := now.Add(2 * time.Hour)

	open := domain.Assignment{TicketKey: "OPS-1", PersonID: 7, ClientID: 1, AssignedHours: 10, AssignedAt: now}
	closed := domain.Assignment{TicketKey: "OPS-2", PersonID: 7, ClientID: 1, AssignedHours: 15, AssignedAt: now, CompletedAt: &done}
	other := domain.Assignment{TicketKey: "OPS-3", PersonID: 9, ClientID: 1, AssignedHours: 99, AssignedAt: now}
	for _, a := range []domain.Assignment{open, closed, other} {
		if err := repo.UpsertAssignment(ctx, a); err != nil {
			t.Fatalf("upsert %s: %v", a.TicketKey, err)
		}
	}

	// Re-assigning the same (ticket, person) pair updates in place.
	open.AssignedHours = 12
	if err := repo.UpsertAssignment(ctx, open); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	hours, err := repo.OpenAssignmentHours(ctx, 7)
	if err != nil {
		t.Fatalf("open hours: %v", err)
	}
	if hours != 12 {
		t.Fatalf("open hours = %v, want 12 (completed rows excluded, re-assign updated)", hours)
	}

	since, err := repo.ClientHoursSince(ctx, 7, 1, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("client hours: %v", err)
	}
	if since != 27 {
		t.Fatalf("client hours = %v, want 27 (open + completed)", since)
	}

	none, err := repo.ClientHoursSince(ctx, 7, 1, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("client hours out of window: %v", err)
	}
	if none != 0 {
		t.Fatalf("lookback should exclude older work, got %v", none)
	}
}

func TestAnalyticsUnsupportedOnSQLite(t *testing.T) {
	repo := openTestRepo(t)
	if repo.Adapter().SupportsAnalytics() {
		t.Fatal("sqlite adapter must not report analytics capability")
	}
	_, err := repo.ClientBreakdown(context.Background(), 7, time.Now().Add(-time.Hour))
	if err == nil {
		t.Fatal("expected analytics failure on sqlite")
	}
	var ae *apperrors.AppError
	if !errors.As(err, &ae) || ae.Code != apperrors.ErrUnsupportedOp {
		t.Fatalf("expected UNSUPPORTED_OPERATION, got %v", err)
	}
}

func TestSyncRunAudit(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	started := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)

	if err := repo.StartSyncRun(ctx, "sess-a", "OPS,SUP", started); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := repo.StartSyncRun(ctx, "sess-b", "OPS", started.Add(time.Minute)); err != nil {
		t.Fatalf("start second: %v", err)
	}
	err := repo.FinishSyncRun(ctx, SyncRun{
		SessionID: "sess-b", State: string(domain.StateCompleted),
		Fetched: 40, Upserted: 39, Errored: 1, Error: "",
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	last, err := repo.LastSyncRun(ctx)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last == nil || last.SessionID != "sess-b" {
		t.Fatalf("expected most recent run, got %+v", last)
	}
	if last.State != string(domain.StateCompleted) || last.Upserted != 39 || last.FinishedAt == nil {
		t.Fatalf("finish did not persist: %+v", last)
	}
}

// pgxShapedAdapter replays canned rows carrying the value types pgx v5
// produces (int32 for INTEGER, float32 for REAL, pgtype.Numeric for
// aggregates), so repository decoding is exercised without a live server.
type pgxShapedAdapter struct {
	rows []Row
}

func (a *pgxShapedAdapter) Get(ctx context.Context, query string, args ...any) (Row, error) {
	if len(a.rows) == 0 { return nil, nil }
	return a.rows[0], nil
}
func (a *pgxShapedAdapter) All(ctx context.Context, query string, args ...any) ([]Row, error) {
	return a.rows, nil
}
func (a *pgxShapedAdapter) Run(ctx context.Context, query string, args ...any) (int64, error) {
	return 1, nil
}
func (a *pgxShapedAdapter) Exec(ctx context.Context, ddl string) error { return nil }
func (a *pgxShapedAdapter) Analytics(ctx context.Context, query string, args ...any) ([]Row, error) {
	return a.rows, nil
}
func (a *pgxShapedAdapter) SupportsAnalytics() bool { return true }
func (a *pgxShapedAdapter) Close()                  {}

func numeric(n int64) pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(n), Valid: true}
}

func TestValueCoercionDriverShapes(t *testing.T) {
	intCases := []struct {
		in   any
		want int64
	}{
		{int64(7), 7}, {int32(7), 7}, {int16(7), 7}, {int(7), 7},
		{float64(7), 7}, {float32(7), 7}, {"7", 7}, {numeric(7), 7},
		{nil, 0}, {true, 0},
	}
	for _, tc := range intCases {
		if got := asInt64(tc.in); got != tc.want {
			t.Fatalf("asInt64(%T %v) = %d, want %d", tc.in, tc.in, got, tc.want)
		}
	}
	floatCases := []struct {
		in   any
		want float64
	}{
		{float64(40), 40}, {float32(40), 40}, {int64(40), 40}, {int32(40), 40},
		{"40", 40}, {numeric(40), 40}, {nil, 0},
	}
	for _, tc := range floatCases {
		if got := asFloat(tc.in); got != tc.want {
			t.Fatalf("asFloat(%T %v) = %v, want %v", tc.in, tc.in, got, tc.want)
		}
	}
}

func TestRepositoryDecodesPgxRows(t *testing.T) {
	ctx := context.Background()

	people := &pgxShapedAdapter{rows: []Row{{
		"id": int32(7), "name": "Noa", "weekly_capacity": float32(32), "specialties": "db,infra",
	}}}
	p, err := NewRepository(people, zerolog.Nop()).GetPerson(ctx, 7)
	if err != nil { t.Fatalf("get person: %v", err) }
	if p == nil || p.ID != 7 || p.WeeklyCapacity != 32 || len(p.Specialties) != 2 {
		t.Fatalf("person decoded from pgx value shapes: %+v", p)
	}

	// SUM over a REAL column comes back as float32 on pgx.
	sums := &pgxShapedAdapter{rows: []Row{{"hours": float32(25)}}}
	hours, err := NewRepository(sums, zerolog.Nop()).OpenAssignmentHours(ctx, 7)
	if err != nil { t.Fatalf("open hours: %v", err) }
	if hours != 25 { t.Fatalf("open hours = %v, want 25", hours) }

	runs := &pgxShapedAdapter{rows: []Row{{
		"session_id": "sess-a", "projects": "OPS", "state": "completed",
		"fetched": int32(40), "upserted": int32(39), "errored": int32(1),
		"started_at": "2026-08-30T08:00:00Z", "finished_at": "2026-08-30T08:01:00Z", "error": "",
	}}}
	last, err := NewRepository(runs, zerolog.Nop()).LastSyncRun(ctx)
	if err != nil { t.Fatalf("last run: %v", err) }
	if last.Fetched != 40 || last.Upserted != 39 || last.Errored != 1 {
		t.Fatalf("counters decoded from int32: %+v", last)
	}
}

func TestClientBreakdownRoundsInGo(t *testing.T) {
	a := &pgxShapedAdapter{rows: []Row{
		{"client_id": int32(7), "hours": float32(30), "pct": float64(74.99999)},
		{"client_id": int32(8), "hours": float32(10), "pct": float64(25.00001)},
	}}
	shares, err := NewRepository(a, zerolog.Nop()).ClientBreakdown(context.Background(), 1, time.Now())
	if err != nil { t.Fatalf("breakdown: %v", err) }
	if shares[0].ClientID != 7 || shares[0].Hours != 30 || shares[0].PercentTotal != 75 {
		t.Fatalf("first share: %+v", shares[0])
	}
	if shares[1].ClientID != 8 || shares[1].PercentTotal != 25 {
		t.Fatalf("second share: %+v", shares[1])
	}
}

func TestBreakdownQueryAvoidsFloatRound(t *testing.T) {
	// ROUND(double precision, int) exists on neither engine contract; the
	// repository must not push decimal rounding into SQL.
	if got := roundTenth(74.96); got != 75 {
		t.Fatalf("roundTenth(74.96) = %v, want 75", got)
	}
	if got := roundTenth(74.94); got != 74.9 {
		t.Fatalf("roundTenth(74.94) = %v, want 74.9", got)
	}
}

func TestTranslatePositional(t *testing.T) {
	repl := func(n int) string {
		return map[int]string{1: "$1", 2: "$2", 3: "$3"}[n]
	}
	got := translatePositional(`SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?`, repl)
	want := `SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2`
	if got != want {
		t.Fatalf("translate:\n got %s\nwant %s", got, want)
	}
	got = translatePositional(`INSERT INTO "weird?name" VALUES(?)`, repl)
	want = `INSERT INTO "weird?name" VALUES($1)`
	if got != want {
		t.Fatalf("quoted ident:\n got %s\nwant %s", got, want)
	}
}
