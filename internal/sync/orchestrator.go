/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */
package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	stdsync "sync"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/apperrors"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/config"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/domain"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/fields"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/ratelimit"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/storage"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/tracker"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/validate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// tracker timestamp layout, zone offset without colon.
const trackerTimeLayout = "2006-01-02T15:04:05.000-0700"

type searchClient interface {
	Search(ctx context.Context, query string, fieldList []string, startAt, max int) (*tracker.SearchPage, error)
}

// Manager owns session lifecycle: single-flight per project set, the sync
// trigger limiter, the fetch/validate/upsert loop and session retention.
type Manager struct {
	cfg     config.Config
	log     zerolog.Logger
	repo    *storage.Repository
	client  searchClient
	fields  *fields.Service
	limiter *ratelimit.Limiter
	// pager paces page fetches against the tracker inside a running session.
	pager *ratelimit.Limiter

	mu       stdsync.Mutex
	sessions map[string]*Session
	active   map[string]string // projectKey -> session id
}

func NewManager(cfg config.Config, repo *storage.Repository, client searchClient, fsvc *fields.Service, limiter *ratelimit.Limiter, log zerolog.Logger) *Manager {
	pageMax := cfg.TrackerRateMax
	if pageMax <= 0 { pageMax = 10 }
	pageWindow := cfg.TrackerRateWindow
	if pageWindow <= 0 { pageWindow = time.Second }
	return &Manager{
		cfg:      cfg,
		log:      log,
		repo:     repo,
		client:   client,
		fields:   fsvc,
		limiter:  limiter,
		pager:    ratelimit.New(pageMax, pageWindow),
		sessions: map[string]*Session{},
		active:   map[string]string{},
	}
}

// Start validates the request, enforces the trigger limiter and the
// single-flight rule, then launches the session in the background. The
// returned Status reflects the pending session.
func (m *Manager) Start(projects []string, opts domain.SyncOptions) (Status, error) {
	if len(projects) == 0 { projects = m.cfg.Projects }
	cleaned := make([]string, 0, len(projects))
	for _, p := range projects {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" { continue }
		if _, err := validate.SQLIdentifier(p); err != nil {
			return Status{}, apperrors.Validation("projects", fmt.Sprintf("invalid project key %q", p))
		}
		cleaned = append(cleaned, p)
	}
	if len(cleaned) == 0 {
		return Status{}, apperrors.Validation("projects", "at least one project is required")
	}
	opts, err := validate.SyncOptions(opts)
	if err != nil { return Status{}, err }

	if err := m.limiter.Check("sync"); err != nil { return Status{}, err }

	key := projectKey(cleaned)
	m.mu.Lock()
	if sid, busy := m.active[key]; busy {
		m.mu.Unlock()
		return Status{}, apperrors.Newf(apperrors.ErrSyncConflict,
			"sync already running for projects %s (session %s)", key, sid)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := newSession(uuid.NewString(), cleaned, opts, cancel)
	m.sessions[sess.ID] = sess
	m.active[key] = sess.ID
	m.mu.Unlock()

	if err := m.repo.StartSyncRun(ctx, sess.ID, key, sess.startedAt); err != nil {
		m.log.Error().Err(err).Str("session", sess.ID).Msg("sync audit row insert failed")
	}

	go m.run(ctx, sess, key)
	return sess.Status(), nil
}

// Get returns the session snapshot, NOT_FOUND after eviction.
func (m *Manager) Get(id string) (Status, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok { return Status{}, apperrors.Newf(apperrors.ErrNotFound, "sync session %q not found", id) }
	return sess.Status(), nil
}

// Subscribe attaches to a session's progress stream.
func (m *Manager) Subscribe(id string) (<-chan domain.ProgressEvent, func(), error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok { return nil, nil, apperrors.Newf(apperrors.ErrNotFound, "sync session %q not found", id) }
	ch, detach := sess.Subscribe()
	return ch, detach, nil
}

// Cancel aborts a running session. Cancelling a terminal session is a no-op.
func (m *Manager) Cancel(id string) (Status, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok { return Status{}, apperrors.Newf(apperrors.ErrNotFound, "sync session %q not found", id) }
	if !sess.terminal() { sess.cancel() }
	return sess.Status(), nil
}

// Running reports whether any session is still in flight; the scheduled sync
// skips its tick when one is.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) > 0
}

// EvictExpired drops terminal sessions older than the retention window and
// returns how many were removed.
func (m *Manager) EvictExpired() int {
	cutoff := time.Now().UTC().Add(-m.cfg.SessionRetention)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, sess := range m.sessions {
		if sess.finishedBefore(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) run(ctx context.Context, sess *Session, key string) {
	defer func() {
		m.mu.Lock()
		if m.active[key] == sess.ID { delete(m.active, key) }
		m.mu.Unlock()
	}()

	m.fields.Reset()
	mapping := m.fields.Discover(ctx)
	sess.warn(mapping.Warnings...)
	fieldList := mapping.FieldsList()

	start := time.Now()
	var runErr error
	for _, project := range sess.Projects {
		sess.setRunning(project)
		if runErr = m.syncProject(ctx, sess, project, mapping, fieldList); runErr != nil { break }
	}

	if runErr != nil {
		if ctx.Err() != nil {
			runErr = apperrors.Wrap(apperrors.ErrCancelled, "sync session cancelled", ctx.Err())
		}
		sess.fail(runErr)
		m.log.Error().Err(runErr).Str("session", sess.ID).Msg("sync session failed")
	} else {
		sess.complete()
		m.log.Info().Str("session", sess.ID).Dur("took", time.Since(start)).
			Int("upserted", sess.Status().Upserted).Msg("sync session completed")
	}

	st := sess.Status()
	run := storage.SyncRun{
		SessionID: sess.ID,
		State:     string(st.State),
		Fetched:   st.Fetched,
		Upserted:  st.Upserted,
		Errored:   st.Errored,
		Error:     st.Error,
	}
	// The session context is dead after a cancel; the audit write gets its own.
	actx, acancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer acancel()
	if err := m.repo.FinishSyncRun(actx, run); err != nil {
		m.log.Error().Err(err).Str("session", sess.ID).Msg("sync audit row update failed")
	}
}

func (m *Manager) syncProject(ctx context.Context, sess *Session, project string, mapping *fields.Mapping, fieldList []string) error {
	query := buildQuery(project, sess.Options)
	pageSize := m.cfg.PageSize
	if pageSize <= 0 { pageSize = 50 }

	startAt := 0
	counted := false
	for {
		if err := ctx.Err(); err != nil { return err }
		if err := m.waitPage(ctx); err != nil { return err }
		page, err := m.client.Search(ctx, query, fieldList, startAt, pageSize)
		if err != nil { return err }
		if !counted {
			sess.addTotal(page.Total)
			counted = true
		}
		if len(page.Issues) == 0 { break }

		upserted, recErrs, err := m.upsertPage(ctx, sess, mapping, page.Issues)
		if err != nil { return err }
		sess.pageDone(len(page.Issues), upserted, recErrs)

		startAt += len(page.Issues)
		if startAt >= page.Total { break }
	}
	return nil
}

// waitPage blocks until the page limiter admits the next fetch, honoring the
// retry hint rather than failing the session.
func (m *Manager) waitPage(ctx context.Context) error {
	for {
		err := m.pager.Check("tracker")
		if err == nil { return nil }
		var ae *apperrors.AppError
		wait := 50 * time.Millisecond
		if errors.As(err, &ae) && ae.RetryAfter > 0 { wait = ae.RetryAfter }
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// upsertPage writes one page through the worker pool. Per-record validation
// failures are collected and skipped; a storage failure aborts the session.
func (m *Manager) upsertPage(ctx context.Context, sess *Session, mapping *fields.Mapping, issues []map[string]any) (int, []domain.RecordError, error) {
	workers := m.cfg.SyncWorkers
	if workers <= 0 { workers = 1 }

	var (
		mu       stdsync.Mutex
		upserted int
		recErrs  []domain.RecordError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, issue := range issues {
		issue := issue
		g.Go(func() error {
			t, err := m.ticketFromIssue(issue, mapping)
			if err == nil {
				t, err = validate.TicketForStorage(t)
			}
			if err != nil {
				key, _ := issue["key"].(string)
				mu.Lock()
				recErrs = append(recErrs, domain.RecordError{Key: key, Reason: err.Error()})
				mu.Unlock()
				return nil
			}
			if err := m.repo.UpsertTicket(gctx, t); err != nil { return err }
			mu.Lock()
			upserted++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil { return 0, nil, err }
	return upserted, recErrs, nil
}

// ticketFromIssue maps one raw tracker record onto the storage shape.
func (m *Manager) ticketFromIssue(issue map[string]any, mapping *fields.Mapping) (domain.Ticket, error) {
	key, _ := issue["key"].(string)
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Ticket{}, apperrors.New(apperrors.ErrPartialRecord, "record has no key")
	}
	fv, _ := issue["fields"].(map[string]any)
	if fv == nil {
		return domain.Ticket{}, apperrors.Newf(apperrors.ErrPartialRecord, "record %s has no fields", key)
	}

	project, seqStr, found := strings.Cut(key, "-")
	if !found {
		return domain.Ticket{}, apperrors.Newf(apperrors.ErrPartialRecord, "record key %q has no sequence", key)
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return domain.Ticket{}, apperrors.Newf(apperrors.ErrPartialRecord, "record key %q has non-numeric sequence", key)
	}

	t := domain.Ticket{
		Key:     key,
		Project: project,
		Seq:     seq,
	}
	t.Summary, _ = fv["summary"].(string)
	t.Status = nestedName(fv["status"])
	t.Priority = nestedName(fv["priority"])
	t.Assignee = assigneeName(fv["assignee"])
	t.CreatedAt = parseTrackerTime(fv["created"])
	t.UpdatedAt = parseTrackerTime(fv["updated"])
	t.CustomerPriority = mapping.ExtractValue(fv, fields.CustomerPriority)
	t.InternalPriority = mapping.ExtractValue(fv, fields.InternalPriority)
	t.SLA = mapping.ExtractValue(fv, fields.SLA)
	t.Severity = mapping.ExtractValue(fv, fields.Severity)
	return t, nil
}

func nestedName(v any) string {
	mp, _ := v.(map[string]any)
	if mp == nil { return "" }
	s, _ := mp["name"].(string)
	return s
}

func assigneeName(v any) string {
	mp, _ := v.(map[string]any)
	if mp == nil { return "" }
	if s, ok := mp["displayName"].(string); ok && s != "" { return s }
	s, _ := mp["name"].(string)
	return s
}

func parseTrackerTime(v any) *time.Time {
	s, _ := v.(string)
	if s == "" { return nil }
	for _, layout := range []string{trackerTimeLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			tt := t.UTC()
			return &tt
		}
	}
	return nil
}

// buildQuery assembles the tracker search query for one project. Options are
// validated before they reach this point.
func buildQuery(project string, opts domain.SyncOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "project = %q", project)
	if opts.UpdatedSince != nil {
		fmt.Fprintf(&b, " AND updated >= %q", opts.UpdatedSince.UTC().Format("2006-01-02 15:04"))
	}
	if len(opts.ExcludedTypes) > 0 {
		quoted := make([]string, 0, len(opts.ExcludedTypes))
		for _, t := range opts.ExcludedTypes {
			quoted = append(quoted, strconv.Quote(t))
		}
		fmt.Fprintf(&b, " AND issuetype NOT IN (%s)", strings.Join(quoted, ", "))
	}
	if opts.Filter != "" {
		fmt.Fprintf(&b, " AND (%s)", opts.Filter)
	}
	b.WriteString(" ORDER BY updated ASC")
	return b.String()
}
