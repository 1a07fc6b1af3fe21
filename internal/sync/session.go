/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package sync runs ingestion sessions against the external tracker:
// field discovery, paginated fetch, validation and idempotent upserts,
// with live progress fan-out to subscribers.
package sync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/domain"
)

// subscriberBuffer bounds each progress channel. A slow subscriber drops
// intermediate events instead of stalling the session; the terminal event
// evicts the oldest buffered event if it has to, so it is always delivered.
const subscriberBuffer = 16

// Session is one ingestion run. All mutation goes through the mutex; readers
// get copies via Status.
type Session struct {
	ID       string
	Projects []string
	Options  domain.SyncOptions

	mu             sync.Mutex
	state          domain.SessionState
	currentProject string
	fetched        int
	upserted       int
	errored        int
	total          int
	seq            int64
	startedAt      time.Time
	finishedAt     *time.Time
	errMsg         string
	recordErrors   []domain.RecordError
	warnings       []string
	subs           map[chan domain.ProgressEvent]struct{}
	cancel         context.CancelFunc
}

// Status is the read-only snapshot handed to the HTTP layer.
type Status struct {
	ID              string               `json:"id"`
	Projects        []string             `json:"projects"`
	State           domain.SessionState  `json:"state"`
	CurrentProject  string               `json:"current_project,omitempty"`
	Fetched         int                  `json:"fetched"`
	Upserted        int                  `json:"upserted"`
	Errored         int                  `json:"errored"`
	PercentComplete float64              `json:"percent_complete"`
	StartedAt       time.Time            `json:"started_at"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
	Error           string               `json:"error,omitempty"`
	RecordErrors    []domain.RecordError `json:"record_errors,omitempty"`
	Warnings        []string             `json:"warnings,omitempty"`
}

func newSession(id string, projects []string, opts domain.SyncOptions, cancel context.CancelFunc) *Session {
	return &Session{
		ID:        id,
		Projects:  projects,
		Options:   opts,
		state:     domain.StatePending,
		startedAt: time.Now().UTC(),
		subs:      map[chan domain.ProgressEvent]struct{}{},
		cancel:    cancel,
	}
}

// projectKey is the single-flight identity of a project set: order and case
// insensitive.
func projectKey(projects []string) string {
	ps := make([]string, 0, len(projects))
	for _, p := range projects {
		ps = append(ps, strings.ToUpper(strings.TrimSpace(p)))
	}
	sort.Strings(ps)
	return strings.Join(ps, ",")
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:              s.ID,
		Projects:        append([]string(nil), s.Projects...),
		State:           s.state,
		CurrentProject:  s.currentProject,
		Fetched:         s.fetched,
		Upserted:        s.upserted,
		Errored:         s.errored,
		PercentComplete: s.percentLocked(),
		StartedAt:       s.startedAt,
		FinishedAt:      s.finishedAt,
		Error:           s.errMsg,
		RecordErrors:    append([]domain.RecordError(nil), s.recordErrors...),
		Warnings:        append([]string(nil), s.warnings...),
	}
	return st
}

func (s *Session) percentLocked() float64 {
	if s.state == domain.StateCompleted { return 100 }
	if s.total <= 0 { return 0 }
	pct := 100 * float64(s.fetched) / float64(s.total)
	if pct > 100 { pct = 100 }
	return pct
}

func (s *Session) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.StateCompleted || s.state == domain.StateFailed
}

func (s *Session) finishedBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateCompleted && s.state != domain.StateFailed { return false }
	return s.finishedAt != nil && s.finishedAt.Before(cutoff)
}

// Subscribe attaches a progress channel. The returned func detaches it; it is
// safe to call after the session ended. Terminal sessions get one synthetic
// event immediately so late subscribers still observe the final state.
func (s *Session) Subscribe() (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, subscriberBuffer)
	s.mu.Lock()
	if s.state == domain.StateCompleted || s.state == domain.StateFailed {
		ch <- s.eventLocked()
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
}

// publish builds the next event (Seq strictly increasing) and fans it out.
// Full subscriber buffers drop intermediate events rather than block the
// sync; the terminal event instead evicts the oldest buffered event to make
// room, so every subscriber observes the final state. Publishes all hold the
// session mutex, so the make-room send cannot race another producer.
func (s *Session) publish() {
	s.mu.Lock()
	ev := s.eventLocked()
	terminal := s.state == domain.StateCompleted || s.state == domain.StateFailed
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			if terminal {
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
				default:
				}
			}
		}
		if terminal {
			delete(s.subs, ch)
			close(ch)
		}
	}
	s.mu.Unlock()
}

func (s *Session) eventLocked() domain.ProgressEvent {
	s.seq++
	return domain.ProgressEvent{
		SessionID:       s.ID,
		Seq:             s.seq,
		State:           s.state,
		CurrentProject:  s.currentProject,
		Fetched:         s.fetched,
		Upserted:        s.upserted,
		Errored:         s.errored,
		PercentComplete: s.percentLocked(),
		Error:           s.errMsg,
	}
}

func (s *Session) setRunning(project string) {
	s.mu.Lock()
	s.state = domain.StateRunning
	s.currentProject = project
	s.mu.Unlock()
	s.publish()
}

func (s *Session) addTotal(n int) {
	s.mu.Lock()
	s.total += n
	s.mu.Unlock()
}

func (s *Session) pageDone(fetched, upserted int, recErrs []domain.RecordError) {
	s.mu.Lock()
	s.fetched += fetched
	s.upserted += upserted
	s.errored += len(recErrs)
	s.recordErrors = append(s.recordErrors, recErrs...)
	s.mu.Unlock()
	s.publish()
}

func (s *Session) warn(ws ...string) {
	if len(ws) == 0 { return }
	s.mu.Lock()
	s.warnings = append(s.warnings, ws...)
	s.mu.Unlock()
}

func (s *Session) complete() {
	now := time.Now().UTC()
	s.mu.Lock()
	s.state = domain.StateCompleted
	s.currentProject = ""
	s.finishedAt = &now
	s.mu.Unlock()
	s.publish()
}

func (s *Session) fail(err error) {
	now := time.Now().UTC()
	s.mu.Lock()
	s.state = domain.StateFailed
	s.finishedAt = &now
	if err != nil { s.errMsg = err.Error() }
	s.mu.Unlock()
	s.publish()
}
