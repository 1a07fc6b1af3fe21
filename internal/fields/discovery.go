/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package fields discovers per-tenant custom field identifiers for the
// semantic attributes the pipeline stores. Identifiers are assigned by the
// tracker per installation and can be renamed by administrators, so the
// mapping is rebuilt at the start of every sync session and never persisted.
package fields

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/tracker"
	"github.com/rs/zerolog"
)

// Semantic attribute names. These are the stable storage-side identities;
// the tracker-side field id behind each one varies per tenant.
const (
	CustomerPriority = "customer_priority"
	InternalPriority = "internal_priority"
	SLA              = "sla"
	Severity         = "severity"
)

// BaseFields are always requested from the tracker regardless of discovery.
var BaseFields = []string{"summary", "status", "priority", "assignee", "created", "updated", "issuetype"}

// matchRule is evaluated in order; the first rule that matches a catalog
// entry wins for its semantic target.
type matchRule struct {
	semantic string
	exact    []string
	contains [][]string
}

var rules = []matchRule{
	{
		semantic: CustomerPriority,
		exact:    []string{"customer priority", "cust. priority", "customer prio"},
		contains: [][]string{{"customer", "prio"}},
	},
	{
		semantic: InternalPriority,
		exact:    []string{"internal priority", "int. priority"},
		contains: [][]string{{"internal", "prio"}},
	},
	{
		semantic: SLA,
		exact:    []string{"sla", "service level agreement"},
		contains: [][]string{{"sla"}},
	},
	{
		semantic: Severity,
		exact:    []string{"severity", "sev"},
		contains: [][]string{{"sever"}},
	},
}

// Mapping is the per-session semantic-name to field-identifier cache.
// Warnings lists ambiguous catalog matches; the first match in rule order is
// kept and later candidates are reported instead of silently overwriting.
type Mapping struct {
	ids      map[string]string
	Warnings []string
}

func (m *Mapping) ID(semantic string) string {
	if m == nil { return "" }
	return m.ids[semantic]
}

func (m *Mapping) Len() int {
	if m == nil { return 0 }
	return len(m.ids)
}

type catalogClient interface {
	FieldCatalog(ctx context.Context) ([]tracker.FieldDef, error)
}

type Service struct {
	client catalogClient
	log    zerolog.Logger

	mu     sync.Mutex
	cached *Mapping
}

func New(client catalogClient, log zerolog.Logger) *Service {
	return &Service{client: client, log: log}
}

// Discover builds the mapping from the tracker's field catalog. It is
// idempotent within a session: the first successful result is cached. A
// catalog fetch failure yields an empty mapping so the sync can proceed
// without custom-field enrichment.
func (s *Service) Discover(ctx context.Context) *Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil { return s.cached }

	m := &Mapping{ids: map[string]string{}}
	defs, err := s.client.FieldCatalog(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("field catalog fetch failed, syncing without custom fields")
		return m
	}
	for _, rule := range rules {
		s.apply(m, rule, defs)
	}
	if len(m.Warnings) > 0 {
		s.log.Warn().Strs("warnings", m.Warnings).Msg("ambiguous field matches")
	}
	s.log.Info().Int("mapped", len(m.ids)).Msg("field discovery complete")
	s.cached = m
	return m
}

func (s *Service) apply(m *Mapping, rule matchRule, defs []tracker.FieldDef) {
	match := func(ok func(string) bool) {
		for _, d := range defs {
			name := strings.ToLower(strings.TrimSpace(d.Name))
			if !ok(name) { continue }
			id := d.ID
			if id == "" { id = d.Key }
			if id == "" { continue }
			if prev, exists := m.ids[rule.semantic]; exists {
				if prev != id {
					m.Warnings = append(m.Warnings,
						fmt.Sprintf("%s: field %q (%s) also matches, keeping %s", rule.semantic, d.Name, id, prev))
				}
				continue
			}
			m.ids[rule.semantic] = id
		}
	}
	match(func(name string) bool {
		for _, e := range rule.exact {
			if name == e { return true }
		}
		return false
	})
	if _, ok := m.ids[rule.semantic]; ok { return }
	match(func(name string) bool {
		for _, parts := range rule.contains {
			all := true
			for _, p := range parts {
				if !strings.Contains(name, p) { all = false; break }
			}
			if all { return true }
		}
		return false
	})
}

// Reset clears the session cache so the next Discover hits the catalog again.
func (s *Service) Reset() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// FieldsList composes the fetch field list: base fields plus every
// discovered identifier, deduplicated, order-stable.
func (m *Mapping) FieldsList() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(BaseFields)+m.Len())
	push := func(f string) {
		if f == "" { return }
		if _, ok := seen[f]; ok { return }
		seen[f] = struct{}{}
		out = append(out, f)
	}
	for _, f := range BaseFields { push(f) }
	for _, rule := range rules { push(m.ID(rule.semantic)) }
	return out
}

// ExtractValue normalizes the heterogeneous shapes a field value arrives in:
// a plain scalar, a single-select option object, or a multi-select array.
func (m *Mapping) ExtractValue(fieldValues map[string]any, semantic string) string {
	id := m.ID(semantic)
	if id == "" { return "" }
	return normalize(fieldValues[id])
}

func normalize(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) { return fmt.Sprintf("%d", int64(t)) }
		return fmt.Sprintf("%v", t)
	case map[string]any:
		if s, ok := t["value"].(string); ok { return s }
		if s, ok := t["name"].(string); ok { return s }
		return ""
	case []any:
		vals := make([]string, 0, len(t))
		for _, it := range t {
			if s := normalize(it); s != "" { vals = append(vals, s) }
		}
		return strings.Join(vals, ", ")
	default:
		return fmt.Sprintf("%v", t)
	}
}
