package fields

import (
	"context"
	"errors"
	"testing"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/tracker"
	"github.com/rs/zerolog"
)

type stubCatalog struct {
	defs  []tracker.FieldDef
	err   error
	calls int
}

func (s *stubCatalog) FieldCatalog(ctx context.Context) ([]tracker.FieldDef, error) {
	s.calls++
	return s.defs, s.err
}

func TestDiscover_ExactMatchWinsOverHeuristic(t *testing.T) {
	stub := &stubCatalog{defs: []tracker.FieldDef{
		{ID: "customfield_10001", Name: "Customer Priority Override", Custom: true},
		{ID: "customfield_10002", Name: "Customer Priority", Custom: true},
		{ID: "customfield_10003", Name: "Severity", Custom: true},
	}}
	m := New(stub, zerolog.Nop()).Discover(context.Background())
	if got := m.ID(CustomerPriority); got != "customfield_10002" {
		t.Fatalf("customer priority = %q, want exact match customfield_10002", got)
	}
	if got := m.ID(Severity); got != "customfield_10003" { t.Fatalf("severity = %q", got) }
}

func TestDiscover_SubstringFallbackAndCaseInsensitive(t *testing.T) {
	stub := &stubCatalog{defs: []tracker.FieldDef{
		{ID: "customfield_20001", Name: "CUSTOMER prio (legacy)", Custom: true},
		{ID: "customfield_20002", Name: "Internal PRIORITY level", Custom: true},
	}}
	m := New(stub, zerolog.Nop()).Discover(context.Background())
	if m.ID(CustomerPriority) != "customfield_20001" { t.Fatalf("got %q", m.ID(CustomerPriority)) }
	if m.ID(InternalPriority) != "customfield_20002" { t.Fatalf("got %q", m.ID(InternalPriority)) }
}

func TestDiscover_AmbiguityIsWarnedNotOverwritten(t *testing.T) {
	stub := &stubCatalog{defs: []tracker.FieldDef{
		{ID: "customfield_1", Name: "SLA", Custom: true},
		{ID: "customfield_2", Name: "Service Level Agreement", Custom: true},
	}}
	m := New(stub, zerolog.Nop()).Discover(context.Background())
	if m.ID(SLA) != "customfield_1" { t.Fatalf("first match should win, got %q", m.ID(SLA)) }
	if len(m.Warnings) == 0 { t.Fatal("expected ambiguity warning") }
}

func TestDiscover_FailureYieldsEmptyMapping(t *testing.T) {
	stub := &stubCatalog{err: errors.New("boom")}
	m := New(stub, zerolog.Nop()).Discover(context.Background())
	if m.Len() != 0 { t.Fatalf("expected empty mapping, got %d entries", m.Len()) }
}

func TestDiscover_CachesWithinSession(t *testing.T) {
	stub := &stubCatalog{defs: []tracker.FieldDef{{ID: "customfield_9", Name: "Severity"}}}
	svc := New(stub, zerolog.Nop())
	svc.Discover(context.Background())
	svc.Discover(context.Background())
	if stub.calls != 1 { t.Fatalf("catalog fetched %d times, want 1", stub.calls) }
	svc.Reset()
	svc.Discover(context.Background())
	if stub.calls != 2 { t.Fatalf("after Reset catalog fetched %d times, want 2", stub.calls) }
}

func TestFieldsList_BasePlusDiscoveredNoDuplicates(t *testing.T) {
	stub := &stubCatalog{defs: []tracker.FieldDef{
		{ID: "customfield_1", Name: "Customer Priority"},
		{ID: "customfield_1", Name: "SLA"}, // same id discovered twice
		{ID: "summary", Name: "Severity"},  // collides with a base field
	}}
	m := New(stub, zerolog.Nop()).Discover(context.Background())
	list := m.FieldsList()
	seen := map[string]int{}
	for _, f := range list { seen[f]++ }
	for f, n := range seen {
		if n != 1 { t.Fatalf("field %q appears %d times", f, n) }
	}
	for _, base := range BaseFields {
		if seen[base] != 1 { t.Fatalf("base field %q missing from %v", base, list) }
	}
	if seen["customfield_1"] != 1 { t.Fatalf("discovered id missing from %v", list) }
}

func TestExtractValue_NormalizesAllShapes(t *testing.T) {
	m := &Mapping{ids: map[string]string{
		CustomerPriority: "cf_scalar",
		InternalPriority: "cf_option",
		Severity:         "cf_multi",
		SLA:              "cf_missing",
	}}
	values := map[string]any{
		"cf_scalar": "P1",
		"cf_option": map[string]any{"value": "High", "id": "1"},
		"cf_multi":  []any{map[string]any{"value": "Gold"}, "Silver"},
	}
	if got := m.ExtractValue(values, CustomerPriority); got != "P1" { t.Fatalf("scalar: %q", got) }
	if got := m.ExtractValue(values, InternalPriority); got != "High" { t.Fatalf("option: %q", got) }
	if got := m.ExtractValue(values, Severity); got != "Gold, Silver" { t.Fatalf("multi: %q", got) }
	if got := m.ExtractValue(values, SLA); got != "" { t.Fatalf("missing should be empty: %q", got) }
}
