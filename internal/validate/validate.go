/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package validate holds the pure validation and sanitization functions every
// value passes through before it reaches storage. Sanitization here is
// defense in depth; all queries are parameterized regardless.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/apperrors"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/domain"
)

var (
	recordKeyRe = regexp.MustCompile(`^[A-Z][A-Z0-9]*-[0-9]+$`)
	sqlIdentRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

const (
	MaxStringLen  = 1000
	MaxJSONBytes  = 64 * 1024
	MaxArrayItems = 100

	// Dates outside this window are treated as corrupt input.
	minYear = 1990
	maxYear = 2100
)

// RecordKey returns the trimmed key when it matches <PREFIX>-<digits>.
func RecordKey(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" { return "", apperrors.Validation("key", "record key is required") }
	if !recordKeyRe.MatchString(k) {
		return "", apperrors.Validation("key", fmt.Sprintf("invalid record key %q, expected PREFIX-123", k))
	}
	return k, nil
}

// PositiveID rejects zero and negative identifiers.
func PositiveID(field string, id int64) (int64, error) {
	if id <= 0 { return 0, apperrors.Validation(field, "identifier must be a positive integer") }
	return id, nil
}

// SafeString trims, strips null bytes, escapes single quotes and enforces the
// length ceiling. The ceiling applies to the escaped form, since that is what
// gets stored; escaping doubles quotes and must not smuggle a value past the
// limit.
func SafeString(field, v string, maxLen int) (string, error) {
	if maxLen <= 0 { maxLen = MaxStringLen }
	s := strings.TrimSpace(v)
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "'", "''")
	if len(s) > maxLen {
		return "", apperrors.Validation(field, fmt.Sprintf("exceeds maximum length of %d", maxLen))
	}
	return s, nil
}

// PlausibleDate rejects dates absurdly far in the past or future.
func PlausibleDate(field string, t time.Time) (time.Time, error) {
	y := t.Year()
	if y < minYear || y > maxYear {
		return time.Time{}, apperrors.Validation(field, fmt.Sprintf("date year %d outside plausible range", y))
	}
	return t, nil
}

// JSONPayload checks size and syntax only; callers decode as needed.
func JSONPayload(field string, raw []byte) ([]byte, error) {
	if len(raw) > MaxJSONBytes {
		return nil, apperrors.Validation(field, fmt.Sprintf("payload exceeds %d bytes", MaxJSONBytes))
	}
	if !json.Valid(raw) { return nil, apperrors.Validation(field, "payload is not valid JSON") }
	return raw, nil
}

// StringArray bounds the array and sanitizes each item.
func StringArray(field string, items []string, maxLen int) ([]string, error) {
	if len(items) > MaxArrayItems {
		return nil, apperrors.Validation(field, fmt.Sprintf("array exceeds %d items", MaxArrayItems))
	}
	out := make([]string, 0, len(items))
	for i, it := range items {
		s, err := SafeString(fmt.Sprintf("%s[%d]", field, i), it, maxLen)
		if err != nil { return nil, err }
		if s == "" { continue }
		out = append(out, s)
	}
	return out, nil
}

// SQLIdentifier whitelists any caller-influenced table or column name.
func SQLIdentifier(name string) (string, error) {
	if !sqlIdentRe.MatchString(name) {
		return "", apperrors.Validation("identifier", fmt.Sprintf("%q is not a valid SQL identifier", name))
	}
	return name, nil
}

// injectionMarkers screens free-form filter text handed to the tracker query.
var injectionMarkers = []string{";", "--", "/*", "*/", "\x00"}

// FilterText screens free-form query filters for injection markers.
func FilterText(v string) (string, error) {
	s := strings.TrimSpace(v)
	if len(s) > MaxStringLen {
		return "", apperrors.Validation("filter", fmt.Sprintf("exceeds maximum length of %d", MaxStringLen))
	}
	for _, m := range injectionMarkers {
		if strings.Contains(s, m) {
			return "", apperrors.Validation("filter", fmt.Sprintf("filter contains forbidden sequence %q", m))
		}
	}
	return s, nil
}

// SyncOptions validates a full option set before a session starts.
func SyncOptions(opts domain.SyncOptions) (domain.SyncOptions, error) {
	out := opts
	if opts.UpdatedSince != nil {
		t, err := PlausibleDate("updated_since", *opts.UpdatedSince)
		if err != nil { return out, err }
		out.UpdatedSince = &t
	}
	f, err := FilterText(opts.Filter)
	if err != nil { return out, err }
	out.Filter = f
	types, err := StringArray("excluded_types", opts.ExcludedTypes, 100)
	if err != nil { return out, err }
	out.ExcludedTypes = types
	return out, nil
}

// TicketForStorage validates every field and reports all problems at once
// rather than short-circuiting on the first.
func TicketForStorage(t domain.Ticket) (domain.Ticket, error) {
	out := t
	var problems []string

	if k, err := RecordKey(t.Key); err != nil {
		problems = append(problems, err.Error())
	} else {
		out.Key = k
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *string
		max  int
	}{
		{"summary", t.Summary, &out.Summary, MaxStringLen},
		{"status", t.Status, &out.Status, 100},
		{"priority", t.Priority, &out.Priority, 100},
		{"assignee", t.Assignee, &out.Assignee, 200},
		{"customer_priority", t.CustomerPriority, &out.CustomerPriority, 100},
		{"internal_priority", t.InternalPriority, &out.InternalPriority, 100},
		{"sla", t.SLA, &out.SLA, 100},
		{"severity", t.Severity, &out.Severity, 100},
	} {
		s, err := SafeString(f.name, f.src, f.max)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		*f.dst = s
	}
	if t.CreatedAt != nil {
		if _, err := PlausibleDate("created_at", *t.CreatedAt); err != nil { problems = append(problems, err.Error()) }
	}
	if t.UpdatedAt != nil {
		if _, err := PlausibleDate("updated_at", *t.UpdatedAt); err != nil { problems = append(problems, err.Error()) }
	}
	if len(problems) > 0 {
		return out, apperrors.Validation("ticket", strings.Join(problems, "; "))
	}
	return out, nil
}
