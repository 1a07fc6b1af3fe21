/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/apperrors"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/config"
	"github.com/rs/zerolog"
)

// FieldDef is one entry of the tracker's field catalog.
type FieldDef struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
}

// SearchPage is one page of a paginated record search.
type SearchPage struct {
	StartAt    int              `json:"startAt"`
	MaxResults int              `json:"maxResults"`
	Total      int              `json:"total"`
	Issues     []map[string]any `json:"issues"`
}

type Client struct {
	baseURL  string
	token    string
	user     string
	pass     string
	http     *http.Client
	log      zerolog.Logger
	attempts int
	base     time.Duration
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	attempts := cfg.RetryAttempts
	if attempts <= 0 { attempts = 3 }
	base := cfg.RetryBase
	if base <= 0 { base = 300 * time.Millisecond }
	return &Client{
		baseURL:  cfg.TrackerBaseURL,
		token:    cfg.TrackerPAT,
		user:     cfg.TrackerUser,
		pass:     cfg.TrackerPass,
		http:     &http.Client{Timeout: cfg.HTTPTimeout},
		log:      log,
		attempts: attempts,
		base:     base,
	}
}

func (c *Client) apiURL(path string, q url.Values) string {
	base := strings.TrimRight(c.baseURL, "/")
	if !strings.HasPrefix(path, "/") { path = "/" + path }
	u := base + path
	if len(q) > 0 { u = u + "?" + q.Encode() }
	return u
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.user != "" && c.pass != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}

// do performs one authenticated GET with the bounded retry budget: 429 and
// 5xx are retried with exponential backoff, everything else fails fast.
// 401/403 are never retried.
func (c *Client) do(ctx context.Context, u string, out any) error {
	if c.baseURL == "" { return apperrors.New(apperrors.ErrExternal, "tracker: empty base URL") }
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperrors.Wrap(apperrors.ErrCancelled, "tracker request cancelled", ctx.Err())
			case <-time.After(c.base * (1 << (attempt - 1))):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil { return err }
		c.authorize(req)
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return apperrors.Wrap(apperrors.ErrCancelled, "tracker request cancelled", ctx.Err())
			}
			lastErr = apperrors.Wrap(apperrors.ErrExternal, "tracker request failed", err)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			msg := fmt.Sprintf("tracker api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				lastErr = apperrors.New(apperrors.ErrExternal, msg)
				continue
			}
			return apperrors.New(apperrors.ErrExternal, msg)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return apperrors.Wrap(apperrors.ErrExternal, "tracker response decode failed", err)
		}
		return nil
	}
	if lastErr == nil { lastErr = apperrors.New(apperrors.ErrExternal, "tracker retry budget exhausted") }
	return lastErr
}

// FieldCatalog returns the full field catalog. The endpoint returns a bare
// JSON array, unlike the paginated ones.
func (c *Client) FieldCatalog(ctx context.Context) ([]FieldDef, error) {
	var out []FieldDef
	if err := c.do(ctx, c.apiURL("/rest/api/2/field", nil), &out); err != nil { return nil, err }
	return out, nil
}

// Search fetches one page of records matching the query, restricted to the
// given field identifiers.
func (c *Client) Search(ctx context.Context, query string, fields []string, startAt, max int) (*SearchPage, error) {
	if strings.TrimSpace(query) == "" { return nil, errors.New("tracker: empty query") }
	q := url.Values{}
	q.Set("jql", query)
	if startAt > 0 { q.Set("startAt", fmt.Sprint(startAt)) }
	if max > 0 { q.Set("maxResults", fmt.Sprint(max)) }
	if len(fields) > 0 { q.Set("fields", strings.Join(fields, ",")) }
	var page SearchPage
	if err := c.do(ctx, c.apiURL("/rest/api/2/search", q), &page); err != nil { return nil, err }
	return &page, nil
}
