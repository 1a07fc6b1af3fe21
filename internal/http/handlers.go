/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/apperrors"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/capacity"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/config"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/domain"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/storage"
	syncpkg "github.com/PolycarpusTack/tiergarten-sub002/internal/sync"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/validate"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type handler struct {
	cfg  config.Config
	log  zerolog.Logger
	mgr  *syncpkg.Manager
	eng  *capacity.Engine
	repo *storage.Repository
}

func asAppError(err error) *apperrors.AppError {
	var ae *apperrors.AppError
	if errors.As(err, &ae) { return ae }
	return nil
}

// writeError maps AppError codes to HTTP statuses. The underlying cause is
// only exposed outside prod.
func writeError(c *gin.Context, err error, dev bool) {
	ae := asAppError(err)
	if ae == nil {
		ae = apperrors.Wrap(apperrors.ErrInternal, "internal error", err)
	}
	body := gin.H{"code": ae.Code, "message": ae.Message}
	if ae.Field != "" { body["field"] = ae.Field }
	if ae.RetryAfter > 0 {
		secs := int(ae.RetryAfter.Seconds() + 0.999)
		body["retry_after_seconds"] = secs
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	if dev && ae.Err != nil { body["cause"] = ae.Err.Error() }
	c.JSON(ae.HTTPStatus(), gin.H{"error": body})
}

func (h *handler) fail(c *gin.Context, err error) {
	writeError(c, err, h.cfg.AppEnv != "prod")
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type startSyncRequest struct {
	Projects      []string   `json:"projects"`
	UpdatedSince  *time.Time `json:"updated_since"`
	Filter        string     `json:"filter"`
	ExcludedTypes []string   `json:"excluded_types"`
}

func (h *handler) startSync(c *gin.Context) {
	var req startSyncRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, apperrors.Validation("body", fmt.Sprintf("malformed request: %v", err)))
			return
		}
	}
	st, err := h.mgr.Start(req.Projects, domain.SyncOptions{
		UpdatedSince:  req.UpdatedSince,
		Filter:        req.Filter,
		ExcludedTypes: req.ExcludedTypes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (h *handler) getSync(c *gin.Context) {
	st, err := h.mgr.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) cancelSync(c *gin.Context) {
	st, err := h.mgr.Cancel(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// syncEvents streams session progress as server-sent events and closes the
// stream after the terminal event.
func (h *handler) syncEvents(c *gin.Context) {
	ch, detach, err := h.mgr.Subscribe(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer detach()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok { return false }
			payload, err := json.Marshal(ev)
			if err != nil { return false }
			fmt.Fprintf(w, "data: %s\n\n", payload)
			done := ev.State == domain.StateCompleted || ev.State == domain.StateFailed
			return !done
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *handler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, apperrors.Validation(name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *handler) personLoad(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok { return }
	load, err := h.eng.LoadFor(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, load)
}

func (h *handler) personExpertise(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok { return }
	client, ok := h.pathID(c, "client")
	if !ok { return }
	exp, err := h.eng.ExpertiseFor(c.Request.Context(), id, client)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (h *handler) clientBreakdown(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok { return }
	shares, err := h.eng.ClientBreakdown(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"person_id": id, "clients": shares})
}

type personRequest struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	WeeklyCapacity float64  `json:"weekly_capacity"`
	Specialties    []string `json:"specialties"`
}

func (h *handler) upsertPerson(c *gin.Context) {
	var req personRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", fmt.Sprintf("malformed request: %v", err)))
		return
	}
	if req.ID <= 0 {
		h.fail(c, apperrors.Validation("id", "must be a positive integer"))
		return
	}
	if req.Name == "" {
		h.fail(c, apperrors.Validation("name", "name is required"))
		return
	}
	if req.WeeklyCapacity < 0 {
		h.fail(c, apperrors.Validation("weekly_capacity", "must not be negative"))
		return
	}
	p := domain.Person{ID: req.ID, Name: req.Name, WeeklyCapacity: req.WeeklyCapacity, Specialties: req.Specialties}
	if err := h.repo.UpsertPerson(c.Request.Context(), p); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type assignmentRequest struct {
	TicketKey     string     `json:"ticket_key"`
	PersonID      int64      `json:"person_id"`
	ClientID      int64      `json:"client_id"`
	AssignedHours float64    `json:"assigned_hours"`
	AssignedAt    *time.Time `json:"assigned_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

func validateAssignment(a domain.Assignment) (domain.Assignment, error) {
	key, err := validate.RecordKey(a.TicketKey)
	if err != nil { return a, err }
	a.TicketKey = key
	if _, err := validate.PositiveID("person_id", a.PersonID); err != nil { return a, err }
	if _, err := validate.PositiveID("client_id", a.ClientID); err != nil { return a, err }
	if a.AssignedHours < 0 {
		return a, apperrors.Validation("assigned_hours", "must not be negative")
	}
	return a, nil
}

func (h *handler) upsertAssignment(c *gin.Context) {
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", fmt.Sprintf("malformed request: %v", err)))
		return
	}
	a := domain.Assignment{
		TicketKey:     req.TicketKey,
		PersonID:      req.PersonID,
		ClientID:      req.ClientID,
		AssignedHours: req.AssignedHours,
		CompletedAt:   req.CompletedAt,
	}
	if req.AssignedAt != nil { a.AssignedAt = *req.AssignedAt }
	a, err := validateAssignment(a)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.repo.UpsertAssignment(c.Request.Context(), a); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *handler) lastRun(c *gin.Context) {
	run, err := h.repo.LastSyncRun(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if run == nil {
		h.fail(c, apperrors.New(apperrors.ErrNotFound, "no sync has run yet"))
		return
	}
	c.JSON(http.StatusOK, run)
}
