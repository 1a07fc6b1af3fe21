/* Copyright (c) 2026 Tiergarten contributors
 * SPDX-License-Identifier: BSD-3-Clause */

// Package capacity derives load, utilization and client expertise from the
// assignment history accumulated by the sync pipeline.
package capacity

import (
	"context"
	"math"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/apperrors"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/config"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/domain"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/storage"
	"github.com/PolycarpusTack/tiergarten-sub002/internal/validate"
	"github.com/rs/zerolog"
)

type Engine struct {
	cfg  config.Config
	repo *storage.Repository
	log  zerolog.Logger
	now  func() time.Time
}

func New(cfg config.Config, repo *storage.Repository, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, repo: repo, log: log, now: time.Now}
}

// LoadFor computes current load from open assignments. Utilization is the
// rounded percentage of weekly capacity; a person with zero capacity reports
// zero utilization rather than dividing by zero.
func (e *Engine) LoadFor(ctx context.Context, personID int64) (domain.PersonLoad, error) {
	id, err := validate.PositiveID("person_id", personID)
	if err != nil { return domain.PersonLoad{}, err }

	p, err := e.repo.GetPerson(ctx, id)
	if err != nil { return domain.PersonLoad{}, err }
	if p == nil {
		return domain.PersonLoad{}, apperrors.Newf(apperrors.ErrNotFound, "person %d not found", id)
	}
	hours, err := e.repo.OpenAssignmentHours(ctx, id)
	if err != nil { return domain.PersonLoad{}, err }

	load := domain.PersonLoad{
		PersonID:         id,
		CurrentLoadHours: hours,
		WeeklyCapacity:   p.WeeklyCapacity,
	}
	if p.WeeklyCapacity > 0 {
		load.UtilizationPercent = int(math.Round(hours / p.WeeklyCapacity * 100))
	}
	return load, nil
}

// ExpertiseFor classifies a person's familiarity with one client from hours
// worked inside the lookback window.
func (e *Engine) ExpertiseFor(ctx context.Context, personID, clientID int64) (domain.ClientExpertise, error) {
	pid, err := validate.PositiveID("person_id", personID)
	if err != nil { return domain.ClientExpertise{}, err }
	cid, err := validate.PositiveID("client_id", clientID)
	if err != nil { return domain.ClientExpertise{}, err }

	p, err := e.repo.GetPerson(ctx, pid)
	if err != nil { return domain.ClientExpertise{}, err }
	if p == nil {
		return domain.ClientExpertise{}, apperrors.Newf(apperrors.ErrNotFound, "person %d not found", pid)
	}

	since := e.now().Add(-e.cfg.ExpertiseLookback)
	hours, err := e.repo.ClientHoursSince(ctx, pid, cid, since)
	if err != nil { return domain.ClientExpertise{}, err }

	return domain.ClientExpertise{
		PersonID:    pid,
		ClientID:    cid,
		HoursWorked: hours,
		Tier:        e.tier(hours),
	}, nil
}

func (e *Engine) tier(hours float64) domain.ExpertiseTier {
	switch {
	case hours >= e.cfg.ExpertHoursMin:
		return domain.TierExpert
	case hours >= e.cfg.IntermediateHoursMin:
		return domain.TierIntermediate
	default:
		return domain.TierNovice
	}
}

// ClientBreakdown returns the per-client share of a person's hours inside the
// lookback window. On the analytical backend the percent-of-total comes from
// a window aggregation; on the row-oriented one it falls back to a plain
// grouped sum with the percentages derived here.
func (e *Engine) ClientBreakdown(ctx context.Context, personID int64) ([]storage.ClientShare, error) {
	pid, err := validate.PositiveID("person_id", personID)
	if err != nil { return nil, err }
	since := e.now().Add(-e.cfg.ExpertiseLookback)

	if e.repo.Adapter().SupportsAnalytics() {
		return e.repo.ClientBreakdown(ctx, pid, since)
	}

	shares, err := e.repo.ClientHoursGrouped(ctx, pid, since)
	if err != nil { return nil, err }
	var total float64
	for _, s := range shares { total += s.Hours }
	if total > 0 {
		for i := range shares {
			shares[i].PercentTotal = math.Round(shares[i].Hours/total*1000) / 10
		}
	}
	return shares, nil
}
