package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"plenario/internal/domain"
	"plenario/internal/events"
	"plenario/internal/repo"
)

// vetoDeadlineHorizon is how close a veto's appreciation deadline must be
// before it jumps to the top priority tier.
const vetoDeadlineHorizon = 7 * 24 * time.Hour

// GenerateOptions tune a single agenda generation run. Unset values fall
// back to config defaults. MaxItems is a pointer because an explicit zero
// is meaningful: it yields an agenda with only the fixed formalities. The
// include flags default to true; nil means included.
type GenerateOptions struct {
	MaxItems              *int
	MaxMinutes            int
	IncludeExpiringVetoes *bool
	IncludeUrgencies      *bool
	AllowedCategories     []string
	ExcludedCategories    []string
	ActorID               string
}

func includeFlag(v *bool) bool {
	return v == nil || *v
}

type agendaCandidate struct {
	prop    domain.Proposition
	tier    domain.Tier
	minutes int
	section string
	stale   bool
}

// GenerateAgenda builds the agenda for a scheduled session: every eligible
// proposition is tiered, candidates are sorted by tier then presentation
// order, and packed greedily into the session time budget. Top-tier items
// (veto deadline, extreme urgency, urgency) are admitted even when they
// blow the budget, with a warning. Regenerating replaces an unpublished
// agenda; a published agenda is immutable.
func (e Engine) GenerateAgenda(ctx context.Context, sessionID string, opts GenerateOptions) (domain.SessionAgenda, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SessionAgenda{}, notFoundAs(err, "SESSION_NOT_FOUND", "session %s not found", sessionID)
	}
	if s.Status != domain.SessionScheduled {
		return domain.SessionAgenda{}, stateErr(CodeSessionState, "agenda can only be generated for a scheduled session, session is %s", s.Status)
	}
	if existing, err := e.Repo.GetSessionAgenda(ctx, sessionID); err == nil && existing.Published {
		return domain.SessionAgenda{}, stateErr(CodeAgendaPublished, "agenda for session %s is published and cannot be regenerated", sessionID)
	} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.SessionAgenda{}, err
	}

	maxMinutes := opts.MaxMinutes
	if maxMinutes <= 0 {
		maxMinutes = e.Config.Agenda.DefaultMaxMinutes
	}
	if maxMinutes <= 0 {
		maxMinutes = 240
	}
	maxItems := e.Config.Agenda.DefaultMaxItems
	if maxItems <= 0 {
		maxItems = 20
	}
	if opts.MaxItems != nil && *opts.MaxItems >= 0 {
		maxItems = *opts.MaxItems
	}

	candidates, warnings, err := e.collectCandidates(ctx, s.ChamberID, opts)
	if err != nil {
		return domain.SessionAgenda{}, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].tier != candidates[j].tier {
			return candidates[i].tier < candidates[j].tier
		}
		if candidates[i].prop.PresentedAt != candidates[j].prop.PresentedAt {
			return candidates[i].prop.PresentedAt < candidates[j].prop.PresentedAt
		}
		return candidates[i].prop.ID < candidates[j].prop.ID
	})

	budget := maxMinutes - e.Config.OverheadMinutes()
	if budget < 0 {
		budget = 0
	}
	used := 0
	var admitted []agendaCandidate
	for _, c := range candidates {
		if len(admitted) >= maxItems {
			warnings = append(warnings, fmt.Sprintf("%s left out: item limit %d reached", c.prop.Number, maxItems))
			continue
		}
		if used+c.minutes > budget {
			// Top tiers ignore the time budget; everything else waits for
			// the next session.
			if !c.tier.ForceAdmit() {
				warnings = append(warnings, fmt.Sprintf("%s left out: would exceed %d minute budget", c.prop.Number, budget))
				continue
			}
			warnings = append(warnings, fmt.Sprintf("%s admitted over the time budget (tier %s)", c.prop.Number, c.tier))
		}
		admitted = append(admitted, c)
		used += c.minutes
	}

	nowStr := e.nowStr()
	agenda := domain.SessionAgenda{
		SessionID:    sessionID,
		TotalMinutes: used + e.Config.OverheadMinutes(),
		Warnings:     warnings,
		Published:    false,
		CreatedAt:    nowStr,
	}

	// Contiguous ords per section, in admission order.
	ordBySection := map[string]int{}
	for _, c := range admitted {
		ordBySection[c.section]++
		agenda.Items = append(agenda.Items, domain.AgendaItem{
			ID:               uuid.New().String(),
			SessionID:        sessionID,
			PropositionID:    c.prop.ID,
			Section:          c.section,
			Ord:              ordBySection[c.section],
			EstimatedMinutes: c.minutes,
			Tier:             c.tier,
			Status:           domain.ItemPending,
		})
	}

	agenda.Stats = domain.StatsFor(agenda.Items)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SessionAgenda{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAgendaItems(ctx, tx, sessionID); err != nil {
		return domain.SessionAgenda{}, err
	}
	if err := e.Repo.UpsertSessionAgenda(ctx, tx, agenda); err != nil {
		return domain.SessionAgenda{}, err
	}
	for _, it := range agenda.Items {
		if err := e.Repo.InsertAgendaItem(ctx, tx, it); err != nil {
			return domain.SessionAgenda{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "agenda.generated", s.ChamberID, "session", sessionID, opts.ActorID, events.EventPayload{
		"items":         len(agenda.Items),
		"total_minutes": agenda.TotalMinutes,
		"warnings":      len(warnings),
	}); err != nil {
		return domain.SessionAgenda{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SessionAgenda{}, err
	}
	return agenda, nil
}

// collectCandidates walks active propositions, filters by category and
// eligibility, and assigns each survivor a tier and time estimate.
func (e Engine) collectCandidates(ctx context.Context, chamberID string, opts GenerateOptions) ([]agendaCandidate, []string, error) {
	props, err := e.Repo.ListPropositions(ctx, repo.PropositionFilters{ChamberID: chamberID, Status: "active"})
	if err != nil {
		return nil, nil, err
	}
	allowed := toSet(opts.AllowedCategories)
	excluded := toSet(opts.ExcludedCategories)
	var candidates []agendaCandidate
	var warnings []string
	for _, p := range props {
		if len(allowed) > 0 && !allowed[p.Category] {
			continue
		}
		if excluded[p.Category] {
			continue
		}
		elig, err := e.CheckEligibility(ctx, p.ID)
		if err != nil {
			return nil, nil, err
		}
		if !elig.Eligible {
			continue
		}
		tier, err := e.tierFor(ctx, p, elig.Stale)
		if err != nil {
			return nil, nil, err
		}
		if tier == domain.TierVetoDeadline && !includeFlag(opts.IncludeExpiringVetoes) {
			continue
		}
		if (tier == domain.TierExtremeUrgency || tier == domain.TierUrgency) && !includeFlag(opts.IncludeUrgencies) {
			continue
		}
		if elig.Stale {
			warnings = append(warnings, fmt.Sprintf("%s pending over %d days", p.Number, e.Config.StaleDays()))
		}
		candidates = append(candidates, agendaCandidate{
			prop:    p,
			tier:    tier,
			minutes: e.Config.ItemMinutesFor(p.Category),
			section: e.sectionFor(p.Category),
			stale:   elig.Stale,
		})
	}
	return candidates, warnings, nil
}

// tierFor assigns the priority tier. Propositions pending beyond the
// staleness horizon escalate to the priority tier; staleness never reaches
// the force-admit tiers.
func (e Engine) tierFor(ctx context.Context, p domain.Proposition, stale bool) (domain.Tier, error) {
	if p.Category == "veto" {
		expiring, err := e.vetoExpiring(ctx, p.ID)
		if err != nil {
			return 0, err
		}
		if expiring {
			return domain.TierVetoDeadline, nil
		}
	}
	var tier domain.Tier
	switch p.Regime {
	case domain.RegimeExtremeUrgency:
		tier = domain.TierExtremeUrgency
	case domain.RegimeUrgency:
		tier = domain.TierUrgency
	case domain.RegimePriority:
		tier = domain.TierPriority
	default:
		switch {
		case p.VotingTurn >= 2:
			tier = domain.TierSecondVote
		case e.sectionFor(p.Category) == domain.SectionOrderOfBusiness:
			tier = domain.TierFirstVote
		default:
			tier = domain.TierChronological
		}
	}
	if stale && tier > domain.TierPriority {
		tier = domain.TierPriority
	}
	return tier, nil
}

// vetoExpiring reports whether the veto's active tramitação deadline falls
// within the escalation horizon.
func (e Engine) vetoExpiring(ctx context.Context, propositionID string) (bool, error) {
	t, err := e.Repo.ActiveTramitacao(ctx, propositionID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if t.Deadline == nil {
		return false, nil
	}
	deadline, err := time.Parse(time.RFC3339, *t.Deadline)
	if err != nil {
		return false, nil
	}
	return deadline.Sub(e.now()) <= vetoDeadlineHorizon, nil
}

func (e Engine) sectionFor(category string) string {
	switch {
	case e.Config.IsExpedienteCategory(category):
		return domain.SectionExpediente
	case e.Config.IsCommunicationCategory(category):
		return domain.SectionCommunications
	}
	return domain.SectionOrderOfBusiness
}

// PublishAgenda freezes the agenda after re-validating every item. All
// validation failures are reported together so the operator fixes them in
// one pass instead of replaying the publish per item.
func (e Engine) PublishAgenda(ctx context.Context, sessionID, actorID string) (domain.SessionAgenda, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SessionAgenda{}, notFoundAs(err, "SESSION_NOT_FOUND", "session %s not found", sessionID)
	}
	agenda, err := e.Repo.GetSessionAgenda(ctx, sessionID)
	if err != nil {
		return domain.SessionAgenda{}, notFoundAs(err, "AGENDA_NOT_FOUND", "session %s has no agenda", sessionID)
	}
	if agenda.Published {
		return domain.SessionAgenda{}, stateErr(CodeAgendaPublished, "agenda for session %s is already published", sessionID)
	}

	var problems ErrorList
	for _, it := range agenda.Items {
		elig, err := e.CheckEligibility(ctx, it.PropositionID)
		if err != nil {
			return domain.SessionAgenda{}, err
		}
		if !elig.Eligible {
			problems.append(&Error{
				Kind:    KindState,
				Code:    CodeIneligibleItem,
				Message: fmt.Sprintf("item %s no longer eligible: %s", it.PropositionID, elig.Reason),
				Details: map[string]any{"proposition_id": it.PropositionID, "code": elig.Code},
			})
		}
	}
	if err := problems.orNil(); err != nil {
		return domain.SessionAgenda{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SessionAgenda{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkAgendaPublished(ctx, tx, sessionID); err != nil {
		return domain.SessionAgenda{}, err
	}
	if err := e.Events.Append(ctx, tx, "agenda.published", s.ChamberID, "session", sessionID, actorID, events.EventPayload{
		"items": len(agenda.Items),
	}); err != nil {
		return domain.SessionAgenda{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SessionAgenda{}, err
	}
	agenda.Published = true
	return agenda, nil
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}
