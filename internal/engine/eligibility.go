package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"plenario/internal/domain"
	"plenario/internal/repo"
)

// EligibilityResult reports whether a proposition may enter a session
// agenda, and why not when it may not.
type EligibilityResult struct {
	PropositionID string   `json:"proposition_id"`
	Eligible      bool     `json:"eligible"`
	Code          string   `json:"code,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	StageName     string   `json:"stage_name,omitempty"`
	Stale         bool     `json:"stale"`
	Warnings      []string `json:"warnings,omitempty"`
}

// CheckEligibility applies the admission rules in order: exempt categories
// skip tramitação entirely; everything else needs an in-progress
// tramitação sitting at a stage that enables agenda entry. Stages in a
// plenary unit are accepted as a fallback for flows predating the
// enables_agenda flag.
func (e Engine) CheckEligibility(ctx context.Context, propositionID string) (EligibilityResult, error) {
	p, err := e.Repo.GetProposition(ctx, propositionID)
	if err != nil {
		return EligibilityResult{}, notFoundAs(err, "PROPOSITION_NOT_FOUND", "proposition %s not found", propositionID)
	}
	res := EligibilityResult{PropositionID: propositionID}
	res.Stale = e.isStale(p)
	if res.Stale {
		res.Warnings = append(res.Warnings, fmt.Sprintf("proposition %s presented over %d days ago", propositionID, e.Config.StaleDays()))
	}

	if e.Config.IsExemptCategory(p.Category) {
		res.Eligible = true
		return res, nil
	}

	t, err := e.Repo.ActiveTramitacao(ctx, propositionID)
	if errors.Is(err, repo.ErrNotFound) {
		res.Code = CodeNoTramitacao
		res.Reason = "no in-progress tramitação"
		return res, nil
	}
	if err != nil {
		return EligibilityResult{}, err
	}
	if t.CurrentStageID == nil {
		res.Code = CodeNoTramitacao
		res.Reason = "tramitação has no current stage"
		return res, nil
	}
	stage, err := e.Repo.GetStage(ctx, *t.CurrentStageID)
	if err != nil {
		return EligibilityResult{}, err
	}
	res.StageName = stage.Name
	if stage.EnablesAgenda || e.isPlenaryUnit(stage.Unit) {
		res.Eligible = true
		return res, nil
	}
	res.Code = CodeStageNoAgenda
	res.Reason = fmt.Sprintf("stage %s does not enable agenda entry", stage.Name)
	return res, nil
}

// isPlenaryUnit matches stage units against the configured plenary unit
// names. Kept for flows defined before enables_agenda existed.
func (e Engine) isPlenaryUnit(unit string) bool {
	if e.Config == nil {
		return false
	}
	for _, u := range e.Config.Eligibility.PlenaryUnits {
		if u == unit {
			return true
		}
	}
	return false
}

// isStale reports whether the proposition has been pending longer than the
// configured staleness horizon.
func (e Engine) isStale(p domain.Proposition) bool {
	presented, err := time.Parse(time.RFC3339, p.PresentedAt)
	if err != nil {
		return false
	}
	horizon := time.Duration(e.Config.StaleDays()) * 24 * time.Hour
	return e.now().Sub(presented) > horizon
}
