package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"plenario/internal/domain"
	"plenario/internal/events"
	"plenario/internal/repo"
)

// regimeMultipliers scale stage deadlines. Extreme urgency zeroes the
// deadline entirely: the stage is due the day it is entered.
var regimeMultipliers = map[string]float64{
	domain.RegimeNormal:         1.0,
	domain.RegimePriority:       0.67,
	domain.RegimeUrgency:        0.33,
	domain.RegimeExtremeUrgency: 0.0,
}

// addBusinessDays walks forward n business days from t, skipping weekends
// and the chamber's configured holidays (keyed YYYY-MM-DD). Zero days
// lands on t itself, even when t is a non-working day.
func addBusinessDays(t time.Time, n int, holidays map[string]bool) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if holidays[t.Format("2006-01-02")] {
			continue
		}
		n--
	}
	return t
}

// ComputeDeadline is the pure deadline function: due date for a stage
// entered at the given instant under a regime, against a holiday
// calendar. Urgency-class regimes use the stage's explicit urgency
// override when one is set; otherwise the stage deadline is scaled by
// the regime multiplier and rounded up.
func ComputeDeadline(stage domain.Stage, regime string, entered time.Time, holidays map[string]bool) time.Time {
	days := stage.DeadlineDays
	override := stage.UrgencyDeadlineDays != nil &&
		(regime == domain.RegimeUrgency || regime == domain.RegimeExtremeUrgency)
	if override {
		days = *stage.UrgencyDeadlineDays
	} else {
		mult, ok := regimeMultipliers[regime]
		if !ok {
			mult = 1.0
		}
		days = int(math.Ceil(float64(days) * mult))
	}
	return addBusinessDays(entered, days, holidays)
}

func (e Engine) stageDeadline(stage domain.Stage, regime string, entered time.Time) time.Time {
	return ComputeDeadline(stage, regime, entered, e.Config.HolidaySet())
}

// StartTramitacao opens a tramitação for a proposition on its category's
// flow, entering the first stage. At most one in-progress instance may
// exist per proposition.
func (e Engine) StartTramitacao(ctx context.Context, propositionID, actorID string) (domain.Tramitacao, error) {
	p, err := e.Repo.GetProposition(ctx, propositionID)
	if err != nil {
		return domain.Tramitacao{}, notFoundAs(err, "PROPOSITION_NOT_FOUND", "proposition %s not found", propositionID)
	}
	if _, err := e.Repo.ActiveTramitacao(ctx, propositionID); err == nil {
		return domain.Tramitacao{}, conflictErr(CodeActiveTramitacao, "proposition %s already has an in-progress tramitação", propositionID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Tramitacao{}, err
	}
	flow, err := e.FlowForCategory(ctx, p.Category)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	first, err := e.Repo.FirstStage(ctx, flow.ID)
	if err != nil {
		return domain.Tramitacao{}, notFoundAs(err, "FLOW_EMPTY", "flow %s has no stages", flow.ID)
	}
	now := e.now()
	nowStr := now.UTC().Format(time.RFC3339)
	deadline := e.stageDeadline(first, p.Regime, now).UTC().Format(time.RFC3339)
	t := domain.Tramitacao{
		ID:             uuid.New().String(),
		PropositionID:  propositionID,
		FlowID:         flow.ID,
		CurrentStageID: &first.ID,
		Status:         domain.TramitacaoInProgress,
		Regime:         p.Regime,
		Deadline:       &deadline,
		CreatedAt:      nowStr,
		UpdatedAt:      nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTramitacao(ctx, tx, t); err != nil {
		return domain.Tramitacao{}, err
	}
	if err := e.Repo.InsertStagePassage(ctx, tx, domain.StagePassage{
		TramitacaoID: t.ID,
		StageID:      first.ID,
		EnteredAt:    nowStr,
	}); err != nil {
		return domain.Tramitacao{}, err
	}
	if err := e.Events.Append(ctx, tx, "tramitacao.started", p.ChamberID, "tramitacao", t.ID, actorID, events.EventPayload{
		"proposition_id": propositionID,
		"stage":          first.Name,
		"deadline":       deadline,
	}); err != nil {
		return domain.Tramitacao{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Tramitacao{}, err
	}
	return t, nil
}

// AdvanceOptions parameterize a stage advance.
type AdvanceOptions struct {
	// Opinion is the committee opinion closing the current stage. Required
	// when the stage demands one.
	Opinion string
	// ExpectedStageID, when set, makes the advance conditional on the
	// tramitação still sitting at that stage. A mismatch is a conflict, not
	// a silent double-advance.
	ExpectedStageID string
	ActorID         string
}

type conditionFunc func(e Engine, ctx context.Context, stage domain.Stage, p domain.Proposition) (int, error)

// conditionKinds dispatches branch evaluation by kind. New kinds register
// here.
var conditionKinds = map[string]conditionFunc{
	"attribute": evalAttributeCondition,
}

func evalAttributeCondition(e Engine, ctx context.Context, stage domain.Stage, p domain.Proposition) (int, error) {
	if stage.ConditionJSON == nil {
		return 0, stateErr(CodeMalformedCondition, "stage %s has attribute condition without payload", stage.Name)
	}
	var cond AttributeCondition
	if err := json.Unmarshal([]byte(*stage.ConditionJSON), &cond); err != nil {
		return 0, stateErr(CodeMalformedCondition, "stage %s condition payload is not valid JSON", stage.Name)
	}
	if cond.Attribute == "" {
		return 0, stateErr(CodeMalformedCondition, "stage %s condition has no attribute", stage.Name)
	}
	attrs := propositionAttributes(p)
	if truthy(attrs[cond.Attribute]) {
		return cond.WhenTrue, nil
	}
	return cond.WhenFalse, nil
}

// truthy treats explicit boolean true, non-zero numbers and non-empty
// strings (except "false") as true. Absent attributes are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != "" && x != "false" && x != "0"
	case nil:
		return false
	}
	return true
}

// nextStageFor resolves where an advance from the current stage lands,
// honoring conditional branches. Returns the target stage.
func (e Engine) nextStageFor(ctx context.Context, current domain.Stage, p domain.Proposition) (domain.Stage, error) {
	if current.ConditionKind != "" {
		eval, ok := conditionKinds[current.ConditionKind]
		if !ok {
			return domain.Stage{}, stateErr(CodeUnknownConditionKind, "stage %s has unknown condition kind %s", current.Name, current.ConditionKind)
		}
		targetOrd, err := eval(e, ctx, current, p)
		if err != nil {
			return domain.Stage{}, err
		}
		target, err := e.Repo.GetStageByOrd(ctx, current.FlowID, targetOrd)
		if err != nil {
			return domain.Stage{}, notFoundAs(err, CodeMalformedCondition, "stage %s condition targets missing ord %d", current.Name, targetOrd)
		}
		return target, nil
	}
	next, err := e.Repo.NextStage(ctx, current.FlowID, current.Ord)
	if err != nil {
		return domain.Stage{}, notFoundAs(err, "NO_NEXT_STAGE", "stage %s has no successor and is not terminal", current.Name)
	}
	return next, nil
}

// AdvanceTramitacao moves a tramitação to its next stage. The current stage
// passage is closed with the opinion (when given), the next passage is
// opened, and the deadline recomputed under the tramitação's regime.
// Reaching a terminal stage concludes the tramitação.
func (e Engine) AdvanceTramitacao(ctx context.Context, tramitacaoID string, opts AdvanceOptions) (domain.Tramitacao, error) {
	t, err := e.Repo.GetTramitacao(ctx, tramitacaoID)
	if err != nil {
		return domain.Tramitacao{}, notFoundAs(err, "TRAMITACAO_NOT_FOUND", "tramitação %s not found", tramitacaoID)
	}
	if t.Status != domain.TramitacaoInProgress {
		return domain.Tramitacao{}, stateErr("TRAMITACAO_NOT_ACTIVE", "tramitação %s is %s", tramitacaoID, t.Status)
	}
	if t.CurrentStageID == nil {
		return domain.Tramitacao{}, stateErr("TRAMITACAO_NO_STAGE", "tramitação %s has no current stage", tramitacaoID)
	}
	if opts.ExpectedStageID != "" && opts.ExpectedStageID != *t.CurrentStageID {
		return domain.Tramitacao{}, conflictErr(CodeStageConflict, "tramitação %s moved to another stage since it was read", tramitacaoID)
	}
	current, err := e.Repo.GetStage(ctx, *t.CurrentStageID)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	if current.Terminal {
		return domain.Tramitacao{}, stateErr(CodeTerminalStage, "stage %s is terminal; tramitação cannot advance", current.Name)
	}
	if current.RequiresOpinion && opts.Opinion == "" {
		return domain.Tramitacao{}, validationErr(CodeMissingOpinion, "stage %s requires an opinion to advance", current.Name)
	}
	p, err := e.Repo.GetProposition(ctx, t.PropositionID)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	next, err := e.nextStageFor(ctx, current, p)
	if err != nil {
		return domain.Tramitacao{}, err
	}

	now := e.now()
	nowStr := now.UTC().Format(time.RFC3339)
	updated := t
	updated.CurrentStageID = &next.ID
	updated.UpdatedAt = nowStr
	if next.Terminal {
		updated.Status = domain.TramitacaoConcluded
		updated.Deadline = nil
	} else {
		d := e.stageDeadline(next, t.Regime, now).UTC().Format(time.RFC3339)
		updated.Deadline = &d
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.AdvanceTramitacaoStage(ctx, tx, t.ID, *t.CurrentStageID, updated)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	if !ok {
		return domain.Tramitacao{}, conflictErr(CodeStageConflict, "tramitação %s moved to another stage since it was read", tramitacaoID)
	}
	var opinion *string
	if opts.Opinion != "" {
		opinion = &opts.Opinion
	}
	if err := e.Repo.CloseStagePassage(ctx, tx, t.ID, current.ID, nowStr, opinion); err != nil {
		return domain.Tramitacao{}, err
	}
	if err := e.Repo.InsertStagePassage(ctx, tx, domain.StagePassage{
		TramitacaoID: t.ID,
		StageID:      next.ID,
		EnteredAt:    nowStr,
	}); err != nil {
		return domain.Tramitacao{}, err
	}
	payload := events.EventPayload{
		"proposition_id": t.PropositionID,
		"from":           current.Name,
		"to":             next.Name,
	}
	evtType := "tramitacao.advanced"
	if next.Terminal {
		evtType = "tramitacao.concluded"
	} else if updated.Deadline != nil {
		payload["deadline"] = *updated.Deadline
	}
	if err := e.Events.Append(ctx, tx, evtType, p.ChamberID, "tramitacao", t.ID, opts.ActorID, payload); err != nil {
		return domain.Tramitacao{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Tramitacao{}, err
	}
	return updated, nil
}

// CancelTramitacao terminates a tramitação without reaching a terminal
// stage (withdrawal, prejudicial loss).
func (e Engine) CancelTramitacao(ctx context.Context, tramitacaoID, reason, actorID string) (domain.Tramitacao, error) {
	t, err := e.Repo.GetTramitacao(ctx, tramitacaoID)
	if err != nil {
		return domain.Tramitacao{}, notFoundAs(err, "TRAMITACAO_NOT_FOUND", "tramitação %s not found", tramitacaoID)
	}
	if t.Status != domain.TramitacaoInProgress {
		return domain.Tramitacao{}, stateErr("TRAMITACAO_NOT_ACTIVE", "tramitação %s is %s", tramitacaoID, t.Status)
	}
	p, err := e.Repo.GetProposition(ctx, t.PropositionID)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	nowStr := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTramitacaoStatus(ctx, tx, t.ID, domain.TramitacaoCancelled, nowStr); err != nil {
		return domain.Tramitacao{}, err
	}
	if t.CurrentStageID != nil {
		if err := e.Repo.CloseStagePassage(ctx, tx, t.ID, *t.CurrentStageID, nowStr, nil); err != nil {
			return domain.Tramitacao{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "tramitacao.cancelled", p.ChamberID, "tramitacao", t.ID, actorID, events.EventPayload{
		"proposition_id": t.PropositionID,
		"reason":         reason,
	}); err != nil {
		return domain.Tramitacao{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Tramitacao{}, err
	}
	t.Status = domain.TramitacaoCancelled
	t.UpdatedAt = nowStr
	return t, nil
}

// ChangeRegime switches the urgency regime of an active tramitação and
// recomputes the current stage deadline from now under the new regime.
func (e Engine) ChangeRegime(ctx context.Context, tramitacaoID, regime, actorID string) (domain.Tramitacao, error) {
	if _, ok := regimeMultipliers[regime]; !ok {
		return domain.Tramitacao{}, validationErr(CodeInvalidRegime, "unknown urgency regime %s", regime)
	}
	t, err := e.Repo.GetTramitacao(ctx, tramitacaoID)
	if err != nil {
		return domain.Tramitacao{}, notFoundAs(err, "TRAMITACAO_NOT_FOUND", "tramitação %s not found", tramitacaoID)
	}
	if t.Status != domain.TramitacaoInProgress {
		return domain.Tramitacao{}, stateErr("TRAMITACAO_NOT_ACTIVE", "tramitação %s is %s", tramitacaoID, t.Status)
	}
	if t.CurrentStageID == nil {
		return domain.Tramitacao{}, stateErr("TRAMITACAO_NO_STAGE", "tramitação %s has no current stage", tramitacaoID)
	}
	stage, err := e.Repo.GetStage(ctx, *t.CurrentStageID)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	p, err := e.Repo.GetProposition(ctx, t.PropositionID)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	now := e.now()
	nowStr := now.UTC().Format(time.RFC3339)
	deadline := e.stageDeadline(stage, regime, now).UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tramitacao{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTramitacaoRegime(ctx, tx, t.ID, regime, &deadline, nowStr); err != nil {
		return domain.Tramitacao{}, err
	}
	if err := e.Events.Append(ctx, tx, "tramitacao.regime_changed", p.ChamberID, "tramitacao", t.ID, actorID, events.EventPayload{
		"from":     t.Regime,
		"to":       regime,
		"deadline": deadline,
	}); err != nil {
		return domain.Tramitacao{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Tramitacao{}, err
	}
	t.Regime = regime
	t.Deadline = &deadline
	t.UpdatedAt = nowStr
	return t, nil
}
