package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"plenario/internal/config"
	"plenario/internal/domain"
	"plenario/internal/events"
	"plenario/internal/repo"
)

// AttributeCondition is the stored payload of an attribute branch: when the
// proposition attribute is truthy the tramitação jumps to when_true,
// otherwise to when_false. Targets are stage orders within the same flow.
type AttributeCondition struct {
	Attribute string `json:"attribute"`
	WhenTrue  int    `json:"when_true"`
	WhenFalse int    `json:"when_false"`
}

// StageInput describes a stage to create or replace.
type StageInput struct {
	Ord                 int
	Name                string
	Unit                string
	DeadlineDays        int
	UrgencyDeadlineDays *int
	RequiresOpinion     bool
	EnablesAgenda       bool
	Terminal            bool
	Condition           *AttributeCondition
}

func (in StageInput) validate() error {
	if in.Name == "" {
		return validationErr("MISSING_STAGE_NAME", "stage name is required")
	}
	if in.Ord <= 0 {
		return validationErr("INVALID_STAGE_ORD", "stage ord must be positive, got %d", in.Ord)
	}
	if in.DeadlineDays < 0 {
		return validationErr("INVALID_DEADLINE", "deadline_days must be non-negative")
	}
	if in.Condition != nil && in.Condition.Attribute == "" {
		return validationErr(CodeMalformedCondition, "attribute condition requires an attribute name")
	}
	return nil
}

func stageFromInput(flowID string, in StageInput) (domain.Stage, error) {
	s := domain.Stage{
		ID:                  uuid.New().String(),
		FlowID:              flowID,
		Ord:                 in.Ord,
		Name:                in.Name,
		Unit:                in.Unit,
		DeadlineDays:        in.DeadlineDays,
		UrgencyDeadlineDays: in.UrgencyDeadlineDays,
		RequiresOpinion:     in.RequiresOpinion,
		EnablesAgenda:       in.EnablesAgenda,
		Terminal:            in.Terminal,
	}
	if in.Condition != nil {
		b, err := json.Marshal(in.Condition)
		if err != nil {
			return s, err
		}
		payload := string(b)
		s.ConditionKind = "attribute"
		s.ConditionJSON = &payload
	}
	return s, nil
}

// CreateFlow registers a flow definition and its ordered stages for a
// proposition category. One flow per category.
func (e Engine) CreateFlow(ctx context.Context, category, name string, stages []StageInput, actorID string) (domain.FlowDefinition, error) {
	if category == "" {
		return domain.FlowDefinition{}, validationErr("MISSING_CATEGORY", "category is required")
	}
	if len(stages) == 0 {
		return domain.FlowDefinition{}, validationErr("EMPTY_FLOW", "flow requires at least one stage")
	}
	if _, err := e.Repo.GetFlowByCategory(ctx, category); err == nil {
		return domain.FlowDefinition{}, conflictErr(CodeFlowExists, "flow for category %s already exists", category)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.FlowDefinition{}, err
	}
	seen := map[int]bool{}
	terminal := false
	for _, in := range stages {
		if err := in.validate(); err != nil {
			return domain.FlowDefinition{}, err
		}
		if seen[in.Ord] {
			return domain.FlowDefinition{}, validationErr(CodeDuplicateStageOrder, "duplicate stage ord %d", in.Ord)
		}
		seen[in.Ord] = true
		if in.Terminal {
			terminal = true
		}
	}
	if !terminal {
		return domain.FlowDefinition{}, validationErr("NO_TERMINAL_STAGE", "flow requires a terminal stage")
	}
	f := domain.FlowDefinition{
		ID:        uuid.New().String(),
		Category:  category,
		Name:      name,
		CreatedAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FlowDefinition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFlow(ctx, tx, f); err != nil {
		return domain.FlowDefinition{}, err
	}
	for _, in := range stages {
		s, err := stageFromInput(f.ID, in)
		if err != nil {
			return domain.FlowDefinition{}, err
		}
		if err := e.Repo.InsertStage(ctx, tx, s); err != nil {
			return domain.FlowDefinition{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "flow.created", "", "flow", f.ID, actorID, events.EventPayload{
		"category": category,
		"stages":   len(stages),
	}); err != nil {
		return domain.FlowDefinition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FlowDefinition{}, err
	}
	e.cacheInvalidate(ctx, "flow:*")
	return f, nil
}

// FlowForCategory resolves the flow for a category, consulting the cache
// first. Cache content is only the flow ID; stage reads stay fresh.
func (e Engine) FlowForCategory(ctx context.Context, category string) (domain.FlowDefinition, error) {
	key := "flow:" + category
	if id, ok := e.cacheGet(ctx, key); ok {
		f, err := e.Repo.GetFlow(ctx, id)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.FlowDefinition{}, err
		}
		// Stale cache entry; fall through to the table.
	}
	f, err := e.Repo.GetFlowByCategory(ctx, category)
	if err != nil {
		return domain.FlowDefinition{}, notFoundAs(err, "FLOW_NOT_FOUND", "no flow defined for category %s", category)
	}
	e.cacheSet(ctx, key, f.ID)
	return f, nil
}

// AddStage appends or inserts a stage into an existing flow.
func (e Engine) AddStage(ctx context.Context, flowID string, in StageInput, actorID string) (domain.Stage, error) {
	if err := in.validate(); err != nil {
		return domain.Stage{}, err
	}
	if _, err := e.Repo.GetFlow(ctx, flowID); err != nil {
		return domain.Stage{}, notFoundAs(err, "FLOW_NOT_FOUND", "flow %s not found", flowID)
	}
	if _, err := e.Repo.GetStageByOrd(ctx, flowID, in.Ord); err == nil {
		return domain.Stage{}, validationErr(CodeDuplicateStageOrder, "stage ord %d already used in flow %s", in.Ord, flowID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Stage{}, err
	}
	s, err := stageFromInput(flowID, in)
	if err != nil {
		return domain.Stage{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Stage{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStage(ctx, tx, s); err != nil {
		return domain.Stage{}, err
	}
	if err := e.Events.Append(ctx, tx, "flow.stage_added", "", "flow", flowID, actorID, events.EventPayload{
		"stage_id": s.ID,
		"ord":      s.Ord,
	}); err != nil {
		return domain.Stage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Stage{}, err
	}
	e.cacheInvalidate(ctx, "flow:*")
	return s, nil
}

// UpdateStage replaces an existing stage's definition, keeping its identity.
func (e Engine) UpdateStage(ctx context.Context, stageID string, in StageInput, actorID string) (domain.Stage, error) {
	if err := in.validate(); err != nil {
		return domain.Stage{}, err
	}
	existing, err := e.Repo.GetStage(ctx, stageID)
	if err != nil {
		return domain.Stage{}, notFoundAs(err, "STAGE_NOT_FOUND", "stage %s not found", stageID)
	}
	if in.Ord != existing.Ord {
		if _, err := e.Repo.GetStageByOrd(ctx, existing.FlowID, in.Ord); err == nil {
			return domain.Stage{}, validationErr(CodeDuplicateStageOrder, "stage ord %d already used in flow %s", in.Ord, existing.FlowID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Stage{}, err
		}
	}
	s, err := stageFromInput(existing.FlowID, in)
	if err != nil {
		return domain.Stage{}, err
	}
	s.ID = existing.ID
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Stage{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStage(ctx, tx, s); err != nil {
		return domain.Stage{}, err
	}
	if err := e.Events.Append(ctx, tx, "flow.stage_updated", "", "flow", existing.FlowID, actorID, events.EventPayload{
		"stage_id": s.ID,
	}); err != nil {
		return domain.Stage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Stage{}, err
	}
	e.cacheInvalidate(ctx, "flow:*")
	return s, nil
}

// RemoveStage deletes a stage and renumbers the remaining ones so stage
// orders stay contiguous from 1.
func (e Engine) RemoveStage(ctx context.Context, stageID string, actorID string) error {
	existing, err := e.Repo.GetStage(ctx, stageID)
	if err != nil {
		return notFoundAs(err, "STAGE_NOT_FOUND", "stage %s not found", stageID)
	}
	stages, err := e.Repo.ListStages(ctx, existing.FlowID)
	if err != nil {
		return err
	}
	if len(stages) == 1 {
		return stateErr("LAST_STAGE", "cannot remove the only stage of flow %s", existing.FlowID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteStage(ctx, tx, stageID); err != nil {
		return err
	}
	ord := 1
	for _, s := range stages {
		if s.ID == stageID {
			continue
		}
		if s.Ord != ord {
			if err := e.Repo.SetStageOrd(ctx, tx, s.ID, ord); err != nil {
				return err
			}
		}
		ord++
	}
	if err := e.Events.Append(ctx, tx, "flow.stage_removed", "", "flow", existing.FlowID, actorID, events.EventPayload{
		"stage_id": stageID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.cacheInvalidate(ctx, "flow:*")
	return nil
}

// ReorderStages rewrites the flow's stage order to match the given stage ID
// sequence. Every current stage must appear exactly once.
func (e Engine) ReorderStages(ctx context.Context, flowID string, stageIDs []string, actorID string) ([]domain.Stage, error) {
	if _, err := e.Repo.GetFlow(ctx, flowID); err != nil {
		return nil, notFoundAs(err, "FLOW_NOT_FOUND", "flow %s not found", flowID)
	}
	stages, err := e.Repo.ListStages(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if len(stageIDs) != len(stages) {
		return nil, validationErr("INCOMPLETE_REORDER", "reorder lists %d stages, flow has %d", len(stageIDs), len(stages))
	}
	byID := make(map[string]domain.Stage, len(stages))
	for _, s := range stages {
		byID[s.ID] = s
	}
	seen := map[string]bool{}
	for _, id := range stageIDs {
		if _, ok := byID[id]; !ok {
			return nil, notFoundErr("STAGE_NOT_FOUND", "stage %s not in flow %s", id, flowID)
		}
		if seen[id] {
			return nil, validationErr("INCOMPLETE_REORDER", "stage %s listed twice", id)
		}
		seen[id] = true
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	// Two passes avoid transient ord collisions under the unique index.
	for i, id := range stageIDs {
		if err := e.Repo.SetStageOrd(ctx, tx, id, -(i + 1)); err != nil {
			return nil, err
		}
	}
	for i, id := range stageIDs {
		if err := e.Repo.SetStageOrd(ctx, tx, id, i+1); err != nil {
			return nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, "flow.stages_reordered", "", "flow", flowID, actorID, events.EventPayload{
		"stages": len(stageIDs),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.cacheInvalidate(ctx, "flow:*")
	return e.Repo.ListStages(ctx, flowID)
}

// SeedDefaultFlows creates the flows declared in config that do not exist
// yet. Existing categories are left untouched, so the call is idempotent.
func (e Engine) SeedDefaultFlows(ctx context.Context, actorID string) ([]string, error) {
	if e.Config == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	var created []string
	for category, seed := range e.Config.Flows {
		if _, err := e.Repo.GetFlowByCategory(ctx, category); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return created, err
		}
		stages := make([]StageInput, 0, len(seed.Stages))
		for i, st := range seed.Stages {
			in := stageInputFromSeed(i+1, st)
			stages = append(stages, in)
		}
		if _, err := e.CreateFlow(ctx, category, seed.Name, stages, actorID); err != nil {
			return created, fmt.Errorf("seed flow %s: %w", category, err)
		}
		created = append(created, category)
	}
	return created, nil
}

func stageInputFromSeed(ord int, st config.StageSeed) StageInput {
	in := StageInput{
		Ord:                 ord,
		Name:                st.Name,
		Unit:                st.Unit,
		DeadlineDays:        st.DeadlineDays,
		UrgencyDeadlineDays: st.UrgencyDeadlineDays,
		RequiresOpinion:     st.RequiresOpinion,
		EnablesAgenda:       st.EnablesAgenda,
		Terminal:            st.Terminal,
	}
	if st.Condition != nil && st.Condition.Kind == "attribute" {
		in.Condition = &AttributeCondition{
			Attribute: st.Condition.Attribute,
			WhenTrue:  st.Condition.WhenTrue,
			WhenFalse: st.Condition.WhenFalse,
		}
	}
	return in
}
