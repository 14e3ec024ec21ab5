package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"plenario/internal/domain"
	"plenario/internal/engine"
	"plenario/internal/repo"
)

type ChamberResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Seats int    `json:"seats"`
}

type StageConditionRequest struct {
	Attribute string `json:"attribute"`
	WhenTrue  int    `json:"when_true"`
	WhenFalse int    `json:"when_false"`
}

type StageInputRequest struct {
	Ord                 int                    `json:"ord" minimum:"1"`
	Name                string                 `json:"name"`
	Unit                string                 `json:"unit,omitempty"`
	DeadlineDays        int                    `json:"deadline_days" minimum:"0"`
	UrgencyDeadlineDays *int                   `json:"urgency_deadline_days,omitempty"`
	RequiresOpinion     bool                   `json:"requires_opinion,omitempty"`
	EnablesAgenda       bool                   `json:"enables_agenda,omitempty"`
	Terminal            bool                   `json:"terminal,omitempty"`
	Condition           *StageConditionRequest `json:"condition,omitempty"`
}

func (r StageInputRequest) toInput() engine.StageInput {
	in := engine.StageInput{
		Ord:                 r.Ord,
		Name:                r.Name,
		Unit:                r.Unit,
		DeadlineDays:        r.DeadlineDays,
		UrgencyDeadlineDays: r.UrgencyDeadlineDays,
		RequiresOpinion:     r.RequiresOpinion,
		EnablesAgenda:       r.EnablesAgenda,
		Terminal:            r.Terminal,
	}
	if r.Condition != nil {
		in.Condition = &engine.AttributeCondition{
			Attribute: r.Condition.Attribute,
			WhenTrue:  r.Condition.WhenTrue,
			WhenFalse: r.Condition.WhenFalse,
		}
	}
	return in
}

type CreateFlowRequest struct {
	Category string              `json:"category"`
	Name     string              `json:"name,omitempty"`
	Stages   []StageInputRequest `json:"stages"`
}

type FlowResponse struct {
	domain.FlowDefinition
	Stages []domain.Stage `json:"stages"`
}

type CreatePropositionRequest struct {
	Category    string         `json:"category"`
	Number      string         `json:"number,omitempty"`
	Title       string         `json:"title"`
	Summary     string         `json:"summary,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Regime      string         `json:"regime,omitempty" enum:",normal,priority,urgency,extreme_urgency"`
	PresentedAt string         `json:"presented_at,omitempty" format:"date-time"`
}

type TramitacaoResponse struct {
	domain.Tramitacao
	Passages []domain.StagePassage `json:"passages"`
}

type AdvanceRequest struct {
	Opinion         string `json:"opinion,omitempty"`
	ExpectedStageID string `json:"expected_stage_id,omitempty"`
}

type CreateSessionRequest struct {
	Number      int    `json:"number" minimum:"1"`
	Type        string `json:"type,omitempty" enum:",ordinary,extraordinary,solemn"`
	ScheduledAt string `json:"scheduled_at" format:"date-time"`
}

type RecordPresenceRequest struct {
	LegislatorID  string `json:"legislator_id"`
	Present       bool   `json:"present"`
	Justification string `json:"justification,omitempty"`
}

type GenerateAgendaRequest struct {
	MaxItems              *int     `json:"max_items,omitempty" minimum:"0"`
	MaxMinutes            int      `json:"max_minutes,omitempty" minimum:"0"`
	IncludeExpiringVetoes *bool    `json:"include_expiring_vetoes,omitempty"`
	IncludeUrgencies      *bool    `json:"include_urgencies,omitempty"`
	AllowedCategories     []string `json:"allowed_categories,omitempty"`
	ExcludedCategories    []string `json:"excluded_categories,omitempty"`
}

type RecordVoteRequest struct {
	LegislatorID string `json:"legislator_id"`
	Choice       string `json:"choice" enum:"yes,no,abstain"`
}

type MinutesResponse struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type APIKeyCreatedResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key"`
}

// CreateAPIKey mints a random key and stores only its hash. The plaintext
// is returned once and never again.
func CreateAPIKey(ctx context.Context, e engine.Engine, actorID, name string) (domain.APIKey, string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "plk_" + hex.EncodeToString(raw)
	k := domain.APIKey{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.Now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
		return domain.APIKey{}, "", err
	}
	k.KeyHash = ""
	return k, secret, nil
}
