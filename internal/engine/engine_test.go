package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"plenario/internal/config"
	"plenario/internal/db"
	"plenario/internal/domain"
	"plenario/internal/engine"
	"plenario/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    *time.Time
}

// baseTime is a Monday at noon, so business-day math is predictable.
var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("cam-1")
	eng := engine.New(conn, cfg)
	now := baseTime
	eng.Now = func() time.Time { return now }
	ctx := context.Background()
	if err := eng.InitChamber(ctx, "cam-1", "", "tester"); err != nil {
		t.Fatalf("init chamber: %v", err)
	}
	if _, err := eng.SeedDefaultFlows(ctx, "tester"); err != nil {
		t.Fatalf("seed flows: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, now: &now}
}

func (env testEnv) createProposition(t *testing.T, category, number, regime string, attrs map[string]any) domain.Proposition {
	t.Helper()
	p, err := env.Engine.CreateProposition(env.Ctx, engine.PropositionCreateOptions{
		ChamberID:  "cam-1",
		Category:   category,
		Number:     number,
		Title:      "Proposição " + number,
		Regime:     regime,
		Attributes: attrs,
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("create proposition %s: %v", number, err)
	}
	return p
}

func (env testEnv) mustAdvance(t *testing.T, tramID, opinion string) domain.Tramitacao {
	t.Helper()
	tr, err := env.Engine.AdvanceTramitacao(env.Ctx, tramID, engine.AdvanceOptions{Opinion: opinion, ActorID: "tester"})
	if err != nil {
		t.Fatalf("advance %s: %v", tramID, err)
	}
	return tr
}

// readyProposition creates a projeto de lei without fiscal impact and walks
// its tramitação to the agenda-enabling stage.
func (env testEnv) readyProposition(t *testing.T, number, regime string) domain.Proposition {
	t.Helper()
	p := env.createProposition(t, "projeto_de_lei", number, regime, nil)
	tr, err := env.Engine.StartTramitacao(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("start tramitação: %v", err)
	}
	env.mustAdvance(t, tr.ID, "")
	env.mustAdvance(t, tr.ID, "favorável")
	return p
}

func (env testEnv) createLegislators(t *testing.T, n int) []domain.Legislator {
	t.Helper()
	legs := make([]domain.Legislator, 0, n)
	for i := 0; i < n; i++ {
		l, err := env.Engine.CreateLegislator(env.Ctx, "cam-1", fmt.Sprintf("Vereador %02d", i+1), "", "tester")
		if err != nil {
			t.Fatalf("create legislator: %v", err)
		}
		legs = append(legs, l)
	}
	return legs
}

func domainErr(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %s, got nil", code)
	}
	var de *engine.Error
	if !errors.As(err, &de) {
		t.Fatalf("expected engine.Error %s, got %v", code, err)
	}
	if de.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, de.Code, de.Message)
	}
}

func TestComputeDeadlineRegimes(t *testing.T) {
	stage := domain.Stage{DeadlineDays: 15}
	normal := engine.ComputeDeadline(stage, domain.RegimeNormal, baseTime, nil)
	// 15 business days from Monday = three full weeks.
	if want := baseTime.AddDate(0, 0, 21); !normal.Equal(want) {
		t.Fatalf("normal deadline: want %v, got %v", want, normal)
	}
	urgency := engine.ComputeDeadline(stage, domain.RegimeUrgency, baseTime, nil)
	// ceil(15*0.33) = 5 business days.
	if want := baseTime.AddDate(0, 0, 7); !urgency.Equal(want) {
		t.Fatalf("urgency deadline: want %v, got %v", want, urgency)
	}
	extreme := engine.ComputeDeadline(stage, domain.RegimeExtremeUrgency, baseTime, nil)
	if !extreme.Equal(baseTime) {
		t.Fatalf("extreme urgency deadline: want %v, got %v", baseTime, extreme)
	}
}

func TestComputeDeadlineUrgencyOverride(t *testing.T) {
	override := 3
	stage := domain.Stage{DeadlineDays: 15, UrgencyDeadlineDays: &override}
	got := engine.ComputeDeadline(stage, domain.RegimeUrgency, baseTime, nil)
	if want := baseTime.AddDate(0, 0, 3); !got.Equal(want) {
		t.Fatalf("override deadline: want %v, got %v", want, got)
	}
	// Overrides do not apply to normal regime.
	normal := engine.ComputeDeadline(stage, domain.RegimeNormal, baseTime, nil)
	if want := baseTime.AddDate(0, 0, 21); !normal.Equal(want) {
		t.Fatalf("normal deadline with override present: want %v, got %v", want, normal)
	}
}

func TestComputeDeadlineSkipsHolidays(t *testing.T) {
	stage := domain.Stage{DeadlineDays: 3}
	// Wednesday Mar 4 is a holiday, so three business days from Monday
	// land on Friday instead of Thursday.
	holidays := map[string]bool{"2026-03-04": true}
	got := engine.ComputeDeadline(stage, domain.RegimeNormal, baseTime, holidays)
	if want := baseTime.AddDate(0, 0, 4); !got.Equal(want) {
		t.Fatalf("holiday deadline: want %v, got %v", want, got)
	}
	plain := engine.ComputeDeadline(stage, domain.RegimeNormal, baseTime, nil)
	if want := baseTime.AddDate(0, 0, 3); !plain.Equal(want) {
		t.Fatalf("no-holiday deadline: want %v, got %v", want, plain)
	}
}

func TestActiveTramitacaoUnique(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProposition(t, "projeto_de_lei", "PL 001/2026", "", nil)
	if _, err := env.Engine.StartTramitacao(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.Engine.StartTramitacao(env.Ctx, p.ID, "tester")
	domainErr(t, err, engine.CodeActiveTramitacao)
}

func TestAdvanceRequiresOpinion(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProposition(t, "projeto_de_lei", "PL 002/2026", "", nil)
	tr, err := env.Engine.StartTramitacao(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	env.mustAdvance(t, tr.ID, "") // protocolo needs no opinion
	_, err = env.Engine.AdvanceTramitacao(env.Ctx, tr.ID, engine.AdvanceOptions{ActorID: "tester"})
	domainErr(t, err, engine.CodeMissingOpinion)
}

func TestAdvanceTerminalStage(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProposition(t, "requerimento", "REQ 001/2026", "", nil)
	tr, err := env.Engine.StartTramitacao(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	env.mustAdvance(t, tr.ID, "")
	got := env.mustAdvance(t, tr.ID, "")
	if got.Status != domain.TramitacaoConcluded {
		t.Fatalf("expected concluded after terminal stage, got %s", got.Status)
	}
	_, err = env.Engine.AdvanceTramitacao(env.Ctx, tr.ID, engine.AdvanceOptions{ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected error advancing concluded tramitação")
	}
}

func TestConditionalBranch(t *testing.T) {
	env := newTestEnv(t)

	// Fiscal impact routes through the finance committee (ord 3).
	fiscal := env.createProposition(t, "projeto_de_lei", "PL 003/2026", "", map[string]any{"fiscal_impact": true})
	tr, err := env.Engine.StartTramitacao(env.Ctx, fiscal.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	env.mustAdvance(t, tr.ID, "")
	got := env.mustAdvance(t, tr.ID, "favorável")
	stage, err := env.Engine.Repo.GetStage(env.Ctx, *got.CurrentStageID)
	if err != nil {
		t.Fatal(err)
	}
	if stage.Ord != 3 {
		t.Fatalf("fiscal-impact branch: want ord 3, got %d (%s)", stage.Ord, stage.Name)
	}

	// No fiscal impact skips straight to the plenary-ready stage (ord 4).
	plain := env.createProposition(t, "projeto_de_lei", "PL 004/2026", "", nil)
	tr2, err := env.Engine.StartTramitacao(env.Ctx, plain.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	env.mustAdvance(t, tr2.ID, "")
	got2 := env.mustAdvance(t, tr2.ID, "favorável")
	stage2, err := env.Engine.Repo.GetStage(env.Ctx, *got2.CurrentStageID)
	if err != nil {
		t.Fatal(err)
	}
	if stage2.Ord != 4 {
		t.Fatalf("no-impact branch: want ord 4, got %d (%s)", stage2.Ord, stage2.Name)
	}
}

func TestReorderStages(t *testing.T) {
	env := newTestEnv(t)
	flow, err := env.Engine.FlowForCategory(env.Ctx, "projeto_de_lei")
	if err != nil {
		t.Fatal(err)
	}
	stages, err := env.Engine.Repo.ListStages(env.Ctx, flow.ID)
	if err != nil {
		t.Fatal(err)
	}

	// A partial permutation must be rejected before anything is written.
	_, err = env.Engine.ReorderStages(env.Ctx, flow.ID, []string{stages[0].ID}, "tester")
	domainErr(t, err, "INCOMPLETE_REORDER")

	reversed := make([]string, len(stages))
	for i, s := range stages {
		reversed[len(stages)-1-i] = s.ID
	}
	got, err := env.Engine.ReorderStages(env.Ctx, flow.ID, reversed, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(stages) {
		t.Fatalf("reorder returned %d stages, want %d", len(got), len(stages))
	}
	for i, s := range got {
		if s.ID != reversed[i] {
			t.Fatalf("position %d: got %s, want %s", i+1, s.ID, reversed[i])
		}
		if s.Ord != i+1 {
			t.Fatalf("stage %s: ord %d, want %d", s.ID, s.Ord, i+1)
		}
	}
}

func TestAdvanceStaleStageConflict(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProposition(t, "projeto_de_lei", "PL 005/2026", "", nil)
	tr, err := env.Engine.StartTramitacao(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	firstStage := *tr.CurrentStageID
	env.mustAdvance(t, tr.ID, "")
	// A caller still holding the first stage must get a conflict, not a
	// silent double-advance.
	_, err = env.Engine.AdvanceTramitacao(env.Ctx, tr.ID, engine.AdvanceOptions{
		ExpectedStageID: firstStage,
		ActorID:         "tester",
	})
	domainErr(t, err, engine.CodeStageConflict)
}

func TestEligibilityExemptCategory(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProposition(t, "mocao", "MOC 001/2026", "", nil)
	res, err := env.Engine.CheckEligibility(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Eligible {
		t.Fatalf("moção should be eligible without tramitação: %+v", res)
	}
}

func TestEligibilityRules(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProposition(t, "projeto_de_lei", "PL 006/2026", "", nil)

	res, err := env.Engine.CheckEligibility(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Eligible || res.Code != engine.CodeNoTramitacao {
		t.Fatalf("expected NO_TRAMITACAO, got %+v", res)
	}

	tr, err := env.Engine.StartTramitacao(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	res, err = env.Engine.CheckEligibility(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Eligible || res.Code != engine.CodeStageNoAgenda {
		t.Fatalf("expected STAGE_DOES_NOT_ENABLE_AGENDA at protocolo, got %+v", res)
	}

	env.mustAdvance(t, tr.ID, "")
	env.mustAdvance(t, tr.ID, "favorável")
	res, err = env.Engine.CheckEligibility(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Eligible {
		t.Fatalf("expected eligible at plenary-ready stage, got %+v", res)
	}
}

func TestAgendaTruncationAndForceAdmit(t *testing.T) {
	env := newTestEnv(t)
	env.createLegislators(t, 9)
	for i := 0; i < 8; i++ {
		env.readyProposition(t, fmt.Sprintf("PL %03d/2026", i+10), "")
	}
	urgent := env.readyProposition(t, "PL 099/2026", domain.RegimeUrgency)

	s, err := env.Engine.CreateSession(env.Ctx, "cam-1", 1, "ordinary", baseTime.Format(time.RFC3339), "tester")
	if err != nil {
		t.Fatal(err)
	}
	// 40 minutes total minus 30 overhead leaves a 10 minute budget: only
	// the urgent item gets in, over budget, with a warning.
	agenda, err := env.Engine.GenerateAgenda(env.Ctx, s.ID, engine.GenerateOptions{
		MaxMinutes: 40,
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(agenda.Items) != 1 {
		t.Fatalf("expected 1 admitted item, got %d", len(agenda.Items))
	}
	if agenda.Items[0].PropositionID != urgent.ID {
		t.Fatalf("expected urgent proposition admitted first")
	}
	if agenda.Items[0].Tier != domain.TierUrgency {
		t.Fatalf("expected tier urgency, got %s", agenda.Items[0].Tier)
	}
	overBudget := false
	for _, w := range agenda.Warnings {
		if strings.Contains(w, "over the time budget") {
			overBudget = true
		}
	}
	if !overBudget {
		t.Fatalf("expected over-budget warning, got %v", agenda.Warnings)
	}
}

func TestAgendaMaxItemsZero(t *testing.T) {
	env := newTestEnv(t)
	env.readyProposition(t, "PL 020/2026", "")
	s, err := env.Engine.CreateSession(env.Ctx, "cam-1", 2, "ordinary", baseTime.Format(time.RFC3339), "tester")
	if err != nil {
		t.Fatal(err)
	}
	zero := 0
	agenda, err := env.Engine.GenerateAgenda(env.Ctx, s.ID, engine.GenerateOptions{MaxItems: &zero, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if len(agenda.Items) != 0 {
		t.Fatalf("max items 0 should yield no items, got %d", len(agenda.Items))
	}
	if agenda.TotalMinutes != env.Engine.Config.OverheadMinutes() {
		t.Fatalf("expected only overhead minutes, got %d", agenda.TotalMinutes)
	}
}

func TestAgendaIncludeFlags(t *testing.T) {
	env := newTestEnv(t)
	urgent := env.readyProposition(t, "PL 060/2026", domain.RegimeUrgency)
	plain := env.readyProposition(t, "PL 061/2026", "")

	veto := env.createProposition(t, "veto", "VETO 001/2026", "", nil)
	tr, err := env.Engine.StartTramitacao(env.Ctx, veto.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	env.mustAdvance(t, tr.ID, "")
	env.mustAdvance(t, tr.ID, "favorável")

	// Jump to two days before the veto's plenary deadline so it escalates
	// to the top tier.
	*env.now = baseTime.AddDate(0, 0, 40)
	s, err := env.Engine.CreateSession(env.Ctx, "cam-1", 6, "ordinary", env.now.Format(time.RFC3339), "tester")
	if err != nil {
		t.Fatal(err)
	}

	admitted := func(a domain.SessionAgenda) map[string]bool {
		set := map[string]bool{}
		for _, it := range a.Items {
			set[it.PropositionID] = true
		}
		return set
	}

	agenda, err := env.Engine.GenerateAgenda(env.Ctx, s.ID, engine.GenerateOptions{ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if len(agenda.Items) != 3 {
		t.Fatalf("expected all 3 items by default, got %d", len(agenda.Items))
	}
	if agenda.Items[0].PropositionID != veto.ID || agenda.Items[0].Tier != domain.TierVetoDeadline {
		t.Fatalf("expected expiring veto first at tier veto_deadline, got %s at %s", agenda.Items[0].PropositionID, agenda.Items[0].Tier)
	}

	off := false
	agenda, err = env.Engine.GenerateAgenda(env.Ctx, s.ID, engine.GenerateOptions{IncludeExpiringVetoes: &off, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	set := admitted(agenda)
	if set[veto.ID] || !set[urgent.ID] || !set[plain.ID] {
		t.Fatalf("include_expiring_vetoes=false should drop only the veto, got %v", set)
	}

	agenda, err = env.Engine.GenerateAgenda(env.Ctx, s.ID, engine.GenerateOptions{IncludeUrgencies: &off, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	set = admitted(agenda)
	if set[urgent.ID] || !set[veto.ID] || !set[plain.ID] {
		t.Fatalf("include_urgencies=false should drop only the urgency item, got %v", set)
	}
}

func TestPublishAggregatesIneligibleItems(t *testing.T) {
	env := newTestEnv(t)
	p := env.readyProposition(t, "PL 030/2026", "")
	s, err := env.Engine.CreateSession(env.Ctx, "cam-1", 3, "ordinary", baseTime.Format(time.RFC3339), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GenerateAgenda(env.Ctx, s.ID, engine.GenerateOptions{ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	// Pull the rug: cancel the tramitação after generation.
	tr, err := env.Engine.Repo.ActiveTramitacao(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CancelTramitacao(env.Ctx, tr.ID, "retirada", "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.PublishAgenda(env.Ctx, s.ID, "tester")
	var list *engine.ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("expected aggregated ErrorList, got %v", err)
	}
	if len(list.Errors) != 1 || list.Errors[0].Code != engine.CodeIneligibleItem {
		t.Fatalf("expected one INELIGIBLE_ITEM entry, got %+v", list.Errors)
	}

	// Regenerating drops the item and publish succeeds.
	if _, err := env.Engine.GenerateAgenda(env.Ctx, s.ID, engine.GenerateOptions{ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	agenda, err := env.Engine.PublishAgenda(env.Ctx, s.ID, "tester")
	if err != nil {
		t.Fatalf("publish after regenerate: %v", err)
	}
	if !agenda.Published {
		t.Fatalf("expected published agenda")
	}
	_, err = env.Engine.PublishAgenda(env.Ctx, s.ID, "tester")
	domainErr(t, err, engine.CodeAgendaPublished)
}

func TestPresenceWindow(t *testing.T) {
	env := newTestEnv(t)
	legs := env.createLegislators(t, 2)
	scheduled := baseTime.Add(time.Hour)
	s, err := env.Engine.CreateSession(env.Ctx, "cam-1", 4, "ordinary", scheduled.Format(time.RFC3339), "tester")
	if err != nil {
		t.Fatal(err)
	}
	// One hour early is outside the 15 minute window.
	_, err = env.Engine.RecordPresence(env.Ctx, s.ID, legs[0].ID, true, "", "tester")
	domainErr(t, err, engine.CodePresenceWindow)

	*env.now = scheduled.Add(-10 * time.Minute)
	if _, err := env.Engine.RecordPresence(env.Ctx, s.ID, legs[0].ID, true, "", "tester"); err != nil {
		t.Fatalf("presence inside window: %v", err)
	}

	if _, err := env.Engine.TransitionSession(env.Ctx, s.ID, domain.SessionCancelled, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.RecordPresence(env.Ctx, s.ID, legs[1].ID, true, "", "tester")
	domainErr(t, err, engine.CodeSessionCancelled)
}

func TestSessionTransitions(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSession(env.Ctx, "cam-1", 5, "ordinary", baseTime.Format(time.RFC3339), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionSession(env.Ctx, s.ID, domain.SessionConcluded, "tester"); err == nil {
		t.Fatalf("scheduled -> concluded should fail")
	}
	if _, err := env.Engine.TransitionSession(env.Ctx, s.ID, domain.SessionInProgress, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionSession(env.Ctx, s.ID, domain.SessionConcluded, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionSession(env.Ctx, s.ID, domain.SessionCancelled, "tester"); err == nil {
		t.Fatalf("concluded is terminal")
	}
}

func TestPresenceAfterConclusion(t *testing.T) {
	env := newTestEnv(t)
	legs := env.createLegislators(t, 1)
	s, err := env.Engine.CreateSession(env.Ctx, "cam-1", 6, "ordinary", baseTime.Format(time.RFC3339), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionSession(env.Ctx, s.ID, domain.SessionInProgress, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionSession(env.Ctx, s.ID, domain.SessionConcluded, "tester"); err != nil {
		t.Fatal(err)
	}
	// A justified absence can still be filed after the session ends.
	rec, err := env.Engine.RecordPresence(env.Ctx, s.ID, legs[0].ID, false, "atestado médico", "tester")
	if err != nil {
		t.Fatalf("presence after conclusion: %v", err)
	}
	if rec.Present || rec.Justification == nil || *rec.Justification != "atestado médico" {
		t.Fatalf("expected justified absence, got %+v", rec)
	}
}

// setupVoting builds a running session with one projeto de lei in voting.
// The first `present` of the nine legislators are marked present; the rest
// get automatic absent votes when voting opens.
func setupVoting(t *testing.T, category string, present int) (testEnv, domain.AgendaItem, []domain.Legislator) {
	t.Helper()
	env := newTestEnv(t)
	legs := env.createLegislators(t, 9)

	var p domain.Proposition
	if category == "projeto_de_lei" {
		p = env.readyProposition(t, "PL 050/2026", "")
	} else {
		p = env.createProposition(t, category, "PLC 001/2026", "", nil)
		tr, err := env.Engine.StartTramitacao(env.Ctx, p.ID, "tester")
		if err != nil {
			t.Fatal(err)
		}
		env.mustAdvance(t, tr.ID, "")
		env.mustAdvance(t, tr.ID, "favorável")
		env.mustAdvance(t, tr.ID, "favorável")
	}

	s, err := env.Engine.CreateSession(env.Ctx, "cam-1", 9, "ordinary", baseTime.Format(time.RFC3339), "tester")
	if err != nil {
		t.Fatal(err)
	}
	agenda, err := env.Engine.GenerateAgenda(env.Ctx, s.ID, engine.GenerateOptions{ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if len(agenda.Items) != 1 {
		t.Fatalf("expected 1 agenda item, got %d", len(agenda.Items))
	}
	if _, err := env.Engine.TransitionSession(env.Ctx, s.ID, domain.SessionInProgress, "tester"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < present; i++ {
		if _, err := env.Engine.RecordPresence(env.Ctx, s.ID, legs[i].ID, true, "", "tester"); err != nil {
			t.Fatal(err)
		}
	}
	item, err := env.Engine.OpenVoting(env.Ctx, agenda.Items[0].ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	return env, item, legs
}

func TestVoteOverwrite(t *testing.T) {
	env, item, legs := setupVoting(t, "projeto_de_lei", 7)
	if _, err := env.Engine.RecordVote(env.Ctx, item.ID, legs[0].ID, domain.VoteYes, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordVote(env.Ctx, item.ID, legs[0].ID, domain.VoteNo, "tester"); err != nil {
		t.Fatal(err)
	}
	votes, err := env.Engine.Repo.ListVotes(env.Ctx, item.PropositionID, 1)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, v := range votes {
		if v.LegislatorID == legs[0].ID {
			count++
			if v.Choice != domain.VoteNo {
				t.Fatalf("expected second choice to win, got %s", v.Choice)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one row for the legislator, got %d", count)
	}
}

func TestRecordVoteRejectsAbsent(t *testing.T) {
	env, item, legs := setupVoting(t, "projeto_de_lei", 7)
	// Absent rows come only from opening the vote; operators submit
	// yes, no or abstain.
	_, err := env.Engine.RecordVote(env.Ctx, item.ID, legs[0].ID, domain.VoteAbsent, "tester")
	domainErr(t, err, engine.CodeInvalidChoice)
}

func TestItemResolutionRequiresTally(t *testing.T) {
	env, item, _ := setupVoting(t, "projeto_de_lei", 7)
	_, err := env.Engine.UpdateAgendaItem(env.Ctx, item.ID, domain.ItemApproved, "tester")
	domainErr(t, err, engine.CodeTallyRequired)
}

func TestTallyApproved(t *testing.T) {
	env, item, legs := setupVoting(t, "projeto_de_lei", 7)
	choices := []string{domain.VoteYes, domain.VoteYes, domain.VoteYes, domain.VoteYes, domain.VoteYes, domain.VoteNo, domain.VoteAbstain}
	for i, c := range choices {
		if _, err := env.Engine.RecordVote(env.Ctx, item.ID, legs[i].ID, c, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	tally, err := env.Engine.CloseVoting(env.Ctx, item.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if tally.Yes != 5 || tally.No != 1 || tally.Abstain != 1 || tally.Absent != 2 {
		t.Fatalf("unexpected counts: %+v", tally)
	}
	if tally.ValidVotes != 6 || tally.Threshold != 4 {
		t.Fatalf("expected validVotes 6 threshold 4, got %d/%d", tally.ValidVotes, tally.Threshold)
	}
	if tally.Resolution != domain.ResolutionApproved {
		t.Fatalf("expected approved, got %s", tally.Resolution)
	}
}

func TestTallyRejected(t *testing.T) {
	env, item, legs := setupVoting(t, "projeto_de_lei", 7)
	choices := []string{domain.VoteYes, domain.VoteYes, domain.VoteNo, domain.VoteNo, domain.VoteAbstain, domain.VoteAbstain, domain.VoteAbstain}
	for i, c := range choices {
		if _, err := env.Engine.RecordVote(env.Ctx, item.ID, legs[i].ID, c, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	tally, err := env.Engine.CloseVoting(env.Ctx, item.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if tally.ValidVotes != 4 || tally.Threshold != 3 {
		t.Fatalf("expected validVotes 4 threshold 3, got %d/%d", tally.ValidVotes, tally.Threshold)
	}
	if tally.Resolution != domain.ResolutionRejected {
		t.Fatalf("expected rejected, got %s", tally.Resolution)
	}
}

func TestTallyAllAbstain(t *testing.T) {
	env, item, legs := setupVoting(t, "projeto_de_lei", 7)
	for i := 0; i < 7; i++ {
		if _, err := env.Engine.RecordVote(env.Ctx, item.ID, legs[i].ID, domain.VoteAbstain, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	tally, err := env.Engine.CloseVoting(env.Ctx, item.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	// Zero valid votes still produce threshold 1: nobody voted yes, so the
	// matter is rejected. A consequence of the formula, kept on purpose.
	if tally.ValidVotes != 0 || tally.Threshold != 1 {
		t.Fatalf("expected validVotes 0 threshold 1, got %d/%d", tally.ValidVotes, tally.Threshold)
	}
	if tally.Resolution != domain.ResolutionRejected {
		t.Fatalf("expected rejected, got %s", tally.Resolution)
	}
}

func TestTwoTurnApprovalBumpsTurn(t *testing.T) {
	env, item, legs := setupVoting(t, "projeto_de_lei_complementar", 7)
	// Absolute majority over 9 seats: threshold 5.
	choices := []string{domain.VoteYes, domain.VoteYes, domain.VoteYes, domain.VoteYes, domain.VoteYes, domain.VoteNo, domain.VoteNo}
	for i, c := range choices {
		if _, err := env.Engine.RecordVote(env.Ctx, item.ID, legs[i].ID, c, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	tally, err := env.Engine.CloseVoting(env.Ctx, item.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if tally.QuorumKind != "absolute_majority" || tally.Threshold != 5 {
		t.Fatalf("expected absolute majority threshold 5, got %s/%d", tally.QuorumKind, tally.Threshold)
	}
	if tally.Resolution != domain.ResolutionApproved {
		t.Fatalf("expected approved, got %s", tally.Resolution)
	}
	p, err := env.Engine.Repo.GetProposition(env.Ctx, item.PropositionID)
	if err != nil {
		t.Fatal(err)
	}
	if p.VotingTurn != 2 {
		t.Fatalf("first-turn approval should bump to turn 2, got %d", p.VotingTurn)
	}
	if p.Status != "active" {
		t.Fatalf("proposition should stay active awaiting second turn, got %s", p.Status)
	}
}

func TestComposeMinutes(t *testing.T) {
	env, item, legs := setupVoting(t, "projeto_de_lei", 7)
	choices := []string{domain.VoteYes, domain.VoteYes, domain.VoteYes, domain.VoteYes, domain.VoteYes, domain.VoteNo, domain.VoteAbstain}
	for i, c := range choices {
		if _, err := env.Engine.RecordVote(env.Ctx, item.ID, legs[i].ID, c, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.CloseVoting(env.Ctx, item.ID, "tester"); err != nil {
		t.Fatal(err)
	}

	_, err := env.Engine.ComposeMinutes(env.Ctx, item.SessionID)
	domainErr(t, err, engine.CodeSessionState)

	if _, err := env.Engine.TransitionSession(env.Ctx, item.SessionID, domain.SessionConcluded, "tester"); err != nil {
		t.Fatal(err)
	}
	text, err := env.Engine.ComposeMinutes(env.Ctx, item.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ATA DA 9ª SESSÃO", "ORDEM DO DIA", "APROVADO", "5 sim, 1 não"} {
		if !strings.Contains(text, want) {
			t.Fatalf("minutes missing %q:\n%s", want, text)
		}
	}
}

func TestStaleEscalation(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProposition(env.Ctx, engine.PropositionCreateOptions{
		ChamberID:   "cam-1",
		Category:    "projeto_de_lei",
		Number:      "PL 070/2025",
		Title:       "Proposição antiga",
		PresentedAt: baseTime.AddDate(0, 0, -120).Format(time.RFC3339),
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := env.Engine.StartTramitacao(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	env.mustAdvance(t, tr.ID, "")
	env.mustAdvance(t, tr.ID, "favorável")

	res, err := env.Engine.CheckEligibility(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Eligible || !res.Stale || len(res.Warnings) == 0 {
		t.Fatalf("expected stale eligible with warning, got %+v", res)
	}

	s, err := env.Engine.CreateSession(env.Ctx, "cam-1", 6, "ordinary", baseTime.Format(time.RFC3339), "tester")
	if err != nil {
		t.Fatal(err)
	}
	agenda, err := env.Engine.GenerateAgenda(env.Ctx, s.ID, engine.GenerateOptions{ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if len(agenda.Items) != 1 || agenda.Items[0].Tier != domain.TierPriority {
		t.Fatalf("expected stale item escalated to priority tier, got %+v", agenda.Items)
	}
}
