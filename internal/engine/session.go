package engine

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"plenario/internal/domain"
	"plenario/internal/events"
)

func ensureSessionTransition(old, new string) error {
	switch {
	case old == domain.SessionScheduled && new == domain.SessionInProgress:
	case old == domain.SessionInProgress && new == domain.SessionConcluded:
	case old == domain.SessionScheduled && new == domain.SessionCancelled:
	case old == domain.SessionInProgress && new == domain.SessionCancelled:
	default:
		return stateErr(CodeSessionState, "invalid session transition %s -> %s", old, new)
	}
	return nil
}

func ensureItemTransition(old, new string) error {
	switch {
	case old == domain.ItemPending && new == domain.ItemInDiscussion:
	case old == domain.ItemPending && new == domain.ItemInVoting:
	case old == domain.ItemPending && new == domain.ItemPostponed:
	case old == domain.ItemPending && new == domain.ItemWithdrawn:
	case old == domain.ItemInDiscussion && new == domain.ItemInVoting:
	case old == domain.ItemInDiscussion && new == domain.ItemPostponed:
	case old == domain.ItemInDiscussion && new == domain.ItemWithdrawn:
	case old == domain.ItemInVoting && new == domain.ItemApproved:
	case old == domain.ItemInVoting && new == domain.ItemRejected:
	default:
		return stateErr(CodeItemState, "invalid agenda item transition %s -> %s", old, new)
	}
	return nil
}

func (e Engine) CreateLegislator(ctx context.Context, chamberID, name, party, actorID string) (domain.Legislator, error) {
	if name == "" {
		return domain.Legislator{}, validationErr("MISSING_NAME", "legislator name is required")
	}
	l := domain.Legislator{
		ID:        uuid.New().String(),
		ChamberID: chamberID,
		Name:      name,
		Party:     party,
		Active:    true,
		CreatedAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Legislator{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertLegislator(ctx, tx, l); err != nil {
		return domain.Legislator{}, err
	}
	if err := e.Events.Append(ctx, tx, "legislator.created", chamberID, "legislator", l.ID, actorID, events.EventPayload{
		"name": name,
	}); err != nil {
		return domain.Legislator{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Legislator{}, err
	}
	return l, nil
}

func (e Engine) CreateSession(ctx context.Context, chamberID string, number int, sessionType, scheduledAt, actorID string) (domain.Session, error) {
	if sessionType == "" {
		sessionType = "ordinary"
	}
	if _, err := time.Parse(time.RFC3339, scheduledAt); err != nil {
		return domain.Session{}, validationErr("INVALID_SCHEDULE", "scheduled_at must be RFC3339, got %q", scheduledAt)
	}
	s := domain.Session{
		ID:          uuid.New().String(),
		ChamberID:   chamberID,
		Number:      number,
		Type:        sessionType,
		ScheduledAt: scheduledAt,
		Status:      domain.SessionScheduled,
		CreatedAt:   e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		return domain.Session{}, err
	}
	if err := e.Events.Append(ctx, tx, "session.created", chamberID, "session", s.ID, actorID, events.EventPayload{
		"number":       number,
		"type":         sessionType,
		"scheduled_at": scheduledAt,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// TransitionSession moves a session through its lifecycle
// (scheduled -> in_progress -> concluded, cancellable until concluded).
func (e Engine) TransitionSession(ctx context.Context, sessionID, status, actorID string) (domain.Session, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, notFoundAs(err, "SESSION_NOT_FOUND", "session %s not found", sessionID)
	}
	if err := ensureSessionTransition(s.Status, status); err != nil {
		return domain.Session{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSessionStatus(ctx, tx, sessionID, status); err != nil {
		return domain.Session{}, err
	}
	if err := e.Events.Append(ctx, tx, "session."+status, s.ChamberID, "session", sessionID, actorID, events.EventPayload{
		"from": s.Status,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	s.Status = status
	return s, nil
}

// RecordPresence marks a legislator present or absent. Presence opens a
// configurable window before the scheduled start and stays open through
// conclusion, so a late justification can still be captured after the
// session ends. Only cancellation closes it.
func (e Engine) RecordPresence(ctx context.Context, sessionID, legislatorID string, present bool, justification string, actorID string) (domain.PresenceRecord, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.PresenceRecord{}, notFoundAs(err, "SESSION_NOT_FOUND", "session %s not found", sessionID)
	}
	if s.Status == domain.SessionCancelled {
		return domain.PresenceRecord{}, stateErr(CodeSessionCancelled, "session %s is cancelled", sessionID)
	}
	if s.Status == domain.SessionScheduled {
		scheduled, err := time.Parse(time.RFC3339, s.ScheduledAt)
		if err == nil {
			opens := scheduled.Add(-time.Duration(e.Config.PresenceWindowMinutes()) * time.Minute)
			if e.now().Before(opens) {
				return domain.PresenceRecord{}, stateErr(CodePresenceWindow, "presence window opens at %s", opens.UTC().Format(time.RFC3339))
			}
		}
	}
	if _, err := e.Repo.GetLegislator(ctx, legislatorID); err != nil {
		return domain.PresenceRecord{}, notFoundAs(err, "LEGISLATOR_NOT_FOUND", "legislator %s not found", legislatorID)
	}
	rec := domain.PresenceRecord{
		SessionID:    sessionID,
		LegislatorID: legislatorID,
		Present:      present,
		RecordedAt:   e.nowStr(),
	}
	if justification != "" {
		rec.Justification = &justification
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PresenceRecord{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertPresence(ctx, tx, rec); err != nil {
		return domain.PresenceRecord{}, err
	}
	if err := e.Events.Append(ctx, tx, "session.presence_recorded", s.ChamberID, "session", sessionID, actorID, events.EventPayload{
		"legislator_id": legislatorID,
		"present":       present,
	}); err != nil {
		return domain.PresenceRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PresenceRecord{}, err
	}
	return rec, nil
}

// UpdateAgendaItem applies a lifecycle transition to an agenda item
// (discussion, postponement, withdrawal). Voting open/close have their own
// entry points because they touch vote rows.
func (e Engine) UpdateAgendaItem(ctx context.Context, itemID, status, actorID string) (domain.AgendaItem, error) {
	it, err := e.Repo.GetAgendaItem(ctx, itemID)
	if err != nil {
		return domain.AgendaItem{}, notFoundAs(err, "ITEM_NOT_FOUND", "agenda item %s not found", itemID)
	}
	s, err := e.Repo.GetSession(ctx, it.SessionID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if s.Status != domain.SessionInProgress {
		return domain.AgendaItem{}, stateErr(CodeSessionState, "session %s is not in progress", s.ID)
	}
	if status == domain.ItemApproved || status == domain.ItemRejected {
		return domain.AgendaItem{}, stateErr(CodeTallyRequired, "resolving an item requires a computed tally; use close-voting")
	}
	if err := ensureItemTransition(it.Status, status); err != nil {
		return domain.AgendaItem{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgendaItemStatus(ctx, tx, itemID, status); err != nil {
		return domain.AgendaItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "agenda.item_"+status, s.ChamberID, "agenda_item", itemID, actorID, events.EventPayload{
		"from": it.Status,
	}); err != nil {
		return domain.AgendaItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgendaItem{}, err
	}
	it.Status = status
	return it, nil
}

// OpenVoting puts an item in voting and pre-records an absent vote for
// every active legislator without a presence mark. Later real votes
// overwrite the absent rows by key.
func (e Engine) OpenVoting(ctx context.Context, itemID, actorID string) (domain.AgendaItem, error) {
	it, err := e.Repo.GetAgendaItem(ctx, itemID)
	if err != nil {
		return domain.AgendaItem{}, notFoundAs(err, "ITEM_NOT_FOUND", "agenda item %s not found", itemID)
	}
	s, err := e.Repo.GetSession(ctx, it.SessionID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	if s.Status != domain.SessionInProgress {
		return domain.AgendaItem{}, stateErr(CodeSessionState, "session %s is not in progress", s.ID)
	}
	if err := ensureItemTransition(it.Status, domain.ItemInVoting); err != nil {
		return domain.AgendaItem{}, err
	}
	p, err := e.Repo.GetProposition(ctx, it.PropositionID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	legislators, err := e.Repo.ListActiveLegislators(ctx, s.ChamberID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	presence, err := e.Repo.ListPresence(ctx, it.SessionID)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	presentSet := map[string]bool{}
	for _, rec := range presence {
		if rec.Present {
			presentSet[rec.LegislatorID] = true
		}
	}
	nowStr := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgendaItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgendaItemStatus(ctx, tx, itemID, domain.ItemInVoting); err != nil {
		return domain.AgendaItem{}, err
	}
	for _, l := range legislators {
		if presentSet[l.ID] {
			continue
		}
		if err := e.Repo.UpsertVote(ctx, tx, domain.Vote{
			PropositionID: it.PropositionID,
			SessionID:     it.SessionID,
			LegislatorID:  l.ID,
			Turn:          p.VotingTurn,
			Choice:        domain.VoteAbsent,
			RecordedAt:    nowStr,
		}); err != nil {
			return domain.AgendaItem{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "voting.opened", s.ChamberID, "agenda_item", itemID, actorID, events.EventPayload{
		"proposition_id": it.PropositionID,
		"turn":           p.VotingTurn,
	}); err != nil {
		return domain.AgendaItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgendaItem{}, err
	}
	it.Status = domain.ItemInVoting
	return it, nil
}

// RecordVote stores one legislator's choice. Voting again for the same
// proposition and turn overwrites the previous choice; the event log keeps
// the history of both submissions. Absent rows are written only by
// OpenVoting; a submitted vote must be yes, no or abstain.
func (e Engine) RecordVote(ctx context.Context, itemID, legislatorID, choice, actorID string) (domain.Vote, error) {
	switch choice {
	case domain.VoteYes, domain.VoteNo, domain.VoteAbstain:
	default:
		return domain.Vote{}, validationErr(CodeInvalidChoice, "vote choice must be yes, no or abstain, got %q", choice)
	}
	it, err := e.Repo.GetAgendaItem(ctx, itemID)
	if err != nil {
		return domain.Vote{}, notFoundAs(err, "ITEM_NOT_FOUND", "agenda item %s not found", itemID)
	}
	s, err := e.Repo.GetSession(ctx, it.SessionID)
	if err != nil {
		return domain.Vote{}, err
	}
	if s.Status == domain.SessionCancelled {
		return domain.Vote{}, stateErr(CodeSessionCancelled, "session %s is cancelled", s.ID)
	}
	if it.Status != domain.ItemInVoting {
		return domain.Vote{}, stateErr(CodeItemState, "item %s is not in voting", itemID)
	}
	if _, err := e.Repo.GetLegislator(ctx, legislatorID); err != nil {
		return domain.Vote{}, notFoundAs(err, "LEGISLATOR_NOT_FOUND", "legislator %s not found", legislatorID)
	}
	p, err := e.Repo.GetProposition(ctx, it.PropositionID)
	if err != nil {
		return domain.Vote{}, err
	}
	v := domain.Vote{
		PropositionID: it.PropositionID,
		SessionID:     it.SessionID,
		LegislatorID:  legislatorID,
		Turn:          p.VotingTurn,
		Choice:        choice,
		RecordedAt:    e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Vote{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertVote(ctx, tx, v); err != nil {
		return domain.Vote{}, err
	}
	if err := e.Events.Append(ctx, tx, "voting.vote_recorded", s.ChamberID, "proposition", it.PropositionID, actorID, events.EventPayload{
		"legislator_id": legislatorID,
		"turn":          p.VotingTurn,
		"choice":        choice,
	}); err != nil {
		return domain.Vote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Vote{}, err
	}
	return v, nil
}

// ComputeTally derives the result from the stored vote rows. Valid votes
// are yes plus no; abstentions count for presence but not for the
// threshold base when the quorum is over valid votes. The threshold is
// floor(base x multiplier)+1, so a strict majority: zero valid votes under
// a valid-based quorum still yields threshold 1 and a rejection.
func (e Engine) ComputeTally(ctx context.Context, itemID string) (domain.VoteTally, error) {
	it, err := e.Repo.GetAgendaItem(ctx, itemID)
	if err != nil {
		return domain.VoteTally{}, notFoundAs(err, "ITEM_NOT_FOUND", "agenda item %s not found", itemID)
	}
	p, err := e.Repo.GetProposition(ctx, it.PropositionID)
	if err != nil {
		return domain.VoteTally{}, err
	}
	return e.tallyFor(ctx, it, p)
}

func (e Engine) tallyFor(ctx context.Context, it domain.AgendaItem, p domain.Proposition) (domain.VoteTally, error) {
	counts, err := e.Repo.CountVoteChoices(ctx, it.PropositionID, p.VotingTurn)
	if err != nil {
		return domain.VoteTally{}, err
	}
	kind, rule := e.Config.QuorumFor(p.Category)
	tally := domain.VoteTally{
		PropositionID: it.PropositionID,
		SessionID:     it.SessionID,
		Turn:          p.VotingTurn,
		Yes:           counts[domain.VoteYes],
		No:            counts[domain.VoteNo],
		Abstain:       counts[domain.VoteAbstain],
		Absent:        counts[domain.VoteAbsent],
		QuorumKind:    kind,
	}
	tally.ValidVotes = tally.Yes + tally.No
	base := tally.ValidVotes
	if rule.Base == "seats" {
		base = e.Config.Chamber.Seats
	}
	tally.Threshold = int(math.Floor(float64(base)*rule.Multiplier)) + 1
	if tally.Yes >= tally.Threshold {
		tally.Resolution = domain.ResolutionApproved
	} else {
		tally.Resolution = domain.ResolutionRejected
	}
	return tally, nil
}

// CloseVoting computes the final tally and resolves the item. An approved
// first turn of a two-turn category bumps the proposition to turn two
// instead of finishing it; everything else resolves the proposition.
func (e Engine) CloseVoting(ctx context.Context, itemID, actorID string) (domain.VoteTally, error) {
	it, err := e.Repo.GetAgendaItem(ctx, itemID)
	if err != nil {
		return domain.VoteTally{}, notFoundAs(err, "ITEM_NOT_FOUND", "agenda item %s not found", itemID)
	}
	if it.Status != domain.ItemInVoting {
		return domain.VoteTally{}, stateErr(CodeItemState, "item %s is not in voting", itemID)
	}
	s, err := e.Repo.GetSession(ctx, it.SessionID)
	if err != nil {
		return domain.VoteTally{}, err
	}
	p, err := e.Repo.GetProposition(ctx, it.PropositionID)
	if err != nil {
		return domain.VoteTally{}, err
	}
	tally, err := e.tallyFor(ctx, it, p)
	if err != nil {
		return domain.VoteTally{}, err
	}

	itemStatus := domain.ItemRejected
	if tally.Resolution == domain.ResolutionApproved {
		itemStatus = domain.ItemApproved
	}
	secondTurnPending := tally.Resolution == domain.ResolutionApproved &&
		p.VotingTurn == 1 && e.Config.IsTwoTurnCategory(p.Category)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.VoteTally{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgendaItemStatus(ctx, tx, itemID, itemStatus); err != nil {
		return domain.VoteTally{}, err
	}
	if secondTurnPending {
		if err := e.Repo.SetPropositionTurn(ctx, tx, p.ID, 2); err != nil {
			return domain.VoteTally{}, err
		}
	} else {
		if err := e.Repo.UpdatePropositionStatus(ctx, tx, p.ID, tally.Resolution); err != nil {
			return domain.VoteTally{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "voting.closed", s.ChamberID, "proposition", p.ID, actorID, events.EventPayload{
		"turn":       tally.Turn,
		"yes":        tally.Yes,
		"no":         tally.No,
		"abstain":    tally.Abstain,
		"absent":     tally.Absent,
		"threshold":  tally.Threshold,
		"resolution": tally.Resolution,
		"next_turn":  secondTurnPending,
	}); err != nil {
		return domain.VoteTally{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.VoteTally{}, err
	}
	return tally, nil
}
