package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"plenario/internal/domain"
	"plenario/internal/repo"
)

var sectionTitles = map[string]string{
	domain.SectionExpediente:      "EXPEDIENTE",
	domain.SectionOrderOfBusiness: "ORDEM DO DIA",
	domain.SectionCommunications:  "COMUNICAÇÕES",
}

var sectionOrder = []string{
	domain.SectionExpediente,
	domain.SectionOrderOfBusiness,
	domain.SectionCommunications,
}

// ComposeMinutes renders the textual minutes (ata) of a session: header,
// attendance, then the deliberation record per agenda section with vote
// tallies for everything that reached a vote. Minutes can only be composed
// once the session has concluded.
func (e Engine) ComposeMinutes(ctx context.Context, sessionID string) (string, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", notFoundAs(err, "SESSION_NOT_FOUND", "session %s not found", sessionID)
	}
	if s.Status != domain.SessionConcluded {
		return "", stateErr(CodeSessionState, "minutes require a concluded session, session is %s", s.Status)
	}
	chamberName, _, err := e.Repo.GetChamber(ctx, s.ChamberID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	presence, err := e.Repo.ListPresence(ctx, sessionID)
	if err != nil {
		return "", err
	}
	agenda, err := e.Repo.GetSessionAgenda(ctx, sessionID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ATA DA %dª SESSÃO %s\n", s.Number, strings.ToUpper(sessionTypeLabel(s.Type)))
	if chamberName != "" {
		fmt.Fprintf(&b, "%s\n", chamberName)
	}
	fmt.Fprintf(&b, "Data: %s\n\n", s.ScheduledAt)

	b.WriteString("PRESENÇAS\n")
	if len(presence) == 0 {
		b.WriteString("  Nenhuma presença registrada.\n")
	}
	present, absent := 0, 0
	names := map[string]string{}
	for _, rec := range presence {
		name := rec.LegislatorID
		if l, err := e.Repo.GetLegislator(ctx, rec.LegislatorID); err == nil {
			name = l.Name
		}
		names[rec.LegislatorID] = name
		mark := "AUSENTE"
		if rec.Present {
			mark = "PRESENTE"
			present++
		} else {
			absent++
			if rec.Justification != nil {
				mark = "AUSENTE (justificada: " + *rec.Justification + ")"
			}
		}
		fmt.Fprintf(&b, "  %s — %s\n", name, mark)
	}
	if len(presence) > 0 {
		fmt.Fprintf(&b, "  Total: %d presentes, %d ausentes.\n", present, absent)
	}
	b.WriteString("\n")

	bySection := map[string][]domain.AgendaItem{}
	for _, it := range agenda.Items {
		bySection[it.Section] = append(bySection[it.Section], it)
	}
	for _, section := range sectionOrder {
		items := bySection[section]
		if len(items) == 0 {
			continue
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Ord < items[j].Ord })
		b.WriteString(sectionTitles[section] + "\n")
		for _, it := range items {
			if err := e.writeItemMinutes(ctx, &b, it); err != nil {
				return "", err
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("Nada mais havendo a tratar, a sessão foi encerrada.\n")
	return b.String(), nil
}

func (e Engine) writeItemMinutes(ctx context.Context, b *strings.Builder, it domain.AgendaItem) error {
	p, err := e.Repo.GetProposition(ctx, it.PropositionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "  %d. %s — %s [%s]\n", it.Ord, p.Number, p.Title, itemStatusLabel(it.Status))
	if it.Status != domain.ItemApproved && it.Status != domain.ItemRejected {
		return nil
	}
	tally, err := e.tallyFor(ctx, it, p)
	if err != nil {
		return err
	}
	if tally.Yes+tally.No+tally.Abstain+tally.Absent == 0 && p.VotingTurn > 1 {
		// Approved first turns bump the proposition to turn two; the votes
		// recorded in this session sit under the previous turn.
		prev := p
		prev.VotingTurn = p.VotingTurn - 1
		tally, err = e.tallyFor(ctx, it, prev)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(b, "     Votação (turno %d): %d sim, %d não, %d abstenções, %d ausentes. Quórum %s, mínimo %d votos.\n",
		tally.Turn, tally.Yes, tally.No, tally.Abstain, tally.Absent, tally.QuorumKind, tally.Threshold)
	return nil
}

func sessionTypeLabel(t string) string {
	switch t {
	case "ordinary":
		return "ordinária"
	case "extraordinary":
		return "extraordinária"
	case "solemn":
		return "solene"
	}
	return t
}

func itemStatusLabel(status string) string {
	switch status {
	case domain.ItemApproved:
		return "APROVADO"
	case domain.ItemRejected:
		return "REJEITADO"
	case domain.ItemPostponed:
		return "ADIADO"
	case domain.ItemWithdrawn:
		return "RETIRADO"
	case domain.ItemPending, domain.ItemInDiscussion, domain.ItemInVoting:
		return "NÃO APRECIADO"
	}
	return strings.ToUpper(status)
}
