package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"plenario/internal/domain"
)

// --- legislators ---

func (r Repo) InsertLegislator(ctx context.Context, tx *sql.Tx, l domain.Legislator) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO legislators(id,chamber_id,name,party,active,created_at) VALUES (?,?,?,?,?,?)`,
		l.ID, l.ChamberID, l.Name, nullable(l.Party), boolInt(l.Active), l.CreatedAt)
	return err
}

func (r Repo) GetLegislator(ctx context.Context, id string) (domain.Legislator, error) {
	var l domain.Legislator
	var party sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,chamber_id,name,party,active,created_at FROM legislators WHERE id=?`, id).
		Scan(&l.ID, &l.ChamberID, &l.Name, &party, &active, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if party.Valid {
		l.Party = party.String
	}
	l.Active = active != 0
	return l, nil
}

func (r Repo) ListActiveLegislators(ctx context.Context, chamberID string) ([]domain.Legislator, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,chamber_id,name,party,active,created_at FROM legislators WHERE chamber_id=? AND active=1 ORDER BY name ASC`, chamberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Legislator
	for rows.Next() {
		var l domain.Legislator
		var party sql.NullString
		var active int
		if err := rows.Scan(&l.ID, &l.ChamberID, &l.Name, &party, &active, &l.CreatedAt); err != nil {
			return nil, err
		}
		if party.Valid {
			l.Party = party.String
		}
		l.Active = active != 0
		res = append(res, l)
	}
	return res, rows.Err()
}

// --- sessions ---

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(id,chamber_id,number,type,scheduled_at,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ChamberID, s.Number, s.Type, s.ScheduledAt, s.Status, s.CreatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var s domain.Session
	err := r.DB.QueryRowContext(ctx, `SELECT id,chamber_id,number,type,scheduled_at,status,created_at FROM sessions WHERE id=?`, id).
		Scan(&s.ID, &s.ChamberID, &s.Number, &s.Type, &s.ScheduledAt, &s.Status, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSessions(ctx context.Context, chamberID string, limit int) ([]domain.Session, error) {
	query := `SELECT id,chamber_id,number,type,scheduled_at,status,created_at FROM sessions WHERE chamber_id=? ORDER BY scheduled_at DESC, id DESC`
	args := []any{chamberID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.ChamberID, &s.Number, &s.Type, &s.ScheduledAt, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateSessionStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- agendas ---

func (r Repo) UpsertSessionAgenda(ctx context.Context, tx *sql.Tx, a domain.SessionAgenda) error {
	warnings, err := json.Marshal(a.Warnings)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO session_agendas(session_id,total_minutes,warnings_json,published,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(session_id) DO UPDATE SET total_minutes=excluded.total_minutes, warnings_json=excluded.warnings_json, published=excluded.published, created_at=excluded.created_at`,
		a.SessionID, a.TotalMinutes, string(warnings), boolInt(a.Published), a.CreatedAt)
	return err
}

func (r Repo) GetSessionAgenda(ctx context.Context, sessionID string) (domain.SessionAgenda, error) {
	var a domain.SessionAgenda
	var warnings sql.NullString
	var published int
	err := r.DB.QueryRowContext(ctx, `SELECT session_id,total_minutes,warnings_json,published,created_at FROM session_agendas WHERE session_id=?`, sessionID).
		Scan(&a.SessionID, &a.TotalMinutes, &warnings, &published, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if warnings.Valid && warnings.String != "" {
		_ = json.Unmarshal([]byte(warnings.String), &a.Warnings)
	}
	a.Published = published != 0
	items, err := r.ListAgendaItems(ctx, sessionID)
	if err != nil {
		return a, err
	}
	a.Items = items
	a.Stats = domain.StatsFor(items)
	return a, nil
}

func (r Repo) MarkAgendaPublished(ctx context.Context, tx *sql.Tx, sessionID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE session_agendas SET published=1 WHERE session_id=?`, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAgendaItems(ctx context.Context, tx *sql.Tx, sessionID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM agenda_items WHERE session_id=?`, sessionID)
	return err
}

func (r Repo) InsertAgendaItem(ctx context.Context, tx *sql.Tx, it domain.AgendaItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agenda_items(id,session_id,proposition_id,section,ord,estimated_minutes,tier,status) VALUES (?,?,?,?,?,?,?,?)`,
		it.ID, it.SessionID, it.PropositionID, it.Section, it.Ord, it.EstimatedMinutes, int(it.Tier), it.Status)
	return err
}

func (r Repo) GetAgendaItem(ctx context.Context, id string) (domain.AgendaItem, error) {
	var it domain.AgendaItem
	var tier int
	err := r.DB.QueryRowContext(ctx, `SELECT id,session_id,proposition_id,section,ord,estimated_minutes,tier,status FROM agenda_items WHERE id=?`, id).
		Scan(&it.ID, &it.SessionID, &it.PropositionID, &it.Section, &it.Ord, &it.EstimatedMinutes, &tier, &it.Status)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	it.Tier = domain.Tier(tier)
	return it, err
}

func (r Repo) ListAgendaItems(ctx context.Context, sessionID string) ([]domain.AgendaItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,session_id,proposition_id,section,ord,estimated_minutes,tier,status FROM agenda_items WHERE session_id=? ORDER BY section ASC, ord ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgendaItem
	for rows.Next() {
		var it domain.AgendaItem
		var tier int
		if err := rows.Scan(&it.ID, &it.SessionID, &it.PropositionID, &it.Section, &it.Ord, &it.EstimatedMinutes, &tier, &it.Status); err != nil {
			return nil, err
		}
		it.Tier = domain.Tier(tier)
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAgendaItemStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agenda_items SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- presence ---

func (r Repo) UpsertPresence(ctx context.Context, tx *sql.Tx, p domain.PresenceRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO presence_records(session_id,legislator_id,present,justification,recorded_at) VALUES (?,?,?,?,?)
ON CONFLICT(session_id, legislator_id) DO UPDATE SET present=excluded.present, justification=excluded.justification, recorded_at=excluded.recorded_at`,
		p.SessionID, p.LegislatorID, boolInt(p.Present), nullableStringPtr(p.Justification), p.RecordedAt)
	return err
}

func (r Repo) ListPresence(ctx context.Context, sessionID string) ([]domain.PresenceRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT session_id,legislator_id,present,justification,recorded_at FROM presence_records WHERE session_id=? ORDER BY legislator_id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PresenceRecord
	for rows.Next() {
		var p domain.PresenceRecord
		var present int
		var justification sql.NullString
		if err := rows.Scan(&p.SessionID, &p.LegislatorID, &present, &justification, &p.RecordedAt); err != nil {
			return nil, err
		}
		p.Present = present != 0
		if justification.Valid {
			p.Justification = &justification.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- votes ---

// UpsertVote overwrites any previous choice for the same
// (proposition, legislator, turn); the write is idempotent by key.
func (r Repo) UpsertVote(ctx context.Context, tx *sql.Tx, v domain.Vote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO votes(proposition_id,session_id,legislator_id,turn,choice,recorded_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(proposition_id, legislator_id, turn) DO UPDATE SET session_id=excluded.session_id, choice=excluded.choice, recorded_at=excluded.recorded_at`,
		v.PropositionID, v.SessionID, v.LegislatorID, v.Turn, v.Choice, v.RecordedAt)
	return err
}

func (r Repo) ListVotes(ctx context.Context, propositionID string, turn int) ([]domain.Vote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT proposition_id,session_id,legislator_id,turn,choice,recorded_at FROM votes WHERE proposition_id=? AND turn=? ORDER BY legislator_id ASC`, propositionID, turn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(&v.PropositionID, &v.SessionID, &v.LegislatorID, &v.Turn, &v.Choice, &v.RecordedAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// CountVoteChoices tallies current rows by choice, reading fresh every call.
func (r Repo) CountVoteChoices(ctx context.Context, propositionID string, turn int) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT choice, count(*) FROM votes WHERE proposition_id=? AND turn=? GROUP BY choice`, propositionID, turn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var choice string
		var count int
		if err := rows.Scan(&choice, &count); err != nil {
			return nil, err
		}
		res[choice] = count
	}
	return res, rows.Err()
}
