package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"plenario/internal/config"
	"plenario/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertChamber(ctx context.Context, tx *sql.Tx, id, name string, seats int, createdAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO chambers(id,name,seats,created_at) VALUES (?,?,?,?)`,
		id, name, seats, createdAt)
	return err
}

func (r Repo) GetChamber(ctx context.Context, id string) (string, int, error) {
	var name string
	var seats int
	err := r.DB.QueryRowContext(ctx, `SELECT name, seats FROM chambers WHERE id=?`, id).Scan(&name, &seats)
	if err == sql.ErrNoRows {
		return "", 0, ErrNotFound
	}
	return name, seats, err
}

func (r Repo) UpsertChamberConfig(ctx context.Context, chamberID string, cfg *config.Config) error {
	return upsertChamberConfig(ctx, r.DB, nil, chamberID, cfg)
}

func (r Repo) UpsertChamberConfigTx(ctx context.Context, tx *sql.Tx, chamberID string, cfg *config.Config) error {
	return upsertChamberConfig(ctx, nil, tx, chamberID, cfg)
}

func upsertChamberConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, chamberID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Chamber.ID = chamberID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO chamber_configs(chamber_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(chamber_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, chamberID, string(payload), now, now)
	return err
}

func (r Repo) GetChamberConfig(ctx context.Context, chamberID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM chamber_configs WHERE chamber_id=?`, chamberID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Chamber.ID == "" {
		cfg.Chamber.ID = chamberID
	}
	return &cfg, cfg.Validate()
}

// --- flows and stages ---

func (r Repo) InsertFlow(ctx context.Context, tx *sql.Tx, f domain.FlowDefinition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO flows(id,category,name,created_at) VALUES (?,?,?,?)`,
		f.ID, f.Category, f.Name, f.CreatedAt)
	return err
}

func (r Repo) GetFlow(ctx context.Context, id string) (domain.FlowDefinition, error) {
	var f domain.FlowDefinition
	err := r.DB.QueryRowContext(ctx, `SELECT id,category,name,created_at FROM flows WHERE id=?`, id).
		Scan(&f.ID, &f.Category, &f.Name, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) GetFlowByCategory(ctx context.Context, category string) (domain.FlowDefinition, error) {
	var f domain.FlowDefinition
	err := r.DB.QueryRowContext(ctx, `SELECT id,category,name,created_at FROM flows WHERE category=?`, category).
		Scan(&f.ID, &f.Category, &f.Name, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) ListFlows(ctx context.Context) ([]domain.FlowDefinition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,category,name,created_at FROM flows ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FlowDefinition
	for rows.Next() {
		var f domain.FlowDefinition
		if err := rows.Scan(&f.ID, &f.Category, &f.Name, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func scanStage(scan func(dest ...any) error) (domain.Stage, error) {
	var s domain.Stage
	var urgencyDays sql.NullInt64
	var requiresOpinion, enablesAgenda, terminal int
	var conditionKind, conditionJSON sql.NullString
	err := scan(&s.ID, &s.FlowID, &s.Ord, &s.Name, &s.Unit, &s.DeadlineDays, &urgencyDays,
		&requiresOpinion, &enablesAgenda, &terminal, &conditionKind, &conditionJSON)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if urgencyDays.Valid {
		d := int(urgencyDays.Int64)
		s.UrgencyDeadlineDays = &d
	}
	s.RequiresOpinion = requiresOpinion != 0
	s.EnablesAgenda = enablesAgenda != 0
	s.Terminal = terminal != 0
	if conditionKind.Valid {
		s.ConditionKind = conditionKind.String
	}
	if conditionJSON.Valid {
		s.ConditionJSON = &conditionJSON.String
	}
	return s, nil
}

const stageColumns = `id,flow_id,ord,name,unit,deadline_days,urgency_deadline_days,requires_opinion,enables_agenda,terminal,condition_kind,condition_json`

func (r Repo) InsertStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stages(`+stageColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.FlowID, s.Ord, s.Name, s.Unit, s.DeadlineDays, nullableIntPtr(s.UrgencyDeadlineDays),
		boolInt(s.RequiresOpinion), boolInt(s.EnablesAgenda), boolInt(s.Terminal),
		nullable(s.ConditionKind), nullableStringPtr(s.ConditionJSON))
	return err
}

func (r Repo) UpdateStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	res, err := tx.ExecContext(ctx, `UPDATE stages SET ord=?, name=?, unit=?, deadline_days=?, urgency_deadline_days=?, requires_opinion=?, enables_agenda=?, terminal=?, condition_kind=?, condition_json=? WHERE id=?`,
		s.Ord, s.Name, s.Unit, s.DeadlineDays, nullableIntPtr(s.UrgencyDeadlineDays),
		boolInt(s.RequiresOpinion), boolInt(s.EnablesAgenda), boolInt(s.Terminal),
		nullable(s.ConditionKind), nullableStringPtr(s.ConditionJSON), s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteStage(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetStageOrd(ctx context.Context, tx *sql.Tx, id string, ord int) error {
	_, err := tx.ExecContext(ctx, `UPDATE stages SET ord=? WHERE id=?`, ord, id)
	return err
}

func (r Repo) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE id=?`, id)
	return scanStage(row.Scan)
}

func (r Repo) ListStages(ctx context.Context, flowID string) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE flow_id=? ORDER BY ord ASC`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		s, err := scanStage(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) GetStageByOrd(ctx context.Context, flowID string, ord int) (domain.Stage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE flow_id=? AND ord=?`, flowID, ord)
	return scanStage(row.Scan)
}

// FirstStage returns the lowest-ord stage of a flow.
func (r Repo) FirstStage(ctx context.Context, flowID string) (domain.Stage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE flow_id=? ORDER BY ord ASC LIMIT 1`, flowID)
	return scanStage(row.Scan)
}

// NextStage returns the lowest-ord stage strictly after the given order.
func (r Repo) NextStage(ctx context.Context, flowID string, afterOrd int) (domain.Stage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE flow_id=? AND ord>? ORDER BY ord ASC LIMIT 1`, flowID, afterOrd)
	return scanStage(row.Scan)
}

// --- propositions ---

const propositionColumns = `id,chamber_id,category,number,title,summary,attributes_json,regime,voting_turn,presented_at,status,created_at`

func scanProposition(scan func(dest ...any) error) (domain.Proposition, error) {
	var p domain.Proposition
	var summary, attributes sql.NullString
	err := scan(&p.ID, &p.ChamberID, &p.Category, &p.Number, &p.Title, &summary, &attributes,
		&p.Regime, &p.VotingTurn, &p.PresentedAt, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if summary.Valid {
		p.Summary = summary.String
	}
	if attributes.Valid {
		p.AttributesJSON = &attributes.String
	}
	return p, nil
}

func (r Repo) InsertProposition(ctx context.Context, tx *sql.Tx, p domain.Proposition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO propositions(`+propositionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ChamberID, p.Category, p.Number, p.Title, nullable(p.Summary), nullableStringPtr(p.AttributesJSON),
		p.Regime, p.VotingTurn, p.PresentedAt, p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProposition(ctx context.Context, id string) (domain.Proposition, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+propositionColumns+` FROM propositions WHERE id=?`, id)
	return scanProposition(row.Scan)
}

type PropositionFilters struct {
	ChamberID string
	Category  string
	Status    string
	Regime    string
	Limit     int
}

func (r Repo) ListPropositions(ctx context.Context, f PropositionFilters) ([]domain.Proposition, error) {
	var clauses []string
	var args []any
	if f.ChamberID != "" {
		clauses = append(clauses, "chamber_id=?")
		args = append(args, f.ChamberID)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Regime != "" {
		clauses = append(clauses, "regime=?")
		args = append(args, f.Regime)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + propositionColumns + ` FROM propositions ` + where + ` ORDER BY presented_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposition
	for rows.Next() {
		p, err := scanProposition(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePropositionStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE propositions SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetPropositionTurn(ctx context.Context, tx *sql.Tx, id string, turn int) error {
	_, err := tx.ExecContext(ctx, `UPDATE propositions SET voting_turn=? WHERE id=?`, turn, id)
	return err
}

// --- events ---

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, chamberID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if chamberID != "" {
		clauses = append(clauses, "chamber_id=?")
		args = append(args, chamberID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,chamber_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, chamberID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if chamberID != "" {
		clauses = append(clauses, "chamber_id=?")
		args = append(args, chamberID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,chamber_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var chamberID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &chamberID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if chamberID.Valid {
			e.ChamberID = chamberID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a chamber.
func (r Repo) LatestEventID(ctx context.Context, chamberID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE chamber_id=?`, chamberID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
