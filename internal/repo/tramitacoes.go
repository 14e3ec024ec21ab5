package repo

import (
	"context"
	"database/sql"

	"plenario/internal/domain"
)

const tramitacaoColumns = `id,proposition_id,flow_id,current_stage_id,status,regime,deadline,created_at,updated_at`

func scanTramitacao(scan func(dest ...any) error) (domain.Tramitacao, error) {
	var t domain.Tramitacao
	var currentStage, deadline sql.NullString
	err := scan(&t.ID, &t.PropositionID, &t.FlowID, &currentStage, &t.Status, &t.Regime, &deadline, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if currentStage.Valid {
		t.CurrentStageID = &currentStage.String
	}
	if deadline.Valid {
		t.Deadline = &deadline.String
	}
	return t, nil
}

func (r Repo) InsertTramitacao(ctx context.Context, tx *sql.Tx, t domain.Tramitacao) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tramitacoes(`+tramitacaoColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.PropositionID, t.FlowID, nullableStringPtr(t.CurrentStageID), t.Status, t.Regime,
		nullableStringPtr(t.Deadline), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTramitacao(ctx context.Context, id string) (domain.Tramitacao, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+tramitacaoColumns+` FROM tramitacoes WHERE id=?`, id)
	return scanTramitacao(row.Scan)
}

// ActiveTramitacao returns the single in-progress instance for a proposition.
func (r Repo) ActiveTramitacao(ctx context.Context, propositionID string) (domain.Tramitacao, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+tramitacaoColumns+` FROM tramitacoes WHERE proposition_id=? AND status=?`,
		propositionID, domain.TramitacaoInProgress)
	return scanTramitacao(row.Scan)
}

func (r Repo) ListTramitacoes(ctx context.Context, propositionID string) ([]domain.Tramitacao, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+tramitacaoColumns+` FROM tramitacoes WHERE proposition_id=? ORDER BY created_at ASC, id ASC`, propositionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tramitacao
	for rows.Next() {
		t, err := scanTramitacao(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// AdvanceTramitacaoStage is the optimistic check-and-set for concurrent
// advances: the update only lands when current_stage_id still matches the
// stage the caller saw. Zero rows affected means a concurrent writer won.
func (r Repo) AdvanceTramitacaoStage(ctx context.Context, tx *sql.Tx, id string, fromStageID any, t domain.Tramitacao) (bool, error) {
	var res sql.Result
	var err error
	if fromStageID == nil {
		res, err = tx.ExecContext(ctx, `UPDATE tramitacoes SET current_stage_id=?, status=?, deadline=?, updated_at=? WHERE id=? AND current_stage_id IS NULL`,
			nullableStringPtr(t.CurrentStageID), t.Status, nullableStringPtr(t.Deadline), t.UpdatedAt, id)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE tramitacoes SET current_stage_id=?, status=?, deadline=?, updated_at=? WHERE id=? AND current_stage_id=?`,
			nullableStringPtr(t.CurrentStageID), t.Status, nullableStringPtr(t.Deadline), t.UpdatedAt, id, fromStageID)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) UpdateTramitacaoRegime(ctx context.Context, tx *sql.Tx, id, regime string, deadline *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tramitacoes SET regime=?, deadline=?, updated_at=? WHERE id=?`,
		regime, nullableStringPtr(deadline), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTramitacaoStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tramitacoes SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- stage passages (transition history) ---

func (r Repo) InsertStagePassage(ctx context.Context, tx *sql.Tx, p domain.StagePassage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_passages(tramitacao_id,stage_id,entered_at,exited_at,opinion) VALUES (?,?,?,?,?)`,
		p.TramitacaoID, p.StageID, p.EnteredAt, nullableStringPtr(p.ExitedAt), nullableStringPtr(p.Opinion))
	return err
}

// CloseStagePassage stamps exit time and opinion on the open passage for a stage.
func (r Repo) CloseStagePassage(ctx context.Context, tx *sql.Tx, tramitacaoID, stageID, exitedAt string, opinion *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE stage_passages SET exited_at=?, opinion=? WHERE tramitacao_id=? AND stage_id=? AND exited_at IS NULL`,
		exitedAt, nullableStringPtr(opinion), tramitacaoID, stageID)
	return err
}

func (r Repo) ListStagePassages(ctx context.Context, tramitacaoID string) ([]domain.StagePassage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tramitacao_id,stage_id,entered_at,exited_at,opinion FROM stage_passages WHERE tramitacao_id=? ORDER BY id ASC`, tramitacaoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StagePassage
	for rows.Next() {
		var p domain.StagePassage
		var exited, opinion sql.NullString
		if err := rows.Scan(&p.ID, &p.TramitacaoID, &p.StageID, &p.EnteredAt, &exited, &opinion); err != nil {
			return nil, err
		}
		if exited.Valid {
			p.ExitedAt = &exited.String
		}
		if opinion.Valid {
			p.Opinion = &opinion.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
