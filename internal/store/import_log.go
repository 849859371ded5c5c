package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/voyagen/guidevault/internal/models"
)

const importLogColumns = `id, provider_id, started_at, completed_at, status, programs_imported, programs_skipped, error_message`

func scanImportLog(row pgx.Row) (*models.ImportLog, error) {
	var l models.ImportLog
	if err := row.Scan(&l.ID, &l.ProviderID, &l.StartedAt, &l.CompletedAt, &l.Status,
		&l.ProgramsImported, &l.ProgramsSkipped, &l.ErrorMessage); err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateImportLog inserts a running row for providerID.
func (p *Postgres) CreateImportLog(ctx context.Context, providerID int64) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO import_log (provider_id, status) VALUES ($1, $2) RETURNING id`,
		providerID, models.ImportRunning,
	).Scan(&id)
	if err != nil {
		return 0, classify("CreateImportLog", err)
	}
	return id, nil
}

// FinishImportLog stamps completed_at and writes the terminal status and counters.
func (p *Postgres) FinishImportLog(ctx context.Context, logID int64, outcome ImportOutcome) error {
	var msg *string
	if outcome.ErrorMessage != "" {
		msg = &outcome.ErrorMessage
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE import_log
		 SET completed_at = NOW(), status = $2, programs_imported = $3, programs_skipped = $4, error_message = $5
		 WHERE id = $1`,
		logID, outcome.Status, outcome.ProgramsImported, outcome.ProgramsSkipped, msg,
	)
	if err != nil {
		return classify("FinishImportLog", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("FinishImportLog: %w", ErrNotFound)
	}
	return nil
}

// GetImportLog returns one import log row.
func (p *Postgres) GetImportLog(ctx context.Context, logID int64) (*models.ImportLog, error) {
	l, err := scanImportLog(p.pool.QueryRow(ctx,
		`SELECT `+importLogColumns+` FROM import_log WHERE id = $1`, logID))
	if err != nil {
		return nil, classify("GetImportLog", err)
	}
	return l, nil
}

// ListImportLogs returns the newest limit rows.
func (p *Postgres) ListImportLogs(ctx context.Context, limit int) ([]models.ImportLog, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+importLogColumns+` FROM import_log ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, classify("ListImportLogs", err)
	}
	defer rows.Close()
	out := []models.ImportLog{}
	for rows.Next() {
		l, err := scanImportLog(rows)
		if err != nil {
			return nil, classify("ListImportLogs", err)
		}
		out = append(out, *l)
	}
	return out, classify("ListImportLogs", rows.Err())
}
