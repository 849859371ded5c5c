package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/voyagen/guidevault/internal/models"
)

// upsertProgramSQL merges on the natural key. Scalar fields keep the stored
// value when the incoming one is NULL or empty; list fields are replaced only by
// a non-empty incoming list. provider_id and created_at follow the latest write.
const upsertProgramSQL = `
INSERT INTO programs (
    channel_id, provider_id, start_time, end_time, title,
    subtitle, description, category, episode_num, rating,
    actors, directors, presenters, writers, producers,
    icon_url, production_year, country, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT ON CONSTRAINT programs_natural_key DO UPDATE SET
    provider_id     = EXCLUDED.provider_id,
    subtitle        = COALESCE(NULLIF(EXCLUDED.subtitle, ''), programs.subtitle),
    description     = COALESCE(NULLIF(EXCLUDED.description, ''), programs.description),
    category        = COALESCE(NULLIF(EXCLUDED.category, ''), programs.category),
    episode_num     = COALESCE(NULLIF(EXCLUDED.episode_num, ''), programs.episode_num),
    rating          = COALESCE(NULLIF(EXCLUDED.rating, ''), programs.rating),
    actors          = CASE WHEN cardinality(EXCLUDED.actors) > 0 THEN EXCLUDED.actors ELSE programs.actors END,
    directors       = CASE WHEN cardinality(EXCLUDED.directors) > 0 THEN EXCLUDED.directors ELSE programs.directors END,
    presenters      = CASE WHEN cardinality(EXCLUDED.presenters) > 0 THEN EXCLUDED.presenters ELSE programs.presenters END,
    writers         = CASE WHEN cardinality(EXCLUDED.writers) > 0 THEN EXCLUDED.writers ELSE programs.writers END,
    producers       = CASE WHEN cardinality(EXCLUDED.producers) > 0 THEN EXCLUDED.producers ELSE programs.producers END,
    icon_url        = COALESCE(NULLIF(EXCLUDED.icon_url, ''), programs.icon_url),
    production_year = COALESCE(NULLIF(EXCLUDED.production_year, ''), programs.production_year),
    country         = COALESCE(NULLIF(EXCLUDED.country, ''), programs.country),
    created_at      = EXCLUDED.created_at
RETURNING (xmax = 0) AS inserted`

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func upsertArgs(p *models.Program) []any {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{
		p.ChannelID, p.ProviderID, p.StartTime.UTC(), p.EndTime.UTC(), p.Title,
		p.Subtitle, p.Description, p.Category, p.EpisodeNum, p.Rating,
		nonNil(p.Actors), nonNil(p.Directors), nonNil(p.Presenters), nonNil(p.Writers), nonNil(p.Producers),
		p.IconURL, p.ProductionYear, p.Country, createdAt,
	}
}

// UpsertPrograms writes programs in one transaction using a pgx batch.
// A data error on any row rolls the batch back; the offending row carries its
// error in Failed and the others carry ErrBatchAborted. Connection-level
// failures are returned as err.
func (p *Postgres) UpsertPrograms(ctx context.Context, programs []models.Program) (UpsertResult, error) {
	var res UpsertResult
	if len(programs) == 0 {
		return res, nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("UpsertPrograms begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for i := range programs {
		batch.Queue(upsertProgramSQL, upsertArgs(&programs[i])...)
	}
	br := tx.SendBatch(ctx, batch)

	failedAt := -1
	var rowErr error
	for i := range programs {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			failedAt, rowErr = i, err
			break
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	closeErr := br.Close()

	if failedAt < 0 && closeErr == nil {
		if err := tx.Commit(ctx); err != nil {
			return UpsertResult{}, fmt.Errorf("UpsertPrograms commit: %w", err)
		}
		return res, nil
	}
	if rowErr == nil {
		rowErr = closeErr
	}
	if !IsDataError(rowErr) {
		return UpsertResult{}, classify("UpsertPrograms", rowErr)
	}

	failed := make([]RowFailure, len(programs))
	for i := range programs {
		failed[i] = RowFailure{Index: i, Err: ErrBatchAborted}
	}
	if failedAt >= 0 {
		failed[failedAt].Err = classify("UpsertPrograms", rowErr)
	}
	return UpsertResult{Failed: failed}, nil
}

// UpsertProgram writes a single programme outside of any batch.
func (p *Postgres) UpsertProgram(ctx context.Context, prog *models.Program) error {
	var inserted bool
	if err := p.pool.QueryRow(ctx, upsertProgramSQL, upsertArgs(prog)...).Scan(&inserted); err != nil {
		return classify("UpsertProgram", err)
	}
	return nil
}

// ListPrograms returns programmes on channelID that overlap [start, end).
func (p *Postgres) ListPrograms(ctx context.Context, channelID int64, start, end time.Time) ([]models.Program, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, channel_id, provider_id, start_time, end_time, title,
		       subtitle, description, category, episode_num, rating,
		       actors, directors, presenters, writers, producers,
		       icon_url, production_year, country, created_at
		FROM programs
		WHERE channel_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time ASC, id ASC`,
		channelID, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, classify("ListPrograms", err)
	}
	defer rows.Close()
	out := []models.Program{}
	for rows.Next() {
		var pr models.Program
		if err := rows.Scan(&pr.ID, &pr.ChannelID, &pr.ProviderID, &pr.StartTime, &pr.EndTime, &pr.Title,
			&pr.Subtitle, &pr.Description, &pr.Category, &pr.EpisodeNum, &pr.Rating,
			&pr.Actors, &pr.Directors, &pr.Presenters, &pr.Writers, &pr.Producers,
			&pr.IconURL, &pr.ProductionYear, &pr.Country, &pr.CreatedAt); err != nil {
			return nil, classify("ListPrograms", err)
		}
		out = append(out, pr)
	}
	return out, classify("ListPrograms", rows.Err())
}
