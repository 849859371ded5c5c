package store

import (
	"context"
	"fmt"
	"time"

	"github.com/voyagen/guidevault/internal/models"
)

// DeleteProgramsOutside removes programmes starting before from or after to.
func (p *Postgres) DeleteProgramsOutside(ctx context.Context, from, to time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM programs WHERE start_time < $1 OR start_time > $2`, from.UTC(), to.UTC())
	if err != nil {
		return 0, classify("DeleteProgramsOutside", err)
	}
	return tag.RowsAffected(), nil
}

// TrimImportLogs deletes all but the newest keep rows.
func (p *Postgres) TrimImportLogs(ctx context.Context, keep int) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM import_log WHERE id NOT IN (
		     SELECT id FROM import_log ORDER BY started_at DESC, id DESC LIMIT $1
		 )`, keep)
	if err != nil {
		return 0, classify("TrimImportLogs", err)
	}
	return tag.RowsAffected(), nil
}

// ListDedupCandidates returns rows with a same-channel, same-provider
// neighbour starting within tolerance, ordered for a sliding-window scan.
func (p *Postgres) ListDedupCandidates(ctx context.Context, tolerance time.Duration) ([]models.DedupCandidate, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT p1.id, p1.channel_id, p1.provider_id, p1.start_time, p1.title, p1.created_at
		FROM programs p1
		WHERE EXISTS (
		    SELECT 1 FROM programs p2
		    WHERE p2.channel_id = p1.channel_id
		      AND p2.provider_id = p1.provider_id
		      AND p2.id <> p1.id
		      AND p2.start_time > p1.start_time - $1::interval
		      AND p2.start_time < p1.start_time + $1::interval
		)
		ORDER BY p1.channel_id, p1.provider_id, p1.start_time, p1.id`, tolerance)
	if err != nil {
		return nil, classify("ListDedupCandidates", err)
	}
	defer rows.Close()
	var out []models.DedupCandidate
	for rows.Next() {
		var c models.DedupCandidate
		if err := rows.Scan(&c.ID, &c.ChannelID, &c.ProviderID, &c.StartTime, &c.Title, &c.CreatedAt); err != nil {
			return nil, classify("ListDedupCandidates", err)
		}
		out = append(out, c)
	}
	return out, classify("ListDedupCandidates", rows.Err())
}

// DeletePrograms deletes ids in one statement.
func (p *Postgres) DeletePrograms(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM programs WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, classify("DeletePrograms", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExactDuplicates collapses rows sharing the full natural key,
// keeping the newest created_at and then the lowest id.
func (p *Postgres) DeleteExactDuplicates(ctx context.Context) (int64, int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("DeleteExactDuplicates begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const ranked = `
		WITH ranked AS (
		    SELECT id,
		           ROW_NUMBER() OVER w AS rn,
		           COUNT(*) OVER (PARTITION BY channel_id, start_time, end_time, title) AS n
		    FROM programs
		    WINDOW w AS (PARTITION BY channel_id, start_time, end_time, title ORDER BY created_at DESC, id ASC)
		)`

	var groups int64
	if err := tx.QueryRow(ctx, ranked+` SELECT COUNT(*) FROM ranked WHERE rn = 1 AND n > 1`).Scan(&groups); err != nil {
		return 0, 0, classify("DeleteExactDuplicates count", err)
	}
	if groups == 0 {
		return 0, 0, nil
	}
	tag, err := tx.Exec(ctx, ranked+` DELETE FROM programs WHERE id IN (SELECT id FROM ranked WHERE rn > 1)`)
	if err != nil {
		return 0, 0, classify("DeleteExactDuplicates", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("DeleteExactDuplicates commit: %w", err)
	}
	return groups, tag.RowsAffected(), nil
}
