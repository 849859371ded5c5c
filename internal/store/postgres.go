package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voyagen/guidevault/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping checks the connection to the database.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

const providerColumns = `id, name, xmltv_url, enabled, created_at, updated_at`

func scanProvider(row pgx.Row) (*models.Provider, error) {
	var pr models.Provider
	if err := row.Scan(&pr.ID, &pr.Name, &pr.XMLTVURL, &pr.Enabled, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
		return nil, err
	}
	return &pr, nil
}

// CreateProvider inserts an enabled provider.
func (p *Postgres) CreateProvider(ctx context.Context, name, xmltvURL string) (*models.Provider, error) {
	pr, err := scanProvider(p.pool.QueryRow(ctx,
		`INSERT INTO providers (name, xmltv_url) VALUES ($1, $2) RETURNING `+providerColumns,
		name, xmltvURL,
	))
	if err != nil {
		return nil, classify("CreateProvider", err)
	}
	return pr, nil
}

// GetProvider returns a provider by id.
func (p *Postgres) GetProvider(ctx context.Context, providerID int64) (*models.Provider, error) {
	pr, err := scanProvider(p.pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = $1`, providerID))
	if err != nil {
		return nil, classify("GetProvider", err)
	}
	return pr, nil
}

// ListProviders returns providers ordered by name.
func (p *Postgres) ListProviders(ctx context.Context, enabledOnly bool) ([]models.Provider, error) {
	q := `SELECT ` + providerColumns + ` FROM providers`
	if enabledOnly {
		q += ` WHERE enabled`
	}
	q += ` ORDER BY name ASC`
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, classify("ListProviders", err)
	}
	defer rows.Close()
	var out []models.Provider
	for rows.Next() {
		pr, err := scanProvider(rows)
		if err != nil {
			return nil, classify("ListProviders", err)
		}
		out = append(out, *pr)
	}
	return out, classify("ListProviders", rows.Err())
}

// UpdateProvider updates the non-nil fields of a provider.
func (p *Postgres) UpdateProvider(ctx context.Context, providerID int64, fields ProviderUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if fields.Name != nil {
		add("name", *fields.Name)
	}
	if fields.XMLTVURL != nil {
		add("xmltv_url", *fields.XMLTVURL)
	}
	if fields.Enabled != nil {
		add("enabled", *fields.Enabled)
	}
	if len(sets) == 0 {
		_, err := p.GetProvider(ctx, providerID)
		return err
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, providerID)
	tag, err := p.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE providers SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
		args...,
	)
	if err != nil {
		return classify("UpdateProvider", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("UpdateProvider: %w", ErrNotFound)
	}
	return nil
}

// DeleteProvider deletes a provider; mappings, programmes and logs cascade.
func (p *Postgres) DeleteProvider(ctx context.Context, providerID int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM providers WHERE id = $1`, providerID)
	if err != nil {
		return classify("DeleteProvider", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("DeleteProvider: %w", ErrNotFound)
	}
	return nil
}

// Statistics returns counts, programme date range and import totals.
func (p *Postgres) Statistics(ctx context.Context) (*models.Statistics, error) {
	var st models.Statistics
	err := p.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM channels),
		        (SELECT COUNT(*) FROM programs),
		        (SELECT COUNT(*) FROM providers),
		        (SELECT COUNT(*) FROM channel_aliases)`,
	).Scan(&st.TotalChannels, &st.TotalPrograms, &st.TotalProviders, &st.TotalAliases)
	if err != nil {
		return nil, classify("Statistics counts", err)
	}

	err = p.pool.QueryRow(ctx,
		`SELECT MIN(start_time), MAX(start_time),
		        COUNT(DISTINCT (start_time AT TIME ZONE 'UTC')::date)
		 FROM programs`,
	).Scan(&st.EarliestProgram, &st.LatestProgram, &st.DaysCovered)
	if err != nil {
		return nil, classify("Statistics range", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT to_char((start_time AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS day, COUNT(*)
		 FROM programs
		 WHERE start_time > NOW() - INTERVAL '7 days'
		 GROUP BY day
		 ORDER BY day DESC`)
	if err != nil {
		return nil, classify("Statistics per day", err)
	}
	defer rows.Close()
	st.ProgramsLast7Days = []models.DayCount{}
	for rows.Next() {
		var dc models.DayCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, classify("Statistics per day", err)
		}
		st.ProgramsLast7Days = append(st.ProgramsLast7Days, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("Statistics per day", err)
	}

	err = p.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'success'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        MAX(completed_at)
		 FROM import_log`,
	).Scan(&st.ImportsTotal, &st.ImportsSuccessful, &st.ImportsFailed, &st.LastImport)
	if err != nil {
		return nil, classify("Statistics imports", err)
	}
	return &st, nil
}
