package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/voyagen/guidevault/internal/models"
)

const channelColumns = `c.id, c.name, c.display_name, c.icon_url, c.created_at`

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var ch models.Channel
	if err := row.Scan(&ch.ID, &ch.Name, &ch.DisplayName, &ch.IconURL, &ch.CreatedAt); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetChannelByID returns a channel by primary key.
func (p *Postgres) GetChannelByID(ctx context.Context, channelID int64) (*models.Channel, error) {
	ch, err := scanChannel(p.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels c WHERE c.id = $1`, channelID))
	if err != nil {
		return nil, classify("GetChannelByID", err)
	}
	return ch, nil
}

// GetChannelByName returns a channel by its unique slug.
func (p *Postgres) GetChannelByName(ctx context.Context, name string) (*models.Channel, error) {
	ch, err := scanChannel(p.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels c WHERE c.name = $1`, name))
	if err != nil {
		return nil, classify("GetChannelByName", err)
	}
	return ch, nil
}

// GetChannelByAlias returns the channel owning alias.
func (p *Postgres) GetChannelByAlias(ctx context.Context, alias string) (*models.Channel, error) {
	ch, err := scanChannel(p.pool.QueryRow(ctx,
		`SELECT `+channelColumns+`
		 FROM channels c JOIN channel_aliases ca ON ca.channel_id = c.id
		 WHERE ca.alias = $1`, alias))
	if err != nil {
		return nil, classify("GetChannelByAlias", err)
	}
	return ch, nil
}

// CreateChannel inserts a logical channel.
func (p *Postgres) CreateChannel(ctx context.Context, name, displayName string, iconURL *string) (*models.Channel, error) {
	ch, err := scanChannel(p.pool.QueryRow(ctx,
		`INSERT INTO channels AS c (name, display_name, icon_url) VALUES ($1, $2, $3)
		 RETURNING `+channelColumns,
		name, displayName, iconURL,
	))
	if err != nil {
		return nil, classify("CreateChannel", err)
	}
	return ch, nil
}

// ListChannels returns all channels ordered by display name.
func (p *Postgres) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels c ORDER BY c.display_name ASC, c.id ASC`)
	if err != nil {
		return nil, classify("ListChannels", err)
	}
	defer rows.Close()
	var out []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, classify("ListChannels", err)
		}
		out = append(out, *ch)
	}
	return out, classify("ListChannels", rows.Err())
}

func scanAlias(row pgx.Row) (*models.ChannelAlias, error) {
	var a models.ChannelAlias
	if err := row.Scan(&a.ID, &a.ChannelID, &a.Alias, &a.AliasType, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAlias inserts a globally unique alias for a channel.
func (p *Postgres) CreateAlias(ctx context.Context, channelID int64, alias string, aliasType *string) (*models.ChannelAlias, error) {
	a, err := scanAlias(p.pool.QueryRow(ctx,
		`INSERT INTO channel_aliases (channel_id, alias, alias_type) VALUES ($1, $2, $3)
		 RETURNING id, channel_id, alias, alias_type, created_at`,
		channelID, alias, aliasType,
	))
	if err != nil {
		return nil, classify("CreateAlias", err)
	}
	return a, nil
}

// DeleteAlias removes an alias by id.
func (p *Postgres) DeleteAlias(ctx context.Context, aliasID int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM channel_aliases WHERE id = $1`, aliasID)
	if err != nil {
		return false, classify("DeleteAlias", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListChannelAliases returns the aliases of one channel, oldest first.
func (p *Postgres) ListChannelAliases(ctx context.Context, channelID int64) ([]models.ChannelAlias, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, channel_id, alias, alias_type, created_at
		 FROM channel_aliases WHERE channel_id = $1 ORDER BY created_at ASC, id ASC`, channelID)
	if err != nil {
		return nil, classify("ListChannelAliases", err)
	}
	defer rows.Close()
	var out []models.ChannelAlias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, classify("ListChannelAliases", err)
		}
		out = append(out, *a)
	}
	return out, classify("ListChannelAliases", rows.Err())
}

// ListAliases returns aliases joined with their channel names.
func (p *Postgres) ListAliases(ctx context.Context, filter AliasFilter) ([]models.AliasWithChannelInfo, int, error) {
	filter.Normalize()
	var (
		conds []string
		args  []any
	)
	if filter.AliasType != nil {
		args = append(args, *filter.AliasType)
		conds = append(conds, fmt.Sprintf("ca.alias_type = $%d", len(args)))
	}
	if filter.ChannelID != nil {
		args = append(args, *filter.ChannelID)
		conds = append(conds, fmt.Sprintf("ca.channel_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channel_aliases ca`+where, args...).Scan(&total); err != nil {
		return nil, 0, classify("ListAliases count", err)
	}

	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT ca.id, ca.channel_id, ca.alias, ca.alias_type, ca.created_at, c.name, c.display_name
		 FROM channel_aliases ca JOIN channels c ON c.id = ca.channel_id%s
		 ORDER BY c.display_name, ca.alias
		 LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, classify("ListAliases", err)
	}
	defer rows.Close()
	var out []models.AliasWithChannelInfo
	for rows.Next() {
		var a models.AliasWithChannelInfo
		if err := rows.Scan(&a.ID, &a.ChannelID, &a.Alias, &a.AliasType, &a.CreatedAt,
			&a.ChannelName, &a.ChannelDisplayName); err != nil {
			return nil, 0, classify("ListAliases", err)
		}
		out = append(out, a)
	}
	return out, total, classify("ListAliases", rows.Err())
}

// AliasStatistics reports alias coverage.
func (p *Postgres) AliasStatistics(ctx context.Context) (*models.AliasStatistics, error) {
	st := models.AliasStatistics{TypeDistribution: map[string]int64{}}
	err := p.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM channel_aliases),
		        (SELECT COUNT(DISTINCT channel_id) FROM channel_aliases),
		        (SELECT COUNT(*) FROM channels),
		        (SELECT COUNT(*) FROM channels c WHERE NOT EXISTS
		            (SELECT 1 FROM channel_aliases ca WHERE ca.channel_id = c.id))`,
	).Scan(&st.TotalAliases, &st.ChannelsWithAliases, &st.TotalChannels, &st.ChannelsWithoutAliases)
	if err != nil {
		return nil, classify("AliasStatistics", err)
	}
	if st.ChannelsWithAliases > 0 {
		st.AvgAliasesPerChannel = float64(st.TotalAliases) / float64(st.ChannelsWithAliases)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT COALESCE(alias_type, ''), COUNT(*) FROM channel_aliases
		 GROUP BY alias_type ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, classify("AliasStatistics types", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t string
			n int64
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, classify("AliasStatistics types", err)
		}
		st.TypeDistribution[t] = n
	}
	return &st, classify("AliasStatistics types", rows.Err())
}

// CreateMapping maps (provider, token) onto a channel.
func (p *Postgres) CreateMapping(ctx context.Context, providerID int64, providerChannelID string, channelID int64) (*models.ChannelMapping, error) {
	var m models.ChannelMapping
	err := p.pool.QueryRow(ctx,
		`INSERT INTO channel_mappings (provider_id, provider_channel_id, channel_id) VALUES ($1, $2, $3)
		 RETURNING id, provider_id, provider_channel_id, channel_id, created_at`,
		providerID, providerChannelID, channelID,
	).Scan(&m.ID, &m.ProviderID, &m.ProviderChannelID, &m.ChannelID, &m.CreatedAt)
	if err != nil {
		return nil, classify("CreateMapping", err)
	}
	return &m, nil
}

// LookupMapping resolves (provider, token) via the unique index.
func (p *Postgres) LookupMapping(ctx context.Context, providerID int64, providerChannelID string) (int64, bool, error) {
	var channelID int64
	err := p.pool.QueryRow(ctx,
		`SELECT channel_id FROM channel_mappings WHERE provider_id = $1 AND provider_channel_id = $2`,
		providerID, providerChannelID,
	).Scan(&channelID)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify("LookupMapping", err)
	}
	return channelID, true, nil
}

// ListMappings returns mappings joined with provider and channel names.
func (p *Postgres) ListMappings(ctx context.Context, providerID *int64) ([]models.ChannelMapping, error) {
	q := `SELECT cm.id, cm.provider_id, cm.provider_channel_id, cm.channel_id, cm.created_at, pr.name, c.name
	      FROM channel_mappings cm
	      JOIN providers pr ON pr.id = cm.provider_id
	      JOIN channels c ON c.id = cm.channel_id`
	var args []any
	if providerID != nil {
		q += ` WHERE cm.provider_id = $1`
		args = append(args, *providerID)
	}
	q += ` ORDER BY pr.name, cm.provider_channel_id`
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify("ListMappings", err)
	}
	defer rows.Close()
	var out []models.ChannelMapping
	for rows.Next() {
		var m models.ChannelMapping
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.ProviderChannelID, &m.ChannelID, &m.CreatedAt,
			&m.ProviderName, &m.ChannelName); err != nil {
			return nil, classify("ListMappings", err)
		}
		out = append(out, m)
	}
	return out, classify("ListMappings", rows.Err())
}
