package service

import (
	"context"
	"fmt"
	"time"

	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/store"
)

// Query serves the read side of the guide plus alias and mapping edits.
type Query struct {
	store    store.Store
	identity *Identity
}

// NewQuery creates a Query over s.
func NewQuery(s store.Store) *Query {
	return &Query{store: s, identity: NewIdentity(s)}
}

// Identity exposes the identity service the Query resolves through.
func (q *Query) Identity() *Identity { return q.identity }

func (q *Query) ListChannels(ctx context.Context) ([]models.Channel, error) {
	return q.store.ListChannels(ctx)
}

// GetChannel resolves identifier by id, name, then alias.
func (q *Query) GetChannel(ctx context.Context, identifier string) (*models.Channel, error) {
	ch, ok, err := q.identity.ResolveByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("channel %q: %w", identifier, store.ErrNotFound)
	}
	return ch, nil
}

// ListPrograms returns the programmes of a channel overlapping [start, end).
func (q *Query) ListPrograms(ctx context.Context, identifier string, start, end time.Time) ([]models.Program, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("start must be before end: %w", ErrInvalidInput)
	}
	ch, err := q.GetChannel(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return q.store.ListPrograms(ctx, ch.ID, start, end)
}

func (q *Query) ListChannelAliases(ctx context.Context, identifier string) ([]models.ChannelAlias, error) {
	ch, err := q.GetChannel(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return q.store.ListChannelAliases(ctx, ch.ID)
}

// AddChannelAlias resolves identifier and attaches alias to it.
func (q *Query) AddChannelAlias(ctx context.Context, identifier, alias string, aliasType *string) (*models.ChannelAlias, error) {
	ch, err := q.GetChannel(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return q.identity.CreateAlias(ctx, ch.ID, alias, aliasType)
}

func (q *Query) DeleteAlias(ctx context.Context, aliasID int64) (bool, error) {
	return q.identity.DeleteAlias(ctx, aliasID)
}

// AliasPage is one page of ListAliases.
type AliasPage struct {
	Aliases []models.AliasWithChannelInfo `json:"aliases"`
	Total   int                           `json:"total"`
	Page    int                           `json:"page"`
	PerPage int                           `json:"per_page"`
}

func (q *Query) ListAliases(ctx context.Context, filter store.AliasFilter) (AliasPage, error) {
	filter.Normalize()
	aliases, total, err := q.store.ListAliases(ctx, filter)
	if err != nil {
		return AliasPage{}, err
	}
	if aliases == nil {
		aliases = []models.AliasWithChannelInfo{}
	}
	return AliasPage{Aliases: aliases, Total: total, Page: filter.Page, PerPage: filter.PerPage}, nil
}

// AliasTarget is the channel an alias points at.
type AliasTarget struct {
	AliasID            int64   `json:"alias_id"`
	AliasType          *string `json:"alias_type"`
	ChannelID          int64   `json:"channel_id"`
	ChannelName        string  `json:"channel_name"`
	ChannelDisplayName string  `json:"channel_display_name"`
}

// AliasMapping returns every alias keyed by its string.
func (q *Query) AliasMapping(ctx context.Context) (map[string]AliasTarget, error) {
	out := make(map[string]AliasTarget)
	filter := store.AliasFilter{Page: 1, PerPage: 1000}
	for {
		page, total, err := q.store.ListAliases(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, a := range page {
			out[a.Alias] = AliasTarget{
				AliasID:            a.ID,
				AliasType:          a.AliasType,
				ChannelID:          a.ChannelID,
				ChannelName:        a.ChannelName,
				ChannelDisplayName: a.ChannelDisplayName,
			}
		}
		if len(page) == 0 || filter.Page*filter.PerPage >= total {
			return out, nil
		}
		filter.Page++
	}
}

func (q *Query) AliasStatistics(ctx context.Context) (*models.AliasStatistics, error) {
	return q.store.AliasStatistics(ctx)
}

func (q *Query) ListMappings(ctx context.Context, providerID *int64) ([]models.ChannelMapping, error) {
	return q.store.ListMappings(ctx, providerID)
}

// MapProviderChannel maps token of providerID onto the channel identified by identifier.
func (q *Query) MapProviderChannel(ctx context.Context, providerID int64, token, identifier string) (*models.ChannelMapping, error) {
	if _, err := q.store.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}
	ch, err := q.GetChannel(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return q.identity.MapProviderChannel(ctx, providerID, token, ch.ID)
}

func (q *Query) Statistics(ctx context.Context) (*models.Statistics, error) {
	return q.store.Statistics(ctx)
}

// RecentImports returns the newest limit import log rows.
func (q *Query) RecentImports(ctx context.Context, limit int) ([]models.ImportLog, error) {
	return q.store.ListImportLogs(ctx, limit)
}
