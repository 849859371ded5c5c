package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/store"
)

// Identity translates provider channel tokens and external lookup keys into
// logical channels.
type Identity struct {
	store store.IdentityStore
}

// NewIdentity creates an Identity over s.
func NewIdentity(s store.IdentityStore) *Identity {
	return &Identity{store: s}
}

// ResolveOrCreateChannel returns the channel named token, creating it when
// absent. A concurrent creator winning the insert is resolved by re-reading.
func (i *Identity) ResolveOrCreateChannel(ctx context.Context, token, displayName string, iconURL *string) (*models.Channel, error) {
	ch, err := i.store.GetChannelByName(ctx, token)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolve channel %q: %w", token, err)
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = token
	}
	ch, err = i.store.CreateChannel(ctx, token, displayName, iconURL)
	if errors.Is(err, store.ErrConflict) {
		ch, err = i.store.GetChannelByName(ctx, token)
	}
	if err != nil {
		return nil, fmt.Errorf("create channel %q: %w", token, err)
	}
	return ch, nil
}

// MapProviderChannel records that token of providerID means channelID.
// An existing mapping for the pair is a *store.ConflictError.
func (i *Identity) MapProviderChannel(ctx context.Context, providerID int64, token string, channelID int64) (*models.ChannelMapping, error) {
	m, err := i.store.CreateMapping(ctx, providerID, token, channelID)
	if err != nil {
		return nil, fmt.Errorf("map %d/%q: %w", providerID, token, err)
	}
	return m, nil
}

// LookupMapping returns the channel mapped for (providerID, token).
func (i *Identity) LookupMapping(ctx context.Context, providerID int64, token string) (int64, bool, error) {
	return i.store.LookupMapping(ctx, providerID, token)
}

// EnsureMapping returns the channel mapped for (providerID, token), mapping it
// to channelID first when no mapping exists. An existing mapping wins.
func (i *Identity) EnsureMapping(ctx context.Context, providerID int64, token string, channelID int64) (int64, error) {
	if id, ok, err := i.store.LookupMapping(ctx, providerID, token); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}
	if _, err := i.MapProviderChannel(ctx, providerID, token, channelID); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return 0, err
		}
		id, ok, lerr := i.store.LookupMapping(ctx, providerID, token)
		if lerr != nil || !ok {
			return 0, err
		}
		return id, nil
	}
	return channelID, nil
}

// ResolveByIdentifier finds a channel by numeric id, then by name, then by
// alias. The first match wins, so a numeric alias never shadows a channel id.
func (i *Identity) ResolveByIdentifier(ctx context.Context, identifier string) (*models.Channel, bool, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, false, nil
	}
	lookups := make([]func() (*models.Channel, error), 0, 3)
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		lookups = append(lookups, func() (*models.Channel, error) { return i.store.GetChannelByID(ctx, id) })
	}
	lookups = append(lookups,
		func() (*models.Channel, error) { return i.store.GetChannelByName(ctx, identifier) },
		func() (*models.Channel, error) { return i.store.GetChannelByAlias(ctx, identifier) },
	)
	for _, lookup := range lookups {
		ch, err := lookup()
		if err == nil {
			return ch, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, fmt.Errorf("resolve %q: %w", identifier, err)
		}
	}
	return nil, false, nil
}

// CreateAlias adds a globally unique alias to channelID.
func (i *Identity) CreateAlias(ctx context.Context, channelID int64, alias string, aliasType *string) (*models.ChannelAlias, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return nil, fmt.Errorf("alias is required: %w", ErrInvalidInput)
	}
	a, err := i.store.CreateAlias(ctx, channelID, alias, aliasType)
	if err != nil {
		return nil, fmt.Errorf("create alias %q: %w", alias, err)
	}
	return a, nil
}

// DeleteAlias reports whether the alias existed.
func (i *Identity) DeleteAlias(ctx context.Context, aliasID int64) (bool, error) {
	return i.store.DeleteAlias(ctx, aliasID)
}
