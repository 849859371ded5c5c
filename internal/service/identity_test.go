package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/store"
)

func TestResolveOrCreateChannel(t *testing.T) {
	s := newMemStore()
	id := NewIdentity(s)
	ctx := context.Background()

	ch, err := id.ResolveOrCreateChannel(ctx, "bbc1.uk", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "bbc1.uk", ch.Name)
	assert.Equal(t, "bbc1.uk", ch.DisplayName, "display name defaults to the token")

	again, err := id.ResolveOrCreateChannel(ctx, "bbc1.uk", "BBC One", nil)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, again.ID)
	assert.Equal(t, "bbc1.uk", again.DisplayName, "existing channels are not renamed")
}

// racingStore loses the CreateChannel race once.
type racingStore struct {
	*memStore
	raced bool
}

func (r *racingStore) CreateChannel(ctx context.Context, name, displayName string, iconURL *string) (*models.Channel, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.memStore.CreateChannel(ctx, name, "winner", nil); err != nil {
			return nil, err
		}
		return nil, conflict("channels_name_key")
	}
	return r.memStore.CreateChannel(ctx, name, displayName, iconURL)
}

func TestResolveOrCreateChannel_LostRace(t *testing.T) {
	s := &racingStore{memStore: newMemStore()}
	ch, err := NewIdentity(s).ResolveOrCreateChannel(context.Background(), "bbc1", "BBC One", nil)
	require.NoError(t, err)
	assert.Equal(t, "winner", ch.DisplayName)
}

func TestMapProviderChannel_Conflict(t *testing.T) {
	s := newMemStore()
	id := NewIdentity(s)
	ctx := context.Background()
	a, _ := s.CreateChannel(ctx, "a", "A", nil)
	b, _ := s.CreateChannel(ctx, "b", "B", nil)

	m, err := id.MapProviderChannel(ctx, 1, "tok", a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, m.ChannelID)

	_, err = id.MapProviderChannel(ctx, 1, "tok", b.ID)
	require.ErrorIs(t, err, store.ErrConflict)
	var ce *store.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "channel_mappings_provider_token_key", ce.Constraint)

	got, ok, err := id.LookupMapping(ctx, 1, "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, a.ID, got, "first mapping is kept")

	_, ok, err = id.LookupMapping(ctx, 2, "tok")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureMapping_ExistingWins(t *testing.T) {
	s := newMemStore()
	id := NewIdentity(s)
	ctx := context.Background()
	a, _ := s.CreateChannel(ctx, "a", "A", nil)
	b, _ := s.CreateChannel(ctx, "b", "B", nil)

	got, err := id.EnsureMapping(ctx, 1, "tok", a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got)
	got, err = id.EnsureMapping(ctx, 1, "tok", b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got)
	assert.Equal(t, 1, s.mappingCount(1, "tok"))
}

func TestResolveByIdentifier_Precedence(t *testing.T) {
	s := newMemStore()
	id := NewIdentity(s)
	ctx := context.Background()
	first, _ := s.CreateChannel(ctx, "first", "First", nil)
	second, _ := s.CreateChannel(ctx, "second", "Second", nil)
	third, _ := s.CreateChannel(ctx, "third", "Third", nil)

	numeric := first.ID
	_, err := s.CreateAlias(ctx, second.ID, itoa(numeric), nil)
	require.NoError(t, err)
	_, err = s.CreateAlias(ctx, third.ID, "second", nil)
	require.NoError(t, err)
	_, err = s.CreateAlias(ctx, third.ID, "bbc-three", nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		identifier string
		want       int64
		found      bool
	}{
		{"id beats alias", itoa(numeric), first.ID, true},
		{"name beats alias", "second", second.ID, true},
		{"alias", "bbc-three", third.ID, true},
		{"trimmed", "  third ", third.ID, true},
		{"unknown", "nope", 0, false},
		{"unknown id", "99999", 0, false},
		{"empty", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, ok, err := id.ResolveByIdentifier(ctx, tt.identifier)
			require.NoError(t, err)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, ch.ID)
			} else {
				assert.Nil(t, ch)
			}
		})
	}
}

func TestAliases(t *testing.T) {
	s := newMemStore()
	id := NewIdentity(s)
	ctx := context.Background()
	a, _ := s.CreateChannel(ctx, "a", "A", nil)
	b, _ := s.CreateChannel(ctx, "b", "B", nil)

	typ := models.AliasTypeEPGID
	al, err := id.CreateAlias(ctx, a.ID, "  a.epg  ", &typ)
	require.NoError(t, err)
	assert.Equal(t, "a.epg", al.Alias)

	_, err = id.CreateAlias(ctx, b.ID, "a.epg", nil)
	assert.ErrorIs(t, err, store.ErrConflict, "aliases are globally unique")

	_, err = id.CreateAlias(ctx, a.ID, "   ", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	ok, err := id.DeleteAlias(ctx, al.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = id.DeleteAlias(ctx, al.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
