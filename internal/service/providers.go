package service

import (
	"context"
	"fmt"

	"github.com/voyagen/guidevault/internal/fetcher"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/store"
)

// Prober checks whether a feed URL is reachable.
type Prober interface {
	Probe(ctx context.Context, url string) fetcher.ProbeResult
}

// Providers administers XMLTV providers.
type Providers struct {
	store  store.ProviderStore
	prober Prober
}

// NewProviders creates a Providers service.
func NewProviders(s store.ProviderStore, p Prober) *Providers {
	return &Providers{store: s, prober: p}
}

func (p *Providers) Create(ctx context.Context, name, xmltvURL string) (*models.Provider, error) {
	pr, err := p.store.CreateProvider(ctx, name, xmltvURL)
	if err != nil {
		return nil, fmt.Errorf("create provider %q: %w", name, err)
	}
	return pr, nil
}

func (p *Providers) Get(ctx context.Context, id int64) (*models.Provider, error) {
	return p.store.GetProvider(ctx, id)
}

func (p *Providers) List(ctx context.Context, enabledOnly bool) ([]models.Provider, error) {
	return p.store.ListProviders(ctx, enabledOnly)
}

// Update applies fields and returns the updated provider.
func (p *Providers) Update(ctx context.Context, id int64, fields store.ProviderUpdate) (*models.Provider, error) {
	if err := p.store.UpdateProvider(ctx, id, fields); err != nil {
		return nil, fmt.Errorf("update provider %d: %w", id, err)
	}
	return p.store.GetProvider(ctx, id)
}

// Delete removes a provider with its mappings, programmes and import logs.
func (p *Providers) Delete(ctx context.Context, id int64) error {
	return p.store.DeleteProvider(ctx, id)
}

// Test probes the provider's feed URL.
func (p *Providers) Test(ctx context.Context, id int64) (fetcher.ProbeResult, error) {
	pr, err := p.store.GetProvider(ctx, id)
	if err != nil {
		return fetcher.ProbeResult{}, err
	}
	return p.prober.Probe(ctx, pr.XMLTVURL), nil
}
