package store

import (
	"context"
	"time"

	"github.com/voyagen/guidevault/internal/models"
)

// Store defines persistence for providers, logical channels and their identity
// tables, programmes, import logs, and maintenance queries.
type Store interface {
	ProviderStore
	IdentityStore
	ProgramStore
	ImportLogStore
	MaintenanceStore

	// Statistics returns counts and date ranges across the guide database.
	Statistics(ctx context.Context) (*models.Statistics, error)
}

// ProviderStore persists XMLTV providers.
type ProviderStore interface {
	// CreateProvider inserts a provider. A duplicate name is a *ConflictError.
	CreateProvider(ctx context.Context, name, xmltvURL string) (*models.Provider, error)
	// GetProvider returns ErrNotFound when the id is unknown.
	GetProvider(ctx context.Context, providerID int64) (*models.Provider, error)
	// ListProviders returns providers ordered by name.
	ListProviders(ctx context.Context, enabledOnly bool) ([]models.Provider, error)
	// UpdateProvider updates mutable fields and refreshes updated_at.
	UpdateProvider(ctx context.Context, providerID int64, fields ProviderUpdate) error
	// DeleteProvider deletes a provider and cascades to mappings, programmes and logs.
	DeleteProvider(ctx context.Context, providerID int64) error
}

// IdentityStore persists logical channels, aliases and provider mappings.
type IdentityStore interface {
	GetChannelByID(ctx context.Context, channelID int64) (*models.Channel, error)
	GetChannelByName(ctx context.Context, name string) (*models.Channel, error)
	GetChannelByAlias(ctx context.Context, alias string) (*models.Channel, error)
	// CreateChannel inserts a channel. A duplicate name is a *ConflictError.
	CreateChannel(ctx context.Context, name, displayName string, iconURL *string) (*models.Channel, error)
	// ListChannels returns all channels ordered by display name.
	ListChannels(ctx context.Context) ([]models.Channel, error)

	// CreateAlias inserts an alias. Aliases are globally unique; a duplicate is a *ConflictError.
	CreateAlias(ctx context.Context, channelID int64, alias string, aliasType *string) (*models.ChannelAlias, error)
	// DeleteAlias reports whether a row was removed.
	DeleteAlias(ctx context.Context, aliasID int64) (bool, error)
	ListChannelAliases(ctx context.Context, channelID int64) ([]models.ChannelAlias, error)
	// ListAliases returns aliases joined with their channel plus the unpaginated total.
	ListAliases(ctx context.Context, filter AliasFilter) ([]models.AliasWithChannelInfo, int, error)
	AliasStatistics(ctx context.Context) (*models.AliasStatistics, error)

	// CreateMapping inserts a provider mapping; an existing (provider, token) pair is a *ConflictError.
	CreateMapping(ctx context.Context, providerID int64, providerChannelID string, channelID int64) (*models.ChannelMapping, error)
	// LookupMapping returns the channel id mapped for (provider, token), if any.
	LookupMapping(ctx context.Context, providerID int64, providerChannelID string) (int64, bool, error)
	// ListMappings returns mappings with provider and channel names, optionally for one provider.
	ListMappings(ctx context.Context, providerID *int64) ([]models.ChannelMapping, error)
}

// ProgramStore persists programmes keyed by their natural key.
type ProgramStore interface {
	// UpsertPrograms writes a batch in one transaction. When the batch cannot be
	// committed, every row is reported in UpsertResult.Failed so the caller can
	// retry them one at a time with UpsertProgram.
	UpsertPrograms(ctx context.Context, programs []models.Program) (UpsertResult, error)
	// UpsertProgram inserts or merges a single programme.
	UpsertProgram(ctx context.Context, p *models.Program) error
	// ListPrograms returns programmes on channelID overlapping [start, end), ordered by start.
	ListPrograms(ctx context.Context, channelID int64, start, end time.Time) ([]models.Program, error)
}

// ImportLogStore persists the import audit trail.
type ImportLogStore interface {
	// CreateImportLog inserts a running row and returns its id.
	CreateImportLog(ctx context.Context, providerID int64) (int64, error)
	// FinishImportLog moves a running row to its terminal state.
	FinishImportLog(ctx context.Context, logID int64, outcome ImportOutcome) error
	GetImportLog(ctx context.Context, logID int64) (*models.ImportLog, error)
	// ListImportLogs returns the most recent rows first.
	ListImportLogs(ctx context.Context, limit int) ([]models.ImportLog, error)
}

// MaintenanceStore holds the retention and dedup queries.
type MaintenanceStore interface {
	// DeleteProgramsOutside removes programmes whose start_time is outside [from, to].
	DeleteProgramsOutside(ctx context.Context, from, to time.Time) (int64, error)
	// TrimImportLogs keeps the newest keep rows by started_at.
	TrimImportLogs(ctx context.Context, keep int) (int64, error)
	// ListDedupCandidates returns programmes that have at least one other row on the
	// same (channel, provider) starting less than tolerance apart.
	ListDedupCandidates(ctx context.Context, tolerance time.Duration) ([]models.DedupCandidate, error)
	// DeletePrograms removes the given ids in one transaction.
	DeletePrograms(ctx context.Context, ids []int64) (int64, error)
	// DeleteExactDuplicates keeps one row per natural key (newest created_at,
	// then lowest id) and returns the number of duplicate groups and rows removed.
	DeleteExactDuplicates(ctx context.Context) (groups int64, removed int64, err error)
}

// ProviderUpdate holds mutable fields for a provider.
// Pointer fields: nil = don't change, non-nil = set.
type ProviderUpdate struct {
	Name     *string
	XMLTVURL *string
	Enabled  *bool
}

// AliasFilter holds optional filters for listing aliases.
type AliasFilter struct {
	AliasType *string
	ChannelID *int64
	Page      int // 1-based, default 1
	PerPage   int // default 100, max 1000
}

// Normalize applies paging defaults.
func (f *AliasFilter) Normalize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = 100
	}
	if f.PerPage > 1000 {
		f.PerPage = 1000
	}
}

// ImportOutcome is the terminal state written by FinishImportLog.
type ImportOutcome struct {
	Status           models.ImportStatus
	ProgramsImported int
	ProgramsSkipped  int
	ErrorMessage     string
}

// UpsertResult reports the outcome of UpsertPrograms.
type UpsertResult struct {
	Inserted int
	Updated  int
	Failed   []RowFailure
}

// RowFailure identifies a batch row that was not written.
type RowFailure struct {
	Index int
	Err   error
}
