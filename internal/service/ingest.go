package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/voyagen/guidevault/internal/cache"
	"github.com/voyagen/guidevault/internal/fetcher"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/metrics"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/store"
)

const (
	// DefaultBatchSize is the number of programmes written per transaction.
	DefaultBatchSize = 1000
	// importLockTTL bounds how long a crashed import can hold its provider lock.
	importLockTTL = 2 * time.Hour
)

// PipelineStore is the persistence an import needs.
type PipelineStore interface {
	store.ProviderStore
	store.IdentityStore
	store.ProgramStore
	store.ImportLogStore
}

// Downloader fetches a feed into a scratch file the caller must remove.
type Downloader interface {
	Download(ctx context.Context, url string) (path string, err error)
}

// Decoder streams records out of a downloaded feed.
type Decoder interface {
	Channels(path string) iter.Seq2[fetcher.ChannelRecord, error]
	Programs(path string) iter.Seq2[fetcher.ProgramRecord, error]
}

// XMLTVDecoder decodes XMLTV files with the fetcher package.
type XMLTVDecoder struct{}

func (XMLTVDecoder) Channels(path string) iter.Seq2[fetcher.ChannelRecord, error] {
	return fetcher.DecodeChannelsFile(path)
}

func (XMLTVDecoder) Programs(path string) iter.Seq2[fetcher.ProgramRecord, error] {
	return fetcher.DecodeProgramsFile(path)
}

// PipelineOptions tunes a Pipeline. Zero values pick defaults.
type PipelineOptions struct {
	BatchSize int
	Decoder   Decoder
	Locker    Locker
	Clock     func() time.Time
}

// Pipeline imports providers' feeds into the guide.
type Pipeline struct {
	store      PipelineStore
	identity   *Identity
	downloader Downloader
	decoder    Decoder
	locker     Locker
	batchSize  int
	now        func() time.Time
	log        zerolog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(s PipelineStore, d Downloader, opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		store:      s,
		identity:   NewIdentity(s),
		downloader: d,
		decoder:    opts.Decoder,
		locker:     opts.Locker,
		batchSize:  opts.BatchSize,
		now:        opts.Clock,
		log:        logging.Component("ingest"),
	}
	if p.decoder == nil {
		p.decoder = XMLTVDecoder{}
	}
	if p.locker == nil {
		p.locker = NewLocalLocker()
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultBatchSize
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

func importLockKey(providerID int64) string {
	return fmt.Sprintf("guidevault:lock:import:%d", providerID)
}

// ImportProvider runs one import attempt for providerID and returns its
// finished ImportLog. Attempt-level failures are recorded on the log row and
// returned.
func (p *Pipeline) ImportProvider(ctx context.Context, providerID int64) (*models.ImportLog, error) {
	provider, err := p.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("import provider %d: %w", providerID, err)
	}
	if !provider.Enabled {
		return nil, fmt.Errorf("import provider %q: %w", provider.Name, ErrProviderDisabled)
	}

	unlock, err := p.locker.TryLock(ctx, importLockKey(providerID), importLockTTL)
	if errors.Is(err, cache.ErrLocked) {
		return nil, fmt.Errorf("import provider %q: %w", provider.Name, ErrImportInProgress)
	}
	if err != nil {
		return nil, fmt.Errorf("import lock: %w", err)
	}
	defer unlock()

	logID, err := p.store.CreateImportLog(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("CreateImportLog: %w", err)
	}

	log := p.log.With().Str("provider", provider.Name).Int64("provider_id", providerID).Int64("import_log_id", logID).Logger()
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		log = log.With().Str("correlation_id", id).Logger()
	}
	log.Info().Str("url", provider.XMLTVURL).Msg("import started")

	started := time.Now()
	counts, runErr := p.run(ctx, provider, log)

	// The log row must reach a terminal state even when ctx is cancelled.
	finishCtx := context.WithoutCancel(ctx)
	outcome := store.ImportOutcome{
		Status:           models.ImportSuccess,
		ProgramsImported: counts.imported,
		ProgramsSkipped:  counts.skipped,
	}
	if runErr != nil {
		outcome.Status = models.ImportFailed
		outcome.ErrorMessage = runErr.Error()
	}
	if err := p.store.FinishImportLog(finishCtx, logID, outcome); err != nil {
		log.Error().Err(err).Msg("finish import log")
		if runErr == nil {
			runErr = fmt.Errorf("FinishImportLog: %w", err)
		}
	}
	metrics.RecordImport(string(outcome.Status), time.Since(started), counts.imported, counts.skipped)

	if runErr != nil {
		log.Error().Err(runErr).Int("imported", counts.imported).Int("skipped", counts.skipped).Msg("import failed")
		return nil, fmt.Errorf("import provider %q: %w", provider.Name, runErr)
	}
	log.Info().Int("imported", counts.imported).Int("skipped", counts.skipped).
		Dur("took", time.Since(started)).Msg("import finished")

	il, err := p.store.GetImportLog(finishCtx, logID)
	if err != nil {
		return nil, fmt.Errorf("GetImportLog: %w", err)
	}
	return il, nil
}

// ImportAllEnabledProviders imports every enabled provider in name order. A
// failing provider is logged and skipped; the logs of the successful ones are
// returned.
func (p *Pipeline) ImportAllEnabledProviders(ctx context.Context) ([]models.ImportLog, error) {
	providers, err := p.store.ListProviders(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("ListProviders: %w", err)
	}
	sort.SliceStable(providers, func(a, b int) bool { return providers[a].Name < providers[b].Name })

	p.log.Info().Int("providers", len(providers)).Msg("importing all enabled providers")
	logs := make([]models.ImportLog, 0, len(providers))
	for _, pr := range providers {
		if err := ctx.Err(); err != nil {
			return logs, fmt.Errorf("import all cancelled: %w", err)
		}
		il, err := p.ImportProvider(ctx, pr.ID)
		if err != nil {
			p.log.Error().Err(err).Str("provider", pr.Name).Msg("provider import failed, continuing")
			continue
		}
		logs = append(logs, *il)
	}
	p.log.Info().Int("succeeded", len(logs)).Int("providers", len(providers)).Msg("import all finished")
	return logs, nil
}

type importCounts struct {
	imported int
	skipped  int
}

func (p *Pipeline) run(ctx context.Context, provider *models.Provider, log zerolog.Logger) (importCounts, error) {
	path, err := p.downloader.Download(ctx, provider.XMLTVURL)
	if err != nil {
		return importCounts{}, fmt.Errorf("download: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("remove scratch file")
		}
	}()

	tokens, err := p.channelPhase(ctx, provider.ID, path, log)
	if err != nil {
		return importCounts{}, err
	}
	return p.programPhase(ctx, provider.ID, path, tokens, log)
}

// channelPhase resolves every declared channel and returns token -> channel id.
func (p *Pipeline) channelPhase(ctx context.Context, providerID int64, path string, log zerolog.Logger) (map[string]int64, error) {
	tokens := make(map[string]int64)
	failed := 0
	for rec, err := range p.decoder.Channels(path) {
		if err != nil {
			if fetcher.IsRecordError(err) {
				log.Warn().Err(err).Msg("skipping channel record")
				failed++
				continue
			}
			return nil, fmt.Errorf("decode channels: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("import cancelled: %w", err)
		}
		ch, err := p.identity.ResolveOrCreateChannel(ctx, rec.Token, rec.DisplayName, rec.IconURL)
		if err != nil {
			log.Error().Err(err).Str("token", rec.Token).Msg("skipping channel")
			failed++
			continue
		}
		channelID, err := p.identity.EnsureMapping(ctx, providerID, rec.Token, ch.ID)
		if err != nil {
			log.Error().Err(err).Str("token", rec.Token).Msg("skipping channel mapping")
			failed++
			continue
		}
		tokens[rec.Token] = channelID
	}
	log.Info().Int("channels", len(tokens)).Int("failed", failed).Msg("channel phase done")
	return tokens, nil
}

type naturalKey struct {
	channelID  int64
	start, end int64
	title      string
}

func (p *Pipeline) programPhase(ctx context.Context, providerID int64, path string, tokens map[string]int64, log zerolog.Logger) (importCounts, error) {
	var counts importCounts
	importedAt := p.now().UTC()
	unmapped := make(map[string]struct{})
	batch := make([]models.Program, 0, p.batchSize)
	inBatch := make(map[naturalKey]struct{}, p.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writeBatch(ctx, batch, &counts, log); err != nil {
			return err
		}
		batch = batch[:0]
		clear(inBatch)
		return nil
	}

	for rec, err := range p.decoder.Programs(path) {
		if err != nil {
			if fetcher.IsRecordError(err) {
				log.Debug().Err(err).Msg("skipping programme record")
				counts.skipped++
				continue
			}
			return counts, fmt.Errorf("decode programmes: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return counts, fmt.Errorf("import cancelled: %w", err)
		}

		channelID, ok := tokens[rec.ChannelToken]
		if !ok {
			if _, miss := unmapped[rec.ChannelToken]; miss {
				counts.skipped++
				continue
			}
			id, found, err := p.identity.LookupMapping(ctx, providerID, rec.ChannelToken)
			if err != nil {
				return counts, fmt.Errorf("LookupMapping: %w", err)
			}
			if !found {
				unmapped[rec.ChannelToken] = struct{}{}
				counts.skipped++
				continue
			}
			tokens[rec.ChannelToken] = id
			channelID = id
		}

		prog := programFromRecord(rec, channelID, providerID, importedAt)
		key := naturalKey{channelID, prog.StartTime.Unix(), prog.EndTime.Unix(), prog.Title}
		if _, dup := inBatch[key]; dup {
			// A key may be written once per statement batch; the repeat merges in the next one.
			if err := flush(); err != nil {
				return counts, err
			}
		}
		batch = append(batch, prog)
		inBatch[key] = struct{}{}
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return counts, err
			}
		}
	}
	if err := flush(); err != nil {
		return counts, err
	}
	if len(unmapped) > 0 {
		log.Info().Int("tokens", len(unmapped)).Msg("programmes skipped for unmapped channels")
	}
	return counts, nil
}

// writeBatch upserts batch and retries the rows the batch reported as failed
// one at a time. A row that still fails on its data is skipped.
func (p *Pipeline) writeBatch(ctx context.Context, batch []models.Program, counts *importCounts, log zerolog.Logger) error {
	res, err := p.store.UpsertPrograms(ctx, batch)
	if err != nil {
		return fmt.Errorf("UpsertPrograms: %w", err)
	}
	counts.imported += res.Inserted + res.Updated
	if len(res.Failed) == 0 {
		return nil
	}
	log.Warn().Int("rows", len(res.Failed)).Msg("batch upsert failed, retrying rows individually")
	for _, f := range res.Failed {
		prog := &batch[f.Index]
		if err := p.store.UpsertProgram(ctx, prog); err != nil {
			if !store.IsDataError(err) {
				return fmt.Errorf("UpsertProgram: %w", err)
			}
			log.Warn().Err(err).Int64("channel_id", prog.ChannelID).Str("title", prog.Title).
				Time("start", prog.StartTime).Msg("skipping programme")
			counts.skipped++
			continue
		}
		counts.imported++
	}
	return nil
}

func programFromRecord(rec fetcher.ProgramRecord, channelID, providerID int64, importedAt time.Time) models.Program {
	return models.Program{
		ChannelID:      channelID,
		ProviderID:     providerID,
		StartTime:      rec.Start.UTC(),
		EndTime:        rec.End.UTC(),
		Title:          rec.Title,
		Subtitle:       rec.Subtitle,
		Description:    rec.Description,
		Category:       rec.Category,
		EpisodeNum:     rec.EpisodeNum,
		Rating:         rec.Rating,
		Actors:         rec.Actors,
		Directors:      rec.Directors,
		Presenters:     rec.Presenters,
		Writers:        rec.Writers,
		Producers:      rec.Producers,
		IconURL:        rec.IconURL,
		ProductionYear: rec.ProductionYear,
		Country:        rec.Country,
		CreatedAt:      importedAt,
	}
}
