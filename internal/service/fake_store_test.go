package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/store"
)

// memStore is an in-memory store.Store with the same uniqueness and merge
// rules as the Postgres schema.
type memStore struct {
	mu sync.Mutex

	nextID    int64
	providers map[int64]*models.Provider
	channels  map[int64]*models.Channel
	aliases   map[int64]*models.ChannelAlias
	mappings  map[int64]*models.ChannelMapping
	programs  map[int64]*models.Program
	logs      map[int64]*models.ImportLog

	// badTitle makes any programme with this title fail as a data error.
	badTitle string
	// upsertErr fails UpsertPrograms outright.
	upsertErr error
	// maintErr fails the named maintenance method.
	maintErr map[string]error

	batchCalls int
	rowCalls   int
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		providers: map[int64]*models.Provider{},
		channels:  map[int64]*models.Channel{},
		aliases:   map[int64]*models.ChannelAlias{},
		mappings:  map[int64]*models.ChannelMapping{},
		programs:  map[int64]*models.Program{},
		logs:      map[int64]*models.ImportLog{},
		maintErr:  map[string]error{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func conflict(constraint string) error {
	return &store.ConflictError{Constraint: constraint, Msg: "duplicate"}
}

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, store.ErrNotFound)
}

// --- providers ---

func (m *memStore) CreateProvider(_ context.Context, name, xmltvURL string) (*models.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.Name == name {
			return nil, conflict("providers_name_key")
		}
	}
	now := time.Now()
	p := &models.Provider{ID: m.id(), Name: name, XMLTVURL: xmltvURL, Enabled: true, CreatedAt: &now, UpdatedAt: &now}
	m.providers[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *memStore) GetProvider(_ context.Context, id int64) (*models.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, notFound("GetProvider")
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListProviders(_ context.Context, enabledOnly bool) ([]models.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Provider
	for _, p := range m.providers {
		if enabledOnly && !p.Enabled {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) UpdateProvider(_ context.Context, id int64, f store.ProviderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return notFound("UpdateProvider")
	}
	if f.Name != nil {
		p.Name = *f.Name
	}
	if f.XMLTVURL != nil {
		p.XMLTVURL = *f.XMLTVURL
	}
	if f.Enabled != nil {
		p.Enabled = *f.Enabled
	}
	return nil
}

func (m *memStore) DeleteProvider(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[id]; !ok {
		return notFound("DeleteProvider")
	}
	delete(m.providers, id)
	for k, v := range m.mappings {
		if v.ProviderID == id {
			delete(m.mappings, k)
		}
	}
	for k, v := range m.programs {
		if v.ProviderID == id {
			delete(m.programs, k)
		}
	}
	return nil
}

// --- identity ---

func (m *memStore) GetChannelByID(_ context.Context, id int64) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, notFound("GetChannelByID")
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetChannelByName(_ context.Context, name string) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		if c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, notFound("GetChannelByName")
}

func (m *memStore) GetChannelByAlias(_ context.Context, alias string) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.aliases {
		if a.Alias == alias {
			cp := *m.channels[a.ChannelID]
			return &cp, nil
		}
	}
	return nil, notFound("GetChannelByAlias")
}

func (m *memStore) CreateChannel(_ context.Context, name, displayName string, iconURL *string) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		if c.Name == name {
			return nil, conflict("channels_name_key")
		}
	}
	c := &models.Channel{ID: m.id(), Name: name, DisplayName: displayName, IconURL: iconURL}
	m.channels[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) ListChannels(_ context.Context) ([]models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Channel
	for _, c := range m.channels {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (m *memStore) CreateAlias(_ context.Context, channelID int64, alias string, aliasType *string) (*models.ChannelAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.aliases {
		if a.Alias == alias {
			return nil, conflict("channel_aliases_alias_key")
		}
	}
	a := &models.ChannelAlias{ID: m.id(), ChannelID: channelID, Alias: alias, AliasType: aliasType}
	m.aliases[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *memStore) DeleteAlias(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.aliases[id]; !ok {
		return false, nil
	}
	delete(m.aliases, id)
	return true, nil
}

func (m *memStore) ListChannelAliases(_ context.Context, channelID int64) ([]models.ChannelAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChannelAlias
	for _, a := range m.aliases {
		if a.ChannelID == channelID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListAliases(_ context.Context, f store.AliasFilter) ([]models.AliasWithChannelInfo, int, error) {
	f.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.AliasWithChannelInfo
	for _, a := range m.aliases {
		if f.AliasType != nil && (a.AliasType == nil || *a.AliasType != *f.AliasType) {
			continue
		}
		if f.ChannelID != nil && a.ChannelID != *f.ChannelID {
			continue
		}
		c := m.channels[a.ChannelID]
		all = append(all, models.AliasWithChannelInfo{ChannelAlias: *a, ChannelName: c.Name, ChannelDisplayName: c.DisplayName})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Alias < all[j].Alias })
	from := (f.Page - 1) * f.PerPage
	if from > len(all) {
		from = len(all)
	}
	to := min(from+f.PerPage, len(all))
	return all[from:to], len(all), nil
}

func (m *memStore) AliasStatistics(context.Context) (*models.AliasStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &models.AliasStatistics{TypeDistribution: map[string]int64{}}
	with := map[int64]bool{}
	for _, a := range m.aliases {
		st.TotalAliases++
		with[a.ChannelID] = true
		t := ""
		if a.AliasType != nil {
			t = *a.AliasType
		}
		st.TypeDistribution[t]++
	}
	st.ChannelsWithAliases = int64(len(with))
	st.TotalChannels = int64(len(m.channels))
	st.ChannelsWithoutAliases = st.TotalChannels - st.ChannelsWithAliases
	return st, nil
}

func (m *memStore) CreateMapping(_ context.Context, providerID int64, token string, channelID int64) (*models.ChannelMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.mappings {
		if mp.ProviderID == providerID && mp.ProviderChannelID == token {
			return nil, conflict("channel_mappings_provider_token_key")
		}
	}
	mp := &models.ChannelMapping{ID: m.id(), ProviderID: providerID, ProviderChannelID: token, ChannelID: channelID}
	m.mappings[mp.ID] = mp
	cp := *mp
	return &cp, nil
}

func (m *memStore) LookupMapping(_ context.Context, providerID int64, token string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.mappings {
		if mp.ProviderID == providerID && mp.ProviderChannelID == token {
			return mp.ChannelID, true, nil
		}
	}
	return 0, false, nil
}

func (m *memStore) ListMappings(_ context.Context, providerID *int64) ([]models.ChannelMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChannelMapping
	for _, mp := range m.mappings {
		if providerID == nil || mp.ProviderID == *providerID {
			out = append(out, *mp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) mappingCount(providerID int64, token string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mp := range m.mappings {
		if mp.ProviderID == providerID && mp.ProviderChannelID == token {
			n++
		}
	}
	return n
}

// --- programmes ---

func mergeStr(incoming, existing *string) *string {
	if incoming != nil && *incoming != "" {
		return incoming
	}
	return existing
}

func mergeList(incoming, existing []string) []string {
	if len(incoming) > 0 {
		return incoming
	}
	return existing
}

// upsertLocked applies one row; m.mu must be held.
func (m *memStore) upsertLocked(p models.Program) (inserted bool, err error) {
	if m.badTitle != "" && p.Title == m.badTitle {
		return false, &pgconn.PgError{Code: "22021", Message: "invalid byte sequence"}
	}
	for _, ex := range m.programs {
		if ex.ChannelID == p.ChannelID && ex.StartTime.Equal(p.StartTime) && ex.EndTime.Equal(p.EndTime) && ex.Title == p.Title {
			ex.ProviderID = p.ProviderID
			ex.Subtitle = mergeStr(p.Subtitle, ex.Subtitle)
			ex.Description = mergeStr(p.Description, ex.Description)
			ex.Category = mergeStr(p.Category, ex.Category)
			ex.EpisodeNum = mergeStr(p.EpisodeNum, ex.EpisodeNum)
			ex.Rating = mergeStr(p.Rating, ex.Rating)
			ex.IconURL = mergeStr(p.IconURL, ex.IconURL)
			ex.ProductionYear = mergeStr(p.ProductionYear, ex.ProductionYear)
			ex.Country = mergeStr(p.Country, ex.Country)
			ex.Actors = mergeList(p.Actors, ex.Actors)
			ex.Directors = mergeList(p.Directors, ex.Directors)
			ex.Presenters = mergeList(p.Presenters, ex.Presenters)
			ex.Writers = mergeList(p.Writers, ex.Writers)
			ex.Producers = mergeList(p.Producers, ex.Producers)
			ex.CreatedAt = p.CreatedAt
			return false, nil
		}
	}
	p.ID = m.id()
	m.programs[p.ID] = &p
	return true, nil
}

func (m *memStore) UpsertPrograms(_ context.Context, programs []models.Program) (store.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.upsertErr != nil {
		return store.UpsertResult{}, m.upsertErr
	}
	for i, p := range programs {
		if m.badTitle != "" && p.Title == m.badTitle {
			failed := make([]store.RowFailure, len(programs))
			for j := range programs {
				failed[j] = store.RowFailure{Index: j, Err: store.ErrBatchAborted}
			}
			failed[i].Err = &pgconn.PgError{Code: "22021"}
			return store.UpsertResult{Failed: failed}, nil
		}
	}
	var res store.UpsertResult
	for _, p := range programs {
		ins, _ := m.upsertLocked(p)
		if ins {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

func (m *memStore) UpsertProgram(_ context.Context, p *models.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rowCalls++
	_, err := m.upsertLocked(*p)
	return err
}

func (m *memStore) ListPrograms(_ context.Context, channelID int64, start, end time.Time) ([]models.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Program{}
	for _, p := range m.programs {
		if p.ChannelID == channelID && p.StartTime.Before(end) && p.EndTime.After(start) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) allPrograms() []models.Program {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Program
	for _, p := range m.programs {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) addProgram(p models.Program) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	m.programs[p.ID] = &p
	return p.ID
}

// --- import log ---

func (m *memStore) CreateImportLog(_ context.Context, providerID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &models.ImportLog{ID: m.id(), ProviderID: providerID, StartedAt: time.Now(), Status: models.ImportRunning}
	m.logs[l.ID] = l
	return l.ID, nil
}

func (m *memStore) FinishImportLog(_ context.Context, id int64, o store.ImportOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return notFound("FinishImportLog")
	}
	now := time.Now()
	l.CompletedAt = &now
	l.Status = o.Status
	l.ProgramsImported = o.ProgramsImported
	l.ProgramsSkipped = o.ProgramsSkipped
	if o.ErrorMessage != "" {
		msg := o.ErrorMessage
		l.ErrorMessage = &msg
	}
	return nil
}

func (m *memStore) GetImportLog(_ context.Context, id int64) (*models.ImportLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return nil, notFound("GetImportLog")
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) ListImportLogs(_ context.Context, limit int) ([]models.ImportLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ImportLog{}
	for _, l := range m.logs {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- maintenance ---

func (m *memStore) DeleteProgramsOutside(_ context.Context, from, to time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maintErr["DeleteProgramsOutside"]; err != nil {
		return 0, err
	}
	var n int64
	for id, p := range m.programs {
		if p.StartTime.Before(from) || p.StartTime.After(to) {
			delete(m.programs, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) TrimImportLogs(_ context.Context, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maintErr["TrimImportLogs"]; err != nil {
		return 0, err
	}
	ids := make([]int64, 0, len(m.logs))
	for id := range m.logs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	var n int64
	for _, id := range ids[min(keep, len(ids)):] {
		delete(m.logs, id)
		n++
	}
	return n, nil
}

func (m *memStore) ListDedupCandidates(_ context.Context, tolerance time.Duration) ([]models.DedupCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maintErr["ListDedupCandidates"]; err != nil {
		return nil, err
	}
	var out []models.DedupCandidate
	for _, a := range m.programs {
		for _, b := range m.programs {
			if a.ID == b.ID || a.ChannelID != b.ChannelID || a.ProviderID != b.ProviderID {
				continue
			}
			d := a.StartTime.Sub(b.StartTime)
			if d < 0 {
				d = -d
			}
			if d < tolerance {
				out = append(out, models.DedupCandidate{ID: a.ID, ChannelID: a.ChannelID, ProviderID: a.ProviderID,
					StartTime: a.StartTime, Title: a.Title, CreatedAt: a.CreatedAt})
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) DeletePrograms(_ context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maintErr["DeletePrograms"]; err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if _, ok := m.programs[id]; ok {
			delete(m.programs, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteExactDuplicates(context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maintErr["DeleteExactDuplicates"]; err != nil {
		return 0, 0, err
	}
	type key struct {
		ch         int64
		start, end time.Time
		title      string
	}
	groups := map[key][]*models.Program{}
	for _, p := range m.programs {
		k := key{p.ChannelID, p.StartTime.UTC(), p.EndTime.UTC(), p.Title}
		groups[k] = append(groups[k], p)
	}
	var g, removed int64
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		g++
		keep := members[0]
		for _, p := range members[1:] {
			if p.CreatedAt.After(keep.CreatedAt) || (p.CreatedAt.Equal(keep.CreatedAt) && p.ID < keep.ID) {
				keep = p
			}
		}
		for _, p := range members {
			if p.ID != keep.ID {
				delete(m.programs, p.ID)
				removed++
			}
		}
	}
	return g, removed, nil
}

func (m *memStore) Statistics(context.Context) (*models.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &models.Statistics{
		TotalChannels:  int64(len(m.channels)),
		TotalPrograms:  int64(len(m.programs)),
		TotalProviders: int64(len(m.providers)),
		TotalAliases:   int64(len(m.aliases)),
	}, nil
}

func storeUpdateEnabled(enabled bool) store.ProviderUpdate {
	return store.ProviderUpdate{Enabled: &enabled}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
