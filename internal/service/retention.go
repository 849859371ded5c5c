package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/metrics"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/store"
)

const (
	// ImportLogKeep is how many import log rows survive a cleanup.
	ImportLogKeep = 100
	// DefaultTimeTolerance is the start-time window of the fuzzy pass.
	DefaultTimeTolerance = 5 * time.Minute
	// DefaultTitleThreshold is the minimum title similarity of the fuzzy pass.
	DefaultTitleThreshold = 0.9
	// PreviewThreshold is the looser similarity used when previewing.
	PreviewThreshold = 0.7
	// PreviewLimit caps the pairs returned by a preview.
	PreviewLimit = 50
)

// RetentionStore is the persistence the maintenance passes need.
type RetentionStore interface {
	store.MaintenanceStore
	GetChannelByID(ctx context.Context, channelID int64) (*models.Channel, error)
}

// Engine runs retention and duplicate repair over the programme table.
type Engine struct {
	store RetentionStore
	now   func() time.Time
	log   zerolog.Logger
}

// NewEngine creates an Engine. clock may be nil.
func NewEngine(s RetentionStore, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{store: s, now: clock, log: logging.Component("retention")}
}

// CleanupResult reports a retention pass.
type CleanupResult struct {
	ProgramsDeleted   int64     `json:"programs_deleted"`
	ImportLogsDeleted int64     `json:"import_logs_deleted"`
	WindowStart       time.Time `json:"window_start"`
	WindowEnd         time.Time `json:"window_end"`
}

// CleanupOldPrograms deletes programmes starting outside
// [now-retentionDays, now+retentionDays] and trims the import log.
func (e *Engine) CleanupOldPrograms(ctx context.Context, retentionDays int) (CleanupResult, error) {
	if retentionDays < 0 {
		return CleanupResult{}, maintenanceErr("cleanup", fmt.Errorf("retention days %d: %w", retentionDays, ErrInvalidInput))
	}
	now := e.now().UTC()
	span := time.Duration(retentionDays) * 24 * time.Hour
	res := CleanupResult{WindowStart: now.Add(-span), WindowEnd: now.Add(span)}

	n, err := e.store.DeleteProgramsOutside(ctx, res.WindowStart, res.WindowEnd)
	if err != nil {
		return res, maintenanceErr("cleanup programmes", err)
	}
	res.ProgramsDeleted = n
	metrics.MaintenanceDeleted.WithLabelValues("retention").Add(float64(n))

	logs, err := e.store.TrimImportLogs(ctx, ImportLogKeep)
	if err != nil {
		return res, maintenanceErr("trim import log", err)
	}
	res.ImportLogsDeleted = logs

	e.log.Info().Int("retention_days", retentionDays).Int64("programs_deleted", n).
		Int64("import_logs_deleted", logs).Msg("cleanup finished")
	return res, nil
}

// DedupStats reports a duplicate repair run.
type DedupStats struct {
	CandidatePairs int   `json:"candidate_pairs"`
	Clusters       int   `json:"clusters"`
	FuzzyRemoved   int64 `json:"fuzzy_removed"`
	ExactGroups    int64 `json:"exact_groups"`
	ExactRemoved   int64 `json:"exact_removed"`
	TotalRemoved   int64 `json:"total_removed"`
}

// DeduplicatePrograms removes fuzzy duplicates and then exact natural-key
// duplicates. Both passes keep the row with the newest created_at, then the
// lowest id.
func (e *Engine) DeduplicatePrograms(ctx context.Context, tolerance time.Duration, threshold float64) (DedupStats, error) {
	var stats DedupStats
	if tolerance <= 0 {
		tolerance = DefaultTimeTolerance
	}

	cands, err := e.store.ListDedupCandidates(ctx, tolerance)
	if err != nil {
		return stats, maintenanceErr("list candidates", err)
	}
	sortCandidates(cands)
	pairs := candidatePairs(cands, tolerance, threshold, 0)
	stats.CandidatePairs = len(pairs)

	clusters := clusterPairs(cands, pairs)
	stats.Clusters = len(clusters)
	var doomed []int64
	for _, members := range clusters {
		keep := newest(members)
		for _, m := range members {
			if m.ID != keep.ID {
				doomed = append(doomed, m.ID)
			}
		}
	}
	sort.Slice(doomed, func(a, b int) bool { return doomed[a] < doomed[b] })

	if len(doomed) > 0 {
		n, err := e.store.DeletePrograms(ctx, doomed)
		if err != nil {
			return stats, maintenanceErr("delete fuzzy duplicates", err)
		}
		stats.FuzzyRemoved = n
		metrics.MaintenanceDeleted.WithLabelValues("fuzzy").Add(float64(n))
	}

	groups, removed, err := e.store.DeleteExactDuplicates(ctx)
	if err != nil {
		return stats, maintenanceErr("delete exact duplicates", err)
	}
	stats.ExactGroups, stats.ExactRemoved = groups, removed
	stats.TotalRemoved = stats.FuzzyRemoved + removed
	metrics.MaintenanceDeleted.WithLabelValues("exact").Add(float64(removed))

	e.log.Info().Int("pairs", stats.CandidatePairs).Int("clusters", stats.Clusters).
		Int64("fuzzy_removed", stats.FuzzyRemoved).Int64("exact_removed", removed).Msg("dedup finished")
	return stats, nil
}

// PreviewProgram is one side of a previewed pair.
type PreviewProgram struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	CreatedAt time.Time `json:"created_at"`
}

// PreviewChannel names the channel of a previewed pair.
type PreviewChannel struct {
	ID          int64   `json:"id"`
	Name        *string `json:"name"`
	DisplayName *string `json:"display_name"`
}

// DuplicatePair is a candidate pair and the row the fuzzy pass would remove.
type DuplicatePair struct {
	Programs              [2]PreviewProgram `json:"programs"`
	Channel               PreviewChannel    `json:"channel"`
	TimeDifferenceSeconds int64             `json:"time_difference_seconds"`
	TitleSimilarity       float64           `json:"title_similarity"`
	RemovedID             int64             `json:"would_remove_id"`
}

// DuplicatePreview is the dry-run report of the fuzzy pass.
type DuplicatePreview struct {
	TimeToleranceMinutes  int             `json:"time_tolerance_minutes"`
	Examples              []DuplicatePair `json:"examples"`
	EstimatedRemovalCount int             `json:"estimated_removal_count"`
	TotalExamplesFound    int             `json:"total_examples_found"`
}

// PreviewDuplicates lists up to limit pairs scoring at least PreviewThreshold
// without deleting anything.
func (e *Engine) PreviewDuplicates(ctx context.Context, tolerance time.Duration, limit int) (DuplicatePreview, error) {
	if tolerance <= 0 {
		tolerance = DefaultTimeTolerance
	}
	if limit <= 0 {
		limit = PreviewLimit
	}
	out := DuplicatePreview{TimeToleranceMinutes: int(tolerance / time.Minute), Examples: []DuplicatePair{}}

	cands, err := e.store.ListDedupCandidates(ctx, tolerance)
	if err != nil {
		return out, maintenanceErr("list candidates", err)
	}
	sortCandidates(cands)
	pairs := candidatePairs(cands, tolerance, PreviewThreshold, limit)

	channels := make(map[int64]PreviewChannel)
	for _, pr := range pairs {
		a, b := cands[pr.a], cands[pr.b]
		ch, ok := channels[a.ChannelID]
		if !ok {
			ch = PreviewChannel{ID: a.ChannelID}
			if c, err := e.store.GetChannelByID(ctx, a.ChannelID); err == nil {
				ch.Name, ch.DisplayName = &c.Name, &c.DisplayName
			}
			channels[a.ChannelID] = ch
		}
		keep := newest([]models.DedupCandidate{a, b})
		removed := a.ID
		if keep.ID == a.ID {
			removed = b.ID
		}
		out.Examples = append(out.Examples, DuplicatePair{
			Programs: [2]PreviewProgram{
				{ID: a.ID, Title: a.Title, StartTime: a.StartTime, CreatedAt: a.CreatedAt},
				{ID: b.ID, Title: b.Title, StartTime: b.StartTime, CreatedAt: b.CreatedAt},
			},
			Channel:               ch,
			TimeDifferenceSeconds: int64(absDuration(b.StartTime.Sub(a.StartTime)) / time.Second),
			TitleSimilarity:       pr.score,
			RemovedID:             removed,
		})
	}
	out.TotalExamplesFound = len(out.Examples)
	out.EstimatedRemovalCount = len(lo.Uniq(lo.Map(out.Examples, func(p DuplicatePair, _ int) int64 { return p.RemovedID })))
	return out, nil
}

// TitleSimilarity scores two titles: 1.0 when one contains the other exactly
// (case-sensitive), 0.9 when one normalized title is a prefix of the other,
// else 0.
func TitleSimilarity(a, b string) float64 {
	ta, tb := strings.TrimSpace(a), strings.TrimSpace(b)
	if ta == "" || tb == "" {
		return 0
	}
	if strings.Contains(ta, tb) || strings.Contains(tb, ta) {
		return 1.0
	}
	na, nb := normalizeTitle(ta), normalizeTitle(tb)
	if na != "" && nb != "" && (strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na)) {
		return 0.9
	}
	return 0
}

// normalizeTitle keeps letters and digits only.
func normalizeTitle(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sortCandidates(cands []models.DedupCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.ChannelID != b.ChannelID {
			return a.ChannelID < b.ChannelID
		}
		if a.ProviderID != b.ProviderID {
			return a.ProviderID < b.ProviderID
		}
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.ID < b.ID
	})
}

type scoredPair struct {
	a, b  int // indexes into the candidate slice
	score float64
}

// candidatePairs finds pairs on the same (channel, provider) starting less
// than tolerance apart whose titles score at least threshold. cands must be
// ordered by channel, provider, start. limit 0 means unbounded.
func candidatePairs(cands []models.DedupCandidate, tolerance time.Duration, threshold float64, limit int) []scoredPair {
	var pairs []scoredPair
	for i := range cands {
		for j := i + 1; j < len(cands); j++ {
			if cands[j].ChannelID != cands[i].ChannelID || cands[j].ProviderID != cands[i].ProviderID {
				break
			}
			if cands[j].StartTime.Sub(cands[i].StartTime) >= tolerance {
				break
			}
			if s := TitleSimilarity(cands[i].Title, cands[j].Title); s >= threshold {
				pairs = append(pairs, scoredPair{a: i, b: j, score: s})
				if limit > 0 && len(pairs) >= limit {
					return pairs
				}
			}
		}
	}
	return pairs
}

// clusterPairs unions paired candidates and returns clusters of two or more.
func clusterPairs(cands []models.DedupCandidate, pairs []scoredPair) [][]models.DedupCandidate {
	uf := newUnionFind(len(cands))
	for _, p := range pairs {
		uf.union(p.a, p.b)
	}
	byRoot := make(map[int][]models.DedupCandidate)
	var roots []int
	for _, p := range pairs {
		for _, i := range [2]int{p.a, p.b} {
			r := uf.find(i)
			if _, ok := byRoot[r]; !ok {
				roots = append(roots, r)
			}
			byRoot[r] = append(byRoot[r], cands[i])
		}
	}
	out := make([][]models.DedupCandidate, 0, len(roots))
	for _, r := range roots {
		members := lo.UniqBy(byRoot[r], func(c models.DedupCandidate) int64 { return c.ID })
		if len(members) > 1 {
			out = append(out, members)
		}
	}
	return out
}

// newest returns the member with the latest CreatedAt, then the lowest ID.
func newest(members []models.DedupCandidate) models.DedupCandidate {
	best := members[0]
	for _, m := range members[1:] {
		if m.CreatedAt.After(best.CreatedAt) || (m.CreatedAt.Equal(best.CreatedAt) && m.ID < best.ID) {
			best = m
		}
	}
	return best
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
