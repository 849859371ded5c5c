//go:build integration

package store

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/migrations"
)

type PostgresSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcpostgres.PostgresContainer
	pg        *Postgres

	provider *models.Provider
	channel  *models.Channel
}

func TestPostgresSuite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("docker not available")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()
	c, err := tcpostgres.Run(s.ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("guidevault"),
		tcpostgres.WithUsername("guide"),
		tcpostgres.WithPassword("guide"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = c

	dsn, err := c.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.Require().NoError(RunMigrations(dsn, migrations.FS))
	s.Require().NoError(VerifySchema(dsn, 1))

	s.pg, err = NewPostgres(s.ctx, dsn)
	s.Require().NoError(err)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.pg != nil {
		s.pg.Close()
	}
	if s.container != nil {
		if err := s.container.Terminate(s.ctx); err != nil {
			s.T().Logf("terminate container: %v", err)
		}
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.pg.pool.Exec(s.ctx,
		`TRUNCATE providers, channels, channel_aliases, channel_mappings, programs, import_log RESTART IDENTITY CASCADE`)
	s.Require().NoError(err)

	s.provider, err = s.pg.CreateProvider(s.ctx, "alpha", "https://epg.example/alpha.xml")
	s.Require().NoError(err)
	s.channel, err = s.pg.CreateChannel(s.ctx, "bbc1", "BBC One", nil)
	s.Require().NoError(err)
}

func (s *PostgresSuite) program(start time.Time, title string) models.Program {
	return models.Program{
		ChannelID:  s.channel.ID,
		ProviderID: s.provider.ID,
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Title:      title,
		CreatedAt:  time.Now().UTC(),
	}
}

func ptr(s string) *string { return &s }

func (s *PostgresSuite) TestChannelAndAliasConflicts() {
	_, err := s.pg.CreateChannel(s.ctx, "bbc1", "Other", nil)
	var conflict *ConflictError
	s.Require().ErrorAs(err, &conflict)
	s.Equal("channels_name_key", conflict.Constraint)

	_, err = s.pg.CreateAlias(s.ctx, s.channel.ID, "bbc.one", ptr("epg_id"))
	s.Require().NoError(err)
	_, err = s.pg.CreateAlias(s.ctx, s.channel.ID, "bbc.one", nil)
	s.ErrorIs(err, ErrConflict)

	ch, err := s.pg.GetChannelByAlias(s.ctx, "bbc.one")
	s.Require().NoError(err)
	s.Equal(s.channel.ID, ch.ID)

	_, err = s.pg.GetChannelByName(s.ctx, "nope")
	s.ErrorIs(err, ErrNotFound)
}

func (s *PostgresSuite) TestMappings() {
	_, ok, err := s.pg.LookupMapping(s.ctx, s.provider.ID, "bbc1.uk")
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.pg.CreateMapping(s.ctx, s.provider.ID, "bbc1.uk", s.channel.ID)
	s.Require().NoError(err)
	_, err = s.pg.CreateMapping(s.ctx, s.provider.ID, "bbc1.uk", s.channel.ID)
	s.ErrorIs(err, ErrConflict)

	id, ok, err := s.pg.LookupMapping(s.ctx, s.provider.ID, "bbc1.uk")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(s.channel.ID, id)

	list, err := s.pg.ListMappings(s.ctx, &s.provider.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("alpha", *list[0].ProviderName)
}

func (s *PostgresSuite) TestUpsertMergesOnNaturalKey() {
	start := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)
	first := s.program(start, "News")
	first.Description = ptr("Evening headlines")
	first.Actors = []string{"Anchor"}

	res, err := s.pg.UpsertPrograms(s.ctx, []models.Program{first})
	s.Require().NoError(err)
	s.Equal(1, res.Inserted)

	second := s.program(start, "News")
	second.Category = ptr("News")
	res, err = s.pg.UpsertPrograms(s.ctx, []models.Program{second})
	s.Require().NoError(err)
	s.Equal(1, res.Updated)

	got, err := s.pg.ListPrograms(s.ctx, s.channel.ID, start.Add(-time.Hour), start.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("Evening headlines", *got[0].Description)
	s.Equal("News", *got[0].Category)
	s.Equal([]string{"Anchor"}, got[0].Actors)
}

func (s *PostgresSuite) TestUpsertBatchReportsFailingRow() {
	start := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)
	batch := []models.Program{
		s.program(start, "Fine"),
		s.program(start.Add(time.Hour), "Bad\x00Title"),
		s.program(start.Add(2*time.Hour), "Also fine"),
	}
	res, err := s.pg.UpsertPrograms(s.ctx, batch)
	s.Require().NoError(err)
	s.Require().Len(res.Failed, 3)
	s.ErrorIs(res.Failed[0].Err, ErrBatchAborted)
	s.True(IsDataError(res.Failed[1].Err))
	var pgErr *pgconn.PgError
	s.ErrorAs(res.Failed[1].Err, &pgErr)

	got, err := s.pg.ListPrograms(s.ctx, s.channel.ID, start, start.Add(3*time.Hour))
	s.Require().NoError(err)
	s.Empty(got, "batch rolled back")

	s.NoError(s.pg.UpsertProgram(s.ctx, &batch[0]))
	s.Error(s.pg.UpsertProgram(s.ctx, &batch[1]))
}

func (s *PostgresSuite) TestRetention() {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	var batch []models.Program
	for _, d := range []int{-10, -7, 0, 7, 10} {
		batch = append(batch, s.program(now.AddDate(0, 0, d), "Day"))
	}
	_, err := s.pg.UpsertPrograms(s.ctx, batch)
	s.Require().NoError(err)

	n, err := s.pg.DeleteProgramsOutside(s.ctx, now.AddDate(0, 0, -7), now.AddDate(0, 0, 7))
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	for range 5 {
		id, err := s.pg.CreateImportLog(s.ctx, s.provider.ID)
		s.Require().NoError(err)
		s.Require().NoError(s.pg.FinishImportLog(s.ctx, id, ImportOutcome{Status: models.ImportSuccess}))
	}
	n, err = s.pg.TrimImportLogs(s.ctx, 3)
	s.Require().NoError(err)
	s.Equal(int64(2), n)
	logs, err := s.pg.ListImportLogs(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(logs, 3)
}

func (s *PostgresSuite) TestDedupCandidatesAndDelete() {
	start := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)
	_, err := s.pg.UpsertPrograms(s.ctx, []models.Program{
		s.program(start, "News"),
		s.program(start.Add(3*time.Minute), "News Update"),
		s.program(start.Add(2*time.Hour), "Film"),
	})
	s.Require().NoError(err)

	cands, err := s.pg.ListDedupCandidates(s.ctx, 5*time.Minute)
	s.Require().NoError(err)
	s.Require().Len(cands, 2)
	s.True(strings.HasPrefix(cands[1].Title, cands[0].Title))

	n, err := s.pg.DeletePrograms(s.ctx, []int64{cands[0].ID})
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	groups, removed, err := s.pg.DeleteExactDuplicates(s.ctx)
	s.Require().NoError(err)
	s.Zero(groups)
	s.Zero(removed)
}

func (s *PostgresSuite) TestDeleteProviderCascades() {
	_, err := s.pg.CreateMapping(s.ctx, s.provider.ID, "bbc1.uk", s.channel.ID)
	s.Require().NoError(err)
	_, err = s.pg.UpsertPrograms(s.ctx, []models.Program{s.program(time.Now().UTC(), "News")})
	s.Require().NoError(err)

	s.Require().NoError(s.pg.DeleteProvider(s.ctx, s.provider.ID))
	_, err = s.pg.GetProvider(s.ctx, s.provider.ID)
	s.ErrorIs(err, ErrNotFound)

	st, err := s.pg.Statistics(s.ctx)
	s.Require().NoError(err)
	s.Zero(st.TotalPrograms)
	s.Equal(int64(1), st.TotalChannels)
}
