// Package scheduler runs the daily import cycle and on-demand cycles, one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/metrics"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/service"
)

// Importer imports every enabled provider.
type Importer interface {
	ImportAllEnabledProviders(ctx context.Context) ([]models.ImportLog, error)
}

// Maintainer runs the retention and dedup passes after an import cycle.
type Maintainer interface {
	CleanupOldPrograms(ctx context.Context, retentionDays int) (service.CleanupResult, error)
	DeduplicatePrograms(ctx context.Context, tolerance time.Duration, threshold float64) (service.DedupStats, error)
}

// Config controls when a cycle runs and what follows the import.
type Config struct {
	Hour, Minute   int
	Location       *time.Location
	RetentionDays  int
	Dedup          bool
	DedupTolerance time.Duration
	DedupThreshold float64
}

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("import time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("import time %q: bad hour", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("import time %q: bad minute", s)
	}
	return hour, minute, nil
}

// Trigger names the origin of a cycle.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// RunResult summarises one finished cycle.
type RunResult struct {
	Trigger    Trigger                `json:"trigger"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Imports    int                    `json:"imports"`
	Cleanup    *service.CleanupResult `json:"cleanup,omitempty"`
	Dedup      *service.DedupStats    `json:"dedup,omitempty"`
	Err        string                 `json:"error,omitempty"`
}

// Scheduler owns the single job slot. The daily timer and TriggerNow feed the
// same loop, so cycles never overlap and at most one manual run is pending.
type Scheduler struct {
	cfg        Config
	importer   Importer
	maintainer Maintainer
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time
	manual     chan struct{}
	log        zerolog.Logger

	mu      sync.RWMutex
	next    time.Time
	running bool
	last    *RunResult
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now and time.After.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if after != nil {
			s.after = after
		}
	}
}

// New creates a Scheduler. A nil Location means UTC.
func New(cfg Config, imp Importer, m Maintainer, opts ...Option) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Scheduler{
		cfg:        cfg,
		importer:   imp,
		maintainer: m,
		now:        time.Now,
		after:      time.After,
		manual:     make(chan struct{}, 1),
		log:        logging.Component("scheduler"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NextAfter returns the first daily run strictly after t.
func (s *Scheduler) NextAfter(t time.Time) time.Time {
	local := t.In(s.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	}
	return next
}

// NextRunTime reports the next daily run. Before Serve starts it is computed
// from the current time.
func (s *Scheduler) NextRunTime() time.Time {
	s.mu.RLock()
	next := s.next
	s.mu.RUnlock()
	if next.IsZero() {
		return s.NextAfter(s.now())
	}
	return next
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastRun returns the most recent finished cycle, if any.
func (s *Scheduler) LastRun() *RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// TriggerNow requests a manual cycle. It returns false when a manual cycle is
// already pending; that pending request stands in for this one.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.manual <- struct{}{}:
		s.log.Info().Msg("manual import cycle queued")
		return true
	default:
		s.log.Info().Msg("manual import cycle already pending")
		return false
	}
}

// Serve implements suture.Service. It returns when ctx is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	for {
		next := s.NextAfter(s.now())
		s.setNext(next)
		s.log.Info().Time("next_run", next).Msg("waiting for next import cycle")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(next.Sub(s.now())):
			s.RunOnce(ctx, TriggerScheduled)
		case <-s.manual:
			s.RunOnce(ctx, TriggerManual)
		}
	}
}

func (s *Scheduler) String() string { return "scheduler" }

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
	metrics.SchedulerNextRun.Set(float64(t.Unix()))
}

// RunOnce imports all enabled providers, then runs cleanup and, when
// configured, dedup. Cleanup runs even when the import step fails.
func (s *Scheduler) RunOnce(ctx context.Context, trigger Trigger) RunResult {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	ctx = logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())
	log := s.log.With().Str("trigger", string(trigger)).
		Str("correlation_id", logging.CorrelationIDFromContext(ctx)).Logger()
	res := RunResult{Trigger: trigger, StartedAt: s.now()}
	log.Info().Msg("import cycle started")

	var errs []error
	logs, err := s.importer.ImportAllEnabledProviders(ctx)
	res.Imports = len(logs)
	if err != nil {
		log.Error().Err(err).Msg("import step failed")
		errs = append(errs, err)
	}

	cleanup, err := s.maintainer.CleanupOldPrograms(ctx, s.cfg.RetentionDays)
	if err != nil {
		log.Error().Err(err).Msg("cleanup step failed")
		errs = append(errs, err)
	} else {
		res.Cleanup = &cleanup
	}

	if s.cfg.Dedup && err == nil {
		stats, err := s.maintainer.DeduplicatePrograms(ctx, s.cfg.DedupTolerance, s.cfg.DedupThreshold)
		if err != nil {
			log.Error().Err(err).Msg("dedup step failed")
			errs = append(errs, err)
		} else {
			res.Dedup = &stats
		}
	}

	res.FinishedAt = s.now()
	status := "success"
	if joined := errors.Join(errs...); joined != nil {
		res.Err = joined.Error()
		status = "failed"
	}
	metrics.SchedulerRuns.WithLabelValues(string(trigger), status).Inc()
	log.Info().Int("imports", res.Imports).Str("status", status).
		Dur("took", res.FinishedAt.Sub(res.StartedAt)).Msg("import cycle finished")

	s.mu.Lock()
	s.running = false
	s.last = &res
	s.mu.Unlock()
	return res
}
