// Package schedule enqueues backups for settings records on their cron
// schedules.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/settings"
)

const DefaultRefreshInterval = 5 * time.Minute

type Enqueuer interface {
	Enqueue(ctx context.Context, settingsID string) (string, error)
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

type Scheduler struct {
	cron     *cron.Cron
	settings settings.Store
	enqueuer Enqueuer
	logger   zerolog.Logger
	refresh  time.Duration

	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	id   cron.EntryID
	spec string
}

func New(store settings.Store, enqueuer Enqueuer, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cronLogger{logger}), cron.WithChain(cron.Recover(cronLogger{logger}))),
		settings: store,
		enqueuer: enqueuer,
		logger:   logger,
		refresh:  DefaultRefreshInterval,
		entries:  make(map[string]entry),
	}
}

// Load syncs cron entries with the enabled settings records. Records whose
// schedule changed are rescheduled; removed or disabled ones are dropped.
// Invalid schedules are logged and skipped. It returns the number of
// scheduled records.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	all, err := s.settings.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]string)
	for _, rec := range all {
		if !rec.Enabled || rec.CronSchedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(rec.CronSchedule); err != nil {
			s.logger.Warn().
				Err(err).
				Str("settings_id", rec.ID).
				Str("schedule", rec.CronSchedule).
				Msg("skipping invalid cron schedule")
			continue
		}
		wanted[rec.ID] = rec.CronSchedule
	}

	for id, e := range s.entries {
		if spec, ok := wanted[id]; !ok || spec != e.spec {
			s.cron.Remove(e.id)
			delete(s.entries, id)
		}
	}

	for id, spec := range wanted {
		if _, ok := s.entries[id]; ok {
			continue
		}
		settingsID := id
		entryID, err := s.cron.AddFunc(spec, func() { s.trigger(context.Background(), settingsID) })
		if err != nil {
			s.logger.Warn().Err(err).Str("settings_id", id).Msg("failed to schedule backup")
			continue
		}
		s.entries[id] = entry{id: entryID, spec: spec}
		s.logger.Info().Str("settings_id", id).Str("schedule", spec).Msg("backup scheduled")
	}

	return len(s.entries), nil
}

func (s *Scheduler) trigger(ctx context.Context, settingsID string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	jobID, err := s.enqueuer.Enqueue(ctx, settingsID)
	if err != nil {
		s.logger.Error().Err(err).Str("settings_id", settingsID).Msg("scheduled backup not enqueued")
		return
	}
	s.logger.Info().Str("settings_id", settingsID).Str("correlation_id", jobID).Msg("scheduled backup enqueued")
}

// Next reports when settingsID fires next, if it is scheduled.
func (s *Scheduler) Next(settingsID string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[settingsID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(e.id).Next, true
}

// Run starts the cron loop and reloads settings every refresh interval until
// ctx is cancelled. Enqueues already in flight are waited for.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.Load(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial schedule load failed")
	}

	s.cron.Start()
	s.logger.Info().Msg("scheduler started")

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Load(ctx); err != nil {
				s.logger.Error().Err(err).Msg("schedule reload failed")
			}
		}
	}
}
