package job

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type StartParams struct {
	SettingsID    string
	DisplayName   string
	Family        string
	CorrelationID string
	Metadata      Metadata
}

// Completion is what a successful attempt leaves behind.
type Completion struct {
	FilePath   string
	FileSize   int64
	StorageURL string
	Duration   time.Duration
	Metadata   Metadata
}

// Tracker is the only writer of job status.
type Tracker struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.With().Str("component", "tracker").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start records a new attempt as running. Earlier attempts of the same
// correlation id still marked running belong to a consumer that died; they
// are failed first so at most one attempt per correlation id is running.
func (t *Tracker) Start(ctx context.Context, p StartParams) (*Record, error) {
	if p.CorrelationID != "" {
		t.abandon(ctx, p.CorrelationID)
	}

	rec := &Record{
		ID:            uuid.NewString(),
		SettingsID:    p.SettingsID,
		DisplayName:   p.DisplayName,
		Family:        p.Family,
		CorrelationID: p.CorrelationID,
		Status:        StatusRunning,
		StartedAt:     t.now(),
		Metadata:      p.Metadata,
	}

	if err := t.store.Insert(ctx, rec); err != nil {
		return nil, err
	}

	t.logger.Info().
		Str("job_id", rec.ID).
		Str("correlation_id", rec.CorrelationID).
		Str("settings_id", rec.SettingsID).
		Msg("backup started")

	return rec, nil
}

func (t *Tracker) abandon(ctx context.Context, correlationID string) {
	stale, err := t.store.Running(ctx, correlationID)
	if err != nil {
		t.logger.Warn().Err(err).Str("correlation_id", correlationID).Msg("failed to look up interrupted attempts")
		return
	}
	for _, rec := range stale {
		duration := t.now().Sub(rec.StartedAt)
		if _, err := t.Fail(ctx, rec.ID, duration, "interrupted before completion"); err != nil {
			t.logger.Warn().Err(err).Str("job_id", rec.ID).Msg("failed to close interrupted attempt")
		}
	}
}

func (t *Tracker) finish(ctx context.Context, id string, apply func(rec *Record)) (*Record, error) {
	rec, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("job %s is already %s: %w", id, rec.Status, errors.ErrInvalidTransition)
	}

	completedAt := t.now()
	rec.CompletedAt = &completedAt
	apply(rec)

	if err := t.store.Finish(ctx, rec); err != nil {
		if errors.Is(err, errors.ErrInvalidTransition) {
			return nil, fmt.Errorf("job %s finished concurrently: %w", id, err)
		}
		return nil, err
	}
	return rec, nil
}

// Complete moves a running record to completed.
func (t *Tracker) Complete(ctx context.Context, id string, c Completion) (*Record, error) {
	rec, err := t.finish(ctx, id, func(rec *Record) {
		rec.Status = StatusCompleted
		rec.FilePath = c.FilePath
		rec.FileSize = max(c.FileSize, 0)
		rec.StorageURL = c.StorageURL
		rec.DurationMs = c.Duration.Milliseconds()
		rec.Metadata = c.Metadata
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info().
		Str("job_id", rec.ID).
		Str("file", rec.FilePath).
		Int64("size", rec.FileSize).
		Int64("duration_ms", rec.DurationMs).
		Msg("backup completed")

	return rec, nil
}

// Fail moves a running record to failed. Only the duration and message are
// stored.
func (t *Tracker) Fail(ctx context.Context, id string, duration time.Duration, message string) (*Record, error) {
	if message == "" {
		message = "unknown error"
	}

	rec, err := t.finish(ctx, id, func(rec *Record) {
		rec.Status = StatusFailed
		rec.DurationMs = duration.Milliseconds()
		rec.ErrorMessage = message
	})
	if err != nil {
		return nil, err
	}

	t.logger.Error().
		Str("job_id", rec.ID).
		Str("error", message).
		Int64("duration_ms", rec.DurationMs).
		Msg("backup failed")

	return rec, nil
}

func (t *Tracker) Get(ctx context.Context, id string) (*Record, error) {
	return t.store.Get(ctx, id)
}

func (t *Tracker) Latest(ctx context.Context, settingsID string) (*Record, error) {
	return t.store.Latest(ctx, settingsID)
}

// List returns page (1-based) of records, newest first. Out of range values
// are clamped.
func (t *Tracker) List(ctx context.Context, page, limit int64) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	items, total, err := t.store.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	return t.store.Stats(ctx)
}

// Delete removes a terminal record. Running records cannot be deleted.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	rec, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return t.store.Delete(ctx, rec.ID)
}
