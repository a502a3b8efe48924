// Package dispatch moves backup jobs from callers onto the queue and from the
// queue through execution.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/backup"
	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/metrics"
	"github.com/jorgepascosoto/vaultdb/internal/queue"
	"github.com/jorgepascosoto/vaultdb/internal/settings"
)

const executeBackup = "execute-backup"

// BackupJob is the payload of a backup-family queue message.
type BackupJob struct {
	SettingsID  string         `json:"settingsId"`
	DisplayName string         `json:"displayName"`
	Request     backup.Request `json:"request"`
}

type Dispatcher struct {
	settings settings.Store
	queue    queue.Queue
	cfg      config.BackupConfig
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	now   func() time.Time
	newID func() string
}

func NewDispatcher(store settings.Store, q queue.Queue, cfg config.BackupConfig, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		settings: store,
		queue:    q,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Enqueue builds the request for settingsID and queues it. The returned id
// identifies the job in the tracker once a consumer picks it up. Errors here
// are about accepting the job only; execution failures never surface here.
func (d *Dispatcher) Enqueue(ctx context.Context, settingsID string) (string, error) {
	s, err := d.settings.Get(ctx, settingsID)
	if err != nil {
		return "", err
	}

	id := d.newID()
	req := s.ToRequest(d.cfg, id, d.now())
	if err := req.Validate(); err != nil {
		return "", err
	}

	if err := d.Submit(ctx, id, BackupJob{
		SettingsID:  s.ID,
		DisplayName: s.Name,
		Request:     req,
	}); err != nil {
		return "", err
	}

	d.logger.Info().
		Str("correlation_id", id).
		Str("settings_id", s.ID).
		Str("kind", string(req.Kind)).
		Msg("backup enqueued")

	return id, nil
}

// Submit queues an already built job under id.
func (d *Dispatcher) Submit(ctx context.Context, id string, j BackupJob) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to encode backup job: %w", err)
	}

	err = d.queue.Enqueue(ctx, queue.Message{
		ID:         id,
		Family:     queue.FamilyBackup,
		Name:       executeBackup,
		Payload:    payload,
		EnqueuedAt: d.now().UTC(),
	})
	if d.metrics != nil {
		d.metrics.ObserveEnqueue(queue.FamilyBackup, err)
	}
	return err
}
