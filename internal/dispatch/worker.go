package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/backup"
	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
	"github.com/jorgepascosoto/vaultdb/internal/job"
	"github.com/jorgepascosoto/vaultdb/internal/metrics"
	"github.com/jorgepascosoto/vaultdb/internal/queue"
)

const (
	retryBackoff   = time.Second
	notifyTimeout  = 30 * time.Second
	outcomeRetries = 3
)

// Executor runs one export. *backup.Registry satisfies it.
type Executor interface {
	Execute(ctx context.Context, req backup.Request) backup.Result
}

type Notifier interface {
	Notify(ctx context.Context, rec *job.Record) error
}

// Worker is the single consumer of the backup family.
type Worker struct {
	queue    queue.Queue
	tracker  *job.Tracker
	executor Executor
	logger   zerolog.Logger
	backoff  time.Duration

	notifier  Notifier
	metrics   *metrics.Metrics
	encryptor backup.Encryptor
	uploader  backup.Uploader
}

type WorkerOption func(*Worker)

func WithNotifier(n Notifier) WorkerOption {
	return func(w *Worker) { w.notifier = n }
}

func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func WithEncryptor(e backup.Encryptor) WorkerOption {
	return func(w *Worker) { w.encryptor = e }
}

func WithUploader(u backup.Uploader) WorkerOption {
	return func(w *Worker) { w.uploader = u }
}

func NewWorker(q queue.Queue, tracker *job.Tracker, executor Executor, logger zerolog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:    q,
		tracker:  tracker,
		executor: executor,
		backoff:  retryBackoff,
		logger:   logger.With().Str("component", "worker").Str("family", queue.FamilyBackup).Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes until ctx is cancelled. A job that has started runs to the end
// even if ctx is cancelled meanwhile.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.queue.Recover(ctx, queue.FamilyBackup); err != nil {
		w.logger.Error().Err(err).Msg("failed to recover unacknowledged jobs")
	} else if n > 0 {
		w.logger.Info().Int("jobs", n).Msg("recovered unacknowledged jobs")
	}

	w.logger.Info().Msg("worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("worker stopped")
			return nil
		}

		d, err := w.queue.Dequeue(ctx, queue.FamilyBackup)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("dequeue failed")
			sleep(ctx, w.backoff)
			continue
		}
		if d == nil {
			continue
		}

		w.Process(context.WithoutCancel(ctx), d)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Process handles one delivery end to end and acknowledges it. It returns
// the terminal record, or nil when no record could be written. A delivery
// whose outcome cannot be recorded is requeued so the redelivery fails the
// stale attempt.
func (w *Worker) Process(ctx context.Context, d *queue.Delivery) *job.Record {
	logger := w.logger.With().Str("correlation_id", d.Message.ID).Logger()

	var j BackupJob
	if err := json.Unmarshal(d.Message.Payload, &j); err != nil {
		logger.Error().Err(err).Msg("dropping malformed backup job")
		w.ack(ctx, d, logger)
		return nil
	}

	start := time.Now()
	req := j.Request
	conn := req.Connection

	rec, err := w.tracker.Start(ctx, job.StartParams{
		SettingsID:    j.SettingsID,
		DisplayName:   j.DisplayName,
		Family:        d.Message.Family,
		CorrelationID: d.Message.ID,
		Metadata: job.Metadata{
			DatabaseType: string(req.Kind),
			DatabaseName: conn.Database,
			Host:         conn.Host,
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to record job start, requeueing")
		if err := d.Nack(ctx, true); err != nil {
			logger.Error().Err(err).Msg("failed to requeue job")
		}
		sleep(ctx, w.backoff)
		return nil
	}

	logger = logger.With().Str("job_id", rec.ID).Logger()
	logger.Info().Str("kind", string(req.Kind)).Str("output", req.OutputPath).Msg("executing backup")

	if w.metrics != nil {
		w.metrics.JobsRunning.Inc()
	}

	res := w.executor.Execute(ctx, req)

	var storageURL string
	if res.Success {
		artifact := res.FilePath
		res.FilePath, storageURL, err = w.postProcess(ctx, res.FilePath)
		if err != nil {
			res.Success = false
			res.Error = err.Error()
		} else if res.FilePath != artifact {
			res.Size = artifactSize(res.FilePath, res.Size, logger)
		}
	}

	duration := time.Since(start)

	if w.metrics != nil {
		w.metrics.JobsRunning.Dec()
	}

	final, err := w.recordOutcome(ctx, logger, func() (*job.Record, error) {
		if res.Success {
			return w.tracker.Complete(ctx, rec.ID, job.Completion{
				FilePath:   res.FilePath,
				FileSize:   res.Size,
				StorageURL: storageURL,
				Duration:   duration,
				Metadata:   completionMetadata(req, res),
			})
		}
		return w.tracker.Fail(ctx, rec.ID, duration, res.Error)
	})

	if w.metrics != nil {
		status := string(job.StatusFailed)
		if res.Success {
			status = string(job.StatusCompleted)
		}
		w.metrics.ObserveJob(string(req.Kind), status, duration, res.Size, res.Success && res.Note != "")
	}

	if final != nil && w.notifier != nil {
		nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		if err := w.notifier.Notify(nctx, final); err != nil {
			logger.Warn().Err(err).Msg("failed to send notification")
		}
		cancel()
	}

	if err != nil && !errors.Is(err, errors.ErrInvalidTransition) {
		logger.Error().Err(err).Msg("failed to record job outcome, requeueing")
		if err := d.Nack(ctx, true); err != nil {
			logger.Error().Err(err).Msg("failed to requeue job")
		}
		return nil
	}

	w.ack(ctx, d, logger)
	return final
}

// recordOutcome retries the terminal write with a linear backoff. A record
// that is already terminal is not retried.
func (w *Worker) recordOutcome(ctx context.Context, logger zerolog.Logger, write func() (*job.Record, error)) (*job.Record, error) {
	var err error
	for attempt := 1; attempt <= outcomeRetries; attempt++ {
		var rec *job.Record
		if rec, err = write(); err == nil {
			return rec, nil
		}
		if errors.Is(err, errors.ErrInvalidTransition) {
			logger.Warn().Err(err).Msg("job outcome already recorded")
			return nil, err
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to record job outcome")
		if attempt < outcomeRetries {
			sleep(ctx, w.backoff*time.Duration(attempt))
		}
	}
	return nil, err
}

// artifactSize stats a post-processed artifact, keeping fallback when it
// cannot be read as a regular file.
func artifactSize(path string, fallback int64, logger zerolog.Logger) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("failed to stat processed artifact")
		return fallback
	}
	if !fi.Mode().IsRegular() {
		return fallback
	}
	return fi.Size()
}

// postProcess runs the optional encryptor and uploader on a finished artifact.
func (w *Worker) postProcess(ctx context.Context, path string) (string, string, error) {
	if w.encryptor != nil {
		encrypted, err := w.encryptor.Encrypt(ctx, path)
		if err != nil {
			return path, "", fmt.Errorf("encryption failed: %w", err)
		}
		path = encrypted
	}

	var url string
	if w.uploader != nil {
		var err error
		url, err = w.uploader.Upload(ctx, path)
		if err != nil {
			return path, "", fmt.Errorf("upload failed: %w", err)
		}
	}

	return path, url, nil
}

func (w *Worker) ack(ctx context.Context, d *queue.Delivery, logger zerolog.Logger) {
	if err := d.Ack(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to acknowledge job")
	}
}

func completionMetadata(req backup.Request, res backup.Result) job.Metadata {
	md := job.Metadata{
		DatabaseType: string(req.Kind),
		DatabaseName: req.Connection.Database,
		Host:         req.Connection.Host,
		TotalRows:    res.Stats.TotalCount,
		Note:         res.Note,
	}

	if req.Kind == config.DatabaseTypeMongoDB {
		md.Collections = res.Stats.Entities
		md.ChunkedCollections = res.Stats.ChunkedEntities()
	} else {
		md.Tables = res.Stats.Entities
		md.TotalTables = res.Stats.TotalEntities
	}

	return md
}
