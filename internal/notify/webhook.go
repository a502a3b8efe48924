package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
	"github.com/jorgepascosoto/vaultdb/internal/job"
)

type WebhookPayload struct {
	Event         string    `json:"event"`
	Status        string    `json:"status"`
	JobID         string    `json:"job_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	SettingsID    string    `json:"settings_id,omitempty"`
	SettingsName  string    `json:"settings_name,omitempty"`
	DatabaseType  string    `json:"database_type"`
	DatabaseName  string    `json:"database_name"`
	FilePath      string    `json:"file_path,omitempty"`
	FileSize      int64     `json:"file_size,omitempty"`
	FileSizeHuman string    `json:"file_size_human,omitempty"`
	StorageURL    string    `json:"storage_url,omitempty"`
	Note          string    `json:"note,omitempty"`
	Duration      string    `json:"duration"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type WebhookNotifier struct {
	url       string
	onSuccess bool
	onFailure bool
	client    *http.Client
}

func NewWebhookNotifier(cfg config.NotifyConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:       cfg.WebhookURL,
		onSuccess: cfg.OnSuccess,
		onFailure: cfg.OnFailure,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// wants reports whether rec's status is one the operator asked to hear about.
func (n *WebhookNotifier) wants(rec *job.Record) bool {
	switch rec.Status {
	case job.StatusCompleted:
		return n.onSuccess
	case job.StatusFailed:
		return n.onFailure
	default:
		return false
	}
}

// Notify posts rec to the webhook. Records that are not terminal, or whose
// status is filtered out, are skipped.
func (n *WebhookNotifier) Notify(ctx context.Context, rec *job.Record) error {
	if n.url == "" || !n.wants(rec) {
		return nil
	}

	body, err := json.Marshal(buildWebhookPayload(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "vaultdb/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Kind(errors.ErrNotificationFailed, fmt.Errorf("failed to send webhook: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Kind(errors.ErrNotificationFailed, fmt.Errorf("webhook returned non-success status: %d", resp.StatusCode))
	}

	return nil
}

func buildWebhookPayload(rec *job.Record) *WebhookPayload {
	payload := &WebhookPayload{
		JobID:         rec.ID,
		CorrelationID: rec.CorrelationID,
		SettingsID:    rec.SettingsID,
		SettingsName:  rec.DisplayName,
		DatabaseType:  rec.Metadata.DatabaseType,
		DatabaseName:  rec.Metadata.DatabaseName,
		Duration:      durationOf(rec).String(),
		Timestamp:     time.Now().UTC(),
	}

	if rec.Status == job.StatusCompleted {
		payload.Event = "backup.completed"
		payload.Status = "success"
		payload.FilePath = rec.FilePath
		payload.FileSize = rec.FileSize
		payload.FileSizeHuman = formatBytes(rec.FileSize)
		payload.StorageURL = rec.StorageURL
		payload.Note = rec.Metadata.Note
	} else {
		payload.Event = "backup.failed"
		payload.Status = "failure"
		payload.Error = rec.ErrorMessage
	}

	return payload
}
