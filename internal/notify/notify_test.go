package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgepascosoto/vaultdb/internal/backup"
	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
	"github.com/jorgepascosoto/vaultdb/internal/job"
)

func completedRecord() *job.Record {
	completedAt := time.Date(2024, 3, 1, 12, 3, 0, 0, time.UTC)
	return &job.Record{
		ID:            "rec-1",
		SettingsID:    "s1",
		DisplayName:   "Production",
		CorrelationID: "corr-1",
		Status:        job.StatusCompleted,
		FilePath:      "/backups/prod.dump.gz",
		FileSize:      5 * 1024 * 1024,
		DurationMs:    180000,
		StartedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		CompletedAt:   &completedAt,
		Metadata: job.Metadata{
			DatabaseType: "postgresql",
			DatabaseName: "proddb",
			TotalTables:  3,
			TotalRows:    1500,
		},
	}
}

func failedRecord() *job.Record {
	return &job.Record{
		ID:           "rec-2",
		Status:       job.StatusFailed,
		DurationMs:   30000,
		ErrorMessage: "connection timeout",
		StartedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Metadata: job.Metadata{
			DatabaseType: "mysql",
			DatabaseName: "users",
		},
	}
}

func notifyConfig(url string) config.NotifyConfig {
	return config.NotifyConfig{WebhookURL: url, OnSuccess: true, OnFailure: true}
}

// Tests for formatBytes
func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{"zero bytes", 0, "0 B"},
		{"small bytes", 512, "512 B"},
		{"exactly 1KiB", 1024, "1.0 KiB"},
		{"KiB range", 1536, "1.5 KiB"},
		{"exactly 1MiB", 1024 * 1024, "1.0 MiB"},
		{"MiB range", 5 * 1024 * 1024, "5.0 MiB"},
		{"exactly 1GiB", 1024 * 1024 * 1024, "1.0 GiB"},
		{"GiB range", int64(2.5 * 1024 * 1024 * 1024), "2.5 GiB"},
		{"large GiB", 100 * int64(1024*1024*1024), "100 GiB"},
		{"negative clamps", -1, "0 B"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := formatBytes(tt.bytes)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// Tests for BuildSummaryMarkdown
func TestBuildSummaryMarkdown_Success(t *testing.T) {
	t.Parallel()

	markdown := BuildSummaryMarkdown(completedRecord())

	assert.Contains(t, markdown, "## Database Backup Summary")
	assert.Contains(t, markdown, ":white_check_mark: Success")
	assert.Contains(t, markdown, "| Settings | Production |")
	assert.Contains(t, markdown, "| Database Type | postgresql |")
	assert.Contains(t, markdown, "| Database Name | proddb |")
	assert.Contains(t, markdown, "| File | `/backups/prod.dump.gz` |")
	assert.Contains(t, markdown, "| Size | 5.0 MiB |")
	assert.Contains(t, markdown, "| Duration | 3m0s |")
	assert.Contains(t, markdown, "| Tables | 3 |")
	assert.NotContains(t, markdown, "Error")
}

func TestBuildSummaryMarkdown_Failure(t *testing.T) {
	t.Parallel()

	markdown := BuildSummaryMarkdown(failedRecord())

	assert.Contains(t, markdown, ":x: Failed")
	assert.Contains(t, markdown, "| Database Type | mysql |")
	assert.Contains(t, markdown, "| Error | connection timeout |")
	assert.NotContains(t, markdown, "| File |")
	assert.NotContains(t, markdown, "| Size |")
}

func TestBuildSummaryMarkdown_Running(t *testing.T) {
	t.Parallel()

	rec := failedRecord()
	rec.Status = job.StatusRunning
	rec.ErrorMessage = ""

	markdown := BuildSummaryMarkdown(rec)

	assert.Contains(t, markdown, "running")
	assert.NotContains(t, markdown, "| Duration |")
}

func TestBuildSummaryMarkdown_CollectionsAndNote(t *testing.T) {
	t.Parallel()

	rec := completedRecord()
	rec.Metadata.TotalTables = 0
	rec.Metadata.Collections = []backup.EntityStats{{Name: "a"}, {Name: "b", Chunked: true}}
	rec.Metadata.ChunkedCollections = 1
	rec.Metadata.Note = "Backup metadata only - pg_dump not available in this environment"

	markdown := BuildSummaryMarkdown(rec)

	assert.Contains(t, markdown, "| Collections | 2 (1 chunked) |")
	assert.Contains(t, markdown, "| Note | Backup metadata only")
	assert.NotContains(t, markdown, "| Tables |")
}

// Tests for NewWebhookNotifier
func TestNewWebhookNotifier(t *testing.T) {
	t.Parallel()

	notifier := NewWebhookNotifier(notifyConfig("https://hooks.example.com/webhook"))

	require.NotNil(t, notifier)
	assert.Equal(t, "https://hooks.example.com/webhook", notifier.url)
	require.NotNil(t, notifier.client)
	assert.Equal(t, 30*time.Second, notifier.client.Timeout)
}

// Tests for buildWebhookPayload
func TestBuildWebhookPayload_Success(t *testing.T) {
	t.Parallel()

	payload := buildWebhookPayload(completedRecord())

	assert.Equal(t, "backup.completed", payload.Event)
	assert.Equal(t, "success", payload.Status)
	assert.Equal(t, "rec-1", payload.JobID)
	assert.Equal(t, "corr-1", payload.CorrelationID)
	assert.Equal(t, "Production", payload.SettingsName)
	assert.Equal(t, "postgresql", payload.DatabaseType)
	assert.Equal(t, "proddb", payload.DatabaseName)
	assert.Equal(t, "/backups/prod.dump.gz", payload.FilePath)
	assert.Equal(t, int64(5*1024*1024), payload.FileSize)
	assert.Equal(t, "5.0 MiB", payload.FileSizeHuman)
	assert.Equal(t, "3m0s", payload.Duration)
	assert.Empty(t, payload.Error)
	assert.False(t, payload.Timestamp.IsZero())
}

func TestBuildWebhookPayload_Failure(t *testing.T) {
	t.Parallel()

	payload := buildWebhookPayload(failedRecord())

	assert.Equal(t, "backup.failed", payload.Event)
	assert.Equal(t, "failure", payload.Status)
	assert.Equal(t, "mysql", payload.DatabaseType)
	assert.Empty(t, payload.FilePath)
	assert.Equal(t, int64(0), payload.FileSize)
	assert.Equal(t, "connection timeout", payload.Error)
	assert.Equal(t, "30s", payload.Duration)
}

// Tests for WebhookNotifier.Notify
func TestWebhookNotifier_Notify_EmptyURL(t *testing.T) {
	t.Parallel()

	notifier := NewWebhookNotifier(notifyConfig(""))

	err := notifier.Notify(context.Background(), completedRecord())
	assert.NoError(t, err)
}

func TestWebhookNotifier_Notify_Success(t *testing.T) {
	t.Parallel()

	var receivedPayload WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "vaultdb/1.0", r.Header.Get("User-Agent"))

		err := json.NewDecoder(r.Body).Decode(&receivedPayload)
		assert.NoError(t, err)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(notifyConfig(server.URL))

	err := notifier.Notify(context.Background(), completedRecord())
	require.NoError(t, err)

	assert.Equal(t, "success", receivedPayload.Status)
	assert.Equal(t, "postgresql", receivedPayload.DatabaseType)
	assert.Equal(t, "proddb", receivedPayload.DatabaseName)
	assert.Equal(t, "/backups/prod.dump.gz", receivedPayload.FilePath)
}

func TestWebhookNotifier_Notify_StatusFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		onSuccess bool
		onFailure bool
		rec       *job.Record
		wantCalls int32
	}{
		{name: "success enabled", onSuccess: true, rec: completedRecord(), wantCalls: 1},
		{name: "success disabled", onFailure: true, rec: completedRecord(), wantCalls: 0},
		{name: "failure enabled", onFailure: true, rec: failedRecord(), wantCalls: 1},
		{name: "failure disabled", onSuccess: true, rec: failedRecord(), wantCalls: 0},
		{
			name:      "running never notifies",
			onSuccess: true,
			onFailure: true,
			rec:       &job.Record{ID: "r", Status: job.StatusRunning},
			wantCalls: 0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			notifier := NewWebhookNotifier(config.NotifyConfig{
				WebhookURL: server.URL,
				OnSuccess:  tt.onSuccess,
				OnFailure:  tt.onFailure,
			})

			require.NoError(t, notifier.Notify(context.Background(), tt.rec))
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestWebhookNotifier_Notify_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	tests := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
	}

	for _, statusCode := range tests {
		statusCode := statusCode
		t.Run(http.StatusText(statusCode), func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(statusCode)
			}))
			defer server.Close()

			notifier := NewWebhookNotifier(notifyConfig(server.URL))

			err := notifier.Notify(context.Background(), completedRecord())
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "non-success status")
			assert.True(t, errors.Is(err, errors.ErrNotificationFailed))
		})
	}
}

func TestWebhookNotifier_Notify_AcceptableSuccessStatuses(t *testing.T) {
	t.Parallel()

	tests := []int{
		http.StatusOK,
		http.StatusCreated,
		http.StatusAccepted,
		http.StatusNoContent,
	}

	for _, statusCode := range tests {
		statusCode := statusCode
		t.Run(http.StatusText(statusCode), func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(statusCode)
			}))
			defer server.Close()

			notifier := NewWebhookNotifier(notifyConfig(server.URL))

			err := notifier.Notify(context.Background(), failedRecord())
			assert.NoError(t, err)
		})
	}
}

func TestWebhookNotifier_Notify_ContextCancelled(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(notifyConfig(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := notifier.Notify(ctx, completedRecord())
	assert.Error(t, err)
}

func TestWebhookNotifier_Notify_InvalidURL(t *testing.T) {
	t.Parallel()

	notifier := NewWebhookNotifier(notifyConfig("http://[::1]:namedport"))

	err := notifier.Notify(context.Background(), completedRecord())
	assert.Error(t, err)
}
