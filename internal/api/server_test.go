package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/dispatch"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
	"github.com/jorgepascosoto/vaultdb/internal/job"
	"github.com/jorgepascosoto/vaultdb/internal/metrics"
	"github.com/jorgepascosoto/vaultdb/internal/queue"
	"github.com/jorgepascosoto/vaultdb/internal/settings"
)

type testEnv struct {
	server  *Server
	queue   *queue.MemoryQueue
	tracker *job.Tracker
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, checks map[string]Check) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	q := queue.NewMemoryQueue(10 * time.Millisecond)
	store := settings.NewMemoryStore(&settings.Settings{
		ID:           "s1",
		Name:         "Analytics",
		DatabaseType: "postgres",
		Host:         "pg.internal",
		Database:     "analytics",
	})
	m := metrics.New(nil)
	d := dispatch.NewDispatcher(store, q, config.BackupConfig{
		Dir:                      t.TempDir(),
		ChunkSize:                1000,
		LargeCollectionThreshold: 10000,
	}, m, logger)
	tracker := job.NewTracker(job.NewMemoryStore(), logger)

	return &testEnv{
		server:  NewServer(logger, d, tracker, m, checks),
		queue:   q,
		tracker: tracker,
		metrics: m,
	}
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func (e *testEnv) seed(t *testing.T, settingsID string, status job.Status) *job.Record {
	t.Helper()
	ctx := context.Background()

	rec, err := e.tracker.Start(ctx, job.StartParams{
		SettingsID:    settingsID,
		Family:        queue.FamilyBackup,
		CorrelationID: fmt.Sprintf("corr-%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)

	switch status {
	case job.StatusCompleted:
		rec, err = e.tracker.Complete(ctx, rec.ID, job.Completion{FilePath: "/backups/x.sql.gz", FileSize: 1024, Duration: time.Second})
	case job.StatusFailed:
		rec, err = e.tracker.Fail(ctx, rec.ID, time.Second, "boom")
	}
	require.NoError(t, err)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	healthy := newTestEnv(t, map[string]Check{
		"queue": func(context.Context) error { return nil },
	})
	rec := healthy.do(http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"ok"}`, rec.Body.String())

	unhealthy := newTestEnv(t, map[string]Check{
		"queue": func(context.Context) error { return nil },
		"store": func(context.Context) error { return fmt.Errorf("connection refused") },
	})
	rec = unhealthy.do(http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"queue":"ok","store":"connection refused"}`, rec.Body.String())
}

func TestTrigger_Accepted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/settings/s1/backups")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body triggerResponse
	decodeBody(t, rec, &body)
	assert.NotEmpty(t, body.JobID)
	assert.Equal(t, "Backup job enqueued", body.Message)

	d, err := env.queue.Dequeue(context.Background(), queue.FamilyBackup)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, body.JobID, d.Message.ID)
}

func TestTrigger_UnknownSettings(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/settings/nope/backups")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Contains(t, body["error"], "not found")
	assert.Equal(t, 0, env.queue.Len(queue.FamilyBackup))
}

func TestTrigger_QueueUnavailable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	require.NoError(t, env.queue.Close())

	rec := env.do(http.MethodPost, "/api/settings/s1/backups")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLatest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/settings/s1/backups/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.seed(t, "s1", job.StatusFailed)
	want := env.seed(t, "s1", job.StatusCompleted)
	env.seed(t, "other", job.StatusCompleted)

	rec = env.do(http.MethodGet, "/api/settings/s1/backups/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var got job.Record
	decodeBody(t, rec, &got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
}

func TestList_Pagination(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	for i := 0; i < 5; i++ {
		env.seed(t, "s1", job.StatusCompleted)
	}

	rec := env.do(http.MethodGet, "/api/backups?page=2&limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var page job.Page
	decodeBody(t, rec, &page)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, int64(2), page.Page)
	assert.Equal(t, int64(2), page.Limit)
	assert.Equal(t, int64(3), page.TotalPages)
	assert.True(t, strings.Contains(rec.Body.String(), `"data":`))
}

func TestList_Defaults(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/backups?page=abc&limit=-3")
	require.Equal(t, http.StatusOK, rec.Code)

	var page job.Page
	decodeBody(t, rec, &page)
	assert.Equal(t, int64(1), page.Page)
	assert.Equal(t, int64(job.DefaultPageLimit), page.Limit)
}

func TestStats(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.seed(t, "s1", job.StatusCompleted)
	env.seed(t, "s1", job.StatusFailed)
	env.seed(t, "s1", job.StatusRunning)

	rec := env.do(http.MethodGet, "/api/backups/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats job.Stats
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Running)
	assert.Equal(t, int64(1024), stats.TotalSize)
}

func TestGet(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	seeded := env.seed(t, "s1", job.StatusCompleted)

	rec := env.do(http.MethodGet, "/api/backups/"+seeded.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var got job.Record
	decodeBody(t, rec, &got)
	assert.Equal(t, seeded.ID, got.ID)

	rec = env.do(http.MethodGet, "/api/backups/"+seeded.CorrelationID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/backups/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	done := env.seed(t, "s1", job.StatusCompleted)
	running := env.seed(t, "s1", job.StatusRunning)

	rec := env.do(http.MethodDelete, "/api/backups/"+running.ID)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodDelete, "/api/backups/"+done.ID)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodDelete, "/api/backups/"+done.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("settings x: %w", errors.ErrNotFound), http.StatusNotFound},
		{"invalid transition", errors.ErrInvalidTransition, http.StatusConflict},
		{"enqueue failed", errors.Kind(errors.ErrEnqueueFailed, fmt.Errorf("queue full")), http.StatusServiceUnavailable},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.do(http.MethodGet, "/api/backups/missing")
	rec := env.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vaultdb_http_requests_total{method="GET",path="/api/backups/{id}",status="404"} 1`)
}
