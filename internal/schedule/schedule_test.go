package schedule

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgepascosoto/vaultdb/internal/settings"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, settingsID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, settingsID)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("job-%d", len(f.calls)), nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	store := settings.NewMemoryStore(
		&settings.Settings{ID: "nightly", Enabled: true, CronSchedule: "0 2 * * *"},
		&settings.Settings{ID: "hourly", Enabled: true, CronSchedule: "@hourly"},
		&settings.Settings{ID: "disabled", Enabled: false, CronSchedule: "0 3 * * *"},
		&settings.Settings{ID: "manual", Enabled: true},
		&settings.Settings{ID: "broken", Enabled: true, CronSchedule: "not a schedule"},
	)
	s := New(store, &fakeEnqueuer{}, zerolog.New(&buf))

	n, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := s.Next("nightly")
	assert.True(t, ok)
	_, ok = s.Next("hourly")
	assert.True(t, ok)
	for _, id := range []string{"disabled", "manual", "broken"} {
		_, ok := s.Next(id)
		assert.False(t, ok, id)
	}

	assert.Contains(t, buf.String(), "skipping invalid cron schedule")
	assert.Contains(t, buf.String(), `"settings_id":"broken"`)
}

func TestLoad_Resync(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore(
		&settings.Settings{ID: "a", Enabled: true, CronSchedule: "0 2 * * *"},
		&settings.Settings{ID: "b", Enabled: true, CronSchedule: "0 4 * * *"},
	)
	s := New(store, &fakeEnqueuer{}, zerolog.Nop())

	_, err := s.Load(context.Background())
	require.NoError(t, err)
	first := s.entries["a"].id

	store.Put(&settings.Settings{ID: "a", Enabled: true, CronSchedule: "30 2 * * *"})
	store.Put(&settings.Settings{ID: "b", Enabled: false, CronSchedule: "0 4 * * *"})

	n, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotEqual(t, first, s.entries["a"].id)
	assert.Equal(t, "30 2 * * *", s.entries["a"].spec)
	assert.Len(t, s.cron.Entries(), 1)

	_, ok := s.Next("b")
	assert.False(t, ok)
}

func TestLoad_Unchanged(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore(&settings.Settings{ID: "a", Enabled: true, CronSchedule: "0 2 * * *"})
	s := New(store, &fakeEnqueuer{}, zerolog.Nop())

	_, err := s.Load(context.Background())
	require.NoError(t, err)
	first := s.entries["a"].id

	_, err = s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, s.entries["a"].id)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestNext(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore(&settings.Settings{ID: "a", Enabled: true, CronSchedule: "0 2 * * *"})
	s := New(store, &fakeEnqueuer{}, zerolog.Nop())
	_, err := s.Load(context.Background())
	require.NoError(t, err)

	s.cron.Start()
	defer s.cron.Stop()

	require.Eventually(t, func() bool {
		next, ok := s.Next("a")
		return ok && !next.IsZero()
	}, time.Second, 10*time.Millisecond)

	next, _ := s.Next("a")
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestTrigger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enq := &fakeEnqueuer{}
	s := New(settings.NewMemoryStore(), enq, zerolog.New(&buf))

	s.trigger(context.Background(), "a")
	assert.Equal(t, 1, enq.count())
	assert.Contains(t, buf.String(), "scheduled backup enqueued")

	enq.err = fmt.Errorf("settings a: not found")
	s.trigger(context.Background(), "a")
	assert.Equal(t, 2, enq.count())
	assert.Contains(t, buf.String(), "scheduled backup not enqueued")
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore(&settings.Settings{ID: "a", Enabled: true, CronSchedule: "@every 1s"})
	enq := &fakeEnqueuer{}
	s := New(store, enq, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return enq.count() >= 1 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
