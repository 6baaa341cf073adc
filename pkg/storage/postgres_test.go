package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// openPostgres connects to the database named by TEST_DATABASE_URL, or
// skips when no database is available.
func openPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := NewPostgresStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// createRun inserts a fresh run with a unique id and removes it on cleanup.
func createRun(t *testing.T, store *PostgresStore) *models.TestRun {
	t.Helper()
	ctx := context.Background()
	run := newRun(uuid.New().String(), time.Now().UTC())
	require.NoError(t, store.Create(ctx, run))
	t.Cleanup(func() { _ = store.Delete(ctx, run.TestID) })
	return run
}

func TestPostgresStore_CRUD(t *testing.T) {
	store := openPostgres(t)
	ctx := context.Background()
	run := createRun(t, store)

	got, err := store.FindByID(ctx, run.TestID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, got.Status)
	assert.Equal(t, run.Config.LLMPollingIntervalMs, got.Config.LLMPollingIntervalMs)

	got.Status = models.StatusInitializing
	now := time.Now().UTC()
	got.StartedAt = &now
	require.NoError(t, store.Update(ctx, got))

	again, err := store.FindByID(ctx, run.TestID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitializing, again.Status)
	require.NotNil(t, again.StartedAt)

	exists, err := store.Exists(ctx, run.TestID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, run.TestID))
	_, err = store.FindByID(ctx, run.TestID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_FindAllFilters(t *testing.T) {
	store := openPostgres(t)
	ctx := context.Background()

	a := createRun(t, store)
	b := createRun(t, store)

	got, err := store.FindByID(ctx, b.TestID)
	require.NoError(t, err)
	got.Status = models.StatusExecuting
	require.NoError(t, store.Update(ctx, got))

	runs, err := store.FindAll(ctx, models.TestFilters{Status: models.StatusExecuting})
	require.NoError(t, err)
	ids := make(map[string]bool, len(runs))
	for _, r := range runs {
		assert.Equal(t, models.StatusExecuting, r.Status)
		ids[r.TestID] = true
	}
	assert.True(t, ids[b.TestID])
	assert.False(t, ids[a.TestID])

	active, err := store.CountActive(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, active, 1)
}

func TestPostgresStore_Transition(t *testing.T) {
	store := openPostgres(t)
	ctx := context.Background()
	run := createRun(t, store)

	got, err := store.FindByID(ctx, run.TestID)
	require.NoError(t, err)
	got.Status = models.StatusCancelled
	require.NoError(t, store.Transition(ctx, got, models.StatusCreated))

	// A snapshot taken before the cancellation cannot push the run back
	// into an active status.
	stale, err := store.FindByID(ctx, run.TestID)
	require.NoError(t, err)
	stale.Status = models.StatusExecuting
	assert.ErrorIs(t, store.Transition(ctx, stale, models.StatusInitializing), ErrStaleStatus)

	final, err := store.FindByID(ctx, run.TestID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, final.Status)

	missing := newRun(uuid.New().String(), time.Now().UTC())
	assert.ErrorIs(t, store.Transition(ctx, missing, models.StatusCreated), ErrNotFound)
}

func TestPostgresStore_IncrementMetricConcurrent(t *testing.T) {
	store := openPostgres(t)
	ctx := context.Background()
	run := createRun(t, store)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, store.IncrementMetric(ctx, run.TestID, models.MetricTargetActionCount, 1))
			}
		}()
	}
	wg.Wait()

	got, err := store.FindByID(ctx, run.TestID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), got.Metrics.TargetActionCount)

	assert.ErrorIs(t, store.IncrementMetric(ctx, run.TestID, "no_such_field", 1), ErrUnknownMetric)
	assert.ErrorIs(t, store.IncrementMetric(ctx, "missing", models.MetricTargetActionCount, 1), ErrNotFound)
}

func TestPostgresStore_MetricTimestamp(t *testing.T) {
	store := openPostgres(t)
	ctx := context.Background()
	run := createRun(t, store)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.UpdateMetricTimestamp(ctx, run.TestID, models.MetricLastLLMDecisionAt, at))

	got, err := store.FindByID(ctx, run.TestID)
	require.NoError(t, err)
	require.NotNil(t, got.Metrics.LastLLMDecisionAt)
	assert.WithinDuration(t, at, *got.Metrics.LastLLMDecisionAt, time.Second)

	assert.ErrorIs(t,
		store.UpdateMetricTimestamp(ctx, run.TestID, models.MetricTargetActionCount, at),
		ErrUnknownMetric)
}

func TestPostgresStore_ActionLogs(t *testing.T) {
	store := openPostgres(t)
	ctx := context.Background()
	run := createRun(t, store)

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateActionLog(ctx, &models.ActionLog{
			LogID:          uuid.New().String(),
			TestID:         run.TestID,
			SourceType:     models.SourceTarget,
			ActionCategory: models.CategoryMinecraft,
			ActionDetail:   fmt.Sprintf("entry %d", i),
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	logs, err := store.FindActionLogs(ctx, run.TestID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "entry 2", logs[0].ActionDetail)
	assert.Equal(t, "entry 1", logs[1].ActionDetail)

	// Deleting the run cascades to its logs.
	require.NoError(t, store.Delete(ctx, run.TestID))
	logs, err = store.FindActionLogs(ctx, run.TestID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
