package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// startExecutingRun launches a run and waits for it to reach executing.
func startExecutingRun(t *testing.T, env *testEnv) *models.TestRun {
	t.Helper()
	ctx := context.Background()
	run, err := env.service.CreateTest(ctx, &models.CreateTestRequest{
		ScenarioType: models.ScenarioCooperation,
	})
	require.NoError(t, err)
	_, err = env.service.StartTest(ctx, run.TestID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return statusOf(t, env, run.TestID) == models.StatusExecuting
	}, 3*time.Second, 20*time.Millisecond)
	return run
}

func activeRunFor(t *testing.T, env *testEnv, testID string) *activeRun {
	t.Helper()
	env.runner.mu.Lock()
	defer env.runner.mu.Unlock()
	ar := env.runner.active[testID]
	require.NotNil(t, ar)
	return ar
}

func TestCompletionCriteria_CooperativeActions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	run := startExecutingRun(t, env)
	ar := activeRunFor(t, env, run.TestID)
	d := ar.detector

	// Below the threshold: not done.
	_, done := d.evaluate()
	assert.False(t, done)

	// Enough actions but no chat yet: the cooperation scenario also
	// requires communication.
	require.NoError(t, env.repo.IncrementMetric(ctx, run.TestID, models.MetricTargetActionCount, 5))
	_, done = d.evaluate()
	assert.False(t, done)

	require.NoError(t, env.repo.IncrementMetric(ctx, run.TestID, models.MetricTargetMessageCount, 1))
	reason, done := d.evaluate()
	assert.True(t, done)
	assert.Equal(t, models.ReasonSuccess, reason)

	env.runner.triggerCompletion(ar, reason)
	assert.Equal(t, models.StatusCompleted, statusOf(t, env, run.TestID))
}

func TestCompletionCriteria_LLMErrorRate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	run := startExecutingRun(t, env)
	ar := activeRunFor(t, env, run.TestID)
	d := ar.detector

	// Error rate is only judged after more than ten decisions.
	require.NoError(t, env.repo.IncrementMetric(ctx, run.TestID, models.MetricLLMDecisionCount, 8))
	require.NoError(t, env.repo.IncrementMetric(ctx, run.TestID, models.MetricLLMErrorCount, 8))
	_, done := d.evaluate()
	assert.False(t, done)

	require.NoError(t, env.repo.IncrementMetric(ctx, run.TestID, models.MetricLLMDecisionCount, 4))
	require.NoError(t, env.repo.IncrementMetric(ctx, run.TestID, models.MetricLLMErrorCount, 4))
	reason, done := d.evaluate()
	assert.True(t, done)
	assert.Equal(t, models.ReasonAllAgentsFailed, reason)

	env.runner.triggerCompletion(ar, reason)
	assert.Equal(t, models.StatusFailed, statusOf(t, env, run.TestID))

	final, err := env.repo.FindByID(ctx, run.TestID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonAllAgentsFailed, final.CompletionReason)
}

func TestTriggerCompletion_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	run := startExecutingRun(t, env)
	ar := activeRunFor(t, env, run.TestID)

	env.runner.triggerCompletion(ar, models.ReasonTimeout)
	first := statusOf(t, env, run.TestID)
	assert.Equal(t, models.StatusCompleted, first)

	// A second fire must not change the terminal state.
	env.runner.triggerCompletion(ar, models.ReasonManualStop)
	assert.Equal(t, models.StatusCompleted, statusOf(t, env, run.TestID))

	final, err := env.repo.FindByID(context.Background(), run.TestID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonTimeout, final.CompletionReason)
}

func TestHardTimeout_FiresCompletion(t *testing.T) {
	env := newTestEnv(t)
	run := startExecutingRun(t, env)
	ar := activeRunFor(t, env, run.TestID)

	// Replace the long default deadline with an immediate one.
	ar.detector.stop()
	d := newCompletionDetector(env.runner, ar, 10*time.Millisecond)
	d.start()

	require.Eventually(t, func() bool {
		return statusOf(t, env, run.TestID) == models.StatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	final, err := env.repo.FindByID(context.Background(), run.TestID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonTimeout, final.CompletionReason)
}
