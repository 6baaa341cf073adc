package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftlab-ai/gauntlet/pkg/config"
	"github.com/craftlab-ai/gauntlet/pkg/events"
	"github.com/craftlab-ai/gauntlet/pkg/models"
	"github.com/craftlab-ai/gauntlet/pkg/scenario"
	"github.com/craftlab-ai/gauntlet/pkg/storage"
)

type testEnv struct {
	service *TestService
	runner  *Runner
	repo    *storage.MemoryStore
	gameCli *fakeGameClient
	llmCli  *fakeLLM
	bus     *events.Bus
	cfg     *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		MinecraftHost:               "localhost",
		MinecraftPort:               25565,
		DefaultLLMModel:             "test/model",
		MaxConcurrentTests:          config.DefaultMaxConcurrentTests,
		CoordinationPhaseSeconds:    0,
		DefaultLLMPollingIntervalMs: config.MinLLMPollingIntervalMs,
		DefaultTestDurationSeconds:  config.DefaultTestDurationSeconds,
		DefaultBehaviorIntensity:    config.DefaultBehaviorIntensity,
	}

	repo := storage.NewMemoryStore()
	bus := events.NewBus()
	scenarios := scenario.NewRegistry()
	profiles := scenario.NewProfileRegistry()
	gameCli := newFakeGameClient()
	llmCli := &fakeLLM{response: `{"reasoning": "idle", "actions": []}`}

	eng := NewRunner(repo, bus, scenarios, profiles, gameCli, llmCli, nil, cfg)
	service := NewTestService(repo, scenarios, profiles, eng, cfg)

	return &testEnv{
		service: service,
		runner:  eng,
		repo:    repo,
		gameCli: gameCli,
		llmCli:  llmCli,
		bus:     bus,
		cfg:     cfg,
	}
}

func TestCreateTest_Defaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	run, err := env.service.CreateTest(ctx, &models.CreateTestRequest{
		ScenarioType: models.ScenarioCooperation,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, run.TestID)
	assert.Equal(t, models.StatusCreated, run.Status)
	assert.Equal(t, "test/model", run.TargetLLMModel)
	assert.Equal(t, []models.ProfileName{models.ProfileLeader, models.ProfileNonCooperator},
		run.TestingAgentProfiles)
	assert.Equal(t, 600, run.DurationSeconds)
	assert.Equal(t, config.MinLLMPollingIntervalMs, run.Config.LLMPollingIntervalMs)
	assert.False(t, run.Config.VoiceEnabled)

	stored, err := env.repo.FindByID(ctx, run.TestID)
	require.NoError(t, err)
	assert.Equal(t, run.TestID, stored.TestID)
}

func TestCreateTest_AutoStart(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.DiscordAutoStart = true
	ctx := context.Background()

	run, err := env.service.CreateTest(ctx, &models.CreateTestRequest{
		ScenarioType: models.ScenarioCooperation,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitializing, run.Status)
	require.NotNil(t, run.StartedAt)

	t.Cleanup(func() { env.runner.Stop(run.TestID) })
}

func TestCreateTest_UnknownScenario(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.CreateTest(context.Background(), &models.CreateTestRequest{
		ScenarioType: "capture-the-flag",
	})
	assert.ErrorIs(t, err, ErrInvalidScenario)
}

func TestCreateTest_UnknownProfile(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.CreateTest(context.Background(), &models.CreateTestRequest{
		ScenarioType:         models.ScenarioCooperation,
		TestingAgentProfiles: []models.ProfileName{"griefer"},
	})
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestCreateTest_DurationBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tooShort := 30
	_, err := env.service.CreateTest(ctx, &models.CreateTestRequest{
		ScenarioType:    models.ScenarioCooperation,
		DurationSeconds: &tooShort,
	})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	tooLong := 7200
	_, err = env.service.CreateTest(ctx, &models.CreateTestRequest{
		ScenarioType:    models.ScenarioCooperation,
		DurationSeconds: &tooLong,
	})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	ok := 120
	run, err := env.service.CreateTest(ctx, &models.CreateTestRequest{
		ScenarioType:    models.ScenarioCooperation,
		DurationSeconds: &ok,
	})
	require.NoError(t, err)
	assert.Equal(t, 120, run.DurationSeconds)
}

func TestCreateTest_ConfigPatchClamped(t *testing.T) {
	env := newTestEnv(t)

	interval := 500 // below the lower bound
	intensity := 3.0
	run, err := env.service.CreateTest(context.Background(), &models.CreateTestRequest{
		ScenarioType: models.ScenarioCooperation,
		Config: &models.TestRunConfigPatch{
			LLMPollingIntervalMs: &interval,
			BehaviorIntensity:    &intensity,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, config.MinLLMPollingIntervalMs, run.Config.LLMPollingIntervalMs)
	assert.Equal(t, 1.0, run.Config.BehaviorIntensity)
}

func TestCreateTest_ConcurrencyCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Fill the cap with synthetic active runs.
	for i := 0; i < env.cfg.MaxConcurrentTests; i++ {
		run, err := env.service.CreateTest(ctx, &models.CreateTestRequest{
			ScenarioType: models.ScenarioCooperation,
		})
		require.NoError(t, err)
		run.Status = models.StatusExecuting
		require.NoError(t, env.repo.Update(ctx, run))
	}

	_, err := env.service.CreateTest(ctx, &models.CreateTestRequest{
		ScenarioType: models.ScenarioCooperation,
	})
	assert.ErrorIs(t, err, ErrMaxTestsReached)
}

func TestStartTest_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	run, err := env.service.CreateTest(ctx, &models.CreateTestRequest{
		ScenarioType: models.ScenarioCooperation,
	})
	require.NoError(t, err)

	run.Status = models.StatusCompleted
	require.NoError(t, env.repo.Update(ctx, run))

	_, err = env.service.StartTest(ctx, run.TestID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestStartTest_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.StartTest(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStopTest_NotActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	run, err := env.service.CreateTest(ctx, &models.CreateTestRequest{
		ScenarioType: models.ScenarioCooperation,
	})
	require.NoError(t, err)

	// created is not active; stopping it is a conflict.
	_, err = env.service.StopTest(ctx, run.TestID)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	run.Status = models.StatusCancelled
	require.NoError(t, env.repo.Update(ctx, run))
	_, err = env.service.StopTest(ctx, run.TestID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestDeleteTest_ActiveConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	run, err := env.service.CreateTest(ctx, &models.CreateTestRequest{
		ScenarioType: models.ScenarioCooperation,
	})
	require.NoError(t, err)

	run.Status = models.StatusExecuting
	require.NoError(t, env.repo.Update(ctx, run))

	assert.ErrorIs(t, env.service.DeleteTest(ctx, run.TestID), ErrTestActive)

	run.Status = models.StatusCompleted
	require.NoError(t, env.repo.Update(ctx, run))
	require.NoError(t, env.service.DeleteTest(ctx, run.TestID))

	_, err = env.service.GetTest(ctx, run.TestID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLogs_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.Logs(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
