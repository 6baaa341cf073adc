// Package runner contains the test orchestration engine: the service
// boundary for managing runs, the per-run runner with its decision and
// behaviour loops, the completion detector and the cleanup coordinator.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/craftlab-ai/gauntlet/pkg/config"
	"github.com/craftlab-ai/gauntlet/pkg/models"
	"github.com/craftlab-ai/gauntlet/pkg/scenario"
	"github.com/craftlab-ai/gauntlet/pkg/storage"
)

// Service-level errors mapped to HTTP responses at the API boundary.
var (
	ErrInvalidScenario = errors.New("unknown scenario type")
	ErrInvalidProfile  = errors.New("unknown testing agent profile")
	ErrInvalidDuration = errors.New("duration out of bounds")
	ErrMaxTestsReached = errors.New("maximum concurrent tests reached")
	ErrInvalidStatus   = errors.New("operation not valid for current test status")
	ErrTestActive      = errors.New("test is active")
)

// TestService is the control-plane entry point for test runs.
type TestService struct {
	repo      storage.Repository
	scenarios *scenario.Registry
	profiles  *scenario.ProfileRegistry
	runner    *Runner
	cfg       *config.Config
}

// NewTestService wires the service.
func NewTestService(repo storage.Repository, scenarios *scenario.Registry, profiles *scenario.ProfileRegistry, runner *Runner, cfg *config.Config) *TestService {
	return &TestService{
		repo:      repo,
		scenarios: scenarios,
		profiles:  profiles,
		runner:    runner,
		cfg:       cfg,
	}
}

// Scenarios lists the shipped scenario definitions.
func (s *TestService) Scenarios() []models.ScenarioInfo {
	return s.scenarios.List()
}

// CreateTest validates the request, resolves defaults and persists a new
// run in status created. The run does not start until Start is called.
func (s *TestService) CreateTest(ctx context.Context, req *models.CreateTestRequest) (*models.TestRun, error) {
	sc := s.scenarios.Get(req.ScenarioType)
	if sc == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScenario, req.ScenarioType)
	}

	profiles := req.TestingAgentProfiles
	if len(profiles) == 0 {
		profiles = sc.DefaultProfiles
	}
	for _, p := range profiles {
		if !s.profiles.Known(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProfile, p)
		}
	}

	duration := sc.DefaultDurationSeconds
	if duration == 0 {
		duration = s.cfg.DefaultTestDurationSeconds
	}
	if req.DurationSeconds != nil {
		if !config.ValidDuration(*req.DurationSeconds) {
			return nil, fmt.Errorf("%w: %d seconds", ErrInvalidDuration, *req.DurationSeconds)
		}
		duration = *req.DurationSeconds
	}

	active, err := s.repo.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("count active tests: %w", err)
	}
	if active >= s.cfg.MaxConcurrentTests {
		return nil, ErrMaxTestsReached
	}

	model := req.TargetLLMModel
	if model == "" {
		model = s.cfg.DefaultLLMModel
	}

	runConfig := models.TestRunConfig{
		LLMPollingIntervalMs:     s.cfg.DefaultLLMPollingIntervalMs,
		CoordinationPhaseSeconds: s.cfg.CoordinationPhaseSeconds,
		BehaviorIntensity:        s.cfg.DefaultBehaviorIntensity,
		VoiceEnabled:             s.cfg.VoiceEnabled(),
	}
	if patch := req.Config; patch != nil {
		if patch.LLMPollingIntervalMs != nil {
			runConfig.LLMPollingIntervalMs = config.ClampPollingInterval(*patch.LLMPollingIntervalMs)
		}
		if patch.CoordinationPhaseSeconds != nil && *patch.CoordinationPhaseSeconds >= 0 {
			runConfig.CoordinationPhaseSeconds = *patch.CoordinationPhaseSeconds
		}
		if patch.BehaviorIntensity != nil {
			runConfig.BehaviorIntensity = config.ClampIntensity(*patch.BehaviorIntensity)
		}
		if patch.VoiceEnabled != nil {
			runConfig.VoiceEnabled = *patch.VoiceEnabled && s.cfg.VoiceEnabled()
		}
	}

	run := &models.TestRun{
		TestID:               uuid.New().String(),
		ScenarioType:         sc.Type,
		Status:               models.StatusCreated,
		TargetLLMModel:       model,
		TestingAgentProfiles: append([]models.ProfileName(nil), profiles...),
		DurationSeconds:      duration,
		CreatedAt:            time.Now().UTC(),
		Config:               runConfig,
	}

	if err := s.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("persist test run: %w", err)
	}

	// Auto-start skips the explicit start call for operator-less setups.
	if s.cfg.DiscordAutoStart {
		if err := s.runner.Launch(ctx, run); err != nil {
			return nil, err
		}
		return s.repo.FindByID(ctx, run.TestID)
	}
	return run, nil
}

// ListTests returns runs matching the filters, newest first.
func (s *TestService) ListTests(ctx context.Context, filters models.TestFilters) ([]*models.TestRun, error) {
	return s.repo.FindAll(ctx, filters)
}

// GetTest returns a single run.
func (s *TestService) GetTest(ctx context.Context, testID string) (*models.TestRun, error) {
	return s.repo.FindByID(ctx, testID)
}

// StartTest launches the run's initialisation pipeline. Only runs in
// status created may start.
func (s *TestService) StartTest(ctx context.Context, testID string) (*models.TestRun, error) {
	run, err := s.repo.FindByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.StatusCreated {
		return nil, fmt.Errorf("%w: cannot start a %s test", ErrInvalidStatus, run.Status)
	}
	if err := s.runner.Launch(ctx, run); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, testID)
}

// StopTest cancels an active run with reason manual-stop. Stopping a run
// that is not active is a conflict.
func (s *TestService) StopTest(ctx context.Context, testID string) (*models.TestRun, error) {
	run, err := s.repo.FindByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if !run.Status.IsActive() {
		return nil, fmt.Errorf("%w: cannot stop a %s test", ErrInvalidStatus, run.Status)
	}
	s.runner.Stop(testID)
	return s.repo.FindByID(ctx, testID)
}

// DeleteTest removes a run and its logs. Active runs must be stopped first.
func (s *TestService) DeleteTest(ctx context.Context, testID string) error {
	run, err := s.repo.FindByID(ctx, testID)
	if err != nil {
		return err
	}
	if run.Status.IsActive() {
		return fmt.Errorf("%w: stop the test before deleting it", ErrTestActive)
	}
	return s.repo.Delete(ctx, testID)
}

// Health probes the repository and reports the number of active runs.
func (s *TestService) Health(ctx context.Context) (int, error) {
	return s.repo.CountActive(ctx)
}

// Logs returns the most recent action logs for a run, newest first.
func (s *TestService) Logs(ctx context.Context, testID string, limit int) ([]*models.ActionLog, error) {
	exists, err := s.repo.Exists(ctx, testID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, storage.ErrNotFound
	}
	return s.repo.FindActionLogs(ctx, testID, limit)
}
