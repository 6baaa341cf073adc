package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/craftlab-ai/gauntlet/pkg/config"
	"github.com/craftlab-ai/gauntlet/pkg/events"
	"github.com/craftlab-ai/gauntlet/pkg/game"
	"github.com/craftlab-ai/gauntlet/pkg/llm"
	"github.com/craftlab-ai/gauntlet/pkg/models"
	"github.com/craftlab-ai/gauntlet/pkg/scenario"
	"github.com/craftlab-ai/gauntlet/pkg/storage"
	"github.com/craftlab-ai/gauntlet/pkg/telemetry"
	"github.com/craftlab-ai/gauntlet/pkg/voice"
)

// Non-leader behaviour loops delay their start so the leader speaks first.
const followerStartDelay = 12 * time.Second

// Runner owns every active run: its loops, timers and teardown.
type Runner struct {
	repo      storage.Repository
	bus       *events.Bus
	scenarios *scenario.Registry
	profiles  *scenario.ProfileRegistry
	gameCli   game.Client
	llmCli    llm.Client
	voiceCli  voice.Coordinator // nil disables voice
	cfg       *config.Config
	metrics   *telemetry.Metrics // nil disables instrumentation

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

// NewRunner wires the runner. voiceCli may be nil when Discord
// coordination is not configured.
func NewRunner(repo storage.Repository, bus *events.Bus, scenarios *scenario.Registry,
	profiles *scenario.ProfileRegistry, gameCli game.Client, llmCli llm.Client,
	voiceCli voice.Coordinator, cfg *config.Config) *Runner {
	return &Runner{
		repo:      repo,
		bus:       bus,
		scenarios: scenarios,
		profiles:  profiles,
		gameCli:   gameCli,
		llmCli:    llmCli,
		voiceCli:  voiceCli,
		cfg:       cfg,
		active:    make(map[string]*activeRun),
	}
}

// SetMetrics installs Prometheus instrumentation. Optional.
func (r *Runner) SetMetrics(m *telemetry.Metrics) { r.metrics = m }

// activeRun is the in-flight state the Runner owns for one test.
type activeRun struct {
	testID   string
	scenario *models.Scenario

	ctx    context.Context
	cancel context.CancelFunc

	targetAgentID string
	targetBotID   string

	agents []*agentRuntime

	detector *completionDetector

	// completion fires at most once per run.
	completeOnce sync.Once
}

// agentRuntime is one testing agent's loop state. The agent's mutable
// fields (status, action bookkeeping) are shared between the behaviour
// loop and cleanup, so every access goes through mu.
type agentRuntime struct {
	agent   *models.TestingAgent
	profile *models.BehaviouralProfile
	rng     *rand.Rand

	mu      sync.Mutex
	cursors map[string]int
}

func (a *agentRuntime) isActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agent.Status == models.AgentActive
}

func (a *agentRuntime) terminate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.agent.Status = models.AgentTerminated
}

func (a *agentRuntime) actionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agent.ActionCount
}

func (a *agentRuntime) recordAction(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.agent.LastActionAt = &at
	a.agent.ActionCount++
}

// nextMessage rotates through a response-pattern pool so a phrase does
// not repeat until the pool is exhausted.
func (a *agentRuntime) nextMessage(pool string) string {
	msgs := a.profile.ResponsePatterns[pool]
	if len(msgs) == 0 {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	msg := msgs[a.cursors[pool]%len(msgs)]
	a.cursors[pool]++
	return msg
}

func (a *agentRuntime) tickInterval() time.Duration {
	freq := a.profile.ActionFrequency
	mean := (freq.MinActionsPerMinute + freq.MaxActionsPerMinute) / 2
	if mean <= 0 {
		mean = 1
	}
	return time.Duration(60000/mean) * time.Millisecond
}

// Launch moves a created run into the initialisation pipeline. It returns
// after the transition to initializing; the pipeline continues in the
// background.
func (r *Runner) Launch(ctx context.Context, run *models.TestRun) error {
	sc := r.scenarios.Get(run.ScenarioType)
	if sc == nil {
		return fmt.Errorf("%w: %q", ErrInvalidScenario, run.ScenarioType)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{
		testID:   run.TestID,
		scenario: sc,
		ctx:      runCtx,
		cancel:   cancel,
	}

	r.mu.Lock()
	if _, exists := r.active[run.TestID]; exists {
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: test already launched", ErrInvalidStatus)
	}
	r.active[run.TestID] = ar
	r.mu.Unlock()

	now := time.Now().UTC()
	run.StartedAt = &now
	if err := r.setStatus(ctx, run, models.StatusInitializing); err != nil {
		r.mu.Lock()
		delete(r.active, run.TestID)
		r.mu.Unlock()
		cancel()
		return err
	}

	if r.metrics != nil {
		r.metrics.TestsStarted.Inc()
		r.metrics.ActiveTests.Set(float64(r.ActiveCount()))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.initialize(ar)
	}()
	return nil
}

// setStatus performs one state-machine transition, persists it and emits
// test-status-changed exactly once. The persist is conditional on the
// stored status still matching the caller's copy, so a stale copy can
// never overwrite a transition another goroutine already won (a
// terminal state in particular stays terminal).
func (r *Runner) setStatus(ctx context.Context, run *models.TestRun, to models.TestStatus) error {
	if !models.CanTransition(run.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, run.Status, to)
	}
	prev := run.Status
	run.Status = to
	if err := r.repo.Transition(ctx, run, prev); err != nil {
		run.Status = prev
		if errors.Is(err, storage.ErrStaleStatus) {
			return fmt.Errorf("%w: %s -> %s lost to a concurrent transition", ErrInvalidStatus, prev, to)
		}
		return fmt.Errorf("persist status %s: %w", to, err)
	}

	evt := &events.StatusChangedPayload{
		BasePayload:    events.NewBase(events.EventTypeStatusChanged, run.TestID),
		PreviousStatus: prev,
		NewStatus:      to,
	}
	r.bus.Publish(evt)
	slog.Info("Test status changed", "test_id", run.TestID, "from", prev, "to", to)
	return nil
}

// initialize runs the pipeline: coordination channels, target bot,
// testing agents, coordination dwell, then executing.
func (r *Runner) initialize(ar *activeRun) {
	ctx := ar.ctx
	run, err := r.repo.FindByID(ctx, ar.testID)
	if err != nil {
		r.failRun(ar, fmt.Errorf("reload run: %w", err))
		return
	}

	voiceOn := run.Config.VoiceEnabled && r.voiceCli != nil
	if voiceOn {
		channels, err := r.voiceCli.EnsureTestSessionChannels(ctx, r.cfg.DiscordGuildID, run.TestID)
		if err != nil {
			r.failRun(ar, fmt.Errorf("create coordination channels: %w", err))
			return
		}
		run.DiscordTextChannelID = channels.TextChannelID
		run.DiscordVoiceChannelID = channels.VoiceChannelID
		if channels.VoiceChannelID != "" {
			if err := r.voiceCli.JoinVoice(ctx, r.cfg.DiscordGuildID, channels.VoiceChannelID); err != nil {
				slog.Warn("Failed to join voice channel", "test_id", run.TestID, "error", err)
			}
		}
	}

	// Target bot failure is fatal: without the evaluated agent there is
	// no test.
	targetBotID, err := r.gameCli.CreateBot(ctx, game.CreateBotOptions{
		Username:      fmt.Sprintf("Target_%s", shortID(run.TestID)),
		Host:          r.cfg.MinecraftHost,
		Port:          r.cfg.MinecraftPort,
		Version:       r.cfg.MinecraftVersion,
		SpawnTeleport: ar.scenario.InitialConditions.SpawnPosition,
	})
	if err != nil {
		r.failRun(ar, fmt.Errorf("spawn target bot: %w", err))
		return
	}
	ar.targetBotID = targetBotID
	ar.targetAgentID = "target-" + shortID(run.TestID)
	run.TargetBotID = targetBotID
	run.TargetAgentID = ar.targetAgentID

	// Testing agent spawn failures are non-fatal: the test proceeds with
	// fewer adversaries.
	for i, profileName := range run.TestingAgentProfiles {
		profile := r.profiles.Get(profileName)
		if profile == nil {
			slog.Warn("Skipping unknown profile", "test_id", run.TestID, "profile", profileName)
			continue
		}
		art := r.spawnTestingAgent(ctx, run, profile, i, ar.scenario.InitialConditions.SpawnPosition, voiceOn)
		if art != nil {
			ar.agents = append(ar.agents, art)
			run.TestingAgentIDs = append(run.TestingAgentIDs, art.agent.AgentID)
		}
	}

	if err := r.setStatus(ctx, run, models.StatusCoordination); err != nil {
		r.failRun(ar, err)
		return
	}

	// Behaviour loops and the decision loop start together at the top of
	// the coordination phase; decision cycles gate on executing.
	for _, art := range ar.agents {
		r.wg.Add(1)
		go func(art *agentRuntime) {
			defer r.wg.Done()
			r.runBehaviorLoop(ar, art)
		}(art)
	}
	// Copies for the goroutine: run is reassigned after the dwell below.
	model := run.TargetLLMModel
	pollingMs := run.Config.LLMPollingIntervalMs
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runTargetLoop(ar, model, pollingMs)
	}()

	dwell := time.Duration(run.Config.CoordinationPhaseSeconds) * time.Second
	select {
	case <-time.After(dwell):
	case <-ctx.Done():
		return
	}

	run, err = r.repo.FindByID(ctx, ar.testID)
	if err != nil || run.Status.IsTerminal() {
		return
	}
	if err := r.setStatus(ctx, run, models.StatusExecuting); err != nil {
		// A status conflict here means completion won the race; the run
		// is already on its way to a terminal state.
		if errors.Is(err, ErrInvalidStatus) {
			return
		}
		r.failRun(ar, err)
		return
	}

	ar.detector = newCompletionDetector(r, ar, time.Duration(run.DurationSeconds)*time.Second)
	ar.detector.start()
}

// spawnTestingAgent connects one testing agent's bot and registers its
// voice. Returns nil when the spawn failed.
func (r *Runner) spawnTestingAgent(ctx context.Context, run *models.TestRun, profile *models.BehaviouralProfile, idx int, spawn *models.Position, voiceOn bool) *agentRuntime {
	agentID := fmt.Sprintf("%s-%s", profile.Name, shortID(run.TestID))
	now := time.Now().UTC()
	agent := &models.TestingAgent{
		AgentID: agentID,
		Profile: profile.Name,
		Status:  models.AgentSpawning,
		Metadata: models.AgentMetadata{
			TestID:            run.TestID,
			BehaviorIntensity: run.Config.BehaviorIntensity,
		},
	}

	botID, err := r.gameCli.CreateBot(ctx, game.CreateBotOptions{
		Username:      fmt.Sprintf("%s_%d", displayName(profile.Name), idx),
		Host:          r.cfg.MinecraftHost,
		Port:          r.cfg.MinecraftPort,
		Version:       r.cfg.MinecraftVersion,
		SpawnTeleport: spawn,
	})
	if err != nil {
		slog.Warn("Testing agent spawn failed",
			"test_id", run.TestID, "profile", profile.Name, "error", err)
		agent.Status = models.AgentError
		return nil
	}

	agent.MinecraftBotID = botID
	agent.Status = models.AgentActive
	agent.SpawnedAt = &now

	if voiceOn {
		if err := r.voiceCli.RegisterAgentVoice(ctx, agentID, string(profile.Name)); err != nil {
			slog.Warn("Voice registration failed", "test_id", run.TestID, "agent_id", agentID, "error", err)
		}
	}

	return &agentRuntime{
		agent:   agent,
		profile: profile,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx))),
		cursors: make(map[string]int),
	}
}

// Stop cancels an active run with reason manual-stop. Unknown or already
// terminal runs are a no-op.
func (r *Runner) Stop(testID string) {
	r.mu.Lock()
	ar := r.active[testID]
	r.mu.Unlock()
	if ar == nil {
		return
	}
	r.triggerCompletion(ar, models.ReasonManualStop)
}

// failRun terminates a run after an unrecoverable initialisation error.
func (r *Runner) failRun(ar *activeRun, cause error) {
	slog.Error("Test initialisation failed", "test_id", ar.testID, "error", cause)
	r.bus.Publish(&events.ErrorPayload{
		BasePayload: events.NewBase(events.EventTypeError, ar.testID),
		Message:     cause.Error(),
		Fatal:       true,
	})
	r.triggerCompletion(ar, models.ReasonError)
}

// triggerCompletion drives a run to its terminal state. Idempotent: the
// second and later invocations are no-ops.
func (r *Runner) triggerCompletion(ar *activeRun, reason models.CompletionReason) {
	ar.completeOnce.Do(func() {
		ar.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		run, err := r.repo.FindByID(ctx, ar.testID)
		if err != nil {
			slog.Error("Completion could not load run", "test_id", ar.testID, "error", err)
			r.forget(ar.testID)
			return
		}
		if run.Status.IsTerminal() {
			r.forget(ar.testID)
			return
		}

		// The cancelled initialize pipeline can still land one last
		// transition; a stale conflict here means the stored status moved
		// under us, so reload and try once more from the fresh state.
		if err := r.setStatus(ctx, run, models.StatusCompleting); err != nil {
			if reloaded, rerr := r.repo.FindByID(ctx, ar.testID); rerr == nil {
				run = reloaded
				if run.Status.IsTerminal() {
					r.forget(ar.testID)
					return
				}
				err = r.setStatus(ctx, run, models.StatusCompleting)
			}
			if err != nil {
				slog.Warn("Transition to completing failed", "test_id", ar.testID, "error", err)
			}
		}

		r.runCleanup(ctx, ar, run)

		now := time.Now().UTC()
		run.EndedAt = &now
		run.CompletionReason = reason
		if err := r.setStatus(ctx, run, models.TerminalStatusFor(reason)); err != nil {
			slog.Error("Terminal transition failed", "test_id", ar.testID, "error", err)
		}

		final, err := r.repo.FindByID(ctx, ar.testID)
		metrics := run.Metrics
		if err == nil {
			metrics = final.Metrics
		}
		r.bus.Publish(&events.CompletedPayload{
			BasePayload:  events.NewBase(events.EventTypeCompleted, ar.testID),
			Reason:       reason,
			FinalMetrics: metrics,
		})
		slog.Info("Test completed", "test_id", ar.testID, "reason", reason)

		r.forget(ar.testID)
		if r.metrics != nil {
			r.metrics.TestsCompleted.WithLabelValues(string(reason)).Inc()
			r.metrics.ActiveTests.Set(float64(r.ActiveCount()))
		}
	})
}

func (r *Runner) forget(testID string) {
	r.mu.Lock()
	delete(r.active, testID)
	r.mu.Unlock()
}

// ActiveCount returns the number of runs the Runner currently owns.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown cancels every active run and waits for their loops, bounded
// by the context deadline.
func (r *Runner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	runs := make([]*activeRun, 0, len(r.active))
	for _, ar := range r.active {
		runs = append(runs, ar)
	}
	r.mu.Unlock()

	for _, ar := range runs {
		r.triggerCompletion(ar, models.ReasonManualStop)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Shutdown deadline reached with loops still running")
	}
}

// publishMetrics emits a fresh metrics snapshot for a run.
func (r *Runner) publishMetrics(ctx context.Context, testID string) {
	run, err := r.repo.FindByID(ctx, testID)
	if err != nil {
		return
	}
	r.bus.Publish(&events.MetricsUpdatedPayload{
		BasePayload: events.NewBase(events.EventTypeMetricsUpdated, testID),
		Metrics:     run.Metrics,
	})
}

// appendLog persists one action log entry; failures are logged only.
func (r *Runner) appendLog(ctx context.Context, log *models.ActionLog) {
	if log.LogID == "" {
		log.LogID = uuid.New().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	if err := r.repo.CreateActionLog(ctx, log); err != nil {
		slog.Warn("Failed to persist action log", "test_id", log.TestID, "error", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// displayName turns a profile name into a bot username fragment.
func displayName(p models.ProfileName) string {
	switch p {
	case models.ProfileLeader:
		return "Leader"
	case models.ProfileFollower:
		return "Follower"
	case models.ProfileNonCooperator:
		return "Rebel"
	case models.ProfileConfuser:
		return "Confuser"
	case models.ProfileResourceHoarder:
		return "Hoarder"
	case models.ProfileTaskAbandoner:
		return "Drifter"
	}
	return "Agent"
}
