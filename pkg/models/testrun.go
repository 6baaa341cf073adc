// Package models defines the core domain types shared across the engine:
// test runs, metrics, agents, action logs, scenarios and behavioural profiles.
package models

import "time"

// TestStatus is the lifecycle state of a test run.
type TestStatus string

// Test run statuses.
const (
	StatusCreated      TestStatus = "created"
	StatusInitializing TestStatus = "initializing"
	StatusCoordination TestStatus = "coordination"
	StatusExecuting    TestStatus = "executing"
	StatusCompleting   TestStatus = "completing"
	StatusCompleted    TestStatus = "completed"
	StatusFailed       TestStatus = "failed"
	StatusCancelled    TestStatus = "cancelled"
)

// IsActive reports whether the status counts against the concurrency cap.
func (s TestStatus) IsActive() bool {
	switch s {
	case StatusInitializing, StatusCoordination, StatusExecuting, StatusCompleting:
		return true
	}
	return false
}

// IsTerminal reports whether the status is absorbing.
func (s TestStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known test status.
func ValidStatus(s TestStatus) bool {
	switch s {
	case StatusCreated, StatusInitializing, StatusCoordination, StatusExecuting,
		StatusCompleting, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits from → to.
// Terminal states are absorbing; active states may always move to a
// terminal state (completion, failure, cancellation).
func CanTransition(from, to TestStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case StatusInitializing:
		return from == StatusCreated
	case StatusCoordination:
		return from == StatusInitializing
	case StatusExecuting:
		return from == StatusCoordination
	case StatusCompleting:
		return from.IsActive()
	case StatusCompleted, StatusFailed, StatusCancelled:
		return from.IsActive()
	}
	return false
}

// CompletionReason explains why a run reached a terminal state.
type CompletionReason string

// Completion reasons.
const (
	ReasonSuccess         CompletionReason = "success"
	ReasonTimeout         CompletionReason = "timeout"
	ReasonManualStop      CompletionReason = "manual-stop"
	ReasonError           CompletionReason = "error"
	ReasonAllAgentsFailed CompletionReason = "all-agents-failed"
)

// TerminalStatusFor maps a completion reason to the terminal run status.
func TerminalStatusFor(reason CompletionReason) TestStatus {
	switch reason {
	case ReasonSuccess, ReasonTimeout:
		return StatusCompleted
	case ReasonManualStop:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Metric field names accepted by Repository.IncrementMetric and
// UpdateMetricTimestamp. Counter fields are monotonic non-decreasing.
const (
	MetricLLMDecisionCount        = "llmDecisionCount"
	MetricTargetActionCount       = "targetActionCount"
	MetricTestingAgentActionCount = "testingAgentActionCount"
	MetricTargetMessageCount      = "targetMessageCount"
	MetricTestingAgentMsgCount    = "testingAgentMessageCount"
	MetricLLMErrorCount           = "llmErrorCount"
	MetricTotalLLMResponseTimeMs  = "totalLlmResponseTimeMs"
	MetricLastLLMDecisionAt       = "lastLlmDecisionAt"
)

// TestMetrics is the embedded counter record of a run.
type TestMetrics struct {
	LLMDecisionCount         int64      `json:"llmDecisionCount"`
	TargetActionCount        int64      `json:"targetActionCount"`
	TestingAgentActionCount  int64      `json:"testingAgentActionCount"`
	TargetMessageCount       int64      `json:"targetMessageCount"`
	TestingAgentMessageCount int64      `json:"testingAgentMessageCount"`
	LLMErrorCount            int64      `json:"llmErrorCount"`
	TotalLLMResponseTimeMs   int64      `json:"totalLlmResponseTimeMs"`
	LastLLMDecisionAt        *time.Time `json:"lastLlmDecisionAt"`
}

// TestRunConfig holds per-run tunables. Values are fully resolved (defaults
// applied, bounds clamped) before the run is persisted.
type TestRunConfig struct {
	LLMPollingIntervalMs     int     `json:"llmPollingIntervalMs"`
	CoordinationPhaseSeconds int     `json:"coordinationPhaseSeconds"`
	BehaviorIntensity        float64 `json:"behaviorIntensity"`
	VoiceEnabled             bool    `json:"voiceEnabled"`
}

// TestRunConfigPatch carries partial config overrides from CreateTest.
type TestRunConfigPatch struct {
	LLMPollingIntervalMs     *int     `json:"llmPollingIntervalMs,omitempty"`
	CoordinationPhaseSeconds *int     `json:"coordinationPhaseSeconds,omitempty"`
	BehaviorIntensity        *float64 `json:"behaviorIntensity,omitempty"`
	VoiceEnabled             *bool    `json:"voiceEnabled,omitempty"`
}

// TestRun is the primary aggregate: one adversarial test of a target agent.
//
// Invariants: startedAt ≤ endedAt; a terminal status never transitions
// again; completionReason is non-empty iff the status is terminal.
type TestRun struct {
	TestID                string           `json:"testId"`
	ScenarioType          ScenarioType     `json:"scenarioType"`
	Status                TestStatus       `json:"status"`
	TargetLLMModel        string           `json:"targetLlmModel"`
	TestingAgentProfiles  []ProfileName    `json:"testingAgentProfiles"`
	TestingAgentIDs       []string         `json:"testingAgentIds"`
	TargetAgentID         string           `json:"targetAgentId,omitempty"`
	TargetBotID           string           `json:"targetBotId,omitempty"`
	DiscordTextChannelID  string           `json:"discordTextChannelId,omitempty"`
	DiscordVoiceChannelID string           `json:"discordVoiceChannelId,omitempty"`
	DurationSeconds       int              `json:"durationSeconds"`
	CreatedAt             time.Time        `json:"createdAt"`
	StartedAt             *time.Time       `json:"startedAt,omitempty"`
	EndedAt               *time.Time       `json:"endedAt,omitempty"`
	CompletionReason      CompletionReason `json:"completionReason,omitempty"`
	Config                TestRunConfig    `json:"config"`
	Metrics               TestMetrics      `json:"metrics"`
}

// Clone returns a deep copy so callers can mutate without racing the store.
func (r *TestRun) Clone() *TestRun {
	cp := *r
	cp.TestingAgentProfiles = append([]ProfileName(nil), r.TestingAgentProfiles...)
	cp.TestingAgentIDs = append([]string(nil), r.TestingAgentIDs...)
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		cp.EndedAt = &t
	}
	if r.Metrics.LastLLMDecisionAt != nil {
		t := *r.Metrics.LastLLMDecisionAt
		cp.Metrics.LastLLMDecisionAt = &t
	}
	return &cp
}

// AgentStatus is the lifecycle state of a testing agent.
type AgentStatus string

// Testing agent statuses.
const (
	AgentIdle       AgentStatus = "idle"
	AgentSpawning   AgentStatus = "spawning"
	AgentActive     AgentStatus = "active"
	AgentPaused     AgentStatus = "paused"
	AgentTerminated AgentStatus = "terminated"
	AgentError      AgentStatus = "error"
)

// AgentMetadata links a testing agent back to its run.
type AgentMetadata struct {
	TestID            string  `json:"testId"`
	BehaviorIntensity float64 `json:"behaviorIntensity"`
}

// TestingAgent is one scripted adversarial/cooperative actor.
type TestingAgent struct {
	AgentID        string        `json:"agentId"`
	Profile        ProfileName   `json:"profile"`
	Status         AgentStatus   `json:"status"`
	MinecraftBotID string        `json:"minecraftBotId,omitempty"`
	SystemPrompt   string        `json:"systemPrompt,omitempty"`
	SpawnedAt      *time.Time    `json:"spawnedAt,omitempty"`
	LastActionAt   *time.Time    `json:"lastActionAt,omitempty"`
	ActionCount    int           `json:"actionCount"`
	Metadata       AgentMetadata `json:"metadata"`
}

// SourceType distinguishes who performed an action.
type SourceType string

// Action sources.
const (
	SourceTarget       SourceType = "target"
	SourceTestingAgent SourceType = "testing-agent"
)

// ActionCategory classifies a logged action.
type ActionCategory string

// Action categories.
const (
	CategoryMinecraft   ActionCategory = "minecraft"
	CategoryDiscord     ActionCategory = "discord"
	CategoryLLMDecision ActionCategory = "llm-decision"
)

// ActionLog is an append-only record of one action or decision.
type ActionLog struct {
	LogID          string         `json:"logId"`
	TestID         string         `json:"testId"`
	SourceAgentID  string         `json:"sourceAgentId"`
	SourceType     SourceType     `json:"sourceType"`
	ActionCategory ActionCategory `json:"actionCategory"`
	ActionDetail   string         `json:"actionDetail"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// TestFilters narrows FindAll results.
type TestFilters struct {
	Status       TestStatus   `json:"status,omitempty"`
	ScenarioType ScenarioType `json:"scenarioType,omitempty"`
}

// CreateTestRequest is the body of POST /api/tests.
type CreateTestRequest struct {
	ScenarioType         ScenarioType        `json:"scenarioType"`
	TargetLLMModel       string              `json:"targetLlmModel,omitempty"`
	TestingAgentProfiles []ProfileName       `json:"testingAgentProfiles,omitempty"`
	DurationSeconds      *int                `json:"durationSeconds,omitempty"`
	Config               *TestRunConfigPatch `json:"config,omitempty"`
}
