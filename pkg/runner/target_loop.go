package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/craftlab-ai/gauntlet/pkg/events"
	"github.com/craftlab-ai/gauntlet/pkg/llm"
	"github.com/craftlab-ai/gauntlet/pkg/models"
	"github.com/craftlab-ai/gauntlet/pkg/prompt"
)

const (
	targetTemperature = 0.7
	targetMaxTokens   = 1024
	chatBufferSize    = 20
)

// runTargetLoop drives the target LLM through observe -> decide -> act
// cycles until the run terminates. Cycles only act while the run is
// executing; the ticker keeps running through coordination so the first
// decision lands right after the dwell.
func (r *Runner) runTargetLoop(ar *activeRun, model string, pollingIntervalMs int) {
	interval := time.Duration(pollingIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ar.ctx.Done():
			return
		case <-ticker.C:
		}

		run, err := r.repo.FindByID(ar.ctx, ar.testID)
		if err != nil || run.Status.IsTerminal() {
			return
		}
		if run.Status != models.StatusExecuting {
			continue
		}

		r.targetCycle(ar, run, model)
	}
}

// targetCycle executes one decision cycle. Errors never propagate: they
// become metrics and events and the loop moves to the next tick.
func (r *Runner) targetCycle(ar *activeRun, run *models.TestRun, model string) {
	ctx := ar.ctx

	state, err := r.gameCli.GetState(ctx, ar.targetBotID)
	if err != nil {
		slog.Warn("Target state snapshot failed", "test_id", ar.testID, "error", err)
		return
	}
	chat, err := r.gameCli.RecentChat(ctx, ar.targetBotID, chatBufferSize)
	if err != nil {
		chat = nil
	}

	systemPrompt := prompt.BuildSystemPrompt(ar.scenario.ObjectivePrompt)
	userPrompt := prompt.BuildUserPrompt(state, chat)

	started := time.Now()
	resp, err := r.llmCli.Chat(ctx, llm.ChatRequest{
		Model:       model,
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: userPrompt}},
		Temperature: targetTemperature,
		MaxTokens:   targetMaxTokens,
	})
	responseTimeMs := time.Since(started).Milliseconds()

	if err != nil {
		r.recordLLMError(ctx, ar.testID, fmt.Errorf("llm call: %w", err))
		return
	}
	if r.metrics != nil {
		r.metrics.LLMResponseTime.Observe(float64(responseTimeMs) / 1000)
	}

	decision, err := llm.ParseDecision(resp.Text)
	if err != nil {
		r.recordLLMError(ctx, ar.testID, fmt.Errorf("parse decision: %w", err))
		return
	}
	if r.metrics != nil {
		r.metrics.LLMDecisions.Inc()
	}

	if decision.IsEmpty() {
		r.fallbackExploration(ctx, ar)
	}

	// Counter updates go through the repository so concurrent behaviour
	// loops never lose increments.
	now := time.Now().UTC()
	_ = r.repo.IncrementMetric(ctx, ar.testID, models.MetricLLMDecisionCount, 1)
	_ = r.repo.IncrementMetric(ctx, ar.testID, models.MetricTotalLLMResponseTimeMs, responseTimeMs)
	_ = r.repo.UpdateMetricTimestamp(ctx, ar.testID, models.MetricLastLLMDecisionAt, now)

	actionTypes := make([]string, 0, len(decision.Actions))
	for _, a := range decision.Actions {
		actionTypes = append(actionTypes, a.Type)
	}
	r.bus.Publish(&events.LLMDecisionPayload{
		BasePayload:    events.NewBase(events.EventTypeLLMDecision, ar.testID),
		AgentID:        ar.targetAgentID,
		Reasoning:      decision.Reasoning,
		ParsedActions:  actionTypes,
		Chat:           decision.Chat,
		Speak:          decision.Speak,
		ResponseTimeMs: responseTimeMs,
	})
	r.publishMetrics(ctx, ar.testID)

	for _, action := range decision.Actions {
		r.executeTargetAction(ctx, ar, action)
	}

	if decision.Chat != "" {
		r.sendTargetChat(ctx, ar, run, decision.Chat)
	}

	if decision.Speak != "" && run.Config.VoiceEnabled && r.voiceCli != nil {
		if err := r.voiceCli.SpeakAsAgent(ctx, ar.targetAgentID, decision.Speak); err != nil {
			slog.Warn("Target TTS failed", "test_id", ar.testID, "error", err)
		} else {
			r.bus.Publish(&events.ChatMessagePayload{
				BasePayload: events.NewBase(events.EventTypeChatMessage, ar.testID),
				AgentID:     ar.targetAgentID,
				SourceType:  models.SourceTarget,
				Channel:     events.ChannelVoice,
				Message:     decision.Speak,
			})
		}
	}

	meta, _ := json.Marshal(decision.Actions)
	r.appendLog(ctx, &models.ActionLog{
		TestID:         ar.testID,
		SourceAgentID:  ar.targetAgentID,
		SourceType:     models.SourceTarget,
		ActionCategory: models.CategoryLLMDecision,
		ActionDetail:   decision.Reasoning,
		Metadata: map[string]any{
			"actions":        json.RawMessage(meta),
			"responseTimeMs": responseTimeMs,
			"chat":           decision.Chat,
		},
	})
}

// recordLLMError counts a transient LLM failure and emits a non-fatal
// error event.
func (r *Runner) recordLLMError(ctx context.Context, testID string, cause error) {
	slog.Warn("Target LLM cycle failed", "test_id", testID, "error", cause)
	_ = r.repo.IncrementMetric(ctx, testID, models.MetricLLMErrorCount, 1)
	if r.metrics != nil {
		r.metrics.LLMErrors.Inc()
	}
	r.bus.Publish(&events.ErrorPayload{
		BasePayload: events.NewBase(events.EventTypeError, testID),
		Message:     cause.Error(),
		Fatal:       false,
	})
}

// executeTargetAction runs one parsed action against the game client and
// emits agent-action with the observed outcome.
func (r *Runner) executeTargetAction(ctx context.Context, ar *activeRun, action llm.Action) {
	var err error
	detail := ""

	switch action.Type {
	case llm.ActionMoveTo:
		err = r.gameCli.PathfindTo(ctx, ar.targetBotID, action.X, action.Y, action.Z, 1)
	case llm.ActionOpenContainer:
		container, openErr := r.gameCli.OpenContainer(ctx, ar.targetBotID, action.X, action.Y, action.Z)
		err = openErr
		if openErr == nil {
			items, _ := container.Items(ctx)
			detail = fmt.Sprintf("%d item stacks", len(items))
			_ = container.Close(ctx)
		}
	case llm.ActionJump:
		err = r.gameCli.Jump(ctx, ar.targetBotID)
	case llm.ActionDig:
		err = r.gameCli.Dig(ctx, ar.targetBotID, action.X, action.Y, action.Z)
	case llm.ActionPlaceBlock:
		err = r.gameCli.PlaceBlock(ctx, ar.targetBotID, action.X, action.Y-1, action.Z, models.Position{Y: 1})
	case llm.ActionSendChat:
		err = r.gameCli.SendChat(ctx, ar.targetBotID, action.Message)
		detail = action.Message
	case llm.ActionLookAt:
		err = r.gameCli.LookAt(ctx, ar.targetBotID, action.X, action.Y, action.Z)
	case llm.ActionEquip:
		err = r.gameCli.Equip(ctx, ar.targetBotID, action.ItemName, "hand")
		detail = action.ItemName
	case llm.ActionAttack:
		err = r.gameCli.Attack(ctx, ar.targetBotID, action.Target)
		detail = action.Target
	default:
		slog.Info("Skipping unknown action type", "test_id", ar.testID, "type", action.Type)
		return
	}

	success := err == nil
	if err != nil {
		detail = err.Error()
	}
	if success {
		_ = r.repo.IncrementMetric(ctx, ar.testID, models.MetricTargetActionCount, 1)
	}

	r.bus.Publish(&events.AgentActionPayload{
		BasePayload: events.NewBase(events.EventTypeAgentAction, ar.testID),
		AgentID:     ar.targetAgentID,
		SourceType:  models.SourceTarget,
		Action:      action.Type,
		Success:     success,
		Detail:      detail,
	})
}

// sendTargetChat delivers the decision's chat line to the in-game channel
// and mirrors it to the coordination text channel when configured.
func (r *Runner) sendTargetChat(ctx context.Context, ar *activeRun, run *models.TestRun, message string) {
	if err := r.gameCli.SendChat(ctx, ar.targetBotID, message); err != nil {
		slog.Warn("Target chat failed", "test_id", ar.testID, "error", err)
		return
	}
	_ = r.repo.IncrementMetric(ctx, ar.testID, models.MetricTargetMessageCount, 1)
	r.bus.Publish(&events.ChatMessagePayload{
		BasePayload: events.NewBase(events.EventTypeChatMessage, ar.testID),
		AgentID:     ar.targetAgentID,
		SourceType:  models.SourceTarget,
		Channel:     events.ChannelText,
		Message:     message,
	})
	r.publishMetrics(ctx, ar.testID)

	if r.voiceCli != nil && run.DiscordTextChannelID != "" {
		if err := r.voiceCli.SendChannelMessage(ctx, run.DiscordTextChannelID, "Target", message); err != nil {
			slog.Warn("Discord mirror failed", "test_id", ar.testID, "error", err)
		}
	}
}

// fallbackExploration nudges an indecisive target: look toward a random
// horizontal bearing 8 blocks out, then walk forward briefly.
func (r *Runner) fallbackExploration(ctx context.Context, ar *activeRun) {
	state, err := r.gameCli.GetState(ctx, ar.targetBotID)
	if err != nil {
		return
	}
	bearing := rand.Float64() * 2 * math.Pi
	x := state.Position.X + 8*math.Cos(bearing)
	z := state.Position.Z + 8*math.Sin(bearing)
	if err := r.gameCli.LookAt(ctx, ar.targetBotID, x, state.Position.Y, z); err != nil {
		return
	}
	_ = r.gameCli.WalkForward(ctx, ar.targetBotID, 800*time.Millisecond)
}
