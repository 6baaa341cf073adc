package runner

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/craftlab-ai/gauntlet/pkg/events"
	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// runBehaviorLoop drives one testing agent. The leader starts
// immediately; every other profile waits so the leader speaks first.
// The delay is a convention, not a barrier: late starts are harmless.
func (r *Runner) runBehaviorLoop(ar *activeRun, art *agentRuntime) {
	if art.agent.Profile != models.ProfileLeader {
		select {
		case <-time.After(followerStartDelay):
		case <-ar.ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(art.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ar.ctx.Done():
			return
		case <-ticker.C:
		}
		r.behaviorTick(ar, art)
	}
}

// behaviorTick runs one select -> execute -> report cycle. Game failures
// are absorbed: the loop always reaches its next tick.
func (r *Runner) behaviorTick(ar *activeRun, art *agentRuntime) {
	ctx := ar.ctx
	if art.agent.MinecraftBotID == "" || !art.isActive() {
		return
	}

	tag := r.selectBehavior(ctx, art)
	result := r.executeBehavior(ctx, art, tag)

	r.bus.Publish(&events.AgentActionPayload{
		BasePayload: events.NewBase(events.EventTypeAgentAction, ar.testID),
		AgentID:     art.agent.AgentID,
		SourceType:  models.SourceTestingAgent,
		Action:      string(tag),
		Success:     result.success,
		Detail:      result.detail,
	})
	_ = r.repo.IncrementMetric(ctx, ar.testID, models.MetricTestingAgentActionCount, 1)

	if result.chat != "" {
		r.bus.Publish(&events.ChatMessagePayload{
			BasePayload: events.NewBase(events.EventTypeChatMessage, ar.testID),
			AgentID:     art.agent.AgentID,
			SourceType:  models.SourceTestingAgent,
			Channel:     events.ChannelText,
			Message:     result.chat,
		})
		_ = r.repo.IncrementMetric(ctx, ar.testID, models.MetricTestingAgentMsgCount, 1)
	}
	r.publishMetrics(ctx, ar.testID)

	r.subtleDrift(ctx, art)

	art.recordAction(time.Now().UTC())

	r.appendLog(ctx, &models.ActionLog{
		TestID:         ar.testID,
		SourceAgentID:  art.agent.AgentID,
		SourceType:     models.SourceTestingAgent,
		ActionCategory: models.CategoryMinecraft,
		ActionDetail:   string(tag),
		Metadata: map[string]any{
			"profile": art.agent.Profile,
			"success": result.success,
			"chat":    result.chat,
		},
	})
}

// subtleDrift keeps agents from standing still: a short walk toward a
// random bearing after every tick.
func (r *Runner) subtleDrift(ctx context.Context, art *agentRuntime) {
	botID := art.agent.MinecraftBotID
	state, err := r.gameCli.GetState(ctx, botID)
	if err != nil {
		return
	}
	bearing := art.rng.Float64() * 2 * math.Pi
	x := state.Position.X + 4*math.Cos(bearing)
	z := state.Position.Z + 4*math.Sin(bearing)
	if err := r.gameCli.LookAt(ctx, botID, x, state.Position.Y, z); err != nil {
		return
	}
	walk := time.Duration(600+art.rng.Intn(801)) * time.Millisecond
	if err := r.gameCli.WalkForward(ctx, botID, walk); err != nil {
		slog.Debug("Drift walk failed", "agent_id", art.agent.AgentID, "error", err)
	}
}
