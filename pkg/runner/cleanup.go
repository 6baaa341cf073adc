package runner

import (
	"context"
	"log/slog"

	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// runCleanup releases every resource a run holds, in a fixed order. Each
// step's failure is logged and the remaining steps still run, so a dead
// bridge never strands bots or channels that are still reachable.
func (r *Runner) runCleanup(ctx context.Context, ar *activeRun, run *models.TestRun) {
	log := slog.With("test_id", ar.testID)

	// 1. Completion detector timers.
	if ar.detector != nil {
		ar.detector.stop()
	}

	// 2. Target decision loop. Cancelling the run context prevents the
	// next tick; an in-flight LLM call is abandoned with it.
	ar.cancel()

	// 3. Testing agents: terminate, stop loops, disconnect bots. The
	// status write is guarded because a behaviour loop may still be in
	// its final tick.
	for _, art := range ar.agents {
		art.terminate()
		if art.agent.MinecraftBotID != "" {
			if err := r.gameCli.DisconnectBot(ctx, art.agent.MinecraftBotID); err != nil {
				log.Warn("Testing agent bot disconnect failed",
					"agent_id", art.agent.AgentID, "error", err)
			}
		}
	}

	// 4. Target bot.
	if ar.targetBotID != "" {
		if err := r.gameCli.DisconnectBot(ctx, ar.targetBotID); err != nil {
			log.Warn("Target bot disconnect failed", "error", err)
		}
	}

	// 5. Leave voice. Channel records stay on the run for later review.
	if r.voiceCli != nil && run.DiscordVoiceChannelID != "" {
		if err := r.voiceCli.LeaveVoice(ctx, r.cfg.DiscordGuildID); err != nil {
			log.Warn("Leaving voice channel failed", "error", err)
		}
	}

	// 6. Per-agent voice registrations.
	if r.voiceCli != nil {
		for _, art := range ar.agents {
			if err := r.voiceCli.UnregisterAgentVoice(ctx, art.agent.AgentID); err != nil {
				log.Warn("Voice unregister failed", "agent_id", art.agent.AgentID, "error", err)
			}
		}
	}

	// 7. Persist the final structural state.
	if err := r.repo.Update(ctx, run); err != nil {
		log.Warn("Final state persist failed", "error", err)
	}
}
