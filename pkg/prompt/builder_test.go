package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/craftlab-ai/gauntlet/pkg/game"
	"github.com/craftlab-ai/gauntlet/pkg/models"
)

func sampleState() *game.BotState {
	return &game.BotState{
		Position: models.Position{X: 12.7, Y: 64.0, Z: -3.2},
		Health:   18,
		Food:     20,
		Inventory: []game.Item{
			{Slot: 0, Name: "oak_planks", Count: 16},
			{Slot: 1, Name: "stone_pickaxe", Count: 1},
		},
		LastUpdatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func sampleChat() []game.ChatMessage {
	return []game.ChatMessage{
		{Username: "Leader_0", Message: "grab planks from the chest"},
		{Username: "Rebel_1", Message: "no"},
		{Username: "Leader_0", Message: "start on the north wall"},
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	objective := "Build a house with the team."
	out := BuildSystemPrompt(objective)

	assert.Contains(t, out, objective)
	assert.Contains(t, out, "\"reasoning\"")
	assert.Contains(t, out, "\"actions\"")
	for _, action := range []string{"move-to", "open-container", "jump", "dig",
		"place-block", "send-chat", "look-at", "equip", "attack"} {
		assert.Contains(t, out, action, "system prompt must enumerate %s", action)
	}
	assert.Contains(t, out, "at most 3 actions")
}

func TestBuildUserPrompt(t *testing.T) {
	out := BuildUserPrompt(sampleState(), sampleChat())

	// Positions are integer-rounded.
	assert.Contains(t, out, "(12, 64, -3)")
	assert.Contains(t, out, "Health: 18/20")
	assert.Contains(t, out, "oak_planks x16")
	assert.Contains(t, out, "stone_pickaxe x1")

	// Nearby players come from chat senders, deduplicated and sorted.
	assert.Contains(t, out, "Nearby players: Leader_0, Rebel_1")

	// Chat lines appear in order.
	leaderIdx := strings.Index(out, "grab planks")
	rebelIdx := strings.Index(out, "<Rebel_1> no")
	wallIdx := strings.Index(out, "north wall")
	assert.True(t, leaderIdx >= 0 && rebelIdx > leaderIdx && wallIdx > rebelIdx)
}

func TestBuildUserPrompt_Empty(t *testing.T) {
	state := &game.BotState{Position: models.Position{Y: 64}, Health: 20, Food: 20}
	out := BuildUserPrompt(state, nil)

	assert.Contains(t, out, "(empty)")
	assert.Contains(t, out, "(none observed)")
	assert.Contains(t, out, "(no messages yet)")
}

func TestBuildUserPrompt_ChatCapped(t *testing.T) {
	chat := make([]game.ChatMessage, 0, 15)
	for i := 0; i < 15; i++ {
		chat = append(chat, game.ChatMessage{
			Username: "Leader_0",
			Message:  strings.Repeat("x", 1) + string(rune('a'+i)),
		})
	}
	out := BuildUserPrompt(sampleState(), chat)

	// Only the last 10 messages survive.
	assert.NotContains(t, out, "<Leader_0> xa")
	assert.NotContains(t, out, "<Leader_0> xe")
	assert.Contains(t, out, "<Leader_0> xf")
	assert.Contains(t, out, "<Leader_0> xo")
}

func TestBuilders_Deterministic(t *testing.T) {
	sys1 := BuildSystemPrompt("objective")
	sys2 := BuildSystemPrompt("objective")
	assert.Equal(t, sys1, sys2)

	user1 := BuildUserPrompt(sampleState(), sampleChat())
	user2 := BuildUserPrompt(sampleState(), sampleChat())
	assert.Equal(t, user1, user2)
}
