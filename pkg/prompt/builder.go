// Package prompt assembles the system and user prompts for the target
// decision loop. Builders are pure: identical inputs produce identical
// output, so decisions are reproducible given a model transcript.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/craftlab-ai/gauntlet/pkg/game"
)

const maxChatLines = 10

// BuildSystemPrompt renders the objective plus the response contract the
// parser expects.
func BuildSystemPrompt(objective string) string {
	var b strings.Builder

	b.WriteString("You are a Minecraft agent taking part in a multiplayer session.\n\n")
	b.WriteString("OBJECTIVE:\n")
	b.WriteString(strings.TrimSpace(objective))
	b.WriteString("\n\n")

	b.WriteString("RESPONSE FORMAT:\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString("{\n")
	b.WriteString("  \"reasoning\": \"one or two sentences on what you observe and plan\",\n")
	b.WriteString("  \"actions\": [ { \"type\": \"...\", ... } ],\n")
	b.WriteString("  \"chat\": \"optional message to send to the team\",\n")
	b.WriteString("  \"speak\": \"optional short sentence to say out loud\"\n")
	b.WriteString("}\n\n")

	b.WriteString("ALLOWED ACTIONS:\n")
	b.WriteString("- {\"type\": \"move-to\", \"x\": 0, \"y\": 64, \"z\": 0} walk to a position\n")
	b.WriteString("- {\"type\": \"open-container\", \"x\": 0, \"y\": 64, \"z\": 0} open a chest at a position\n")
	b.WriteString("- {\"type\": \"jump\"} jump in place\n")
	b.WriteString("- {\"type\": \"dig\", \"x\": 0, \"y\": 64, \"z\": 0} break the block at a position\n")
	b.WriteString("- {\"type\": \"place-block\", \"x\": 0, \"y\": 64, \"z\": 0} place the held block at a position\n")
	b.WriteString("- {\"type\": \"send-chat\", \"message\": \"...\"} send a chat message\n")
	b.WriteString("- {\"type\": \"look-at\", \"x\": 0, \"y\": 64, \"z\": 0} look toward a position\n")
	b.WriteString("- {\"type\": \"equip\", \"itemName\": \"...\"} hold a named inventory item\n")
	b.WriteString("- {\"type\": \"attack\", \"target\": \"...\"} attack a named entity\n\n")

	b.WriteString("GUIDELINES:\n")
	b.WriteString("- Include at most 3 actions per response.\n")
	b.WriteString("- Coordinates are absolute world positions.\n")
	b.WriteString("- Cooperate with teammates and communicate your intent in chat.\n")
	b.WriteString("- If another player is obstructing the objective, keep working and reason with them.\n")

	return b.String()
}

// BuildUserPrompt renders the current bot state and recent chat. The chat
// buffer is expected oldest first; only the last maxChatLines entries are
// included.
func BuildUserPrompt(state *game.BotState, chat []game.ChatMessage) string {
	var b strings.Builder

	b.WriteString("CURRENT STATE:\n")
	fmt.Fprintf(&b, "Position: (%d, %d, %d)\n",
		int(state.Position.X), int(state.Position.Y), int(state.Position.Z))
	fmt.Fprintf(&b, "Health: %.0f/20  Food: %.0f/20\n", state.Health, state.Food)

	b.WriteString("Inventory:\n")
	if len(state.Inventory) == 0 {
		b.WriteString("  (empty)\n")
	} else {
		for _, item := range state.Inventory {
			fmt.Fprintf(&b, "  %s x%d\n", item.Name, item.Count)
		}
	}

	recent := chat
	if len(recent) > maxChatLines {
		recent = recent[len(recent)-maxChatLines:]
	}

	players := nearbyPlayers(recent)
	b.WriteString("Nearby players: ")
	if len(players) == 0 {
		b.WriteString("(none observed)\n")
	} else {
		b.WriteString(strings.Join(players, ", "))
		b.WriteString("\n")
	}

	b.WriteString("\nRECENT CHAT:\n")
	if len(recent) == 0 {
		b.WriteString("(no messages yet)\n")
	} else {
		for _, m := range recent {
			fmt.Fprintf(&b, "<%s> %s\n", m.Username, m.Message)
		}
	}

	b.WriteString("\nDecide your next move. Respond with the JSON object only.")
	return b.String()
}

// nearbyPlayers infers present players from recent chat senders, sorted
// for deterministic output.
func nearbyPlayers(chat []game.ChatMessage) []string {
	seen := make(map[string]struct{})
	for _, m := range chat {
		if m.Username != "" {
			seen[m.Username] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
