package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Action types the decision loop accepts from the model.
const (
	ActionMoveTo        = "move-to"
	ActionOpenContainer = "open-container"
	ActionJump          = "jump"
	ActionDig           = "dig"
	ActionPlaceBlock    = "place-block"
	ActionSendChat      = "send-chat"
	ActionLookAt        = "look-at"
	ActionEquip         = "equip"
	ActionAttack        = "attack"
)

// KnownActionType reports whether the decision loop can execute a type.
func KnownActionType(t string) bool {
	switch t {
	case ActionMoveTo, ActionOpenContainer, ActionJump, ActionDig,
		ActionPlaceBlock, ActionSendChat, ActionLookAt, ActionEquip, ActionAttack:
		return true
	}
	return false
}

// Action is one parsed game action. Coordinate fields are set for the
// spatial action types; the rest use Message, ItemName or Target.
type Action struct {
	Type     string  `json:"type"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Z        float64 `json:"z,omitempty"`
	Message  string  `json:"message,omitempty"`
	ItemName string  `json:"itemName,omitempty"`
	Target   string  `json:"target,omitempty"`
}

// Decision is the structured output of one LLM cycle.
type Decision struct {
	Reasoning string   `json:"reasoning"`
	Actions   []Action `json:"actions"`
	Chat      string   `json:"chat,omitempty"`
	Speak     string   `json:"speak,omitempty"`
}

// IsEmpty reports whether the decision carries neither actions nor chat.
// Empty decisions trigger the fallback exploration.
func (d *Decision) IsEmpty() bool {
	return len(d.Actions) == 0 && d.Chat == ""
}

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFenceRe  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// StripThinkBlocks removes interior <think>…</think> reasoning blocks.
func StripThinkBlocks(s string) string {
	return thinkBlockRe.ReplaceAllString(s, "")
}

// UnwrapCodeFences returns the content of the first Markdown code fence,
// or the input unchanged when no fence is present.
func UnwrapCodeFences(s string) string {
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// ExtractJSONObject returns the first balanced {…} block, brace-matched
// outside of string literals. Empty string when none is found.
func ExtractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// rawDecision is the wire shape before action coercion.
type rawDecision struct {
	Reasoning string           `json:"reasoning"`
	Actions   []map[string]any `json:"actions"`
	Chat      *string          `json:"chat"`
	Speak     *string          `json:"speak"`
}

// ParseDecision extracts a Decision from raw model output, tolerating
// surrounding prose, Markdown code fences and interior think blocks.
// Invalid JSON is run through jsonrepair before giving up. The parse is
// idempotent: feeding back the cleaned output yields the same decision.
func ParseDecision(raw string) (*Decision, error) {
	cleaned := UnwrapCodeFences(StripThinkBlocks(raw))
	obj := ExtractJSONObject(cleaned)
	if obj == "" {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var rd rawDecision
	if err := json.Unmarshal([]byte(obj), &rd); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(obj)
		if repairErr != nil {
			return nil, fmt.Errorf("invalid decision JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &rd); err != nil {
			return nil, fmt.Errorf("invalid decision JSON after repair: %w", err)
		}
	}

	d := &Decision{Reasoning: rd.Reasoning}
	if rd.Chat != nil {
		d.Chat = *rd.Chat
	}
	if rd.Speak != nil {
		d.Speak = *rd.Speak
	}

	for _, entry := range rd.Actions {
		action, ok := coerceAction(entry)
		if !ok {
			continue
		}
		d.Actions = append(d.Actions, action)
	}
	return d, nil
}

// coerceAction validates one raw action object. Actions must have a
// string type; coordinate fields are coerced to numbers and the action
// is dropped when a required coordinate is non-numeric.
func coerceAction(entry map[string]any) (Action, bool) {
	t, ok := entry["type"].(string)
	if !ok || t == "" {
		return Action{}, false
	}

	action := Action{Type: t}

	switch t {
	case ActionMoveTo, ActionOpenContainer, ActionDig, ActionPlaceBlock, ActionLookAt:
		x, okX := coerceNumber(entry["x"])
		y, okY := coerceNumber(entry["y"])
		z, okZ := coerceNumber(entry["z"])
		if !okX || !okY || !okZ {
			return Action{}, false
		}
		action.X, action.Y, action.Z = x, y, z
	case ActionSendChat:
		msg, _ := entry["message"].(string)
		if msg == "" {
			return Action{}, false
		}
		action.Message = msg
	case ActionEquip:
		item, _ := entry["itemName"].(string)
		if item == "" {
			return Action{}, false
		}
		action.ItemName = item
	case ActionAttack:
		target, _ := entry["target"].(string)
		if target == "" {
			return Action{}, false
		}
		action.Target = target
	}

	return action, true
}

// coerceNumber accepts JSON numbers and numeric strings.
func coerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case int:
		return float64(n), true
	}
	return 0, false
}
