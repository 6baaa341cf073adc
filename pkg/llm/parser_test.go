package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecision_PlainJSON(t *testing.T) {
	raw := `{"reasoning": "heading to the chest", "actions": [{"type": "move-to", "x": 10, "y": 64, "z": -3}], "chat": "on my way"}`

	d, err := ParseDecision(raw)
	require.NoError(t, err)

	assert.Equal(t, "heading to the chest", d.Reasoning)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, ActionMoveTo, d.Actions[0].Type)
	assert.Equal(t, 10.0, d.Actions[0].X)
	assert.Equal(t, 64.0, d.Actions[0].Y)
	assert.Equal(t, -3.0, d.Actions[0].Z)
	assert.Equal(t, "on my way", d.Chat)
	assert.False(t, d.IsEmpty())
}

func TestParseDecision_ProseAndFencesAndStringCoords(t *testing.T) {
	raw := "Sure! Here is my decision:\n```json\n" +
		`{"reasoning": "move", "actions": [{"type": "move-to", "x": "10", "y": "64", "z": "0"}]}` +
		"\n```\nLet me know if you need anything else."

	d, err := ParseDecision(raw)
	require.NoError(t, err)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, ActionMoveTo, d.Actions[0].Type)
	assert.Equal(t, 10.0, d.Actions[0].X)
}

func TestParseDecision_StripsThinkBlocks(t *testing.T) {
	raw := "<think>I should {not} confuse the extractor</think>" +
		`{"reasoning": "jump", "actions": [{"type": "jump"}]}`

	d, err := ParseDecision(raw)
	require.NoError(t, err)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, ActionJump, d.Actions[0].Type)
}

func TestParseDecision_DropsBadActions(t *testing.T) {
	raw := `{"reasoning": "mixed bag", "actions": [
		{"type": "dig", "x": 1, "y": "not a number", "z": 3},
		{"x": 1, "y": 2, "z": 3},
		{"type": "send-chat"},
		{"type": "send-chat", "message": "hello"},
		{"type": "equip", "itemName": "oak_planks"},
		{"type": "attack", "target": "Rebel_0"}
	]}`

	d, err := ParseDecision(raw)
	require.NoError(t, err)
	require.Len(t, d.Actions, 3)
	assert.Equal(t, ActionSendChat, d.Actions[0].Type)
	assert.Equal(t, "hello", d.Actions[0].Message)
	assert.Equal(t, "oak_planks", d.Actions[1].ItemName)
	assert.Equal(t, "Rebel_0", d.Actions[2].Target)
}

func TestParseDecision_UnknownTypeKept(t *testing.T) {
	// Unknown types pass the parser; the executor logs and skips them.
	raw := `{"reasoning": "", "actions": [{"type": "teleport"}]}`

	d, err := ParseDecision(raw)
	require.NoError(t, err)
	require.Len(t, d.Actions, 1)
	assert.False(t, KnownActionType(d.Actions[0].Type))
}

func TestParseDecision_RepairsTrailingComma(t *testing.T) {
	raw := `{"reasoning": "oops", "actions": [{"type": "jump"},], "chat": "fixed"}`

	d, err := ParseDecision(raw)
	require.NoError(t, err)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "fixed", d.Chat)
}

func TestParseDecision_NoJSON(t *testing.T) {
	_, err := ParseDecision("I refuse to answer in the requested format.")
	assert.Error(t, err)
}

func TestParseDecision_EmptyDecision(t *testing.T) {
	d, err := ParseDecision(`{"reasoning": "thinking...", "actions": []}`)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
}

func TestParseDecision_Idempotent(t *testing.T) {
	raw := "prose before ```json\n" +
		`{"reasoning": "r", "actions": [{"type": "look-at", "x": 1, "y": 2, "z": 3}], "chat": "c", "speak": "s"}` +
		"\n``` prose after"

	first, err := ParseDecision(raw)
	require.NoError(t, err)

	cleaned := ExtractJSONObject(UnwrapCodeFences(StripThinkBlocks(raw)))
	second, err := ParseDecision(cleaned)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestExtractJSONObject_BracesInsideStrings(t *testing.T) {
	s := `noise {"a": "{not a brace}", "b": {"c": 1}} trailing`
	assert.Equal(t, `{"a": "{not a brace}", "b": {"c": 1}}`, ExtractJSONObject(s))
}

func TestExtractJSONObject_Unbalanced(t *testing.T) {
	assert.Empty(t, ExtractJSONObject(`{"a": 1`))
	assert.Empty(t, ExtractJSONObject("no object here"))
}
