// Package voice integrates with a Discord bridge sidecar for per-test
// text/voice channels and TTS playback. The whole package is optional:
// a nil Coordinator disables voice for the process.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	requestTimeout = 10 * time.Second
	// Synthesis and playback of one utterance.
	speakTimeout = 15 * time.Second
)

// Channels are the per-test Discord channels the bridge provisioned.
type Channels struct {
	TextChannelID  string `json:"textChannelId"`
	VoiceChannelID string `json:"voiceChannelId"`
}

// Coordinator is the Discord-side surface the runner consumes.
type Coordinator interface {
	// EnsureTestSessionChannels creates (or reuses) the text and voice
	// channels for a test.
	EnsureTestSessionChannels(ctx context.Context, guildID, testID string) (*Channels, error)
	JoinVoice(ctx context.Context, guildID, channelID string) error
	LeaveVoice(ctx context.Context, guildID string) error
	// RegisterAgentVoice assigns a TTS voice identity to an agent.
	RegisterAgentVoice(ctx context.Context, agentID, voiceName string) error
	UnregisterAgentVoice(ctx context.Context, agentID string) error
	SpeakAsAgent(ctx context.Context, agentID, text string) error
	SendChannelMessage(ctx context.Context, channelID, username, content string) error
}

// BridgeCoordinator implements Coordinator against an HTTP bridge. The
// bridge holds the Discord session; the engine supplies the ElevenLabs
// key it synthesizes speech with.
type BridgeCoordinator struct {
	baseURL    string
	token      string
	ttsKey     string
	httpClient *http.Client
}

// NewBridgeCoordinator builds a coordinator for the bridge at baseURL.
func NewBridgeCoordinator(baseURL, token, ttsKey string) *BridgeCoordinator {
	return &BridgeCoordinator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		ttsKey:     ttsKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *BridgeCoordinator) post(ctx context.Context, timeout time.Duration, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal voice request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.ttsKey != "" {
		req.Header.Set("X-ElevenLabs-Key", c.ttsKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("voice bridge call %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read voice bridge response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("voice bridge %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode voice bridge response: %w", err)
		}
	}
	return nil
}

// EnsureTestSessionChannels provisions the test's channels.
func (c *BridgeCoordinator) EnsureTestSessionChannels(ctx context.Context, guildID, testID string) (*Channels, error) {
	var out Channels
	req := struct {
		GuildID string `json:"guildId"`
		TestID  string `json:"testId"`
	}{guildID, testID}
	if err := c.post(ctx, requestTimeout, "/sessions/channels", req, &out); err != nil {
		return nil, err
	}
	if out.TextChannelID == "" {
		return nil, fmt.Errorf("voice bridge returned no text channel")
	}
	return &out, nil
}

// JoinVoice joins the bot into a voice channel.
func (c *BridgeCoordinator) JoinVoice(ctx context.Context, guildID, channelID string) error {
	req := struct {
		GuildID   string `json:"guildId"`
		ChannelID string `json:"channelId"`
	}{guildID, channelID}
	return c.post(ctx, requestTimeout, "/voice/join", req, nil)
}

// LeaveVoice disconnects the bot from voice in a guild.
func (c *BridgeCoordinator) LeaveVoice(ctx context.Context, guildID string) error {
	req := struct {
		GuildID string `json:"guildId"`
	}{guildID}
	return c.post(ctx, requestTimeout, "/voice/leave", req, nil)
}

// RegisterAgentVoice assigns a named TTS voice to an agent.
func (c *BridgeCoordinator) RegisterAgentVoice(ctx context.Context, agentID, voiceName string) error {
	req := struct {
		AgentID   string `json:"agentId"`
		VoiceName string `json:"voiceName"`
	}{agentID, voiceName}
	return c.post(ctx, requestTimeout, "/voice/agents/register", req, nil)
}

// UnregisterAgentVoice releases an agent's voice identity.
func (c *BridgeCoordinator) UnregisterAgentVoice(ctx context.Context, agentID string) error {
	req := struct {
		AgentID string `json:"agentId"`
	}{agentID}
	return c.post(ctx, requestTimeout, "/voice/agents/unregister", req, nil)
}

// SpeakAsAgent synthesizes text with the agent's voice and plays it in
// the joined voice channel.
func (c *BridgeCoordinator) SpeakAsAgent(ctx context.Context, agentID, text string) error {
	req := struct {
		AgentID string `json:"agentId"`
		Text    string `json:"text"`
	}{agentID, text}
	return c.post(ctx, speakTimeout, "/voice/speak", req, nil)
}

// SendChannelMessage posts a message to a text channel as a named agent.
func (c *BridgeCoordinator) SendChannelMessage(ctx context.Context, channelID, username, content string) error {
	req := struct {
		ChannelID string `json:"channelId"`
		Username  string `json:"username"`
		Content   string `json:"content"`
	}{channelID, username, content}
	return c.post(ctx, requestTimeout, "/channels/messages", req, nil)
}
