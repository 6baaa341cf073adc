package game

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// Per-call timeout budgets. Connect and pathfinding may legitimately take
// a long time; everything else is a quick bridge round trip.
const (
	connectTimeout  = 30 * time.Second
	pathfindTimeout = 30 * time.Second
	actionTimeout   = 10 * time.Second
)

// BridgeClient talks to a mineflayer bridge sidecar over HTTP JSON.
type BridgeClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBridgeClient creates a client for the bridge at baseURL.
func NewBridgeClient(baseURL string) *BridgeClient {
	return &BridgeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Per-request deadlines are set via context; the client-level
		// timeout is a backstop for calls without one.
		httpClient: &http.Client{Timeout: 45 * time.Second},
	}
}

type bridgeError struct {
	Message string `json:"message"`
}

// call performs one JSON round trip against the bridge.
func (c *BridgeClient) call(ctx context.Context, timeout time.Duration, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal bridge request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge call %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read bridge response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var be bridgeError
		if json.Unmarshal(data, &be) == nil && be.Message != "" {
			return fmt.Errorf("bridge %s returned %d: %s", path, resp.StatusCode, be.Message)
		}
		return fmt.Errorf("bridge %s returned %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode bridge response: %w", err)
		}
	}
	return nil
}

// CreateBot connects a bot; blocks until the bot has joined the world.
func (c *BridgeClient) CreateBot(ctx context.Context, opts CreateBotOptions) (string, error) {
	var out struct {
		BotID string `json:"botId"`
	}
	if err := c.call(ctx, connectTimeout, http.MethodPost, "/bots", opts, &out); err != nil {
		return "", err
	}
	if out.BotID == "" {
		return "", fmt.Errorf("bridge returned empty botId")
	}
	return out.BotID, nil
}

// DisconnectBot disconnects and forgets a bot.
func (c *BridgeClient) DisconnectBot(ctx context.Context, botID string) error {
	return c.call(ctx, actionTimeout, http.MethodDelete, "/bots/"+botID, nil, nil)
}

// GetState returns a snapshot of the bot.
func (c *BridgeClient) GetState(ctx context.Context, botID string) (*BotState, error) {
	var out BotState
	if err := c.call(ctx, actionTimeout, http.MethodGet, "/bots/"+botID+"/state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentChat returns the bot's recent chat buffer, oldest first.
func (c *BridgeClient) RecentChat(ctx context.Context, botID string, limit int) ([]ChatMessage, error) {
	var out struct {
		Messages []ChatMessage `json:"messages"`
	}
	path := fmt.Sprintf("/bots/%s/chat?limit=%d", botID, limit)
	if err := c.call(ctx, actionTimeout, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

type actionRequest struct {
	Type       string           `json:"type"`
	X          *float64         `json:"x,omitempty"`
	Y          *float64         `json:"y,omitempty"`
	Z          *float64         `json:"z,omitempty"`
	DurationMs int              `json:"durationMs,omitempty"`
	Arrive     float64          `json:"arriveWithin,omitempty"`
	Face       *models.Position `json:"face,omitempty"`
	ItemName   string           `json:"itemName,omitempty"`
	Slot       string           `json:"slot,omitempty"`
	Target     string           `json:"target,omitempty"`
	Message    string           `json:"message,omitempty"`
}

func f(v float64) *float64 { return &v }

func (c *BridgeClient) action(ctx context.Context, timeout time.Duration, botID string, req actionRequest) error {
	return c.call(ctx, timeout, http.MethodPost, "/bots/"+botID+"/actions", req, nil)
}

// LookAt points the bot's head at a position.
func (c *BridgeClient) LookAt(ctx context.Context, botID string, x, y, z float64) error {
	return c.action(ctx, actionTimeout, botID, actionRequest{Type: "look-at", X: f(x), Y: f(y), Z: f(z)})
}

// WalkForward walks in the current facing for the given duration.
func (c *BridgeClient) WalkForward(ctx context.Context, botID string, duration time.Duration) error {
	return c.action(ctx, actionTimeout+duration, botID, actionRequest{
		Type: "walk-forward", DurationMs: int(duration.Milliseconds()),
	})
}

// Jump makes the bot jump once.
func (c *BridgeClient) Jump(ctx context.Context, botID string) error {
	return c.action(ctx, actionTimeout, botID, actionRequest{Type: "jump"})
}

// PathfindTo navigates to a position, arriving within the given radius.
func (c *BridgeClient) PathfindTo(ctx context.Context, botID string, x, y, z, arriveWithin float64) error {
	return c.action(ctx, pathfindTimeout, botID, actionRequest{
		Type: "pathfind", X: f(x), Y: f(y), Z: f(z), Arrive: arriveWithin,
	})
}

// Dig breaks the block at a position.
func (c *BridgeClient) Dig(ctx context.Context, botID string, x, y, z float64) error {
	return c.action(ctx, actionTimeout, botID, actionRequest{Type: "dig", X: f(x), Y: f(y), Z: f(z)})
}

// PlaceBlock places the held block against a reference block face.
func (c *BridgeClient) PlaceBlock(ctx context.Context, botID string, refX, refY, refZ float64, face models.Position) error {
	return c.action(ctx, actionTimeout, botID, actionRequest{
		Type: "place-block", X: f(refX), Y: f(refY), Z: f(refZ), Face: &face,
	})
}

// Equip moves a named item into the given equipment slot.
func (c *BridgeClient) Equip(ctx context.Context, botID, itemName, slot string) error {
	return c.action(ctx, actionTimeout, botID, actionRequest{Type: "equip", ItemName: itemName, Slot: slot})
}

// Attack attacks the nearest entity with the given name.
func (c *BridgeClient) Attack(ctx context.Context, botID, targetName string) error {
	return c.action(ctx, actionTimeout, botID, actionRequest{Type: "attack", Target: targetName})
}

// FindNearestBlock returns the closest matching block, or nil.
func (c *BridgeClient) FindNearestBlock(ctx context.Context, botID, nameContains string, maxDistance float64) (*Block, error) {
	blocks, err := c.FindBlocks(ctx, botID, []string{nameContains}, maxDistance, 1)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	b := blocks[0]
	return &b, nil
}

// FindBlocks returns matching blocks ordered by distance ascending.
func (c *BridgeClient) FindBlocks(ctx context.Context, botID string, matching []string, maxDistance float64, limit int) ([]Block, error) {
	var out struct {
		Blocks []Block `json:"blocks"`
	}
	req := struct {
		Matching    []string `json:"matching"`
		MaxDistance float64  `json:"maxDistance"`
		Limit       int      `json:"limit"`
	}{matching, maxDistance, limit}
	if err := c.call(ctx, actionTimeout, http.MethodPost, "/bots/"+botID+"/find-blocks", req, &out); err != nil {
		return nil, err
	}
	return out.Blocks, nil
}

// BlockAt returns the block at a position.
func (c *BridgeClient) BlockAt(ctx context.Context, botID string, x, y, z float64) (*Block, error) {
	var out Block
	path := fmt.Sprintf("/bots/%s/block?x=%g&y=%g&z=%g", botID, x, y, z)
	if err := c.call(ctx, actionTimeout, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenContainer opens a chest-like block and returns a handle.
func (c *BridgeClient) OpenContainer(ctx context.Context, botID string, x, y, z float64) (Container, error) {
	var out struct {
		ContainerID string `json:"containerId"`
		Items       []Item `json:"items"`
	}
	req := struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	}{x, y, z}
	if err := c.call(ctx, actionTimeout, http.MethodPost, "/bots/"+botID+"/container/open", req, &out); err != nil {
		return nil, err
	}
	return &bridgeContainer{client: c, botID: botID, containerID: out.ContainerID, items: out.Items}, nil
}

// SendChat sends a message to in-game chat.
func (c *BridgeClient) SendChat(ctx context.Context, botID, message string) error {
	return c.action(ctx, actionTimeout, botID, actionRequest{Type: "send-chat", Message: message})
}

// bridgeContainer is a handle to a container window held open on the bridge.
type bridgeContainer struct {
	client      *BridgeClient
	botID       string
	containerID string
	items       []Item
}

func (h *bridgeContainer) path(suffix string) string {
	return "/bots/" + h.botID + "/container/" + h.containerID + suffix
}

// Items returns the window contents observed when the container opened.
func (h *bridgeContainer) Items(_ context.Context) ([]Item, error) {
	return h.items, nil
}

// Withdraw moves items into the bot inventory.
func (h *bridgeContainer) Withdraw(ctx context.Context, itemType string, count int) error {
	req := struct {
		ItemType string `json:"itemType"`
		Count    int    `json:"count"`
	}{itemType, count}
	return h.client.call(ctx, actionTimeout, http.MethodPost, h.path("/withdraw"), req, nil)
}

// Close releases the container window.
func (h *bridgeContainer) Close(ctx context.Context) error {
	return h.client.call(ctx, actionTimeout, http.MethodPost, h.path("/close"), nil, nil)
}
