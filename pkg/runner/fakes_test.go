package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/craftlab-ai/gauntlet/pkg/game"
	"github.com/craftlab-ai/gauntlet/pkg/llm"
	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// fakeGameClient is an in-memory game.Client. Every action succeeds
// unless failCreate is set.
type fakeGameClient struct {
	mu           sync.Mutex
	nextID       int
	connected    map[string]bool
	disconnected []string
	chats        []string
	failCreate   bool
	inventory    []game.Item
	chestPos     *models.Position
}

func newFakeGameClient() *fakeGameClient {
	return &fakeGameClient{connected: map[string]bool{}}
}

func (f *fakeGameClient) CreateBot(_ context.Context, opts game.CreateBotOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return "", fmt.Errorf("server unreachable")
	}
	f.nextID++
	id := fmt.Sprintf("bot-%d-%s", f.nextID, opts.Username)
	f.connected[id] = true
	return id, nil
}

func (f *fakeGameClient) DisconnectBot(_ context.Context, botID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connected, botID)
	f.disconnected = append(f.disconnected, botID)
	return nil
}

func (f *fakeGameClient) GetState(context.Context, string) (*game.BotState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &game.BotState{
		Position:      models.Position{X: 0, Y: 64, Z: 0},
		Health:        20,
		Food:          20,
		Inventory:     f.inventory,
		LastUpdatedAt: time.Now(),
	}, nil
}

func (f *fakeGameClient) RecentChat(context.Context, string, int) ([]game.ChatMessage, error) {
	return nil, nil
}

func (f *fakeGameClient) LookAt(context.Context, string, float64, float64, float64) error { return nil }
func (f *fakeGameClient) WalkForward(context.Context, string, time.Duration) error        { return nil }
func (f *fakeGameClient) Jump(context.Context, string) error                              { return nil }
func (f *fakeGameClient) PathfindTo(context.Context, string, float64, float64, float64, float64) error {
	return nil
}
func (f *fakeGameClient) Dig(context.Context, string, float64, float64, float64) error { return nil }
func (f *fakeGameClient) PlaceBlock(context.Context, string, float64, float64, float64, models.Position) error {
	return nil
}
func (f *fakeGameClient) Equip(context.Context, string, string, string) error { return nil }
func (f *fakeGameClient) Attack(context.Context, string, string) error        { return nil }

func (f *fakeGameClient) FindNearestBlock(_ context.Context, _ string, nameContains string, _ float64) (*game.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chestPos != nil && nameContains == "chest" {
		return &game.Block{Name: "chest", Position: *f.chestPos}, nil
	}
	return nil, nil
}

func (f *fakeGameClient) FindBlocks(context.Context, string, []string, float64, int) ([]game.Block, error) {
	return nil, nil
}

func (f *fakeGameClient) BlockAt(context.Context, string, float64, float64, float64) (*game.Block, error) {
	return nil, nil
}

func (f *fakeGameClient) OpenContainer(context.Context, string, float64, float64, float64) (game.Container, error) {
	return &fakeContainer{items: []game.Item{{Name: "oak_planks", Count: 32}}}, nil
}

func (f *fakeGameClient) SendChat(_ context.Context, _ string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, message)
	return nil
}

func (f *fakeGameClient) chatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats)
}

func (f *fakeGameClient) connectedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connected)
}

type fakeContainer struct {
	items  []game.Item
	closed bool
}

func (c *fakeContainer) Items(context.Context) ([]game.Item, error) { return c.items, nil }
func (c *fakeContainer) Withdraw(_ context.Context, itemType string, count int) error {
	return nil
}
func (c *fakeContainer) Close(context.Context) error {
	c.closed = true
	return nil
}

// fakeLLM returns a canned response, or an error when failing is set.
type fakeLLM struct {
	mu       sync.Mutex
	response string
	failing  bool
	calls    int
}

func (f *fakeLLM) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return nil, fmt.Errorf("gateway down")
	}
	return &llm.ChatResponse{Text: f.response, FinishReason: "stop"}, nil
}
