// Package game defines the narrow Game Client surface the engine consumes
// and an HTTP implementation talking to a mineflayer-compatible bridge.
package game

import (
	"context"
	"time"

	"github.com/craftlab-ai/gauntlet/pkg/models"
)

// Item is one inventory entry.
type Item struct {
	Slot  int    `json:"slot"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// BotState is a snapshot of a connected bot.
type BotState struct {
	Position      models.Position `json:"position"`
	Yaw           float64         `json:"yaw"`
	Pitch         float64         `json:"pitch"`
	Health        float64         `json:"health"`
	Food          float64         `json:"food"`
	Inventory     []Item          `json:"inventory"`
	LastUpdatedAt time.Time       `json:"lastUpdatedAt"`
}

// Block is a located world block.
type Block struct {
	Name     string          `json:"name"`
	Position models.Position `json:"position"`
}

// ChatMessage is one entry of a bot's recent chat buffer.
type ChatMessage struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Container is an opened chest-like block.
type Container interface {
	Items(ctx context.Context) ([]Item, error)
	// Withdraw moves up to count units of the named item type into the
	// bot inventory.
	Withdraw(ctx context.Context, itemType string, count int) error
	Close(ctx context.Context) error
}

// CreateBotOptions configures a bot connection.
type CreateBotOptions struct {
	Username      string           `json:"username"`
	Host          string           `json:"host"`
	Port          int              `json:"port"`
	Version       string           `json:"version,omitempty"`
	SpawnTeleport *models.Position `json:"spawnTeleport,omitempty"`
}

// Client is the RPC surface of the remote game actor. All methods block
// with bounded timeouts; connect and pathfinding allow up to 30 s.
type Client interface {
	// CreateBot connects a bot and blocks until it has fully joined the
	// world, optionally teleporting it to a configured position.
	CreateBot(ctx context.Context, opts CreateBotOptions) (string, error)
	DisconnectBot(ctx context.Context, botID string) error

	GetState(ctx context.Context, botID string) (*BotState, error)
	RecentChat(ctx context.Context, botID string, limit int) ([]ChatMessage, error)

	LookAt(ctx context.Context, botID string, x, y, z float64) error
	WalkForward(ctx context.Context, botID string, duration time.Duration) error
	Jump(ctx context.Context, botID string) error
	PathfindTo(ctx context.Context, botID string, x, y, z, arriveWithin float64) error

	Dig(ctx context.Context, botID string, x, y, z float64) error
	PlaceBlock(ctx context.Context, botID string, refX, refY, refZ float64, face models.Position) error
	Equip(ctx context.Context, botID, itemName, slot string) error
	Attack(ctx context.Context, botID, targetName string) error

	// FindNearestBlock returns the closest block whose name contains the
	// given substring, or nil when none is within maxDistance.
	FindNearestBlock(ctx context.Context, botID, nameContains string, maxDistance float64) (*Block, error)
	// FindBlocks returns blocks matching any of the substrings within
	// maxDistance, up to limit, ordered by distance ascending.
	FindBlocks(ctx context.Context, botID string, matching []string, maxDistance float64, limit int) ([]Block, error)
	BlockAt(ctx context.Context, botID string, x, y, z float64) (*Block, error)

	OpenContainer(ctx context.Context, botID string, x, y, z float64) (Container, error)
	SendChat(ctx context.Context, botID, message string) error
}
