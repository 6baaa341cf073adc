// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Bounds and defaults for clamped options.
const (
	DefaultLLMPollingIntervalMs = 7000
	MinLLMPollingIntervalMs     = 3000
	MaxLLMPollingIntervalMs     = 30000

	DefaultTestDurationSeconds = 600
	MinTestDurationSeconds     = 60
	MaxTestDurationSeconds     = 1800

	DefaultBehaviorIntensity = 0.5

	DefaultMaxConcurrentTests       = 3
	DefaultCoordinationPhaseSeconds = 30
)

// Config holds all recognised environment options.
type Config struct {
	Port        string
	DatabaseURL string

	MinecraftHost      string
	MinecraftPort      int
	MinecraftVersion   string
	MinecraftBridgeURL string

	DiscordBotToken  string
	DiscordGuildID   string
	DiscordAutoStart bool
	DiscordBridgeURL string

	ElevenLabsAPIKey  string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	DefaultLLMModel   string

	MaxConcurrentTests          int
	CoordinationPhaseSeconds    int
	DefaultLLMPollingIntervalMs int
	DefaultTestDurationSeconds  int
	DefaultBehaviorIntensity    float64
}

// VoiceEnabled reports whether the Discord coordination service is usable.
func (c *Config) VoiceEnabled() bool {
	return c.DiscordBotToken != "" && c.DiscordGuildID != ""
}

// Load reads configuration from the environment, applying defaults and
// clamping bounded values.
func Load() (*Config, error) {
	mcPort, err := strconv.Atoi(getEnv("MINECRAFT_PORT", "25565"))
	if err != nil {
		return nil, fmt.Errorf("invalid MINECRAFT_PORT: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		MinecraftHost:      getEnv("MINECRAFT_HOST", "localhost"),
		MinecraftPort:      mcPort,
		MinecraftVersion:   os.Getenv("MINECRAFT_VERSION"),
		MinecraftBridgeURL: getEnv("MINECRAFT_BRIDGE_URL", "http://localhost:3100"),

		DiscordBotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordGuildID:   os.Getenv("DISCORD_GUILD_ID"),
		DiscordAutoStart: getEnv("DISCORD_AUTO_START", "false") == "true",
		DiscordBridgeURL: getEnv("DISCORD_BRIDGE_URL", "http://localhost:3200"),

		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		DefaultLLMModel:   getEnv("DEFAULT_LLM_MODEL", "anthropic/claude-sonnet-4"),

		MaxConcurrentTests:          getEnvInt("MAX_CONCURRENT_TESTS", DefaultMaxConcurrentTests),
		CoordinationPhaseSeconds:    getEnvInt("COORDINATION_PHASE_SECONDS", DefaultCoordinationPhaseSeconds),
		DefaultLLMPollingIntervalMs: ClampPollingInterval(getEnvInt("DEFAULT_LLM_POLLING_INTERVAL_MS", DefaultLLMPollingIntervalMs)),
		DefaultTestDurationSeconds:  ClampDuration(getEnvInt("DEFAULT_TEST_DURATION_SECONDS", DefaultTestDurationSeconds)),
		DefaultBehaviorIntensity:    ClampIntensity(getEnvFloat("DEFAULT_BEHAVIOR_INTENSITY", DefaultBehaviorIntensity)),
	}

	if cfg.MaxConcurrentTests < 1 {
		cfg.MaxConcurrentTests = 1
	}
	if cfg.CoordinationPhaseSeconds < 0 {
		cfg.CoordinationPhaseSeconds = DefaultCoordinationPhaseSeconds
	}

	return cfg, nil
}

// ClampPollingInterval bounds an LLM polling interval into [3000, 30000] ms.
func ClampPollingInterval(ms int) int {
	if ms < MinLLMPollingIntervalMs {
		return MinLLMPollingIntervalMs
	}
	if ms > MaxLLMPollingIntervalMs {
		return MaxLLMPollingIntervalMs
	}
	return ms
}

// ClampDuration bounds a test duration into [60, 1800] seconds.
func ClampDuration(seconds int) int {
	if seconds < MinTestDurationSeconds {
		return MinTestDurationSeconds
	}
	if seconds > MaxTestDurationSeconds {
		return MaxTestDurationSeconds
	}
	return seconds
}

// ValidDuration reports whether a requested duration is inside the
// accepted bounds. Requested durations are rejected rather than clamped.
func ValidDuration(seconds int) bool {
	return seconds >= MinTestDurationSeconds && seconds <= MaxTestDurationSeconds
}

// ClampIntensity bounds behaviour intensity into [0, 1].
func ClampIntensity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
