// Package config loads and validates the environment-variable driven
// parameter set of spec §6/§13 for both endpoints.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"nymquest/internal/protocol"
)

// ServerConfig is the validated parameter set for the authoritative server.
type ServerConfig struct {
	Bounds protocol.WorldBounds

	MovementSpeed         float32
	PlayerCollisionRadius float32

	MaxPlayerNameLength  int
	MaxChatMessageLength int
	MaxPlayers           int

	HeartbeatIntervalSeconds int64
	HeartbeatTimeoutSeconds  int64

	AttackCooldownSeconds int64
	AttackRange           float32
	InitialPlayerHealth   int
	BaseDamage            int
	CritChance            float64
	CritMultiplier        float64

	EnablePersistence bool
	PersistenceDir    string

	MessageRateLimit           float64
	MessageBurstSize           int
	MessageProcessingInterval  time.Duration
	MessageProcessingJitterPct float64
	EnableMessagePacing        bool

	StateBroadcastInterval   time.Duration
	InactiveCleanupInterval  time.Duration

	ReplayWindowSize         int
	ReplayAdaptive           bool
	ReplayMinWindow          int
	ReplayMaxWindow          int
	ReplayAdjustmentCooldown time.Duration
}

// DefaultServerConfig matches the literal defaults named throughout spec §4
// and the end-to-end scenarios of spec §8.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Bounds:                     protocol.WorldBounds{MinX: -100, MaxX: 100, MinY: -100, MaxY: 100},
		MovementSpeed:              14.0,
		PlayerCollisionRadius:      7.0,
		MaxPlayerNameLength:        32,
		MaxChatMessageLength:       256,
		MaxPlayers:                 64,
		HeartbeatIntervalSeconds:   30,
		HeartbeatTimeoutSeconds:    90,
		AttackCooldownSeconds:      3,
		AttackRange:                28.0,
		InitialPlayerHealth:        100,
		BaseDamage:                 10,
		CritChance:                 0.15,
		CritMultiplier:             2.0,
		EnablePersistence:          true,
		PersistenceDir:             "nymquest-data",
		MessageRateLimit:           10,
		MessageBurstSize:           20,
		MessageProcessingInterval:  50 * time.Millisecond,
		MessageProcessingJitterPct: 20,
		EnableMessagePacing:        false,
		StateBroadcastInterval:     5 * time.Second,
		InactiveCleanupInterval:    45 * time.Second,
		ReplayWindowSize:           64,
		ReplayAdaptive:             true,
		ReplayMinWindow:            16,
		ReplayMaxWindow:            128,
		ReplayAdjustmentCooldown:   60 * time.Second,
	}
}

// LoadServerConfig reads NYMQUEST_* environment variables over the
// defaults, returning an error on the first out-of-bounds value (spec §7:
// "Config invalid — aborts startup").
func LoadServerConfig() (ServerConfig, error) {
	c := DefaultServerConfig()

	envFloat32("NYMQUEST_WORLD_MIN_X", &c.Bounds.MinX)
	envFloat32("NYMQUEST_WORLD_MAX_X", &c.Bounds.MaxX)
	envFloat32("NYMQUEST_WORLD_MIN_Y", &c.Bounds.MinY)
	envFloat32("NYMQUEST_WORLD_MAX_Y", &c.Bounds.MaxY)
	envFloat32("NYMQUEST_MOVEMENT_SPEED", &c.MovementSpeed)
	envFloat32("NYMQUEST_PLAYER_COLLISION_RADIUS", &c.PlayerCollisionRadius)
	envInt("NYMQUEST_MAX_PLAYER_NAME_LENGTH", &c.MaxPlayerNameLength)
	envInt("NYMQUEST_MAX_CHAT_MESSAGE_LENGTH", &c.MaxChatMessageLength)
	envInt("NYMQUEST_MAX_PLAYERS", &c.MaxPlayers)
	envInt64("NYMQUEST_HEARTBEAT_INTERVAL_SECONDS", &c.HeartbeatIntervalSeconds)
	envInt64("NYMQUEST_HEARTBEAT_TIMEOUT_SECONDS", &c.HeartbeatTimeoutSeconds)
	envInt64("NYMQUEST_ATTACK_COOLDOWN_SECONDS", &c.AttackCooldownSeconds)
	envFloat32("NYMQUEST_ATTACK_RANGE", &c.AttackRange)
	envInt("NYMQUEST_INITIAL_PLAYER_HEALTH", &c.InitialPlayerHealth)
	envInt("NYMQUEST_BASE_DAMAGE", &c.BaseDamage)
	envFloat64("NYMQUEST_CRIT_CHANCE", &c.CritChance)
	envFloat64("NYMQUEST_CRIT_MULTIPLIER", &c.CritMultiplier)
	envBool("NYMQUEST_ENABLE_PERSISTENCE", &c.EnablePersistence)
	envString("NYMQUEST_PERSISTENCE_DIR", &c.PersistenceDir)
	envFloat64("NYMQUEST_MESSAGE_RATE_LIMIT", &c.MessageRateLimit)
	envInt("NYMQUEST_MESSAGE_BURST_SIZE", &c.MessageBurstSize)
	envDurationMS("NYMQUEST_MESSAGE_PROCESSING_INTERVAL_MS", &c.MessageProcessingInterval)
	envFloat64("NYMQUEST_MESSAGE_PROCESSING_JITTER_PERCENT", &c.MessageProcessingJitterPct)
	envBool("NYMQUEST_ENABLE_MESSAGE_PROCESSING_PACING", &c.EnableMessagePacing)
	envDurationS("NYMQUEST_STATE_BROADCAST_INTERVAL_SECONDS", &c.StateBroadcastInterval)
	envDurationS("NYMQUEST_INACTIVE_PLAYER_CLEANUP_INTERVAL_SECONDS", &c.InactiveCleanupInterval)
	envInt("NYMQUEST_REPLAY_PROTECTION_WINDOW_SIZE", &c.ReplayWindowSize)
	envBool("NYMQUEST_REPLAY_PROTECTION_ADAPTIVE", &c.ReplayAdaptive)
	envInt("NYMQUEST_REPLAY_PROTECTION_MIN_WINDOW", &c.ReplayMinWindow)
	envInt("NYMQUEST_REPLAY_PROTECTION_MAX_WINDOW", &c.ReplayMaxWindow)
	envDurationS("NYMQUEST_REPLAY_PROTECTION_ADJUSTMENT_COOLDOWN", &c.ReplayAdjustmentCooldown)

	if err := c.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return c, nil
}

// Validate enforces the bounds spec §7 requires endpoints to check at
// startup.
func (c ServerConfig) Validate() error {
	if !(c.Bounds.MinX < c.Bounds.MaxX) || !(c.Bounds.MinY < c.Bounds.MaxY) {
		return fmt.Errorf("config: world bounds must satisfy min < max")
	}
	if c.MaxPlayers <= 0 {
		return fmt.Errorf("config: max players must be positive")
	}
	if c.MaxPlayerNameLength <= 0 || c.MaxChatMessageLength <= 0 {
		return fmt.Errorf("config: name/chat length limits must be positive")
	}
	if c.InitialPlayerHealth <= 0 {
		return fmt.Errorf("config: initial player health must be positive")
	}
	if c.CritChance < 0 || c.CritChance > 1 {
		return fmt.Errorf("config: crit chance must be within [0,1]")
	}
	if c.ReplayMinWindow < 16 || c.ReplayMaxWindow > 128 || c.ReplayMinWindow > c.ReplayMaxWindow {
		return fmt.Errorf("config: replay window bounds must satisfy 16 <= min <= max <= 128")
	}
	if c.ReplayWindowSize < c.ReplayMinWindow || c.ReplayWindowSize > c.ReplayMaxWindow {
		return fmt.Errorf("config: replay window size must be within [min, max]")
	}
	return nil
}

// ClientConfig is the validated parameter set for the client endpoint.
type ClientConfig struct {
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	RetryCount     int

	MessageRateLimit  float64
	MessageBurstSize  int
	PacingBaseInterval time.Duration
	PacingJitterPercent float64
	EnablePacing      bool

	FPS int

	ChatHistorySize int

	ReplayWindowSize int
}

// DefaultClientConfig mirrors spec §4.4's client defaults (r=8, B=15).
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout:      10 * time.Second,
		AckTimeout:          8 * time.Second,
		RetryCount:          2,
		MessageRateLimit:    8,
		MessageBurstSize:    15,
		PacingBaseInterval:  50 * time.Millisecond,
		PacingJitterPercent: 20,
		EnablePacing:        false,
		FPS:                 30,
		ChatHistorySize:      100,
		ReplayWindowSize:     64,
	}
}

// LoadClientConfig reads NYMQUEST_CLIENT_* environment variables over the
// defaults.
func LoadClientConfig() (ClientConfig, error) {
	c := DefaultClientConfig()

	envDurationS("NYMQUEST_CLIENT_CONNECT_TIMEOUT_SECONDS", &c.ConnectTimeout)
	envDurationS("NYMQUEST_CLIENT_ACK_TIMEOUT_SECONDS", &c.AckTimeout)
	envInt("NYMQUEST_CLIENT_RETRY_COUNT", &c.RetryCount)
	envFloat64("NYMQUEST_CLIENT_MESSAGE_RATE_LIMIT", &c.MessageRateLimit)
	envInt("NYMQUEST_CLIENT_MESSAGE_BURST_SIZE", &c.MessageBurstSize)
	envDurationMS("NYMQUEST_CLIENT_PACING_BASE_INTERVAL_MS", &c.PacingBaseInterval)
	envFloat64("NYMQUEST_CLIENT_PACING_JITTER_PERCENT", &c.PacingJitterPercent)
	envBool("NYMQUEST_CLIENT_ENABLE_PACING", &c.EnablePacing)
	envInt("NYMQUEST_CLIENT_FPS", &c.FPS)
	envInt("NYMQUEST_CLIENT_CHAT_HISTORY_SIZE", &c.ChatHistorySize)
	envInt("NYMQUEST_CLIENT_REPLAY_PROTECTION_WINDOW_SIZE", &c.ReplayWindowSize)

	if c.RetryCount < 0 || c.FPS <= 0 || c.ChatHistorySize <= 0 {
		return ClientConfig{}, fmt.Errorf("config: client parameters out of range")
	}
	return c, nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat32(key string, dst *float32) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 32); err == nil {
			*dst = float32(n)
		}
	}
}

func envFloat64(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

func envDurationS(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func envDurationMS(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
