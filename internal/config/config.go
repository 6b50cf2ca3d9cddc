// Package config handles configuration loading, validation, and persistence
// for a pokeproto peer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultBattlePort = 9002
	DefaultAPIPort    = 5080
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Peer      PeerConfig      `json:"peer"`
	Transport TransportConfig `json:"transport"`
	Pokedex   PokedexConfig   `json:"pokedex"`
	API       APIConfig       `json:"api"`
	MQTT      MQTTConfig      `json:"mqtt"`
	History   HistoryConfig   `json:"history"`
	Health    HealthConfig    `json:"health"`
	Logging   LoggingConfig   `json:"logging"`
}

// PeerConfig says who this process is in a battle.
type PeerConfig struct {
	// Role is host, joiner or spectator.
	Role      string `json:"role"`
	Trainer   string `json:"trainer_name"`
	Combatant string `json:"combatant"`
	// ListenAddress is the local UDP address. Joiners and spectators
	// usually leave the port at 0.
	ListenAddress string `json:"listen_address"`
	// HostAddress is the host's UDP address, required unless hosting.
	HostAddress string `json:"host_address"`
	// Seed fixes the host's shared seed; 0 picks one per battle.
	Seed uint64 `json:"seed"`
	// StatBoosts is announced to the opponent in BATTLE_SETUP.
	StatBoosts StatBoostsConfig `json:"stat_boosts"`
}

// StatBoostsConfig is how many special moves a side may boost or resist.
type StatBoostsConfig struct {
	SpecialAttackUses  int `json:"special_attack_uses"`
	SpecialDefenseUses int `json:"special_defense_uses"`
}

// TransportConfig tunes the reliable transport.
type TransportConfig struct {
	RetryTimeoutMs int `json:"retry_timeout_ms"`
	MaxRetries     int `json:"max_retries"`
	TickMs         int `json:"tick_ms"`
	Capacity       int `json:"capacity"`
	DedupeWindow   int `json:"dedupe_window"`
	ReadTimeoutMs  int `json:"read_timeout_ms"`
}

// PokedexConfig selects the reference data.
type PokedexConfig struct {
	// DataFile replaces the built-in dataset when set.
	DataFile string `json:"data_file"`
}

// APIConfig holds REST API and live feed settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Address        string   `json:"address"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CAFile      string `json:"ca_file"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// HistoryConfig holds battle history storage settings.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"db_path"`
	RetentionDays int    `json:"retention_days"`
	CleanupTime   string `json:"cleanup_time"`
}

// HealthConfig holds health check and heartbeat intervals.
type HealthConfig struct {
	CheckIntervalSec     int `json:"check_interval_sec"`
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec"`
	// BacklogWarn is the outstanding-envelope count that marks the
	// transport as degraded.
	BacklogWarn int `json:"backlog_warn"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Peer: PeerConfig{
			Role:          "host",
			Combatant:     "Pikachu",
			ListenAddress: fmt.Sprintf("0.0.0.0:%d", DefaultBattlePort),
			StatBoosts:    StatBoostsConfig{SpecialAttackUses: 5, SpecialDefenseUses: 5},
		},
		Transport: TransportConfig{
			RetryTimeoutMs: 500,
			MaxRetries:     3,
			TickMs:         50,
			Capacity:       256,
			DedupeWindow:   512,
			ReadTimeoutMs:  250,
		},
		API: APIConfig{
			Enabled:        false,
			Address:        fmt.Sprintf("127.0.0.1:%d", DefaultAPIPort),
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimitRPS:   20,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "pokeproto",
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        filepath.Join("data", "history.db"),
			RetentionDays: 30,
			CleanupTime:   "04:00",
		},
		Health: HealthConfig{
			CheckIntervalSec:     30,
			HeartbeatIntervalSec: 60,
			BacklogWarn:          64,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file, creating a default one on
// first run.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // defaults first, file values overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetPeer returns a copy of the peer section.
func (c *Config) GetPeer() PeerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Peer
}

// SetPeer replaces the peer section.
func (c *Config) SetPeer(p PeerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Peer = p
}

// GetTransport returns a copy of the transport section.
func (c *Config) GetTransport() TransportConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Transport
}

// GetAPI returns a copy of the API section.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.API
	api.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return api
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetHistory returns a copy of the history section.
func (c *Config) GetHistory() HistoryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.History
}

// GetHealth returns a copy of the health section.
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun reports whether the peer has never been set up.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Peer.Trainer == ""
}

// Durations converts the millisecond settings.
func (t TransportConfig) Durations() (retry, tick, read time.Duration) {
	return time.Duration(t.RetryTimeoutMs) * time.Millisecond,
		time.Duration(t.TickMs) * time.Millisecond,
		time.Duration(t.ReadTimeoutMs) * time.Millisecond
}

// Interval returns the check interval.
func (h HealthConfig) Interval() time.Duration {
	return time.Duration(h.CheckIntervalSec) * time.Second
}

// Heartbeat returns the heartbeat interval.
func (h HealthConfig) Heartbeat() time.Duration {
	return time.Duration(h.HeartbeatIntervalSec) * time.Second
}
