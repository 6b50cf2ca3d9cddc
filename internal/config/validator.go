package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pokeproto/pokeproto/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

var validRoles = map[string]bool{"host": true, "joiner": true, "spectator": true}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validatePeer(&cfg.Peer, result)
	validateTransport(&cfg.Transport, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)
	validateHistory(&cfg.History, result)
	validateHealth(&cfg.Health, result)

	return result
}

func validatePeer(p *PeerConfig, result *ValidationResult) {
	role := strings.ToLower(strings.TrimSpace(p.Role))
	if !validRoles[role] {
		result.AddError("peer.role", fmt.Sprintf("unknown role %q (host, joiner or spectator)", p.Role))
		return
	}

	if strings.TrimSpace(p.Trainer) == "" {
		result.AddError("peer.trainer_name", "trainer name is required")
	}
	if role != "spectator" && strings.TrimSpace(p.Combatant) == "" {
		result.AddError("peer.combatant", "a combatant is required to battle")
	}

	validateHostPort(p.ListenAddress, "peer.listen_address", role != "host", result)

	if role != "host" {
		if strings.TrimSpace(p.HostAddress) == "" {
			result.AddError("peer.host_address", "host address is required for joiners and spectators")
		} else {
			validateHostPort(p.HostAddress, "peer.host_address", false, result)
		}
	}

	if role != "spectator" {
		validateBoostUses(p.StatBoosts.SpecialAttackUses, "peer.stat_boosts.special_attack_uses", result)
		validateBoostUses(p.StatBoosts.SpecialDefenseUses, "peer.stat_boosts.special_defense_uses", result)
	}

	if role == "host" && p.Seed != 0 {
		result.AddWarning("peer.seed", "fixed seed makes every battle roll the same numbers")
	}
}

func validateBoostUses(n int, field string, result *ValidationResult) {
	if n < 0 || n > protocol.MaxStatBoostUses {
		result.AddError(field, fmt.Sprintf("must be between 0 and %d", protocol.MaxStatBoostUses))
	}
}

func validateTransport(t *TransportConfig, result *ValidationResult) {
	if t.RetryTimeoutMs < 50 {
		result.AddError("transport.retry_timeout_ms", "retry timeout must be at least 50ms")
	} else if t.RetryTimeoutMs > 5000 {
		result.AddWarning("transport.retry_timeout_ms", "retry timeout above 5s makes failures slow to detect")
	}
	if t.MaxRetries < 1 {
		result.AddError("transport.max_retries", "at least one retry is required")
	}
	if t.TickMs < 1 || t.TickMs > t.RetryTimeoutMs {
		result.AddError("transport.tick_ms", "tick must be positive and not exceed the retry timeout")
	}
	if t.Capacity < 1 {
		result.AddError("transport.capacity", "envelope capacity must be positive")
	}
	if t.DedupeWindow < 16 {
		result.AddWarning("transport.dedupe_window", "small duplicate window may redeliver late retransmissions")
	}
	if t.ReadTimeoutMs < 1 {
		result.AddError("transport.read_timeout_ms", "read timeout must be positive")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validateHostPort(a.Address, "api.address", false, result)
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	for _, o := range a.AllowedOrigins {
		if o == "*" {
			result.AddWarning("api.allowed_origins", "wildcard origin allows any site to drive this peer")
		}
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		result.AddError("mqtt.topic_prefix", "topic prefix is required when enabled")
	}
}

func validateHistory(h *HistoryConfig, result *ValidationResult) {
	if !h.Enabled {
		return
	}
	if strings.TrimSpace(h.DBPath) == "" {
		result.AddError("history.db_path", "database path is required when history is enabled")
	}
	if h.RetentionDays < 1 {
		result.AddError("history.retention_days", "retention days must be at least 1")
	}
	if _, err := time.Parse("15:04", h.CleanupTime); err != nil {
		result.AddError("history.cleanup_time", fmt.Sprintf("invalid time %q (expected HH:MM)", h.CleanupTime))
	}
}

func validateHealth(h *HealthConfig, result *ValidationResult) {
	if h.CheckIntervalSec < 1 {
		result.AddError("health.check_interval_sec", "check interval must be positive")
	}
	if h.HeartbeatIntervalSec < 1 {
		result.AddError("health.heartbeat_interval_sec", "heartbeat interval must be positive")
	} else if h.HeartbeatIntervalSec < 10 {
		result.AddWarning("health.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
}

// validateHostPort checks a host:port string. Port 0 is allowed when
// anyPort is set.
func validateHostPort(addr, field string, anyPort bool, result *ValidationResult) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid address %q: %v", addr, err))
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid port %q", portStr))
		return
	}
	if port == 0 && anyPort {
		return
	}
	validatePort(port, field, result)
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a UDP port is free to bind.
func IsPortAvailable(port int) bool {
	pc, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	pc.Close()
	return true
}
