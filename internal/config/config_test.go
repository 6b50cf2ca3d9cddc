package config

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validHost() *Config {
	cfg := DefaultConfig()
	cfg.Peer.Trainer = "Ash"
	return cfg
}

func hasError(r *ValidationResult, field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if !cfg.IsFirstRun() {
		t.Fatal("fresh config should need setup")
	}
	if got := cfg.GetTransport(); got.MaxRetries != 3 || got.RetryTimeoutMs != 500 {
		t.Fatalf("transport defaults = %+v", got)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `{"peer": {"role": "joiner", "trainer_name": "Gary", "host_address": "10.0.0.2:9002"}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	peer := cfg.GetPeer()
	if peer.Role != "joiner" || peer.Trainer != "Gary" {
		t.Fatalf("peer = %+v", peer)
	}
	if cfg.GetHistory().CleanupTime != "04:00" {
		t.Fatal("missing section should keep its defaults")
	}

	// The re-save persists defaults for sections the file lacked.
	data, _ := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	if !strings.Contains(string(data), `"retry_timeout_ms"`) {
		t.Fatal("re-saved config is missing transport defaults")
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0600)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing trainer", func(c *Config) { c.Peer.Trainer = "" }, "peer.trainer_name"},
		{"unknown role", func(c *Config) { c.Peer.Role = "referee" }, "peer.role"},
		{"joiner without host", func(c *Config) { c.Peer.Role = "joiner" }, "peer.host_address"},
		{"bad listen address", func(c *Config) { c.Peer.ListenAddress = "nowhere" }, "peer.listen_address"},
		{"no combatant", func(c *Config) { c.Peer.Combatant = " " }, "peer.combatant"},
		{"retry timeout", func(c *Config) { c.Transport.RetryTimeoutMs = 10 }, "transport.retry_timeout_ms"},
		{"no retries", func(c *Config) { c.Transport.MaxRetries = 0 }, "transport.max_retries"},
		{"tick beyond timeout", func(c *Config) { c.Transport.TickMs = 900 }, "transport.tick_ms"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.BrokerURL = "" }, "mqtt.broker_url"},
		{"bad cleanup time", func(c *Config) { c.History.CleanupTime = "25:99" }, "history.cleanup_time"},
		{"api address", func(c *Config) { c.API.Enabled = true; c.API.Address = "localhost" }, "api.address"},
		{"negative boosts", func(c *Config) { c.Peer.StatBoosts.SpecialAttackUses = -1 }, "peer.stat_boosts.special_attack_uses"},
		{"too many boosts", func(c *Config) { c.Peer.StatBoosts.SpecialDefenseUses = 100 }, "peer.stat_boosts.special_defense_uses"},
	}

	if r := Validate(validHost()); !r.IsValid() {
		t.Fatalf("valid host rejected: %v", r.Errors)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validHost()
			tt.mutate(cfg)
			r := Validate(cfg)
			if !hasError(r, tt.field) {
				t.Fatalf("no error for %s: %+v", tt.field, r.Errors)
			}
		})
	}
}

func TestValidateSpectatorNeedsNoCombatant(t *testing.T) {
	cfg := validHost()
	cfg.Peer.Role = "spectator"
	cfg.Peer.Combatant = ""
	cfg.Peer.ListenAddress = "0.0.0.0:0"
	cfg.Peer.HostAddress = "192.168.1.10:9002"

	if r := Validate(cfg); !r.IsValid() {
		t.Fatalf("spectator rejected: %v", r.Errors)
	}
}

func TestValidateWarnsOnFixedSeed(t *testing.T) {
	cfg := validHost()
	cfg.Peer.Seed = 42
	r := Validate(cfg)
	if !r.IsValid() || len(r.Warnings) == 0 {
		t.Fatalf("result = %+v", r)
	}
}

func TestSetupWizard(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	input := strings.Join([]string{
		"Misty",          // trainer
		"joiner",         // role
		"squirtle",       // combatant
		"3",              // special attack boosts
		"",               // special defense boosts (default)
		"",               // listen address (default)
		"10.0.0.5:9002",  // host
		"y",              // api
		"",               // history (default yes)
		"",               // mqtt (default no)
	}, "\n") + "\n"
	var out bytes.Buffer

	if err := runSetup(cfg, bufio.NewReader(strings.NewReader(input)), &out, []string{"Squirtle"}); err != nil {
		t.Fatalf("runSetup: %v\n%s", err, out.String())
	}

	peer := cfg.GetPeer()
	if peer.Trainer != "Misty" || peer.Role != "joiner" || peer.Combatant != "squirtle" {
		t.Fatalf("peer = %+v", peer)
	}
	if peer.StatBoosts != (StatBoostsConfig{SpecialAttackUses: 3, SpecialDefenseUses: 5}) {
		t.Fatalf("boosts = %+v", peer.StatBoosts)
	}
	if peer.ListenAddress != "0.0.0.0:0" || peer.HostAddress != "10.0.0.5:9002" {
		t.Fatalf("addresses = %s / %s", peer.ListenAddress, peer.HostAddress)
	}
	if !cfg.GetAPI().Enabled || !cfg.GetHistory().Enabled || cfg.GetMQTT().Enabled {
		t.Fatal("extras not applied")
	}
	if !strings.Contains(out.String(), "Available: Squirtle") {
		t.Fatal("species list not shown")
	}

	reloaded, err := Load(filepath.Dir(cfg.Path()))
	if err != nil || reloaded.GetPeer().Trainer != "Misty" {
		t.Fatalf("wizard result not saved: %v", err)
	}
}

func TestSetupWizardGivesUp(t *testing.T) {
	cfg, _ := Load(t.TempDir())

	// Joiner without a host address, then decline to retry.
	input := "Brock\njoiner\nOnix\n\n\n\n\n\n\n\nno\n"
	err := runSetup(cfg, bufio.NewReader(strings.NewReader(input)), &bytes.Buffer{}, nil)
	if !errors.Is(err, ErrSetupAborted) {
		t.Fatalf("err = %v, want ErrSetupAborted", err)
	}
}
