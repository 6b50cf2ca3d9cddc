package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrSetupAborted is returned when the wizard is left with invalid input.
var ErrSetupAborted = errors.New("setup aborted")

// RunSetupWizard guides the user through first-time configuration on the
// terminal. species lists the combatants to offer.
func RunSetupWizard(cfg *Config, species []string) error {
	return runSetup(cfg, bufio.NewReader(os.Stdin), os.Stdout, species)
}

func runSetup(cfg *Config, reader *bufio.Reader, out io.Writer, species []string) error {
	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          pokeproto - First Run Setup         ║")
	fmt.Fprintln(out, "╠══════════════════════════════════════════════╣")
	fmt.Fprintln(out, "║  Let's get you ready to battle.              ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	peer := cfg.GetPeer()

	fmt.Fprintln(out, "── Trainer ──")
	peer.Trainer = promptString(reader, out, "Trainer name", peer.Trainer)
	peer.Role = strings.ToLower(promptString(reader, out, "Role (host/joiner/spectator)", peer.Role))

	if peer.Role != "spectator" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Combatant ──")
		if len(species) > 0 {
			fmt.Fprintf(out, "  Available: %s\n", strings.Join(species, ", "))
		}
		peer.Combatant = promptString(reader, out, "Your combatant", peer.Combatant)
		peer.StatBoosts.SpecialAttackUses = promptInt(reader, out, "Special attack boosts", peer.StatBoosts.SpecialAttackUses)
		peer.StatBoosts.SpecialDefenseUses = promptInt(reader, out, "Special defense boosts", peer.StatBoosts.SpecialDefenseUses)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Network ──")
	listenDefault := peer.ListenAddress
	if peer.Role != "host" && listenDefault == fmt.Sprintf("0.0.0.0:%d", DefaultBattlePort) {
		listenDefault = "0.0.0.0:0"
	}
	peer.ListenAddress = promptString(reader, out, "Local UDP address", listenDefault)
	if peer.Role != "host" {
		peer.HostAddress = promptString(reader, out, "Host address (ip:port)", peer.HostAddress)
	}

	cfg.SetPeer(peer)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Extras ──")
	cfg.mu.Lock()
	cfg.API.Enabled = promptBool(reader, out, "Enable REST API and live feed", cfg.API.Enabled)
	cfg.History.Enabled = promptBool(reader, out, "Keep battle history", cfg.History.Enabled)
	cfg.MQTT.Enabled = promptBool(reader, out, "Publish MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = promptString(reader, out, "MQTT broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = promptInt(reader, out, "MQTT broker port", cfg.MQTT.Port)
	}
	cfg.mu.Unlock()

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "no")
		if strings.ToLower(retry) == "yes" {
			return runSetup(cfg, reader, out, species)
		}
		return fmt.Errorf("%w: configuration validation failed", ErrSetupAborted)
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved successfully!")
	fmt.Fprintln(out)

	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
