package pokedex

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pokeproto/pokeproto/internal/battle"
)

func TestDefaultDatasetLoads(t *testing.T) {
	repo, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	names := repo.Names()
	if len(names) < 10 {
		t.Fatalf("only %d species", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestCombatantLookupIgnoresCase(t *testing.T) {
	repo, _ := Default()

	for _, name := range []string{"Pikachu", "pikachu", "PIKACHU", "  Pikachu "} {
		c, err := repo.Combatant(name)
		if err != nil {
			t.Fatalf("Combatant(%q): %v", name, err)
		}
		if c.Name != "Pikachu" || !c.HasType(battle.Electric) {
			t.Fatalf("Combatant(%q) = %+v", name, c)
		}
	}
}

func TestCombatantIsFreshCopy(t *testing.T) {
	repo, _ := Default()

	a, _ := repo.Combatant("Eevee")
	a.HP = 1
	a.Moves[0].Power = 999

	b, _ := repo.Combatant("Eevee")
	if b.HP != b.MaxHP() {
		t.Fatalf("second copy hp = %d, want %d", b.HP, b.MaxHP())
	}
	if b.Moves[0].Power == 999 {
		t.Fatal("move set shared between copies")
	}
}

func TestUnknownCombatant(t *testing.T) {
	repo, _ := Default()
	if _, err := repo.Combatant("Missingno"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMoveRestrictedToOwnersSet(t *testing.T) {
	repo, _ := Default()
	pikachu, _ := repo.Combatant("Pikachu")

	m, err := repo.Move("thunderbolt", pikachu)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if m.Name != "Thunderbolt" || m.Category != battle.Special || m.Power != 90 {
		t.Fatalf("Move = %+v", m)
	}

	if _, err := repo.Move("Flamethrower", pikachu); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign move: err = %v", err)
	}
	if _, err := repo.Move("Splash", pikachu); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown move: err = %v", err)
	}
}

func TestRepositoryDrivesEngine(t *testing.T) {
	repo, _ := Default()
	attacker, _ := repo.Combatant("Charmander")
	defender, _ := repo.Combatant("Bulbasaur")
	move, _ := repo.Move("Ember", attacker)

	engine := battle.NewEngine(battle.NewSeededRoller(42))
	out := engine.Calculate(attacker, defender, move)
	if out.Damage < 1 || !out.STAB || out.Effectiveness != 2 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestParseRejectsBadData(t *testing.T) {
	cases := map[string]string{
		"not json":     `{`,
		"no species":   `{"moves":[],"pokemon":[]}`,
		"unknown type": `{"moves":[{"name":"X","type":"sound","power":1,"category":"special"}],"pokemon":[]}`,
		"bad category": `{"moves":[{"name":"X","type":"fire","power":1,"category":"weird"}],"pokemon":[]}`,
		"unknown move": `{"moves":[],"pokemon":[{"name":"A","types":["fire"],
			"stats":{"hp":1,"attack":1,"defense":1,"sp_attack":1,"sp_defense":1},"moves":["Ember"]}]}`,
		"zero stats": `{"moves":[{"name":"Ember","type":"fire","power":40,"category":"special"}],
			"pokemon":[{"name":"A","types":["fire"],"stats":{"hp":1},"moves":["Ember"]}]}`,
		"duplicate move": `{"moves":[{"name":"Ember","type":"fire","power":40,"category":"special"},
			{"name":"EMBER","type":"fire","power":40,"category":"special"}],"pokemon":[]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	raw := `{
		"moves": [{"name": "Ember", "type": "fire", "power": 40, "category": "special"}],
		"pokemon": [{"name": "Vulpix", "types": ["fire"],
			"stats": {"hp": 38, "attack": 41, "defense": 40, "sp_attack": 50, "sp_defense": 65, "speed": 65},
			"moves": ["Ember"]}]
	}`
	path := filepath.Join(t.TempDir(), "dex.json")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	repo, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(repo.Names(), ","); got != "Vulpix" {
		t.Fatalf("Names = %s", got)
	}
	if _, err := repo.Combatant("Pikachu"); !errors.Is(err, ErrNotFound) {
		t.Fatal("file dataset should replace the embedded one")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if repo, err := Load(""); err != nil || len(repo.Names()) < 10 {
		t.Fatalf("empty path should use embedded data: %v", err)
	}
}
