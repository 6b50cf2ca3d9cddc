package session

import (
	"testing"

	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/pokedex"
	"github.com/pokeproto/pokeproto/internal/protocol"
)

func testView(t *testing.T, host, joiner string, hostBoosts, joinerBoosts battle.Boosts) *View {
	t.Helper()
	repo, err := pokedex.Default()
	if err != nil {
		t.Fatalf("pokedex: %v", err)
	}
	v := newView(repo)
	for _, side := range []struct {
		name   string
		boosts battle.Boosts
	}{{host, hostBoosts}, {joiner, joinerBoosts}} {
		c, err := repo.Combatant(side.name)
		if err != nil {
			t.Fatal(err)
		}
		c.Boosts = side.boosts
		v.addCombatant(c)
	}
	return v
}

func report(attacker, move string, damage, remaining int) *protocol.Message {
	return protocol.CalculationReport(protocol.Report{
		Attacker:    attacker,
		Move:        move,
		Damage:      damage,
		RemainingHP: remaining,
	})
}

func TestViewMirrorMatchTracksSidesByTurn(t *testing.T) {
	v := testView(t, "Pikachu", "Pikachu",
		battle.Boosts{SpecialAttackUses: 2, SpecialDefenseUses: 1},
		battle.Boosts{SpecialAttackUses: 1, SpecialDefenseUses: 1})

	v.apply(report("Pikachu", "Thunderbolt", 15, 20))
	v.apply(report("Pikachu", "Thunderbolt", 25, 10))

	s := v.Snapshot()
	host, joiner := s.Combatants[0], s.Combatants[1]
	if joiner.HP != 20 || host.HP != 10 {
		t.Fatalf("host hp=%d joiner hp=%d, want 10 and 20", host.HP, joiner.HP)
	}
	if host.Boosts != (battle.Boosts{SpecialAttackUses: 1}) || joiner.Boosts != (battle.Boosts{}) {
		t.Fatalf("boosts host=%+v joiner=%+v", host.Boosts, joiner.Boosts)
	}

	v.apply(protocol.GameOver("Pikachu", "Pikachu"))
	s = v.Snapshot()
	if s.Combatants[0].HP != 10 || s.Combatants[1].HP != 0 || !s.Over {
		t.Fatalf("after game over: %+v", s.Combatants)
	}
}

func TestViewTracksSidesByName(t *testing.T) {
	v := testView(t, "Pikachu", "Eevee", battle.Boosts{}, battle.Boosts{})

	// Reports keyed by name stay correct even if relayed out of order.
	v.apply(report("Eevee", "Tackle", 5, 30))
	v.apply(report("Pikachu", "Quick Attack", 12, 43))
	v.apply(protocol.ResolutionRequest(protocol.Report{Attacker: "Pikachu", Move: "Quick Attack", Damage: 13, RemainingHP: 42}))

	s := v.Snapshot()
	if s.Combatants[0].HP != 30 || s.Combatants[1].HP != 42 || s.Turns != 2 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.LastAttacker != "Pikachu" || s.LastMove != "Quick Attack" {
		t.Fatalf("last = %s/%s", s.LastAttacker, s.LastMove)
	}

	v.apply(protocol.GameOver("Eevee", "Pikachu"))
	s = v.Snapshot()
	if s.Combatants[0].HP != 0 || s.Combatants[1].HP != 42 || s.Winner != "Eevee" {
		t.Fatalf("after game over: %+v", s)
	}
}

func TestViewIgnoresReportsBeforeSetup(t *testing.T) {
	repo, _ := pokedex.Default()
	v := newView(repo)
	v.apply(report("Pikachu", "Thunderbolt", 10, 25))

	if s := v.Snapshot(); len(s.Combatants) != 0 || s.Turns != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
}
