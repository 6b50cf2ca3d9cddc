package battle_test

import (
	"testing"

	"github.com/pokeproto/pokeproto/internal/battle"
)

// fixedRoller always returns the same draw and counts how often it was asked.
type fixedRoller struct {
	value float64
	calls int
}

func (r *fixedRoller) Float64() float64 {
	r.calls++
	return r.value
}

func parity(name string, types ...battle.Type) *battle.Combatant {
	return &battle.Combatant{
		Name:  name,
		Types: types,
		Stats: battle.Stats{HP: 100, Attack: 50, Defense: 50, SpAttack: 50, SpDefense: 50, Speed: 50},
		HP:    100,
	}
}

var tackle = battle.Move{Name: "Tackle", Type: battle.Normal, Power: 40, Category: battle.Physical}

func TestTackleAtStatParity(t *testing.T) {
	attacker := parity("Pikachu", battle.Electric)
	defender := parity("Squirtle", battle.Water)

	for _, draw := range []float64{0, 0.5, 0.999999} {
		engine := battle.NewEngine(&fixedRoller{value: draw})
		dmg := engine.Compute(attacker, defender, tackle)
		hp := battle.ApplyDamage(defender.HP, dmg)
		if hp <= 1 || hp >= 99 {
			t.Fatalf("draw %v: damage %d leaves %d hp", draw, dmg, hp)
		}
	}

	low := battle.NewEngine(&fixedRoller{value: 0}).Compute(attacker, defender, tackle)
	if low != 16 {
		t.Fatalf("minimum roll damage = %d, want 16", low)
	}
	high := battle.NewEngine(&fixedRoller{value: 0.999999}).Compute(attacker, defender, tackle)
	if high != 19 {
		t.Fatalf("maximum roll damage = %d, want 19", high)
	}
}

func TestStatusMoveDealsNothingAndSkipsRoll(t *testing.T) {
	roller := &fixedRoller{value: 0.5}
	engine := battle.NewEngine(roller)
	growl := battle.Move{Name: "Growl", Type: battle.Normal, Power: 0, Category: battle.Status}

	if dmg := engine.Compute(parity("A", battle.Normal), parity("B", battle.Normal), growl); dmg != 0 {
		t.Fatalf("damage = %d, want 0", dmg)
	}
	if roller.calls != 0 {
		t.Fatal("status moves must not consume a roll")
	}
}

func TestImmunityStillFloorsAtOne(t *testing.T) {
	engine := battle.NewEngine(&fixedRoller{value: 0.5})
	out := engine.Calculate(parity("Eevee", battle.Normal), parity("Gastly", battle.Ghost, battle.Poison), tackle)
	if out.Effectiveness != 0 {
		t.Fatalf("effectiveness = %v, want 0", out.Effectiveness)
	}
	if out.Damage != 1 {
		t.Fatalf("damage = %d, want 1", out.Damage)
	}
}

func TestSTABAndSpecialSplit(t *testing.T) {
	thunderbolt := battle.Move{Name: "Thunderbolt", Type: battle.Electric, Power: 90, Category: battle.Special}
	defender := parity("Squirtle", battle.Water)

	withSTAB := battle.NewEngine(&fixedRoller{}).Calculate(parity("Pikachu", battle.Electric), defender, thunderbolt)
	without := battle.NewEngine(&fixedRoller{}).Calculate(parity("Eevee", battle.Normal), defender, thunderbolt)
	if !withSTAB.STAB || without.STAB {
		t.Fatalf("stab flags = %v/%v", withSTAB.STAB, without.STAB)
	}
	if withSTAB.Damage <= without.Damage {
		t.Fatalf("stab damage %d not above %d", withSTAB.Damage, without.Damage)
	}

	wizard := parity("Alakazam", battle.Psychic)
	wizard.Stats.Attack = 10
	wizard.Stats.SpAttack = 150
	special := battle.NewEngine(&fixedRoller{}).Compute(wizard, defender, thunderbolt)
	physical := battle.NewEngine(&fixedRoller{}).Compute(wizard, defender,
		battle.Move{Name: "Thunder Punch", Type: battle.Electric, Power: 90, Category: battle.Physical})
	if special <= physical {
		t.Fatalf("special %d should beat physical %d for a special attacker", special, physical)
	}
}

func TestEffectiveness(t *testing.T) {
	cases := []struct {
		attack   battle.Type
		defender []battle.Type
		want     float64
	}{
		{battle.Electric, []battle.Type{battle.Water, battle.Flying}, 4},
		{battle.Ground, []battle.Type{battle.Flying}, 0},
		{battle.Fire, []battle.Type{battle.Water, battle.Rock}, 0.25},
		{battle.Normal, []battle.Type{battle.Normal}, 1},
		{battle.Dragon, []battle.Type{battle.Fairy}, 0},
	}
	for _, tc := range cases {
		if got := battle.Effectiveness(tc.attack, tc.defender); got != tc.want {
			t.Errorf("%s vs %v = %v, want %v", tc.attack, tc.defender, got, tc.want)
		}
	}
}

func TestSeededRollersAgree(t *testing.T) {
	a := battle.NewSeededRoller(42)
	b := battle.NewSeededRoller(42)
	for i := 0; i < 100; i++ {
		x, y := a.Float64(), b.Float64()
		if x != y {
			t.Fatalf("draw %d differs: %v vs %v", i, x, y)
		}
		if x < 0 || x >= 1 {
			t.Fatalf("draw %d out of range: %v", i, x)
		}
	}
}

func TestApplyDamageClamps(t *testing.T) {
	if hp := battle.ApplyDamage(10, 25); hp != 0 {
		t.Fatalf("hp = %d, want 0", hp)
	}
	if hp := battle.ApplyDamage(10, 10); hp != 0 {
		t.Fatalf("hp = %d, want 0", hp)
	}
	if hp := battle.ApplyDamage(10, 3); hp != 7 {
		t.Fatalf("hp = %d, want 7", hp)
	}
}

func TestDescribe(t *testing.T) {
	out := battle.Outcome{Effectiveness: 2}
	if got := out.Describe("Pikachu", "Thunderbolt"); got != "Pikachu used Thunderbolt! It's super effective!" {
		t.Fatalf("Describe = %q", got)
	}
}

func TestSpecialMovesSpendBoosts(t *testing.T) {
	swift := battle.Move{Name: "Swift", Type: battle.Normal, Power: 40, Category: battle.Special}
	attacker := parity("Pikachu", battle.Electric)
	defender := parity("Squirtle", battle.Water)
	attacker.Boosts = battle.Boosts{SpecialAttackUses: 2}
	defender.Boosts = battle.Boosts{SpecialDefenseUses: 1}
	engine := battle.NewEngine(&fixedRoller{value: 0})

	if dmg := engine.Compute(attacker, defender, tackle); dmg != 16 {
		t.Fatalf("physical damage = %d, want 16", dmg)
	}
	if attacker.Boosts.SpecialAttackUses != 2 || defender.Boosts.SpecialDefenseUses != 1 {
		t.Fatal("physical move spent boosts")
	}

	steps := []struct {
		damage   int
		atk, def bool
	}{
		{damage: 16, atk: true, def: true},
		{damage: 24, atk: true},
		{damage: 16},
	}
	for i, want := range steps {
		out := engine.Calculate(attacker, defender, swift)
		if out.Damage != want.damage || out.AttackBoosted != want.atk || out.DefenseBoosted != want.def {
			t.Fatalf("turn %d: %+v", i+1, out)
		}
	}
	if attacker.Boosts.SpecialAttackUses != 0 || defender.Boosts.SpecialDefenseUses != 0 {
		t.Fatalf("boosts left: %+v %+v", attacker.Boosts, defender.Boosts)
	}
}

func TestDefenseBoostBluntsSpecialMove(t *testing.T) {
	swift := battle.Move{Name: "Swift", Type: battle.Normal, Power: 40, Category: battle.Special}
	defender := parity("Squirtle", battle.Water)
	defender.Boosts.SpecialDefenseUses = 1

	dmg := battle.NewEngine(&fixedRoller{value: 0}).Compute(parity("Pikachu", battle.Electric), defender, swift)
	if dmg != 11 {
		t.Fatalf("damage = %d, want 11", dmg)
	}
}
