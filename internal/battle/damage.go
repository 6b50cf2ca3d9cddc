package battle

import (
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	// Level is the fixed level every combatant battles at.
	Level = 50

	STABMultiplier  = 1.5
	BoostMultiplier = 1.5
	MinRandomFactor = 0.85
	MaxRandomFactor = 1.0
)

// Roller supplies the random component of damage, uniformly in [0, 1).
type Roller interface {
	Float64() float64
}

// NewSeededRoller returns the deterministic roller both peers build from the
// seed exchanged during the handshake. Rolls stay aligned as long as both
// sides compute exactly one damage value per turn.
func NewSeededRoller(seed uint64) Roller {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Outcome is the result of one damage computation.
type Outcome struct {
	Damage        int
	Effectiveness float64
	STAB          bool
	RandomFactor  float64
	// AttackBoosted and DefenseBoosted report which boost uses this
	// computation consumed.
	AttackBoosted  bool
	DefenseBoosted bool
}

// Engine computes damage. It is not safe for concurrent use; the state
// machine serializes access.
type Engine struct {
	roller Roller
}

// NewEngine creates an engine drawing its random factor from roller.
func NewEngine(roller Roller) *Engine {
	return &Engine{roller: roller}
}

// ConsumeBoosts spends the boost uses a special move draws on: one of the
// attacker's special attack uses and one of the defender's special defense
// uses, each only while any remain. Both peers call it exactly once per
// turn so their counts stay equal.
func ConsumeBoosts(attacker, defender *Combatant, move Move) (atk, def bool) {
	if !move.Damaging() || move.Category != Special {
		return false, false
	}
	if attacker.Boosts.SpecialAttackUses > 0 {
		attacker.Boosts.SpecialAttackUses--
		atk = true
	}
	if defender.Boosts.SpecialDefenseUses > 0 {
		defender.Boosts.SpecialDefenseUses--
		def = true
	}
	return atk, def
}

// Compute returns the damage attacker deals to defender with move: at least
// 1 for a damaging move, 0 for a status move.
func (e *Engine) Compute(attacker, defender *Combatant, move Move) int {
	return e.Calculate(attacker, defender, move).Damage
}

// Calculate is Compute with the intermediate factors exposed. It consumes
// boost uses through ConsumeBoosts.
func (e *Engine) Calculate(attacker, defender *Combatant, move Move) Outcome {
	eff := Effectiveness(move.Type, defender.Types)
	if !move.Damaging() {
		return Outcome{Effectiveness: eff}
	}

	atk, def := attacker.Stats.Attack, defender.Stats.Defense
	if move.Category == Special {
		atk, def = attacker.Stats.SpAttack, defender.Stats.SpDefense
	}
	if atk < 1 {
		atk = 1
	}
	if def < 1 {
		def = 1
	}

	atkBoosted, defBoosted := ConsumeBoosts(attacker, defender, move)
	atkStat, defStat := float64(atk), float64(def)
	if atkBoosted {
		atkStat *= BoostMultiplier
	}
	if defBoosted {
		defStat *= BoostMultiplier
	}

	levelFactor := float64(2*Level/5 + 2)
	base := (levelFactor*float64(move.Power)*atkStat/defStat)/50 + 2

	stab := attacker.HasType(move.Type)
	if stab {
		base *= STABMultiplier
	}

	random := MinRandomFactor + e.roller.Float64()*(MaxRandomFactor-MinRandomFactor)
	damage := int(math.Floor(base * eff * random))
	if damage < 1 {
		damage = 1
	}

	return Outcome{
		Damage:         damage,
		Effectiveness:  eff,
		STAB:           stab,
		RandomFactor:   random,
		AttackBoosted:  atkBoosted,
		DefenseBoosted: defBoosted,
	}
}

// ApplyDamage subtracts damage from hp, clamping at 0.
func ApplyDamage(hp, damage int) int {
	if damage >= hp {
		return 0
	}
	return hp - damage
}

// Describe renders the status line sent along with a calculation report.
func (o Outcome) Describe(attacker, move string) string {
	msg := fmt.Sprintf("%s used %s!", attacker, move)
	switch {
	case o.Effectiveness == 0:
		msg += " It had no effect..."
	case o.Effectiveness > 1:
		msg += " It's super effective!"
	case o.Effectiveness < 1:
		msg += " It's not very effective..."
	}
	return msg
}
