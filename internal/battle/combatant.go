// Package battle implements the turn-synchronization state machine and the
// damage engine both peers run independently.
package battle

import (
	"fmt"
	"strings"
)

// Category selects which attack/defense pair a move uses.
type Category int

const (
	Physical Category = iota
	Special
	Status
)

var categoryStrings = map[Category]string{
	Physical: "physical",
	Special:  "special",
	Status:   "status",
}

func (c Category) String() string {
	if s, ok := categoryStrings[c]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON serializes Category as a JSON string.
func (c Category) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// ParseCategory parses "physical", "special" or "status".
func ParseCategory(s string) (Category, error) {
	for c, name := range categoryStrings {
		if strings.EqualFold(s, name) {
			return c, nil
		}
	}
	return Physical, fmt.Errorf("unknown move category %q", s)
}

// Stats are a combatant's base stats.
type Stats struct {
	HP        int `json:"hp"`
	Attack    int `json:"attack"`
	Defense   int `json:"defense"`
	SpAttack  int `json:"sp_attack"`
	SpDefense int `json:"sp_defense"`
	Speed     int `json:"speed"`
}

// Move is immutable reference data looked up by name.
type Move struct {
	Name     string   `json:"name"`
	Type     Type     `json:"type"`
	Power    int      `json:"power"`
	Category Category `json:"category"`
}

// Damaging reports whether the move deals damage at all.
func (m Move) Damaging() bool {
	return m.Power > 0 && m.Category != Status
}

// Boosts are the remaining stat boost uses a side announced at setup.
type Boosts struct {
	SpecialAttackUses  int `json:"special_attack_uses"`
	SpecialDefenseUses int `json:"special_defense_uses"`
}

// Combatant is one battling creature. Each side owns its own copy of both
// combatants; nothing is shared between peers except protocol values.
type Combatant struct {
	Name   string `json:"name"`
	Types  []Type `json:"types"`
	Stats  Stats  `json:"stats"`
	HP     int    `json:"hp"`
	Moves  []Move `json:"moves"`
	Boosts Boosts `json:"boosts"`
}

// Clone returns an independent copy.
func (c *Combatant) Clone() *Combatant {
	out := *c
	out.Types = append([]Type(nil), c.Types...)
	out.Moves = append([]Move(nil), c.Moves...)
	return &out
}

// MaxHP is the combatant's HP at the start of the battle.
func (c *Combatant) MaxHP() int {
	return c.Stats.HP
}

// HasType reports whether t is one of the combatant's types.
func (c *Combatant) HasType(t Type) bool {
	for _, own := range c.Types {
		if own == t {
			return true
		}
	}
	return false
}

// Move finds a move in the combatant's own set, ignoring case.
func (c *Combatant) Move(name string) (Move, bool) {
	name = strings.TrimSpace(name)
	for _, m := range c.Moves {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Move{}, false
}

// Fainted reports whether the combatant has no HP left.
func (c *Combatant) Fainted() bool {
	return c.HP <= 0
}

// MoveLookup resolves a move name against the moves a combatant knows.
type MoveLookup interface {
	Move(name string, owner *Combatant) (Move, error)
}

type movesetLookup struct{}

func (movesetLookup) Move(name string, owner *Combatant) (Move, error) {
	if m, ok := owner.Move(name); ok {
		return m, nil
	}
	return Move{}, fmt.Errorf("%s does not know %q", owner.Name, name)
}
