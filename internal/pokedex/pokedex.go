// Package pokedex holds the reference data both peers battle with: base
// stats, types and move sets. Lookups ignore case using Unicode case
// folding, so "PIKACHU", "pikachu" and "Pikachu" resolve alike.
package pokedex

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/util"
)

//go:embed data/pokedex.json
var defaultData []byte

// ErrNotFound is returned for unknown combatant or move names.
var ErrNotFound = errors.New("pokedex: not found")

type moveRecord struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Power    int    `json:"power"`
	Category string `json:"category"`
}

type pokemonRecord struct {
	Name  string       `json:"name"`
	Types []string     `json:"types"`
	Stats battle.Stats `json:"stats"`
	Moves []string     `json:"moves"`
}

type dataset struct {
	Moves   []moveRecord    `json:"moves"`
	Pokemon []pokemonRecord `json:"pokemon"`
}

// Repository is read-only after construction and safe for concurrent use.
type Repository struct {
	moves   map[string]battle.Move
	species map[string]*battle.Combatant
	names   []string
}

// Default returns the repository built from the embedded dataset.
func Default() (*Repository, error) {
	return Parse(defaultData)
}

// Load reads a dataset from path. An empty path falls back to the embedded
// data.
func Load(path string) (*Repository, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pokedex file: %w", err)
	}
	repo, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger := util.ComponentLogger("pokedex")
	logger.Info().
		Str("path", path).
		Int("species", len(repo.species)).
		Int("moves", len(repo.moves)).
		Msg("Loaded pokedex file")
	return repo, nil
}

// Parse builds a repository from JSON. Every move a species lists must be
// defined in the moves table.
func Parse(raw []byte) (*Repository, error) {
	var ds dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse pokedex: %w", err)
	}

	r := &Repository{
		moves:   make(map[string]battle.Move, len(ds.Moves)),
		species: make(map[string]*battle.Combatant, len(ds.Pokemon)),
	}

	for _, rec := range ds.Moves {
		move, err := rec.toMove()
		if err != nil {
			return nil, err
		}
		key := r.key(move.Name)
		if _, dup := r.moves[key]; dup {
			return nil, fmt.Errorf("duplicate move %q", move.Name)
		}
		r.moves[key] = move
	}

	for _, rec := range ds.Pokemon {
		c, err := r.toCombatant(rec)
		if err != nil {
			return nil, err
		}
		key := r.key(c.Name)
		if _, dup := r.species[key]; dup {
			return nil, fmt.Errorf("duplicate species %q", c.Name)
		}
		r.species[key] = c
		r.names = append(r.names, c.Name)
	}
	sort.Strings(r.names)

	if len(r.species) == 0 {
		return nil, errors.New("pokedex has no species")
	}
	return r, nil
}

func (rec moveRecord) toMove() (battle.Move, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return battle.Move{}, errors.New("move without a name")
	}
	t, err := battle.ParseType(rec.Type)
	if err != nil {
		return battle.Move{}, fmt.Errorf("move %s: %w", rec.Name, err)
	}
	cat, err := battle.ParseCategory(rec.Category)
	if err != nil {
		return battle.Move{}, fmt.Errorf("move %s: %w", rec.Name, err)
	}
	if rec.Power < 0 {
		return battle.Move{}, fmt.Errorf("move %s: negative power", rec.Name)
	}
	return battle.Move{Name: rec.Name, Type: t, Power: rec.Power, Category: cat}, nil
}

func (r *Repository) toCombatant(rec pokemonRecord) (*battle.Combatant, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return nil, errors.New("species without a name")
	}
	if len(rec.Types) == 0 || len(rec.Types) > 2 {
		return nil, fmt.Errorf("%s: expected one or two types, got %d", rec.Name, len(rec.Types))
	}
	if rec.Stats.HP <= 0 || rec.Stats.Attack <= 0 || rec.Stats.Defense <= 0 ||
		rec.Stats.SpAttack <= 0 || rec.Stats.SpDefense <= 0 {
		return nil, fmt.Errorf("%s: stats must be positive", rec.Name)
	}

	c := &battle.Combatant{Name: rec.Name, Stats: rec.Stats, HP: rec.Stats.HP}
	for _, s := range rec.Types {
		t, err := battle.ParseType(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rec.Name, err)
		}
		c.Types = append(c.Types, t)
	}
	for _, name := range rec.Moves {
		m, ok := r.moves[r.key(name)]
		if !ok {
			return nil, fmt.Errorf("%s: unknown move %q", rec.Name, name)
		}
		c.Moves = append(c.Moves, m)
	}
	if len(c.Moves) == 0 {
		return nil, fmt.Errorf("%s: empty move set", rec.Name)
	}
	return c, nil
}

// key folds a name for lookup. A Caser keeps state, so each call gets its
// own.
func (r *Repository) key(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// Combatant returns a fresh copy of the named species at full HP.
func (r *Repository) Combatant(name string) (*battle.Combatant, error) {
	c, ok := r.species[r.key(name)]
	if !ok {
		return nil, fmt.Errorf("%w: combatant %q", ErrNotFound, name)
	}
	out := c.Clone()
	out.HP = out.MaxHP()
	return out, nil
}

// Move resolves a move name, accepting only moves in owner's own set.
func (r *Repository) Move(name string, owner *battle.Combatant) (battle.Move, error) {
	key := r.key(name)
	if _, ok := r.moves[key]; !ok {
		return battle.Move{}, fmt.Errorf("%w: move %q", ErrNotFound, name)
	}
	for _, m := range owner.Moves {
		if r.key(m.Name) == key {
			return m, nil
		}
	}
	return battle.Move{}, fmt.Errorf("%s does not know %s", owner.Name, r.moves[key].Name)
}

// Names lists every species, sorted.
func (r *Repository) Names() []string {
	return append([]string(nil), r.names...)
}
