package session

import (
	"strings"
	"sync"

	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/protocol"
)

// ViewSnapshot is what a spectator knows about the battle it watches.
// Combatants lists the host's side first.
type ViewSnapshot struct {
	SessionID    string                 `json:"session_id"`
	Combatants   []battle.CombatantView `json:"combatants"`
	Turns        int                    `json:"turns"`
	LastAttacker string                 `json:"last_attacker,omitempty"`
	LastMove     string                 `json:"last_move,omitempty"`
	LastStatus   string                 `json:"last_status,omitempty"`
	Winner       string                 `json:"winner,omitempty"`
	Loser        string                 `json:"loser,omitempty"`
	Over         bool                   `json:"over"`
	Disconnected bool                   `json:"disconnected,omitempty"`
}

const (
	hostSide   = 0
	joinerSide = 1
)

// View is a spectator's read-only picture of a battle, rebuilt from the
// messages the host relays. It never computes damage itself.
//
// Sides are told apart by name. When both sides battle with the same
// species, the attacker is found by turn parity instead: the host moves on
// even completed-turn counts.
type View struct {
	moves battle.MoveLookup

	mu    sync.RWMutex
	sides []*battle.Combatant
	snap  ViewSnapshot
}

func newView(moves battle.MoveLookup) *View {
	return &View{moves: moves}
}

func (v *View) setSession(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap.SessionID = id
}

// addCombatant records a BATTLE_SETUP. The host announces its own side
// first; anything past the second setup is ignored.
func (v *View) addCombatant(c *battle.Combatant) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.sides) == 2 {
		return
	}
	v.sides = append(v.sides, c.Clone())
}

func (v *View) apply(msg *protocol.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch msg.Type {
	case protocol.MsgAttackAnnounce:
		v.snap.LastMove = msg.Value(protocol.FieldMoveName)
	case protocol.MsgCalculationReport:
		r, err := protocol.ParseReport(msg)
		if err != nil {
			return
		}
		if attacker, defender, ok := v.turnSides(r.Attacker, v.snap.Turns); ok {
			defender.HP = r.RemainingHP
			if move, err := v.moves.Move(r.Move, attacker); err == nil {
				battle.ConsumeBoosts(attacker, defender, move)
			}
		}
		v.snap.Turns++
		v.record(r)
	case protocol.MsgResolutionRequest:
		// Sent after the report it disputes, so the turn is already counted.
		r, err := protocol.ParseReport(msg)
		if err != nil {
			return
		}
		if _, defender, ok := v.turnSides(r.Attacker, max(v.snap.Turns-1, 0)); ok {
			defender.HP = r.RemainingHP
		}
		v.record(r)
	case protocol.MsgGameOver:
		v.snap.Winner = msg.Value(protocol.FieldWinner)
		v.snap.Loser = msg.Value(protocol.FieldLoser)
		v.snap.Over = true
		// The winning blow is never reported, so its turn is not counted:
		// the loser defended on turn Turns.
		if _, loser, ok := v.loserSide(v.snap.Winner, v.snap.Loser, v.snap.Turns); ok {
			loser.HP = 0
		}
	}
}

func (v *View) record(r protocol.Report) {
	v.snap.LastAttacker = r.Attacker
	v.snap.LastMove = r.Move
	v.snap.LastStatus = r.Status
}

// turnSides returns attacker and defender for a turn. turn counts the
// turns completed before it. Callers hold mu.
func (v *View) turnSides(attacker string, turn int) (*battle.Combatant, *battle.Combatant, bool) {
	if len(v.sides) != 2 {
		return nil, nil, false
	}
	host, joiner := v.sides[hostSide], v.sides[joinerSide]
	if !strings.EqualFold(host.Name, joiner.Name) {
		if strings.EqualFold(joiner.Name, attacker) {
			return joiner, host, true
		}
		return host, joiner, true
	}
	if turn%2 == 0 {
		return host, joiner, true
	}
	return joiner, host, true
}

// loserSide resolves GAME_OVER's loser the same way. Callers hold mu.
func (v *View) loserSide(winner, loser string, turn int) (*battle.Combatant, *battle.Combatant, bool) {
	if len(v.sides) != 2 {
		return nil, nil, false
	}
	host, joiner := v.sides[hostSide], v.sides[joinerSide]
	if !strings.EqualFold(host.Name, joiner.Name) {
		switch {
		case strings.EqualFold(host.Name, loser):
			return joiner, host, true
		case strings.EqualFold(joiner.Name, loser):
			return host, joiner, true
		}
		return nil, nil, false
	}
	return v.turnSides(winner, turn)
}

func (v *View) disconnect() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap.Disconnected = true
	v.snap.Over = true
}

// Snapshot returns a copy of the view.
func (v *View) Snapshot() ViewSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := v.snap
	out.Combatants = make([]battle.CombatantView, 0, len(v.sides))
	for _, c := range v.sides {
		out.Combatants = append(out.Combatants, c.View())
	}
	return out
}
