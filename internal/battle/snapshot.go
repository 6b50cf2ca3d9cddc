package battle

// CombatantView is the presentation view of a combatant.
type CombatantView struct {
	Name   string `json:"name"`
	Types  []Type `json:"types"`
	HP     int    `json:"hp"`
	MaxHP  int    `json:"max_hp"`
	Boosts Boosts `json:"boosts"`
}

// Snapshot is a consistent copy of a machine's observable state.
type Snapshot struct {
	BattleID        string        `json:"battle_id"`
	Role            string        `json:"role"`
	State           State         `json:"state"`
	MyTurn          bool          `json:"my_turn"`
	AwaitingConfirm bool          `json:"awaiting_confirm"`
	Turn            int           `json:"turn"`
	Mine            CombatantView `json:"mine"`
	Opponent        CombatantView `json:"opponent"`
	LastTurn        TurnRecord    `json:"last_turn"`
	Winner          string        `json:"winner,omitempty"`
	Loser           string        `json:"loser,omitempty"`
	EndReason       string        `json:"end_reason,omitempty"`
}

// View returns c's presentation view.
func (c *Combatant) View() CombatantView {
	return CombatantView{
		Name:   c.Name,
		Types:  append([]Type(nil), c.Types...),
		HP:     c.HP,
		MaxHP:  c.MaxHP(),
		Boosts: c.Boosts,
	}
}

// Snapshot returns the current state for display.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		BattleID:        m.id,
		Role:            m.role.String(),
		State:           m.state,
		MyTurn:          m.isMyTurn,
		AwaitingConfirm: m.phase == phaseAwaitConfirm,
		Turn:            m.turn,
		Mine:            m.mine.View(),
		Opponent:        m.opp.View(),
		LastTurn:        m.record,
	}
	if m.state == StateGameOver {
		s.Winner = m.winner
		s.Loser = m.loser
		s.EndReason = m.reason.String()
	}
	return s
}

// State returns the current battle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsMyTurn reports whether this side holds the turn.
func (m *Machine) IsMyTurn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isMyTurn
}

// Moves lists the moves of our own combatant.
func (m *Machine) Moves() []Move {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Move(nil), m.mine.Moves...)
}

// ID returns the battle identifier.
func (m *Machine) ID() string {
	return m.id
}
