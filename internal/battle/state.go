package battle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidMove       = errors.New("battle: invalid move")
	ErrNotYourTurn       = errors.New("battle: not your turn")
	ErrTurnInProgress    = errors.New("battle: turn in progress")
	ErrGameOver          = errors.New("battle: game over")
	ErrUnexpectedMessage = errors.New("battle: unexpected message")
)

// State is the battle state of one connection. GameOver is terminal.
type State int

const (
	StateWaitingForMove State = iota
	StateProcessingTurn
	StateWaitingForResolution
	StateGameOver
)

var stateStrings = map[State]string{
	StateWaitingForMove:       "WaitingForMove",
	StateProcessingTurn:       "ProcessingTurn",
	StateWaitingForResolution: "WaitingForResolution",
	StateGameOver:             "GameOver",
}

func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "Unknown"
}

// MarshalJSON serializes State as a JSON string.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Role is the side of the battle a machine plays. The host moves first.
type Role int

const (
	RoleHost Role = iota
	RoleJoiner
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "joiner"
}

// ParseRole parses "host" or "joiner".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host":
		return RoleHost, nil
	case "joiner":
		return RoleJoiner, nil
	}
	return RoleHost, fmt.Errorf("unknown battle role %q", s)
}

// phase refines a state with the step of the turn a side is waiting for.
type phase int

const (
	phaseIdle          phase = iota
	phaseAwaitDefense        // mover sent ATTACK_ANNOUNCE
	phaseAwaitReport         // defender sent DEFENSE_ANNOUNCE
	phaseAwaitConfirm        // mover sent CALCULATION_REPORT
	phaseAwaitResolution     // defender sent RESOLUTION_REQUEST
)

// TurnRecord is this side's locally computed truth for the current turn.
// It is overwritten every turn.
type TurnRecord struct {
	Turn          int     `json:"turn"`
	Attacker      string  `json:"attacker"`
	Defender      string  `json:"defender"`
	Move          string  `json:"move"`
	Damage        int     `json:"damage"`
	RemainingHP   int     `json:"remaining_hp"`
	Effectiveness float64 `json:"effectiveness"`
	Status        string  `json:"status,omitempty"`
	Computed      bool    `json:"computed"`
}
