// Package events defines the event types and payloads published on the
// battle event bus.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session events
	EventPeerJoined      EventType = "peer_joined"
	EventSpectatorJoined EventType = "spectator_joined"
	EventSpectatorLeft   EventType = "spectator_left"
	EventBattleStarted   EventType = "battle_started"
	EventPeerUnreachable EventType = "peer_unreachable"
	EventChatMessage     EventType = "chat_message"
	EventSpectatorUpdate EventType = "spectator_update"

	// Battle events
	EventStateChanged  EventType = "state_changed"
	EventMoveAnnounced EventType = "move_announced"
	EventDamageDealt   EventType = "damage_dealt"
	EventTurnChanged   EventType = "turn_changed"
	EventDiscrepancy   EventType = "discrepancy"
	EventGameOver      EventType = "game_over"

	// System events
	EventHeartbeat EventType = "heartbeat"
	EventShutdown  EventType = "shutdown"
)

// BattleEvents lists the event types forwarded to live viewers and
// telemetry.
var BattleEvents = []EventType{
	EventBattleStarted,
	EventStateChanged,
	EventMoveAnnounced,
	EventDamageDealt,
	EventTurnChanged,
	EventDiscrepancy,
	EventGameOver,
	EventPeerUnreachable,
	EventChatMessage,
	EventSpectatorUpdate,
}

// GameOverReason explains how a battle ended.
type GameOverReason int

const (
	ReasonFainted GameOverReason = iota
	ReasonDesync
	ReasonDisconnected
	ReasonAborted
)

var gameOverReasonStrings = map[GameOverReason]string{
	ReasonFainted:      "fainted",
	ReasonDesync:       "desync",
	ReasonDisconnected: "disconnected",
	ReasonAborted:      "aborted",
}

// String returns the string representation of GameOverReason.
func (r GameOverReason) String() string {
	if str, ok := gameOverReasonStrings[r]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes GameOverReason as a JSON string (e.g. "fainted").
func (r GameOverReason) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Payload interface{} `json:"payload,omitempty"`
}

// BattleStartedPayload is emitted once both combatants and the seed are known.
type BattleStartedPayload struct {
	BattleID   string `json:"battle_id"`
	Role       string `json:"role"`
	Mine       string `json:"mine"`
	Opponent   string `json:"opponent"`
	MyHP       int    `json:"my_hp"`
	OpponentHP int    `json:"opponent_hp"`
	MyTurn     bool   `json:"my_turn"`
}

// StateChangedPayload reports a battle state transition.
type StateChangedPayload struct {
	BattleID string `json:"battle_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// MoveAnnouncedPayload reports a move choice by either side.
type MoveAnnouncedPayload struct {
	BattleID string `json:"battle_id"`
	Turn     int    `json:"turn"`
	Attacker string `json:"attacker"`
	Move     string `json:"move"`
	Local    bool   `json:"local"`
}

// DamageDealtPayload reports an agreed (or locally computed) turn outcome.
type DamageDealtPayload struct {
	BattleID      string  `json:"battle_id"`
	Turn          int     `json:"turn"`
	Attacker      string  `json:"attacker"`
	Defender      string  `json:"defender"`
	Move          string  `json:"move"`
	Damage        int     `json:"damage"`
	RemainingHP   int     `json:"remaining_hp"`
	Effectiveness float64 `json:"effectiveness"`
	Status        string  `json:"status,omitempty"`
}

// TurnChangedPayload is emitted when isMyTurn flips.
type TurnChangedPayload struct {
	BattleID string `json:"battle_id"`
	Turn     int    `json:"turn"`
	MyTurn   bool   `json:"my_turn"`
	Next     string `json:"next"`
}

// TurnValues is one side's view of a turn outcome.
type TurnValues struct {
	Move        string `json:"move"`
	Damage      int    `json:"damage"`
	RemainingHP int    `json:"remaining_hp"`
}

// DiscrepancyPayload reports a failed cross-check.
type DiscrepancyPayload struct {
	BattleID string     `json:"battle_id"`
	Turn     int        `json:"turn"`
	Reported TurnValues `json:"reported"`
	Local    TurnValues `json:"local"`
	Fatal    bool       `json:"fatal"`
}

// GameOverPayload reports the end of a battle.
type GameOverPayload struct {
	BattleID string         `json:"battle_id"`
	Winner   string         `json:"winner,omitempty"`
	Loser    string         `json:"loser,omitempty"`
	Reason   GameOverReason `json:"reason"`
	Turns    int            `json:"turns"`
}

// PeerPayload describes a remote endpoint joining, leaving or failing.
type PeerPayload struct {
	Address string `json:"address"`
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Retries int    `json:"retries,omitempty"`
}

// ChatPayload carries a text chat line.
type ChatPayload struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Local  bool   `json:"local"`
}

// SpectatorUpdatePayload carries a relayed message as seen by a spectator.
type SpectatorUpdatePayload struct {
	MessageType string            `json:"message_type"`
	Fields      map[string]string `json:"fields"`
}

// HeartbeatPayload is the periodic liveness summary.
type HeartbeatPayload struct {
	Role        string  `json:"role"`
	State       string  `json:"state"`
	Outstanding int     `json:"outstanding"`
	Failed      uint64  `json:"failed"`
	Spectators  int     `json:"spectators"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	UptimeSec   int64   `json:"uptime_sec"`
}
