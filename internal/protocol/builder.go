package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Report carries the outcome of one turn as computed by one side. It is the
// body of both CALCULATION_REPORT and RESOLUTION_REQUEST.
type Report struct {
	Attacker    string
	Move        string
	Damage      int
	RemainingHP int
	Status      string
}

// Matches reports whether two sides agree on the move and its numeric outcome.
func (r Report) Matches(other Report) bool {
	return strings.EqualFold(r.Move, other.Move) &&
		r.Damage == other.Damage &&
		r.RemainingHP == other.RemainingHP
}

func (r Report) String() string {
	return fmt.Sprintf("%s used %s for %d (hp left %d)", r.Attacker, r.Move, r.Damage, r.RemainingHP)
}

// AttackAnnounce builds ATTACK_ANNOUNCE.
func AttackAnnounce(move string) *Message {
	return NewMessage(MsgAttackAnnounce).Set(FieldMoveName, move)
}

// DefenseAnnounce builds DEFENSE_ANNOUNCE.
func DefenseAnnounce() *Message {
	return NewMessage(MsgDefenseAnnounce)
}

// CalculationReport builds CALCULATION_REPORT from a turn outcome.
func CalculationReport(r Report) *Message {
	return withReport(NewMessage(MsgCalculationReport), r)
}

// CalculationConfirm builds CALCULATION_CONFIRM.
func CalculationConfirm() *Message {
	return NewMessage(MsgCalculationConfirm)
}

// ResolutionRequest builds RESOLUTION_REQUEST re-asserting the sender's values.
func ResolutionRequest(r Report) *Message {
	return withReport(NewMessage(MsgResolutionRequest), r)
}

// GameOver builds GAME_OVER.
func GameOver(winner, loser string) *Message {
	return NewMessage(MsgGameOver).
		Set(FieldWinner, winner).
		Set(FieldLoser, loser)
}

// Ack builds an application-level ACK message.
func Ack(seq uint32) *Message {
	return NewMessage(MsgAck).Set(FieldAckNumber, strconv.FormatUint(uint64(seq), 10))
}

// HandshakeRequest builds HANDSHAKE_REQUEST.
func HandshakeRequest(sessionID string) *Message {
	return NewMessage(MsgHandshakeRequest).Set(FieldSessionID, sessionID)
}

// HandshakeResponse builds HANDSHAKE_RESPONSE carrying the shared seed.
func HandshakeResponse(seed uint64, sessionID string) *Message {
	return NewMessage(MsgHandshakeResponse).
		Set(FieldSeed, strconv.FormatUint(seed, 10)).
		Set(FieldSessionID, sessionID)
}

// SpectatorRequest builds SPECTATOR_REQUEST.
func SpectatorRequest(sessionID string) *Message {
	return NewMessage(MsgSpectatorRequest).Set(FieldSessionID, sessionID)
}

// SpectatorResponse builds SPECTATOR_RESPONSE.
func SpectatorResponse(sessionID string) *Message {
	return NewMessage(MsgSpectatorResponse).Set(FieldSessionID, sessionID)
}

// MaxStatBoostUses caps each boost allotment a peer may announce.
const MaxStatBoostUses = 99

// StatBoosts is how many times a side may sharpen a special move
// (SpecialAttackUses) or blunt one aimed at it (SpecialDefenseUses).
type StatBoosts struct {
	SpecialAttackUses  int `json:"special_attack_uses"`
	SpecialDefenseUses int `json:"special_defense_uses"`
}

// Setup is the decoded body of BATTLE_SETUP.
type Setup struct {
	Mode    string
	Pokemon string
	Boosts  StatBoosts
}

// BattleSetup builds BATTLE_SETUP announcing the sender's combatant and its
// boost allotment.
func BattleSetup(pokemon string, boosts StatBoosts) *Message {
	return NewMessage(MsgBattleSetup).
		Set(FieldCommunicationMode, CommunicationModeP2P).
		Set(FieldPokemonName, pokemon).
		Set(FieldStatBoosts, fmt.Sprintf(`{"special_attack_uses": %d, "special_defense_uses": %d}`,
			boosts.SpecialAttackUses, boosts.SpecialDefenseUses))
}

// ParseSetup extracts a BATTLE_SETUP body. A setup without stat_boosts
// grants no boosts.
func ParseSetup(m *Message) (Setup, error) {
	if m.Type != MsgBattleSetup {
		return Setup{}, fmt.Errorf("%w: %s is not a setup", ErrUnknownType, m.Type)
	}
	s := Setup{
		Mode:    m.Value(FieldCommunicationMode),
		Pokemon: strings.TrimSpace(m.Value(FieldPokemonName)),
	}
	if s.Pokemon == "" {
		return Setup{}, &FieldError{Type: m.Type, Field: FieldPokemonName, Err: ErrMissingField}
	}

	raw, ok := m.Get(FieldStatBoosts)
	if !ok || strings.TrimSpace(raw) == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s.Boosts); err != nil {
		return Setup{}, &FieldError{Type: m.Type, Field: FieldStatBoosts, Err: fmt.Errorf("%w: %v", ErrInvalidField, err)}
	}
	if err := s.Boosts.Validate(); err != nil {
		return Setup{}, &FieldError{Type: m.Type, Field: FieldStatBoosts, Err: err}
	}
	return s, nil
}

// Validate checks both allotments lie in [0, MaxStatBoostUses].
func (b StatBoosts) Validate() error {
	for _, n := range []int{b.SpecialAttackUses, b.SpecialDefenseUses} {
		if n < 0 || n > MaxStatBoostUses {
			return fmt.Errorf("%w: boost uses must be between 0 and %d", ErrInvalidField, MaxStatBoostUses)
		}
	}
	return nil
}

// ChatText builds a text CHAT_MESSAGE.
func ChatText(sender, text string) *Message {
	return NewMessage(MsgChatMessage).
		Set(FieldSenderName, sender).
		Set(FieldContentType, ContentText).
		Set(FieldMessageText, text)
}

// ParseReport extracts the turn outcome from CALCULATION_REPORT or
// RESOLUTION_REQUEST.
func ParseReport(m *Message) (Report, error) {
	if m.Type != MsgCalculationReport && m.Type != MsgResolutionRequest {
		return Report{}, fmt.Errorf("%w: %s carries no report", ErrUnknownType, m.Type)
	}
	damage, err := m.Int(FieldDamageDealt)
	if err != nil {
		return Report{}, err
	}
	hp, err := m.Int(FieldDefenderHPRemaining)
	if err != nil {
		return Report{}, err
	}
	if damage < 0 {
		return Report{}, &FieldError{Type: m.Type, Field: FieldDamageDealt, Err: ErrInvalidField}
	}
	if hp < 0 {
		return Report{}, &FieldError{Type: m.Type, Field: FieldDefenderHPRemaining, Err: ErrInvalidField}
	}
	return Report{
		Attacker:    m.Value(FieldAttacker),
		Move:        m.Value(FieldMoveUsed),
		Damage:      damage,
		RemainingHP: hp,
		Status:      m.Value(FieldStatusMessage),
	}, nil
}

func withReport(m *Message, r Report) *Message {
	m.Set(FieldAttacker, r.Attacker).
		Set(FieldMoveUsed, r.Move).
		SetInt(FieldDamageDealt, r.Damage).
		SetInt(FieldDefenderHPRemaining, r.RemainingHP)
	if r.Status != "" {
		m.Set(FieldStatusMessage, r.Status)
	}
	return m
}
