// Package protocol implements the line-oriented battle message format and the
// transport frame that wraps it on the wire. A message is a sequence of
// "key: value" lines terminated by a blank line or the end of the datagram;
// every message starts with its message_type.
package protocol

// MessageType identifies a protocol message.
type MessageType string

// Battle messages exchanged during a turn.
const (
	MsgAttackAnnounce     MessageType = "ATTACK_ANNOUNCE"
	MsgDefenseAnnounce    MessageType = "DEFENSE_ANNOUNCE"
	MsgCalculationReport  MessageType = "CALCULATION_REPORT"
	MsgCalculationConfirm MessageType = "CALCULATION_CONFIRM"
	MsgResolutionRequest  MessageType = "RESOLUTION_REQUEST"
	MsgGameOver           MessageType = "GAME_OVER"
	MsgAck                MessageType = "ACK"
)

// Session messages exchanged before and around the battle.
const (
	MsgHandshakeRequest  MessageType = "HANDSHAKE_REQUEST"
	MsgHandshakeResponse MessageType = "HANDSHAKE_RESPONSE"
	MsgSpectatorRequest  MessageType = "SPECTATOR_REQUEST"
	MsgSpectatorResponse MessageType = "SPECTATOR_RESPONSE"
	MsgBattleSetup       MessageType = "BATTLE_SETUP"
	MsgChatMessage       MessageType = "CHAT_MESSAGE"
)

// Field names used across message types.
const (
	FieldMessageType         = "message_type"
	FieldSequenceNumber      = "sequence_number"
	FieldAckNumber           = "ack_number"
	FieldMoveName            = "move_name"
	FieldAttacker            = "attacker"
	FieldMoveUsed            = "move_used"
	FieldDamageDealt         = "damage_dealt"
	FieldDefenderHPRemaining = "defender_hp_remaining"
	FieldStatusMessage       = "status_message"
	FieldWinner              = "winner"
	FieldLoser               = "loser"
	FieldSeed                = "seed"
	FieldSessionID           = "session_id"
	FieldCommunicationMode   = "communication_mode"
	FieldPokemonName         = "pokemon_name"
	FieldStatBoosts          = "stat_boosts"
	FieldSenderName          = "sender_name"
	FieldContentType         = "content_type"
	FieldMessageText         = "message_text"
)

// CommunicationModeP2P is the only communication mode this implementation speaks.
const CommunicationModeP2P = "P2P"

// Chat content types.
const (
	ContentText    = "TEXT"
	ContentSticker = "STICKER"
)

// MaxDatagramSize bounds a single framed message.
const MaxDatagramSize = 4096

// requiredFields lists, per message type, the fields Decode insists on.
// A type absent from this map is unknown.
var requiredFields = map[MessageType][]string{
	MsgAttackAnnounce:     {FieldMoveName},
	MsgDefenseAnnounce:    nil,
	MsgCalculationReport:  {FieldAttacker, FieldMoveUsed, FieldDamageDealt, FieldDefenderHPRemaining},
	MsgCalculationConfirm: nil,
	MsgResolutionRequest:  {FieldAttacker, FieldMoveUsed, FieldDamageDealt, FieldDefenderHPRemaining},
	MsgGameOver:           {FieldWinner, FieldLoser},
	MsgAck:                {FieldAckNumber},
	MsgHandshakeRequest:   nil,
	MsgHandshakeResponse:  {FieldSeed},
	MsgSpectatorRequest:   nil,
	MsgSpectatorResponse:  nil,
	MsgBattleSetup:        {FieldCommunicationMode, FieldPokemonName},
	MsgChatMessage:        {FieldSenderName, FieldContentType},
}

// Known reports whether t is a message type this package can decode.
func (t MessageType) Known() bool {
	_, ok := requiredFields[t]
	return ok
}

// IsBattle reports whether t belongs to the turn protocol (as opposed to
// session setup or chat).
func (t MessageType) IsBattle() bool {
	switch t {
	case MsgAttackAnnounce, MsgDefenseAnnounce, MsgCalculationReport,
		MsgCalculationConfirm, MsgResolutionRequest, MsgGameOver:
		return true
	}
	return false
}
