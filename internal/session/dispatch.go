package session

import (
	"context"
	"errors"
	"net"

	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/network"
	"github.com/pokeproto/pokeproto/internal/protocol"
)

// dispatch handles one delivered payload. It runs on the receive goroutine.
func (p *Peer) dispatch(ctx context.Context, payload []byte, from net.Addr) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		p.logger.Warn().Err(err).Str("peer", from.String()).Msg("dropping undecodable message")
		return
	}
	p.peers.Touch(from)

	p.logger.Debug().
		Str("peer", from.String()).
		Str("message", string(msg.Type)).
		Msg("message received")

	switch msg.Type {
	case protocol.MsgHandshakeRequest:
		p.onHandshakeRequest(ctx, msg, from)
	case protocol.MsgHandshakeResponse:
		p.onHandshakeResponse(ctx, msg, from)
	case protocol.MsgSpectatorRequest:
		p.onSpectatorRequest(ctx, from)
	case protocol.MsgSpectatorResponse:
		p.onSpectatorResponse(ctx, msg, from)
	case protocol.MsgBattleSetup:
		p.onBattleSetup(ctx, msg, from)
	case protocol.MsgChatMessage:
		p.onChat(ctx, msg, from)
	case protocol.MsgAck:
		// Application-level ACKs are answered by the transport header.
	default:
		if msg.Type.IsBattle() {
			p.onBattleMessage(ctx, msg, from)
			return
		}
		p.logger.Debug().Str("message", string(msg.Type)).Msg("ignoring message")
	}
}

func (p *Peer) isOpponent(addr net.Addr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opponent != nil && p.opponent.String() == addr.String()
}

func (p *Peer) onHandshakeRequest(ctx context.Context, msg *protocol.Message, from net.Addr) {
	if p.cfg.Role != RoleHost {
		p.logger.Debug().Str("peer", from.String()).Msg("only the host answers handshakes")
		return
	}

	p.mu.Lock()
	switch {
	case p.opponent == nil:
		p.opponent = from
		p.handshake = protocol.HandshakeResponse(p.seed, p.sessionID)
	case p.opponent.String() != from.String():
		p.mu.Unlock()
		p.logger.Warn().Str("peer", from.String()).Msg("Rejecting second joiner")
		return
	default:
		// Our response was lost or the joiner retried: answer the same way.
		resp := p.handshake
		p.mu.Unlock()
		if err := p.sendTo(from, resp); err != nil {
			p.logger.Error().Err(err).Msg("failed to resend handshake response")
		}
		return
	}
	resp := p.handshake
	sessionID := p.sessionID
	p.mu.Unlock()

	p.peers.Register(from, network.PeerOpponent, "joiner")

	if err := p.sendTo(from, resp); err != nil {
		p.logger.Error().Err(err).Msg("failed to send handshake response")
		return
	}
	setup := p.setup
	if err := p.sendTo(from, setup); err != nil {
		p.logger.Error().Err(err).Msg("failed to send battle setup")
		return
	}
	p.relay(setup, nil)

	p.logger.Info().
		Str("joiner", from.String()).
		Str("session", sessionID).
		Str("proposed", msg.Value(protocol.FieldSessionID)).
		Msg("Handshake completed")
	p.bus.Emit(ctx, events.Event{
		Type:    events.EventPeerJoined,
		Source:  "session",
		Payload: events.PeerPayload{Address: from.String(), Role: network.PeerOpponent.String()},
	})
}

func (p *Peer) onHandshakeResponse(ctx context.Context, msg *protocol.Message, from net.Addr) {
	if p.cfg.Role != RoleJoiner || !p.isOpponent(from) {
		return
	}
	seed, err := msg.Uint64(protocol.FieldSeed)
	if err != nil {
		p.logger.Warn().Err(err).Msg("handshake response without usable seed")
		return
	}

	p.mu.Lock()
	if p.seedKnown {
		p.mu.Unlock()
		return
	}
	p.seed = seed
	p.seedKnown = true
	if id := msg.Value(protocol.FieldSessionID); id != "" {
		p.sessionID = id
	}
	p.mu.Unlock()

	p.logger.Info().Uint64("seed", seed).Msg("Handshake completed")

	if err := p.sendTo(from, p.setup); err != nil {
		p.logger.Error().Err(err).Msg("failed to send battle setup")
		return
	}

	p.mu.Lock()
	p.tryStart(ctx)
	p.mu.Unlock()
}

func (p *Peer) onSpectatorRequest(ctx context.Context, from net.Addr) {
	if p.cfg.Role != RoleHost {
		return
	}
	if p.isOpponent(from) {
		p.logger.Warn().Str("peer", from.String()).Msg("opponent cannot also spectate")
		return
	}

	isNew := p.peers.Register(from, network.PeerSpectator, "")

	p.mu.Lock()
	sessionID := p.sessionID
	var setups []*protocol.Message
	if p.opponent != nil {
		setups = append(setups, p.setup)
	}
	if p.oppSetup != nil {
		setups = append(setups, p.oppSetup)
	}
	p.mu.Unlock()

	if err := p.sendTo(from, protocol.SpectatorResponse(sessionID)); err != nil {
		p.logger.Error().Err(err).Msg("failed to answer spectator")
		return
	}
	if !isNew {
		return
	}
	// Catch the newcomer up on who is battling.
	for _, s := range setups {
		if err := p.sendTo(from, s); err != nil {
			p.logger.Warn().Err(err).Msg("failed to send setup to spectator")
		}
	}

	p.logger.Info().Str("spectator", from.String()).Int("spectators", len(p.Spectators())).Msg("Spectator joined")
	p.bus.Emit(ctx, events.Event{
		Type:    events.EventSpectatorJoined,
		Source:  "session",
		Payload: events.PeerPayload{Address: from.String(), Role: network.PeerSpectator.String()},
	})
}

func (p *Peer) onSpectatorResponse(ctx context.Context, msg *protocol.Message, from net.Addr) {
	if p.cfg.Role != RoleSpectator || !p.isOpponent(from) {
		return
	}
	p.mu.Lock()
	p.sessionID = msg.Value(protocol.FieldSessionID)
	p.mu.Unlock()

	p.view.setSession(p.SessionID())
	p.logger.Info().Str("host", from.String()).Msg("Spectating")
	p.emitView(ctx, msg)
}

func (p *Peer) onBattleSetup(ctx context.Context, msg *protocol.Message, from net.Addr) {
	if !p.isOpponent(from) {
		p.logger.Debug().Str("peer", from.String()).Msg("battle setup from unknown peer")
		return
	}
	setup, err := protocol.ParseSetup(msg)
	if err != nil {
		p.logger.Warn().Err(err).Msg("rejecting battle setup")
		return
	}
	if setup.Mode != protocol.CommunicationModeP2P {
		p.logger.Warn().Str("mode", setup.Mode).Msg("unsupported communication mode")
		return
	}

	c, err := p.repo.Combatant(setup.Pokemon)
	if err != nil {
		p.logger.Warn().Err(err).Msg("opponent chose an unknown combatant")
		return
	}
	c.Boosts = battle.Boosts(setup.Boosts)

	if p.cfg.Role == RoleSpectator {
		p.view.addCombatant(c)
		p.emitView(ctx, msg)
		return
	}

	p.mu.Lock()
	if p.opp != nil {
		p.mu.Unlock()
		return
	}
	p.opp = c
	p.oppSetup = msg
	p.tryStart(ctx)
	p.mu.Unlock()

	p.relay(msg, nil)
}

func (p *Peer) onBattleMessage(ctx context.Context, msg *protocol.Message, from net.Addr) {
	if !p.isOpponent(from) {
		p.logger.Debug().Str("peer", from.String()).Str("message", string(msg.Type)).Msg("battle message from non-opponent")
		return
	}

	if p.cfg.Role == RoleSpectator {
		p.view.apply(msg)
		p.emitView(ctx, msg)
		return
	}

	m, err := p.battle()
	if err != nil {
		p.logger.Debug().Str("message", string(msg.Type)).Msg("battle message before setup completed")
		return
	}

	p.relay(msg, nil)

	if err := m.Handle(ctx, msg); err != nil {
		switch {
		case errors.Is(err, battle.ErrUnexpectedMessage), errors.Is(err, battle.ErrGameOver):
			p.logger.Debug().Err(err).Msg("message ignored")
		default:
			p.logger.Warn().Err(err).Str("message", string(msg.Type)).Msg("message rejected")
		}
	}
}

func (p *Peer) onChat(ctx context.Context, msg *protocol.Message, from net.Addr) {
	if msg.Value(protocol.FieldContentType) != protocol.ContentText {
		p.logger.Debug().Str("content_type", msg.Value(protocol.FieldContentType)).Msg("ignoring non-text chat")
		return
	}
	if _, known := p.peers.Get(from); !known {
		return
	}

	if p.cfg.Role == RoleHost {
		// A spectator's line also reaches the opponent.
		if !p.isOpponent(from) {
			p.mu.Lock()
			to := p.opponent
			p.mu.Unlock()
			if to != nil {
				if err := p.sendTo(to, msg); err != nil {
					p.logger.Warn().Err(err).Msg("failed to forward chat")
				}
			}
		}
		p.relay(msg, from)
	}

	p.bus.Emit(ctx, events.Event{
		Type:   events.EventChatMessage,
		Source: "session",
		Payload: events.ChatPayload{
			Sender: msg.Value(protocol.FieldSenderName),
			Text:   msg.Value(protocol.FieldMessageText),
		},
	})
}

func (p *Peer) emitView(ctx context.Context, msg *protocol.Message) {
	p.bus.Emit(ctx, events.Event{
		Type:   events.EventSpectatorUpdate,
		Source: "session",
		Payload: events.SpectatorUpdatePayload{
			MessageType: string(msg.Type),
			Fields:      msg.Map(),
		},
	})
}
