package battle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/protocol"
	"github.com/pokeproto/pokeproto/internal/util"
)

// Sender delivers a protocol message to the opponent. It returns an error
// only when the message was not queued for delivery at all.
type Sender interface {
	Send(msg *protocol.Message) error
}

// Emitter receives presentation events.
type Emitter interface {
	Emit(ctx context.Context, event events.Event)
}

// MachineConfig wires a Machine.
type MachineConfig struct {
	BattleID string
	Role     Role
	Mine     *Combatant
	Opponent *Combatant
	Engine   *Engine
	Moves    MoveLookup
	Sender   Sender
	Emitter  Emitter
}

// Machine runs the turn protocol for one connection. The receive path and
// local input both enter through its methods; an internal mutex serializes
// them. The machine never holds its lock while waiting on the network.
type Machine struct {
	mu sync.Mutex

	id       string
	role     Role
	mine     *Combatant
	opp      *Combatant
	engine   *Engine
	moves    MoveLookup
	sender   Sender
	emitter  Emitter
	logger   zerolog.Logger

	state    State
	phase    phase
	isMyTurn bool
	turn     int
	pending  Move
	record   TurnRecord

	winner string
	loser  string
	reason events.GameOverReason
}

// NewMachine creates a machine in WaitingForMove. The host holds the first
// turn.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Mine == nil || cfg.Opponent == nil {
		return nil, errors.New("battle: both combatants are required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("battle: damage engine is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("battle: sender is required")
	}
	if cfg.Moves == nil {
		cfg.Moves = movesetLookup{}
	}
	if cfg.Emitter == nil {
		cfg.Emitter = nopEmitter{}
	}

	return &Machine{
		id:       cfg.BattleID,
		role:     cfg.Role,
		mine:     cfg.Mine,
		opp:      cfg.Opponent,
		engine:   cfg.Engine,
		moves:    cfg.Moves,
		sender:   cfg.Sender,
		emitter:  cfg.Emitter,
		logger:   util.ComponentLogger("battle").With().Str("battle", cfg.BattleID).Str("role", cfg.Role.String()).Logger(),
		state:    StateWaitingForMove,
		isMyTurn: cfg.Role == RoleHost,
	}, nil
}

// SubmitMove is local input: announce a move from our own set. An unknown
// move is rejected before anything is sent.
func (m *Machine) SubmitMove(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state == StateGameOver:
		return ErrGameOver
	case !m.isMyTurn:
		return ErrNotYourTurn
	case m.state != StateWaitingForMove || m.phase != phaseIdle:
		return ErrTurnInProgress
	}

	move, err := m.moves.Move(name, m.mine)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMove, err)
	}

	if err := m.sender.Send(protocol.AttackAnnounce(move.Name)); err != nil {
		return fmt.Errorf("announce %s: %w", move.Name, err)
	}

	m.pending = move
	m.record = TurnRecord{
		Turn:     m.turn + 1,
		Attacker: m.mine.Name,
		Defender: m.opp.Name,
		Move:     move.Name,
	}
	m.phase = phaseAwaitDefense
	m.setState(ctx, StateProcessingTurn)

	m.emit(ctx, events.EventMoveAnnounced, events.MoveAnnouncedPayload{
		BattleID: m.id,
		Turn:     m.turn + 1,
		Attacker: m.mine.Name,
		Move:     move.Name,
		Local:    true,
	})
	return nil
}

// Handle processes one decoded message from the opponent. Messages that
// are not valid in the current state leave it untouched and return an
// error wrapping ErrUnexpectedMessage; callers log and drop them.
func (m *Machine) Handle(ctx context.Context, msg *protocol.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateGameOver {
		return ErrGameOver
	}

	switch msg.Type {
	case protocol.MsgAttackAnnounce:
		return m.onAttackAnnounce(ctx, msg)
	case protocol.MsgDefenseAnnounce:
		return m.onDefenseAnnounce(ctx)
	case protocol.MsgCalculationReport:
		return m.onCalculationReport(ctx, msg)
	case protocol.MsgCalculationConfirm:
		return m.onCalculationConfirm(ctx)
	case protocol.MsgResolutionRequest:
		return m.onResolutionRequest(ctx, msg)
	case protocol.MsgGameOver:
		return m.onGameOver(ctx, msg)
	default:
		return m.unexpected(msg.Type)
	}
}

// PeerUnreachable ends the battle after the transport gave up on the
// opponent.
func (m *Machine) PeerUnreachable(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateGameOver {
		return
	}
	m.logger.Warn().Msg("opponent unreachable, ending battle")
	m.end(ctx, "", "", events.ReasonDisconnected)
}

// Abort ends the battle locally, e.g. on shutdown.
func (m *Machine) Abort(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateGameOver {
		return
	}
	m.end(ctx, "", "", events.ReasonAborted)
}

// defender side: the opponent announced a move.
func (m *Machine) onAttackAnnounce(ctx context.Context, msg *protocol.Message) error {
	// The opponent only attacks after confirming our last report; its
	// CALCULATION_CONFIRM may simply be arriving later.
	if m.isMyTurn && m.phase == phaseAwaitConfirm {
		m.logger.Debug().Msg("attack announce implies confirmation of previous turn")
		m.completeTurn(ctx)
	}

	if m.isMyTurn || m.state != StateWaitingForMove || m.phase != phaseIdle {
		return m.unexpected(msg.Type)
	}

	name := msg.Value(protocol.FieldMoveName)
	move, err := m.moves.Move(name, m.opp)
	if err != nil {
		return fmt.Errorf("%w: opponent move: %v", ErrInvalidMove, err)
	}

	out := m.engine.Calculate(m.opp, m.mine, move)
	m.record = TurnRecord{
		Turn:          m.turn + 1,
		Attacker:      m.opp.Name,
		Defender:      m.mine.Name,
		Move:          move.Name,
		Damage:        out.Damage,
		RemainingHP:   ApplyDamage(m.mine.HP, out.Damage),
		Effectiveness: out.Effectiveness,
		Status:        out.Describe(m.opp.Name, move.Name),
		Computed:      true,
	}

	m.emit(ctx, events.EventMoveAnnounced, events.MoveAnnouncedPayload{
		BattleID: m.id,
		Turn:     m.turn + 1,
		Attacker: m.opp.Name,
		Move:     move.Name,
	})

	if !m.send(ctx, protocol.DefenseAnnounce()) {
		return nil
	}
	m.phase = phaseAwaitReport
	m.setState(ctx, StateProcessingTurn)
	return nil
}

// mover side: the defender is ready, compute and report.
func (m *Machine) onDefenseAnnounce(ctx context.Context) error {
	if !m.isMyTurn || m.state != StateProcessingTurn || m.phase != phaseAwaitDefense {
		return m.unexpected(protocol.MsgDefenseAnnounce)
	}

	out := m.engine.Calculate(m.mine, m.opp, m.pending)
	m.opp.HP = ApplyDamage(m.opp.HP, out.Damage)

	m.record.Damage = out.Damage
	m.record.RemainingHP = m.opp.HP
	m.record.Effectiveness = out.Effectiveness
	m.record.Status = out.Describe(m.mine.Name, m.pending.Name)
	m.record.Computed = true

	m.emitDamage(ctx)

	if m.opp.HP == 0 {
		if m.send(ctx, protocol.GameOver(m.mine.Name, m.opp.Name)) {
			m.end(ctx, m.mine.Name, m.opp.Name, events.ReasonFainted)
		}
		return nil
	}

	if !m.send(ctx, protocol.CalculationReport(m.report())) {
		return nil
	}
	m.phase = phaseAwaitConfirm
	m.setState(ctx, StateWaitingForMove)
	return nil
}

// defender side: cross-check the mover's numbers against our own.
func (m *Machine) onCalculationReport(ctx context.Context, msg *protocol.Message) error {
	if m.isMyTurn || m.state != StateProcessingTurn || m.phase != phaseAwaitReport {
		return m.unexpected(msg.Type)
	}

	reported, err := protocol.ParseReport(msg)
	if err != nil {
		return err
	}

	local := m.report()
	if reported.Matches(local) {
		if !m.send(ctx, protocol.CalculationConfirm()) {
			return nil
		}
		m.acceptLocalOutcome(ctx)
		return nil
	}

	m.logger.Warn().
		Str("reported", reported.String()).
		Str("local", local.String()).
		Msg("calculation mismatch, requesting resolution")
	m.emitDiscrepancy(ctx, reported, local, false)

	if !m.send(ctx, protocol.ResolutionRequest(local)) {
		return nil
	}
	m.phase = phaseAwaitResolution
	m.setState(ctx, StateWaitingForResolution)
	return nil
}

func (m *Machine) onCalculationConfirm(ctx context.Context) error {
	switch {
	case m.isMyTurn && m.phase == phaseAwaitConfirm:
		m.completeTurn(ctx)
		return nil
	case m.state == StateWaitingForResolution:
		// The mover accepted our values.
		m.acceptLocalOutcome(ctx)
		return nil
	}
	return m.unexpected(protocol.MsgCalculationConfirm)
}

// Resolution is a single attempt. A second disagreement ends the battle
// with no winner.
func (m *Machine) onResolutionRequest(ctx context.Context, msg *protocol.Message) error {
	mover := m.isMyTurn && m.phase == phaseAwaitConfirm
	if !mover && m.state != StateWaitingForResolution {
		return m.unexpected(msg.Type)
	}

	requested, err := protocol.ParseReport(msg)
	if err != nil {
		return err
	}

	local := m.report()
	if requested.Matches(local) {
		if !m.send(ctx, protocol.CalculationConfirm()) {
			return nil
		}
		if mover {
			m.completeTurn(ctx)
		} else {
			m.acceptLocalOutcome(ctx)
		}
		return nil
	}

	m.logger.Error().
		Str("requested", requested.String()).
		Str("local", local.String()).
		Msg("resolution failed, battle cannot continue")
	m.emitDiscrepancy(ctx, requested, local, true)

	if mover {
		// Re-assert our values so the defender reaches the same verdict.
		m.send(ctx, protocol.ResolutionRequest(local))
	}
	m.end(ctx, "", "", events.ReasonDesync)
	return nil
}

func (m *Machine) onGameOver(ctx context.Context, msg *protocol.Message) error {
	winner := msg.Value(protocol.FieldWinner)
	loser := msg.Value(protocol.FieldLoser)

	if strings.EqualFold(loser, m.mine.Name) {
		if m.record.Computed && m.record.Defender == m.mine.Name && m.record.RemainingHP != 0 {
			m.logger.Warn().
				Int("local_remaining_hp", m.record.RemainingHP).
				Msg("opponent declared us fainted but our own calculation disagrees")
		}
		m.mine.HP = 0
	} else if strings.EqualFold(loser, m.opp.Name) {
		m.opp.HP = 0
	}

	m.end(ctx, winner, loser, events.ReasonFainted)
	return nil
}

// acceptLocalOutcome applies the defender's agreed numbers and passes the
// turn.
func (m *Machine) acceptLocalOutcome(ctx context.Context) {
	m.mine.HP = m.record.RemainingHP
	m.emitDamage(ctx)
	m.completeTurn(ctx)
	m.setState(ctx, StateWaitingForMove)
}

// completeTurn flips isMyTurn. It runs exactly once per turn cycle.
func (m *Machine) completeTurn(ctx context.Context) {
	m.isMyTurn = !m.isMyTurn
	m.turn++
	m.phase = phaseIdle

	next := m.opp.Name
	if m.isMyTurn {
		next = m.mine.Name
	}
	m.logger.Info().Int("turn", m.turn).Bool("my_turn", m.isMyTurn).Msg("turn complete")
	m.emit(ctx, events.EventTurnChanged, events.TurnChangedPayload{
		BattleID: m.id,
		Turn:     m.turn,
		MyTurn:   m.isMyTurn,
		Next:     next,
	})
}

// send queues msg for the opponent. A failure here means the transport is
// gone, which ends the battle.
func (m *Machine) send(ctx context.Context, msg *protocol.Message) bool {
	if err := m.sender.Send(msg); err != nil {
		m.logger.Error().Err(err).Str("message", string(msg.Type)).Msg("failed to send, ending battle")
		m.end(ctx, "", "", events.ReasonAborted)
		return false
	}
	return true
}

func (m *Machine) end(ctx context.Context, winner, loser string, reason events.GameOverReason) {
	m.winner = winner
	m.loser = loser
	m.reason = reason
	m.phase = phaseIdle
	m.setState(ctx, StateGameOver)

	m.logger.Info().
		Str("winner", winner).
		Str("loser", loser).
		Str("reason", reason.String()).
		Int("turns", m.turn).
		Msg("battle over")
	m.emit(ctx, events.EventGameOver, events.GameOverPayload{
		BattleID: m.id,
		Winner:   winner,
		Loser:    loser,
		Reason:   reason,
		Turns:    m.turn,
	})
}

func (m *Machine) setState(ctx context.Context, to State) {
	if m.state == to {
		return
	}
	from := m.state
	m.state = to
	m.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	m.emit(ctx, events.EventStateChanged, events.StateChangedPayload{
		BattleID: m.id,
		From:     from.String(),
		To:       to.String(),
	})
}

func (m *Machine) report() protocol.Report {
	return protocol.Report{
		Attacker:    m.record.Attacker,
		Move:        m.record.Move,
		Damage:      m.record.Damage,
		RemainingHP: m.record.RemainingHP,
		Status:      m.record.Status,
	}
}

func (m *Machine) unexpected(t protocol.MessageType) error {
	return fmt.Errorf("%w: %s in %s", ErrUnexpectedMessage, t, m.state)
}

func (m *Machine) emitDamage(ctx context.Context) {
	m.emit(ctx, events.EventDamageDealt, events.DamageDealtPayload{
		BattleID:      m.id,
		Turn:          m.record.Turn,
		Attacker:      m.record.Attacker,
		Defender:      m.record.Defender,
		Move:          m.record.Move,
		Damage:        m.record.Damage,
		RemainingHP:   m.record.RemainingHP,
		Effectiveness: m.record.Effectiveness,
		Status:        m.record.Status,
	})
}

func (m *Machine) emitDiscrepancy(ctx context.Context, reported, local protocol.Report, fatal bool) {
	m.emit(ctx, events.EventDiscrepancy, events.DiscrepancyPayload{
		BattleID: m.id,
		Turn:     m.record.Turn,
		Reported: events.TurnValues{Move: reported.Move, Damage: reported.Damage, RemainingHP: reported.RemainingHP},
		Local:    events.TurnValues{Move: local.Move, Damage: local.Damage, RemainingHP: local.RemainingHP},
		Fatal:    fatal,
	})
}

func (m *Machine) emit(ctx context.Context, t events.EventType, payload interface{}) {
	m.emitter.Emit(ctx, events.Event{Type: t, Source: "battle", Payload: payload})
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, events.Event) {}
