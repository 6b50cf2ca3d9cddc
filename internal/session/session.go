// Package session drives one peer of a battle: the handshake that agrees on
// the shared seed, the BATTLE_SETUP exchange, spectator relay and chat. It
// owns the receive loop and feeds battle messages into the state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/network"
	"github.com/pokeproto/pokeproto/internal/pokedex"
	"github.com/pokeproto/pokeproto/internal/protocol"
	"github.com/pokeproto/pokeproto/internal/util"
)

var (
	// ErrNoBattle is returned by battle operations before both combatants
	// and the seed are known, and always for spectators.
	ErrNoBattle = errors.New("session: no battle in progress")
	// ErrNoPeer is returned when there is nobody to talk to yet.
	ErrNoPeer = errors.New("session: no peer connected")
	// ErrHostUnreachable ends Run when the host never answered the
	// handshake or spectator request.
	ErrHostUnreachable = errors.New("session: host unreachable")
)

// Role is the part this process plays in a session.
type Role int

const (
	RoleHost Role = iota
	RoleJoiner
	RoleSpectator
)

var roleStrings = map[Role]string{
	RoleHost:      "host",
	RoleJoiner:    "joiner",
	RoleSpectator: "spectator",
}

func (r Role) String() string {
	if s, ok := roleStrings[r]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON serializes Role as a JSON string.
func (r Role) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// ParseRole parses "host", "joiner" or "spectator".
func ParseRole(s string) (Role, error) {
	for r, name := range roleStrings {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return r, nil
		}
	}
	return RoleHost, fmt.Errorf("unknown role %q", s)
}

// Config describes one peer.
type Config struct {
	Role Role
	// Trainer is the name shown in chat.
	Trainer string
	// Combatant is the species this peer battles with. Unused by
	// spectators.
	Combatant string
	// HostAddress is where joiners and spectators find the host.
	HostAddress string
	// Seed fixes the shared seed on the host. Zero picks one at random.
	Seed uint64
	// Boosts is the stat boost allotment announced in BATTLE_SETUP.
	Boosts battle.Boosts
}

// Peer is one side of a session. All exported methods are safe for
// concurrent use.
type Peer struct {
	cfg       Config
	transport *network.Transport
	repo      *pokedex.Repository
	bus       *events.EventBus
	peers     *network.PeerRegistry
	logger    zerolog.Logger

	mu        sync.Mutex
	sessionID string
	opponent  net.Addr
	seed      uint64
	seedKnown bool
	mine      *battle.Combatant
	opp       *battle.Combatant
	// setup and oppSetup are the BATTLE_SETUP messages of both sides as
	// first announced, replayed to late spectators.
	setup     *protocol.Message
	oppSetup  *protocol.Message
	machine   *battle.Machine
	// handshake is the host's cached reply, resent on repeated requests.
	handshake *protocol.Message
	view      *View

	// failed carries the error that stops Run.
	failed chan error
}

// New validates cfg and prepares a peer. Nothing is sent until Run.
func New(cfg Config, transport *network.Transport, repo *pokedex.Repository, bus *events.EventBus) (*Peer, error) {
	if transport == nil || repo == nil || bus == nil {
		return nil, errors.New("session: transport, repository and event bus are required")
	}

	p := &Peer{
		cfg:       cfg,
		transport: transport,
		repo:      repo,
		bus:       bus,
		peers:     network.NewPeerRegistry(),
		failed:    make(chan error, 1),
		logger:    util.ComponentLogger("session").With().Str("role", cfg.Role.String()).Logger(),
	}

	if cfg.Role != RoleSpectator {
		mine, err := repo.Combatant(cfg.Combatant)
		if err != nil {
			return nil, err
		}
		boosts := protocol.StatBoosts(cfg.Boosts)
		if err := boosts.Validate(); err != nil {
			return nil, fmt.Errorf("session: stat boosts: %w", err)
		}
		mine.Boosts = cfg.Boosts
		p.mine = mine
		p.setup = protocol.BattleSetup(mine.Name, boosts)
	} else {
		p.view = newView(repo)
	}

	if cfg.Role != RoleHost {
		addr, err := network.ResolvePeer(cfg.HostAddress)
		if err != nil {
			return nil, err
		}
		p.opponent = addr
		p.peers.Register(addr, network.PeerOpponent, "host")
	}

	if cfg.Role != RoleSpectator {
		// The host's id wins; a joiner's is only a proposal.
		p.sessionID = uuid.NewString()
	}
	if cfg.Role == RoleHost {
		p.seed = cfg.Seed
		if p.seed == 0 {
			p.seed = rand.Uint64N(999999) + 1
		}
		p.seedKnown = true
	}

	return p, nil
}

// Run starts the session and blocks until ctx is cancelled. Joiners and
// spectators open the session with a request to the host; the host waits.
func (p *Peer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.transport.Serve(gctx, func(payload []byte, from net.Addr) {
			p.dispatch(gctx, payload, from)
		})
	})
	g.Go(func() error {
		p.watchFailures(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-p.failed:
			return err
		}
	})

	switch p.cfg.Role {
	case RoleJoiner:
		if err := p.sendTo(p.opponent, protocol.HandshakeRequest(p.sessionID)); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		p.logger.Info().Str("host", p.opponent.String()).Msg("Handshake requested")
	case RoleSpectator:
		if err := p.sendTo(p.opponent, protocol.SpectatorRequest("")); err != nil {
			return fmt.Errorf("spectator request: %w", err)
		}
		p.logger.Info().Str("host", p.opponent.String()).Msg("Spectator request sent")
	default:
		p.logger.Info().Str("address", p.transport.LocalAddr().String()).Msg("Waiting for a joiner")
	}

	return g.Wait()
}

// Close ends a running battle locally.
func (p *Peer) Close(ctx context.Context) {
	p.mu.Lock()
	m := p.machine
	p.mu.Unlock()
	if m != nil {
		m.Abort(ctx)
	}
}

// watchFailures turns transport give-ups into session consequences: an
// unreachable opponent ends the battle, an unreachable spectator is
// dropped.
func (p *Peer) watchFailures(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.transport.Failures():
			p.peerUnreachable(ctx, f)
		}
	}
}

func (p *Peer) peerUnreachable(ctx context.Context, f network.PeerUnreachable) {
	info, known := p.peers.Get(f.Peer)
	if !known {
		p.logger.Debug().Str("peer", f.Peer.String()).Msg("unreachable peer was not registered")
		return
	}

	p.bus.Emit(ctx, events.Event{
		Type:   events.EventPeerUnreachable,
		Source: "session",
		Payload: events.PeerPayload{
			Address: info.Address,
			Role:    info.Role.String(),
			Name:    info.Name,
			Retries: f.Retries,
		},
	})

	if info.Role == network.PeerSpectator {
		p.peers.Unregister(f.Peer)
		p.transport.ForgetPeer(f.Peer)
		p.logger.Warn().Str("spectator", info.Address).Msg("Spectator unreachable, dropped")
		p.bus.Emit(ctx, events.Event{
			Type:    events.EventSpectatorLeft,
			Source:  "session",
			Payload: events.PeerPayload{Address: info.Address, Role: info.Role.String()},
		})
		return
	}

	p.mu.Lock()
	m := p.machine
	view := p.view
	// Without a battle or a spectator session the host never answered.
	neverAnswered := (p.cfg.Role == RoleJoiner && m == nil) ||
		(p.cfg.Role == RoleSpectator && p.sessionID == "")
	p.mu.Unlock()

	p.logger.Warn().Str("peer", info.Address).Int("abandoned", f.Abandoned).Msg("Opponent unreachable")
	if m != nil {
		m.PeerUnreachable(ctx)
	}
	if view != nil {
		view.disconnect()
	}
	if neverAnswered {
		p.fail(fmt.Errorf("%w: %s", ErrHostUnreachable, info.Address))
	}
}

// fail stops Run with err. Only the first error is kept.
func (p *Peer) fail(err error) {
	select {
	case p.failed <- err:
	default:
	}
}

// sendTo queues msg for addr. A socket error after the envelope was
// registered is not a failure: the retry loop keeps trying and reports
// through Failures if it gives up.
func (p *Peer) sendTo(addr net.Addr, msg *protocol.Message) error {
	if addr == nil {
		return ErrNoPeer
	}
	seq, err := p.transport.Send(addr, protocol.Encode(msg))
	if err != nil {
		if seq == 0 {
			return err
		}
		p.logger.Warn().Err(err).Uint32("seq", seq).Str("message", string(msg.Type)).Msg("first transmission failed, retrying")
	}
	return nil
}

// relay forwards msg to every spectator except skip. Only the host keeps
// spectators.
func (p *Peer) relay(msg *protocol.Message, skip net.Addr) {
	if p.cfg.Role != RoleHost {
		return
	}
	for _, s := range p.peers.ByRole(network.PeerSpectator) {
		if skip != nil && s.Address == skip.String() {
			continue
		}
		if err := p.sendTo(s.Addr, msg); err != nil {
			p.logger.Warn().Err(err).Str("spectator", s.Address).Msg("relay failed")
		}
	}
}

// opponentSender is the battle machine's view of the wire: everything it
// sends goes to the opponent and is mirrored to spectators.
type opponentSender struct {
	p    *Peer
	addr net.Addr
}

func (s opponentSender) Send(msg *protocol.Message) error {
	if err := s.p.sendTo(s.addr, msg); err != nil {
		return err
	}
	s.p.relay(msg, nil)
	return nil
}

// tryStart creates the battle machine once the seed and both combatants
// are known. Setup and handshake may arrive in any order. Callers hold mu.
func (p *Peer) tryStart(ctx context.Context) {
	if p.machine != nil || !p.seedKnown || p.mine == nil || p.opp == nil || p.opponent == nil {
		return
	}

	role := battle.RoleHost
	if p.cfg.Role == RoleJoiner {
		role = battle.RoleJoiner
	}

	m, err := battle.NewMachine(battle.MachineConfig{
		BattleID: p.sessionID,
		Role:     role,
		Mine:     p.mine,
		Opponent: p.opp,
		Engine:   battle.NewEngine(battle.NewSeededRoller(p.seed)),
		Moves:    p.repo,
		Sender:   opponentSender{p: p, addr: p.opponent},
		Emitter:  p.bus,
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to start battle")
		return
	}
	p.machine = m

	p.logger.Info().
		Str("battle", p.sessionID).
		Str("mine", p.mine.Name).
		Str("opponent", p.opp.Name).
		Uint64("seed", p.seed).
		Bool("my_turn", role == battle.RoleHost).
		Msg("Battle started")

	p.bus.Emit(ctx, events.Event{
		Type:   events.EventBattleStarted,
		Source: "session",
		Payload: events.BattleStartedPayload{
			BattleID:   p.sessionID,
			Role:       p.cfg.Role.String(),
			Mine:       p.mine.Name,
			Opponent:   p.opp.Name,
			MyHP:       p.mine.HP,
			OpponentHP: p.opp.HP,
			MyTurn:     role == battle.RoleHost,
		},
	})
}

// SubmitMove announces a move on this peer's turn.
func (p *Peer) SubmitMove(ctx context.Context, move string) error {
	m, err := p.battle()
	if err != nil {
		return err
	}
	return m.SubmitMove(ctx, move)
}

// Say sends a text chat line. The host also relays it to spectators; a
// spectator's line goes to the host, which relays it onwards.
func (p *Peer) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("session: empty chat message")
	}

	p.mu.Lock()
	to := p.opponent
	p.mu.Unlock()

	msg := protocol.ChatText(p.cfg.Trainer, text)
	if to == nil && p.peers.Count() == 0 {
		return ErrNoPeer
	}
	if to != nil {
		if err := p.sendTo(to, msg); err != nil {
			return err
		}
	}
	p.relay(msg, nil)

	p.bus.Emit(ctx, events.Event{
		Type:    events.EventChatMessage,
		Source:  "session",
		Payload: events.ChatPayload{Sender: p.cfg.Trainer, Text: text, Local: true},
	})
	return nil
}

func (p *Peer) battle() (*battle.Machine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.machine == nil {
		return nil, ErrNoBattle
	}
	return p.machine, nil
}

// Snapshot returns the battle state of a playing peer.
func (p *Peer) Snapshot() (battle.Snapshot, error) {
	m, err := p.battle()
	if err != nil {
		return battle.Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// View returns the spectator's picture of the battle.
func (p *Peer) View() (ViewSnapshot, bool) {
	if p.view == nil {
		return ViewSnapshot{}, false
	}
	return p.view.Snapshot(), true
}

// Moves lists this peer's own moves.
func (p *Peer) Moves() ([]battle.Move, error) {
	if p.mine == nil {
		return nil, ErrNoBattle
	}
	return append([]battle.Move(nil), p.mine.Moves...), nil
}

// Spectators lists registered spectators.
func (p *Peer) Spectators() []network.Peer {
	return p.peers.ByRole(network.PeerSpectator)
}

// TransportStats exposes the transport counters.
func (p *Peer) TransportStats() network.Stats {
	return p.transport.Stats()
}

// Role returns the configured role.
func (p *Peer) Role() Role {
	return p.cfg.Role
}

// SessionID returns the session identifier once agreed.
func (p *Peer) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// State describes the session for status displays.
func (p *Peer) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.machine != nil:
		return p.machine.State().String()
	case p.cfg.Role == RoleSpectator:
		return "Spectating"
	case p.opponent == nil:
		return "WaitingForJoiner"
	default:
		return "SettingUp"
	}
}
