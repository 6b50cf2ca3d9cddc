package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/network"
	"github.com/pokeproto/pokeproto/internal/pokedex"
	"github.com/pokeproto/pokeproto/internal/protocol"
)

type testPeer struct {
	*Peer
	transport *network.Transport
	bus       *events.EventBus
	stop      func()
}

func fastOptions() network.Options {
	return network.Options{
		RetryTimeout: 60 * time.Millisecond,
		MaxRetries:   3,
		TickInterval: 10 * time.Millisecond,
		ReadTimeout:  20 * time.Millisecond,
	}
}

func startPeer(t *testing.T, cfg Config) *testPeer {
	t.Helper()

	conn, err := network.Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	tr := network.NewTransport(conn, fastOptions())
	repo, err := pokedex.Default()
	if err != nil {
		t.Fatalf("pokedex: %v", err)
	}
	bus := events.NewEventBus()

	p, err := New(cfg, tr, repo, bus)
	if err != nil {
		tr.Shutdown()
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		<-done
		tr.Shutdown()
		bus.Stop()
	}
	t.Cleanup(stop)

	return &testPeer{Peer: p, transport: tr, bus: bus, stop: stop}
}

func (tp *testPeer) address() string {
	return tp.transport.LocalAddr().String()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func battleStarted(p *testPeer) func() bool {
	return func() bool {
		_, err := p.Snapshot()
		return err == nil
	}
}

func startBattle(t *testing.T) (*testPeer, *testPeer) {
	t.Helper()
	host := startPeer(t, Config{Role: RoleHost, Trainer: "Ash", Combatant: "Pikachu", Seed: 4242})
	joiner := startPeer(t, Config{Role: RoleJoiner, Trainer: "Gary", Combatant: "Eevee", HostAddress: host.address()})

	eventually(t, "host battle start", battleStarted(host))
	eventually(t, "joiner battle start", battleStarted(joiner))
	return host, joiner
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{"host": RoleHost, "Joiner": RoleJoiner, " SPECTATOR ": RoleSpectator} {
		got, err := ParseRole(in)
		if err != nil || got != want {
			t.Errorf("ParseRole(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseRole("referee"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestNewRejectsUnknownCombatant(t *testing.T) {
	conn, err := network.Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	tr := network.NewTransport(conn, fastOptions())
	defer tr.Shutdown()
	repo, _ := pokedex.Default()

	_, err = New(Config{Role: RoleHost, Combatant: "Missingno"}, tr, repo, events.NewEventBus())
	if !errors.Is(err, pokedex.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHandshakeAgreesOnSessionAndSeed(t *testing.T) {
	host, joiner := startBattle(t)

	if host.SessionID() == "" || host.SessionID() != joiner.SessionID() {
		t.Fatalf("session ids: host %q joiner %q", host.SessionID(), joiner.SessionID())
	}

	hs, _ := host.Snapshot()
	js, _ := joiner.Snapshot()
	if !hs.MyTurn || js.MyTurn {
		t.Fatal("host must move first")
	}
	if hs.Opponent.Name != "Eevee" || js.Opponent.Name != "Pikachu" {
		t.Fatalf("opponents: %s / %s", hs.Opponent.Name, js.Opponent.Name)
	}
	if host.State() != battle.StateWaitingForMove.String() {
		t.Fatalf("host state = %s", host.State())
	}
}

func TestStatBoostsAnnouncedAndSpentAlike(t *testing.T) {
	host := startPeer(t, Config{Role: RoleHost, Trainer: "Ash", Combatant: "Pikachu", Seed: 11,
		Boosts: battle.Boosts{SpecialAttackUses: 2}})
	joiner := startPeer(t, Config{Role: RoleJoiner, Trainer: "Gary", Combatant: "Eevee", HostAddress: host.address(),
		Boosts: battle.Boosts{SpecialDefenseUses: 3}})
	eventually(t, "battle start", func() bool { return battleStarted(host)() && battleStarted(joiner)() })

	hs, _ := host.Snapshot()
	js, _ := joiner.Snapshot()
	if hs.Opponent.Boosts != (battle.Boosts{SpecialDefenseUses: 3}) || js.Opponent.Boosts != (battle.Boosts{SpecialAttackUses: 2}) {
		t.Fatalf("announced boosts: host sees %+v, joiner sees %+v", hs.Opponent.Boosts, js.Opponent.Boosts)
	}

	if err := host.SubmitMove(context.Background(), "Thunderbolt"); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	eventually(t, "turn completion", func() bool {
		hs, _ = host.Snapshot()
		js, _ = joiner.Snapshot()
		return hs.Turn == 1 && js.Turn == 1
	})

	if hs.Mine.Boosts != (battle.Boosts{SpecialAttackUses: 1}) || js.Opponent.Boosts != hs.Mine.Boosts {
		t.Fatalf("attacker boosts: host %+v, joiner's copy %+v", hs.Mine.Boosts, js.Opponent.Boosts)
	}
	if js.Mine.Boosts != (battle.Boosts{SpecialDefenseUses: 2}) || hs.Opponent.Boosts != js.Mine.Boosts {
		t.Fatalf("defender boosts: joiner %+v, host's copy %+v", js.Mine.Boosts, hs.Opponent.Boosts)
	}
	if hs.Opponent.HP != js.Mine.HP {
		t.Fatal("boosted damage diverged")
	}
}

func TestNewRejectsBadBoosts(t *testing.T) {
	conn, err := network.Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	tr := network.NewTransport(conn, fastOptions())
	defer tr.Shutdown()
	repo, _ := pokedex.Default()

	_, err = New(Config{Role: RoleHost, Trainer: "Ash", Combatant: "Pikachu", Boosts: battle.Boosts{SpecialAttackUses: -2}},
		tr, repo, events.NewEventBus())
	if !errors.Is(err, protocol.ErrInvalidField) {
		t.Fatalf("err = %v", err)
	}
}

func TestFullBattleOverLoopback(t *testing.T) {
	host := startPeer(t, Config{Role: RoleHost, Trainer: "Ash", Combatant: "Pikachu", Seed: 7})
	spectator := startPeer(t, Config{Role: RoleSpectator, Trainer: "Brock", HostAddress: host.address()})
	eventually(t, "spectator registered", func() bool { return len(host.Spectators()) == 1 })

	joiner := startPeer(t, Config{Role: RoleJoiner, Trainer: "Gary", Combatant: "Eevee", HostAddress: host.address()})
	eventually(t, "battle start", func() bool { return battleStarted(host)() && battleStarted(joiner)() })

	ctx := context.Background()
	over := func() bool {
		hs, _ := host.Snapshot()
		js, _ := joiner.Snapshot()
		return hs.State == battle.StateGameOver && js.State == battle.StateGameOver
	}

	for turn := 1; turn <= 20 && !over(); turn++ {
		mover, move := host, "Thunderbolt"
		if turn%2 == 0 {
			mover, move = joiner, "Tackle"
		}
		if err := mover.SubmitMove(ctx, move); err != nil {
			t.Fatalf("turn %d: %v", turn, err)
		}
		want := turn
		eventually(t, "turn completion", func() bool {
			if over() {
				return true
			}
			hs, _ := host.Snapshot()
			js, _ := joiner.Snapshot()
			return hs.Turn == want && js.Turn == want && hs.MyTurn != js.MyTurn
		})
	}

	if !over() {
		t.Fatal("battle did not finish")
	}
	hs, _ := host.Snapshot()
	js, _ := joiner.Snapshot()
	if hs.Winner == "" || hs.Winner != js.Winner || hs.EndReason != "fainted" {
		t.Fatalf("verdicts: host %q (%s) joiner %q", hs.Winner, hs.EndReason, js.Winner)
	}
	if hs.Opponent.HP != js.Mine.HP || hs.Mine.HP != js.Opponent.HP {
		t.Fatal("hp views diverged")
	}

	eventually(t, "spectator sees the end", func() bool {
		v, _ := spectator.View()
		return v.Over && v.Winner == hs.Winner
	})
	v, ok := spectator.View()
	if !ok || len(v.Combatants) != 2 {
		t.Fatalf("spectator view = %+v", v)
	}
	if v.SessionID == "" {
		t.Fatal("spectator never learned the session id")
	}
	if _, err := spectator.Snapshot(); !errors.Is(err, ErrNoBattle) {
		t.Fatalf("spectator snapshot err = %v", err)
	}
}

func TestChatReachesOpponentAndSpectators(t *testing.T) {
	host := startPeer(t, Config{Role: RoleHost, Trainer: "Ash", Combatant: "Pikachu"})
	spectator := startPeer(t, Config{Role: RoleSpectator, Trainer: "Brock", HostAddress: host.address()})
	eventually(t, "spectator registered", func() bool { return len(host.Spectators()) == 1 })
	joiner := startPeer(t, Config{Role: RoleJoiner, Trainer: "Gary", Combatant: "Eevee", HostAddress: host.address()})
	eventually(t, "battle start", battleStarted(host))

	lines := func(p *testPeer) chan events.ChatPayload {
		ch := make(chan events.ChatPayload, 4)
		p.bus.Subscribe(events.EventChatMessage, "test", func(_ context.Context, e events.Event) error {
			ch <- e.Payload.(events.ChatPayload)
			return nil
		})
		return ch
	}
	atHost, atSpectator := lines(host), lines(spectator)

	if err := joiner.Say(context.Background(), "smell ya later"); err != nil {
		t.Fatalf("Say: %v", err)
	}

	for name, ch := range map[string]chan events.ChatPayload{"host": atHost, "spectator": atSpectator} {
		select {
		case line := <-ch:
			if line.Sender != "Gary" || line.Text != "smell ya later" || line.Local {
				t.Fatalf("%s got %+v", name, line)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("%s never got the chat line", name)
		}
	}

	if err := joiner.Say(context.Background(), "   "); err == nil {
		t.Fatal("empty chat accepted")
	}
}

func TestSecondJoinerIgnored(t *testing.T) {
	host, joiner := startBattle(t)
	late := startPeer(t, Config{Role: RoleJoiner, Trainer: "Misty", Combatant: "Squirtle", HostAddress: host.address()})

	time.Sleep(300 * time.Millisecond)
	if _, err := late.Snapshot(); !errors.Is(err, ErrNoBattle) {
		t.Fatalf("late joiner err = %v", err)
	}
	hs, _ := host.Snapshot()
	if hs.Opponent.Name != "Eevee" || host.SessionID() != joiner.SessionID() {
		t.Fatal("second joiner displaced the first")
	}
}

func TestUnreachableOpponentEndsBattle(t *testing.T) {
	host, joiner := startBattle(t)

	joiner.stop()
	if err := host.SubmitMove(context.Background(), "Thunderbolt"); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}

	eventually(t, "disconnect", func() bool {
		s, _ := host.Snapshot()
		return s.State == battle.StateGameOver && s.EndReason == "disconnected"
	})
}

func TestJoinerStopsWhenHostNeverAnswers(t *testing.T) {
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer silent.Close()

	conn, err := network.Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	tr := network.NewTransport(conn, fastOptions())
	defer tr.Shutdown()
	repo, _ := pokedex.Default()
	bus := events.NewEventBus()
	defer bus.Stop()

	p, err := New(Config{Role: RoleJoiner, Trainer: "Gary", Combatant: "Eevee", HostAddress: silent.LocalAddr().String()}, tr, repo, bus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrHostUnreachable) {
			t.Fatalf("Run = %v, want ErrHostUnreachable", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept waiting for a host that never answered")
	}
}

func TestMovesBeforeBattle(t *testing.T) {
	host := startPeer(t, Config{Role: RoleHost, Trainer: "Ash", Combatant: "Pikachu"})

	moves, err := host.Moves()
	if err != nil || len(moves) == 0 {
		t.Fatalf("Moves = %v, %v", moves, err)
	}
	if err := host.SubmitMove(context.Background(), "Tackle"); !errors.Is(err, ErrNoBattle) {
		t.Fatalf("SubmitMove err = %v", err)
	}
	if host.State() != "WaitingForJoiner" {
		t.Fatalf("state = %s", host.State())
	}
	if err := host.Say(context.Background(), "anyone?"); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("Say err = %v", err)
	}
}
