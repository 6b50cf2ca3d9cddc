package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pokeproto/pokeproto/internal/battle"
	"github.com/pokeproto/pokeproto/internal/db"
	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/network"
	"github.com/pokeproto/pokeproto/internal/session"
)

type fakeSession struct {
	mu        sync.Mutex
	snap      *battle.Snapshot
	submitted []string
	said      []string
}

func (f *fakeSession) Role() session.Role { return session.RoleJoiner }
func (f *fakeSession) SessionID() string  { return "s-1" }
func (f *fakeSession) State() string      { return "SettingUp" }

func (f *fakeSession) Snapshot() (battle.Snapshot, error) {
	if f.snap == nil {
		return battle.Snapshot{}, session.ErrNoBattle
	}
	return *f.snap, nil
}

func (f *fakeSession) View() (session.ViewSnapshot, bool) { return session.ViewSnapshot{}, false }

func (f *fakeSession) Moves() ([]battle.Move, error) {
	return []battle.Move{
		{Name: "Tackle", Type: battle.Normal, Power: 40, Category: battle.Physical},
		{Name: "Thunderbolt", Type: battle.Electric, Power: 90, Category: battle.Special},
	}, nil
}

func (f *fakeSession) SubmitMove(_ context.Context, move string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, move)
	return nil
}

func (f *fakeSession) Say(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, text)
	return nil
}

func (f *fakeSession) Spectators() []network.Peer { return nil }

func (f *fakeSession) TransportStats() network.Stats {
	return network.Stats{Sent: 12, Retransmitted: 3}
}

type fakeHistory struct{}

func (fakeHistory) ListBattles(context.Context, int) ([]db.BattleRecord, error) {
	ended := time.Now()
	return []db.BattleRecord{{
		ID: "b1", Role: "joiner", Mine: "Eevee", Opponent: "Pikachu",
		StartedAt: ended.Add(-time.Minute), EndedAt: &ended,
		Winner: "Pikachu", Reason: "fainted", Turns: 6,
	}}, nil
}

// syncBuffer is written by bus handlers on other goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestCLI(t *testing.T, s *fakeSession, h History) (*CLI, *syncBuffer, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	out := &syncBuffer{}
	return NewCLI(bus, s, h, strings.NewReader(""), out), out, bus
}

func TestCommands(t *testing.T) {
	cases := []struct {
		line string
		want []string
	}{
		{"help", []string{"attack <move>", "spectators"}},
		{"moves", []string{"THUNDERBOLT", "SPECIAL"}},
		{"status", []string{"State: SettingUp"}},
		{"stats", []string{"RETRANSMITTED", "12"}},
		{"history", []string{"Eevee vs Pikachu", "Pikachu (fainted)"}},
		{"spectators", []string{"No spectators."}},
		{"dance", []string{"Unknown command: 'dance'"}},
		{"attack", []string{"usage: attack <move>"}},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			c, out, _ := newTestCLI(t, &fakeSession{}, fakeHistory{})
			c.Execute(context.Background(), tc.line)
			got := out.String()
			for _, w := range tc.want {
				if !strings.Contains(strings.ToUpper(got), strings.ToUpper(w)) {
					t.Fatalf("%q output missing %q:\n%s", tc.line, w, got)
				}
			}
		})
	}
}

func TestAttackAndSayKeepFullText(t *testing.T) {
	s := &fakeSession{}
	c, _, _ := newTestCLI(t, s, nil)
	c.Execute(context.Background(), "attack Quick Attack")
	c.Execute(context.Background(), "say good luck  have fun")
	if len(s.submitted) != 1 || s.submitted[0] != "Quick Attack" {
		t.Fatalf("submitted = %v", s.submitted)
	}
	if len(s.said) != 1 || s.said[0] != "good luck  have fun" {
		t.Fatalf("said = %v", s.said)
	}
}

func TestStatusDuringBattle(t *testing.T) {
	s := &fakeSession{snap: &battle.Snapshot{
		BattleID: "s-1",
		Turn:     3,
		MyTurn:   true,
		Mine: battle.CombatantView{Name: "Eevee", Types: []battle.Type{battle.Normal}, HP: 40, MaxHP: 55,
			Boosts: battle.Boosts{SpecialAttackUses: 4, SpecialDefenseUses: 2}},
		Opponent: battle.CombatantView{Name: "Pikachu", Types: []battle.Type{battle.Electric}, HP: 12, MaxHP: 35},
	}}
	c, out, _ := newTestCLI(t, s, nil)
	c.Execute(context.Background(), "status")
	got := out.String()
	for _, w := range []string{"Eevee", "40/55", "12/35", "4/2", "Your move."} {
		if !strings.Contains(got, w) {
			t.Fatalf("status missing %q:\n%s", w, got)
		}
	}
}

func TestHistoryDisabled(t *testing.T) {
	c, out, _ := newTestCLI(t, &fakeSession{}, nil)
	c.Execute(context.Background(), "history")
	if !strings.Contains(out.String(), "history is disabled") {
		t.Fatalf("output = %s", out.String())
	}
}

func TestQuitEmitsShutdown(t *testing.T) {
	c, _, bus := newTestCLI(t, &fakeSession{}, nil)
	got := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "test", func(context.Context, events.Event) error {
		got <- struct{}{}
		return nil
	})
	c.Execute(context.Background(), "quit")
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no shutdown event")
	}
}

func TestStartStopsAtEndOfInput(t *testing.T) {
	s := &fakeSession{}
	bus := events.NewEventBus()
	defer bus.Stop()
	out := &syncBuffer{}
	c := NewCLI(bus, s, nil, strings.NewReader("attack Tackle\n"), out)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return at EOF")
	}
	if len(s.submitted) != 1 {
		t.Fatalf("submitted = %v", s.submitted)
	}
}

func TestPrinter(t *testing.T) {
	c, out, bus := newTestCLI(t, &fakeSession{}, nil)
	c.AttachPrinter()
	defer c.DetachPrinter()

	ctx := context.Background()
	bus.EmitSync(ctx, events.Event{Type: events.EventDamageDealt, Payload: events.DamageDealtPayload{
		Defender: "Eevee", Damage: 17, RemainingHP: 38, Status: "Pikachu used Thunderbolt!",
	}})
	bus.EmitSync(ctx, events.Event{Type: events.EventChatMessage, Payload: events.ChatPayload{Sender: "Ash", Text: "hi"}})
	bus.EmitSync(ctx, events.Event{Type: events.EventChatMessage, Payload: events.ChatPayload{Sender: "me", Text: "echo", Local: true}})
	bus.EmitSync(ctx, events.Event{Type: events.EventGameOver, Payload: events.GameOverPayload{Reason: events.ReasonDesync}})

	got := out.String()
	for _, w := range []string{"Pikachu used Thunderbolt!", "Eevee took 17 damage, 38 HP left.", "[Ash] hi", "Battle ended: desync."} {
		if !strings.Contains(got, w) {
			t.Fatalf("printer output missing %q:\n%s", w, got)
		}
	}
	if strings.Contains(got, "echo") {
		t.Fatal("local chat echoed")
	}
}
