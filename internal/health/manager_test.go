package health

import (
	"context"
	"testing"
	"time"

	"github.com/pokeproto/pokeproto/internal/config"
	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/network"
	"github.com/pokeproto/pokeproto/internal/session"
)

type fakeSource struct {
	stats network.Stats
}

func (f *fakeSource) Role() session.Role           { return session.RoleHost }
func (f *fakeSource) State() string                { return "WaitingForMove" }
func (f *fakeSource) TransportStats() network.Stats { return f.stats }
func (f *fakeSource) Spectators() []network.Peer   { return []network.Peer{{Address: "127.0.0.1:9"}} }

func newManager(t *testing.T, src *fakeSource) (*Manager, *events.EventBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Health.BacklogWarn = 5
	cfg.History.Enabled = false
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	m := NewManager(cfg, bus, src)
	m.cpuSample = func() (float64, error) { return 12.5, nil }
	return m, bus
}

func result(t *testing.T, m *Manager, name string) Result {
	t.Helper()
	for _, r := range m.Results() {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no result for %s", name)
	return Result{}
}

func TestTransportBacklog(t *testing.T) {
	src := &fakeSource{}
	m, _ := newManager(t, src)
	ctx := context.Background()

	m.RunChecks(ctx)
	if r := result(t, m, "transport_backlog"); !r.Healthy {
		t.Fatalf("idle transport unhealthy: %s", r.Message)
	}

	src.stats.Outstanding = 6
	m.RunChecks(ctx)
	if r := result(t, m, "transport_backlog"); r.Healthy {
		t.Fatal("backlog above threshold reported healthy")
	}

	src.stats.Outstanding = 0
	src.stats.Failed = 2
	m.RunChecks(ctx)
	if r := result(t, m, "transport_backlog"); r.Healthy {
		t.Fatal("new failures reported healthy")
	}

	// Failures are counted since the previous run.
	m.RunChecks(ctx)
	if r := result(t, m, "transport_backlog"); !r.Healthy {
		t.Fatalf("old failures still reported: %s", r.Message)
	}
}

func TestDiskCheckOnlyWithHistory(t *testing.T) {
	m, _ := newManager(t, &fakeSource{})
	for _, c := range m.checks() {
		if c.name == "disk_utilization" {
			t.Fatal("disk check enabled without history")
		}
	}
}

func TestHeartbeat(t *testing.T) {
	src := &fakeSource{stats: network.Stats{Outstanding: 3, Failed: 1}}
	m, bus := newManager(t, src)

	got := make(chan events.HeartbeatPayload, 1)
	bus.Subscribe(events.EventHeartbeat, "test", func(_ context.Context, e events.Event) error {
		got <- e.Payload.(events.HeartbeatPayload)
		return nil
	})

	m.RunChecks(context.Background())
	m.Heartbeat(context.Background())

	select {
	case hb := <-got:
		if hb.Role != "host" || hb.State != "WaitingForMove" || hb.Outstanding != 3 ||
			hb.Failed != 1 || hb.Spectators != 1 || hb.CPUPercent != 12.5 {
			t.Fatalf("heartbeat = %+v", hb)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat")
	}
}
