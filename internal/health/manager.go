// Package health runs periodic checks on a battle peer and publishes a
// heartbeat event.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pokeproto/pokeproto/internal/config"
	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/network"
	"github.com/pokeproto/pokeproto/internal/session"
	"github.com/pokeproto/pokeproto/internal/util"
)

// Source is what the checks observe.
type Source interface {
	Role() session.Role
	State() string
	TransportStats() network.Stats
	Spectators() []network.Peer
}

// Result is the latest outcome of one check.
type Result struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

type check struct {
	name string
	fn   func(context.Context) Result
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      config.HealthConfig
	history  config.HistoryConfig
	eventBus *events.EventBus
	source   Source
	logger   zerolog.Logger
	started  time.Time

	// cpuSample is swapped out in tests.
	cpuSample func() (float64, error)

	mu         sync.Mutex
	results    map[string]Result
	lastFailed uint64
	lastCPU    float64
	lastMem    float64
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, source Source) *Manager {
	return &Manager{
		cfg:      cfg.GetHealth(),
		history:  cfg.GetHistory(),
		eventBus: eventBus,
		source:   source,
		logger:   util.ComponentLogger("health"),
		started:  time.Now(),
		cpuSample: func() (float64, error) {
			return util.GetCPUUsage(500 * time.Millisecond)
		},
		results: make(map[string]Result),
	}
}

func (m *Manager) checks() []check {
	checks := []check{
		{"transport_backlog", m.checkTransportBacklog},
		{"system_resources", m.checkSystemResources},
	}
	if m.history.Enabled {
		checks = append(checks, check{"disk_utilization", m.checkDiskUtilization})
	}
	return checks
}

// Start runs the checks and the heartbeat until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checkTicker := time.NewTicker(m.cfg.Interval())
	defer checkTicker.Stop()
	heartbeat := time.NewTicker(m.cfg.Heartbeat())
	defer heartbeat.Stop()

	m.logger.Info().
		Dur("check_interval", m.cfg.Interval()).
		Dur("heartbeat_interval", m.cfg.Heartbeat()).
		Msg("health check manager started")

	// Run immediately on startup
	m.RunChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case <-checkTicker.C:
			m.RunChecks(ctx)
		case <-heartbeat.C:
			m.Heartbeat(ctx)
		}
	}
}

// RunChecks runs every check once and stores the results.
func (m *Manager) RunChecks(ctx context.Context) {
	for _, c := range m.checks() {
		r := c.fn(ctx)
		r.Name = c.name
		r.CheckedAt = time.Now()

		m.mu.Lock()
		prev, seen := m.results[c.name]
		m.results[c.name] = r
		m.mu.Unlock()

		switch {
		case !r.Healthy:
			m.logger.Warn().Str("check", c.name).Msg(r.Message)
		case seen && !prev.Healthy:
			m.logger.Info().Str("check", c.name).Msg("check recovered")
		default:
			m.logger.Debug().Str("check", c.name).Msg(r.Message)
		}
	}
}

// Results returns the latest result of each check, sorted by name.
func (m *Manager) Results() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// checkTransportBacklog flags a growing envelope table or new delivery
// failures since the previous run.
func (m *Manager) checkTransportBacklog(ctx context.Context) Result {
	stats := m.source.TransportStats()

	m.mu.Lock()
	newFailures := stats.Failed - m.lastFailed
	m.lastFailed = stats.Failed
	m.mu.Unlock()

	if m.cfg.BacklogWarn > 0 && stats.Outstanding >= m.cfg.BacklogWarn {
		return Result{Message: fmt.Sprintf("%d messages awaiting acknowledgement", stats.Outstanding)}
	}
	if newFailures > 0 {
		return Result{Message: fmt.Sprintf("%d deliveries abandoned since last check", newFailures)}
	}
	return Result{
		Healthy: true,
		Message: fmt.Sprintf("%d outstanding, %d retransmitted", stats.Outstanding, stats.Retransmitted),
	}
}

// checkSystemResources reports CPU and memory pressure.
func (m *Manager) checkSystemResources(ctx context.Context) Result {
	cpu, err := m.cpuSample()
	if err != nil {
		return Result{Message: "cpu usage unavailable: " + err.Error()}
	}
	m.mu.Lock()
	m.lastCPU = cpu
	m.mu.Unlock()

	mem, err := util.GetMemoryUsage()
	if err != nil {
		return Result{Message: "memory usage unavailable: " + err.Error()}
	}

	m.mu.Lock()
	m.lastMem = mem.UsedPercent
	m.mu.Unlock()

	msg := fmt.Sprintf("cpu %.1f%%, memory %.1f%%", cpu, mem.UsedPercent)
	return Result{Healthy: cpu < 95 && mem.UsedPercent < 95, Message: msg}
}

// checkDiskUtilization watches the volume holding the history database.
func (m *Manager) checkDiskUtilization(ctx context.Context) Result {
	dir := filepath.Dir(m.history.DBPath)
	usage, err := util.GetDiskUsage(dir)
	if err != nil {
		return Result{Message: "disk usage unavailable: " + err.Error()}
	}

	msg := fmt.Sprintf("disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)
	return Result{Healthy: usage.UsedPercent < 90, Message: msg}
}

// Heartbeat emits one heartbeat event.
func (m *Manager) Heartbeat(ctx context.Context) {
	stats := m.source.TransportStats()
	payload := events.HeartbeatPayload{
		Role:        m.source.Role().String(),
		State:       m.source.State(),
		Outstanding: stats.Outstanding,
		Failed:      stats.Failed,
		Spectators:  len(m.source.Spectators()),
		UptimeSec:   int64(time.Since(m.started).Seconds()),
	}
	m.mu.Lock()
	payload.CPUPercent, payload.MemPercent = m.lastCPU, m.lastMem
	m.mu.Unlock()

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "health",
		Payload: payload,
	})
}
