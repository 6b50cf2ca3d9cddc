package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pokeproto/pokeproto/internal/config"
)

type fakePruner struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakePruner) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func newScheduler(p Pruner, cleanup string, now time.Time) *Scheduler {
	cfg := config.DefaultConfig()
	cfg.History.RetentionDays = 7
	cfg.History.CleanupTime = cleanup
	s := NewScheduler(cfg, p)
	s.now = func() time.Time { return now }
	return s
}

func TestNextCleanupTime(t *testing.T) {
	base := time.Date(2024, 3, 10, 5, 30, 0, 0, time.UTC)
	cases := []struct {
		cleanup string
		want    time.Time
	}{
		{"06:15", time.Date(2024, 3, 10, 6, 15, 0, 0, time.UTC)},
		{"05:30", time.Date(2024, 3, 11, 5, 30, 0, 0, time.UTC)},
		{"03:00", time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC)},
		{"garbage", time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC)},
		{"25:00", time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		s := newScheduler(&fakePruner{}, tc.cleanup, base)
		if got := s.nextCleanupTime(); !got.Equal(tc.want) {
			t.Errorf("%q: next = %v, want %v", tc.cleanup, got, tc.want)
		}
	}
}

func TestPruneHistoryUsesRetention(t *testing.T) {
	now := time.Date(2024, 3, 10, 4, 0, 0, 0, time.UTC)
	p := &fakePruner{n: 3}
	s := newScheduler(p, "04:00", now)

	n, err := s.PruneHistory(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("PruneHistory = %d, %v", n, err)
	}
	if want := now.AddDate(0, 0, -7); !p.cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", p.cutoff, want)
	}

	p.err = errors.New("disk full")
	if _, err := s.PruneHistory(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStartReturnsOnCancel(t *testing.T) {
	s := newScheduler(&fakePruner{}, "04:00", time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
}
