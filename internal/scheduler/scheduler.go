// Package scheduler runs daily maintenance for a battle peer: pruning old
// battle history.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pokeproto/pokeproto/internal/config"
	"github.com/pokeproto/pokeproto/internal/util"
)

// Pruner deletes battles that started before a cutoff.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    config.HistoryConfig
	pruner Pruner
	logger zerolog.Logger

	now func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, pruner Pruner) *Scheduler {
	return &Scheduler{
		cfg:    cfg.GetHistory(),
		pruner: pruner,
		logger: util.ComponentLogger("scheduler"),
		now:    time.Now,
	}
}

// Start runs the history pruner at the configured time each day until
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")
	defer s.logger.Info().Msg("scheduler stopped")

	if s.pruner == nil || s.cfg.RetentionDays <= 0 {
		<-ctx.Done()
		return
	}

	for {
		nextRun := s.nextCleanupTime()
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		s.logger.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("history cleaner scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.PruneHistory(ctx)
		}
	}
}

// PruneHistory deletes battles older than the retention period.
func (s *Scheduler) PruneHistory(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)

	s.logger.Info().
		Int("retention_days", s.cfg.RetentionDays).
		Time("cutoff", cutoff).
		Msg("running history cleaner")

	deleted, err := s.pruner.PruneOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history cleaner failed")
		return 0, err
	}

	s.logger.Info().Int64("deleted_battles", deleted).Msg("history cleaner completed")
	return deleted, nil
}

// nextCleanupTime returns the next occurrence of cleanup_time (HH:MM,
// local time). Unparseable values fall back to 04:00.
func (s *Scheduler) nextCleanupTime() time.Time {
	hour, minute := parseClock(s.cfg.CleanupTime)

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func parseClock(value string) (int, int) {
	hour, minute := 4, 0 // Default: 4:00 AM
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return hour, minute
	}
	var h, m int
	if _, err := fmt.Sscanf(parts[0], "%d", &h); err != nil || h < 0 || h > 23 {
		return hour, minute
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &m); err != nil || m < 0 || m > 59 {
		return hour, minute
	}
	return h, m
}
