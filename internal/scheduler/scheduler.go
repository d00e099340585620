// Package scheduler drives recurring playbook runs from persisted
// Schedule records.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"automation-hub/internal/cron"
	"automation-hub/internal/store"

	"github.com/rs/zerolog"
)

// Submitter is the slice of the engine the loop needs.
type Submitter interface {
	Submit(playbook, triggeredBy, inventoryGroup string) (*store.Job, error)
}

// Loop wakes once per tick, fires due schedules and recomputes their
// next occurrence. A bad schedule never halts evaluation of the others.
type Loop struct {
	store    *store.Store
	engine   Submitter
	interval time.Duration
	logger   zerolog.Logger
}

func New(st *store.Store, engine Submitter, logger zerolog.Logger) *Loop {
	return &Loop{
		store:    st,
		engine:   engine,
		interval: time.Minute,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks until ctx is done. Start it exactly once per process.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info().Dur("interval", l.interval).Msg("Scheduler loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("Scheduler loop stopped")
			return
		case now := <-ticker.C:
			if err := l.Tick(now); err != nil {
				l.logger.Error().Err(err).Msg("Schedule evaluation failed")
			}
		}
	}
}

// Tick evaluates every enabled schedule against now.
func (l *Loop) Tick(now time.Time) error {
	schedules, err := l.store.EnabledSchedules()
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for i := range schedules {
		if err := l.fire(&schedules[i], now); err != nil {
			l.logger.Error().Err(err).Uint("schedule_id", schedules[i].ID).Msg("Schedule firing failed")
		}
	}
	return nil
}

func (l *Loop) fire(sched *store.Schedule, now time.Time) error {
	if sched.NextRun == nil || sched.NextRun.After(now) {
		return nil
	}

	triggeredBy := fmt.Sprintf("schedule_%d", sched.ID)
	job, err := l.engine.Submit(sched.Playbook, triggeredBy, sched.InventoryGroup)
	if err != nil {
		return fmt.Errorf("submit %s: %w", sched.Playbook, err)
	}
	l.logger.Info().
		Uint("schedule_id", sched.ID).
		Uint("job_id", job.ID).
		Str("playbook", sched.Playbook).
		Msg("Schedule fired")

	next := cron.Next(sched.CronExpr, now)
	return l.store.MarkScheduleFired(sched.ID, now, next)
}
