// Package engine runs playbooks as child processes and keeps the job
// history honest: every submission becomes a persisted Job that marches
// pending -> running -> {completed|failed|cancelled} and never reverts.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"automation-hub/internal/broadcast"
	"automation-hub/internal/config"
	"automation-hub/internal/notify"
	"automation-hub/internal/playbooks"
	"automation-hub/internal/store"

	"github.com/rs/zerolog"
)

// Engine is the single orchestrator instance, constructed once at process
// start and passed by handle to every caller.
type Engine struct {
	store  *store.Store
	cfg    *config.Config
	hub    *broadcast.Hub
	sender notify.Sender
	logger zerolog.Logger

	mu      sync.Mutex
	cancels map[uint]context.CancelFunc
}

func New(st *store.Store, cfg *config.Config, hub *broadcast.Hub, sender notify.Sender, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   st,
		cfg:     cfg,
		hub:     hub,
		sender:  sender,
		logger:  logger.With().Str("component", "engine").Logger(),
		cancels: make(map[uint]context.CancelFunc),
	}
}

// Hub exposes the live output broadcaster for stream subscribers.
func (e *Engine) Hub() *broadcast.Hub {
	return e.hub
}

// Submit creates a pending job and hands it to asynchronous execution.
// It never blocks on process completion and never fails because of the
// playbook itself; bad playbooks surface as failed jobs.
func (e *Engine) Submit(playbook, triggeredBy, inventoryGroup string) (*store.Job, error) {
	job, err := e.store.CreateJob(playbook, triggeredBy)
	if err != nil {
		return nil, err
	}

	// Runner kind is fixed at submission time.
	kind := playbooks.KindOf(playbook)

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[job.ID] = cancel
	e.mu.Unlock()

	go e.run(ctx, job, kind, inventoryGroup)
	return job, nil
}

// GetStatus fetches a job by id.
func (e *Engine) GetStatus(id uint) (*store.Job, error) {
	return e.store.GetJob(id)
}

// ListHistory returns jobs newest-first with optional filters.
func (e *Engine) ListHistory(limit int, status, playbook string) ([]store.Job, error) {
	return e.store.ListJobs(limit, status, playbook)
}

// PurgeHistory deletes job rows matching the criterion.
func (e *Engine) PurgeHistory(c store.PurgeCriterion) (int64, error) {
	return e.store.PurgeJobs(c)
}

// HistoryStats summarizes the job table.
func (e *Engine) HistoryStats() (store.HistoryStats, error) {
	return e.store.JobStats()
}

// Cancel signals a running job's child process. The job lands in the
// terminal cancelled status, distinct from failed.
func (e *Engine) Cancel(id uint) error {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %d is not running", id)
	}
	cancel()
	return nil
}

func (e *Engine) dropCancel(id uint) {
	e.mu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
		delete(e.cancels, id)
	}
	e.mu.Unlock()
}

// notifyCompletion builds the summary and hands it to the sender. Sender
// failures are logged and swallowed; they never touch job bookkeeping.
func (e *Engine) notifyCompletion(job *store.Job, status string, exitCode int, errText string) {
	if e.sender == nil {
		return
	}
	if e.suppressed(job, status) {
		return
	}

	priority := notify.PriorityNormal
	title := fmt.Sprintf("Playbook %s %s", job.Playbook, status)
	body := fmt.Sprintf("Playbook: %s\nStatus: %s\nExit code: %d", job.Playbook, status, exitCode)
	if status != store.StatusCompleted {
		priority = notify.PriorityHigh
		if errText != "" {
			body += "\nError: " + errText
		}
	}

	msg := notify.Message{
		Title:    title,
		Body:     body,
		Priority: priority,
		Tags:     []string{"automation", status},
	}
	if err := e.sender.Send(msg); err != nil {
		e.logger.Error().Err(err).Uint("job_id", job.ID).Msg("Failed to deliver completion notification")
	}
}

// suppressed checks the owning schedule's notify flag. Failures are always
// surfaced regardless of that flag.
func (e *Engine) suppressed(job *store.Job, status string) bool {
	if status != store.StatusCompleted {
		return false
	}
	scheduleID, ok := scheduleOrigin(job.TriggeredBy)
	if !ok {
		return false
	}
	sched, err := e.store.GetSchedule(scheduleID)
	if err != nil {
		return false
	}
	return !sched.NotifyOnComplete
}

func scheduleOrigin(triggeredBy string) (uint, bool) {
	raw, ok := strings.CutPrefix(triggeredBy, "schedule_")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
