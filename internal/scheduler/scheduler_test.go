package scheduler

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"automation-hub/internal/store"

	"github.com/rs/zerolog"
)

type submitterSpy struct {
	mu    sync.Mutex
	calls []call
	err   error
}

type call struct {
	playbook    string
	triggeredBy string
	group       string
}

func (s *submitterSpy) Submit(playbook, triggeredBy, inventoryGroup string) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, call{playbook, triggeredBy, inventoryGroup})
	return &store.Job{ID: uint(len(s.calls)), Playbook: playbook, Status: store.StatusPending}, nil
}

func (s *submitterSpy) submitted() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]call, len(s.calls))
	copy(out, s.calls)
	return out
}

func testLoop(t *testing.T) (*Loop, *store.Store, *submitterSpy) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hub.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	spy := &submitterSpy{}
	return New(st, spy, zerolog.Nop()), st, spy
}

func TestTickFiresDueSchedules(t *testing.T) {
	loop, st, spy := testLoop(t)

	now := time.Date(2024, 1, 8, 9, 0, 30, 0, time.UTC)
	due := now.Add(-time.Minute)
	notDue := now.Add(time.Hour)

	sched := &store.Schedule{Name: "due", Playbook: "deploy.sh", CronExpr: "0 * * * *", Enabled: true, InventoryGroup: "web", NextRun: &due}
	if err := st.CreateSchedule(sched); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	later := &store.Schedule{Name: "later", Playbook: "other.sh", CronExpr: "0 * * * *", Enabled: true, NextRun: &notDue}
	st.CreateSchedule(later)
	never := &store.Schedule{Name: "never", Playbook: "never.sh", CronExpr: "0 * * * *", Enabled: true}
	st.CreateSchedule(never)

	if err := loop.Tick(now); err != nil {
		t.Fatalf("tick: %v", err)
	}

	calls := spy.submitted()
	if len(calls) != 1 {
		t.Fatalf("want exactly one submission, got %+v", calls)
	}
	want := fmt.Sprintf("schedule_%d", sched.ID)
	if calls[0].playbook != "deploy.sh" || calls[0].triggeredBy != want || calls[0].group != "web" {
		t.Fatalf("unexpected submission: %+v", calls[0])
	}

	fired, _ := st.GetSchedule(sched.ID)
	if fired.LastRun == nil || !fired.LastRun.Equal(now) {
		t.Fatalf("last_run not recorded: %+v", fired)
	}
	if fired.NextRun == nil || !fired.NextRun.After(now) {
		t.Fatalf("next_run not recomputed: %+v", fired)
	}

	// A null next_run stays dormant until the schedule is edited.
	untouched, _ := st.GetSchedule(never.ID)
	if untouched.LastRun != nil {
		t.Fatalf("schedule without next_run must not fire: %+v", untouched)
	}
}

func TestTickSkipsDisabledSchedules(t *testing.T) {
	loop, st, spy := testLoop(t)

	due := time.Now().Add(-time.Minute)
	st.CreateSchedule(&store.Schedule{Name: "off", Playbook: "x.sh", CronExpr: "* * * * *", Enabled: false, NextRun: &due})

	if err := loop.Tick(time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if calls := spy.submitted(); len(calls) != 0 {
		t.Fatalf("disabled schedule fired: %+v", calls)
	}
}

func TestTickContinuesPastFailingSchedule(t *testing.T) {
	loop, st, spy := testLoop(t)

	due := time.Now().Add(-time.Minute)
	st.CreateSchedule(&store.Schedule{Name: "a", Playbook: "a.sh", CronExpr: "* * * * *", Enabled: true, NextRun: &due})
	st.CreateSchedule(&store.Schedule{Name: "b", Playbook: "b.sh", CronExpr: "* * * * *", Enabled: true, NextRun: &due})

	spy.err = fmt.Errorf("queue full")
	if err := loop.Tick(time.Now()); err != nil {
		t.Fatalf("one bad schedule must not fail the tick: %v", err)
	}

	// Submission errors leave next_run untouched, so the schedule is
	// re-evaluated on the following tick.
	spy.err = nil
	if err := loop.Tick(time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if calls := spy.submitted(); len(calls) != 2 {
		t.Fatalf("want both schedules retried, got %+v", calls)
	}
}
