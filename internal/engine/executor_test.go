package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"automation-hub/internal/broadcast"
	"automation-hub/internal/config"
	"automation-hub/internal/notify"
	"automation-hub/internal/playbooks"
	"automation-hub/internal/store"

	"github.com/rs/zerolog"
)

type senderSpy struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (s *senderSpy) Send(msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *senderSpy) messages() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// waitMessages allows for the notification firing after the terminal
// state becomes visible in the store.
func (s *senderSpy) waitMessages(t *testing.T, n int) []notify.Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := s.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d notification(s), have %d", n, len(s.messages()))
	return nil
}

func testEngine(t *testing.T) (*Engine, *store.Store, *senderSpy, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "hub.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	playbooksDir := filepath.Join(dir, "playbooks")
	if err := os.MkdirAll(playbooksDir, 0755); err != nil {
		t.Fatalf("mkdir playbooks: %v", err)
	}

	cfg := &config.Config{
		PlaybooksDir: playbooksDir,
		RunnerMode:   config.ModeScript,
	}
	spy := &senderSpy{}
	eng := New(st, cfg, broadcast.NewHub(zerolog.Nop()), spy, zerolog.Nop())
	return eng, st, spy, playbooksDir
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

func waitTerminal(t *testing.T, eng *Engine, id uint) *store.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := eng.GetStatus(id)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if job.Terminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %d did not reach a terminal state", id)
	return nil
}

func TestRunScriptSuccess(t *testing.T) {
	eng, _, _, dir := testEngine(t)
	writeScript(t, dir, "ok.sh", "#!/bin/sh\necho ok\nexit 0\n")

	job, err := eng.Submit("ok.sh", "manual", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := waitTerminal(t, eng, job.ID)
	if done.Status != store.StatusCompleted {
		t.Fatalf("status: want completed, got %s (output: %s)", done.Status, done.Output)
	}
	if done.ExitCode == nil || *done.ExitCode != 0 {
		t.Fatalf("exit code: %+v", done.ExitCode)
	}
	if !strings.Contains(done.Output, "ok") {
		t.Fatalf("captured output missing: %q", done.Output)
	}
	if done.CompletedAt == nil || done.Pid == nil {
		t.Fatalf("terminal bookkeeping incomplete: %+v", done)
	}
}

func TestRunScriptNonzeroExit(t *testing.T) {
	eng, _, _, dir := testEngine(t)
	writeScript(t, dir, "fail.sh", "#!/bin/sh\necho boom\nexit 3\n")

	job, err := eng.Submit("fail.sh", "manual", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := waitTerminal(t, eng, job.ID)
	if done.Status != store.StatusFailed {
		t.Fatalf("status: want failed, got %s", done.Status)
	}
	if done.ExitCode == nil || *done.ExitCode != 3 {
		t.Fatalf("exit code preserved verbatim: %+v", done.ExitCode)
	}
}

func TestSubmitPathTraversalNeverSpawns(t *testing.T) {
	eng, _, _, _ := testEngine(t)

	job, err := eng.Submit("../../etc/passwd", "manual", "")
	if err != nil {
		t.Fatalf("submit must still create the job row: %v", err)
	}

	done := waitTerminal(t, eng, job.ID)
	if done.Status != store.StatusFailed {
		t.Fatalf("status: want failed, got %s", done.Status)
	}
	if !strings.Contains(done.Output, "invalid path") {
		t.Fatalf("output should mention the invalid path: %q", done.Output)
	}
	if done.Pid != nil {
		t.Fatalf("no process may be spawned for a traversal attempt")
	}
}

func TestSubmitMissingPlaybook(t *testing.T) {
	eng, _, _, _ := testEngine(t)

	job, _ := eng.Submit("nope.sh", "manual", "")
	done := waitTerminal(t, eng, job.ID)
	if done.Status != store.StatusFailed || !strings.Contains(done.Output, "not found") {
		t.Fatalf("unexpected result: %+v", done)
	}
}

func TestSubmitUnsupportedExtension(t *testing.T) {
	eng, _, _, dir := testEngine(t)
	writeScript(t, dir, "task.rb", "puts 'no'\n")

	job, _ := eng.Submit("task.rb", "manual", "")
	done := waitTerminal(t, eng, job.ID)
	if done.Status != store.StatusFailed || !strings.Contains(done.Output, "unsupported") {
		t.Fatalf("unexpected result: %+v", done)
	}
}

func TestAnsibleModeDisabled(t *testing.T) {
	eng, _, _, dir := testEngine(t)
	writeScript(t, dir, "site.yml", "---\n")

	job, _ := eng.Submit("site.yml", "manual", "")
	done := waitTerminal(t, eng, job.ID)
	if done.Status != store.StatusFailed || !strings.Contains(done.Output, "ansible mode is disabled") {
		t.Fatalf("unexpected result: %+v", done)
	}
}

func TestGetStatusIdempotentAfterCompletion(t *testing.T) {
	eng, _, _, dir := testEngine(t)
	writeScript(t, dir, "ok.sh", "#!/bin/sh\necho done\n")

	job, _ := eng.Submit("ok.sh", "manual", "")
	first := waitTerminal(t, eng, job.ID)

	for i := 0; i < 3; i++ {
		again, err := eng.GetStatus(job.ID)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if again.Status != first.Status || *again.ExitCode != *first.ExitCode || again.Output != first.Output {
			t.Fatalf("terminal data changed between reads: %+v vs %+v", first, again)
		}
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	eng, _, _, dir := testEngine(t)
	for i := 0; i < 5; i++ {
		writeScript(t, dir, fmt.Sprintf("job%d.sh", i), fmt.Sprintf("#!/bin/sh\necho job-%d\n", i))
	}

	ids := make([]uint, 5)
	subs := make([]*broadcast.Subscriber, 5)
	for i := 0; i < 5; i++ {
		job, err := eng.Submit(fmt.Sprintf("job%d.sh", i), "manual", "")
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids[i] = job.ID
		subs[i] = eng.Hub().Subscribe(job.ID)
	}

	seen := make(map[uint]bool)
	for i, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate job id %d", id)
		}
		seen[id] = true
		if i > 0 && ids[i] <= ids[i-1] {
			t.Fatalf("ids not monotonically increasing: %v", ids)
		}
	}

	for i, id := range ids {
		done := waitTerminal(t, eng, id)
		if done.Status != store.StatusCompleted {
			t.Fatalf("job %d: %s (%s)", id, done.Status, done.Output)
		}
		// Lines on this job's stream carry only this job's id. A stream
		// may already have closed before we subscribed; the timeout covers
		// that case.
	drain:
		for {
			select {
			case ev, open := <-subs[i].Ch:
				if !open {
					break drain
				}
				if ev.JobID != id {
					t.Fatalf("stream for job %d carried event for job %d", id, ev.JobID)
				}
				if ev.Line != "" && ev.Line != fmt.Sprintf("job-%d", i) {
					t.Fatalf("foreign output on job %d stream: %q", id, ev.Line)
				}
			case <-time.After(2 * time.Second):
				break drain
			}
		}
	}
}

func TestCancelRunningJob(t *testing.T) {
	eng, _, _, dir := testEngine(t)
	writeScript(t, dir, "slow.sh", "#!/bin/sh\nsleep 30\n")

	job, _ := eng.Submit("slow.sh", "manual", "")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		cur, err := eng.GetStatus(job.ID)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if cur.Status == store.StatusRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := eng.Cancel(job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	done := waitTerminal(t, eng, job.ID)
	if done.Status != store.StatusCancelled {
		t.Fatalf("status: want cancelled, got %s", done.Status)
	}
	if done.ExitCode == nil || *done.ExitCode != -1 {
		t.Fatalf("cancelled exit code: %+v", done.ExitCode)
	}

	if err := eng.Cancel(job.ID); err == nil {
		t.Fatalf("cancelling a finished job must fail")
	}
}

func TestCancelBeforeStartLandsCancelled(t *testing.T) {
	eng, st, _, dir := testEngine(t)
	writeScript(t, dir, "ok.sh", "#!/bin/sh\necho ok\n")

	job, err := st.CreateJob("ok.sh", "manual")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng.run(ctx, job, playbooks.KindShell, "")

	done, err := eng.GetStatus(job.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if done.Status != store.StatusCancelled {
		t.Fatalf("pre-start cancel: want cancelled, got %s (output: %s)", done.Status, done.Output)
	}
	if done.ExitCode == nil || *done.ExitCode != -1 {
		t.Fatalf("cancelled exit code: %+v", done.ExitCode)
	}
}

func TestOversizedLineStillTerminates(t *testing.T) {
	eng, _, _, dir := testEngine(t)
	// One 2 MiB line, well past the scanner's token cap.
	writeScript(t, dir, "wide.sh", "#!/bin/sh\nhead -c 2097152 /dev/zero | tr '\\0' 'x'\necho\necho trailing\n")

	job, err := eng.Submit("wide.sh", "manual", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := waitTerminal(t, eng, job.ID)
	if done.Status != store.StatusCompleted {
		t.Fatalf("status: want completed, got %s", done.Status)
	}
	if done.ExitCode == nil || *done.ExitCode != 0 {
		t.Fatalf("exit code: %+v", done.ExitCode)
	}
	if !strings.Contains(done.Output, "output truncated") {
		t.Fatalf("truncation marker missing from output: %.120q", done.Output)
	}
}

func TestNotificationSuppression(t *testing.T) {
	eng, st, spy, dir := testEngine(t)
	writeScript(t, dir, "ok.sh", "#!/bin/sh\necho fine\n")
	writeScript(t, dir, "bad.sh", "#!/bin/sh\nexit 1\n")

	quiet := &store.Schedule{Name: "quiet", Playbook: "ok.sh", CronExpr: "* * * * *", Enabled: true, NotifyOnComplete: false}
	if err := st.CreateSchedule(quiet); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	triggeredBy := fmt.Sprintf("schedule_%d", quiet.ID)

	job, _ := eng.Submit("ok.sh", triggeredBy, "")
	waitTerminal(t, eng, job.ID)
	time.Sleep(200 * time.Millisecond)
	if got := spy.messages(); len(got) != 0 {
		t.Fatalf("successful quiet schedule must not notify: %+v", got)
	}

	job, _ = eng.Submit("bad.sh", triggeredBy, "")
	waitTerminal(t, eng, job.ID)
	msgs := spy.waitMessages(t, 1)
	if len(msgs) != 1 {
		t.Fatalf("failure must always notify: %+v", msgs)
	}
	if msgs[0].Priority != notify.PriorityHigh {
		t.Fatalf("failure priority: want high, got %s", msgs[0].Priority)
	}
}

func TestManualCompletionNotifies(t *testing.T) {
	eng, _, spy, dir := testEngine(t)
	writeScript(t, dir, "ok.sh", "#!/bin/sh\necho fine\n")

	job, _ := eng.Submit("ok.sh", "manual", "")
	waitTerminal(t, eng, job.ID)

	msgs := spy.waitMessages(t, 1)
	if len(msgs) != 1 || msgs[0].Priority != notify.PriorityNormal {
		t.Fatalf("manual completion should notify at normal priority: %+v", msgs)
	}
	if !strings.Contains(msgs[0].Body, "ok.sh") {
		t.Fatalf("summary body should name the playbook: %q", msgs[0].Body)
	}
}
