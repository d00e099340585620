package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"automation-hub/internal/config"
	"automation-hub/internal/inventory"
	"automation-hub/internal/playbooks"
	"automation-hub/internal/store"
)

// run executes one job as an independent unit of work. Multiple jobs may
// be in flight at once; output lines within one job stay ordered.
func (e *Engine) run(ctx context.Context, job *store.Job, kind playbooks.Kind, inventoryGroup string) {
	jobLogger := e.logger.With().
		Uint("job_id", job.ID).
		Str("playbook", job.Playbook).
		Str("triggered_by", job.TriggeredBy).
		Logger()

	defer e.dropCancel(job.ID)
	defer func() {
		if r := recover(); r != nil {
			jobLogger.Error().Interface("panic", r).Msg("Job execution panicked")
			e.finish(job, store.StatusFailed, -1, fmt.Sprintf("execution error: %v", r))
		}
	}()

	jobLogger.Info().Str("runner", kind.String()).Msg("Starting job")

	if ctx.Err() != nil {
		e.finish(job, store.StatusCancelled, -1, "")
		return
	}

	path, err := playbooks.Resolve(e.cfg.PlaybooksDir, job.Playbook)
	if err != nil {
		if errors.Is(err, playbooks.ErrOutsideRoot) {
			jobLogger.Warn().Msg("Rejected playbook path outside the playbooks root")
			e.finish(job, store.StatusFailed, -1, fmt.Sprintf("invalid path: %s escapes the playbooks root", job.Playbook))
			return
		}
		e.finish(job, store.StatusFailed, -1, fmt.Sprintf("playbook not found: %s", job.Playbook))
		return
	}

	cmd, inventoryPath, err := e.buildCommand(ctx, job, kind, path, inventoryGroup)
	if err != nil {
		e.finish(job, store.StatusFailed, -1, err.Error())
		return
	}
	if inventoryPath != "" {
		defer os.Remove(inventoryPath)
	}

	// Single pipe keeps stdout and stderr interleaved in arrival order.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		if ctx.Err() != nil {
			e.finish(job, store.StatusCancelled, -1, "")
			return
		}
		e.finish(job, store.StatusFailed, -1, fmt.Sprintf("failed to start process: %v", err))
		return
	}

	pid := cmd.Process.Pid
	if err := e.store.MarkJobRunning(job.ID, pid); err != nil {
		jobLogger.Error().Err(err).Msg("Failed to record running state")
	}
	jobLogger.Info().Int("pid", pid).Msg("Process spawned")

	var output strings.Builder
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			output.WriteString(line)
			output.WriteString("\n")
			e.hub.Publish(job.ID, line)
		}
		if err := scanner.Err(); err != nil {
			// A line over the token cap stops the scanner. The pipe must
			// keep flowing or the child blocks on write and never exits.
			truncated := fmt.Sprintf("[output truncated: %v]", err)
			output.WriteString(truncated)
			output.WriteString("\n")
			e.hub.Publish(job.ID, truncated)
			jobLogger.Warn().Err(err).Msg("Output stream truncated")
			io.Copy(io.Discard, pr)
		}
	}()

	waitErr := cmd.Wait()
	pw.Close()
	<-scanDone

	status, exitCode := resolveExit(ctx, waitErr)
	e.finish(job, status, exitCode, output.String())

	jobLogger.Info().
		Str("final_status", status).
		Int("exit_code", exitCode).
		Msg("Job finished")
}

// buildCommand resolves the runner kind into a concrete child process.
func (e *Engine) buildCommand(ctx context.Context, job *store.Job, kind playbooks.Kind, path, inventoryGroup string) (*exec.Cmd, string, error) {
	switch kind {
	case playbooks.KindShell:
		return exec.CommandContext(ctx, "sh", path), "", nil
	case playbooks.KindPython:
		return exec.CommandContext(ctx, "python3", path), "", nil
	case playbooks.KindAnsible:
		if e.cfg.RunnerMode != config.ModeAnsible {
			return nil, "", fmt.Errorf("unsupported extension for %s: ansible mode is disabled", job.Playbook)
		}
		servers, err := e.store.AllServers()
		if err != nil {
			return nil, "", fmt.Errorf("load inventory servers: %w", err)
		}
		inventoryPath, err := inventory.WriteTemp(job.ID, inventory.Render(servers, inventoryGroup))
		if err != nil {
			return nil, "", err
		}
		cmd := exec.CommandContext(ctx, "ansible-playbook", path, "-i", inventoryPath)
		// The run is unattended; no host key prompts, no pipelining.
		cmd.Env = append(os.Environ(),
			"ANSIBLE_HOST_KEY_CHECKING=False",
			"ANSIBLE_PIPELINING=False",
		)
		return cmd, inventoryPath, nil
	}
	return nil, "", fmt.Errorf("unsupported playbook extension: %s", job.Playbook)
}

// resolveExit derives the terminal status from how the process ended.
func resolveExit(ctx context.Context, waitErr error) (string, int) {
	if ctx.Err() != nil {
		return store.StatusCancelled, -1
	}
	if waitErr == nil {
		return store.StatusCompleted, 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return store.StatusFailed, exitErr.ExitCode()
	}
	return store.StatusFailed, -1
}

// finish writes the terminal record, closes the live stream and fires the
// completion notification.
func (e *Engine) finish(job *store.Job, status string, exitCode int, output string) {
	if err := e.store.FinishJob(job.ID, status, exitCode, output); err != nil {
		e.logger.Error().Err(err).Uint("job_id", job.ID).Msg("Failed to persist terminal state")
	}
	e.hub.Close(job.ID, status)

	errText := ""
	if status == store.StatusFailed && exitCode == -1 {
		errText = strings.TrimSpace(output)
	}
	e.notifyCompletion(job, status, exitCode, errText)
}
