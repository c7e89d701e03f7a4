// Package executor runs one job's provider process to completion.
package executor

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mattjoyce/promptq/internal/log"
	"github.com/mattjoyce/promptq/internal/provider"
	"github.com/mattjoyce/promptq/internal/queue"
)

const (
	DefaultTimeout        = 5 * time.Minute
	DefaultKillGrace      = 5 * time.Second
	DefaultPermissionMode = "bypassPermissions"

	// maxStderrBytes caps the amount of stderr kept for error reporting.
	maxStderrBytes = 64 * 1024

	// NoOutputResult is stored when a provider exits cleanly without text.
	NoOutputResult = "(no output)"
)

var (
	ErrTimeout   = errors.New("provider timed out")
	ErrExit      = errors.New("provider exited with an error")
	ErrSpawn     = errors.New("provider could not be started")
	ErrCancelled = errors.New("provider run cancelled")
)

type Config struct {
	Timeout        time.Duration
	KillGrace      time.Duration
	PermissionMode string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
	if c.PermissionMode == "" {
		c.PermissionMode = DefaultPermissionMode
	}
	return c
}

// Result is the outcome of a successful run.
type Result struct {
	Text     string
	Model    string
	ExitCode int
	PID      int
	Duration time.Duration
}

type Executor struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Executor {
	return &Executor{cfg: cfg.withDefaults(), logger: log.WithComponent("executor")}
}

// Config returns the effective configuration after defaults.
func (e *Executor) Config() Config { return e.cfg }

// Run spawns the adapter's command for job and blocks until the process
// exits, the timeout elapses, or ctx is cancelled. Failures carry one of the
// ErrTimeout, ErrExit, ErrSpawn or ErrCancelled marks and a message suitable
// for storing on the job.
func (e *Executor) Run(ctx context.Context, job *queue.Job, a provider.Adapter) (*Result, error) {
	// The worker passes its job-scoped logger down through ctx.
	logger := log.FromContext(ctx, nil)
	if logger == nil {
		logger = e.logger.With(log.JobFields(job.ID, a.Name(), job.Prompt)...)
	}

	spec, err := a.BuildCommand(job.Prompt, provider.BuildOptions{
		WorkingDir:     job.WorkDir(),
		PermissionMode: e.cfg.PermissionMode,
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "build provider command"), ErrSpawn)
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = job.WorkDir()
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Descendants that inherit stdout must not hold Wait open forever.
	cmd.WaitDelay = e.cfg.KillGrace

	acc := &accumulator{}
	stdout := &lineWriter{onLine: func(line string) {
		if ev, ok := a.ParseEvent(line); ok {
			acc.Add(ev)
		}
	}}
	stderr := &cappedBuffer{max: maxStderrBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "create stdin pipe"), ErrSpawn)
	}

	logger.Debug("spawning provider", "binary", spec.Binary, "timeout", e.cfg.Timeout)
	if err := cmd.Start(); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "start %s", spec.Binary), ErrSpawn)
	}
	started := time.Now()
	pid := cmd.Process.Pid
	_ = stdin.Close()

	timeoutTimer := time.NewTimer(e.cfg.Timeout)
	defer timeoutTimer.Stop()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("provider timed out, terminating", "pid", pid, "timeout", e.cfg.Timeout)
		e.terminate(cmd, waitErr, logger)
		return nil, errors.Mark(errors.Newf("timed out after %s", e.cfg.Timeout), ErrTimeout)

	case <-ctx.Done():
		logger.Warn("provider run cancelled, terminating", "pid", pid)
		e.terminate(cmd, waitErr, logger)
		return nil, errors.Mark(errors.Wrap(ctx.Err(), "run cancelled"), ErrCancelled)

	case err := <-waitErr:
		stdout.Flush()
		elapsed := time.Since(started)

		exitCode := 0
		if err != nil {
			var exitErr *exec.ExitError
			switch {
			case errors.As(err, &exitErr):
				exitCode = exitErr.ExitCode()
			case errors.Is(err, exec.ErrWaitDelay):
				logger.Warn("provider left descendants holding its output open")
			default:
				return nil, errors.Mark(errors.Wrap(err, "wait for provider"), ErrExit)
			}
		}

		text, model := acc.Result()
		res := &Result{Text: text, Model: model, ExitCode: exitCode, PID: pid, Duration: elapsed}
		switch {
		case text != "":
			if exitCode != 0 {
				logger.Warn("provider exited non-zero after producing output", "exit_code", exitCode)
			}
			return res, nil
		case exitCode != 0 || acc.ErrorText() != "":
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = acc.ErrorText()
			}
			if msg == "" {
				msg = "exited with code " + strconv.Itoa(exitCode)
			}
			logger.Warn("provider failed", "exit_code", exitCode)
			return nil, errors.Mark(errors.New(msg), ErrExit)
		default:
			res.Text = NoOutputResult
			return res, nil
		}
	}
}

// terminate sends SIGTERM to the process tree, waits for the grace period,
// then SIGKILLs whatever is left. It returns once Wait has returned.
func (e *Executor) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	tree := processTree(int32(cmd.Process.Pid))
	signalTree(tree, false, logger)

	grace := time.NewTimer(e.cfg.KillGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("provider exited after SIGTERM")
		// Orphaned descendants are killed without further grace.
		signalTree(tree[:len(tree)-1], true, logger)
	case <-grace.C:
		logger.Warn("provider did not exit after SIGTERM, sending SIGKILL")
		signalTree(append(processTree(int32(cmd.Process.Pid)), tree...), true, logger)
		<-waitErr
	}
}
