package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AdamLaszab/zadanie-skuska/internal/log"
	"github.com/AdamLaszab/zadanie-skuska/internal/operation"
)

const (
	// maxOutputBytes caps the amount of stdout and stderr captured from the tool.
	maxOutputBytes = 64 * 1024

	// DefaultTimeout bounds a single tool run.
	DefaultTimeout = 120 * time.Second

	// DefaultKillGrace is the time we wait after SIGTERM before sending SIGKILL.
	DefaultKillGrace = 5 * time.Second

	// outputDrainDelay is how long output is still collected after the tool
	// itself has exited.
	outputDrainDelay = 500 * time.Millisecond
)

// Invocation describes one tool run against staged inputs.
type Invocation struct {
	BatchID   string
	Operation operation.Operation
	Inputs    []string
	Output    string
}

// Result is what the tool produced on a zero exit.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Invoker runs the external tool.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// Config selects the executable and its time limits.
type Config struct {
	// Executable is the program to run, e.g. a python interpreter.
	Executable string
	// Script, when set, is passed as the first argument.
	Script    string
	Timeout   time.Duration
	KillGrace time.Duration
}

// ProcessInvoker spawns the tool as a child process per invocation.
type ProcessInvoker struct {
	cfg Config
}

var _ Invoker = (*ProcessInvoker)(nil)

// NewProcessInvoker validates cfg and fills in default time limits.
func NewProcessInvoker(cfg Config) (*ProcessInvoker, error) {
	if strings.TrimSpace(cfg.Executable) == "" {
		return nil, fmt.Errorf("tool executable is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &ProcessInvoker{cfg: cfg}, nil
}

// Command returns the full argument vector for inv, executable first.
func (p *ProcessInvoker) Command(inv Invocation) ([]string, error) {
	args, err := operation.Args(inv.Operation, inv.Inputs, inv.Output)
	if err != nil {
		return nil, err
	}
	argv := []string{p.cfg.Executable}
	if p.cfg.Script != "" {
		argv = append(argv, p.cfg.Script)
	}
	return append(argv, args...), nil
}

// Invoke runs the tool and waits for it to exit, time out, or be canceled.
func (p *ProcessInvoker) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	opName := inv.Operation.Name()
	logger := log.WithOperation(inv.BatchID, string(opName)).With(slog.String("component", "invoke"))

	argv, err := p.Command(inv)
	if err != nil {
		return Result{}, err
	}

	// Don't use CommandContext; termination is managed below so the whole
	// process group gets the signals.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = filepath.Dir(inv.Output)
	setProcessGroup(cmd)
	// A background grandchild can keep the output pipes open after the
	// tool exits; stop waiting for them shortly after it does.
	cmd.WaitDelay = outputDrainDelay

	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Arguments may carry passwords; only the shape is logged.
	logger.Debug("spawning tool", "executable", argv[0], "inputs", len(inv.Inputs), "timeout", p.cfg.Timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &ExecutionError{Operation: opName, Reason: ReasonStart, ExitCode: -1, Err: err}
	}

	timeoutTimer := time.NewTimer(p.cfg.Timeout)
	defer timeoutTimer.Stop()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("tool execution timed out, sending SIGTERM")
		p.terminate(cmd, waitErr, logger)
		return Result{}, p.killedError(opName, ReasonTimeout, stderr.String(), context.DeadlineExceeded)

	case <-ctx.Done():
		logger.Warn("invocation canceled, sending SIGTERM")
		p.terminate(cmd, waitErr, logger)
		return Result{}, p.killedError(opName, ReasonCanceled, stderr.String(), ctx.Err())

	case err := <-waitErr:
		// Leftover processes in the group outlive their usefulness here.
		_ = signalGroup(cmd, sigKill)
		if errors.Is(err, exec.ErrWaitDelay) {
			logger.Debug("tool left processes holding its output open")
			err = nil
		}
		res := Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return res, &ExecutionError{Operation: opName, Reason: ReasonStart, ExitCode: -1, Stderr: res.Stderr, Err: fmt.Errorf("wait for process: %w", err)}
			}
			res.ExitCode = exitErr.ExitCode()
			logger.Warn("tool exited with non-zero status", "exit_code", res.ExitCode, "duration", res.Duration)
			return res, &ExecutionError{
				Operation:   opName,
				Reason:      ReasonExit,
				ExitCode:    res.ExitCode,
				Stderr:      res.Stderr,
				Diagnostics: ParseDiagnostics(res.Stderr),
				Err:         err,
			}
		}
		if res.Stderr != "" {
			logger.Info("tool wrote to stderr", "stderr", res.Stderr)
		}
		logger.Debug("tool completed", "duration", res.Duration)
		return res, nil
	}
}

// terminate sends SIGTERM to the process group, then SIGKILL after the grace
// period, and waits for the child to be reaped.
func (p *ProcessInvoker) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if err := signalGroup(cmd, sigTerm); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(p.cfg.KillGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("tool exited after SIGTERM")
		// Leftover children in the group get no grace.
		_ = signalGroup(cmd, sigKill)
	case <-grace.C:
		logger.Warn("tool did not exit after SIGTERM, sending SIGKILL")
		if err := signalGroup(cmd, sigKill); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

func (p *ProcessInvoker) killedError(op operation.Name, reason Reason, stderr string, cause error) error {
	return &ExecutionError{
		Operation:   op,
		Reason:      reason,
		ExitCode:    -1,
		Stderr:      stderr,
		Diagnostics: ParseDiagnostics(stderr),
		Err:         cause,
	}
}

// cappedBuffer keeps the first limit bytes written and discards the rest
// while still reporting full writes, so the child never blocks on a pipe.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
