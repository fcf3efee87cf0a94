package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"simfleet/logging"
)

// LocalExecutor executes commands on the local system
type LocalExecutor struct {
	log *logging.CommandLog

	mu         sync.Mutex
	running    map[*exec.Cmd]struct{}
	terminated bool
}

// NewLocalExecutor creates a new local command executor
func NewLocalExecutor(log *logging.CommandLog) *LocalExecutor {
	if log == nil {
		log = logging.NewCommandLog("local", "localhost")
	}
	return &LocalExecutor{
		log:     log,
		running: make(map[*exec.Cmd]struct{}),
	}
}

func (e *LocalExecutor) Address() string { return "localhost" }

func (e *LocalExecutor) Log() *logging.CommandLog { return e.log }

// Execute runs a command locally
func (e *LocalExecutor) Execute(ctx context.Context, command string) (string, error) {
	return execute(ctx, e.log, command, e.Capture)
}

func (e *LocalExecutor) Capture(ctx context.Context, command string) (*Result, error) {
	var buf bytes.Buffer
	status, err := e.run(ctx, command, &buf)
	if err != nil {
		return nil, err
	}
	return &Result{Status: status, Output: buf.String()}, nil
}

func (e *LocalExecutor) Stream(ctx context.Context, command string, progress func(string)) (string, error) {
	var buf bytes.Buffer
	w := &progressWriter{buf: &buf, progress: progress}
	if _, err := e.run(ctx, command, w); err != nil {
		return buf.String(), err
	}
	return buf.String(), nil
}

func (e *LocalExecutor) Upload(_ context.Context, data []byte, remotePath string) error {
	path, err := expandHome(remotePath)
	if err != nil {
		return err
	}
	e.log.LogCommand("upload " + path)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (e *LocalExecutor) Download(_ context.Context, remotePath string) ([]byte, error) {
	path, err := expandHome(remotePath)
	if err != nil {
		return nil, err
	}
	e.log.LogCommand("download " + path)
	return os.ReadFile(path)
}

func (e *LocalExecutor) Clone(context.Context) (Executor, error) {
	return NewLocalExecutor(e.log), nil
}

// Terminate kills every command this executor started.
func (e *LocalExecutor) Terminate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminated = true
	for cmd := range e.running {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

func (e *LocalExecutor) run(ctx context.Context, command string, out interface {
	Write([]byte) (int, error)
}) (int, error) {
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	cmd.Stdout = out
	cmd.Stderr = out
	// children of a killed shell may hold the output pipe open
	cmd.WaitDelay = time.Second

	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		return 0, errors.New("executor terminated")
	}
	e.log.LogCommand(command)
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("local command execution failed: %w", err)
	}
	e.running[cmd] = struct{}{}
	e.mu.Unlock()

	err := cmd.Wait()

	e.mu.Lock()
	delete(e.running, cmd)
	terminated := e.terminated
	e.mu.Unlock()

	status := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("local command execution failed: %w", err)
		}
		if terminated || ctx.Err() != nil {
			return 0, fmt.Errorf("local command aborted: %w", err)
		}
		status = exitErr.ExitCode()
	}

	if b, ok := out.(*bytes.Buffer); ok {
		e.log.LogOutput(b.String(), status)
	} else if p, ok := out.(*progressWriter); ok {
		e.log.LogOutput(p.String(), status)
	}
	return status, nil
}

type progressWriter struct {
	mu       sync.Mutex
	buf      *bytes.Buffer
	progress func(string)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.buf.Write(p)
	if w.progress != nil && n > 0 {
		w.progress(string(p[:n]))
	}
	return n, err
}

func (w *progressWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
