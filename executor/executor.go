// Package executor runs shell commands on a node, either through the local
// shell or over an SSH connection, behind one interface.
package executor

import (
	"context"
	"fmt"
	"strings"

	"simfleet/logging"
)

// Result is the outcome of a command whose exit status the caller inspects.
type Result struct {
	Status int
	Output string
}

// Executor executes commands on exactly one node through one connection.
type Executor interface {
	// Address returns the node address commands run on.
	Address() string

	// Log returns the transcript of commands issued through this executor.
	Log() *logging.CommandLog

	// Execute runs command and returns its trimmed output. A non-zero exit
	// status is returned as *ExitError.
	Execute(ctx context.Context, command string) (string, error)

	// Capture runs command and returns output and exit status without
	// treating a non-zero status as an error.
	Capture(ctx context.Context, command string) (*Result, error)

	// Stream runs command handing output to progress as it is produced and
	// returns the complete output.
	Stream(ctx context.Context, command string, progress func(string)) (string, error)

	// Upload writes data to remotePath on the node.
	Upload(ctx context.Context, data []byte, remotePath string) error

	// Download reads remotePath from the node.
	Download(ctx context.Context, remotePath string) ([]byte, error)

	// Clone opens a new independent connection to the same node.
	Clone(ctx context.Context) (Executor, error)

	// Terminate closes the connection, aborting every in-flight command.
	Terminate()
}

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Command string
	Status  int
	Output  string
}

func (e *ExitError) Error() string {
	output := strings.TrimSpace(e.Output)
	if output == "" {
		return fmt.Sprintf("command `%s` failed with exit code %d", e.Command, e.Status)
	}
	return fmt.Sprintf("command `%s` failed with exit code %d: %s", e.Command, e.Status, output)
}

// Lines splits command output into its non-empty lines.
func Lines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// FileExists reports whether path exists on the executor's node.
func FileExists(ctx context.Context, e Executor, path string) (bool, error) {
	result, err := e.Capture(ctx, fmt.Sprintf("test -e %s", Quote(path)))
	if err != nil {
		return false, err
	}
	return result.Status == 0, nil
}

// Quote single-quotes path for the shell, leaving a leading ~/ expandable.
func Quote(path string) string {
	if strings.HasPrefix(path, "~/") {
		return `"$HOME"/` + quote(path[2:])
	}
	if path == "~" {
		return `"$HOME"`
	}
	return quote(path)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// execute runs command through capture and converts a non-zero status into
// an ExitError, logging both sides.
func execute(ctx context.Context, log *logging.CommandLog, command string, capture func(context.Context, string) (*Result, error)) (string, error) {
	result, err := capture(ctx, command)
	if err != nil {
		return "", err
	}
	if result.Status != 0 {
		return "", &ExitError{Command: log.Redact(command), Status: result.Status, Output: log.Redact(result.Output)}
	}
	return strings.TrimSpace(result.Output), nil
}
