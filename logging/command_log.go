package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const redacted = "*****"

// CommandLog records every command issued through one connection together
// with its output, so a failing operation can point at a complete transcript.
type CommandLog struct {
	name    string
	address string

	mu        sync.Mutex
	entries   []entry
	blacklist []string
	dumpPath  string
}

type entry struct {
	at      time.Time
	command string
	output  string
	status  int
	isCmd   bool
}

// NewCommandLog creates an empty log for the named operation on address.
func NewCommandLog(name, address string) *CommandLog {
	return &CommandLog{name: name, address: address}
}

// Name returns the operation name.
func (l *CommandLog) Name() string { return l.name }

// Address returns the node address the log belongs to.
func (l *CommandLog) Address() string { return l.address }

// AddBlackList registers a secret that must never appear in the log.
func (l *CommandLog) AddBlackList(secret string) {
	if l == nil || secret == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blacklist = append(l.blacklist, secret)
}

// Redact replaces every registered secret in s.
func (l *CommandLog) Redact(s string) string {
	if l == nil {
		return s
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redactLocked(s)
}

func (l *CommandLog) redactLocked(s string) string {
	for _, secret := range l.blacklist {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

// LogCommand records a command about to be executed.
func (l *CommandLog) LogCommand(command string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{at: time.Now(), command: l.redactLocked(command), isCmd: true})
}

// LogOutput records the output and exit status of the last command.
func (l *CommandLog) LogOutput(output string, status int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{at: time.Now(), output: l.redactLocked(output), status: status})
}

// String renders the transcript.
func (l *CommandLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	for _, e := range l.entries {
		ts := e.at.Format(time.RFC3339)
		if e.isCmd {
			fmt.Fprintf(&b, "[%s] $ %s\n", ts, e.command)
			continue
		}
		if e.output != "" {
			b.WriteString(e.output)
			if !strings.HasSuffix(e.output, "\n") {
				b.WriteByte('\n')
			}
		}
		fmt.Fprintf(&b, "[%s] exit status %d\n", ts, e.status)
	}
	return b.String()
}

// Dump writes the transcript into dir and returns the file path.
func (l *CommandLog) Dump(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s-%s.log", sanitize(l.name), sanitize(l.address))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(l.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write log %s: %w", path, err)
	}

	l.mu.Lock()
	l.dumpPath = path
	l.mu.Unlock()
	return path, nil
}

// Path returns where the log was last dumped, or "".
func (l *CommandLog) Path() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dumpPath
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, s)
}
