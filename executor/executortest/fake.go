// Package executortest provides a scripted executor for tests.
package executortest

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"simfleet/executor"
	"simfleet/logging"
)

// ErrTerminated is returned by commands interrupted by Terminate.
var ErrTerminated = errors.New("fake executor terminated")

// Response scripts the outcome of one command.
type Response struct {
	Output string
	Status int
	// Chunks are delivered to Stream callers one by one. When empty, Output
	// is delivered as a single chunk.
	Chunks []string
	Err    error
	// Block holds the command until the context is done or the executor is
	// terminated.
	Block bool
	// Delay holds the command for a fixed time after output is delivered.
	Delay time.Duration
}

type rule struct {
	match     func(string) bool
	responses []Response
	calls     int
}

type shared struct {
	mu       sync.Mutex
	rules    []*rule
	commands []string
	files    map[string][]byte
}

// Fake is an in-memory executor.Executor. Commands are matched against rules
// in registration order; unmatched commands succeed with no output.
type Fake struct {
	address string
	log     *logging.CommandLog
	state   *shared

	// CloneErr makes Clone fail when set.
	CloneErr error

	mu         sync.Mutex
	terminated bool
	done       chan struct{}
}

var _ executor.Executor = (*Fake)(nil)

// New creates a fake for address.
func New(address string) *Fake {
	return &Fake{
		address: address,
		log:     logging.NewCommandLog("fake", address),
		state:   &shared{files: make(map[string][]byte)},
		done:    make(chan struct{}),
	}
}

// On scripts commands containing substr. Successive calls consume responses
// in order; the last one repeats.
func (f *Fake) On(substr string, responses ...Response) *Fake {
	return f.OnFunc(func(cmd string) bool { return strings.Contains(cmd, substr) }, responses...)
}

// OnRegexp scripts commands matching pattern.
func (f *Fake) OnRegexp(pattern string, responses ...Response) *Fake {
	re := regexp.MustCompile(pattern)
	return f.OnFunc(re.MatchString, responses...)
}

// OnFunc scripts commands accepted by match.
func (f *Fake) OnFunc(match func(string) bool, responses ...Response) *Fake {
	if len(responses) == 0 {
		responses = []Response{{}}
	}
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.rules = append(f.state.rules, &rule{match: match, responses: responses})
	return f
}

// SetFile places data at path for Download.
func (f *Fake) SetFile(path string, data []byte) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.files[path] = data
}

// File returns what was uploaded to path.
func (f *Fake) File(path string) ([]byte, bool) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	data, ok := f.state.files[path]
	return data, ok
}

// Commands returns every command issued so far, clones included.
func (f *Fake) Commands() []string {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return append([]string(nil), f.state.commands...)
}

// Count returns how many issued commands contain substr.
func (f *Fake) Count(substr string) int {
	n := 0
	for _, cmd := range f.Commands() {
		if strings.Contains(cmd, substr) {
			n++
		}
	}
	return n
}

// Terminated reports whether Terminate was called on this instance.
func (f *Fake) Terminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

func (f *Fake) Address() string { return f.address }

func (f *Fake) Log() *logging.CommandLog { return f.log }

func (f *Fake) Execute(ctx context.Context, command string) (string, error) {
	result, err := f.Capture(ctx, command)
	if err != nil {
		return "", err
	}
	if result.Status != 0 {
		return "", &executor.ExitError{Command: command, Status: result.Status, Output: result.Output}
	}
	return strings.TrimSpace(result.Output), nil
}

func (f *Fake) Capture(ctx context.Context, command string) (*executor.Result, error) {
	resp, err := f.respond(ctx, command)
	if err != nil {
		return nil, err
	}
	return &executor.Result{Status: resp.Status, Output: output(resp)}, nil
}

func (f *Fake) Stream(ctx context.Context, command string, progress func(string)) (string, error) {
	f.mu.Lock()
	terminated := f.terminated
	f.mu.Unlock()
	if terminated {
		return "", ErrTerminated
	}

	resp := f.next(command)
	chunks := resp.Chunks
	if len(chunks) == 0 && resp.Output != "" {
		chunks = []string{resp.Output}
	}
	var b strings.Builder
	for _, chunk := range chunks {
		b.WriteString(chunk)
		if progress != nil {
			progress(chunk)
		}
	}
	if err := f.wait(ctx, resp); err != nil {
		return b.String(), err
	}
	f.log.LogOutput(b.String(), resp.Status)
	return b.String(), resp.Err
}

func (f *Fake) Upload(_ context.Context, data []byte, remotePath string) error {
	f.record("upload " + remotePath)
	f.SetFile(remotePath, append([]byte(nil), data...))
	return nil
}

func (f *Fake) Download(_ context.Context, remotePath string) ([]byte, error) {
	f.record("download " + remotePath)
	data, ok := f.File(remotePath)
	if !ok {
		return nil, errors.New("no such file: " + remotePath)
	}
	return data, nil
}

// Clone returns a fake sharing rules and the command record but with its own
// termination state.
func (f *Fake) Clone(context.Context) (executor.Executor, error) {
	if f.CloneErr != nil {
		return nil, f.CloneErr
	}
	return &Fake{
		address: f.address,
		log:     f.log,
		state:   f.state,
		done:    make(chan struct{}),
	}, nil
}

func (f *Fake) Terminate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.terminated {
		f.terminated = true
		close(f.done)
	}
}

func (f *Fake) respond(ctx context.Context, command string) (Response, error) {
	f.mu.Lock()
	terminated := f.terminated
	f.mu.Unlock()
	if terminated {
		return Response{}, ErrTerminated
	}

	resp := f.next(command)
	if err := f.wait(ctx, resp); err != nil {
		return Response{}, err
	}
	if resp.Err != nil {
		return Response{}, resp.Err
	}
	f.log.LogOutput(output(resp), resp.Status)
	return resp, nil
}

func (f *Fake) wait(ctx context.Context, resp Response) error {
	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return ErrTerminated
		}
	}
	if !resp.Block {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return ErrTerminated
	}
}

func (f *Fake) next(command string) Response {
	f.record(command)

	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	for _, r := range f.state.rules {
		if !r.match(command) {
			continue
		}
		i := r.calls
		if i >= len(r.responses) {
			i = len(r.responses) - 1
		}
		r.calls++
		return r.responses[i]
	}
	return Response{}
}

func (f *Fake) record(command string) {
	f.log.LogCommand(command)
	f.state.mu.Lock()
	f.state.commands = append(f.state.commands, command)
	f.state.mu.Unlock()
}

func output(resp Response) string {
	if len(resp.Chunks) > 0 {
		return strings.Join(resp.Chunks, "")
	}
	return resp.Output
}
