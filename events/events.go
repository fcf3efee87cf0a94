// Package events forwards run lifecycle events to an optional external
// plugin.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"simfleet/model"
)

// Kind of event. Plugins receive the numeric value.
type Kind int

const (
	Start Kind = iota
	Stop
	StartCompiling
	StopCompiling
	StartTesting
	StopTesting
	TestSuiteStarted
	TestSuiteFinished
	TestCaseStarted
	TestCaseFinished
	TestPassed
	TestFailed
	TestCrashed
	Error
)

var kindNames = [...]string{
	"start", "stop",
	"startCompiling", "stopCompiling",
	"startTesting", "stopTesting",
	"testSuiteStarted", "testSuiteFinished",
	"testCaseStarted", "testCaseFinished",
	"testPassed", "testFailed", "testCrashed",
	"error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Event is a single notification. TestCase is set for test case events.
type Event struct {
	Kind     Kind              `json:"kind"`
	Info     map[string]string `json:"info"`
	TestCase *model.TestCase   `json:"testCase,omitempty"`
}

// Notifier receives events. Notify must not block the caller on delivery.
type Notifier interface {
	Notify(ev Event)
	// Flush waits until every event notified so far has been delivered.
	Flush()
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(Event) {}
func (Nop) Flush()       {}

type device struct {
	Name      string `json:"name"`
	OSVersion string `json:"osVersion"`
	Runtime   string `json:"runtime"`
}

// Input is what the plugin reads from stdin for every event.
type Input struct {
	Event      Event  `json:"event"`
	Device     device `json:"device"`
	PluginData string `json:"pluginData,omitempty"`
}

const queueSize = 1024

// PluginNotifier runs the executable at Path once per event, in the order
// events were notified, with an Input written to its stdin as JSON.
// Delivery happens on a background goroutine. Plugin failures are logged
// and never fail the run.
type PluginNotifier struct {
	Path    string
	Timeout time.Duration

	device device
	data   string
	logger *zap.Logger

	queue   chan Event
	pending sync.WaitGroup
	once    sync.Once
}

// NewPluginNotifier creates a notifier for the executable at path.
func NewPluginNotifier(path string, dev model.Device, data string, timeout time.Duration, logger *zap.Logger) *PluginNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &PluginNotifier{
		Path:    path,
		Timeout: timeout,
		device:  device{Name: dev.Name, OSVersion: dev.OSVersion, Runtime: dev.Runtime()},
		data:    data,
		logger:  logger.Named("event-plugin"),
		queue:   make(chan Event, queueSize),
	}
}

// Notify queues ev for delivery. Events are dropped while the queue is full.
func (p *PluginNotifier) Notify(ev Event) {
	p.once.Do(func() { go p.loop() })
	if ev.Info == nil {
		ev.Info = map[string]string{}
	}
	p.pending.Add(1)
	select {
	case p.queue <- ev:
	default:
		p.pending.Done()
		p.logger.Warn("event queue full, dropping event", zap.Stringer("kind", ev.Kind))
	}
}

// Flush waits for queued events to be delivered.
func (p *PluginNotifier) Flush() {
	p.pending.Wait()
}

func (p *PluginNotifier) loop() {
	for ev := range p.queue {
		if err := p.send(ev); err != nil {
			p.logger.Warn("event plugin failed", zap.Stringer("kind", ev.Kind), zap.Error(err))
		}
		p.pending.Done()
	}
}

func (p *PluginNotifier) send(ev Event) error {
	input, err := json.Marshal(Input{Event: ev, Device: p.device, PluginData: p.data})
	if err != nil {
		return fmt.Errorf("failed encoding event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Path)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stderr = &stderr

	p.logger.Debug("invoking plugin", zap.String("path", p.Path), zap.Stringer("kind", ev.Kind))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("plugin %s failed: %w: %s", p.Path, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
