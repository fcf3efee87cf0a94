package runner

import (
	"sync"

	"simfleet/model"
)

// Accumulator collects results from every agent across passes.
type Accumulator struct {
	mu        sync.Mutex
	results   []model.TestCaseResult
	completed map[string]bool
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{completed: make(map[string]bool)}
}

// Add appends results.
func (a *Accumulator) Add(results ...model.TestCaseResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, results...)
}

// Results returns a copy of everything added so far, in insertion order.
func (a *Accumulator) Results() []model.TestCaseResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.TestCaseResult(nil), a.results...)
}

// Len returns the number of results added.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// markCompleted records a finished test for progress reporting and returns
// the number of distinct tests completed so far.
func (a *Accumulator) markCompleted(tc model.TestCase) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completed[tc.Identifier()] = true
	return len(a.completed)
}

// resetProgress clears the progress counter at the start of a pass.
func (a *Accumulator) resetProgress() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completed = make(map[string]bool)
}
