package coordinator

import (
	"time"

	"simfleet/model"
)

// Summary is the outcome of a complete run
type Summary struct {
	RunID    string        `json:"run_id"`
	Duration time.Duration `json:"duration"`
	Passes   int           `json:"passes"`

	// Results holds every result of every pass in the order they were recorded
	Results []model.TestCaseResult `json:"results"`
	// Final holds the latest result of each test, in test list order
	Final      []model.TestCaseResult `json:"final"`
	Unresolved []model.TestCase       `json:"unresolved"`
}

// Passed counts tests whose latest result passed
func (s *Summary) Passed() int {
	return s.count(model.StatusPassed)
}

// Failed counts tests whose latest result failed
func (s *Summary) Failed() int {
	return s.count(model.StatusFailed)
}

// Success reports whether every test has passed
func (s *Summary) Success() bool {
	return s.Failed() == 0 && len(s.Unresolved) == 0
}

func (s *Summary) count(status model.Status) int {
	n := 0
	for _, r := range s.Final {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Finalize picks the latest result of each test. Tests without any result
// are returned as unresolved.
func Finalize(tests []model.TestCase, results []model.TestCaseResult) (final []model.TestCaseResult, unresolved []model.TestCase) {
	latest := model.LatestByTest(results)
	for _, tc := range tests {
		if r, ok := latest[tc.Identifier()]; ok {
			final = append(final, r)
			continue
		}
		unresolved = append(unresolved, tc)
	}
	return final, unresolved
}

// Unsettled returns the tests whose latest result failed or that have no
// result at all.
func Unsettled(tests []model.TestCase, results []model.TestCaseResult) []model.TestCase {
	latest := model.LatestByTest(results)
	var pending []model.TestCase
	for _, tc := range tests {
		if r, ok := latest[tc.Identifier()]; !ok || r.Status != model.StatusPassed {
			pending = append(pending, tc)
		}
	}
	return pending
}
