package model

// Status of a finished test case.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// UnknownDuration marks a result whose duration was not measured, e.g. a crash.
const UnknownDuration = -1.0

// TestCaseResult is the reconciled outcome of one test case in one pass.
type TestCaseResult struct {
	Node         string  `json:"node"`
	ResultBundle string  `json:"xcResultPath"`
	Suite        string  `json:"suite"`
	Name         string  `json:"name"`
	Status       Status  `json:"status"`
	Duration     float64 `json:"duration"`
}

// Key identifies the test case the result belongs to.
func (r TestCaseResult) Key() string {
	return r.Suite + "/" + r.Name
}

// TestCase returns the test case this result refers to.
func (r TestCaseResult) TestCase() TestCase {
	return TestCase{Suite: r.Suite, Name: r.Name}
}

// LatestByTest returns, for each suite/name, the last result in list order.
func LatestByTest(results []TestCaseResult) map[string]TestCaseResult {
	latest := make(map[string]TestCaseResult, len(results))
	for _, r := range results {
		latest[r.Key()] = r
	}
	return latest
}
