package runner

import (
	"fmt"
	"regexp"
	"strings"

	"simfleet/model"
)

var outcomeRegex = regexp.MustCompile(`(passed|failed) \((.*) seconds\)`)

// ReconcileOptions describe where the output being reconciled came from.
type ReconcileOptions struct {
	TestTarget   string
	Node         string
	ResultBundle string
}

// Reconcile matches output lines against the candidates assigned to one
// agent. Each line is checked against the still unmatched candidates in
// assignment order and the first match wins; a matched candidate is never
// matched again. Candidates left over are returned as unresolved.
func Reconcile(lines []string, candidates []model.TestCase, opts ReconcileOptions) (results []model.TestCaseResult, unresolved []model.TestCase) {
	remaining := append([]model.TestCase(nil), candidates...)
	recorded := make(map[string]bool)

	for _, raw := range lines {
		line := cleanLine(raw)
		if !strings.HasPrefix(line, "Test Case") && !strings.Contains(line, CrashMarker) && !strings.Contains(line, CrashReportMarker) {
			continue
		}

		for i, candidate := range remaining {
			result, ok := matchLine(line, candidate, opts)
			if !ok {
				continue
			}
			remaining = append(remaining[:i], remaining[i+1:]...)
			if key := result.Key(); !recorded[key] {
				recorded[key] = true
				results = append(results, result)
			}
			break
		}
	}
	return results, remaining
}

func matchLine(line string, candidate model.TestCase, opts ReconcileOptions) (model.TestCaseResult, bool) {
	result := model.TestCaseResult{
		Node:         opts.Node,
		ResultBundle: opts.ResultBundle,
		Suite:        candidate.Suite,
		Name:         candidate.Name,
	}

	if strings.Contains(line, fmt.Sprintf("%s.%s %s]", opts.TestTarget, candidate.Suite, candidate.Name)) {
		m := outcomeRegex.FindStringSubmatch(line)
		if m == nil {
			return model.TestCaseResult{}, false
		}
		result.Status = model.Status(m[1])
		result.Duration = parseDuration(m[2])
		return result, true
	}

	if strings.Contains(line, fmt.Sprintf("%s %s()", CrashMarker, candidate.Identifier())) {
		result.Status = model.StatusFailed
		result.Duration = model.UnknownDuration
		return result, true
	}
	return model.TestCaseResult{}, false
}
