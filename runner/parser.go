package runner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/acarl005/stripansi"

	"simfleet/model"
)

// Output markers printed by the test driver.
const (
	CrashMarker            = "Restarting after unexpected exit or crash in"
	CrashReportMarker      = "Checking for crash reports corresponding to unexpected termination of"
	BootstrapFailureMarker = "Test runner exited before starting test execution"
	DamagedBuildMarker     = "The application may be damaged or incomplete"
	PermissionMarker       = "does not have permission to use Accessibility"
)

// EventKind classifies a recognized output line.
type EventKind int

const (
	TestStarted EventKind = iota
	TestFinished
	TestCrashed
	CrashReport
	BootstrapFailed
	BuildDamaged
	PermissionDenied
)

func (k EventKind) String() string {
	switch k {
	case TestStarted:
		return "test-started"
	case TestFinished:
		return "test-finished"
	case TestCrashed:
		return "test-crashed"
	case CrashReport:
		return "crash-report"
	case BootstrapFailed:
		return "bootstrap-failed"
	case BuildDamaged:
		return "build-damaged"
	case PermissionDenied:
		return "permission-denied"
	}
	return "unknown"
}

// Event is one test lifecycle event parsed from driver output.
type Event struct {
	Kind     EventKind
	Suite    string
	Name     string
	Status   model.Status
	Duration float64
	Line     string
}

// TestCase returns the test the event refers to.
func (e Event) TestCase() model.TestCase {
	return model.NewTestCase(e.Suite, e.Name)
}

type pattern struct {
	name  string
	match func(line string) (Event, bool)
}

// LineParser turns a stream of output chunks into events. Partial lines are
// buffered until their newline arrives.
type LineParser struct {
	patterns []pattern
	partial  string
}

// NewLineParser creates a parser for tests in testTarget.
func NewLineParser(testTarget string) *LineParser {
	target := regexp.QuoteMeta(testTarget)
	started := regexp.MustCompile(`Test Case '-\[` + target + `\.(.*)\]' started`)
	finished := regexp.MustCompile(`Test Case '-\[` + target + `\.(.*)\]' (passed|failed) \((.*) seconds\)`)
	crashed := regexp.MustCompile(regexp.QuoteMeta(CrashMarker) + ` (.*)/(.*)\(\)`)

	return &LineParser{patterns: []pattern{
		{"started", func(line string) (Event, bool) {
			m := started.FindStringSubmatch(line)
			if m == nil {
				return Event{}, false
			}
			suite, name := splitSuiteName(m[1])
			return Event{Kind: TestStarted, Suite: suite, Name: name}, true
		}},
		{"finished", func(line string) (Event, bool) {
			m := finished.FindStringSubmatch(line)
			if m == nil {
				return Event{}, false
			}
			suite, name := splitSuiteName(m[1])
			return Event{Kind: TestFinished, Suite: suite, Name: name, Status: model.Status(m[2]), Duration: parseDuration(m[3])}, true
		}},
		{"crashed", func(line string) (Event, bool) {
			m := crashed.FindStringSubmatch(line)
			if m == nil {
				return Event{}, false
			}
			return Event{Kind: TestCrashed, Suite: m[1], Name: m[2], Status: model.StatusFailed, Duration: model.UnknownDuration}, true
		}},
		{"crash-report", contains(CrashReportMarker, CrashReport)},
		{"bootstrap", contains(BootstrapFailureMarker, BootstrapFailed)},
		{"damaged-build", contains(DamagedBuildMarker, BuildDamaged)},
		{"permission", contains(PermissionMarker, PermissionDenied)},
	}}
}

func contains(marker string, kind EventKind) func(string) (Event, bool) {
	return func(line string) (Event, bool) {
		if !strings.Contains(line, marker) {
			return Event{}, false
		}
		return Event{Kind: kind}, true
	}
}

// Feed consumes a chunk of output and returns the events of every line it
// completed.
func (p *LineParser) Feed(chunk string) []Event {
	p.partial += chunk
	lines := strings.Split(p.partial, "\n")
	p.partial = lines[len(lines)-1]

	var events []Event
	for _, line := range lines[:len(lines)-1] {
		if e, ok := p.ParseLine(line); ok {
			events = append(events, e)
		}
	}
	return events
}

// Flush parses any buffered partial line as complete.
func (p *LineParser) Flush() []Event {
	line := p.partial
	p.partial = ""
	if e, ok := p.ParseLine(line); ok {
		return []Event{e}
	}
	return nil
}

// Reset drops any buffered partial line.
func (p *LineParser) Reset() {
	p.partial = ""
}

// ParseLine matches a single line against the pattern table. The first
// matching pattern wins.
func (p *LineParser) ParseLine(line string) (Event, bool) {
	line = cleanLine(line)
	if line == "" {
		return Event{}, false
	}
	for _, pat := range p.patterns {
		if e, ok := pat.match(line); ok {
			e.Line = line
			return e, true
		}
	}
	return Event{}, false
}

func cleanLine(line string) string {
	return strings.TrimSpace(stripansi.Strip(line))
}

// splitSuiteName splits "Suite name" as printed inside the driver's brackets.
func splitSuiteName(s string) (suite, name string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], fields[len(fields)-1]
}

func parseDuration(s string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return model.UnknownDuration
	}
	return d
}
