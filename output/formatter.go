package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"simfleet/coordinator"
	"simfleet/model"
)

// Formatter handles result output formatting
type Formatter struct {
	w          io.Writer
	jsonOutput bool
}

// NewFormatter creates a new output formatter writing to w
func NewFormatter(w io.Writer, jsonOutput bool) *Formatter {
	if w == nil {
		w = os.Stdout
	}
	return &Formatter{
		w:          w,
		jsonOutput: jsonOutput,
	}
}

// OutputResults outputs the run summary in the requested format
func (f *Formatter) OutputResults(summary *coordinator.Summary) error {
	if f.jsonOutput {
		return f.outputJSON(summary)
	}
	return f.outputText(summary)
}

// outputJSON outputs results in JSON format
func (f *Formatter) outputJSON(summary *coordinator.Summary) error {
	output := map[string]interface{}{
		"run_id":         summary.RunID,
		"total_duration": summary.Duration.String(),
		"passes":         summary.Passes,
		"total_tests":    len(summary.Final),
		"passed":         summary.Passed(),
		"failed":         summary.Failed(),
		"unresolved":     summary.Unresolved,
		"results":        summary.Final,
	}

	encoder := json.NewEncoder(f.w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// outputText renders the final status of every test as a table
func (f *Formatter) outputText(summary *coordinator.Summary) error {
	t := table.NewWriter()
	t.SetOutputMirror(f.w)
	t.SetTitle(fmt.Sprintf("UI Test Results (%s)", formatDuration(summary.Duration)))
	t.AppendHeader(table.Row{"#", "Suite", "Test", "Status", "Duration", "Node"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
	})

	for i, result := range summary.Final {
		t.AppendRow(table.Row{
			i + 1,
			result.Suite,
			result.Name,
			getStatusString(result.Status),
			formatSeconds(result.Duration),
			result.Node,
		})
	}
	for _, tc := range summary.Unresolved {
		t.AppendRow(table.Row{"-", tc.Suite, tc.Name, "? UNRESOLVED", "-", "-"})
	}

	switch {
	case summary.Failed() > 0:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case len(summary.Unresolved) > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("Passes: %d", summary.Passes),
		fmt.Sprintf("Passed: %d", summary.Passed()),
		fmt.Sprintf("Failed: %d", summary.Failed()),
		fmt.Sprintf("Unresolved: %d", len(summary.Unresolved)),
		"",
	})
	t.Render()
	return nil
}

// WriteResultsFile writes every result as a JSON array to path, creating
// its directory.
func WriteResultsFile(path string, results []model.TestCaseResult) error {
	if results == nil {
		results = []model.TestCaseResult{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	return nil
}

// getStatusString returns a status marker
func getStatusString(status model.Status) string {
	if status == model.StatusPassed {
		return "✓ PASS"
	}
	return "✗ FAIL"
}

func formatSeconds(seconds float64) string {
	if seconds == model.UnknownDuration {
		return "-"
	}
	return fmt.Sprintf("%.2fs", seconds)
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}
