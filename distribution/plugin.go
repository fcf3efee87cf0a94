package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"simfleet/model"
)

// PluginStrategy delegates ordering to an external executable. The request
// is written to its stdin as JSON and it must print a JSON array of test case
// arrays.
type PluginStrategy struct {
	Path    string
	Timeout time.Duration
	logger  *zap.Logger
}

// NewPluginStrategy creates a strategy running the executable at path.
func NewPluginStrategy(path string, timeout time.Duration, logger *zap.Logger) *PluginStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &PluginStrategy{Path: path, Timeout: timeout, logger: logger.Named("plugin")}
}

func (p *PluginStrategy) Name() string { return p.Path }

func (p *PluginStrategy) Order(ctx context.Context, req Request) ([][]model.TestCase, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed encoding plugin request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Path)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.logger.Debug("invoking plugin", zap.String("path", p.Path), zap.Int("tests", len(req.TestCases)))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("plugin %s failed: %w: %s", p.Path, err, strings.TrimSpace(stderr.String()))
	}
	if stderr.Len() > 0 {
		p.logger.Debug("plugin stderr", zap.String("output", stderr.String()))
	}

	var groups [][]model.TestCase
	if err := json.Unmarshal(stdout.Bytes(), &groups); err != nil {
		return nil, fmt.Errorf("plugin %s returned invalid output: %w", p.Path, err)
	}
	return groups, nil
}
