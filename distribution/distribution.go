// Package distribution partitions test cases into one ordered sublist per
// agent.
package distribution

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"simfleet/model"
)

// Request is what an ordering strategy receives.
type Request struct {
	TestCases  []model.TestCase `json:"tests"`
	AgentCount int              `json:"simulatorCount"`
	Device     model.Device     `json:"device"`
	PluginData string           `json:"pluginData,omitempty"`
}

// Strategy orders test cases into at most AgentCount sublists.
type Strategy interface {
	Name() string
	Order(ctx context.Context, req Request) ([][]model.TestCase, error)
}

// StrategyOverflowError reports a strategy returning more sublists than agents.
type StrategyOverflowError struct {
	Strategy string
	Got      int
	Want     int
}

func (e *StrategyOverflowError) Error() string {
	return fmt.Sprintf("distribution strategy %s returned %d test groups for %d agents", e.Strategy, e.Got, e.Want)
}

// EvenSplitStrategy splits tests into contiguous chunks.
type EvenSplitStrategy struct{}

func (EvenSplitStrategy) Name() string { return "even-split" }

func (EvenSplitStrategy) Order(_ context.Context, req Request) ([][]model.TestCase, error) {
	return EvenSplit(req.TestCases, req.AgentCount), nil
}

// EvenSplit splits tests into n contiguous, order-preserving chunks whose
// sizes differ by at most one. Earlier chunks receive the remainder.
func EvenSplit(tests []model.TestCase, n int) [][]model.TestCase {
	if n <= 0 {
		return nil
	}
	chunks := make([][]model.TestCase, n)
	size, remainder := len(tests)/n, len(tests)%n
	start := 0
	for i := range chunks {
		end := start + size
		if i < remainder {
			end++
		}
		chunks[i] = append([]model.TestCase{}, tests[start:end]...)
		start = end
	}
	return chunks
}

// Distribute produces exactly req.AgentCount sublists. A nil strategy uses
// EvenSplit. Strategies returning fewer sublists leave the remaining agents
// idle.
func Distribute(ctx context.Context, strategy Strategy, req Request, logger *zap.Logger) ([][]model.TestCase, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("distribution")
	if req.AgentCount <= 0 {
		return nil, fmt.Errorf("cannot distribute tests over %d agents", req.AgentCount)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strategy == nil {
		strategy = EvenSplitStrategy{}
	}

	groups, err := strategy.Order(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("distribution strategy %s failed: %w", strategy.Name(), err)
	}
	if len(groups) > req.AgentCount {
		return nil, &StrategyOverflowError{Strategy: strategy.Name(), Got: len(groups), Want: req.AgentCount}
	}
	if idle := req.AgentCount - len(groups); idle > 0 {
		logger.Warn("strategy returned fewer test groups than agents, remaining agents stay idle",
			zap.String("strategy", strategy.Name()), zap.Int("idle", idle))
		for ; idle > 0; idle-- {
			groups = append(groups, []model.TestCase{})
		}
	}
	if len(groups) != req.AgentCount {
		panic(fmt.Sprintf("distribution produced %d groups for %d agents", len(groups), req.AgentCount))
	}

	for i, group := range groups {
		logger.Info(fmt.Sprintf("agent %d will launch %d test cases", i+1, len(group)))
		logger.Debug("assigned tests", zap.Int("slot", i+1), zap.String("tests", strings.Join(model.Identifiers(group), "\n")))
	}
	return groups, nil
}
