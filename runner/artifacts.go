package runner

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"simfleet/executor"
	"simfleet/model"
)

// findOne runs a find command and requires exactly one match.
func findOne(ctx context.Context, e executor.Executor, command, kind, root string) (string, error) {
	out, err := e.Execute(ctx, command)
	if err != nil {
		return "", fmt.Errorf("failed searching for %s: %w", kind, err)
	}
	found := executor.Lines(out)
	if len(found) != 1 {
		return "", &ArtifactCountError{Kind: kind, Path: root, Found: len(found)}
	}
	return found[0], nil
}

// Relocator moves result bundles into per-agent folders and refuses to
// overwrite one already moved.
type Relocator struct {
	builder *CommandBuilder

	mu    sync.Mutex
	moved map[string]string
}

// NewRelocator creates a relocator for the folders of builder.
func NewRelocator(builder *CommandBuilder) *Relocator {
	return &Relocator{builder: builder, moved: make(map[string]string)}
}

// Relocate moves bundle for agent and returns its new path.
func (r *Relocator) Relocate(ctx context.Context, e executor.Executor, bundle string, agent model.Agent) (string, error) {
	dest := r.builder.RelocatedPath(bundle, agent)
	key := agent.ID + "\x00" + dest

	r.mu.Lock()
	if _, ok := r.moved[key]; ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrArtifactExists, dest)
	}
	r.moved[key] = bundle
	r.mu.Unlock()

	exists, err := executor.FileExists(ctx, e, dest)
	if err != nil {
		r.forget(key)
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrArtifactExists, dest)
	}
	if _, err := e.Execute(ctx, r.builder.MoveResultBundle(bundle, agent)); err != nil {
		r.forget(key)
		return "", fmt.Errorf("failed moving result bundle: %w", err)
	}
	return dest, nil
}

func (r *Relocator) forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.moved, key)
}

// copyDiagnostics gathers crash reports, raw process output and session logs
// for agent. Every step is best effort.
func copyDiagnostics(ctx context.Context, e executor.Executor, b *CommandBuilder, cfg Config, agent model.Agent, logger *zap.Logger) {
	var commands []string
	for _, target := range []string{cfg.BuildTarget, cfg.TestTarget} {
		if target != "" {
			commands = append(commands, b.CopyCrashReports(target, agent))
		}
	}
	for _, root := range []string{b.logsDir(agent), b.resultsDir(agent)} {
		commands = append(commands,
			b.CopyMatching(root, "StandardOutputAndStandardError*.txt", "StandardOutputAndStandardError", agent),
			b.CopyMatching(root, fmt.Sprintf("Session-%s*.log", cfg.TestTarget), "Session", agent))
	}
	for _, cmd := range commands {
		if _, err := e.Capture(ctx, cmd); err != nil {
			logger.Debug("failed copying diagnostics", zap.Error(err))
		}
	}
}

// reclaim deletes the diagnostic folders inside relocated result bundles.
func reclaim(ctx context.Context, e executor.Executor, b *CommandBuilder, agent model.Agent) error {
	out, err := e.Execute(ctx, b.FindDiagnostics(agent))
	if err != nil {
		return err
	}
	var victims []string
	for _, p := range executor.Lines(out) {
		if strings.Contains(p, ".xcresult/") && path.Base(p) == "Diagnostics" {
			victims = append(victims, p)
		}
	}
	if len(victims) == 0 {
		return nil
	}
	_, err = e.Execute(ctx, b.Remove(victims))
	return err
}
