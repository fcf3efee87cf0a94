package hostinfo

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"simfleet/executor"
)

var resolutionRegex = regexp.MustCompile(`Resolution: (\d+) x (\d+)(?: (\w+))?`)

// Resolution is a display size in points.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DisplayModule collects the main display resolution
type DisplayModule struct{}

// NewDisplayModule creates a new display information module
func NewDisplayModule() *DisplayModule {
	return &DisplayModule{}
}

func (m *DisplayModule) Name() string {
	return "display"
}

func (m *DisplayModule) Collect(ctx context.Context, e executor.Executor) (interface{}, error) {
	return DisplayResolution(ctx, e)
}

// DisplayResolution returns the resolution of the node's first display in
// points. Retina pixel sizes are halved.
func DisplayResolution(ctx context.Context, e executor.Executor) (Resolution, error) {
	out, err := e.Execute(ctx, `system_profiler SPDisplaysDataType | grep "Resolution:"`)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed reading display resolution: %w", err)
	}
	return ParseResolution(out)
}

// ParseResolution extracts the first resolution from system_profiler output.
func ParseResolution(output string) (Resolution, error) {
	m := resolutionRegex.FindStringSubmatch(output)
	if m == nil {
		return Resolution{}, fmt.Errorf("failed extracting resolution from %q", output)
	}
	width, _ := strconv.Atoi(m[1])
	height, _ := strconv.Atoi(m[2])
	if m[3] == "Retina" {
		width /= 2
		height /= 2
	}
	return Resolution{Width: width, Height: height}, nil
}
