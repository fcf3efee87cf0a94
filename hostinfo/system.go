package hostinfo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"simfleet/executor"
)

// MemoryInfo represents memory information
type MemoryInfo struct {
	TotalBytes int64 `json:"total_bytes"`
}

// MemoryModule collects memory information
type MemoryModule struct{}

// NewMemoryModule creates a new memory information module
func NewMemoryModule() *MemoryModule {
	return &MemoryModule{}
}

func (m *MemoryModule) Name() string {
	return "memory"
}

// Collect gathers memory information
func (m *MemoryModule) Collect(ctx context.Context, e executor.Executor) (interface{}, error) {
	out, err := e.Execute(ctx, "sysctl -n hw.memsize")
	if err != nil {
		return nil, err
	}
	total, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unexpected memory size %q", out)
	}
	return &MemoryInfo{TotalBytes: total}, nil
}

// StorageInfo describes the volume holding the workspace
type StorageInfo struct {
	Device      string `json:"device"`
	SizeKB      int64  `json:"size_kb"`
	UsedKB      int64  `json:"used_kb"`
	AvailableKB int64  `json:"available_kb"`
	UsePercent  string `json:"use_percent"`
	MountPoint  string `json:"mount_point"`
}

// StorageModule collects free space of the volume containing path. Result
// bundles and derived data accumulate there during a run.
type StorageModule struct {
	path string
}

// NewStorageModule creates a storage module for path, the home folder when empty
func NewStorageModule(path string) *StorageModule {
	if path == "" {
		path = "~"
	}
	return &StorageModule{path: path}
}

func (m *StorageModule) Name() string {
	return "storage"
}

// Collect gathers storage information
func (m *StorageModule) Collect(ctx context.Context, e executor.Executor) (interface{}, error) {
	out, err := e.Execute(ctx, "df -Pk "+executor.Quote(m.path)+" | tail -n +2")
	if err != nil {
		return nil, err
	}
	return ParseDiskFree(out)
}

// ParseDiskFree reads the first entry of POSIX `df -Pk` output without header
func ParseDiskFree(out string) (*StorageInfo, error) {
	for _, line := range executor.Lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		var sizes [3]int64
		for i := range sizes {
			n, err := strconv.ParseInt(fields[i+1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unexpected df output %q", line)
			}
			sizes[i] = n
		}
		return &StorageInfo{
			Device:      fields[0],
			SizeKB:      sizes[0],
			UsedKB:      sizes[1],
			AvailableKB: sizes[2],
			UsePercent:  fields[4],
			MountPoint:  strings.Join(fields[5:], " "),
		}, nil
	}
	return nil, fmt.Errorf("no volume in df output")
}
