package hostinfo

import (
	"context"
	"testing"

	"simfleet/executor/executortest"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    Resolution
		wantErr bool
	}{
		{
			name:   "plain",
			output: "          Resolution: 1920 x 1080 (1080p FHD - Full High Definition)",
			want:   Resolution{Width: 1920, Height: 1080},
		},
		{
			name:   "retina is halved",
			output: "          Resolution: 2880 x 1800 Retina",
			want:   Resolution{Width: 1440, Height: 900},
		},
		{
			name:   "first display wins",
			output: "Resolution: 2560 x 1440\nResolution: 1920 x 1080",
			want:   Resolution{Width: 2560, Height: 1440},
		},
		{
			name:    "missing",
			output:  "Graphics/Displays:",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResolution(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResolution() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseResolution() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPhysicalCPUs(t *testing.T) {
	e := executortest.New("10.0.0.1").On("hw.physicalcpu", executortest.Response{Output: "8\n"})
	n, err := PhysicalCPUs(context.Background(), e)
	if err != nil {
		t.Fatalf("PhysicalCPUs() error = %v", err)
	}
	if n != 8 {
		t.Errorf("PhysicalCPUs() = %d, want 8", n)
	}

	bad := executortest.New("10.0.0.2").On("hw.physicalcpu", executortest.Response{Output: "zero"})
	if _, err := PhysicalCPUs(context.Background(), bad); err == nil {
		t.Error("PhysicalCPUs() expected error for unparsable output")
	}
}

func TestRegistry_CollectSkipsFailingModules(t *testing.T) {
	e := executortest.New("10.0.0.1").
		On("hw.physicalcpu", executortest.Response{Output: "4"}).
		On("system_profiler", executortest.Response{Status: 1}).
		On("xcodebuild -version", executortest.Response{Output: "Xcode 11.3\nBuild version 11C29"})

	info := DefaultRegistry(nil, "").Collect(context.Background(), e)

	if _, ok := info.Modules["display"]; ok {
		t.Error("display module should have been skipped")
	}
	cpu, ok := info.Modules["cpu"].(*CPUInfo)
	if !ok || cpu.PhysicalCores != 4 {
		t.Errorf("cpu module = %+v", info.Modules["cpu"])
	}
	if _, ok := info.Modules["storage"]; ok {
		t.Error("storage module should have been skipped without df output")
	}
	tc, ok := info.Modules["toolchain"].(*ToolchainInfo)
	if !ok || tc.XcodeVersion != "11.3" {
		t.Errorf("toolchain module = %+v", info.Modules["toolchain"])
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(NewCPUModule()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(NewCPUModule()); err == nil {
		t.Error("Register() expected error for duplicate module")
	}
}

func TestParseDiskFree(t *testing.T) {
	out := "/dev/disk1s1   488245288 231113112 251129484    48%    /System/Volumes/Data\n"
	info, err := ParseDiskFree(out)
	if err != nil {
		t.Fatalf("ParseDiskFree() error = %v", err)
	}
	want := StorageInfo{
		Device:      "/dev/disk1s1",
		SizeKB:      488245288,
		UsedKB:      231113112,
		AvailableKB: 251129484,
		UsePercent:  "48%",
		MountPoint:  "/System/Volumes/Data",
	}
	if *info != want {
		t.Errorf("ParseDiskFree() = %+v, want %+v", *info, want)
	}

	if _, err := ParseDiskFree("/dev/disk1s1 lots 1 2 3% /"); err == nil {
		t.Error("ParseDiskFree() expected error for non numeric sizes")
	}
	if _, err := ParseDiskFree(""); err == nil {
		t.Error("ParseDiskFree() expected error for empty output")
	}
}

func TestStorageModule_QuotesWorkspace(t *testing.T) {
	e := executortest.New("10.0.0.1").
		On("df -Pk", executortest.Response{Output: "/dev/disk1s1 100 40 60 40% /\n"})

	data, err := NewStorageModule("~/simfleet").Collect(context.Background(), e)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if info := data.(*StorageInfo); info.AvailableKB != 60 {
		t.Errorf("Collect() = %+v", info)
	}
	if got := e.Commands()[0]; got != `df -Pk "$HOME"/'simfleet' | tail -n +2` {
		t.Errorf("unexpected command %q", got)
	}
}

func TestMemoryModule(t *testing.T) {
	e := executortest.New("10.0.0.1").On("hw.memsize", executortest.Response{Output: "17179869184\n"})
	data, err := NewMemoryModule().Collect(context.Background(), e)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if info := data.(*MemoryInfo); info.TotalBytes != 17179869184 {
		t.Errorf("Collect() = %+v", info)
	}
}
