// Package hostinfo builds the host capability snapshot included with each
// command synthesis prompt, so the model can pick encoders the machine
// actually has.
package hostinfo

import (
	"context"
	"encoding/json"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/compressarr/pkg/format"
)

// Info is the host snapshot embedded in prompts and stored with each
// synthesized row. The JSON key casing is part of the prompt contract.
type Info struct {
	OS              string `json:"OS"`
	OSVersion       string `json:"OS_Version"`
	Architecture    string `json:"Architecture"`
	Processor       string `json:"Processor"`
	TotalRAM        string `json:"Total_RAM"`
	GPU             string `json:"GPU,omitempty"`
	GPUAcceleration string `json:"GPU_Acceleration,omitempty"`
}

// JSON renders the snapshot as two-space indented JSON.
func (i *Info) JSON() string {
	data, _ := json.MarshalIndent(i, "", "  ")
	return string(data)
}

// Overrides pin snapshot fields from configuration. Empty fields fall back
// to detection. A pinned GPU model skips the vendor tool chain entirely.
type Overrides struct {
	OS        string
	OSVersion string
	CPUModel  string
	TotalRAM  string
	GPUModel  string
}

// Collector assembles host snapshots.
type Collector struct {
	overrides Overrides
}

// NewCollector creates a collector with the given overrides.
func NewCollector(overrides Overrides) *Collector {
	return &Collector{overrides: overrides}
}

// Collect builds a snapshot. Detection is best-effort: a field whose source
// fails keeps its override or stays empty rather than failing the tick.
func (c *Collector) Collect(ctx context.Context) *Info {
	info := &Info{
		OS:           c.overrides.OS,
		OSVersion:    c.overrides.OSVersion,
		Processor:    c.overrides.CPUModel,
		TotalRAM:     c.overrides.TotalRAM,
		Architecture: runtime.GOARCH,
	}

	if hostStat, err := host.InfoWithContext(ctx); err == nil {
		if info.OS == "" {
			info.OS = hostStat.OS
		}
		if info.OSVersion == "" {
			info.OSVersion = hostStat.Platform + " " + hostStat.PlatformVersion
		}
		if hostStat.KernelArch != "" {
			info.Architecture = hostStat.KernelArch
		}
	} else if info.OS == "" {
		info.OS = runtime.GOOS
	}

	if info.Processor == "" {
		if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
			info.Processor = cpus[0].ModelName
		}
	}

	if info.TotalRAM == "" {
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			info.TotalRAM = format.Bytes(int64(vm.Total))
		}
	}

	if c.overrides.GPUModel != "" {
		info.GPU = c.overrides.GPUModel
	} else {
		detectGPU(ctx, info, runtime.GOOS)
	}

	return info
}
