package hostinfo

import (
	"context"
	"os/exec"
	"strings"

	"github.com/jmylchreest/compressarr/internal/util"
)

// runTool executes a detection tool and returns its trimmed stdout. Stderr
// is discarded; these tools print warnings on headless machines.
func runTool(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// detectGPU fills the GPU fields by trying vendor tools in order of
// specificity: nvidia-smi, rocm-smi, vainfo, then an lspci scan on Linux.
// The first vendor tool that answers stops the chain; vainfo only records
// acceleration availability and lets the chain continue.
func detectGPU(ctx context.Context, info *Info, goos string) {
	if util.BinaryAvailable("nvidia-smi") {
		if out, err := runTool(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader"); err == nil && out != "" {
			info.GPU = "NVIDIA GPU: " + out
			return
		}
	}

	if util.BinaryAvailable("rocm-smi") {
		if out, err := runTool(ctx, "rocm-smi", "--showproductname"); err == nil && out != "" {
			info.GPU = "AMD GPU (ROCm): " + out
			return
		}
	}

	if !util.BinaryAvailable("vainfo") {
		info.GPUAcceleration = "vainfo not installed"
	} else if out, err := runTool(ctx, "vainfo"); err != nil {
		info.GPUAcceleration = "vainfo failed"
	} else if strings.Contains(out, "VAProfile") {
		info.GPUAcceleration = "VAAPI available"
	}

	if goos != "linux" {
		info.GPU = "GPU detection not supported on this OS without NVIDIA or ROCm tools"
		return
	}

	out, err := runTool(ctx, "lspci")
	if err != nil {
		info.GPU = "Could not detect GPU (lspci failed)"
		return
	}

	var amdLine, nvidiaLine string
	for _, line := range strings.Split(out, "\n") {
		if amdLine == "" && (strings.Contains(line, "AMD") || strings.Contains(line, "ATI")) {
			amdLine = line
		}
		if nvidiaLine == "" && strings.Contains(line, "NVIDIA") {
			nvidiaLine = line
		}
	}
	switch {
	case amdLine != "":
		info.GPU = "AMD GPU detected via lspci: " + amdLine
	case nvidiaLine != "":
		info.GPU = "NVIDIA GPU detected via lspci: " + nvidiaLine
	default:
		info.GPU = "No discrete GPU detected via lspci"
	}
}
