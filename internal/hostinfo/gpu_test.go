package hostinfo

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupToolDir points PATH at an empty directory so only the fake detection
// tools written by the test are visible.
func setupToolDir(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("detection tools are shell scripts")
	}
	dir := t.TempDir()
	t.Setenv("PATH", dir)
	return dir
}

// writeTool drops a fake detection tool into dir. Bodies may only use shell
// builtins since PATH holds nothing else.
func writeTool(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body), 0o755))
}

func TestDetectGPU_NvidiaWins(t *testing.T) {
	dir := setupToolDir(t)
	writeTool(t, dir, "nvidia-smi", `echo "NVIDIA GeForce RTX 4090"`)
	writeTool(t, dir, "vainfo", `echo "VAProfileH264Main"`)

	info := &Info{}
	detectGPU(context.Background(), info, "linux")

	assert.Equal(t, "NVIDIA GPU: NVIDIA GeForce RTX 4090", info.GPU)
	assert.Empty(t, info.GPUAcceleration, "chain stops before vainfo when a vendor tool answers")
}

func TestDetectGPU_RocmAfterNvidiaFailure(t *testing.T) {
	dir := setupToolDir(t)
	writeTool(t, dir, "nvidia-smi", "exit 1")
	writeTool(t, dir, "rocm-smi", `echo "Card series: Radeon RX 7900 XTX"`)

	info := &Info{}
	detectGPU(context.Background(), info, "linux")

	assert.Equal(t, "AMD GPU (ROCm): Card series: Radeon RX 7900 XTX", info.GPU)
}

func TestDetectGPU_EmptyVendorOutputFallsThrough(t *testing.T) {
	dir := setupToolDir(t)
	writeTool(t, dir, "nvidia-smi", "printf ''")
	writeTool(t, dir, "lspci", `printf '01:00.0 VGA compatible controller: Advanced Micro Devices, Inc. [AMD/ATI] Navi 23\n'`)

	info := &Info{}
	detectGPU(context.Background(), info, "linux")

	assert.Equal(t, "AMD GPU detected via lspci: 01:00.0 VGA compatible controller: Advanced Micro Devices, Inc. [AMD/ATI] Navi 23", info.GPU)
	assert.Equal(t, "vainfo not installed", info.GPUAcceleration)
}

func TestDetectGPU_VAAPI(t *testing.T) {
	dir := setupToolDir(t)
	writeTool(t, dir, "vainfo", `printf 'libva info: VA-API version 1.20\nVAProfileH264Main : VAEntrypointVLD\n'`)
	writeTool(t, dir, "lspci", `printf '00:02.0 Ethernet controller: Intel Corporation I211\n'`)

	info := &Info{}
	detectGPU(context.Background(), info, "linux")

	assert.Equal(t, "VAAPI available", info.GPUAcceleration)
	assert.Equal(t, "No discrete GPU detected via lspci", info.GPU)
}

func TestDetectGPU_VainfoStates(t *testing.T) {
	t.Run("failed", func(t *testing.T) {
		dir := setupToolDir(t)
		writeTool(t, dir, "vainfo", "exit 3")
		writeTool(t, dir, "lspci", "printf ''")

		info := &Info{}
		detectGPU(context.Background(), info, "linux")
		assert.Equal(t, "vainfo failed", info.GPUAcceleration)
	})

	t.Run("no profiles reported", func(t *testing.T) {
		dir := setupToolDir(t)
		writeTool(t, dir, "vainfo", `echo "libva info: va_openDriver() returns -1"`)
		writeTool(t, dir, "lspci", "printf ''")

		info := &Info{}
		detectGPU(context.Background(), info, "linux")
		assert.Empty(t, info.GPUAcceleration)
	})
}

func TestDetectGPU_LspciPrefersAMD(t *testing.T) {
	dir := setupToolDir(t)
	writeTool(t, dir, "lspci", `printf '01:00.0 VGA compatible controller: NVIDIA Corporation GA102\n02:00.0 Display controller: Advanced Micro Devices, Inc. [AMD/ATI] Raphael\n'`)

	info := &Info{}
	detectGPU(context.Background(), info, "linux")

	assert.Equal(t, "AMD GPU detected via lspci: 02:00.0 Display controller: Advanced Micro Devices, Inc. [AMD/ATI] Raphael", info.GPU)
}

func TestDetectGPU_LspciNvidiaOnly(t *testing.T) {
	dir := setupToolDir(t)
	writeTool(t, dir, "lspci", `printf '01:00.0 VGA compatible controller: NVIDIA Corporation GA102\n'`)

	info := &Info{}
	detectGPU(context.Background(), info, "linux")

	assert.Equal(t, "NVIDIA GPU detected via lspci: 01:00.0 VGA compatible controller: NVIDIA Corporation GA102", info.GPU)
}

func TestDetectGPU_LspciMissing(t *testing.T) {
	setupToolDir(t)

	info := &Info{}
	detectGPU(context.Background(), info, "linux")

	assert.Equal(t, "Could not detect GPU (lspci failed)", info.GPU)
	assert.Equal(t, "vainfo not installed", info.GPUAcceleration)
}

func TestDetectGPU_UnsupportedOS(t *testing.T) {
	setupToolDir(t)

	info := &Info{}
	detectGPU(context.Background(), info, "darwin")

	assert.Equal(t, "GPU detection not supported on this OS without NVIDIA or ROCm tools", info.GPU)
	assert.Equal(t, "vainfo not installed", info.GPUAcceleration)
}
