package hostinfo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Collect_Overrides(t *testing.T) {
	collector := NewCollector(Overrides{
		OS:        "Linux",
		OSVersion: "6.1.0-custom",
		CPUModel:  "AMD Ryzen 9 7950X",
		TotalRAM:  "64 GB",
		GPUModel:  "NVIDIA RTX 4090",
	})

	info := collector.Collect(context.Background())

	assert.Equal(t, "Linux", info.OS)
	assert.Equal(t, "6.1.0-custom", info.OSVersion)
	assert.Equal(t, "AMD Ryzen 9 7950X", info.Processor)
	assert.Equal(t, "64 GB", info.TotalRAM)
	assert.Equal(t, "NVIDIA RTX 4090", info.GPU, "a pinned GPU model skips the tool chain")
	assert.NotEmpty(t, info.Architecture)
}

func TestCollector_Collect_Detection(t *testing.T) {
	dir := setupToolDir(t)
	writeTool(t, dir, "lspci", "printf ''")

	info := NewCollector(Overrides{}).Collect(context.Background())

	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.Architecture)
	assert.NotEmpty(t, info.TotalRAM)
	assert.Equal(t, "No discrete GPU detected via lspci", info.GPU)
}

func TestInfo_JSON(t *testing.T) {
	info := &Info{
		OS:           "Linux",
		OSVersion:    "ubuntu 22.04",
		Architecture: "x86_64",
		Processor:    "Intel(R) Core(TM) i7-12700K",
		TotalRAM:     "32 GB",
		GPU:          "NVIDIA GPU: NVIDIA GeForce RTX 3080",
	}

	out := info.JSON()
	assert.Contains(t, out, `"OS_Version": "ubuntu 22.04"`)
	assert.Contains(t, out, `"Total_RAM": "32 GB"`)
	assert.NotContains(t, out, "GPU_Acceleration", "empty acceleration field is omitted")

	var round map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &round))
	assert.Equal(t, "x86_64", round["Architecture"])
	assert.Equal(t, "NVIDIA GPU: NVIDIA GeForce RTX 3080", round["GPU"])
}
