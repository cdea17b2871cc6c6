package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestFindBinary_EnvOverrideWins(t *testing.T) {
	dir := t.TempDir()
	path := writeExecutable(t, dir, "fake-tool")
	t.Setenv("FAKE_TOOL_BINARY", path)

	got, err := FindBinary("fake-tool", "FAKE_TOOL_BINARY")
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFindBinary_IgnoresNonExecutableOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-tool")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	t.Setenv("FAKE_TOOL_BINARY", path)

	_, err := FindBinary("fake-tool-that-does-not-exist", "FAKE_TOOL_BINARY")
	assert.Error(t, err, "a non-executable override must not shadow the PATH search")
}

func TestFindBinary_FallsBackToPath(t *testing.T) {
	got, err := FindBinary("sh", "")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestFindBinary_NotFound(t *testing.T) {
	_, err := FindBinary("definitely-not-installed-anywhere", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestBinaryAvailable(t *testing.T) {
	assert.True(t, BinaryAvailable("sh"))
	assert.False(t, BinaryAvailable("definitely-not-installed-anywhere"))
}
