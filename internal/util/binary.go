// Package util holds small helpers shared across otherwise unrelated
// packages.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary resolves an executable by name. An env var override wins when
// set, then a copy sitting in the working directory, then PATH. The override
// and local copy must exist and carry an executable bit.
func FindBinary(name, envVar string) (string, error) {
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" && runnable(p) {
			return p, nil
		}
	}
	if local := "./" + name; runnable(local) {
		return local, nil
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("binary %s not found", name)
}

// BinaryAvailable reports whether name resolves to an executable. Probe
// chains (GPU detection tries nvidia-smi, rocm-smi, vainfo, lspci in turn)
// use this to skip tools that are not installed.
func BinaryAvailable(name string) bool {
	_, err := FindBinary(name, "")
	return err == nil
}

// runnable reports whether path is a regular file someone can execute.
func runnable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
