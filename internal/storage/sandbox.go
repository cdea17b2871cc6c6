// Package storage provides sandboxed file operations for compressarr.
// Destructive operations on transcode outputs and backups are restricted to
// their configured directories, so a bad row or a crafted path can never
// reach outside them.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox provides file operations rooted at a base directory. Every path,
// relative or absolute, must resolve within the base directory.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a Sandbox rooted at the given base directory.
// The base directory is created if it doesn't exist.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute path to the sandbox base directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath resolves a relative path within the sandbox.
// Returns an error if the path would escape the sandbox or is absolute.
func (s *Sandbox) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("path escapes sandbox: %s (absolute paths not allowed)", relativePath)
	}

	cleanPath := filepath.Clean(relativePath)
	fullPath := filepath.Join(s.baseDir, cleanPath)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) && absPath != s.baseDir {
		return "", fmt.Errorf("path escapes sandbox: %s", relativePath)
	}

	return absPath, nil
}

// Contain validates that an absolute path lies inside the sandbox and
// returns it cleaned. Video rows carry absolute output paths; this is the
// guard before any destructive operation on them.
func (s *Sandbox) Contain(absPath string) (string, error) {
	if absPath == "" {
		return "", fmt.Errorf("path escapes sandbox: empty path")
	}
	if !filepath.IsAbs(absPath) {
		return "", fmt.Errorf("path escapes sandbox: %s (not absolute)", absPath)
	}

	clean := filepath.Clean(absPath)
	if !strings.HasPrefix(clean, s.baseDir+string(filepath.Separator)) && clean != s.baseDir {
		return "", fmt.Errorf("path escapes sandbox: %s", absPath)
	}

	return clean, nil
}

// Exists checks if a path exists within the sandbox.
func (s *Sandbox) Exists(relativePath string) (bool, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking path: %w", err)
	}
	return true, nil
}

// MkdirAll creates a directory and all parent directories within the sandbox.
func (s *Sandbox) MkdirAll(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}

// OpenFile opens a file within the sandbox with the given flags and mode.
func (s *Sandbox) OpenFile(relativePath string, flag int, perm os.FileMode) (*os.File, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

// Remove removes a file within the sandbox.
func (s *Sandbox) Remove(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// Discard removes the file at an absolute path after containment
// validation. Reports whether a file was removed; a missing file is not an
// error.
func (s *Sandbox) Discard(absPath string) (bool, error) {
	path, err := s.Contain(absPath)
	if err != nil {
		return false, err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("removing file: %w", err)
	}
	return true, nil
}

// Rename renames a file within the sandbox.
func (s *Sandbox) Rename(oldPath, newPath string) error {
	oldAbs, err := s.ResolvePath(oldPath)
	if err != nil {
		return err
	}
	newAbs, err := s.ResolvePath(newPath)
	if err != nil {
		return err
	}

	if err := os.Rename(oldAbs, newAbs); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

// AtomicPublish moves a finished output from inside the sandbox over a
// destination outside it: the destination is removed first, then the source
// is renamed into its place. Rename-only by contract; the destination must
// live on the same filesystem. A failure between the remove and the rename
// leaves nothing at the destination, which the caller records as failed.
func (s *Sandbox) AtomicPublish(srcAbsPath, destAbsPath string) error {
	src, err := s.Contain(srcAbsPath)
	if err != nil {
		return err
	}
	if !filepath.IsAbs(destAbsPath) {
		return fmt.Errorf("destination must be absolute: %s", destAbsPath)
	}

	if err := os.Remove(destAbsPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing destination: %w", err)
	}
	if err := os.Rename(src, destAbsPath); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// AtomicWriteReader writes a stream to a file within the sandbox atomically
// by writing to a temporary file first, then renaming it over the target.
func (s *Sandbox) AtomicWriteReader(relativePath string, r io.Reader) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tempName := fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), randomHex(8))
	tempPath := filepath.Join(dir, tempName)

	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	_, err = io.Copy(tempFile, r)
	closeErr := tempFile.Close()

	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming to target: %w", err)
	}
	return nil
}

// CreateTemp creates a temporary file within the sandbox.
func (s *Sandbox) CreateTemp(dir, pattern string) (*os.File, error) {
	dirPath, err := s.ResolvePath(dir)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(dirPath, pattern)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return f, nil
}

// List returns the directory entries at a path within the sandbox.
func (s *Sandbox) List(relativePath string) ([]os.DirEntry, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	return entries, nil
}

// Walk walks the file tree at a path within the sandbox.
func (s *Sandbox) Walk(relativePath string, fn filepath.WalkFunc) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	return filepath.Walk(path, fn)
}

// Stat returns file info for a path within the sandbox.
func (s *Sandbox) Stat(relativePath string) (os.FileInfo, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("getting file info: %w", err)
	}
	return info, nil
}

// randomHex returns a random hex string of length 2n.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "fallback"
	}
	return hex.EncodeToString(b)
}
