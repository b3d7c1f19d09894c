// Package fileutil provides shared file operation helpers.
package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempPrefix names in-flight output files. They never survive a completed write.
const TempPrefix = ".vaultseal-tmp-"

// IsTemp reports whether name is an in-flight output file.
func IsTemp(name string) bool {
	return strings.HasPrefix(filepath.Base(name), TempPrefix)
}

// TempContext holds state for an atomic file write operation.
type TempContext struct {
	SrcInfo os.FileInfo
	TmpFile *os.File
	TmpName string
}

// NewTempContext stats the source file and creates a temp file next to outPath.
// Caller must defer CleanupOnError.
func NewTempContext(filename, outPath string) (*TempContext, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("getting file info for %q: %w", filename, err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(outPath), TempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary file: %w", err)
	}

	return &TempContext{
		SrcInfo: info,
		TmpFile: tmpFile,
		TmpName: tmpFile.Name(),
	}, nil
}

// CleanupOnError closes the temp file and removes it if the write failed.
func (tc *TempContext) CleanupOnError(errp *error) {
	tc.TmpFile.Close() //nolint:errcheck,gosec // best-effort cleanup

	if *errp != nil {
		os.Remove(tc.TmpName) //nolint:errcheck,gosec // best-effort cleanup
	}
}

// Commit makes the temp file durable under outPath: permissions, fsync, close,
// rename, then fsync of the directory so the rename itself survives a crash.
func (tc *TempContext) Commit(outPath string, perm os.FileMode) error {
	if err := tc.TmpFile.Chmod(perm); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := tc.TmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing temporary file: %w", err)
	}

	if err := tc.TmpFile.Close(); err != nil {
		return fmt.Errorf("closing temporary file: %w", err)
	}

	if err := os.Rename(tc.TmpName, outPath); err != nil {
		return fmt.Errorf("renaming output file: %w", err)
	}

	return SyncDir(filepath.Dir(outPath))
}

// SyncFile flushes an existing file to stable storage.
func SyncFile(path string) error {
	file, err := os.Open(path) //nolint:gosec // path comes from the walker
	if err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}

	defer file.Close()

	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing %q: %w", path, err)
	}

	return SyncDir(filepath.Dir(path))
}

// SyncDir flushes directory entries. Platforms that cannot sync directories are ignored.
func SyncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // dir is the parent of a file we just wrote
	if err != nil {
		return fmt.Errorf("opening directory %q: %w", dir, err)
	}

	defer d.Close()

	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) && !errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("syncing directory %q: %w", dir, err)
	}

	return nil
}

// RemoveSource deletes path and makes the deletion durable.
func RemoveSource(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing %q: %w", path, err)
	}

	return SyncDir(filepath.Dir(path))
}

// Exists reports whether path exists without following a final symlink.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %q: %w", path, err)
	}
}

// FinalizeOutput optionally preserves timestamps and returns the output file size.
func FinalizeOutput(outPath string, preserveTimestamps bool, modTime time.Time) (int64, error) {
	if preserveTimestamps {
		if err := os.Chtimes(outPath, modTime, modTime); err != nil {
			return 0, fmt.Errorf("preserving timestamps: %w", err)
		}
	}

	outInfo, err := os.Stat(outPath)
	if err != nil {
		return 0, fmt.Errorf("stat output %q: %w", outPath, err)
	}

	return outInfo.Size(), nil
}
