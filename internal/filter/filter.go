// Package filter walks a directory tree and selects the files a run should process.
package filter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/idelchi/vaultseal/internal/fileutil"
	"github.com/idelchi/vaultseal/pkg/pathmatch"
)

// DefaultSuffix is appended to encrypted files.
const DefaultSuffix = ".enc"

// DefaultExcludes are never encrypted or decrypted.
//
//nolint:gochecknoglobals
var DefaultExcludes = []string{".git", ".gitignore", "README.md", ".vaultseal"}

// ErrNotDirectory is returned when the root is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// Options configure a walk.
type Options struct {
	// Root is the traversal root; key names are relative to it
	Root string

	// Decrypt selects files ending in Suffix instead of files not ending in it
	Decrypt bool

	// Suffix marks ciphertext files
	Suffix string

	// Exclude patterns are added to DefaultExcludes
	Exclude []string

	// SkipDirs are pruned in decrypt mode only
	SkipDirs []string
}

// Entry is a selected file.
type Entry struct {
	// Path of the input file
	Path string

	// Rel is the slash-separated input path relative to the root
	Rel string

	// Output is the path the processed file is written to
	Output string

	// KeyName is the slash-separated plaintext path relative to the root
	KeyName string

	// Size of the input in bytes
	Size int64
}

// Selection is the result of a walk.
type Selection struct {
	// Files to process, in lexical order
	Files []Entry

	// Scanned counts every regular file seen, including excluded ones
	Scanned int

	// Excluded counts regular files rejected by patterns, suffix or type
	Excluded int

	// Stale lists temp files left behind by an interrupted run
	Stale []string
}

// Filter decides which relative paths are excluded.
type Filter struct {
	excludes *pathmatch.Matcher
	skipDirs *pathmatch.Matcher
}

// NewFilter compiles the exclusion patterns, including DefaultExcludes.
func NewFilter(excludes, skipDirs []string) (*Filter, error) {
	exc, err := pathmatch.NewMatcher(append(append([]string{}, DefaultExcludes...), excludes...))
	if err != nil {
		return nil, fmt.Errorf("compiling exclude patterns: %w", err)
	}

	skip, err := pathmatch.NewMatcher(skipDirs)
	if err != nil {
		return nil, fmt.Errorf("compiling skip-dir patterns: %w", err)
	}

	return &Filter{excludes: exc, skipDirs: skip}, nil
}

// Excluded reports whether rel is excluded by any pattern.
func (f *Filter) Excluded(rel string) bool {
	return f.excludes.MatchAny(rel)
}

// Skipped reports whether the directory rel is pruned in decrypt mode.
func (f *Filter) Skipped(rel string) bool {
	return f.skipDirs.MatchAny(rel)
}

// Walk selects files under opts.Root.
//
//nolint:cyclop,funlen
func Walk(opts Options) (Selection, error) {
	var sel Selection

	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}

	info, err := os.Stat(opts.Root)
	if err != nil {
		return sel, fmt.Errorf("stat %q: %w", opts.Root, err)
	}

	if !info.IsDir() {
		return sel, fmt.Errorf("%w: %q", ErrNotDirectory, opts.Root)
	}

	var skipDirs []string
	if opts.Decrypt {
		skipDirs = opts.SkipDirs
	}

	flt, err := NewFilter(opts.Exclude, skipDirs)
	if err != nil {
		return sel, err
	}

	root := filepath.Clean(opts.Root)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if flt.Excluded(rel) || flt.Skipped(rel) {
				return filepath.SkipDir
			}

			return nil
		}

		// Symlinks and devices are never followed or processed.
		if !d.Type().IsRegular() {
			return nil
		}

		sel.Scanned++

		if fileutil.IsTemp(d.Name()) {
			sel.Stale = append(sel.Stale, path)
			sel.Excluded++

			return nil
		}

		if flt.Excluded(rel) || strings.HasSuffix(rel, opts.Suffix) != opts.Decrypt {
			sel.Excluded++

			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		entry := Entry{Path: path, Rel: rel, Size: fi.Size(), KeyName: rel, Output: path + opts.Suffix}

		if opts.Decrypt {
			entry.KeyName = strings.TrimSuffix(rel, opts.Suffix)
			entry.Output = strings.TrimSuffix(path, opts.Suffix)

			// A bare suffix has no plaintext name to restore.
			if entry.KeyName == "" || strings.HasSuffix(entry.KeyName, "/") {
				sel.Excluded++

				return nil
			}
		}

		sel.Files = append(sel.Files, entry)

		return nil
	})
	if err != nil {
		return sel, fmt.Errorf("walking %q: %w", root, err)
	}

	return sel, nil
}

// Paths lists every file and directory under root as slash-separated relative paths,
// without applying any pattern.
func Paths(root string) ([]string, error) {
	root = filepath.Clean(root)

	var paths []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		paths = append(paths, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %q: %w", root, err)
	}

	return paths, nil
}
