// Package walker streams indexable files out of a corpus root.
//
// A root containing a git repository is walked at its HEAD tree; any other
// directory is walked on the filesystem. Binary blobs, vendored paths, and
// oversized files are filtered before the callback sees them, so downstream
// stages only handle text documents.
package walker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/src-d/enry/v2"
)

const (
	// MaxFileSize caps indexable files; larger blobs are skipped outright.
	MaxFileSize = 1 << 20

	// gitDirName marks a repository root.
	gitDirName = ".git"
)

var (
	// ErrRootUnreadable is returned when the walk root cannot be opened.
	ErrRootUnreadable = errors.New("walker: root unreadable")

	// SkipAll stops the walk early without error.
	SkipAll = errors.New("walker: skip all") //nolint:errname // control sentinel, mirrors fs.SkipAll.
)

// File is one text document yielded by a walk. Content is never binary and
// never exceeds MaxFileSize.
type File struct {
	Repo    string
	Commit  string
	Path    string
	Content []byte
}

// WalkFunc receives files in deterministic path order. Returning SkipAll
// stops the walk; any other error aborts it.
type WalkFunc func(file File) error

// Options tunes walk filtering.
type Options struct {
	// IncludeVendored keeps paths enry classifies as vendored code.
	IncludeVendored bool
}

// Walk streams the files under root, choosing the git HEAD tree when root is
// a repository and the plain filesystem otherwise.
func Walk(ctx context.Context, root string, opts Options, fn WalkFunc) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootUnreadable, root, err)
	}

	if info.IsDir() {
		if _, statErr := os.Stat(filepath.Join(root, gitDirName)); statErr == nil {
			return walkGit(ctx, root, opts, fn)
		}

		return walkDir(ctx, root, opts, fn)
	}

	return walkSingle(root, fn)
}

// walkSingle yields exactly one on-disk file, applying the same filters as a
// directory walk.
func walkSingle(path string, fn WalkFunc) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootUnreadable, path, err)
	}

	if !keepFile(path, content, Options{IncludeVendored: true}) {
		return nil
	}

	err = fn(File{Repo: repoName(path), Path: filepath.Base(path), Content: content})
	if errors.Is(err, SkipAll) {
		return nil
	}

	return err
}

// keepFile applies the shared content filters.
func keepFile(path string, content []byte, opts Options) bool {
	if len(content) == 0 || len(content) > MaxFileSize {
		return false
	}

	if enry.IsBinary(content) {
		return false
	}

	if !opts.IncludeVendored && enry.IsVendor(path) {
		return false
	}

	return true
}

// repoName derives the repository identifier from a filesystem root.
func repoName(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return filepath.Base(root)
	}

	return filepath.Base(abs)
}
