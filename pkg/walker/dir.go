package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// walkDir streams regular files under a plain directory tree in lexical
// path order. Dotted directories (including .git in nested checkouts) are
// pruned.
func walkDir(ctx context.Context, root string, opts Options, fn WalkFunc) error {
	repo := repoName(root)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrRootUnreadable, path, walkErr)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		name := entry.Name()

		if entry.IsDir() {
			if path != root && name[0] == '.' {
				return filepath.SkipDir
			}

			return nil
		}

		if !entry.Type().IsRegular() || name[0] == '.' {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			// A file vanishing mid-walk is not fatal to the corpus.
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		rel = filepath.ToSlash(rel)

		if !keepFile(rel, content, opts) {
			return nil
		}

		return fn(File{Repo: repo, Path: rel, Content: content})
	})
	if errors.Is(err, SkipAll) {
		return nil
	}

	return err
}
