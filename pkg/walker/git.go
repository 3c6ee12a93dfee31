package walker

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// originRemote is the remote whose URL names the repository when present.
const originRemote = "origin"

// walkGit streams the blobs of the repository's HEAD tree. The tree iterator
// yields files in stable tree order, so walks are deterministic per commit.
func walkGit(ctx context.Context, root string, opts Options, fn WalkFunc) error {
	repo, err := gogit.PlainOpen(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootUnreadable, root, err)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootUnreadable, root, err)
	}

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootUnreadable, root, err)
	}

	files, err := commit.Files()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootUnreadable, root, err)
	}

	repoID := gitRepoName(repo, root)
	commitHash := head.Hash().String()

	err = files.ForEach(func(f *object.File) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		contents, readErr := f.Contents()
		if readErr != nil {
			// Unreadable blobs are skipped, matching the directory walk.
			return nil
		}

		content := []byte(contents)

		if !keepFile(f.Name, content, opts) {
			return nil
		}

		return fn(File{
			Repo:    repoID,
			Commit:  commitHash,
			Path:    f.Name,
			Content: content,
		})
	})
	if errors.Is(err, SkipAll) {
		return nil
	}

	return err
}

// gitRepoName prefers the origin remote URL over the filesystem path.
func gitRepoName(repo *gogit.Repository, root string) string {
	remote, err := repo.Remote(originRemote)
	if err != nil {
		return repoName(root)
	}

	urls := remote.Config().URLs
	if len(urls) == 0 {
		return repoName(root)
	}

	return urls[0]
}
