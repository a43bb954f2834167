// File: internal/snapshot/git.go

// Package snapshot pins the workspace state before a mutation so any change
// can later be undone file by file. Snapshots are real commits in the
// workspace repository, taken and read in-process.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

// GitSnapshotter records and restores workspace state through the git object
// store. It implements schemas.Snapshotter.
type GitSnapshotter struct {
	logger *zap.Logger
	root   string
}

// NewGitSnapshotter creates a snapshotter anchored at the workspace root.
// The root need not be a repository yet; the first snapshot initializes one.
func NewGitSnapshotter(logger *zap.Logger, root string) *GitSnapshotter {
	return &GitSnapshotter{
		logger: logger.Named("snapshot"),
		root:   root,
	}
}

func (g *GitSnapshotter) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(g.root)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("failed to open repository at %q: %w", g.root, err)
	}

	g.logger.Info("Workspace is not a repository; initializing one for snapshots.", zap.String("root", g.root))
	repo, err = git.PlainInit(g.root, false)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository at %q: %w", g.root, err)
	}
	return repo, nil
}

// Snapshot stages the entire worktree and commits it, returning the commit
// hash. The commit is created even when nothing changed, so every ledger
// entry owns a distinct, restorable point in history.
func (g *GitSnapshotter) Snapshot(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	repo, err := g.open()
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to access worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage worktree: %w", err)
	}

	msg := fmt.Sprintf("graft-snapshot: %d %s", schemas.NowMS(), path)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "graft",
			Email: "graft@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}

	g.logger.Debug("Snapshot committed.", zap.String("commit", hash.String()), zap.String("path", path))
	return hash.String(), nil
}

// Restore brings one file back to its state in the given snapshot commit.
// A file absent from the snapshot did not exist then, so restoring it means
// removing it from the live tree. All failures are folded into the result;
// the caller records it like any other command outcome.
func (g *GitSnapshotter) Restore(ctx context.Context, path, commit string) schemas.CommandResult {
	start := time.Now()
	fail := func(err error) schemas.CommandResult {
		return schemas.CommandResult{
			Status:     1,
			Stderr:     err.Error(),
			DurationMS: uint64(time.Since(start).Milliseconds()),
		}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if commit == "" {
		return fail(errors.New("no snapshot commit recorded for this entry"))
	}

	repo, err := g.open()
	if err != nil {
		return fail(err)
	}
	commitObj, err := repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return fail(fmt.Errorf("snapshot commit %q not found: %w", commit, err))
	}
	tree, err := commitObj.Tree()
	if err != nil {
		return fail(fmt.Errorf("failed to read snapshot tree: %w", err))
	}

	rel, err := g.relPath(path)
	if err != nil {
		return fail(err)
	}
	target := filepath.Join(g.root, filepath.FromSlash(rel))

	file, err := tree.File(rel)
	if errors.Is(err, object.ErrFileNotFound) {
		if rmErr := os.Remove(target); rmErr != nil && !os.IsNotExist(rmErr) {
			return fail(fmt.Errorf("failed to remove %q: %w", rel, rmErr))
		}
		g.logger.Info("File absent in snapshot; removed from live tree.", zap.String("path", rel))
		return schemas.CommandResult{
			OK:         true,
			Stdout:     fmt.Sprintf("removed %s (absent in snapshot %s)", rel, commit),
			DurationMS: uint64(time.Since(start).Milliseconds()),
		}
	}
	if err != nil {
		return fail(fmt.Errorf("failed to look up %q in snapshot: %w", rel, err))
	}

	content, err := file.Contents()
	if err != nil {
		return fail(fmt.Errorf("failed to read %q from snapshot: %w", rel, err))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fail(fmt.Errorf("failed to create parent directory: %w", err))
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fail(fmt.Errorf("failed to write restored content: %w", err))
	}

	g.logger.Info("File restored from snapshot.", zap.String("path", rel), zap.String("commit", commit))
	return schemas.CommandResult{
		OK:         true,
		Stdout:     fmt.Sprintf("restored %s from snapshot %s", rel, commit),
		DurationMS: uint64(time.Since(start).Milliseconds()),
	}
}

// relPath normalizes path to the slash-separated workspace-relative form the
// git tree is keyed by.
func (g *GitSnapshotter) relPath(path string) (string, error) {
	p := path
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(g.root, p)
		if err != nil {
			return "", fmt.Errorf("path %q is outside the workspace: %w", path, err)
		}
		p = rel
	}
	return filepath.ToSlash(filepath.Clean(p)), nil
}
