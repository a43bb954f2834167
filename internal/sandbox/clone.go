// File: internal/sandbox/clone.go
package sandbox

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Directories never worth carrying into a measurement or simulation clone.
var defaultCloneSkip = map[string]struct{}{
	".git":         {},
	".graft":       {},
	"node_modules": {},
	"target":       {},
}

// CloneWorkspace copies the workspace tree into a fresh temp directory and
// returns its path with a cleanup function. Baseline benchmarking and
// simulation both run against such clones so the live tree is never raced.
func CloneWorkspace(ctx context.Context, logger *zap.Logger, src string) (string, func(), error) {
	tempDir, err := os.MkdirTemp("", "graft-ws-*")
	if err != nil {
		return "", nil, fmt.Errorf("could not create temp workspace: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(tempDir); err != nil {
			logger.Error("Failed to clean up temporary workspace.", zap.String("dir", tempDir), zap.Error(err))
		}
	}

	if err := CloneTree(ctx, src, tempDir); err != nil {
		cleanup()
		return "", nil, err
	}

	logger.Debug("Workspace cloned.", zap.String("src", src), zap.String("dst", tempDir))
	return tempDir, cleanup, nil
}

// CloneTree copies the regular files and directories under src into dst,
// preserving file modes. VCS metadata, engine state, and dependency caches
// are skipped, as are symlinks: a measurement clone must not reach outside
// its own tree.
func CloneTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if _, skip := defaultCloneSkip[d.Name()]; skip {
				return filepath.SkipDir
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(filepath.Join(dst, rel), info.Mode().Perm())
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, filepath.Join(dst, rel), info.Mode().Perm())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %q: %w", src, err)
	}
	return out.Close()
}
