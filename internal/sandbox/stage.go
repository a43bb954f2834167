// File: internal/sandbox/stage.go
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

const stageTmpSuffix = ".graft-tmp"

// Stage applies candidate file contents to the live tree in a way that can
// always be undone: content lands in a same-directory temp file first, the
// previous version (if any) is moved aside to a timestamped .bak file, and
// only then is the temp file renamed into place. The .bak file stays on disk
// after a commit as a local escape hatch alongside the git snapshot.
type Stage struct {
	logger *zap.Logger
}

// NewStage creates a stager.
func NewStage(logger *zap.Logger) *Stage {
	return &Stage{logger: logger.Named("stage")}
}

// Staged is one applied-but-not-yet-committed mutation.
type Staged struct {
	// Path is the live target the candidate content now occupies.
	Path string
	// BackupPath holds the pre-mutation content. Empty when the target was
	// created by this mutation.
	BackupPath string

	logger *zap.Logger
	done   bool
}

// Apply writes content to path using the temp-then-rename protocol and
// returns a handle that can commit or revert the mutation.
func (s *Stage) Apply(path string, content []byte) (*Staged, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory for %q: %w", path, err)
	}

	tmp := path + stageTmpSuffix
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write staged content for %q: %w", path, err)
	}

	backup := ""
	if _, err := os.Lstat(path); err == nil {
		backup = fmt.Sprintf("%s.bak-%d", path, schemas.NowMS())
		if err := os.Rename(path, backup); err != nil {
			_ = os.Remove(tmp)
			return nil, fmt.Errorf("failed to back up %q: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		// Put the original back before reporting; the tree must never be
		// left without the target.
		if backup != "" {
			_ = os.Rename(backup, path)
		}
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to move staged content into %q: %w", path, err)
	}

	s.logger.Debug("Mutation staged.", zap.String("path", path), zap.String("backup", backup))
	return &Staged{Path: path, BackupPath: backup, logger: s.logger}, nil
}

// Commit finalizes the mutation. The backup file is intentionally left on
// disk.
func (st *Staged) Commit() error {
	if st.done {
		return errors.New("stage already finalized")
	}
	st.done = true
	return nil
}

// Rewrite atomically replaces the staged content in place. The original
// backup is untouched, so a later Revert still restores the pre-cycle state.
// Used by the repair loop, which may overwrite the candidate several times
// within one cycle.
func (st *Staged) Rewrite(content []byte) error {
	if st.done {
		return errors.New("stage already finalized")
	}
	tmp := st.Path + stageTmpSuffix
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("failed to write replacement content for %q: %w", st.Path, err)
	}
	if err := os.Rename(tmp, st.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move replacement content into %q: %w", st.Path, err)
	}
	return nil
}

// Revert restores the pre-mutation state: the backup is moved back over the
// target, or the target is removed when the mutation created it.
func (st *Staged) Revert() error {
	if st.done {
		return errors.New("stage already finalized")
	}
	st.done = true

	if st.BackupPath == "" {
		if err := os.Remove(st.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove created file %q: %w", st.Path, err)
		}
		st.logger.Debug("Created file removed on revert.", zap.String("path", st.Path))
		return nil
	}

	if err := os.Rename(st.BackupPath, st.Path); err != nil {
		return fmt.Errorf("failed to restore %q from backup: %w", st.Path, err)
	}
	st.logger.Debug("Mutation reverted from backup.", zap.String("path", st.Path))
	return nil
}
