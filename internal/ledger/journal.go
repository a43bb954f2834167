// File: internal/ledger/journal.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

// appendJournal writes one compact JSON line per entry. The journal is a
// side channel: failures are reported to the caller as ErrAppendIncomplete,
// never by undoing the manifest append.
func (l *Ledger) appendJournal(entry schemas.EvolutionEntry) error {
	if l.journalPath == "" {
		return nil
	}
	if dir := filepath.Dir(l.journalPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode journal line: %w", err)
	}

	f, err := os.OpenFile(l.journalPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to write journal line: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return f.Close()
}

// Follow replays the journal from the beginning and then streams new entries
// as they are appended, invoking handler for each. It blocks until ctx is
// done. Malformed lines are skipped with a warning so one bad write cannot
// wedge a live view.
func (l *Ledger) Follow(ctx context.Context, handler func(schemas.EvolutionEntry)) error {
	if l.journalPath == "" {
		return errors.New("journal is not configured")
	}

	t, err := tail.TailFile(l.journalPath, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow journal %q: %w", l.journalPath, err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				l.logger.Warn("Journal read error.", zap.Error(line.Err))
				continue
			}
			if line.Text == "" {
				continue
			}
			var entry schemas.EvolutionEntry
			if err := json.UnmarshalFromString(line.Text, &entry); err != nil {
				l.logger.Warn("Skipping malformed journal line.", zap.Error(err))
				continue
			}
			handler(entry)
		}
	}
}
