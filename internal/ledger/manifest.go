// File: internal/ledger/manifest.go

// Package ledger persists the append-only evolution manifest and its side
// channels: the NDJSON journal, optional signed receipts, and an optional
// advisory mirror. The manifest file is the single source of truth; every
// other output derives from it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrAppendFailed means the manifest was NOT extended. The mutation that
	// produced the entry must not survive: the caller reverts it.
	ErrAppendFailed = errors.New("ledger append failed")

	// ErrAppendIncomplete means the manifest WAS durably extended but a side
	// channel (journal, mirror) failed. The mutation stands; the condition is
	// surfaced for operators, not acted on.
	ErrAppendIncomplete = errors.New("ledger append incomplete")
)

// Ledger is the append-only manifest with its companions. All operations are
// serialized by one mutex: appends are rare and short, correctness beats
// concurrency here.
type Ledger struct {
	logger       *zap.Logger
	mu           sync.Mutex
	path         string
	journalPath  string
	archiveAfter int
	signer       *ReceiptSigner
	mirror       schemas.HistoryMirror
}

// NewLedger creates a ledger over the configured paths. mirror may be nil.
// Receipt signing is wired up here when enabled.
func NewLedger(logger *zap.Logger, cfg config.LedgerConfig, mirror schemas.HistoryMirror) (*Ledger, error) {
	if cfg.Path == "" {
		return nil, errors.New("ledger path is not configured")
	}

	var signer *ReceiptSigner
	if cfg.Receipts.Enabled {
		s, err := NewReceiptSigner(cfg.Receipts.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to configure receipts: %w", err)
		}
		signer = s
	}

	return &Ledger{
		logger:       logger.Named("ledger"),
		path:         cfg.Path,
		journalPath:  cfg.JournalPath,
		archiveAfter: cfg.ArchiveAfterEntries,
		signer:       signer,
		mirror:       mirror,
	}, nil
}

// Path returns the manifest location.
func (l *Ledger) Path() string { return l.path }

// JournalPath returns the NDJSON journal location, empty when disabled.
func (l *Ledger) JournalPath() string { return l.journalPath }

// Signer returns the receipt signer, nil when receipts are disabled.
func (l *Ledger) Signer() *ReceiptSigner { return l.signer }

// Append validates, signs, and durably persists one entry, then notifies the
// side channels. Returns the entry as persisted (receipt filled in).
//
// Error contract: ErrAppendFailed means nothing was persisted and the caller
// must revert the mutation; ErrAppendIncomplete means the manifest holds the
// entry but a side channel missed it.
func (l *Ledger) Append(ctx context.Context, entry schemas.EvolutionEntry) (schemas.EvolutionEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.TimestampMS == 0 {
		entry.TimestampMS = schemas.NowMS()
	}
	if err := ValidateEntry(entry); err != nil {
		return entry, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	if l.signer != nil {
		receipt, err := l.signer.Sign(entry)
		if err != nil {
			return entry, fmt.Errorf("%w: failed to sign receipt: %v", ErrAppendFailed, err)
		}
		entry.Receipt = receipt
	}

	live, err := l.readLive()
	if err != nil {
		return entry, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	live = append(live, entry)

	// The durable append comes first; rotation is an optimization and may be
	// skipped on any trouble.
	if err := l.writeLive(live); err != nil {
		return entry, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	l.rotate(live)

	var side []error
	if err := l.appendJournal(entry); err != nil {
		side = append(side, fmt.Errorf("journal: %w", err))
	}
	if l.mirror != nil {
		if err := l.mirror.MirrorAppend(ctx, entry); err != nil {
			side = append(side, fmt.Errorf("mirror: %w", err))
		}
	}
	if len(side) > 0 {
		l.logger.Warn("Entry persisted but side channels failed.", zap.Error(errors.Join(side...)))
		return entry, fmt.Errorf("%w: %v", ErrAppendIncomplete, errors.Join(side...))
	}

	l.logger.Info("Ledger entry appended.",
		zap.String("path", entry.Path),
		zap.String("status", string(entry.Status)))
	return entry, nil
}

// List returns the full history, archived entries first, in append order.
// The merged view never shrinks across rotations.
func (l *Ledger) List(ctx context.Context) ([]schemas.EvolutionEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	archived, err := l.readArchives()
	if err != nil {
		return nil, err
	}
	live, err := l.readLive()
	if err != nil {
		return nil, err
	}

	return dedupe(append(archived, live...)), nil
}

// ValidateEntry enforces the entry schema: a known status, a non-empty path,
// a timestamp, and a snapshot commit for the statuses that imply a tree
// change happened.
func ValidateEntry(e schemas.EvolutionEntry) error {
	if e.Path == "" {
		return errors.New("entry path is empty")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid entry status %q", e.Status)
	}
	if e.TimestampMS == 0 {
		return errors.New("entry timestamp is zero")
	}
	if e.SnapshotCommit == "" && (e.Status == schemas.StatusApplied || e.Status == schemas.StatusReverted) {
		return fmt.Errorf("status %q requires a snapshot commit", e.Status)
	}
	return nil
}

// -- Manifest file I/O --

func (l *Ledger) readLive() ([]schemas.EvolutionEntry, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %q: %w", l.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []schemas.EvolutionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("manifest %q is corrupt: %w", l.path, err)
	}
	return entries, nil
}

// writeLive replaces the manifest atomically: temp file in the same
// directory, fsync, rename, directory fsync. A crash at any point leaves
// either the old or the new manifest, never a torn one.
func (l *Ledger) writeLive(entries []schemas.EvolutionEntry) error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create manifest directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create manifest temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move manifest into place: %w", err)
	}
	syncDir(filepath.Dir(l.path))
	return nil
}

// -- Archive rotation --

// rotate moves the older half of an over-full manifest into a compressed
// archive. Failures only log: the durable append already happened, and an
// oversized live manifest is merely slow, not wrong.
func (l *Ledger) rotate(live []schemas.EvolutionEntry) {
	if l.archiveAfter <= 0 || len(live) <= l.archiveAfter {
		return
	}
	keep := l.archiveAfter / 2
	if keep < 1 {
		keep = 1
	}
	cut := len(live) - keep

	if err := l.writeArchive(live[:cut]); err != nil {
		l.logger.Warn("Archive rotation failed; keeping all entries live.", zap.Error(err))
		return
	}
	if err := l.writeLive(live[cut:]); err != nil {
		l.logger.Warn("Failed to truncate manifest after rotation.", zap.Error(err))
		return
	}
	l.logger.Info("Manifest rotated.", zap.Int("archived", cut), zap.Int("live", keep))
}

func (l *Ledger) archiveBase() string {
	return strings.TrimSuffix(l.path, filepath.Ext(l.path))
}

func (l *Ledger) writeArchive(entries []schemas.EvolutionEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}

	// Archives are merged back in filename order, so names must sort the way
	// they were written. On a same-millisecond collision, claim the next one.
	ts := schemas.NowMS()
	name := fmt.Sprintf("%s-%d.json.br", l.archiveBase(), ts)
	for {
		if _, err := os.Lstat(name); os.IsNotExist(err) {
			break
		}
		ts++
		name = fmt.Sprintf("%s-%d.json.br", l.archiveBase(), ts)
	}

	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create archive %q: %w", name, err)
	}
	w := brotli.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		f.Close()
		_ = os.Remove(name)
		return fmt.Errorf("failed to compress archive: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		_ = os.Remove(name)
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	return f.Close()
}

func (l *Ledger) readArchives() ([]schemas.EvolutionEntry, error) {
	names, err := filepath.Glob(l.archiveBase() + "-*.json.br")
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	sort.Strings(names)

	var all []schemas.EvolutionEntry
	for _, name := range names {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive %q: %w", name, err)
		}
		var entries []schemas.EvolutionEntry
		decodeErr := json.NewDecoder(brotli.NewReader(f)).Decode(&entries)
		f.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("archive %q is corrupt: %w", name, decodeErr)
		}
		all = append(all, entries...)
	}
	return all, nil
}

// dedupe drops exact duplicates that a crash between archive write and
// manifest truncation could leave behind, preserving order.
func dedupe(entries []schemas.EvolutionEntry) []schemas.EvolutionEntry {
	type key struct {
		ts     uint64
		path   string
		status schemas.EvolutionStatus
		note   string
	}
	seen := make(map[key]struct{}, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		k := key{e.TimestampMS, e.Path, e.Status, e.Note}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
