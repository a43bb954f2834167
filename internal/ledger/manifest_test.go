// File: internal/ledger/manifest_test.go
package ledger_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/ledger"
)

func testEntry(i int, status schemas.EvolutionStatus) schemas.EvolutionEntry {
	e := schemas.EvolutionEntry{
		TimestampMS: uint64(1700000000000 + i),
		Path:        fmt.Sprintf("src/file_%d.rs", i),
		Status:      status,
		Note:        fmt.Sprintf("entry %d", i),
	}
	if status == schemas.StatusApplied || status == schemas.StatusReverted {
		e.SnapshotCommit = fmt.Sprintf("%040d", i)
	}
	return e
}

func newTestLedger(t *testing.T, cfg config.LedgerConfig) *ledger.Ledger {
	t.Helper()
	l, err := ledger.NewLedger(zaptest.NewLogger(t), cfg, nil)
	require.NoError(t, err)
	return l
}

func TestLedger_AppendAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LedgerConfig{
		Path:        filepath.Join(dir, "evolution_manifest.json"),
		JournalPath: filepath.Join(dir, ".graft", "evolution_journal.ndjson"),
	}
	ctx := context.Background()

	l := newTestLedger(t, cfg)
	first, err := l.Append(ctx, testEntry(1, schemas.StatusApplied))
	require.NoError(t, err)
	_, err = l.Append(ctx, testEntry(2, schemas.StatusFailed))
	require.NoError(t, err)

	entries, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// A fresh ledger over the same files sees identical history.
	reloaded := newTestLedger(t, cfg)
	again, err := reloaded.List(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(entries, again); diff != "" {
		t.Fatalf("history changed across reload (-first +reload):\n%s", diff)
	}
	assert.Equal(t, first.Path, again[0].Path)

	// No temp files left behind.
	names, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, n := range names {
		assert.False(t, strings.HasSuffix(n.Name(), ".tmp"), "leftover temp file %s", n.Name())
	}
}

func TestLedger_AppendValidation(t *testing.T) {
	cfg := config.LedgerConfig{Path: filepath.Join(t.TempDir(), "m.json")}
	l := newTestLedger(t, cfg)
	ctx := context.Background()

	testCases := []struct {
		name  string
		entry schemas.EvolutionEntry
	}{
		{"empty path", schemas.EvolutionEntry{Status: schemas.StatusFailed}},
		{"unknown status", schemas.EvolutionEntry{Path: "a.rs", Status: "committed"}},
		{"applied without snapshot", schemas.EvolutionEntry{Path: "a.rs", Status: schemas.StatusApplied}},
		{"reverted without snapshot", schemas.EvolutionEntry{Path: "a.rs", Status: schemas.StatusReverted}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Append(ctx, tc.entry)
			require.ErrorIs(t, err, ledger.ErrAppendFailed)
		})
	}

	// Failures and pendings legitimately have no snapshot (nothing was staged).
	_, err := l.Append(ctx, schemas.EvolutionEntry{Path: "a.rs", Status: schemas.StatusFailed, Note: "zone violation"})
	require.NoError(t, err)
	_, err = l.Append(ctx, schemas.EvolutionEntry{Path: "a.rs", Status: schemas.StatusPending, Note: "awaiting approval"})
	require.NoError(t, err)
}

func TestLedger_FillsTimestampWhenZero(t *testing.T) {
	cfg := config.LedgerConfig{Path: filepath.Join(t.TempDir(), "m.json")}
	l := newTestLedger(t, cfg)

	persisted, err := l.Append(context.Background(), schemas.EvolutionEntry{
		Path:   "src/a.rs",
		Status: schemas.StatusFailed,
	})
	require.NoError(t, err)
	assert.NotZero(t, persisted.TimestampMS)
}

func TestLedger_RotationNeverShrinksHistory(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LedgerConfig{
		Path:                filepath.Join(dir, "evolution_manifest.json"),
		ArchiveAfterEntries: 4,
	}
	l := newTestLedger(t, cfg)
	ctx := context.Background()

	const total = 11
	for i := 0; i < total; i++ {
		_, err := l.Append(ctx, testEntry(i, schemas.StatusApplied))
		require.NoError(t, err)

		entries, err := l.List(ctx)
		require.NoError(t, err)
		require.Len(t, entries, i+1, "history must grow by exactly one per append")
	}

	// Rotation actually happened: compressed archives exist and the live
	// manifest holds fewer entries than the full history.
	archives, err := filepath.Glob(filepath.Join(dir, "evolution_manifest-*.json.br"))
	require.NoError(t, err)
	assert.NotEmpty(t, archives)

	raw, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)
	assert.Less(t, strings.Count(string(raw), `"path"`), total)

	// Order is append order across the archive boundary.
	entries, err := l.List(ctx)
	require.NoError(t, err)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("src/file_%d.rs", i), e.Path)
	}

	// A fresh ledger merges archives and live identically.
	reloaded := newTestLedger(t, cfg)
	again, err := reloaded.List(ctx)
	require.NoError(t, err)
	assert.Len(t, again, total)
}

func TestLedger_JournalMirrorsAppends(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LedgerConfig{
		Path:        filepath.Join(dir, "m.json"),
		JournalPath: filepath.Join(dir, "journal.ndjson"),
	}
	l := newTestLedger(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, testEntry(i, schemas.StatusApplied))
		require.NoError(t, err)
	}

	raw, err := os.ReadFile(cfg.JournalPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3, "one journal line per append")

	var entry schemas.EvolutionEntry
	require.NoError(t, jsonUnmarshal(lines[1], &entry))
	assert.Equal(t, "src/file_1.rs", entry.Path)
}

func TestLedger_SideChannelFailureIsIncompleteNotFailed(t *testing.T) {
	dir := t.TempDir()
	// Pointing the journal inside a regular file makes its MkdirAll fail
	// while the manifest write still succeeds.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := config.LedgerConfig{
		Path:        filepath.Join(dir, "m.json"),
		JournalPath: filepath.Join(blocker, "sub", "journal.ndjson"),
	}
	l := newTestLedger(t, cfg)
	ctx := context.Background()

	_, err := l.Append(ctx, testEntry(1, schemas.StatusApplied))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAppendIncomplete)
	assert.NotErrorIs(t, err, ledger.ErrAppendFailed)

	// The manifest holds the entry regardless.
	entries, listErr := l.List(ctx)
	require.NoError(t, listErr)
	assert.Len(t, entries, 1)
}

func TestLedger_ManifestWriteFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	// The manifest path collides with a directory, so no write can land.
	manifest := filepath.Join(dir, "m.json")
	require.NoError(t, os.MkdirAll(manifest, 0o755))

	l := newTestLedger(t, config.LedgerConfig{Path: manifest})
	_, err := l.Append(context.Background(), testEntry(1, schemas.StatusApplied))
	require.ErrorIs(t, err, ledger.ErrAppendFailed)
}

func TestLedger_CorruptManifestIsAnError(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "m.json")
	require.NoError(t, os.WriteFile(manifest, []byte("{not json"), 0o644))

	l := newTestLedger(t, config.LedgerConfig{Path: manifest})
	_, err := l.List(context.Background())
	require.Error(t, err)

	_, err = l.Append(context.Background(), testEntry(1, schemas.StatusApplied))
	require.ErrorIs(t, err, ledger.ErrAppendFailed, "a corrupt manifest must never be silently overwritten")
}

func TestLedger_ReceiptsSignedAndTamperEvident(t *testing.T) {
	cfg := config.LedgerConfig{
		Path:     filepath.Join(t.TempDir(), "m.json"),
		Receipts: config.ReceiptsConfig{Enabled: true, Secret: "test-secret"},
	}
	l := newTestLedger(t, cfg)
	ctx := context.Background()

	persisted, err := l.Append(ctx, testEntry(1, schemas.StatusApplied))
	require.NoError(t, err)
	require.NotEmpty(t, persisted.Receipt)

	signer := l.Signer()
	require.NotNil(t, signer)
	require.NoError(t, signer.Verify(persisted))

	// Editing any covered field invalidates the receipt.
	tampered := persisted
	tampered.Note = "looks fine to me"
	err = signer.Verify(tampered)
	require.ErrorIs(t, err, ledger.ErrReceiptInvalid)

	tampered = persisted
	tampered.Status = schemas.StatusReverted
	require.ErrorIs(t, signer.Verify(tampered), ledger.ErrReceiptInvalid)

	// A signer with a different secret rejects the signature outright.
	other, err := ledger.NewReceiptSigner("other-secret")
	require.NoError(t, err)
	require.ErrorIs(t, other.Verify(persisted), ledger.ErrReceiptInvalid)
}

func TestLedger_ReceiptsRequireSecret(t *testing.T) {
	_, err := ledger.NewLedger(zaptest.NewLogger(t), config.LedgerConfig{
		Path:     "m.json",
		Receipts: config.ReceiptsConfig{Enabled: true},
	}, nil)
	require.Error(t, err)
}

func TestLedger_Follow(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LedgerConfig{
		Path:        filepath.Join(dir, "m.json"),
		JournalPath: filepath.Join(dir, "journal.ndjson"),
	}
	l := newTestLedger(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Entries appended before the follower starts are replayed too.
	_, err := l.Append(ctx, testEntry(0, schemas.StatusApplied))
	require.NoError(t, err)

	got := make(chan schemas.EvolutionEntry, 8)
	done := make(chan error, 1)
	go func() {
		done <- l.Follow(ctx, func(e schemas.EvolutionEntry) { got <- e })
	}()

	waitEntry := func() schemas.EvolutionEntry {
		select {
		case e := <-got:
			return e
		case <-timeAfter():
			t.Fatal("timed out waiting for journal entry")
			return schemas.EvolutionEntry{}
		}
	}

	assert.Equal(t, "src/file_0.rs", waitEntry().Path)

	_, err = l.Append(ctx, testEntry(1, schemas.StatusFailed))
	require.NoError(t, err)
	assert.Equal(t, "src/file_1.rs", waitEntry().Path)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-timeAfter():
		t.Fatal("follower did not stop on cancellation")
	}
}

func TestLedger_FollowWithoutJournal(t *testing.T) {
	l := newTestLedger(t, config.LedgerConfig{Path: filepath.Join(t.TempDir(), "m.json")})
	err := l.Follow(context.Background(), func(schemas.EvolutionEntry) {})
	require.Error(t, err)
}

func TestValidateEntry(t *testing.T) {
	valid := testEntry(1, schemas.StatusApplied)
	require.NoError(t, ledger.ValidateEntry(valid))

	missing := valid
	missing.TimestampMS = 0
	require.Error(t, ledger.ValidateEntry(missing))
}

func TestLedger_RequiresPath(t *testing.T) {
	_, err := ledger.NewLedger(zaptest.NewLogger(t), config.LedgerConfig{}, nil)
	require.Error(t, err)
}

func TestLedger_PendingEntriesSurviveAlongsideEverythingElse(t *testing.T) {
	cfg := config.LedgerConfig{Path: filepath.Join(t.TempDir(), "m.json")}
	l := newTestLedger(t, cfg)
	ctx := context.Background()

	statuses := []schemas.EvolutionStatus{
		schemas.StatusApplied, schemas.StatusPending, schemas.StatusFailed, schemas.StatusReverted,
	}
	for i, s := range statuses {
		_, err := l.Append(ctx, testEntry(i, s))
		require.NoError(t, err)
	}

	entries, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, len(statuses))
	for i, s := range statuses {
		assert.Equal(t, s, entries[i].Status)
	}
}

// -- small local helpers --

func jsonUnmarshal(s string, v any) error {
	return jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(s, v)
}

func timeAfter() <-chan time.Time {
	return time.After(10 * time.Second)
}
