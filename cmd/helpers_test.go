// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/observability"
)

func TestMain(m *testing.M) {
	// Initialize logger
	cfg := config.NewDefaultConfig()
	cfg.LoggerC.Level = "error"
	observability.InitializeLogger(cfg.Logger())

	code := m.Run()
	observability.Sync()
	os.Exit(code)
}

const baselineContent = "alpha\nbeta\ngamma\n"

// graftYAML is the hermetic workspace config: txt targets build and test
// with the true binary, no bench command, repair disabled.
const graftYAML = `logger:
  level: error
zones:
  safe:
    - directory: src
sandbox:
  timeout_seconds: 30
  build_commands:
    txt: ["true"]
  test_commands:
    txt: ["true"]
repair:
  enabled: false
bench:
  iters: 200
  warmup: 50
  trials: 3
`

// graftYAMLWithProbe adds a benchmark probe that prints a fixed trial
// payload, so both baseline and mutation measure identically.
const graftYAMLWithProbe = graftYAML + `  command: ["sh", "-c", "echo '{\"trials_ms\":[10,10,10]}'"]
`

// newWorkspace lays out a minimal evolvable tree:
//
//	root/
//	  graft.yaml
//	  src/app.txt
func newWorkspace(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("failed to canonicalize temp dir: %v", err)
	}
	writeWorkspaceFile(t, root, "graft.yaml", graftYAML)
	writeWorkspaceFile(t, root, filepath.Join("src", "app.txt"), baselineContent)
	return root
}

func writeWorkspaceFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func readWorkspaceFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatalf("failed to read %s: %v", rel, err)
	}
	return string(data)
}

// candidateFile writes candidate content outside the workspace and returns
// its path.
func candidateFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidate.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write candidate: %v", err)
	}
	return path
}

// executeGraft runs one full command round trip against the workspace,
// rebuilding the command tree and logger the way a fresh process would.
func executeGraft(t *testing.T, root, stdin string, args ...string) (string, error) {
	t.Helper()
	cfgFile, workspace = "", ""
	observability.ResetForTest()

	buf := new(bytes.Buffer)
	rootCmd := NewRootCommand()
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	if stdin != "" {
		rootCmd.SetIn(strings.NewReader(stdin))
	}
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(root, "graft.yaml"), "--workspace", root}, args...))

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}
