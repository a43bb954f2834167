// File: internal/sandbox/toolchain.go
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

// Built-in toolchains for the common ecosystems. Configured commands take
// precedence; these only fill the gaps.
var (
	builtinBuild = map[string][]string{
		"go": {"go", "build", "./..."},
		"rs": {"cargo", "build"},
		"py": {"python3", "-m", "compileall", "-q", "."},
		"js": {"node", "--experimental-default-type=module", "--eval", "process.exit(0)"},
	}
	builtinTest = map[string][]string{
		"go": {"go", "test", "./..."},
		"rs": {"cargo", "test"},
	}
)

// Toolchain selects build and test commands for a mutated file based on its
// extension. All returned specs run in the workspace root with the sandbox
// deadline attached.
type Toolchain struct {
	cfg config.SandboxConfig
}

// NewToolchain creates a toolchain over the sandbox configuration.
func NewToolchain(cfg config.SandboxConfig) *Toolchain {
	return &Toolchain{cfg: cfg}
}

// BuildSpec resolves the build command for the given mutated path. The build
// phase is mandatory: an extension with no configured, default, or built-in
// command is an error.
func (t *Toolchain) BuildSpec(path, dir string) (schemas.CommandSpec, error) {
	argv := t.lookup(path, t.cfg.BuildCommands, t.cfg.DefaultBuild, builtinBuild)
	if len(argv) == 0 {
		return schemas.CommandSpec{}, fmt.Errorf("no build command configured for %q", filepath.Base(path))
	}
	return t.spec(argv, dir), nil
}

// TestSpec resolves the test command for the given mutated path. The test
// phase is optional: ok is false when nothing is configured and the caller
// should skip it.
func (t *Toolchain) TestSpec(path, dir string) (spec schemas.CommandSpec, ok bool) {
	argv := t.lookup(path, t.cfg.TestCommands, t.cfg.DefaultTest, builtinTest)
	if len(argv) == 0 {
		return schemas.CommandSpec{}, false
	}
	return t.spec(argv, dir), true
}

func (t *Toolchain) spec(argv []string, dir string) schemas.CommandSpec {
	return schemas.CommandSpec{
		Program: argv[0],
		Args:    argv[1:],
		Dir:     dir,
		Timeout: t.cfg.Timeout(),
	}
}

// lookup resolves by extension. Configured keys may be written with or
// without the leading dot ("rs" and ".rs" both work).
func (t *Toolchain) lookup(path string, configured map[string][]string, fallback []string, builtin map[string][]string) []string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if argv, found := configured[ext]; found && len(argv) > 0 {
		return argv
	}
	if argv, found := configured["."+ext]; found && len(argv) > 0 {
		return argv
	}
	if len(fallback) > 0 {
		return fallback
	}
	return builtin[ext]
}
