// File: internal/evolution/helpers_test.go
package evolution_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/tools/txtar"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/evolution"
	"github.com/xkilldash9x/graft-cli/internal/ledger"
	"github.com/xkilldash9x/graft-cli/internal/sandbox"
	"github.com/xkilldash9x/graft-cli/internal/syntax"
	"github.com/xkilldash9x/graft-cli/internal/zone"
)

// workspaceFixture is the tree every engine test starts from.
const workspaceFixture = `-- src/app.rs --
fn main() { println!("v1"); }
-- src/lib.rs --
pub fn add(a: i32, b: i32) -> i32 { a + b }
-- src/critical.rs --
pub fn checkout(total: u64) -> u64 { total }
-- docs/readme.md --
notes
-- secrets/key.pem --
not a real key
`

func extractFixture(t *testing.T, root string) {
	t.Helper()
	for _, f := range txtar.Parse([]byte(workspaceFixture)).Files {
		path := filepath.Join(root, filepath.FromSlash(f.Name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, f.Data, 0o644))
	}
}

// -- Fake collaborators --

type fakeRunner struct {
	mu            sync.Mutex
	specs         []schemas.CommandSpec
	inFlight      int
	maxConcurrent int
	respond       func(spec schemas.CommandSpec) (schemas.CommandResult, error)
}

func (r *fakeRunner) Run(_ context.Context, spec schemas.CommandSpec) (schemas.CommandResult, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.inFlight++
	if r.inFlight > r.maxConcurrent {
		r.maxConcurrent = r.inFlight
	}
	respond := r.respond
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if respond == nil {
		return schemas.CommandResult{OK: true, DurationMS: 5}, nil
	}
	return respond(spec)
}

func (r *fakeRunner) calls() []schemas.CommandSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schemas.CommandSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

func (r *fakeRunner) peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxConcurrent
}

// fakeSnapshotter stores real file contents in memory so restores actually
// put bytes back, letting tests assert the tree state after a rollback.
type snapshotRecord struct {
	path    string
	content []byte
	existed bool
}

type fakeSnapshotter struct {
	mu          sync.Mutex
	counter     int
	saved       map[string]snapshotRecord
	snapshots   []string
	restores    [][2]string
	failRestore bool
}

func newFakeSnapshotter() *fakeSnapshotter {
	return &fakeSnapshotter{saved: make(map[string]snapshotRecord)}
}

func (f *fakeSnapshotter) Snapshot(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counter++
	commit := fmt.Sprintf("snap-%04d", f.counter)
	rec := snapshotRecord{path: path}
	if content, err := os.ReadFile(path); err == nil {
		rec.content = content
		rec.existed = true
	}
	f.saved[commit] = rec
	f.snapshots = append(f.snapshots, path)
	return commit, nil
}

func (f *fakeSnapshotter) Restore(_ context.Context, path, commit string) schemas.CommandResult {
	f.mu.Lock()
	f.restores = append(f.restores, [2]string{path, commit})
	rec, known := f.saved[commit]
	fail := f.failRestore
	f.mu.Unlock()

	if fail {
		return schemas.CommandResult{Status: 1, Stderr: "simulated restore failure", DurationMS: 2}
	}
	if !known {
		return schemas.CommandResult{Status: 1, Stderr: fmt.Sprintf("unknown snapshot %q", commit), DurationMS: 2}
	}
	if !rec.existed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return schemas.CommandResult{Status: 1, Stderr: err.Error(), DurationMS: 2}
		}
		return schemas.CommandResult{OK: true, Stdout: "removed", DurationMS: 2}
	}
	if err := os.WriteFile(path, rec.content, 0o644); err != nil {
		return schemas.CommandResult{Status: 1, Stderr: err.Error(), DurationMS: 2}
	}
	return schemas.CommandResult{OK: true, Stdout: "restored", DurationMS: 2}
}

func (f *fakeSnapshotter) restoreCalls() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]string, len(f.restores))
	copy(out, f.restores)
	return out
}

type proberResponse struct {
	report schemas.BenchmarkReport
	run    schemas.CommandResult
	err    error
}

type fakeProber struct {
	mu         sync.Mutex
	dirs       []string
	queue      []proberResponse
	captureRel string
	captured   []string
	started    chan struct{}
	release    chan struct{}
	once       sync.Once
}

func (p *fakeProber) Measure(_ context.Context, dir string) (schemas.BenchmarkReport, schemas.CommandResult, error) {
	p.mu.Lock()
	p.dirs = append(p.dirs, dir)
	if p.captureRel != "" {
		content, _ := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p.captureRel)))
		p.captured = append(p.captured, string(content))
	}
	var resp proberResponse
	if len(p.queue) == 0 {
		resp = proberResponse{err: fmt.Errorf("unscripted probe call for %s", dir)}
	} else {
		resp = p.queue[0]
		p.queue = p.queue[1:]
	}
	started, release := p.started, p.release
	p.mu.Unlock()

	if started != nil {
		p.once.Do(func() { close(started) })
	}
	if release != nil {
		<-release
	}
	return resp.report, resp.run, resp.err
}

func (p *fakeProber) measuredDirs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.dirs))
	copy(out, p.dirs)
	return out
}

type fakeGenerator struct {
	mu       sync.Mutex
	requests []schemas.RepairRequest
	respond  func(req schemas.RepairRequest) (string, error)
}

func (g *fakeGenerator) Repair(_ context.Context, req schemas.RepairRequest) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	respond := g.respond
	g.mu.Unlock()

	if respond == nil {
		return "", fmt.Errorf("unscripted repair request for %s", req.Path)
	}
	return respond(req)
}

func (g *fakeGenerator) seen() []schemas.RepairRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]schemas.RepairRequest, len(g.requests))
	copy(out, g.requests)
	return out
}

type fakePublisher struct {
	mu          sync.Mutex
	escalations []schemas.Escalation
	err         error
}

func (p *fakePublisher) PublishEscalation(_ context.Context, esc schemas.Escalation) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.escalations = append(p.escalations, esc)
	return fmt.Sprintf("https://github.com/acme/graft/issues/%d", len(p.escalations)), nil
}

func (p *fakePublisher) published() []schemas.Escalation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]schemas.Escalation, len(p.escalations))
	copy(out, p.escalations)
	return out
}

// -- Test environment --

type testEnv struct {
	t         *testing.T
	root      string
	cfg       *config.Config
	logger    *zap.Logger
	engine    *evolution.Engine
	deps      evolution.Dependencies
	sessions  *evolution.SessionStore
	ledger    *ledger.Ledger
	runner    *fakeRunner
	snaps     *fakeSnapshotter
	prober    *fakeProber
	generator *fakeGenerator
	publisher *fakePublisher
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	tmp := t.TempDir()
	root, err := filepath.EvalSymlinks(tmp)
	require.NoError(t, err)
	extractFixture(t, root)
	stateDir := filepath.Join(root, ".graft")

	cfg := &config.Config{
		ZonesC: config.ZonesConfig{
			Safe: []config.SafeZone{{Directory: "src"}},
			NoGo: config.NoGoZones{Directories: []string{"secrets"}},
		},
		SandboxC: config.SandboxConfig{
			TimeoutSeconds: 30,
			BuildCommands: map[string][]string{
				"rs": {"fake-build"},
				"go": {"fake-build"},
			},
			TestCommands: map[string][]string{
				"rs": {"fake-test"},
			},
		},
		BenchC:  config.BenchConfig{Iters: 100, Warmup: 10, Trials: 3},
		RepairC: config.RepairConfig{Enabled: true, MaxAttempts: 3},
		LedgerC: config.LedgerConfig{
			Path:                filepath.Join(root, "evolution_manifest.json"),
			JournalPath:         filepath.Join(stateDir, "evolution_journal.ndjson"),
			ArchiveAfterEntries: 1024,
		},
		SessionC: config.SessionConfig{
			StatePath:            filepath.Join(stateDir, "session.json"),
			MaxChangesPerSession: 25,
		},
		EngineC: config.EngineConfig{
			WorkspaceRoot:    root,
			MaxFileSizeBytes: 64 * 1024,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := zaptest.NewLogger(t)
	validator, err := zone.NewValidator(logger, root, cfg.ZonesC)
	require.NoError(t, err)
	led, err := ledger.NewLedger(logger, cfg.LedgerC, nil)
	require.NoError(t, err)
	sessions := evolution.NewSessionStore(logger, cfg.SessionC, cfg.RepairC)

	env := &testEnv{
		t:         t,
		root:      root,
		cfg:       cfg,
		logger:    logger,
		sessions:  sessions,
		ledger:    led,
		runner:    &fakeRunner{},
		snaps:     newFakeSnapshotter(),
		prober:    &fakeProber{},
		generator: &fakeGenerator{},
		publisher: &fakePublisher{},
	}

	env.deps = evolution.Dependencies{
		Validator: validator,
		Runner:    env.runner,
		Toolchain: sandbox.NewToolchain(cfg.SandboxC),
		Stage:     sandbox.NewStage(logger),
		Snapshots: env.snaps,
		Prober:    env.prober,
		Generator: env.generator,
		Ledger:    led,
		Sessions:  sessions,
		Gate:      syntax.NewGate(logger),
		Publisher: env.publisher,
	}
	env.engine, err = evolution.NewEngine(logger, cfg, env.deps)
	require.NoError(t, err)
	return env
}

func (env *testEnv) evolve(p schemas.Proposal) (*evolution.CycleResult, error) {
	env.t.Helper()
	return env.engine.Evolve(context.Background(), p, nil)
}

func (env *testEnv) history() []schemas.EvolutionEntry {
	env.t.Helper()
	entries, err := env.ledger.List(context.Background())
	require.NoError(env.t, err)
	return entries
}

func (env *testEnv) fileContent(rel string) string {
	env.t.Helper()
	raw, err := os.ReadFile(filepath.Join(env.root, filepath.FromSlash(rel)))
	require.NoError(env.t, err)
	return string(raw)
}

func (env *testEnv) programCalls(program string) []schemas.CommandSpec {
	var out []schemas.CommandSpec
	for _, spec := range env.runner.calls() {
		if spec.Program == program {
			out = append(out, spec)
		}
	}
	return out
}

func benchReport(perIterNS int64, stability schemas.StabilityClass) schemas.BenchmarkReport {
	medianMS := float64(perIterNS) * 100 / 1e6 // 100 iters
	return schemas.BenchmarkReport{
		TrialTimesMS:  []float64{medianMS, medianMS, medianMS},
		MeanMS:        medianMS,
		MedianMS:      medianMS,
		Stability:     stability,
		PerIterNS:     perIterNS,
		MeanPerIterNS: perIterNS,
		Iters:         100,
		Warmup:        10,
		Trials:        3,
	}
}

func countState(trace []evolution.State, s evolution.State) int {
	n := 0
	for _, st := range trace {
		if st == s {
			n++
		}
	}
	return n
}
