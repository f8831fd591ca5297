package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentick/adw/internal/orchestrator"
	"github.com/agentick/adw/internal/state"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testCtx(worktree string, cfg map[string]any) *orchestrator.StageContext {
	return &orchestrator.StageContext{
		ADWID:        "a1b2c3d4",
		State:        state.New("a1b2c3d4"),
		WorktreePath: worktree,
		Config:       cfg,
	}
}

func TestHasTestFiles(t *testing.T) {
	root := t.TempDir()
	if hasTestFiles(root) {
		t.Fatal("empty tree has no test files")
	}

	writeFile(t, root, "pkg/thing_test.go")
	if !hasTestFiles(root) {
		t.Fatal("go test file should be discovered")
	}
}

func TestHasTestFiles_Conventions(t *testing.T) {
	for _, rel := range []string{
		"tests/test_api.py",
		"src/app.test.ts",
		"src/app.spec.js",
		"server/module_test.py",
	} {
		root := t.TempDir()
		writeFile(t, root, rel)
		if !hasTestFiles(root) {
			t.Fatalf("%s should be discovered", rel)
		}
	}
}

func TestHasTestFiles_SkipsVendorTrees(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "node_modules/dep/dep.test.js")
	writeFile(t, root, ".git/hooks/x_test.go")
	if hasTestFiles(root) {
		t.Fatal("vendored and git-internal files must be ignored")
	}
}

func TestTestStageShouldSkip(t *testing.T) {
	s := &TestStage{}

	root := t.TempDir()
	skip, reason := s.ShouldSkip(context.Background(), testCtx(root, nil))
	if !skip {
		t.Fatal("no test files should skip the stage")
	}
	if reason == "" {
		t.Fatal("skip must carry a reason")
	}

	writeFile(t, root, "a_test.go")
	skip, _ = s.ShouldSkip(context.Background(), testCtx(root, nil))
	if skip {
		t.Fatal("present test files must not skip")
	}
}

func TestTestCommand_Detection(t *testing.T) {
	s := &TestStage{}

	root := t.TempDir()
	writeFile(t, root, "go.mod")
	if got := s.testCommand(testCtx(root, nil)); got != "go test ./..." {
		t.Fatalf("go detection = %q", got)
	}

	root = t.TempDir()
	writeFile(t, root, "package.json")
	if got := s.testCommand(testCtx(root, nil)); got != "npm test --silent" {
		t.Fatalf("npm detection = %q", got)
	}

	root = t.TempDir()
	writeFile(t, root, "pyproject.toml")
	if got := s.testCommand(testCtx(root, nil)); got != "pytest -q" {
		t.Fatalf("pytest detection = %q", got)
	}
}

func TestTestCommand_ExplicitConfigWins(t *testing.T) {
	s := &TestStage{}
	root := t.TempDir()
	writeFile(t, root, "go.mod")
	cfg := map[string]any{"command": "make check"}
	if got := s.testCommand(testCtx(root, cfg)); got != "make check" {
		t.Fatalf("got %q", got)
	}
}

func TestCountFailures(t *testing.T) {
	output := `--- FAIL: TestOne (0.00s)
--- FAIL: TestTwo (0.01s)
ok   pkg/other 0.2s
ERROR tests/test_api.py::test_login
`
	if got := countFailures(output); got != 3 {
		t.Fatalf("countFailures = %d, want 3", got)
	}
	if got := countFailures("all green"); got != 0 {
		t.Fatalf("countFailures = %d, want 0", got)
	}
}

func TestDefaultRegistry_AllStages(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{"plan", "build", "test", "review", "document", "merge"} {
		stage := r.Create(name)
		if stage == nil {
			t.Fatalf("stage %s not registered", name)
		}
		if stage.Name() != name {
			t.Fatalf("stage %s reports name %s", name, stage.Name())
		}
	}
	if r.Create("deploy") != nil {
		t.Fatal("unknown stage must return nil")
	}
}

func TestStageDependencies(t *testing.T) {
	r := DefaultRegistry()
	deps := map[string][]string{
		"plan":     nil,
		"build":    {"plan"},
		"test":     {"build"},
		"review":   {"build"},
		"document": {"build"},
		"merge":    {"build"},
	}
	for name, want := range deps {
		got := r.Create(name).Dependencies()
		if len(got) != len(want) {
			t.Fatalf("%s deps = %v, want %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s deps = %v, want %v", name, got, want)
			}
		}
	}
}
