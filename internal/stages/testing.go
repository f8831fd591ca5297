package stages

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/agentick/adw/internal/agent"
	"github.com/agentick/adw/internal/orchestrator"
)

// TestStage runs the project's test suite and, on failure, drives a
// bounded agent resolution loop.
type TestStage struct {
	orchestrator.BaseStage
}

func (s *TestStage) Name() string          { return "test" }
func (s *TestStage) DisplayName() string   { return "Test" }
func (s *TestStage) Dependencies() []string { return []string{"build"} }

// Conventional test-file patterns, checked against base names.
var testFilePatterns = []string{
	"*_test.go",
	"test_*.py",
	"*_test.py",
	"*.test.ts", "*.test.tsx", "*.test.js",
	"*.spec.ts", "*.spec.js",
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, ".venv": true,
}

func (s *TestStage) Preconditions(ctx context.Context, sc *orchestrator.StageContext) error {
	return sc.Worktrees.Validate(ctx, sc.State)
}

func (s *TestStage) ShouldSkip(ctx context.Context, sc *orchestrator.StageContext) (bool, string) {
	if hasTestFiles(sc.WorktreePath) {
		return false, ""
	}
	return true, "no test files found under conventional test paths"
}

func (s *TestStage) Execute(ctx context.Context, sc *orchestrator.StageContext) *orchestrator.StageResult {
	command := s.testCommand(sc)
	if command == "" {
		return orchestrator.Failed("could not determine a test command for this repository", nil)
	}

	maxAttempts := sc.ConfigInt("max_attempts", 2)

	result, failed := s.runTests(ctx, sc, command)
	if failed == 0 {
		return orchestrator.Completed("Tests passed")
	}

	// Resolution loop: ask the agent to fix failures, re-run, and stop
	// when clean or when an attempt resolves nothing.
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sc.Log.Info("test resolution attempt", "attempt", attempt, "failed", failed)
		prompt := fmt.Sprintf(
			"The test suite failed. Fix the failing tests or the code under test, whichever is wrong. Do not delete tests to make them pass.\n\nCommand: %s\n\nOutput (tail):\n%s",
			command, tailOutput(result.Output))
		if _, err := invokeAgent(ctx, sc, "test_resolver", prompt); err != nil {
			return orchestrator.Failed("test resolver agent failed", err)
		}

		var nowFailed int
		result, nowFailed = s.runTests(ctx, sc, command)
		if nowFailed == 0 {
			if err := sc.Git.CommitAll(ctx, sc.WorktreePath,
				fmt.Sprintf("test: resolve failures (adw %s)", sc.ADWID)); err != nil {
				sc.Log.Warn("committing test fixes failed", "error", err)
			}
			res := orchestrator.Completed(fmt.Sprintf("Tests passed after %d resolution attempt(s)", attempt))
			res.Artifacts = map[string]any{"resolution_attempts": attempt}
			return res
		}
		if nowFailed >= failed {
			// No progress; further attempts would loop on the same failures.
			break
		}
		failed = nowFailed
	}

	return orchestrator.Failed(
		fmt.Sprintf("%d test failure(s) remain after resolution attempts", failed),
		fmt.Errorf("%s", tailOutput(result.Output)))
}

func (s *TestStage) runTests(ctx context.Context, sc *orchestrator.StageContext, command string) (*agent.RunResult, int) {
	timeout := time.Duration(sc.ConfigInt("timeout_minutes", 15)) * time.Minute
	result, err := agent.Run(ctx, agent.RunRequest{
		Command: []string{"sh", "-c", command},
		Dir:     sc.WorktreePath,
		Timeout: timeout,
	})
	if err != nil && result == nil {
		return &agent.RunResult{Output: err.Error(), ExitCode: -1}, 1
	}
	if result.ExitCode == 0 {
		return result, 0
	}
	failed := countFailures(result.Output)
	if failed == 0 {
		failed = 1
	}
	return result, failed
}

// testCommand picks the suite runner: explicit config first, then
// ecosystem detection.
func (s *TestStage) testCommand(sc *orchestrator.StageContext) string {
	if cmd := sc.ConfigString("command"); cmd != "" {
		return cmd
	}
	root := sc.WorktreePath
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
		return "go test ./..."
	}
	if _, err := os.Stat(filepath.Join(root, "package.json")); err == nil {
		return "npm test --silent"
	}
	if _, err := os.Stat(filepath.Join(root, "pyproject.toml")); err == nil {
		return "pytest -q"
	}
	if hasTestFiles(root) {
		return "pytest -q"
	}
	return ""
}

var failLineRe = regexp.MustCompile(`(?im)^.*\b(FAIL(ED)?|ERROR)\b`)

// countFailures approximates the number of distinct failures in runner
// output; used only to detect resolution-loop progress.
func countFailures(output string) int {
	return len(failLineRe.FindAllString(output, -1))
}

func hasTestFiles(root string) bool {
	found := false
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}
		for _, pat := range testFilePatterns {
			if ok, _ := filepath.Match(pat, d.Name()); ok {
				found = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found
}
