package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentick/adw/internal/orchestrator"
)

// ErrConflictUnresolved marks a merge whose conflicts survived the agent's
// resolution pass. The worktree and branch are left intact for manual
// intervention.
var ErrConflictUnresolved = errors.New("merge conflicts unresolved")

// MergeStage lands the branch on main, resolving conflicts with agent
// assistance, then pushes and cleans up the worktree and remote branch.
type MergeStage struct {
	orchestrator.BaseStage
}

func (s *MergeStage) Name() string          { return "merge" }
func (s *MergeStage) DisplayName() string   { return "Merge" }
func (s *MergeStage) Dependencies() []string { return []string{"build"} }

func (s *MergeStage) Preconditions(ctx context.Context, sc *orchestrator.StageContext) error {
	if sc.State.BranchName == "" {
		return fmt.Errorf("no branch_name in state")
	}
	return sc.Worktrees.Validate(ctx, sc.State)
}

func (s *MergeStage) Execute(ctx context.Context, sc *orchestrator.StageContext) *orchestrator.StageResult {
	strategy := sc.ConfigString("strategy")
	if strategy == "" {
		strategy = "squash"
	}
	branch := sc.State.BranchName
	root := sc.ProjectRoot

	if err := sc.Git.Checkout(ctx, root, "main"); err != nil {
		return orchestrator.Failed("checking out main", err)
	}
	if mergeErr := sc.Git.Merge(ctx, root, branch, strategy); mergeErr != nil {
		conflicts, err := sc.Git.ConflictedFiles(ctx, root)
		if err != nil {
			return orchestrator.Failed("detecting conflicts", err)
		}
		if len(conflicts) == 0 {
			return orchestrator.Failed("merge failed", mergeErr)
		}

		sc.Log.Info("merge conflicts detected", "files", len(conflicts))
		if err := s.resolveWithAgent(ctx, sc, branch, conflicts); err != nil {
			return orchestrator.Failed("conflict resolution agent failed", err)
		}
		remaining, err := sc.Git.ConflictedFiles(ctx, root)
		if err != nil {
			return orchestrator.Failed("re-checking conflicts", err)
		}
		if len(remaining) > 0 {
			// Leave everything in place for a human; no cleanup.
			return orchestrator.Failed(
				fmt.Sprintf("conflicts remain in %d file(s): %s",
					len(remaining), strings.Join(remaining, ", ")),
				ErrConflictUnresolved)
		}
	}

	if err := sc.Git.CommitAll(ctx, root,
		fmt.Sprintf("merge: issue %s via adw %s", issueRef(sc), sc.ADWID)); err != nil {
		return orchestrator.Failed("committing merge", err)
	}

	if configBoolDefault(sc, "run_validation_tests", true) {
		if fails := s.validationFailures(ctx, sc); fails != "" {
			return orchestrator.Failed("post-merge validation tests failed", fmt.Errorf("%s", fails))
		}
	}

	if err := sc.Git.Push(ctx, root, "main"); err != nil {
		return orchestrator.Failed("pushing main", err)
	}

	if err := sc.Worktrees.Remove(ctx, sc.ADWID); err != nil {
		sc.Log.Warn("worktree cleanup failed", "error", err)
	}
	if err := sc.Git.DeleteRemoteBranch(ctx, branch); err != nil {
		sc.Log.Warn("remote branch cleanup failed", "error", err)
	}

	res := orchestrator.Completed(fmt.Sprintf("Merged %s into main (%s)", branch, strategy))
	res.Artifacts = map[string]any{"strategy": strategy, "branch": branch}
	return res
}

// resolveWithAgent spawns the agent in the main checkout with the
// conflicted file list.
func (s *MergeStage) resolveWithAgent(ctx context.Context, sc *orchestrator.StageContext, branch string, conflicts []string) error {
	prompt := fmt.Sprintf(
		"A merge of branch %s into main stopped on conflicts. Resolve the conflict markers in these files, preserving the intent of both sides, then stage the resolved files with git add. Do not commit.\n\n%s",
		branch, strings.Join(conflicts, "\n"))

	// The resolver works in the main checkout, not the worktree.
	saved := sc.WorktreePath
	sc.WorktreePath = sc.ProjectRoot
	defer func() { sc.WorktreePath = saved }()

	resp, err := invokeAgent(ctx, sc, "merge_resolver", prompt)
	if err != nil {
		return err
	}
	if !resp.Result.Success {
		return fmt.Errorf("resolver exited %d", resp.Result.ExitCode)
	}
	return nil
}

// validationFailures reruns the suite on main after the merge; returns a
// tail of the output when it fails.
func (s *MergeStage) validationFailures(ctx context.Context, sc *orchestrator.StageContext) string {
	ts := &TestStage{}
	saved := sc.WorktreePath
	sc.WorktreePath = sc.ProjectRoot
	defer func() { sc.WorktreePath = saved }()

	command := ts.testCommand(sc)
	if command == "" {
		return ""
	}
	result, failed := ts.runTests(ctx, sc, command)
	if failed == 0 {
		return ""
	}
	return tailOutput(result.Output)
}
