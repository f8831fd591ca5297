package stages

import (
	"context"
	"fmt"

	"github.com/agentick/adw/internal/orchestrator"
)

// DocumentStage produces a documentation commit for the branch's changes.
type DocumentStage struct {
	orchestrator.BaseStage
}

func (s *DocumentStage) Name() string          { return "document" }
func (s *DocumentStage) DisplayName() string   { return "Document" }
func (s *DocumentStage) Dependencies() []string { return []string{"build"} }

func (s *DocumentStage) Preconditions(ctx context.Context, sc *orchestrator.StageContext) error {
	return sc.Worktrees.Validate(ctx, sc.State)
}

func (s *DocumentStage) ShouldSkip(ctx context.Context, sc *orchestrator.StageContext) (bool, string) {
	empty, err := sc.Git.DiffEmpty(ctx, sc.WorktreePath)
	if err != nil {
		sc.Log.Warn("diff check failed, not skipping", "error", err)
		return false, ""
	}
	if empty {
		return true, "git diff is empty; nothing to document"
	}
	return false, ""
}

func (s *DocumentStage) Execute(ctx context.Context, sc *orchestrator.StageContext) *orchestrator.StageResult {
	prompt := fmt.Sprintf(
		"Document the changes on this branch for issue #%s. Update existing docs where they cover the touched areas and add concise docs for new behavior. Do not commit.",
		issueRef(sc))

	resp, err := invokeAgent(ctx, sc, "sdlc_documenter", prompt)
	if err != nil {
		return orchestrator.Failed("documenter agent failed", err)
	}
	if !resp.Result.Success {
		return orchestrator.Failed(
			fmt.Sprintf("documenter exited %d", resp.Result.ExitCode),
			fmt.Errorf("%s", tailOutput(resp.Result.Output)))
	}

	if err := sc.Git.CommitAll(ctx, sc.WorktreePath,
		fmt.Sprintf("docs: issue %s (adw %s)", issueRef(sc), sc.ADWID)); err != nil {
		return orchestrator.Failed("committing documentation", err)
	}
	return orchestrator.Completed("Documentation committed")
}
