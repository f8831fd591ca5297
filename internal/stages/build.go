package stages

import (
	"context"
	"fmt"
	"os"

	"github.com/agentick/adw/internal/orchestrator"
)

// BuildStage implements the plan inside the worktree.
type BuildStage struct {
	orchestrator.BaseStage
}

func (s *BuildStage) Name() string          { return "build" }
func (s *BuildStage) DisplayName() string   { return "Build" }
func (s *BuildStage) Dependencies() []string { return []string{"plan"} }

func (s *BuildStage) Preconditions(ctx context.Context, sc *orchestrator.StageContext) error {
	if err := sc.Worktrees.Validate(ctx, sc.State); err != nil {
		return err
	}
	planPath := resolvePlanFile(sc)
	if planPath == "" {
		return fmt.Errorf("no plan_file in state")
	}
	if _, err := os.Stat(planPath); err != nil {
		return fmt.Errorf("plan file not found: %s", planPath)
	}
	return nil
}

func (s *BuildStage) Execute(ctx context.Context, sc *orchestrator.StageContext) *orchestrator.StageResult {
	plan, err := os.ReadFile(resolvePlanFile(sc))
	if err != nil {
		return orchestrator.Failed("reading plan", err)
	}

	prompt := fmt.Sprintf(
		"Implement the following plan in this repository. Follow it step by step, keep changes scoped to what the plan calls for, and do not commit.\n\n%s",
		plan)

	resp, err := invokeAgent(ctx, sc, "sdlc_implementor", prompt)
	if err != nil {
		return orchestrator.Failed("implementor agent failed", err)
	}
	if !resp.Result.Success {
		return orchestrator.Failed(
			fmt.Sprintf("implementor exited %d", resp.Result.ExitCode),
			fmt.Errorf("%s", tailOutput(resp.Result.Output)))
	}

	if err := sc.Git.CommitAll(ctx, sc.WorktreePath,
		fmt.Sprintf("feat: implement issue %s (adw %s)", issueRef(sc), sc.ADWID)); err != nil {
		return orchestrator.Failed("committing implementation", err)
	}
	return orchestrator.Completed("Implementation committed")
}
