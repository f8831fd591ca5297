package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/agentick/adw/internal/orchestrator"
)

// PlannerAgent is the sub-agent directory name the dashboard reads plans
// from.
const PlannerAgent = "sdlc_planner"

// PlanStage creates the isolated worktree and produces the implementation
// plan the build stage consumes.
type PlanStage struct {
	orchestrator.BaseStage
}

func (s *PlanStage) Name() string          { return "plan" }
func (s *PlanStage) DisplayName() string   { return "Plan" }
func (s *PlanStage) Dependencies() []string { return nil }

var planPathRe = regexp.MustCompile(`[A-Za-z0-9_\-./]+\.md`)

func (s *PlanStage) Execute(ctx context.Context, sc *orchestrator.StageContext) *orchestrator.StageResult {
	st := sc.State
	if st.IssueClass == "" {
		st.IssueClass = "/chore"
	}
	if st.BranchName == "" {
		st.BranchName = fmt.Sprintf("%s-issue-%s-adw-%s",
			st.StrippedIssueClass(), issueRef(sc), sc.ADWID)
	}

	if st.WorktreePath == "" {
		path, err := sc.Worktrees.Create(ctx, sc.ADWID, st.BranchName)
		if err != nil {
			return orchestrator.Failed("creating worktree", err)
		}
		st.WorktreePath = path
		sc.WorktreePath = path
	}
	if err := sc.Store.Save(st); err != nil {
		return orchestrator.Failed("persisting worktree state", err)
	}

	planRel := filepath.Join("specs", fmt.Sprintf("issue-%s-adw-%s-plan.md", issueRef(sc), sc.ADWID))
	prompt := s.buildPrompt(sc, planRel)

	resp, err := invokeAgent(ctx, sc, PlannerAgent, prompt)
	if err != nil {
		return orchestrator.Failed("planner agent failed", err)
	}
	if !resp.Result.Success {
		return orchestrator.Failed(
			fmt.Sprintf("planner exited %d", resp.Result.ExitCode),
			fmt.Errorf("%s", tailOutput(resp.Result.Output)))
	}

	planFile := s.extractPlanPath(resp.FinalText, sc.WorktreePath, planRel)
	if planFile == "" {
		return orchestrator.Failed("planner produced no plan file", nil)
	}
	st.PlanFile = planFile
	if err := sc.Store.Save(st); err != nil {
		return orchestrator.Failed("persisting plan file", err)
	}

	// Mirror the plan into the agent directory so the dashboard's
	// /api/adws/{id}/plan endpoint can serve it without touching the
	// worktree.
	s.mirrorPlan(sc, planFile)

	if err := sc.Git.CommitAll(ctx, sc.WorktreePath, fmt.Sprintf("plan: issue %s (adw %s)", issueRef(sc), sc.ADWID)); err != nil {
		sc.Log.Warn("committing plan failed", "error", err)
	}

	res := orchestrator.Completed("Plan generated: " + planFile)
	res.Artifacts = map[string]any{"plan_file": planFile}
	return res
}

func (s *PlanStage) buildPrompt(sc *orchestrator.StageContext, planRel string) string {
	var b strings.Builder
	b.WriteString("Create an implementation plan for the following issue.\n\n")
	fmt.Fprintf(&b, "Issue #%s: %s\n\n", issueRef(sc), sc.State.IssueTitle)
	if sc.State.IssueBody != "" {
		b.WriteString(sc.State.IssueBody)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Classification: %s\n", sc.State.StrippedIssueClass())
	fmt.Fprintf(&b, "Write the plan as Markdown to %s (relative to the repository root) and state that path on the final line of your response.\n", planRel)
	return b.String()
}

// extractPlanPath finds the plan path in the agent's final message,
// preferring the last .md reference that exists in the worktree, then the
// requested default location.
func (s *PlanStage) extractPlanPath(finalText, worktreePath, fallbackRel string) string {
	matches := planPathRe.FindAllString(finalText, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		rel := strings.TrimPrefix(matches[i], "./")
		if _, err := os.Stat(filepath.Join(worktreePath, rel)); err == nil {
			return rel
		}
	}
	if _, err := os.Stat(filepath.Join(worktreePath, fallbackRel)); err == nil {
		return fallbackRel
	}
	return ""
}

func (s *PlanStage) mirrorPlan(sc *orchestrator.StageContext, planRel string) {
	data, err := os.ReadFile(filepath.Join(sc.WorktreePath, planRel))
	if err != nil {
		sc.Log.Warn("reading plan for mirror", "error", err)
		return
	}
	dir := filepath.Join(sc.ProjectRoot, "agents", sc.ADWID, PlannerAgent)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(dir, "plan.md"), data, 0o644); err != nil {
		sc.Log.Warn("mirroring plan", "error", err)
	}
}

func tailOutput(out string) string {
	const n = 2000
	if len(out) <= n {
		return out
	}
	return out[len(out)-n:]
}
