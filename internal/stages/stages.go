// Package stages holds the six SDLC stage implementations the engine
// sequences: plan, build, test, review, document, merge. Each stage keeps
// its work inside the workflow's worktree and delegates all language-model
// work to the external agent CLI.
package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/agentick/adw/internal/agent"
	"github.com/agentick/adw/internal/orchestrator"
)

// DefaultRegistry returns the compile-time stage registry.
func DefaultRegistry() *orchestrator.Registry {
	r := orchestrator.NewRegistry()
	r.Register("plan", func() orchestrator.Stage { return &PlanStage{} })
	r.Register("build", func() orchestrator.Stage { return &BuildStage{} })
	r.Register("test", func() orchestrator.Stage { return &TestStage{} })
	r.Register("review", func() orchestrator.Stage { return &ReviewStage{} })
	r.Register("document", func() orchestrator.Stage { return &DocumentStage{} })
	r.Register("merge", func() orchestrator.Stage { return &MergeStage{} })
	return r
}

// invokeAgent runs the Claude Code CLI for a stage with the resolved model
// and the worktree as working directory.
func invokeAgent(ctx context.Context, sc *orchestrator.StageContext, agentName, prompt string) (*agent.Response, error) {
	timeout := time.Duration(sc.ConfigInt("timeout_minutes", 0)) * time.Minute
	workDir := sc.WorktreePath
	if workDir == "" {
		workDir = sc.ProjectRoot
	}
	return agent.Invoke(ctx, agent.Request{
		ProjectRoot: sc.ProjectRoot,
		ADWID:       sc.ADWID,
		AgentName:   agentName,
		Prompt:      prompt,
		Model:       sc.StageModel,
		WorkDir:     workDir,
		Timeout:     timeout,
	})
}

// issueRef renders the issue identity for prompts and branch names.
func issueRef(sc *orchestrator.StageContext) string {
	if sc.IssueNumber != nil {
		return fmt.Sprintf("%d", *sc.IssueNumber)
	}
	return sc.ADWID
}

// resolvePlanFile returns the absolute plan path for a state whose
// plan_file is relative to the worktree root.
func resolvePlanFile(sc *orchestrator.StageContext) string {
	pf := sc.State.PlanFile
	if pf == "" {
		return ""
	}
	if filepath.IsAbs(pf) {
		return pf
	}
	return filepath.Join(sc.WorktreePath, pf)
}
