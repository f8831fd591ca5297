package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentick/adw/internal/agent"
	"github.com/agentick/adw/internal/orchestrator"
)

// Review severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Finding is one issue reported by a review tool.
type Finding struct {
	Tool     string `json:"tool"`
	Severity string `json:"severity"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
}

// toolRunner describes one external review tool.
type toolRunner struct {
	name    string
	mode    string // security | code
	command []string
	parse   func(output string) []Finding
}

// ReviewStage orchestrates parallel external tool runners plus an AI
// reviewer and applies the configured failure thresholds.
type ReviewStage struct {
	orchestrator.BaseStage
}

func (s *ReviewStage) Name() string          { return "review" }
func (s *ReviewStage) DisplayName() string   { return "Review" }
func (s *ReviewStage) Dependencies() []string { return []string{"build"} }

func (s *ReviewStage) Preconditions(ctx context.Context, sc *orchestrator.StageContext) error {
	return sc.Worktrees.Validate(ctx, sc.State)
}

// ShouldSkip never consults the issue class; review runs for features,
// bugs, chores, and patches alike. The only opt-out is an explicit
// skip_review flag in metadata or stage config.
func (s *ReviewStage) ShouldSkip(ctx context.Context, sc *orchestrator.StageContext) (bool, string) {
	if sc.ConfigBool("skip_review") {
		return true, "review skipped by explicit skip_review flag"
	}
	return false, ""
}

func (s *ReviewStage) Execute(ctx context.Context, sc *orchestrator.StageContext) *orchestrator.StageResult {
	modes := s.resolveModes(sc)
	runners := s.runnersFor(modes)

	var mu sync.Mutex
	var findings []Finding
	var ranTools []string

	// Individual tool failures never cancel siblings: runners report
	// errors as log lines, never as group errors.
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			if _, err := exec.LookPath(r.command[0]); err != nil {
				sc.Log.Info("review tool not installed, skipping", "tool", r.name)
				return nil
			}
			result, err := agent.Run(gctx, agent.RunRequest{
				Command: r.command,
				Dir:     sc.WorktreePath,
				Timeout: 5 * time.Minute,
			})
			if err != nil && result == nil {
				sc.Log.Warn("review tool failed", "tool", r.name, "error", err)
				return nil
			}
			found := r.parse(result.Output)
			mu.Lock()
			findings = append(findings, found...)
			ranTools = append(ranTools, r.name)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if containsMode(modes, "comprehensive") || containsMode(modes, "docs") || containsMode(modes, "ui") {
		aiFindings := s.runAIReview(ctx, sc, modes)
		findings = append(findings, aiFindings...)
	}

	counts := map[string]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}
	securityCritical := 0
	for _, f := range findings {
		if f.Severity == SeverityCritical && isSecurityTool(f.Tool) {
			securityCritical++
		}
	}

	artifacts := map[string]any{
		"modes":        modes,
		"tools":        ranTools,
		"total_issues": len(findings),
		"by_severity":  counts,
		"findings":     findings,
	}

	if reason := s.thresholdFailure(sc, counts, securityCritical, len(findings)); reason != "" {
		res := orchestrator.Failed(reason, fmt.Errorf("%s", reason))
		res.Artifacts = artifacts
		return res
	}

	res := orchestrator.Completed(fmt.Sprintf("Review passed: %d issue(s) within thresholds", len(findings)))
	res.Artifacts = artifacts
	return res
}

func (s *ReviewStage) resolveModes(sc *orchestrator.StageContext) []string {
	if raw, ok := sc.Config["modes"].([]any); ok {
		var modes []string
		for _, m := range raw {
			if str, ok := m.(string); ok {
				modes = append(modes, str)
			}
		}
		if len(modes) > 0 {
			return modes
		}
	}
	return []string{"comprehensive"}
}

func (s *ReviewStage) runnersFor(modes []string) []toolRunner {
	security := containsMode(modes, "security") || containsMode(modes, "comprehensive")
	code := containsMode(modes, "code") || containsMode(modes, "comprehensive")

	var runners []toolRunner
	if security {
		runners = append(runners,
			toolRunner{
				name: "semgrep", mode: "security",
				command: []string{"semgrep", "scan", "--json", "--quiet", "."},
				parse:   parseSemgrep,
			},
			toolRunner{
				name: "bearer", mode: "security",
				command: []string{"bearer", "scan", ".", "--format", "json", "--quiet"},
				parse:   parseBearer,
			},
		)
	}
	if code {
		runners = append(runners,
			toolRunner{
				name: "eslint", mode: "code",
				command: []string{"eslint", ".", "--format", "json"},
				parse:   parseESLint,
			},
			toolRunner{
				name: "ruff", mode: "code",
				command: []string{"ruff", "check", ".", "--output-format", "json"},
				parse:   parseRuff,
			},
		)
	}
	return runners
}

// runAIReview asks the agent to review the diff against the plan and
// returns its findings (best-effort; an unusable response yields none).
func (s *ReviewStage) runAIReview(ctx context.Context, sc *orchestrator.StageContext, modes []string) []Finding {
	prompt := fmt.Sprintf(
		"Review the changes on this branch against the implementation plan at %s. Focus modes: %s. Respond with a JSON array of findings, each {\"severity\": \"critical|high|medium|low\", \"path\": \"...\", \"message\": \"...\"}. Respond with [] if the implementation is sound.",
		sc.State.PlanFile, strings.Join(modes, ", "))
	resp, err := invokeAgent(ctx, sc, "sdlc_reviewer", prompt)
	if err != nil || !resp.Result.Success {
		sc.Log.Warn("AI reviewer unavailable", "error", err)
		return nil
	}
	text := resp.FinalText
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}
	var found []Finding
	if err := json.Unmarshal([]byte(text[start:end+1]), &found); err != nil {
		sc.Log.Warn("unparseable reviewer findings", "error", err)
		return nil
	}
	for i := range found {
		found[i].Tool = "ai_review"
		if found[i].Severity == "" {
			found[i].Severity = SeverityMedium
		}
	}
	return found
}

// thresholdFailure returns a non-empty reason when the aggregated counts
// trip a configured threshold.
func (s *ReviewStage) thresholdFailure(sc *orchestrator.StageContext, counts map[string]int, securityCritical, total int) string {
	failOnCritical := configBoolDefault(sc, "fail_on_critical", true)
	failOnHigh := configBoolDefault(sc, "fail_on_high", true)
	failOnSecurityCritical := configBoolDefault(sc, "fail_on_security_critical", true)
	maxIssues := sc.ConfigInt("max_issues_before_fail", 0)

	if failOnSecurityCritical && securityCritical > 0 {
		return fmt.Sprintf("%d critical security issue(s) found", securityCritical)
	}
	if failOnCritical && counts[SeverityCritical] > 0 {
		return fmt.Sprintf("%d critical issue(s) found", counts[SeverityCritical])
	}
	if failOnHigh && counts[SeverityHigh] > 0 {
		return fmt.Sprintf("%d high severity issue(s) found", counts[SeverityHigh])
	}
	if maxIssues > 0 && total > maxIssues {
		return fmt.Sprintf("%d issue(s) exceed the configured maximum of %d", total, maxIssues)
	}
	return ""
}

func configBoolDefault(sc *orchestrator.StageContext, key string, def bool) bool {
	if v, ok := sc.Config[key].(bool); ok {
		return v
	}
	return def
}

func containsMode(modes []string, mode string) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

func isSecurityTool(tool string) bool {
	return tool == "semgrep" || tool == "bearer"
}

// ---- tool output parsers ----

func parseSemgrep(output string) []Finding {
	var doc struct {
		Results []struct {
			Path  string `json:"path"`
			Extra struct {
				Severity string `json:"severity"`
				Message  string `json:"message"`
			} `json:"extra"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(jsonBody(output)), &doc); err != nil {
		return nil
	}
	var out []Finding
	for _, r := range doc.Results {
		sev := SeverityMedium
		switch strings.ToUpper(r.Extra.Severity) {
		case "ERROR":
			sev = SeverityHigh
		case "WARNING":
			sev = SeverityMedium
		case "INFO":
			sev = SeverityLow
		}
		out = append(out, Finding{Tool: "semgrep", Severity: sev, Path: r.Path, Message: r.Extra.Message})
	}
	return out
}

func parseBearer(output string) []Finding {
	var doc map[string][]struct {
		Filename string `json:"filename"`
		Title    string `json:"title"`
	}
	if err := json.Unmarshal([]byte(jsonBody(output)), &doc); err != nil {
		return nil
	}
	var out []Finding
	for level, items := range doc {
		sev := SeverityMedium
		switch level {
		case "critical":
			sev = SeverityCritical
		case "high":
			sev = SeverityHigh
		case "low", "warning":
			sev = SeverityLow
		}
		for _, it := range items {
			out = append(out, Finding{Tool: "bearer", Severity: sev, Path: it.Filename, Message: it.Title})
		}
	}
	return out
}

func parseESLint(output string) []Finding {
	var files []struct {
		FilePath string `json:"filePath"`
		Messages []struct {
			Severity int    `json:"severity"`
			Message  string `json:"message"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(jsonBody(output)), &files); err != nil {
		return nil
	}
	var out []Finding
	for _, f := range files {
		for _, m := range f.Messages {
			sev := SeverityLow
			if m.Severity == 2 {
				sev = SeverityMedium
			}
			out = append(out, Finding{Tool: "eslint", Severity: sev, Path: f.FilePath, Message: m.Message})
		}
	}
	return out
}

func parseRuff(output string) []Finding {
	var items []struct {
		Filename string `json:"filename"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal([]byte(jsonBody(output)), &items); err != nil {
		return nil
	}
	var out []Finding
	for _, it := range items {
		out = append(out, Finding{Tool: "ruff", Severity: SeverityLow, Path: it.Filename, Message: it.Message})
	}
	return out
}

// jsonBody trims runner noise around a JSON document: everything before
// the first brace/bracket and after the matching close.
func jsonBody(output string) string {
	start := strings.IndexAny(output, "[{")
	if start < 0 {
		return output
	}
	end := strings.LastIndexAny(output, "]}")
	if end < start {
		return output
	}
	return output[start : end+1]
}
