// Package console renders CLI progress and status output for workflow
// runs. The daemon uses structured logging; this is the human surface.
package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentick/adw/internal/events"
	"github.com/agentick/adw/internal/orchestrator"
	"github.com/agentick/adw/internal/state"
)

// ANSI color helpers
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// Handler returns an event handler that renders lifecycle events to the
// terminal; registered as a catch-all on the engine's emitter.
func Handler() events.Handler {
	return func(p events.StagePayload) {
		switch p.EventType {
		case events.WorkflowStarted:
			fmt.Printf("\n%s[%s]%s %s══ %s ══%s\n",
				Dim, timestamp(), Reset, Bold, p.WorkflowName, Reset)
		case events.StageStarted:
			fmt.Printf("%s[%s]%s  %sStage %d/%d: %s%s\n",
				Dim, timestamp(), Reset, Cyan, p.StageIndex+1, p.TotalStages, p.StageName, Reset)
		case events.StageCompleted:
			fmt.Printf("%s[%s]%s  %s✓ %s complete (%s)%s\n",
				Dim, timestamp(), Reset, Green, p.StageName, formatMS(p.DurationMS), Reset)
		case events.StageSkipped:
			fmt.Printf("%s[%s]%s  %s– %s skipped: %s%s\n",
				Dim, timestamp(), Reset, Dim, p.StageName, p.SkipReason, Reset)
		case events.StageFailed:
			fmt.Printf("%s[%s]%s  %s✗ %s failed: %s%s\n",
				Dim, timestamp(), Reset, Red, p.StageName, p.Error, Reset)
		case events.WorkflowCompleted:
			fmt.Printf("%s[%s]%s  %s%s══ workflow complete ══%s\n\n",
				Dim, timestamp(), Reset, Bold, Green, Reset)
		case events.WorkflowFailed:
			fmt.Printf("%s[%s]%s  %s══ workflow failed: %s ══%s\n\n",
				Dim, timestamp(), Reset, Red, p.Error, Reset)
		}
	}
}

// ResumeHint prints the command that resumes a stopped workflow.
func ResumeHint(issueRef, adwID string) {
	fmt.Printf("\n%sResume:%s adw run %s %s\n", Yellow, Reset, issueRef, adwID)
}

// RenderStatus prints the stored execution state for one workflow.
func RenderStatus(st *state.ADWState, exec *orchestrator.WorkflowExecution) {
	fmt.Printf("%sADW:%s      %s\n", Bold, Reset, st.ADWID)
	if st.IssueNumber != nil {
		fmt.Printf("%sIssue:%s    #%d %s\n", Bold, Reset, *st.IssueNumber, st.TitleOrFallback())
	}
	fmt.Printf("%sStage:%s    %s\n", Bold, Reset, st.CurrentStage)
	fmt.Printf("%sStatus:%s   %s\n", Bold, Reset, st.Status)
	if st.BranchName != "" {
		fmt.Printf("%sBranch:%s   %s\n", Bold, Reset, st.BranchName)
	}
	if st.WorktreePath != "" {
		fmt.Printf("%sWorktree:%s %s\n", Bold, Reset, st.WorktreePath)
	}
	if len(st.AllADWs) > 0 {
		fmt.Printf("%sRuns:%s     %s\n", Bold, Reset, strings.Join(st.AllADWs, ", "))
	}

	if exec == nil {
		return
	}
	fmt.Printf("\n%sStages (%s):%s\n", Bold, exec.WorkflowName, Reset)
	for i, se := range exec.Stages {
		marker := "  "
		if i == exec.CurrentStageIndex && exec.Status == orchestrator.WorkflowRunning {
			marker = fmt.Sprintf("%s→%s ", Yellow, Reset)
		}
		status := se.Status
		switch se.Status {
		case orchestrator.StatusCompleted:
			status = Green + "done" + Reset
		case orchestrator.StatusFailed:
			status = Red + "failed" + Reset
		case orchestrator.StatusSkipped:
			status = Dim + "skipped" + Reset
		}
		dur := ""
		if se.DurationMS > 0 {
			dur = fmt.Sprintf("  (%s)", formatMS(se.DurationMS))
		}
		fmt.Printf("  %s%s%d%s  %-12s %s%s\n", marker, Dim, i+1, Reset, se.StageName, status, dur)
	}
	fmt.Println()
}

func formatMS(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}
