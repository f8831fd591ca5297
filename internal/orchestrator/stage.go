// Package orchestrator contains the stage-sequencing engine: the stage
// contract, the per-workflow execution record it persists for resume, and
// the loop that drives stages through preconditions, skip checks,
// execution, and failure handling.
package orchestrator

import (
	"context"

	"github.com/agentick/adw/internal/events"
	"github.com/agentick/adw/internal/gitops"
	"github.com/agentick/adw/internal/logger"
	"github.com/agentick/adw/internal/state"
	"github.com/agentick/adw/internal/store"
	"github.com/agentick/adw/internal/worktree"
)

// Stage statuses. StageExecution and StageResult share these values.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// StageContext is the bundle the engine hands a stage for one invocation.
// It is never persisted.
type StageContext struct {
	ADWID       string
	IssueNumber *int
	State       *state.ADWState
	WorktreePath string
	ProjectRoot string

	Log       *logger.Logger
	Store     *store.Store
	Git       *gitops.Git
	Worktrees *worktree.Manager
	Emitter   *events.Emitter

	// Config is the stage-specific custom-args map from the workflow
	// configuration; Metadata is the orchestrator-level pass-through.
	Config   map[string]any
	Metadata map[string]any

	PreviousStage   string
	StageIndex      int
	TotalStages     int
	CompletedStages []string
	SkippedStages   []string

	// StageModel is the resolved model override for this stage, empty for
	// the agent default.
	StageModel string
}

// ConfigString reads a string key from the stage config.
func (c *StageContext) ConfigString(key string) string {
	if v, ok := c.Config[key].(string); ok {
		return v
	}
	return ""
}

// ConfigBool reads a bool key from stage config, falling back to metadata.
func (c *StageContext) ConfigBool(key string) bool {
	if v, ok := c.Config[key].(bool); ok {
		return v
	}
	if v, ok := c.Metadata[key].(bool); ok {
		return v
	}
	return false
}

// ConfigInt reads an integer key from the stage config (JSON numbers
// decode as float64).
func (c *StageContext) ConfigInt(key string, def int) int {
	switch v := c.Config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// StageResult is what a stage's Execute returns.
type StageResult struct {
	Status     string         `json:"status"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	Artifacts  map[string]any `json:"artifacts,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// Completed builds a successful result.
func Completed(message string) *StageResult {
	return &StageResult{Status: StatusCompleted, Message: message}
}

// Failed builds a failed result.
func Failed(message string, err error) *StageResult {
	r := &StageResult{Status: StatusFailed, Message: message}
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Error = message
	}
	return r
}

// Stage is the contract every stage implementation satisfies.
type Stage interface {
	Name() string
	DisplayName() string
	// Dependencies lists stage names that must have run before this one.
	Dependencies() []string
	// Preconditions runs cheap checks; a non-nil error aborts the stage
	// before execution.
	Preconditions(ctx context.Context, sc *StageContext) error
	// ShouldSkip is the policy-level opt-out; a true return marks the
	// stage skipped with the given reason.
	ShouldSkip(ctx context.Context, sc *StageContext) (bool, string)
	Execute(ctx context.Context, sc *StageContext) *StageResult
	OnFailure(ctx context.Context, sc *StageContext, stageErr error)
	Cleanup(ctx context.Context, sc *StageContext)
}

// BaseStage provides no-op hook implementations for embedding.
type BaseStage struct{}

func (BaseStage) Preconditions(context.Context, *StageContext) error { return nil }

func (BaseStage) ShouldSkip(context.Context, *StageContext) (bool, string) { return false, "" }

func (BaseStage) OnFailure(context.Context, *StageContext, error) {}

func (BaseStage) Cleanup(context.Context, *StageContext) {}
