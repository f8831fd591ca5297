package orchestrator

import (
	"encoding/json"
	"time"
)

// Workflow statuses.
const (
	WorkflowPending   = "pending"
	WorkflowRunning   = "running"
	WorkflowPaused    = "paused"
	WorkflowFailed    = "failed"
	WorkflowCompleted = "completed"
)

// StageExecution tracks one stage's progress inside a workflow run.
type StageExecution struct {
	StageName   string         `json:"stage_name"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Artifacts   map[string]any `json:"artifacts,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
}

// WorkflowExecution is the engine's persisted execution record, embedded
// as JSON inside ADWState.orchestrator_state for resume support.
type WorkflowExecution struct {
	WorkflowName      string            `json:"workflow_name"`
	ADWID             string            `json:"adw_id"`
	Status            string            `json:"status"`
	CurrentStageIndex int               `json:"current_stage_index"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	Error             string            `json:"error,omitempty"`
	Stages            []*StageExecution `json:"stages"`
}

// NewExecution builds a fresh pending execution for the named stages.
func NewExecution(workflowName, adwID string, stageNames []string) *WorkflowExecution {
	stages := make([]*StageExecution, 0, len(stageNames))
	for _, name := range stageNames {
		stages = append(stages, &StageExecution{StageName: name, Status: StatusPending})
	}
	return &WorkflowExecution{
		WorkflowName: workflowName,
		ADWID:        adwID,
		Status:       WorkflowPending,
		Stages:       stages,
	}
}

// IsResumable reports whether a persisted execution can continue from its
// recorded stage index.
func (w *WorkflowExecution) IsResumable() bool {
	if w.Status != WorkflowFailed && w.Status != WorkflowPaused {
		return false
	}
	return w.CurrentStageIndex >= 0 && w.CurrentStageIndex < len(w.Stages)
}

// CompletedStages returns the names of stages that finished, in order.
func (w *WorkflowExecution) CompletedStages() []string {
	out := []string{}
	for _, s := range w.Stages {
		if s.Status == StatusCompleted {
			out = append(out, s.StageName)
		}
	}
	return out
}

// SkippedStages returns the names of skipped stages, in order.
func (w *WorkflowExecution) SkippedStages() []string {
	out := []string{}
	for _, s := range w.Stages {
		if s.Status == StatusSkipped {
			out = append(out, s.StageName)
		}
	}
	return out
}

// PendingStages returns stages that have not run yet, in order.
func (w *WorkflowExecution) PendingStages() []string {
	out := []string{}
	for _, s := range w.Stages {
		if s.Status == StatusPending {
			out = append(out, s.StageName)
		}
	}
	return out
}

// ToMap serializes the execution for embedding in orchestrator_state.
func (w *WorkflowExecution) ToMap() map[string]any {
	data, err := json.Marshal(w)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// ExecutionFromMap restores an execution from its map form. Round-trip
// through ToMap yields an equal record.
func ExecutionFromMap(m map[string]any) (*WorkflowExecution, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var w WorkflowExecution
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}
