package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/agentick/adw/internal/config"
	"github.com/agentick/adw/internal/events"
	"github.com/agentick/adw/internal/gitops"
	"github.com/agentick/adw/internal/logger"
	"github.com/agentick/adw/internal/state"
	"github.com/agentick/adw/internal/store"
	"github.com/agentick/adw/internal/worktree"
)

// TerminalStageReady is where a completed workflow lands.
const TerminalStageReady = "ready-to-merge"

// Engine drives one workflow instance through its stages. Stages execute
// strictly sequentially; parallelism across workflows comes from running
// independent engines.
type Engine struct {
	ADWID       string
	IssueNumber *int
	Config      *config.WorkflowConfig
	OrchConfig  *config.OrchestratorConfig
	ProjectRoot string

	Store     *store.Store
	Registry  *Registry
	Emitter   *events.Emitter
	Git       *gitops.Git
	Worktrees *worktree.Manager
	Log       *logger.Logger

	st        *state.ADWState
	execution *WorkflowExecution
}

// Run executes (or resumes) the workflow. It returns nil when every stage
// completed or was skipped, and the first fatal error otherwise.
func (e *Engine) Run(ctx context.Context) (runErr error) {
	if err := e.loadState(); err != nil {
		return err
	}
	e.execution = e.initExecution()

	e.execution.Status = WorkflowRunning
	now := time.Now().UTC()
	if e.execution.StartedAt == nil {
		e.execution.StartedAt = &now
	}
	e.st.Status = state.StatusRunning
	e.st.WorkflowName = e.Config.Name
	e.st.AppendADWID(e.Config.Name)
	if err := e.saveExecution(); err != nil {
		return err
	}

	e.Log.Info("starting workflow", "workflow", e.Config.DisplayName, "stages", len(e.Config.Stages))

	firstStage := ""
	if len(e.Config.Stages) > 0 {
		firstStage = e.firstEnabledStage()
	}
	e.emit(events.WorkflowStarted, firstStage, "Starting workflow: "+e.Config.DisplayName, nil)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("workflow panic: %v", r)
			e.failWorkflow(err)
			runErr = err
		}
	}()

	for i, stageCfg := range e.Config.Stages {
		// Resume support: stages recorded completed are not re-run.
		if e.execution.Stages[i].Status == StatusCompleted {
			e.Log.Info("skipping already completed stage", "stage", stageCfg.Name)
			continue
		}
		if !stageCfg.Enabled {
			e.Log.Info("skipping disabled stage", "stage", stageCfg.Name)
			continue
		}
		if err := ctx.Err(); err != nil {
			e.failWorkflow(err)
			return err
		}

		e.execution.CurrentStageIndex = i
		if err := e.saveExecution(); err != nil {
			return err
		}

		stage := e.Registry.Create(stageCfg.Name)
		if stage == nil {
			e.Log.Error("unknown stage, skipping", "stage", stageCfg.Name)
			continue
		}

		result := e.executeStage(ctx, stage, e.execution.Stages[i], stageCfg)

		// The stage subprocess may have written state; reload before the
		// engine persists anything else so its writes are not clobbered.
		e.reloadState()

		if result.Status == StatusFailed {
			if !e.continueAfterFailure(stageCfg, result) {
				e.failWorkflow(fmt.Errorf("stage %s failed: %s", stageCfg.Name, result.Error))
				return fmt.Errorf("stage %q failed: %s", stageCfg.Name, result.Error)
			}
			e.Log.Warn("stage failed but workflow continues", "stage", stageCfg.Name)
		}
	}

	e.execution.Status = WorkflowCompleted
	done := time.Now().UTC()
	e.execution.CompletedAt = &done
	e.st.CurrentStage = TerminalStageReady
	e.st.MarkCompleted()
	if err := e.saveExecution(); err != nil {
		return err
	}

	lastStage := ""
	if n := len(e.Config.Stages); n > 0 {
		lastStage = e.Config.Stages[n-1].Name
	}
	e.emit(events.WorkflowCompleted, lastStage,
		fmt.Sprintf("Workflow %s completed successfully", e.Config.DisplayName), nil)
	e.appendActivity("workflow_completed", nil)
	e.Log.Info("workflow completed")
	return nil
}

func (e *Engine) loadState() error {
	st, err := e.Store.Load(e.ADWID)
	if err != nil {
		return err
	}
	if st == nil {
		st = state.New(e.ADWID)
	}
	st.ADWID = e.ADWID
	if e.IssueNumber != nil {
		st.IssueNumber = e.IssueNumber
	}
	e.st = st
	return nil
}

func (e *Engine) reloadState() {
	st, err := e.Store.Load(e.ADWID)
	if err != nil {
		e.Log.Warn("state reload failed", "error", err)
		return
	}
	if st != nil {
		e.st = st
	}
}

// initExecution restores a resumable execution from orchestrator_state or
// creates a fresh one.
func (e *Engine) initExecution() *WorkflowExecution {
	if raw, ok := e.st.OrchestratorState["execution"].(map[string]any); ok {
		exec, err := ExecutionFromMap(raw)
		if err == nil && exec.IsResumable() && len(exec.Stages) == len(e.Config.Stages) {
			e.Log.Info("resuming workflow", "stage_index", exec.CurrentStageIndex)
			return exec
		}
		if err != nil {
			e.Log.Warn("could not restore execution", "error", err)
		}
	}

	names := make([]string, 0, len(e.Config.Stages))
	for _, sc := range e.Config.Stages {
		names = append(names, sc.Name)
	}
	return NewExecution(e.Config.Name, e.ADWID, names)
}

func (e *Engine) executeStage(ctx context.Context, stage Stage, exec *StageExecution, stageCfg config.StageConfig) *StageResult {
	started := time.Now().UTC()
	exec.StartedAt = &started
	exec.Status = StatusRunning
	exec.Attempts++
	if err := e.saveExecution(); err != nil {
		return Failed("persisting execution state", err)
	}

	e.Log.Info("=== stage ===", "stage", stage.DisplayName())

	sc := e.buildContext(stage, stageCfg)

	finish := func(result *StageResult) *StageResult {
		completed := time.Now().UTC()
		exec.CompletedAt = &completed
		exec.Status = result.Status
		exec.Error = result.Error
		exec.DurationMS = result.DurationMS
		exec.Artifacts = result.Artifacts
		stage.Cleanup(ctx, sc)
		// Same reload-before-write rule as the engine loop: the stage may
		// have saved state from inside Execute.
		e.reloadState()
		if err := e.saveExecution(); err != nil {
			e.Log.Error("persisting execution state", "error", err)
		}
		return result
	}

	if err := stage.Preconditions(ctx, sc); err != nil {
		e.Log.Error("precondition failed", "stage", stage.Name(), "error", err)
		e.emitStage(events.StageFailed, stage.Name(), "Precondition failed: "+err.Error(), &eventOpts{err: err})
		e.appendActivity("stage_failed", map[string]any{"stage": stage.Name(), "reason": "precondition", "error": err.Error()})
		return finish(Failed("Precondition failed: "+err.Error(), err))
	}

	if skip, reason := stage.ShouldSkip(ctx, sc); skip {
		if reason == "" {
			reason = "Stage skipped"
		}
		e.Log.Info("skipping stage", "stage", stage.Name(), "reason", reason)
		e.emitStage(events.StageSkipped, stage.Name(), reason, &eventOpts{skipReason: reason})
		return finish(&StageResult{Status: StatusSkipped, Message: reason})
	}

	e.st.CurrentStage = stage.Name()
	if err := e.Store.Save(e.st); err != nil {
		e.Log.Error("saving current stage", "error", err)
	}
	e.emitStage(events.StageStarted, stage.Name(), "Starting "+stage.DisplayName(), nil)

	result := e.runWithRecovery(ctx, stage, sc)
	durationMS := time.Since(started).Milliseconds()
	result.DurationMS = durationMS
	exec.Status = result.Status

	if result.Status == StatusCompleted {
		e.Log.Info("stage completed", "stage", stage.Name(), "duration_ms", durationMS)
		e.emitStage(events.StageCompleted, stage.Name(),
			stage.DisplayName()+" completed successfully", &eventOpts{durationMS: durationMS})
	} else if result.Status == StatusFailed {
		e.Log.Error("stage failed", "stage", stage.Name(), "error", result.Error)
		stage.OnFailure(ctx, sc, fmt.Errorf("%s", result.Error))
		e.emitStage(events.StageFailed, stage.Name(), stage.DisplayName()+" failed",
			&eventOpts{err: fmt.Errorf("%s", result.Error), durationMS: durationMS})
		e.appendActivity("stage_failed", map[string]any{"stage": stage.Name(), "error": result.Error})
	}
	return finish(result)
}

// runWithRecovery converts a panicking stage into a failed result so one
// stage cannot take down the engine loop.
func (e *Engine) runWithRecovery(ctx context.Context, stage Stage, sc *StageContext) (result *StageResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("stage panic: %v", r)
			stage.OnFailure(ctx, sc, err)
			result = Failed(err.Error(), err)
		}
	}()
	result = stage.Execute(ctx, sc)
	if result == nil {
		result = Failed("stage returned no result", nil)
	}
	return result
}

func (e *Engine) buildContext(stage Stage, stageCfg config.StageConfig) *StageContext {
	var metadata map[string]any
	if e.OrchConfig != nil {
		metadata = e.OrchConfig.Metadata
	}
	return &StageContext{
		ADWID:           e.ADWID,
		IssueNumber:     e.st.IssueNumber,
		State:           e.st,
		WorktreePath:    e.st.WorktreePath,
		ProjectRoot:     e.ProjectRoot,
		Log:             e.Log.With("stage", stage.Name()),
		Store:           e.Store,
		Git:             e.Git,
		Worktrees:       e.Worktrees,
		Emitter:         e.Emitter,
		Config:          stageCfg.CustomArgs,
		Metadata:        metadata,
		PreviousStage:   e.previousCompletedStage(stage.Name()),
		StageIndex:      e.execution.CurrentStageIndex,
		TotalStages:     len(e.Config.Stages),
		CompletedStages: e.execution.CompletedStages(),
		SkippedStages:   e.execution.SkippedStages(),
		StageModel:      modelFor(stage.Name(), stageCfg.Model, e.st.ModelSet),
	}
}

func (e *Engine) continueAfterFailure(stageCfg config.StageConfig, result *StageResult) bool {
	if e.OrchConfig != nil && e.OrchConfig.ContinueOnFailure {
		return true
	}
	return e.Config.FailureStrategy() == "continue"
}

func (e *Engine) failWorkflow(err error) {
	e.execution.Status = WorkflowFailed
	e.execution.Error = err.Error()
	e.st.Status = state.StatusFailed
	if saveErr := e.saveExecution(); saveErr != nil {
		e.Log.Error("persisting failed execution", "error", saveErr)
	}
	stageName := ""
	if e.execution.CurrentStageIndex < len(e.Config.Stages) {
		stageName = e.Config.Stages[e.execution.CurrentStageIndex].Name
	}
	e.emit(events.WorkflowFailed, stageName, "Workflow failed: "+err.Error(), err)
	e.appendActivity("workflow_failed", map[string]any{"error": err.Error()})
}

// previousCompletedStage returns the last completed stage before the
// named one, in iteration order.
func (e *Engine) previousCompletedStage(current string) string {
	last := ""
	for _, se := range e.execution.Stages {
		if se.StageName == current {
			break
		}
		if se.Status == StatusCompleted {
			last = se.StageName
		}
	}
	return last
}

// nextEnabledStage returns the next enabled stage after the named one, or
// "" when it is the last.
func (e *Engine) nextEnabledStage(current string) string {
	found := false
	for _, sc := range e.Config.Stages {
		if found && sc.Enabled {
			return sc.Name
		}
		if sc.Name == current {
			found = true
		}
	}
	return ""
}

func (e *Engine) firstEnabledStage() string {
	for _, sc := range e.Config.Stages {
		if sc.Enabled {
			return sc.Name
		}
	}
	return ""
}

type eventOpts struct {
	err        error
	skipReason string
	durationMS int64
}

func (e *Engine) emitStage(t events.Type, stageName, message string, opts *eventOpts) {
	p := events.StagePayload{
		EventType:       t,
		ADWID:           e.ADWID,
		WorkflowName:    e.Config.Name,
		StageName:       stageName,
		PreviousStage:   e.previousCompletedStage(stageName),
		NextStage:       e.nextEnabledStage(stageName),
		Message:         message,
		StageIndex:      e.execution.CurrentStageIndex,
		TotalStages:     len(e.Config.Stages),
		CompletedStages: e.execution.CompletedStages(),
		PendingStages:   e.execution.PendingStages(),
	}
	if opts != nil {
		if opts.err != nil {
			p.Error = opts.err.Error()
		}
		p.SkipReason = opts.skipReason
		p.DurationMS = opts.durationMS
	}
	e.Emitter.Emit(p)
}

func (e *Engine) emit(t events.Type, stageName, message string, err error) {
	opts := &eventOpts{}
	if err != nil {
		opts.err = err
	}
	e.emitStage(t, stageName, message, opts)
}

// saveExecution persists the execution record inside orchestrator_state.
func (e *Engine) saveExecution() error {
	if e.st.OrchestratorState == nil {
		e.st.OrchestratorState = make(map[string]any)
	}
	stages := make([]string, 0, len(e.Config.Stages))
	for _, sc := range e.Config.Stages {
		stages = append(stages, sc.Name)
	}
	cfg := map[string]any{}
	if e.OrchConfig != nil {
		cfg["max_instances"] = e.OrchConfig.MaxInstances
		cfg["continue_on_failure"] = e.OrchConfig.ContinueOnFailure
	}
	e.st.OrchestratorState["workflow_name"] = e.Config.Name
	e.st.OrchestratorState["stages"] = stages
	e.st.OrchestratorState["config"] = cfg
	e.st.OrchestratorState["execution"] = e.execution.ToMap()
	return e.Store.Save(e.st)
}

func (e *Engine) appendActivity(eventType string, data map[string]any) {
	if err := e.Store.AppendActivity(e.ADWID, store.ActivityEvent{
		EventType: eventType,
		EventData: data,
	}); err != nil {
		e.Log.Warn("activity append failed", "error", err)
	}
}
