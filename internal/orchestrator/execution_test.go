package orchestrator

import (
	"reflect"
	"testing"
	"time"
)

func TestExecution_MapRoundTrip(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(90 * time.Second)

	original := NewExecution("dynamic_plan_build", "a1b2c3d4", []string{"plan", "build"})
	original.Status = WorkflowFailed
	original.CurrentStageIndex = 1
	original.StartedAt = &started
	original.Error = "build exploded"
	original.Stages[0].Status = StatusCompleted
	original.Stages[0].StartedAt = &started
	original.Stages[0].CompletedAt = &done
	original.Stages[0].Attempts = 1
	original.Stages[0].DurationMS = 90000
	original.Stages[1].Status = StatusFailed
	original.Stages[1].Error = "build exploded"
	original.Stages[1].Artifacts = map[string]any{"log": "tail"}

	restored, err := ExecutionFromMap(original.ToMap())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(original, restored) {
		t.Fatalf("round trip mismatch:\noriginal: %+v\nrestored: %+v", original, restored)
	}
}

func TestIsResumable(t *testing.T) {
	exec := NewExecution("wf", "a1b2c3d4", []string{"plan", "build"})

	exec.Status = WorkflowRunning
	if exec.IsResumable() {
		t.Fatal("running execution is not resumable")
	}

	exec.Status = WorkflowFailed
	exec.CurrentStageIndex = 1
	if !exec.IsResumable() {
		t.Fatal("failed in-bounds execution should resume")
	}

	exec.Status = WorkflowPaused
	if !exec.IsResumable() {
		t.Fatal("paused execution should resume")
	}

	exec.CurrentStageIndex = 2
	if exec.IsResumable() {
		t.Fatal("out-of-bounds index is not resumable")
	}

	exec.Status = WorkflowCompleted
	exec.CurrentStageIndex = 0
	if exec.IsResumable() {
		t.Fatal("completed execution is not resumable")
	}
}

func TestStageProjections(t *testing.T) {
	exec := NewExecution("wf", "a1b2c3d4", []string{"plan", "test", "build"})
	exec.Stages[0].Status = StatusCompleted
	exec.Stages[1].Status = StatusSkipped

	if got := exec.CompletedStages(); !reflect.DeepEqual(got, []string{"plan"}) {
		t.Fatalf("CompletedStages = %v", got)
	}
	if got := exec.SkippedStages(); !reflect.DeepEqual(got, []string{"test"}) {
		t.Fatalf("SkippedStages = %v", got)
	}
	if got := exec.PendingStages(); !reflect.DeepEqual(got, []string{"build"}) {
		t.Fatalf("PendingStages = %v", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if s := r.Create("plan"); s != nil {
		t.Fatal("empty registry should return nil")
	}
	r.Register("plan", func() Stage { return &fakeStage{name: "plan"} })
	if s := r.Create("plan"); s == nil || s.Name() != "plan" {
		t.Fatal("registered stage should instantiate")
	}
	if got := r.ListStages(); !reflect.DeepEqual(got, []string{"plan"}) {
		t.Fatalf("ListStages = %v", got)
	}
}
