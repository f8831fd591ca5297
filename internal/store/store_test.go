package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentick/adw/internal/logger"
	"github.com/agentick/adw/internal/state"
)

var dsnCounter int

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dsnCounter++
	dsn := fmt.Sprintf("file:store_test_%s_%d?mode=memory&cache=shared", t.Name(), dsnCounter)
	s, err := New(dsn, logger.Nop(), opts...)
	require.NoError(t, err)
	return s
}

func fullState(adwID string) *state.ADWState {
	n := 42
	st := state.New(adwID)
	st.IssueNumber = &n
	st.IssueTitle = "Add dark mode"
	st.IssueBody = "Users want a dark theme."
	st.IssueClass = "/feature"
	st.BranchName = "feature-issue-42-adw-" + adwID
	st.WorktreePath = "/tmp/trees/" + adwID
	st.CurrentStage = "build"
	st.Status = state.StatusRunning
	st.WorkflowName = "dynamic_plan_build"
	st.ModelSet = "base"
	st.DataSource = state.SourceGitHub
	st.IssueJSON = map[string]any{"title": "Add dark mode", "number": float64(42)}
	st.OrchestratorState = map[string]any{"workflow_name": "dynamic_plan_build"}
	st.PlanFile = "specs/issue-42-plan.md"
	st.AllADWs = []string{"dynamic_plan_build"}
	st.PatchHistory = []map[string]any{{"patch": "one"}}
	st.PatchSourceMode = "manual"
	return st
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	original := fullState("a1b2c3d4")
	require.NoError(t, s.Save(original))

	loaded, err := s.Load("a1b2c3d4")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, original.ADWID, loaded.ADWID)
	assert.Equal(t, *original.IssueNumber, *loaded.IssueNumber)
	assert.Equal(t, original.IssueTitle, loaded.IssueTitle)
	assert.Equal(t, original.IssueClass, loaded.IssueClass)
	assert.Equal(t, original.BranchName, loaded.BranchName)
	assert.Equal(t, original.WorktreePath, loaded.WorktreePath)
	assert.Equal(t, original.CurrentStage, loaded.CurrentStage)
	assert.Equal(t, original.Status, loaded.Status)
	assert.Equal(t, original.IssueJSON, loaded.IssueJSON)
	assert.Equal(t, original.OrchestratorState, loaded.OrchestratorState)
	assert.Equal(t, original.AllADWs, loaded.AllADWs)
	assert.Equal(t, original.PatchHistory, loaded.PatchHistory)
	assert.Equal(t, original.PlanFile, loaded.PlanFile)
	assert.False(t, loaded.UpdatedAt.IsZero())
	assert.False(t, loaded.CreatedAt.IsZero())
}

func TestSave_IsUpsert(t *testing.T) {
	s := newTestStore(t)
	st := fullState("a1b2c3d4")
	require.NoError(t, s.Save(st))
	require.NoError(t, s.Save(st))

	rows, err := s.ListAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSave_SetsCompletedAtOnce(t *testing.T) {
	s := newTestStore(t)
	st := fullState("a1b2c3d4")
	require.NoError(t, s.Save(st))

	loaded, _ := s.Load("a1b2c3d4")
	assert.Nil(t, loaded.CompletedAt)

	st.MarkCompleted()
	require.NoError(t, s.Save(st))
	loaded, _ = s.Load("a1b2c3d4")
	require.NotNil(t, loaded.CompletedAt)
	first := *loaded.CompletedAt

	// Saving again must not move completed_at.
	require.NoError(t, s.Save(loaded))
	loaded, _ = s.Load("a1b2c3d4")
	require.NotNil(t, loaded.CompletedAt)
	assert.Equal(t, first, *loaded.CompletedAt)
}

func TestLoad_Absent(t *testing.T) {
	s := newTestStore(t)
	loaded, err := s.Load("deadbeef")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSoftDelete_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(fullState("a1b2c3d4")))

	affected, err := s.SoftDelete("a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	// Second delete is a no-op affecting zero rows.
	affected, err = s.SoftDelete("a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	// Deleting a missing row is also a zero-row no-op.
	affected, err = s.SoftDelete("00000000")
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
}

func TestSoftDelete_HidesRow(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(fullState("a1b2c3d4")))
	require.NoError(t, s.Save(fullState("ffffffff")))

	_, err := s.SoftDelete("a1b2c3d4")
	require.NoError(t, err)

	loaded, err := s.Load("a1b2c3d4")
	require.NoError(t, err)
	assert.Nil(t, loaded, "soft-deleted rows must not load")

	rows, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ffffffff", rows[0].ADWID)
}

func TestLoad_InvalidJSONColumnTolerated(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(fullState("a1b2c3d4")))

	// Corrupt one JSON column directly.
	require.NoError(t, s.db.Exec(
		`UPDATE adw_states SET issue_json = 'not json' WHERE adw_id = 'a1b2c3d4'`).Error)

	loaded, err := s.Load("a1b2c3d4")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Nil(t, loaded.IssueJSON, "invalid column yields nil field")
	assert.Equal(t, "Add dark mode", loaded.IssueTitle, "other fields survive")
}

func TestAppendActivity_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ev := ActivityEvent{
		EventType: "stage_failed",
		EventData: map[string]any{"stage": "build"},
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendActivity("a1b2c3d4", ev))
	}
	rows, err := s.Activity("a1b2c3d4")
	require.NoError(t, err)
	assert.Len(t, rows, 3, "identical payloads insert N rows")
}

func TestLoad_MirrorFallback(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "agents", "a1b2c3d4")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	mirror := `{"adw_id":"a1b2c3d4","issue_title":"from mirror"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adw_state.json"), []byte(mirror), 0o644))

	s := newTestStore(t, WithProjectRoot(root))
	loaded, err := s.Load("a1b2c3d4")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "from mirror", loaded.IssueTitle)
}

func TestLoad_MirrorSuppressedByDBOnly(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "agents", "a1b2c3d4")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adw_state.json"),
		[]byte(`{"adw_id":"a1b2c3d4"}`), 0o644))

	t.Setenv("ADW_DB_ONLY", "true")
	s := newTestStore(t, WithProjectRoot(root))
	loaded, err := s.Load("a1b2c3d4")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoad_MirrorSuppressedAfterDelete(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "agents", "a1b2c3d4")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adw_state.json"),
		[]byte(`{"adw_id":"a1b2c3d4"}`), 0o644))

	s := newTestStore(t, WithProjectRoot(root))
	require.NoError(t, s.Save(fullState("a1b2c3d4")))
	_, err := s.SoftDelete("a1b2c3d4")
	require.NoError(t, err)

	loaded, err := s.Load("a1b2c3d4")
	require.NoError(t, err)
	assert.Nil(t, loaded, "deletion wins over the mirror")
}
