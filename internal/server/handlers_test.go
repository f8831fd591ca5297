package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentick/adw/internal/state"
)

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListADWs(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	st := state.New("a1b2c3d4")
	st.IssueClass = "/feature"
	st.IssueTitle = "Add dark mode"
	require.NoError(t, srv.Store.Save(st))

	w := doRequest(router, http.MethodGet, "/api/adws/list")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ADWs []struct {
			ADWID      string `json:"adw_id"`
			IssueClass string `json:"issue_class"`
			IssueTitle string `json:"issue_title"`
		} `json:"adws"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "a1b2c3d4", body.ADWs[0].ADWID)
	assert.Equal(t, "feature", body.ADWs[0].IssueClass, "class exposed without slash")
	assert.Equal(t, "Add dark mode", body.ADWs[0].IssueTitle)
}

func TestGetADW(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	st := state.New("a1b2c3d4")
	st.IssueTitle = "Fix login"
	require.NoError(t, srv.Store.Save(st))

	w := doRequest(router, http.MethodGet, "/api/adws/a1b2c3d4")
	require.Equal(t, http.StatusOK, w.Code)

	var got state.ADWState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "a1b2c3d4", got.ADWID)
	assert.Equal(t, "Fix login", got.IssueTitle)
}

func TestGetADW_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(srv.Router(), http.MethodGet, "/api/adws/deadbeef")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidADWID_AllEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/adws/bad-id"},
		{http.MethodGet, "/api/adws/toolongid9/plan"},
		{http.MethodDelete, "/api/adws/short"},
		{http.MethodPost, "/api/worktree/open/bad!id88"},
		{http.MethodPost, "/api/codebase/open/no"},
	}
	for _, p := range paths {
		w := doRequest(router, p.method, p.path)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%s %s", p.method, p.path)
	}
}

func TestGetPlan(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	planDir := filepath.Join(srv.ProjectRoot, "agents", "a1b2c3d4", "sdlc_planner")
	require.NoError(t, os.MkdirAll(planDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(planDir, "plan.md"),
		[]byte("# Plan\n\nDo the thing."), 0o644))

	w := doRequest(router, http.MethodGet, "/api/adws/a1b2c3d4/plan")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		PlanContent string `json:"plan_content"`
		PlanFile    string `json:"plan_file"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.PlanContent, "Do the thing.")
	assert.Contains(t, body.PlanFile, "plan.md")
}

func TestGetPlan_Missing(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(srv.Router(), http.MethodGet, "/api/adws/a1b2c3d4/plan")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteADW_Idempotent(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	require.NoError(t, srv.Store.Save(state.New("abcdef01")))

	w := doRequest(router, http.MethodDelete, "/api/adws/abcdef01")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["db_updated"])

	// The list no longer includes it.
	list := doRequest(router, http.MethodGet, "/api/adws/list")
	var listBody struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listBody))
	assert.Equal(t, 0, listBody.Count)

	// Repeat delete finds nothing.
	w = doRequest(router, http.MethodDelete, "/api/adws/abcdef01")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentStateUpdate_FansOut(t *testing.T) {
	srv, conn := newTestServer(t)
	router := srv.Router()

	w := postJSON(t, router, "/api/agent-state-update", map[string]any{
		"type": "agent_status_change",
		"data": map[string]any{"adw_id": "a1b2c3d4", "new_status": "running"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	msgs := conn.byType("agent_status_change")
	require.Len(t, msgs, 1)
	assert.Equal(t, "running", msgs[0].Data["new_status"])
	assert.NotNil(t, msgs[0].Data["timestamp"])
}

func TestAgentStateUpdate_RequiresType(t *testing.T) {
	srv, _ := newTestServer(t)
	w := postJSON(t, srv.Router(), "/api/agent-state-update", map[string]any{
		"data": map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthcheck(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(srv.Router(), http.MethodGet, "/healthcheck")
	assert.Equal(t, http.StatusOK, w.Code)
}
