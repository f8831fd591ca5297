package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/agentick/adw/internal/stages"
	"github.com/agentick/adw/internal/state"
)

// adwIDParam validates the path parameter; every parameterized endpoint
// rejects malformed ids with 400 before touching storage.
func (s *Server) adwIDParam(c *gin.Context) (string, bool) {
	adwID := c.Param("adw_id")
	if !state.ValidID(adwID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "adw_id must be 8 alphanumeric characters"})
		return "", false
	}
	return adwID, true
}

func (s *Server) listADWs(c *gin.Context) {
	summaries, err := s.Discovery.ListActive()
	if err != nil {
		s.Log.Error("listing adws", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list workflows"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"adws": summaries, "count": len(summaries)})
}

func (s *Server) getADW(c *gin.Context) {
	adwID, ok := s.adwIDParam(c)
	if !ok {
		return
	}
	st, err := s.Store.Get(adwID)
	if err != nil {
		s.Log.Error("loading adw", "adw_id", adwID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load workflow"})
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ADW not found: " + adwID})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getPlan(c *gin.Context) {
	adwID, ok := s.adwIDParam(c)
	if !ok {
		return
	}
	planPath := filepath.Join(s.ProjectRoot, "agents", adwID, stages.PlannerAgent, "plan.md")
	data, err := os.ReadFile(planPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "plan not found for " + adwID})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"plan_content": string(data),
		"plan_file":    planPath,
	})
}

// deleteADW soft-deletes the state row and removes the worktree. A second
// delete of the same id finds no visible row and returns 404.
func (s *Server) deleteADW(c *gin.Context) {
	adwID, ok := s.adwIDParam(c)
	if !ok {
		return
	}
	affected, err := s.Store.SoftDelete(adwID)
	if err != nil {
		s.Log.Error("soft delete", "adw_id", adwID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete workflow"})
		return
	}
	if affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "ADW not found: " + adwID})
		return
	}

	if err := s.Worktrees.Remove(c.Request.Context(), adwID); err != nil {
		s.Log.Warn("worktree removal during delete failed", "adw_id", adwID, "error", err)
	}

	s.WS.BroadcastAgentDeleted(adwID)
	c.JSON(http.StatusOK, gin.H{"success": true, "db_updated": true})
}

func (s *Server) openWorktree(c *gin.Context) {
	adwID, ok := s.adwIDParam(c)
	if !ok {
		return
	}
	path, ok := s.worktreePathFor(c, adwID)
	if !ok {
		return
	}
	if err := s.Launcher.OpenWorktree(c.Request.Context(), adwID, path); err != nil {
		s.Log.Warn("opening worktree terminal", "adw_id", adwID, "error", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) openCodebase(c *gin.Context) {
	adwID, ok := s.adwIDParam(c)
	if !ok {
		return
	}
	path, ok := s.worktreePathFor(c, adwID)
	if !ok {
		return
	}
	if err := s.Launcher.OpenEditor(c.Request.Context(), adwID, path); err != nil {
		s.Log.Warn("opening editor", "adw_id", adwID, "error", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) worktreePathFor(c *gin.Context, adwID string) (string, bool) {
	st, err := s.Store.Get(adwID)
	if err != nil || st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ADW not found: " + adwID})
		return "", false
	}
	path := st.WorktreePath
	if path == "" {
		path = s.Worktrees.Path(adwID)
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "worktree not found for " + adwID})
		return "", false
	}
	return path, true
}

// agentStateUpdate receives typed agent events from workflow processes
// and fans them out over WebSocket unchanged.
func (s *Server) agentStateUpdate(c *gin.Context) {
	var body struct {
		Type string         `json:"type" binding:"required"`
		Data map[string]any `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {type, data} body"})
		return
	}
	s.WS.Broadcast(body.Type, body.Data)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
