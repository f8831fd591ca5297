package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// validTransitionStages is the closed set of stages the frontend's board
// understands as transition targets.
var validTransitionStages = map[string]bool{
	"backlog":        true,
	"plan":           true,
	"build":          true,
	"test":           true,
	"review":         true,
	"document":       true,
	"ready-to-merge": true,
	"pr":             true,
	"completed":      true,
	"errored":        true,
}

// stageEventRequest accepts both supported shapes: the direct transition
// form {from_stage, to_stage} and the orchestrator-event form keyed by
// event_type. The two normalize to one stage_transition broadcast here,
// at the boundary.
type stageEventRequest struct {
	ADWID        string `json:"adw_id" binding:"required"`
	WorkflowName string `json:"workflow_name"`
	Message      string `json:"message"`

	// Direct transition shape.
	FromStage string `json:"from_stage"`
	ToStage   string `json:"to_stage"`

	// Orchestrator event shape.
	EventType     string  `json:"event_type"`
	StageName     string  `json:"stage_name"`
	PreviousStage string  `json:"previous_stage"`
	NextStage     string  `json:"next_stage"`
	Error         string  `json:"error"`
	SkipReason    string  `json:"skip_reason"`
	DurationMS    float64 `json:"duration_ms"`
}

// transitionFor maps an orchestrator event type to its board transition.
// The bool reports whether a transition should be emitted at all.
func transitionFor(req *stageEventRequest) (from, to string, emit bool) {
	switch req.EventType {
	case "workflow_started":
		return "backlog", req.StageName, true
	case "stage_started":
		return req.PreviousStage, req.StageName, true
	case "stage_completed":
		// The last stage has no next stage; workflow_completed follows and
		// carries the terminal transition.
		if req.NextStage == "" {
			return "", "", false
		}
		return req.StageName, req.NextStage, true
	case "workflow_completed":
		return req.StageName, "ready-to-merge", true
	case "stage_failed", "workflow_failed":
		return req.StageName, "errored", true
	case "stage_skipped":
		return "", "", false
	default:
		return "", "", false
	}
}

func (s *Server) stageEvent(c *gin.Context) {
	var req stageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stage event body: " + err.Error()})
		return
	}

	var from, to string
	if req.EventType != "" {
		var emit bool
		from, to, emit = transitionFor(&req)
		if !emit {
			if !knownEventType(req.EventType) {
				// Tolerate event-type drift from newer workflow processes.
				s.Log.Warn("unknown stage event type", "event_type", req.EventType)
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "broadcast": false})
			return
		}
	} else {
		if !validTransitionStages[req.ToStage] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to_stage: " + req.ToStage})
			return
		}
		from, to = req.FromStage, req.ToStage
	}

	s.WS.BroadcastStageTransition(req.ADWID, req.WorkflowName, from, to, req.Message)
	c.JSON(http.StatusOK, gin.H{"success": true, "broadcast": true})
}

func knownEventType(t string) bool {
	switch t {
	case "workflow_started", "workflow_completed", "workflow_failed",
		"stage_started", "stage_completed", "stage_skipped", "stage_failed":
		return true
	}
	return false
}
