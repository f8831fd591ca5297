// Package state defines the per-workflow ADWState value type shared by the
// engine, stages, and HTTP handlers. Persistence lives in the store
// package; this package only knows the shape of the data and the legacy
// on-disk JSON mirror.
package state

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// Workflow status values.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusFailed    = "failed"
	StatusCompleted = "completed"
)

// StageBacklog is the stage every new workflow starts in.
const StageBacklog = "backlog"

// Data sources a workflow can be bound to.
const (
	SourceGitHub = "github"
	SourceKanban = "kanban"
)

var adwIDRe = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)

// ADWState is the full per-workflow state. JSON tags match both the SQLite
// column names and the legacy adw_state.json mirror.
type ADWState struct {
	ADWID       string `json:"adw_id"`
	IssueNumber *int   `json:"issue_number,omitempty"`
	IssueTitle  string `json:"issue_title,omitempty"`
	IssueBody   string `json:"issue_body,omitempty"`
	// IssueClass keeps its leading slash internally (e.g. "/feature");
	// it is stripped only at the discovery/API boundary.
	IssueClass   string `json:"issue_class,omitempty"`
	BranchName   string `json:"branch_name,omitempty"`
	WorktreePath string `json:"worktree_path,omitempty"`

	CurrentStage string `json:"current_stage,omitempty"`
	Status       string `json:"status,omitempty"`
	WorkflowName string `json:"workflow_name,omitempty"`
	ModelSet     string `json:"model_set,omitempty"`
	DataSource   string `json:"data_source,omitempty"`

	IssueJSON         map[string]any   `json:"issue_json,omitempty"`
	OrchestratorState map[string]any   `json:"orchestrator_state,omitempty"`
	PlanFile          string           `json:"plan_file,omitempty"`
	AllADWs           []string         `json:"all_adws,omitempty"`
	PatchFile         string           `json:"patch_file,omitempty"`
	PatchHistory      []map[string]any `json:"patch_history,omitempty"`
	PatchSourceMode   string           `json:"patch_source_mode,omitempty"`

	// Legacy transport fields; nil when a reverse proxy serves the worktree.
	BackendPort   *int `json:"backend_port,omitempty"`
	WebsocketPort *int `json:"websocket_port,omitempty"`
	FrontendPort  *int `json:"frontend_port,omitempty"`

	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New returns a fresh state in the backlog stage.
func New(adwID string) *ADWState {
	return &ADWState{
		ADWID:        adwID,
		CurrentStage: StageBacklog,
		Status:       StatusPending,
	}
}

// NewID generates an 8-character hex adw_id.
func NewID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("generating adw id: %v", err))
	}
	return hex.EncodeToString(b)
}

// ValidID reports whether s is a well-formed adw_id.
func ValidID(s string) bool {
	return adwIDRe.MatchString(s)
}

// AppendADWID records a workflow name in AllADWs. The list is set-like:
// repeated appends of the same name are no-ops.
func (s *ADWState) AppendADWID(workflowName string) {
	for _, existing := range s.AllADWs {
		if existing == workflowName {
			return
		}
	}
	s.AllADWs = append(s.AllADWs, workflowName)
}

// MarkCompleted flags the workflow done. The store stamps completed_at.
func (s *ADWState) MarkCompleted() {
	s.Completed = true
	s.Status = StatusCompleted
}

// StrippedIssueClass returns the issue class without its leading slash.
func (s *ADWState) StrippedIssueClass() string {
	if len(s.IssueClass) > 0 && s.IssueClass[0] == '/' {
		return s.IssueClass[1:]
	}
	return s.IssueClass
}

// TitleOrFallback returns the primary issue title, falling back to
// issue_json.title. The CLI status view uses it; the discovery layer
// applies the same fallback itself for list summaries.
func (s *ADWState) TitleOrFallback() string {
	if s.IssueTitle != "" {
		return s.IssueTitle
	}
	if t, ok := s.IssueJSON["title"].(string); ok {
		return t
	}
	return ""
}
