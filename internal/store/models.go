package store

import (
	"time"

	"gorm.io/datatypes"
)

// ADWStateRecord is the adw_states row. JSON payload fields are serialized
// at this boundary only; everywhere else they are typed values on
// state.ADWState.
type ADWStateRecord struct {
	ADWID        string `gorm:"column:adw_id;primaryKey;size:8;not null"`
	IssueNumber  *int   `gorm:"column:issue_number"`
	IssueTitle   string `gorm:"column:issue_title"`
	IssueBody    string `gorm:"column:issue_body"`
	IssueClass   string `gorm:"column:issue_class"`
	BranchName   string `gorm:"column:branch_name"`
	WorktreePath string `gorm:"column:worktree_path"`

	CurrentStage string `gorm:"column:current_stage;default:backlog"`
	Status       string `gorm:"column:status;default:pending"`
	WorkflowName string `gorm:"column:workflow_name"`
	ModelSet     string `gorm:"column:model_set"`
	DataSource   string `gorm:"column:data_source"`

	IssueJSON         datatypes.JSON `gorm:"column:issue_json"`
	OrchestratorState datatypes.JSON `gorm:"column:orchestrator_state"`
	PlanFile          string         `gorm:"column:plan_file"`
	AllADWs           datatypes.JSON `gorm:"column:all_adws"`
	PatchFile         string         `gorm:"column:patch_file"`
	PatchHistory      datatypes.JSON `gorm:"column:patch_history"`
	PatchSourceMode   string         `gorm:"column:patch_source_mode"`

	BackendPort   *int `gorm:"column:backend_port"`
	WebsocketPort *int `gorm:"column:websocket_port"`
	FrontendPort  *int `gorm:"column:frontend_port"`

	Completed   bool       `gorm:"column:completed"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	DeletedAt   *time.Time `gorm:"column:deleted_at;index"`
}

func (ADWStateRecord) TableName() string { return "adw_states" }

// ActivityLogRecord is an append-only adw_activity_logs row.
type ActivityLogRecord struct {
	ID           uint           `gorm:"column:id;primaryKey;autoIncrement"`
	ADWID        string         `gorm:"column:adw_id;size:8;index;not null"`
	EventType    string         `gorm:"column:event_type"`
	FieldChanged string         `gorm:"column:field_changed"`
	OldValue     string         `gorm:"column:old_value"`
	NewValue     string         `gorm:"column:new_value"`
	EventData    datatypes.JSON `gorm:"column:event_data"`
	Timestamp    time.Time      `gorm:"column:timestamp"`
}

func (ActivityLogRecord) TableName() string { return "adw_activity_logs" }
