// Package store persists per-workflow ADW state in SQLite. It is the only
// component that touches the database and the only point where the JSON
// payload fields are (de)serialized. Reads filter soft-deleted rows; writes
// are full upserts keyed by adw_id.
package store

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/agentick/adw/internal/logger"
	"github.com/agentick/adw/internal/state"
)

// DefaultDBPath is the on-disk database location relative to project root.
const DefaultDBPath = "adws/database/agentickanban.db"

// Store is the SQLite-backed workflow state store.
type Store struct {
	db          *gorm.DB
	log         *logger.Logger
	projectRoot string
}

// Option configures a Store.
type Option func(*Store)

// WithProjectRoot enables the legacy adw_state.json mirror read-fallback
// rooted at dir (disabled when ADW_DB_ONLY is set).
func WithProjectRoot(dir string) Option {
	return func(s *Store) { s.projectRoot = dir }
}

// New opens (creating directories as needed) and migrates the database at
// path. Use the DSN "file::memory:?cache=shared" for an in-memory store.
func New(path string, logg *logger.Logger, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && !isMemoryDSN(path) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageErr(ReasonOpen, err)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, storageErr(ReasonOpen, err)
	}
	if err := db.AutoMigrate(&ADWStateRecord{}, &ActivityLogRecord{}); err != nil {
		return nil, storageErr(ReasonMigrate, err)
	}

	s := &Store{db: db, log: logg.With("component", "store")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func isMemoryDSN(path string) bool {
	return path == ":memory:" || len(path) >= 5 && path[:5] == "file:"
}

// Save upserts the full state row. JSON payloads are serialized here;
// updated_at is stamped, and completed_at is set the first time the state
// transitions to completed.
func (s *Store) Save(st *state.ADWState) error {
	rec, err := toRecord(st)
	if err != nil {
		return storageErr(ReasonSerialize, err)
	}

	now := time.Now().UTC()
	rec.UpdatedAt = now

	return storageErr(ReasonWrite, s.db.Transaction(func(tx *gorm.DB) error {
		var existing ADWStateRecord
		err := tx.Where("adw_id = ?", rec.ADWID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec.CreatedAt = now
			if rec.Completed {
				rec.CompletedAt = &now
			}
			return tx.Create(rec).Error
		case err != nil:
			return err
		}

		rec.CreatedAt = existing.CreatedAt
		rec.DeletedAt = existing.DeletedAt
		rec.CompletedAt = existing.CompletedAt
		if rec.Completed && rec.CompletedAt == nil {
			rec.CompletedAt = &now
		}
		return tx.Model(&ADWStateRecord{}).Where("adw_id = ?", rec.ADWID).
			Select("*").Omit("adw_id").Updates(rec).Error
	}))
}

// Load returns the state for adw_id, or nil when the row is absent or
// soft-deleted. When the row is absent and a project root is configured,
// the legacy JSON mirror is consulted (read-only).
func (s *Store) Load(adwID string) (*state.ADWState, error) {
	var rec ADWStateRecord
	err := s.db.Where("adw_id = ? AND deleted_at IS NULL", adwID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.loadMirror(adwID)
	}
	if err != nil {
		return nil, storageErr(ReasonQuery, err)
	}
	return fromRecord(&rec, s.log), nil
}

// Get is Load under the name the HTTP layer uses.
func (s *Store) Get(adwID string) (*state.ADWState, error) {
	return s.Load(adwID)
}

func (s *Store) loadMirror(adwID string) (*state.ADWState, error) {
	if s.projectRoot == "" || state.DBOnly() {
		return nil, nil
	}
	// A soft-deleted row still suppresses the mirror: deletion wins.
	var deleted int64
	if err := s.db.Model(&ADWStateRecord{}).
		Where("adw_id = ? AND deleted_at IS NOT NULL", adwID).
		Count(&deleted).Error; err != nil {
		return nil, storageErr(ReasonQuery, err)
	}
	if deleted > 0 {
		return nil, nil
	}
	mirror, err := state.ReadMirror(s.projectRoot, adwID)
	if err != nil {
		s.log.Warn("unreadable state mirror", "adw_id", adwID, "error", err)
		return nil, nil
	}
	return mirror, nil
}

// Summary is the light projection returned by ListAll.
type Summary struct {
	ADWID        string
	IssueNumber  *int
	IssueTitle   string
	IssueClass   string
	BranchName   string
	WorktreePath string
	CurrentStage string
	Status       string
	WorkflowName string
	Completed    bool
	IssueJSON    map[string]any
	UpdatedAt    time.Time
}

// ListAll returns summaries for every visible (non-deleted) row, newest
// first.
func (s *Store) ListAll() ([]Summary, error) {
	var recs []ADWStateRecord
	err := s.db.
		Select("adw_id", "issue_number", "issue_title", "issue_class",
			"branch_name", "worktree_path", "current_stage", "status",
			"workflow_name", "completed", "issue_json", "updated_at").
		Where("deleted_at IS NULL").
		Order("updated_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, storageErr(ReasonQuery, err)
	}

	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		sum := Summary{
			ADWID:        rec.ADWID,
			IssueNumber:  rec.IssueNumber,
			IssueTitle:   rec.IssueTitle,
			IssueClass:   rec.IssueClass,
			BranchName:   rec.BranchName,
			WorktreePath: rec.WorktreePath,
			CurrentStage: rec.CurrentStage,
			Status:       rec.Status,
			WorkflowName: rec.WorkflowName,
			Completed:    rec.Completed,
			UpdatedAt:    rec.UpdatedAt,
		}
		if len(rec.IssueJSON) > 0 {
			if err := json.Unmarshal(rec.IssueJSON, &sum.IssueJSON); err != nil {
				s.log.Warn("invalid issue_json", "adw_id", rec.ADWID, "error", err)
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

// SoftDelete marks the row deleted and returns the number of affected rows.
// 0 means already deleted or absent; callers treat that as a no-op.
func (s *Store) SoftDelete(adwID string) (int64, error) {
	now := time.Now().UTC()
	res := s.db.Model(&ADWStateRecord{}).
		Where("adw_id = ? AND deleted_at IS NULL", adwID).
		Update("deleted_at", now)
	if res.Error != nil {
		return 0, storageErr(ReasonWrite, res.Error)
	}
	return res.RowsAffected, nil
}

// ActivityEvent describes one append-only activity log entry.
type ActivityEvent struct {
	EventType    string
	FieldChanged string
	OldValue     string
	NewValue     string
	EventData    map[string]any
}

// AppendActivity inserts an activity-log row. Duplicates are permitted;
// the log reflects retries faithfully.
func (s *Store) AppendActivity(adwID string, ev ActivityEvent) error {
	rec := ActivityLogRecord{
		ADWID:        adwID,
		EventType:    ev.EventType,
		FieldChanged: ev.FieldChanged,
		OldValue:     ev.OldValue,
		NewValue:     ev.NewValue,
		Timestamp:    time.Now().UTC(),
	}
	if ev.EventData != nil {
		data, err := json.Marshal(ev.EventData)
		if err != nil {
			return storageErr(ReasonSerialize, err)
		}
		rec.EventData = data
	}
	return storageErr(ReasonWrite, s.db.Create(&rec).Error)
}

// Activity returns the activity log for an adw_id, oldest first.
func (s *Store) Activity(adwID string) ([]ActivityLogRecord, error) {
	var recs []ActivityLogRecord
	err := s.db.Where("adw_id = ?", adwID).Order("id ASC").Find(&recs).Error
	if err != nil {
		return nil, storageErr(ReasonQuery, err)
	}
	return recs, nil
}
