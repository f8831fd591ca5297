package store

import (
	"encoding/json"

	"github.com/agentick/adw/internal/logger"
	"github.com/agentick/adw/internal/state"
)

func toRecord(st *state.ADWState) (*ADWStateRecord, error) {
	rec := &ADWStateRecord{
		ADWID:           st.ADWID,
		IssueNumber:     st.IssueNumber,
		IssueTitle:      st.IssueTitle,
		IssueBody:       st.IssueBody,
		IssueClass:      st.IssueClass,
		BranchName:      st.BranchName,
		WorktreePath:    st.WorktreePath,
		CurrentStage:    st.CurrentStage,
		Status:          st.Status,
		WorkflowName:    st.WorkflowName,
		ModelSet:        st.ModelSet,
		DataSource:      st.DataSource,
		PlanFile:        st.PlanFile,
		PatchFile:       st.PatchFile,
		PatchSourceMode: st.PatchSourceMode,
		BackendPort:     st.BackendPort,
		WebsocketPort:   st.WebsocketPort,
		FrontendPort:    st.FrontendPort,
		Completed:       st.Completed,
	}
	if rec.CurrentStage == "" {
		rec.CurrentStage = state.StageBacklog
	}
	if rec.Status == "" {
		rec.Status = state.StatusPending
	}

	var err error
	if rec.IssueJSON, err = marshalOrNil(st.IssueJSON); err != nil {
		return nil, err
	}
	if rec.OrchestratorState, err = marshalOrNil(st.OrchestratorState); err != nil {
		return nil, err
	}
	if rec.AllADWs, err = marshalOrNil(st.AllADWs); err != nil {
		return nil, err
	}
	if rec.PatchHistory, err = marshalOrNil(st.PatchHistory); err != nil {
		return nil, err
	}
	return rec, nil
}

func marshalOrNil(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case []string:
		if val == nil {
			return nil, nil
		}
	case []map[string]any:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// fromRecord converts a row back to the typed state. Invalid JSON in a
// payload column yields a nil field, not a failed load.
func fromRecord(rec *ADWStateRecord, log *logger.Logger) *state.ADWState {
	st := &state.ADWState{
		ADWID:           rec.ADWID,
		IssueNumber:     rec.IssueNumber,
		IssueTitle:      rec.IssueTitle,
		IssueBody:       rec.IssueBody,
		IssueClass:      rec.IssueClass,
		BranchName:      rec.BranchName,
		WorktreePath:    rec.WorktreePath,
		CurrentStage:    rec.CurrentStage,
		Status:          rec.Status,
		WorkflowName:    rec.WorkflowName,
		ModelSet:        rec.ModelSet,
		DataSource:      rec.DataSource,
		PlanFile:        rec.PlanFile,
		PatchFile:       rec.PatchFile,
		PatchSourceMode: rec.PatchSourceMode,
		BackendPort:     rec.BackendPort,
		WebsocketPort:   rec.WebsocketPort,
		FrontendPort:    rec.FrontendPort,
		Completed:       rec.Completed,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
		CompletedAt:     rec.CompletedAt,
	}

	unmarshalInto(rec.IssueJSON, &st.IssueJSON, "issue_json", rec.ADWID, log)
	unmarshalInto(rec.OrchestratorState, &st.OrchestratorState, "orchestrator_state", rec.ADWID, log)
	unmarshalInto(rec.AllADWs, &st.AllADWs, "all_adws", rec.ADWID, log)
	unmarshalInto(rec.PatchHistory, &st.PatchHistory, "patch_history", rec.ADWID, log)
	return st
}

func unmarshalInto(data []byte, dst any, column, adwID string, log *logger.Logger) {
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Warn("invalid JSON column", "column", column, "adw_id", adwID, "error", err)
	}
}
