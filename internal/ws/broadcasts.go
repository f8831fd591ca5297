package ws

// Typed broadcast helpers. Each wraps Broadcast with the {type, data}
// envelope the frontend expects.

func (m *Manager) BroadcastTextBlock(adwID, agentName, content string) {
	m.Broadcast("text_block", map[string]any{
		"adw_id":     adwID,
		"agent_name": agentName,
		"content":    content,
	})
}

func (m *Manager) BroadcastThinkingBlock(adwID, agentName, content string) {
	m.Broadcast("thinking_block", map[string]any{
		"adw_id":     adwID,
		"agent_name": agentName,
		"content":    content,
	})
}

func (m *Manager) BroadcastToolUsePre(adwID, toolName string, toolInput any, toolUseID string) {
	m.Broadcast("tool_use_pre", map[string]any{
		"adw_id":      adwID,
		"tool_name":   toolName,
		"tool_input":  toolInput,
		"tool_use_id": toolUseID,
	})
}

func (m *Manager) BroadcastToolUsePost(adwID, toolName, toolOutput, toolUseID string) {
	m.Broadcast("tool_use_post", map[string]any{
		"adw_id":      adwID,
		"tool_name":   toolName,
		"tool_output": toolOutput,
		"tool_use_id": toolUseID,
	})
}

func (m *Manager) BroadcastFileChanged(adwID, path, changeType string) {
	m.Broadcast("file_changed", map[string]any{
		"adw_id":      adwID,
		"path":        path,
		"change_type": changeType,
	})
}

func (m *Manager) BroadcastAgentLog(adwID, level, message string, raw map[string]any) {
	data := map[string]any{
		"adw_id":  adwID,
		"level":   level,
		"message": message,
	}
	if raw != nil {
		data["raw_data"] = raw
	}
	m.Broadcast("agent_log", data)
}

func (m *Manager) BroadcastStageTransition(adwID, workflowName, fromStage, toStage, message string) {
	m.Broadcast("stage_transition", map[string]any{
		"adw_id":        adwID,
		"workflow_name": workflowName,
		"from_stage":    fromStage,
		"to_stage":      toStage,
		"message":       message,
	})
}

func (m *Manager) BroadcastAgentCreated(data map[string]any) {
	m.Broadcast("agent_created", data)
}

func (m *Manager) BroadcastAgentUpdated(adwID string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["adw_id"] = adwID
	m.Broadcast("agent_updated", data)
}

func (m *Manager) BroadcastAgentDeleted(adwID string) {
	m.Broadcast("agent_deleted", map[string]any{"adw_id": adwID})
}

func (m *Manager) BroadcastAgentStatusChange(adwID, oldStatus, newStatus string) {
	m.Broadcast("agent_status_change", map[string]any{
		"adw_id":     adwID,
		"old_status": oldStatus,
		"new_status": newStatus,
	})
}

func (m *Manager) BroadcastError(message string, detail map[string]any) {
	data := map[string]any{"message": message}
	for k, v := range detail {
		data[k] = v
	}
	m.Broadcast("error", data)
}
