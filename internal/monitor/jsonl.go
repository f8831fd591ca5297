// Package monitor tails the per-workflow agent log directory and converts
// Claude Code's JSONL output into the typed events the frontend consumes.
package monitor

import (
	"encoding/json"
	"fmt"
)

// MaxToolOutput bounds tool_use_post payloads before truncation.
const MaxToolOutput = 2000

const truncationMarker = "... [truncated]"

// Event is one typed event derived from a JSONL line.
type Event struct {
	Type string
	Data map[string]any
}

// passthroughTypes are events whose top-level type already matches a
// target WebSocket type; they are forwarded as-is.
var passthroughTypes = map[string]bool{
	"text_block":          true,
	"thinking_block":      true,
	"tool_use_pre":        true,
	"tool_use_post":       true,
	"file_changed":        true,
	"agent_log":           true,
	"agent_created":       true,
	"agent_updated":       true,
	"agent_deleted":       true,
	"agent_status_change": true,
	"agent_summary_update": true,
}

// ParseLine maps one raw JSONL line to events. Invalid JSON is emitted as
// an agent_log event carrying raw_data.parse_error so the stream stays
// lossless. adwID and agentName tag every produced event.
func ParseLine(raw []byte, adwID, agentName string) []Event {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return []Event{{
			Type: "agent_log",
			Data: base(adwID, agentName, map[string]any{
				"level":   "ERROR",
				"message": "unparseable agent log line",
				"raw_data": map[string]any{
					"parse_error": err.Error(),
					"raw_line":    string(raw),
				},
			}),
		}}
	}

	topType, _ := obj["type"].(string)
	subtype, _ := obj["subtype"].(string)

	if passthroughTypes[topType] {
		data, _ := obj["data"].(map[string]any)
		if data == nil {
			data = obj
		}
		return []Event{{Type: topType, Data: base(adwID, agentName, data)}}
	}

	switch {
	case topType == "assistant":
		return assistantEvents(obj, adwID, agentName)
	case topType == "user":
		return userEvents(obj, adwID, agentName)
	case topType == "system" && subtype == "init":
		return initEvent(obj, adwID, agentName)
	case subtype == "hook_response":
		return hookEvent(obj, adwID, agentName)
	case subtype == "error":
		return []Event{{
			Type: "agent_log",
			Data: base(adwID, agentName, map[string]any{
				"level":    "ERROR",
				"message":  stringOr(obj["message"], "agent error"),
				"raw_data": obj,
			}),
		}}
	}
	return nil
}

// assistantEvents maps an assistant message to at most one event. Block
// types are priority-ordered: thinking wins over tool_use, tool_use wins
// over text. A turn that writes text and calls a tool in the same message
// therefore surfaces only the tool call.
func assistantEvents(obj map[string]any, adwID, agentName string) []Event {
	blocks := contentBlocks(obj)

	pick := func(blockType string) map[string]any {
		for _, block := range blocks {
			if t, _ := block["type"].(string); t == blockType {
				return block
			}
		}
		return nil
	}

	if block := pick("thinking"); block != nil {
		return []Event{{
			Type: "thinking_block",
			Data: base(adwID, agentName, map[string]any{
				"content": stringOr(block["thinking"], ""),
			}),
		}}
	}
	if block := pick("tool_use"); block != nil {
		return []Event{{
			Type: "tool_use_pre",
			Data: base(adwID, agentName, map[string]any{
				"tool_name":   stringOr(block["name"], ""),
				"tool_input":  block["input"],
				"tool_use_id": stringOr(block["id"], ""),
			}),
		}}
	}
	if block := pick("text"); block != nil {
		return []Event{{
			Type: "text_block",
			Data: base(adwID, agentName, map[string]any{
				"content": stringOr(block["text"], ""),
			}),
		}}
	}
	return nil
}

func userEvents(obj map[string]any, adwID, agentName string) []Event {
	var out []Event
	for _, block := range contentBlocks(obj) {
		if blockType, _ := block["type"].(string); blockType != "tool_result" {
			continue
		}
		toolName := ""
		if result, ok := obj["tool_use_result"].(map[string]any); ok {
			toolName = stringOr(result["tool_name"], "")
		}
		out = append(out, Event{
			Type: "tool_use_post",
			Data: base(adwID, agentName, map[string]any{
				"tool_name":   toolName,
				"tool_output": TruncateOutput(renderToolOutput(block["content"])),
				"tool_use_id": stringOr(block["tool_use_id"], ""),
				"is_error":    block["is_error"] == true,
			}),
		})
	}
	return out
}

func initEvent(obj map[string]any, adwID, agentName string) []Event {
	model := stringOr(obj["model"], "")
	toolCount := 0
	if tools, ok := obj["tools"].([]any); ok {
		toolCount = len(tools)
	}
	return []Event{{
		Type: "agent_log",
		Data: base(adwID, agentName, map[string]any{
			"level":      "INFO",
			"message":    fmt.Sprintf("agent session started (model %s, %d tools)", model, toolCount),
			"model":      model,
			"tool_count": toolCount,
		}),
	}}
}

func hookEvent(obj map[string]any, adwID, agentName string) []Event {
	level := "INFO"
	exitCode := 0
	if v, ok := obj["exit_code"].(float64); ok {
		exitCode = int(v)
	}
	stderr := stringOr(obj["stderr"], "")
	if exitCode != 0 || stderr != "" {
		level = "ERROR"
	}
	return []Event{{
		Type: "agent_log",
		Data: base(adwID, agentName, map[string]any{
			"level":     level,
			"message":   fmt.Sprintf("hook response (exit %d)", exitCode),
			"exit_code": exitCode,
			"stderr":    stderr,
		}),
	}}
}

// contentBlocks pulls message.content (or top-level content) as a list of
// block maps.
func contentBlocks(obj map[string]any) []map[string]any {
	content, ok := obj["content"].([]any)
	if !ok {
		if msg, isMap := obj["message"].(map[string]any); isMap {
			content, _ = msg["content"].([]any)
		}
	}
	var out []map[string]any
	for _, c := range content {
		if m, isMap := c.(map[string]any); isMap {
			out = append(out, m)
		}
	}
	return out
}

// renderToolOutput normalizes tool_result content: strings pass through,
// lists and objects are JSON-serialized.
func renderToolOutput(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// TruncateOutput caps s at MaxToolOutput characters, appending the
// truncation marker when cut.
func TruncateOutput(s string) string {
	if len(s) <= MaxToolOutput {
		return s
	}
	return s[:MaxToolOutput] + truncationMarker
}

func base(adwID, agentName string, data map[string]any) map[string]any {
	data["adw_id"] = adwID
	data["agent_name"] = agentName
	return data
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}
