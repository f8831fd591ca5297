package monitor

import (
	"encoding/json"
	"strings"
	"testing"
)

func parseOne(t *testing.T, raw string) Event {
	t.Helper()
	events := ParseLine([]byte(raw), "a1b2c3d4", "sdlc_planner")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d: %+v", len(events), events)
	}
	return events[0]
}

func TestParseLine_ThinkingBlock(t *testing.T) {
	raw := `{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"planning the approach"}]}}`
	ev := parseOne(t, raw)
	if ev.Type != "thinking_block" {
		t.Fatalf("Type = %q", ev.Type)
	}
	if ev.Data["content"] != "planning the approach" {
		t.Fatalf("content = %v", ev.Data["content"])
	}
	if ev.Data["adw_id"] != "a1b2c3d4" || ev.Data["agent_name"] != "sdlc_planner" {
		t.Fatalf("missing identity tags: %v", ev.Data)
	}
}

func TestParseLine_ToolUsePre(t *testing.T) {
	raw := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","id":"toolu_01","input":{"file_path":"src/app.js"}}]}}`
	ev := parseOne(t, raw)
	if ev.Type != "tool_use_pre" {
		t.Fatalf("Type = %q", ev.Type)
	}
	if ev.Data["tool_name"] != "Read" {
		t.Fatalf("tool_name = %v", ev.Data["tool_name"])
	}
	if ev.Data["tool_use_id"] != "toolu_01" {
		t.Fatalf("tool_use_id = %v", ev.Data["tool_use_id"])
	}
	input, ok := ev.Data["tool_input"].(map[string]any)
	if !ok || input["file_path"] != "src/app.js" {
		t.Fatalf("tool_input = %v", ev.Data["tool_input"])
	}
}

func TestParseLine_TextBlock(t *testing.T) {
	raw := `{"type":"assistant","message":{"content":[{"type":"text","text":"done with the plan"}]}}`
	ev := parseOne(t, raw)
	if ev.Type != "text_block" {
		t.Fatalf("Type = %q", ev.Type)
	}
	if ev.Data["content"] != "done with the plan" {
		t.Fatalf("content = %v", ev.Data["content"])
	}
}

func TestParseLine_ToolUseOutranksText(t *testing.T) {
	// One event per line: a message that both writes text and calls a
	// tool surfaces only the tool call.
	raw := `{"type":"assistant","message":{"content":[{"type":"text","text":"first"},{"type":"tool_use","name":"Bash","id":"t2","input":{}}]}}`
	ev := parseOne(t, raw)
	if ev.Type != "tool_use_pre" {
		t.Fatalf("Type = %q, want tool_use_pre", ev.Type)
	}
	if ev.Data["tool_name"] != "Bash" {
		t.Fatalf("tool_name = %v", ev.Data["tool_name"])
	}
}

func TestParseLine_ThinkingOutranksToolUse(t *testing.T) {
	raw := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","id":"t1","input":{}},{"type":"thinking","thinking":"weighing options"}]}}`
	ev := parseOne(t, raw)
	if ev.Type != "thinking_block" {
		t.Fatalf("Type = %q, want thinking_block", ev.Type)
	}
	if ev.Data["content"] != "weighing options" {
		t.Fatalf("content = %v", ev.Data["content"])
	}
}

func TestParseLine_ToolUsePost_TruncatesAt2000(t *testing.T) {
	long := strings.Repeat("x", 2500)
	obj := map[string]any{
		"type": "user",
		"message": map[string]any{
			"content": []any{
				map[string]any{"type": "tool_result", "tool_use_id": "toolu_01", "content": long},
			},
		},
	}
	raw, _ := json.Marshal(obj)
	ev := parseOne(t, string(raw))
	if ev.Type != "tool_use_post" {
		t.Fatalf("Type = %q", ev.Type)
	}
	out := ev.Data["tool_output"].(string)
	if !strings.HasSuffix(out, "... [truncated]") {
		t.Fatalf("missing truncation marker: %q", out[len(out)-30:])
	}
	if len(strings.TrimSuffix(out, "... [truncated]")) != 2000 {
		t.Fatalf("truncated body length = %d, want exactly 2000", len(strings.TrimSuffix(out, "... [truncated]")))
	}
}

func TestParseLine_ToolUsePost_ShortOutputUntouched(t *testing.T) {
	raw := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}`
	ev := parseOne(t, raw)
	if ev.Data["tool_output"] != "ok" {
		t.Fatalf("tool_output = %v", ev.Data["tool_output"])
	}
}

func TestParseLine_ToolUsePost_ListOutputSerialized(t *testing.T) {
	raw := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"a"}]}]}}`
	ev := parseOne(t, raw)
	out := ev.Data["tool_output"].(string)
	if !strings.HasPrefix(out, "[") {
		t.Fatalf("list output should be JSON-serialized, got %q", out)
	}
	var parsed []any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("serialized output is not valid JSON: %v", err)
	}
}

func TestParseLine_ToolUsePost_NonDictToolUseResult(t *testing.T) {
	// tool_use_result as a bare string must be tolerated; tool_name stays "".
	raw := `{"type":"user","tool_use_result":"plain string","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}`
	ev := parseOne(t, raw)
	if ev.Data["tool_name"] != "" {
		t.Fatalf("tool_name = %v, want empty", ev.Data["tool_name"])
	}
}

func TestParseLine_SystemInit(t *testing.T) {
	raw := `{"type":"system","subtype":"init","model":"claude-sonnet-4-5","tools":["Read","Edit","Bash"]}`
	ev := parseOne(t, raw)
	if ev.Type != "agent_log" {
		t.Fatalf("Type = %q", ev.Type)
	}
	if ev.Data["level"] != "INFO" {
		t.Fatalf("level = %v", ev.Data["level"])
	}
	if ev.Data["model"] != "claude-sonnet-4-5" {
		t.Fatalf("model = %v", ev.Data["model"])
	}
	if ev.Data["tool_count"] != 3 {
		t.Fatalf("tool_count = %v", ev.Data["tool_count"])
	}
}

func TestParseLine_HookResponse(t *testing.T) {
	ok := parseOne(t, `{"subtype":"hook_response","exit_code":0}`)
	if ok.Type != "agent_log" || ok.Data["level"] != "INFO" {
		t.Fatalf("ok hook: %+v", ok)
	}
	bad := parseOne(t, `{"subtype":"hook_response","exit_code":1,"stderr":"hook blew up"}`)
	if bad.Data["level"] != "ERROR" {
		t.Fatalf("failing hook level = %v", bad.Data["level"])
	}
	stderrOnly := parseOne(t, `{"subtype":"hook_response","exit_code":0,"stderr":"warning text"}`)
	if stderrOnly.Data["level"] != "ERROR" {
		t.Fatalf("stderr hook level = %v", stderrOnly.Data["level"])
	}
}

func TestParseLine_ErrorSubtype(t *testing.T) {
	ev := parseOne(t, `{"subtype":"error","message":"agent crashed"}`)
	if ev.Type != "agent_log" || ev.Data["level"] != "ERROR" {
		t.Fatalf("error event: %+v", ev)
	}
	if ev.Data["message"] != "agent crashed" {
		t.Fatalf("message = %v", ev.Data["message"])
	}
}

func TestParseLine_InvalidJSONIsLossless(t *testing.T) {
	ev := parseOne(t, `{this is not json`)
	if ev.Type != "agent_log" {
		t.Fatalf("Type = %q", ev.Type)
	}
	raw, ok := ev.Data["raw_data"].(map[string]any)
	if !ok {
		t.Fatalf("raw_data missing: %v", ev.Data)
	}
	if raw["parse_error"] == nil || raw["parse_error"] == "" {
		t.Fatal("parse_error must be populated")
	}
	if raw["raw_line"] != `{this is not json` {
		t.Fatalf("raw_line = %v", raw["raw_line"])
	}
}

func TestParseLine_PassthroughTypes(t *testing.T) {
	raw := `{"type":"text_block","data":{"content":"already typed"}}`
	ev := parseOne(t, raw)
	if ev.Type != "text_block" {
		t.Fatalf("Type = %q", ev.Type)
	}
	if ev.Data["content"] != "already typed" {
		t.Fatalf("content = %v", ev.Data["content"])
	}
}

func TestParseLine_UnknownTypeIgnored(t *testing.T) {
	events := ParseLine([]byte(`{"type":"stream_event","event":{}}`), "a1b2c3d4", "x")
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestTruncateOutput_Boundary(t *testing.T) {
	exact := strings.Repeat("a", MaxToolOutput)
	if got := TruncateOutput(exact); got != exact {
		t.Fatal("exactly 2000 chars must not be truncated")
	}
	over := exact + "b"
	got := TruncateOutput(over)
	if got != exact+"... [truncated]" {
		t.Fatalf("got %q...", got[:50])
	}
}
