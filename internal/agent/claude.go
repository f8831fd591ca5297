package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// defaultAllowTools are always passed to claude -p so workflow agents can
// perform file operations without manual permission approval.
var defaultAllowTools = []string{
	"Read", "Edit", "Write", "Glob", "Grep",
	"Task", "Bash", "WebFetch", "WebSearch",
}

// Binary returns the Claude Code CLI path, honoring CLAUDE_CODE_PATH.
func Binary() string {
	if p := os.Getenv("CLAUDE_CODE_PATH"); p != "" {
		return p
	}
	return "claude"
}

// Dir returns the artifact directory for one named sub-agent of a
// workflow: agents/<adw_id>/<agent_name>/.
func Dir(projectRoot, adwID, agentName string) string {
	return filepath.Join(projectRoot, "agents", adwID, agentName)
}

// LogPath returns the JSONL output file the log monitor tails.
func LogPath(projectRoot, adwID, agentName string) string {
	return filepath.Join(Dir(projectRoot, adwID, agentName), "raw_output.jsonl")
}

// Request describes one Claude Code invocation on behalf of a stage.
type Request struct {
	ProjectRoot string
	ADWID       string
	AgentName   string // e.g. "sdlc_planner", "sdlc_implementor"
	Prompt      string
	Model       string
	WorkDir     string
	Timeout     time.Duration
	AllowTools  []string
	OnLine      LineCallback // optional tap on raw JSONL lines
}

// Response is the parsed outcome of an invocation.
type Response struct {
	Result    *RunResult
	FinalText string // text of the terminal "result" event, if any
	SessionID string
}

func buildArgs(req Request) []string {
	args := []string{"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	seen := make(map[string]bool)
	var tools []string
	for _, list := range [][]string{defaultAllowTools, req.AllowTools} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				tools = append(tools, t)
			}
		}
	}
	if len(tools) > 0 {
		args = append(args, "--allowedTools")
		args = append(args, tools...)
	}
	return args
}

// Invoke runs the agent, appending every stdout line to the per-agent
// raw_output.jsonl file so the log monitor can tail it live.
func Invoke(ctx context.Context, req Request) (*Response, error) {
	dir := Dir(req.ProjectRoot, req.ADWID, req.AgentName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	logFile, err := os.OpenFile(LogPath(req.ProjectRoot, req.ADWID, req.AgentName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	resp := &Response{}
	onLine := func(l Line) {
		if !l.Stderr {
			fmt.Fprintln(logFile, l.Text)
			captureResult(l.Text, resp)
		}
		if req.OnLine != nil {
			req.OnLine(l)
		}
	}

	result, err := Run(ctx, RunRequest{
		Command: append([]string{Binary()}, buildArgs(req)...),
		Dir:     req.WorkDir,
		Timeout: req.Timeout,
		OnLine:  onLine,
	})
	resp.Result = result
	return resp, err
}

// captureResult pulls the final text and session id out of the terminal
// stream-json "result" event.
func captureResult(line string, resp *Response) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "{") {
		return
	}
	var ev struct {
		Type      string `json:"type"`
		Result    string `json:"result"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return
	}
	if ev.Type == "result" {
		resp.FinalText = ev.Result
		if ev.SessionID != "" {
			resp.SessionID = ev.SessionID
		}
	}
}
