package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRun_CapturesOutputAndExitCode(t *testing.T) {
	result, err := Run(context.Background(), RunRequest{
		Command: []string{"sh", "-c", "echo hello; echo world"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.ExitCode != 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.Output != "hello\nworld\n" {
		t.Fatalf("Output = %q", result.Output)
	}
	if result.Command != "sh -c echo hello; echo world" {
		t.Fatalf("Command = %q", result.Command)
	}
	if result.CompletedAt.Before(result.StartedAt) {
		t.Fatal("CompletedAt before StartedAt")
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	result, err := Run(context.Background(), RunRequest{
		Command: []string{"sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ExitCode != 3 {
		t.Fatalf("ExitCode = %d", result.ExitCode)
	}
}

func TestRun_StderrTagged(t *testing.T) {
	result, err := Run(context.Background(), RunRequest{
		Command: []string{"sh", "-c", "echo oops >&2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Output, "[stderr] oops") {
		t.Fatalf("Output = %q", result.Output)
	}
}

func TestRun_StreamsLines(t *testing.T) {
	var mu sync.Mutex
	var lines []Line
	result, err := Run(context.Background(), RunRequest{
		Command: []string{"sh", "-c", "echo one; echo two >&2"},
		OnLine: func(l Line) {
			mu.Lock()
			lines = append(lines, l)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d", result.ExitCode)
	}

	var sawStdout, sawStderr bool
	for _, l := range lines {
		if l.Text == "one" && !l.Stderr {
			sawStdout = true
		}
		if l.Text == "two" && l.Stderr {
			sawStderr = true
		}
	}
	if !sawStdout || !sawStderr {
		t.Fatalf("lines = %+v", lines)
	}
}

func TestRun_ScrubsAnthropicAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-secret")
	result, err := Run(context.Background(), RunRequest{
		Command: []string{"sh", "-c", `echo "key=[$ANTHROPIC_API_KEY]"`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Output, "key=[]") {
		t.Fatalf("API key leaked into child env: %q", result.Output)
	}
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	result, err := Run(context.Background(), RunRequest{
		Command: []string{"sleep", "30"},
		Timeout: 200 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if result.ExitCode != -1 {
		t.Fatalf("ExitCode = %d, want -1", result.ExitCode)
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Fatalf("Error = %q", result.Error)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("timeout did not kill the child promptly")
	}
}

func TestRun_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	result, err := Run(context.Background(), RunRequest{
		Command: []string{"pwd"},
		Dir:     dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(result.Output) != dir {
		t.Fatalf("pwd = %q, want %q", result.Output, dir)
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	if _, err := Run(context.Background(), RunRequest{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestAsyncLines(t *testing.T) {
	var mu sync.Mutex
	var got []string
	cb, stop := AsyncLines(func(l Line) {
		mu.Lock()
		got = append(got, l.Text)
		mu.Unlock()
	})
	cb(Line{Text: "a"})
	cb(Line{Text: "b"})
	stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v", got)
	}
}

func TestTail(t *testing.T) {
	if got := Tail("abcdef", 3); got != "def" {
		t.Fatalf("Tail = %q", got)
	}
	if got := Tail("ab", 3); got != "ab" {
		t.Fatalf("Tail = %q", got)
	}
}

func TestExpandVars(t *testing.T) {
	got := ExpandVars("issue ${ISSUE} in ${DIR}", map[string]string{
		"ISSUE": "42",
		"DIR":   "/tmp/wt",
	})
	if got != "issue 42 in /tmp/wt" {
		t.Fatalf("got %q", got)
	}
}
