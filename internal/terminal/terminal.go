// Package terminal launches tmux sessions and editors for a worktree.
// Everything here is best-effort: the endpoints that call it report
// failure but nothing in the workflow depends on it.
package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/agentick/adw/internal/logger"
)

// Launcher shells out to tmux and the preferred editor.
type Launcher struct {
	log *logger.Logger
}

func NewLauncher(log *logger.Logger) *Launcher {
	return &Launcher{log: log.With("component", "terminal")}
}

func sessionName(adwID string) string {
	return "adw-" + adwID
}

// OpenWorktree ensures a detached tmux session rooted at the worktree and
// tries to attach a terminal window to it.
func (l *Launcher) OpenWorktree(ctx context.Context, adwID, worktreePath string) error {
	if _, err := exec.LookPath("tmux"); err != nil {
		return fmt.Errorf("tmux not available: %w", err)
	}
	session := sessionName(adwID)

	// has-session exits non-zero when absent; create it then.
	if err := exec.CommandContext(ctx, "tmux", "has-session", "-t", session).Run(); err != nil {
		if err := exec.CommandContext(ctx, "tmux",
			"new-session", "-d", "-s", session, "-c", worktreePath).Run(); err != nil {
			return fmt.Errorf("creating tmux session: %w", err)
		}
	}

	for _, term := range [][]string{
		{"wezterm", "start", "--", "tmux", "attach", "-t", session},
		{"x-terminal-emulator", "-e", "tmux", "attach", "-t", session},
	} {
		if _, err := exec.LookPath(term[0]); err != nil {
			continue
		}
		if err := exec.CommandContext(ctx, term[0], term[1:]...).Start(); err == nil {
			l.log.Info("opened terminal", "session", session, "terminal", term[0])
			return nil
		}
	}
	l.log.Info("tmux session ready, no terminal emulator found", "session", session)
	return nil
}

// OpenEditor launches the preferred IDE (IDE_PREFERENCE, default code)
// inside the worktree's tmux session when one exists, otherwise directly
// on the worktree path.
func (l *Launcher) OpenEditor(ctx context.Context, adwID, worktreePath string) error {
	ide := os.Getenv("IDE_PREFERENCE")
	if ide != "cursor" {
		ide = "code"
	}
	if _, err := exec.LookPath(ide); err != nil {
		return fmt.Errorf("%s not available: %w", ide, err)
	}

	session := sessionName(adwID)
	if err := exec.CommandContext(ctx, "tmux", "has-session", "-t", session).Run(); err == nil {
		return exec.CommandContext(ctx, "tmux",
			"send-keys", "-t", session, ide+" .", "Enter").Run()
	}
	return exec.CommandContext(ctx, ide, worktreePath).Start()
}
