// Package gitops is the thin adapter over the git and gh CLIs. Every
// operation shells out; nothing here re-implements version control.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git runs git/gh subprocesses rooted at a working directory.
type Git struct {
	// Dir is the default working directory for commands; per-call
	// directories override it.
	Dir string
}

func New(dir string) *Git {
	return &Git{Dir: dir}
}

// run executes a command and returns trimmed stdout. stderr is folded into
// the error.
func (g *Git) run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	if dir == "" {
		dir = g.Dir
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return strings.TrimSpace(stdout.String()), fmt.Errorf("%s %s: %s", name, args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentBranch returns the checked-out branch name in dir.
func (g *Git) CurrentBranch(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
}

// Fetch updates refs from origin. Failures are returned but callers
// typically log and continue.
func (g *Git) Fetch(ctx context.Context) error {
	_, err := g.run(ctx, "", "git", "fetch", "origin")
	return err
}

// CreateBranch creates and checks out branch in dir; if the branch already
// exists it is checked out instead.
func (g *Git) CreateBranch(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "git", "checkout", "-b", branch)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		_, err = g.run(ctx, dir, "git", "checkout", branch)
	}
	return err
}

// HasChanges reports whether the working tree in dir is dirty.
func (g *Git) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := g.run(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// DiffEmpty reports whether `git diff main...HEAD` in dir produces no
// output (used by the document stage skip check).
func (g *Git) DiffEmpty(ctx context.Context, dir string) (bool, error) {
	out, err := g.run(ctx, dir, "git", "diff", "main...HEAD", "--stat")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// CommitAll stages everything and commits. A clean tree is a no-op.
func (g *Git) CommitAll(ctx context.Context, dir, message string) error {
	dirty, err := g.HasChanges(ctx, dir)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	if _, err := g.run(ctx, dir, "git", "add", "-A"); err != nil {
		return err
	}
	_, err = g.run(ctx, dir, "git", "commit", "-m", message)
	return err
}

// Push pushes branch to origin with upstream tracking.
func (g *Git) Push(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "git", "push", "-u", "origin", branch)
	return err
}

// DeleteRemoteBranch removes branch from origin. Best-effort for cleanup.
func (g *Git) DeleteRemoteBranch(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "", "git", "push", "origin", "--delete", branch)
	return err
}

// WorktreeAdd creates a worktree at path on a new branch cut from main;
// when the branch already exists it is reused without -b.
func (g *Git) WorktreeAdd(ctx context.Context, path, branch string) error {
	_, err := g.run(ctx, "", "git", "worktree", "add", "-b", branch, path, "main")
	if err != nil && strings.Contains(err.Error(), "already exists") {
		_, err = g.run(ctx, "", "git", "worktree", "add", path, branch)
	}
	return err
}

// WorktreeList returns the raw `git worktree list` output.
func (g *Git) WorktreeList(ctx context.Context) (string, error) {
	return g.run(ctx, "", "git", "worktree", "list")
}

// WorktreeRemove force-removes the worktree at path.
func (g *Git) WorktreeRemove(ctx context.Context, path string) error {
	_, err := g.run(ctx, "", "git", "worktree", "remove", path, "--force")
	return err
}

// WorktreePrune drops stale worktree registrations.
func (g *Git) WorktreePrune(ctx context.Context) error {
	_, err := g.run(ctx, "", "git", "worktree", "prune")
	return err
}

// Merge merges branch into the current branch of dir using the given
// strategy (squash|merge|rebase).
func (g *Git) Merge(ctx context.Context, dir, branch, strategy string) error {
	var err error
	switch strategy {
	case "squash":
		_, err = g.run(ctx, dir, "git", "merge", "--squash", branch)
	case "rebase":
		_, err = g.run(ctx, dir, "git", "rebase", branch)
	default:
		_, err = g.run(ctx, dir, "git", "merge", "--no-ff", branch)
	}
	return err
}

// Checkout switches dir to branch.
func (g *Git) Checkout(ctx context.Context, dir, branch string) error {
	_, err := g.run(ctx, dir, "git", "checkout", branch)
	return err
}

// ConflictedFiles returns the unmerged paths in dir.
func (g *Git) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := g.run(ctx, dir, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// PRCreate opens a pull request via gh and returns its URL.
func (g *Git) PRCreate(ctx context.Context, dir, title, body string) (string, error) {
	return g.run(ctx, dir, "gh", "pr", "create", "--title", title, "--body", body)
}

// PRExists returns the PR URL for branch, or "" when none exists.
func (g *Git) PRExists(ctx context.Context, branch string) string {
	out, err := g.run(ctx, "", "gh", "pr", "list", "--head", branch, "--json", "url", "--jq", ".[0].url")
	if err != nil {
		return ""
	}
	return out
}
