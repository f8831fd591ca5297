// Package worktree manages the isolated working directories under
// trees/<adw_id>/ that each workflow owns. A worktree's existence is
// tracked in three places — the state row, the filesystem, and git.
// Validate reports which of those disagree; Remove does not run Validate
// and removes trees/<adw_id> whatever the state row says.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentick/adw/internal/gitops"
	"github.com/agentick/adw/internal/logger"
	"github.com/agentick/adw/internal/state"
)

// InvalidReason tells the caller which leg of the three-way check failed.
type InvalidReason string

const (
	ReasonNoPath        InvalidReason = "no_path"
	ReasonMissingDir    InvalidReason = "missing_dir"
	ReasonNotRegistered InvalidReason = "not_registered"
)

// ValidationError carries the structured reason for a failed validation.
type ValidationError struct {
	Reason InvalidReason
	Path   string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonNoPath:
		return "no worktree_path in state"
	case ReasonMissingDir:
		return fmt.Sprintf("worktree directory not found: %s", e.Path)
	default:
		return fmt.Sprintf("worktree not registered with git: %s", e.Path)
	}
}

// Manager creates, validates, and removes worktrees.
type Manager struct {
	projectRoot string
	git         *gitops.Git
	log         *logger.Logger
}

func NewManager(projectRoot string, git *gitops.Git, log *logger.Logger) *Manager {
	return &Manager{
		projectRoot: projectRoot,
		git:         git,
		log:         log.With("component", "worktree"),
	}
}

// Path returns the worktree location for an adw_id.
func (m *Manager) Path(adwID string) string {
	return filepath.Join(m.projectRoot, "trees", adwID)
}

// Create makes trees/<adw_id>/ as a git worktree on branchName cut from
// main. An existing directory is reused as-is.
func (m *Manager) Create(ctx context.Context, adwID, branchName string) (string, error) {
	if err := os.MkdirAll(filepath.Join(m.projectRoot, "trees"), 0o755); err != nil {
		return "", err
	}
	path := m.Path(adwID)
	if _, err := os.Stat(path); err == nil {
		m.log.Warn("worktree already exists", "path", path)
		return path, nil
	}

	if err := m.git.Fetch(ctx); err != nil {
		m.log.Warn("fetch from origin failed", "error", err)
	}
	if err := m.git.WorktreeAdd(ctx, path, branchName); err != nil {
		return "", fmt.Errorf("creating worktree: %w", err)
	}
	m.log.Info("created worktree", "path", path, "branch", branchName)
	return path, nil
}

// Validate performs the three-way consistency check: the state carries a
// path, the directory exists, and git lists the worktree.
func (m *Manager) Validate(ctx context.Context, st *state.ADWState) error {
	path := st.WorktreePath
	if path == "" {
		return &ValidationError{Reason: ReasonNoPath}
	}
	if _, err := os.Stat(path); err != nil {
		return &ValidationError{Reason: ReasonMissingDir, Path: path}
	}
	listing, err := m.git.WorktreeList(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(listing, path) {
		return &ValidationError{Reason: ReasonNotRegistered, Path: path}
	}
	return nil
}

// Remove drops the worktree: git removal first, a manual rm -rf when git
// refuses, then a prune to clear stale registrations.
func (m *Manager) Remove(ctx context.Context, adwID string) error {
	path := m.Path(adwID)
	if err := m.git.WorktreeRemove(ctx, path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return fmt.Errorf("removing worktree: %v, manual cleanup failed: %w", err, rmErr)
			}
			m.log.Warn("manually removed worktree directory", "path", path)
		}
	}
	if err := m.git.WorktreePrune(ctx); err != nil {
		m.log.Warn("worktree prune failed", "error", err)
	}
	m.log.Info("removed worktree", "path", path)
	return nil
}
