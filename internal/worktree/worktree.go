// Package worktree provisions per-attempt worktree directories and
// materializes the repo-config-declared provisioned files into them,
// grounded on original_source's vcs/worktree.rs and adapted from the
// teacher's workspace.go directory-layout helper.
package worktree

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/iambrandonn/thence/internal/domain"
)

// RequiredDirectories is the full .thence/ persistent state layout from
// spec §6, beneath a single run's directory.
func RequiredDirectories(runDir string) []string {
	return []string{
		filepath.Join(runDir, "capsules"),
		filepath.Join(runDir, "leases"),
		filepath.Join(runDir, "worktrees"),
	}
}

// InitializeRunLayout creates every required directory for runDir with
// 0700 permissions. Idempotent.
func InitializeRunLayout(runDir string) error {
	for _, dir := range RequiredDirectories(runDir) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Path returns the worktree directory for one (task, attempt), matching
// `.thence/runs/<id>/worktrees/thence/<task>/v<N>/<worker_id>` from spec §6.
func Path(runDir, taskID string, attempt int64, workerID string) string {
	return filepath.Join(runDir, "worktrees", "thence", taskID, fmt.Sprintf("v%d", attempt), workerID)
}

// Provision materializes every rule against a freshly created worktree
// directory. Destination paths are sanitized against absolute paths and
// ".." traversal before any filesystem operation, matching the original's
// path validation.
func Provision(worktreeDir, repoRoot string, rules []domain.ProvisionRule) error {
	if err := os.MkdirAll(worktreeDir, 0700); err != nil {
		return fmt.Errorf("failed to create worktree: %w", err)
	}

	for _, rule := range rules {
		dest, err := sanitizeDest(worktreeDir, rule.To)
		if err != nil {
			if rule.Required {
				return fmt.Errorf("provisioning rule %+v: %w", rule, err)
			}
			continue
		}

		src := filepath.Join(repoRoot, rule.From)
		if _, err := os.Stat(src); err != nil {
			if rule.Required {
				return fmt.Errorf("required provisioned file %s not found: %w", rule.From, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
			return fmt.Errorf("failed to create destination directory for %s: %w", rule.To, err)
		}

		switch rule.Mode {
		case "symlink":
			if err := os.Symlink(src, dest); err != nil {
				return fmt.Errorf("failed to symlink %s -> %s: %w", src, dest, err)
			}
		default: // "copy" is the default mode
			if err := copyFile(src, dest); err != nil {
				return fmt.Errorf("failed to copy %s -> %s: %w", src, dest, err)
			}
		}
	}

	return nil
}

// sanitizeDest resolves rule.To against worktreeDir, rejecting absolute
// paths and any ".." component that would escape the worktree.
func sanitizeDest(worktreeDir, to string) (string, error) {
	if filepath.IsAbs(to) {
		return "", fmt.Errorf("destination %q must be relative", to)
	}
	joined := filepath.Join(worktreeDir, to)
	clean := filepath.Clean(joined)
	rel, err := filepath.Rel(worktreeDir, clean)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("destination %q escapes the worktree", to)
	}
	return clean, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
