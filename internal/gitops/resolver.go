package gitops

// Package gitops locates the configuration documents a remediation may modify
// and publishes validated changes as pull requests against the GitOps repo.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dr-kube/dr-kube/internal/models"
)

var (
	// ErrTargetNotFound is returned when a target config document does not exist.
	ErrTargetNotFound = errors.New("target config not found")
	// ErrOutsideRepo is returned for paths that escape the repository root.
	ErrOutsideRepo = errors.New("path outside repository")
)

// ValuesDir is the repo-relative directory holding per-workload values files.
const ValuesDir = "values"

// Resolver maps issues onto repo-relative configuration paths.
type Resolver struct {
	// Root is the GitOps repository working copy.
	Root string
}

// NewResolver creates a resolver rooted at the given repository path.
func NewResolver(root string) *Resolver {
	return &Resolver{Root: root}
}

// ResolveResource returns values/<resource>.yaml when that file exists, else "".
func (r *Resolver) ResolveResource(resource string) string {
	if r == nil || resource == "" || strings.ContainsAny(resource, `/\`) {
		return ""
	}
	candidate := filepath.ToSlash(filepath.Join(ValuesDir, resource+".yaml"))
	full, err := r.abs(candidate)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(full); err != nil {
		return ""
	}
	return candidate
}

// Resolve returns the issue's explicit target path, or the derived one.
// An explicit path outside the repository resolves to "".
func (r *Resolver) Resolve(issue models.IssueRecord) string {
	if issue.TargetConfigPath != "" {
		if !IsRepoRelative(issue.TargetConfigPath) {
			return ""
		}
		return issue.TargetConfigPath
	}
	return r.ResolveResource(issue.Resource)
}

// Read returns the text of a repo-relative config document.
func (r *Resolver) Read(path string) (string, error) {
	if path == "" {
		return "", ErrTargetNotFound
	}
	full, err := r.abs(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", path, ErrTargetNotFound)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Write replaces a repo-relative config document.
func (r *Resolver) Write(path, content string) error {
	full, err := r.abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrTargetNotFound)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), info.Mode().Perm()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// abs joins a repo-relative path onto the root. Absolute paths and paths
// that climb above the root are rejected.
func (r *Resolver) abs(path string) (string, error) {
	if !IsRepoRelative(path) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideRepo)
	}
	root := ""
	if r != nil {
		root = r.Root
	}
	full := filepath.Join(root, filepath.FromSlash(path))
	if root != "" {
		rel, err := filepath.Rel(root, full)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%s: %w", path, ErrOutsideRepo)
		}
	}
	return full, nil
}

// IsRepoRelative reports whether path is a non-empty relative path that stays
// inside the directory it is resolved against.
func IsRepoRelative(path string) bool {
	return path != "" && filepath.IsLocal(filepath.FromSlash(path))
}
