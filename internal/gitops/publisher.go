package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dr-kube/dr-kube/internal/models"
)

// PublishRequest carries a validated change to publish.
type PublishRequest struct {
	Issue         models.IssueRecord
	TargetPath    string
	Content       string
	ChangeSummary string
	Severity      models.Severity
	RootCause     string
	ChangedPaths  []string
}

// PublishResult describes an opened change request.
type PublishResult struct {
	ChangeURL string `json:"change_url"`
	Branch    string `json:"branch"`
}

// CommandRunner runs an external command in dir and returns trimmed stdout.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) (string, error)

// GitPublisherConfig configures GitPublisher.
type GitPublisherConfig struct {
	RepoPath   string
	BaseBranch string
	Remote     string
	Timeout    time.Duration
}

// GitPublisher publishes changes with the git and gh command line tools.
// Calls share one working copy and are serialized.
type GitPublisher struct {
	cfg      GitPublisherConfig
	resolver *Resolver
	run      CommandRunner
	now      func() time.Time
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewGitPublisher creates a publisher for the repository at cfg.RepoPath.
func NewGitPublisher(cfg GitPublisherConfig, logger *zap.Logger) *GitPublisher {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitPublisher{
		cfg:      cfg,
		resolver: NewResolver(cfg.RepoPath),
		run:      execRunner(cfg.Timeout),
		now:      time.Now,
		logger:   logger,
	}
}

// WithRunner replaces the command runner. Used by tests.
func (p *GitPublisher) WithRunner(run CommandRunner) *GitPublisher {
	p.run = run
	return p
}

// WithClock replaces the clock used for branch names.
func (p *GitPublisher) WithClock(now func() time.Time) *GitPublisher {
	p.now = now
	return p
}

// Publish creates a branch, writes the new config, commits, pushes and opens a
// pull request. The working copy is returned to the base branch afterwards; on
// failure the edit and the local branch are discarded.
func (p *GitPublisher) Publish(ctx context.Context, req PublishRequest) (_ *PublishResult, err error) {
	if req.TargetPath == "" || req.Content == "" {
		return nil, fmt.Errorf("publish: missing target path or content")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	branch := BranchName(req.Issue.Category, req.Issue.Resource, p.now())
	title := CommitMessage(req.Issue.Category, req.ChangeSummary)
	onBranch := false
	defer func() {
		if err != nil && onBranch {
			p.abandon(ctx, branch)
			return
		}
		p.cleanup(ctx)
	}()

	if _, err := p.git(ctx, "checkout", p.cfg.BaseBranch); err != nil {
		return nil, fmt.Errorf("checkout base branch: %w", err)
	}
	if _, err := p.git(ctx, "pull", p.cfg.Remote, p.cfg.BaseBranch); err != nil {
		p.logger.Warn("pull failed, continuing from local base", zap.Error(err))
	}
	if _, err := p.git(ctx, "checkout", "-b", branch); err != nil {
		if _, err2 := p.git(ctx, "checkout", branch); err2 != nil {
			return nil, fmt.Errorf("create branch %s: %w", branch, err)
		}
	}
	onBranch = true

	if err := p.resolver.Write(req.TargetPath, req.Content); err != nil {
		return nil, err
	}
	if _, err := p.git(ctx, "add", req.TargetPath); err != nil {
		return nil, fmt.Errorf("git add: %w", err)
	}
	if _, err := p.git(ctx, "commit", "-m", title); err != nil {
		return nil, fmt.Errorf("git commit: %w", err)
	}
	if _, err := p.git(ctx, "push", "-u", p.cfg.Remote, branch); err != nil {
		return nil, fmt.Errorf("git push: %w", err)
	}

	url, err := p.run(ctx, p.cfg.RepoPath, "gh", "pr", "create",
		"--base", p.cfg.BaseBranch,
		"--head", branch,
		"--title", title,
		"--body", PRBody(req),
	)
	if err != nil {
		return nil, fmt.Errorf("gh pr create: %w", err)
	}

	p.logger.Info("pull request created",
		zap.String("issue_id", req.Issue.ID),
		zap.String("branch", branch),
		zap.String("url", url),
	)
	return &PublishResult{ChangeURL: url, Branch: branch}, nil
}

func (p *GitPublisher) git(ctx context.Context, args ...string) (string, error) {
	return p.run(ctx, p.cfg.RepoPath, "git", args...)
}

func (p *GitPublisher) cleanup(ctx context.Context) {
	if _, err := p.git(context.WithoutCancel(ctx), "checkout", p.cfg.BaseBranch); err != nil {
		p.logger.Warn("failed to return to base branch", zap.Error(err))
	}
}

// abandon drops uncommitted and staged edits, returns to the base branch and
// deletes the local fix branch, so the next publish starts from a clean tree.
func (p *GitPublisher) abandon(ctx context.Context, branch string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := p.git(ctx, "reset", "--hard"); err != nil {
		p.logger.Warn("failed to discard working copy changes", zap.String("branch", branch), zap.Error(err))
	}
	p.cleanup(ctx)
	if _, err := p.git(ctx, "branch", "-D", branch); err != nil {
		p.logger.Warn("failed to delete fix branch", zap.String("branch", branch), zap.Error(err))
	}
}

func execRunner(timeout time.Duration) CommandRunner {
	return func(ctx context.Context, dir, name string, args ...string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Dir = dir

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("timeout after %v", timeout)
			}
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", fmt.Errorf("%w: %s", err, msg)
			}
			return "", err
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}
