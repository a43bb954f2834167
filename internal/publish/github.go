// File: internal/publish/github.go

// Package publish pushes terminal manual-intervention conditions to external
// trackers. The engine decides WHEN to escalate; this package only carries
// the message.
package publish

import (
	"context"
	"fmt"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

// IssueCreator is the one GitHub capability the publisher needs, satisfied
// by *github.IssuesService and by test fakes.
type IssueCreator interface {
	Create(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
}

// GitHubPublisher files an issue per escalation. It implements
// schemas.EscalationPublisher.
type GitHubPublisher struct {
	logger *zap.Logger
	cfg    config.GitHubConfig
	issues IssueCreator
}

// NewGitHubPublisher creates a publisher authenticated with the configured
// token.
func NewGitHubPublisher(logger *zap.Logger, cfg config.GitHubConfig) (*GitHubPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := github.NewClient(nil).WithAuthToken(cfg.Token)
	return NewGitHubPublisherWithCreator(logger, cfg, client.Issues), nil
}

// NewGitHubPublisherWithCreator wires an explicit issue creator. Used by
// tests.
func NewGitHubPublisherWithCreator(logger *zap.Logger, cfg config.GitHubConfig, issues IssueCreator) *GitHubPublisher {
	return &GitHubPublisher{
		logger: logger.Named("publish-github"),
		cfg:    cfg,
		issues: issues,
	}
}

// PublishEscalation files the issue and returns its URL.
func (p *GitHubPublisher) PublishEscalation(ctx context.Context, esc schemas.Escalation) (string, error) {
	title := fmt.Sprintf("graft: manual intervention required for %s", esc.Path)
	body := fmt.Sprintf(
		"The evolution engine has halted and requires an operator.\n\n"+
			"| | |\n|---|---|\n"+
			"| Session | `%s` |\n"+
			"| Path | `%s` |\n\n"+
			"**Last note**\n\n```\n%s\n```\n\n"+
			"Run `graft session --ack` after resolving the underlying failure.",
		esc.SessionID, esc.Path, esc.Note)

	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}
	if len(p.cfg.Labels) > 0 {
		labels := append([]string(nil), p.cfg.Labels...)
		req.Labels = &labels
	}

	issue, _, err := p.issues.Create(ctx, p.cfg.Owner, p.cfg.Repo, req)
	if err != nil {
		return "", fmt.Errorf("failed to create escalation issue: %w", err)
	}

	url := issue.GetHTMLURL()
	p.logger.Info("Escalation published.",
		zap.String("path", esc.Path),
		zap.String("url", url))
	return url, nil
}
