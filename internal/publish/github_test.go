// File: internal/publish/github_test.go
package publish_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-github/v58/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/publish"
)

type fakeIssues struct {
	owner string
	repo  string
	req   *github.IssueRequest
	err   error
}

func (f *fakeIssues) Create(_ context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error) {
	f.owner, f.repo, f.req = owner, repo, issue
	if f.err != nil {
		return nil, nil, f.err
	}
	return &github.Issue{HTMLURL: github.String("https://github.com/acme/svc/issues/7")}, nil, nil
}

func testGitHubConfig() config.GitHubConfig {
	return config.GitHubConfig{
		Enabled: true,
		Owner:   "acme",
		Repo:    "svc",
		Token:   "t",
		Labels:  []string{"graft", "manual-intervention"},
	}
}

func TestGitHubPublisher_FilesIssue(t *testing.T) {
	issues := &fakeIssues{}
	p := publish.NewGitHubPublisherWithCreator(zaptest.NewLogger(t), testGitHubConfig(), issues)

	url, err := p.PublishEscalation(context.Background(), schemas.Escalation{
		SessionID: "sess-42",
		Path:      "src/hot.rs",
		Note:      "repair attempts exhausted (3/3)",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/svc/issues/7", url)

	assert.Equal(t, "acme", issues.owner)
	assert.Equal(t, "svc", issues.repo)
	require.NotNil(t, issues.req)
	assert.Contains(t, issues.req.GetTitle(), "src/hot.rs")
	assert.Contains(t, issues.req.GetBody(), "sess-42")
	assert.Contains(t, issues.req.GetBody(), "repair attempts exhausted")
	require.NotNil(t, issues.req.Labels)
	assert.Equal(t, []string{"graft", "manual-intervention"}, *issues.req.Labels)
}

func TestGitHubPublisher_CreateFailure(t *testing.T) {
	issues := &fakeIssues{err: errors.New("403 rate limited")}
	p := publish.NewGitHubPublisherWithCreator(zaptest.NewLogger(t), testGitHubConfig(), issues)

	_, err := p.PublishEscalation(context.Background(), schemas.Escalation{Path: "a.rs"})
	require.ErrorContains(t, err, "rate limited")
}

func TestNewGitHubPublisher_ValidatesConfig(t *testing.T) {
	_, err := publish.NewGitHubPublisher(zaptest.NewLogger(t), config.GitHubConfig{Enabled: true})
	require.Error(t, err, "owner/repo/token are required when enabled")
}
