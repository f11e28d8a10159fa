package promote

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/promotepr/internal/githubclt"
	"github.com/simplesurance/promotepr/internal/logfields"
	"github.com/simplesurance/promotepr/internal/stringutils"
)

// DryGithubClient is a github-client that does not do any changes on github.
// All operations that could cause a change are simulated and always succeed.
// All all other operations are forwarded to a wrapped GithubClient.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient, logger *zap.Logger) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryGithubClient) OpenPullRequests(ctx context.Context, owner, repo, head, base string) ([]*githubclt.PullRequest, error) {
	return c.clt.OpenPullRequests(ctx, owner, repo, head, base)
}

func (c *DryGithubClient) FileContentAtRef(ctx context.Context, owner, repo, path, ref string) (*githubclt.FileContent, bool, error) {
	return c.clt.FileContentAtRef(ctx, owner, repo, path, ref)
}

func (c *DryGithubClient) CreatePullRequest(_ context.Context, owner, repo, title, body, head, base string) (*githubclt.PullRequest, error) {
	c.logger.Info(
		"simulated creating of github pull request, no pull request created on github\n"+stringutils.IndentString(body, "\t"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.HeadBranch(head),
		logfields.BaseBranch(base),
		zap.String("title", title),
	)

	return &githubclt.PullRequest{
		Title: title,
		Body:  body,
	}, nil
}

func (c *DryGithubClient) UpdatePullRequestBody(_ context.Context, owner, repo string, pullRequestNumber int, body string) error {
	c.logger.Info(
		"simulated updating of github pull request body, pull request not changed on github\n"+stringutils.IndentString(body, "\t"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(pullRequestNumber),
	)

	return nil
}
