// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/promotepr/internal/logfields"
	"github.com/simplesurance/promotepr/internal/promoteerr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

const (
	opListPullRequests  = "list_pull_requests"
	opGetContents       = "get_contents"
	opCreatePullRequest = "create_pull_request"
	opUpdatePullRequest = "update_pull_request"
)

// PullRequest is an open pull request.
type PullRequest struct {
	Number int
	Title  string
	Body   string
	URL    string
}

func pullRequestFromGithub(pr *github.PullRequest) *PullRequest {
	return &PullRequest{
		Number: pr.GetNumber(),
		Title:  pr.GetTitle(),
		Body:   pr.GetBody(),
		URL:    pr.GetHTMLURL(),
	}
}

// FileContent is the content of a file as returned by the GitHub API.
// Content is encoded as described by Encoding, usually "base64".
type FileContent struct {
	Content  string
	Encoding string
}

// New returns a new github api client that authenticates with a personal
// access or actions token.
func New(oauthAPItoken string) *Client {
	return newClient(newHTTPClient(oauthAPItoken))
}

// NewWithApp returns a new github api client that authenticates as
// installation of a GitHub App.
func NewWithApp(appID, installationID int64, privateKey []byte) (*Client, error) {
	tr, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("creating github app transport failed: %w", err)
	}

	return newClient(&http.Client{
		Transport: tr,
		Timeout:   DefaultHTTPClientTimeout,
	}), nil
}

func newClient(httpClient *http.Client) *Client {
	return &Client{
		restClt: github.NewClient(httpClient),
		logger:  zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is an github API client.
// All methods return a *promoteerr.HostingServiceError when an API call
// fails. Operations are never retried.
type Client struct {
	restClt *github.Client
	logger  *zap.Logger
}

// OpenPullRequests returns all open pull requests from the head branch into
// the base branch.
// head must be qualified with the owner of the repository containing the
// branch ("owner:branch"), otherwise github ignores the filter.
func (clt *Client) OpenPullRequests(ctx context.Context, owner, repo, head, base string) ([]*PullRequest, error) {
	var result []*PullRequest

	it := clt.ListPullRequests(ctx, owner, repo, "open", head, base)
	for {
		pr, err := it.Next()
		if err != nil {
			return nil, err
		}

		if pr == nil {
			return result, nil
		}

		result = append(result, pullRequestFromGithub(pr))
	}
}

// FileContentAtRef retrieves a file from the repository at the given
// reference.
// If the file does not exist found is false and err is nil.
func (clt *Client) FileContentAtRef(ctx context.Context, owner, repo, path, ref string) (content *FileContent, found bool, err error) {
	file, dir, resp, err := clt.restClt.Repositories.GetContents(
		ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: ref},
	)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			clt.logger.Debug(
				"file does not exist",
				logfields.Event("github_file_not_found"),
				logfields.RepositoryOwner(owner),
				logfields.Repository(repo),
				logfields.Path(path),
				logfields.Ref(ref),
			)

			return nil, false, nil
		}

		return nil, false, clt.wrapErrors(opGetContents, err)
	}

	if file == nil {
		return nil, false, promoteerr.NewHostingServiceError(
			opGetContents,
			fmt.Errorf("invalid response, %s is not a file (got %d directory entries)", path, len(dir)),
		)
	}

	if file.Content == nil {
		return nil, false, promoteerr.NewHostingServiceError(
			opGetContents,
			fmt.Errorf("invalid response, content of %s is missing", path),
		)
	}

	return &FileContent{
		Content:  *file.Content,
		Encoding: file.GetEncoding(),
	}, true, nil
}

// CreatePullRequest creates a pull request to merge head into base.
func (clt *Client) CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: &title,
		Body:  &body,
		Head:  &head,
		Base:  &base,
	})
	if err != nil {
		return nil, clt.wrapErrors(opCreatePullRequest, err)
	}

	clt.logger.Debug(
		"pull request created",
		logfields.Event("github_pull_request_created"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(pr.GetNumber()),
	)

	return pullRequestFromGithub(pr), nil
}

// UpdatePullRequestBody replaces the description of a pull request.
// Other fields of the pull request are not modified.
func (clt *Client) UpdatePullRequestBody(ctx context.Context, owner, repo string, pullRequestNumber int, body string) error {
	_, _, err := clt.restClt.PullRequests.Edit(ctx, owner, repo, pullRequestNumber, &github.PullRequest{
		Body: &body,
	})
	if err != nil {
		return clt.wrapErrors(opUpdatePullRequest, err)
	}

	clt.logger.Debug(
		"pull request body updated",
		logfields.Event("github_pull_request_updated"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(pullRequestNumber),
	)

	return nil
}

type PRIterator interface {
	Next() (*github.PullRequest, error)
}

type PRIter struct {
	clt *Client

	ctx   context.Context
	owner string
	repo  string

	filterState string
	filterHead  string
	filterBase  string

	unseen []*github.PullRequest

	nextPage int
	finished bool
}

// Next returns the next pullRequest.
// When the last result was returned a nil PullRequest is returned.
func (it *PRIter) Next() (*github.PullRequest, error) {
	if len(it.unseen) > 0 {
		result := it.unseen[0]
		it.unseen = it.unseen[1:]

		return result, nil
	}

	if it.finished {
		return nil, nil
	}

	prs, resp, err := it.clt.restClt.PullRequests.List(it.ctx, it.owner, it.repo, &github.PullRequestListOptions{
		State: it.filterState,
		Head:  it.filterHead,
		Base:  it.filterBase,
		ListOptions: github.ListOptions{
			Page:    it.nextPage,
			PerPage: 100,
		},
	})
	if err != nil {
		return nil, it.clt.wrapErrors(opListPullRequests, err)
	}

	if resp.NextPage == 0 || len(prs) == 0 {
		it.finished = true
	} else {
		it.nextPage = resp.NextPage
	}

	it.unseen = prs

	return it.Next()
}

// ListPullRequests returns an iterator for receiving pull requests.
// The parameters state, head and base expect the same values then their
// pendants in the struct github.PullRequestListOptions, empty values
// disable the filter.
func (clt *Client) ListPullRequests(ctx context.Context, owner, repo, state, head, base string) PRIterator { // interface is returned to make the method mockable
	return &PRIter{
		clt:         clt,
		ctx:         ctx,
		owner:       owner,
		repo:        repo,
		filterState: state,
		filterHead:  head,
		filterBase:  base,
		nextPage:    1,
	}
}

func (clt *Client) wrapErrors(op string, err error) error {
	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.String("operation", op),
			zap.Int("github_api_rate_limit", rateLimitErr.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", rateLimitErr.Rate.Reset.Time),
		)

		return promoteerr.NewRetryableHostingServiceError(op, err, rateLimitErr.Rate.Reset.Time)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var after time.Time
		if d := abuseErr.GetRetryAfter(); d > 0 {
			after = time.Now().Add(d)
		}

		return promoteerr.NewRetryableHostingServiceError(op, err, after)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		if respErr.Response.StatusCode >= 500 && respErr.Response.StatusCode < 600 {
			return promoteerr.NewRetryableHostingServiceError(op, err, time.Time{})
		}
	}

	return promoteerr.NewHostingServiceError(op, err)
}
