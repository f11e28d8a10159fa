package githubclt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-github/v43/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/promotepr/internal/promoteerr"
)

const (
	repoOwner = "acme"
	repo      = "shop"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	restClt := github.NewClient(srv.Client())
	baseURL, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	restClt.BaseURL = baseURL

	return &Client{
		restClt: restClt,
		logger:  zap.L(),
	}
}

func TestOpenPullRequestsFiltersAndPages(t *testing.T) {
	var requests []url.Values

	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/repos/acme/shop/pulls", r.URL.Path)

		q := r.URL.Query()
		requests = append(requests, q)

		if q.Get("page") == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/shop/pulls?page=2>; rel="next"`, r.Host))
			fmt.Fprint(w, `[{"number": 3, "title": "Merge main into production", "body": "old", "html_url": "https://github.com/acme/shop/pull/3"}]`)
			return
		}

		fmt.Fprint(w, `[{"number": 4}]`)
	})

	prs, err := clt.OpenPullRequests(context.Background(), repoOwner, repo, "acme:main", "production")
	require.NoError(t, err)
	require.Len(t, prs, 2)

	assert.Equal(t, &PullRequest{
		Number: 3,
		Title:  "Merge main into production",
		Body:   "old",
		URL:    "https://github.com/acme/shop/pull/3",
	}, prs[0])
	assert.Equal(t, 4, prs[1].Number)

	require.Len(t, requests, 2)
	assert.Equal(t, "open", requests[0].Get("state"))
	assert.Equal(t, "acme:main", requests[0].Get("head"))
	assert.Equal(t, "production", requests[0].Get("base"))
	assert.Equal(t, "2", requests[1].Get("page"))
}

func TestOpenPullRequestsNoneExist(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	prs, err := clt.OpenPullRequests(context.Background(), repoOwner, repo, "acme:main", "production")
	require.NoError(t, err)
	assert.Empty(t, prs)
}

func TestFileContentAtRef(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/shop/contents/packages/web/CHANGELOG.md", r.URL.Path)
		assert.Equal(t, "production", r.URL.Query().Get("ref"))

		fmt.Fprint(w, `{"type": "file", "encoding": "base64", "content": "IyMgMS4wLjAK\n"}`)
	})

	content, found, err := clt.FileContentAtRef(context.Background(), repoOwner, repo, "packages/web/CHANGELOG.md", "production")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, &FileContent{Content: "IyMgMS4wLjAK\n", Encoding: "base64"}, content)
}

func TestFileContentAtRefNotFound(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	content, found, err := clt.FileContentAtRef(context.Background(), repoOwner, repo, "CHANGELOG.md", "production")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, content)
}

func TestFileContentAtRefDirectoryIsInvalid(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"type": "file", "name": "CHANGELOG.md"}]`)
	})

	_, found, err := clt.FileContentAtRef(context.Background(), repoOwner, repo, "CHANGELOG.md", "production")
	require.Error(t, err)
	assert.False(t, found)

	var hsErr *promoteerr.HostingServiceError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, opGetContents, hsErr.Op)
	assert.False(t, hsErr.Retryable)
}

func TestFileContentAtRefForbidden(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "Resource not accessible by integration"}`)
	})

	_, found, err := clt.FileContentAtRef(context.Background(), repoOwner, repo, "CHANGELOG.md", "production")
	require.Error(t, err)
	assert.False(t, found)

	var hsErr *promoteerr.HostingServiceError
	require.ErrorAs(t, err, &hsErr)
	assert.False(t, hsErr.Retryable)

	var respErr *github.ErrorResponse
	assert.ErrorAs(t, err, &respErr)
}

func TestCreatePullRequest(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/shop/pulls", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]interface{}{
			"title": "Merge main into production",
			"body":  "## 3.1.0\n- fix X",
			"head":  "main",
			"base":  "production",
		}, req)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 12, "html_url": "https://github.com/acme/shop/pull/12"}`)
	})

	pr, err := clt.CreatePullRequest(context.Background(), repoOwner, repo, "Merge main into production", "## 3.1.0\n- fix X", "main", "production")
	require.NoError(t, err)
	assert.Equal(t, 12, pr.Number)
	assert.Equal(t, "https://github.com/acme/shop/pull/12", pr.URL)
}

func TestUpdatePullRequestBodyOnlySendsBody(t *testing.T) {
	var called bool

	clt := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/repos/acme/shop/pulls/12", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]interface{}{"body": "new body"}, req)

		fmt.Fprint(w, `{"number": 12}`)
	})

	require.NoError(t, clt.UpdatePullRequestBody(context.Background(), repoOwner, repo, 12, "new body"))
	assert.True(t, called)
}

func TestServerErrorsAreRetryable(t *testing.T) {
	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := clt.OpenPullRequests(context.Background(), repoOwner, repo, "acme:main", "production")
	require.Error(t, err)

	var hsErr *promoteerr.HostingServiceError
	require.ErrorAs(t, err, &hsErr)
	assert.True(t, hsErr.Retryable)
	assert.Equal(t, opListPullRequests, hsErr.Op)
}

func TestRateLimitErrorsAreRetryableAfterReset(t *testing.T) {
	reset := time.Now().Add(10 * time.Minute).Truncate(time.Second)

	clt := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "API rate limit exceeded for installation ID 1."}`)
	})

	err := clt.UpdatePullRequestBody(context.Background(), repoOwner, repo, 1, "body")
	require.Error(t, err)

	var hsErr *promoteerr.HostingServiceError
	require.ErrorAs(t, err, &hsErr)
	assert.True(t, hsErr.Retryable)
	assert.True(t, reset.Equal(hsErr.After), "after: %s, expected: %s", hsErr.After, reset)
}
