// Package promote keeps a single pull request open that promotes a head
// branch into a base branch.
//
// On every run the reconciler looks up the open pull requests from the
// head to the base branch. If none exists it creates one, if exactly one
// exists its description is replaced. The description lists the changelog
// entries of the repository and its packages that do not exist on the base
// branch yet.
// If more then one pull request is open the run fails without changing
// anything, the situation has to be resolved manually.
package promote

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/promotepr/internal/changelog"
	"github.com/simplesurance/promotepr/internal/githubclt"
	"github.com/simplesurance/promotepr/internal/logfields"
	"github.com/simplesurance/promotepr/internal/metrics"
	"github.com/simplesurance/promotepr/internal/prbody"
	"github.com/simplesurance/promotepr/internal/promoteerr"
	"github.com/simplesurance/promotepr/internal/stringutils"
)

//go:generate mockgen -destination=mocks/githubclient.go -package=mocks . GithubClient

const loggerName = "reconciler"

const bodyPreviewLen = 256

type GithubClient interface {
	OpenPullRequests(ctx context.Context, owner, repo, head, base string) ([]*githubclt.PullRequest, error)
	FileContentAtRef(ctx context.Context, owner, repo, path, ref string) (*githubclt.FileContent, bool, error)
	CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*githubclt.PullRequest, error)
	UpdatePullRequestBody(ctx context.Context, owner, repo string, pullRequestNumber int, body string) error
}

// State is a step of a reconciliation run.
type State string

const (
	StateStart         State = "start"
	StateConfigChecked State = "config_checked"
	StatePRsListed     State = "prs_listed"
	StateBodyComputed  State = "body_computed"
	StateCreated       State = "created"
	StateUpdated       State = "updated"
	StateFailed        State = "failed"
)

// Result describes the outcome of a successful run.
type Result struct {
	// State is StateCreated or StateUpdated.
	State       State
	PullRequest *githubclt.PullRequest
	Body        *prbody.Body
	// Unchanged is true when the description of the existing pull
	// request already was uptodate.
	Unchanged bool
}

// Reconciler creates or updates the promotion pull request.
type Reconciler struct {
	clt      GithubClient
	fsys     fs.FS
	settings Settings
	logger   *zap.Logger
}

// NewReconciler returns a Reconciler.
// fsys must contain a checkout of the head branch, changelogs are read
// from it.
func NewReconciler(clt GithubClient, fsys fs.FS, settings Settings) *Reconciler {
	return &Reconciler{
		clt:      clt,
		fsys:     fsys,
		settings: settings,
		logger:   zap.L().Named(loggerName),
	}
}

func (r *Reconciler) repository() string {
	return fmt.Sprintf("%s/%s", r.settings.Owner, r.settings.Repository)
}

// headFilter returns the head branch qualified with the repository owner.
func (r *Reconciler) headFilter() string {
	if strings.Contains(r.settings.Head, ":") {
		return r.settings.Head
	}

	return r.settings.Owner + ":" + r.settings.Head
}

// Reconcile ensures that exactly one open pull request from the head to the
// base branch exists and that its description lists the unpromoted
// changelog entries.
// At most one write operation is done, it happens after all reads
// succeeded.
func (r *Reconciler) Reconcile(ctx context.Context) (result *Result, err error) {
	startTime := time.Now()

	logger := r.logger.With(
		logfields.RepositoryOwner(r.settings.Owner),
		logfields.Repository(r.settings.Repository),
		logfields.HeadBranch(r.settings.Head),
		logfields.BaseBranch(r.settings.Base),
	)

	state := StateStart
	transition := func(s State, fields ...zap.Field) {
		logger.Debug(
			fmt.Sprintf("reconciliation state changed from %s to %s", state, s),
			append(fields, logfields.Event("reconcile_state_changed"), logfields.State(string(s)))...,
		)
		state = s
	}

	defer func() {
		if err != nil {
			transition(StateFailed, zap.Error(err))
			metrics.RunFinished(r.repository(), metrics.ResultFailed, time.Since(startTime))
			return
		}

		res := metrics.ResultUpdated
		if result.State == StateCreated {
			res = metrics.ResultCreated
		}
		metrics.RunFinished(r.repository(), res, time.Since(startTime))
	}()

	if err := r.settings.Validate(); err != nil {
		return nil, err
	}
	transition(StateConfigChecked)

	prs, err := r.clt.OpenPullRequests(ctx, r.settings.Owner, r.settings.Repository, r.headFilter(), r.settings.Base)
	if err != nil {
		return nil, fmt.Errorf("listing open pull requests failed: %w", err)
	}
	transition(StatePRsListed, zap.Int("open_pull_requests", len(prs)))

	if len(prs) > 1 {
		nrs := make([]int, 0, len(prs))
		for _, pr := range prs {
			nrs = append(nrs, pr.Number)
		}

		return nil, &promoteerr.AmbiguousStateError{
			Head:         r.settings.Head,
			Base:         r.settings.Base,
			PullRequests: nrs,
		}
	}

	body, err := r.assembleBody(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing pull request body failed: %w", err)
	}
	text := body.String()
	transition(
		StateBodyComputed,
		zap.Int("changelog_parts", len(body.Parts)),
		zap.String("body_preview", stringutils.Truncate(text, bodyPreviewLen)),
	)

	if len(prs) == 1 {
		pr := *prs[0]
		logger = logger.With(logfields.PullRequest(pr.Number))

		if err := r.clt.UpdatePullRequestBody(ctx, r.settings.Owner, r.settings.Repository, pr.Number, text); err != nil {
			return nil, fmt.Errorf("updating body of pull request #%d failed: %w", pr.Number, err)
		}

		unchanged := pr.Body == text
		pr.Body = text
		transition(StateUpdated, zap.Bool("body_unchanged", unchanged))

		logger.Info(
			"promotion pull request updated",
			logfields.Event("pull_request_updated"),
			zap.String("url", pr.URL),
			zap.Bool("body_unchanged", unchanged),
		)

		return &Result{
			State:       StateUpdated,
			PullRequest: &pr,
			Body:        body,
			Unchanged:   unchanged,
		}, nil
	}

	pr, err := r.clt.CreatePullRequest(
		ctx,
		r.settings.Owner,
		r.settings.Repository,
		r.settings.Title,
		text,
		r.settings.Head,
		r.settings.Base,
	)
	if err != nil {
		return nil, fmt.Errorf("creating pull request failed: %w", err)
	}
	transition(StateCreated, logfields.PullRequest(pr.Number))

	logger.Info(
		"promotion pull request created",
		logfields.Event("pull_request_created"),
		logfields.PullRequest(pr.Number),
		zap.String("url", pr.URL),
	)

	return &Result{
		State:       StateCreated,
		PullRequest: pr,
		Body:        body,
	}, nil
}

func (r *Reconciler) assembleBody(ctx context.Context) (*prbody.Body, error) {
	differ := changelog.NewDiffer(
		changelog.FetcherFunc(r.fetchTarget),
		changelog.WithHeadingMarker(r.settings.HeadingMarker),
	)

	return prbody.NewAssembler(differ).Assemble(
		ctx,
		changelog.Discover(r.fsys, r.settings.Layout),
	)
}

// fetchTarget retrieves a changelog from the base branch.
func (r *Reconciler) fetchTarget(ctx context.Context, path string) (*changelog.Lookup, error) {
	content, found, err := r.clt.FileContentAtRef(ctx, r.settings.Owner, r.settings.Repository, path, r.settings.Base)
	if err != nil {
		return nil, err
	}

	if !found {
		return &changelog.Lookup{}, nil
	}

	return &changelog.Lookup{
		Found:    true,
		Content:  content.Content,
		Encoding: content.Encoding,
	}, nil
}
