package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/dedup"
	"github.com/linnemanlabs/warden/internal/epic"
	"github.com/linnemanlabs/warden/internal/issue"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/scm/github"
	"github.com/linnemanlabs/warden/internal/story"
	"github.com/linnemanlabs/warden/internal/tracker"
)

const tracerName = "github.com/linnemanlabs/warden/internal/pipeline"

// SourceControl reads pull request context and posts comments.
type SourceControl interface {
	FindPRForCommit(ctx context.Context, owner, repo, sha string) (int, bool, error)
	GetPR(ctx context.Context, owner, repo string, n int) (*github.PullRequest, error)
	ListCommits(ctx context.Context, owner, repo string, n int) ([]string, error)
	CreateComment(ctx context.Context, owner, repo string, n int, body string) error
}

// TrackerProvider returns a tracker client for a tenant's settings.
type TrackerProvider interface {
	For(ctx context.Context, t policy.Tracker) (tracker.Client, error)
}

// Notification is the chat message payload for a created issue.
type Notification struct {
	TenantID   string
	Repository string
	Alert      *alert.Normalized
	IssueKey   string
	IssueURL   string
	Story      string
	PRURL      string
	// WebhookURL overrides the notifier's default destination when set.
	WebhookURL string
}

// Notifier delivers notifications about created issues.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// Hooks are optional callbacks for observability.
type Hooks struct {
	OnOutcome           func(outcome Outcome, seconds float64)
	OnEnrichmentFailure func(step string)
}

// Deps are the collaborators of a Processor. Policies, Trackers and SCM are
// required.
type Deps struct {
	Policies policy.Store
	Trackers TrackerProvider
	SCM      SourceControl
	Notifier Notifier
	Claimer  dedup.Claimer
	Logger   log.Logger
	Hooks    Hooks
}

// Processor runs the alert pipeline for one message at a time. It is safe
// for concurrent use; each call is independent.
type Processor struct {
	policies policy.Store
	trackers TrackerProvider
	scm      SourceControl
	notifier Notifier
	claimer  dedup.Claimer
	logger   log.Logger
	hooks    Hooks
}

// New returns a Processor.
func New(d Deps) *Processor {
	if d.Policies == nil {
		panic(xerrors.New("policy store is required"))
	}
	if d.Trackers == nil {
		panic(xerrors.New("tracker provider is required"))
	}
	if d.SCM == nil {
		panic(xerrors.New("source control client is required"))
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	return &Processor{
		policies: d.Policies,
		trackers: d.Trackers,
		scm:      d.SCM,
		notifier: d.Notifier,
		claimer:  d.Claimer,
		logger:   d.Logger,
		hooks:    d.Hooks,
	}
}

// ErrClaimed is returned when another worker holds the dedup claim for the
// alert and no issue is visible yet. The message should be retried.
var ErrClaimed = errors.New("claimed by another worker")

// Process runs msg through the pipeline. Drops (invalid, excluded,
// duplicate, disabled tenant) are reported in the Result with a nil error.
// A non-nil error means the message may be retried.
func (p *Processor) Process(ctx context.Context, msg *Message) (*Result, error) {
	start := time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("warden.delivery.id", msg.DeliveryID),
		attribute.String("warden.tenant.id", msg.TenantID),
		attribute.String("warden.repository", msg.Repository.FullName),
		attribute.String("warden.alert.type", msg.AlertType),
	)

	L := p.logger.With(
		"delivery_id", msg.DeliveryID,
		"tenant", msg.TenantID,
		"repo", msg.Repository.FullName,
		"alert_type", msg.AlertType,
	)
	ctx = log.WithContext(ctx, L)

	res, err := p.run(ctx, L, msg)
	if err != nil {
		res = &Result{Outcome: OutcomeFailed, Reason: err.Error()}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "alert processing failed")
	} else {
		L.Info(ctx, "alert processed", "outcome", res.Outcome, "issue", res.IssueKey, "reason", res.Reason)
	}

	span.SetAttributes(attribute.String("warden.outcome", string(res.Outcome)))
	if res.IssueKey != "" {
		span.SetAttributes(attribute.String("warden.issue.key", res.IssueKey))
	}
	if p.hooks.OnOutcome != nil {
		p.hooks.OnOutcome(res.Outcome, time.Since(start).Seconds())
	}
	return res, err
}

func (p *Processor) run(ctx context.Context, L log.Logger, msg *Message) (*Result, error) {
	// 1. policy
	doc, err := p.policies.Load(ctx, msg.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	pol := doc.Resolve(msg.Repository.FullName)
	if !pol.Enabled {
		return &Result{Outcome: OutcomeTenantDisabled, Reason: "tenant disabled"}, nil
	}

	// 2. normalize
	al, err := alert.Normalize(msg.AlertType, msg.Alert)
	if err != nil {
		return &Result{Outcome: OutcomeInvalid, Reason: err.Error()}, nil
	}

	// 3. policy check
	if !pol.TypeEnabled(al.Type) {
		return &Result{Outcome: OutcomeExcluded, Reason: "alert type disabled"}, nil
	}
	if !policy.MeetsThreshold(al.Rule.EffectiveSeverity, pol.Threshold(al.Type)) {
		return &Result{
			Outcome: OutcomeExcluded,
			Reason:  fmt.Sprintf("severity %q below threshold %q", al.Rule.EffectiveSeverity, pol.Threshold(al.Type)),
		}, nil
	}

	tc, err := p.trackers.For(ctx, pol.Tracker)
	if err != nil {
		return nil, fmt.Errorf("tracker client: %w", err)
	}

	// 4. dedup
	repoShort := msg.Repository.ShortName()
	if key, found := dedup.NewFinder(tc, L).FindExisting(ctx, al, repoShort, pol.Tracker.SecurityLabel); found {
		return &Result{Outcome: OutcomeDuplicate, IssueKey: key, Reason: "existing issue"}, nil
	}
	identity := dedup.IdentityLabel(repoShort, al.Type, al.Number)
	claimed := false
	if p.claimer != nil {
		won, err := p.claimer.Claim(ctx, msg.TenantID, identity)
		switch {
		case err != nil:
			L.Warn(ctx, "dedup claim failed, proceeding unclaimed", "identity", identity, "error", err)
			p.enrichmentFailed(StepClaim)
		case !won:
			// the holder may die before creating; retry until its issue
			// is searchable or the claim expires
			return nil, fmt.Errorf("identity %s: %w", identity, ErrClaimed)
		default:
			claimed = true
		}
	}

	// 5. pull request context
	pr, commits := p.pullRequestContext(ctx, L, msg.Repository, al.Location.CommitSHA)

	// 6. story
	var body string
	if pr != nil {
		body = pr.Body
	}
	storyKey := p.verifiedStory(ctx, L, tc, body, commits)

	// 7. EPIC
	anchor := storyKey
	if storyKey != "" && pol.Epic.Enabled {
		anchor = epic.NewResolver(tc, L).Resolve(ctx, storyKey, pol.Epic.AcceptedTypes, pol.Epic.Traverse)
	}

	// 8. create
	in := &issue.Input{
		Alert:  al,
		Policy: pol,
		Repo:   issue.Repository{FullName: msg.Repository.FullName, Name: repoShort},
		Story:  storyKey,
		Anchor: anchor,
	}
	if pr != nil {
		in.PR = &issue.PullRequest{Number: pr.Number, URL: pr.HTMLURL}
	}
	synth := issue.NewSynthesizer(tc, L, issue.Hooks{OnEnrichmentFailure: p.enrichmentFailed})
	created, err := synth.Create(ctx, in)
	if err != nil {
		if claimed {
			if rerr := p.claimer.Release(context.WithoutCancel(ctx), msg.TenantID, identity); rerr != nil {
				L.Warn(ctx, "dedup claim release failed", "identity", identity, "error", rerr)
			}
		}
		return nil, fmt.Errorf("create issue: %w", err)
	}

	// 9. enrichment
	issueURL := browseURL(pol.Tracker.BaseURL, created.Key)
	if pr != nil && pol.Notify.PRComment {
		comment := prComment(al, created.Key, issueURL, anchor)
		if err := p.scm.CreateComment(ctx, msg.Repository.OwnerName(), repoShort, pr.Number, comment); err != nil {
			L.Warn(ctx, "pr comment failed", "pr", pr.Number, "error", err)
			p.enrichmentFailed(StepPRComment)
		}
	}
	if p.notifier != nil && pol.Notify.Slack {
		n := &Notification{
			TenantID:   msg.TenantID,
			Repository: msg.Repository.FullName,
			Alert:      al,
			IssueKey:   created.Key,
			IssueURL:   issueURL,
			Story:      storyKey,
			WebhookURL: pol.Notify.SlackWebhookURL,
		}
		if pr != nil {
			n.PRURL = pr.HTMLURL
		}
		if err := p.notifier.Notify(ctx, n); err != nil {
			L.Warn(ctx, "notification failed", "error", err)
			p.enrichmentFailed(StepNotify)
		}
	}

	return &Result{Outcome: OutcomeCreated, IssueKey: created.Key}, nil
}

// pullRequestContext finds the pull request for sha and fetches its details
// and commits concurrently. Any failure degrades to less context. Commits
// are returned newest first.
func (p *Processor) pullRequestContext(ctx context.Context, L log.Logger, repo Repository, sha string) (*github.PullRequest, []string) {
	if sha == "" {
		return nil, nil
	}
	owner, name := repo.OwnerName(), repo.ShortName()

	n, ok, err := p.scm.FindPRForCommit(ctx, owner, name, sha)
	if err != nil {
		L.Warn(ctx, "pull request lookup failed", "sha", sha, "error", err)
		p.enrichmentFailed(StepPRLookup)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	var (
		pr      *github.PullRequest
		commits []string
		g       errgroup.Group
	)
	g.Go(func() error {
		got, err := p.scm.GetPR(ctx, owner, name, n)
		if err != nil {
			L.Warn(ctx, "pull request fetch failed", "pr", n, "error", err)
			p.enrichmentFailed(StepPRDetails)
			return nil
		}
		pr = got
		return nil
	})
	g.Go(func() error {
		got, err := p.scm.ListCommits(ctx, owner, name, n)
		if err != nil {
			L.Warn(ctx, "pull request commits fetch failed", "pr", n, "error", err)
			p.enrichmentFailed(StepPRCommits)
			return nil
		}
		commits = got
		return nil
	})
	_ = g.Wait()

	if pr == nil {
		// keep the number so the issue still references the pull request
		pr = &github.PullRequest{Number: n}
	}
	slices.Reverse(commits)
	return pr, commits
}

// verifiedStory extracts a story key and confirms it exists in the tracker.
// Verification failure discards the story.
func (p *Processor) verifiedStory(ctx context.Context, L log.Logger, r tracker.Reader, body string, commits []string) string {
	key := story.FindStory(body, commits)
	if key == "" {
		return ""
	}
	if _, err := r.GetIssue(ctx, key); err != nil {
		L.Warn(ctx, "story verification failed, treating as absent", "story", key, "error", err)
		p.enrichmentFailed(StepStoryVerify)
		return ""
	}
	return key
}

func (p *Processor) enrichmentFailed(step string) {
	if p.hooks.OnEnrichmentFailure != nil {
		p.hooks.OnEnrichmentFailure(step)
	}
}

func browseURL(base, key string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/browse/" + key
}

func prComment(al *alert.Normalized, key, url, anchor string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Security alert tracked:** %s #%d (%s severity)\n\n", al.Type.Label(), al.Number, al.Rule.EffectiveSeverity)
	if url != "" {
		fmt.Fprintf(&b, "Issue: [%s](%s)\n", key, url)
	} else {
		fmt.Fprintf(&b, "Issue: %s\n", key)
	}
	if anchor != "" {
		fmt.Fprintf(&b, "Linked to: %s\n", anchor)
	}
	if al.URL != "" {
		fmt.Fprintf(&b, "Alert: %s\n", al.URL)
	}
	return b.String()
}
