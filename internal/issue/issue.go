// Package issue builds and creates the tracker issue for one qualifying
// alert, then links it back to the alert and forward to its story.
package issue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/dedup"
	"github.com/linnemanlabs/warden/internal/issuekey"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/tracker"
)

const (
	maxSummary = 255
	na         = "N/A"
)

// Enrichment step names reported through Hooks.
const (
	StepRemoteLink = "remote_link"
	StepIssueLink  = "issue_link"
)

var priorities = map[string]string{
	"critical": "Highest",
	"high":     "High",
	"medium":   "Medium",
	"low":      "Low",
	"warning":  "Low",
	"note":     "Lowest",
	"error":    "High",
}

// Priority maps an alert severity to a tracker priority name.
func Priority(severity string) string {
	if p, ok := priorities[strings.ToLower(severity)]; ok {
		return p
	}
	return "Medium"
}

// Repository names the repository an alert came from.
type Repository struct {
	FullName string
	Name     string
}

// PullRequest is the pull request context attached to an alert, if any.
type PullRequest struct {
	Number int
	URL    string
}

// Input is everything the synthesizer needs for one issue.
type Input struct {
	Alert  *alert.Normalized
	Policy policy.Context
	Repo   Repository
	PR     *PullRequest
	// Story is the verified story key, "" when none was resolved.
	Story string
	// Anchor is the key the issue is filed under and linked to: the
	// resolved EPIC, or Story itself. Ignored when Story is empty.
	Anchor string
}

func (in *Input) anchor() string {
	if in.Story == "" {
		return ""
	}
	if in.Anchor != "" {
		return in.Anchor
	}
	return in.Story
}

// Hooks are optional callbacks for observability.
type Hooks struct {
	OnEnrichmentFailure func(step string)
}

// Synthesizer creates issues through a tracker writer.
type Synthesizer struct {
	writer tracker.Writer
	logger log.Logger
	hooks  Hooks
}

// NewSynthesizer returns a Synthesizer.
func NewSynthesizer(w tracker.Writer, logger log.Logger, hooks Hooks) *Synthesizer {
	return &Synthesizer{writer: w, logger: logger, hooks: hooks}
}

// Create files the issue. Creation failures are returned as
// *tracker.WriteError; link failures after creation are logged only.
func (s *Synthesizer) Create(ctx context.Context, in *Input) (*tracker.Created, error) {
	req := Build(in)

	created, err := s.writer.CreateIssue(ctx, req)
	if err != nil {
		var we *tracker.WriteError
		if !errors.As(err, &we) {
			err = &tracker.WriteError{Op: "create issue", Err: err}
		}
		return nil, err
	}

	L := s.logger.With("issue", created.Key)

	if in.Alert.URL != "" {
		link := tracker.RemoteLink{URL: in.Alert.URL, Title: remoteTitle(in.Alert)}
		if err := s.writer.CreateRemoteLink(ctx, created.Key, link); err != nil {
			L.Warn(ctx, "remote link failed", "url", in.Alert.URL, "error", err)
			s.enrichmentFailed(StepRemoteLink)
		}
	}

	if anchor := in.anchor(); anchor != "" && in.Policy.Tracker.LinkType != "" {
		if err := s.writer.LinkIssues(ctx, in.Policy.Tracker.LinkType, created.Key, anchor); err != nil {
			L.Warn(ctx, "issue link failed", "anchor", anchor, "link_type", in.Policy.Tracker.LinkType, "error", err)
			s.enrichmentFailed(StepIssueLink)
		}
	}

	return created, nil
}

func (s *Synthesizer) enrichmentFailed(step string) {
	if s.hooks.OnEnrichmentFailure != nil {
		s.hooks.OnEnrichmentFailure(step)
	}
}

// Build returns the create request for in without side effects.
func Build(in *Input) *tracker.CreateRequest {
	al := in.Alert
	t := in.Policy.Tracker

	project := t.ProjectKey
	if p := issuekey.Project(in.anchor()); p != "" {
		project = p
	}

	return &tracker.CreateRequest{
		ProjectKey:  project,
		IssueType:   t.IssueType,
		Summary:     Summary(al, in.Repo.Name),
		Description: Description(in),
		Priority:    Priority(al.Rule.EffectiveSeverity),
		Labels:      Labels(in),
	}
}

// Summary returns the issue title.
func Summary(al *alert.Normalized, repoShort string) string {
	s := fmt.Sprintf("[%s] %s in %s", al.Type.Label(), al.Title(), repoShort)
	if utf8.RuneCountInString(s) <= maxSummary {
		return s
	}
	r := []rune(s)
	return string(r[:maxSummary-3]) + "..."
}

// Labels returns the issue label set. The identity label is always present
// so later deliveries of the same alert find this issue.
func Labels(in *Input) []string {
	al := in.Alert
	t := in.Policy.Tracker

	labels := make([]string, 0, 6)
	add := func(l string) {
		l = labelSafe(l)
		if l == "" {
			return
		}
		for _, have := range labels {
			if have == l {
				return
			}
		}
		labels = append(labels, l)
	}

	add(t.SecurityLabel)
	sev := strings.ToLower(al.Rule.EffectiveSeverity)
	if sev == "" {
		sev = "unknown"
	}
	add("severity-" + sev)
	add("repo-" + in.Repo.Name)
	add(al.Type.Label())
	add(dedup.IdentityLabel(in.Repo.Name, al.Type, al.Number))
	if in.Story == "" {
		add(t.MissingStoryLabel)
	}
	return labels
}

// Description returns the rich-text body. Every section is always present,
// rendered N/A when empty, since downstream tooling parses them by name.
func Description(in *Input) *tracker.Node {
	al := in.Alert

	var prURL, prNumber string
	if in.PR != nil {
		prURL = in.PR.URL
		if in.PR.Number > 0 {
			prNumber = strconv.Itoa(in.PR.Number)
		}
	}

	return tracker.Doc(
		tracker.Heading(3, "Security alert"),
		field("Severity", al.Rule.EffectiveSeverity),
		field("Rule", al.Rule.ID),
		field("File", al.Location.Path),
		field("Lines", lineRange(al.Location.StartLine, al.Location.EndLine)),
		field("Description", firstNonEmpty(al.Rule.LongDescription, al.Rule.ShortDescription)),
		linkField("Alert", al.URL),
		linkField("Pull Request", prURL),
		field("Repository", in.Repo.FullName),
		field("Commit", al.Location.CommitSHA),
		field("PR Number", prNumber),
	)
}

func field(name, value string) tracker.Node {
	if strings.TrimSpace(value) == "" {
		value = na
	}
	return tracker.Paragraph(tracker.Strong(name+": "), tracker.Text(value))
}

func linkField(name, href string) tracker.Node {
	if href == "" {
		return field(name, "")
	}
	return tracker.Paragraph(tracker.Strong(name+": "), tracker.Link(href, href))
}

func lineRange(start, end int) string {
	switch {
	case start <= 0:
		return ""
	case end <= start:
		return strconv.Itoa(start)
	default:
		return strconv.Itoa(start) + "-" + strconv.Itoa(end)
	}
}

func remoteTitle(al *alert.Normalized) string {
	return fmt.Sprintf("%s alert #%d", al.Type.Label(), al.Number)
}

// labelSafe replaces whitespace, which tracker labels reject.
func labelSafe(s string) string {
	return strings.Join(strings.Fields(s), "-")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
