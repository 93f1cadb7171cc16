// Package policy resolves per-tenant, per-repository alert handling
// configuration and decides whether an alert qualifies for an issue.
package policy

import (
	"maps"
	"slices"

	"github.com/linnemanlabs/warden/internal/alert"
)

// Tracker holds issue tracker connection and field parameters.
type Tracker struct {
	BaseURL           string `json:"base_url" yaml:"base_url"`
	ProjectKey        string `json:"project_key" yaml:"project_key"`
	IssueType         string `json:"issue_type" yaml:"issue_type"`
	LinkType          string `json:"link_type" yaml:"link_type"`
	SecurityLabel     string `json:"security_label" yaml:"security_label"`
	MissingStoryLabel string `json:"missing_story_label" yaml:"missing_story_label"`
	CredentialRef     string `json:"credential_ref" yaml:"credential_ref"`
}

// Epic controls resolution of a story to its umbrella item.
type Epic struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	Traverse      bool     `json:"traverse" yaml:"traverse"`
	AcceptedTypes []string `json:"accepted_types" yaml:"accepted_types"`
}

// Notify controls best-effort side effects after an issue is created.
type Notify struct {
	PRComment       bool   `json:"pr_comment" yaml:"pr_comment"`
	Slack           bool   `json:"slack" yaml:"slack"`
	SlackWebhookURL string `json:"slack_webhook_url,omitempty" yaml:"slack_webhook_url,omitempty"`
}

// Context is the resolved configuration snapshot for one repository.
type Context struct {
	TenantID          string                `json:"tenant_id" yaml:"tenant_id"`
	Enabled           bool                  `json:"enabled" yaml:"enabled"`
	AlertTypeEnabled  map[alert.Type]bool   `json:"alert_type_enabled" yaml:"alert_type_enabled"`
	SeverityThreshold map[alert.Type]string `json:"severity_threshold" yaml:"severity_threshold"`
	Tracker           Tracker               `json:"tracker" yaml:"tracker"`
	Epic              Epic                  `json:"epic" yaml:"epic"`
	Notify            Notify                `json:"notify" yaml:"notify"`
}

// TypeEnabled reports whether alerts of type t are processed. Types missing
// from the map are disabled.
func (c *Context) TypeEnabled(t alert.Type) bool {
	return c.AlertTypeEnabled[t]
}

// Threshold returns the minimum severity for type t, "" when unset.
func (c *Context) Threshold(t alert.Type) string {
	return c.SeverityThreshold[t]
}

// Admits reports whether an alert passes the type switch and severity threshold.
func (c *Context) Admits(al *alert.Normalized) bool {
	return c.TypeEnabled(al.Type) && MeetsThreshold(al.Rule.EffectiveSeverity, c.Threshold(al.Type))
}

// TrackerOverride replaces individual tracker fields when set.
type TrackerOverride struct {
	BaseURL           *string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	ProjectKey        *string `json:"project_key,omitempty" yaml:"project_key,omitempty"`
	IssueType         *string `json:"issue_type,omitempty" yaml:"issue_type,omitempty"`
	LinkType          *string `json:"link_type,omitempty" yaml:"link_type,omitempty"`
	SecurityLabel     *string `json:"security_label,omitempty" yaml:"security_label,omitempty"`
	MissingStoryLabel *string `json:"missing_story_label,omitempty" yaml:"missing_story_label,omitempty"`
	CredentialRef     *string `json:"credential_ref,omitempty" yaml:"credential_ref,omitempty"`
}

// EpicOverride replaces individual EPIC settings when set.
type EpicOverride struct {
	Enabled       *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Traverse      *bool    `json:"traverse,omitempty" yaml:"traverse,omitempty"`
	AcceptedTypes []string `json:"accepted_types,omitempty" yaml:"accepted_types,omitempty"`
}

// NotifyOverride replaces individual notification settings when set.
type NotifyOverride struct {
	PRComment       *bool   `json:"pr_comment,omitempty" yaml:"pr_comment,omitempty"`
	Slack           *bool   `json:"slack,omitempty" yaml:"slack,omitempty"`
	SlackWebhookURL *string `json:"slack_webhook_url,omitempty" yaml:"slack_webhook_url,omitempty"`
}

// Override is a repository-level patch over tenant defaults. Absent fields
// fall through to the default.
type Override struct {
	AlertTypeEnabled  map[alert.Type]bool   `json:"alert_type_enabled,omitempty" yaml:"alert_type_enabled,omitempty"`
	SeverityThreshold map[alert.Type]string `json:"severity_threshold,omitempty" yaml:"severity_threshold,omitempty"`
	Tracker           TrackerOverride       `json:"tracker,omitzero" yaml:"tracker,omitempty"`
	Epic              EpicOverride          `json:"epic,omitzero" yaml:"epic,omitempty"`
	Notify            NotifyOverride        `json:"notify,omitzero" yaml:"notify,omitempty"`
}

// Document is the stored policy for one tenant.
type Document struct {
	TenantID     string              `json:"tenant_id" yaml:"tenant_id"`
	Defaults     Context             `json:"defaults" yaml:"defaults"`
	Repositories map[string]Override `json:"repositories,omitempty" yaml:"repositories,omitempty"`
}

// Resolve returns the policy for repo, the tenant defaults with the
// repository override applied. repo may be a full "owner/name" or short name.
func (d *Document) Resolve(repo string) Context {
	ov, ok := d.Repositories[repo]
	if !ok {
		ov, ok = d.Repositories[shortName(repo)]
	}
	ctx := Merge(d.Defaults, nil)
	if ok {
		ctx = Merge(d.Defaults, &ov)
	}
	if ctx.TenantID == "" {
		ctx.TenantID = d.TenantID
	}
	return ctx
}

// Merge applies override on top of defaults field by field. The alert-type
// maps merge one level deep, per key. The result shares no maps or slices
// with its inputs.
func Merge(defaults Context, override *Override) Context {
	out := defaults
	out.AlertTypeEnabled = maps.Clone(defaults.AlertTypeEnabled)
	out.SeverityThreshold = maps.Clone(defaults.SeverityThreshold)
	out.Epic.AcceptedTypes = slices.Clone(defaults.Epic.AcceptedTypes)
	if out.AlertTypeEnabled == nil {
		out.AlertTypeEnabled = make(map[alert.Type]bool)
	}
	if out.SeverityThreshold == nil {
		out.SeverityThreshold = make(map[alert.Type]string)
	}

	if override == nil {
		return out
	}

	maps.Copy(out.AlertTypeEnabled, override.AlertTypeEnabled)
	maps.Copy(out.SeverityThreshold, override.SeverityThreshold)

	t := override.Tracker
	setString(&out.Tracker.BaseURL, t.BaseURL)
	setString(&out.Tracker.ProjectKey, t.ProjectKey)
	setString(&out.Tracker.IssueType, t.IssueType)
	setString(&out.Tracker.LinkType, t.LinkType)
	setString(&out.Tracker.SecurityLabel, t.SecurityLabel)
	setString(&out.Tracker.MissingStoryLabel, t.MissingStoryLabel)
	setString(&out.Tracker.CredentialRef, t.CredentialRef)

	e := override.Epic
	setBool(&out.Epic.Enabled, e.Enabled)
	setBool(&out.Epic.Traverse, e.Traverse)
	if e.AcceptedTypes != nil {
		out.Epic.AcceptedTypes = slices.Clone(e.AcceptedTypes)
	}

	n := override.Notify
	setBool(&out.Notify.PRComment, n.PRComment)
	setBool(&out.Notify.Slack, n.Slack)
	setString(&out.Notify.SlackWebhookURL, n.SlackWebhookURL)

	return out
}

// Defaults returns the built-in tenant policy used when no document exists.
func Defaults(tenantID string) Context {
	return Context{
		TenantID: tenantID,
		Enabled:  true,
		AlertTypeEnabled: map[alert.Type]bool{
			alert.TypeCodeScan:   true,
			alert.TypeSecretScan: true,
			alert.TypeDependency: true,
		},
		SeverityThreshold: map[alert.Type]string{
			alert.TypeCodeScan:   "medium",
			alert.TypeSecretScan: "low",
			alert.TypeDependency: "medium",
		},
		Tracker: Tracker{
			ProjectKey:        "SEC",
			IssueType:         "Bug",
			LinkType:          "Relates",
			SecurityLabel:     "security-alert",
			MissingStoryLabel: "missing-user-story",
		},
		Epic: Epic{
			Enabled:       true,
			Traverse:      true,
			AcceptedTypes: []string{"Epic"},
		},
		Notify: Notify{
			PRComment: true,
			Slack:     true,
		},
	}
}

// DefaultDocument returns a document holding only the built-in defaults.
func DefaultDocument(tenantID string) *Document {
	return &Document{TenantID: tenantID, Defaults: Defaults(tenantID)}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func shortName(repo string) string {
	for i := len(repo) - 1; i >= 0; i-- {
		if repo[i] == '/' {
			return repo[i+1:]
		}
	}
	return repo
}
