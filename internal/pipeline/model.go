package pipeline

import (
	"encoding/json"
	"strings"
)

// Repository identifies the repository an alert was raised in.
type Repository struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	Owner    string `json:"owner"`
}

// ShortName returns Name, deriving it from FullName when unset.
func (r Repository) ShortName() string {
	if r.Name != "" {
		return r.Name
	}
	if i := strings.LastIndexByte(r.FullName, '/'); i >= 0 {
		return r.FullName[i+1:]
	}
	return r.FullName
}

// OwnerName returns Owner, deriving it from FullName when unset.
func (r Repository) OwnerName() string {
	if r.Owner != "" {
		return r.Owner
	}
	if owner, _, ok := strings.Cut(r.FullName, "/"); ok {
		return owner
	}
	return ""
}

// Message is one queued alert event.
type Message struct {
	DeliveryID string          `json:"delivery_id"`
	TenantID   string          `json:"tenant_id"`
	AlertType  string          `json:"alert_type"`
	Action     string          `json:"action"`
	Repository Repository      `json:"repository"`
	Alert      json.RawMessage `json:"alert"`
}

// Outcome is the terminal state of processing one message.
type Outcome string

const (
	OutcomeCreated        Outcome = "created"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeExcluded       Outcome = "excluded"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeTenantDisabled Outcome = "tenant_disabled"
	OutcomeFailed         Outcome = "failed"
)

// Result describes what Process did with a message.
type Result struct {
	Outcome  Outcome `json:"outcome"`
	IssueKey string  `json:"issue_key,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Enrichment step names used in logs and metrics.
const (
	StepPRLookup    = "pr_lookup"
	StepPRDetails   = "pr_details"
	StepPRCommits   = "pr_commits"
	StepStoryVerify = "story_verify"
	StepPRComment   = "pr_comment"
	StepNotify      = "notify"
	StepClaim       = "claim"
)
