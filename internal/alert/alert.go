// Package alert defines the canonical security alert and normalizes the raw
// scanner payloads GitHub delivers into it.
package alert

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAlert is returned for payloads that cannot be normalized. Such
// messages are dropped, never retried.
var ErrInvalidAlert = errors.New("invalid alert")

// Type identifies the scanner that produced an alert.
type Type string

const (
	TypeCodeScan   Type = "code-scan"
	TypeSecretScan Type = "secret-scan"
	TypeDependency Type = "dependency"
)

// UnknownPath is used when the scanner reports no file location.
const UnknownPath = "unknown"

// Types lists every known alert type.
var Types = []Type{TypeCodeScan, TypeSecretScan, TypeDependency}

// ParseType maps a canonical type name or a GitHub webhook event name to a Type.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case string(TypeCodeScan), "code_scanning_alert", "code-scanning", "code_scanning":
		return TypeCodeScan, nil
	case string(TypeSecretScan), "secret_scanning_alert", "secret-scanning", "secret_scanning":
		return TypeSecretScan, nil
	case string(TypeDependency), "dependabot_alert", "dependabot", "dependency_alert":
		return TypeDependency, nil
	}
	return "", fmt.Errorf("%w: unknown alert type %q", ErrInvalidAlert, name)
}

// Label returns the tracker label used to tag issues of this type.
func (t Type) Label() string {
	switch t {
	case TypeCodeScan:
		return "code-scanning"
	case TypeSecretScan:
		return "secret-scanning"
	case TypeDependency:
		return "dependabot"
	}
	return string(t)
}

// Rule describes the scanner rule that fired.
type Rule struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	// EffectiveSeverity is the severity used for policy and priority decisions.
	EffectiveSeverity string `json:"effective_severity"`
	ShortDescription  string `json:"short_description"`
	LongDescription   string `json:"long_description"`
}

// Location is the best-effort position of the finding. Zero lines mean absent.
type Location struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

// Normalized is the canonical representation of one scanner finding. It is
// built once per inbound event and treated as immutable afterwards.
type Normalized struct {
	Type     Type     `json:"type"`
	Number   int64    `json:"number"`
	URL      string   `json:"url,omitempty"`
	Rule     Rule     `json:"rule"`
	Location Location `json:"location"`
}

// Title returns a one-line summary of the finding.
func (a *Normalized) Title() string {
	desc := a.Rule.ShortDescription
	if desc == "" {
		desc = a.Rule.ID
	}
	if desc == "" {
		desc = a.Type.Label()
	}
	return desc
}
