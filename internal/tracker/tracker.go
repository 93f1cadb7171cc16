// Package tracker defines the issue tracker operations the pipeline depends
// on and the document model used for issue descriptions.
package tracker

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Reader when the issue does not exist or is not
// visible to the credential.
var ErrNotFound = errors.New("tracker: issue not found")

// Issue is the subset of an issue the EPIC walk and story verification need.
type Issue struct {
	Key       string
	ID        string
	Type      string
	ParentKey string
}

// Created identifies a newly created issue.
type Created struct {
	Key string `json:"key"`
	ID  string `json:"id"`
}

// CreateRequest is the field set for a new issue.
type CreateRequest struct {
	ProjectKey  string
	IssueType   string
	Summary     string
	Description *Node
	Priority    string
	Labels      []string
}

// RemoteLink is an external link attached to an issue.
type RemoteLink struct {
	URL   string
	Title string
}

// WriteError is a non-retryable rejection of a tracker write.
type WriteError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *WriteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tracker %s rejected: status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("tracker %s failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Reader fetches single issues.
type Reader interface {
	GetIssue(ctx context.Context, key string) (*Issue, error)
}

// Searcher finds issues carrying every one of the given labels.
type Searcher interface {
	SearchByLabels(ctx context.Context, labels []string, limit int) ([]string, error)
}

// Writer creates issues and their links.
type Writer interface {
	CreateIssue(ctx context.Context, req *CreateRequest) (*Created, error)
	LinkIssues(ctx context.Context, linkType, inwardKey, outwardKey string) error
	CreateRemoteLink(ctx context.Context, issueKey string, link RemoteLink) error
}

// Client is the full tracker surface for one tenant.
type Client interface {
	Reader
	Searcher
	Writer
}
