// Package jira implements tracker.Client against the Jira Cloud REST v3 API.
package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/linnemanlabs/warden/internal/restclient"
	"github.com/linnemanlabs/warden/internal/tracker"
)

// Client talks to one Jira site. Safe for concurrent use.
type Client struct {
	rc *restclient.Client
}

var _ tracker.Client = (*Client)(nil)

// New returns a Client for baseURL using opts for transport and auth.
func New(baseURL string, opts ...restclient.Option) *Client {
	return &Client{rc: restclient.New(baseURL, opts...)}
}

type issueResponse struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Parent *struct {
			Key string `json:"key"`
		} `json:"parent"`
	} `json:"fields"`
}

// GetIssue fetches the issue type and parent of key.
func (c *Client) GetIssue(ctx context.Context, key string) (*tracker.Issue, error) {
	var resp issueResponse
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "?fields=issuetype,parent"
	if err := c.rc.Get(ctx, path, &resp); err != nil {
		if restclient.IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", tracker.ErrNotFound, key)
		}
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	is := &tracker.Issue{Key: resp.Key, ID: resp.ID, Type: resp.Fields.IssueType.Name}
	if resp.Fields.Parent != nil {
		is.ParentKey = resp.Fields.Parent.Key
	}
	return is, nil
}

// SearchByLabels returns up to limit keys of issues carrying every label.
func (c *Client) SearchByLabels(ctx context.Context, labels []string, limit int) ([]string, error) {
	if len(labels) == 0 {
		return nil, errors.New("search: no labels")
	}
	q := url.Values{}
	q.Set("jql", labelJQL(labels))
	q.Set("fields", "key")
	q.Set("maxResults", strconv.Itoa(limit))

	var resp struct {
		Issues []struct {
			Key string `json:"key"`
		} `json:"issues"`
	}
	if err := c.rc.Get(ctx, "/rest/api/3/search/jql?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	keys := make([]string, 0, len(resp.Issues))
	for _, is := range resp.Issues {
		keys = append(keys, is.Key)
	}
	return keys, nil
}

type named struct {
	Name string `json:"name"`
}

type keyed struct {
	Key string `json:"key"`
}

type createFields struct {
	Project     keyed         `json:"project"`
	IssueType   named         `json:"issuetype"`
	Summary     string        `json:"summary"`
	Description *tracker.Node `json:"description,omitempty"`
	Priority    *named        `json:"priority,omitempty"`
	Labels      []string      `json:"labels,omitempty"`
}

// CreateIssue creates an issue. Failures are returned as *tracker.WriteError.
func (c *Client) CreateIssue(ctx context.Context, req *tracker.CreateRequest) (*tracker.Created, error) {
	fields := createFields{
		Project:     keyed{Key: req.ProjectKey},
		IssueType:   named{Name: req.IssueType},
		Summary:     req.Summary,
		Description: req.Description,
		Labels:      req.Labels,
	}
	if req.Priority != "" {
		fields.Priority = &named{Name: req.Priority}
	}

	var out tracker.Created
	if err := c.rc.Post(ctx, "/rest/api/3/issue", map[string]any{"fields": fields}, &out); err != nil {
		return nil, writeError("create issue", err)
	}
	if out.Key == "" {
		return nil, &tracker.WriteError{Op: "create issue", Err: errors.New("response carried no issue key")}
	}
	return &out, nil
}

// LinkIssues links inward to outward with the named link type.
func (c *Client) LinkIssues(ctx context.Context, linkType, inwardKey, outwardKey string) error {
	body := map[string]any{
		"type":         named{Name: linkType},
		"inwardIssue":  keyed{Key: inwardKey},
		"outwardIssue": keyed{Key: outwardKey},
	}
	if err := c.rc.Post(ctx, "/rest/api/3/issueLink", body, nil); err != nil {
		return writeError("link issues", err)
	}
	return nil
}

// CreateRemoteLink attaches an external URL to issueKey.
func (c *Client) CreateRemoteLink(ctx context.Context, issueKey string, link tracker.RemoteLink) error {
	body := map[string]any{
		"object": map[string]string{"url": link.URL, "title": link.Title},
	}
	path := "/rest/api/3/issue/" + url.PathEscape(issueKey) + "/remotelink"
	if err := c.rc.Post(ctx, path, body, nil); err != nil {
		return writeError("remote link", err)
	}
	return nil
}

func writeError(op string, err error) error {
	var se *restclient.StatusError
	if errors.As(err, &se) {
		return &tracker.WriteError{Op: op, Status: se.Status, Body: se.Body, Err: err}
	}
	return &tracker.WriteError{Op: op, Err: err}
}

// labelJQL builds `labels = "a" AND labels = "b"` with JQL string escaping.
func labelJQL(labels []string) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = "labels = " + strconv.Quote(l)
	}
	return strings.Join(parts, " AND ")
}
