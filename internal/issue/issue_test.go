package issue

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/tracker"
)

type mockWriter struct {
	mu        sync.Mutex
	created   []*tracker.CreateRequest
	links     [][3]string
	remotes   []tracker.RemoteLink
	createErr error
	linkErr   error
	remoteErr error
}

func (m *mockWriter) CreateIssue(_ context.Context, req *tracker.CreateRequest) (*tracker.Created, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	return &tracker.Created{Key: req.ProjectKey + "-900", ID: "9000"}, nil
}

func (m *mockWriter) LinkIssues(_ context.Context, linkType, in, out string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, [3]string{linkType, in, out})
	return m.linkErr
}

func (m *mockWriter) CreateRemoteLink(_ context.Context, _ string, link tracker.RemoteLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remotes = append(m.remotes, link)
	return m.remoteErr
}

func testInput() *Input {
	return &Input{
		Alert: &alert.Normalized{
			Type:   alert.TypeCodeScan,
			Number: 42,
			URL:    "https://github.com/acme/api/security/code-scanning/42",
			Rule: alert.Rule{
				ID:                "js/sql-injection",
				Severity:          "error",
				EffectiveSeverity: "high",
				ShortDescription:  "SQL injection",
				LongDescription:   "Building SQL from user input.",
			},
			Location: alert.Location{Path: "src/db.js", StartLine: 10, EndLine: 12, CommitSHA: "abc123"},
		},
		Policy: policy.Defaults("acme"),
		Repo:   Repository{FullName: "acme/api", Name: "api"},
	}
}

func TestPriority(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"critical": "Highest",
		"high":     "High",
		"medium":   "Medium",
		"low":      "Low",
		"warning":  "Low",
		"note":     "Lowest",
		"error":    "High",
		"CRITICAL": "Highest",
		"bogus":    "Medium",
		"":         "Medium",
	}
	for sev, want := range tests {
		if got := Priority(sev); got != want {
			t.Errorf("Priority(%q) = %q, want %q", sev, got, want)
		}
	}
}

func TestBuild_ProjectFromAnchor(t *testing.T) {
	t.Parallel()

	in := testInput()
	if got := Build(in).ProjectKey; got != "SEC" {
		t.Errorf("no story: ProjectKey = %q, want default SEC", got)
	}

	in.Story = "AUTH-100"
	if got := Build(in).ProjectKey; got != "AUTH" {
		t.Errorf("story: ProjectKey = %q, want AUTH", got)
	}

	in.Anchor = "SUB-PROJ-7"
	if got := Build(in).ProjectKey; got != "SUB-PROJ" {
		t.Errorf("epic anchor: ProjectKey = %q, want SUB-PROJ", got)
	}

	in.Story = ""
	if got := Build(in).ProjectKey; got != "SEC" {
		t.Errorf("anchor without story: ProjectKey = %q, want SEC", got)
	}
}

func TestLabels(t *testing.T) {
	t.Parallel()

	in := testInput()
	got := Labels(in)
	want := []string{"security-alert", "severity-high", "repo-api", "code-scanning", "api-code-scan-42", "missing-user-story"}
	if !slices.Equal(got, want) {
		t.Errorf("Labels = %v, want %v", got, want)
	}

	in.Story = "AUTH-100"
	if slices.Contains(Labels(in), "missing-user-story") {
		t.Error("missing-story label present although a story was resolved")
	}
}

func TestLabels_EmptySeverity(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Alert.Rule.EffectiveSeverity = ""
	got := Labels(in)
	if !slices.Contains(got, "severity-unknown") {
		t.Errorf("Labels = %v, want severity-unknown", got)
	}
	if slices.Contains(got, "severity-") {
		t.Errorf("Labels = %v contains bare severity- label", got)
	}
}

func TestLabels_NoWhitespace(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Repo.Name = "my repo"
	for _, l := range Labels(in) {
		if strings.ContainsAny(l, " \t\n") {
			t.Errorf("label %q contains whitespace", l)
		}
	}
}

func TestDescription_AllSectionsPresent(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Alert.URL = ""
	in.Alert.Location = alert.Location{Path: alert.UnknownPath}

	text := tracker.PlainText(Description(in))
	for _, section := range []string{
		"Severity: high", "Rule: js/sql-injection", "File: unknown", "Lines: N/A",
		"Description: Building SQL from user input.", "Alert: N/A", "Pull Request: N/A",
		"Repository: acme/api", "Commit: N/A", "PR Number: N/A",
	} {
		if !strings.Contains(text, section+"\n") {
			t.Errorf("description missing %q:\n%s", section, text)
		}
	}
}

func TestDescription_WithPR(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.PR = &PullRequest{Number: 7, URL: "https://github.com/acme/api/pull/7"}
	text := tracker.PlainText(Description(in))
	for _, want := range []string{"Lines: 10-12", "Pull Request: https://github.com/acme/api/pull/7", "PR Number: 7", "Commit: abc123"} {
		if !strings.Contains(text, want) {
			t.Errorf("description missing %q:\n%s", want, text)
		}
	}
}

func TestLineRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		start, end int
		want       string
	}{
		{0, 0, ""},
		{5, 0, "5"},
		{5, 5, "5"},
		{5, 9, "5-9"},
	}
	for _, tt := range tests {
		if got := lineRange(tt.start, tt.end); got != tt.want {
			t.Errorf("lineRange(%d, %d) = %q, want %q", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestSummary_Capped(t *testing.T) {
	t.Parallel()

	al := &alert.Normalized{Type: alert.TypeCodeScan, Rule: alert.Rule{ShortDescription: strings.Repeat("é", 400)}}
	s := Summary(al, "api")
	if n := len([]rune(s)); n != maxSummary {
		t.Errorf("summary runes = %d, want %d", n, maxSummary)
	}
	if got := Summary(&alert.Normalized{Type: alert.TypeSecretScan, Rule: alert.Rule{ShortDescription: "AWS key"}}, "api"); got != "[secret-scanning] AWS key in api" {
		t.Errorf("Summary = %q", got)
	}
}

func TestCreate_LinksStory(t *testing.T) {
	t.Parallel()

	w := &mockWriter{}
	in := testInput()
	in.Story = "AUTH-100"
	in.Anchor = "AUTH-10"

	created, err := NewSynthesizer(w, log.Nop(), Hooks{}).Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Key != "AUTH-900" {
		t.Errorf("Key = %q, want AUTH-900", created.Key)
	}
	if len(w.remotes) != 1 || w.remotes[0].URL != in.Alert.URL {
		t.Errorf("remote links = %v", w.remotes)
	}
	if len(w.links) != 1 || w.links[0] != [3]string{"Relates", "AUTH-900", "AUTH-10"} {
		t.Errorf("links = %v", w.links)
	}
}

func TestCreate_NoStoryNoLink(t *testing.T) {
	t.Parallel()

	w := &mockWriter{}
	if _, err := NewSynthesizer(w, log.Nop(), Hooks{}).Create(context.Background(), testInput()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(w.links) != 0 {
		t.Errorf("links = %v, want none", w.links)
	}
}

func TestCreate_EnrichmentFailuresDoNotFail(t *testing.T) {
	t.Parallel()

	w := &mockWriter{linkErr: errors.New("boom"), remoteErr: errors.New("boom")}
	in := testInput()
	in.Story = "AUTH-100"

	var mu sync.Mutex
	var steps []string
	hooks := Hooks{OnEnrichmentFailure: func(step string) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, step)
	}}

	created, err := NewSynthesizer(w, log.Nop(), hooks).Create(context.Background(), in)
	if err != nil || created == nil {
		t.Fatalf("Create = %v, %v; want success", created, err)
	}
	if !slices.Equal(steps, []string{StepRemoteLink, StepIssueLink}) {
		t.Errorf("failed steps = %v", steps)
	}
}

func TestCreate_WriteErrorPropagates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"typed", &tracker.WriteError{Op: "create issue", Status: 400, Body: "bad"}},
		{"untyped", errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := &mockWriter{createErr: tt.err}
			_, err := NewSynthesizer(w, log.Nop(), Hooks{}).Create(context.Background(), testInput())
			var we *tracker.WriteError
			if !errors.As(err, &we) {
				t.Fatalf("err = %v, want *tracker.WriteError", err)
			}
			if len(w.remotes) != 0 || len(w.links) != 0 {
				t.Error("enrichment ran after failed create")
			}
		})
	}
}
