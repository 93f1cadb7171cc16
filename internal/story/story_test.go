package story

import (
	"reflect"
	"testing"
)

func TestFindStory_DescriptionBeatsCommits(t *testing.T) {
	t.Parallel()

	got := FindStory("Implements PROJ-1", []string{"fix: PROJ-2"})
	if got != "PROJ-1" {
		t.Errorf("FindStory = %q, want PROJ-1", got)
	}
}

func TestFindStory_FallsBackToCommitsInOrder(t *testing.T) {
	t.Parallel()

	got := FindStory("no key here", []string{"wip", "[AUTH-100] add login", "PROJ-2 refactor"})
	if got != "AUTH-100" {
		t.Errorf("FindStory = %q, want AUTH-100", got)
	}
}

func TestFindStory_Denylist(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"http status", "Response was HTTP-200", ""},
		{"https lookalike accepted", "Working on HTTPS-123", "HTTPS-123"},
		{"utf encoding", "Convert to UTF-8", ""},
		{"sha digest", "Switch to SHA-256 hashing", ""},
		{"cve in labeled form", "Issue: CVE-2024", ""},
		{"cve then story", "Fixes CVE-2024-1234 for SEC-12", "SEC-12"},
		{"bracketed denylisted", "[RFC-7231] compliant", ""},
		{"x509 certificate", "Rotate X-509 certs", ""},
		{"pr project accepted", "Relates to PR-12", "PR-12"},
		{"gh project accepted", "[GH-7] tidy handlers", "GH-7"},
		{"base project accepted", "Story: BASE-3", "BASE-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FindStory(tt.text, nil); got != tt.want {
				t.Errorf("FindStory(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestFindStory_NoneFound(t *testing.T) {
	t.Parallel()

	if got := FindStory("", []string{"", "lowercase proj-1"}); got != "" {
		t.Errorf("FindStory = %q, want empty", got)
	}
}

func TestCandidates_SurfaceFormPrecedence(t *testing.T) {
	t.Parallel()

	text := "Touches BARE-1 and [BRACK-2]. User Story: LAB-3"
	want := []string{"LAB-3", "BRACK-2", "BARE-1"}
	if got := Candidates(text); !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates = %v, want %v", got, want)
	}
}

func TestCandidates_LabelsAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"jira: ABC-1",
		"JIRA:ABC-1",
		"story : ABC-1",
		"Issue: [ABC-1]",
		"user story: ABC-1",
	} {
		got := Candidates(text)
		if len(got) == 0 || got[0] != "ABC-1" {
			t.Errorf("Candidates(%q) = %v, want [ABC-1 ...]", text, got)
		}
	}
}

func TestCandidates_DedupesRepeats(t *testing.T) {
	t.Parallel()

	got := Candidates("PROJ-9 PROJ-9 [PROJ-9] Story: PROJ-9")
	if !reflect.DeepEqual(got, []string{"PROJ-9"}) {
		t.Errorf("Candidates = %v, want [PROJ-9]", got)
	}
}

func TestCandidates_MultiSegmentKey(t *testing.T) {
	t.Parallel()

	got := Candidates("see SUB-PROJ-123")
	if !reflect.DeepEqual(got, []string{"SUB-PROJ-123"}) {
		t.Errorf("Candidates = %v, want [SUB-PROJ-123]", got)
	}
}

func TestCandidates_RequiresWordBoundaries(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"xPROJ-1", "PROJ-1abc", "proj-1"} {
		if got := Candidates(text); len(got) != 0 {
			t.Errorf("Candidates(%q) = %v, want none", text, got)
		}
	}
}

func FuzzFindStory(f *testing.F) {
	f.Add("User Story: PROJ-1", "fix [AUTH-2]")
	f.Add("HTTP-200", "")
	f.Add("", "SUB-PROJ-123")
	f.Add("[[[]]]---", "A-")

	f.Fuzz(func(t *testing.T, desc, commit string) {
		a := FindStory(desc, []string{commit})
		b := FindStory(desc, []string{commit})
		if a != b {
			t.Fatalf("non-deterministic: %q vs %q", a, b)
		}
		if a != "" && denied(a) {
			t.Fatalf("denylisted key returned: %q", a)
		}
	})
}
