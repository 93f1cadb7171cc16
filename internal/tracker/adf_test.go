package tracker

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDoc_JSONShape(t *testing.T) {
	t.Parallel()

	d := Doc(
		Heading(3, "Alert"),
		Paragraph(Strong("Severity: "), Text("high")),
		Paragraph(Link("view", "https://example.com/a/1")),
	)
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["type"] != "doc" || got["version"] != float64(1) {
		t.Errorf("root = %v/%v, want doc/1", got["type"], got["version"])
	}
	content, _ := got["content"].([]any)
	if len(content) != 3 {
		t.Fatalf("content len = %d, want 3", len(content))
	}
	if !strings.Contains(string(raw), `"marks":[{"type":"link","attrs":{"href":"https://example.com/a/1"}}]`) {
		t.Errorf("link mark missing: %s", raw)
	}
}

func TestParagraph_DropsEmptyText(t *testing.T) {
	t.Parallel()

	p := Paragraph(Strong("File: "), Text(""))
	if len(p.Content) != 1 {
		t.Errorf("content len = %d, want 1", len(p.Content))
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	d := Doc(Heading(2, "Title"), Paragraph(Strong("A: "), Text("b")))
	if got, want := PlainText(d), "Title\nA: b\n"; got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}
