package tracker

// Node is an Atlassian Document Format node. A document is a Node of type
// "doc" with Version 1.
type Node struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is inline formatting on a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Doc returns a version 1 document holding blocks.
func Doc(blocks ...Node) *Node {
	return &Node{Type: "doc", Version: 1, Content: blocks}
}

// Heading returns a heading block.
func Heading(level int, text string) Node {
	return Node{Type: "heading", Attrs: map[string]any{"level": level}, Content: []Node{Text(text)}}
}

// Paragraph returns a paragraph of inline nodes. Empty text nodes are dropped
// since the format rejects them.
func Paragraph(inline ...Node) Node {
	kept := make([]Node, 0, len(inline))
	for _, n := range inline {
		if n.Type == "text" && n.Text == "" {
			continue
		}
		kept = append(kept, n)
	}
	return Node{Type: "paragraph", Content: kept}
}

// Text returns a plain text node.
func Text(s string) Node {
	return Node{Type: "text", Text: s}
}

// Strong returns a bold text node.
func Strong(s string) Node {
	return Node{Type: "text", Text: s, Marks: []Mark{{Type: "strong"}}}
}

// Code returns an inline code text node.
func Code(s string) Node {
	return Node{Type: "text", Text: s, Marks: []Mark{{Type: "code"}}}
}

// Link returns a text node linking to href.
func Link(text, href string) Node {
	return Node{Type: "text", Text: text, Marks: []Mark{{Type: "link", Attrs: map[string]any{"href": href}}}}
}

// PlainText flattens the text content of n, one line per block.
func PlainText(n *Node) string {
	var out []byte
	var walk func(n *Node)
	walk = func(n *Node) {
		out = append(out, n.Text...)
		for i := range n.Content {
			walk(&n.Content[i])
		}
		switch n.Type {
		case "paragraph", "heading", "codeBlock":
			out = append(out, '\n')
		}
	}
	walk(n)
	return string(out)
}
