package models

import "strings"

// Status tracks progress of task elements.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// ParseStatus normalises the spellings found in task bodies.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "todo", "open":
		return StatusPending, true
	case "in-progress", "in_progress", "in progress", "wip":
		return StatusInProgress, true
	case "completed", "complete", "done":
		return StatusCompleted, true
	}
	return "", false
}

// Span locates a byte range [Start, End) and the lines [StartLine, EndLine)
// it covers in a document's text.
type Span struct {
	Start     int `json:"start"`
	End       int `json:"end"`
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Element is one addressable unit extracted from a heading and its body.
type Element struct {
	ID         Identifier   `json:"id"`
	Title      string       `json:"title"`
	Document   string       `json:"document"`
	Depth      int          `json:"depth"`
	Anchor     string       `json:"anchor"`
	Heading    Span         `json:"heading_span"`
	BodySpan   Span         `json:"body_span"`
	Body       string       `json:"body"`
	References []Identifier `json:"references"`
	Status     Status       `json:"status,omitempty"`
	Privileged []string     `json:"privileged_requests,omitempty"`
}

// Kind returns the element's kind.
func (e Element) Kind() Kind { return e.ID.Kind }

// RequiresPrivilegedVerification reports whether the body mentions a
// privileged request identifier.
func (e Element) RequiresPrivilegedVerification() bool {
	return len(e.Privileged) > 0
}
