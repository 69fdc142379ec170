// Package parser turns Markdown text into a document.Document: element
// headings, body spans, references and front matter.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/starford/specdex/internal/document"
	"github.com/starford/specdex/internal/models"
	"github.com/starford/specdex/internal/refs"
	"github.com/starford/specdex/internal/scanner"
)

var (
	// wordPrefixRe matches a heading that looks like an identifier with an
	// unknown prefix, such as "X:Foo" or "r:purpose".
	wordPrefixRe = regexp.MustCompile(`^[A-Za-z]{1,4}:[A-Za-z0-9]`)
	statusRe     = regexp.MustCompile(`(?i)^\s*(?:[-*]\s+)?(?:\*\*|__)?status(?:\*\*|__)?\s*:\s*(?:\*\*|__)?\s*([A-Za-z _-]+?)\s*(?:\*\*|__)?\s*$`)
)

// Parse parses text into a Document. It never fails: malformed headings are
// kept as body text and recorded as warnings.
func Parse(docID, text string) *document.Document {
	doc := document.New(docID, text)

	fmEnd, meta, fmWarn := splitFrontmatter(text)
	doc.Meta = meta
	if fmWarn != nil {
		doc.Warnings = append(doc.Warnings, *fmWarn)
	}

	lines := scanner.Scan(text)
	type start struct {
		line scanner.Line
		id   models.Identifier
	}
	var starts []start
	for _, l := range lines {
		if !l.Heading || l.Start < fmEnd {
			continue
		}
		if id, ok := document.StartsElement(l.Text); ok {
			starts = append(starts, start{line: l, id: id})
			continue
		}
		if msg, bad := malformed(l.Text); bad {
			doc.Warnings = append(doc.Warnings, document.Warning{Line: l.Number + 1, Message: msg})
		}
	}

	prefaceEnd, prefaceLines := len(text), len(lines)
	if len(starts) > 0 {
		prefaceEnd, prefaceLines = starts[0].line.Start, starts[0].line.Number
	}
	doc.Preface = models.Span{Start: 0, End: prefaceEnd, StartLine: 0, EndLine: prefaceLines}

	for k, s := range starts {
		bodyEnd, bodyEndLine := len(text), len(lines)
		if k+1 < len(starts) {
			bodyEnd, bodyEndLine = starts[k+1].line.Start, starts[k+1].line.Number
		}
		l := s.line
		e := models.Element{
			ID:       s.id,
			Document: docID,
			Depth:    l.Depth,
			Heading:  models.Span{Start: l.Start, End: l.Next, StartLine: l.Number, EndLine: l.Number + 1},
			BodySpan: models.Span{Start: l.Next, End: bodyEnd, StartLine: l.Number + 1, EndLine: bodyEndLine},
		}
		e.Title = title(l.Text, s.id)
		e.Anchor = Slug(e.Title)
		e.Body = document.LogicalBody(text[e.BodySpan.Start:e.BodySpan.End])
		e.References = refs.Extract(e.Body)
		e.Privileged = refs.PrivilegedRequests(e.Body)
		if s.id.Kind == models.KindTask {
			e.Status = taskStatus(e.Body)
		}
		doc.Elements = append(doc.Elements, e)
	}

	if len(doc.Elements) == 0 {
		doc.Warnings = append(doc.Warnings, document.Warning{Message: "document contains no elements"})
	}
	return doc
}

// malformed reports whether a heading that does not start an element still
// looks like an attempted identifier.
func malformed(heading string) (string, bool) {
	if _, n, ok := models.MatchPrefix(heading); ok {
		return fmt.Sprintf("heading %q has prefix %q but no valid name", heading, heading[:n]), true
	}
	if wordPrefixRe.MatchString(heading) {
		token := heading[:strings.IndexByte(heading, ':')+1]
		return fmt.Sprintf("heading %q uses unrecognised prefix %q", heading, token), true
	}
	return "", false
}

// title returns the heading text after the identifier, without the separator
// that usually follows it. An untitled element is titled by its name.
func title(heading string, id models.Identifier) string {
	rest := strings.TrimPrefix(heading, id.String())
	rest = strings.TrimSpace(strings.TrimLeft(rest, " \t-–—:"))
	if rest == "" {
		return id.Name
	}
	return rest
}

// Slug derives a URL anchor from a title: lowercase letters, digits and
// underscores, with runs of spaces and hyphens collapsed to one hyphen.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			dash = true
		}
	}
	return b.String()
}

// taskStatus reads an explicit "Status: value" line. Tasks without one, or
// with an unknown value, are pending.
func taskStatus(body string) models.Status {
	for _, l := range scanner.Scan(body) {
		if l.Code {
			continue
		}
		m := statusRe.FindStringSubmatch(body[l.Start:l.End])
		if m == nil {
			continue
		}
		if st, ok := models.ParseStatus(m[1]); ok {
			return st
		}
	}
	return models.StatusPending
}

// splitFrontmatter locates a leading YAML block between "---" lines and
// returns the offset just past it. The block stays part of the preface.
// Invalid YAML yields no metadata and a warning.
func splitFrontmatter(text string) (int, map[string]any, *document.Warning) {
	const delim = "---"
	lines := scanner.Scan(text)
	if len(lines) == 0 || strings.TrimSpace(text[lines[0].Start:lines[0].End]) != delim {
		return 0, nil, nil
	}
	for _, l := range lines[1:] {
		raw := strings.TrimSpace(text[l.Start:l.End])
		if raw != delim && raw != "..." {
			continue
		}
		block := text[lines[0].Next:l.Start]
		var fm map[string]any
		if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
			return l.Next, nil, &document.Warning{
				Line:    1,
				Message: fmt.Sprintf("invalid front matter: %v", err),
			}
		}
		return l.Next, fm, nil
	}
	// No closing delimiter: not front matter.
	return 0, nil, nil
}
