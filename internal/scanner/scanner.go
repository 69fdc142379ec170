// Package scanner splits raw Markdown text into heading and body line records.
//
// Scanning is purely structural and never fails: any line that is not an ATX
// heading outside a fenced code block is body text.
package scanner

import "strings"

// Line is one physical line of a document.
type Line struct {
	Number  int    // 0-based line number
	Start   int    // byte offset of the first byte of the line
	End     int    // byte offset just past the content, before the terminator
	Next    int    // byte offset of the next line (End plus terminator length)
	Heading bool   // true for ATX headings outside fenced code
	Code    bool   // true for fence lines and lines inside fenced code
	Depth   int    // number of leading '#' markers, 0 for body lines
	Text    string // literal heading text, trimmed; empty for body lines
}

// HasTerminator reports whether the line ends with a line terminator.
func (l Line) HasTerminator() bool { return l.Next > l.End }

// Scan returns the line records of text in document order.
// An empty input yields no lines; a trailing terminator does not open a new line.
func Scan(text string) []Line {
	var (
		lines []Line
		fence string
		pos   int
	)
	for n := 0; pos < len(text); n++ {
		end, next := lineBounds(text, pos)
		raw := text[pos:end]
		line := Line{Number: n, Start: pos, End: end, Next: next}

		if marker, ok := fenceMarker(raw); ok {
			line.Code = true
			switch {
			case fence == "":
				fence = marker
			case strings.HasPrefix(marker, fence[:1]) && len(marker) >= len(fence) && closesFence(raw):
				fence = ""
			}
		} else if fence != "" {
			line.Code = true
		} else if depth, title, ok := parseHeading(raw); ok {
			line.Heading = true
			line.Depth = depth
			line.Text = title
		}

		lines = append(lines, line)
		pos = next
	}
	return lines
}

// Headings returns only the heading records of lines.
func Headings(lines []Line) []Line {
	var out []Line
	for _, l := range lines {
		if l.Heading {
			out = append(out, l)
		}
	}
	return out
}

// lineBounds returns the content end and the start of the next line for the
// line beginning at pos. Both "\n" and "\r\n" terminate a line.
func lineBounds(text string, pos int) (end, next int) {
	i := strings.IndexByte(text[pos:], '\n')
	if i < 0 {
		return len(text), len(text)
	}
	end = pos + i
	next = end + 1
	if end > pos && text[end-1] == '\r' {
		end--
	}
	return end, next
}

// parseHeading recognises an ATX heading: up to three spaces of indentation,
// one to six '#', then whitespace or end of line. A closing '#' sequence is
// dropped from the returned text.
func parseHeading(raw string) (int, string, bool) {
	indent := 0
	for indent < len(raw) && raw[indent] == ' ' {
		indent++
	}
	if indent > 3 {
		return 0, "", false
	}
	rest := raw[indent:]
	depth := 0
	for depth < len(rest) && rest[depth] == '#' {
		depth++
	}
	if depth == 0 || depth > 6 {
		return 0, "", false
	}
	rest = rest[depth:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	text := strings.TrimSpace(rest)
	if trimmed := strings.TrimRight(text, "#"); trimmed != text {
		if trimmed == "" {
			text = ""
		} else if last := trimmed[len(trimmed)-1]; last == ' ' || last == '\t' {
			text = strings.TrimSpace(trimmed)
		}
	}
	return depth, text, true
}

// fenceMarker reports the opening run of a ``` or ~~~ fence line.
func fenceMarker(raw string) (string, bool) {
	s := strings.TrimLeft(raw, " ")
	if len(raw)-len(s) > 3 || len(s) < 3 {
		return "", false
	}
	c := s[0]
	if c != '`' && c != '~' {
		return "", false
	}
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	if n < 3 {
		return "", false
	}
	if c == '`' && strings.IndexByte(s[n:], '`') >= 0 {
		return "", false
	}
	return s[:n], true
}

// closesFence reports whether a fence line carries no info string.
func closesFence(raw string) bool {
	s := strings.TrimSpace(raw)
	return strings.Trim(s, s[:1]) == ""
}
