// Package refs extracts identifier mentions from element bodies.
package refs

import (
	"strings"

	"github.com/starford/specdex/internal/models"
	"github.com/starford/specdex/internal/scanner"
)

// privilegedPrefix marks privileged request identifiers such as PR:0001.
const privilegedPrefix = "PR:"

var markerCleaner = strings.NewReplacer("*", "", "_", "", "`", "")

// Extract returns the identifiers referenced by body, deduplicated, in order
// of first mention. Identifiers inside code spans or fenced code are ignored,
// but a backtick-quoted References list item still counts. A fenced block
// ends a References list. Self references are kept.
func Extract(body string) []models.Identifier {
	seen := make(map[models.Identifier]struct{})
	var out []models.Identifier
	add := func(id models.Identifier) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	inList := false
	for _, l := range scanner.Scan(body) {
		raw := body[l.Start:l.End]
		if l.Code {
			inList = false
			continue
		}
		if IsReferencesMarker(raw) {
			inList = true
			continue
		}
		if inList {
			if item, ok := listItem(raw); ok {
				if id, ok := listIdentifier(item); ok {
					add(id)
				} else {
					scanProse(item, identifierAt, func(s string) { add(mustIdentifier(s)) })
				}
				continue
			}
			if strings.TrimSpace(raw) == "" {
				continue
			}
			inList = false
		}
		scanProse(raw, identifierAt, func(s string) { add(mustIdentifier(s)) })
	}
	return out
}

// PrivilegedRequests returns the privileged request identifiers (PR:...) that
// body mentions outside code, deduplicated in order of first mention.
func PrivilegedRequests(body string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range scanner.Scan(body) {
		if l.Code {
			continue
		}
		scanProse(body[l.Start:l.End], privilegedAt, func(s string) {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				out = append(out, s)
			}
		})
	}
	return out
}

// IsReferencesMarker reports whether line opens a References list section.
// Heading hashes, emphasis and a trailing colon are tolerated.
func IsReferencesMarker(line string) bool {
	s := strings.TrimSpace(line)
	s = strings.TrimSpace(strings.TrimLeft(s, "#"))
	s = strings.ToLower(strings.TrimSpace(markerCleaner.Replace(s)))
	switch s {
	case "references", "references:", "reference:", "refs:":
		return true
	}
	return false
}

// listItem returns the content of a bullet or ordered list item.
func listItem(line string) (string, bool) {
	s := strings.TrimLeft(line, " \t")
	if s == "" {
		return "", false
	}
	switch s[0] {
	case '-', '*', '+':
		if len(s) > 1 && (s[1] == ' ' || s[1] == '\t') {
			return strings.TrimSpace(s[2:]), true
		}
		return "", false
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(s) && (s[i] == '.' || s[i] == ')') && (s[i+1] == ' ' || s[i+1] == '\t') {
		return strings.TrimSpace(s[i+2:]), true
	}
	return "", false
}

// listIdentifier parses the identifier a References list item starts with.
// Surrounding backticks and emphasis are allowed.
func listIdentifier(item string) (models.Identifier, bool) {
	s := strings.TrimLeft(item, "`*_[ ")
	id, _, ok := models.ScanIdentifier(s)
	return id, ok
}

// matcher reports the length of a token starting at s[0], or false.
type matcher func(s string) (int, bool)

func identifierAt(s string) (int, bool) {
	_, n, ok := models.ScanIdentifier(s)
	return n, ok
}

func privilegedAt(s string) (int, bool) {
	if !strings.HasPrefix(s, privilegedPrefix) {
		return 0, false
	}
	rest := s[len(privilegedPrefix):]
	n := 0
	for n < len(rest) && (models.IsWordByte(rest[n]) || rest[n] == '-') && rest[n] < 0x80 {
		n++
	}
	for n > 0 && rest[n-1] == '-' {
		n--
	}
	if n == 0 {
		return 0, false
	}
	return len(privilegedPrefix) + n, true
}

func mustIdentifier(s string) models.Identifier {
	id, _, _ := models.ScanIdentifier(s)
	return id
}

// scanProse walks one line, skipping inline code spans, and calls emit for
// every token match that is not glued to a preceding word byte.
func scanProse(line string, match matcher, emit func(string)) {
	for i := 0; i < len(line); {
		if line[i] == '`' {
			if skip := codeSpanEnd(line, i); skip > i {
				i = skip
				continue
			}
			for i < len(line) && line[i] == '`' {
				i++
			}
			continue
		}
		if i == 0 || !models.IsWordByte(line[i-1]) {
			if n, ok := match(line[i:]); ok {
				emit(line[i : i+n])
				i += n
				continue
			}
		}
		i++
	}
}

// codeSpanEnd returns the offset just past the code span opening at i, or i
// when the backtick run has no closing run of equal length on this line.
func codeSpanEnd(line string, i int) int {
	n := 0
	for i+n < len(line) && line[i+n] == '`' {
		n++
	}
	for j := i + n; j < len(line); {
		if line[j] != '`' {
			j++
			continue
		}
		m := 0
		for j+m < len(line) && line[j+m] == '`' {
			m++
		}
		if m == n {
			return j + m
		}
		j += m
	}
	return i
}
