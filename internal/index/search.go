package index

import (
	"cmp"
	"slices"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/starford/specdex/internal/models"
)

// Tier ranks how a search hit matched; lower is better.
type Tier int

const (
	TierExactID Tier = iota
	TierIDPrefix
	TierIDSubstring
	TierTitlePrefix
	TierTitleSubstring
	TierFuzzy
)

var tierNames = [...]string{"exact_id", "id_prefix", "id_substring", "title_prefix", "title_substring", "fuzzy"}

// String returns the tier's wire name.
func (t Tier) String() string {
	if int(t) < len(tierNames) {
		return tierNames[t]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Match is one ranked search hit.
type Match struct {
	Element models.Element `json:"element"`
	Tier    Tier           `json:"tier"`
	Score   float32        `json:"score,omitempty"`
}

// Search matches query case-insensitively against identifiers and titles.
// Identifier matches rank above title matches; within a tier shorter
// identifiers rank first, then lexical order. limit <= 0 means no limit.
func (ix *Index) Search(query string, limit int) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	s := ix.load()

	var out []Match
	for _, e := range s.elements {
		if m, ok := ix.match(e, q); ok {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b Match) int {
		if c := cmp.Compare(a.Tier, b.Tier); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		as, bs := a.Element.ID.String(), b.Element.ID.String()
		if c := cmp.Compare(len(as), len(bs)); c != 0 {
			return c
		}
		return cmp.Compare(as, bs)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (ix *Index) match(e models.Element, q string) (Match, bool) {
	id := strings.ToLower(e.ID.String())
	name := strings.ToLower(e.ID.Name)
	title := strings.ToLower(e.Title)

	switch {
	case id == q:
		return Match{Element: e, Tier: TierExactID}, true
	case strings.HasPrefix(id, q) || strings.HasPrefix(name, q):
		return Match{Element: e, Tier: TierIDPrefix}, true
	case strings.Contains(id, q):
		return Match{Element: e, Tier: TierIDSubstring}, true
	case titlePrefix(title, q):
		return Match{Element: e, Tier: TierTitlePrefix}, true
	case strings.Contains(title, q):
		return Match{Element: e, Tier: TierTitleSubstring}, true
	}
	if !ix.fuzzy {
		return Match{}, false
	}
	score := similarity(q, title)
	if s := similarity(q, name); s > score {
		score = s
	}
	if score >= ix.threshold {
		return Match{Element: e, Tier: TierFuzzy, Score: score}, true
	}
	return Match{}, false
}

// titlePrefix reports whether title, or any word of it, starts with q.
func titlePrefix(title, q string) bool {
	if strings.HasPrefix(title, q) {
		return true
	}
	for _, w := range strings.FieldsFunc(title, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/' || r == '.'
	}) {
		if strings.HasPrefix(w, q) {
			return true
		}
	}
	return false
}

func similarity(a, b string) float32 {
	if b == "" {
		return 0
	}
	score, err := edlib.StringsSimilarity(a, b, edlib.JaroWinkler)
	if err != nil {
		return 0
	}
	return score
}
