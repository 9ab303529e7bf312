package georank

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/veepo/veeposync/internal/domain"
)

// Criteria are independent, optional attribute predicates. An empty field
// matches every provider.
type Criteria struct {
	Text    string
	State   string
	City    string
	Segment string
}

func (c Criteria) IsZero() bool {
	return strings.TrimSpace(c.Text) == "" &&
		strings.TrimSpace(c.State) == "" &&
		strings.TrimSpace(c.City) == "" &&
		strings.TrimSpace(c.Segment) == ""
}

// Filter keeps the providers matching every set predicate, preserving input
// order. Text matches a substring of the name or business name; the other
// fields match exactly. All comparisons ignore case and accents.
func Filter(c Criteria, providers []domain.Provider) []domain.Provider {
	text := fold(c.Text)
	state := fold(c.State)
	city := fold(c.City)
	segment := fold(c.Segment)

	out := make([]domain.Provider, 0, len(providers))
	for _, p := range providers {
		if text != "" && !strings.Contains(fold(p.Name), text) && !strings.Contains(fold(p.BusinessName), text) {
			continue
		}
		if state != "" && fold(p.State) != state {
			continue
		}
		if city != "" && fold(p.City) != city {
			continue
		}
		if segment != "" && fold(p.Segment) != segment {
			continue
		}
		out = append(out, p)
	}

	return out
}

func fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	return cases.Fold().String(stripped)
}
