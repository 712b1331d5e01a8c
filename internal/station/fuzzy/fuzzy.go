// Package fuzzy ranks catalog stations against a spoken station name.
//
// The default scorer is a token-sort ratio: both strings are normalised
// (punctuation to spaces, lower-cased), split into words, the words sorted
// and re-joined, and the results compared with a longest-common-subsequence
// similarity scaled to 0..100. Word order therefore does not matter:
// "street new birmingham" and "birmingham new street" both score 100 against
// "Birmingham New Street".
package fuzzy

import (
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/railuk/internal/station"
)

// DefaultLimit is the number of candidates returned when Match is called with
// a non-positive limit.
const DefaultLimit = 10

// Candidate is one scored catalog entry.
type Candidate struct {
	Station station.Station

	// Score is the similarity to the query, 0 (nothing in common) to 100
	// (identical token multisets).
	Score int
}

// Scorer returns the similarity of two strings on a 0..100 scale.
type Scorer func(a, b string) int

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithScorer replaces the default [TokenSortRatio] scorer.
func WithScorer(s Scorer) Option {
	return func(m *Matcher) {
		m.score = s
	}
}

// Matcher scores queries against station lists. It holds no mutable state
// and is safe for concurrent use. The zero value uses [TokenSortRatio].
type Matcher struct {
	score Scorer
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match scores query against every station and returns at most limit
// candidates in non-increasing score order. Stations with equal scores keep
// their relative order from stations. A limit <= 0 means [DefaultLimit].
func (m *Matcher) Match(query string, stations []station.Station, limit int) []Candidate {
	if limit <= 0 {
		limit = DefaultLimit
	}

	score := m.score
	if score == nil {
		// Normalise the query once.
		q := sortedTokens(query)
		score = func(_, name string) int { return ratio(q, sortedTokens(name)) }
	}

	cands := make([]Candidate, len(stations))
	for i, s := range stations {
		cands[i] = Candidate{Station: s, Score: score(query, s.Name)}
	}

	slices.SortStableFunc(cands, func(a, b Candidate) int {
		return b.Score - a.Score
	})

	if len(cands) > limit {
		cands = cands[:limit]
	}
	return cands
}

// TokenSortRatio returns the token-sort similarity of a and b on a 0..100
// scale. Two empty (or punctuation-only) strings score 0.
func TokenSortRatio(a, b string) int {
	return ratio(sortedTokens(a), sortedTokens(b))
}

// ratio is round(100 * 2*LCS / (len(a)+len(b))), lengths counted in runes.
func ratio(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	lcs := matchr.LongestCommonSubsequence(a, b)
	return int(math.Round(100 * float64(2*lcs) / float64(total)))
}

// sortedTokens lower-cases s, replaces every non-alphanumeric rune with a
// space, and returns the resulting words sorted and joined by single spaces.
func sortedTokens(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	words := strings.Fields(s)
	slices.Sort(words)
	return strings.Join(words, " ")
}
