package resolve

import (
	"github.com/MrWong99/railuk/internal/station/fuzzy"
)

// ToleranceBand is how far below the best score a candidate may be and still
// count as indistinguishable from it.
const ToleranceBand = 2

// Classify judges a ranked candidate list. When more than one candidate
// scores within [ToleranceBand] of the best, the outcome is Ambiguous with
// that count; otherwise it is Resolved to the first candidate.
//
// cands must be in non-increasing score order, as returned by
// [fuzzy.Matcher.Match]. An empty list yields [ErrNoCandidates].
func Classify(cands []fuzzy.Candidate, slot string) (Outcome, error) {
	if len(cands) == 0 {
		return Outcome{}, ErrNoCandidates
	}

	top := cands[0].Score
	n := 0
	for _, c := range cands {
		if c.Score >= top-ToleranceBand {
			n++
		}
	}

	if n > 1 {
		return Outcome{Kind: Ambiguous, CandidateCount: n, Slot: slot}, nil
	}
	return Outcome{Kind: Resolved, Station: cands[0].Station}, nil
}

// gate applies the first-attempt policy on top of [Classify]: ambiguity is
// raised as an [*AmbiguousError] only on the first attempt. A retry always
// resolves to the top candidate so the clarification loop terminates.
type gate struct {
	firstAttempt bool
}

func (g gate) apply(cands []fuzzy.Candidate, slot string) (Outcome, error) {
	out, err := Classify(cands, slot)
	if err != nil {
		return Outcome{}, err
	}
	if out.Kind != Ambiguous {
		return out, nil
	}
	if g.firstAttempt {
		return Outcome{}, &AmbiguousError{CandidateCount: out.CandidateCount, Slot: slot}
	}
	return Outcome{Kind: Resolved, Station: cands[0].Station}, nil
}
