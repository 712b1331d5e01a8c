package resolve

import (
	"errors"
	"fmt"

	"github.com/MrWong99/railuk/internal/station"
)

// ErrNoCandidates is returned by [Classify] when given an empty candidate
// list. The catalog is never empty, so this always indicates a programming
// error and must not be turned into a default station.
var ErrNoCandidates = errors.New("resolve: no candidates to classify")

// AmbiguousError reports that several catalog stations matched a spoken name
// equally well. It is returned only on the first attempt at a slot; the
// caller is expected to ask the user to narrow their answer.
type AmbiguousError struct {
	// CandidateCount is the number of stations inside the tolerance band.
	CandidateCount int

	// Slot is the intent slot being resolved, e.g. "origin".
	Slot string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("resolve: %d stations match the %s slot", e.CandidateCount, e.Slot)
}

// SlotKind discriminates [SlotState].
type SlotKind int

const (
	// SlotAbsent means the slot was not supplied.
	SlotAbsent SlotKind = iota

	// SlotFreeText means the platform heard something but did not match it
	// to an entity.
	SlotFreeText

	// SlotPlatformResolved means the platform's own grammar already matched
	// the slot to a station.
	SlotPlatformResolved
)

func (k SlotKind) String() string {
	switch k {
	case SlotAbsent:
		return "absent"
	case SlotFreeText:
		return "free_text"
	case SlotPlatformResolved:
		return "platform_resolved"
	default:
		return fmt.Sprintf("SlotKind(%d)", int(k))
	}
}

// SlotState is what the voice platform told us about one slot.
// The zero value is an absent slot.
type SlotState struct {
	Kind SlotKind

	// Station is set for SlotPlatformResolved.
	Station station.Station

	// Raw is the user's words, set for SlotFreeText.
	Raw string
}

// Absent returns the state of a slot that was not supplied.
func Absent() SlotState { return SlotState{} }

// FreeText returns the state of a slot that needs fuzzy resolution.
func FreeText(raw string) SlotState {
	return SlotState{Kind: SlotFreeText, Raw: raw}
}

// PlatformResolved returns the state of a slot the platform already matched.
func PlatformResolved(s station.Station) SlotState {
	return SlotState{Kind: SlotPlatformResolved, Station: s}
}

// OutcomeKind discriminates [Outcome].
type OutcomeKind int

const (
	// NotFound means there was nothing to resolve.
	NotFound OutcomeKind = iota

	// Resolved means exactly one station was selected.
	Resolved

	// Ambiguous means several stations fell inside the tolerance band.
	Ambiguous
)

func (k OutcomeKind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of resolving or classifying a slot.
type Outcome struct {
	Kind OutcomeKind

	// Station is the canonical catalog record when Kind is Resolved.
	Station station.Station

	// CandidateCount and Slot are set when Kind is Ambiguous.
	CandidateCount int
	Slot           string
}
