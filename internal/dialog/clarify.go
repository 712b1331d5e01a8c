package dialog

import (
	"fmt"
	"maps"
	"slices"

	"github.com/MrWong99/railuk/internal/alexa"
	"github.com/MrWong99/railuk/internal/station/resolve"
)

// AttrClarified is the session attribute listing slots that have already
// been clarified once.
const AttrClarified = "clarified"

// Slot names of the station slots.
const (
	SlotOrigin      = "origin"
	SlotDestination = "destination"
	SlotHome        = "home"
)

// Prompt returns the question that collects slot.
func Prompt(slot string) string {
	switch slot {
	case SlotOrigin:
		return "Which station would you like to travel from?"
	case SlotDestination:
		return "Which station would you like to travel to?"
	case SlotHome:
		return "Which station would you like to set as your home station?"
	default:
		return "Which station do you mean?"
	}
}

// Clarification asks the user to repeat an ambiguous station name. The
// returned attributes mark the slot as clarified so that the next answer
// is resolved without asking again.
func Clarification(err *resolve.AmbiguousError, attrs map[string]any) *alexa.ResponseEnvelope {
	prompt := Prompt(err.Slot)
	speech := fmt.Sprintf("I found %d stations matching that name. %s", err.CandidateCount, prompt)
	return build(MarkClarified(attrs, err.Slot), speech, prompt, false, alexa.ElicitSlot(err.Slot))
}

// IsClarified reports whether slot was already clarified in this session.
func IsClarified(attrs map[string]any, slot string) bool {
	return slices.Contains(Clarified(attrs), slot)
}

// Clarified returns the slots listed under [AttrClarified]. It accepts both
// the in-memory []string form and the []any form produced by JSON decoding.
func Clarified(attrs map[string]any) []string {
	switch v := attrs[AttrClarified].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// MarkClarified returns a copy of attrs with slot added to [AttrClarified].
func MarkClarified(attrs map[string]any, slot string) map[string]any {
	out := maps.Clone(attrs)
	if out == nil {
		out = make(map[string]any, 1)
	}
	list := Clarified(attrs)
	if !slices.Contains(list, slot) {
		list = append(slices.Clone(list), slot)
	}
	out[AttrClarified] = list
	return out
}
