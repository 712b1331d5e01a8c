package alexa

import (
	"strings"

	"github.com/MrWong99/railuk/internal/station"
	"github.com/MrWong99/railuk/internal/station/resolve"
)

// SlotState derives the resolution input for a station slot.
//
// The first authority that reports a value with any status other than
// [StatusNoMatch] is trusted as platform-resolved. Failing that, a non-blank
// raw value becomes free text. Anything else, including a nil intent or a
// missing slot, is absent.
func SlotState(intent *Intent, name string) resolve.SlotState {
	if intent == nil {
		return resolve.Absent()
	}
	slot, ok := intent.Slots[name]
	if !ok {
		return resolve.Absent()
	}

	if slot.Resolutions != nil {
		for _, a := range slot.Resolutions.PerAuthority {
			if a.Status.Code == StatusNoMatch || len(a.Values) == 0 {
				continue
			}
			v := a.Values[0].Value
			if v.Name == "" || v.ID == "" {
				continue
			}
			return resolve.PlatformResolved(station.Station{Name: v.Name, Code: v.ID})
		}
	}

	if strings.TrimSpace(slot.Value) != "" {
		return resolve.FreeText(slot.Value)
	}
	return resolve.Absent()
}

// SlotValue returns the raw value of the named slot, or "".
func SlotValue(intent *Intent, name string) string {
	if intent == nil {
		return ""
	}
	return intent.Slots[name].Value
}
