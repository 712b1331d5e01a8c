package dialog

import (
	"fmt"

	"github.com/MrWong99/railuk/internal/rail"
)

// Kind names the departure question for speech, e.g. "next" or "fastest".
type Kind string

const (
	Next    Kind = "next"
	Fastest Kind = "fastest"
)

// DepartureSpeech describes dep for a next or fastest question. A nil dep
// means no train was found.
func DepartureSpeech(kind Kind, q rail.Query, dep *rail.Departure) string {
	if dep == nil {
		return fmt.Sprintf("I cannot find a train to %s from %s at this time.",
			q.Destination.Name, q.Origin.Name)
	}
	return fmt.Sprintf("The %s train to %s from %s is the %s %s service to %s",
		kind, q.Destination.Name, q.Origin.Name, dep.Scheduled, dep.Operator, dep.Destination) + status(dep)
}

// LastDepartureSpeech describes today's last train. A nil dep means there
// is none today.
func LastDepartureSpeech(q rail.Query, dep *rail.Departure) string {
	if dep == nil {
		return fmt.Sprintf("I cannot find a train to %s from %s today.",
			q.Destination.Name, q.Origin.Name)
	}
	tense := "is"
	if dep.InPast {
		tense = "was"
	}
	return fmt.Sprintf("The last train to %s from %s %s the %s %s service to %s",
		q.Destination.Name, q.Origin.Name, tense, dep.Scheduled, dep.Operator, dep.Destination) + status(dep)
}

// HomeStationSpeech confirms a stored home station. result is "set" or
// "updated".
func HomeStationSpeech(result string) string {
	return "Your home station has been " + result + "."
}

func status(dep *rail.Departure) string {
	switch {
	case !dep.Live:
		return "."
	case dep.Estimated == rail.OnTime:
		return ", which is running on time."
	default:
		return ", which will likely depart at around " + dep.Estimated + "."
	}
}
