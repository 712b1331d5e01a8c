// Package alexa defines the JSON envelopes exchanged with the voice
// platform and derives station slot states from them.
//
// Only the fields the skill reads or writes are modelled; unknown fields are
// ignored when decoding.
package alexa

// Request types.
const (
	TypeLaunch       = "LaunchRequest"
	TypeIntent       = "IntentRequest"
	TypeSessionEnded = "SessionEndedRequest"
)

// Entity resolution status codes reported per authority.
const (
	StatusMatch     = "ER_SUCCESS_MATCH"
	StatusNoMatch   = "ER_SUCCESS_NO_MATCH"
	StatusTimeout   = "ER_ERROR_TIMEOUT"
	StatusException = "ER_ERROR_EXCEPTION"
)

// RequestEnvelope is the body POSTed by the platform for every request.
type RequestEnvelope struct {
	Version string  `json:"version"`
	Session Session `json:"session"`
	Request Request `json:"request"`
}

// Session describes the conversation the request belongs to.
type Session struct {
	New         bool           `json:"new"`
	SessionID   string         `json:"sessionId"`
	Application Application    `json:"application"`
	User        User           `json:"user"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Application identifies the skill the request was sent for.
type Application struct {
	ApplicationID string `json:"applicationId"`
}

// User identifies the account talking to the skill.
type User struct {
	UserID string `json:"userId"`
}

// Request is the typed part of the envelope.
type Request struct {
	Type        string  `json:"type"`
	RequestID   string  `json:"requestId"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Locale      string  `json:"locale,omitempty"`
	DialogState string  `json:"dialogState,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	Intent      *Intent `json:"intent,omitempty"`
}

// Intent carries the matched intent name and its slots, keyed by slot name.
type Intent struct {
	Name               string          `json:"name"`
	ConfirmationStatus string          `json:"confirmationStatus,omitempty"`
	Slots              map[string]Slot `json:"slots,omitempty"`
}

// Slot is one named intent parameter.
type Slot struct {
	Name        string       `json:"name"`
	Value       string       `json:"value,omitempty"`
	Resolutions *Resolutions `json:"resolutions,omitempty"`
}

// Resolutions lists the entity resolution results per authority.
type Resolutions struct {
	PerAuthority []Authority `json:"resolutionsPerAuthority"`
}

// Authority is the result of matching a slot against one entity source.
type Authority struct {
	Authority string           `json:"authority"`
	Status    AuthorityStatus  `json:"status"`
	Values    []AuthorityValue `json:"values,omitempty"`
}

// AuthorityStatus holds the resolution status code.
type AuthorityStatus struct {
	Code string `json:"code"`
}

// AuthorityValue wraps a resolved entity.
type AuthorityValue struct {
	Value Entity `json:"value"`
}

// Entity is a resolved catalog entry. For station slots Name is the display
// name and ID the CRS code.
type Entity struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}
