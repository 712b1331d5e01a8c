package alexa

// Version is the envelope version written on every response.
const Version = "1.0"

// DirectiveElicitSlot asks the platform to collect a specific slot next.
const DirectiveElicitSlot = "Dialog.ElicitSlot"

// ResponseEnvelope is the body returned to the platform.
type ResponseEnvelope struct {
	Version           string         `json:"version"`
	SessionAttributes map[string]any `json:"sessionAttributes"`
	Response          Response       `json:"response"`
}

// Response is what the device says and does.
type Response struct {
	OutputSpeech     *OutputSpeech `json:"outputSpeech,omitempty"`
	Card             *Card         `json:"card,omitempty"`
	Reprompt         *Reprompt     `json:"reprompt,omitempty"`
	Directives       []Directive   `json:"directives"`
	ShouldEndSession bool          `json:"shouldEndSession"`
}

// OutputSpeech is spoken text. Text is nil when there is nothing to say,
// which encodes as JSON null.
type OutputSpeech struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
}

// Card is shown in the companion app.
type Card struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Reprompt is spoken if the user does not answer.
type Reprompt struct {
	OutputSpeech OutputSpeech `json:"outputSpeech"`
}

// Directive is a dialog instruction to the platform.
type Directive struct {
	Type         string `json:"type"`
	SlotToElicit string `json:"slotToElicit,omitempty"`
}

// PlainText returns plain-text output speech for text.
func PlainText(text string) *OutputSpeech {
	return &OutputSpeech{Type: "PlainText", Text: &text}
}

// ElicitSlot returns a directive asking for slot.
func ElicitSlot(slot string) Directive {
	return Directive{Type: DirectiveElicitSlot, SlotToElicit: slot}
}
