// Package dialog builds the voice responses the skill sends back: fixed
// replies (welcome, goodbye, apologies), departure answers, slot
// elicitation and the clarification question asked when a spoken station
// name matches several stations.
//
// Every builder returns a complete [alexa.ResponseEnvelope]. Speech is
// mirrored onto a "Simple" card titled [CardTitle].
package dialog

import "github.com/MrWong99/railuk/internal/alexa"

// CardTitle is the title of every companion app card.
const CardTitle = "Rail UK"

// Fixed speech.
const (
	WelcomeSpeech = "Welcome to Rail UK. You can start by asking me for the next, fastest or last " +
		"train to any UK rail station, or asking me to set your home station."
	WelcomeReprompt = "What can I do for you today?"
	GoodbyeSpeech   = "Travel safe."

	APIErrorSpeech = "Sorry, a problem occurred with one of our data providers. Please try again later " +
		"and let us know if the problem persists."
	StoreErrorSpeech = "Sorry, a problem occurred with our data storage provider. Departure queries should " +
		"still be functional. Please try again later and let us know if the problem persists."
	GenericErrorSpeech = "Sorry, something seems to have gone wrong with this skill. We are probably already " +
		"working on fixing the problem, but if this happens again please let us know."
)

// Welcome greets the user and keeps the session open.
func Welcome() *alexa.ResponseEnvelope {
	return build(nil, WelcomeSpeech, WelcomeReprompt, false)
}

// Goodbye ends the session.
func Goodbye() *alexa.ResponseEnvelope {
	return Tell(GoodbyeSpeech)
}

// APIError apologises for a departure provider failure.
func APIError() *alexa.ResponseEnvelope {
	return Tell(APIErrorSpeech)
}

// StoreError apologises for a preference store failure.
func StoreError() *alexa.ResponseEnvelope {
	return Tell(StoreErrorSpeech)
}

// GenericError apologises for anything else.
func GenericError() *alexa.ResponseEnvelope {
	return Tell(GenericErrorSpeech)
}

// Tell says speech and ends the session.
func Tell(speech string) *alexa.ResponseEnvelope {
	return build(nil, speech, "", true)
}

// Ended is the empty reply to a session-ended notification.
func Ended() *alexa.ResponseEnvelope {
	return &alexa.ResponseEnvelope{
		Version:           alexa.Version,
		SessionAttributes: map[string]any{},
		Response: alexa.Response{
			Directives:       []alexa.Directive{},
			ShouldEndSession: true,
		},
	}
}

// ElicitSlot asks for slot with prompt, repeating prompt as the reprompt.
// attrs are carried into the next turn.
func ElicitSlot(slot, prompt string, attrs map[string]any) *alexa.ResponseEnvelope {
	return build(attrs, prompt, prompt, false, alexa.ElicitSlot(slot))
}

// build assembles an envelope. An empty reprompt encodes as a null reprompt
// text.
func build(attrs map[string]any, speech, reprompt string, end bool, directives ...alexa.Directive) *alexa.ResponseEnvelope {
	if attrs == nil {
		attrs = map[string]any{}
	}
	if directives == nil {
		directives = []alexa.Directive{}
	}
	rp := alexa.OutputSpeech{Type: "PlainText"}
	if reprompt != "" {
		rp = *alexa.PlainText(reprompt)
	}
	return &alexa.ResponseEnvelope{
		Version:           alexa.Version,
		SessionAttributes: attrs,
		Response: alexa.Response{
			OutputSpeech:     alexa.PlainText(speech),
			Card:             &alexa.Card{Type: "Simple", Title: CardTitle, Content: speech},
			Reprompt:         &alexa.Reprompt{OutputSpeech: rp},
			Directives:       directives,
			ShouldEndSession: end,
		},
	}
}
