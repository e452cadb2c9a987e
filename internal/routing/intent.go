package routing

import (
	"strings"

	"github.com/relaydesk/relaydesk/internal/responder"
)

// Ending phrases that short-circuit to a farewell.
var closingPhrases = []string{
	"bye", "goodbye", "bye bye",
	"thanks", "thank you", "thanks a lot", "thank you so much",
	"that is all", "thats all",
}

// isClosingPhrase reports whether the normalized text is an ending phrase.
func isClosingPhrase(text string) bool {
	normalized := responder.Normalize(text)
	for _, phrase := range closingPhrases {
		if normalized == phrase {
			return true
		}
	}
	return false
}

// Subjects and verbs whose combination signals a request for a human.
// "I want to talk to an agent" matches; "the support page is down" does not.
var (
	humanSubjects = []string{"agent", "human", "support", "person", "representative", "someone"}
	humanVerbs    = []string{"talk", "speak", "connect", "want", "need", "chat", "reach"}
)

// wantsHuman detects an explicit request to escalate to a human agent.
func wantsHuman(text string) bool {
	normalized := " " + responder.Normalize(text) + " "

	subject := false
	for _, s := range humanSubjects {
		if strings.Contains(normalized, " "+s+" ") {
			subject = true
			break
		}
	}
	if !subject {
		return false
	}

	for _, v := range humanVerbs {
		if strings.Contains(normalized, " "+v+" ") {
			return true
		}
	}
	return false
}
