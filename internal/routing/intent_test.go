package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsClosingPhrase(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"bye", true},
		{"Bye!", true},
		{"thank you", true},
		{"Thanks a lot!!", true},
		{"that's all", true},
		{"goodbye", true},
		{"thanks for nothing, now answer my question", false},
		{"when do you say goodbye to old stock", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isClosingPhrase(tt.text), "input %q", tt.text)
	}
}

func TestWantsHuman(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"I want to talk to an agent", true},
		{"can I speak with a human?", true},
		{"connect me to support", true},
		{"I need a person", true},
		{"let me chat with someone", true},
		{"how do I reach a representative", true},
		// Subject without an intent verb.
		{"the support page is down", false},
		// Verb without a subject.
		{"I want a refund", false},
		{"do you ship to spain", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, wantsHuman(tt.text), "input %q", tt.text)
	}
}
