package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrame(t *testing.T) {
	frame, err := NewFrame(EventBotMessage, BotMessageData{
		SessionID: "s-1",
		Text:      "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, EventBotMessage, frame.Event)
	assert.False(t, frame.Timestamp.IsZero())

	var data BotMessageData
	require.NoError(t, frame.ParseData(&data))
	assert.Equal(t, "s-1", data.SessionID)
	assert.Equal(t, "hello", data.Text)
	assert.Nil(t, data.Confidence)
}

func TestFrameWireShape(t *testing.T) {
	frame := MustFrame(EventSessionStarted, SessionStartedData{SessionID: "s-1"})

	raw, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "event")
	assert.Contains(t, decoded, "data")
}

func TestParseDataNilPayload(t *testing.T) {
	frame := &Frame{Event: EventJoinAdmin}

	var data JoinSessionData
	require.NoError(t, frame.ParseData(&data))
	assert.Empty(t, data.SessionID)
}

func TestNewErrorFrame(t *testing.T) {
	frame := NewErrorFrame(EventSessionError, ErrCodeValidation, "text is required")
	assert.Equal(t, EventSessionError, frame.Event)

	var data ErrorData
	require.NoError(t, frame.ParseData(&data))
	assert.Equal(t, ErrCodeValidation, data.Code)
	assert.Equal(t, "text is required", data.Error)
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload interface{}
	}{
		{"user message", EventUserMessage, UserMessageData{SessionID: "s-1", Text: "hi"}},
		{"agent auth", EventAgentAuth, AgentAuthData{Token: "tok", AgentID: "a-1"}},
		{"typing", EventTypingStart, TypingData{SessionID: "s-1", User: "user"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := MustFrame(tt.event, tt.payload)
			raw, err := json.Marshal(frame)
			require.NoError(t, err)

			var back Frame
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.Equal(t, tt.event, back.Event)
			assert.NotEmpty(t, back.Data)
		})
	}
}
