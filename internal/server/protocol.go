package server

import (
	"github.com/pitchside-ai/pitchside/internal/conversation"
	"github.com/pitchside-ai/pitchside/internal/schema"
)

// Client-to-server command types carried in text frames. Binary frames carry
// raw PCM audio for the connection's open session and need no envelope.
const (
	cmdOpen         = "open"
	cmdEndUtterance = "end_utterance"
	cmdCancel       = "cancel"
	cmdStatus       = "status"
)

// Server-to-client event types.
const (
	evtOpened = "opened"
	evtPrompt = "prompt"
	evtResult = "result"
	evtStatus = "status"
	evtError  = "error"
)

// command is the envelope for client text frames.
type command struct {
	Type string `json:"type"`

	// UserID and ActivityType are set on "open" commands.
	UserID       string              `json:"user_id,omitempty"`
	ActivityType schema.ActivityType `json:"activity_type,omitempty"`
}

// event is the envelope for server text frames. Exactly one payload field is
// set depending on Type.
type event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	// Text carries the prompt for "prompt" events and the message for
	// "error" events.
	Text string `json:"text,omitempty"`

	Result *conversation.Result `json:"result,omitempty"`
	Status *conversation.Status `json:"status,omitempty"`
}
