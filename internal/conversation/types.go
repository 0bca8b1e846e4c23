// Package conversation implements the turn-based engine that converts spoken
// activity descriptions into validated structured records.
//
// One [Session] actor owns each logging conversation: it consumes audio
// chunks, finalizes utterances, runs transcription and extraction, merges
// extracted fields, and decides after every turn whether to complete, ask a
// targeted follow-up, or terminate. Sessions are fully independent; the
// [Manager] is the only shared structure and holds no lock spanning more
// than one session.
package conversation

import (
	"context"
	"time"

	"github.com/pitchside-ai/pitchside/internal/schema"
)

// State is a session lifecycle state.
type State string

const (
	// StateStarted is the initial state, before the first finalized utterance.
	StateStarted State = "STARTED"

	// StateCollecting means a turn is being processed (transcription,
	// extraction, merge, decision).
	StateCollecting State = "COLLECTING_DATA"

	// StateAskingFollowup means a follow-up question has been emitted and the
	// engine is waiting for the next utterance.
	StateAskingFollowup State = "ASKING_FOLLOWUP"

	// StateCompleted is terminal: all required fields are filled with
	// sufficient confidence.
	StateCompleted State = "COMPLETED"

	// StateError is terminal: the conversation failed; Reason carries the
	// machine-readable cause and accumulated fields are surfaced for manual
	// correction.
	StateError State = "ERROR"

	// StateAbandoned is terminal: the user cancelled, disconnected, or went
	// silent past the inactivity deadline. Partial fields are retained.
	StateAbandoned State = "ABANDONED"
)

// Terminal reports whether no further turns will occur in state s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateError, StateAbandoned:
		return true
	}
	return false
}

// Reason is the machine-readable cause attached to terminal ERROR and
// ABANDONED states.
type Reason string

const (
	ReasonMaxTurnsExceeded  Reason = "max_turns_exceeded"
	ReasonServiceFailure    Reason = "service_failure"
	ReasonInactivityTimeout Reason = "inactivity_timeout"
	ReasonCancelled         Reason = "cancelled"
)

// Turn is one immutable exchange in a session. Owned exclusively by its
// session's [TurnLog] once appended.
type Turn struct {
	// TurnNumber is 1-based and strictly increasing with no gaps.
	TurnNumber int `json:"turn_number"`

	// Prompt is the follow-up question this turn answered. Empty on the
	// first turn.
	Prompt string `json:"prompt,omitempty"`

	// Transcript is the text derived from the utterance audio.
	Transcript string `json:"transcript"`

	// TranscriptConfidence is the STT provider's quality indicator, when the
	// provider reports one.
	TranscriptConfidence *float64 `json:"transcript_confidence,omitempty"`

	// ExtractedDelta holds the fields newly filled or corrected this turn.
	ExtractedDelta map[string]any `json:"extracted_delta,omitempty"`

	// FieldConfidences holds the per-field confidence for every key in
	// ExtractedDelta.
	FieldConfidences map[string]float64 `json:"field_confidences,omitempty"`

	// ExtractionConfidence is the mean per-field confidence of this turn's
	// delta; 0 when the delta is empty or extraction fell back.
	ExtractionConfidence float64 `json:"extraction_confidence"`

	// MissingFields lists required fields still unfilled after this turn's
	// merge, in schema priority order.
	MissingFields []string `json:"missing_fields,omitempty"`

	// RetryCount records transcription and extraction retries consumed.
	RetryCount int `json:"retry_count"`

	// Timestamp is when the turn's outcome became final.
	Timestamp time.Time `json:"timestamp"`
}

// Result is the terminal outcome emitted to the transport collaborator.
type Result struct {
	State             State          `json:"state"`
	Reason            Reason         `json:"reason,omitempty"`
	AccumulatedFields map[string]any `json:"accumulated_fields,omitempty"`
	OverallConfidence float64        `json:"overall_confidence"`
	DataQualityScore  float64        `json:"data_quality_score,omitempty"`
}

// Status is a point-in-time snapshot of a session, served to the transport
// without entering the actor's command queue.
type Status struct {
	SessionID         string              `json:"session_id"`
	ActivityType      schema.ActivityType `json:"activity_type"`
	State             State               `json:"state"`
	AccumulatedFields map[string]any      `json:"accumulated_fields,omitempty"`
	LastPrompt        string              `json:"last_prompt,omitempty"`
	Turns             int                 `json:"turns"`
}

// Record is the durable form of a terminated session, handed to the
// persistence collaborator exactly once.
type Record struct {
	SessionID         string              `json:"session_id"`
	UserID            string              `json:"user_id"`
	ActivityType      schema.ActivityType `json:"activity_type"`
	State             State               `json:"state"`
	Reason            Reason              `json:"reason,omitempty"`
	StartedAt         time.Time           `json:"started_at"`
	EndedAt           time.Time           `json:"ended_at"`
	AccumulatedFields map[string]any      `json:"accumulated_fields,omitempty"`
	Turns             []Turn              `json:"turns"`
	OverallConfidence float64             `json:"overall_confidence"`
	DataQualityScore  float64             `json:"data_quality_score"`
}

// Emitter is the engine-to-transport callback surface. Implementations must
// be safe for concurrent use; calls arrive from session actor goroutines.
type Emitter interface {
	// EmitPrompt delivers a follow-up question (or a re-speak request) to the
	// user.
	EmitPrompt(sessionID, text string)

	// EmitResult delivers a session's terminal outcome.
	EmitResult(sessionID string, res Result)
}

// Archiver persists terminated sessions. Append-only from the engine's
// perspective.
type Archiver interface {
	Archive(ctx context.Context, rec Record) error
}
