package session

import (
	"github.com/medscribe/medscribe/internal/validate"
	"github.com/medscribe/medscribe/pkg/provider/asr"
)

// EventType discriminates the outbound session events.
type EventType string

const (
	// EventTranscription carries one validated transcript.
	EventTranscription EventType = "transcription"

	// EventError reports a per-session failure without tearing the stream down.
	EventError EventType = "error"

	// EventSessionEnded is the final event of a session and carries its stats.
	EventSessionEnded EventType = "session_ended"
)

// Event is the flat wire shape of everything a session reports back to its
// client. Fields not applicable to the event type are omitted from the JSON
// encoding.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`

	// Transcription fields.
	Text          string                `json:"text,omitempty"`
	CorrectedText string                `json:"correctedText,omitempty"`
	Language      string                `json:"language,omitempty"`
	IsFinal       bool                  `json:"isFinal,omitempty"`
	Confidence    float64               `json:"confidence,omitempty"`
	QualityScore  float64               `json:"qualityScore,omitempty"`
	IsValid       bool                  `json:"isValid,omitempty"`
	Corrections   []validate.Correction `json:"corrections,omitempty"`
	Warnings      []validate.Warning    `json:"warnings,omitempty"`
	Flags         []string              `json:"flags,omitempty"`

	// Error fields.
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`

	// Session summary fields.
	Transcriptions int   `json:"transcriptions,omitempty"`
	DurationMs     int64 `json:"durationMs,omitempty"`
}

// EmitFunc delivers one event to the session's client.
type EmitFunc func(Event)

// TranscriptionEvent builds the outbound event for one validated transcript.
func TranscriptionEvent(sessionID string, t asr.Transcript, res *validate.Result) Event {
	return Event{
		Type:          EventTranscription,
		SessionID:     sessionID,
		Text:          res.OriginalText,
		CorrectedText: res.CorrectedText,
		Language:      t.Language,
		IsFinal:       t.IsFinal,
		Confidence:    res.Confidence,
		QualityScore:  res.QualityScore,
		IsValid:       res.IsValid,
		Corrections:   res.Corrections,
		Warnings:      res.Warnings,
		Flags:         res.Flags,
	}
}

// ErrorEvent builds an error event. field names the offending message field
// and may be empty for session-level failures.
func ErrorEvent(sessionID, field, message string) Event {
	return Event{
		Type:      EventError,
		SessionID: sessionID,
		Field:     field,
		Message:   message,
	}
}
