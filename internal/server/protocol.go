package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Inbound message types accepted on the WebSocket.
const (
	msgAudio      = "audio"
	msgConfig     = "config"
	msgEndSession = "end_session"
)

// inboundMessage is the wire shape of every client-to-server message.
type inboundMessage struct {
	Type      string               `json:"type"`
	SessionID string               `json:"sessionId,omitempty"`
	Data      string               `json:"data,omitempty"`
	Config    *sessionConfigFields `json:"config,omitempty"`

	// chunk is the decoded audio payload, populated during parsing.
	chunk []byte
}

type sessionConfigFields struct {
	Language       string `json:"language,omitempty"`
	MedicalContext string `json:"medicalContext,omitempty"`
}

// protocolError is a client-visible message rejection. Field names the
// offending message field so clients can pinpoint what to fix.
type protocolError struct {
	Field   string
	Message string
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("server: invalid message field %q: %s", e.Field, e.Message)
}

// parseMessage decodes and validates one inbound message. A malformed message
// yields a protocolError and never reaches the session pipeline.
func parseMessage(raw []byte) (*inboundMessage, *protocolError) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &protocolError{Field: "", Message: "message is not valid JSON"}
	}

	switch msg.Type {
	case msgAudio:
		if msg.Data == "" {
			return nil, &protocolError{Field: "data", Message: "audio message requires base64 data"}
		}
		chunk, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return nil, &protocolError{Field: "data", Message: "data is not valid base64"}
		}
		msg.chunk = chunk
	case msgConfig:
		if msg.Config == nil {
			return nil, &protocolError{Field: "config", Message: "config message requires a config object"}
		}
	case msgEndSession:
		if msg.SessionID == "" {
			return nil, &protocolError{Field: "sessionId", Message: "end_session requires a sessionId"}
		}
	case "":
		return nil, &protocolError{Field: "type", Message: "message type is required"}
	default:
		return nil, &protocolError{Field: "type", Message: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
	return &msg, nil
}
