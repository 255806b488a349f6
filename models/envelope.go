package models

import "time"

// Frame type tags used in outbound envelopes.
const (
	TypeTranslationResult = "translation_result"
	TypePush              = "push"
)

// IncomingMessage is one inbound frame from a connected client.
type IncomingMessage struct {
	UserID       string `json:"user_id" validate:"required"`
	Text         string `json:"text" validate:"required"`
	Language     string `json:"language,omitempty"`
	NeedResponse bool   `json:"need_response"`
}

// TranslationResult is produced once per successfully processed message.
// AutoReply is nil unless a reply was requested.
type TranslationResult struct {
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"user_id"`
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	AutoReply      *string   `json:"auto_reply"`
}

// ErrorResult reports a failed message. It never coexists with a
// TranslationResult for the same request.
type ErrorResult struct {
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
	OriginalText string    `json:"original_text"`
	Error        string    `json:"error"`
}

// NewErrorResult builds the ErrorResult for msg from a processing failure.
func NewErrorResult(userID string, msg IncomingMessage, err error) ErrorResult {
	return ErrorResult{
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		OriginalText: msg.Text,
		Error:        err.Error(),
	}
}

// WSResponse is the tagged envelope for processed input and pushes.
type WSResponse struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WSError is written when an inbound frame cannot be used.
type WSError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MetricsSnapshot is the JSON shape of the metrics endpoint.
type MetricsSnapshot struct {
	TotalMessages   uint64 `json:"total_messages"`
	TranslatedCount uint64 `json:"translated_count"`
	Errors          uint64 `json:"errors"`
}
