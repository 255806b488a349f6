package adapters

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"translation-relay/models"
)

// ErrInvalidPayload marks a frame that failed structural validation.
var ErrInvalidPayload = errors.New("invalid payload")

// PayloadError carries the reason a frame was rejected.
type PayloadError struct {
	Details string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPayload, e.Details)
}

func (e *PayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseWebMessage decodes a raw WebSocket frame into an IncomingMessage.
// user_id and text must be present non-empty strings, language must be a
// string when given and need_response a boolean (default false).
func ParseWebMessage(raw []byte) (models.IncomingMessage, error) {
	var msg models.IncomingMessage

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return msg, &PayloadError{Details: "payload must be a JSON object"}
	}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return models.IncomingMessage{}, &PayloadError{Details: describeDecodeError(err)}
	}
	if err := validate.Struct(msg); err != nil {
		return models.IncomingMessage{}, &PayloadError{Details: describeValidationError(err)}
	}
	return msg, nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("field %q must be of type %s", typeErr.Field, typeErr.Type)
	}
	return err.Error()
}

func describeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	missing := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		missing = append(missing, jsonName(fe.Field()))
	}
	return "missing required field(s): " + strings.Join(missing, ", ")
}

func jsonName(field string) string {
	switch field {
	case "UserID":
		return "user_id"
	case "Text":
		return "text"
	default:
		return strings.ToLower(field)
	}
}
