// Package server defines the inbound message envelope and utility helpers that
// are reused across client and room logic.
package server

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// inbound is the envelope shared by every client message.
type inbound struct {
	Action string `json:"action" validate:"required"`
}

// ignoredMessage is the single arm every room parser falls back to for
// malformed input and unknown actions.
type ignoredMessage struct {
	reason string
}

func (ignoredMessage) notificationMessage()  {}
func (ignoredMessage) projectMessage()       {}
func (ignoredMessage) collaborationMessage() {}
func (ignoredMessage) healthMessage()        {}

// decodeAction returns the message's action tag, or an ignoredMessage
// describing why the frame cannot be dispatched.
func decodeAction(raw []byte) (string, *ignoredMessage) {
	var env inbound
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", &ignoredMessage{reason: "invalid json"}
	}
	if err := validate.Struct(env); err != nil {
		return "", &ignoredMessage{reason: "missing action"}
	}
	return env.Action, nil
}

// decodePayload decodes raw into v and validates its struct tags.
func decodePayload(raw []byte, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		return false
	}
	return validate.Struct(v) == nil
}

// present reports whether a raw field was sent with a non-null value.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
