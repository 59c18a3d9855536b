package service

import (
	"errors"
	"fmt"
)

// Stable validation codes reported to clients.
const (
	CodeEmptyContent        = "empty_content"
	CodeContentTooLong      = "content_too_long"
	CodeInvalidTempID       = "invalid_temp_id"
	CodeUnknownRoom         = "unknown_room"
	CodeNotParticipant      = "not_participant"
	CodeInvalidCursor       = "invalid_cursor"
	CodeInvalidParticipants = "invalid_participants"
	CodeInvalidContext      = "invalid_context"
)

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// OpPersist names the durable operation behind a failed send.
const OpPersist = "persist message"

// DurabilityError means a storage operation could not complete. Nothing was committed.
type DurabilityError struct {
	Op  string
	Err error
}

func (e *DurabilityError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *DurabilityError) Unwrap() error {
	return e.Err
}

// AsValidation extracts a ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsDurability extracts a DurabilityError from err.
func AsDurability(err error) (*DurabilityError, bool) {
	var de *DurabilityError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
