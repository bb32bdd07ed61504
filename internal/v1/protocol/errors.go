package protocol

import "fmt"

// ErrorCode is a stable, wire-visible error identifier.
type ErrorCode string

// The closed set of broker error codes. These are part of the wire
// contract; never add codes that leak internal details.
const (
	CodeInvalidPayload   ErrorCode = "INVALID_PAYLOAD"
	CodeInvalidAPIKey    ErrorCode = "INVALID_API_KEY"
	CodeRoomNotFound     ErrorCode = "ROOM_NOT_FOUND"
	CodeRoomFull         ErrorCode = "ROOM_FULL"
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken     ErrorCode = "INVALID_TOKEN"
	CodeAlreadyConnected ErrorCode = "ALREADY_CONNECTED"
)

// Error is a wire-safe broker error. The Message must never contain
// internal state; it is sent to clients verbatim.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a wire-safe error with the given code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func invalidPayload(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidPayload, Message: fmt.Sprintf(format, args...)}
}

// Ack is the callback body for registration-class requests.
type Ack struct {
	OK           bool      `json:"ok"`
	RoomID       string    `json:"roomId,omitempty"`
	ControllerID string    `json:"controllerId,omitempty"`
	JoinToken    string    `json:"joinToken,omitempty"`
	Code         ErrorCode `json:"code,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// AckOK builds a success ack.
func AckOK() Ack {
	return Ack{OK: true}
}

// AckError builds a failure ack from a broker error.
func AckError(err *Error) Ack {
	return Ack{OK: false, Code: err.Code, Message: err.Message}
}
