package errcode

import "fmt"

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam    = New(1001, "invalid parameter")
	ErrInternalServer  = New(1002, "internal server error")
	ErrUnauthorized    = New(1003, "unauthorized")
	ErrForbidden       = New(1004, "forbidden")
	ErrNotFound        = New(1005, "not found")
	ErrTooManyRequests = New(1006, "too many requests")
	ErrNoPermission    = New(1007, "no permission to access this resource")

	// Auth errors (2xxx)
	ErrTokenInvalid  = New(2001, "token invalid")
	ErrTokenExpired  = New(2002, "token expired")
	ErrTokenMissing  = New(2003, "token missing")
	ErrTokenMismatch = New(2004, "token user mismatch")

	// Room errors (3xxx)
	ErrRoomNotFound      = New(3001, "room not found")
	ErrRoomClosed        = New(3002, "room is closed")
	ErrNotParticipant    = New(3003, "not a room participant")
	ErrParticipantExists = New(3004, "already a room participant")

	// Message errors (4xxx)
	ErrMessageNotFound = New(4001, "message not found")
	ErrSeqAllocFailed  = New(4002, "seq allocation failed")
	ErrAppendFailed    = New(4003, "message append failed")
	ErrPullFailed      = New(4004, "message pull failed")

	// Support queue errors (5xxx)
	ErrAlreadyClaimed = New(5001, "ticket already claimed")
	ErrNotClaimable   = New(5002, "ticket not waiting for an agent")
	ErrNotAssigned    = New(5003, "ticket not assigned to this agent")

	// Gateway errors (6xxx)
	ErrConnOverLimit   = New(6001, "connection over max limit")
	ErrConnClosed      = New(6002, "connection closed")
	ErrInvalidProtocol = New(6003, "invalid protocol")
	ErrPushFailed      = New(6004, "push event failed")
)
