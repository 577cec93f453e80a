package juggernaut

import "fmt"

// ErrorCode is the closed taxonomy of protocol errors. Every one of these is
// fatal to the offending connection and to nothing else.
type ErrorCode int

const (
	// CorruptJSON — frame body is not valid JSON.
	CorruptJSON ErrorCode = iota

	// InvalidRequest — frame decodes to empty or to a non-object value.
	InvalidRequest

	// InvalidCommand — command field absent or not a recognized value.
	InvalidCommand

	// MalformedBroadcast — unrecognized broadcast type or missing field.
	MalformedBroadcast

	// MalformedQuery — unrecognized query type or missing field.
	MalformedQuery

	// UnauthorisedSubscription — the subscription callback rejected the request.
	UnauthorisedSubscription

	// UnauthorisedBroadcast — the auth gate rejected a broadcast.
	UnauthorisedBroadcast

	// UnauthorisedQuery — the auth gate rejected a query.
	UnauthorisedQuery
)

func (c ErrorCode) String() string {
	switch c {
	case CorruptJSON:
		return "CorruptJSON"
	case InvalidRequest:
		return "InvalidRequest"
	case InvalidCommand:
		return "InvalidCommand"
	case MalformedBroadcast:
		return "MalformedBroadcast"
	case MalformedQuery:
		return "MalformedQuery"
	case UnauthorisedSubscription:
		return "UnauthorisedSubscription"
	case UnauthorisedBroadcast:
		return "UnauthorisedBroadcast"
	case UnauthorisedQuery:
		return "UnauthorisedQuery"
	}
	return "UnknownError"
}

// Error carries an ErrorCode plus the raw frame (or a short request summary)
// for diagnosing misbehaving clients in the logs.
type Error struct {
	Code  ErrorCode
	Frame string
}

func newError(code ErrorCode, frame string) *Error {
	return &Error{Code: code, Frame: frame}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Frame)
}
