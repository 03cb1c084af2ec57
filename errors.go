package polarhouse

import (
	"fmt"
)

// ErrorKind classifies a failure so callers can branch on what went wrong
// without string matching.
type ErrorKind int

const (
	// ErrKindConnection covers network and handshake failures.
	ErrKindConnection ErrorKind = iota + 1
	// ErrKindQuery covers queries rejected by the server.
	ErrKindQuery
	// ErrKindDecode covers wire bytes that do not match the declared schema.
	ErrKindDecode
	// ErrKindCache covers cache storage failures. These are absorbed by the
	// client and only ever logged; they never surface from a query call.
	ErrKindCache
	// ErrKindConfig covers invalid addresses and option values.
	ErrKindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindConnection:
		return "connection"
	case ErrKindQuery:
		return "query"
	case ErrKindDecode:
		return "decode"
	case ErrKindCache:
		return "cache"
	case ErrKindConfig:
		return "config"
	}
	return "unknown"
}

const (
	// connection

	// ErrCodeDialFailed is an error code for the case where the TCP or HTTP connection could not be established.
	ErrCodeDialFailed = 370001
	// ErrCodeHandshakeFailed is an error code for a failed native protocol handshake.
	ErrCodeHandshakeFailed = 370002
	// ErrCodeConnClosed is an error code for operations on a closed client.
	ErrCodeConnClosed = 370003

	// query

	// ErrCodeServerException is an error code for a query rejected by the server.
	ErrCodeServerException = 370101
	// ErrCodeQueryCanceled is an error code for a query abandoned by the caller.
	ErrCodeQueryCanceled = 370102

	// decode

	// ErrCodeUnknownType is an error code for an unsupported wire type descriptor.
	ErrCodeUnknownType = 370201
	// ErrCodeMalformedBlock is an error code for block bytes that do not match the declared schema.
	ErrCodeMalformedBlock = 370202
	// ErrCodeMismatchingLengths is an error code for result columns of unequal length.
	ErrCodeMismatchingLengths = 370203
	// ErrCodeUnexpectedPacket is an error code for a server packet outside the protocol grammar.
	ErrCodeUnexpectedPacket = 370204

	// cache

	// ErrCodeCacheIO is an error code for cache read/write failures.
	ErrCodeCacheIO = 370301
	// ErrCodeCacheCorrupt is an error code for a cache entry failing validation.
	ErrCodeCacheCorrupt = 370302

	// config

	// ErrCodeInvalidAddress is an error code for an address string that selects no transport.
	ErrCodeInvalidAddress = 370401
	// ErrCodeInvalidConfig is an error code for a malformed client configuration file.
	ErrCodeInvalidConfig = 370402
	// ErrCodeQueryFileUnreadable is an error code for a query file that cannot be read.
	ErrCodeQueryFileUnreadable = 370403
)

// Error is the error type returned by this package. ServerCode and
// ServerMessage are populated for ErrKindQuery errors from the server
// exception frame.
type Error struct {
	Kind          ErrorKind
	Code          int
	Message       string
	QueryID       string
	ServerCode    int32
	ServerMessage string
	cause         error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.ServerMessage != "" {
		msg = fmt.Sprintf("%s: code %d: %s", msg, e.ServerCode, e.ServerMessage)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.QueryID != "" {
		return fmt.Sprintf("%06d (%s): %s: %s", e.Code, e.Kind, e.QueryID, msg)
	}
	return fmt.Sprintf("%06d (%s): %s", e.Code, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func connectionError(code int, cause error, format string, args ...any) *Error {
	return &Error{Kind: ErrKindConnection, Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func queryError(queryID string, serverCode int32, serverMessage string) *Error {
	return &Error{
		Kind:          ErrKindQuery,
		Code:          ErrCodeServerException,
		Message:       "query failed",
		QueryID:       queryID,
		ServerCode:    serverCode,
		ServerMessage: serverMessage,
	}
}

func decodeError(code int, cause error, format string, args ...any) *Error {
	return &Error{Kind: ErrKindDecode, Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func cacheError(code int, cause error, format string, args ...any) *Error {
	return &Error{Kind: ErrKindCache, Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func configError(code int, cause error, format string, args ...any) *Error {
	return &Error{Kind: ErrKindConfig, Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}
