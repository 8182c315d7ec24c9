package xymodem

import (
	"errors"
	"fmt"
)

// Error represents a transfer protocol error.
type Error struct {
	// Type is the error category
	Type ErrorType

	// Message is a human-readable description
	Message string

	// Err is the underlying cause, if any
	Err error
}

// ErrorType categorizes transfer errors.
type ErrorType int

const (
	// ErrProtocol indicates an unexpected byte or sequence
	ErrProtocol ErrorType = iota

	// ErrFramingDesync indicates a block number pair that fails the complement check
	ErrFramingDesync

	// ErrChecksumMismatch indicates a block whose trailer does not match its payload
	ErrChecksumMismatch

	// ErrTimeout indicates the peer stayed silent longer than the receive timeout
	ErrTimeout

	// ErrTooManyRetries indicates a retry bound was exceeded; the transfer is over
	ErrTooManyRetries

	// ErrUnsupportedNegotiation indicates an unknown Telnet option or command
	ErrUnsupportedNegotiation

	// ErrTransportFailure indicates the byte channel failed
	ErrTransportFailure

	// ErrCancelled indicates the peer (or the host) cancelled the transfer
	ErrCancelled
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xymodem %s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("xymodem %s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (t ErrorType) String() string {
	switch t {
	case ErrProtocol:
		return "protocol error"
	case ErrFramingDesync:
		return "framing desync"
	case ErrChecksumMismatch:
		return "checksum mismatch"
	case ErrTimeout:
		return "timeout"
	case ErrTooManyRetries:
		return "too many retries"
	case ErrUnsupportedNegotiation:
		return "unsupported negotiation"
	case ErrTransportFailure:
		return "transport failure"
	case ErrCancelled:
		return "cancelled"
	default:
		return "unknown error"
	}
}

// NewError creates a new transfer error.
func NewError(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

func transportError(op string, err error) *Error {
	return &Error{Type: ErrTransportFailure, Message: op, Err: err}
}

func isType(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool { return isType(err, ErrTimeout) }

// IsTooManyRetries checks if an error ended a transfer after exhausting retries
func IsTooManyRetries(err error) bool { return isType(err, ErrTooManyRetries) }

// IsCancelled checks if an error indicates cancellation
func IsCancelled(err error) bool { return isType(err, ErrCancelled) }

// IsTransportFailure checks if an error came from the byte channel
func IsTransportFailure(err error) bool { return isType(err, ErrTransportFailure) }

// IsProtocolError checks if an error is a protocol violation or misuse
func IsProtocolError(err error) bool { return isType(err, ErrProtocol) }
