// Package com defines the byte channel the transfer engines run on and a few
// concrete channels: an in-memory loopback pair, a generic reader/writer
// stream and an SSH shell session.
package com

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrTimedOut is returned when a bounded read sees no (or not enough)
	// data before its window closes.
	ErrTimedOut = errors.New("com: timed out")

	// ErrWouldBlock is returned by ReadByteNonBlocking when nothing is
	// buffered.
	ErrWouldBlock = errors.New("com: would block")

	errNotConnected = errors.New("com: not connected")
)

// Channel is a bidirectional byte stream with buffered, timeout-aware reads.
// Implementations are driven from a single goroutine.
type Channel interface {
	// Connect establishes the underlying transport.
	Connect(ctx context.Context, address string) error

	// Write sends application bytes. Transport specific escaping is applied
	// by the implementation.
	Write(p []byte) (int, error)

	// ReadByte returns the next byte, waiting at most timeout.
	ReadByte(timeout time.Duration) (byte, error)

	// ReadByteNonBlocking returns the next buffered byte or ErrWouldBlock.
	ReadByteNonBlocking() (byte, error)

	// ReadExact returns exactly n bytes or ErrTimedOut. On timeout no bytes
	// are consumed.
	ReadExact(timeout time.Duration, n int) ([]byte, error)

	// IsDataAvailable drains whatever the transport has ready into the
	// buffer and reports whether anything is buffered.
	IsDataAvailable() (bool, error)

	// Disconnect closes the transport.
	Disconnect() error

	// DiscardBuffer drops every buffered byte.
	DiscardBuffer() error
}

// IsTimeout reports whether err is (or wraps) ErrTimedOut or ErrWouldBlock.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOut) || errors.Is(err, ErrWouldBlock)
}
