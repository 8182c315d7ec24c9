package com

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type queue struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
}

// Loopback is one end of an in-memory channel pair. Reads never wait: an empty
// buffer is reported immediately as ErrTimedOut, which makes it suitable for
// driving two engines from a single test loop.
type Loopback struct {
	in  *queue
	out *queue

	mu   sync.Mutex
	sent []byte

	// Corrupt, when set, rewrites every outbound write before it reaches
	// the peer.
	Corrupt func(p []byte) []byte
}

// NewLoopbackPair returns two connected endpoints.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a, b := &queue{}, &queue{}
	return &Loopback{in: a, out: b}, &Loopback{in: b, out: a}
}

// Connect is a no-op; the pair is connected on creation.
func (l *Loopback) Connect(ctx context.Context, address string) error {
	return nil
}

// Write delivers p, after Corrupt, to the peer and records it in Sent.
func (l *Loopback) Write(p []byte) (int, error) {
	data := append([]byte(nil), p...)
	if l.Corrupt != nil {
		data = l.Corrupt(data)
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.closed {
		return 0, errors.New("loopback: write on closed channel")
	}
	l.out.buf = append(l.out.buf, data...)

	l.mu.Lock()
	l.sent = append(l.sent, data...)
	l.mu.Unlock()
	return len(p), nil
}

// ReadByte never waits; an empty buffer reports ErrTimedOut.
func (l *Loopback) ReadByte(timeout time.Duration) (byte, error) {
	b, err := l.ReadByteNonBlocking()
	if errors.Is(err, ErrWouldBlock) {
		return 0, ErrTimedOut
	}
	return b, err
}

// ReadByteNonBlocking returns ErrWouldBlock when nothing is buffered.
func (l *Loopback) ReadByteNonBlocking() (byte, error) {
	l.in.mu.Lock()
	defer l.in.mu.Unlock()
	if len(l.in.buf) == 0 {
		return 0, ErrWouldBlock
	}
	b := l.in.buf[0]
	l.in.buf = l.in.buf[1:]
	return b, nil
}

// ReadExact returns n bytes, or ErrTimedOut and consumes nothing when fewer
// are buffered.
func (l *Loopback) ReadExact(timeout time.Duration, n int) ([]byte, error) {
	l.in.mu.Lock()
	defer l.in.mu.Unlock()
	if len(l.in.buf) < n {
		return nil, ErrTimedOut
	}
	out := append([]byte(nil), l.in.buf[:n]...)
	l.in.buf = l.in.buf[n:]
	return out, nil
}

// IsDataAvailable reports whether the peer has written unread bytes.
func (l *Loopback) IsDataAvailable() (bool, error) {
	l.in.mu.Lock()
	defer l.in.mu.Unlock()
	return len(l.in.buf) > 0, nil
}

// Disconnect makes further writes to the peer fail.
func (l *Loopback) Disconnect() error {
	l.out.mu.Lock()
	l.out.closed = true
	l.out.mu.Unlock()
	return nil
}

// DiscardBuffer drops every unread byte.
func (l *Loopback) DiscardBuffer() error {
	l.in.mu.Lock()
	l.in.buf = nil
	l.in.mu.Unlock()
	return nil
}

// Sent returns a copy of every byte this endpoint has written.
func (l *Loopback) Sent() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.sent...)
}

// ResetSent clears the write log.
func (l *Loopback) ResetSent() {
	l.mu.Lock()
	l.sent = nil
	l.mu.Unlock()
}
