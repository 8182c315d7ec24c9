package com

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Stream adapts a plain reader/writer pair (stdin/stdout, SSH pipes) to a
// Channel. A pump goroutine moves bytes from the reader into an internal
// buffer so reads can honour their timeouts even though the reader itself has
// no deadline support.
type Stream struct {
	reader io.Reader
	writer io.Writer
	closer io.Closer

	mu     sync.Mutex
	buf    []byte
	err    error
	notify chan struct{}
	start  sync.Once
}

// NewStream returns a Stream over r and w. closer may be nil; when set it is
// closed by Disconnect.
func NewStream(r io.Reader, w io.Writer, closer io.Closer) *Stream {
	return &Stream{
		reader: r,
		writer: w,
		closer: closer,
		notify: make(chan struct{}, 1),
	}
}

// Connect starts the pump. The address is ignored: the stream is already
// connected when constructed.
func (s *Stream) Connect(ctx context.Context, address string) error {
	s.start.Do(func() { go s.pump() })
	return nil
}

func (s *Stream) pump() {
	chunk := make([]byte, 4096)
	for {
		n, err := s.reader.Read(chunk)
		s.mu.Lock()
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			s.err = err
		}
		s.mu.Unlock()

		select {
		case s.notify <- struct{}{}:
		default:
		}

		if err != nil {
			return
		}
	}
}

// wait blocks until n bytes are buffered, the reader fails, or timeout elapses.
func (s *Stream) wait(n int, timeout time.Duration) error {
	s.start.Do(func() { go s.pump() })

	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		have, err := len(s.buf), s.err
		s.mu.Unlock()

		if have >= n {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "stream read")
		}

		left := time.Until(deadline)
		if left <= 0 {
			return ErrTimedOut
		}
		timer := time.NewTimer(left)
		select {
		case <-s.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Write passes p straight to the writer.
func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.writer.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "stream write")
	}
	return n, nil
}

// ReadByte waits up to timeout for one byte.
func (s *Stream) ReadByte(timeout time.Duration) (byte, error) {
	if err := s.wait(1, timeout); err != nil {
		return 0, err
	}
	return s.ReadByteNonBlocking()
}

// ReadByteNonBlocking returns ErrWouldBlock when nothing is buffered.
func (s *Stream) ReadByteNonBlocking() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		if s.err != nil {
			return 0, errors.Wrap(s.err, "stream read")
		}
		return 0, ErrWouldBlock
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}

// ReadExact waits up to timeout for n bytes and consumes nothing on timeout.
func (s *Stream) ReadExact(timeout time.Duration, n int) ([]byte, error) {
	if err := s.wait(n, timeout); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]byte(nil), s.buf[:n]...)
	s.buf = s.buf[n:]
	return out, nil
}

// IsDataAvailable reports buffered bytes, or the reader's error once the
// buffer is drained.
func (s *Stream) IsDataAvailable() (bool, error) {
	s.start.Do(func() { go s.pump() })

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 && s.err != nil {
		return false, errors.Wrap(s.err, "stream read")
	}
	return len(s.buf) > 0, nil
}

// Disconnect closes the closer given to NewStream, if any.
func (s *Stream) Disconnect() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// DiscardBuffer drops every buffered byte.
func (s *Stream) DiscardBuffer() error {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
	return nil
}
