package com

import (
	"context"
	"log/slog"
	"time"
)

const traceLimit = 128

// Traced wraps a Channel and logs every byte that crosses it at debug level.
type Traced struct {
	Channel
	logger *slog.Logger
	name   string
}

// Trace returns ch with wire logging under name.
func Trace(ch Channel, logger *slog.Logger, name string) *Traced {
	return &Traced{Channel: ch, logger: logger.With("channel", name), name: name}
}

func (t *Traced) dump(op string, p []byte) {
	if len(p) > traceLimit {
		t.logger.Debug(op, "len", len(p), "data", p[:traceLimit], "truncated", true)
		return
	}
	t.logger.Debug(op, "len", len(p), "data", p)
}

func (t *Traced) fail(op string, err error) {
	if err != nil && !IsTimeout(err) {
		t.logger.Error(op+" failed", "error", err)
	}
}

func (t *Traced) Connect(ctx context.Context, address string) error {
	err := t.Channel.Connect(ctx, address)
	t.logger.Debug("Connect", "address", address, "error", err)
	return err
}

func (t *Traced) Write(p []byte) (int, error) {
	n, err := t.Channel.Write(p)
	t.dump("Write", p[:n])
	t.fail("Write", err)
	return n, err
}

func (t *Traced) ReadByte(timeout time.Duration) (byte, error) {
	b, err := t.Channel.ReadByte(timeout)
	if err == nil {
		t.dump("Read", []byte{b})
	}
	t.fail("Read", err)
	return b, err
}

func (t *Traced) ReadByteNonBlocking() (byte, error) {
	b, err := t.Channel.ReadByteNonBlocking()
	if err == nil {
		t.dump("Read", []byte{b})
	}
	t.fail("Read", err)
	return b, err
}

func (t *Traced) ReadExact(timeout time.Duration, n int) ([]byte, error) {
	p, err := t.Channel.ReadExact(timeout, n)
	if err == nil {
		t.dump("Read", p)
	}
	t.fail("Read", err)
	return p, err
}

func (t *Traced) DiscardBuffer() error {
	t.logger.Debug("DiscardBuffer")
	return t.Channel.DiscardBuffer()
}

// Resize forwards to the wrapped channel when it has a terminal size.
func (t *Traced) Resize(width, height int) error {
	if r, ok := t.Channel.(interface{ Resize(w, h int) error }); ok {
		return r.Resize(width, height)
	}
	return nil
}
