package telnet

import (
	"bytes"
	"io"
)

// Escape returns p with every IAC byte doubled.
func Escape(p []byte) []byte {
	if bytes.IndexByte(p, IAC) == -1 {
		return p
	}
	out := make([]byte, 0, len(p)+len(p)/10+1)
	for _, b := range p {
		out = append(out, b)
		if b == IAC {
			out = append(out, IAC)
		}
	}
	return out
}

// Writer escapes application data on its way to the wire.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write reports len(p) on success, not the escaped length.
func (w *Writer) Write(p []byte) (int, error) {
	if _, err := w.w.Write(Escape(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteCommand sends IAC followed by cmds, unescaped.
func (w *Writer) WriteCommand(cmds ...byte) error {
	_, err := w.w.Write(append([]byte{IAC}, cmds...))
	return err
}
