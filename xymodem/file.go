package xymodem

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// FileDescriptor is one file moving through a transfer. Size is -1 when the
// peer did not announce it (plain XMODEM).
type FileDescriptor struct {
	Name string
	Size int64
	Data []byte
}

// NewFileDescriptor wraps data for sending.
func NewFileDescriptor(name string, data []byte) *FileDescriptor {
	return &FileDescriptor{Name: name, Size: int64(len(data)), Data: data}
}

func (f *FileDescriptor) String() string {
	return fmt.Sprintf("%s (%d bytes)", f.Name, f.Size)
}

// encodeHeader builds the YMODEM block 0 payload for f, or the batch
// terminator when f is nil. The payload is 128 bytes unless the name does not
// fit, in which case it grows to 1024.
func encodeHeader(f *FileDescriptor) []byte {
	var b bytes.Buffer
	if f != nil {
		b.WriteString(f.Name)
		b.WriteByte(0)
		b.WriteString(strconv.FormatInt(int64(len(f.Data)), 10))
		b.WriteByte(0)
	}
	size := shortBlock
	if b.Len() > shortBlock {
		size = longBlock
	}
	payload := make([]byte, size)
	copy(payload, b.Bytes())
	return payload
}

// headerFits reports whether f's name and size fit in a 1024 byte header
// with both terminating NULs.
func headerFits(f *FileDescriptor) bool {
	return len(f.Name)+len(strconv.Itoa(len(f.Data)))+2 <= longBlock
}

// parseHeader decodes a YMODEM header payload. It returns nil for the
// all-zero terminator header.
func parseHeader(payload []byte) *FileDescriptor {
	if len(payload) == 0 || payload[0] == 0 {
		return nil
	}

	name, rest, _ := bytes.Cut(payload, []byte{0})
	f := &FileDescriptor{Name: string(name), Size: -1}

	field, _, _ := bytes.Cut(rest, []byte{0})
	// Some senders append modification time and mode after the size.
	if parts := strings.Fields(string(field)); len(parts) > 0 {
		if n, err := strconv.ParseInt(parts[0], 10, 64); err == nil && n >= 0 {
			f.Size = n
		}
	}
	return f
}

// FileTransferState is a snapshot of one direction of a transfer.
type FileTransferState struct {
	FileName         string
	FileSize         int64
	BytesTransferred int64
	Errors           int
	EngineState      string
}

// TransferState is the read-only view the host UI polls.
type TransferState struct {
	Variant      Variant
	CurrentState string
	SendState    *FileTransferState
	RecvState    *FileTransferState
}
