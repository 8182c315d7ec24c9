package xymodem

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/drunlade/go-xyterm/com"
)

type recvKind int

const (
	recvIdle recvKind = iota
	recvAwaitFirstByte
	recvReadBatchHeader
	recvAwaitBlockOrEnd
	recvReadBlock
)

// Probe retry thresholds for AwaitFirstByte.
const (
	crcProbeLimit = 3 // 'C' is re-sent while retries < crcProbeLimit
	nakProbeAt    = 3 // one NAK, falling back to the arithmetic checksum
)

// AwaitBlockOrEnd steps.
const (
	stepBlockOrEOT   = 0
	stepSecondEOT    = 1
	stepHeaderResend = 2
)

// recvState is the receiver's tagged state. length applies to the read states,
// step to AwaitBlockOrEnd.
type recvState struct {
	kind    recvKind
	length  int
	step    int
	retries int
}

func (s recvState) String() string {
	switch s.kind {
	case recvAwaitFirstByte:
		return fmt.Sprintf("AwaitFirstByte(%d)", s.retries)
	case recvReadBatchHeader:
		return fmt.Sprintf("ReadBatchHeader(%d)", s.retries)
	case recvAwaitBlockOrEnd:
		return fmt.Sprintf("AwaitBlockOrEnd(%d, %d)", s.step, s.retries)
	case recvReadBlock:
		return fmt.Sprintf("ReadBlock(%d, %d)", s.length, s.retries)
	default:
		return "Idle"
	}
}

// Receiver is the receiving half of a transfer.
type Receiver struct {
	variant   Variant
	config    *Config
	logger    *slog.Logger
	callbacks *Callbacks
	progress  *ProgressTracker

	state        recvState
	mode         ChecksumMode
	fellBack     bool
	expect       byte
	current      *FileDescriptor
	data         []byte
	files        []*FileDescriptor
	errors       int
	lastActivity time.Time
}

// NewReceiver creates an idle receiver.
func NewReceiver(variant Variant, config *Config, callbacks *Callbacks, logger *slog.Logger) *Receiver {
	callbacks = mergeCallbacks(callbacks)
	return &Receiver{
		variant:   variant,
		config:    config,
		logger:    logger,
		callbacks: callbacks,
		progress:  NewProgressTracker(callbacks.OnProgress, config.ProgressInterval),
	}
}

// Begin resets the receiver, sends the CRC probe and starts waiting for the
// first block.
func (r *Receiver) Begin(ch com.Channel) error {
	r.mode = ModeCRC16
	r.fellBack = false
	r.expect = 1
	r.current = nil
	r.data = nil
	r.errors = 0
	if !r.variant.IsBatch() {
		r.startFile(&FileDescriptor{Name: r.config.DefaultFileName, Size: -1})
	}

	r.logger.Info("Receive started", "protocol", r.variant)
	r.state = recvState{kind: recvAwaitFirstByte}
	return r.write(ch, ProbeCRC)
}

// IsActive reports whether a transfer is in progress.
func (r *Receiver) IsActive() bool {
	return r.state.kind != recvIdle
}

// Files returns the completed files and clears the engine's list.
func (r *Receiver) Files() []*FileDescriptor {
	files := r.files
	r.files = nil
	return files
}

// Update performs one unit of work.
func (r *Receiver) Update(ch com.Channel) error {
	switch r.state.kind {
	case recvAwaitFirstByte:
		return r.awaitFirstByte(ch)
	case recvReadBatchHeader:
		return r.readBatchHeader(ch)
	case recvAwaitBlockOrEnd:
		return r.awaitBlockOrEnd(ch)
	case recvReadBlock:
		return r.readBlock(ch)
	}
	return nil
}

// Cancel writes CAN CAN and goes idle.
func (r *Receiver) Cancel(ch com.Channel) error {
	if !r.IsActive() {
		return nil
	}
	r.state = recvState{}
	return r.write(ch, CAN, CAN)
}

// State returns a snapshot for the host UI.
func (r *Receiver) State() *FileTransferState {
	st := &FileTransferState{
		BytesTransferred: int64(len(r.data)),
		Errors:           r.errors,
		EngineState:      r.state.String(),
	}
	if r.current != nil {
		st.FileName = r.current.Name
		st.FileSize = r.current.Size
	}
	return st
}

func (r *Receiver) write(ch com.Channel, b ...byte) error {
	r.lastActivity = time.Now()
	if _, err := ch.Write(b); err != nil {
		r.state = recvState{}
		return transportError("write", err)
	}
	return nil
}

// readByte returns ok=false when nothing arrived within the poll window.
func (r *Receiver) readByte(ch com.Channel) (byte, bool, error) {
	b, err := ch.ReadByte(r.config.PollTimeout)
	if err != nil {
		if com.IsTimeout(err) {
			return 0, false, nil
		}
		r.state = recvState{}
		return 0, false, transportError("read", err)
	}
	r.lastActivity = time.Now()
	return b, true, nil
}

func (r *Receiver) silent() bool {
	return time.Since(r.lastActivity) >= r.config.Timeout
}

func (r *Receiver) cancel(ch com.Channel, err *Error) error {
	r.logger.Warn("Receive cancelled", "error", err)
	r.state = recvState{}
	if werr := r.write(ch, CAN, CAN); werr != nil {
		return werr
	}
	return err
}

func (r *Receiver) remoteCancelled() error {
	r.logger.Warn("Receive cancelled by sender")
	r.state = recvState{}
	return NewError(ErrCancelled, "sender cancelled the transfer")
}

func (r *Receiver) awaitFirstByte(ch com.Channel) error {
	b, ok, err := r.readByte(ch)
	if err != nil {
		return err
	}
	if !ok {
		if r.silent() {
			return r.probeAgain(ch)
		}
		return nil
	}

	switch b {
	case SOH, STX:
		length := shortBlock
		if b == STX {
			length = longBlock
		}
		kind := recvReadBlock
		if r.variant.IsBatch() {
			kind = recvReadBatchHeader
		}
		r.state = recvState{kind: kind, length: length, retries: r.state.retries}
		return nil
	case EOT:
		// An empty file: the sender has nothing to put in block 1.
		if !r.variant.IsBatch() {
			r.finishFile()
			r.state = recvState{}
			return r.write(ch, ACK)
		}
	case CAN:
		return r.remoteCancelled()
	}
	r.logger.Debug("Unexpected byte before first block", "byte", b)
	if err := ch.DiscardBuffer(); err != nil {
		r.state = recvState{}
		return transportError("discard", err)
	}
	return r.probeAgain(ch)
}

func (r *Receiver) probeAgain(ch com.Channel) error {
	retries := r.state.retries
	switch {
	case retries < crcProbeLimit:
		r.state.retries++
		return r.write(ch, ProbeCRC)
	case retries == nakProbeAt:
		r.logger.Info("No CRC response, falling back to checksum mode")
		r.mode = ModeChecksum
		r.fellBack = true
		r.state.retries++
		return r.write(ch, NAK)
	}
	return r.cancel(ch, NewError(ErrTooManyRetries, "sender never started"))
}

// readFrame reads the block number pair, payload and trailer. It returns
// nil, nil while the frame is still incomplete.
func (r *Receiver) readFrame(ch com.Channel, length int) ([]byte, error) {
	frame, err := ch.ReadExact(r.config.PollTimeout, 2+length+r.mode.Size())
	if err != nil {
		if com.IsTimeout(err) {
			if r.silent() {
				return nil, NewError(ErrTimeout, "incomplete block")
			}
			return nil, nil
		}
		r.state = recvState{}
		return nil, transportError("read", err)
	}
	r.lastActivity = time.Now()

	if frame[0] != ^frame[1] {
		return nil, NewError(ErrFramingDesync, fmt.Sprintf("block number %d/%d", frame[0], frame[1]))
	}
	if !checkBlock(r.mode, frame[2:]) {
		if crcFrame := r.adoptCRC(ch, frame); crcFrame != nil {
			return crcFrame, nil
		}
		return nil, NewError(ErrChecksumMismatch, fmt.Sprintf("block %d", frame[0]))
	}
	r.fellBack = false
	return frame, nil
}

// adoptCRC handles a sender that answered one of the earlier 'C' probes
// after the NAK fallback went out: its frames carry one more trailer byte.
// It returns the completed frame and switches back to CRC16 when that byte
// makes the block valid.
func (r *Receiver) adoptCRC(ch com.Channel, frame []byte) []byte {
	if !r.fellBack {
		return nil
	}
	extra, err := ch.ReadExact(r.config.PollTimeout, 1)
	if err != nil {
		return nil
	}
	candidate := append(frame, extra[0])
	if !checkBlock(ModeCRC16, candidate[2:]) {
		return nil
	}
	r.logger.Info("Sender answered the CRC probe, switching back to CRC16")
	r.mode = ModeCRC16
	r.fellBack = false
	return candidate
}

// blockFailed NAKs a bad block and waits for the retransmission in step.
func (r *Receiver) blockFailed(ch com.Channel, step int, cause *Error) error {
	r.errors++
	r.logger.Debug("Block rejected", "error", cause, "retries", r.state.retries)

	if r.variant.IsStreaming() {
		return r.cancel(ch, cause)
	}

	retries := r.state.retries + 1
	if retries >= r.config.MaxRetries {
		return r.cancel(ch, NewError(ErrTooManyRetries, cause.Error()))
	}

	if err := ch.DiscardBuffer(); err != nil {
		r.state = recvState{}
		return transportError("discard", err)
	}
	r.state = recvState{kind: recvAwaitBlockOrEnd, step: step, retries: retries}
	return r.write(ch, NAK)
}

func (r *Receiver) readBatchHeader(ch com.Channel) error {
	frame, err := r.readFrame(ch, r.state.length)
	if err != nil {
		if e, ok := err.(*Error); ok && e.Type != ErrTransportFailure {
			return r.blockFailed(ch, stepHeaderResend, e)
		}
		return err
	}
	if frame == nil {
		return nil
	}
	if frame[0] != 0 {
		return r.blockFailed(ch, stepHeaderResend, NewError(ErrFramingDesync, fmt.Sprintf("header block numbered %d", frame[0])))
	}

	f := parseHeader(frame[2 : 2+r.state.length])
	if f == nil {
		r.logger.Info("Batch complete", "files", len(r.files))
		r.state = recvState{}
		return r.write(ch, ACK)
	}

	r.startFile(f)
	r.expect = 1
	r.state = recvState{kind: recvAwaitBlockOrEnd, step: stepBlockOrEOT}
	return r.write(ch, ACK, ProbeCRC)
}

func (r *Receiver) startFile(f *FileDescriptor) {
	r.current = f
	r.data = nil
	r.logger.Info("Receiving file", "name", f.Name, "size", f.Size)
	r.callbacks.OnFileStart(f.Name, f.Size)
	r.progress.Start(f.Name, f.Size)
}

func (r *Receiver) readBlock(ch com.Channel) error {
	frame, err := r.readFrame(ch, r.state.length)
	if err != nil {
		if e, ok := err.(*Error); ok && e.Type != ErrTransportFailure {
			return r.blockFailed(ch, stepBlockOrEOT, e)
		}
		return err
	}
	if frame == nil {
		return nil
	}

	switch frame[0] {
	case r.expect:
		r.data = append(r.data, frame[2:2+r.state.length]...)
		r.expect++
		r.progress.Update(int64(len(r.data)))
	case r.expect - 1:
		r.logger.Debug("Duplicate block", "block", frame[0])
	default:
		return r.blockFailed(ch, stepBlockOrEOT, NewError(ErrFramingDesync,
			fmt.Sprintf("expected block %d, got %d", r.expect, frame[0])))
	}

	r.state = recvState{kind: recvAwaitBlockOrEnd, step: stepBlockOrEOT}
	if r.variant.IsStreaming() {
		return nil
	}
	return r.write(ch, ACK)
}

func (r *Receiver) awaitBlockOrEnd(ch com.Channel) error {
	b, ok, err := r.readByte(ch)
	if err != nil {
		return err
	}
	step := r.state.step
	if !ok {
		if r.silent() {
			return r.blockFailed(ch, step, NewError(ErrTimeout, "no block from sender"))
		}
		return nil
	}
	if b == CAN {
		return r.remoteCancelled()
	}

	switch step {
	case stepBlockOrEOT:
		switch b {
		case SOH:
			r.state = recvState{kind: recvReadBlock, length: shortBlock, retries: r.state.retries}
			return nil
		case STX:
			r.state = recvState{kind: recvReadBlock, length: longBlock, retries: r.state.retries}
			return nil
		case EOT:
			if r.variant.IsBatch() {
				r.state = recvState{kind: recvAwaitBlockOrEnd, step: stepSecondEOT}
				return r.write(ch, NAK)
			}
			r.finishFile()
			r.state = recvState{}
			return r.write(ch, ACK)
		}

	case stepSecondEOT:
		if b == EOT {
			r.finishFile()
			r.state = recvState{kind: recvAwaitFirstByte}
			return r.write(ch, ACK, ProbeCRC)
		}

	case stepHeaderResend:
		switch b {
		case SOH:
			r.state = recvState{kind: recvReadBatchHeader, length: shortBlock, retries: r.state.retries}
			return nil
		case STX:
			r.state = recvState{kind: recvReadBatchHeader, length: longBlock, retries: r.state.retries}
			return nil
		}
	}

	return r.blockFailed(ch, step, NewError(ErrProtocol, fmt.Sprintf("unexpected byte 0x%02X", b)))
}

// finishFile trims padding and moves the current file to the completed list.
func (r *Receiver) finishFile() {
	f := r.current
	if f == nil {
		return
	}
	data := r.data
	if f.Size >= 0 && int64(len(data)) >= f.Size {
		data = data[:f.Size]
	} else {
		data = bytes.TrimRight(data, string([]byte{CPMEOF}))
	}
	f.Data = data
	f.Size = int64(len(data))

	r.progress.Update(f.Size)
	duration := r.progress.Complete()
	r.callbacks.OnFileComplete(f.Name, f.Size, duration)
	r.logger.Info("File received", "name", f.Name, "size", f.Size, "duration", duration)

	r.files = append(r.files, f)
	r.current = nil
	r.data = nil
}
