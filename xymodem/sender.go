package xymodem

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/drunlade/go-xyterm/com"
)

type sendKind int

const (
	sendIdle sendKind = iota
	sendAwaitProbe
	sendAwaitHeaderAck
	sendAwaitDataProbe
	sendAwaitBlockAck
	sendStreamBlocks
	sendAwaitEOTAck
)

// AwaitEOTAck steps for batch variants.
const (
	stepEOTNak  = 0 // first EOT sent, expecting NAK
	stepEOTAck  = 1 // second EOT sent, expecting ACK
	stepEOTNext = 2 // expecting the probe for the next header
)

type sendState struct {
	kind    sendKind
	step    int
	retries int
}

func (s sendState) String() string {
	switch s.kind {
	case sendAwaitProbe:
		return fmt.Sprintf("AwaitProbe(%d)", s.retries)
	case sendAwaitHeaderAck:
		return fmt.Sprintf("AwaitHeaderAck(%d)", s.retries)
	case sendAwaitDataProbe:
		return fmt.Sprintf("AwaitDataProbe(%d)", s.retries)
	case sendAwaitBlockAck:
		return fmt.Sprintf("AwaitBlockAck(%d)", s.retries)
	case sendStreamBlocks:
		return "StreamBlocks"
	case sendAwaitEOTAck:
		return fmt.Sprintf("AwaitEOTAck(%d, %d)", s.step, s.retries)
	default:
		return "Idle"
	}
}

// Sender is the sending half of a transfer.
type Sender struct {
	variant   Variant
	config    *Config
	logger    *slog.Logger
	callbacks *Callbacks
	progress  *ProgressTracker

	state        sendState
	mode         ChecksumMode
	files        []*FileDescriptor
	index        int
	offset       int
	blockNum     byte
	pending      []byte
	pendingLen   int
	terminating  bool
	errors       int
	lastActivity time.Time
}

// NewSender creates an idle sender.
func NewSender(variant Variant, config *Config, callbacks *Callbacks, logger *slog.Logger) *Sender {
	callbacks = mergeCallbacks(callbacks)
	return &Sender{
		variant:   variant,
		config:    config,
		logger:    logger,
		callbacks: callbacks,
		progress:  NewProgressTracker(callbacks.OnProgress, config.ProgressInterval),
	}
}

// Begin queues files and starts waiting for the receiver's probe. Variants
// without batch headers carry exactly one file.
func (s *Sender) Begin(ch com.Channel, files []*FileDescriptor) error {
	if len(files) == 0 {
		return NewError(ErrProtocol, "no files to send")
	}
	if !s.variant.IsBatch() && len(files) > 1 {
		return NewError(ErrProtocol, fmt.Sprintf("%s sends a single file, got %d", s.variant, len(files)))
	}
	if s.variant.IsBatch() {
		for _, f := range files {
			if !headerFits(f) {
				return NewError(ErrProtocol, fmt.Sprintf("file name too long for a batch header (%d bytes)", len(f.Name)))
			}
		}
	}

	s.files = files
	s.index = 0
	s.errors = 0
	s.terminating = false
	s.lastActivity = time.Now()
	s.state = sendState{kind: sendAwaitProbe}
	s.logger.Info("Send started", "protocol", s.variant, "files", len(files))
	return nil
}

// IsActive reports whether a transfer is in progress.
func (s *Sender) IsActive() bool {
	return s.state.kind != sendIdle
}

// Cancel writes CAN CAN and goes idle.
func (s *Sender) Cancel(ch com.Channel) error {
	if !s.IsActive() {
		return nil
	}
	s.state = sendState{}
	return s.write(ch, CAN, CAN)
}

// State returns a snapshot for the host UI.
func (s *Sender) State() *FileTransferState {
	st := &FileTransferState{
		BytesTransferred: int64(s.offset),
		Errors:           s.errors,
		EngineState:      s.state.String(),
	}
	if f := s.current(); f != nil {
		st.FileName = f.Name
		st.FileSize = int64(len(f.Data))
	}
	return st
}

func (s *Sender) current() *FileDescriptor {
	if s.terminating || s.index >= len(s.files) {
		return nil
	}
	return s.files[s.index]
}

// Update performs one unit of work.
func (s *Sender) Update(ch com.Channel) error {
	switch s.state.kind {
	case sendIdle:
		return nil
	case sendStreamBlocks:
		return s.streamBlock(ch)
	}

	b, err := ch.ReadByte(s.config.PollTimeout)
	if err != nil {
		if !com.IsTimeout(err) {
			s.state = sendState{}
			return transportError("read", err)
		}
		if time.Since(s.lastActivity) < s.config.Timeout {
			return nil
		}
		return s.timedOut(ch)
	}
	s.lastActivity = time.Now()

	if b == CAN {
		s.logger.Warn("Send cancelled by receiver")
		s.state = sendState{}
		return NewError(ErrCancelled, "receiver cancelled the transfer")
	}

	switch s.state.kind {
	case sendAwaitProbe:
		return s.onProbe(ch, b)
	case sendAwaitHeaderAck:
		return s.onHeaderReply(ch, b)
	case sendAwaitDataProbe:
		return s.onDataProbe(ch, b)
	case sendAwaitBlockAck:
		return s.onBlockReply(ch, b)
	case sendAwaitEOTAck:
		return s.onEOTReply(ch, b)
	}
	return nil
}

func (s *Sender) write(ch com.Channel, b ...byte) error {
	s.lastActivity = time.Now()
	if _, err := ch.Write(b); err != nil {
		s.state = sendState{}
		return transportError("write", err)
	}
	return nil
}

func (s *Sender) cancel(ch com.Channel, err *Error) error {
	s.logger.Warn("Send cancelled", "error", err)
	s.state = sendState{}
	if werr := s.write(ch, CAN, CAN); werr != nil {
		return werr
	}
	return err
}

// retry bumps the retry counter and resends the pending frame.
func (s *Sender) retry(ch com.Channel, why string) error {
	s.errors++
	s.state.retries++
	if s.state.retries > s.config.MaxRetries {
		return s.cancel(ch, NewError(ErrTooManyRetries, why))
	}
	s.logger.Debug("Retransmitting", "reason", why, "retries", s.state.retries)
	return s.write(ch, s.pending...)
}

func (s *Sender) timedOut(ch com.Channel) error {
	switch s.state.kind {
	case sendAwaitProbe:
		s.state.retries++
		s.lastActivity = time.Now()
		if s.state.retries > s.config.MaxRetries {
			return s.cancel(ch, NewError(ErrTooManyRetries, "receiver never probed"))
		}
		return nil
	case sendAwaitDataProbe:
		return s.sendBlock(ch)
	case sendAwaitEOTAck:
		if s.state.step == stepEOTNext {
			return s.nextFile(ch)
		}
	}
	return s.retry(ch, "timeout")
}

// probeDrainLimit bounds how many queued bytes onProbe inspects.
const probeDrainLimit = 64

func isProbe(b byte) bool {
	return b == ProbeCRC || b == ProbeStream || b == NAK
}

// onProbe answers the most recent probe in the input. A receiver that has
// been probing for a while may have queued several 'C's ahead of its NAK
// fallback, and by then it only accepts arithmetic checksums.
func (s *Sender) onProbe(ch com.Channel, b byte) error {
	if !isProbe(b) {
		return nil
	}
	for i := 0; i < probeDrainLimit; i++ {
		next, err := ch.ReadByteNonBlocking()
		if err != nil {
			if com.IsTimeout(err) {
				break
			}
			s.state = sendState{}
			return transportError("read", err)
		}
		if next == CAN {
			s.logger.Warn("Send cancelled by receiver")
			s.state = sendState{}
			return NewError(ErrCancelled, "receiver cancelled the transfer")
		}
		if isProbe(next) {
			b = next
		}
	}

	s.mode = ModeCRC16
	if b == NAK {
		s.mode = ModeChecksum
	}
	s.logger.Debug("Receiver probed", "mode", s.mode)

	if err := ch.DiscardBuffer(); err != nil {
		s.state = sendState{}
		return transportError("discard", err)
	}
	s.startFile()
	if s.variant.IsBatch() {
		return s.sendHeader(ch)
	}
	return s.sendBlock(ch)
}

func (s *Sender) startFile() {
	f := s.current()
	s.offset = 0
	s.blockNum = 1
	if f != nil {
		s.callbacks.OnFileStart(f.Name, int64(len(f.Data)))
		s.progress.Start(f.Name, int64(len(f.Data)))
		s.logger.Info("Sending file", "name", f.Name, "size", len(f.Data))
	}
}

func (s *Sender) sendHeader(ch com.Channel) error {
	s.pending = buildBlock(s.mode, 0, encodeHeader(s.current()))
	s.state = sendState{kind: sendAwaitHeaderAck}
	return s.write(ch, s.pending...)
}

func (s *Sender) onHeaderReply(ch com.Channel, b byte) error {
	switch b {
	case ACK:
		if s.terminating {
			s.logger.Info("Batch complete", "files", len(s.files))
			s.state = sendState{}
			return nil
		}
		s.state = sendState{kind: sendAwaitDataProbe}
	case NAK:
		return s.retry(ch, "header rejected")
	}
	return nil
}

func (s *Sender) onDataProbe(ch com.Channel, b byte) error {
	switch b {
	case ProbeCRC, ProbeStream, NAK:
		return s.sendBlock(ch)
	}
	return nil
}

// sendBlock frames the next chunk of the current file, or sends EOT when the
// file is exhausted. A tail of at most 128 bytes always goes out as a short
// block.
func (s *Sender) sendBlock(ch com.Channel) error {
	data := s.current().Data
	remaining := len(data) - s.offset
	if remaining <= 0 {
		s.pending = []byte{EOT}
		s.state = sendState{kind: sendAwaitEOTAck, step: stepEOTNak}
		return s.write(ch, EOT)
	}

	size := s.variant.BlockLength()
	if remaining <= shortBlock {
		size = shortBlock
	}
	n := min(size, remaining)
	payload := make([]byte, size)
	copy(payload, data[s.offset:s.offset+n])
	for i := n; i < size; i++ {
		payload[i] = CPMEOF
	}

	s.pending = buildBlock(s.mode, s.blockNum, payload)
	s.pendingLen = n
	if s.variant.IsStreaming() {
		s.advance()
		s.state = sendState{kind: sendStreamBlocks}
	} else {
		s.state = sendState{kind: sendAwaitBlockAck}
	}
	return s.write(ch, s.pending...)
}

func (s *Sender) advance() {
	s.offset += s.pendingLen
	s.blockNum++
	s.progress.Update(int64(s.offset))
}

func (s *Sender) onBlockReply(ch com.Channel, b byte) error {
	switch b {
	case ACK:
		s.advance()
		return s.sendBlock(ch)
	case NAK:
		return s.retry(ch, fmt.Sprintf("block %d rejected", s.blockNum))
	}
	return nil
}

// streamBlock sends one block without waiting, watching only for CAN.
func (s *Sender) streamBlock(ch com.Channel) error {
	b, err := ch.ReadByteNonBlocking()
	switch {
	case err == nil && b == CAN:
		s.logger.Warn("Send cancelled by receiver")
		s.state = sendState{}
		return NewError(ErrCancelled, "receiver cancelled the transfer")
	case err != nil && !com.IsTimeout(err):
		s.state = sendState{}
		return transportError("read", err)
	}
	return s.sendBlock(ch)
}

func (s *Sender) onEOTReply(ch com.Channel, b byte) error {
	if !s.variant.IsBatch() {
		switch b {
		case ACK:
			s.fileDone()
			s.state = sendState{}
			return nil
		case NAK:
			return s.retry(ch, "EOT rejected")
		}
		return nil
	}

	switch s.state.step {
	case stepEOTNak:
		switch b {
		case NAK:
			s.state = sendState{kind: sendAwaitEOTAck, step: stepEOTAck}
			return s.write(ch, EOT)
		case ACK:
			s.fileDone()
			s.state = sendState{kind: sendAwaitEOTAck, step: stepEOTNext}
		}
	case stepEOTAck:
		switch b {
		case ACK:
			s.fileDone()
			s.state = sendState{kind: sendAwaitEOTAck, step: stepEOTNext}
		case NAK:
			return s.retry(ch, "EOT rejected")
		}
	case stepEOTNext:
		switch b {
		case ProbeCRC, ProbeStream, NAK:
			return s.nextFile(ch)
		}
	}
	return nil
}

func (s *Sender) fileDone() {
	f := s.current()
	if f == nil {
		return
	}
	s.progress.Update(int64(len(f.Data)))
	duration := s.progress.Complete()
	s.callbacks.OnFileComplete(f.Name, int64(len(f.Data)), duration)
	s.logger.Info("File sent", "name", f.Name, "size", len(f.Data), "duration", duration)
}

// nextFile sends the next header, or the batch terminator after the last file.
func (s *Sender) nextFile(ch com.Channel) error {
	s.index++
	if s.index >= len(s.files) {
		s.terminating = true
	}
	s.startFile()
	return s.sendHeader(ch)
}
