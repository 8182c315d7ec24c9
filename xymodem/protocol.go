package xymodem

import (
	"context"
	"log/slog"
	"time"

	"github.com/drunlade/go-xyterm/com"
)

// Config holds transfer tuning.
type Config struct {
	// Timeout is how long the peer may stay silent before the engine
	// retries (or, while waiting for the first probe, gives up).
	Timeout time.Duration

	// PollTimeout bounds each channel read inside a single Update.
	PollTimeout time.Duration

	// MaxRetries bounds NAKs and retransmissions per block.
	MaxRetries int

	// DefaultFileName names the file produced by variants without a
	// batch header.
	DefaultFileName string

	// ProgressInterval throttles OnProgress.
	ProgressInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:          10 * time.Second,
		PollTimeout:      10 * time.Millisecond,
		MaxRetries:       10,
		DefaultFileName:  "xmodem.bin",
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Protocol drives one transfer in either direction. It owns a sender and a
// receiver configured for the same variant; at most one is active.
type Protocol struct {
	variant   Variant
	config    *Config
	callbacks *Callbacks
	logger    *slog.Logger

	sender   *Sender
	receiver *Receiver
	label    string
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithConfig sets the transfer configuration.
func WithConfig(config *Config) Option {
	return func(p *Protocol) {
		p.config = config
	}
}

// WithCallbacks sets the transfer callbacks.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(p *Protocol) {
		p.callbacks = mergeCallbacks(callbacks)
	}
}

// WithLogger sets the logger for protocol debugging.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Protocol) {
		p.logger = logger
	}
}

// New creates an idle Protocol for variant.
func New(variant Variant, opts ...Option) *Protocol {
	p := &Protocol{
		variant:   variant,
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		logger:    slog.New(slog.DiscardHandler),
		label:     "Idle",
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sender = NewSender(variant, p.config, p.callbacks, p.logger)
	p.receiver = NewReceiver(variant, p.config, p.callbacks, p.logger)
	return p
}

// Variant returns the protocol variant.
func (p *Protocol) Variant() Variant { return p.variant }

// InitiateSend starts sending files.
func (p *Protocol) InitiateSend(ch com.Channel, files []*FileDescriptor) error {
	if p.IsActive() {
		return NewError(ErrProtocol, "transfer already in progress")
	}
	if err := p.sender.Begin(ch, files); err != nil {
		return err
	}
	p.label = "Waiting for receiver"
	return nil
}

// InitiateRecv starts receiving.
func (p *Protocol) InitiateRecv(ch com.Channel) error {
	if p.IsActive() {
		return NewError(ErrProtocol, "transfer already in progress")
	}
	if err := p.receiver.Begin(ch); err != nil {
		p.callbacks.OnError(err, "receive")
		return err
	}
	p.label = "Waiting for sender"
	return nil
}

// Update advances whichever engine is active by one tick. A returned error
// means the transfer is over.
func (p *Protocol) Update(ch com.Channel) error {
	var err error
	var dir string
	switch {
	case p.sender.IsActive():
		dir = "send"
		err = p.sender.Update(ch)
		p.label = labelFor(p.sender.IsActive(), err, "Sending")
	case p.receiver.IsActive():
		dir = "receive"
		err = p.receiver.Update(ch)
		p.label = labelFor(p.receiver.IsActive(), err, "Receiving")
	default:
		return nil
	}
	if err != nil {
		p.callbacks.OnError(err, dir)
	}
	return err
}

func labelFor(active bool, err error, verb string) string {
	switch {
	case err != nil:
		return "Failed: " + err.Error()
	case active:
		return verb
	default:
		return "Complete"
	}
}

// IsActive reports whether a transfer is in progress.
func (p *Protocol) IsActive() bool {
	return p.sender.IsActive() || p.receiver.IsActive()
}

// Cancel aborts the active transfer with CAN CAN.
func (p *Protocol) Cancel(ch com.Channel) error {
	if !p.IsActive() {
		return nil
	}
	p.label = "Cancelled"
	if err := p.sender.Cancel(ch); err != nil {
		return err
	}
	return p.receiver.Cancel(ch)
}

// ReceivedFiles hands over the files completed so far.
func (p *Protocol) ReceivedFiles() []*FileDescriptor {
	return p.receiver.Files()
}

// State returns a snapshot of both engines.
func (p *Protocol) State() TransferState {
	return TransferState{
		Variant:      p.variant,
		CurrentState: p.label,
		SendState:    p.sender.State(),
		RecvState:    p.receiver.State(),
	}
}

// Run ticks the active transfer until it finishes, fails, or ctx is done. A
// cancelled context aborts the transfer with CAN CAN.
func (p *Protocol) Run(ctx context.Context, ch com.Channel) error {
	for p.IsActive() {
		select {
		case <-ctx.Done():
			if err := p.Cancel(ch); err != nil {
				p.logger.Warn("Failed to send cancel", "error", err)
			}
			return NewError(ErrCancelled, ctx.Err().Error())
		default:
		}
		if err := p.Update(ch); err != nil {
			return err
		}
	}
	return nil
}
