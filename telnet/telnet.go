package telnet

import (
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/drunlade/go-xyterm/com"
)

const minPollInterval = time.Millisecond

// Options configures a Telnet connection.
type Options struct {
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// PollInterval is how long a single socket read may wait. It stands in
	// for a non-blocking read.
	PollInterval time.Duration

	// StrictOptions turns negotiation of an unregistered option code into a
	// fatal error instead of a logged refusal.
	StrictOptions bool

	Logger *slog.Logger
}

// DefaultOptions returns the options used by New when none are given.
func DefaultOptions() Options {
	return Options{
		DialTimeout:  5 * time.Second,
		PollInterval: minPollInterval,
	}
}

// Conn is a com.Channel over a Telnet session.
type Conn struct {
	opts   Options
	logger *slog.Logger

	conn   net.Conn
	parser *Parser
	writer *Writer

	buf   []byte
	chunk []byte
}

var _ com.Channel = (*Conn)(nil)

// New returns an unconnected Telnet channel.
func New(opts Options) *Conn {
	if opts.PollInterval < minPollInterval {
		opts.PollInterval = minPollInterval
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultOptions().DialTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Conn{
		opts:   opts,
		logger: logger,
		chunk:  make([]byte, 32*1024),
	}
}

// NewConn wraps an established connection.
func NewConn(conn net.Conn, opts Options) *Conn {
	c := New(opts)
	c.attach(conn)
	return c
}

func (c *Conn) attach(conn net.Conn) {
	c.conn = conn
	c.parser = NewParser(conn, c.logger, c.opts.StrictOptions)
	c.writer = NewWriter(conn)
	c.buf = c.buf[:0]
}

// Connect dials address ("host:port") over TCP.
func (c *Conn) Connect(ctx context.Context, address string) error {
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return errors.Wrapf(err, "telnet dial %s", address)
	}
	c.attach(conn)
	c.logger.Info("Telnet connected", "address", address)
	return nil
}

// fill performs one short socket read and runs the bytes through the parser.
func (c *Conn) fill() error {
	if c.conn == nil {
		return errors.New("telnet: not connected")
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PollInterval)); err != nil {
		return errors.Wrap(err, "telnet set deadline")
	}

	n, err := c.conn.Read(c.chunk)
	if n > 0 {
		var perr error
		c.buf, perr = c.parser.Feed(c.chunk[:n], c.buf)
		if perr != nil {
			return perr
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil
		}
		return errors.Wrap(err, "telnet read")
	}
	return nil
}

// fillWait polls until something is buffered or timeout elapses.
func (c *Conn) fillWait(need int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := c.fill(); err != nil {
			return err
		}
		if len(c.buf) >= need {
			return nil
		}
		if !time.Now().Before(deadline) {
			return com.ErrTimedOut
		}
	}
}

func (c *Conn) pop() byte {
	b := c.buf[0]
	c.buf = c.buf[1:]
	return b
}

// Write doubles every IAC byte before sending.
func (c *Conn) Write(p []byte) (int, error) {
	if c.writer == nil {
		return 0, errors.New("telnet: not connected")
	}
	n, err := c.writer.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "telnet write")
	}
	return n, nil
}

func (c *Conn) ReadByte(timeout time.Duration) (byte, error) {
	if len(c.buf) == 0 {
		if err := c.fillWait(1, timeout); err != nil {
			return 0, err
		}
	}
	return c.pop(), nil
}

func (c *Conn) ReadByteNonBlocking() (byte, error) {
	if len(c.buf) == 0 {
		if err := c.fill(); err != nil {
			return 0, err
		}
		if len(c.buf) == 0 {
			return 0, com.ErrWouldBlock
		}
	}
	return c.pop(), nil
}

func (c *Conn) ReadExact(timeout time.Duration, n int) ([]byte, error) {
	if len(c.buf) < n {
		if err := c.fillWait(n, timeout); err != nil {
			return nil, err
		}
	}
	out := append([]byte(nil), c.buf[:n]...)
	c.buf = c.buf[n:]
	return out, nil
}

func (c *Conn) IsDataAvailable() (bool, error) {
	if err := c.fill(); err != nil {
		return false, err
	}
	return len(c.buf) > 0, nil
}

func (c *Conn) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.writer = nil
	return err
}

func (c *Conn) DiscardBuffer() error {
	c.buf = c.buf[:0]
	return nil
}
