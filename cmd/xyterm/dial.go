package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/drunlade/go-xyterm/com"
	"github.com/drunlade/go-xyterm/storage"
	"github.com/drunlade/go-xyterm/xymodem"
)

const (
	keyMenu   = 0x1D // Ctrl-]
	keyEscape = 0x1B
	keyCancel = 0x18 // Ctrl-X
)

var dialFlags struct {
	Connect ConnectFlags
	Dir     string
}

var dialCmd = &cobra.Command{
	Use:   "dial host[:port]",
	Short: "Open an interactive terminal session",
	Long: `Open an interactive session with a BBS. Keystrokes go to the remote side.

Press Ctrl-] for the menu: d downloads, u uploads, q hangs up.
During a transfer Esc or Ctrl-X cancels it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("dial needs a terminal, use send or recv from scripts")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
		defer stop()

		ch, err := openChannel(ctx, args[0], &dialFlags.Connect)
		if err != nil {
			return err
		}
		defer ch.Disconnect()

		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return errors.Wrap(err, "raw terminal")
		}
		defer term.Restore(int(os.Stdin.Fd()), state)

		s := &terminalSession{
			ch:   ch,
			out:  os.Stdout,
			keys: readKeys(os.Stdin),
			dir:  firstOf(dialFlags.Dir, cfg.Transfer.DownloadDir, "."),
		}
		fmt.Fprintf(s.out, "Connected to %s. Ctrl-] for menu.\r\n", args[0])
		err = s.run(ctx)
		fmt.Fprint(s.out, "\r\nDisconnected.\r\n")
		return err
	},
}

func init() {
	dialFlags.Connect.register(dialCmd, false)
	dialCmd.Flags().StringVarP(&dialFlags.Dir, "dir", "d", "", "download directory")
}

// readKeys forwards stdin one byte at a time. The goroutine lives until the
// process exits.
func readKeys(r io.Reader) <-chan byte {
	keys := make(chan byte, 64)
	go func() {
		defer close(keys)
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			for _, b := range buf[:n] {
				keys <- b
			}
			if err != nil {
				return
			}
		}
	}()
	return keys
}

type terminalSession struct {
	ch   com.Channel
	out  io.Writer
	keys <-chan byte
	dir  string
}

var errHangup = errors.New("hang up")

func (s *terminalSession) run(ctx context.Context) error {
	resize := make(chan os.Signal, 1)
	notifyResize(resize)
	defer signal.Stop(resize)

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-s.keys:
			if !ok {
				return nil
			}
			if k != keyMenu {
				if _, err := s.ch.Write([]byte{k}); err != nil {
					return err
				}
				continue
			}
			err := s.menu(ctx)
			if errors.Is(err, errHangup) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(s.out, "\r\n%v\r\n", err)
			}
		case <-resize:
			s.resize()
		case <-tick.C:
			if err := s.drain(); err != nil {
				return err
			}
		}
	}
}

// drain copies everything the remote side has sent to the screen.
func (s *terminalSession) drain() error {
	var buf []byte
	for {
		ok, err := s.ch.IsDataAvailable()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for {
			b, err := s.ch.ReadByteNonBlocking()
			if com.IsTimeout(err) {
				break
			}
			if err != nil {
				return err
			}
			buf = append(buf, b)
		}
	}
	if len(buf) > 0 {
		_, err := s.out.Write(buf)
		return err
	}
	return nil
}

func (s *terminalSession) resize() {
	r, ok := s.ch.(interface{ Resize(w, h int) error })
	if !ok {
		return
	}
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		_ = r.Resize(w, h)
	}
}

func (s *terminalSession) key(ctx context.Context) (byte, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case k, ok := <-s.keys:
		if !ok {
			return 0, io.EOF
		}
		return k, nil
	}
}

func (s *terminalSession) menu(ctx context.Context) error {
	fmt.Fprint(s.out, "\r\n[d]ownload  [u]pload  [q]uit  (any other key resumes): ")
	k, err := s.key(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(s.out, "\r\n")

	switch k {
	case 'd', 'D':
		return s.download(ctx)
	case 'u', 'U':
		return s.upload(ctx)
	case 'q', 'Q':
		return errHangup
	}
	return nil
}

// pickVariant shows a numbered list. Esc or an invalid key aborts.
func (s *terminalSession) pickVariant(ctx context.Context) (xymodem.Variant, bool, error) {
	if cfg.Transfer.Protocol != "" {
		v, err := xymodem.ParseVariant(cfg.Transfer.Protocol)
		return v, err == nil, err
	}
	for i, v := range xymodem.Variants {
		fmt.Fprintf(s.out, "  %d) %s\r\n", i+1, v)
	}
	fmt.Fprint(s.out, "Protocol: ")
	k, err := s.key(ctx)
	if err != nil {
		return 0, false, err
	}
	fmt.Fprint(s.out, "\r\n")
	i := int(k) - '1'
	if i < 0 || i >= len(xymodem.Variants) {
		return 0, false, nil
	}
	return xymodem.Variants[i], true, nil
}

// readLine is a minimal line editor for raw mode.
func (s *terminalSession) readLine(ctx context.Context, prompt string) (string, bool, error) {
	fmt.Fprint(s.out, prompt)
	var line []byte
	for {
		k, err := s.key(ctx)
		if err != nil {
			return "", false, err
		}
		switch k {
		case '\r', '\n':
			fmt.Fprint(s.out, "\r\n")
			return strings.TrimSpace(string(line)), true, nil
		case keyEscape, 0x03:
			fmt.Fprint(s.out, "\r\n")
			return "", false, nil
		case 0x7F, 0x08:
			if len(line) > 0 {
				line = line[:len(line)-1]
				fmt.Fprint(s.out, "\b \b")
			}
		default:
			if k >= 0x20 {
				line = append(line, k)
				s.out.Write([]byte{k})
			}
		}
	}
}

func (s *terminalSession) newProtocol(v xymodem.Variant, operation string) *xymodem.Protocol {
	return xymodem.New(v,
		xymodem.WithConfig(transferConfig()),
		xymodem.WithCallbacks(NewProgressUI(operation, false).Callbacks()),
		xymodem.WithLogger(appLogger),
	)
}

func (s *terminalSession) download(ctx context.Context) error {
	v, ok, err := s.pickVariant(ctx)
	if err != nil || !ok {
		return err
	}
	p := s.newProtocol(v, "Receiving")
	if err := p.InitiateRecv(s.ch); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Receiving with %s. Esc cancels.\r\n", v)
	runErr := s.transfer(ctx, p)

	if received := p.ReceivedFiles(); len(received) > 0 {
		paths, err := storage.NewDiskHandler(s.dir, appLogger).StoreAll(received)
		for _, path := range paths {
			fmt.Fprintf(s.out, "Saved %s\r\n", path)
		}
		if err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func (s *terminalSession) upload(ctx context.Context) error {
	v, ok, err := s.pickVariant(ctx)
	if err != nil || !ok {
		return err
	}
	line, ok, err := s.readLine(ctx, "File(s): ")
	if err != nil || !ok || line == "" {
		return err
	}
	files, err := storage.LoadAll(strings.Fields(line))
	if err != nil {
		return err
	}
	p := s.newProtocol(v, "Sending")
	if err := p.InitiateSend(s.ch, files); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Sending with %s. Esc cancels.\r\n", v)
	return s.transfer(ctx, p)
}

// transfer ticks p while watching the keyboard for a cancel request.
func (s *terminalSession) transfer(ctx context.Context, p *xymodem.Protocol) error {
	for p.IsActive() {
		select {
		case <-ctx.Done():
			if err := p.Cancel(s.ch); err != nil {
				return err
			}
			return xymodem.NewError(xymodem.ErrCancelled, ctx.Err().Error())
		case k := <-s.keys:
			if k == keyEscape || k == keyCancel {
				if err := p.Cancel(s.ch); err != nil {
					return err
				}
				return xymodem.NewError(xymodem.ErrCancelled, "cancelled from keyboard")
			}
		default:
		}
		if err := p.Update(s.ch); err != nil {
			return err
		}
	}
	fmt.Fprintf(s.out, "%s\r\n", p.State().CurrentState)
	return nil
}
