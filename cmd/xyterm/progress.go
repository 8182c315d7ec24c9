package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/drunlade/go-xyterm/xymodem"
)

// ProgressUI renders one progress bar per file on stderr.
type ProgressUI struct {
	out       io.Writer
	operation string
	bar       *progressbar.ProgressBar
	quiet     bool
}

// NewProgressUI returns a UI labelled with operation. A quiet UI prints nothing.
func NewProgressUI(operation string, quiet bool) *ProgressUI {
	return &ProgressUI{out: os.Stderr, operation: operation, quiet: quiet}
}

func (p *ProgressUI) start(filename string, size int64) {
	if p.quiet {
		return
	}
	if filename == "" {
		filename = "(unnamed)"
	}
	p.bar = progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", p.operation, filename)),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(p.out, "\r\n") }),
	)
}

func (p *ProgressUI) update(transferred int64) {
	if p.bar != nil {
		_ = p.bar.Set64(transferred)
	}
}

func (p *ProgressUI) finish(filename string, n int64, d time.Duration) {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
	if !p.quiet {
		fmt.Fprintf(p.out, "%s: %d bytes in %v\r\n", filename, n, d.Round(time.Millisecond))
	}
}

// Callbacks wires the UI into a transfer.
func (p *ProgressUI) Callbacks() *xymodem.Callbacks {
	return &xymodem.Callbacks{
		OnFileStart: func(filename string, size int64) {
			p.start(filename, size)
		},
		OnProgress: func(filename string, transferred, total int64, rate float64) {
			p.update(transferred)
		},
		OnFileComplete: func(filename string, n int64, d time.Duration) {
			p.finish(filename, n, d)
		},
		OnError: func(err error, context string) {
			if p.bar != nil {
				_ = p.bar.Exit()
				p.bar = nil
			}
			if !p.quiet {
				fmt.Fprintf(p.out, "\r\n%s failed: %v\r\n", context, err)
			}
		},
	}
}
