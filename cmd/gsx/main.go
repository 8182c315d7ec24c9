package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drunlade/go-xyterm/com"
	"github.com/drunlade/go-xyterm/internal/config"
	"github.com/drunlade/go-xyterm/internal/logger"
	"github.com/drunlade/go-xyterm/storage"
	"github.com/drunlade/go-xyterm/xymodem"
)

var (
	verbose   = flag.Bool("v", false, "verbose mode")
	quiet     = flag.Bool("q", false, "quiet mode")
	long      = flag.Bool("k", false, "1024 byte blocks (XMODEM-1K)")
	streaming = flag.Bool("g", false, "streaming transfer without per-block ACK")
	batch     = flag.Bool("b", false, "batch transfer (YMODEM)")
	timeout   = flag.Int("t", 100, "timeout in tenths of seconds")
	retries   = flag.Int("r", 10, "retries per block")
	help      = flag.Bool("h", false, "show help")
	version   = flag.Bool("version", false, "show version")
)

const versionString = "gsx version 0.1.0"

func main() {
	flag.Parse()

	if *help {
		showUsage(0)
	}

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "%s: no files specified\n", os.Args[0])
		showUsage(1)
	}

	variant := xymodem.VariantFor(*batch || len(paths) > 1, *long, *streaming)

	files, err := storage.LoadAll(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := signalContext(sigChan)
	defer cancel()

	log := logger.Setup([]config.LoggerConfig{{Stderr: true, Level: "debug"}}, !*verbose)

	cfg := xymodem.DefaultConfig()
	cfg.Timeout = time.Duration(*timeout) * 100 * time.Millisecond
	cfg.MaxRetries = *retries

	callbacks := &xymodem.Callbacks{
		OnProgress: func(filename string, transferred, total int64, rate float64) {
			if *quiet || !*verbose {
				return
			}
			percent := float64(0)
			if total > 0 {
				percent = float64(transferred) / float64(total) * 100
			}
			fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%.0f bytes/s)", filename, percent, rate)
		},
		OnFileStart: func(filename string, size int64) {
			if *verbose && !*quiet {
				fmt.Fprintf(os.Stderr, "Sending: %s (%d bytes) with %s\n", filename, size, variant)
			}
		},
		OnFileComplete: func(filename string, n int64, duration time.Duration) {
			if *quiet {
				return
			}
			if *verbose {
				fmt.Fprintf(os.Stderr, "\nCompleted: %s (%d bytes in %v)\n", filename, n, duration)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", filename)
			}
		},
		OnError: func(err error, context string) {
			if !*quiet {
				fmt.Fprintf(os.Stderr, "Error in %s: %v\n", context, err)
			}
		},
	}

	ch := com.NewStream(os.Stdin, os.Stdout, nil)
	if err := ch.Connect(ctx, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	p := xymodem.New(variant,
		xymodem.WithConfig(cfg),
		xymodem.WithCallbacks(callbacks),
		xymodem.WithLogger(log),
	)
	if err := p.InitiateSend(ch, files); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := p.Run(ctx, ch); err != nil {
		os.Exit(1)
	}
}

func signalContext(sigChan chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func showUsage(exitcode int) {
	fmt.Fprintf(os.Stderr, `%s - send files with XMODEM or YMODEM over stdin/stdout

Usage: %s [options] file...

Options:
  -b               batch transfer (YMODEM), implied by several files
  -g               streaming transfer (XMODEM-1K/G or YMODEM-G)
  -h               show this help message
  -k               1024 byte blocks (XMODEM-1K)
  -q               quiet mode, minimal output
  -r N             retries per block (default: 10)
  -t N             timeout in tenths of seconds (default: 100)
  -v               verbose mode, protocol log on stderr
  --version        show version

Examples:
  %s file.bin              # XMODEM
  %s -k file.bin           # XMODEM-1K
  %s -b a.txt b.txt        # YMODEM batch

`, versionString, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	os.Exit(exitcode)
}
