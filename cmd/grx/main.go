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
	dir       = flag.String("d", ".", "download directory")
	name      = flag.String("o", "", "file name for non-batch transfers")
	timeout   = flag.Int("t", 100, "timeout in tenths of seconds")
	retries   = flag.Int("r", 10, "retries per block")
	help      = flag.Bool("h", false, "show help")
	version   = flag.Bool("version", false, "show version")
)

const versionString = "grx version 0.1.0"

func main() {
	flag.Parse()

	if *help {
		showUsage(0)
	}

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	variant := xymodem.VariantFor(*batch, *long, *streaming)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := signalContext(sigChan)
	defer cancel()

	log := logger.Setup([]config.LoggerConfig{{Stderr: true, Level: "debug"}}, !*verbose)

	cfg := xymodem.DefaultConfig()
	cfg.Timeout = time.Duration(*timeout) * 100 * time.Millisecond
	cfg.MaxRetries = *retries
	if *name != "" {
		cfg.DefaultFileName = *name
	}

	callbacks := &xymodem.Callbacks{
		OnProgress: func(filename string, transferred, total int64, rate float64) {
			if *quiet || !*verbose {
				return
			}
			if total > 0 {
				fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%.0f bytes/s)", filename,
					float64(transferred)/float64(total)*100, rate)
			} else {
				fmt.Fprintf(os.Stderr, "\r%s: %d bytes (%.0f bytes/s)", filename, transferred, rate)
			}
		},
		OnFileStart: func(filename string, size int64) {
			if *verbose && !*quiet {
				fmt.Fprintf(os.Stderr, "Receiving: %s\n", filename)
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
	if err := p.InitiateRecv(ch); err != nil {
		os.Exit(1)
	}
	runErr := p.Run(ctx, ch)

	// Whatever completed before a failure is kept.
	_, err := storage.NewDiskHandler(*dir, log).StoreAll(p.ReceivedFiles())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if runErr != nil {
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
	fmt.Fprintf(os.Stderr, `%s - receive files with XMODEM or YMODEM over stdin/stdout

Usage: %s [options]

Options:
  -b               batch transfer (YMODEM)
  -d DIR           download directory (default: .)
  -g               streaming transfer (XMODEM-1K/G or YMODEM-G)
  -h               show this help message
  -k               1024 byte blocks (XMODEM-1K)
  -o NAME          file name for XMODEM transfers
  -q               quiet mode, minimal output
  -r N             retries per block (default: 10)
  -t N             timeout in tenths of seconds (default: 100)
  -v               verbose mode, protocol log on stderr
  --version        show version

Examples:
  %s -o firmware.bin       # XMODEM into firmware.bin
  %s -b -d downloads       # YMODEM batch into downloads/

`, versionString, os.Args[0], os.Args[0], os.Args[0])
	os.Exit(exitcode)
}
