package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drunlade/go-xyterm/com"
	"github.com/drunlade/go-xyterm/storage"
	"github.com/drunlade/go-xyterm/xymodem"
)

type TransferFlags struct {
	Connect  ConnectFlags
	Protocol string
	Dir      string
	Prelude  string
}

var (
	sendFlags TransferFlags
	recvFlags TransferFlags
)

var sendCmd = &cobra.Command{
	Use:   "send [host[:port]] file...",
	Short: "Upload files to a remote host",
	Long: `Connect to a host, optionally type a prelude (for example the BBS command
that starts its receiver), then send the given files.

With --stdio the transfer runs over stdin/stdout and every argument is a file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, paths := "", args
		if !sendFlags.Connect.Stdio {
			if len(args) < 2 {
				return fmt.Errorf("need a host and at least one file")
			}
			address, paths = args[0], args[1:]
		}

		files, err := storage.LoadAll(paths)
		if err != nil {
			return err
		}
		return runTransfer(address, "Sending", &sendFlags, func(p *xymodem.Protocol, ch com.Channel) error {
			return p.InitiateSend(ch, files)
		})
	},
}

var recvCmd = &cobra.Command{
	Use:   "recv [host[:port]]",
	Short: "Download files from a remote host",
	Long: `Connect to a host, optionally type a prelude (for example the BBS command
that starts its sender), then receive files into the download directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address := ""
		if len(args) == 1 {
			address = args[0]
		} else if !recvFlags.Connect.Stdio {
			return fmt.Errorf("need a host, or --stdio")
		}
		return runTransfer(address, "Receiving", &recvFlags, func(p *xymodem.Protocol, ch com.Channel) error {
			return p.InitiateRecv(ch)
		})
	},
}

func init() {
	for _, c := range []struct {
		cmd   *cobra.Command
		flags *TransferFlags
	}{{sendCmd, &sendFlags}, {recvCmd, &recvFlags}} {
		c.flags.Connect.register(c.cmd, true)
		c.cmd.Flags().StringVarP(&c.flags.Protocol, "protocol", "p", "", "xmodem, xmodem-1k, xmodem-1k-g, ymodem or ymodem-g")
		c.cmd.Flags().StringVar(&c.flags.Prelude, "prelude", "", `text to send before the transfer starts ("\r" is a carriage return)`)
	}
	recvCmd.Flags().StringVarP(&recvFlags.Dir, "dir", "d", "", "download directory")
}

func runTransfer(address, operation string, flags *TransferFlags, initiate func(*xymodem.Protocol, com.Channel) error) error {
	variant, err := chooseProtocol(flags.Protocol, !flags.Connect.Stdio)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := openChannel(ctx, address, &flags.Connect)
	if err != nil {
		return err
	}
	defer ch.Disconnect()

	if flags.Prelude != "" {
		if _, err := ch.Write([]byte(unescapePrelude(flags.Prelude))); err != nil {
			return err
		}
	}

	ui := NewProgressUI(operation, rootFlags.Quiet)
	p := xymodem.New(variant,
		xymodem.WithConfig(transferConfig()),
		xymodem.WithCallbacks(ui.Callbacks()),
		xymodem.WithLogger(appLogger),
	)

	if err := initiate(p, ch); err != nil {
		return err
	}
	runErr := p.Run(ctx, ch)

	// Files completed before a failure are still worth keeping.
	if received := p.ReceivedFiles(); len(received) > 0 {
		dir := firstOf(flags.Dir, cfg.Transfer.DownloadDir, ".")
		paths, err := storage.NewDiskHandler(dir, appLogger).StoreAll(received)
		for _, path := range paths {
			fmt.Fprintf(os.Stderr, "saved %s\n", path)
		}
		if err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// unescapePrelude turns the escapes a shell makes awkward to type into bytes.
func unescapePrelude(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'r':
				out = append(out, '\r')
				i++
				continue
			case 'n':
				out = append(out, '\n')
				i++
				continue
			case '\\':
				out = append(out, '\\')
				i++
				continue
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}
