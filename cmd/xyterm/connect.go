package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/drunlade/go-xyterm/com"
	"github.com/drunlade/go-xyterm/telnet"
	"github.com/drunlade/go-xyterm/xymodem"
)

// ConnectFlags selects and configures the transport.
type ConnectFlags struct {
	SSH          bool
	User         string
	KeyFile      string
	AskPassword  bool
	StrictTelnet bool
	Stdio        bool
}

func (f *ConnectFlags) register(cmd *cobra.Command, stdio bool) {
	cmd.Flags().BoolVar(&f.SSH, "ssh", false, "connect with SSH instead of Telnet")
	cmd.Flags().StringVarP(&f.User, "user", "u", "", "SSH user name")
	cmd.Flags().StringVarP(&f.KeyFile, "key", "i", "", "SSH private key file")
	cmd.Flags().BoolVar(&f.AskPassword, "password", false, "prompt for the SSH password")
	cmd.Flags().BoolVar(&f.StrictTelnet, "strict-telnet", false, "treat unknown Telnet options as a fatal error")
	if stdio {
		cmd.Flags().BoolVar(&f.Stdio, "stdio", false, "transfer over stdin/stdout instead of a network connection")
	}
}

func withPort(address, port string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, port)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// openChannel returns a connected channel for address.
func openChannel(ctx context.Context, address string, f *ConnectFlags) (com.Channel, error) {
	ch, err := dialChannel(ctx, address, f)
	if err != nil || !rootFlags.Trace {
		return ch, err
	}
	return com.Trace(ch, appLogger, firstOf(address, "stdio")), nil
}

func dialChannel(ctx context.Context, address string, f *ConnectFlags) (com.Channel, error) {
	if f.Stdio {
		s := com.NewStream(os.Stdin, os.Stdout, nil)
		return s, s.Connect(ctx, "")
	}

	if f.SSH {
		sshCfg := com.SSHConfig{
			User:       firstOf(f.User, cfg.SSH.User, os.Getenv("USER")),
			Password:   cfg.SSH.Password,
			KeyFile:    firstOf(f.KeyFile, cfg.SSH.KeyFile),
			KnownHosts: cfg.SSH.KnownHosts,
			Term:       cfg.SSH.Term,
		}
		if f.AskPassword {
			fmt.Fprintf(os.Stderr, "%s@%s's password: ", sshCfg.User, address)
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return nil, err
			}
			sshCfg.Password = string(pw)
		}
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			sshCfg.Width, sshCfg.Height = w, h
		}

		ch := com.NewSSH(sshCfg, appLogger)
		if err := ch.Connect(ctx, withPort(address, "22")); err != nil {
			return nil, err
		}
		return ch, nil
	}

	ch := telnet.New(telnet.Options{
		DialTimeout:   cfg.Telnet.DialTimeout.Std(),
		PollInterval:  cfg.Telnet.PollInterval.Std(),
		StrictOptions: cfg.Telnet.StrictOptions || f.StrictTelnet,
		Logger:        appLogger,
	})
	if err := ch.Connect(ctx, withPort(address, "23")); err != nil {
		return nil, err
	}
	return ch, nil
}

// chooseProtocol resolves the variant from the flag, then the config file,
// then an interactive picker when stdin is a terminal.
func chooseProtocol(flag string, interactive bool) (xymodem.Variant, error) {
	if name := firstOf(flag, cfg.Transfer.Protocol); name != "" {
		return xymodem.ParseVariant(name)
	}
	if !interactive || !isatty.IsTerminal(os.Stdin.Fd()) {
		return 0, fmt.Errorf("no protocol selected, use --protocol")
	}

	options := make([]huh.Option[xymodem.Variant], 0, len(xymodem.Variants))
	for _, v := range xymodem.Variants {
		options = append(options, huh.NewOption(v.String(), v))
	}

	choice := xymodem.YModem
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[xymodem.Variant]().
			Title("Transfer protocol").
			Options(options...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return 0, err
	}
	return choice, nil
}
