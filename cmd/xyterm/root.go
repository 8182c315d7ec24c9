package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/drunlade/go-xyterm/internal/config"
	"github.com/drunlade/go-xyterm/internal/logger"
	"github.com/drunlade/go-xyterm/xymodem"
)

const versionString = "0.1.0"

type RootFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
	Trace      bool
}

var (
	rootFlags RootFlags
	cfg       *config.Config
	appLogger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:     "xyterm",
	Short:   "Telnet and SSH BBS client with XMODEM/YMODEM file transfer",
	Version: versionString,
	Long: `xyterm connects to bulletin board systems over Telnet or SSH and moves
files with XMODEM, XMODEM-1K, XMODEM-1K/G, YMODEM or YMODEM-G.

Use "dial" for an interactive session, or "send"/"recv" to run a single
transfer from a script.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if rootFlags.ConfigPath != "" {
			cfg, err = config.Load(rootFlags.ConfigPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}

		if rootFlags.Verbose || rootFlags.Trace {
			cfg.Loggers = append(cfg.Loggers, config.LoggerConfig{Stderr: true, Level: "debug"})
		}
		appLogger = logger.Setup(cfg.Loggers, rootFlags.Quiet)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.ConfigPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.Verbose, "verbose", "v", false, "log protocol details to stderr")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.Quiet, "quiet", "q", false, "disable logging")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.Trace, "trace", false, "log every byte on the wire (implies --verbose)")

	rootCmd.AddCommand(dialCmd, sendCmd, recvCmd)
}

// transferConfig maps the transfer section onto engine settings.
func transferConfig() *xymodem.Config {
	tc := xymodem.DefaultConfig()
	if d := cfg.Transfer.Timeout.Std(); d > 0 {
		tc.Timeout = d
	}
	if cfg.Transfer.MaxRetries > 0 {
		tc.MaxRetries = cfg.Transfer.MaxRetries
	}
	if cfg.Transfer.DefaultFileName != "" {
		tc.DefaultFileName = cfg.Transfer.DefaultFileName
	}
	if d := cfg.Transfer.ProgressInterval.Std(); d > 0 {
		tc.ProgressInterval = d
	}
	return tc
}
