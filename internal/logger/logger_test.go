package logger_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/drunlade/go-xyterm/internal/config"
	"github.com/drunlade/go-xyterm/internal/logger"
)

var _ = Describe("Fanout", func() {
	It("sends records to every enabled handler", func() {
		var debug, warn bytes.Buffer
		l := slog.New(logger.NewFanout(
			slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
			slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
		)).With("conn", "test")

		l.Debug("negotiating")
		l.Warn("block rejected")

		Expect(debug.String()).To(ContainSubstring("negotiating"))
		Expect(debug.String()).To(ContainSubstring("block rejected"))
		Expect(debug.String()).To(ContainSubstring("conn=test"))
		Expect(warn.String()).NotTo(ContainSubstring("negotiating"))
		Expect(warn.String()).To(ContainSubstring("block rejected"))
	})

	It("is enabled when any handler is", func() {
		f := logger.NewFanout(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
		Expect(f.Enabled(context.Background(), slog.LevelInfo)).To(BeFalse())
		Expect(f.Enabled(context.Background(), slog.LevelError)).To(BeTrue())
	})
})

var _ = Describe("Setup", func() {
	It("writes to a log file at the configured level", func() {
		path := filepath.Join(GinkgoT().TempDir(), "logs", "xyterm.log")
		DeferCleanup(slog.SetDefault, slog.Default())
		l := logger.Setup([]config.LoggerConfig{{File: path, Level: "debug"}}, false)

		l.Debug("Telnet command [IN]", "cmd", "DO")
		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("Telnet command [IN]"))
	})

	It("discards everything when quiet", func() {
		l := logger.Setup(nil, true)
		Expect(l.Enabled(context.Background(), slog.LevelError)).To(BeFalse())
	})
})
