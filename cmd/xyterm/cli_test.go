package main

import (
	"bytes"
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/drunlade/go-xyterm/com"
	"github.com/drunlade/go-xyterm/internal/config"
	"github.com/drunlade/go-xyterm/xymodem"
)

var _ = Describe("CLI helpers", func() {
	BeforeEach(func() {
		saved := cfg
		cfg = config.Default()
		DeferCleanup(func() { cfg = saved })
	})

	DescribeTable("unescapePrelude",
		func(in, want string) {
			Expect(unescapePrelude(in)).To(Equal(want))
		},
		Entry("plain", "D FILE", "D FILE"),
		Entry("carriage return", `D FILE\r`, "D FILE\r"),
		Entry("newline", `a\nb`, "a\nb"),
		Entry("backslash", `a\\r`, `a\r`),
		Entry("unknown escape", `a\tb`, `a\tb`),
		Entry("trailing backslash", `a\`, `a\`),
	)

	It("adds a default port only when missing", func() {
		Expect(withPort("bbs.example.com", "23")).To(Equal("bbs.example.com:23"))
		Expect(withPort("bbs.example.com:2323", "23")).To(Equal("bbs.example.com:2323"))
		Expect(withPort("::1", "22")).To(Equal("[::1]:22"))
	})

	It("picks the first non-empty value", func() {
		Expect(firstOf("", "b", "c")).To(Equal("b"))
		Expect(firstOf("", "")).To(BeEmpty())
	})

	It("maps the transfer section onto engine settings", func() {
		cfg.Transfer.Timeout = config.Duration(3 * time.Second)
		cfg.Transfer.MaxRetries = 4
		cfg.Transfer.DefaultFileName = "capture.bin"

		tc := transferConfig()
		Expect(tc.Timeout).To(Equal(3 * time.Second))
		Expect(tc.MaxRetries).To(Equal(4))
		Expect(tc.DefaultFileName).To(Equal("capture.bin"))
		Expect(tc.PollTimeout).To(Equal(xymodem.DefaultConfig().PollTimeout))
	})

	It("takes the protocol from the config without prompting", func() {
		cfg.Transfer.Protocol = "ymodem-g"
		v, err := chooseProtocol("", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(xymodem.YModemG))

		v, err = chooseProtocol("xmodem-1k", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(xymodem.XModem1K))
	})

	It("refuses to prompt when not interactive", func() {
		_, err := chooseProtocol("", false)
		Expect(err).To(MatchError(ContainSubstring("--protocol")))
	})
})

var _ = Describe("terminalSession", func() {
	var (
		local, remote *com.Loopback
		screen        *bytes.Buffer
		keys          chan byte
		s             *terminalSession
	)

	BeforeEach(func() {
		saved := cfg
		cfg = config.Default()
		DeferCleanup(func() { cfg = saved })

		local, remote = com.NewLoopbackPair()
		screen = &bytes.Buffer{}
		keys = make(chan byte, 64)
		s = &terminalSession{ch: local, out: screen, keys: keys, dir: GinkgoT().TempDir()}
	})

	It("copies remote output to the screen", func() {
		remote.Write([]byte("Welcome to the BBS\r\n"))
		Expect(s.drain()).To(Succeed())
		Expect(screen.String()).To(Equal("Welcome to the BBS\r\n"))
	})

	It("edits a line with backspace and returns it on enter", func() {
		for _, k := range []byte("ab\x7fc\r") {
			keys <- k
		}
		line, ok, err := s.readLine(context.Background(), "File: ")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(line).To(Equal("ac"))
	})

	It("abandons a line on escape", func() {
		keys <- 'x'
		keys <- keyEscape
		_, ok, err := s.readLine(context.Background(), "File: ")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("picks a protocol by number", func() {
		keys <- '4'
		v, ok, err := s.pickVariant(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(xymodem.YModem))

		keys <- '9'
		_, ok, err = s.pickVariant(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("cancels a transfer from the keyboard", func() {
		cfg.Transfer.Protocol = "xmodem"
		keys <- 'd'
		keys <- keyCancel
		Expect(s.menu(context.Background())).To(MatchError(ContainSubstring("cancelled from keyboard")))
		Expect(remote.Sent()).To(BeEmpty())
		Expect(local.Sent()).To(Equal([]byte{xymodem.ProbeCRC, xymodem.CAN, xymodem.CAN}))
	})

	It("reports a cancel that cannot reach the remote", func() {
		p := xymodem.New(xymodem.XModem)
		Expect(p.InitiateRecv(local)).To(Succeed())
		Expect(local.Disconnect()).To(Succeed())
		keys <- keyEscape

		err := s.transfer(context.Background(), p)
		Expect(xymodem.IsTransportFailure(err)).To(BeTrue(), "%v", err)
		Expect(p.IsActive()).To(BeFalse())
	})

	It("hangs up from the menu", func() {
		keys <- 'q'
		Expect(s.menu(context.Background())).To(MatchError(errHangup))
	})
})

var _ = Describe("ProgressUI", func() {
	It("reports failures", func() {
		var out bytes.Buffer
		ui := NewProgressUI("Receiving", false)
		ui.out = &out
		ui.Callbacks().OnError(errors.New("line dropped"), "receive")
		Expect(out.String()).To(ContainSubstring("receive failed: line dropped"))
	})

	It("stays silent when quiet", func() {
		var out bytes.Buffer
		ui := NewProgressUI("Receiving", true)
		ui.out = &out
		cb := ui.Callbacks()
		cb.OnFileStart("a.bin", 10)
		cb.OnFileComplete("a.bin", 10, time.Second)
		cb.OnError(errors.New("line dropped"), "receive")
		Expect(out.Len()).To(BeZero())
	})
})
