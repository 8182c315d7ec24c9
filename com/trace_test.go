package com_test

import (
	"bytes"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/drunlade/go-xyterm/com"
)

var _ = Describe("Trace", func() {
	var (
		buf    *bytes.Buffer
		a, b   *com.Loopback
		traced *com.Traced
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		a, b = com.NewLoopbackPair()
		traced = com.Trace(a, logger, "bbs")
	})

	It("passes data through and logs it", func() {
		_, err := traced.Write([]byte("hi"))
		Expect(err).NotTo(HaveOccurred())
		data, err := b.ReadExact(time.Second, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("hi"))

		_, err = b.Write([]byte{0x06})
		Expect(err).NotTo(HaveOccurred())
		c, err := traced.ReadByte(time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(byte(0x06)))

		Expect(buf.String()).To(ContainSubstring("msg=Write"))
		Expect(buf.String()).To(ContainSubstring("msg=Read"))
		Expect(buf.String()).To(ContainSubstring("channel=bbs"))
	})

	It("does not log timeouts as errors", func() {
		_, err := traced.ReadByte(time.Millisecond)
		Expect(com.IsTimeout(err)).To(BeTrue())
		Expect(buf.String()).NotTo(ContainSubstring("level=ERROR"))
	})

	It("truncates large writes", func() {
		_, err := traced.Write(make([]byte, 1000))
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(ContainSubstring("truncated=true"))
		Expect(buf.String()).To(ContainSubstring("len=1000"))
	})

	It("ignores Resize on channels without a terminal", func() {
		Expect(traced.Resize(80, 24)).To(Succeed())
	})
})
