package xymodem_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/drunlade/go-xyterm/com"
	"github.com/drunlade/go-xyterm/xymodem"
)

const tickLimit = 100000

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func config(maxRetries int) *xymodem.Config {
	cfg := xymodem.DefaultConfig()
	cfg.PollTimeout = 0
	cfg.MaxRetries = maxRetries
	return cfg
}

// pump ticks both sides until neither is active.
func pump(sender, receiver *xymodem.Protocol, a, b com.Channel) (sendErr, recvErr error) {
	for i := 0; i < tickLimit && (sender.IsActive() || receiver.IsActive()); i++ {
		if sender.IsActive() {
			if err := sender.Update(a); err != nil {
				sendErr = err
			}
		}
		if receiver.IsActive() {
			if err := receiver.Update(b); err != nil {
				recvErr = err
			}
		}
	}
	return sendErr, recvErr
}

// pumpPaced runs one round per millisecond so short timeouts can fire. Each
// round gives the receiver enough ticks to take a whole block and reply.
func pumpPaced(sender, receiver *xymodem.Protocol, a, b com.Channel) (sendErr, recvErr error) {
	Eventually(func() bool {
		if sender.IsActive() {
			if err := sender.Update(a); err != nil {
				sendErr = err
			}
		}
		for i := 0; i < 3 && receiver.IsActive(); i++ {
			if err := receiver.Update(b); err != nil {
				recvErr = err
			}
		}
		return sender.IsActive() || receiver.IsActive()
	}).WithTimeout(5 * time.Second).WithPolling(time.Millisecond).Should(BeFalse())
	return sendErr, recvErr
}

var _ = Describe("Transfer", func() {
	var (
		a, b     *com.Loopback
		sender   *xymodem.Protocol
		receiver *xymodem.Protocol
	)

	setup := func(variant xymodem.Variant, sendCfg, recvCfg *xymodem.Config) {
		a, b = com.NewLoopbackPair()
		sender = xymodem.New(variant, xymodem.WithConfig(sendCfg))
		receiver = xymodem.New(variant, xymodem.WithConfig(recvCfg))
	}

	Context("Round trip", func() {
		for _, variant := range xymodem.Variants {
			for _, size := range []int{4, 128, 255, 256, 2048, 4097, 10240} {
				It(fmt.Sprintf("moves a %d byte %s payload intact", size, variant), func() {
					setup(variant, config(10), config(10))
					data := pattern(size)

					Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{
						xymodem.NewFileDescriptor("data.bin", data),
					})).To(Succeed())
					Expect(receiver.InitiateRecv(b)).To(Succeed())

					sendErr, recvErr := pump(sender, receiver, a, b)
					Expect(sendErr).NotTo(HaveOccurred())
					Expect(recvErr).NotTo(HaveOccurred())

					files := receiver.ReceivedFiles()
					Expect(files).To(HaveLen(1))
					Expect(files[0].Data).To(Equal(data), "size %d", size)
					Expect(files[0].Size).To(Equal(int64(size)))
					if variant.IsBatch() {
						Expect(files[0].Name).To(Equal("data.bin"))
					} else {
						Expect(files[0].Name).To(Equal(xymodem.DefaultConfig().DefaultFileName))
					}
				})
			}
		}
	})

	Context("Empty file", func() {
		DescribeTable("finishes on the first EOT",
			func(variant xymodem.Variant) {
				setup(variant, config(10), config(10))
				Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{
					xymodem.NewFileDescriptor("empty", []byte{}),
				})).To(Succeed())
				Expect(receiver.InitiateRecv(b)).To(Succeed())

				sendErr, recvErr := pump(sender, receiver, a, b)
				Expect(sendErr).NotTo(HaveOccurred())
				Expect(recvErr).NotTo(HaveOccurred())

				Expect(a.Sent()).To(Equal([]byte{xymodem.EOT}))
				Expect(b.Sent()).To(Equal([]byte{'C', xymodem.ACK}))
				files := receiver.ReceivedFiles()
				Expect(files).To(HaveLen(1))
				Expect(files[0].Data).To(BeEmpty())
				Expect(files[0].Size).To(BeZero())
			},
			Entry("XMODEM", xymodem.XModem),
			Entry("XMODEM-1K", xymodem.XModem1K),
			Entry("XMODEM-1K/G", xymodem.XModem1KG),
		)
	})

	Context("Batch", func() {
		DescribeTable("delivers every file in order",
			func(variant xymodem.Variant) {
				setup(variant, config(10), config(10))
				Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{
					xymodem.NewFileDescriptor("foo.bar", []byte{1, 2, 5, 10}),
					xymodem.NewFileDescriptor("baz", []byte{1, 42, 18, 19}),
				})).To(Succeed())
				Expect(receiver.InitiateRecv(b)).To(Succeed())

				sendErr, recvErr := pump(sender, receiver, a, b)
				Expect(sendErr).NotTo(HaveOccurred())
				Expect(recvErr).NotTo(HaveOccurred())

				files := receiver.ReceivedFiles()
				Expect(files).To(HaveLen(2))
				Expect(files[0].Name).To(Equal("foo.bar"))
				Expect(files[0].Size).To(Equal(int64(4)))
				Expect(files[0].Data).To(Equal([]byte{1, 2, 5, 10}))
				Expect(files[1].Name).To(Equal("baz"))
				Expect(files[1].Size).To(Equal(int64(4)))
				Expect(files[1].Data).To(Equal([]byte{1, 42, 18, 19}))

				Expect(receiver.ReceivedFiles()).To(BeEmpty())
			},
			Entry("YMODEM", xymodem.YModem),
			Entry("YMODEM-G", xymodem.YModemG),
		)

		It("keeps an empty file", func() {
			setup(xymodem.YModem, config(10), config(10))
			Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{
				xymodem.NewFileDescriptor("empty", nil),
				xymodem.NewFileDescriptor("one", []byte{xymodem.CPMEOF}),
			})).To(Succeed())
			Expect(receiver.InitiateRecv(b)).To(Succeed())

			sendErr, recvErr := pump(sender, receiver, a, b)
			Expect(sendErr).NotTo(HaveOccurred())
			Expect(recvErr).NotTo(HaveOccurred())

			files := receiver.ReceivedFiles()
			Expect(files).To(HaveLen(2))
			Expect(files[0].Data).To(BeEmpty())
			Expect(files[1].Data).To(Equal([]byte{xymodem.CPMEOF}))
		})

		It("refuses a name too long for the header block", func() {
			setup(xymodem.YModem, config(10), config(10))
			err := sender.InitiateSend(a, []*xymodem.FileDescriptor{
				xymodem.NewFileDescriptor(strings.Repeat("n", 1100), []byte{1}),
			})
			Expect(xymodem.IsProtocolError(err)).To(BeTrue(), "%v", err)
			Expect(sender.IsActive()).To(BeFalse())
		})

		It("refuses several files on a single-file variant", func() {
			setup(xymodem.XModem, config(10), config(10))
			err := sender.InitiateSend(a, []*xymodem.FileDescriptor{
				xymodem.NewFileDescriptor("a", []byte{1}),
				xymodem.NewFileDescriptor("b", []byte{2}),
			})
			Expect(err).To(HaveOccurred())
			Expect(sender.IsActive()).To(BeFalse())
		})
	})

	Context("CRC enforcement", func() {
		DescribeTable("retransmits a block with one flipped byte",
			func(pos int) {
				setup(xymodem.XModem1K, config(10), config(10))
				data := pattern(2048)

				var blocks [][]byte
				a.Corrupt = func(p []byte) []byte {
					if len(p) < 3 {
						return p
					}
					blocks = append(blocks, append([]byte(nil), p...))
					if len(blocks) == 2 {
						p[pos] ^= 0xFF
					}
					return p
				}

				Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{xymodem.NewFileDescriptor("x", data)})).To(Succeed())
				Expect(receiver.InitiateRecv(b)).To(Succeed())

				sendErr, recvErr := pump(sender, receiver, a, b)
				Expect(sendErr).NotTo(HaveOccurred())
				Expect(recvErr).NotTo(HaveOccurred())

				Expect(b.Sent()).To(Equal([]byte{'C', xymodem.ACK, xymodem.NAK, xymodem.ACK, xymodem.ACK}))
				Expect(blocks).To(HaveLen(3))
				Expect(blocks[2]).To(Equal(blocks[1]))
				Expect(receiver.ReceivedFiles()[0].Data).To(Equal(data))
			},
			Entry("start byte", 0),
			Entry("block number", 1),
			Entry("block number complement", 2),
			Entry("first payload byte", 3),
			Entry("middle payload byte", 500),
			Entry("CRC low byte", 1027),
			Entry("CRC high byte", 1028),
		)
	})

	Context("Cancellation", func() {
		corruptAll := func(p []byte) []byte {
			if len(p) > 3 {
				p[3] ^= 0xFF
			}
			return p
		}

		It("cancels from the receiver once its retry bound is hit", func() {
			setup(xymodem.XModem, config(10), config(4))
			a.Corrupt = corruptAll

			Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{xymodem.NewFileDescriptor("x", pattern(300))})).To(Succeed())
			Expect(receiver.InitiateRecv(b)).To(Succeed())

			sendErr, recvErr := pump(sender, receiver, a, b)
			Expect(xymodem.IsTooManyRetries(recvErr)).To(BeTrue(), "%v", recvErr)
			Expect(xymodem.IsCancelled(sendErr)).To(BeTrue(), "%v", sendErr)
			Expect(receiver.IsActive()).To(BeFalse())
			Expect(sender.IsActive()).To(BeFalse())

			Expect(bytes.HasSuffix(b.Sent(), []byte{xymodem.CAN, xymodem.CAN})).To(BeTrue())
			Expect(bytes.Count(b.Sent(), []byte{xymodem.NAK})).To(Equal(3))
			Expect(receiver.ReceivedFiles()).To(BeEmpty())
		})

		It("cancels from the sender once its retry bound is hit", func() {
			setup(xymodem.XModem1K, config(3), config(20))
			a.Corrupt = corruptAll

			Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{xymodem.NewFileDescriptor("x", pattern(3000))})).To(Succeed())
			Expect(receiver.InitiateRecv(b)).To(Succeed())

			sendErr, recvErr := pump(sender, receiver, a, b)
			Expect(xymodem.IsTooManyRetries(sendErr)).To(BeTrue(), "%v", sendErr)
			Expect(xymodem.IsCancelled(recvErr)).To(BeTrue(), "%v", recvErr)
			Expect(bytes.HasSuffix(a.Sent(), []byte{xymodem.CAN, xymodem.CAN})).To(BeTrue())
			Expect(sender.IsActive()).To(BeFalse())
			Expect(receiver.IsActive()).To(BeFalse())
		})

		It("aborts a streaming transfer on the first bad block", func() {
			setup(xymodem.YModemG, config(10), config(10))
			blocks := 0
			a.Corrupt = func(p []byte) []byte {
				if len(p) > 3 {
					blocks++
					if blocks == 2 {
						p[10] ^= 0x01
					}
				}
				return p
			}

			Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{xymodem.NewFileDescriptor("x", pattern(4096))})).To(Succeed())
			Expect(receiver.InitiateRecv(b)).To(Succeed())

			_, recvErr := pump(sender, receiver, a, b)
			Expect(recvErr).To(HaveOccurred())
			Expect(receiver.IsActive()).To(BeFalse())
			Expect(bytes.HasSuffix(b.Sent(), []byte{xymodem.CAN, xymodem.CAN})).To(BeTrue())
			Expect(bytes.Count(b.Sent(), []byte{xymodem.NAK})).To(BeZero())
		})

		It("writes CAN CAN when the host cancels", func() {
			setup(xymodem.YModem, config(10), config(10))
			Expect(receiver.InitiateRecv(b)).To(Succeed())
			b.ResetSent()

			Expect(receiver.Cancel(b)).To(Succeed())
			Expect(receiver.IsActive()).To(BeFalse())
			Expect(b.Sent()).To(Equal([]byte{xymodem.CAN, xymodem.CAN}))
			Expect(receiver.State().CurrentState).To(Equal("Cancelled"))
		})

		It("logs a cancel that cannot be written when the context ends", func() {
			var logs bytes.Buffer
			a, b = com.NewLoopbackPair()
			receiver = xymodem.New(xymodem.XModem,
				xymodem.WithConfig(config(10)),
				xymodem.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
			Expect(receiver.InitiateRecv(b)).To(Succeed())
			Expect(b.Disconnect()).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			Expect(xymodem.IsCancelled(receiver.Run(ctx, b))).To(BeTrue())
			Expect(logs.String()).To(ContainSubstring("Failed to send cancel"))
		})

		It("cancels when the context ends", func() {
			setup(xymodem.XModem, config(10), config(10))
			Expect(receiver.InitiateRecv(b)).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := receiver.Run(ctx, b)
			Expect(xymodem.IsCancelled(err)).To(BeTrue())
			Expect(receiver.IsActive()).To(BeFalse())
		})
	})

	Context("Probing", func() {
		It("re-probes with C, falls back to one NAK, then gives up", func() {
			setup(xymodem.XModem, config(10), config(10))
			Expect(receiver.InitiateRecv(b)).To(Succeed())

			var err error
			for i := 0; i < 5; i++ {
				a.Write([]byte{'?'})
				err = receiver.Update(b)
			}
			Expect(b.Sent()).To(Equal([]byte{'C', 'C', 'C', 'C', xymodem.NAK, xymodem.CAN, xymodem.CAN}))
			Expect(xymodem.IsTooManyRetries(err)).To(BeTrue())
			Expect(receiver.IsActive()).To(BeFalse())
		})

		It("completes in checksum mode after the NAK fallback", func() {
			setup(xymodem.XModem, config(10), config(10))
			Expect(receiver.InitiateRecv(b)).To(Succeed())
			for i := 0; i < 4; i++ {
				a.Write([]byte{'?'})
				Expect(receiver.Update(b)).To(Succeed())
			}
			// The sender finds C C C C NAK queued and must answer the NAK.
			var frames [][]byte
			a.Corrupt = func(p []byte) []byte {
				if len(p) > 3 {
					frames = append(frames, append([]byte(nil), p...))
				}
				return p
			}

			data := pattern(200)
			Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{xymodem.NewFileDescriptor("x", data)})).To(Succeed())
			sendErr, recvErr := pump(sender, receiver, a, b)
			Expect(sendErr).NotTo(HaveOccurred())
			Expect(recvErr).NotTo(HaveOccurred())

			Expect(frames).NotTo(BeEmpty())
			Expect(frames[0]).To(HaveLen(3 + 128 + 1))
			Expect(receiver.ReceivedFiles()[0].Data).To(Equal(data))
		})

		It("times out waiting for the first probe", func() {
			cfg := config(2)
			cfg.Timeout = time.Millisecond
			setup(xymodem.XModem, cfg, cfg)
			Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{xymodem.NewFileDescriptor("x", []byte{1})})).To(Succeed())

			var err error
			Eventually(func() bool {
				err = sender.Update(a)
				return sender.IsActive()
			}).WithTimeout(time.Second).WithPolling(2 * time.Millisecond).Should(BeFalse())
			Expect(xymodem.IsTooManyRetries(err)).To(BeTrue())
		})
	})

	Context("Timeouts", func() {
		It("NAKs a silent sender and cancels once the retries run out", func() {
			recvCfg := config(3)
			recvCfg.Timeout = time.Millisecond
			setup(xymodem.XModem, config(10), recvCfg)

			Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{xymodem.NewFileDescriptor("x", pattern(300))})).To(Succeed())
			Expect(receiver.InitiateRecv(b)).To(Succeed())
			Expect(sender.Update(a)).To(Succeed())
			Expect(receiver.Update(b)).To(Succeed())
			Expect(receiver.Update(b)).To(Succeed())
			Expect(b.Sent()).To(Equal([]byte{'C', xymodem.ACK}))

			// The sender never speaks again.
			var err error
			Eventually(func() bool {
				if e := receiver.Update(b); e != nil {
					err = e
				}
				return receiver.IsActive()
			}).WithTimeout(time.Second).WithPolling(2 * time.Millisecond).Should(BeFalse())

			Expect(xymodem.IsTooManyRetries(err)).To(BeTrue(), "%v", err)
			Expect(b.Sent()).To(Equal([]byte{'C', xymodem.ACK, xymodem.NAK, xymodem.NAK, xymodem.CAN, xymodem.CAN}))
		})

		It("NAKs a stalled partial block and takes the retransmission", func() {
			recvCfg := config(10)
			recvCfg.Timeout = time.Millisecond
			setup(xymodem.XModem, config(10), recvCfg)

			truncated := false
			a.Corrupt = func(p []byte) []byte {
				if len(p) > 3 && !truncated {
					truncated = true
					return p[:50]
				}
				return p
			}

			data := pattern(300)
			Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{xymodem.NewFileDescriptor("x", data)})).To(Succeed())
			Expect(receiver.InitiateRecv(b)).To(Succeed())

			sendErr, recvErr := pumpPaced(sender, receiver, a, b)
			Expect(sendErr).NotTo(HaveOccurred())
			Expect(recvErr).NotTo(HaveOccurred())

			Expect(truncated).To(BeTrue())
			Expect(bytes.Count(b.Sent(), []byte{xymodem.NAK})).To(Equal(1))
			Expect(receiver.ReceivedFiles()[0].Data).To(Equal(data))
		})

		It("retransmits the same block when its ACK is lost", func() {
			sendCfg := config(10)
			sendCfg.Timeout = time.Millisecond
			setup(xymodem.XModem, sendCfg, config(10))

			dropped := false
			b.Corrupt = func(p []byte) []byte {
				if !dropped && len(p) == 1 && p[0] == xymodem.ACK {
					dropped = true
					return nil
				}
				return p
			}
			var frames [][]byte
			a.Corrupt = func(p []byte) []byte {
				if len(p) > 3 {
					frames = append(frames, append([]byte(nil), p...))
				}
				return p
			}

			data := pattern(300)
			Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{xymodem.NewFileDescriptor("x", data)})).To(Succeed())
			Expect(receiver.InitiateRecv(b)).To(Succeed())

			sendErr, recvErr := pumpPaced(sender, receiver, a, b)
			Expect(sendErr).NotTo(HaveOccurred())
			Expect(recvErr).NotTo(HaveOccurred())

			Expect(dropped).To(BeTrue())
			Expect(frames).To(HaveLen(4))
			Expect(frames[1]).To(Equal(frames[0]))
			Expect(receiver.ReceivedFiles()[0].Data).To(Equal(data))
		})
	})

	Context("State", func() {
		It("reports progress and hands files over once", func() {
			var started, completed []string
			cb := &xymodem.Callbacks{
				OnFileStart: func(name string, size int64) { started = append(started, name) },
				OnFileComplete: func(name string, n int64, d time.Duration) {
					completed = append(completed, name)
				},
			}

			a, b = com.NewLoopbackPair()
			sender = xymodem.New(xymodem.YModem, xymodem.WithConfig(config(10)), xymodem.WithCallbacks(cb))
			receiver = xymodem.New(xymodem.YModem, xymodem.WithConfig(config(10)))

			Expect(sender.State().CurrentState).To(Equal("Idle"))
			Expect(sender.InitiateSend(a, []*xymodem.FileDescriptor{
				xymodem.NewFileDescriptor("one", pattern(2000)),
				xymodem.NewFileDescriptor("two", pattern(10)),
			})).To(Succeed())
			Expect(receiver.InitiateRecv(b)).To(Succeed())
			Expect(sender.InitiateSend(a, nil)).To(HaveOccurred())

			Expect(sender.State().SendState.EngineState).To(Equal("AwaitProbe(0)"))
			Expect(receiver.State().RecvState.EngineState).To(Equal("AwaitFirstByte(0)"))

			sendErr, recvErr := pump(sender, receiver, a, b)
			Expect(sendErr).NotTo(HaveOccurred())
			Expect(recvErr).NotTo(HaveOccurred())

			Expect(started).To(Equal([]string{"one", "two"}))
			Expect(completed).To(Equal([]string{"one", "two"}))
			Expect(sender.State().CurrentState).To(Equal("Complete"))
			Expect(receiver.State().RecvState.EngineState).To(Equal("Idle"))
		})
	})
})
