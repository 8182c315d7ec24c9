// Package xymodem implements the XMODEM family of file transfer protocols
// (XMODEM, XMODEM-1K, XMODEM-1K/G, YMODEM and YMODEM-G) as two polled state
// machines, a sender and a receiver, that run over any com.Channel.
//
// Neither engine owns a goroutine. The host calls Update once per tick and the
// engine performs at most one unit of work before returning.
package xymodem

import (
	"fmt"
	"strings"
)

// Control bytes.
const (
	SOH    byte = 0x01 // 128 byte block
	STX    byte = 0x02 // 1024 byte block
	EOT    byte = 0x04
	ACK    byte = 0x06
	NAK    byte = 0x15
	CAN    byte = 0x18
	CPMEOF byte = 0x1A // padding after the last data byte
)

// Probe bytes sent by the receiver.
const (
	ProbeCRC    byte = 'C'
	ProbeStream byte = 'G'
)

const (
	shortBlock = 128
	longBlock  = 1024
)

// Variant selects one member of the protocol family.
type Variant int

const (
	XModem Variant = iota
	XModem1K
	XModem1KG
	YModem
	YModemG
)

// Variants lists every supported variant.
var Variants = []Variant{XModem, XModem1K, XModem1KG, YModem, YModemG}

type variantParams struct {
	name      string
	blockLen  int
	batch     bool
	streaming bool
}

var variantTable = map[Variant]variantParams{
	XModem:    {"XMODEM", shortBlock, false, false},
	XModem1K:  {"XMODEM-1K", longBlock, false, false},
	XModem1KG: {"XMODEM-1K/G", longBlock, false, true},
	YModem:    {"YMODEM", longBlock, true, false},
	YModemG:   {"YMODEM-G", longBlock, true, true},
}

// BlockLength is the payload length of a full data block.
func (v Variant) BlockLength() int { return variantTable[v].blockLen }

// IsBatch reports whether files are preceded by a YMODEM header block.
func (v Variant) IsBatch() bool { return variantTable[v].batch }

// IsStreaming reports whether blocks are sent without per-block ACK.
func (v Variant) IsStreaming() bool { return variantTable[v].streaming }

func (v Variant) String() string {
	if p, ok := variantTable[v]; ok {
		return p.name
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// ParseVariant accepts the display name or a lowercase form such as
// "xmodem-1k-g" or "ymodemg".
func ParseVariant(s string) (Variant, error) {
	key := strings.NewReplacer("-", "", "/", "", "_", "", " ", "").Replace(strings.ToLower(s))
	switch key {
	case "xmodem", "x":
		return XModem, nil
	case "xmodem1k", "1k":
		return XModem1K, nil
	case "xmodem1kg", "1kg":
		return XModem1KG, nil
	case "ymodem", "y":
		return YModem, nil
	case "ymodemg", "g":
		return YModemG, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// VariantFor maps the classic rz/sz style switches onto a variant. Streaming
// always implies 1K blocks; batch wins over plain XMODEM.
func VariantFor(batch, long, streaming bool) Variant {
	switch {
	case batch && streaming:
		return YModemG
	case batch:
		return YModem
	case streaming:
		return XModem1KG
	case long:
		return XModem1K
	}
	return XModem
}

// ChecksumMode is the per-block integrity check negotiated by the probe.
type ChecksumMode int

const (
	ModeChecksum ChecksumMode = iota // 8 bit arithmetic sum
	ModeCRC16
)

// Size returns the number of trailer bytes the mode adds to a block.
func (m ChecksumMode) Size() int {
	if m == ModeCRC16 {
		return 2
	}
	return 1
}

func (m ChecksumMode) String() string {
	if m == ModeCRC16 {
		return "CRC16"
	}
	return "checksum"
}
