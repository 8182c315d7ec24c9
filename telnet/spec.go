// Package telnet implements the client side of the Telnet control protocol
// (RFC 854) as far as a BBS client needs it: command parsing, a conservative
// option negotiation policy that only ever agrees to binary transmission, and
// IAC escaping of outbound data.
package telnet

import "fmt"

const (
	SE   byte = 0xF0 // Subnegotiation end
	NOP  byte = 0xF1 // No operation
	DM   byte = 0xF2 // Data mark
	BRK  byte = 0xF3 // Break
	IP   byte = 0xF4 // Interrupt process
	AO   byte = 0xF5 // Abort output
	AYT  byte = 0xF6 // Are you there?
	EC   byte = 0xF7 // Erase character
	EL   byte = 0xF8 // Erase line
	GA   byte = 0xF9 // Go ahead
	SB   byte = 0xFA // Subnegotiation begin
	WILL byte = 0xFB
	WONT byte = 0xFC
	DO   byte = 0xFD
	DONT byte = 0xFE
	IAC  byte = 0xFF // Interpret as command
)

// Option codes as assigned by IANA.
const (
	TransmitBinary                  byte = 0 // RFC 856
	Echo                            byte = 1 // RFC 857
	Reconnection                    byte = 2
	SuppressGoAhead                 byte = 3 // RFC 858
	ApproxMessageSize               byte = 4
	Status                          byte = 5 // RFC 859
	TimingMark                      byte = 6 // RFC 860
	RemoteControlledTransAndEcho    byte = 7
	OutputLineWidth                 byte = 8
	OutputPageSize                  byte = 9
	OutputCarriageReturnDisposition byte = 10
	OutputHorizontalTabStops        byte = 11
	OutputHorizontalTabDisposition  byte = 12
	OutputFormfeedDisposition       byte = 13
	OutputVerticalTabStops          byte = 14
	OutputVerticalTabDisposition    byte = 15
	OutputLinefeedDisposition       byte = 16
	ExtendedASCII                   byte = 17
	Logout                          byte = 18
	ByteMacro                       byte = 19
	DataEntryTerminal               byte = 20
	SUPDUP                          byte = 21
	SUPDUPOutput                    byte = 22
	SendLocation                    byte = 23
	TerminalType                    byte = 24 // RFC 1091
	EndOfRecord                     byte = 25 // RFC 885
	TacacsUserID                    byte = 26 // RFC 927
	OutputMarking                   byte = 27 // RFC 933
	TerminalLocationNumber          byte = 28 // RFC 946
	Telnet3270Regime                byte = 29 // RFC 1041
	X3PAD                           byte = 30 // RFC 1053
	NAWS                            byte = 31 // RFC 1073
	TerminalSpeed                   byte = 32 // RFC 1079
	ToggleFlowControl               byte = 33
	Linemode                        byte = 34 // RFC 1184
	XDisplayLocation                byte = 35
	EnvironmentOption               byte = 36
	Authentication                  byte = 37
	Encrypt                         byte = 38 // RFC 2946
	NewEnviron                      byte = 39 // RFC 1572
	TN3270E                         byte = 40
	XAuth                           byte = 41
	Charset                         byte = 42
	RemoteSerialPort                byte = 43
	ComPortControl                  byte = 44 // RFC 2217
	SuppressLocalEcho               byte = 45
	StartTLS                        byte = 46
	Kermit                          byte = 47
	SendURL                         byte = 48
	ForwardX                        byte = 49
	PragmaLogon                     byte = 138
	SSPILogon                       byte = 139
	PragmaHeartbeat                 byte = 140
	ExtendedOptionsList             byte = 255
)

// CommandNames maps command bytes to their mnemonic.
var CommandNames = map[byte]string{
	SE:   "SE",
	NOP:  "NOP",
	DM:   "DM",
	BRK:  "BRK",
	IP:   "IP",
	AO:   "AO",
	AYT:  "AYT",
	EC:   "EC",
	EL:   "EL",
	GA:   "GA",
	SB:   "SB",
	WILL: "WILL",
	WONT: "WONT",
	DO:   "DO",
	DONT: "DONT",
	IAC:  "IAC",
}

// OptionNames maps every registered option code to its name.
var OptionNames = map[byte]string{
	TransmitBinary:                  "TransmitBinary",
	Echo:                            "Echo",
	Reconnection:                    "Reconnection",
	SuppressGoAhead:                 "SuppressGoAhead",
	ApproxMessageSize:               "ApproxMessageSize",
	Status:                          "Status",
	TimingMark:                      "TimingMark",
	RemoteControlledTransAndEcho:    "RemoteControlledTransAndEcho",
	OutputLineWidth:                 "OutputLineWidth",
	OutputPageSize:                  "OutputPageSize",
	OutputCarriageReturnDisposition: "OutputCarriageReturnDisposition",
	OutputHorizontalTabStops:        "OutputHorizontalTabStops",
	OutputHorizontalTabDisposition:  "OutputHorizontalTabDisposition",
	OutputFormfeedDisposition:       "OutputFormfeedDisposition",
	OutputVerticalTabStops:          "OutputVerticalTabStops",
	OutputVerticalTabDisposition:    "OutputVerticalTabDisposition",
	OutputLinefeedDisposition:       "OutputLinefeedDisposition",
	ExtendedASCII:                   "ExtendedASCII",
	Logout:                          "Logout",
	ByteMacro:                       "ByteMacro",
	DataEntryTerminal:               "DataEntryTerminal",
	SUPDUP:                          "SUPDUP",
	SUPDUPOutput:                    "SUPDUPOutput",
	SendLocation:                    "SendLocation",
	TerminalType:                    "TerminalType",
	EndOfRecord:                     "EndOfRecord",
	TacacsUserID:                    "TacacsUserID",
	OutputMarking:                   "OutputMarking",
	TerminalLocationNumber:          "TerminalLocationNumber",
	Telnet3270Regime:                "Telnet3270Regime",
	X3PAD:                           "X3PAD",
	NAWS:                            "NAWS",
	TerminalSpeed:                   "TerminalSpeed",
	ToggleFlowControl:               "ToggleFlowControl",
	Linemode:                        "Linemode",
	XDisplayLocation:                "XDisplayLocation",
	EnvironmentOption:               "EnvironmentOption",
	Authentication:                  "Authentication",
	Encrypt:                         "Encrypt",
	NewEnviron:                      "NewEnviron",
	TN3270E:                         "TN3270E",
	XAuth:                           "XAuth",
	Charset:                         "Charset",
	RemoteSerialPort:                "RemoteSerialPort",
	ComPortControl:                  "ComPortControl",
	SuppressLocalEcho:               "SuppressLocalEcho",
	StartTLS:                        "StartTLS",
	Kermit:                          "Kermit",
	SendURL:                         "SendURL",
	ForwardX:                        "ForwardX",
	PragmaLogon:                     "PragmaLogon",
	SSPILogon:                       "SSPILogon",
	PragmaHeartbeat:                 "PragmaHeartbeat",
	ExtendedOptionsList:             "ExtendedOptionsList",
}

// IsKnownOption reports whether opt is a registered option code.
func IsKnownOption(opt byte) bool {
	_, ok := OptionNames[opt]
	return ok
}

func commandName(cmd byte) string {
	if name, ok := CommandNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", cmd)
}

func optionName(opt byte) string {
	if name, ok := OptionNames[opt]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", opt)
}
