package telnet

import (
	"fmt"
	"io"
	"log/slog"
)

type parserState int

const (
	stateData parserState = iota
	stateIac
	stateWill
	stateWont
	stateDo
	stateDont
	stateSb
	stateSbIac
)

var stateCommands = map[parserState]byte{
	stateWill: WILL,
	stateWont: WONT,
	stateDo:   DO,
	stateDont: DONT,
}

// NegotiationError is returned in strict mode when the peer negotiates an
// option code that is not registered.
type NegotiationError struct {
	Command byte
	Option  byte
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("telnet: unsupported negotiation %s %d", commandName(e.Command), e.Option)
}

// Parser separates Telnet commands from application data and answers option
// negotiation. Its state survives across Feed calls, so a command split over
// two reads is handled correctly.
type Parser struct {
	state  parserState
	replyW io.Writer
	logger *slog.Logger
	strict bool
}

// NewParser returns a parser in the data state. Replies are written raw to w.
func NewParser(w io.Writer, logger *slog.Logger, strict bool) *Parser {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Parser{replyW: w, logger: logger, strict: strict}
}

// Feed parses data and appends the application bytes it carries to out.
// The returned slice holds everything appended so far even when an error is
// returned.
func (p *Parser) Feed(data []byte, out []byte) ([]byte, error) {
	for _, b := range data {
		switch p.state {
		case stateData:
			if b == IAC {
				p.state = stateIac
			} else {
				out = append(out, b)
			}

		case stateIac:
			p.state = stateData
			switch b {
			case IAC:
				out = append(out, IAC)
			case AYT:
				p.logger.Debug("Telnet command [IN]", "cmd", "AYT")
				if err := p.reply(NOP); err != nil {
					return out, err
				}
			case SE, NOP, GA:
			case WILL:
				p.state = stateWill
			case WONT:
				p.state = stateWont
			case DO:
				p.state = stateDo
			case DONT:
				p.state = stateDont
			case SB:
				p.state = stateSb
			default:
				p.logger.Debug("Telnet command ignored", "cmd", commandName(b))
			}

		case stateWill, stateWont, stateDo, stateDont:
			cmd := stateCommands[p.state]
			p.state = stateData
			if err := p.negotiate(cmd, b); err != nil {
				return out, err
			}

		case stateSb:
			if b == IAC {
				p.state = stateSbIac
			}

		case stateSbIac:
			if b == SE {
				p.state = stateData
			} else {
				p.state = stateSb
			}
		}
	}
	return out, nil
}

func (p *Parser) negotiate(cmd, opt byte) error {
	p.logger.Debug("Telnet command [IN]", "cmd", commandName(cmd), "opt", optionName(opt))

	if !IsKnownOption(opt) {
		if p.strict {
			return &NegotiationError{Command: cmd, Option: opt}
		}
		p.logger.Warn("Telnet unknown option", "cmd", commandName(cmd), "opt", opt)
	}

	switch cmd {
	case WILL:
		if opt == TransmitBinary {
			return p.reply(DO, opt)
		}
		return p.reply(DONT, opt)
	case DO:
		if opt == TransmitBinary {
			return p.reply(WILL, opt)
		}
		return p.reply(WONT, opt)
	}
	return nil
}

func (p *Parser) reply(cmd ...byte) error {
	if len(cmd) > 1 {
		p.logger.Debug("Telnet command [OUT]", "cmd", commandName(cmd[0]), "opt", optionName(cmd[1]))
	} else {
		p.logger.Debug("Telnet command [OUT]", "cmd", commandName(cmd[0]))
	}
	_, err := p.replyW.Write(append([]byte{IAC}, cmd...))
	return err
}
