package com

import (
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds the parameters for an SSH shell channel.
type SSHConfig struct {
	User       string
	Password   string
	KeyFile    string
	KnownHosts string // empty disables host key verification
	Timeout    time.Duration

	// Terminal requested for the remote shell.
	Term   string
	Width  int
	Height int
}

// SSH is a Channel backed by an interactive shell on an SSH server.
type SSH struct {
	*Stream

	config  SSHConfig
	logger  *slog.Logger
	client  *ssh.Client
	session *ssh.Session
}

// NewSSH creates an unconnected SSH channel.
func NewSSH(config SSHConfig, logger *slog.Logger) *SSH {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Term == "" {
		config.Term = "ansi"
	}
	if config.Width == 0 || config.Height == 0 {
		config.Width, config.Height = 80, 25
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &SSH{config: config, logger: logger}
}

func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if s.config.KeyFile != "" {
		pem, err := os.ReadFile(s.config.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "read ssh key")
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, errors.Wrap(err, "parse ssh key")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.config.Password != "" {
		auth = append(auth, ssh.Password(s.config.Password))
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if s.config.KnownHosts != "" {
		cb, err := knownhosts.New(s.config.KnownHosts)
		if err != nil {
			return nil, errors.Wrap(err, "load known hosts")
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            s.config.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         s.config.Timeout,
	}, nil
}

// Connect dials address, opens a session, requests a PTY and starts a shell.
func (s *SSH) Connect(ctx context.Context, address string) error {
	cfg, err := s.clientConfig()
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return errors.Wrapf(err, "dial %s", address)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, address, cfg)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "ssh handshake")
	}
	s.client = ssh.NewClient(c, chans, reqs)

	session, err := s.client.NewSession()
	if err != nil {
		s.client.Close()
		return errors.Wrap(err, "ssh session")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		s.client.Close()
		return errors.Wrap(err, "ssh stdin")
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		s.client.Close()
		return errors.Wrap(err, "ssh stdout")
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(s.config.Term, s.config.Height, s.config.Width, modes); err != nil {
		session.Close()
		s.client.Close()
		return errors.Wrap(err, "request pty")
	}
	if err := session.Shell(); err != nil {
		session.Close()
		s.client.Close()
		return errors.Wrap(err, "start shell")
	}

	s.session = session
	s.Stream = NewStream(stdout, stdin, session)
	s.logger.Info("SSH connected", "address", address, "user", s.config.User)
	return s.Stream.Connect(ctx, address)
}

// Resize forwards a local terminal size change to the remote PTY.
func (s *SSH) Resize(width, height int) error {
	if s.session == nil {
		return errNotConnected
	}
	return s.session.WindowChange(height, width)
}

func (s *SSH) Write(p []byte) (int, error) {
	if s.Stream == nil {
		return 0, errNotConnected
	}
	return s.Stream.Write(p)
}

func (s *SSH) ReadByte(timeout time.Duration) (byte, error) {
	if s.Stream == nil {
		return 0, errNotConnected
	}
	return s.Stream.ReadByte(timeout)
}

func (s *SSH) ReadByteNonBlocking() (byte, error) {
	if s.Stream == nil {
		return 0, errNotConnected
	}
	return s.Stream.ReadByteNonBlocking()
}

func (s *SSH) ReadExact(timeout time.Duration, n int) ([]byte, error) {
	if s.Stream == nil {
		return nil, errNotConnected
	}
	return s.Stream.ReadExact(timeout, n)
}

func (s *SSH) IsDataAvailable() (bool, error) {
	if s.Stream == nil {
		return false, errNotConnected
	}
	return s.Stream.IsDataAvailable()
}

func (s *SSH) DiscardBuffer() error {
	if s.Stream == nil {
		return nil
	}
	return s.Stream.DiscardBuffer()
}

// Disconnect closes the session and the client connection.
func (s *SSH) Disconnect() error {
	if s.client == nil {
		return nil
	}
	if s.Stream != nil {
		s.Stream.Disconnect()
	}
	err := s.client.Close()
	s.client, s.session, s.Stream = nil, nil, nil
	return err
}
