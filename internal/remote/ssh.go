package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	KnownHostsPath string        `yaml:"known_hosts_path"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	UploadTimeout  time.Duration `yaml:"upload_timeout"`
}

func (c SSHConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SSHChannel opens one ssh connection per command.
type SSHChannel struct {
	cfg SSHConfig
	log zerolog.Logger
}

func NewSSHChannel(cfg SSHConfig, log zerolog.Logger) *SSHChannel {
	return &SSHChannel{cfg: cfg, log: log}
}

func (c *SSHChannel) clientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(c.cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(c.cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}
	return &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.cfg.DialTimeout,
	}, nil
}

func (c *SSHChannel) dial(ctx context.Context) (*ssh.Client, error) {
	if c.cfg.Host == "" {
		return nil, &ConnectionError{Host: "<unset>", Err: errors.New("remote host not configured")}
	}
	cfg, err := c.clientConfig()
	if err != nil {
		return nil, &ConnectionError{Host: c.cfg.Host, Err: err}
	}
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.addr())
	if err != nil {
		return nil, &ConnectionError{Host: c.cfg.Host, Err: err}
	}
	if c.cfg.DialTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.DialTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.cfg.addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Host: c.cfg.Host, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// run opens a session, wires it up with prepare and runs command within timeout.
func (c *SSHChannel) run(ctx context.Context, timeout time.Duration, command string, prepare func(*ssh.Session)) (*CommandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, &ConnectionError{Host: c.cfg.Host, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if prepare != nil {
		prepare(session)
	}

	c.log.Debug().Str("host", c.cfg.Host).Str("command", command).Msg("executing remote command")

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		return nil, &ConnectionError{Host: c.cfg.Host, Err: fmt.Errorf("command %q: %w", command, ctx.Err())}
	case err := <-done:
		res := &CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, &CommandError{Command: command, ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		return nil, &ConnectionError{Host: c.cfg.Host, Err: err}
	}
}

// Execute implements Channel.
func (c *SSHChannel) Execute(ctx context.Context, command string) (*CommandResult, error) {
	return c.run(ctx, c.cfg.CommandTimeout, command, nil)
}

// Upload streams the file through `cat` on the remote side.
func (c *SSHChannel) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = c.run(ctx, c.cfg.UploadTimeout, "cat > "+quote(remotePath), func(s *ssh.Session) {
		s.Stdin = f
	})
	return err
}
