package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// ErrNotConnected is returned when a command is issued before Connect or after Close.
var ErrNotConnected = errors.New("not connected")

// Config represents SSH connection configuration
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	KeyPath        string        `yaml:"key_path"`
	Password       string        `yaml:"password,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Client wraps an SSH connection. Close may be called from any goroutine and
// aborts every session still running on the connection.
type Client struct {
	config *Config

	mu     sync.Mutex
	client *ssh.Client
}

// Result represents the result of a remote command execution
type Result struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// NewClient creates a new SSH client
func NewClient(config *Config) *Client {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}

	return &Client{
		config: config,
	}
}

// Connect establishes an SSH connection
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	connected := c.client != nil
	c.mu.Unlock()
	if connected {
		return nil
	}

	var authMethods []ssh.AuthMethod

	if c.config.KeyPath != "" {
		key, err := c.loadPrivateKey(c.config.KeyPath)
		if err != nil {
			return fmt.Errorf("failed to load private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(key))
	}

	if c.config.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.config.Password))
	}

	if len(authMethods) == 0 {
		return fmt.Errorf("no authentication method provided")
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // nodes are operator-provided build machines
		Timeout:         c.config.ConnectTimeout,
	}

	address := net.JoinHostPort(c.config.Host, fmt.Sprintf("%d", c.config.Port))

	conn, err := c.dialWithContext(ctx, "tcp", address, sshConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	c.mu.Lock()
	c.client = conn
	c.mu.Unlock()
	return nil
}

// Run executes command and returns its combined output. A non-zero exit
// status is reported in Result.ExitCode, not as an error.
func (c *Client) Run(ctx context.Context, command string) (*Result, error) {
	var buf bytes.Buffer
	code, err := c.run(ctx, command, nil, &syncWriter{w: &buf})
	if err != nil {
		return nil, err
	}
	return &Result{Output: buf.String(), ExitCode: code}, nil
}

// Stream executes command and hands each chunk of combined output to onChunk
// as it arrives. The full output is returned once the command exits.
func (c *Client) Stream(ctx context.Context, command string, onChunk func([]byte)) (*Result, error) {
	var buf bytes.Buffer
	w := &syncWriter{w: &buf, onChunk: onChunk}
	code, err := c.run(ctx, command, nil, w)
	if err != nil {
		return nil, err
	}
	return &Result{Output: buf.String(), ExitCode: code}, nil
}

// Upload writes data to remotePath on the host.
func (c *Client) Upload(ctx context.Context, data []byte, remotePath string) error {
	var buf bytes.Buffer
	command := fmt.Sprintf("cat > %s", quote(remotePath))
	code, err := c.run(ctx, command, bytes.NewReader(data), &syncWriter{w: &buf})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("upload to %s failed with exit code %d: %s", remotePath, code, strings.TrimSpace(buf.String()))
	}
	return nil
}

// Download reads remotePath from the host.
func (c *Client) Download(ctx context.Context, remotePath string) ([]byte, error) {
	result, err := c.Run(ctx, fmt.Sprintf("cat %s", quote(remotePath)))
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("download of %s failed with exit code %d", remotePath, result.ExitCode)
	}
	return []byte(result.Output), nil
}

func (c *Client) run(ctx context.Context, command string, stdin *bytes.Reader, out *syncWriter) (int, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return 0, ErrNotConnected
	}

	session, err := client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	session.Stdout = out
	session.Stderr = out
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return 0, fmt.Errorf("command failed: %w", err)
	case <-ctx.Done():
		// Closing the session terminates the remote command
		session.Close()
		return 0, fmt.Errorf("command cancelled: %w", ctx.Err())
	}
}

// Config returns the SSH configuration
func (c *Client) Config() *Config {
	return c.config
}

// Close closes the SSH connection
func (c *Client) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// loadPrivateKey loads a private key from file
func (c *Client) loadPrivateKey(keyPath string) (ssh.Signer, error) {
	if strings.HasPrefix(keyPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		keyPath = filepath.Join(home, keyPath[1:])
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	return ssh.ParsePrivateKey(keyData)
}

// dialWithContext provides context-aware dialing
func (c *Client) dialWithContext(ctx context.Context, network, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := &net.Dialer{
		Timeout: config.Timeout,
	}

	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// syncWriter serializes writes from the session's stdout and stderr copiers.
type syncWriter struct {
	mu      sync.Mutex
	w       *bytes.Buffer
	onChunk func([]byte)
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.w.Write(p)
	if s.onChunk != nil && n > 0 {
		chunk := make([]byte, n)
		copy(chunk, p[:n])
		s.onChunk(chunk)
	}
	return n, err
}

func quote(path string) string {
	if strings.HasPrefix(path, "~/") {
		return `"$HOME"/` + "'" + strings.ReplaceAll(path[2:], "'", `'\''`) + "'"
	}
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}
