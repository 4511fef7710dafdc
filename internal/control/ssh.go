// Package control runs the post-boot configuration commands on the
// instance. Sessions are scoped resources: dialed for one configuration
// step, closed on every exit path before the next step begins.
package control

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"saltboot/internal/logging"
	"saltboot/internal/retry"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Executor is the remote-execution capability the orchestrator consumes.
type Executor interface {
	// Run executes a command on the remote host and returns its
	// separated stdout and stderr.
	Run(command string) (stdout, stderr string, err error)

	// Upload writes the stream to a file on the remote host.
	Upload(r io.Reader, remotePath string) error

	// Close releases the connection
	Close() error
}

// Config holds connection parameters for one configuration step.
type Config struct {
	Host         string
	User         string
	Password     string
	ConnectLimit time.Duration // wall-clock budget for establishing the connection
	DialTimeout  time.Duration // per-attempt TCP/handshake timeout
	InstanceName string
}

// SSH implements Executor over an SSH connection with an SFTP channel.
type SSH struct {
	client       *ssh.Client
	sftpClient   *sftp.Client
	host         string
	instanceName string
}

// escapeNewlines escapes newline characters for proper log formatting
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// safeClose safely closes a resource and logs any errors
func safeClose(name string, closer func() error) {
	if err := closer(); err != nil {
		logging.Logger().Warn("failed to close resource",
			zap.String("resource", name),
			zap.Error(err))
	}
}

// Dial opens a connection to the instance, retrying within
// Config.ConnectLimit. A freshly provisioned guest refuses connections
// until sshd comes up, so each failed attempt is expected early on.
func Dial(config Config) (*SSH, error) {
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}

	clientConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(config.Password),
		},
		// A brand-new instance has no prior trust anchor to verify
		// its host key against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         config.DialTimeout,
	}

	var client *ssh.Client
	err := retry.Until(config.ConnectLimit, "SSH connect", func() bool {
		var dialErr error
		client, dialErr = ssh.Dial("tcp", net.JoinHostPort(config.Host, "22"), clientConfig)
		if dialErr != nil {
			logging.Logger().Debug("SSH connection attempt failed",
				zap.String("host", config.Host),
				zap.String("instance_name", config.InstanceName),
				zap.Error(dialErr))
			return false
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("SSH not available within %s: %w", config.ConnectLimit, err)
	}

	logging.Logger().Info("SSH connection established",
		zap.String("user", config.User),
		zap.String("host", config.Host),
		zap.String("instance_name", config.InstanceName))

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		safeClose("SSH client", client.Close)
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &SSH{
		client:       client,
		sftpClient:   sftpClient,
		host:         config.Host,
		instanceName: config.InstanceName,
	}, nil
}

// Close closes the SFTP and SSH connections
func (s *SSH) Close() error {
	if s.sftpClient != nil {
		safeClose("SFTP client", s.sftpClient.Close)
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Run executes a command on the remote host
func (s *SSH) Run(command string) (string, string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to create session: %w", err)
	}
	defer safeClose("SSH session", session.Close)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	logging.Logger().Debug("Executing command",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName))

	err = session.Run(command)

	stdoutStr := stdout.String()
	stderrStr := stderr.String()

	logging.Logger().Info("Command executed",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName),
		zap.String("stdout", escapeNewlines(logging.Truncate(stdoutStr))),
		zap.String("stderr", escapeNewlines(logging.Truncate(stderrStr))),
		zap.Bool("success", err == nil))

	if err != nil {
		return stdoutStr, stderrStr, fmt.Errorf("command failed on %s: %w", s.host, err)
	}
	return stdoutStr, stderrStr, nil
}

// Upload writes the stream to a file on the remote host via SFTP.
func (s *SSH) Upload(r io.Reader, remotePath string) error {
	remoteFile, err := s.sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer safeClose("remote file", remoteFile.Close)

	written, err := io.Copy(remoteFile, r)
	if err != nil {
		return fmt.Errorf("failed to upload to %s: %w", remotePath, err)
	}

	logging.Logger().Info("File uploaded",
		zap.String("remote_path", remotePath),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName),
		zap.Int64("size_bytes", written))

	return nil
}
