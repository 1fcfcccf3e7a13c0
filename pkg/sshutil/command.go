package sshutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/ssh"
)

// CommandResult holds the result of a command execution.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// SSHCommandRunner executes commands on the remote host.
type SSHCommandRunner struct {
	client *Client
	logger *slog.Logger
}

// CommandRunnerOption is a functional option for configuring the SSHCommandRunner.
type CommandRunnerOption func(*SSHCommandRunner)

// WithCommandLogger sets a custom logger for command execution.
func WithCommandLogger(logger *slog.Logger) CommandRunnerOption {
	return func(cr *SSHCommandRunner) {
		if logger != nil {
			cr.logger = logger
		}
	}
}

// NewSSHCommandRunner creates a new SSH-based command runner.
func NewSSHCommandRunner(client *Client, opts ...CommandRunnerOption) *SSHCommandRunner {
	cr := &SSHCommandRunner{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(cr)
	}
	return cr
}

// Run executes command, connecting first if needed. A non-zero exit is an error.
func (cr *SSHCommandRunner) Run(ctx context.Context, command string) error {
	if err := cr.client.Connect(ctx); err != nil {
		return err
	}

	result, err := cr.RunWithOutput(ctx, command)
	if err != nil {
		return err
	}

	if result.ExitCode != 0 {
		errMsg := strings.TrimSpace(result.Stderr)
		if errMsg == "" {
			errMsg = strings.TrimSpace(result.Stdout)
		}
		return fmt.Errorf("command failed with exit code %d: %s", result.ExitCode, errMsg)
	}
	return nil
}

// RunWithOutput executes command and returns its output and exit code.
// A non-zero exit is reported in the result, not as an error.
func (cr *SSHCommandRunner) RunWithOutput(ctx context.Context, command string) (*CommandResult, error) {
	sshConn, err := cr.client.GetConnection()
	if err != nil {
		return nil, fmt.Errorf("getting SSH connection: %w", err)
	}

	session, err := sshConn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating SSH session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	cr.logger.Debug("executing command", slog.String("command", command))

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	case err := <-done:
		result := &CommandResult{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err != nil {
			code, ok := exitCode(err)
			if !ok {
				return nil, fmt.Errorf("running command: %w", err)
			}
			result.ExitCode = code
		}

		cr.logger.Debug("command completed",
			slog.String("command", command),
			slog.Int("exit_code", result.ExitCode),
		)
		return result, nil
	}
}

// exitCode extracts the remote exit status. ok is false for transport errors.
func exitCode(err error) (int, bool) {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return 1, true
	}
	return 0, false
}
