// Package reload tells the resolver to pick up a freshly published zone
// file. A reload can run a local shell command, a command on the resolver
// host over SSH, or signal the resolver's Docker container.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Reloader triggers a resolver reload.
type Reloader interface {
	Reload(ctx context.Context) error
	String() string
}

// CommandRunner executes a shell command. *sshutil.SSHCommandRunner and
// LocalRunner implement it.
type CommandRunner interface {
	Run(ctx context.Context, command string) error
}

// LocalRunner runs commands through sh -c on this host.
type LocalRunner struct {
	Logger *slog.Logger
}

// Run executes command and includes its combined output in any error.
func (r LocalRunner) Run(ctx context.Context, command string) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("executing command", slog.String("command", command))

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command failed: %w, output: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Command reloads by running a command.
type Command struct {
	runner  CommandRunner
	command string
	where   string
}

// NewCommand returns a Reloader that runs command with runner. where names
// the host for logs ("local" or the SSH host).
func NewCommand(runner CommandRunner, command, where string) *Command {
	return &Command{runner: runner, command: command, where: where}
}

// Reload runs the command.
func (c *Command) Reload(ctx context.Context) error {
	if err := c.runner.Run(ctx, c.command); err != nil {
		return fmt.Errorf("reload command on %s: %w", c.where, err)
	}
	return nil
}

func (c *Command) String() string {
	return fmt.Sprintf("command %q on %s", c.command, c.where)
}

// Signaler delivers a signal to a container. *docker.Client implements it.
type Signaler interface {
	Signal(ctx context.Context, container, signal string) error
}

// Container reloads by signalling a container.
type Container struct {
	signaler  Signaler
	container string
	signal    string
}

// NewContainer returns a Reloader that sends signal to container.
func NewContainer(signaler Signaler, container, signal string) *Container {
	return &Container{signaler: signaler, container: container, signal: signal}
}

// Reload sends the signal.
func (c *Container) Reload(ctx context.Context) error {
	return c.signaler.Signal(ctx, c.container, c.signal)
}

func (c *Container) String() string {
	sig := c.signal
	if sig == "" {
		sig = "default signal"
	}
	return fmt.Sprintf("%s to container %s", sig, c.container)
}

// Chain runs each Reloader in order and stops at the first failure.
type Chain []Reloader

// Reload runs every reloader.
func (c Chain) Reload(ctx context.Context) error {
	for _, r := range c {
		if err := r.Reload(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, r := range c {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}
