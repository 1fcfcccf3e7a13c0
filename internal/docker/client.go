// Package docker provides the Docker API client used to signal the resolver
// container after a zone file is published.
package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// DefaultSignal is sent when no signal is configured. BIND and Unbound
// reload their zones on SIGHUP.
const DefaultSignal = "SIGHUP"

// ErrNoContainer is returned when no container name or ID was given.
var ErrNoContainer = errors.New("container name is required")

// API is the subset of the Docker SDK client used here.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	Close() error
}

// Client wraps the Docker SDK client.
type Client struct {
	api    API
	host   string
	logger *slog.Logger
}

// NewClient creates a Docker client. Without WithHost the DOCKER_HOST
// environment (or the default socket) is used.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.api != nil {
		return c, nil
	}

	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if c.host != "" {
		clientOpts = append(clientOpts, client.WithHost(c.host))
	}
	raw, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	c.api = raw
	return c, nil
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return fmt.Errorf("pinging docker daemon: %w", err)
	}
	return nil
}

// Signal sends signal to container. An empty signal means DefaultSignal.
func (c *Client) Signal(ctx context.Context, container, signal string) error {
	container = normalizeContainerName(container)
	if container == "" {
		return ErrNoContainer
	}
	if signal == "" {
		signal = DefaultSignal
	}

	c.logger.Debug("signalling container",
		slog.String("container", container),
		slog.String("signal", signal),
	)
	if err := c.api.ContainerKill(ctx, container, signal); err != nil {
		return fmt.Errorf("sending %s to container %s: %w", signal, container, err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.api.Close()
}

// normalizeContainerName strips the leading slash Docker puts on names.
func normalizeContainerName(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "/")
}
