package reload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	commands []string
	err      error
}

func (r *recordingRunner) Run(_ context.Context, command string) error {
	r.commands = append(r.commands, command)
	return r.err
}

type recordingSignaler struct {
	calls [][2]string
	err   error
}

func (s *recordingSignaler) Signal(_ context.Context, container, signal string) error {
	s.calls = append(s.calls, [2]string{container, signal})
	return s.err
}

func TestLocalRunner(t *testing.T) {
	r := LocalRunner{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, r.Run(context.Background(), "true"))

	err := r.Run(context.Background(), "echo no such zone >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such zone")
}

func TestCommand(t *testing.T) {
	runner := &recordingRunner{}
	c := NewCommand(runner, "rndc reload rpz", "ns1")

	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, []string{"rndc reload rpz"}, runner.commands)
	assert.Equal(t, `command "rndc reload rpz" on ns1`, c.String())

	runner.err = errors.New("exit 1")
	err := c.Reload(context.Background())
	assert.ErrorIs(t, err, runner.err)
	assert.Contains(t, err.Error(), "ns1")
}

func TestContainer(t *testing.T) {
	sig := &recordingSignaler{}
	c := NewContainer(sig, "bind9", "SIGHUP")

	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, [][2]string{{"bind9", "SIGHUP"}}, sig.calls)
	assert.Equal(t, "SIGHUP to container bind9", c.String())
	assert.Equal(t, "default signal to container x", NewContainer(sig, "x", "").String())
}

func TestChain_StopsAtFirstFailure(t *testing.T) {
	failing := &recordingRunner{err: errors.New("boom")}
	after := &recordingSignaler{}

	chain := Chain{NewCommand(failing, "rndc reload", "local"), NewContainer(after, "bind9", "")}

	err := chain.Reload(context.Background())
	assert.ErrorIs(t, err, failing.err)
	assert.Empty(t, after.calls)

	failing.err = nil
	require.NoError(t, chain.Reload(context.Background()))
	assert.Len(t, after.calls, 1)
	assert.Equal(t, `command "rndc reload" on local, default signal to container bind9`, chain.String())
}
