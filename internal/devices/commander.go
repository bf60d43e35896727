// Package devices enumerates tape drives and changers and resolves the
// drive descriptors the tape daemons are configured with.
package devices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andrej220/storops/internal/executor"
	"github.com/andrej220/storops/internal/lg"
)

// DefaultCommandTimeout bounds every adapter command.
const DefaultCommandTimeout = 60 * time.Second

// Commander runs one shell command and returns its trimmed stdout.
type Commander interface {
	Output(ctx context.Context, command string) (string, error)
}

// TransportCommander runs commands through an executor transport, on the
// local host or on a helper node such as the Spectra SSA server.
type TransportCommander struct {
	Transport executor.Transport
	Node      string
	User      string
	Timeout   time.Duration
	Log       lg.Logger
}

// Local returns a Commander running on this host through shell.
func Local(shell string, timeout time.Duration, log lg.Logger) *TransportCommander {
	return &TransportCommander{Transport: executor.NewLocalTransport(shell), Node: "localhost", Timeout: timeout, Log: log}
}

func (c *TransportCommander) Output(ctx context.Context, command string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := c.Log
	if log == nil {
		log = lg.Discard
	}
	log.Debug("running command", lg.String("node", c.Node), lg.String("command", command))

	out, err := c.Transport.Exec(ctx, executor.Session{Node: c.Node, User: c.User, Script: command})
	if ctx.Err() != nil {
		return "", fmt.Errorf("%s: did not complete within %s", command, timeout)
	}
	if err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		return "", fmt.Errorf("%s: exit status %d: %s", command, out.ExitCode, strings.TrimSpace(string(out.Stderr)))
	}
	resp := strings.TrimSpace(string(out.Stdout))
	log.Debug("command response", lg.String("response", resp))
	return resp, nil
}
