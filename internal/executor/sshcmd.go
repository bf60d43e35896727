package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/andrej220/storops/internal/errs"
)

// sshTransportFailure is the status the ssh client reserves for its own errors.
const sshTransportFailure = 255

// DefaultSSHArgs delegate GSSAPI credentials (-K), disable X11 (-x) and
// forbid password prompts.
var DefaultSSHArgs = []string{"-K", "-x", "-o", "BatchMode=yes"}

var _ Transport = (*SSHCommandTransport)(nil)

// SSHCommandTransport shells out to the system ssh client, so the user's
// ssh configuration and Kerberos tickets apply unchanged.
type SSHCommandTransport struct {
	Binary string
	Args   []string
}

func NewSSHCommandTransport(binary string, args []string) *SSHCommandTransport {
	if binary == "" {
		binary = "ssh"
	}
	if args == nil {
		args = DefaultSSHArgs
	}
	return &SSHCommandTransport{Binary: binary, Args: args}
}

// CommandLine returns the argv used for a session.
func (t *SSHCommandTransport) CommandLine(s Session) []string {
	argv := make([]string, 0, len(t.Args)+3)
	argv = append(argv, t.Binary)
	argv = append(argv, t.Args...)
	return append(argv, target(s), s.Script)
}

func (t *SSHCommandTransport) Exec(ctx context.Context, s Session) (Output, error) {
	argv := t.CommandLine(s)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		if out.ExitCode == sshTransportFailure {
			return out, &errs.TransportError{
				Node:   s.Node,
				Stderr: stderr.String(),
				Err:    fmt.Errorf("%s exited with status %d", t.Binary, sshTransportFailure),
			}
		}
		return out, nil
	}
	return out, &errs.TransportError{Node: s.Node, Err: err}
}

func target(s Session) string {
	if s.User == "" {
		return s.Node
	}
	return s.User + "@" + s.Node
}
