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

const DefaultShell = "/bin/bash"

var _ Transport = (*LocalTransport)(nil)

// LocalTransport runs the session body with "<shell> -c".
type LocalTransport struct {
	Shell string
}

func NewLocalTransport(shell string) *LocalTransport {
	if shell == "" {
		shell = DefaultShell
	}
	return &LocalTransport{Shell: shell}
}

func (l *LocalTransport) Exec(ctx context.Context, s Session) (Output, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.Shell, "-c", s.Script)
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
		return out, nil
	}
	return out, &errs.ExecutionError{Node: s.Node, Reason: fmt.Sprintf("start %s: %v", l.Shell, err)}
}
