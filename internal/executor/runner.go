// Package executor runs ordered command sequences as one shell session on
// the local host or on a remote node.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andrej220/storops/internal/errs"
	"github.com/andrej220/storops/internal/lg"
	"github.com/andrej220/storops/internal/settings"
)

// Separator joins the statements of one session body.
const Separator = "; "

// DefaultSessionTimeout bounds every session unless configured otherwise.
const DefaultSessionTimeout = 10 * time.Minute

// Bootstrap holds the environment snippet each service needs before any
// command runs. CTA needs none.
var Bootstrap = map[settings.Service][]string{
	settings.ServiceEnstore: {
		"source ~enstore/.bashrc",
		"export PYTHONPATH=/opt/enstore:/opt/enstore/src:/opt/enstore/modules:/opt/enstore/HTMLgen:/opt/enstore/PyGreSQL",
	},
}

// Session is one script addressed to one node.
type Session struct {
	Node   string
	User   string
	Script string
}

// Output is what a transport collected from a finished session.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Transport executes a session. Connection and authentication failures are
// returned as *errs.TransportError. A non-zero exit is not an error.
type Transport interface {
	Exec(ctx context.Context, s Session) (Output, error)
}

// Result is the outcome of one session. Commands holds the caller's final
// command strings; Script is the full body sent, bootstrap included.
type Result struct {
	SessionID uuid.UUID     `json:"session_id" bson:"session_id"`
	Node      string        `json:"node" bson:"node"`
	Commands  []string      `json:"commands_run" bson:"commands_run"`
	Script    string        `json:"script" bson:"script"`
	Stdout    string        `json:"stdout" bson:"stdout"`
	Stderr    string        `json:"stderr" bson:"stderr"`
	ExitCode  int           `json:"exit_code" bson:"exit_code"`
	Succeeded bool          `json:"succeeded" bson:"succeeded"`
	Started   time.Time     `json:"started" bson:"started"`
	Duration  time.Duration `json:"duration" bson:"duration"`
}

// Runner is the Command Runner. It performs exactly one attempt per call.
type Runner struct {
	Local   Transport
	Remote  Transport
	User    string
	Timeout time.Duration
	Log     lg.Logger
}

type Option func(*Runner)

func WithUser(user string) Option { return func(r *Runner) { r.User = user } }

func WithTimeout(d time.Duration) Option { return func(r *Runner) { r.Timeout = d } }

func WithLogger(l lg.Logger) Option { return func(r *Runner) { r.Log = l } }

func WithLocal(t Transport) Option { return func(r *Runner) { r.Local = t } }

func NewRunner(remote Transport, opts ...Option) *Runner {
	r := &Runner{
		Local:   NewLocalTransport(""),
		Remote:  remote,
		User:    "root",
		Timeout: DefaultSessionTimeout,
		Log:     lg.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Assemble prepends the service bootstrap to commands and joins the whole
// sequence into one session body.
func Assemble(service settings.Service, commands []string) string {
	stmts := make([]string, 0, len(Bootstrap[service])+len(commands))
	stmts = append(stmts, Bootstrap[service]...)
	stmts = append(stmts, commands...)
	return strings.Join(stmts, Separator) + ";"
}

// Run executes commands as a single session on cfg.Node. When the session
// leaves no output the Result is returned together with an ExecutionError.
func (r *Runner) Run(ctx context.Context, cfg settings.Configuration, commands []string) (Result, error) {
	res := Result{
		SessionID: uuid.New(),
		Node:      cfg.Node,
		Commands:  append([]string(nil), commands...),
	}
	if len(commands) == 0 {
		return res, &errs.ExecutionError{Node: cfg.Node, Reason: "no commands to run"}
	}
	res.Script = Assemble(cfg.Service, commands)

	remote := cfg.IsRemote()
	transport := r.Local
	if remote {
		transport = r.Remote
	}
	if transport == nil {
		return res, fmt.Errorf("no transport for node %s", cfg.Node)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	log := r.logger().With(lg.String("session", res.SessionID.String()), lg.String("node", cfg.Node), lg.Bool("remote", remote))
	log.Debug("session start", lg.String("script", res.Script))

	res.Started = time.Now()
	out, err := transport.Exec(ctx, Session{Node: cfg.Node, User: r.User, Script: res.Script})
	res.Duration = time.Since(res.Started)
	res.Stdout = string(out.Stdout)
	res.Stderr = string(out.Stderr)
	res.ExitCode = out.ExitCode

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		log.Warn("session deadline exceeded", lg.Duration("timeout", r.Timeout))
		if remote {
			return res, &errs.TransportError{Node: cfg.Node, Stderr: res.Stderr, Err: ctxErr}
		}
		return res, &errs.ExecutionError{Node: cfg.Node, Reason: fmt.Sprintf("session timed out after %s", r.Timeout)}
	}
	if err != nil {
		log.Error("session failed", lg.Err(err))
		return res, err
	}

	if len(out.Stdout) == 0 && len(out.Stderr) == 0 {
		log.Warn("session produced no output", lg.Int("exit_code", out.ExitCode))
		return res, &errs.ExecutionError{Node: cfg.Node, Reason: "session produced no output"}
	}
	res.Succeeded = out.ExitCode == 0
	log.Debug("session done", lg.Int("exit_code", out.ExitCode), lg.Duration("took", res.Duration))
	return res, nil
}

func (r *Runner) logger() lg.Logger {
	if r.Log == nil {
		return lg.Discard
	}
	return r.Log
}
