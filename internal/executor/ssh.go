package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/andrej220/storops/internal/errs"
)

// NativeConfig configures the in-process SSH client.
type NativeConfig struct {
	Port            int
	KeyFile         string
	KnownHosts      string
	InsecureHostKey bool
	DialTimeout     time.Duration
	// AgentSocket defaults to $SSH_AUTH_SOCK.
	AgentSocket string
	// ForwardAgent delegates the caller's agent to the remote session.
	ForwardAgent bool
}

// ResilienceConfig holds the breaker settings applied per node.
type ResilienceConfig struct {
	CircuitBreakerSettings gobreaker.Settings
}

func DefaultResilienceConfig() *ResilienceConfig {
	return &ResilienceConfig{
		CircuitBreakerSettings: gobreaker.Settings{
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
	}
}

type dialFunc func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)

var _ Transport = (*NativeTransport)(nil)

// NativeTransport opens SSH sessions with golang.org/x/crypto/ssh. Dials go
// through one circuit breaker per node; an open breaker fails fast as a
// transport failure.
type NativeTransport struct {
	cfg     NativeConfig
	resConf *ResilienceConfig
	dial    dialFunc

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewNativeTransport(cfg NativeConfig, resConf *ResilienceConfig) *NativeTransport {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.AgentSocket == "" {
		cfg.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	}
	if resConf == nil {
		resConf = DefaultResilienceConfig()
	}
	return &NativeTransport{
		cfg:      cfg,
		resConf:  resConf,
		dial:     ssh.Dial,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (t *NativeTransport) breaker(node string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[node]
	if !ok {
		settings := t.resConf.CircuitBreakerSettings
		settings.Name = "ssh-" + node
		cb = gobreaker.NewCircuitBreaker(settings)
		t.breakers[node] = cb
	}
	return cb
}

// BreakerState reports the breaker state for node.
func (t *NativeTransport) BreakerState(node string) gobreaker.State {
	return t.breaker(node).State()
}

func (t *NativeTransport) clientConfig(user string) (*ssh.ClientConfig, agent.ExtendedAgent, error) {
	var (
		methods []ssh.AuthMethod
		ag      agent.ExtendedAgent
	)
	if t.cfg.AgentSocket != "" {
		conn, err := net.Dial("unix", t.cfg.AgentSocket)
		if err == nil {
			ag = agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
		}
	}
	if t.cfg.KeyFile != "" {
		auth, err := publicKeyAuth(t.cfg.KeyFile)
		if err != nil {
			return nil, nil, err
		}
		methods = append(methods, auth)
	}
	if len(methods) == 0 {
		return nil, nil, errors.New("no ssh credentials: agent unavailable and no key file configured")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if !t.cfg.InsecureHostKey {
		path := t.cfg.KnownHosts
		if path == "" {
			home, _ := os.UserHomeDir()
			path = home + "/.ssh/known_hosts"
		}
		cb, err := knownhosts.New(path)
		if err != nil {
			return nil, nil, fmt.Errorf("known hosts %s: %w", path, err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         t.cfg.DialTimeout,
		BannerCallback:  func(string) error { return nil },
	}, ag, nil
}

func (t *NativeTransport) Exec(ctx context.Context, s Session) (Output, error) {
	clientCfg, ag, err := t.clientConfig(s.User)
	if err != nil {
		return Output{}, &errs.TransportError{Node: s.Node, Err: err}
	}

	addr := net.JoinHostPort(s.Node, fmt.Sprint(t.cfg.Port))
	res, err := t.breaker(s.Node).Execute(func() (any, error) {
		return t.dial("tcp", addr, clientCfg)
	})
	if err != nil {
		return Output{}, &errs.TransportError{Node: s.Node, Err: fmt.Errorf("dial %s: %w", addr, err)}
	}
	client := res.(*ssh.Client)
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return Output{}, &errs.TransportError{Node: s.Node, Err: fmt.Errorf("new session: %w", err)}
	}
	defer sess.Close()

	if t.cfg.ForwardAgent && ag != nil {
		if err := agent.ForwardToAgent(client, ag); err == nil {
			_ = agent.RequestAgentForwarding(sess)
		}
	}

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(s.Script) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		client.Close()
		<-done
		return Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1}, nil
	case err = <-done:
	}

	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitStatus()
		return out, nil
	}
	return out, &errs.TransportError{Node: s.Node, Stderr: stderr.String(), Err: err}
}

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}
