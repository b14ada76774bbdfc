package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/taskfleet/dispatch/internal/lg"
	"github.com/taskfleet/dispatch/pkg/play"
)

// SSHConfig tunes the SSH transport shared by all hosts of a run.
type SSHConfig struct {
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	KnownHostsFile string        `yaml:"known_hosts_file"`
	MaxInterval    time.Duration `yaml:"max_interval"`
}

func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		DialTimeout: 10 * time.Second,
		MaxInterval: 5 * time.Second,
	}
}

// SSHExecutor runs commands on one host over SSH with a circuit breaker
// around session creation and exponential backoff around the whole attempt.
type SSHExecutor struct {
	client  *ssh.Client
	breaker *gobreaker.CircuitBreaker
	backoff *backoff.ExponentialBackOff
	lg      lg.Logger
}

var _ Executor = (*SSHExecutor)(nil)
var _ Closer = (*SSHExecutor)(nil)

// NewSSHFactory returns a Factory dialing hosts with the given config.
func NewSSHFactory(cfg SSHConfig, logger lg.Logger) Factory {
	return func(host play.Host) (Executor, error) {
		return DialSSH(host, cfg, logger)
	}
}

// DialSSH connects to the host using key auth when a key file is set,
// password auth otherwise.
func DialSSH(host play.Host, cfg SSHConfig, logger lg.Logger) (*SSHExecutor, error) {
	if host.Address == "" {
		return nil, fmt.Errorf("host %q has no address", host.Name)
	}
	if logger == nil {
		logger = lg.Discard
	}

	auth, err := authMethods(host)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            host.Login,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Replace in production
		Timeout:         cfg.DialTimeout,
		BannerCallback:  func(string) error { return nil },
	}

	client, err := ssh.Dial("tcp", host.Address, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host.Address, err)
	}

	cbs := gobreaker.Settings{
		Name:        "ssh-" + host.Name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &SSHExecutor{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(cbs),
		backoff: &backoff.ExponentialBackOff{
			InitialInterval:     500 * time.Millisecond,
			MaxInterval:         cfg.MaxInterval,
			Multiplier:          1.5,
			RandomizationFactor: 0.5,
			MaxElapsedTime:      2 * time.Minute,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		},
		lg: logger,
	}, nil
}

func authMethods(host play.Host) ([]ssh.AuthMethod, error) {
	if host.KeyFile != "" {
		key, err := os.ReadFile(host.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key for %s: %w", host.Name, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key for %s: %w", host.Name, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(host.Password)}, nil
}

// Run executes the command in a fresh session, collecting stdout and stderr
// concurrently. The attempt as a whole is retried with backoff; session
// creation goes through the circuit breaker.
func (e *SSHExecutor) Run(ctx context.Context, command string) ([]string, []string, error) {
	var outLines, errLines []string

	operation := func() error {
		res, err := e.breaker.Execute(func() (any, error) {
			return e.client.NewSession()
		})
		if err != nil {
			return fmt.Errorf("new session: %w", err)
		}
		sess := res.(*ssh.Session)
		defer sess.Close()

		stdout, err := sess.StdoutPipe()
		if err != nil {
			return fmt.Errorf("stdout pipe: %w", err)
		}
		stderr, err := sess.StderrPipe()
		if err != nil {
			return fmt.Errorf("stderr pipe: %w", err)
		}

		if err := sess.Start(command); err != nil {
			return fmt.Errorf("start command: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			outLines = scanLines(gctx, stdout)
			return nil
		})
		g.Go(func() error {
			errLines = scanLines(gctx, stderr)
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}
		if err := sess.Wait(); err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				// nonzero exit is the command's verdict, not a transport
				// fault: do not retry it
				return backoff.Permanent(&ExitError{Code: exitErr.ExitStatus()})
			}
			return err
		}
		return nil
	}

	e.backoff.Reset()
	b := backoff.WithContext(e.backoff, ctx)
	notify := func(err error, wait time.Duration) {
		e.lg.Warn("ssh attempt failed, retrying",
			lg.Err(err), lg.Any("wait", wait))
	}
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return outLines, errLines, err
	}
	return outLines, errLines, nil
}

func (e *SSHExecutor) Close() error {
	return e.client.Close()
}

func scanLines(ctx context.Context, r io.Reader) []string {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return lines
		default:
			lines = append(lines, scanner.Text())
		}
	}
	return lines
}
