package executor

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
)

// ResilienceOptions are the tunables behind a ResilienceConfig.
type ResilienceOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	BreakerFailures uint32
}

func DefaultResilienceOptions() ResilienceOptions {
	return ResilienceOptions{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		BreakerFailures: 5,
	}
}

type ResilienceConfig struct {
	BackoffSettings        *backoff.ExponentialBackOff
	CircuitBreakerSettings gobreaker.Settings
	CircuitBreaker         *gobreaker.CircuitBreaker
}

// NewResilienceConfig builds the backoff template and a circuit breaker named
// after the host it guards.
func NewResilienceConfig(name string, opts ResilienceOptions) *ResilienceConfig {
	failures := opts.BreakerFailures
	cbs := gobreaker.Settings{
		Name:        "ssh-" + name,
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > failures
		},
	}
	return &ResilienceConfig{
		BackoffSettings: &backoff.ExponentialBackOff{
			InitialInterval:     opts.InitialInterval,
			MaxInterval:         opts.MaxInterval,
			MaxElapsedTime:      opts.MaxElapsedTime,
			Multiplier:          1.5,
			RandomizationFactor: 0.5,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		},
		CircuitBreakerSettings: cbs,
		CircuitBreaker:         gobreaker.NewCircuitBreaker(cbs),
	}
}

// backOff returns a fresh copy of the template; ExponentialBackOff is stateful.
func (r *ResilienceConfig) backOff(ctx context.Context) backoff.BackOff {
	b := *r.BackoffSettings
	b.Reset()
	return backoff.WithContext(&b, ctx)
}

// ResilientSSHClient is an established SSH connection whose session opening
// goes through a circuit breaker and exponential backoff.
type ResilientSSHClient struct {
	SSHClient *ssh.Client
	ResConf   *ResilienceConfig
}

// NewResilientClient dials addr (host:port), retrying with backoff.
func NewResilientClient(ctx context.Context, addr string, config *ssh.ClientConfig, rc *ResilienceConfig) (*ResilientSSHClient, error) {
	var client *ssh.Client
	operation := func() error {
		c, err := dial(ctx, addr, config)
		if err != nil {
			return err
		}
		client = c
		return nil
	}
	if err := backoff.Retry(operation, rc.backOff(ctx)); err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &ResilientSSHClient{SSHClient: client, ResConf: rc}, nil
}

func dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		// authentication and host key failures do not heal with retries
		return nil, backoff.Permanent(err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// NewSession opens a session via the circuit breaker, retrying with backoff.
// The caller is responsible for closing the returned session.
func (c *ResilientSSHClient) NewSession(ctx context.Context) (*ssh.Session, error) {
	var sess *ssh.Session
	operation := func() error {
		res, err := c.ResConf.CircuitBreaker.Execute(func() (any, error) {
			return c.SSHClient.NewSession()
		})
		if err != nil {
			return err
		}
		sess = res.(*ssh.Session)
		return nil
	}
	if err := backoff.Retry(operation, c.ResConf.backOff(ctx)); err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return sess, nil
}

func (c *ResilientSSHClient) Close() error {
	return c.SSHClient.Close()
}

func (c *ResilientSSHClient) RemoteAddr() string {
	return c.SSHClient.RemoteAddr().String()
}

// PublicKeyAuth loads a private key file for public key authentication.
func PublicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	signer, err := LoadSigner(privateKeyPath)
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

// LoadSigner reads and parses an unencrypted private key file.
func LoadSigner(privateKeyPath string) (ssh.Signer, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key %s: %w", privateKeyPath, err)
	}
	return signer, nil
}
