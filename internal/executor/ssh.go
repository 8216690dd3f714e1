package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/andrej220/swapctl/internal/lg"
	"github.com/andrej220/swapctl/pkg/executor"
)

const maxLineSize = 4 * 1024 * 1024

var _ executor.Executor = (*SSHExecutor)(nil)

// SSHExecutor runs commands on any number of hosts, dialing each one lazily
// and reusing the connection for later commands.
type SSHExecutor struct {
	resolver *HostResolver
	opts     executor.ResilienceOptions
	logger   lg.Logger

	mu      sync.Mutex
	clients map[string]*executor.ResilientSSHClient
}

func NewSSHExecutor(resolver *HostResolver, opts executor.ResilienceOptions, logger lg.Logger) *SSHExecutor {
	return &SSHExecutor{
		resolver: resolver,
		opts:     opts,
		logger:   logger,
		clients:  make(map[string]*executor.ResilientSSHClient),
	}
}

func (e *SSHExecutor) client(ctx context.Context, host string) (*executor.ResilientSSHClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[host]; ok {
		return c, nil
	}
	addr, cfg, err := e.resolver.Resolve(host)
	if err != nil {
		return nil, err
	}
	c, err := executor.NewResilientClient(ctx, addr, cfg, executor.NewResilienceConfig(host, e.opts))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("ssh connected", lg.String("host", host), lg.String("addr", c.RemoteAddr()))
	e.clients[host] = c
	return c, nil
}

// SSHClient returns the shared connection to host, for file transfer.
func (e *SSHExecutor) SSHClient(ctx context.Context, host string) (*ssh.Client, error) {
	c, err := e.client(ctx, host)
	if err != nil {
		return nil, err
	}
	return c.SSHClient, nil
}

// Run executes script in a new session. A non-zero exit status is not an
// error here; callers judge success from the stderr lines.
func (e *SSHExecutor) Run(ctx context.Context, host, script string) ([]string, []string, error) {
	c, err := e.client(ctx, host)
	if err != nil {
		return nil, nil, err
	}
	sess, err := c.NewSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := sess.Start(script); err != nil {
		return nil, nil, fmt.Errorf("start script: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.Close()
		case <-done:
		}
	}()

	var outLines, errLines []string
	var g errgroup.Group
	g.Go(func() (err error) {
		outLines, err = scanLines(stdout)
		return err
	})
	g.Go(func() (err error) {
		errLines, err = scanLines(stderr)
		return err
	})
	scanErr := g.Wait()
	waitErr := sess.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if err := waitErr; err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return nil, nil, fmt.Errorf("wait: %w", err)
		}
		e.logger.Debug("remote command exited non-zero",
			lg.String("host", host), lg.Int("status", exitErr.ExitStatus()))
	}
	if scanErr != nil {
		return nil, nil, fmt.Errorf("read output: %w", scanErr)
	}
	return outLines, errLines, nil
}

// Close drops every cached connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for host, c := range e.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", host, err))
		}
		delete(e.clients, host)
	}
	if err := e.resolver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ssh agent: %w", err))
	}
	return errors.Join(errs...)
}

func scanLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
