package executor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/andrej220/swapctl/internal/lg"
	"github.com/andrej220/swapctl/pkg/executor"
)

type reply struct {
	stdout string
	stderr string
	status uint32
}

func startTestServer(t *testing.T, handle func(cmd string) reply) string {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) { return nil, nil },
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg, handle)
		}
	}()
	return ln.Addr().String()
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig, handle func(cmd string) reply) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)
				r := handle(payload.Command)
				io.WriteString(ch, r.stdout)
				io.WriteString(ch.Stderr(), r.stderr)
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{r.status}))
				ch.Close()
			}
		}()
	}
}

func writeIdentity(t *testing.T, dir string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func writeSSHConfig(t *testing.T, dir, alias, addr, identity string) string {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	content := fmt.Sprintf("Host %s\n  HostName %s\n  Port %s\n  User casper-admin\n  IdentityFile %s\n",
		alias, host, port, identity)
	path := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fastOptions() executor.ResilienceOptions {
	return executor.ResilienceOptions{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  200 * time.Millisecond,
		BreakerFailures: 3,
	}
}

func TestHostResolverUsesSSHConfig(t *testing.T) {
	dir := t.TempDir()
	identity := writeIdentity(t, dir)
	cfgPath := writeSSHConfig(t, dir, "node-a", "10.0.0.5:2222", identity)

	r, err := NewHostResolver(SSHSettings{ConfigFile: cfgPath, InsecureIgnoreHostKey: true, User: "fallback"})
	require.NoError(t, err)

	addr, cc, err := r.Resolve("node-a")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:2222", addr)
	assert.Equal(t, "casper-admin", cc.User)
	assert.Equal(t, 10*time.Second, cc.Timeout)
}

func TestHostResolverFallsBackToSettings(t *testing.T) {
	dir := t.TempDir()
	identity := writeIdentity(t, dir)

	r, err := NewHostResolver(SSHSettings{
		ConfigFile:            filepath.Join(dir, "does-not-exist"),
		IdentityFile:          identity,
		User:                  "ops",
		Port:                  2200,
		InsecureIgnoreHostKey: true,
	})
	require.NoError(t, err)

	addr, cc, err := r.Resolve("validator-1.example.org")
	require.NoError(t, err)
	assert.Equal(t, "validator-1.example.org:2200", addr)
	assert.Equal(t, "ops", cc.User)
}

func TestHostResolverRequiresSomeKey(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	r, err := NewHostResolver(SSHSettings{InsecureIgnoreHostKey: true})
	require.NoError(t, err)
	r.keyDir = t.TempDir()

	_, _, err = r.Resolve("node-a")
	assert.ErrorContains(t, err, "no identity file configured for node-a and no ssh agent or default key")
}

func echoServer(t *testing.T) (host string, port int) {
	t.Helper()
	addr := startTestServer(t, func(cmd string) reply { return reply{stdout: "ok\n"} })
	h, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return h, n
}

func TestHostResolverDefaultKey(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	host, port := echoServer(t)
	keyDir := t.TempDir()
	writeIdentity(t, keyDir)
	require.NoError(t, os.WriteFile(filepath.Join(keyDir, "id_rsa"), []byte("not a key"), 0o600))

	r, err := NewHostResolver(SSHSettings{Port: port, User: "ops", InsecureIgnoreHostKey: true})
	require.NoError(t, err)
	r.keyDir = keyDir

	e := NewSSHExecutor(r, fastOptions(), lg.Discard)
	defer e.Close()
	out, _, err := e.Run(context.Background(), host, "true")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, out)
}

func TestHostResolverUsesAgent(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keyring := agent.NewKeyring()
	require.NoError(t, keyring.Add(agent.AddedKey{PrivateKey: priv}))

	sock := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				agent.ServeAgent(keyring, conn)
			}()
		}
	}()
	t.Setenv("SSH_AUTH_SOCK", sock)

	host, port := echoServer(t)
	r, err := NewHostResolver(SSHSettings{Port: port, User: "ops", InsecureIgnoreHostKey: true})
	require.NoError(t, err)
	r.keyDir = t.TempDir()

	e := NewSSHExecutor(r, fastOptions(), lg.Discard)
	out, _, err := e.Run(context.Background(), host, "true")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, out)

	require.NotNil(t, r.agentConn)
	require.NoError(t, e.Close())
	assert.Nil(t, r.agentConn, "closing the executor releases the agent connection")
	assert.NoError(t, r.Close())
}

func TestSSHExecutorRun(t *testing.T) {
	addr := startTestServer(t, func(cmd string) reply {
		switch {
		case cmd == "echo hi":
			return reply{stdout: "hi\nthere\n"}
		case strings.HasPrefix(cmd, "diff"):
			return reply{stdout: "1c1\n< a\n---\n> b\n", status: 1}
		default:
			return reply{stderr: "sh: " + cmd + ": not found\n", status: 127}
		}
	})

	dir := t.TempDir()
	identity := writeIdentity(t, dir)
	cfgPath := writeSSHConfig(t, dir, "node-a", addr, identity)
	resolver, err := NewHostResolver(SSHSettings{ConfigFile: cfgPath, InsecureIgnoreHostKey: true})
	require.NoError(t, err)

	e := NewSSHExecutor(resolver, fastOptions(), lg.Discard)
	defer e.Close()
	ctx := context.Background()

	out, errOut, err := e.Run(ctx, "node-a", "echo hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "there"}, out)
	assert.Empty(t, errOut)

	// non-zero exit without stderr is not a transport failure
	out, errOut, err = e.Run(ctx, "node-a", "diff a b")
	require.NoError(t, err)
	assert.Len(t, out, 4)
	assert.Empty(t, errOut)

	out, errOut, err = e.Run(ctx, "node-a", "bogus")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []string{"sh: bogus: not found"}, errOut)

	// connection is reused
	assert.Len(t, e.clients, 1)
}

func TestSSHExecutorUnreachableHost(t *testing.T) {
	dir := t.TempDir()
	identity := writeIdentity(t, dir)
	resolver, err := NewHostResolver(SSHSettings{
		IdentityFile:          identity,
		Port:                  1,
		DialTimeout:           50 * time.Millisecond,
		InsecureIgnoreHostKey: true,
	})
	require.NoError(t, err)

	e := NewSSHExecutor(resolver, fastOptions(), lg.Discard)
	_, _, err = e.Run(context.Background(), "127.0.0.1", "true")
	assert.ErrorContains(t, err, "failed to dial")
}

func TestScanLinesLongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	lines, err := scanLines(strings.NewReader(long + "\nshort\n"))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], len(long))
}
