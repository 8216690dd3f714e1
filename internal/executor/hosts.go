package executor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/andrej220/swapctl/pkg/executor"
)

// SSHSettings are the operator-level defaults applied to every host. Values
// from the OpenSSH client config take precedence where the host defines them.
type SSHSettings struct {
	User                  string
	IdentityFile          string
	KnownHosts            string
	Port                  int
	ConfigFile            string
	DialTimeout           time.Duration
	InsecureIgnoreHostKey bool
}

// Keys tried from the user's ssh directory when no identity file is configured.
var defaultIdentities = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// HostResolver turns host aliases, as used with the ssh command line client,
// into dial addresses and client configs. Without an identity file it
// authenticates like ssh does: agent keys first, then the default keys.
type HostResolver struct {
	settings SSHSettings
	config   *ssh_config.Config
	keyDir   string

	agentOnce sync.Once
	agentConn net.Conn
	agent     agent.ExtendedAgent
}

func NewHostResolver(settings SSHSettings) (*HostResolver, error) {
	r := &HostResolver{settings: settings}
	if home, err := os.UserHomeDir(); err == nil {
		r.keyDir = filepath.Join(home, ".ssh")
	}
	if settings.ConfigFile == "" {
		return r, nil
	}
	f, err := os.Open(expandHome(settings.ConfigFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("open ssh config: %w", err)
	}
	defer f.Close()
	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("parse ssh config %s: %w", settings.ConfigFile, err)
	}
	r.config = cfg
	return r, nil
}

func (r *HostResolver) lookup(alias, key string) string {
	if r.config == nil {
		return ""
	}
	v, err := r.config.Get(alias, key)
	if err != nil {
		return ""
	}
	return v
}

// Resolve returns the host:port to dial and the client config for alias.
func (r *HostResolver) Resolve(alias string) (string, *ssh.ClientConfig, error) {
	hostname := alias
	if v := r.lookup(alias, "HostName"); v != "" {
		hostname = v
	}

	port := r.settings.Port
	if v := r.lookup(alias, "Port"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return "", nil, fmt.Errorf("bad port %q for %s: %w", v, alias, err)
		}
		port = p
	}
	if port == 0 {
		port = 22
	}

	user := r.settings.User
	if v := r.lookup(alias, "User"); v != "" {
		user = v
	}
	if user == "" {
		user = os.Getenv("USER")
	}

	identity := r.settings.IdentityFile
	if v := r.lookup(alias, "IdentityFile"); v != "" {
		identity = v
	}
	auth, err := r.authMethod(alias, identity)
	if err != nil {
		return "", nil, err
	}

	hostKeys, err := r.hostKeyCallback()
	if err != nil {
		return "", nil, err
	}

	timeout := r.settings.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}
	return net.JoinHostPort(hostname, strconv.Itoa(port)), config, nil
}

func (r *HostResolver) authMethod(alias, identity string) (ssh.AuthMethod, error) {
	if identity != "" {
		return executor.PublicKeyAuth(expandHome(identity))
	}

	var keys []ssh.Signer
	if r.keyDir != "" {
		for _, name := range defaultIdentities {
			// missing and passphrase protected keys are left to the agent
			if signer, err := executor.LoadSigner(filepath.Join(r.keyDir, name)); err == nil {
				keys = append(keys, signer)
			}
		}
	}
	ag := r.sshAgent()
	if ag == nil && len(keys) == 0 {
		return nil, fmt.Errorf("no identity file configured for %s and no ssh agent or default key available", alias)
	}

	// a single publickey method: the client does not retry a method name that failed
	return ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
		if ag == nil {
			return keys, nil
		}
		signers, err := ag.Signers()
		if err != nil {
			return keys, nil
		}
		return append(signers, keys...), nil
	}), nil
}

// sshAgent connects to the agent at SSH_AUTH_SOCK once and returns nil when
// there is none.
func (r *HostResolver) sshAgent() agent.ExtendedAgent {
	r.agentOnce.Do(func() {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return
		}
		r.agentConn = conn
		r.agent = agent.NewClient(conn)
	})
	return r.agent
}

// Close releases the agent connection, if one was opened.
func (r *HostResolver) Close() error {
	if r.agentConn == nil {
		return nil
	}
	conn := r.agentConn
	r.agentConn = nil
	return conn.Close()
}

func (r *HostResolver) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if r.settings.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := r.settings.KnownHosts
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	cb, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return cb, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
