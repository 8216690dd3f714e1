// Package nodetest simulates Casper hosts for tests: it interprets the
// commands node.Node issues and keeps an in-memory filesystem per host.
package nodetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/andrej220/swapctl/internal/node"
	"github.com/andrej220/swapctl/pkg/executor"
)

var (
	_ executor.Executor      = (*Cluster)(nil)
	_ executor.DirectorySync = (*Cluster)(nil)
)

var ErrUnreachable = errors.New("connection refused")

// Host is the simulated state of one machine.
type Host struct {
	Files       map[string]string
	Running     bool
	Status      map[string]any
	Unreachable bool
	// FailOn maps a command substring to the stderr it produces.
	FailOn map[string]string
}

// Call is one command the cluster received.
type Call struct {
	Host string
	Cmd  string
}

// Cluster implements both collaborators over a set of simulated hosts.
type Cluster struct {
	Paths node.Paths

	mu    sync.Mutex
	hosts map[string]*Host
	calls []Call
	tmp   int
}

func NewCluster(paths node.Paths) *Cluster {
	return &Cluster{Paths: paths, hosts: make(map[string]*Host)}
}

// AddValidatorHost adds a running host holding both key sets, with the
// validator or the offline key active.
func (c *Cluster) AddValidatorHost(name string, validator bool, network, reactorState string) *Host {
	p := c.Paths
	files := map[string]string{}
	for _, f := range node.KeyFiles {
		files[path.Join(p.ValidatorKeyDir, f)] = "validator-" + f
		files[path.Join(p.OfflineKeyDir, f)] = name + "-offline-" + f
		if validator {
			files[path.Join(p.KeyBaseDir, f)] = "validator-" + f
		} else {
			files[path.Join(p.KeyBaseDir, f)] = name + "-offline-" + f
		}
	}
	unitDir := path.Join(p.UnitFilesRoot, network, "unit_files")
	files[path.Join(unitDir, "1_5_2", "config.toml")] = name + "-config"
	status := map[string]any{
		node.FieldChainspecName: network,
		node.FieldReactorState:  reactorState,
		"api_version":           "1.5.2",
	}
	h := &Host{Files: files, Running: true, Status: status, FailOn: map[string]string{}}
	c.SetHost(name, h)
	return h
}

func (c *Cluster) SetHost(name string, h *Host) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts[name] = h
}

func (c *Cluster) Host(name string) *Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hosts[name]
}

// Calls returns every command received so far.
func (c *Cluster) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Mutations returns the commands that change remote state, in order.
func (c *Cluster) Mutations() []Call {
	var out []Call
	for _, call := range c.Calls() {
		if isMutation(call.Cmd) {
			out = append(out, call)
		}
	}
	return out
}

func isMutation(cmd string) bool {
	for _, marker := range []string{" stop", " start", "'cp ", "sudo mv ", "fix_permissions", "rmdir", "mktemp", "stage_protocols"} {
		if strings.Contains(cmd, marker) {
			return true
		}
	}
	return false
}

// ActiveKey returns the active public key identifier of host.
func (c *Cluster) ActiveKey(host string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hosts[host].Files[path.Join(c.Paths.KeyBaseDir, node.PublicKeyHex)]
}

func (c *Cluster) Run(_ context.Context, host, cmd string) ([]string, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Host: host, Cmd: cmd})

	h, ok := c.hosts[host]
	if !ok || h.Unreachable {
		return nil, nil, fmt.Errorf("dial %s: %w", host, ErrUnreachable)
	}
	for marker, stderr := range h.FailOn {
		if strings.Contains(cmd, marker) {
			return nil, []string{stderr}, nil
		}
	}
	out, errOut := c.interpret(h, cmd)
	return lines(out), lines(errOut), nil
}

func lines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func unquote(s string) string {
	return strings.Trim(s, "'")
}

func (c *Cluster) interpret(h *Host, cmd string) (string, string) {
	p := c.Paths
	f := strings.Fields(cmd)
	switch {
	case len(f) == 3 && f[0] == "diff":
		a, b := unquote(f[1]), unquote(f[2])
		av, aok := h.Files[a]
		bv, bok := h.Files[b]
		if !aok {
			return "", "diff: " + a + ": No such file or directory"
		}
		if !bok {
			return "", "diff: " + b + ": No such file or directory"
		}
		if av == bv {
			return "", ""
		}
		return fmt.Sprintf("1c1\n< %s\n---\n> %s\n", av, bv), ""

	case strings.HasPrefix(cmd, "sudo test -e "):
		if _, ok := h.Files[unquote(f[3])]; ok {
			return "exists\n", ""
		}
		return "", ""

	case strings.HasPrefix(cmd, "curl -s "):
		if !h.Running {
			return "", ""
		}
		raw, err := json.Marshal(h.Status)
		if err != nil {
			return "", err.Error()
		}
		return string(raw) + "\n", ""

	case cmd == "sudo "+p.NodeUtil+" stop":
		h.Running = false
		return "", ""

	case cmd == "sudo "+p.NodeUtil+" start":
		h.Running = true
		return "", ""

	case cmd == p.NodeUtil+" systemd_status":
		if h.Running {
			return "casper-node-launcher.service\n   Active: active (running)\n", ""
		}
		return "casper-node-launcher.service\n   Active: inactive (dead)\n", ""

	case cmd == "sudo "+p.NodeUtil+" fix_permissions":
		return "", ""

	case strings.HasPrefix(cmd, "sudo -u "+p.ServiceUser+" "+p.NodeUtil+" stage_protocols "):
		return "staged " + f[len(f)-1] + "\n", ""

	case strings.HasPrefix(cmd, "sudo -u "+p.ServiceUser+" sh -c 'cp "):
		// sudo -u casper sh -c 'cp SRC/* DST/'
		src := strings.TrimSuffix(f[6], "/*")
		dst := strings.TrimSuffix(unquote(f[7]), "/")
		return "", copyPrefix(h.Files, src, dst, false)

	case cmd == "mktemp -d":
		c.tmp++
		return fmt.Sprintf("/tmp/tmp.swap%d\n", c.tmp), ""

	case len(f) == 4 && f[0] == "sudo" && f[1] == "mv":
		src := strings.TrimSuffix(f[2], "/*")
		dst := strings.TrimSuffix(f[3], "/")
		return "", copyPrefix(h.Files, src, dst, true)

	case len(f) == 3 && f[0] == "sudo" && f[1] == "rmdir":
		prefix := f[2] + "/"
		for name := range h.Files {
			if strings.HasPrefix(name, prefix) {
				return "", "rmdir: failed to remove '" + f[2] + "': Directory not empty"
			}
		}
		return "", ""
	}
	return "", "sh: unknown command: " + cmd
}

func copyPrefix(files map[string]string, src, dst string, move bool) string {
	prefix := src + "/"
	var names []string
	for name := range files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "cannot stat '" + src + "/*': No such file or directory"
	}
	sort.Strings(names)
	for _, name := range names {
		rel := strings.TrimPrefix(name, prefix)
		if !move && strings.Contains(rel, "/") {
			// cp without -r skips directories
			continue
		}
		files[path.Join(dst, rel)] = files[name]
		if move {
			delete(files, name)
		}
	}
	return ""
}

func (c *Cluster) Pull(_ context.Context, host, remoteDir, localDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Host: host, Cmd: "pull " + remoteDir})
	h, ok := c.hosts[host]
	if !ok || h.Unreachable {
		return ErrUnreachable
	}
	prefix := strings.TrimSuffix(remoteDir, "/") + "/"
	for name, body := range h.Files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		dst := filepath.Join(localDir, filepath.FromSlash(strings.TrimPrefix(name, prefix)))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cluster) Push(_ context.Context, host, localDir, remoteDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Host: host, Cmd: "push " + remoteDir})
	h, ok := c.hosts[host]
	if !ok || h.Unreachable {
		return ErrUnreachable
	}
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		h.Files[path.Join(remoteDir, filepath.ToSlash(rel))] = string(body)
		return nil
	})
}
