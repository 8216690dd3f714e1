// Package node wraps one Casper host behind typed remote operations:
// service lifecycle, key swapping, status queries and unit file transfer.
package node

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/andrej220/swapctl/internal/lg"
	"github.com/andrej220/swapctl/pkg/executor"
)

// Key material files expected in both role directories.
const (
	PublicKeyHex = "public_key_hex"
	PublicKeyPEM = "public_key.pem"
	SecretKeyPEM = "secret_key.pem"
)

var KeyFiles = []string{PublicKeyHex, PublicKeyPEM, SecretKeyPEM}

// Paths is the filesystem and tooling layout of a node.
type Paths struct {
	KeyBaseDir      string `yaml:"key_base_dir" validate:"required,abspath"`
	ValidatorKeyDir string `yaml:"validator_key_dir" validate:"required,abspath"`
	OfflineKeyDir   string `yaml:"offline_key_dir" validate:"required,abspath"`
	NodeUtil        string `yaml:"node_util" validate:"required,abspath"`
	StatusURL       string `yaml:"status_url" validate:"required"`
	ServiceUser     string `yaml:"service_user" validate:"required"`
	UnitFilesRoot   string `yaml:"unit_files_root" validate:"required,abspath"`
}

func DefaultPaths() Paths {
	return Paths{
		KeyBaseDir:      "/etc/casper/validator_keys",
		ValidatorKeyDir: "/etc/casper/validator_keys/current_node",
		OfflineKeyDir:   "/etc/casper/validator_keys/backup_node",
		NodeUtil:        "/etc/casper/node_util.py",
		StatusURL:       "localhost:8888/status",
		ServiceUser:     "casper",
		UnitFilesRoot:   "/var/lib/casper/casper-node",
	}
}

// Node is one physical host taking part in a swap.
type Node struct {
	Host  string
	Paths Paths

	exec   executor.Executor
	sync   executor.DirectorySync
	logger lg.Logger

	status Status
}

func New(host string, paths Paths, exec executor.Executor, sync executor.DirectorySync, logger lg.Logger) *Node {
	return &Node{
		Host:   host,
		Paths:  paths,
		exec:   exec,
		sync:   sync,
		logger: logger.With(lg.String("host", host)),
	}
}

func (n *Node) String() string { return n.Host }

// SSHCommand runs cmd on the node and returns its stdout. Any stderr output
// fails the command.
func (n *Node) SSHCommand(ctx context.Context, cmd string) (string, error) {
	n.logger.Info("ssh", lg.String("cmd", cmd))
	out, errOut, err := n.exec.Run(ctx, n.Host, cmd)
	if err != nil {
		return "", &TransportError{Host: n.Host, Command: cmd, Err: err}
	}
	if len(errOut) > 0 {
		return "", &TransportError{Host: n.Host, Command: cmd, Stderr: strings.Join(errOut, "\n")}
	}
	return strings.Join(out, "\n"), nil
}

func (n *Node) asService(cmd string) string {
	return fmt.Sprintf("sudo -u %s %s", n.Paths.ServiceUser, cmd)
}

// IsValidator reports whether the active public key is the validator key.
func (n *Node) IsValidator(ctx context.Context) (bool, error) {
	cmd := fmt.Sprintf("diff %s %s",
		shellQuote(path.Join(n.Paths.ValidatorKeyDir, PublicKeyHex)),
		shellQuote(path.Join(n.Paths.KeyBaseDir, PublicKeyHex)))
	out, err := n.SSHCommand(ctx, cmd)
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// RemoteFileExists probes with sudo since key directories are not readable
// by the login user.
func (n *Node) RemoteFileExists(ctx context.Context, remoteFile string) (bool, error) {
	out, err := n.SSHCommand(ctx, fmt.Sprintf("sudo test -e %s && echo exists", shellQuote(remoteFile)))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "exists", nil
}

// MissingKeyFiles lists every key file absent from the validator and offline
// key directories.
func (n *Node) MissingKeyFiles(ctx context.Context) ([]string, error) {
	var missing []string
	for _, name := range KeyFiles {
		for _, dir := range []string{n.Paths.ValidatorKeyDir, n.Paths.OfflineKeyDir} {
			p := path.Join(dir, name)
			ok, err := n.RemoteFileExists(ctx, p)
			if err != nil {
				return nil, err
			}
			if !ok {
				missing = append(missing, p)
			}
		}
	}
	return missing, nil
}

// RestStatus returns the cached status, querying the node when refresh is set
// or nothing is cached yet.
func (n *Node) RestStatus(ctx context.Context, refresh bool) (Status, error) {
	if refresh || n.status == nil {
		cmd := fmt.Sprintf("curl -s %s", shellQuote(n.Paths.StatusURL))
		out, err := n.SSHCommand(ctx, cmd)
		if err != nil {
			return nil, err
		}
		s, err := ParseStatus([]byte(out))
		if err != nil {
			return nil, &ConfigError{Host: n.Host, Field: "status", Err: err}
		}
		n.status = s
	}
	return n.status.clone(), nil
}

// InvalidateStatus drops the cached status.
func (n *Node) InvalidateStatus() { n.status = nil }

func (n *Node) NetworkName(ctx context.Context) (string, error) {
	s, err := n.RestStatus(ctx, false)
	if err != nil {
		return "", err
	}
	name, ok := s.ChainspecName()
	if !ok {
		return "", &ConfigError{Host: n.Host, Field: FieldChainspecName}
	}
	return name, nil
}

// ReactorState returns ok=false when the node does not report a state.
func (n *Node) ReactorState(ctx context.Context) (string, bool, error) {
	s, err := n.RestStatus(ctx, false)
	if err != nil {
		return "", false, err
	}
	state, ok := s.ReactorState()
	return state, ok, nil
}

func (n *Node) StopNode(ctx context.Context) error {
	_, err := n.SSHCommand(ctx, fmt.Sprintf("sudo %s stop", n.Paths.NodeUtil))
	return err
}

func (n *Node) StartNode(ctx context.Context) error {
	_, err := n.SSHCommand(ctx, fmt.Sprintf("sudo %s start", n.Paths.NodeUtil))
	return err
}

func (n *Node) SystemdStatus(ctx context.Context) (string, error) {
	return n.SSHCommand(ctx, fmt.Sprintf("%s systemd_status", n.Paths.NodeUtil))
}

// StageProtocols stages the protocol versions listed in the network's config.
func (n *Node) StageProtocols(ctx context.Context) (string, error) {
	network, err := n.NetworkName(ctx)
	if err != nil {
		return "", err
	}
	return n.SSHCommand(ctx, n.asService(fmt.Sprintf("%s stage_protocols %s.conf", n.Paths.NodeUtil, network)))
}

// KeysToValidator makes the validator keys the active keys.
func (n *Node) KeysToValidator(ctx context.Context) error {
	return n.copyKeys(ctx, n.Paths.ValidatorKeyDir)
}

// KeysToOffline makes the backup keys the active keys.
func (n *Node) KeysToOffline(ctx context.Context) error {
	return n.copyKeys(ctx, n.Paths.OfflineKeyDir)
}

// copyKeys expands the glob inside the service user's shell, the login user
// cannot list key directories.
func (n *Node) copyKeys(ctx context.Context, srcDir string) error {
	inner := fmt.Sprintf("cp %s/* %s/", srcDir, n.Paths.KeyBaseDir)
	_, err := n.SSHCommand(ctx, n.asService("sh -c "+shellQuote(inner)))
	return err
}

// UnitFilesDir is the per-network unit file directory.
func (n *Node) UnitFilesDir(ctx context.Context) (string, error) {
	network, err := n.NetworkName(ctx)
	if err != nil {
		return "", err
	}
	return path.Join(n.Paths.UnitFilesRoot, network, "unit_files"), nil
}

// GetUnitFiles empties localDir and pulls the node's unit files into it.
func (n *Node) GetUnitFiles(ctx context.Context, localDir string) error {
	remote, err := n.UnitFilesDir(ctx)
	if err != nil {
		return err
	}
	if err := clearDir(localDir); err != nil {
		return fmt.Errorf("clear %s: %w", localDir, err)
	}
	n.logger.Info("pull unit files", lg.String("remote", remote), lg.String("local", localDir))
	if err := n.sync.Pull(ctx, n.Host, remote, localDir); err != nil {
		return &TransportError{Host: n.Host, Command: "pull " + remote, Err: err}
	}
	return nil
}

// PutUnitFiles stages localDir into a fresh temp directory on the node, moves
// it into place as root, fixes permissions and removes the temp directory.
func (n *Node) PutUnitFiles(ctx context.Context, localDir string) error {
	remote, err := n.UnitFilesDir(ctx)
	if err != nil {
		return err
	}
	out, err := n.SSHCommand(ctx, "mktemp -d")
	if err != nil {
		return err
	}
	tmp := strings.TrimSpace(out)
	if tmp == "" {
		return &TransportError{Host: n.Host, Command: "mktemp -d", Stderr: "no directory returned"}
	}
	n.logger.Info("created temp folder for sync", lg.String("tmp", tmp))

	if err := n.sync.Push(ctx, n.Host, localDir, tmp); err != nil {
		return &TransportError{Host: n.Host, Command: "push " + tmp, Err: err}
	}

	n.logger.Info("moving unit files into place", lg.String("remote", remote))
	if _, err := n.SSHCommand(ctx, fmt.Sprintf("sudo mv %s/* %s/", tmp, remote)); err != nil {
		return err
	}
	if _, err := n.SSHCommand(ctx, fmt.Sprintf("sudo %s fix_permissions", n.Paths.NodeUtil)); err != nil {
		return err
	}
	_, err = n.SSHCommand(ctx, fmt.Sprintf("sudo rmdir %s", tmp))
	return err
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
