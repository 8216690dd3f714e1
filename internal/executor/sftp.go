package executor

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/andrej220/swapctl/internal/lg"
	"github.com/andrej220/swapctl/pkg/executor"
)

var _ executor.DirectorySync = (*SFTPSync)(nil)

// ClientSource hands out established SSH connections by host.
type ClientSource interface {
	SSHClient(ctx context.Context, host string) (*ssh.Client, error)
}

// SFTPSync copies directory trees over an SFTP subsystem opened on the
// connection the executor already holds for the host.
type SFTPSync struct {
	clients ClientSource
}

func NewSFTPSync(clients ClientSource) *SFTPSync {
	return &SFTPSync{clients: clients}
}

func (s *SFTPSync) open(ctx context.Context, host string) (*sftp.Client, error) {
	conn, err := s.clients.SSHClient(ctx, host)
	if err != nil {
		return nil, err
	}
	c, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("sftp %s: %w", host, err)
	}
	return c, nil
}

func (s *SFTPSync) Pull(ctx context.Context, host, remoteDir, localDir string) error {
	c, err := s.open(ctx, host)
	if err != nil {
		return err
	}
	defer c.Close()
	start := time.Now()
	if err := pullTree(ctx, c, remoteDir, localDir); err != nil {
		return err
	}
	lg.FromContext(ctx).Debug("pulled directory", lg.String("host", host), lg.String("remote", remoteDir),
		lg.String("local", localDir), lg.Duration("took", time.Since(start)))
	return nil
}

func (s *SFTPSync) Push(ctx context.Context, host, localDir, remoteDir string) error {
	c, err := s.open(ctx, host)
	if err != nil {
		return err
	}
	defer c.Close()
	start := time.Now()
	if err := pushTree(ctx, c, localDir, remoteDir); err != nil {
		return err
	}
	lg.FromContext(ctx).Debug("pushed directory", lg.String("host", host), lg.String("local", localDir),
		lg.String("remote", remoteDir), lg.Duration("took", time.Since(start)))
	return nil
}

func pullTree(ctx context.Context, c *sftp.Client, remoteDir, localDir string) error {
	remoteDir = path.Clean(remoteDir)
	walker := c.Walk(remoteDir)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := walker.Err(); err != nil {
			return fmt.Errorf("walk %s: %w", walker.Path(), err)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), remoteDir), "/")
		if rel == "" {
			continue
		}
		dst := filepath.Join(localDir, filepath.FromSlash(rel))
		info := walker.Stat()
		if info.IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := pullFile(c, walker.Path(), dst, info.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

func pullFile(c *sftp.Client, src, dst string, mode os.FileMode) error {
	in, err := c.Open(src)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func pushTree(ctx context.Context, c *sftp.Client, localDir, remoteDir string) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dst := path.Join(remoteDir, filepath.ToSlash(rel))
		if d.IsDir() {
			if err := c.MkdirAll(dst); err != nil {
				return fmt.Errorf("mkdir remote %s: %w", dst, err)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return pushFile(c, p, dst, info.Mode().Perm())
	})
}

func pushFile(c *sftp.Client, src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := c.Create(dst)
	if err != nil {
		return fmt.Errorf("create remote %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return c.Chmod(dst, mode)
}
