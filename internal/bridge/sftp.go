package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"

	"github.com/pkg/sftp"
	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"

	"panesync/internal/entry"
)

// sftpSession is an SFTP subsystem over one SSH connection.
type sftpSession struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	startDir   string
}

func dialSFTP(ctx context.Context, params OpenParams) (Session, error) {
	var authMethods []ssh.AuthMethod

	if params.Password != "" {
		authMethods = append(authMethods, ssh.Password(params.Password))
	}

	if len(params.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(params.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method provided")
	}
	if params.HostKeyCallback == nil {
		return nil, fmt.Errorf("no host key callback configured")
	}

	timeout := params.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	sshConfig := &ssh.ClientConfig{
		User:            params.Username,
		Auth:            authMethods,
		HostKeyCallback: params.HostKeyCallback,
		Timeout:         timeout,
	}

	port := params.Port
	if port == 0 {
		port = 22
	}
	address := net.JoinHostPort(params.Host, strconv.Itoa(port))

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &sftpSession{sshClient: sshClient, sftpClient: sftpClient, startDir: params.StartDir}, nil
}

func (s *sftpSession) Kind() Kind { return KindSFTP }

func (s *sftpSession) Home(context.Context) (string, error) {
	if s.startDir != "" {
		return s.startDir, nil
	}
	return s.sftpClient.Getwd()
}

func (s *sftpSession) List(ctx context.Context, dir string) ([]entry.FileEntry, error) {
	infos, err := s.sftpClient.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	files := make([]entry.FileEntry, 0, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files = append(files, s.toEntry(path.Join(dir, info.Name()), info))
	}
	return files, nil
}

func (s *sftpSession) Stat(_ context.Context, p string) (entry.FileEntry, error) {
	info, err := s.sftpClient.Lstat(p)
	if err != nil {
		return entry.FileEntry{}, err
	}
	return s.toEntry(p, info), nil
}

func (s *sftpSession) toEntry(full string, info os.FileInfo) entry.FileEntry {
	e := entry.FileEntry{
		Name:         info.Name(),
		Type:         entry.TypeFile,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Permissions:  info.Mode().String(),
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		e.Type = entry.TypeSymlink
		if target, err := s.sftpClient.ReadLink(full); err == nil {
			e.LinkTarget = target
		}
		if st, err := s.sftpClient.Stat(full); err == nil {
			e.LinkIsDir = st.IsDir()
		}
	case info.IsDir():
		e.Type = entry.TypeDirectory
		e.Size = 0
	}
	return e
}

func (s *sftpSession) Mkdir(_ context.Context, p string) error {
	return s.sftpClient.Mkdir(p)
}

func (s *sftpSession) Remove(ctx context.Context, p string, recursive bool) error {
	info, err := s.sftpClient.Lstat(p)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return s.sftpClient.Remove(p)
	}
	if recursive {
		children, err := s.sftpClient.ReadDir(p)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.Remove(ctx, path.Join(p, child.Name()), true); err != nil {
				return err
			}
		}
	}
	return s.sftpClient.RemoveDirectory(p)
}

func (s *sftpSession) Rename(_ context.Context, from, to string) error {
	return s.sftpClient.Rename(from, to)
}

func (s *sftpSession) Chmod(_ context.Context, p string, mode os.FileMode) error {
	return s.sftpClient.Chmod(p, mode)
}

func (s *sftpSession) OpenReader(_ context.Context, p string) (io.ReadCloser, error) {
	return s.sftpClient.Open(p)
}

func (s *sftpSession) OpenWriter(_ context.Context, p string) (io.WriteCloser, error) {
	return s.sftpClient.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

// Close closes the SFTP and SSH connections.
func (s *sftpSession) Close() error {
	var err error
	if cerr := s.sftpClient.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, fmt.Errorf("SFTP close: %w", cerr))
	}
	if cerr := s.sshClient.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, fmt.Errorf("SSH close: %w", cerr))
	}
	return err
}
