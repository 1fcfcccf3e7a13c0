package sshutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
)

// SFTPFileSystem reads and writes files on the remote host over SFTP.
type SFTPFileSystem struct {
	client *Client
	logger *slog.Logger

	mu         sync.RWMutex
	sftpClient *sftp.Client
}

// SFTPOption is a functional option for configuring the SFTPFileSystem.
type SFTPOption func(*SFTPFileSystem)

// WithSFTPLogger sets a custom logger for SFTP operations.
func WithSFTPLogger(logger *slog.Logger) SFTPOption {
	return func(fs *SFTPFileSystem) {
		if logger != nil {
			fs.logger = logger
		}
	}
}

// NewSFTPFileSystem creates a new SFTP-based FileSystem.
func NewSFTPFileSystem(client *Client, opts ...SFTPOption) *SFTPFileSystem {
	fs := &SFTPFileSystem{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Connect connects the SSH client if needed and opens the SFTP session.
func (fs *SFTPFileSystem) Connect(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.sftpClient != nil {
		return nil
	}

	if err := fs.client.Connect(ctx); err != nil {
		return err
	}
	sshConn, err := fs.client.GetConnection()
	if err != nil {
		return fmt.Errorf("getting SSH connection: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshConn)
	if err != nil {
		return fmt.Errorf("creating SFTP client: %w", err)
	}

	fs.sftpClient = sftpClient
	fs.logger.Debug("SFTP session established")
	return nil
}

// Close closes the SFTP session but not the SSH connection.
func (fs *SFTPFileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.sftpClient == nil {
		return nil
	}
	err := fs.sftpClient.Close()
	fs.sftpClient = nil
	return err
}

func (fs *SFTPFileSystem) getSFTP() (*sftp.Client, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.sftpClient == nil {
		return nil, ErrNotConnected
	}
	return fs.sftpClient, nil
}

// ReadFile reads a remote file. A missing file yields an error matching os.ErrNotExist.
func (fs *SFTPFileSystem) ReadFile(name string) ([]byte, error) {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return nil, err
	}

	file, err := sftpClient.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %w", name, err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", name, err)
	}
	return data, nil
}

// WriteFile replaces name atomically: the data is written to a temporary
// file in the same directory which is then renamed over the target.
func (fs *SFTPFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return err
	}

	dir := path.Dir(name)
	if dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("creating parent directory %s: %w", dir, err)
		}
	}

	tmp := path.Join(dir, "."+path.Base(name)+".tmp-"+strconv.FormatInt(time.Now().UnixNano(), 36))
	if err := fs.writeTemp(sftpClient, tmp, data, perm); err != nil {
		_ = sftpClient.Remove(tmp)
		return err
	}

	if err := sftpClient.PosixRename(tmp, name); err != nil {
		fs.logger.Debug("posix rename unavailable, falling back", slog.String("error", err.Error()))
		_ = sftpClient.Remove(name)
		if err := sftpClient.Rename(tmp, name); err != nil {
			_ = sftpClient.Remove(tmp)
			return fmt.Errorf("renaming %s to %s: %w", tmp, name, err)
		}
	}

	fs.logger.Debug("file written",
		slog.String("path", name),
		slog.Int("bytes", len(data)),
	)
	return nil
}

func (fs *SFTPFileSystem) writeTemp(sftpClient *sftp.Client, tmp string, data []byte, perm os.FileMode) error {
	file, err := sftpClient.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("opening file %s for write: %w", tmp, err)
	}

	n, err := file.Write(data)
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("writing to file %s: %w", tmp, err)
	}
	if n != len(data) {
		_ = file.Close()
		return fmt.Errorf("short write to file %s: wrote %d of %d bytes", tmp, n, len(data))
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}

	if err := sftpClient.Chmod(tmp, perm); err != nil {
		fs.logger.Warn("failed to set file permissions",
			slog.String("path", tmp),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
