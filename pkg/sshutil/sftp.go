package sshutil

import (
	stderrors "errors"
	"io/fs"
	"os"

	"github.com/pkg/sftp"
	"github.com/rileyhilliard/jumpssh/internal/errors"
	"golang.org/x/crypto/ssh"
)

// sftpClient adapts *sftp.Client to SFTPClient, normalizing status errors so
// callers can match them with fs.ErrNotExist and fs.ErrPermission.
type sftpClient struct {
	client *sftp.Client
}

func newSFTPClient(conn *ssh.Client) (*sftpClient, error) {
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			"Couldn't start the sftp subsystem",
			"Check that the server enables sftp (Subsystem sftp in sshd_config).")
	}
	return &sftpClient{client: client}, nil
}

func (c *sftpClient) Open(path string) (RemoteFile, error) {
	f, err := c.client.Open(path)
	if err != nil {
		return nil, normalizeSFTPError("open", path, err)
	}
	return f, nil
}

func (c *sftpClient) Create(path string) (RemoteFile, error) {
	f, err := c.client.Create(path)
	if err != nil {
		return nil, normalizeSFTPError("create", path, err)
	}
	return f, nil
}

func (c *sftpClient) Stat(path string) (os.FileInfo, error) {
	info, err := c.client.Stat(path)
	if err != nil {
		return nil, normalizeSFTPError("stat", path, err)
	}
	return info, nil
}

func (c *sftpClient) Remove(path string) error {
	return normalizeSFTPError("remove", path, c.client.Remove(path))
}

func (c *sftpClient) Chmod(path string, mode os.FileMode) error {
	return normalizeSFTPError("chmod", path, c.client.Chmod(path, mode))
}

func (c *sftpClient) Close() error {
	return c.client.Close()
}

func normalizeSFTPError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, fs.ErrPermission) {
		return err
	}

	var status *sftp.StatusError
	if stderrors.As(err, &status) {
		switch status.Code {
		case uint32(sftp.ErrSSHFxNoSuchFile):
			return &fs.PathError{Op: op, Path: path, Err: fs.ErrNotExist}
		case uint32(sftp.ErrSSHFxPermissionDenied):
			return &fs.PathError{Op: op, Path: path, Err: fs.ErrPermission}
		}
	}
	return err
}
