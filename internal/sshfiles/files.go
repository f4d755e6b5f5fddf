// Package sshfiles provides SFTP file operations over a session's SSH
// connection: directory listing, small-file read, mkdir/delete/rename,
// download, and remote file handles for chunked uploads.
package sshfiles

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// maxReadSize caps a single file read returned over the gateway socket.
const maxReadSize = 1 << 20 // 1 MiB

// FileEntry describes one remote directory entry.
type FileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"modTime"`
	IsDir   bool      `json:"isDir"`
}

// Client wraps an SFTP subsystem channel multiplexed over an existing SSH
// connection. One Client serves all file operations of a session.
type Client struct {
	sc *sftp.Client
}

// NewClient opens the SFTP subsystem on the given SSH connection.
func NewClient(sshClient *ssh.Client) (*Client, error) {
	sc, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	return &Client{sc: sc}, nil
}

// List returns the entries of a remote directory.
func (c *Client) List(dir string) ([]FileEntry, error) {
	infos, err := c.sc.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	entries := make([]FileEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, FileEntry{
			Name:    fi.Name(),
			Size:    fi.Size(),
			Mode:    fi.Mode().String(),
			ModTime: fi.ModTime(),
			IsDir:   fi.IsDir(),
		})
	}
	return entries, nil
}

// Read returns the contents of a remote file, capped at maxReadSize.
func (c *Client) Read(p string) ([]byte, error) {
	f, err := c.sc.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxReadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if len(data) > maxReadSize {
		return nil, fmt.Errorf("read %s: file exceeds %d bytes", p, maxReadSize)
	}
	return data, nil
}

// Mkdir creates a remote directory, including missing parents.
func (c *Client) Mkdir(p string) error {
	if err := c.sc.MkdirAll(p); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

// Delete removes a remote file or empty directory.
func (c *Client) Delete(p string) error {
	fi, err := c.sc.Stat(p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	if fi.IsDir() {
		err = c.sc.RemoveDirectory(p)
	} else {
		err = c.sc.Remove(p)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

// Rename moves a remote file or directory.
func (c *Client) Rename(oldPath, newPath string) error {
	if err := c.sc.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", oldPath, newPath, err)
	}
	return nil
}

// Create opens a remote file for a chunked upload. The returned handle
// supports random-offset writes, so out-of-order chunks land directly at
// their position.
func (c *Client) Create(targetDir, fileName string) (*sftp.File, string, error) {
	full := path.Join(targetDir, fileName)
	f, err := c.sc.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, "", fmt.Errorf("create %s: %w", full, err)
	}
	return f, full, nil
}

// Remove deletes a remote file, used to release cancelled partial uploads.
func (c *Client) Remove(p string) error {
	return c.sc.Remove(p)
}

// Close shuts down the SFTP channel. The SSH connection stays open.
func (c *Client) Close() error {
	return c.sc.Close()
}
