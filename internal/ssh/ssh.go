package sshc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const dialTimeout = 10 * time.Second

// HostSpec describes how to reach a peer over SSH.
type HostSpec struct {
	Addr       string
	User       string
	PrivateKey []byte
	Password   string
}

// Validate checks that h names a host and carries at least one
// usable credential.
func (h HostSpec) Validate() error {
	if h.Addr == "" || h.User == "" {
		return errors.New("host addr and user required")
	}
	_, err := h.authMethods()
	return err
}

func (h HostSpec) address() string {
	if strings.Contains(h.Addr, ":") {
		return h.Addr
	}
	return h.Addr + ":22"
}

func (h HostSpec) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if len(h.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(bytes.TrimSpace(h.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if h.Password != "" {
		methods = append(methods, ssh.Password(h.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no auth methods provided")
	}
	return methods, nil
}

// Dial opens an SSH connection. The connection is closed if ctx ends while
// the handshake is still in progress.
func Dial(ctx context.Context, h HostSpec) (*ssh.Client, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	auth, _ := h.authMethods()
	cfg := &ssh.ClientConfig{
		User:            h.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}
	addr := h.address()
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// Run executes cmd on the host and returns its combined output. Cancelling
// ctx tears the connection down, which ends the remote session.
func Run(ctx context.Context, h HostSpec, cmd string) (string, error) {
	client, err := Dial(ctx, h)
	if err != nil {
		return "", err
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()
	var output bytes.Buffer
	sess.Stdout = &output
	sess.Stderr = &output
	if err := sess.Run(fmt.Sprintf("bash -lc %q", cmd)); err != nil {
		if ctx.Err() != nil {
			return output.String(), ctx.Err()
		}
		return output.String(), fmt.Errorf("command failed: %w (output: %s)", err, strings.TrimSpace(output.String()))
	}
	return output.String(), nil
}

// Upload writes data to dst on the host over SFTP, creating parent
// directories as needed.
func Upload(ctx context.Context, h HostSpec, dst string, data []byte, perm os.FileMode) error {
	client, err := Dial(ctx, h)
	if err != nil {
		return err
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("sftp client: %w", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(dst)); err != nil {
		return fmt.Errorf("mkdir %s: %w", path.Dir(dst), err)
	}
	if err := writeRemoteFile(sftpClient, dst, data, perm); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func writeRemoteFile(c *sftp.Client, path string, data []byte, perm os.FileMode) error {
	f, err := c.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("open remote file %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write remote file %s: %w", path, err)
	}
	if err := c.Chmod(path, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}
