// Package sshsftp drives an SSH session (and, lazily, an SFTP subsystem)
// over an already-established byte-stream connection, typically a
// wstunnel.Tunnel (C3). The daemon accepts a fixed identity: username
// "agent", password set to the caller's auth token, and disables host-key
// verification since the transport itself (WebSocket + bearer token) is
// the trust boundary.
package sshsftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
)

const sshUsername = "agent"

// sshSession and sshConn are the narrow surfaces Session depends on.
// Production code satisfies them with *ssh.Session and *ssh.Client (via
// clientAdapter); tests substitute fakes without a real SSH server.
type sshSession interface {
	Run(cmd string) error
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

type sshConn interface {
	NewSession() (sshSession, error)
	Close() error
}

// RunResult carries the outcome of a command run over the SSH session.
type RunResult struct {
	Output   string
	ExitCode int
}

// clientAdapter wraps *ssh.Client to satisfy sshConn, since *ssh.Session
// (from NewSession) already satisfies sshSession structurally.
type clientAdapter struct{ *ssh.Client }

func (c clientAdapter) NewSession() (sshSession, error) {
	return c.Client.NewSession()
}

// Session owns one SSH connection over a caller-supplied net.Conn and
// lazily starts at most one SFTP subsystem on top of it.
type Session struct {
	conn    sshConn
	underly net.Conn

	keepaliveStop chan struct{}

	mu   sync.Mutex
	sftp *sftp.Client
}

// Dial performs the SSH handshake over conn (already connected, e.g. a
// wstunnel.Tunnel) using the fixed agentbe daemon identity.
func Dial(ctx context.Context, conn net.Conn, authToken string, keepalive agentbe.KeepaliveConfig) (*Session, error) {
	cfg := &ssh.ClientConfig{
		User:            sshUsername,
		Auth:            []ssh.AuthMethod{ssh.Password(authToken)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	sshConnRaw, chans, reqs, err := ssh.NewClientConn(conn, "agentbe-daemon", cfg)
	if err != nil {
		return nil, fmt.Errorf("sshsftp: handshake failed: %w", err)
	}
	client := ssh.NewClient(sshConnRaw, chans, reqs)

	s := &Session{conn: clientAdapter{client}, underly: conn}
	if keepalive.IntervalMs > 0 {
		s.keepaliveStop = make(chan struct{})
		go s.keepaliveLoop(client, keepalive, s.keepaliveStop)
	}
	return s, nil
}

func (s *Session) keepaliveLoop(client *ssh.Client, cfg agentbe.KeepaliveConfig, stop <-chan struct{}) {
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@agentbe", true, nil); err != nil {
				missed++
				if cfg.CountThreshold > 0 && missed >= cfg.CountThreshold {
					client.Close()
					return
				}
				continue
			}
			missed = 0
		}
	}
}

// Run executes cmd in a fresh SSH session and returns its combined
// stdout+stderr along with the process exit code, matching the daemon's
// single-channel exec protocol. A non-zero exit is not itself an error:
// only a transport or protocol failure is returned as err.
func (s *Session) Run(cmd string) (RunResult, error) {
	sess, err := s.conn.NewSession()
	if err != nil {
		return RunResult{}, fmt.Errorf("sshsftp: new session: %w", err)
	}
	defer sess.Close()

	out, err := sess.CombinedOutput(cmd)
	result := RunResult{Output: string(out)}
	if err == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	return result, fmt.Errorf("sshsftp: run %q: %w", cmd, err)
}

// SFTP returns the cached SFTP client, starting the subsystem on first
// use.
func (s *Session) SFTP() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sftp != nil {
		return s.sftp, nil
	}

	client, ok := s.conn.(clientAdapter)
	if !ok {
		return nil, fmt.Errorf("sshsftp: SFTP unavailable on a fake connection")
	}
	sc, err := sftp.NewClient(client.Client)
	if err != nil {
		return nil, fmt.Errorf("sshsftp: start sftp subsystem: %w", err)
	}
	s.sftp = sc
	return s.sftp, nil
}

// Close tears down SFTP (if started), then the SSH connection, then the
// underlying transport, in that order. It is safe to call more than
// once.
func (s *Session) Close() error {
	s.mu.Lock()
	sftpClient := s.sftp
	s.sftp = nil
	s.mu.Unlock()

	if s.keepaliveStop != nil {
		select {
		case <-s.keepaliveStop:
		default:
			close(s.keepaliveStop)
		}
	}

	var firstErr error
	if sftpClient != nil {
		if err := sftpClient.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.conn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.underly != nil {
		if err := s.underly.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ io.Closer = (*Session)(nil)
