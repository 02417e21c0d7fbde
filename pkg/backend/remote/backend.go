// Package remote implements the remote-filesystem backend (C6): file
// operations and command execution on a remote host reached over
// SSH-over-WebSocket, using SFTP for the file half and SSH exec for the
// command half.
package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
	"github.com/agentbe/agentbe-go/pkg/backend/scoped"
	"github.com/agentbe/agentbe-go/pkg/logger"
	"github.com/agentbe/agentbe-go/pkg/pathvalidate"
	"github.com/agentbe/agentbe-go/pkg/reconnect"
	"github.com/agentbe/agentbe-go/pkg/safety"
	"github.com/agentbe/agentbe-go/pkg/status"
	"github.com/agentbe/agentbe-go/pkg/transport/sshsftp"
	"github.com/agentbe/agentbe-go/pkg/transport/wstunnel"
)

// sftpOps is the narrow SFTP surface Backend depends on. sftpAdapter
// implements it over a real *sftp.Client; tests substitute a fake.
type sftpOps interface {
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	Mkdir(path string) error
	MkdirAll(path string) error
	ReadDir(path string) ([]os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
	Rename(oldname, newname string) error
	Remove(path string) error
	RemoveDirectory(path string) error
	Close() error
}

type sftpAdapter struct{ c *sftp.Client }

func (a sftpAdapter) Open(p string) (io.ReadCloser, error)   { return a.c.Open(p) }
func (a sftpAdapter) Create(p string) (io.WriteCloser, error) { return a.c.Create(p) }
func (a sftpAdapter) Mkdir(p string) error                    { return a.c.Mkdir(p) }
func (a sftpAdapter) MkdirAll(p string) error                 { return a.c.MkdirAll(p) }
func (a sftpAdapter) ReadDir(p string) ([]os.FileInfo, error) { return a.c.ReadDir(p) }
func (a sftpAdapter) Stat(p string) (os.FileInfo, error)      { return a.c.Stat(p) }
func (a sftpAdapter) Rename(o, n string) error                { return a.c.Rename(o, n) }
func (a sftpAdapter) Remove(p string) error                   { return a.c.Remove(p) }
func (a sftpAdapter) RemoveDirectory(p string) error          { return a.c.RemoveDirectory(p) }
func (a sftpAdapter) Close() error                            { return a.c.Close() }

// commandRunner is the narrow SSH-exec surface Backend depends on.
type commandRunner interface {
	Run(cmd string) (sshsftp.RunResult, error)
}

// remoteSession bundles one live connection's exec and SFTP surfaces.
// Production code is backed by a *sshsftp.Session; tests substitute a
// fake session that needs neither a network nor an SSH server.
type remoteSession interface {
	commandRunner
	SFTP() (sftpOps, error)
	Close() error
}

type liveSession struct{ s *sshsftp.Session }

func (l liveSession) Run(cmd string) (sshsftp.RunResult, error) { return l.s.Run(cmd) }

func (l liveSession) SFTP() (sftpOps, error) {
	c, err := l.s.SFTP()
	if err != nil {
		return nil, err
	}
	return sftpAdapter{c}, nil
}

func (l liveSession) Close() error { return l.s.Close() }

// dialer establishes a new remoteSession. Backend's default dialer
// composes wstunnel + sshsftp; tests inject a fake.
type dialer func(ctx context.Context) (remoteSession, error)

func defaultDialer(cfg agentbe.RemoteFilesystemBackendConfig) dialer {
	return func(ctx context.Context) (remoteSession, error) {
		wsURL := fmt.Sprintf("ws://%s:%d/ssh", cfg.Host, cfg.Port)
		conn, err := wstunnel.Dial(ctx, wsURL, cfg.AuthToken)
		if err != nil {
			return nil, err
		}
		sess, err := sshsftp.Dial(ctx, conn, cfg.AuthToken, cfg.Keepalive)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return liveSession{sess}, nil
	}
}

// Backend implements agentbe.ParentBackend against a remote host.
type Backend struct {
	id      string
	cfg     agentbe.RemoteFilesystemBackendConfig
	dial    dialer
	checker safety.Checker

	statusMgr *status.Manager
	reconnect *reconnect.Controller

	mu         sync.Mutex
	session    remoteSession
	closeables map[agentbe.Closeable]struct{}
	scopes     map[agentbe.Backend]struct{}
}

// New creates a remote Backend, starting disconnected. Connect happens
// lazily on first use, matching C6's ensure-connected contract.
func New(cfg agentbe.RemoteFilesystemBackendConfig, checker safety.Checker) *Backend {
	if checker == nil {
		checker = safety.NewDefaultChecker()
	}
	b := &Backend{
		id:         uuid.NewString(),
		cfg:        cfg,
		dial:       defaultDialer(cfg),
		checker:    checker,
		statusMgr:  status.New(agentbe.StatusDisconnected),
		closeables: make(map[agentbe.Closeable]struct{}),
		scopes:     make(map[agentbe.Backend]struct{}),
	}
	b.reconnect = reconnect.New(cfg.Reconnection, func() error {
		return b.connect(context.Background())
	}, func(time.Duration) {
		b.statusMgr.Set(agentbe.StatusReconnecting, nil)
	})
	return b
}

func (b *Backend) Type() agentbe.BackendType        { return agentbe.BackendTypeRemoteFilesystem }
func (b *Backend) RootDir() string                  { return b.cfg.RootDir }
func (b *Backend) Status() agentbe.ConnectionStatus { return b.statusMgr.Status() }
func (b *Backend) Config() any                      { return b.cfg }

func (b *Backend) OnStatusChange(cb agentbe.StatusChangeCallback) agentbe.Unsubscribe {
	return b.statusMgr.Subscribe(cb)
}

func (b *Backend) TrackCloseable(c agentbe.Closeable) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeables[c] = struct{}{}
}

func (b *Backend) TrackScope(child agentbe.Backend) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scopes[child] = struct{}{}
}

func (b *Backend) UntrackScope(child agentbe.Backend) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.scopes, child)
}

func (b *Backend) ListActiveScopes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.scopes))
	for s := range b.scopes {
		out = append(out, s.RootDir())
	}
	sort.Strings(out)
	return out
}

// connect dials a fresh session, replacing any prior one.
func (b *Backend) connect(ctx context.Context) error {
	logger.Debugf("backend %s: connecting to %s:%d", b.id, b.cfg.Host, b.cfg.Port)
	b.statusMgr.Set(agentbe.StatusConnecting, nil)
	sess, err := b.dial(ctx)
	if err != nil {
		logger.Warnf("backend %s: connect failed: %v", b.id, err)
		b.statusMgr.Set(agentbe.StatusDisconnected, err)
		if b.cfg.Reconnection.Enabled {
			b.reconnect.ScheduleReconnect()
		}
		return err
	}

	b.mu.Lock()
	b.session = sess
	b.mu.Unlock()

	logger.Infof("backend %s: connected to %s:%d", b.id, b.cfg.Host, b.cfg.Port)
	b.statusMgr.Set(agentbe.StatusConnected, nil)
	b.reconnect.NotifyConnected()
	return nil
}

func (b *Backend) ensureConnected(ctx context.Context) (remoteSession, error) {
	if b.statusMgr.Status() == agentbe.StatusDestroyed {
		return nil, agentbe.NewConnectionClosedError()
	}

	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()

	if b.statusMgr.Status() == agentbe.StatusConnected && sess != nil {
		return sess, nil
	}

	if err := b.connect(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	sess = b.session
	b.mu.Unlock()
	return sess, nil
}

func (b *Backend) resolve(relativePath string) (string, error) {
	return pathvalidate.Within(relativePath, b.cfg.RootDir, true)
}

// Exec runs command on the remote host inside cwd (or the root), with
// the caller's env vars prefixed in, via a single SSH exec channel.
func (b *Backend) Exec(ctx context.Context, command string, opts *agentbe.ExecOptions) (any, error) {
	if strings.TrimSpace(command) == "" {
		return nil, agentbe.NewEmptyCommandError()
	}

	if b.cfg.PreventDangerous {
		if b.checker.IsDangerous(command) {
			return nil, agentbe.NewDangerousOperationError(command)
		}
		if result := b.checker.Check(command); !result.Safe {
			return nil, agentbe.NewUnsafeCommandError(command, result.Reason)
		}
	}

	sess, err := b.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	cwd := b.cfg.RootDir
	encoding := agentbe.EncodingUTF8
	var env map[string]string
	if opts != nil {
		if opts.Cwd != "" {
			cwd = opts.Cwd
		}
		env = opts.Env
		if opts.Encoding != "" {
			encoding = opts.Encoding
		}
	}

	envStr := ""
	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for _, k := range keys {
			if err := safety.ValidateEnvKey(k); err != nil {
				return nil, agentbe.NewUnsafeCommandError(command, err.Error())
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(env[k])
			sb.WriteByte(' ')
		}
		envStr = sb.String()
	}

	fullCommand := fmt.Sprintf("cd %s && HOME=%s %s%s", cwd, cwd, envStr, command)

	result, err := sess.Run(fullCommand)
	if err != nil {
		return nil, agentbe.NewExecFailedError(command, -1, err.Error())
	}

	if result.ExitCode != 0 {
		errMsg := strings.TrimSpace(result.Output)
		return nil, agentbe.NewExecFailedError(command, result.ExitCode, errMsg)
	}

	output := strings.TrimSpace(result.Output)
	if b.cfg.MaxOutputLength > 0 && len(output) > b.cfg.MaxOutputLength {
		truncatedLength := b.cfg.MaxOutputLength - 50
		if truncatedLength < 0 {
			truncatedLength = 0
		}
		output = fmt.Sprintf("%s\n\n... [Output truncated. Full output was %d characters, showing first %d]",
			output[:truncatedLength], len(output), truncatedLength)
	}

	if encoding == agentbe.EncodingBuffer {
		return []byte(output), nil
	}
	return output, nil
}

// Read downloads relativePath's contents over SFTP.
func (b *Backend) Read(ctx context.Context, relativePath string, opts *agentbe.ReadOptions) (any, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return nil, err
	}
	fullPath := path.Clean(resolved)

	sess, err := b.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	sftpC, err := sess.SFTP()
	if err != nil {
		return nil, agentbe.NewReadFailedError(relativePath, err)
	}

	f, err := sftpC.Open(fullPath)
	if err != nil {
		return nil, agentbe.NewReadFailedError(relativePath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, agentbe.NewReadFailedError(relativePath, err)
	}

	encoding := agentbe.EncodingUTF8
	if opts != nil && opts.Encoding != "" {
		encoding = opts.Encoding
	}
	if encoding == agentbe.EncodingBuffer {
		return data, nil
	}
	return string(data), nil
}

// Write uploads content to relativePath, first creating the parent
// directory if needed. The SFTP server is chrooted to RootDir, so the
// makedirs call must use a workspace-relative path while the open call
// uses the absolute path — mixing these up silently writes or mkdirs in
// the wrong place.
func (b *Backend) Write(ctx context.Context, relativePath string, content []byte) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	fullPath := path.Clean(resolved)

	sess, err := b.ensureConnected(ctx)
	if err != nil {
		return err
	}
	sftpC, err := sess.SFTP()
	if err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}

	parent := path.Dir(fullPath)
	relParent, err := pathRelativeTo(parent, b.cfg.RootDir)
	if err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}
	if relParent != "." {
		if err := sftpC.MkdirAll(relParent); err != nil {
			return agentbe.NewWriteFailedError(relativePath, err)
		}
	}

	f, err := sftpC.Create(fullPath)
	if err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}
	return nil
}

func pathRelativeTo(target, root string) (string, error) {
	target = path.Clean(target)
	root = path.Clean(root)
	if target == root {
		return ".", nil
	}
	prefix := root
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(target, prefix) {
		return "", fmt.Errorf("path %q is not under root %q", target, root)
	}
	return strings.TrimPrefix(target, prefix), nil
}

// Rename renames oldPath to newPath via SFTP.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	oldResolved, err := b.resolve(oldPath)
	if err != nil {
		return err
	}
	newResolved, err := b.resolve(newPath)
	if err != nil {
		return err
	}

	sess, err := b.ensureConnected(ctx)
	if err != nil {
		return err
	}
	sftpC, err := sess.SFTP()
	if err != nil {
		return agentbe.NewWriteFailedError(oldPath, err)
	}
	if err := sftpC.Rename(oldResolved, newResolved); err != nil {
		return agentbe.NewWriteFailedError(oldPath, err)
	}
	return nil
}

// Rm deletes relativePath by running rm over SSH, matching the daemon's
// shell-level delete semantics rather than SFTP's structured remove.
func (b *Backend) Rm(ctx context.Context, relativePath string, opts *agentbe.RmOptions) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}

	sess, err := b.ensureConnected(ctx)
	if err != nil {
		return err
	}

	recursive, force := false, false
	if opts != nil {
		recursive, force = opts.Recursive, opts.Force
	}

	var cmd string
	switch {
	case recursive && force:
		cmd = "rm -rf " + resolved
	case recursive:
		cmd = "rm -r " + resolved
	case force:
		cmd = "rm -f " + resolved
	default:
		cmd = "rm " + resolved
	}

	result, err := sess.Run(cmd)
	if err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}
	if result.ExitCode != 0 && !force {
		return agentbe.NewWriteFailedError(relativePath, fmt.Errorf("%s", strings.TrimSpace(result.Output)))
	}
	return nil
}

// Readdir lists relativePath's entries, sorted, via SFTP.
func (b *Backend) Readdir(ctx context.Context, relativePath string) ([]string, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return nil, err
	}
	fullPath := path.Clean(resolved)

	sess, err := b.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	sftpC, err := sess.SFTP()
	if err != nil {
		return nil, agentbe.NewLsFailedError(relativePath, err)
	}

	entries, err := sftpC.ReadDir(fullPath)
	if err != nil {
		return nil, agentbe.NewLsFailedError(relativePath, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Mkdir creates relativePath, recursively by default. The recursive path
// has the same chroot-relative footgun as Write.
func (b *Backend) Mkdir(ctx context.Context, relativePath string, opts *agentbe.MkdirOptions) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	fullPath := path.Clean(resolved)

	sess, err := b.ensureConnected(ctx)
	if err != nil {
		return err
	}
	sftpC, err := sess.SFTP()
	if err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}

	recursive := true
	if opts != nil {
		recursive = opts.Recursive
	}

	if recursive {
		relPath, err := pathRelativeTo(fullPath, b.cfg.RootDir)
		if err != nil {
			return agentbe.NewWriteFailedError(relativePath, err)
		}
		if err := sftpC.MkdirAll(relPath); err != nil {
			return agentbe.NewWriteFailedError(relativePath, err)
		}
		return nil
	}
	if err := sftpC.Mkdir(fullPath); err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}
	return nil
}

// Touch creates an empty file (or updates its mtime) via SSH.
func (b *Backend) Touch(ctx context.Context, relativePath string) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	sess, err := b.ensureConnected(ctx)
	if err != nil {
		return err
	}
	result, err := sess.Run("touch " + resolved)
	if err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}
	if result.ExitCode != 0 {
		return agentbe.NewWriteFailedError(relativePath, fmt.Errorf("%s", strings.TrimSpace(result.Output)))
	}
	return nil
}

// Exists reports whether relativePath exists, via `test -e`.
func (b *Backend) Exists(ctx context.Context, relativePath string) (bool, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return false, err
	}
	sess, err := b.ensureConnected(ctx)
	if err != nil {
		return false, err
	}
	result, err := sess.Run("test -e " + resolved)
	if err != nil {
		return false, agentbe.NewReadFailedError(relativePath, err)
	}
	return result.ExitCode == 0, nil
}

// Stat returns file metadata via SFTP.
func (b *Backend) Stat(ctx context.Context, relativePath string) (agentbe.FileStat, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return agentbe.FileStat{}, err
	}
	fullPath := path.Clean(resolved)

	sess, err := b.ensureConnected(ctx)
	if err != nil {
		return agentbe.FileStat{}, err
	}
	sftpC, err := sess.SFTP()
	if err != nil {
		return agentbe.FileStat{}, agentbe.NewReadFailedError(relativePath, err)
	}

	info, err := sftpC.Stat(fullPath)
	if err != nil {
		return agentbe.FileStat{}, agentbe.NewReadFailedError(relativePath, err)
	}

	return agentbe.FileStat{
		IsFile:      !info.IsDir(),
		IsDirectory: info.IsDir(),
		Size:        uint64(info.Size()),
		Modified:    info.ModTime(),
	}, nil
}

// Scope hands out a scoped sub-backend rooted at scopePath.
func (b *Backend) Scope(scopePath string, cfg *agentbe.ScopeConfig) (agentbe.Backend, error) {
	return scoped.New(b, scopePath, cfg)
}

// PreventDangerousEnabled lets a scoped child inherit this backend's
// dangerous-command guard setting when its own ScopeConfig is silent.
func (b *Backend) PreventDangerousEnabled() bool { return b.cfg.PreventDangerous }

// Destroy cancels any pending reconnect, destroys every tracked closeable
// and active scope, then tears down the live session. It is safe to call
// more than once.
func (b *Backend) Destroy(ctx context.Context) error {
	b.reconnect.Destroy()

	b.mu.Lock()
	scopes := make([]agentbe.Backend, 0, len(b.scopes))
	for s := range b.scopes {
		scopes = append(scopes, s)
	}
	closeables := make([]agentbe.Closeable, 0, len(b.closeables))
	for c := range b.closeables {
		closeables = append(closeables, c)
	}
	sess := b.session
	b.session = nil
	b.mu.Unlock()

	for _, s := range scopes {
		_ = s.Destroy(ctx)
	}
	for _, c := range closeables {
		_ = c.Close()
	}

	b.statusMgr.Set(agentbe.StatusDestroyed, nil)
	b.statusMgr.ClearListeners()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

var _ agentbe.ParentBackend = (*Backend)(nil)
