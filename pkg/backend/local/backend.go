// Package local implements the local-filesystem backend: file operations
// and command execution directly against the host OS, rooted at a
// configured directory. It exists so the chat harness and scoped-backend
// paths can run end-to-end without a remote daemon (§1 Non-goals excludes
// sandboxing and isolation; this backend never attempts either).
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
	"github.com/agentbe/agentbe-go/pkg/backend/scoped"
	"github.com/agentbe/agentbe-go/pkg/pathvalidate"
	"github.com/agentbe/agentbe-go/pkg/safety"
)

// commandRunner is the narrow process-execution surface Backend depends
// on. execRunner implements it over os/exec; tests substitute a fake so
// Exec's framing and truncation logic is checkable without a real shell.
type commandRunner interface {
	Run(ctx context.Context, shellPath, cwd string, env []string, command string) (output string, exitCode int, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, shellPath, cwd string, env []string, command string) (string, int, error) {
	cmd := exec.CommandContext(ctx, shellPath, "-c", command)
	cmd.Dir = cwd
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode(), nil
	}
	return string(out), -1, err
}

// Backend implements agentbe.ParentBackend directly against the local
// filesystem and process table.
type Backend struct {
	cfg     agentbe.LocalFilesystemBackendConfig
	run     commandRunner
	checker safety.Checker

	mu         sync.Mutex
	destroyed  bool
	scopes     map[agentbe.Backend]struct{}
	closeables map[agentbe.Closeable]struct{}
}

// New creates a local Backend rooted at cfg.RootDir. Unlike the remote
// backend there is no connection lifecycle: the backend is connected for
// as long as it is not destroyed.
func New(cfg agentbe.LocalFilesystemBackendConfig, checker safety.Checker) *Backend {
	if checker == nil {
		checker = safety.NewDefaultChecker()
	}
	return &Backend{
		cfg:        cfg,
		run:        execRunner{},
		checker:    checker,
		scopes:     make(map[agentbe.Backend]struct{}),
		closeables: make(map[agentbe.Closeable]struct{}),
	}
}

func (b *Backend) Type() agentbe.BackendType { return agentbe.BackendTypeLocalFilesystem }
func (b *Backend) RootDir() string           { return b.cfg.RootDir }
func (b *Backend) Config() any               { return b.cfg }

func (b *Backend) Status() agentbe.ConnectionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return agentbe.StatusDestroyed
	}
	return agentbe.StatusConnected
}

// OnStatusChange is a no-op: a local backend never transitions status
// outside of destruction, so there is nothing to subscribe to.
func (b *Backend) OnStatusChange(agentbe.StatusChangeCallback) agentbe.Unsubscribe {
	return func() {}
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

func (b *Backend) resolve(relativePath string) (string, error) {
	return pathvalidate.Within(relativePath, b.cfg.RootDir, false)
}

func (b *Backend) shellPath() string {
	switch b.cfg.Shell {
	case agentbe.ShellBash:
		return "/bin/bash"
	case agentbe.ShellSh:
		return "/bin/sh"
	default:
		if path, err := exec.LookPath("bash"); err == nil {
			return path
		}
		return "/bin/sh"
	}
}

// Exec runs command under the configured shell, rooted at cwd (or
// RootDir). Env vars are validated per §9.2 rather than shell-escaped.
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

	cwd := b.cfg.RootDir
	encoding := agentbe.EncodingUTF8
	env := os.Environ()
	if opts != nil {
		if opts.Cwd != "" {
			resolved, err := b.resolve(opts.Cwd)
			if err != nil {
				return nil, err
			}
			cwd = resolved
		}
		if opts.Encoding != "" {
			encoding = opts.Encoding
		}
		for k, v := range opts.Env {
			if err := safety.ValidateEnvKey(k); err != nil {
				return nil, agentbe.NewUnsafeCommandError(command, err.Error())
			}
			env = append(env, k+"="+v)
		}
	}
	env = append(env, "HOME="+cwd)

	output, exitCode, err := b.run.Run(ctx, b.shellPath(), cwd, env, command)
	if err != nil {
		return nil, agentbe.NewExecFailedError(command, -1, err.Error())
	}
	if exitCode != 0 {
		return nil, agentbe.NewExecFailedError(command, exitCode, strings.TrimSpace(output))
	}

	output = strings.TrimSpace(output)
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

func (b *Backend) Read(_ context.Context, relativePath string, opts *agentbe.ReadOptions) (any, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, agentbe.NewReadFailedError(relativePath, err)
	}
	if opts != nil && opts.Encoding == agentbe.EncodingBuffer {
		return data, nil
	}
	return string(data), nil
}

func (b *Backend) Write(_ context.Context, relativePath string, data []byte) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}
	return nil
}

func (b *Backend) Rename(_ context.Context, oldPath, newPath string) error {
	oldResolved, err := b.resolve(oldPath)
	if err != nil {
		return err
	}
	newResolved, err := b.resolve(newPath)
	if err != nil {
		return err
	}
	if err := os.Rename(oldResolved, newResolved); err != nil {
		return agentbe.NewWriteFailedError(oldPath, err)
	}
	return nil
}

func (b *Backend) Rm(_ context.Context, relativePath string, opts *agentbe.RmOptions) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	recursive, force := false, false
	if opts != nil {
		recursive, force = opts.Recursive, opts.Force
	}

	var err2 error
	switch {
	case recursive:
		err2 = os.RemoveAll(resolved)
	default:
		err2 = os.Remove(resolved)
	}
	if err2 != nil && !(force && os.IsNotExist(err2)) {
		return agentbe.NewWriteFailedError(relativePath, err2)
	}
	return nil
}

func (b *Backend) Readdir(_ context.Context, relativePath string) ([]string, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
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

func (b *Backend) Mkdir(_ context.Context, relativePath string, opts *agentbe.MkdirOptions) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	recursive := true
	if opts != nil {
		recursive = opts.Recursive
	}
	var err2 error
	if recursive {
		err2 = os.MkdirAll(resolved, 0o755)
	} else {
		err2 = os.Mkdir(resolved, 0o755)
	}
	if err2 != nil {
		return agentbe.NewWriteFailedError(relativePath, err2)
	}
	return nil
}

// Touch creates relativePath if absent, or updates its mtime if present.
func (b *Backend) Touch(_ context.Context, relativePath string) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(resolved); statErr == nil {
		now := time.Now()
		if err := os.Chtimes(resolved, now, now); err != nil {
			return agentbe.NewWriteFailedError(relativePath, err)
		}
		return nil
	}
	f, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return agentbe.NewWriteFailedError(relativePath, err)
	}
	_ = f.Close()
	return nil
}

func (b *Backend) Exists(_ context.Context, relativePath string) (bool, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(resolved); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, agentbe.NewReadFailedError(relativePath, err)
	}
	return true, nil
}

func (b *Backend) Stat(_ context.Context, relativePath string) (agentbe.FileStat, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return agentbe.FileStat{}, err
	}
	info, err := os.Stat(resolved)
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

// Destroy destroys every tracked scope and closeable. There is no
// transport to tear down, so this mostly exists to make the backend's
// lifecycle uniform with remote.Backend's.
func (b *Backend) Destroy(_ context.Context) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil
	}
	b.destroyed = true
	scopes := make([]agentbe.Backend, 0, len(b.scopes))
	for s := range b.scopes {
		scopes = append(scopes, s)
	}
	closeables := make([]agentbe.Closeable, 0, len(b.closeables))
	for c := range b.closeables {
		closeables = append(closeables, c)
	}
	b.mu.Unlock()

	ctx := context.Background()
	for _, s := range scopes {
		_ = s.Destroy(ctx)
	}
	for _, c := range closeables {
		_ = c.Close()
	}
	return nil
}

var _ agentbe.ParentBackend = (*Backend)(nil)
