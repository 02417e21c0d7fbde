// Package scoped implements the scoped sub-backend (C7): a narrower view
// over a parent backend, rooted at a child path, that validates against
// its own effective root before re-forwarding to the parent for a second,
// defence-in-depth validation against the parent's root.
package scoped

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
	"github.com/agentbe/agentbe-go/pkg/pathvalidate"
	"github.com/agentbe/agentbe-go/pkg/safety"
)

// preventDangerousSource is implemented by concrete backends that carry
// their own dangerous-command guard setting, so a scope can inherit it
// when ScopeConfig.PreventDangerous is nil.
type preventDangerousSource interface {
	PreventDangerousEnabled() bool
}

// Backend is a sub-root view over a parent backend (C7). Its lifetime is
// bounded by its parent's: destroying the parent destroys every scope it
// has handed out.
type Backend struct {
	parent        agentbe.ParentBackend
	scopePath     string // relative to parent.RootDir(), posix
	effectiveRoot string // parent.RootDir() joined with scopePath
	cfg           agentbe.ScopeConfig
	checker       safety.Checker

	mu         sync.Mutex
	destroyed  bool
	scopes     map[agentbe.Backend]struct{}
	closeables map[agentbe.Closeable]struct{}
}

// New creates a scoped Backend rooted at join(parent.RootDir(), scopePath).
// scopePath is validated against the parent's root before anything else.
func New(parent agentbe.ParentBackend, scopePath string, cfg *agentbe.ScopeConfig) (*Backend, error) {
	effectiveRoot, err := pathvalidate.Within(scopePath, parent.RootDir(), true)
	if err != nil {
		return nil, err
	}

	var config agentbe.ScopeConfig
	if cfg != nil {
		config = *cfg
	}

	b := &Backend{
		parent:        parent,
		scopePath:     scopePath,
		effectiveRoot: effectiveRoot,
		cfg:           config,
		checker:       safety.NewDefaultChecker(),
		scopes:        make(map[agentbe.Backend]struct{}),
		closeables:    make(map[agentbe.Closeable]struct{}),
	}
	parent.TrackScope(b)
	return b, nil
}

func (b *Backend) Type() agentbe.BackendType        { return b.parent.Type() }
func (b *Backend) RootDir() string                  { return b.effectiveRoot }
func (b *Backend) Status() agentbe.ConnectionStatus { return b.parent.Status() }
func (b *Backend) Config() any                      { return b.cfg }

func (b *Backend) OnStatusChange(cb agentbe.StatusChangeCallback) agentbe.Unsubscribe {
	return b.parent.OnStatusChange(cb)
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
	return out
}

// Scope creates a nested scope, further narrowing this scope's root.
func (b *Backend) Scope(scopePath string, cfg *agentbe.ScopeConfig) (agentbe.Backend, error) {
	return New(b, scopePath, cfg)
}

func (b *Backend) preventDangerous() bool {
	if b.cfg.PreventDangerous != nil {
		return *b.cfg.PreventDangerous
	}
	if src, ok := b.parent.(preventDangerousSource); ok {
		return src.PreventDangerousEnabled()
	}
	return false
}

// forwardPath validates callerPath against this scope's effective root,
// then re-expresses the result relative to the parent's root so the
// parent independently re-validates it against its own boundary.
func (b *Backend) forwardPath(callerPath string) (string, error) {
	resolved, err := pathvalidate.Within(callerPath, b.effectiveRoot, true)
	if err != nil {
		return "", err
	}

	root := path.Clean(b.parent.RootDir())
	resolved = path.Clean(resolved)
	if resolved == root {
		return ".", nil
	}
	prefix := root
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(resolved, prefix) {
		return "", fmt.Errorf("scoped: resolved path %q escaped parent root %q", resolved, root)
	}
	return strings.TrimPrefix(resolved, prefix), nil
}

// Exec applies this scope's own dangerous-command guard, then forwards the
// command to the parent with Cwd resolved inside the scope; the parent's
// Exec applies its own guard as well.
func (b *Backend) Exec(ctx context.Context, command string, opts *agentbe.ExecOptions) (any, error) {
	if strings.TrimSpace(command) == "" {
		return nil, agentbe.NewEmptyCommandError()
	}
	if b.preventDangerous() {
		if b.checker.IsDangerous(command) {
			return nil, agentbe.NewDangerousOperationError(command)
		}
		if result := b.checker.Check(command); !result.Safe {
			return nil, agentbe.NewUnsafeCommandError(command, result.Reason)
		}
	}

	forwarded := agentbe.ExecOptions{}
	if opts != nil {
		forwarded = *opts
	}
	if forwarded.Cwd == "" {
		forwarded.Cwd = b.effectiveRoot
	} else {
		resolved, err := pathvalidate.Within(forwarded.Cwd, b.effectiveRoot, true)
		if err != nil {
			return nil, err
		}
		forwarded.Cwd = resolved
	}

	return b.parent.Exec(ctx, command, &forwarded)
}

func (b *Backend) Read(ctx context.Context, relativePath string, opts *agentbe.ReadOptions) (any, error) {
	forwarded, err := b.forwardPath(relativePath)
	if err != nil {
		return nil, err
	}
	return b.parent.Read(ctx, forwarded, opts)
}

func (b *Backend) Write(ctx context.Context, relativePath string, data []byte) error {
	forwarded, err := b.forwardPath(relativePath)
	if err != nil {
		return err
	}
	return b.parent.Write(ctx, forwarded, data)
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	forwardedOld, err := b.forwardPath(oldPath)
	if err != nil {
		return err
	}
	forwardedNew, err := b.forwardPath(newPath)
	if err != nil {
		return err
	}
	return b.parent.Rename(ctx, forwardedOld, forwardedNew)
}

func (b *Backend) Rm(ctx context.Context, relativePath string, opts *agentbe.RmOptions) error {
	forwarded, err := b.forwardPath(relativePath)
	if err != nil {
		return err
	}
	return b.parent.Rm(ctx, forwarded, opts)
}

func (b *Backend) Readdir(ctx context.Context, relativePath string) ([]string, error) {
	forwarded, err := b.forwardPath(relativePath)
	if err != nil {
		return nil, err
	}
	return b.parent.Readdir(ctx, forwarded)
}

func (b *Backend) Mkdir(ctx context.Context, relativePath string, opts *agentbe.MkdirOptions) error {
	forwarded, err := b.forwardPath(relativePath)
	if err != nil {
		return err
	}
	return b.parent.Mkdir(ctx, forwarded, opts)
}

func (b *Backend) Touch(ctx context.Context, relativePath string) error {
	forwarded, err := b.forwardPath(relativePath)
	if err != nil {
		return err
	}
	return b.parent.Touch(ctx, forwarded)
}

func (b *Backend) Exists(ctx context.Context, relativePath string) (bool, error) {
	forwarded, err := b.forwardPath(relativePath)
	if err != nil {
		return false, err
	}
	return b.parent.Exists(ctx, forwarded)
}

func (b *Backend) Stat(ctx context.Context, relativePath string) (agentbe.FileStat, error) {
	forwarded, err := b.forwardPath(relativePath)
	if err != nil {
		return agentbe.FileStat{}, err
	}
	return b.parent.Stat(ctx, forwarded)
}

// Destroy closes every closeable and nested scope this backend handed
// out, then detaches itself from the parent's active-scope set. It does
// not touch the parent's own connection.
func (b *Backend) Destroy(ctx context.Context) error {
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

	for _, s := range scopes {
		_ = s.Destroy(ctx)
	}
	for _, c := range closeables {
		_ = c.Close()
	}

	b.parent.UntrackScope(b)
	return nil
}

var (
	_ agentbe.ParentBackend = (*Backend)(nil)
)
