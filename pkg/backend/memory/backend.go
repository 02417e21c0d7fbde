// Package memory implements the in-memory backend: a pure Go file tree
// held in process memory, with no durability and no real command
// execution. It exists so the chat harness and scoped-backend paths can
// run end-to-end without touching disk or a daemon (§1 Non-goals
// excludes the in-memory backend's storage strategy; this is the
// minimal storage that satisfies the Backend contract).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
	"github.com/agentbe/agentbe-go/pkg/backend/scoped"
	"github.com/agentbe/agentbe-go/pkg/pathvalidate"
)

// node is either a file (data non-nil) or a directory (children non-nil).
type node struct {
	data     []byte
	modified time.Time
	children map[string]*node
}

func newDir() *node {
	return &node{children: make(map[string]*node), modified: time.Now()}
}

func (n *node) isDir() bool { return n.children != nil }

// Backend implements agentbe.ParentBackend over an in-memory file tree.
// Every path operation is resolved to a POSIX-style path under RootDir,
// walking the tree segment by segment.
type Backend struct {
	cfg agentbe.MemoryBackendConfig

	mu         sync.Mutex
	root       *node
	destroyed  bool
	scopes     map[agentbe.Backend]struct{}
	closeables map[agentbe.Closeable]struct{}
}

// New creates a memory Backend, starting with an empty root directory.
func New(cfg agentbe.MemoryBackendConfig) *Backend {
	return &Backend{
		cfg:        cfg,
		root:       newDir(),
		scopes:     make(map[agentbe.Backend]struct{}),
		closeables: make(map[agentbe.Closeable]struct{}),
	}
}

func (b *Backend) Type() agentbe.BackendType { return agentbe.BackendTypeMemory }
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
	return pathvalidate.Within(relativePath, b.cfg.RootDir, true)
}

// segments splits a resolved absolute path (always under RootDir) into
// the walk steps below RootDir.
func (b *Backend) segments(resolved string) []string {
	rel := strings.TrimPrefix(resolved, b.cfg.RootDir)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}

// walk locates the node at segments, optionally creating intermediate
// directories.
func (b *Backend) walk(segments []string, create bool) (*node, bool) {
	cur := b.root
	for _, seg := range segments {
		child, ok := cur.children[seg]
		if !ok {
			if !create || !cur.isDir() {
				return nil, false
			}
			child = newDir()
			cur.children[seg] = child
		}
		cur = child
	}
	return cur, true
}

// Exec is not implemented for the in-memory backend: there is no process
// table to run a command against. The core still exposes the method so
// callers (and the scoped-backend wrapper) can treat every backend
// uniformly, and so MCP tool registration doesn't special-case memory.
func (b *Backend) Exec(_ context.Context, command string, _ *agentbe.ExecOptions) (any, error) {
	if strings.TrimSpace(command) == "" {
		return nil, agentbe.NewEmptyCommandError()
	}
	return nil, agentbe.NewError(agentbe.KindNotImplemented,
		"the memory backend has no process to execute commands against", nil)
}

func (b *Backend) Read(_ context.Context, relativePath string, opts *agentbe.ReadOptions) (any, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.walk(b.segments(resolved), false)
	if !ok || n.isDir() {
		return nil, agentbe.NewReadFailedError(relativePath, nil)
	}
	if opts != nil && opts.Encoding == agentbe.EncodingBuffer {
		out := make([]byte, len(n.data))
		copy(out, n.data)
		return out, nil
	}
	return string(n.data), nil
}

func (b *Backend) Write(_ context.Context, relativePath string, data []byte) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	segs := b.segments(resolved)
	if len(segs) == 0 {
		return agentbe.NewWriteFailedError(relativePath, nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	parent, ok := b.walk(segs[:len(segs)-1], true)
	if !ok || !parent.isDir() {
		return agentbe.NewWriteFailedError(relativePath, nil)
	}
	name := segs[len(segs)-1]
	stored := make([]byte, len(data))
	copy(stored, data)
	parent.children[name] = &node{data: stored, modified: time.Now()}
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

	b.mu.Lock()
	defer b.mu.Unlock()

	oldSegs := b.segments(oldResolved)
	if len(oldSegs) == 0 {
		return agentbe.NewWriteFailedError(oldPath, nil)
	}
	oldParent, ok := b.walk(oldSegs[:len(oldSegs)-1], false)
	if !ok {
		return agentbe.NewWriteFailedError(oldPath, nil)
	}
	oldName := oldSegs[len(oldSegs)-1]
	moved, ok := oldParent.children[oldName]
	if !ok {
		return agentbe.NewWriteFailedError(oldPath, nil)
	}

	newSegs := b.segments(newResolved)
	if len(newSegs) == 0 {
		return agentbe.NewWriteFailedError(newPath, nil)
	}
	newParent, ok := b.walk(newSegs[:len(newSegs)-1], true)
	if !ok || !newParent.isDir() {
		return agentbe.NewWriteFailedError(newPath, nil)
	}

	delete(oldParent.children, oldName)
	newParent.children[newSegs[len(newSegs)-1]] = moved
	return nil
}

func (b *Backend) Rm(_ context.Context, relativePath string, opts *agentbe.RmOptions) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	segs := b.segments(resolved)
	if len(segs) == 0 {
		return agentbe.NewWriteFailedError(relativePath, nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	parent, ok := b.walk(segs[:len(segs)-1], false)
	if !ok {
		force := opts != nil && opts.Force
		if force {
			return nil
		}
		return agentbe.NewWriteFailedError(relativePath, nil)
	}
	name := segs[len(segs)-1]
	target, ok := parent.children[name]
	if !ok {
		if opts != nil && opts.Force {
			return nil
		}
		return agentbe.NewWriteFailedError(relativePath, nil)
	}
	if target.isDir() && len(target.children) > 0 && (opts == nil || !opts.Recursive) {
		return agentbe.NewWriteFailedError(relativePath, nil)
	}
	delete(parent.children, name)
	return nil
}

func (b *Backend) Readdir(_ context.Context, relativePath string) ([]string, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.walk(b.segments(resolved), false)
	if !ok || !n.isDir() {
		return nil, agentbe.NewLsFailedError(relativePath, nil)
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) Mkdir(_ context.Context, relativePath string, opts *agentbe.MkdirOptions) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	segs := b.segments(resolved)
	if len(segs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	recursive := true
	if opts != nil {
		recursive = opts.Recursive
	}
	if recursive {
		if _, ok := b.walk(segs, true); !ok {
			return agentbe.NewWriteFailedError(relativePath, nil)
		}
		return nil
	}

	parent, ok := b.walk(segs[:len(segs)-1], false)
	if !ok || !parent.isDir() {
		return agentbe.NewWriteFailedError(relativePath, nil)
	}
	name := segs[len(segs)-1]
	if _, exists := parent.children[name]; exists {
		return agentbe.NewWriteFailedError(relativePath, nil)
	}
	parent.children[name] = newDir()
	return nil
}

func (b *Backend) Touch(_ context.Context, relativePath string) error {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return err
	}
	segs := b.segments(resolved)
	if len(segs) == 0 {
		return agentbe.NewWriteFailedError(relativePath, nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	parent, ok := b.walk(segs[:len(segs)-1], true)
	if !ok || !parent.isDir() {
		return agentbe.NewWriteFailedError(relativePath, nil)
	}
	name := segs[len(segs)-1]
	if existing, ok := parent.children[name]; ok {
		existing.modified = time.Now()
		return nil
	}
	parent.children[name] = &node{data: []byte{}, modified: time.Now()}
	return nil
}

func (b *Backend) Exists(_ context.Context, relativePath string) (bool, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.walk(b.segments(resolved), false)
	return ok, nil
}

func (b *Backend) Stat(_ context.Context, relativePath string) (agentbe.FileStat, error) {
	resolved, err := b.resolve(relativePath)
	if err != nil {
		return agentbe.FileStat{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.walk(b.segments(resolved), false)
	if !ok {
		return agentbe.FileStat{}, agentbe.NewReadFailedError(relativePath, nil)
	}
	return agentbe.FileStat{
		IsFile:      !n.isDir(),
		IsDirectory: n.isDir(),
		Size:        uint64(len(n.data)),
		Modified:    n.modified,
	}, nil
}

// Scope hands out a scoped sub-backend rooted at scopePath.
func (b *Backend) Scope(scopePath string, cfg *agentbe.ScopeConfig) (agentbe.Backend, error) {
	return scoped.New(b, scopePath, cfg)
}

// Destroy destroys every tracked scope and closeable, then discards the
// in-memory tree. There is nothing external to tear down.
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
	b.root = newDir()
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
