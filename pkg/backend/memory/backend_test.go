package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
)

func newTestBackend() *Backend {
	return New(agentbe.MemoryBackendConfig{RootDir: "/workspace"})
}

func TestExec_ReturnsNotImplemented(t *testing.T) {
	b := newTestBackend()
	_, err := b.Exec(context.Background(), "echo hi", nil)
	require.Error(t, err)
	kind, ok := agentbe.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, agentbe.KindNotImplemented, kind)
}

func TestExec_RejectsEmptyCommand(t *testing.T) {
	b := newTestBackend()
	_, err := b.Exec(context.Background(), "  ", nil)
	require.Error(t, err)
	kind, ok := agentbe.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, agentbe.KindEmptyCommand, kind)
}

func TestWriteThenRead_Roundtrips(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Write(context.Background(), "nested/dir/file.txt", []byte("hello")))

	out, err := b.Read(context.Background(), "nested/dir/file.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestRead_BufferEncodingReturnsBytes(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Write(context.Background(), "f.txt", []byte("data")))

	out, err := b.Read(context.Background(), "f.txt", &agentbe.ReadOptions{Encoding: agentbe.EncodingBuffer})
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), out)
}

func TestRead_MissingFileFails(t *testing.T) {
	b := newTestBackend()
	_, err := b.Read(context.Background(), "missing.txt", nil)
	require.Error(t, err)
	kind, ok := agentbe.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, agentbe.KindReadFailed, kind)
}

func TestRead_PathEscapeRejected(t *testing.T) {
	b := newTestBackend()
	_, err := b.Read(context.Background(), "../../etc/passwd", nil)
	require.Error(t, err)
	kind, ok := agentbe.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, agentbe.KindPathEscape, kind)
}

func TestMkdirAndReaddir(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Mkdir(context.Background(), "a/b/c", nil))
	require.NoError(t, b.Touch(context.Background(), "a/b/c/f.txt"))

	entries, err := b.Readdir(context.Background(), "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"f.txt"}, entries)
}

func TestExistsAndStat(t *testing.T) {
	b := newTestBackend()
	ok, err := b.Exists(context.Background(), "missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Write(context.Background(), "present.txt", []byte("abc")))
	ok, err = b.Exists(context.Background(), "present.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	stat, err := b.Stat(context.Background(), "present.txt")
	require.NoError(t, err)
	assert.True(t, stat.IsFile)
	assert.Equal(t, uint64(3), stat.Size)
}

func TestRename_MovesNodeBetweenDirectories(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Write(context.Background(), "old.txt", []byte("x")))
	require.NoError(t, b.Mkdir(context.Background(), "dest", nil))
	require.NoError(t, b.Rename(context.Background(), "old.txt", "dest/new.txt"))

	ok, err := b.Exists(context.Background(), "old.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	out, err := b.Read(context.Background(), "dest/new.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestRm_RefusesNonEmptyDirWithoutRecursive(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Mkdir(context.Background(), "dir", nil))
	require.NoError(t, b.Write(context.Background(), "dir/f.txt", []byte("x")))

	err := b.Rm(context.Background(), "dir", nil)
	require.Error(t, err)

	require.NoError(t, b.Rm(context.Background(), "dir", &agentbe.RmOptions{Recursive: true}))
	ok, err := b.Exists(context.Background(), "dir")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScope_RootsUnderParentAndForwardsOperations(t *testing.T) {
	b := newTestBackend()
	scoped, err := b.Scope("proj", nil)
	require.NoError(t, err)
	assert.Equal(t, "/workspace/proj", scoped.RootDir())

	require.NoError(t, scoped.Write(context.Background(), "a.txt", []byte("hi")))
	out, err := b.Read(context.Background(), "proj/a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestDestroy_IsIdempotentAndDestroysScopes(t *testing.T) {
	b := newTestBackend()
	_, err := b.Scope("proj", nil)
	require.NoError(t, err)

	require.NoError(t, b.Destroy(context.Background()))
	require.NoError(t, b.Destroy(context.Background()))
	assert.Equal(t, agentbe.StatusDestroyed, b.Status())
	assert.Empty(t, b.ListActiveScopes())
}
