package pathvalidate

import (
	"testing"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithin_RelativePaths(t *testing.T) {
	cases := []struct {
		name  string
		input string
		root  string
		want  string
	}{
		{"relative file", "file.txt", "/workspace", "/workspace/file.txt"},
		{"relative subdir", "subdir/file.txt", "/workspace", "/workspace/subdir/file.txt"},
		{"dot path", ".", "/workspace", "/workspace"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Within(tc.input, tc.root, true)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWithin_AbsolutePaths(t *testing.T) {
	cases := []struct {
		name  string
		input string
		root  string
		want  string
	}{
		{"matches boundary exactly", "/workspace/file.txt", "/workspace", "/workspace/file.txt"},
		{"matches boundary subdir", "/workspace/a/b/c", "/workspace", "/workspace/a/b/c"},
		{"boundary exact match", "/workspace", "/workspace", "/workspace"},
		{"not matching treated as relative", "/file.txt", "/workspace", "/workspace/file.txt"},
		{"etc passwd treated as relative", "/etc/passwd", "/workspace", "/workspace/etc/passwd"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Within(tc.input, tc.root, true)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWithin_Escapes(t *testing.T) {
	cases := []struct {
		name  string
		input string
		root  string
	}{
		{"parent directory", "../etc/passwd", "/workspace"},
		{"complex traversal", "a/b/../../../../x", "/workspace"},
		{"root traversal", "../../..", "/workspace"},
		{"bare dotdot at shallow root", "..", "/workspace"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Within(tc.input, tc.root, true)
			require.Error(t, err)
			kind, ok := agentbe.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, agentbe.KindPathEscape, kind)
		})
	}
}

func TestWithin_Invariant_ResultIsUnderRoot(t *testing.T) {
	roots := []string{"/workspace", "/var/workspace", "/"}
	inputs := []string{"a.txt", "sub/dir/file", ".", "/workspace/x", "/etc/passwd"}

	for _, root := range roots {
		for _, in := range inputs {
			got, err := Within(in, root, true)
			if err != nil {
				continue
			}
			if root == "/" {
				assert.True(t, len(got) > 0 && got[0] == '/')
				continue
			}
			assert.True(t, got == root || len(got) > len(root) && got[:len(root)+1] == root+"/",
				"result %q not under root %q (input %q)", got, root, in)
		}
	}
}

func TestWithin_PosixModeForcesSlash(t *testing.T) {
	got, err := Within("file.txt", "/workspace", true)
	require.NoError(t, err)
	assert.Equal(t, "/workspace/file.txt", got)
}

func TestAbsoluteWithin(t *testing.T) {
	require.NoError(t, AbsoluteWithin("/workspace/file.txt", "/workspace"))
	require.NoError(t, AbsoluteWithin("/workspace", "/workspace"))

	err := AbsoluteWithin("/etc/passwd", "/workspace")
	require.Error(t, err)
	kind, ok := agentbe.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, agentbe.KindPathEscape, kind)
}
