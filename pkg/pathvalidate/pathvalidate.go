// Package pathvalidate implements the chroot-boundary algorithm shared by
// every Backend implementation (C1): it maps a caller-supplied relative or
// absolute path into a workspace root and refuses escape. Boundary
// enforcement is lexical only — symbolic links are never resolved.
package pathvalidate

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
)

// Within validates input against root and returns an absolute path
// guaranteed lexically inside root, or a *agentbe.Error of kind
// KindPathEscape.
//
// Rules, applied in order (§4.1):
//  1. input absolute and lexically equal to root or a descendant of it:
//     normalise and return.
//  2. input absolute but not under root: treat as relative with its
//     leading separator stripped.
//  3. join the (now relative) input to root; lexically normalise.
//  4. if the result escapes root: fail.
//
// When posix is true, separators are always "/" regardless of host OS —
// used by the remote backend, whose target is always POSIX.
func Within(input, root string, posix bool) (string, error) {
	j := joiner(posix)
	root = j.Clean(root)

	if j.IsAbs(input) {
		clean := j.Clean(input)
		if clean == root || isDescendant(j, clean, root) {
			return clean, nil
		}
		input = strings.TrimPrefix(input, j.Separator())
	}

	joined := j.Clean(j.Join(root, input))
	if joined != root && !isDescendant(j, joined, root) {
		return "", agentbe.NewPathEscapeError(input, root)
	}
	return joined, nil
}

// AbsoluteWithin is a narrower check used when a path is already known to
// be absolute (e.g. an SFTP-reported path) and only needs a containment
// check, not resolution.
func AbsoluteWithin(candidate, root string) error {
	root = path.Clean(root)
	candidate = path.Clean(candidate)
	if candidate == root || isDescendant(posixJoiner{}, candidate, root) {
		return nil
	}
	return agentbe.NewPathEscapeError(candidate, root)
}

func isDescendant(j joinerOps, candidate, root string) bool {
	if root == j.Separator() {
		return strings.HasPrefix(candidate, root)
	}
	return strings.HasPrefix(candidate, root+j.Separator())
}

// joinerOps abstracts over path (always "/") and filepath (host-native)
// so the same algorithm serves both posix and native-path callers.
type joinerOps interface {
	Clean(string) string
	Join(elem ...string) string
	IsAbs(string) bool
	Separator() string
}

type posixJoiner struct{}

func (posixJoiner) Clean(p string) string       { return path.Clean(p) }
func (posixJoiner) Join(elem ...string) string  { return path.Join(elem...) }
func (posixJoiner) IsAbs(p string) bool         { return path.IsAbs(p) }
func (posixJoiner) Separator() string           { return "/" }

type nativeJoiner struct{}

func (nativeJoiner) Clean(p string) string      { return filepath.Clean(p) }
func (nativeJoiner) Join(elem ...string) string { return filepath.Join(elem...) }
func (nativeJoiner) IsAbs(p string) bool        { return filepath.IsAbs(p) }
func (nativeJoiner) Separator() string          { return string(filepath.Separator) }

func joiner(posix bool) joinerOps {
	if posix {
		return posixJoiner{}
	}
	return nativeJoiner{}
}
