// Package pathsafety validates relative paths a peer claims over the
// wire (an attachment filename, a bootstrap transfer's file path) before
// they're joined onto a local directory, the one shared defense against
// a malicious or buggy peer writing outside the intended folder.
package pathsafety

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is wrapped into every rejection reason Validate returns.
var ErrUnsafePath = errors.New("pathsafety: unsafe relative path")

// Validate rejects a relative path claimed by a peer unless it is
// confined to base: no "..", no absolute path or Windows drive letter,
// no percent-encoded traversal, and the canonicalized result must still
// live under base. Grounded in the same small-independently-tested-
// validator shape as the teacher's packet/header validators, generalized
// from wire-field checks to filesystem paths.
func Validate(base, relativePath string) (string, error) {
	if relativePath == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}

	if decoded, err := url.QueryUnescape(relativePath); err == nil && decoded != relativePath {
		if strings.Contains(decoded, "..") {
			return "", fmt.Errorf("%w: percent-encoded traversal in %q", ErrUnsafePath, relativePath)
		}
	}

	clean := filepath.ToSlash(filepath.Clean(relativePath))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: traversal in %q", ErrUnsafePath, relativePath)
	}
	if filepath.IsAbs(relativePath) || hasWindowsDrive(relativePath) {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, relativePath)
	}

	joined := filepath.Join(base, clean)
	canonicalBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("pathsafety: resolve base: %w", err)
	}
	canonicalJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("pathsafety: resolve path: %w", err)
	}
	if canonicalJoined != canonicalBase && !strings.HasPrefix(canonicalJoined, canonicalBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes base directory", ErrUnsafePath, relativePath)
	}

	return canonicalJoined, nil
}

func hasWindowsDrive(p string) bool {
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}
