package pathutil

import (
	"path/filepath"
)

// Resolve returns u with symbolic links resolved.
// When u does not exist, the deepest existing ancestor is resolved and the
// remaining components are appended unchanged.
func Resolve(u string) string {
	u = CleanURL(u)
	if u == "" {
		return ""
	}
	if abs, err := filepath.Abs(u); err == nil {
		u = abs
	}

	var tail []string
	for cur := u; ; {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return u
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// Canonicalizer maps a host location to the form used for equality checks.
type Canonicalizer func(string) string

// SymlinkCanonicalizer resolves symbolic links on the host filesystem.
func SymlinkCanonicalizer(u string) string {
	return Resolve(u)
}

// CleanCanonicalizer only cleans; used for in-memory filesystems.
func CleanCanonicalizer(u string) string {
	return CleanURL(u)
}
