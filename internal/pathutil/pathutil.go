// Package pathutil converts between host locations and filesystem-relative logical paths.
//
// Host locations ("URLs") are absolute host paths. Logical paths always use
// forward slashes, start with "/" and never climb above the root.
package pathutil

import (
	"path"
	"path/filepath"
	"strings"
)

// Root is the logical path of a filesystem's base.
const Root = "/"

// NormalizeLogical returns p as a clean "/"-rooted logical path.
// ".." components that would climb above the root are dropped.
func NormalizeLogical(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// CleanURL cleans a host location. Relative locations stay relative.
func CleanURL(u string) string {
	if u == "" {
		return ""
	}
	return filepath.Clean(u)
}

// URLForPath returns the host location of logical path p inside base.
func URLForPath(base, p string) string {
	p = NormalizeLogical(p)
	if p == Root {
		return CleanURL(base)
	}
	return filepath.Join(base, filepath.FromSlash(p[1:]))
}

// PathForURL returns the logical path of u relative to base.
// It reports false when u is neither base nor one of its descendants.
func PathForURL(base, u string) (string, bool) {
	base, u = CleanURL(base), CleanURL(u)
	if base == "" || u == "" {
		return "", false
	}
	if u == base {
		return Root, true
	}
	if !IsBasedIn(u, base) {
		return "", false
	}
	rel := strings.TrimPrefix(u, base)
	return NormalizeLogical(filepath.ToSlash(rel)), true
}

// IsBasedIn reports whether u is base or lies inside it.
// Matching is per path component: /Games/Doom2 is not based in /Games/Doom.
func IsBasedIn(u, base string) bool {
	base, u = CleanURL(base), CleanURL(u)
	if base == "" || u == "" {
		return false
	}
	if u == base {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(u, prefix)
}

// RelativeTo returns u expressed relative to base, climbing with "../" where needed.
// A location relative to itself is the empty string.
func RelativeTo(u, base string) string {
	u, base = CleanURL(u), CleanURL(base)
	if u == base {
		return ""
	}

	uParts := splitComponents(u)
	baseParts := splitComponents(base)

	common := 0
	for common < len(uParts) && common < len(baseParts) && uParts[common] == baseParts[common] {
		common++
	}

	parts := make([]string, 0, len(baseParts)-common+len(uParts)-common)
	for i := common; i < len(baseParts); i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, uParts[common:]...)
	return strings.Join(parts, "/")
}

// ComponentURLs returns every ancestor location of u from the root down, ending with u itself.
func ComponentURLs(u string) []string {
	u = CleanURL(u)
	if u == "" {
		return nil
	}

	var urls []string
	for cur := u; ; cur = filepath.Dir(cur) {
		urls = append(urls, cur)
		if parent := filepath.Dir(cur); parent == cur {
			break
		}
	}

	for i, j := 0, len(urls)-1; i < j; i, j = i+1, j-1 {
		urls[i], urls[j] = urls[j], urls[i]
	}
	return urls
}

// Depth returns the number of components below the root in u.
func Depth(u string) int {
	return len(splitComponents(CleanURL(u)))
}

// LogicalDepth returns the number of components in logical path p.
func LogicalDepth(p string) int {
	p = NormalizeLogical(p)
	if p == Root {
		return 0
	}
	return strings.Count(p, "/")
}

// IsHidden reports whether a file name is conventionally hidden.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func splitComponents(u string) []string {
	u = filepath.ToSlash(u)
	var parts []string
	for _, p := range strings.Split(u, "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	return parts
}
