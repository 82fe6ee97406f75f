package fs

import (
	"sort"
	"sync"

	"github.com/ajaxzhan/boxdrive/internal/pathutil"
)

// EquivalenceRegistry records the extra locations a filesystem's base is known by,
// such as the volume a disk image is mounted at.
// Locations are compared in canonical form so symlinked spellings match.
type EquivalenceRegistry struct {
	base         string
	canonicalize pathutil.Canonicalizer

	mu   sync.RWMutex
	urls map[string]string // canonical -> as added
}

// NewEquivalenceRegistry creates a registry for base.
// A nil canonicalizer compares cleaned paths only.
func NewEquivalenceRegistry(base string, canonicalize pathutil.Canonicalizer) *EquivalenceRegistry {
	if canonicalize == nil {
		canonicalize = pathutil.CleanCanonicalizer
	}
	return &EquivalenceRegistry{
		base:         pathutil.CleanURL(base),
		canonicalize: canonicalize,
		urls:         make(map[string]string),
	}
}

// Base returns the location the registry was created for.
func (r *EquivalenceRegistry) Base() string {
	return r.base
}

// Add registers url as equivalent to the base. Adding twice is a no-op.
func (r *EquivalenceRegistry) Add(url string) {
	if url == "" {
		return
	}
	key := r.canonicalize(url)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.urls[key]; !ok {
		r.urls[key] = pathutil.CleanURL(url)
	}
}

// Remove forgets url. Removing an unknown url is a no-op.
func (r *EquivalenceRegistry) Remove(url string) {
	key := r.canonicalize(url)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.urls, key)
}

// URLs returns the registered equivalents, sorted.
func (r *EquivalenceRegistry) URLs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	urls := make([]string, 0, len(r.urls))
	for _, u := range r.urls {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Represents reports whether url is the base or one of its equivalents.
func (r *EquivalenceRegistry) Represents(url string, extra ...string) bool {
	key := r.canonicalize(url)
	for _, root := range r.roots(extra) {
		if root == key {
			return true
		}
	}
	return false
}

// Exposes reports whether url is, or lies inside, the base or one of its equivalents.
func (r *EquivalenceRegistry) Exposes(url string, extra ...string) bool {
	_, _, ok := r.Match(url, extra...)
	return ok
}

// Match finds the deepest represented root containing url and returns that
// root together with url, both in canonical form.
// Extra roots (for example a currently mounted volume) take part in the match.
func (r *EquivalenceRegistry) Match(url string, extra ...string) (root, canonicalURL string, ok bool) {
	if url == "" {
		return "", "", false
	}
	canonicalURL = r.canonicalize(url)

	best := -1
	for _, candidate := range r.roots(extra) {
		if !pathutil.IsBasedIn(canonicalURL, candidate) {
			continue
		}
		if d := pathutil.Depth(candidate); d > best {
			best, root = d, candidate
		}
	}
	return root, canonicalURL, best >= 0
}

func (r *EquivalenceRegistry) roots(extra []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roots := make([]string, 0, len(r.urls)+len(extra)+1)
	if r.base != "" {
		roots = append(roots, r.canonicalize(r.base))
	}
	for key := range r.urls {
		roots = append(roots, key)
	}
	for _, u := range extra {
		if u != "" {
			roots = append(roots, r.canonicalize(u))
		}
	}
	sort.Strings(roots)
	return roots
}
