// Package dosview exposes the mounted drives of a drive set as a FUSE
// filesystem, one top-level directory per drive letter.
package dosview

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ajaxzhan/boxdrive/internal/drive"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// AccessEngine decides what can be done with a path in the view.
// Paths look like /C/SAVES/GAME.SAV and are matched case-insensitively.
// A path no rule matches is writable.
type AccessEngine struct {
	mu    sync.RWMutex
	rules []types.AccessRule
}

// NewAccessEngine creates an engine with the given rules.
func NewAccessEngine(rules []types.AccessRule) *AccessEngine {
	e := &AccessEngine{}
	e.UpdateRules(rules)
	return e
}

// HiddenRules turns filename patterns such as ".*" into rules that make
// matching entries invisible on every drive.
func HiddenRules(patterns []string) []types.AccessRule {
	rules := make([]types.AccessRule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, types.AccessRule{
			Pattern:    p,
			Type:       types.PatternName,
			Permission: types.PermNone,
			Priority:   100,
		})
	}
	return rules
}

// ValidateRules reports the first rule whose pattern cannot be matched.
func ValidateRules(rules []types.AccessRule) error {
	for _, r := range rules {
		if r.Type == types.PatternGlob || r.Type == types.PatternName {
			if _, err := filepath.Match(r.Pattern, ""); err != nil {
				return fmt.Errorf("%w: %q", types.ErrInvalidPattern, r.Pattern)
			}
		}
	}
	return nil
}

// UpdateRules replaces the rules and sorts them by priority.
// If priority is equal: file > directory > name > glob.
// If type is also equal: more specific patterns first.
func (e *AccessEngine) UpdateRules(rules []types.AccessRule) {
	sorted := make([]types.AccessRule, len(rules))
	for i, r := range rules {
		r.Pattern = strings.ToUpper(r.Pattern)
		sorted[i] = r
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		pi, pj := patternTypePriority(sorted[i].Type), patternTypePriority(sorted[j].Type)
		if pi != pj {
			return pi > pj
		}
		return patternSpecificity(sorted[i].Pattern) > patternSpecificity(sorted[j].Pattern)
	})

	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
}

// patternSpecificity calculates how specific a pattern is.
// Higher values mean more specific (should match first).
func patternSpecificity(pattern string) int {
	specificity := 0
	if strings.HasPrefix(pattern, "/") {
		specificity += 100
	}
	if !strings.HasPrefix(pattern, "**") {
		specificity += 50
	}
	if idx := strings.Index(pattern, "**"); idx > 0 {
		specificity += idx
	}
	if !strings.Contains(pattern, "*") {
		specificity += 200
	}
	return specificity
}

func patternTypePriority(t types.PatternType) int {
	switch t {
	case types.PatternFile:
		return 4
	case types.PatternDirectory:
		return 3
	case types.PatternName:
		return 2
	case types.PatternGlob:
		return 1
	default:
		return 0
	}
}

// Permission returns the effective permission for path.
func (e *AccessEngine) Permission(path string) types.Permission {
	path = strings.ToUpper(normalizePath(path))

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rule := range e.rules {
		if matchRule(rule, path) {
			return rule.Permission
		}
	}
	return types.PermWrite
}

// PermissionOnDrive caps the permission for path by what d allows:
// hidden files stay hidden, and read-only drives never grant write.
func (e *AccessEngine) PermissionOnDrive(d *drive.Drive, path string) types.Permission {
	perm := e.Permission(path)
	if d.IsReadOnly() && perm.Level() > types.PermRead.Level() {
		return types.PermRead
	}
	return perm
}

func matchRule(rule types.AccessRule, path string) bool {
	pattern := rule.Pattern

	switch rule.Type {
	case types.PatternFile:
		return path == normalizePath(pattern)

	case types.PatternDirectory:
		dir := strings.TrimSuffix(normalizePath(pattern), "/")
		return path == dir || strings.HasPrefix(path, dir+"/")

	case types.PatternName:
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		return matched

	case types.PatternGlob:
		pattern = normalizePath(pattern)
		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}
		if strings.Contains(pattern, "**") {
			return matchDoubleGlob(pattern, path)
		}
		return false
	}
	return false
}

// matchDoubleGlob handles ** glob patterns.
func matchDoubleGlob(pattern, path string) bool {
	if strings.HasPrefix(pattern, "/**/") {
		matched, _ := filepath.Match(strings.TrimPrefix(pattern, "/**/"), filepath.Base(path))
		return matched
	}

	parts := strings.Split(pattern, "**")
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]

	if prefixClean := strings.TrimSuffix(prefix, "/"); prefixClean != "" {
		if path == prefixClean {
			return true
		}
		if !strings.HasPrefix(path, prefixClean+"/") {
			return false
		}
	}

	if suffix == "" {
		return true
	}
	if strings.HasPrefix(suffix, "/") {
		matched, _ := filepath.Match(strings.TrimPrefix(suffix, "/"), filepath.Base(path))
		return matched
	}
	return strings.HasSuffix(path, suffix)
}

// normalizePath normalizes a view path for comparison.
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return filepath.Clean(path)
}

// CheckView checks if the path can be listed.
func (e *AccessEngine) CheckView(d *drive.Drive, path string) error {
	return check(e.PermissionOnDrive(d, path), path, "view", types.PermView)
}

// CheckRead checks if the path can be read.
func (e *AccessEngine) CheckRead(d *drive.Drive, path string) error {
	return check(e.PermissionOnDrive(d, path), path, "read", types.PermRead)
}

// CheckWrite checks if the path can be modified.
func (e *AccessEngine) CheckWrite(d *drive.Drive, path string) error {
	return check(e.PermissionOnDrive(d, path), path, "write", types.PermWrite)
}

func check(perm types.Permission, path, op string, required types.Permission) error {
	if perm.Level() < required.Level() {
		return &types.PermissionError{
			Path:       path,
			Operation:  op,
			Permission: perm,
			Required:   required,
		}
	}
	return nil
}
