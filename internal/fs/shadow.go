package fs

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// WhiteoutPrefix is the prefix for whiteout files (marks deletions in the shadow).
const WhiteoutPrefix = ".wh."

// ShadowedFilesystem redirects every write made through it to a shadow directory,
// leaving the source untouched until the changes are merged.
//   - Reads check the shadow first, then fall back to the source
//   - Writes copy the item into the shadow first
//   - Deletes of source items leave whiteout markers in the shadow
type ShadowedFilesystem struct {
	source    HostFilesystem
	fs        afero.Fs
	shadowDir string
	mu        sync.RWMutex
}

// NewShadowedFilesystem layers shadowDir over source. Both live on the source's host filesystem.
func NewShadowedFilesystem(source HostFilesystem, fsys afero.Fs, shadowDir string) (*ShadowedFilesystem, error) {
	if shadowDir == "" {
		return nil, fmt.Errorf("shadowDir is required")
	}
	if err := fsys.MkdirAll(shadowDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create shadow dir: %w", err)
	}
	return &ShadowedFilesystem{
		source:    source,
		fs:        fsys,
		shadowDir: filepath.Clean(shadowDir),
	}, nil
}

// ShadowDir returns the shadow directory path.
func (s *ShadowedFilesystem) ShadowDir() string {
	return s.shadowDir
}

// Source returns the filesystem the shadow is layered over.
func (s *ShadowedFilesystem) Source() HostFilesystem {
	return s.source
}

// =============================================================================
// Layer bookkeeping
// =============================================================================

func (s *ShadowedFilesystem) shadowPath(p string) string {
	return pathutil.URLForPath(s.shadowDir, p)
}

func (s *ShadowedFilesystem) whiteoutPath(p string) string {
	p = pathutil.NormalizeLogical(p)
	return filepath.Join(s.shadowPath(path.Dir(p)), WhiteoutPrefix+path.Base(p))
}

// isDeleted reports whether p is hidden from the merged view (no lock).
// Anything present in the shadow is visible. Otherwise a whiteout on p or on
// any ancestor hides it: the ancestor was either deleted or recreated as an
// opaque directory that does not contain p.
func (s *ShadowedFilesystem) isDeleted(p string) bool {
	p = pathutil.NormalizeLogical(p)
	if _, err := s.fs.Stat(s.shadowPath(p)); err == nil {
		return false
	}
	for cur := p; cur != pathutil.Root; cur = path.Dir(cur) {
		if _, err := s.fs.Stat(s.whiteoutPath(cur)); err == nil {
			return true
		}
	}
	return false
}

// isOpaque reports whether directory p was recreated after deletion (no lock).
func (s *ShadowedFilesystem) isOpaque(p string) bool {
	_, err := s.fs.Stat(s.whiteoutPath(p))
	return err == nil
}

// resolvePath returns the host location currently backing p: the shadow copy
// if there is one, otherwise the source location (which may not exist).
// Deleted items yield os.ErrNotExist.
func (s *ShadowedFilesystem) resolvePath(p string) (host string, inShadow bool, err error) {
	if s.isDeleted(p) {
		return "", false, os.ErrNotExist
	}
	shadow := s.shadowPath(p)
	if pathutil.NormalizeLogical(p) != pathutil.Root {
		if _, err := s.fs.Stat(shadow); err == nil {
			return shadow, true, nil
		}
	}
	host, err = s.source.FileURLForPath(p)
	return host, false, err
}

// copyToShadow copies an item from the source into the shadow (COW).
// Directories are created empty; their contents are merged on read.
func (s *ShadowedFilesystem) copyToShadow(p string) error {
	shadow := s.shadowPath(p)
	if _, err := s.fs.Stat(shadow); err == nil {
		return nil
	}
	if s.isDeleted(p) {
		return nil
	}

	src, err := s.source.FileURLForPath(p)
	if err != nil {
		return err
	}
	info, err := s.fs.Stat(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}
	if info.IsDir() {
		return s.fs.MkdirAll(shadow, info.Mode().Perm()|0700)
	}
	return copyFile(s.fs, src, s.fs, shadow, info)
}

func (s *ShadowedFilesystem) markDeleted(p string) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.whiteoutPath(p)), 0755); err != nil {
		return fmt.Errorf("failed to create shadow dir: %w", err)
	}
	s.fs.RemoveAll(s.shadowPath(p))
	f, err := s.fs.Create(s.whiteoutPath(p))
	if err != nil {
		return fmt.Errorf("failed to create whiteout: %w", err)
	}
	return f.Close()
}

func (s *ShadowedFilesystem) removeWhiteout(p string) error {
	if err := s.fs.Remove(s.whiteoutPath(p)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove whiteout: %w", err)
	}
	return nil
}

// prepareWrite makes p writable in the shadow: parents exist, no whiteout, content copied.
func (s *ShadowedFilesystem) prepareWrite(p string) error {
	p = pathutil.NormalizeLogical(p)
	if err := s.fs.MkdirAll(filepath.Dir(s.shadowPath(p)), 0755); err != nil {
		return err
	}
	if err := s.copyToShadow(p); err != nil {
		return err
	}
	return s.removeWhiteout(p)
}

// =============================================================================
// Merge and revert
// =============================================================================

// HasChanges reports whether anything has been written to the shadow.
func (s *ShadowedFilesystem) HasChanges() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := afero.ReadDir(s.fs, s.shadowDir)
	return err == nil && len(entries) > 0
}

// ListChanges returns the changed logical paths, prefixed "M:" for modified
// or added files and "D:" for deletions.
func (s *ShadowedFilesystem) ListChanges() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var changes []string
	err := afero.Walk(s.fs, s.shadowDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == s.shadowDir || info.IsDir() {
			return nil
		}
		logical, _ := pathutil.PathForURL(s.shadowDir, p)
		base := path.Base(logical)
		if strings.HasPrefix(base, WhiteoutPrefix) {
			changes = append(changes, "D:"+path.Join(path.Dir(logical), strings.TrimPrefix(base, WhiteoutPrefix)))
		} else {
			changes = append(changes, "M:"+logical)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(changes)
	return changes, nil
}

// Merge applies the shadowed changes to the source, last writer wins, then empties the shadow.
// Deletions are applied before additions so recreated items survive.
func (s *ShadowedFilesystem) Merge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := s.source.FileURLForPath(pathutil.Root)
	if err != nil {
		return err
	}

	var whiteouts, items []string
	err = afero.Walk(s.fs, s.shadowDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == s.shadowDir {
			return nil
		}
		if strings.HasPrefix(filepath.Base(p), WhiteoutPrefix) {
			whiteouts = append(whiteouts, p)
		} else {
			items = append(items, p)
		}
		return nil
	})
	if err != nil {
		return &types.IOError{Op: "merge", Path: s.shadowDir, Err: err}
	}

	for _, p := range whiteouts {
		logical, _ := pathutil.PathForURL(s.shadowDir, p)
		original := pathutil.URLForPath(root, path.Join(path.Dir(logical), strings.TrimPrefix(path.Base(logical), WhiteoutPrefix)))
		if err := s.fs.RemoveAll(original); err != nil {
			return &types.IOError{Op: "merge", Path: logical, Err: fmt.Errorf("failed to delete %s: %w", original, err)}
		}
	}

	for _, p := range items {
		info, err := s.fs.Stat(p)
		if err != nil {
			return &types.IOError{Op: "merge", Path: p, Err: err}
		}
		logical, _ := pathutil.PathForURL(s.shadowDir, p)
		dest := pathutil.URLForPath(root, logical)
		if info.IsDir() {
			err = s.fs.MkdirAll(dest, info.Mode().Perm()|0700)
		} else {
			err = copyFile(s.fs, p, s.fs, dest, info)
		}
		if err != nil {
			return &types.IOError{Op: "merge", Path: logical, Err: err}
		}
	}

	return s.clearLocked()
}

// Revert discards every shadowed change.
func (s *ShadowedFilesystem) Revert() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked()
}

func (s *ShadowedFilesystem) clearLocked() error {
	entries, err := afero.ReadDir(s.fs, s.shadowDir)
	if err != nil {
		return fmt.Errorf("failed to read shadow dir: %w", err)
	}
	for _, entry := range entries {
		p := filepath.Join(s.shadowDir, entry.Name())
		if err := s.fs.RemoveAll(p); err != nil {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// mergedReadDir lists a directory, merging shadow and source contents and hiding whiteouts.
func (s *ShadowedFilesystem) mergedReadDir(p string) ([]os.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mergedEntries(p)
}

func (s *ShadowedFilesystem) mergedEntries(p string) ([]os.FileInfo, error) {
	if s.isDeleted(p) {
		return nil, os.ErrNotExist
	}

	entries := make(map[string]os.FileInfo)
	found := false

	if !s.isOpaque(p) {
		if src, err := s.source.FileURLForPath(p); err == nil {
			if srcEntries, err := afero.ReadDir(s.fs, src); err == nil {
				found = true
				for _, e := range srcEntries {
					entries[e.Name()] = e
				}
			}
		}
	}

	if shadowEntries, err := afero.ReadDir(s.fs, s.shadowPath(p)); err == nil {
		found = true
		for _, e := range shadowEntries {
			if strings.HasPrefix(e.Name(), WhiteoutPrefix) {
				delete(entries, strings.TrimPrefix(e.Name(), WhiteoutPrefix))
			}
		}
		for _, e := range shadowEntries {
			if !strings.HasPrefix(e.Name(), WhiteoutPrefix) {
				entries[e.Name()] = e
			}
		}
	}

	if !found {
		return nil, os.ErrNotExist
	}

	result := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result, nil
}

// =============================================================================
// Logical and file URL access (delegated to the source)
// =============================================================================

func (s *ShadowedFilesystem) BaseURL() string {
	return s.source.BaseURL()
}

func (s *ShadowedFilesystem) LogicalURLForPath(p string) string {
	return s.source.LogicalURLForPath(p)
}

func (s *ShadowedFilesystem) ExposesLogicalURL(url string) bool {
	return s.source.ExposesLogicalURL(url)
}

func (s *ShadowedFilesystem) RepresentsLogicalURL(u string) bool {
	return s.source.RepresentsLogicalURL(u)
}

func (s *ShadowedFilesystem) AddRepresentedURL(url string) {
	s.source.AddRepresentedURL(url)
}

func (s *ShadowedFilesystem) RemoveRepresentedURL(url string) {
	s.source.RemoveRepresentedURL(url)
}

func (s *ShadowedFilesystem) RepresentedURLs() []string {
	return s.source.RepresentedURLs()
}

func (s *ShadowedFilesystem) PathForLogicalURL(url string) (string, bool) {
	return s.source.PathForLogicalURL(url)
}

// MatchLogicalURL returns the represented root of the source that contains url.
func (s *ShadowedFilesystem) MatchLogicalURL(url string) (string, bool) {
	if m, ok := s.source.(interface {
		MatchLogicalURL(string) (string, bool)
	}); ok {
		return m.MatchLogicalURL(url)
	}
	return "", false
}

// FileURLForPath returns the host location currently backing p.
func (s *ShadowedFilesystem) FileURLForPath(p string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	host, _, err := s.resolvePath(p)
	if err != nil {
		return s.shadowPath(p), nil
	}
	return host, nil
}

// PathForFileURL accepts locations in either the shadow or the source.
func (s *ShadowedFilesystem) PathForFileURL(url string) (string, bool) {
	if p, ok := pathutil.PathForURL(s.shadowDir, url); ok {
		if base := path.Base(p); strings.HasPrefix(base, WhiteoutPrefix) {
			return "", false
		}
		return p, true
	}
	return s.source.PathForFileURL(url)
}

func (s *ShadowedFilesystem) ExposesFileURL(url string) bool {
	_, ok := s.PathForFileURL(url)
	return ok
}

func (s *ShadowedFilesystem) FileURLEnumerator(url string, opts EnumerationOptions, handler ErrorHandler) (*Enumerator, error) {
	p, ok := s.PathForFileURL(url)
	if !ok {
		return nil, &types.IOError{Op: "enumerate", Path: url, Err: types.ErrNotFound}
	}
	return newEnumerator(p, opts, handler, s.mergedReadDir, s.FileURLForPath)
}

// =============================================================================
// Path access
// =============================================================================

func (s *ShadowedFilesystem) Enumerator(p string, opts EnumerationOptions, handler ErrorHandler) (*Enumerator, error) {
	return newEnumerator(p, opts, handler, s.mergedReadDir, nil)
}

func (s *ShadowedFilesystem) FileExists(p string) (bool, bool) {
	info, err := s.AttributesOfFile(p)
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}

func (s *ShadowedFilesystem) TypeOfFile(p string) (types.FileType, error) {
	info, err := s.AttributesOfFile(p)
	if err != nil {
		return "", err
	}
	return fileTypeOf(p, info), nil
}

func (s *ShadowedFilesystem) AttributesOfFile(p string) (os.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	host, _, err := s.resolvePath(p)
	if err != nil {
		return nil, &types.IOError{Op: "stat", Path: p, Err: err}
	}
	info, err := s.fs.Stat(host)
	if err != nil {
		return nil, &types.IOError{Op: "stat", Path: p, Err: err}
	}
	return info, nil
}

func (s *ShadowedFilesystem) ContentsOfFile(p string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	host, _, err := s.resolvePath(p)
	if err != nil {
		return nil, &types.IOError{Op: "read", Path: p, Err: err}
	}
	data, err := afero.ReadFile(s.fs, host)
	if err != nil {
		return nil, &types.IOError{Op: "read", Path: p, Err: err}
	}
	return data, nil
}

// RemoveItem deletes p from the merged view. Source items are hidden by a whiteout.
func (s *ShadowedFilesystem) RemoveItem(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	host, _, err := s.resolvePath(p)
	if err == nil {
		_, err = s.fs.Stat(host)
	}
	if err != nil {
		return &types.IOError{Op: "remove", Path: p, Err: err}
	}

	inSource := false
	if src, err := s.source.FileURLForPath(p); err == nil {
		if _, err := s.fs.Stat(src); err == nil {
			inSource = true
		}
	}
	if inSource {
		if err := s.markDeleted(p); err != nil {
			return &types.IOError{Op: "remove", Path: p, Err: err}
		}
		return nil
	}
	if err := s.fs.RemoveAll(s.shadowPath(p)); err != nil {
		return &types.IOError{Op: "remove", Path: p, Err: err}
	}
	return nil
}

func (s *ShadowedFilesystem) CopyItem(from, to string) error {
	return s.transferItem(from, to, true)
}

func (s *ShadowedFilesystem) MoveItem(from, to string) error {
	return s.transferItem(from, to, false)
}

func (s *ShadowedFilesystem) transferItem(from, to string, copying bool) error {
	op := "move"
	if copying {
		op = "copy"
	}

	if exists, _ := s.FileExists(from); !exists {
		return &types.IOError{Op: op, Path: from, Err: os.ErrNotExist}
	}
	if src, dst := pathutil.NormalizeLogical(from), pathutil.NormalizeLogical(to); dst != src && pathutil.IsBasedIn(dst, src) {
		return &types.IOError{Op: op, Path: to, Err: types.ErrIntoItself}
	}
	if exists, _ := s.FileExists(to); exists {
		return &types.IOError{Op: op, Path: to, Err: os.ErrExist}
	}

	s.mu.Lock()
	err := s.copyMergedLocked(from, to)
	s.mu.Unlock()
	if err != nil {
		return &types.IOError{Op: op, Path: from, Err: err}
	}

	if !copying {
		return s.RemoveItem(from)
	}
	return nil
}

// copyMergedLocked copies the merged view of from into the shadow at to.
func (s *ShadowedFilesystem) copyMergedLocked(from, to string) error {
	src, _, err := s.resolvePath(from)
	if err != nil {
		return err
	}
	info, err := s.fs.Stat(src)
	if err != nil {
		return err
	}
	if err := s.prepareWrite(to); err != nil {
		return err
	}

	dst := s.shadowPath(to)
	if !info.IsDir() {
		return copyFile(s.fs, src, s.fs, dst, info)
	}
	if err := s.fs.MkdirAll(dst, info.Mode().Perm()|0700); err != nil {
		return err
	}
	entries, err := s.mergedEntries(from)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.copyMergedLocked(path.Join(from, e.Name()), path.Join(to, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// CreateDirectory creates p in the shadow. A directory recreated over a deleted
// one keeps its whiteout and hides the old source contents.
func (s *ShadowedFilesystem) CreateDirectory(p string, intermediates bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = pathutil.NormalizeLogical(p)
	if host, _, err := s.resolvePath(p); err == nil {
		if info, err := s.fs.Stat(host); err == nil {
			if intermediates && info.IsDir() {
				return nil
			}
			return &types.IOError{Op: "mkdir", Path: p, Err: os.ErrExist}
		}
	}
	if !intermediates {
		parent, _, err := s.resolvePath(path.Dir(p))
		if err == nil {
			_, err = s.fs.Stat(parent)
		}
		if err != nil {
			return &types.IOError{Op: "mkdir", Path: p, Err: err}
		}
	}

	opaque := s.isDeleted(p)
	if err := s.fs.MkdirAll(s.shadowPath(p), 0755); err != nil {
		return &types.IOError{Op: "mkdir", Path: p, Err: err}
	}
	if !opaque {
		return nil
	}
	if _, err := s.fs.Stat(s.whiteoutPath(p)); err != nil {
		f, err := s.fs.Create(s.whiteoutPath(p))
		if err != nil {
			return &types.IOError{Op: "mkdir", Path: p, Err: err}
		}
		f.Close()
	}
	return nil
}

// OpenFile opens p. Any write access first copies the file into the shadow.
func (s *ShadowedFilesystem) OpenFile(p string, flag int, perm os.FileMode) (afero.File, error) {
	writing := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0

	if !writing {
		s.mu.RLock()
		host, _, err := s.resolvePath(p)
		s.mu.RUnlock()
		if err != nil {
			return nil, &types.IOError{Op: "open", Path: p, Err: err}
		}
		f, err := s.fs.OpenFile(host, flag, perm)
		if err != nil {
			return nil, &types.IOError{Op: "open", Path: p, Err: err}
		}
		return f, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if flag&os.O_CREATE == 0 {
		host, _, err := s.resolvePath(p)
		if err == nil {
			_, err = s.fs.Stat(host)
		}
		if err != nil {
			return nil, &types.IOError{Op: "open", Path: p, Err: err}
		}
	}
	if err := s.prepareWrite(p); err != nil {
		return nil, &types.IOError{Op: "open", Path: p, Err: err}
	}
	f, err := s.fs.OpenFile(s.shadowPath(p), flag, perm)
	if err != nil {
		return nil, &types.IOError{Op: "open", Path: p, Err: err}
	}
	return f, nil
}
