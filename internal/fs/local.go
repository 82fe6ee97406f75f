package fs

import (
	"os"
	"path"

	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// Option configures a filesystem.
type Option func(*options)

type options struct {
	fs               afero.Fs
	canonicalize     pathutil.Canonicalizer
	mountingDisabled bool
}

// WithFs sets the host filesystem. Defaults to the OS filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithCanonicalizer overrides how host locations are compared.
func WithCanonicalizer(c pathutil.Canonicalizer) Option {
	return func(o *options) {
		o.canonicalize = c
	}
}

// WithoutMounting forbids image filesystems from mounting on demand.
func WithoutMounting() Option {
	return func(o *options) {
		o.mountingDisabled = true
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.canonicalize == nil {
		if _, ok := o.fs.(*afero.OsFs); ok {
			o.canonicalize = pathutil.SymlinkCanonicalizer
		} else {
			o.canonicalize = pathutil.CleanCanonicalizer
		}
	}
	return o
}

// LocalFilesystem exposes a host directory as a logical tree.
type LocalFilesystem struct {
	fs          afero.Fs
	baseURL     string
	equivalents *EquivalenceRegistry

	// hostRoot returns where logical "/" lives on the host. With mount false
	// it must not trigger any mounting.
	hostRoot func(mount bool) (string, error)
	// implicitRoots are represented locations beyond the base and registered equivalents.
	implicitRoots func() []string
}

// NewLocalFilesystem creates a filesystem rooted at the host directory baseURL.
func NewLocalFilesystem(baseURL string, opts ...Option) *LocalFilesystem {
	o := buildOptions(opts)
	return newLocalFilesystem(baseURL, o)
}

func newLocalFilesystem(baseURL string, o options) *LocalFilesystem {
	l := &LocalFilesystem{
		fs:          o.fs,
		baseURL:     pathutil.CleanURL(baseURL),
		equivalents: NewEquivalenceRegistry(baseURL, o.canonicalize),
	}
	l.hostRoot = func(bool) (string, error) { return l.baseURL, nil }
	l.implicitRoots = func() []string { return nil }
	return l
}

// Fs returns the host filesystem the instance operates on.
func (l *LocalFilesystem) Fs() afero.Fs {
	return l.fs
}

// =============================================================================
// Logical URL access
// =============================================================================

// BaseURL returns the location logical "/" is reported at.
func (l *LocalFilesystem) BaseURL() string {
	return l.baseURL
}

func (l *LocalFilesystem) LogicalURLForPath(p string) string {
	return pathutil.URLForPath(l.baseURL, p)
}

// PathForLogicalURL returns the logical path for url, through the base or any equivalent.
func (l *LocalFilesystem) PathForLogicalURL(url string) (string, bool) {
	root, canonical, ok := l.equivalents.Match(url, l.implicitRoots()...)
	if !ok {
		return "", false
	}
	return pathutil.PathForURL(root, canonical)
}

func (l *LocalFilesystem) ExposesLogicalURL(url string) bool {
	return l.equivalents.Exposes(url, l.implicitRoots()...)
}

func (l *LocalFilesystem) RepresentsLogicalURL(url string) bool {
	return l.equivalents.Represents(url, l.implicitRoots()...)
}

func (l *LocalFilesystem) AddRepresentedURL(url string) {
	l.equivalents.Add(url)
}

func (l *LocalFilesystem) RemoveRepresentedURL(url string) {
	l.equivalents.Remove(url)
}

// RepresentedURLs returns the explicitly registered equivalents followed by implicit ones.
func (l *LocalFilesystem) RepresentedURLs() []string {
	return append(l.equivalents.URLs(), l.implicitRoots()...)
}

// MatchLogicalURL returns the represented root that contains url, in canonical form.
func (l *LocalFilesystem) MatchLogicalURL(url string) (string, bool) {
	root, _, ok := l.equivalents.Match(url, l.implicitRoots()...)
	return root, ok
}

// =============================================================================
// File URL access
// =============================================================================

func (l *LocalFilesystem) FileURLForPath(p string) (string, error) {
	root, err := l.hostRoot(true)
	if err != nil {
		return "", err
	}
	return pathutil.URLForPath(root, p), nil
}

// PathForFileURL maps a real host location back to a logical path.
// It never mounts anything.
func (l *LocalFilesystem) PathForFileURL(url string) (string, bool) {
	root, err := l.hostRoot(false)
	if err != nil {
		return "", false
	}
	canonicalize := l.equivalents.canonicalize
	return pathutil.PathForURL(canonicalize(root), canonicalize(url))
}

func (l *LocalFilesystem) ExposesFileURL(url string) bool {
	_, ok := l.PathForFileURL(url)
	return ok
}

// FileURLEnumerator walks the subtree at url, yielding host locations.
func (l *LocalFilesystem) FileURLEnumerator(url string, opts EnumerationOptions, handler ErrorHandler) (*Enumerator, error) {
	p, ok := l.PathForFileURL(url)
	if !ok {
		return nil, &types.IOError{Op: "enumerate", Path: url, Err: types.ErrNotFound}
	}
	return newEnumerator(p, opts, handler, l.readDir, l.FileURLForPath)
}

// =============================================================================
// Path access
// =============================================================================

// Enumerator walks the subtree at logical path p.
func (l *LocalFilesystem) Enumerator(p string, opts EnumerationOptions, handler ErrorHandler) (*Enumerator, error) {
	return newEnumerator(p, opts, handler, l.readDir, nil)
}

func (l *LocalFilesystem) FileExists(p string) (bool, bool) {
	host, err := l.FileURLForPath(p)
	if err != nil {
		return false, false
	}
	info, err := l.fs.Stat(host)
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}

func (l *LocalFilesystem) TypeOfFile(p string) (types.FileType, error) {
	info, err := l.AttributesOfFile(p)
	if err != nil {
		return "", err
	}
	return fileTypeOf(p, info), nil
}

func (l *LocalFilesystem) AttributesOfFile(p string) (os.FileInfo, error) {
	host, err := l.FileURLForPath(p)
	if err != nil {
		return nil, err
	}
	info, err := l.fs.Stat(host)
	if err != nil {
		return nil, &types.IOError{Op: "stat", Path: p, Err: err}
	}
	return info, nil
}

func (l *LocalFilesystem) ContentsOfFile(p string) ([]byte, error) {
	host, err := l.FileURLForPath(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(l.fs, host)
	if err != nil {
		return nil, &types.IOError{Op: "read", Path: p, Err: err}
	}
	return data, nil
}

// RemoveItem deletes a file or a whole directory tree.
func (l *LocalFilesystem) RemoveItem(p string) error {
	host, err := l.FileURLForPath(p)
	if err != nil {
		return err
	}
	if _, err := l.fs.Stat(host); err != nil {
		return &types.IOError{Op: "remove", Path: p, Err: err}
	}
	if err := l.fs.RemoveAll(host); err != nil {
		return &types.IOError{Op: "remove", Path: p, Err: err}
	}
	return nil
}

func (l *LocalFilesystem) CopyItem(from, to string) error {
	return l.transferItem(from, to, true)
}

func (l *LocalFilesystem) MoveItem(from, to string) error {
	return l.transferItem(from, to, false)
}

func (l *LocalFilesystem) CreateDirectory(p string, intermediates bool) error {
	host, err := l.FileURLForPath(p)
	if err != nil {
		return err
	}
	if intermediates {
		err = l.fs.MkdirAll(host, 0755)
	} else {
		err = l.fs.Mkdir(host, 0755)
	}
	if err != nil {
		return &types.IOError{Op: "mkdir", Path: p, Err: err}
	}
	return nil
}

func (l *LocalFilesystem) OpenFile(p string, flag int, perm os.FileMode) (afero.File, error) {
	host, err := l.FileURLForPath(p)
	if err != nil {
		return nil, err
	}
	f, err := l.fs.OpenFile(host, flag, perm)
	if err != nil {
		return nil, &types.IOError{Op: "open", Path: p, Err: err}
	}
	return f, nil
}

// TypeOfFileMatching returns the first of candidates the file at p conforms to.
func (l *LocalFilesystem) TypeOfFileMatching(p string, candidates []types.FileType) (types.FileType, bool) {
	ft, err := l.TypeOfFile(p)
	if err != nil {
		return "", false
	}
	for _, c := range candidates {
		if ft.ConformsTo(c) {
			return c, true
		}
	}
	return "", false
}

// FileConformsToType reports whether the file at p is of type t.
func (l *LocalFilesystem) FileConformsToType(p string, t types.FileType) bool {
	_, ok := l.TypeOfFileMatching(p, []types.FileType{t})
	return ok
}

func (l *LocalFilesystem) readDir(p string) ([]os.FileInfo, error) {
	host, err := l.FileURLForPath(p)
	if err != nil {
		return nil, err
	}
	return afero.ReadDir(l.fs, host)
}

func fileTypeOf(p string, info os.FileInfo) types.FileType {
	name := path.Base(pathutil.NormalizeLogical(p))
	if name == "/" {
		name = info.Name()
	}
	return types.FileTypeForName(name, info.IsDir())
}
