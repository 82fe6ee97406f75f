package dosview

import (
	"context"
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/internal/drive"
	boxfs "github.com/ajaxzhan/boxdrive/internal/fs"
	"github.com/ajaxzhan/boxdrive/internal/logging"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// Errors for View
var (
	ErrNoDriveSet        = errors.New("drive set cannot be nil")
	ErrInvalidMountPoint = errors.New("invalid mount point")
)

// Config holds the configuration for creating a View.
type Config struct {
	MountPoint   string             // Where to mount the FUSE filesystem
	Rules        []types.AccessRule // Access rules applied on top of drive restrictions
	AllowOther   bool               // Let other users (such as the emulator) see the mount
	EntryTimeout time.Duration
	AttrTimeout  time.Duration
}

// View is a FUSE filesystem over the mounted drives of a drive set.
// Each drive appears as a directory named after its letter. Every access goes
// through the drive's filesystem, so shadowing and image mounting apply.
type View struct {
	config  *Config
	set     *drive.Set
	access  *AccessEngine
	server  *fuse.Server
	mounted atomic.Bool
	mu      sync.Mutex
}

// NewView creates a view over set.
func NewView(set *drive.Set, config *Config) (*View, error) {
	if set == nil {
		return nil, ErrNoDriveSet
	}
	if config == nil || config.MountPoint == "" {
		return nil, ErrInvalidMountPoint
	}
	if err := ValidateRules(config.Rules); err != nil {
		return nil, err
	}

	return &View{
		config: config,
		set:    set,
		access: NewAccessEngine(config.Rules),
	}, nil
}

// Access returns the view's access engine.
func (v *View) Access() *AccessEngine {
	return v.access
}

// Mount mounts the FUSE filesystem. It blocks until the context is cancelled.
func (v *View) Mount(ctx context.Context) error {
	if err := os.MkdirAll(v.config.MountPoint, 0755); err != nil {
		return err
	}

	root := &viewRoot{view: v}
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: v.config.AllowOther,
			FsName:     "boxdrive",
			Name:       "boxdrive",
		},
	}
	if v.config.EntryTimeout > 0 {
		opts.EntryTimeout = &v.config.EntryTimeout
	}
	if v.config.AttrTimeout > 0 {
		opts.AttrTimeout = &v.config.AttrTimeout
	}

	server, err := fs.Mount(v.config.MountPoint, root, opts)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.server = server
	v.mounted.Store(true)
	v.mu.Unlock()
	logging.Info("DOS view mounted", logging.String("mount_point", v.config.MountPoint))

	<-ctx.Done()

	if err := server.Unmount(); err != nil {
		return err
	}
	v.mounted.Store(false)
	logging.Info("DOS view unmounted", logging.String("mount_point", v.config.MountPoint))

	return ctx.Err()
}

// IsMounted returns true if the filesystem is currently mounted.
func (v *View) IsMounted() bool {
	return v.mounted.Load()
}

// UpdateRules replaces the access rules.
func (v *View) UpdateRules(rules []types.AccessRule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}
	v.access.UpdateRules(rules)
	return nil
}

// visibleDrive returns the mounted drive at letter if it has a filesystem
// and is not hidden.
func (v *View) visibleDrive(letter string) (*drive.Drive, boxfs.HostFilesystem, syscall.Errno) {
	d, ok := v.set.DriveAtLetter(letter)
	if !ok || d.IsHidden() || d.Filesystem() == nil {
		return nil, nil, syscall.ENOENT
	}
	return d, d.Filesystem(), fs.OK
}

// viewPath is the path used for access rules: /<letter><logical path>.
func viewPath(letter, logical string) string {
	if logical == "/" {
		return "/" + letter
	}
	return "/" + letter + logical
}

// checkWrite reports EROFS for read-only drives and EACCES for paths the
// rules protect.
func (v *View) checkWrite(d *drive.Drive, letter, logical string) syscall.Errno {
	if d.IsReadOnly() {
		return syscall.EROFS
	}
	if err := v.access.CheckWrite(d, viewPath(letter, logical)); err != nil {
		return syscall.EACCES
	}
	return fs.OK
}

// =============================================================================
// Root: one directory per drive letter
// =============================================================================

type viewRoot struct {
	fs.Inode
	view *View
}

var _ = (fs.NodeLookuper)((*viewRoot)(nil))
var _ = (fs.NodeReaddirer)((*viewRoot)(nil))
var _ = (fs.NodeGetattrer)((*viewRoot)(nil))

// Getattr implements fs.NodeGetattrer.
func (r *viewRoot) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	out.Nlink = 2
	return fs.OK
}

// Lookup implements fs.NodeLookuper.
func (r *viewRoot) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if !drive.ValidLetter(name) {
		return nil, syscall.ENOENT
	}
	letter := strings.ToUpper(name)
	d, fsys, errno := r.view.visibleDrive(letter)
	if errno != fs.OK {
		return nil, errno
	}

	info, err := fsys.AttributesOfFile("/")
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, info, d.IsReadOnly())

	child := &viewDir{view: r.view, letter: letter, path: "/"}
	return r.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), fs.OK
}

// Readdir implements fs.NodeReaddirer.
func (r *viewRoot) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var result []fuse.DirEntry
	for _, d := range r.view.set.MountedDrives() {
		if d.IsHidden() || d.Filesystem() == nil {
			continue
		}
		result = append(result, fuse.DirEntry{Name: d.Letter(), Mode: fuse.S_IFDIR})
	}
	return fs.NewListDirStream(result), fs.OK
}

// =============================================================================
// Directories
// =============================================================================

// viewDir is a directory on a drive. The drive is looked up by letter on each
// operation so that swapping the drive at a letter is seen immediately.
type viewDir struct {
	fs.Inode
	view   *View
	letter string
	path   string
}

var _ = (fs.NodeLookuper)((*viewDir)(nil))
var _ = (fs.NodeReaddirer)((*viewDir)(nil))
var _ = (fs.NodeGetattrer)((*viewDir)(nil))
var _ = (fs.NodeMkdirer)((*viewDir)(nil))
var _ = (fs.NodeUnlinker)((*viewDir)(nil))
var _ = (fs.NodeRmdirer)((*viewDir)(nil))
var _ = (fs.NodeRenamer)((*viewDir)(nil))
var _ = (fs.NodeCreater)((*viewDir)(nil))

func (d *viewDir) childPath(name string) string {
	return path.Join(d.path, name)
}

// newChild creates the inode for the entry at logical path p.
func (d *viewDir) newChild(ctx context.Context, p string, info os.FileInfo) *fs.Inode {
	if info.IsDir() {
		child := &viewDir{view: d.view, letter: d.letter, path: p}
		return d.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR})
	}
	child := &viewFile{view: d.view, letter: d.letter, path: p}
	return d.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG})
}

// Getattr implements fs.NodeGetattrer for directories.
func (d *viewDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	drv, fsys, errno := d.view.visibleDrive(d.letter)
	if errno != fs.OK {
		return errno
	}
	if err := d.view.access.CheckView(drv, viewPath(d.letter, d.path)); err != nil {
		return syscall.EACCES
	}

	info, err := fsys.AttributesOfFile(d.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, info, drv.IsReadOnly())
	return fs.OK
}

// Lookup implements fs.NodeLookuper for directories.
func (d *viewDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	drv, fsys, errno := d.view.visibleDrive(d.letter)
	if errno != fs.OK {
		return nil, errno
	}
	p := d.childPath(name)
	if d.view.access.PermissionOnDrive(drv, viewPath(d.letter, p)) == types.PermNone {
		return nil, syscall.ENOENT
	}

	info, err := fsys.AttributesOfFile(p)
	if err != nil {
		return nil, syscall.ENOENT
	}
	fillAttr(&out.Attr, info, drv.IsReadOnly())
	return d.newChild(ctx, p, info), fs.OK
}

// Readdir implements fs.NodeReaddirer for directories.
func (d *viewDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	drv, fsys, errno := d.view.visibleDrive(d.letter)
	if errno != fs.OK {
		return nil, errno
	}

	skip := func(string, error) bool { return true }
	e, err := fsys.Enumerator(d.path, boxfs.EnumerationOptions{SkipSubdirectories: true}, skip)
	if err != nil {
		return nil, toErrno(err)
	}

	var result []fuse.DirEntry
	for e.Next() {
		name := path.Base(e.Path())
		if d.view.access.PermissionOnDrive(drv, viewPath(d.letter, e.Path())) == types.PermNone {
			continue
		}
		mode := uint32(fuse.S_IFREG)
		if e.Info().IsDir() {
			mode = fuse.S_IFDIR
		}
		result = append(result, fuse.DirEntry{Name: name, Mode: mode})
	}
	if err := e.Err(); err != nil {
		return nil, toErrno(err)
	}
	return fs.NewListDirStream(result), fs.OK
}

// Mkdir implements fs.NodeMkdirer for directories.
func (d *viewDir) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	drv, fsys, errno := d.view.visibleDrive(d.letter)
	if errno != fs.OK {
		return nil, errno
	}
	p := d.childPath(name)
	if errno := d.view.checkWrite(drv, d.letter, p); errno != fs.OK {
		return nil, errno
	}

	if err := fsys.CreateDirectory(p, false); err != nil {
		return nil, toErrno(err)
	}
	info, err := fsys.AttributesOfFile(p)
	if err != nil {
		return nil, syscall.EIO
	}
	fillAttr(&out.Attr, info, false)
	return d.newChild(ctx, p, info), fs.OK
}

// Unlink implements fs.NodeUnlinker for directories.
func (d *viewDir) Unlink(ctx context.Context, name string) syscall.Errno {
	drv, fsys, errno := d.view.visibleDrive(d.letter)
	if errno != fs.OK {
		return errno
	}
	p := d.childPath(name)
	if errno := d.view.checkWrite(drv, d.letter, p); errno != fs.OK {
		return errno
	}

	if exists, isDir := fsys.FileExists(p); !exists {
		return syscall.ENOENT
	} else if isDir {
		return syscall.EISDIR
	}
	return toErrno(fsys.RemoveItem(p))
}

// Rmdir implements fs.NodeRmdirer for directories.
func (d *viewDir) Rmdir(ctx context.Context, name string) syscall.Errno {
	drv, fsys, errno := d.view.visibleDrive(d.letter)
	if errno != fs.OK {
		return errno
	}
	p := d.childPath(name)
	if errno := d.view.checkWrite(drv, d.letter, p); errno != fs.OK {
		return errno
	}

	if exists, isDir := fsys.FileExists(p); !exists {
		return syscall.ENOENT
	} else if !isDir {
		return syscall.ENOTDIR
	}
	e, err := fsys.Enumerator(p, boxfs.EnumerationOptions{SkipSubdirectories: true}, nil)
	if err != nil {
		return toErrno(err)
	}
	if e.Next() {
		return syscall.ENOTEMPTY
	}
	return toErrno(fsys.RemoveItem(p))
}

// Rename implements fs.NodeRenamer for directories.
func (d *viewDir) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target, ok := newParent.(*viewDir)
	if !ok {
		return syscall.EINVAL
	}
	if target.letter != d.letter {
		return syscall.EXDEV
	}

	drv, fsys, errno := d.view.visibleDrive(d.letter)
	if errno != fs.OK {
		return errno
	}
	from, to := d.childPath(name), target.childPath(newName)
	if errno := d.view.checkWrite(drv, d.letter, from); errno != fs.OK {
		return errno
	}
	if errno := d.view.checkWrite(drv, d.letter, to); errno != fs.OK {
		return errno
	}

	if exists, _ := fsys.FileExists(to); exists {
		if err := fsys.RemoveItem(to); err != nil {
			return toErrno(err)
		}
	}
	return toErrno(fsys.MoveItem(from, to))
}

// Create implements fs.NodeCreater for directories.
func (d *viewDir) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	drv, fsys, errno := d.view.visibleDrive(d.letter)
	if errno != fs.OK {
		return nil, nil, 0, errno
	}
	p := d.childPath(name)
	if errno := d.view.checkWrite(drv, d.letter, p); errno != fs.OK {
		return nil, nil, 0, errno
	}

	f, err := fsys.OpenFile(p, openFlags(flags)|os.O_CREATE, os.FileMode(mode).Perm())
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, 0, syscall.EIO
	}
	fillAttr(&out.Attr, info, false)

	child := &viewFile{view: d.view, letter: d.letter, path: p}
	node = d.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG})
	return node, &viewFileHandle{file: f}, 0, fs.OK
}

// =============================================================================
// Files
// =============================================================================

type viewFile struct {
	fs.Inode
	view   *View
	letter string
	path   string
}

var _ = (fs.NodeGetattrer)((*viewFile)(nil))
var _ = (fs.NodeSetattrer)((*viewFile)(nil))
var _ = (fs.NodeOpener)((*viewFile)(nil))

// Getattr implements fs.NodeGetattrer for files.
func (f *viewFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	drv, fsys, errno := f.view.visibleDrive(f.letter)
	if errno != fs.OK {
		return errno
	}
	if err := f.view.access.CheckView(drv, viewPath(f.letter, f.path)); err != nil {
		return syscall.EACCES
	}

	info, err := fsys.AttributesOfFile(f.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, info, drv.IsReadOnly())
	return fs.OK
}

// Setattr implements fs.NodeSetattrer for files. Only truncation is supported.
func (f *viewFile) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	drv, fsys, errno := f.view.visibleDrive(f.letter)
	if errno != fs.OK {
		return errno
	}

	if size, ok := in.GetSize(); ok {
		if errno := f.view.checkWrite(drv, f.letter, f.path); errno != fs.OK {
			return errno
		}
		file, err := fsys.OpenFile(f.path, os.O_WRONLY, 0)
		if err != nil {
			return toErrno(err)
		}
		err = file.Truncate(int64(size))
		file.Close()
		if err != nil {
			return toErrno(err)
		}
	}

	info, err := fsys.AttributesOfFile(f.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, info, drv.IsReadOnly())
	return fs.OK
}

// Open implements fs.NodeOpener for files.
func (f *viewFile) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	drv, fsys, errno := f.view.visibleDrive(f.letter)
	if errno != fs.OK {
		return nil, 0, errno
	}

	switch flags & syscall.O_ACCMODE {
	case syscall.O_RDONLY:
		if err := f.view.access.CheckRead(drv, viewPath(f.letter, f.path)); err != nil {
			return nil, 0, syscall.EACCES
		}
	default:
		if errno := f.view.checkWrite(drv, f.letter, f.path); errno != fs.OK {
			return nil, 0, errno
		}
	}

	file, err := fsys.OpenFile(f.path, openFlags(flags), 0)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &viewFileHandle{file: file}, 0, fs.OK
}

// openFlags keeps the flags that translate to host open flags.
func openFlags(flags uint32) int {
	osFlags := int(flags & syscall.O_ACCMODE)
	if flags&syscall.O_APPEND != 0 {
		osFlags |= os.O_APPEND
	}
	if flags&syscall.O_TRUNC != 0 {
		osFlags |= os.O_TRUNC
	}
	if flags&syscall.O_EXCL != 0 {
		osFlags |= os.O_EXCL
	}
	return osFlags
}

// viewFileHandle represents an open file handle.
type viewFileHandle struct {
	mu   sync.Mutex
	file afero.File
}

var _ = (fs.FileReader)((*viewFileHandle)(nil))
var _ = (fs.FileWriter)((*viewFileHandle)(nil))
var _ = (fs.FileFlusher)((*viewFileHandle)(nil))
var _ = (fs.FileReleaser)((*viewFileHandle)(nil))
var _ = (fs.FileGetattrer)((*viewFileHandle)(nil))

// Read implements fs.FileReader.
func (fh *viewFileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	n, err := fh.file.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), fs.OK
}

// Write implements fs.FileWriter.
func (fh *viewFileHandle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	n, err := fh.file.WriteAt(data, off)
	if err != nil {
		return 0, toErrno(err)
	}
	return uint32(n), fs.OK
}

// Flush implements fs.FileFlusher.
func (fh *viewFileHandle) Flush(ctx context.Context) syscall.Errno {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return toErrno(fh.file.Sync())
}

// Release implements fs.FileReleaser.
func (fh *viewFileHandle) Release(ctx context.Context) syscall.Errno {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return toErrno(fh.file.Close())
}

// Getattr implements fs.FileGetattrer.
func (fh *viewFileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	info, err := fh.file.Stat()
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, info, false)
	return fs.OK
}

// fillAttr copies host attributes into a FUSE attribute block.
func fillAttr(out *fuse.Attr, info os.FileInfo, readOnly bool) {
	perm := uint32(info.Mode().Perm())
	if readOnly {
		perm &^= 0222
	}
	if info.IsDir() {
		out.Mode = fuse.S_IFDIR | perm
		out.Nlink = 2
	} else {
		out.Mode = fuse.S_IFREG | perm
		out.Nlink = 1
		out.Size = uint64(info.Size())
		out.Blocks = (out.Size + 511) / 512
	}
	mtime := info.ModTime()
	out.SetTimes(&mtime, &mtime, &mtime)
}

// toErrno converts a Go error to a syscall.Errno.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return fs.OK
	}

	var errno syscall.Errno
	switch {
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, types.ErrPermissionDenied), errors.Is(err, iofs.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, types.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, types.ErrNotFound), errors.Is(err, iofs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, iofs.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, types.ErrVolumeUnavailable):
		return syscall.ENXIO
	case errors.Is(err, types.ErrIntoItself):
		return syscall.EINVAL
	}
	return syscall.EIO
}
