// Package fs provides the logical filesystem layer shared by DOS drives.
//
// A filesystem exposes a tree rooted at "/" and maps it onto a host location:
// a plain directory (LocalFilesystem), a disk image mounted on demand
// (MountableImage), or a directory with writes redirected to a shadow
// location (ShadowedFilesystem).
package fs

import (
	"os"

	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// ErrorHandler decides whether an enumeration continues after a per-entry error.
// Returning true skips the entry; false aborts the walk.
type ErrorHandler func(path string, err error) bool

// PathAccess is the path-based capability set of a filesystem. Paths are logical.
type PathAccess interface {
	Enumerator(path string, opts EnumerationOptions, handler ErrorHandler) (*Enumerator, error)
	FileExists(path string) (exists bool, isDir bool)
	TypeOfFile(path string) (types.FileType, error)
	AttributesOfFile(path string) (os.FileInfo, error)
	ContentsOfFile(path string) ([]byte, error)
	RemoveItem(path string) error
	CopyItem(from, to string) error
	MoveItem(from, to string) error
	CreateDirectory(path string, intermediates bool) error
	OpenFile(path string, flag int, perm os.FileMode) (afero.File, error)
}

// LogicalURLAccess maps logical paths to and from logical URLs.
// A logical URL is the filesystem's base joined with a logical path; it need not exist on the host.
type LogicalURLAccess interface {
	BaseURL() string
	LogicalURLForPath(path string) string
	PathForLogicalURL(url string) (string, bool)
	ExposesLogicalURL(url string) bool
	RepresentsLogicalURL(url string) bool
	AddRepresentedURL(url string)
	RemoveRepresentedURL(url string)
	RepresentedURLs() []string
}

// FileURLAccess maps logical paths to real host locations.
type FileURLAccess interface {
	FileURLForPath(path string) (string, error)
	PathForFileURL(url string) (string, bool)
	ExposesFileURL(url string) bool
	FileURLEnumerator(url string, opts EnumerationOptions, handler ErrorHandler) (*Enumerator, error)
}

// Filesystem is what a drive needs from its backing store.
type Filesystem interface {
	PathAccess
	LogicalURLAccess
}

// HostFilesystem is a Filesystem that can also reach real host locations.
type HostFilesystem interface {
	Filesystem
	FileURLAccess
}

// Interface satisfaction checks
var (
	_ HostFilesystem = (*LocalFilesystem)(nil)
	_ HostFilesystem = (*MountableImage)(nil)
	_ HostFilesystem = (*ShadowedFilesystem)(nil)
)
