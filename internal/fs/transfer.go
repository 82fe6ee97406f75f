package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// transferItem copies or moves an item. Both directions refuse to overwrite
// the destination and preserve mode and modification time.
func (l *LocalFilesystem) transferItem(from, to string, copying bool) error {
	op := "move"
	if copying {
		op = "copy"
	}

	src, err := l.FileURLForPath(from)
	if err != nil {
		return err
	}
	dst, err := l.FileURLForPath(to)
	if err != nil {
		return err
	}

	info, err := l.fs.Stat(src)
	if err != nil {
		return &types.IOError{Op: op, Path: from, Err: err}
	}
	if dst != src && pathutil.IsBasedIn(dst, src) {
		return &types.IOError{Op: op, Path: to, Err: types.ErrIntoItself}
	}
	if _, err := l.fs.Stat(dst); err == nil {
		return &types.IOError{Op: op, Path: to, Err: os.ErrExist}
	}

	if !copying {
		err := l.fs.Rename(src, dst)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syscall.EXDEV) {
			return &types.IOError{Op: op, Path: from, Err: err}
		}
	}

	if err := copyTree(l.fs, src, l.fs, dst, info); err != nil {
		return &types.IOError{Op: op, Path: from, Err: err}
	}
	if !copying {
		if err := l.fs.RemoveAll(src); err != nil {
			return &types.IOError{Op: op, Path: from, Err: err}
		}
	}
	return nil
}

// copyTree copies src (file or directory) to dst, which may live on another afero.Fs.
func copyTree(srcFs afero.Fs, src string, dstFs afero.Fs, dst string, info os.FileInfo) error {
	if !info.IsDir() {
		return copyFile(srcFs, src, dstFs, dst, info)
	}

	if err := dstFs.MkdirAll(dst, info.Mode().Perm()|0700); err != nil {
		return err
	}
	entries, err := afero.ReadDir(srcFs, src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyTree(srcFs, filepath.Join(src, entry.Name()), dstFs, filepath.Join(dst, entry.Name()), entry); err != nil {
			return err
		}
	}
	return dstFs.Chtimes(dst, info.ModTime(), info.ModTime())
}

// copyFile copies a regular file, preserving permissions and modification time.
func copyFile(srcFs afero.Fs, src string, dstFs afero.Fs, dst string, info os.FileInfo) error {
	srcFile, err := srcFs.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	if err := dstFs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	dstFile, err := dstFs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	if err := dstFile.Close(); err != nil {
		return err
	}
	return dstFs.Chtimes(dst, info.ModTime(), info.ModTime())
}
