// Package types defines error types for drive resolution and filesystem access.
package types

import (
	"errors"
	"fmt"
	iofs "io/fs"
)

// Common errors
var (
	ErrNotFound             = errors.New("not found")
	ErrVolumeUnavailable    = errors.New("volume unavailable")
	ErrUnsupportedImageType = errors.New("unsupported image type")
	ErrNoDriveAtLetter      = errors.New("no drive mounted at letter")
	ErrLetterInUse          = errors.New("drive letter already in use")
	ErrNoFreeLetter         = errors.New("no free drive letter")
	ErrDriveMounted         = errors.New("drive is mounted")
	ErrDriveLocked          = errors.New("drive is locked")
	ErrVirtualDrive         = errors.New("drive has no filesystem")
	ErrReadOnly             = errors.New("read-only")
	ErrInvalidLetter        = errors.New("invalid drive letter")
	ErrOutsideGamebox       = errors.New("path is outside gamebox")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrNotVisible           = errors.New("file or directory not visible")
	ErrInvalidPattern       = errors.New("invalid access pattern")
	ErrIntoItself           = errors.New("destination is inside the item being transferred")
)

// IOError wraps a host filesystem failure with the operation and logical path.
// A missing file matches ErrNotFound.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrNotFound && errors.Is(e.Err, iofs.ErrNotExist)
}

// EnumerationError is returned when a directory walk is aborted by its error handler.
type EnumerationError struct {
	Path string
	Err  error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumeration aborted at %s: %v", e.Path, e.Err)
}

func (e *EnumerationError) Unwrap() error {
	return e.Err
}

// ImageError represents a disk-image related failure with context.
type ImageError struct {
	Image string
	Op    string
	Err   error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image %s: %s: %v", e.Image, e.Op, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// MountError represents a failed invocation of the host mount facility.
type MountError struct {
	Image    string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *MountError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed for %s: exit code %d: %s", e.Command, e.Image, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s failed for %s: exit code %d", e.Command, e.Image, e.ExitCode)
}

// Unwrap reports every mount failure as an unavailable volume.
func (e *MountError) Unwrap() error {
	return ErrVolumeUnavailable
}

// ResolutionError is returned when a URL or DOS path cannot be mapped to a drive.
type ResolutionError struct {
	Target string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s: %v", e.Target, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// PermissionError represents a denied access through the DOS view.
type PermissionError struct {
	Path       string
	Operation  string
	Permission Permission
	Required   Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf(
		"permission denied: %s on '%s' requires %s permission, but only has %s",
		e.Operation, e.Path, e.Required, e.Permission,
	)
}

func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}
