// Package mounter defines the host facility that attaches disk images as volumes.
// On macOS it drives hdiutil, on Linux it attaches loop devices.
package mounter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// Mounter attaches disk images to the host and reports where they are mounted.
type Mounter interface {
	// Name returns the name of this mounter implementation.
	Name() string

	// Mount attaches the image and returns the location of its volume.
	Mount(image string) (string, error)

	// Unmount detaches a volume previously returned by Mount or MountedVolume.
	Unmount(volume string) error

	// MountedVolume reports where the image is already mounted, if anywhere.
	MountedVolume(image string) (string, bool, error)

	// SupportedImageTypes lists the image types Mount accepts.
	SupportedImageTypes() []types.FileType
}

// Config holds configuration for the host mounters.
type Config struct {
	// MountRoot is where volume directories are created when the host does not pick one.
	MountRoot string

	// ReadOnly attaches images without write access.
	ReadOnly bool

	// HdiutilPath is the path to the hdiutil binary (darwin only).
	HdiutilPath string

	// Timeout bounds a single attach or detach invocation.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MountRoot:   filepath.Join(os.TempDir(), "boxdrive", "volumes"),
		ReadOnly:    true,
		HdiutilPath: "hdiutil",
		Timeout:     60 * time.Second,
	}
}

// New returns the host mounter for the named backend.
// "auto" picks the platform default; "none" yields a mounter that always fails.
func New(backend string, cfg *Config) (Mounter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch strings.ToLower(backend) {
	case "", "auto":
		return newPlatformMounter(cfg), nil
	case "hdiutil":
		return NewHdiutil(cfg), nil
	case "loop":
		return NewLoop(cfg), nil
	case "none":
		return Unsupported{}, nil
	}
	return nil, fmt.Errorf("unknown mount backend %q", backend)
}

// volumeDir creates a fresh, uniquely named directory for mounting image.
func volumeDir(root, image string) (string, error) {
	name := strings.TrimSuffix(filepath.Base(image), filepath.Ext(image))
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", name, uuid.NewString()[:8]))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create volume dir: %w", err)
	}
	return dir, nil
}

// Unsupported is a Mounter that never mounts anything.
type Unsupported struct{}

func (Unsupported) Name() string { return "none" }

func (Unsupported) Mount(image string) (string, error) {
	return "", &types.ImageError{Image: image, Op: "mount", Err: types.ErrVolumeUnavailable}
}

func (Unsupported) Unmount(volume string) error {
	return &types.ImageError{Image: volume, Op: "unmount", Err: types.ErrVolumeUnavailable}
}

func (Unsupported) MountedVolume(string) (string, bool, error) {
	return "", false, nil
}

func (Unsupported) SupportedImageTypes() []types.FileType {
	return nil
}
