package mounter

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ajaxzhan/boxdrive/internal/logging"
	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// Loop mounts images through Linux loop devices.
type Loop struct {
	config *Config

	sysBlock   string // /sys/block
	mountsFile string // /proc/self/mounts
}

// NewLoop creates a loop-device mounter.
func NewLoop(cfg *Config) *Loop {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Loop{
		config:     cfg,
		sysBlock:   "/sys/block",
		mountsFile: "/proc/self/mounts",
	}
}

// Name returns the name of this mounter implementation.
func (l *Loop) Name() string {
	return "loop"
}

// SupportedImageTypes lists the raw image types a loop device can carry.
func (l *Loop) SupportedImageTypes() []types.FileType {
	return []types.FileType{
		types.FileTypeISOImage,
		types.FileTypeCDRImage,
		types.FileTypeFloppyImage,
	}
}

// Mount attaches image to a free loop device and mounts it under the mount root.
func (l *Loop) Mount(image string) (string, error) {
	dir, err := volumeDir(l.config.MountRoot, image)
	if err != nil {
		return "", &types.ImageError{Image: image, Op: "mount", Err: err}
	}

	if err := l.attach(image, dir); err != nil {
		os.Remove(dir)
		return "", &types.ImageError{Image: image, Op: "mount", Err: err}
	}

	logging.Debug("Attached image", logging.String("image", image), logging.String("volume", dir))
	return dir, nil
}

// Unmount unmounts volume; the loop device detaches itself once unused.
func (l *Loop) Unmount(volume string) error {
	if err := l.detach(volume); err != nil {
		return &types.ImageError{Image: volume, Op: "unmount", Err: err}
	}
	if pathutil.IsBasedIn(volume, l.config.MountRoot) {
		os.Remove(volume)
	}
	return nil
}

// MountedVolume looks for a loop device backed by image and returns its mount point.
func (l *Loop) MountedVolume(image string) (string, bool, error) {
	backing, err := filepath.Glob(filepath.Join(l.sysBlock, "loop*", "loop", "backing_file"))
	if err != nil {
		return "", false, err
	}

	want := pathutil.Resolve(image)
	for _, file := range backing {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if pathutil.Resolve(strings.TrimSpace(string(data))) != want {
			continue
		}

		device := "/dev/" + filepath.Base(filepath.Dir(filepath.Dir(file)))
		f, err := os.Open(l.mountsFile)
		if err != nil {
			return "", false, err
		}
		mountPoint, ok := findMountPoint(f, device)
		f.Close()
		if ok {
			return mountPoint, true, nil
		}
	}
	return "", false, nil
}

// findMountPoint scans a mounts table (fstab format) for device.
func findMountPoint(r io.Reader, device string) (string, bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == device {
			return unescapeMountField(fields[1]), true
		}
	}
	return "", false
}

// unescapeMountField decodes the octal escapes (\040 for space) used in mount tables.
func unescapeMountField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
