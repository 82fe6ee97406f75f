package mounter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ajaxzhan/boxdrive/internal/logging"
	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// Hdiutil mounts images with the macOS hdiutil tool.
type Hdiutil struct {
	config *Config

	// run executes hdiutil; replaced in tests.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewHdiutil creates an hdiutil-backed mounter.
func NewHdiutil(cfg *Config) *Hdiutil {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	h := &Hdiutil{config: cfg}
	h.run = h.exec
	return h
}

// Name returns the name of this mounter implementation.
func (h *Hdiutil) Name() string {
	return "hdiutil"
}

// SupportedImageTypes lists the image types hdiutil can attach.
func (h *Hdiutil) SupportedImageTypes() []types.FileType {
	return []types.FileType{
		types.FileTypeISOImage,
		types.FileTypeCDRImage,
		types.FileTypeToastImage,
		types.FileTypeAppleDiskImage,
		types.FileTypeFloppyImage,
	}
}

// Mount attaches image at a fresh directory under the mount root.
func (h *Hdiutil) Mount(image string) (string, error) {
	dir, err := volumeDir(h.config.MountRoot, image)
	if err != nil {
		return "", &types.ImageError{Image: image, Op: "mount", Err: err}
	}

	args := []string{"attach", "-nobrowse", "-noverify", "-noautoopen"}
	if h.config.ReadOnly {
		args = append(args, "-readonly")
	}
	args = append(args, "-mountpoint", dir, image)

	ctx, cancel := h.context()
	defer cancel()
	if _, err := h.run(ctx, args...); err != nil {
		os.Remove(dir)
		return "", withImage(err, image)
	}

	logging.Debug("Attached image", logging.String("image", image), logging.String("volume", dir))
	return dir, nil
}

// Unmount detaches volume, forcing the detach if the volume is busy.
func (h *Hdiutil) Unmount(volume string) error {
	ctx, cancel := h.context()
	defer cancel()

	if _, err := h.run(ctx, "detach", volume); err != nil {
		logging.Warn("Detach failed, forcing", logging.String("volume", volume), logging.Err(err))
		if _, err := h.run(ctx, "detach", "-force", volume); err != nil {
			return withImage(err, volume)
		}
	}

	if pathutil.IsBasedIn(volume, h.config.MountRoot) {
		os.Remove(volume)
	}
	return nil
}

// MountedVolume asks hdiutil whether image is already attached.
func (h *Hdiutil) MountedVolume(image string) (string, bool, error) {
	ctx, cancel := h.context()
	defer cancel()

	out, err := h.run(ctx, "info")
	if err != nil {
		return "", false, err
	}

	want := pathutil.Resolve(image)
	for img, volumes := range parseHdiutilInfo(out) {
		if pathutil.Resolve(img) == want && len(volumes) > 0 {
			return volumes[0], true, nil
		}
	}
	return "", false, nil
}

func (h *Hdiutil) context() (context.Context, context.CancelFunc) {
	if h.config.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), h.config.Timeout)
}

func (h *Hdiutil) exec(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.config.HdiutilPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		mountErr := &types.MountError{
			Command:  "hdiutil " + args[0],
			ExitCode: -1,
			Stderr:   strings.TrimSpace(stderr.String()),
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			mountErr.ExitCode = exitErr.ExitCode()
		} else if mountErr.Stderr == "" {
			mountErr.Stderr = err.Error()
		}
		return nil, mountErr
	}
	return stdout.Bytes(), nil
}

func withImage(err error, image string) error {
	var mountErr *types.MountError
	if errors.As(err, &mountErr) {
		mountErr.Image = image
		return mountErr
	}
	return &types.ImageError{Image: image, Op: "mount", Err: fmt.Errorf("%w: %v", types.ErrVolumeUnavailable, err)}
}

// parseHdiutilInfo maps each attached image path to its mount points.
// Blocks are separated by lines of "=" characters.
func parseHdiutilInfo(out []byte) map[string][]string {
	result := make(map[string][]string)

	var image string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "====="):
			image = ""
		case strings.HasPrefix(line, "image-path"):
			if i := strings.Index(line, ":"); i >= 0 {
				image = strings.TrimSpace(line[i+1:])
				result[image] = nil
			}
		case image != "" && strings.HasPrefix(line, "/dev/"):
			fields := strings.Split(line, "\t")
			if len(fields) < 2 {
				continue
			}
			mountPoint := strings.TrimSpace(fields[len(fields)-1])
			if strings.HasPrefix(mountPoint, "/") {
				result[image] = append(result[image], mountPoint)
			}
		}
	}
	return result
}
