package fs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ajaxzhan/boxdrive/internal/logging"
	"github.com/ajaxzhan/boxdrive/internal/mounter"
	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/internal/volume"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// MountableImage exposes the contents of a disk image, mounting it on first access.
//
// Logical URLs are based at the image file itself, so /Games/CD.iso/INSTALL.EXE
// names INSTALL.EXE at the root of the image. File URLs point into the mounted volume.
// An image mounted by this instance is unmounted by Close; one that was already
// mounted elsewhere is never unmounted.
type MountableImage struct {
	*LocalFilesystem

	imageURL      string
	mounter       mounter.Mounter
	allowMounting bool

	mu              sync.Mutex
	volumeURL       string
	unmountWhenDone bool
}

// NewMountableImage creates a filesystem for the image at imageURL.
// It fails with ErrUnsupportedImageType when the mounter cannot handle the image.
func NewMountableImage(imageURL string, m mounter.Mounter, opts ...Option) (*MountableImage, error) {
	ft := types.FileTypeForName(imageURL, false)
	if m == nil || !ft.ConformsToAny(m.SupportedImageTypes()) {
		return nil, &types.ImageError{Image: imageURL, Op: "open", Err: types.ErrUnsupportedImageType}
	}

	o := buildOptions(opts)
	img := &MountableImage{
		LocalFilesystem: newLocalFilesystem(imageURL, o),
		imageURL:        pathutil.CleanURL(imageURL),
		mounter:         m,
		allowMounting:   !o.mountingDisabled,
	}
	img.hostRoot = img.VolumeURL
	img.implicitRoots = img.mountedRoots
	return img, nil
}

// ImageURL returns the location of the image file.
func (img *MountableImage) ImageURL() string {
	return img.imageURL
}

// VolumeURL returns where the image's volume is mounted.
// If it is not mounted and mountIfNeeded is true, the image is mounted now;
// otherwise ErrVolumeUnavailable is returned without any mount attempt.
func (img *MountableImage) VolumeURL(mountIfNeeded bool) (string, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.volumeURL != "" {
		if _, err := img.fs.Stat(img.volumeURL); err == nil {
			return img.volumeURL, nil
		}
		logging.Debug("Mounted volume disappeared",
			logging.String("image", img.imageURL), logging.String("volume", img.volumeURL))
		img.forgetVolumeLocked()
	}

	if v, ok, err := img.mounter.MountedVolume(img.imageURL); err == nil && ok {
		img.volumeURL = pathutil.CleanURL(v)
		img.unmountWhenDone = false
		return img.volumeURL, nil
	}

	if !mountIfNeeded || !img.allowMounting {
		return "", &types.ImageError{Image: img.imageURL, Op: "resolve volume", Err: types.ErrVolumeUnavailable}
	}

	v, err := img.mounter.Mount(img.imageURL)
	if err != nil {
		if !errors.Is(err, types.ErrVolumeUnavailable) {
			err = fmt.Errorf("%w: %w", types.ErrVolumeUnavailable, err)
		}
		return "", &types.ImageError{Image: img.imageURL, Op: "mount", Err: err}
	}

	img.volumeURL = pathutil.CleanURL(v)
	img.unmountWhenDone = true
	logging.Info("Mounted image",
		logging.String("image", img.imageURL), logging.String("volume", img.volumeURL))
	return img.volumeURL, nil
}

// IsMounted reports whether a volume location is currently cached.
func (img *MountableImage) IsMounted() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.volumeURL != ""
}

// UnmountWhenDone reports whether Close will unmount the volume.
func (img *MountableImage) UnmountWhenDone() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.unmountWhenDone
}

// HandleVolumeEvent reacts to a volume being unmounted or renamed by clearing
// the cached location. Repeated notifications are harmless.
func (img *MountableImage) HandleVolumeEvent(ev volume.Event) {
	if ev.Type != volume.Unmounted && ev.Type != volume.Renamed {
		return
	}

	img.mu.Lock()
	defer img.mu.Unlock()
	if img.volumeURL == "" || !pathutil.IsBasedIn(img.volumeURL, ev.Path) {
		return
	}
	logging.Debug("Volume went away",
		logging.String("image", img.imageURL), logging.String("event", ev.Type.String()))
	img.forgetVolumeLocked()
}

// Close unmounts the volume if this instance mounted it.
func (img *MountableImage) Close() error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if !img.unmountWhenDone || img.volumeURL == "" {
		return nil
	}
	if err := img.mounter.Unmount(img.volumeURL); err != nil {
		return &types.ImageError{Image: img.imageURL, Op: "unmount", Err: err}
	}
	logging.Info("Unmounted image", logging.String("image", img.imageURL))
	img.forgetVolumeLocked()
	return nil
}

func (img *MountableImage) forgetVolumeLocked() {
	img.volumeURL = ""
	img.unmountWhenDone = false
}

// mountedRoots lists the mounted volume as an implicitly represented location.
func (img *MountableImage) mountedRoots() []string {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.volumeURL == "" {
		return nil
	}
	return []string{img.volumeURL}
}
