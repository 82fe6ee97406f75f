//go:build linux

package mounter

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ajaxzhan/boxdrive/pkg/types"
)

const (
	loFlagsReadOnly  = 0x1
	loFlagsAutoclear = 0x4
)

// volumeFilesystems are tried in order when mounting a loop device.
var volumeFilesystems = []string{"iso9660", "udf", "vfat", "msdos"}

func (l *Loop) attach(image, dir string) error {
	ctl, err := unix.Open("/dev/loop-control", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("%w: open loop-control: %v", types.ErrVolumeUnavailable, err)
	}
	defer unix.Close(ctl)

	n, err := unix.IoctlRetInt(ctl, unix.LOOP_CTL_GET_FREE)
	if err != nil {
		return fmt.Errorf("%w: no free loop device: %v", types.ErrVolumeUnavailable, err)
	}
	device := fmt.Sprintf("/dev/loop%d", n)

	openFlags := unix.O_RDWR
	if l.config.ReadOnly {
		openFlags = unix.O_RDONLY
	}
	imageFd, err := unix.Open(image, openFlags|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("%w: open image: %v", types.ErrVolumeUnavailable, err)
	}
	defer unix.Close(imageFd)

	loopFd, err := unix.Open(device, openFlags|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", types.ErrVolumeUnavailable, device, err)
	}
	defer unix.Close(loopFd)

	if err := unix.IoctlSetInt(loopFd, unix.LOOP_SET_FD, imageFd); err != nil {
		return fmt.Errorf("%w: attach %s: %v", types.ErrVolumeUnavailable, device, err)
	}

	info := unix.LoopInfo64{Flags: loFlagsAutoclear}
	copy(info.File_name[:], image)
	var mountFlags uintptr
	if l.config.ReadOnly {
		info.Flags |= loFlagsReadOnly
		mountFlags |= unix.MS_RDONLY
	}
	if err := unix.IoctlLoopSetStatus64(loopFd, &info); err != nil {
		unix.IoctlSetInt(loopFd, unix.LOOP_CLR_FD, 0)
		return fmt.Errorf("%w: configure %s: %v", types.ErrVolumeUnavailable, device, err)
	}

	var lastErr error
	for _, fstype := range volumeFilesystems {
		if lastErr = unix.Mount(device, dir, fstype, mountFlags, ""); lastErr == nil {
			return nil
		}
	}
	unix.IoctlSetInt(loopFd, unix.LOOP_CLR_FD, 0)
	return fmt.Errorf("%w: no mountable filesystem on %s: %v", types.ErrVolumeUnavailable, image, lastErr)
}

func (l *Loop) detach(volume string) error {
	if err := unix.Unmount(volume, 0); err != nil {
		if err == unix.EBUSY {
			return unix.Unmount(volume, unix.MNT_DETACH)
		}
		return err
	}
	return nil
}
