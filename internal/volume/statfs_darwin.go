//go:build darwin

package volume

import (
	"golang.org/x/sys/unix"
)

func statVolume(path string) (Info, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Info{}, err
	}
	return Info{
		MountPoint: unix.ByteSliceToString(st.Mntonname[:]),
		Format:     unix.ByteSliceToString(st.Fstypename[:]),
		Size:       uint64(st.Blocks) * uint64(st.Bsize),
	}, nil
}
