//go:build linux

package volume

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

var linuxFormats = map[int64]string{
	unix.ISOFS_SUPER_MAGIC: "iso9660",
	unix.UDF_SUPER_MAGIC:   "udf",
	unix.MSDOS_SUPER_MAGIC: "msdos",
}

func statVolume(path string) (Info, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Info{}, err
	}

	format, ok := linuxFormats[int64(st.Type)]
	if !ok {
		format = "other"
	}

	mountPoint, err := findMountPoint(path)
	if err != nil {
		return Info{}, err
	}

	return Info{
		MountPoint: mountPoint,
		Format:     format,
		Size:       uint64(st.Blocks) * uint64(st.Bsize),
	}, nil
}

// findMountPoint climbs from path until the device changes.
func findMountPoint(path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", err
	}
	dev := uint64(st.Dev)

	for cur := path; ; {
		parent := filepath.Dir(cur)
		if parent == cur {
			return cur, nil
		}
		var pst unix.Stat_t
		if err := unix.Stat(parent, &pst); err != nil || uint64(pst.Dev) != dev {
			return cur, nil
		}
		cur = parent
	}
}
