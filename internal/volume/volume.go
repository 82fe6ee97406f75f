// Package volume inspects host volumes and reports volumes appearing and disappearing.
package volume

import (
	"path/filepath"

	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// MaxFloppySize is the largest volume treated as a floppy disk (2.88 MB ED floppy).
const MaxFloppySize = 2880 * 1024

// Info describes the host volume enclosing a location.
type Info struct {
	MountPoint string
	Format     string // host filesystem name, e.g. "iso9660", "msdos"
	Size       uint64
	Kind       types.VolumeKind
}

// Inspector describes the volume enclosing a location.
type Inspector interface {
	Inspect(path string) (Info, error)
}

// InspectorFunc adapts a function to Inspector.
type InspectorFunc func(path string) (Info, error)

func (f InspectorFunc) Inspect(path string) (Info, error) {
	return f(path)
}

// HostInspector queries the real host through statfs(2).
type HostInspector struct{}

func (HostInspector) Inspect(path string) (Info, error) {
	return Inspect(path)
}

// Inspect returns information about the volume containing path.
func Inspect(path string) (Info, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Info{}, err
	}
	info, err := statVolume(abs)
	if err != nil {
		return Info{}, err
	}
	info.Kind = KindForFormat(info.Format, info.Size)
	return info, nil
}

// IsVolumeRoot reports whether path is the mount point of its volume.
func IsVolumeRoot(path string) bool {
	info, err := Inspect(path)
	if err != nil {
		return false
	}
	abs, _ := filepath.Abs(path)
	return filepath.Clean(info.MountPoint) == filepath.Clean(abs)
}

// KindForFormat classifies a volume from its filesystem name and size.
func KindForFormat(format string, size uint64) types.VolumeKind {
	switch format {
	case "":
		return types.VolumeUnknown
	case "iso9660", "cd9660", "udf", "cddafs":
		return types.VolumeCD
	case "msdos", "vfat", "fat", "fat12", "fat16":
		if size > 0 && size <= MaxFloppySize {
			return types.VolumeFloppy
		}
		return types.VolumeOther
	default:
		return types.VolumeOther
	}
}
