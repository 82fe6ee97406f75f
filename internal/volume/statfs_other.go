//go:build !linux && !darwin

package volume

import (
	"os"
	"path/filepath"
)

func statVolume(path string) (Info, error) {
	if _, err := os.Stat(path); err != nil {
		return Info{}, err
	}
	return Info{MountPoint: filepath.VolumeName(path) + string(filepath.Separator)}, nil
}
