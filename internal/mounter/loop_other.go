//go:build !linux

package mounter

import (
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

func (l *Loop) attach(image, dir string) error {
	return types.ErrVolumeUnavailable
}

func (l *Loop) detach(volume string) error {
	return types.ErrVolumeUnavailable
}
