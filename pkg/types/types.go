// Package types defines the core domain types shared by drives, filesystems and the DOS view.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DriveType is the kind of DOS drive. It is fixed once a drive is created.
type DriveType int

const (
	DriveAutodetect DriveType = -1
	DriveHardDisk   DriveType = 0
	DriveFloppy     DriveType = 1
	DriveCDROM      DriveType = 2
	DriveVirtual    DriveType = 3
)

// DefaultFreeSpace lets the emulator choose the free space it reports.
const DefaultFreeSpace int64 = -1

func (t DriveType) String() string {
	switch t {
	case DriveAutodetect:
		return "auto"
	case DriveHardDisk:
		return "hdd"
	case DriveFloppy:
		return "floppy"
	case DriveCDROM:
		return "cdrom"
	case DriveVirtual:
		return "virtual"
	default:
		return fmt.Sprintf("DriveType(%d)", int(t))
	}
}

// Description returns the human-readable name of the drive type.
func (t DriveType) Description() string {
	switch t {
	case DriveHardDisk:
		return "hard disk"
	case DriveFloppy:
		return "floppy disk"
	case DriveCDROM:
		return "CD-ROM"
	case DriveVirtual:
		return "internal"
	default:
		return "unknown"
	}
}

// ParseDriveType parses the names produced by String.
func ParseDriveType(s string) (DriveType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "autodetect":
		return DriveAutodetect, nil
	case "hdd", "harddisk", "hard-disk":
		return DriveHardDisk, nil
	case "floppy", "fdd":
		return DriveFloppy, nil
	case "cdrom", "cd-rom", "cd":
		return DriveCDROM, nil
	case "virtual", "internal":
		return DriveVirtual, nil
	}
	return DriveAutodetect, fmt.Errorf("unknown drive type %q", s)
}

func (t DriveType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DriveType) UnmarshalText(b []byte) error {
	v, err := ParseDriveType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// VolumeKind classifies the host volume that encloses a location.
type VolumeKind string

const (
	VolumeUnknown VolumeKind = "unknown"
	VolumeCD      VolumeKind = "cd"     // ISO 9660, UDF, HFS CD media
	VolumeFloppy  VolumeKind = "floppy" // FAT volume no larger than a floppy
	VolumeOther   VolumeKind = "other"
)

// Permission represents the access level for a path exposed through the DOS view.
type Permission string

const (
	PermNone  Permission = "none"  // Completely invisible, not shown in listings
	PermView  Permission = "view"  // Listed, content unreadable
	PermRead  Permission = "read"  // Listed and readable
	PermWrite Permission = "write" // Modifiable
)

// Level returns the numeric level of a permission for comparison.
// Higher level means more permissive.
func (p Permission) Level() int {
	switch p {
	case PermNone:
		return 0
	case PermView:
		return 1
	case PermRead:
		return 2
	case PermWrite:
		return 3
	default:
		return 0
	}
}

// PatternType indicates how an access pattern should be matched.
type PatternType string

const (
	PatternGlob      PatternType = "glob"      // e.g., *.boxerstate, **/.DS_Store
	PatternDirectory PatternType = "directory" // e.g., /C/SAVES/
	PatternFile      PatternType = "file"      // e.g., /C/AUTOEXEC.BAT (highest priority)
	PatternName      PatternType = "name"      // matches the base name anywhere in the tree
)

// AccessRule grants a permission to the paths matching Pattern.
type AccessRule struct {
	Pattern    string      `json:"pattern" yaml:"pattern"`
	Type       PatternType `json:"type" yaml:"type"`
	Permission Permission  `json:"permission" yaml:"permission"`
	Priority   int         `json:"priority" yaml:"priority"`
}

// MountOptions control how a drive is placed into a drive set.
type MountOptions struct {
	// Replace unmounts any drive already at the requested letter.
	Replace bool
	// AvoidDriveC keeps automatically assigned hard disks off C:.
	AvoidDriveC bool
	// KeepWithSameType gives a CD-ROM or floppy drive without a letter of its own,
	// or with only the one it was queued under, the letter of a mounted drive of
	// the same type, replacing it.
	KeepWithSameType bool
	// UseShadowing redirects writes to the drive's shadow location.
	UseShadowing bool
}

// DriveRecord is the persisted configuration of a drive.
type DriveRecord struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	MountPoint  string    `json:"mount_point,omitempty"`
	ShadowURL   string    `json:"shadow_url,omitempty"`
	Letter      string    `json:"letter,omitempty"`
	Type        DriveType `json:"type"`
	Title       string    `json:"title,omitempty"`
	VolumeLabel string    `json:"volume_label,omitempty"`
	FreeSpace   int64     `json:"free_space"`
	ReadOnly    bool      `json:"read_only,omitempty"`
	Hidden      bool      `json:"hidden,omitempty"`
	Locked      bool      `json:"locked,omitempty"`
	UsesCDAudio bool      `json:"uses_cd_audio,omitempty"`
	Equivalents []string  `json:"equivalents,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
