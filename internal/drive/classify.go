package drive

import (
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/internal/volume"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// ClassifyInput holds everything drive type inference looks at.
type ClassifyInput struct {
	FileType   types.FileType
	IsDir      bool
	VolumeKind types.VolumeKind // kind of the volume enclosing the location
}

type classifyRule struct {
	fileType   types.FileType   // matched with ConformsTo; empty matches any
	dirOnly    bool             // rule only applies to directories
	volumeKind types.VolumeKind // empty matches any
	result     types.DriveType
}

// First match wins. Explicit file types outrank the enclosing volume.
var classifyRules = []classifyRule{
	{fileType: types.FileTypeCDImage, result: types.DriveCDROM},
	{fileType: types.FileTypeFloppyImage, result: types.DriveFloppy},
	{fileType: types.FileTypeCDROMFolder, result: types.DriveCDROM},
	{fileType: types.FileTypeCDMediaBundle, result: types.DriveCDROM},
	{fileType: types.FileTypeFloppyFolder, result: types.DriveFloppy},
	{fileType: types.FileTypeHardDiskFolder, result: types.DriveHardDisk},
	{dirOnly: true, volumeKind: types.VolumeCD, result: types.DriveCDROM},
	{dirOnly: true, volumeKind: types.VolumeFloppy, result: types.DriveFloppy},
}

// Classify returns the drive type for a location. Anything unmatched is a hard disk.
func Classify(in ClassifyInput) types.DriveType {
	for _, r := range classifyRules {
		if r.fileType != "" && !in.FileType.ConformsTo(r.fileType) {
			continue
		}
		if r.dirOnly && !in.IsDir {
			continue
		}
		if r.volumeKind != "" && in.VolumeKind != r.volumeKind {
			continue
		}
		return r.result
	}
	return types.DriveHardDisk
}

// letterPrefix matches names like "C", "D Install Disc" or "a Data".
var letterPrefix = regexp.MustCompile(`^([A-Za-z])(?: (.*))?$`)

// Detector answers questions about a location before a drive is made for it.
type Detector struct {
	fs        afero.Fs
	inspector volume.Inspector
}

// NewDetector creates a Detector. Nil arguments select the host filesystem and statfs.
func NewDetector(fsys afero.Fs, inspector volume.Inspector) *Detector {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if inspector == nil {
		inspector = volume.HostInspector{}
	}
	return &Detector{fs: fsys, inspector: inspector}
}

func (d *Detector) fileType(url string) (types.FileType, bool) {
	isDir := false
	if info, err := d.fs.Stat(url); err == nil {
		isDir = info.IsDir()
	}
	return types.FileTypeForName(filepath.Base(url), isDir), isDir
}

// PreferredType picks the drive type for the contents of url.
func (d *Detector) PreferredType(url string) types.DriveType {
	ft, isDir := d.fileType(url)
	kind := types.VolumeUnknown
	if info, err := d.inspector.Inspect(url); err == nil {
		kind = info.Kind
	}
	return Classify(ClassifyInput{FileType: ft, IsDir: isDir, VolumeKind: kind})
}

// PreferredTitle is the filename of url including its extension.
func (d *Detector) PreferredTitle(url string) string {
	return filepath.Base(filepath.Clean(url))
}

// PreferredVolumeLabel derives a DOS volume label from url.
// Mountable folders lose their extension and any drive letter prefix.
// Disk images carry their own label, so they get none.
func (d *Detector) PreferredVolumeLabel(url string) string {
	ft, _ := d.fileType(url)
	name := filepath.Base(filepath.Clean(url))
	switch {
	case ft.IsDiskImage():
		return ""
	case ft.ConformsTo(types.FileTypeMountFolder):
		name = strings.TrimSuffix(name, path.Ext(name))
		if m := letterPrefix.FindStringSubmatch(name); m != nil {
			return m[2]
		}
		return name
	default:
		return name
	}
}

// PreferredLetter parses a drive letter from the name of a disk image or
// mountable folder, such as "D Install Disc.iso". It returns "" otherwise.
func (d *Detector) PreferredLetter(url string) string {
	ft, _ := d.fileType(url)
	if !ft.IsDiskImage() && !ft.ConformsTo(types.FileTypeMountFolder) {
		return ""
	}
	name := filepath.Base(filepath.Clean(url))
	name = strings.TrimSuffix(name, path.Ext(name))
	if m := letterPrefix.FindStringSubmatch(name); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// MountPointFor returns the location that is actually mounted for url.
// A .cdmedia bundle mounts the first cue sheet or ISO image inside it.
func (d *Detector) MountPointFor(url string) string {
	url = filepath.Clean(url)
	ft, _ := d.fileType(url)
	if !ft.ConformsTo(types.FileTypeCDMediaBundle) {
		return url
	}
	entries, err := afero.ReadDir(d.fs, url)
	if err != nil {
		return url
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch types.FileTypeForName(e.Name(), false) {
		case types.FileTypeCueImage, types.FileTypeISOImage:
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return url
	}
	// Cue sheets first so their tracks are mounted with them.
	sort.SliceStable(candidates, func(i, j int) bool {
		ci := types.FileTypeForName(candidates[i], false) == types.FileTypeCueImage
		cj := types.FileTypeForName(candidates[j], false) == types.FileTypeCueImage
		return ci && !cj
	})
	return filepath.Join(url, candidates[0])
}

// ValidLetter reports whether s is a single drive letter A-Z, in either case.
func ValidLetter(s string) bool {
	return len(s) == 1 && strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZ", rune(strings.ToUpper(s)[0]))
}
