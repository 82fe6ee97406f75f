package types

import (
	"path"
	"sort"
	"strings"
)

// FileType identifies what a file or directory is, determined from its extension.
type FileType string

const (
	FileTypeItem           FileType = "item"
	FileTypeData           FileType = "data"
	FileTypeFolder         FileType = "folder"
	FileTypePackage        FileType = "package"
	FileTypeDiskImage      FileType = "disk-image"
	FileTypeCDImage        FileType = "cd-image"
	FileTypeISOImage       FileType = "iso-image"
	FileTypeCDRImage       FileType = "cdr-image"
	FileTypeCueImage       FileType = "cue-image"
	FileTypeToastImage     FileType = "toast-image"
	FileTypeFloppyImage    FileType = "floppy-image"
	FileTypeAppleDiskImage FileType = "apple-disk-image"
	FileTypeMountFolder    FileType = "mountable-folder"
	FileTypeFloppyFolder   FileType = "floppy-folder"
	FileTypeCDROMFolder    FileType = "cdrom-folder"
	FileTypeHardDiskFolder FileType = "harddisk-folder"
	FileTypeCDMediaBundle  FileType = "cdmedia-bundle"
	FileTypeGamebox        FileType = "gamebox"
	FileTypeExecutable     FileType = "dos-executable"
	FileTypeBatchFile      FileType = "dos-batch-file"
)

// parentFileTypes is the conformance hierarchy: each type conforms to its parent chain.
var parentFileTypes = map[FileType]FileType{
	FileTypeData:           FileTypeItem,
	FileTypeFolder:         FileTypeItem,
	FileTypePackage:        FileTypeFolder,
	FileTypeDiskImage:      FileTypeData,
	FileTypeCDImage:        FileTypeDiskImage,
	FileTypeISOImage:       FileTypeCDImage,
	FileTypeCDRImage:       FileTypeCDImage,
	FileTypeCueImage:       FileTypeCDImage,
	FileTypeToastImage:     FileTypeCDImage,
	FileTypeFloppyImage:    FileTypeDiskImage,
	FileTypeAppleDiskImage: FileTypeDiskImage,
	FileTypeMountFolder:    FileTypePackage,
	FileTypeFloppyFolder:   FileTypeMountFolder,
	FileTypeCDROMFolder:    FileTypeMountFolder,
	FileTypeHardDiskFolder: FileTypeMountFolder,
	FileTypeCDMediaBundle:  FileTypeMountFolder,
	FileTypeGamebox:        FileTypePackage,
	FileTypeExecutable:     FileTypeData,
	FileTypeBatchFile:      FileTypeExecutable,
}

var fileExtensions = map[string]FileType{
	"iso":      FileTypeISOImage,
	"cdr":      FileTypeCDRImage,
	"cue":      FileTypeCueImage,
	"toast":    FileTypeToastImage,
	"img":      FileTypeFloppyImage,
	"ima":      FileTypeFloppyImage,
	"vfd":      FileTypeFloppyImage,
	"flp":      FileTypeFloppyImage,
	"dmg":      FileTypeAppleDiskImage,
	"floppy":   FileTypeFloppyFolder,
	"cdrom":    FileTypeCDROMFolder,
	"harddisk": FileTypeHardDiskFolder,
	"cdmedia":  FileTypeCDMediaBundle,
	"boxer":    FileTypeGamebox,
	"app":      FileTypePackage,
	"bundle":   FileTypePackage,
	"exe":      FileTypeExecutable,
	"com":      FileTypeExecutable,
	"bat":      FileTypeBatchFile,
}

// directoryTypes are extensions whose type only applies to directories.
var directoryTypes = map[FileType]bool{
	FileTypeFloppyFolder:   true,
	FileTypeCDROMFolder:    true,
	FileTypeHardDiskFolder: true,
	FileTypeCDMediaBundle:  true,
	FileTypeGamebox:        true,
	FileTypePackage:        true,
}

// FileTypeForName returns the type of an entry with the given name.
func FileTypeForName(name string, isDir bool) FileType {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	t, ok := fileExtensions[ext]
	switch {
	case ok && directoryTypes[t] == isDir:
		return t
	case isDir:
		return FileTypeFolder
	default:
		return FileTypeData
	}
}

// ConformsTo reports whether t is ancestor or one of its descendants.
func (t FileType) ConformsTo(ancestor FileType) bool {
	for cur, ok := t, true; ok; cur, ok = parentFileTypes[cur] {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// ConformsToAny reports whether t conforms to any of the given types.
func (t FileType) ConformsToAny(types []FileType) bool {
	for _, a := range types {
		if t.ConformsTo(a) {
			return true
		}
	}
	return false
}

// IsPackage reports whether entries of this type are opaque bundles.
func (t FileType) IsPackage() bool {
	return t.ConformsTo(FileTypePackage)
}

// IsDiskImage reports whether t is any kind of disk image.
func (t FileType) IsDiskImage() bool {
	return t.ConformsTo(FileTypeDiskImage)
}

// DiskImageExtensions lists the extensions recognised as disk images.
func DiskImageExtensions() []string {
	var exts []string
	for ext, t := range fileExtensions {
		if t.IsDiskImage() {
			exts = append(exts, ext)
		}
	}
	sort.Strings(exts)
	return exts
}
