package drive

import (
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajaxzhan/boxdrive/internal/fs"
	"github.com/ajaxzhan/boxdrive/internal/mounter/mock"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

func newDrive(t *testing.T, fsys afero.Fs, url, letter string, typ types.DriveType, opts ...Option) *Drive {
	t.Helper()
	opts = append([]Option{WithFs(fsys), WithInspector(volumesAt(nil))}, opts...)
	d, err := New(url, letter, typ, opts...)
	require.NoError(t, err)
	return d
}

func TestNew_FolderDrive(t *testing.T) {
	fsys := memTree(t, map[string]string{"/Games/Doom/DOOM.EXE": "MZ"})
	d := newDrive(t, fsys, "/Games/Doom/", "", types.DriveAutodetect)

	assert.NotEmpty(t, d.ID())
	assert.Equal(t, "/Games/Doom", d.SourceURL())
	assert.Equal(t, "/Games/Doom", d.MountPointURL())
	assert.Equal(t, types.DriveHardDisk, d.Type())
	assert.Equal(t, "hard disk", d.TypeDescription())
	assert.Equal(t, "", d.Letter(), "letter is left for the drive set")
	assert.Equal(t, "Doom", d.Title())
	assert.Equal(t, "Doom", d.VolumeLabel())
	assert.Equal(t, types.DefaultFreeSpace, d.FreeSpace())
	assert.False(t, d.IsReadOnly())
	assert.False(t, d.IsMounted())
	assert.False(t, d.IsShadowed())
	assert.IsType(t, &fs.LocalFilesystem{}, d.Filesystem())
}

func TestNew_InvalidArguments(t *testing.T) {
	fsys := afero.NewMemMapFs()

	_, err := New("", "C", types.DriveHardDisk, WithFs(fsys))
	assert.Error(t, err)

	_, err = New("/Games/Doom", "CD", types.DriveHardDisk, WithFs(fsys))
	assert.True(t, errors.Is(err, types.ErrInvalidLetter))

	_, err = New("/Games/Doom", "Z", types.DriveVirtual, WithFs(fsys))
	assert.Error(t, err)
}

func TestNew_ImageDrive(t *testing.T) {
	fsys := memTree(t, map[string]string{
		"/Games/Doom/CD.iso":         "",
		"/Volumes/CDROM/INSTALL.EXE": "MZ",
	})
	m := mock.New()
	m.SetVolume("/Games/Doom/CD.iso", "/Volumes/CDROM")

	d := newDrive(t, fsys, "/Games/Doom/CD.iso", "D", types.DriveAutodetect, WithMounter(m))

	assert.Equal(t, types.DriveCDROM, d.Type())
	assert.True(t, d.IsReadOnly(), "CD-ROM drives are read-only")
	assert.Equal(t, "", d.VolumeLabel(), "images carry their own label")
	require.IsType(t, &fs.MountableImage{}, d.Filesystem())
	assert.Equal(t, 0, m.MountCalls(), "creating a drive must not mount")

	u, err := d.FileURLForDOSPath(`D:\INSTALL.EXE`)
	require.NoError(t, err)
	assert.Equal(t, "/Volumes/CDROM/INSTALL.EXE", u)
	assert.Equal(t, 1, m.MountCalls())

	require.NoError(t, d.Close())
	assert.Equal(t, 1, m.UnmountCalls())
}

func TestNew_UnsupportedImage(t *testing.T) {
	fsys := memTree(t, map[string]string{"/Games/Doom/CD.iso": ""})
	m := mock.New()
	m.Supported = []types.FileType{types.FileTypeFloppyImage}

	_, err := New("/Games/Doom/CD.iso", "D", types.DriveCDROM, WithFs(fsys), WithMounter(m))
	assert.True(t, errors.Is(err, types.ErrUnsupportedImageType))
}

func TestNew_CDMediaBundle(t *testing.T) {
	fsys := memTree(t, map[string]string{
		"/Games/Quake.cdmedia/quake.cue": "",
		"/Games/Quake.cdmedia/quake.bin": "",
	})
	d := newDrive(t, fsys, "/Games/Quake.cdmedia", "", types.DriveAutodetect, WithMounter(mock.New()))

	assert.Equal(t, types.DriveCDROM, d.Type())
	assert.Equal(t, "/Games/Quake.cdmedia/quake.cue", d.MountPointURL())
	assert.True(t, d.RepresentsLogicalURL("/Games/Quake.cdmedia"))
	assert.True(t, d.RepresentsLogicalURL("/Games/Quake.cdmedia/quake.cue"))
	assert.Empty(t, d.Record().Equivalents, "the source is not an explicit equivalent")
	assert.Equal(t, "/Games/Quake.cdmedia/quake.cue", d.Record().MountPoint)
}

func TestNewVirtual(t *testing.T) {
	d, err := NewVirtual("z")
	require.NoError(t, err)

	assert.Equal(t, "Z", d.Letter())
	assert.True(t, d.IsVirtual())
	assert.True(t, d.IsReadOnly())
	assert.True(t, d.IsLocked())
	assert.True(t, d.IsHidden())
	assert.Nil(t, d.Filesystem())
	assert.False(t, d.ExposesLogicalURL("/"))
	assert.Error(t, d.SetReadOnly(false))

	_, err = d.LogicalURLForDOSPath(`Z:\COMMAND.COM`)
	assert.True(t, errors.Is(err, types.ErrVirtualDrive))
	_, err = d.FileURLForDOSPath(`Z:\COMMAND.COM`)
	assert.True(t, errors.Is(err, types.ErrVirtualDrive))

	_, err = NewVirtual("")
	assert.True(t, errors.Is(err, types.ErrInvalidLetter))
}

func TestDrive_Equivalents(t *testing.T) {
	fsys := memTree(t, map[string]string{"/Games/Doom/": ""})
	d := newDrive(t, fsys, "/Games/Doom", "C", types.DriveHardDisk)

	assert.True(t, d.RepresentsLogicalURL("/Games/Doom"))
	assert.False(t, d.RepresentsLogicalURL("/Volumes/DOOM"))

	d.AddEquivalentURL("/Volumes/DOOM/")
	d.AddEquivalentURL("/Volumes/DOOM")
	assert.Equal(t, []string{"/Volumes/DOOM"}, d.EquivalentURLs())
	assert.True(t, d.RepresentsLogicalURL("/Volumes/DOOM"))
	assert.True(t, d.ExposesLogicalURL("/Volumes/DOOM/DOOM.EXE"))
	assert.False(t, d.RepresentsLogicalURL("/Volumes/DOOM/DOOM.EXE"), "descendants are exposed, not represented")

	p, ok := d.RelativeLocationOfLogicalURL("/Volumes/DOOM/DATA/DOOM.WAD")
	require.True(t, ok)
	assert.Equal(t, "/DATA/DOOM.WAD", p)

	d.RemoveEquivalentURL("/Volumes/DOOM")
	assert.False(t, d.RepresentsLogicalURL("/Volumes/DOOM"))
	assert.False(t, d.ExposesLogicalURL("/Volumes/DOOM/DOOM.EXE"))
	assert.True(t, d.RepresentsLogicalURL("/Games/Doom"), "the source stays represented")

	_, ok = d.RelativeLocationOfLogicalURL("/Games/Heretic/HERETIC.EXE")
	assert.False(t, ok)
}

func TestDrive_FloppyFolderRoundTrip(t *testing.T) {
	fsys := memTree(t, map[string]string{"/Games/Doom.floppy/SETUP.EXE": "MZ"})
	d := newDrive(t, fsys, "/Games/Doom.floppy", "A", types.DriveAutodetect)
	assert.Equal(t, types.DriveFloppy, d.Type())

	u, err := d.LogicalURLForDOSPath(`A:\SETUP.EXE`)
	require.NoError(t, err)
	assert.Equal(t, "/Games/Doom.floppy/SETUP.EXE", u)

	p, ok := d.RelativeLocationOfLogicalURL(u)
	require.True(t, ok)
	assert.Equal(t, "/SETUP.EXE", p)
	assert.Equal(t, `A:\SETUP.EXE`, d.DOSPathForLogicalPath(p))
}

func TestDrive_DOSPaths(t *testing.T) {
	fsys := memTree(t, map[string]string{"/Games/Doom/Game/Doom.exe": "MZ"})
	d := newDrive(t, fsys, "/Games/Doom", "C", types.DriveHardDisk)

	tests := []struct {
		dos  string
		want string
	}{
		{`C:\GAME\DOOM.EXE`, "/Games/Doom/GAME/DOOM.EXE"},
		{`c:\`, "/Games/Doom"},
		{`GAME\SAVES`, "/Games/Doom/GAME/SAVES"},
		{`C:\..\..\ESCAPE`, "/Games/Doom/ESCAPE"},
	}
	for _, tt := range tests {
		t.Run(tt.dos, func(t *testing.T) {
			u, err := d.LogicalURLForDOSPath(tt.dos)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u)
		})
	}

	_, err := d.LogicalURLForDOSPath(`D:\GAME`)
	assert.True(t, errors.Is(err, types.ErrInvalidLetter))

	assert.Equal(t, `C:\`, d.DOSPathForLogicalPath("/"))
	assert.Equal(t, `C:\GAME\DOOM.EXE`, d.DOSPathForLogicalPath("GAME/DOOM.EXE"))
}

func TestDrive_FileURLForDOSPathIgnoresCase(t *testing.T) {
	fsys := memTree(t, map[string]string{"/Games/Doom/Game/Doom.exe": "MZ"})
	d := newDrive(t, fsys, "/Games/Doom", "C", types.DriveHardDisk)

	u, err := d.FileURLForDOSPath(`c:\GAME\DOOM.EXE`)
	require.NoError(t, err)
	assert.Equal(t, "/Games/Doom/Game/Doom.exe", u)

	u, err = d.FileURLForDOSPath(`C:\GAME\NEW.TXT`)
	require.NoError(t, err)
	assert.Equal(t, "/Games/Doom/Game/NEW.TXT", u, "missing components keep their spelling")
}

func TestDrive_SetSourceURLKeepsExplicitFields(t *testing.T) {
	fsys := memTree(t, map[string]string{
		"/Games/Doom/":    "",
		"/Games/Heretic/": "",
	})
	d := newDrive(t, fsys, "/Games/Doom", "C", types.DriveHardDisk)
	d.SetTitle("My Doom")

	require.NoError(t, d.SetSourceURL("/Games/Heretic"))
	assert.Equal(t, "My Doom", d.Title())
	assert.Equal(t, "Heretic", d.VolumeLabel())
	assert.Equal(t, "/Games/Heretic", d.MountPointURL())
	assert.Equal(t, "C", d.Letter())
	assert.Equal(t, types.DriveHardDisk, d.Type(), "type never changes")
	assert.True(t, d.ExposesLogicalURL("/Games/Heretic/HERETIC.EXE"))
	assert.False(t, d.ExposesLogicalURL("/Games/Doom/DOOM.EXE"))
}

func TestDrive_ReadOnly(t *testing.T) {
	fsys := memTree(t, map[string]string{
		"/Games/CD/":  "",
		"/Games/HDD/": "",
	})
	cd := newDrive(t, fsys, "/Games/CD", "D", types.DriveCDROM)
	err := cd.SetReadOnly(false)
	assert.True(t, errors.Is(err, types.ErrReadOnly))
	assert.True(t, cd.IsReadOnly())

	hdd := newDrive(t, fsys, "/Games/HDD", "C", types.DriveHardDisk)
	require.NoError(t, hdd.SetReadOnly(true))
	assert.True(t, hdd.IsReadOnly())
	require.NoError(t, hdd.SetReadOnly(false))
	assert.False(t, hdd.IsReadOnly())
}

func TestDrive_Shadowing(t *testing.T) {
	fsys := memTree(t, map[string]string{"/Games/Doom/DEFAULT.CFG": "old"})
	d := newDrive(t, fsys, "/Games/Doom", "C", types.DriveHardDisk, WithShadowURL("/State/Doom/C"))
	require.True(t, d.IsShadowed())

	f, err := d.Filesystem().OpenFile("/DEFAULT.CFG", os.O_WRONLY|os.O_TRUNC, 0)
	require.NoError(t, err)
	_, err = f.WriteString("new")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.True(t, d.HasShadowedChanges())
	changes, err := d.ShadowedChanges()
	require.NoError(t, err)
	assert.Equal(t, []string{"M:/DEFAULT.CFG"}, changes)

	source, err := afero.ReadFile(fsys, "/Games/Doom/DEFAULT.CFG")
	require.NoError(t, err)
	assert.Equal(t, "old", string(source))

	require.NoError(t, d.RevertShadowedChanges())
	assert.False(t, d.HasShadowedChanges())

	require.NoError(t, d.SetReadOnly(true))
	assert.False(t, d.IsShadowed(), "read-only drives are not shadowed")
	require.NoError(t, d.SetReadOnly(false))
	assert.True(t, d.IsShadowed())

	require.NoError(t, d.SetShadowingEnabled(false))
	assert.False(t, d.IsShadowed())
	assert.NoError(t, d.MergeShadowedChanges(), "merging without a shadow is a no-op")
}

func TestDrive_MergeShadowedChanges(t *testing.T) {
	fsys := memTree(t, map[string]string{"/Games/Doom/SAVE0.DSG": "a"})
	d := newDrive(t, fsys, "/Games/Doom", "C", types.DriveHardDisk, WithShadowURL("/State/Doom/C"))

	require.NoError(t, d.Filesystem().RemoveItem("/SAVE0.DSG"))
	require.NoError(t, d.MergeShadowedChanges())

	_, err := fsys.Stat("/Games/Doom/SAVE0.DSG")
	assert.True(t, os.IsNotExist(err))
	assert.False(t, d.HasShadowedChanges())
}

func TestDrive_RecordRoundTrip(t *testing.T) {
	fsys := memTree(t, map[string]string{"/Games/Doom/": ""})
	d := newDrive(t, fsys, "/Games/Doom", "C", types.DriveHardDisk, WithShadowURL("/State/Doom/C"))
	d.SetTitle("Doom")
	d.SetVolumeLabel("DOOM")
	d.SetFreeSpace(250 << 20)
	d.SetLocked(true)
	d.SetUsesCDAudio(true)
	d.AddEquivalentURL("/Volumes/DOOM")

	rec := d.Record()
	assert.Equal(t, d.ID(), rec.ID)
	assert.Equal(t, "/State/Doom/C", rec.ShadowURL)
	assert.Empty(t, rec.MountPoint)

	restored, err := FromRecord(rec, WithFs(fsys), WithInspector(volumesAt(nil)))
	require.NoError(t, err)
	assert.Equal(t, rec, restored.Record())
	assert.True(t, restored.IsShadowed())
	assert.True(t, restored.RepresentsLogicalURL("/Volumes/DOOM"))

	v, err := NewVirtual("Z")
	require.NoError(t, err)
	restoredVirtual, err := FromRecord(v.Record())
	require.NoError(t, err)
	assert.Equal(t, v.ID(), restoredVirtual.ID())
	assert.True(t, restoredVirtual.IsVirtual())

	_, err = FromRecord(nil)
	assert.Error(t, err)
}

func TestDrive_Ordering(t *testing.T) {
	fsys := memTree(t, map[string]string{
		"/Games/Doom/CD/": "",
		"/Games/Keen/":    "",
	})
	shallow := newDrive(t, fsys, "/Games/Doom", "D", types.DriveHardDisk)
	deep := newDrive(t, fsys, "/Games/Doom/CD", "E", types.DriveCDROM)
	sibling := newDrive(t, fsys, "/Games/Keen", "C", types.DriveHardDisk)
	unlettered := newDrive(t, fsys, "/Games/Keen", "", types.DriveHardDisk)

	assert.Equal(t, -1, shallow.SourceDepthCompare(deep))
	assert.Equal(t, 1, deep.SourceDepthCompare(shallow))
	assert.Equal(t, 1, shallow.SourceDepthCompare(sibling), "equal depth falls back to letters")
	assert.Equal(t, 0, shallow.SourceDepthCompare(shallow))

	assert.Equal(t, -1, sibling.LetterCompare(shallow))
	assert.Equal(t, -1, shallow.LetterCompare(unlettered), "drives without a letter sort last")
	assert.Equal(t, 1, unlettered.LetterCompare(shallow))
}
