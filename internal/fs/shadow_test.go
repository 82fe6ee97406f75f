package fs

import (
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajaxzhan/boxdrive/pkg/types"
)

func newTestShadow(t *testing.T) (*ShadowedFilesystem, afero.Fs) {
	t.Helper()
	fsys := memTree(t, map[string]string{
		"/C/CONFIG.SYS":       "FILES=30",
		"/C/GAME/GAME.EXE":    "MZ",
		"/C/GAME/SAVES/1.SAV": "one",
	})
	s, err := NewShadowedFilesystem(NewLocalFilesystem("/C", WithFs(fsys)), fsys, "/Shadow/C")
	require.NoError(t, err)
	return s, fsys
}

func readHost(t *testing.T, fsys afero.Fs, p string) string {
	t.Helper()
	data, err := afero.ReadFile(fsys, p)
	require.NoError(t, err)
	return string(data)
}

func writeThrough(t *testing.T, s *ShadowedFilesystem, p, content string) {
	t.Helper()
	f, err := s.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestShadowedFilesystem_RequiresDir(t *testing.T) {
	_, err := NewShadowedFilesystem(NewLocalFilesystem("/C"), afero.NewMemMapFs(), "")
	assert.Error(t, err)
}

func TestShadowedFilesystem_WritesLeaveSourceUntouched(t *testing.T) {
	s, fsys := newTestShadow(t)
	assert.False(t, s.HasChanges())

	writeThrough(t, s, "/CONFIG.SYS", "FILES=40")
	writeThrough(t, s, "/GAME/SAVES/2.SAV", "two")

	data, err := s.ContentsOfFile("/CONFIG.SYS")
	require.NoError(t, err)
	assert.Equal(t, "FILES=40", string(data))
	assert.Equal(t, "FILES=30", readHost(t, fsys, "/C/CONFIG.SYS"))

	_, err = fsys.Stat("/C/GAME/SAVES/2.SAV")
	assert.True(t, os.IsNotExist(err))

	assert.True(t, s.HasChanges())
	changes, err := s.ListChanges()
	require.NoError(t, err)
	assert.Equal(t, []string{"M:/CONFIG.SYS", "M:/GAME/SAVES/2.SAV"}, changes)

	u, err := s.FileURLForPath("/CONFIG.SYS")
	require.NoError(t, err)
	assert.Equal(t, "/Shadow/C/CONFIG.SYS", u)
	p, ok := s.PathForFileURL(u)
	require.True(t, ok)
	assert.Equal(t, "/CONFIG.SYS", p)
}

func TestShadowedFilesystem_AppendCopiesOnWrite(t *testing.T) {
	s, fsys := newTestShadow(t)

	f, err := s.OpenFile("/GAME/SAVES/1.SAV", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.WriteString("+more")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := s.ContentsOfFile("/GAME/SAVES/1.SAV")
	require.NoError(t, err)
	assert.Equal(t, "one+more", string(data))
	assert.Equal(t, "one", readHost(t, fsys, "/C/GAME/SAVES/1.SAV"))

	_, err = s.OpenFile("/MISSING.TXT", os.O_WRONLY, 0)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestShadowedFilesystem_DeleteHidesSourceItem(t *testing.T) {
	s, fsys := newTestShadow(t)

	require.NoError(t, s.RemoveItem("/GAME/SAVES"))

	exists, _ := s.FileExists("/GAME/SAVES/1.SAV")
	assert.False(t, exists)
	exists, _ = s.FileExists("/GAME/SAVES")
	assert.False(t, exists)
	_, err := fsys.Stat("/C/GAME/SAVES/1.SAV")
	assert.NoError(t, err, "source must be untouched")

	e, err := s.Enumerator("/", EnumerationOptions{}, nil)
	require.NoError(t, err)
	all, err := e.All()
	require.NoError(t, err)
	assert.Equal(t, []string{"/CONFIG.SYS", "/GAME", "/GAME/GAME.EXE"}, all)

	changes, err := s.ListChanges()
	require.NoError(t, err)
	assert.Equal(t, []string{"D:/GAME/SAVES"}, changes)

	err = s.RemoveItem("/GAME/SAVES")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestShadowedFilesystem_RecreatedDirectoryIsOpaque(t *testing.T) {
	s, _ := newTestShadow(t)

	require.NoError(t, s.RemoveItem("/GAME/SAVES"))
	require.NoError(t, s.CreateDirectory("/GAME/SAVES", false))

	exists, isDir := s.FileExists("/GAME/SAVES")
	assert.True(t, exists && isDir)
	exists, _ = s.FileExists("/GAME/SAVES/1.SAV")
	assert.False(t, exists, "old contents stay deleted")

	e, err := s.Enumerator("/GAME/SAVES", EnumerationOptions{}, nil)
	require.NoError(t, err)
	all, err := e.All()
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.Error(t, s.CreateDirectory("/GAME/SAVES", false))
	assert.NoError(t, s.CreateDirectory("/GAME/SAVES", true))
}

func TestShadowedFilesystem_Merge(t *testing.T) {
	s, fsys := newTestShadow(t)

	writeThrough(t, s, "/CONFIG.SYS", "FILES=40")
	require.NoError(t, s.RemoveItem("/GAME/SAVES"))
	require.NoError(t, s.CreateDirectory("/GAME/SAVES", false))
	writeThrough(t, s, "/GAME/SAVES/NEW.SAV", "new")

	require.NoError(t, s.Merge())

	assert.Equal(t, "FILES=40", readHost(t, fsys, "/C/CONFIG.SYS"))
	assert.Equal(t, "new", readHost(t, fsys, "/C/GAME/SAVES/NEW.SAV"))
	_, err := fsys.Stat("/C/GAME/SAVES/1.SAV")
	assert.True(t, os.IsNotExist(err), "deleted item must be gone after merge")

	assert.False(t, s.HasChanges())
	exists, _ := s.FileExists("/GAME/SAVES/NEW.SAV")
	assert.True(t, exists)
}

func TestShadowedFilesystem_Revert(t *testing.T) {
	s, fsys := newTestShadow(t)

	writeThrough(t, s, "/CONFIG.SYS", "FILES=40")
	require.NoError(t, s.RemoveItem("/GAME/GAME.EXE"))
	require.NoError(t, s.Revert())

	assert.False(t, s.HasChanges())
	data, err := s.ContentsOfFile("/CONFIG.SYS")
	require.NoError(t, err)
	assert.Equal(t, "FILES=30", string(data))
	exists, _ := s.FileExists("/GAME/GAME.EXE")
	assert.True(t, exists)
	assert.Equal(t, "FILES=30", readHost(t, fsys, "/C/CONFIG.SYS"))
}

func TestShadowedFilesystem_TransferIntoOwnSubdirectory(t *testing.T) {
	s, _ := newTestShadow(t)

	err := s.CopyItem("/GAME", "/GAME/COPY")
	assert.True(t, errors.Is(err, types.ErrIntoItself))
	err = s.MoveItem("/GAME/", "/GAME/SAVES/OLD")
	assert.True(t, errors.Is(err, types.ErrIntoItself))

	exists, _ := s.FileExists("/GAME/COPY")
	assert.False(t, exists)
	data, err := s.ContentsOfFile("/GAME/SAVES/1.SAV")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestShadowedFilesystem_CopyAndMove(t *testing.T) {
	s, fsys := newTestShadow(t)

	require.NoError(t, s.CopyItem("/GAME", "/BACKUP"))
	data, err := s.ContentsOfFile("/BACKUP/SAVES/1.SAV")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
	_, err = fsys.Stat("/C/BACKUP")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.MoveItem("/CONFIG.SYS", "/CONFIG.OLD"))
	exists, _ := s.FileExists("/CONFIG.SYS")
	assert.False(t, exists)
	data, err = s.ContentsOfFile("/CONFIG.OLD")
	require.NoError(t, err)
	assert.Equal(t, "FILES=30", string(data))

	err = s.CopyItem("/GAME/GAME.EXE", "/BACKUP/GAME.EXE")
	assert.True(t, errors.Is(err, os.ErrExist))
	err = s.MoveItem("/NOPE", "/ELSEWHERE")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestShadowedFilesystem_DelegatesLogicalURLs(t *testing.T) {
	s, _ := newTestShadow(t)

	assert.Equal(t, "/C", s.BaseURL())
	assert.Equal(t, "/C/GAME/GAME.EXE", s.LogicalURLForPath("/GAME/GAME.EXE"))

	s.AddRepresentedURL("/Volumes/GAME")
	p, ok := s.PathForLogicalURL("/Volumes/GAME/CONFIG.SYS")
	require.True(t, ok)
	assert.Equal(t, "/CONFIG.SYS", p)
	assert.True(t, s.RepresentsLogicalURL("/Volumes/GAME"))

	_, ok = s.PathForFileURL("/Shadow/C/.wh.CONFIG.SYS")
	assert.False(t, ok, "whiteout markers are not exposed")
}
