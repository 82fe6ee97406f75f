package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajaxzhan/boxdrive/internal/pathutil"
)

func TestEquivalenceRegistry_AddRemove(t *testing.T) {
	r := NewEquivalenceRegistry("/Games/Doom", nil)

	r.Add("/Volumes/DOOM/")
	r.Add("/Volumes/DOOM")
	r.Add("")
	assert.Equal(t, []string{"/Volumes/DOOM"}, r.URLs())

	assert.True(t, r.Represents("/Games/Doom"))
	assert.True(t, r.Represents("/Volumes/DOOM"))
	assert.False(t, r.Represents("/Volumes/DOOM/DOOM.EXE"))

	r.Remove("/Volumes/DOOM")
	r.Remove("/Volumes/NEVER-ADDED")
	assert.Empty(t, r.URLs())
	assert.False(t, r.Represents("/Volumes/DOOM"))
}

func TestEquivalenceRegistry_Exposes(t *testing.T) {
	r := NewEquivalenceRegistry("/Games/Doom", nil)
	r.Add("/Volumes/DOOM")

	assert.True(t, r.Exposes("/Games/Doom/DOOM.EXE"))
	assert.True(t, r.Exposes("/Volumes/DOOM/DATA/DOOM.WAD"))
	assert.False(t, r.Exposes("/Games/Doom2/DOOM.EXE"), "sibling with shared prefix is not inside")
	assert.False(t, r.Exposes("/Volumes"))
	assert.False(t, r.Exposes(""))
}

func TestEquivalenceRegistry_MatchPrefersDeepestRoot(t *testing.T) {
	r := NewEquivalenceRegistry("/Games", nil)
	r.Add("/Games/Doom/CD")

	root, canonical, ok := r.Match("/Games/Doom/CD/INSTALL.EXE")
	require.True(t, ok)
	assert.Equal(t, "/Games/Doom/CD", root)
	assert.Equal(t, "/Games/Doom/CD/INSTALL.EXE", canonical)

	root, _, ok = r.Match("/Games/Doom/DOOM.EXE")
	require.True(t, ok)
	assert.Equal(t, "/Games", root)
}

func TestEquivalenceRegistry_ExtraRoots(t *testing.T) {
	r := NewEquivalenceRegistry("/Games/CD.iso", nil)

	assert.False(t, r.Exposes("/Volumes/CDROM/INSTALL.EXE"))
	assert.True(t, r.Exposes("/Volumes/CDROM/INSTALL.EXE", "/Volumes/CDROM"))
	assert.True(t, r.Represents("/Volumes/CDROM", "", "/Volumes/CDROM"))
}

func TestEquivalenceRegistry_Symlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "GAME"), 0755))
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	r := NewEquivalenceRegistry(target, pathutil.SymlinkCanonicalizer)

	assert.True(t, r.Represents(link), "symlinked spelling of the base is represented")
	assert.True(t, r.Exposes(filepath.Join(link, "GAME", "NEW.TXT")), "missing leaf below a symlink still matches")

	l := NewLocalFilesystem(target)
	p, ok := l.PathForLogicalURL(filepath.Join(link, "GAME"))
	require.True(t, ok)
	assert.Equal(t, "/GAME", p)
}
