// Package gamebox models a gamebox: a folder holding a DOS game together with
// its bundled drives, launchers and metadata.
package gamebox

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/internal/drive"
	"github.com/ajaxzhan/boxdrive/internal/logging"
	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// Well-known names inside a gamebox.
const (
	Extension               = ".boxer"
	GameInfoFileName        = "Game Info.yaml"
	ConfigurationFileName   = "DOSBox Preferences.conf"
	DocumentationFolderName = "Documentation"
)

var (
	hddVolumeTypes    = []types.FileType{types.FileTypeHardDiskFolder}
	cdVolumeTypes     = []types.FileType{types.FileTypeCDROMFolder, types.FileTypeCDImage, types.FileTypeCDMediaBundle}
	floppyVolumeTypes = []types.FileType{types.FileTypeFloppyFolder, types.FileTypeFloppyImage}
)

// Option configures a Gamebox.
type Option func(*Gamebox)

// WithFs sets the filesystem the gamebox lives on. Defaults to the host filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(g *Gamebox) {
		g.fs = fsys
	}
}

// WithWritableCache sets the cache consulted by IsWritable.
func WithWritableCache(cache *WritableCache) Option {
	return func(g *Gamebox) {
		g.writable = cache
	}
}

// WithDriveOptions sets options applied to every bundled drive.
func WithDriveOptions(opts ...drive.Option) Option {
	return func(g *Gamebox) {
		g.driveOpts = append(g.driveOpts, opts...)
	}
}

// Gamebox is a game folder on disk.
type Gamebox struct {
	path      string
	fs        afero.Fs
	driveOpts []drive.Option
	writable  *WritableCache
	info      *GameInfo
}

// Open returns the gamebox at path, which must be an existing directory.
func Open(path string, opts ...Option) (*Gamebox, error) {
	path = pathutil.CleanURL(path)
	if path == "" {
		return nil, errors.New("gamebox path cannot be empty")
	}

	g := &Gamebox{path: path}
	for _, opt := range opts {
		opt(g)
	}
	if g.fs == nil {
		g.fs = afero.NewOsFs()
	}
	if g.writable == nil {
		g.writable = NewWritableCache(DefaultWritableTTL)
	}

	info, err := g.fs.Stat(path)
	if err != nil {
		return nil, &types.IOError{Op: "open gamebox", Path: path, Err: err}
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("gamebox %s is not a directory", path)
	}
	return g, nil
}

// Path returns the location of the gamebox.
func (g *Gamebox) Path() string {
	return g.path
}

// GameName is the gamebox's filename without its gamebox extension.
func (g *Gamebox) GameName() string {
	name := filepath.Base(g.path)
	if strings.EqualFold(filepath.Ext(name), Extension) {
		name = name[:len(name)-len(Extension)]
	}
	return name
}

// ConfigurationFileURL is where the game's emulator configuration lives. It may not exist yet.
func (g *Gamebox) ConfigurationFileURL() string {
	return filepath.Join(g.path, ConfigurationFileName)
}

// DocumentationFolderURL is where the game's documentation lives. It may not exist yet.
func (g *Gamebox) DocumentationFolderURL() string {
	return filepath.Join(g.path, DocumentationFolderName)
}

// HasDocumentationFolder reports whether the documentation folder exists.
func (g *Gamebox) HasDocumentationFolder() bool {
	ok, err := afero.DirExists(g.fs, g.DocumentationFolderURL())
	return err == nil && ok
}

// =============================================================================
// Bundled volumes
// =============================================================================

// VolumeURLsMatchingTypes returns the top-level entries of the gamebox whose
// type conforms to one of fileTypes, in filename order. Hidden entries are ignored.
func (g *Gamebox) VolumeURLsMatchingTypes(fileTypes []types.FileType) ([]string, error) {
	entries, err := afero.ReadDir(g.fs, g.path)
	if err != nil {
		return nil, &types.IOError{Op: "list gamebox", Path: g.path, Err: err}
	}

	var urls []string
	for _, entry := range entries {
		if pathutil.IsHidden(entry.Name()) {
			continue
		}
		t := types.FileTypeForName(entry.Name(), entry.IsDir())
		if t.ConformsToAny(fileTypes) {
			urls = append(urls, filepath.Join(g.path, entry.Name()))
		}
	}
	return urls, nil
}

// HDDVolumeURLs returns the bundled hard-disk folders.
func (g *Gamebox) HDDVolumeURLs() ([]string, error) {
	return g.VolumeURLsMatchingTypes(hddVolumeTypes)
}

// CDVolumeURLs returns the bundled CD-ROM folders, images and media bundles.
func (g *Gamebox) CDVolumeURLs() ([]string, error) {
	return g.VolumeURLsMatchingTypes(cdVolumeTypes)
}

// FloppyVolumeURLs returns the bundled floppy folders and images.
func (g *Gamebox) FloppyVolumeURLs() ([]string, error) {
	return g.VolumeURLsMatchingTypes(floppyVolumeTypes)
}

// BundledDrives creates a drive for every bundled volume, ordered by drive
// letter and then by filename. Drives without a preferred letter come last.
// Volumes that cannot be turned into drives are skipped and logged.
func (g *Gamebox) BundledDrives() ([]*drive.Drive, error) {
	groups := []struct {
		list      func() ([]string, error)
		driveType types.DriveType
	}{
		{g.HDDVolumeURLs, types.DriveHardDisk},
		{g.CDVolumeURLs, types.DriveCDROM},
		{g.FloppyVolumeURLs, types.DriveFloppy},
	}

	opts := append([]drive.Option{drive.WithFs(g.fs)}, g.driveOpts...)

	var drives []*drive.Drive
	for _, group := range groups {
		urls, err := group.list()
		if err != nil {
			return nil, err
		}
		for _, url := range urls {
			d, err := drive.New(url, "", group.driveType, opts...)
			if err != nil {
				logging.Warn("Skipping bundled volume",
					logging.String("gamebox", g.path),
					logging.String("volume", url),
					logging.Err(err))
				continue
			}
			drives = append(drives, d)
		}
	}

	sort.SliceStable(drives, func(i, j int) bool {
		if c := drives[i].LetterCompare(drives[j]); c != 0 {
			return c < 0
		}
		return filepath.Base(drives[i].SourceURL()) < filepath.Base(drives[j].SourceURL())
	})
	return drives, nil
}

// =============================================================================
// Launchers
// =============================================================================

// ValidateLauncherURL checks that url lies inside the gamebox and returns its
// path relative to the gamebox root.
func (g *Gamebox) ValidateLauncherURL(url string) (string, error) {
	url = pathutil.CleanURL(url)
	if url == "" {
		return "", errors.New("launcher URL cannot be empty")
	}
	if url == g.path || !pathutil.IsBasedIn(url, g.path) {
		return "", fmt.Errorf("%w: %s", types.ErrOutsideGamebox, url)
	}
	return pathutil.RelativeTo(url, g.path), nil
}

// URLForLauncher resolves a launcher's stored path against the gamebox.
func (g *Gamebox) URLForLauncher(l Launcher) string {
	return filepath.Join(g.path, filepath.FromSlash(l.RelativePath))
}

// AddLauncher appends a launcher for the program at url. An empty title
// defaults to the program's filename.
func (g *Gamebox) AddLauncher(url, arguments, title string) error {
	return g.InsertLauncher(url, arguments, title, -1)
}

// InsertLauncher inserts a launcher at index. A negative or out of range
// index appends.
func (g *Gamebox) InsertLauncher(url, arguments, title string, index int) error {
	rel, err := g.ValidateLauncherURL(url)
	if err != nil {
		return err
	}
	if title == "" {
		title = filepath.Base(url)
	}

	info, err := g.GameInfo()
	if err != nil {
		return err
	}
	l := Launcher{Title: title, RelativePath: rel, Arguments: arguments}
	if index < 0 || index >= len(info.Launchers) {
		info.Launchers = append(info.Launchers, l)
	} else {
		info.Launchers = append(info.Launchers[:index], append([]Launcher{l}, info.Launchers[index:]...)...)
	}
	return g.SaveGameInfo()
}

// RemoveLauncherAt removes the launcher at index.
func (g *Gamebox) RemoveLauncherAt(index int) error {
	info, err := g.GameInfo()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(info.Launchers) {
		return fmt.Errorf("launcher index %d out of range", index)
	}
	info.Launchers = append(info.Launchers[:index], info.Launchers[index+1:]...)
	return g.SaveGameInfo()
}

// Launchers returns a copy of the gamebox's launchers.
func (g *Gamebox) Launchers() ([]Launcher, error) {
	info, err := g.GameInfo()
	if err != nil {
		return nil, err
	}
	return append([]Launcher(nil), info.Launchers...), nil
}

// DefaultLauncher returns the launcher to run when the game first starts.
func (g *Gamebox) DefaultLauncher() (Launcher, bool, error) {
	info, err := g.GameInfo()
	if err != nil {
		return Launcher{}, false, err
	}
	for _, l := range info.Launchers {
		if l.Default {
			return l, true, nil
		}
	}
	return Launcher{}, false, nil
}

// SetDefaultLauncherIndex marks the launcher at index as the default.
// A negative index clears the default.
func (g *Gamebox) SetDefaultLauncherIndex(index int) error {
	info, err := g.GameInfo()
	if err != nil {
		return err
	}
	if index >= len(info.Launchers) {
		return fmt.Errorf("launcher index %d out of range", index)
	}
	for i := range info.Launchers {
		info.Launchers[i].Default = i == index
	}
	return g.SaveGameInfo()
}

// IsWritable reports whether the gamebox folder can currently be modified.
// The answer is cached for the cache's TTL.
func (g *Gamebox) IsWritable() bool {
	if writable, ok := g.writable.Lookup(g.path); ok {
		return writable
	}
	writable := probeWritable(g.fs, g.path)
	g.writable.Store(g.path, writable)
	return writable
}

// Refresh drops cached metadata and writability so they are read again.
func (g *Gamebox) Refresh() {
	g.info = nil
	g.writable.Invalidate(g.path)
}
