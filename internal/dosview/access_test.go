package dosview

import (
	"errors"
	"testing"

	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/internal/drive"
	"github.com/ajaxzhan/boxdrive/internal/mounter/mock"
	"github.com/ajaxzhan/boxdrive/internal/volume"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

var noVolumes = volume.InspectorFunc(func(string) (volume.Info, error) {
	return volume.Info{}, errors.New("no volume")
})

func newTestDrive(t *testing.T, fsys afero.Fs, url, letter string, typ types.DriveType) *drive.Drive {
	t.Helper()
	if err := fsys.MkdirAll(url, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", url, err)
	}
	d, err := drive.New(url, letter, typ,
		drive.WithFs(fsys), drive.WithInspector(noVolumes), drive.WithMounter(mock.New()))
	if err != nil {
		t.Fatalf("failed to create drive: %v", err)
	}
	return d
}

func TestAccessEngine_FilePattern(t *testing.T) {
	rules := []types.AccessRule{
		{Pattern: "/C/DOOM.CFG", Type: types.PatternFile, Permission: types.PermRead, Priority: 10},
		{Pattern: "/**", Type: types.PatternGlob, Permission: types.PermNone, Priority: 1},
	}

	e := NewAccessEngine(rules)

	tests := []struct {
		path     string
		expected types.Permission
	}{
		{"/C/DOOM.CFG", types.PermRead},
		{"/c/doom.cfg", types.PermRead},
		{"/C/OTHER.CFG", types.PermNone},
		{"/C/SUB/DOOM.CFG", types.PermNone}, // Not exact match
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := e.Permission(tt.path)
			if got != tt.expected {
				t.Errorf("Permission(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestAccessEngine_DirectoryPattern(t *testing.T) {
	rules := []types.AccessRule{
		{Pattern: "/C/SAVES/", Type: types.PatternDirectory, Permission: types.PermWrite, Priority: 10},
		{Pattern: "/C/**", Type: types.PatternGlob, Permission: types.PermRead, Priority: 1},
	}

	e := NewAccessEngine(rules)

	tests := []struct {
		path     string
		expected types.Permission
	}{
		{"/C/SAVES", types.PermWrite},
		{"/C/Saves/slot1.dsg", types.PermWrite},
		{"/C/SAVES/OLD/SLOT2.DSG", types.PermWrite},
		{"/C/SAVESX/SLOT.DSG", types.PermRead},
		{"/C/DOOM.EXE", types.PermRead},
		{"/D/SETUP.EXE", types.PermWrite}, // No rule matches
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := e.Permission(tt.path)
			if got != tt.expected {
				t.Errorf("Permission(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestAccessEngine_NamePattern(t *testing.T) {
	e := NewAccessEngine(HiddenRules([]string{".*", "*.tmp"}))

	tests := []struct {
		path     string
		expected types.Permission
	}{
		{"/C/.DS_Store", types.PermNone},
		{"/C/GAMES/._DOOM.EXE", types.PermNone},
		{"/C/SWAP.TMP", types.PermNone},
		{"/C/swap.tmp", types.PermNone},
		{"/C/DOOM.EXE", types.PermWrite},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := e.Permission(tt.path)
			if got != tt.expected {
				t.Errorf("Permission(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestAccessEngine_DoubleGlob(t *testing.T) {
	rules := []types.AccessRule{
		{Pattern: "/**/*.SAV", Type: types.PatternGlob, Permission: types.PermWrite, Priority: 20},
		{Pattern: "/C/DATA/**", Type: types.PatternGlob, Permission: types.PermView, Priority: 10},
		{Pattern: "/**", Type: types.PatternGlob, Permission: types.PermRead, Priority: 1},
	}

	e := NewAccessEngine(rules)

	tests := []struct {
		path     string
		expected types.Permission
	}{
		{"/C/DATA/GAME.SAV", types.PermWrite},
		{"/C/DATA", types.PermView},
		{"/C/DATA/LEVELS/E1M1.WAD", types.PermView},
		{"/C/DATAX/E1M1.WAD", types.PermRead},
		{"/D/INSTALL.EXE", types.PermRead},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := e.Permission(tt.path)
			if got != tt.expected {
				t.Errorf("Permission(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestAccessEngine_PriorityOrdering(t *testing.T) {
	// Same priority: file beats directory beats glob.
	rules := []types.AccessRule{
		{Pattern: "/C/**", Type: types.PatternGlob, Permission: types.PermNone, Priority: 5},
		{Pattern: "/C/SAVES", Type: types.PatternDirectory, Permission: types.PermRead, Priority: 5},
		{Pattern: "/C/SAVES/KEEP.SAV", Type: types.PatternFile, Permission: types.PermWrite, Priority: 5},
	}

	e := NewAccessEngine(rules)

	if got := e.Permission("/C/SAVES/KEEP.SAV"); got != types.PermWrite {
		t.Errorf("expected file rule to win, got %q", got)
	}
	if got := e.Permission("/C/SAVES/OTHER.SAV"); got != types.PermRead {
		t.Errorf("expected directory rule to win, got %q", got)
	}
	if got := e.Permission("/C/DOOM.EXE"); got != types.PermNone {
		t.Errorf("expected glob rule, got %q", got)
	}

	// A higher priority glob beats everything else.
	e.UpdateRules(append(rules, types.AccessRule{
		Pattern: "/**", Type: types.PatternGlob, Permission: types.PermView, Priority: 50,
	}))
	if got := e.Permission("/C/SAVES/KEEP.SAV"); got != types.PermView {
		t.Errorf("expected high priority glob to win, got %q", got)
	}
}

func TestAccessEngine_Checks(t *testing.T) {
	fsys := afero.NewMemMapFs()
	hdd := newTestDrive(t, fsys, "/Games/Doom", "C", types.DriveHardDisk)
	cd := newTestDrive(t, fsys, "/Games/DoomCD", "D", types.DriveCDROM)

	e := NewAccessEngine([]types.AccessRule{
		{Pattern: "/C/DOOM.WAD", Type: types.PatternFile, Permission: types.PermView, Priority: 10},
		{Pattern: "/C/SECRET", Type: types.PatternDirectory, Permission: types.PermNone, Priority: 10},
	})

	if err := e.CheckWrite(hdd, "/C/DOOM.EXE"); err != nil {
		t.Errorf("expected write access on hard disk, got %v", err)
	}
	if err := e.CheckView(hdd, "/C/DOOM.WAD"); err != nil {
		t.Errorf("expected view access, got %v", err)
	}

	err := e.CheckRead(hdd, "/C/DOOM.WAD")
	var permErr *types.PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if permErr.Permission != types.PermView || permErr.Required != types.PermRead {
		t.Errorf("unexpected permission error %+v", permErr)
	}
	if !errors.Is(err, types.ErrPermissionDenied) {
		t.Error("expected error to match ErrPermissionDenied")
	}

	if err := e.CheckView(hdd, "/C/SECRET/MAP.TXT"); err == nil {
		t.Error("expected hidden directory to be invisible")
	}

	// Read-only drives never grant write.
	if got := e.PermissionOnDrive(cd, "/D/SETUP.EXE"); got != types.PermRead {
		t.Errorf("expected read on CD-ROM, got %q", got)
	}
	if err := e.CheckWrite(cd, "/D/SETUP.EXE"); err == nil {
		t.Error("expected write to fail on CD-ROM")
	}
	if err := e.CheckRead(cd, "/D/SETUP.EXE"); err != nil {
		t.Errorf("expected read on CD-ROM, got %v", err)
	}
}

func TestValidateRules(t *testing.T) {
	valid := []types.AccessRule{
		{Pattern: "/C/**", Type: types.PatternGlob, Permission: types.PermRead},
		{Pattern: "[ab", Type: types.PatternFile, Permission: types.PermRead}, // Not a glob
	}
	if err := ValidateRules(valid); err != nil {
		t.Errorf("expected valid rules, got %v", err)
	}

	invalid := []types.AccessRule{
		{Pattern: "*.[ab", Type: types.PatternName, Permission: types.PermNone},
	}
	err := ValidateRules(invalid)
	if !errors.Is(err, types.ErrInvalidPattern) {
		t.Errorf("expected ErrInvalidPattern, got %v", err)
	}
}
