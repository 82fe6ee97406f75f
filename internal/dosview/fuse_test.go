package dosview

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"
	"testing"
	"time"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/internal/drive"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// checkFUSEAvailable checks if FUSE is available on the system.
func checkFUSEAvailable(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "darwin" {
		if _, err := os.Stat("/Library/Filesystems/macfuse.fs"); os.IsNotExist(err) {
			t.Skip("skipping test: macFUSE is not installed")
		}
		if _, err := exec.LookPath("mount_macfuse"); err != nil {
			t.Skip("skipping test: mount_macfuse not found in PATH")
		}
	} else if runtime.GOOS == "linux" {
		if _, err := os.Stat("/dev/fuse"); os.IsNotExist(err) {
			t.Skip("skipping test: FUSE is not available (/dev/fuse not found)")
		}
	} else {
		t.Skipf("skipping test: FUSE tests not supported on %s", runtime.GOOS)
	}
}

// setupView mounts a hard disk at C, a CD-ROM at D and the virtual drive at Z.
func setupView(t *testing.T, rules []types.AccessRule) (*View, afero.Fs) {
	t.Helper()

	fsys := afero.NewMemMapFs()
	files := map[string]string{
		"/Games/Doom/DOOM.EXE":        "MZdoom",
		"/Games/Doom/DOOM.CFG":        "key_up 72",
		"/Games/Doom/SWAP.TMP":        "",
		"/Games/Doom/SAVES/SLOT1.DSG": "save",
		"/Games/DoomCD/SETUP.EXE":     "MZsetup",
	}
	for p, content := range files {
		if err := fsys.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := afero.WriteFile(fsys, p, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", p, err)
		}
	}
	if err := fsys.MkdirAll("/Games/Doom/EMPTY", 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	set := drive.NewSet()
	virtual, err := drive.NewVirtual("Z")
	if err != nil {
		t.Fatalf("failed to create virtual drive: %v", err)
	}
	for _, d := range []*drive.Drive{
		newTestDrive(t, fsys, "/Games/Doom", "C", types.DriveHardDisk),
		newTestDrive(t, fsys, "/Games/DoomCD", "D", types.DriveCDROM),
		virtual,
	} {
		if _, err := set.Mount(d, types.MountOptions{}); err != nil {
			t.Fatalf("failed to mount %s: %v", d, err)
		}
	}

	view, err := NewView(set, &Config{MountPoint: t.TempDir(), Rules: rules})
	if err != nil {
		t.Fatalf("failed to create view: %v", err)
	}
	return view, fsys
}

func readNames(t *testing.T, ds gofs.DirStream) []string {
	t.Helper()
	var names []string
	for ds.HasNext() {
		e, errno := ds.Next()
		if errno != 0 {
			t.Fatalf("dir stream error: %v", errno)
		}
		names = append(names, e.Name)
	}
	ds.Close()
	sort.Strings(names)
	return names
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Unit Tests (no FUSE mount required)
// ============================================================================

func TestNewView_InvalidConfig(t *testing.T) {
	if _, err := NewView(nil, &Config{MountPoint: "/tmp/dos"}); err != ErrNoDriveSet {
		t.Errorf("expected ErrNoDriveSet, got %v", err)
	}
	if _, err := NewView(drive.NewSet(), &Config{}); err != ErrInvalidMountPoint {
		t.Errorf("expected ErrInvalidMountPoint, got %v", err)
	}
	if _, err := NewView(drive.NewSet(), nil); err != ErrInvalidMountPoint {
		t.Errorf("expected ErrInvalidMountPoint for nil config, got %v", err)
	}

	_, err := NewView(drive.NewSet(), &Config{
		MountPoint: "/tmp/dos",
		Rules:      []types.AccessRule{{Pattern: "[", Type: types.PatternGlob, Permission: types.PermNone}},
	})
	if !errors.Is(err, types.ErrInvalidPattern) {
		t.Errorf("expected ErrInvalidPattern, got %v", err)
	}
}

func TestView_IsMounted_BeforeMount(t *testing.T) {
	view, _ := setupView(t, nil)
	if view.IsMounted() {
		t.Error("expected view not to be mounted before Mount")
	}
}

func TestView_UpdateRules(t *testing.T) {
	view, _ := setupView(t, nil)

	if got := view.Access().Permission("/C/DOOM.CFG"); got != types.PermWrite {
		t.Errorf("expected write before rules, got %q", got)
	}

	err := view.UpdateRules([]types.AccessRule{
		{Pattern: "/C/DOOM.CFG", Type: types.PatternFile, Permission: types.PermRead, Priority: 10},
	})
	if err != nil {
		t.Fatalf("UpdateRules failed: %v", err)
	}
	if got := view.Access().Permission("/C/DOOM.CFG"); got != types.PermRead {
		t.Errorf("expected read after update, got %q", got)
	}

	err = view.UpdateRules([]types.AccessRule{{Pattern: "*.[", Type: types.PatternName}})
	if err == nil {
		t.Error("expected invalid rules to be rejected")
	}
	if got := view.Access().Permission("/C/DOOM.CFG"); got != types.PermRead {
		t.Errorf("rejected update must keep old rules, got %q", got)
	}
}

func TestViewRoot_Readdir(t *testing.T) {
	view, _ := setupView(t, nil)
	root := &viewRoot{view: view}

	ds, errno := root.Readdir(context.Background())
	if errno != 0 {
		t.Fatalf("Readdir failed: %v", errno)
	}
	names := readNames(t, ds)
	if !equalNames(names, []string{"C", "D"}) {
		t.Errorf("expected [C D], hidden virtual drive excluded, got %v", names)
	}

	var out fuse.AttrOut
	if errno := root.Getattr(context.Background(), nil, &out); errno != 0 {
		t.Fatalf("Getattr failed: %v", errno)
	}
	if out.Mode&fuse.S_IFDIR == 0 {
		t.Error("expected root to be a directory")
	}
}

func TestViewDir_Readdir_FilterByPermission(t *testing.T) {
	rules := append(HiddenRules([]string{"*.tmp"}),
		types.AccessRule{Pattern: "/C/SAVES", Type: types.PatternDirectory, Permission: types.PermNone, Priority: 10},
	)
	view, _ := setupView(t, rules)

	dir := &viewDir{view: view, letter: "C", path: "/"}
	ds, errno := dir.Readdir(context.Background())
	if errno != 0 {
		t.Fatalf("Readdir failed: %v", errno)
	}
	names := readNames(t, ds)
	want := []string{"DOOM.CFG", "DOOM.EXE", "EMPTY"}
	if !equalNames(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}

	missing := &viewDir{view: view, letter: "E", path: "/"}
	if _, errno := missing.Readdir(context.Background()); errno != syscall.ENOENT {
		t.Errorf("expected ENOENT for unmounted letter, got %v", errno)
	}
	hidden := &viewDir{view: view, letter: "Z", path: "/"}
	if _, errno := hidden.Readdir(context.Background()); errno != syscall.ENOENT {
		t.Errorf("expected ENOENT for hidden drive, got %v", errno)
	}
}

func TestViewDir_Getattr(t *testing.T) {
	view, _ := setupView(t, []types.AccessRule{
		{Pattern: "/C/SAVES", Type: types.PatternDirectory, Permission: types.PermNone, Priority: 10},
	})
	ctx := context.Background()

	var out fuse.AttrOut
	hdd := &viewDir{view: view, letter: "C", path: "/"}
	if errno := hdd.Getattr(ctx, nil, &out); errno != 0 {
		t.Fatalf("Getattr failed: %v", errno)
	}
	if out.Mode&fuse.S_IFDIR == 0 || out.Mode&0200 == 0 {
		t.Errorf("expected writable directory, got mode %o", out.Mode)
	}

	cd := &viewDir{view: view, letter: "D", path: "/"}
	if errno := cd.Getattr(ctx, nil, &out); errno != 0 {
		t.Fatalf("Getattr failed: %v", errno)
	}
	if out.Mode&0222 != 0 {
		t.Errorf("expected CD-ROM to have no write bits, got mode %o", out.Mode)
	}

	saves := &viewDir{view: view, letter: "C", path: "/SAVES"}
	if errno := saves.Getattr(ctx, nil, &out); errno != syscall.EACCES {
		t.Errorf("expected EACCES for hidden directory, got %v", errno)
	}
}

func TestViewFile_OpenAndRead(t *testing.T) {
	view, _ := setupView(t, []types.AccessRule{
		{Pattern: "/C/DOOM.CFG", Type: types.PatternFile, Permission: types.PermRead, Priority: 10},
		{Pattern: "/C/DOOM.EXE", Type: types.PatternFile, Permission: types.PermView, Priority: 10},
	})
	ctx := context.Background()

	cfg := &viewFile{view: view, letter: "C", path: "/DOOM.CFG"}
	fh, _, errno := cfg.Open(ctx, syscall.O_RDONLY)
	if errno != 0 {
		t.Fatalf("Open failed: %v", errno)
	}
	handle := fh.(*viewFileHandle)
	buf := make([]byte, 64)
	res, errno := handle.Read(ctx, buf, 0)
	if errno != 0 {
		t.Fatalf("Read failed: %v", errno)
	}
	data, _ := res.Bytes(buf)
	if string(data) != "key_up 72" {
		t.Errorf("expected config contents, got %q", data)
	}
	if errno := handle.Release(ctx); errno != 0 {
		t.Errorf("Release failed: %v", errno)
	}

	if _, _, errno := cfg.Open(ctx, syscall.O_WRONLY); errno != syscall.EACCES {
		t.Errorf("expected EACCES writing read-only file, got %v", errno)
	}

	exe := &viewFile{view: view, letter: "C", path: "/DOOM.EXE"}
	if _, _, errno := exe.Open(ctx, syscall.O_RDONLY); errno != syscall.EACCES {
		t.Errorf("expected EACCES reading view-only file, got %v", errno)
	}
	var out fuse.AttrOut
	if errno := exe.Getattr(ctx, nil, &out); errno != 0 {
		t.Errorf("expected view-only file to be stat-able, got %v", errno)
	}
	if out.Size != uint64(len("MZdoom")) {
		t.Errorf("expected size %d, got %d", len("MZdoom"), out.Size)
	}

	setup := &viewFile{view: view, letter: "D", path: "/SETUP.EXE"}
	if _, _, errno := setup.Open(ctx, syscall.O_RDWR); errno != syscall.EROFS {
		t.Errorf("expected EROFS on CD-ROM, got %v", errno)
	}
}

func TestViewFile_WriteAndTruncate(t *testing.T) {
	view, fsys := setupView(t, nil)
	ctx := context.Background()

	cfg := &viewFile{view: view, letter: "C", path: "/DOOM.CFG"}
	fh, _, errno := cfg.Open(ctx, syscall.O_RDWR)
	if errno != 0 {
		t.Fatalf("Open failed: %v", errno)
	}
	handle := fh.(*viewFileHandle)
	if n, errno := handle.Write(ctx, []byte("KEY"), 0); errno != 0 || n != 3 {
		t.Fatalf("Write failed: n=%d errno=%v", n, errno)
	}
	if errno := handle.Flush(ctx); errno != 0 {
		t.Errorf("Flush failed: %v", errno)
	}
	handle.Release(ctx)

	data, err := afero.ReadFile(fsys, "/Games/Doom/DOOM.CFG")
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if string(data) != "KEY_up 72" {
		t.Errorf("expected overwritten prefix, got %q", data)
	}

	in := &fuse.SetAttrIn{}
	in.Valid = fuse.FATTR_SIZE
	in.Size = 3
	var out fuse.AttrOut
	if errno := cfg.Setattr(ctx, nil, in, &out); errno != 0 {
		t.Fatalf("Setattr failed: %v", errno)
	}
	if out.Size != 3 {
		t.Errorf("expected size 3 after truncate, got %d", out.Size)
	}

	setup := &viewFile{view: view, letter: "D", path: "/SETUP.EXE"}
	if errno := setup.Setattr(ctx, nil, in, &out); errno != syscall.EROFS {
		t.Errorf("expected EROFS truncating on CD-ROM, got %v", errno)
	}
}

func TestViewDir_UnlinkAndRmdir(t *testing.T) {
	view, fsys := setupView(t, []types.AccessRule{
		{Pattern: "/C/DOOM.EXE", Type: types.PatternFile, Permission: types.PermRead, Priority: 10},
	})
	ctx := context.Background()
	root := &viewDir{view: view, letter: "C", path: "/"}

	if errno := root.Unlink(ctx, "DOOM.EXE"); errno != syscall.EACCES {
		t.Errorf("expected EACCES deleting protected file, got %v", errno)
	}
	if errno := root.Unlink(ctx, "SAVES"); errno != syscall.EISDIR {
		t.Errorf("expected EISDIR unlinking a directory, got %v", errno)
	}
	if errno := root.Unlink(ctx, "MISSING.TXT"); errno != syscall.ENOENT {
		t.Errorf("expected ENOENT, got %v", errno)
	}
	if errno := root.Unlink(ctx, "SWAP.TMP"); errno != 0 {
		t.Errorf("Unlink failed: %v", errno)
	}
	if ok, _ := afero.Exists(fsys, "/Games/Doom/SWAP.TMP"); ok {
		t.Error("expected SWAP.TMP to be deleted")
	}

	if errno := root.Rmdir(ctx, "SAVES"); errno != syscall.ENOTEMPTY {
		t.Errorf("expected ENOTEMPTY, got %v", errno)
	}
	if errno := root.Rmdir(ctx, "DOOM.CFG"); errno != syscall.ENOTDIR {
		t.Errorf("expected ENOTDIR, got %v", errno)
	}
	if errno := root.Rmdir(ctx, "EMPTY"); errno != 0 {
		t.Errorf("Rmdir failed: %v", errno)
	}

	cd := &viewDir{view: view, letter: "D", path: "/"}
	if errno := cd.Unlink(ctx, "SETUP.EXE"); errno != syscall.EROFS {
		t.Errorf("expected EROFS on CD-ROM, got %v", errno)
	}
}

func TestViewDir_Rename(t *testing.T) {
	view, fsys := setupView(t, nil)
	ctx := context.Background()

	root := &viewDir{view: view, letter: "C", path: "/"}
	saves := &viewDir{view: view, letter: "C", path: "/SAVES"}
	cd := &viewDir{view: view, letter: "D", path: "/"}

	if errno := root.Rename(ctx, "DOOM.CFG", cd, "DOOM.CFG", 0); errno != syscall.EXDEV {
		t.Errorf("expected EXDEV across drives, got %v", errno)
	}

	if errno := root.Rename(ctx, "DOOM.CFG", saves, "BACKUP.CFG", 0); errno != 0 {
		t.Fatalf("Rename failed: %v", errno)
	}
	data, err := afero.ReadFile(fsys, "/Games/Doom/SAVES/BACKUP.CFG")
	if err != nil || string(data) != "key_up 72" {
		t.Errorf("expected moved file, got %q (%v)", data, err)
	}
	if ok, _ := afero.Exists(fsys, "/Games/Doom/DOOM.CFG"); ok {
		t.Error("expected source to be gone")
	}
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"errno", syscall.ENOSPC, syscall.ENOSPC},
		{"not found", &types.IOError{Op: "stat", Path: "/X", Err: fs.ErrNotExist}, syscall.ENOENT},
		{"permission", &types.PermissionError{Path: "/C/X", Operation: "write"}, syscall.EACCES},
		{"read-only", types.ErrReadOnly, syscall.EROFS},
		{"exists", fs.ErrExist, syscall.EEXIST},
		{"unavailable", types.ErrVolumeUnavailable, syscall.ENXIO},
		{"into itself", &types.IOError{Op: "move", Path: "/A/B", Err: types.ErrIntoItself}, syscall.EINVAL},
		{"other", errors.New("boom"), syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toErrno(tt.err); got != tt.want {
				t.Errorf("toErrno(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestOpenFlags(t *testing.T) {
	got := openFlags(syscall.O_WRONLY | syscall.O_APPEND | syscall.O_CREAT)
	if got != os.O_WRONLY|os.O_APPEND {
		t.Errorf("unexpected flags %x", got)
	}
	if got := openFlags(syscall.O_RDWR | syscall.O_TRUNC); got != os.O_RDWR|os.O_TRUNC {
		t.Errorf("unexpected flags %x", got)
	}
}

// ============================================================================
// Integration Tests (FUSE mount required)
// ============================================================================

func TestView_Mount(t *testing.T) {
	checkFUSEAvailable(t)

	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, "DOOM.EXE"), []byte("MZdoom"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(source, ".hidden"), nil, 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	d, err := drive.New(source, "C", types.DriveHardDisk, drive.WithInspector(noVolumes))
	if err != nil {
		t.Fatalf("failed to create drive: %v", err)
	}
	set := drive.NewSet()
	if _, err := set.Mount(d, types.MountOptions{}); err != nil {
		t.Fatalf("failed to mount drive: %v", err)
	}

	mountPoint := t.TempDir()
	view, err := NewView(set, &Config{MountPoint: mountPoint, Rules: HiddenRules([]string{".*"})})
	if err != nil {
		t.Fatalf("failed to create view: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- view.Mount(ctx) }()
	defer func() {
		cancel()
		<-errCh
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !view.IsMounted() {
		if time.Now().After(deadline) {
			t.Skip("skipping test: FUSE mount timed out (FUSE may not be properly configured)")
		}
		select {
		case err := <-errCh:
			t.Skipf("skipping test: FUSE mount failed: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}

	entries, err := os.ReadDir(filepath.Join(mountPoint, "C"))
	if err != nil {
		t.Fatalf("failed to list drive: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "DOOM.EXE" {
		t.Errorf("expected only DOOM.EXE, got %v", entries)
	}

	data, err := os.ReadFile(filepath.Join(mountPoint, "c", "DOOM.EXE"))
	if err != nil {
		t.Fatalf("failed to read through view: %v", err)
	}
	if string(data) != "MZdoom" {
		t.Errorf("unexpected contents %q", data)
	}
}
