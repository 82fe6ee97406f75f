// Package drive models DOS drives and the set of drives a session has mounted.
//
// A Drive binds a letter to a backing filesystem and carries the metadata the
// emulator and UI read. A DriveSet owns the queued and mounted drives and
// resolves host locations and DOS paths across them.
package drive

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ajaxzhan/boxdrive/internal/fs"
	"github.com/ajaxzhan/boxdrive/internal/mounter"
	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/internal/volume"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// Option configures a Drive.
type Option func(*Drive)

// WithFs sets the host filesystem. Defaults to the OS filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(d *Drive) {
		d.hostFs = fsys
	}
}

// WithInspector sets how enclosing volumes are inspected during type detection.
func WithInspector(inspector volume.Inspector) Option {
	return func(d *Drive) {
		d.inspector = inspector
	}
}

// WithMounter sets the facility used to mount disk image drives.
func WithMounter(m mounter.Mounter) Option {
	return func(d *Drive) {
		d.mounter = m
	}
}

// WithShadowURL redirects writes to shadowURL, leaving the source untouched.
func WithShadowURL(shadowURL string) Option {
	return func(d *Drive) {
		d.shadowURL = pathutil.CleanURL(shadowURL)
	}
}

// Drive is one DOS-visible mount.
type Drive struct {
	id             string
	sourceURL      string
	mountPointURL  string
	shadowURL      string
	letter         string
	title          string
	volumeLabel    string
	dosVolumeLabel string
	freeSpace      int64
	driveType      types.DriveType
	readOnly       bool
	locked         bool
	hidden         bool
	usesCDAudio    bool
	equivalents    []string

	// mounted is flipped by the owning Set, possibly from a volume watcher
	// goroutine while views read it.
	mounted atomic.Bool
	// queuedLetter marks a letter picked by Set.Enqueue rather than by the
	// user or the detector.
	queuedLetter bool

	hasAutodetectedMountPoint  bool
	hasAutodetectedLetter      bool
	hasAutodetectedTitle       bool
	hasAutodetectedVolumeLabel bool

	shadowingDisabled bool
	base              fs.HostFilesystem
	filesystem        fs.HostFilesystem

	hostFs    afero.Fs
	inspector volume.Inspector
	mounter   mounter.Mounter
	detector  *Detector
}

// New creates a drive for the contents of sourceURL.
// An empty letter is taken from the source's name when it carries one, and is
// otherwise left for the drive set to assign. DriveAutodetect infers the type.
func New(sourceURL, letter string, driveType types.DriveType, opts ...Option) (*Drive, error) {
	if sourceURL == "" {
		return nil, errors.New("source URL cannot be empty")
	}
	if letter != "" && !ValidLetter(letter) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidLetter, letter)
	}
	if driveType == types.DriveVirtual {
		return nil, errors.New("virtual drives have no source, use NewVirtual")
	}

	d := &Drive{
		id:        uuid.NewString(),
		sourceURL: pathutil.CleanURL(sourceURL),
		letter:    strings.ToUpper(letter),
		freeSpace: types.DefaultFreeSpace,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.hostFs == nil {
		d.hostFs = afero.NewOsFs()
	}
	d.detector = NewDetector(d.hostFs, d.inspector)

	if driveType == types.DriveAutodetect {
		driveType = d.detector.PreferredType(d.sourceURL)
	}
	d.driveType = driveType
	d.readOnly = driveType == types.DriveCDROM

	if d.letter == "" {
		d.letter = d.detector.PreferredLetter(d.sourceURL)
		d.hasAutodetectedLetter = true
	}
	d.autodetectFromSource()

	if err := d.rebuildFilesystem(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewVirtual creates the emulator's internal drive. It has no filesystem and
// is always read-only, locked and hidden.
func NewVirtual(letter string) (*Drive, error) {
	if !ValidLetter(letter) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidLetter, letter)
	}
	return &Drive{
		id:        uuid.NewString(),
		letter:    strings.ToUpper(letter),
		title:     types.DriveVirtual.Description(),
		freeSpace: types.DefaultFreeSpace,
		driveType: types.DriveVirtual,
		readOnly:  true,
		locked:    true,
		hidden:    true,
	}, nil
}

// FromRecord recreates a drive from its persisted configuration.
func FromRecord(rec *types.DriveRecord, opts ...Option) (*Drive, error) {
	if rec == nil {
		return nil, errors.New("record cannot be nil")
	}
	if rec.Type == types.DriveVirtual {
		d, err := NewVirtual(rec.Letter)
		if err != nil {
			return nil, err
		}
		if rec.ID != "" {
			d.id = rec.ID
		}
		return d, nil
	}

	if rec.ShadowURL != "" {
		opts = append(opts, WithShadowURL(rec.ShadowURL))
	}
	d, err := New(rec.SourceURL, rec.Letter, rec.Type, opts...)
	if err != nil {
		return nil, err
	}
	if rec.ID != "" {
		d.id = rec.ID
	}
	if rec.MountPoint != "" && pathutil.CleanURL(rec.MountPoint) != d.mountPointURL {
		if err := d.SetMountPointURL(rec.MountPoint); err != nil {
			return nil, err
		}
	}
	if rec.Title != "" {
		d.SetTitle(rec.Title)
	}
	if rec.VolumeLabel != "" {
		d.SetVolumeLabel(rec.VolumeLabel)
	}
	d.freeSpace = rec.FreeSpace
	d.locked = rec.Locked
	d.hidden = rec.Hidden
	d.usesCDAudio = rec.UsesCDAudio
	for _, u := range rec.Equivalents {
		d.AddEquivalentURL(u)
	}
	if err := d.SetReadOnly(rec.ReadOnly); err != nil {
		return nil, err
	}
	return d, nil
}

// Record returns the persistable configuration of the drive.
func (d *Drive) Record() *types.DriveRecord {
	rec := &types.DriveRecord{
		ID:          d.id,
		SourceURL:   d.sourceURL,
		ShadowURL:   d.shadowURL,
		Letter:      d.letter,
		Type:        d.driveType,
		Title:       d.title,
		VolumeLabel: d.volumeLabel,
		FreeSpace:   d.freeSpace,
		ReadOnly:    d.readOnly,
		Hidden:      d.hidden,
		Locked:      d.locked,
		UsesCDAudio: d.usesCDAudio,
		Equivalents: append([]string(nil), d.equivalents...),
	}
	if d.mountPointURL != d.sourceURL {
		rec.MountPoint = d.mountPointURL
	}
	return rec
}

// autodetectFromSource recomputes every derived field that was never set explicitly.
func (d *Drive) autodetectFromSource() {
	if d.mountPointURL == "" || d.hasAutodetectedMountPoint {
		d.mountPointURL = d.detector.MountPointFor(d.sourceURL)
		d.hasAutodetectedMountPoint = true
	}
	if d.title == "" || d.hasAutodetectedTitle {
		d.title = d.detector.PreferredTitle(d.sourceURL)
		d.hasAutodetectedTitle = true
	}
	if d.volumeLabel == "" || d.hasAutodetectedVolumeLabel {
		d.volumeLabel = d.detector.PreferredVolumeLabel(d.sourceURL)
		d.hasAutodetectedVolumeLabel = true
	}
	if d.hasAutodetectedLetter && !d.mounted.Load() {
		d.letter = d.detector.PreferredLetter(d.sourceURL)
	}
}

// =============================================================================
// Filesystem
// =============================================================================

func (d *Drive) rebuildFilesystem() error {
	if err := d.closeBase(); err != nil {
		return err
	}

	opts := []fs.Option{fs.WithFs(d.hostFs)}
	var base fs.HostFilesystem
	if d.mountsImage() {
		if d.mounter == nil {
			m, err := mounter.New("auto", nil)
			if err != nil {
				return fmt.Errorf("failed to create mounter: %w", err)
			}
			d.mounter = m
		}
		img, err := fs.NewMountableImage(d.mountPointURL, d.mounter, opts...)
		if err != nil {
			return err
		}
		base = img
	} else {
		base = fs.NewLocalFilesystem(d.mountPointURL, opts...)
	}

	if d.sourceURL != d.mountPointURL {
		base.AddRepresentedURL(d.sourceURL)
	}
	for _, u := range d.equivalents {
		base.AddRepresentedURL(u)
	}
	d.base = base
	return d.applyShadow()
}

func (d *Drive) mountsImage() bool {
	if info, err := d.hostFs.Stat(d.mountPointURL); err == nil && info.IsDir() {
		return false
	}
	return types.FileTypeForName(filepath.Base(d.mountPointURL), false).IsDiskImage()
}

func (d *Drive) applyShadow() error {
	d.filesystem = d.base
	if d.base == nil || d.shadowURL == "" || d.shadowingDisabled || d.readOnly {
		return nil
	}
	s, err := fs.NewShadowedFilesystem(d.base, d.hostFs, d.shadowURL)
	if err != nil {
		return err
	}
	d.filesystem = s
	return nil
}

func (d *Drive) closeBase() error {
	if c, ok := d.base.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Filesystem returns the filesystem DOS sees, or nil for a virtual drive.
func (d *Drive) Filesystem() fs.HostFilesystem {
	return d.filesystem
}

// IsShadowed reports whether writes are currently redirected.
func (d *Drive) IsShadowed() bool {
	_, ok := d.filesystem.(*fs.ShadowedFilesystem)
	return ok
}

// SetShadowingEnabled switches write redirection on or off. It only has an
// effect for writable drives with a shadow location.
func (d *Drive) SetShadowingEnabled(enabled bool) error {
	if d.shadowingDisabled == !enabled {
		return nil
	}
	d.shadowingDisabled = !enabled
	return d.applyShadow()
}

// HasShadowedChanges reports whether the shadow holds unmerged writes.
func (d *Drive) HasShadowedChanges() bool {
	s, ok := d.filesystem.(*fs.ShadowedFilesystem)
	return ok && s.HasChanges()
}

// ShadowedChanges lists the unmerged writes.
func (d *Drive) ShadowedChanges() ([]string, error) {
	s, ok := d.filesystem.(*fs.ShadowedFilesystem)
	if !ok {
		return nil, nil
	}
	return s.ListChanges()
}

// MergeShadowedChanges applies the shadow's writes to the source.
func (d *Drive) MergeShadowedChanges() error {
	if s, ok := d.filesystem.(*fs.ShadowedFilesystem); ok {
		return s.Merge()
	}
	return nil
}

// RevertShadowedChanges discards the shadow's writes.
func (d *Drive) RevertShadowedChanges() error {
	if s, ok := d.filesystem.(*fs.ShadowedFilesystem); ok {
		return s.Revert()
	}
	return nil
}

// HandleVolumeEvent forwards a host volume notification to an image filesystem.
func (d *Drive) HandleVolumeEvent(ev volume.Event) {
	if img, ok := d.base.(*fs.MountableImage); ok {
		img.HandleVolumeEvent(ev)
	}
}

// Close releases the drive's filesystem, unmounting any image it mounted itself.
func (d *Drive) Close() error {
	return d.closeBase()
}

// =============================================================================
// URL resolution
// =============================================================================

// RepresentsLogicalURL reports whether url is the drive itself: its source,
// mount point or a registered equivalent.
func (d *Drive) RepresentsLogicalURL(url string) bool {
	return d.filesystem != nil && d.filesystem.RepresentsLogicalURL(url)
}

// ExposesLogicalURL reports whether url is reachable through the drive.
func (d *Drive) ExposesLogicalURL(url string) bool {
	return d.filesystem != nil && d.filesystem.ExposesLogicalURL(url)
}

// RelativeLocationOfLogicalURL returns the drive-relative logical path of url.
// It reports false when url is not exposed by the drive.
func (d *Drive) RelativeLocationOfLogicalURL(url string) (string, bool) {
	if d.filesystem == nil {
		return "", false
	}
	return d.filesystem.PathForLogicalURL(url)
}

// matchedRootDepth is the depth of the represented root through which url is exposed.
func (d *Drive) matchedRootDepth(url string) int {
	m, ok := d.filesystem.(interface {
		MatchLogicalURL(string) (string, bool)
	})
	if !ok {
		return 0
	}
	root, ok := m.MatchLogicalURL(url)
	if !ok {
		return 0
	}
	return pathutil.Depth(root)
}

// LogicalURLForDOSPath converts a DOS path on this drive to a logical URL.
// The path may carry this drive's letter ("D:\GAME") or be drive-relative.
func (d *Drive) LogicalURLForDOSPath(dosPath string) (string, error) {
	if d.filesystem == nil {
		return "", &types.ResolutionError{Target: dosPath, Err: types.ErrVirtualDrive}
	}
	p, err := d.logicalPathForDOSPath(dosPath)
	if err != nil {
		return "", err
	}
	return d.filesystem.LogicalURLForPath(p), nil
}

func (d *Drive) logicalPathForDOSPath(dosPath string) (string, error) {
	letter, rest := SplitDOSPath(dosPath)
	if letter != "" && !strings.EqualFold(letter, d.letter) {
		return "", &types.ResolutionError{Target: dosPath, Err: types.ErrInvalidLetter}
	}
	return pathutil.NormalizeLogical(strings.ReplaceAll(rest, `\`, "/")), nil
}

// DOSPathForLogicalPath formats a logical path as a full DOS path on this drive.
func (d *Drive) DOSPathForLogicalPath(p string) string {
	p = pathutil.NormalizeLogical(p)
	return d.letter + `:\` + strings.ReplaceAll(strings.TrimPrefix(p, "/"), "/", `\`)
}

// FileURLForDOSPath returns the host location of a DOS path on this drive.
// Components are matched case-insensitively, as DOS does.
func (d *Drive) FileURLForDOSPath(dosPath string) (string, error) {
	if d.filesystem == nil {
		return "", &types.ResolutionError{Target: dosPath, Err: types.ErrVirtualDrive}
	}
	p, err := d.logicalPathForDOSPath(dosPath)
	if err != nil {
		return "", err
	}
	return d.filesystem.FileURLForPath(d.resolveCase(p))
}

// resolveCase maps each component of p onto an existing entry that differs
// only in case. Components with no match are kept as given.
func (d *Drive) resolveCase(p string) string {
	resolved := pathutil.Root
	for _, name := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if name == "" {
			continue
		}
		next := pathutil.NormalizeLogical(resolved + "/" + name)
		if exists, _ := d.filesystem.FileExists(next); !exists {
			if match, ok := d.findCaseInsensitive(resolved, name); ok {
				next = match
			}
		}
		resolved = next
	}
	return resolved
}

func (d *Drive) findCaseInsensitive(dir, name string) (string, bool) {
	e, err := d.filesystem.Enumerator(dir, fs.EnumerationOptions{SkipSubdirectories: true}, func(string, error) bool { return true })
	if err != nil {
		return "", false
	}
	for e.Next() {
		if strings.EqualFold(e.Info().Name(), name) {
			return e.Path(), true
		}
	}
	return "", false
}

// SplitDOSPath splits "D:\GAME" into "D" and `\GAME`. Paths without a drive
// prefix return an empty letter.
func SplitDOSPath(dosPath string) (letter, rest string) {
	if len(dosPath) >= 2 && dosPath[1] == ':' && ValidLetter(dosPath[:1]) {
		return strings.ToUpper(dosPath[:1]), dosPath[2:]
	}
	return "", dosPath
}

// =============================================================================
// Equivalents
// =============================================================================

// AddEquivalentURL registers url as another location of this drive, such as
// the volume an image is already mounted at.
func (d *Drive) AddEquivalentURL(url string) {
	url = pathutil.CleanURL(url)
	if url == "" || url == "." {
		return
	}
	for _, u := range d.equivalents {
		if u == url {
			return
		}
	}
	d.equivalents = append(d.equivalents, url)
	if d.base != nil {
		d.base.AddRepresentedURL(url)
	}
}

// RemoveEquivalentURL forgets an equivalent location. The source and mount point stay represented.
func (d *Drive) RemoveEquivalentURL(url string) {
	url = pathutil.CleanURL(url)
	for i, u := range d.equivalents {
		if u == url {
			d.equivalents = append(d.equivalents[:i], d.equivalents[i+1:]...)
			break
		}
	}
	if d.base != nil && url != d.sourceURL {
		d.base.RemoveRepresentedURL(url)
	}
}

// EquivalentURLs returns the explicitly registered equivalents.
func (d *Drive) EquivalentURLs() []string {
	return append([]string(nil), d.equivalents...)
}

// =============================================================================
// Ordering
// =============================================================================

// SourceDepthCompare orders drives by how deep their source is; shallower
// sources come first. Ties fall back to LetterCompare.
func (d *Drive) SourceDepthCompare(other *Drive) int {
	da, db := pathutil.Depth(d.sourceURL), pathutil.Depth(other.sourceURL)
	if d.sourceURL == "" {
		da = -1
	}
	if other.sourceURL == "" {
		db = -1
	}
	switch {
	case da < db:
		return -1
	case da > db:
		return 1
	}
	return d.LetterCompare(other)
}

// LetterCompare orders drives by letter. Drives without a letter sort last.
func (d *Drive) LetterCompare(other *Drive) int {
	switch {
	case d.letter == other.letter:
		return 0
	case d.letter == "":
		return 1
	case other.letter == "":
		return -1
	}
	return strings.Compare(d.letter, other.letter)
}

// =============================================================================
// Properties
// =============================================================================

func (d *Drive) ID() string {
	return d.id
}

func (d *Drive) SourceURL() string {
	return d.sourceURL
}

// SetSourceURL points the drive at a new location. Fields that were derived
// from the old source are derived again; explicitly set ones are kept.
func (d *Drive) SetSourceURL(url string) error {
	if d.driveType == types.DriveVirtual {
		return types.ErrVirtualDrive
	}
	url = pathutil.CleanURL(url)
	if url == d.sourceURL {
		return nil
	}
	d.sourceURL = url
	d.autodetectFromSource()
	return d.rebuildFilesystem()
}

// MountPointURL is the location actually mounted; it differs from the source
// for bundles that wrap an image.
func (d *Drive) MountPointURL() string {
	return d.mountPointURL
}

func (d *Drive) SetMountPointURL(url string) error {
	if d.driveType == types.DriveVirtual {
		return types.ErrVirtualDrive
	}
	d.mountPointURL = pathutil.CleanURL(url)
	d.hasAutodetectedMountPoint = false
	return d.rebuildFilesystem()
}

func (d *Drive) ShadowURL() string {
	return d.shadowURL
}

func (d *Drive) SetShadowURL(url string) error {
	if url != "" {
		url = pathutil.CleanURL(url)
	}
	d.shadowURL = url
	return d.applyShadow()
}

func (d *Drive) Letter() string {
	return d.letter
}

// SetLetter assigns the drive letter. An empty letter clears it.
func (d *Drive) SetLetter(letter string) error {
	if letter != "" && !ValidLetter(letter) {
		return fmt.Errorf("%w: %q", types.ErrInvalidLetter, letter)
	}
	d.letter = strings.ToUpper(letter)
	d.hasAutodetectedLetter = false
	d.queuedLetter = false
	return nil
}

func (d *Drive) Type() types.DriveType {
	return d.driveType
}

// TypeDescription is the display name of the drive type.
func (d *Drive) TypeDescription() string {
	return d.driveType.Description()
}

func (d *Drive) Title() string {
	return d.title
}

func (d *Drive) SetTitle(title string) {
	d.title = title
	d.hasAutodetectedTitle = false
}

func (d *Drive) VolumeLabel() string {
	return d.volumeLabel
}

func (d *Drive) SetVolumeLabel(label string) {
	d.volumeLabel = label
	d.hasAutodetectedVolumeLabel = false
}

// DOSVolumeLabel is the label the emulator actually used, which may be
// truncated or taken from the image.
func (d *Drive) DOSVolumeLabel() string {
	if d.dosVolumeLabel != "" {
		return d.dosVolumeLabel
	}
	return d.volumeLabel
}

func (d *Drive) SetDOSVolumeLabel(label string) {
	d.dosVolumeLabel = label
}

func (d *Drive) FreeSpace() int64 {
	return d.freeSpace
}

func (d *Drive) SetFreeSpace(bytes int64) {
	d.freeSpace = bytes
}

func (d *Drive) IsReadOnly() bool {
	return d.readOnly
}

// SetReadOnly changes write access. CD-ROM and virtual drives cannot be made writable.
func (d *Drive) SetReadOnly(readOnly bool) error {
	if !readOnly && (d.driveType == types.DriveCDROM || d.driveType == types.DriveVirtual) {
		return fmt.Errorf("%s drive: %w", d.driveType.Description(), types.ErrReadOnly)
	}
	if d.readOnly == readOnly {
		return nil
	}
	d.readOnly = readOnly
	return d.applyShadow()
}

func (d *Drive) IsLocked() bool {
	return d.locked
}

func (d *Drive) SetLocked(locked bool) {
	d.locked = locked
}

func (d *Drive) IsHidden() bool {
	return d.hidden
}

func (d *Drive) SetHidden(hidden bool) {
	d.hidden = hidden
}

func (d *Drive) UsesCDAudio() bool {
	return d.usesCDAudio
}

func (d *Drive) SetUsesCDAudio(uses bool) {
	d.usesCDAudio = uses
}

// IsMounted reports whether the drive is in a drive set's mounted table.
func (d *Drive) IsMounted() bool {
	return d.mounted.Load()
}

func (d *Drive) IsVirtual() bool {
	return d.driveType == types.DriveVirtual
}

func (d *Drive) String() string {
	if d.letter == "" {
		return fmt.Sprintf("%s (%s)", d.title, d.driveType.Description())
	}
	return fmt.Sprintf("%s: %s (%s)", d.letter, d.title, d.driveType.Description())
}
