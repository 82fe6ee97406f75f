package drive

import (
	"sort"

	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// DrivesExposingLogicalURL returns the mounted drives that can reach url,
// most authoritative first.
func (s *Set) DrivesExposingLogicalURL(url string) []*Drive {
	url = pathutil.CleanURL(url)

	s.mu.Lock()
	var drives []*Drive
	for _, d := range s.mountedLocked() {
		if d.ExposesLogicalURL(url) {
			drives = append(drives, d)
		}
	}
	order := make(map[*Drive]uint64, len(drives))
	for _, d := range drives {
		order[d] = s.order[d]
	}
	s.mu.Unlock()

	sort.SliceStable(drives, func(i, j int) bool {
		return moreAuthoritative(drives[i], drives[j], url, order)
	})
	return drives
}

// moreAuthoritative reports whether a owns url ahead of b: the deeper source
// wins, then the deeper matched root, then the lower letter, then the drive
// queued first.
func moreAuthoritative(a, b *Drive, url string, order map[*Drive]uint64) bool {
	if da, db := pathutil.Depth(a.sourceURL), pathutil.Depth(b.sourceURL); da != db {
		return da > db
	}
	if ra, rb := a.matchedRootDepth(url), b.matchedRootDepth(url); ra != rb {
		return ra > rb
	}
	if c := a.LetterCompare(b); c != 0 {
		return c < 0
	}
	return order[a] < order[b]
}

// DriveForLogicalURL returns the mounted drive that owns url.
func (s *Set) DriveForLogicalURL(url string) (*Drive, error) {
	drives := s.DrivesExposingLogicalURL(url)
	if len(drives) == 0 {
		return nil, &types.ResolutionError{Target: url, Err: types.ErrNotFound}
	}
	return drives[0], nil
}

// DOSPathForLogicalURL returns the full DOS path of url, such as `D:\INSTALL.EXE`.
func (s *Set) DOSPathForLogicalURL(url string) (string, error) {
	d, err := s.DriveForLogicalURL(url)
	if err != nil {
		return "", err
	}
	p, ok := d.RelativeLocationOfLogicalURL(url)
	if !ok {
		return "", &types.ResolutionError{Target: url, Err: types.ErrNotFound}
	}
	return d.DOSPathForLogicalPath(p), nil
}

func (s *Set) driveForDOSPath(dosPath string) (*Drive, error) {
	letter, _ := SplitDOSPath(dosPath)
	if letter == "" {
		return nil, &types.ResolutionError{Target: dosPath, Err: types.ErrInvalidLetter}
	}
	d, ok := s.DriveAtLetter(letter)
	if !ok {
		return nil, &types.ResolutionError{Target: dosPath, Err: types.ErrNoDriveAtLetter}
	}
	return d, nil
}

// LogicalURLForDOSPath converts a full DOS path to a logical URL on the mounted drive it names.
func (s *Set) LogicalURLForDOSPath(dosPath string) (string, error) {
	d, err := s.driveForDOSPath(dosPath)
	if err != nil {
		return "", err
	}
	return d.LogicalURLForDOSPath(dosPath)
}

// FileURLForDOSPath returns the host location of a full DOS path. Image
// drives are mounted if needed.
func (s *Set) FileURLForDOSPath(dosPath string) (string, error) {
	d, err := s.driveForDOSPath(dosPath)
	if err != nil {
		return "", err
	}
	return d.FileURLForDOSPath(dosPath)
}
